// Package analyze implements the analysis backend: the POST /api/analyze
// endpoint that turns a transcript window into an LLM-generated analysis.
//
// The handler composes the prompt with [prompt.Compose], calls the configured
// [llm.Provider] in JSON mode and normalizes whatever the model returns. A
// reply that cannot be parsed is replaced by a generic analysis rather than
// failing the request.
package analyze

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/cuecard/internal/observe"
	"github.com/MrWong99/cuecard/internal/prompt"
	"github.com/MrWong99/cuecard/pkg/interview"
	"github.com/MrWong99/cuecard/pkg/provider/llm"
)

// Completion parameters used for every analysis call.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1200
)

// maxRequestBytes caps the accepted request body.
const maxRequestBytes = 1 << 20

// Error codes carried in the "code" field of error responses.
const (
	CodeNotConfigured  = "not_configured"
	CodeInvalidRequest = "invalid_request"
	CodeUpstreamError  = "upstream_error"
)

// ParseFallbackContext marks analyses substituted for an unparsable model reply.
const ParseFallbackContext = "Unable to parse AI response"

// parseFallbackAnswer is the generic answer used when the model reply is not
// valid JSON.
const parseFallbackAnswer = "I appreciate that question. Based on my experience and background, I would approach this by focusing on the key aspects that are most relevant to the role and demonstrating how my skills and experience align with what you're looking for."

// ParseFallback returns the analysis served when the model reply cannot be
// parsed.
func ParseFallback() interview.Analysis {
	return interview.Analysis{
		Intent:        interview.DefaultIntent,
		Context:       ParseFallbackContext,
		Answer:        parseFallbackAnswer,
		Suggestions:   []string{"Listen carefully and respond thoughtfully"},
		Hints:         []string{"Focus on your relevant experience"},
		TalkingPoints: []string{"Highlight your strengths"},
	}
}

// Request is the JSON body accepted by the handler.
type Request struct {
	Transcripts      []interview.TranscriptEntry `json:"transcripts"`
	Language         string                      `json:"language"`
	InterviewContext interview.CandidateContext  `json:"interviewContext"`
}

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Handler serves POST /api/analyze. It is safe for concurrent use.
type Handler struct {
	provider     llm.Provider
	providerName string
	temperature  float64
	maxTokens    int
	metrics      *observe.Metrics
}

// Option is a functional option for [New].
type Option func(*Handler)

// WithProviderName sets the provider label used in metrics and logs.
func WithProviderName(name string) Option {
	return func(h *Handler) {
		h.providerName = name
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithTemperature overrides [DefaultTemperature].
func WithTemperature(t float64) Option {
	return func(h *Handler) {
		h.temperature = t
	}
}

// WithMaxTokens overrides [DefaultMaxTokens]. Non-positive values are ignored.
func WithMaxTokens(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxTokens = n
		}
	}
}

// New creates a Handler backed by provider. A nil provider is allowed and
// makes every request answer 503 with code "not_configured".
func New(provider llm.Provider, opts ...Option) *Handler {
	h := &Handler{
		provider:     provider,
		providerName: "llm",
		temperature:  DefaultTemperature,
		maxTokens:    DefaultMaxTokens,
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Configured reports whether an LLM provider is available.
func (h *Handler) Configured() bool {
	return h.provider != nil
}

// Register adds the analyze route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /api/analyze", h)
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	if h.provider == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "LLM provider not configured", Code: CodeNotConfigured})
		return
	}

	var req Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil || len(req.Transcripts) == 0 {
		if err != nil {
			log.Debug("invalid analyze request", "err", err)
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "No transcripts provided", Code: CodeInvalidRequest})
		return
	}

	p := prompt.Compose(prompt.Input{
		Transcripts: req.Transcripts,
		Language:    req.Language,
		Candidate:   req.InterviewContext,
	})

	maxTokens := h.maxTokens
	if limit := h.provider.Capabilities().MaxOutputTokens; limit > 0 && limit < maxTokens {
		maxTokens = limit
	}

	start := time.Now()
	resp, err := h.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: p.System,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: p.User}},
		Temperature:  h.temperature,
		MaxTokens:    maxTokens,
		JSONMode:     true,
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	h.metrics.RecordLLMCall(ctx, h.providerName, status, time.Since(start))

	if err != nil {
		log.Error("LLM completion failed", "provider", h.providerName, "err", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "LLM request failed", Code: CodeUpstreamError})
		return
	}

	var content string
	if resp != nil {
		content = resp.Content
		h.metrics.RecordLLMTokens(ctx, h.providerName, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		if resp.Truncated {
			log.Warn("LLM reply hit the token limit", "provider", h.providerName, "max_tokens", maxTokens)
		}
	}
	a, err := ParseReply(content)
	if err != nil {
		log.Warn("unparsable LLM reply, using fallback", "provider", h.providerName, "err", err, "reply_len", len(content))
		a = ParseFallback()
	}
	writeJSON(w, http.StatusOK, a)
}

// errEmptyReply is returned by [ParseReply] for a blank model reply.
var errEmptyReply = errors.New("analyze: empty model reply")

// ParseReply strips markdown code fences from a model reply and decodes it
// field by field with [interview.DecodeAnalysis].
func ParseReply(content string) (interview.Analysis, error) {
	cleaned := StripMarkdown(content)
	if cleaned == "" {
		return interview.Analysis{}, errEmptyReply
	}
	return interview.DecodeAnalysis([]byte(cleaned))
}

// StripMarkdown removes a surrounding ``` or ```json fence from s and trims
// whitespace. Text without a fence is returned trimmed.
func StripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop the info string ("json", "JSON", ...) up to the first newline.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(strings.TrimPrefix(s, "json"), "JSON")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}
