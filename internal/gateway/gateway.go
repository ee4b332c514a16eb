// Package gateway is the client side of the analysis backend. It sends the
// context window to POST /api/analyze and turns whatever comes back into a
// normalized [interview.Analysis].
//
// Only two conditions surface as errors: an empty window ([ErrNoTranscripts])
// and a backend without LLM credentials ([ErrNotConfigured]). Every other
// failure, including an open circuit breaker, yields the deterministic
// [Fallback] analysis with a nil error so the interview keeps going.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/cuecard/internal/heuristic"
	"github.com/MrWong99/cuecard/internal/observe"
	"github.com/MrWong99/cuecard/internal/resilience"
	"github.com/MrWong99/cuecard/pkg/interview"
)

var (
	// ErrNotConfigured means the backend has no LLM provider credentials.
	ErrNotConfigured = errors.New("gateway: analysis backend not configured")

	// ErrNoTranscripts is returned for an empty context window.
	ErrNoTranscripts = errors.New("gateway: no transcripts provided")
)

// FallbackAnswer is the professional placeholder answer used whenever the
// backend cannot produce one for an interviewer question.
const FallbackAnswer = "I appreciate that question. Based on my experience and background, I would approach this by focusing on the key aspects that are most relevant to the role and demonstrating how my skills and experience align with what you're looking for."

// FallbackContext marks analyses produced locally instead of by the backend.
const FallbackContext = "Fallback response due to API error"

// maxResponseBytes caps how much of a backend reply is read.
const maxResponseBytes = 1 << 20

// Fallback returns the deterministic analysis for a failed backend call.
// latest is the text of the most recent transcript entry; the answer is only
// filled in when it reads like a question.
func Fallback(latest string) interview.Analysis {
	a := interview.Analysis{
		Intent:        interview.DefaultIntent,
		Context:       FallbackContext,
		Suggestions:   []string{"Ensure your answer is clear and concise"},
		Hints:         []string{"Focus on your relevant experience"},
		TalkingPoints: []string{"Highlight your strengths and achievements"},
	}
	if heuristic.LooksLikeQuestion(latest) {
		a.Answer = FallbackAnswer
	}
	return a
}

// Gateway calls the analysis backend. It is safe for concurrent use.
type Gateway struct {
	url        string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	metrics    *observe.Metrics
}

// Option is a functional option for [New].
type Option func(*Gateway)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		g.httpClient = c
	}
}

// WithTimeout sets a per-request timeout on the HTTP client. A zero or
// negative value means no timeout (the default).
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.httpClient.Timeout = d
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(g *Gateway) {
		g.breaker = cb
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// New creates a Gateway that posts to url (e.g. "http://localhost:8080/api/analyze").
func New(url string, opts ...Option) (*Gateway, error) {
	if url == "" {
		return nil, fmt.Errorf("gateway: backend url must not be empty")
	}

	g := &Gateway{
		url:        url,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	if g.breaker == nil {
		m := g.metrics
		g.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "analysis-backend",
			OnStateChange: func(name string, _, to resilience.State) {
				m.RecordBreakerTransition(context.Background(), name, to.String())
			},
		})
	}
	return g, nil
}

// Breaker exposes the circuit breaker for health reporting.
func (g *Gateway) Breaker() *resilience.CircuitBreaker {
	return g.breaker
}

// analyzeRequest is the JSON body posted to the backend.
type analyzeRequest struct {
	Transcripts      []interview.TranscriptEntry `json:"transcripts"`
	Language         string                      `json:"language"`
	InterviewContext interview.CandidateContext  `json:"interviewContext"`
}

// errorBody is the JSON error envelope returned by the backend.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Analyze posts window to the backend and returns the normalized analysis.
// A nil candidate is sent as an empty interviewContext object.
func (g *Gateway) Analyze(ctx context.Context, window []interview.TranscriptEntry, language string, candidate *interview.CandidateContext) (interview.Analysis, error) {
	if len(window) == 0 {
		return interview.Analysis{}, ErrNoTranscripts
	}
	var cc interview.CandidateContext
	if candidate != nil {
		cc = *candidate
	}

	ctx, span := observe.StartSpan(ctx, "gateway.analyze")
	defer span.End()
	span.SetAttributes(attribute.Int("transcripts", len(window)), attribute.String("language", language))

	start := time.Now()
	outcome := "ok"
	defer func() {
		span.SetAttributes(attribute.String("outcome", outcome))
		g.metrics.GatewayDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("outcome", outcome)))
	}()

	body, err := json.Marshal(analyzeRequest{
		Transcripts:      window,
		Language:         language,
		InterviewContext: cc,
	})
	if err != nil {
		return interview.Analysis{}, fmt.Errorf("gateway: marshal request: %w", err)
	}

	var (
		result        interview.Analysis
		notConfigured bool
	)
	err = g.breaker.Execute(func() error {
		a, err := g.call(ctx, body)
		if errors.Is(err, ErrNotConfigured) {
			// The backend answered; a missing key is not an outage.
			notConfigured = true
			return nil
		}
		result = a
		return err
	})

	switch {
	case notConfigured:
		outcome = "not_configured"
		return interview.Analysis{}, ErrNotConfigured
	case err == nil:
		return result, nil
	}

	reason := "transport"
	var se *statusError
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		reason = "breaker_open"
	case errors.As(err, &se):
		reason = "status"
	case errors.Is(err, errDecode):
		reason = "decode"
	}
	outcome = "fallback"
	g.metrics.RecordGatewayFallback(ctx, reason)
	observe.Logger(ctx).Warn("analysis backend failed, using fallback", "reason", reason, "err", err)
	return Fallback(window[len(window)-1].Text), nil
}

// statusError reports a non-2xx backend response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

// errDecode marks replies that are empty or not a JSON object.
var errDecode = errors.New("undecodable response")

// call performs one POST and decodes the reply.
func (g *Gateway) call(ctx context.Context, body []byte) (interview.Analysis, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return interview.Analysis{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return interview.Analysis{}, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return interview.Analysis{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusServiceUnavailable {
			var eb errorBody
			if json.Unmarshal(data, &eb) == nil && eb.Code == "not_configured" {
				return interview.Analysis{}, ErrNotConfigured
			}
		}
		slog.Debug("analysis backend error body", "status", resp.StatusCode, "body", truncate(string(data), 200))
		return interview.Analysis{}, &statusError{code: resp.StatusCode}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return interview.Analysis{}, fmt.Errorf("%w: empty body", errDecode)
	}
	a, err := interview.DecodeAnalysis(data)
	if err != nil {
		return interview.Analysis{}, fmt.Errorf("%w: %w", errDecode, err)
	}
	return a, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
