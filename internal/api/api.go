// Package api exposes the session store to UIs over HTTP: REST endpoints for
// the named store operations, downloads of the logs, and a WebSocket feed of
// store changes that also accepts transcript entries.
//
// Routes registered by [Server.Register]:
//
//	GET    /api/session         snapshot of logs, flags and candidate context
//	POST   /api/transcripts     ingest one transcript entry
//	DELETE /api/transcripts     clear the transcript log
//	DELETE /api/responses       clear the advisory log
//	PUT    /api/context         replace the candidate context
//	PATCH  /api/flags           update language, autoSpeak, isListening, showContextModal
//	GET    /api/export          JSON export download
//	GET    /api/transcript.txt  plain-text conversation
//	GET    /ws                  WebSocket change feed
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/cuecard/internal/copilot"
	"github.com/MrWong99/cuecard/internal/export"
	"github.com/MrWong99/cuecard/internal/observe"
	"github.com/MrWong99/cuecard/internal/session"
	"github.com/MrWong99/cuecard/pkg/interview"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Error codes returned in JSON error bodies.
const (
	CodeInvalidRequest = "invalid_request"
	CodeInternal       = "internal"
)

// Ingester accepts new transcript entries. [copilot.Copilot] is the
// production implementation.
type Ingester interface {
	Ingest(ctx context.Context, e interview.TranscriptEntry) (interview.TranscriptEntry, error)
}

var _ Ingester = (*copilot.Copilot)(nil)

// Server serves the session API. It is safe for concurrent use.
type Server struct {
	store          *session.Store
	ingester       Ingester
	exporter       export.Exporter
	metrics        *observe.Metrics
	now            func() time.Time
	originPatterns []string
	writeTimeout   time.Duration
}

// Option is a functional option for [New].
type Option func(*Server)

// WithExporter replaces the JSON exporter used by GET /api/export.
func WithExporter(e export.Exporter) Option {
	return func(s *Server) {
		if e != nil {
			s.exporter = e
		}
	}
}

// WithMetrics sets the metrics used for the WebSocket client gauge.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides the clock used for export file names.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithOriginPatterns allows cross-origin WebSocket connections from hosts
// matching the given patterns (see coder/websocket AcceptOptions).
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) {
		s.originPatterns = append(s.originPatterns, patterns...)
	}
}

// WithWriteTimeout bounds each WebSocket write. The default is 10s.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// New creates a Server for store. Transcript entries posted through the API
// are handed to ingester.
func New(store *session.Store, ingester Ingester, opts ...Option) *Server {
	s := &Server{
		store:        store,
		ingester:     ingester,
		exporter:     export.JSONExporter{},
		metrics:      observe.DefaultMetrics(),
		now:          time.Now,
		writeTimeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds all routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("POST /api/transcripts", s.handleAddTranscript)
	mux.HandleFunc("DELETE /api/transcripts", s.handleClearTranscripts)
	mux.HandleFunc("DELETE /api/responses", s.handleClearResponses)
	mux.HandleFunc("PUT /api/context", s.handleSetContext)
	mux.HandleFunc("PATCH /api/flags", s.handlePatchFlags)
	mux.HandleFunc("GET /api/export", s.handleExport)
	mux.HandleFunc("GET /api/transcript.txt", s.handleTranscriptText)
	mux.HandleFunc("GET /ws", s.handleWS)
}

// ─── Handlers ────────────────────────────────────────────────────────────────

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleAddTranscript(w http.ResponseWriter, r *http.Request) {
	var e interview.TranscriptEntry
	if err := decodeBody(w, r, &e); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	stored, err := s.ingester.Ingest(r.Context(), e)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, stored)
	case isInputError(err):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	default:
		observe.Logger(r.Context()).Error("api: ingest failed", "err", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "ingest failed")
	}
}

func (s *Server) handleClearTranscripts(w http.ResponseWriter, _ *http.Request) {
	s.store.ClearTranscripts()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearResponses(w http.ResponseWriter, _ *http.Request) {
	s.store.ClearResponses()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetContext(w http.ResponseWriter, r *http.Request) {
	var c interview.CandidateContext
	if err := decodeBody(w, r, &c); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	s.store.SetInterviewContext(c)
	writeJSON(w, http.StatusOK, s.store.Candidate())
}

// flagsPatch lists the flags a client may change. Absent fields are left
// untouched.
type flagsPatch struct {
	CurrentLanguage  *string `json:"currentLanguage"`
	AutoSpeak        *bool   `json:"autoSpeak"`
	IsListening      *bool   `json:"isListening"`
	ShowContextModal *bool   `json:"showContextModal"`
}

func (s *Server) handlePatchFlags(w http.ResponseWriter, r *http.Request) {
	var p flagsPatch
	if err := decodeBody(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	if p.CurrentLanguage != nil && strings.TrimSpace(*p.CurrentLanguage) == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "currentLanguage must not be empty")
		return
	}

	if p.CurrentLanguage != nil {
		s.store.SetLanguage(strings.TrimSpace(*p.CurrentLanguage))
	}
	if p.AutoSpeak != nil {
		s.store.SetAutoSpeak(*p.AutoSpeak)
	}
	if p.IsListening != nil {
		s.store.SetIsListening(*p.IsListening)
	}
	if p.ShowContextModal != nil {
		s.store.SetShowContextModal(*p.ShowContextModal)
	}
	writeJSON(w, http.StatusOK, s.store.Flags())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, export.Filename(s.now())))
	if err := s.exporter.Export(w, s.store.Snapshot()); err != nil {
		// Headers are already out; the client sees a truncated body.
		observe.Logger(r.Context()).Error("api: export failed", "err", err)
	}
}

func (s *Server) handleTranscriptText(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(export.PlainText(s.store.Transcripts())))
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// isInputError reports whether err was caused by the submitted entry.
func isInputError(err error) bool {
	return errors.Is(err, copilot.ErrEmptyText) || errors.Is(err, session.ErrInvalidEntry)
}

// decodeBody decodes a single JSON value from the request body into v,
// rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response", "err", err)
	}
}
