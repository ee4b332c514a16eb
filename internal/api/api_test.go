package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/cuecard/internal/copilot"
	"github.com/MrWong99/cuecard/internal/session"
	"github.com/MrWong99/cuecard/pkg/interview"
)

// ─── Test doubles ────────────────────────────────────────────────────────────

// storeIngester stores entries directly, filling ids and speakers the way
// the copilot does, without running analysis.
type storeIngester struct {
	store *session.Store
	err   error

	mu sync.Mutex
	n  int
}

func (f *storeIngester) Ingest(_ context.Context, e interview.TranscriptEntry) (interview.TranscriptEntry, error) {
	if f.err != nil {
		return e, f.err
	}
	e.Text = strings.TrimSpace(e.Text)
	if e.Text == "" {
		return e, copilot.ErrEmptyText
	}
	f.mu.Lock()
	f.n++
	if e.ID == "" {
		e.ID = fmt.Sprintf("t%d", f.n)
	}
	f.mu.Unlock()
	if e.Speaker == "" {
		e.Speaker = interview.SpeakerInterviewer
	}
	return f.store.AddTranscript(e)
}

type failingExporter struct{}

func (failingExporter) Export(io.Writer, session.Snapshot) error { return errors.New("disk full") }

func newTestServer(t *testing.T, opts ...Option) (*Server, *session.Store, *http.ServeMux) {
	t.Helper()
	store := session.New()
	srv := New(store, &storeIngester{store: store}, opts...)
	mux := http.NewServeMux()
	srv.Register(mux)
	return srv, store, mux
}

func do(t *testing.T, mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var e errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return e
}

// ─── Tests ───────────────────────────────────────────────────────────────────

func TestSession_Snapshot(t *testing.T) {
	t.Parallel()
	_, store, mux := newTestServer(t)
	if _, err := store.AddTranscript(interview.TranscriptEntry{ID: "a", Speaker: interview.SpeakerInterviewer, Text: "Hi"}); err != nil {
		t.Fatal(err)
	}
	store.SetInterviewContext(interview.CandidateContext{JobRole: "SRE"})

	rec := do(t, mux, http.MethodGet, "/api/session", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"transcripts", "aiResponses", "currentLanguage", "isAnalyzing", "interviewContext"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("snapshot is missing %q", key)
		}
	}
	if string(raw["aiResponses"]) != "[]" {
		t.Errorf("aiResponses = %s, want []", raw["aiResponses"])
	}
	if !bytes.Contains(raw["interviewContext"], []byte(`"jobRole":"SRE"`)) {
		t.Errorf("interviewContext = %s", raw["interviewContext"])
	}
}

func TestAddTranscript(t *testing.T) {
	t.Parallel()
	_, store, mux := newTestServer(t)

	rec := do(t, mux, http.MethodPost, "/api/transcripts", `{"text":"  What drives you?  ","speaker":"interviewer"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var got interview.TranscriptEntry
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID == "" || got.Text != "What drives you?" {
		t.Errorf("stored entry = %+v", got)
	}
	if ts := store.Transcripts(); len(ts) != 1 || ts[0].ID != got.ID {
		t.Errorf("store = %+v", ts)
	}
}

func TestAddTranscript_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"empty text", `{"text":"   "}`},
		{"invalid speaker", `{"text":"hi","speaker":"moderator"}`},
		{"not json", `text=hi`},
		{"unknown field", `{"text":"hi","volume":3}`},
		{"empty body", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, store, mux := newTestServer(t)
			rec := do(t, mux, http.MethodPost, "/api/transcripts", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if e := decodeError(t, rec); e.Code != CodeInvalidRequest || e.Error == "" {
				t.Errorf("error body = %+v", e)
			}
			if n := len(store.Transcripts()); n != 0 {
				t.Errorf("store has %d entries", n)
			}
		})
	}
}

func TestAddTranscript_InternalError(t *testing.T) {
	t.Parallel()
	store := session.New()
	srv := New(store, &storeIngester{store: store, err: errors.New("boom")})
	mux := http.NewServeMux()
	srv.Register(mux)

	rec := do(t, mux, http.MethodPost, "/api/transcripts", `{"text":"hi"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != CodeInternal {
		t.Errorf("code = %q", e.Code)
	}
}

func TestAddTranscript_ReusedID(t *testing.T) {
	t.Parallel()
	_, store, mux := newTestServer(t)

	if rec := do(t, mux, http.MethodPost, "/api/transcripts", `{"id":"x","text":"Why us?"}`); rec.Code != http.StatusCreated {
		t.Fatalf("first post: status = %d, body %s", rec.Code, rec.Body)
	}
	rec := do(t, mux, http.MethodPost, "/api/transcripts", `{"id":"x","text":"Something else entirely."}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("reused id: status = %d, want 400", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != CodeInvalidRequest || !strings.Contains(e.Error, `"x"`) {
		t.Errorf("error body = %+v", e)
	}
	if ts := store.Transcripts(); len(ts) != 1 || ts[0].Text != "Why us?" {
		t.Errorf("store = %+v", ts)
	}
}

func TestClearLogs(t *testing.T) {
	t.Parallel()
	_, store, mux := newTestServer(t)
	if _, err := store.AddTranscript(interview.TranscriptEntry{ID: "a", Speaker: interview.SpeakerApplicant, Text: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := store.AddAIResponse(interview.AdvisoryItem{ID: "hint-1", Type: interview.AdvisoryHint, Content: "h", Confidence: 0.7}); err != nil {
		t.Fatal(err)
	}

	if rec := do(t, mux, http.MethodDelete, "/api/responses", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE responses status = %d", rec.Code)
	}
	if len(store.Responses()) != 0 || len(store.Transcripts()) != 1 {
		t.Error("clearing responses must leave transcripts alone")
	}

	if rec := do(t, mux, http.MethodDelete, "/api/transcripts", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE transcripts status = %d", rec.Code)
	}
	if len(store.Transcripts()) != 0 {
		t.Error("transcripts not cleared")
	}
}

func TestSetContext(t *testing.T) {
	t.Parallel()
	_, store, mux := newTestServer(t)

	rec := do(t, mux, http.MethodPut, "/api/context", `{"jobRole":"Backend Engineer","company":"Acme","skills":["Go","SQL"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	c := store.Candidate()
	if c.JobRole != "Backend Engineer" || c.Company != "Acme" || len(c.Skills) != 2 {
		t.Errorf("candidate = %+v", c)
	}

	if rec := do(t, mux, http.MethodPut, "/api/context", `{"hobby":"chess"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field status = %d, want 400", rec.Code)
	}
}

func TestPatchFlags_OnlyPresentFieldsApplied(t *testing.T) {
	t.Parallel()
	_, store, mux := newTestServer(t)
	store.SetIsListening(true)

	rec := do(t, mux, http.MethodPatch, "/api/flags", `{"currentLanguage":"de-DE","autoSpeak":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var f session.Flags
	if err := json.NewDecoder(rec.Body).Decode(&f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.CurrentLanguage != "de-DE" || !f.AutoSpeak {
		t.Errorf("flags = %+v", f)
	}
	if !f.IsListening {
		t.Error("isListening was not in the patch and must stay true")
	}
	if f.ShowContextModal {
		t.Error("showContextModal must stay false")
	}

	rec = do(t, mux, http.MethodPatch, "/api/flags", `{"isListening":false,"showContextModal":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := store.Flags()
	if got.IsListening || !got.ShowContextModal || got.CurrentLanguage != "de-DE" {
		t.Errorf("flags = %+v", got)
	}
}

func TestPatchFlags_EmptyLanguage(t *testing.T) {
	t.Parallel()
	_, store, mux := newTestServer(t)

	rec := do(t, mux, http.MethodPatch, "/api/flags", `{"currentLanguage":" ","autoSpeak":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if f := store.Flags(); f.AutoSpeak || f.CurrentLanguage != session.DefaultLanguage {
		t.Errorf("rejected patch must not apply anything, flags = %+v", f)
	}
}

func TestExport(t *testing.T) {
	t.Parallel()
	clock := func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) }
	_, store, mux := newTestServer(t, WithClock(clock))
	if _, err := store.AddTranscript(interview.TranscriptEntry{ID: "a", Speaker: interview.SpeakerInterviewer, Text: "Why?", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}

	rec := do(t, mux, http.MethodGet, "/api/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="interview-2026-03-14.json"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	var doc struct {
		Transcripts []struct {
			Speaker string `json:"speaker"`
			Text    string `json:"text"`
		} `json:"transcripts"`
		AIResponses []json.RawMessage `json:"aiResponses"`
		ExportedAt  string            `json:"exportedAt"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(doc.Transcripts) != 1 || doc.Transcripts[0].Text != "Why?" || doc.ExportedAt == "" {
		t.Errorf("doc = %+v", doc)
	}
}

func TestExport_ExporterFailureDoesNotPanic(t *testing.T) {
	t.Parallel()
	_, _, mux := newTestServer(t, WithExporter(failingExporter{}))

	rec := do(t, mux, http.MethodGet, "/api/export", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestTranscriptText(t *testing.T) {
	t.Parallel()
	_, store, mux := newTestServer(t)
	for _, e := range []interview.TranscriptEntry{
		{ID: "1", Speaker: interview.SpeakerInterviewer, Text: "Tell me about yourself."},
		{ID: "2", Speaker: interview.SpeakerApplicant, Text: "I build systems."},
	} {
		if _, err := store.AddTranscript(e); err != nil {
			t.Fatal(err)
		}
	}

	rec := do(t, mux, http.MethodGet, "/api/transcript.txt", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	want := "Interviewer: Tell me about yourself.\n\nYou: I build systems."
	if got := rec.Body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()
	_, _, mux := newTestServer(t)

	if rec := do(t, mux, http.MethodPost, "/api/session", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
