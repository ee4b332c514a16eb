package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/cuecard/internal/session"
	"github.com/MrWong99/cuecard/pkg/interview"
)

func TestJSONExporter(t *testing.T) {
	t.Parallel()

	snap := session.Snapshot{
		Transcripts: []interview.TranscriptEntry{
			{ID: "1", Speaker: interview.SpeakerInterviewer, Text: "Why us?", Timestamp: 1_700_000_000_000},
			{ID: "2", Speaker: interview.SpeakerApplicant, Text: "Because.", Timestamp: 1_700_000_001_500},
		},
		Responses: []interview.AdvisoryItem{
			{ID: "answer-x", Type: interview.AdvisoryAnswer, Content: "**Mission**", Timestamp: 1_700_000_002_000, Confidence: 0.9},
		},
	}
	exp := JSONExporter{Now: func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) }}

	var buf bytes.Buffer
	if err := exp.Export(&buf, snap); err != nil {
		t.Fatalf("Export: %v", err)
	}

	var doc Document
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.ExportedAt != "2026-03-14T09:30:00.000Z" {
		t.Errorf("ExportedAt = %q", doc.ExportedAt)
	}
	if len(doc.Transcripts) != 2 || len(doc.AIResponses) != 1 {
		t.Fatalf("doc = %+v", doc)
	}
	if got := doc.Transcripts[1]; got.Speaker != interview.SpeakerApplicant || got.Text != "Because." || got.Timestamp != "2023-11-14T22:13:21.500Z" {
		t.Errorf("transcripts[1] = %+v", got)
	}
	if got := doc.AIResponses[0]; got.Type != interview.AdvisoryAnswer || got.Content != "**Mission**" {
		t.Errorf("aiResponses[0] = %+v", got)
	}
	if !bytes.Contains(buf.Bytes(), []byte("\n  \"transcripts\"")) {
		t.Error("output is not indented")
	}
}

func TestJSONExporter_EmptySnapshot(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := (JSONExporter{}).Export(&buf, session.Snapshot{}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(buf.Bytes(), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(raw["transcripts"]) != "[]" || string(raw["aiResponses"]) != "[]" {
		t.Errorf("empty logs should export as [], got %s / %s", raw["transcripts"], raw["aiResponses"])
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestJSONExporter_WriteError(t *testing.T) {
	t.Parallel()

	if err := (JSONExporter{}).Export(failingWriter{}, session.Snapshot{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestFilename(t *testing.T) {
	t.Parallel()

	if got := Filename(time.Date(2026, 1, 2, 23, 0, 0, 0, time.UTC)); got != "interview-2026-01-02.json" {
		t.Errorf("Filename = %q", got)
	}
}

func TestPlainText(t *testing.T) {
	t.Parallel()

	entries := []interview.TranscriptEntry{
		{Speaker: interview.SpeakerInterviewer, Text: "Hello"},
		{Speaker: interview.SpeakerApplicant, Text: "Hi"},
		{Speaker: interview.SpeakerSystem, Text: "note"},
	}
	want := "Interviewer: Hello\n\nYou: Hi\n\nYou: note"
	if got := PlainText(entries); got != want {
		t.Errorf("PlainText = %q, want %q", got, want)
	}
	if got := PlainText(nil); got != "" {
		t.Errorf("PlainText(nil) = %q", got)
	}
}
