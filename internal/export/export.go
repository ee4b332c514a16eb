// Package export renders a session snapshot for download: a JSON document
// with both logs, and a plain-text copy of the conversation.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MrWong99/cuecard/internal/session"
	"github.com/MrWong99/cuecard/pkg/interview"
)

// Exporter writes a session snapshot to w.
type Exporter interface {
	Export(w io.Writer, snap session.Snapshot) error
}

// Document is the JSON export layout.
type Document struct {
	Transcripts []TranscriptRecord `json:"transcripts"`
	AIResponses []ResponseRecord   `json:"aiResponses"`
	ExportedAt  string             `json:"exportedAt"`
}

// TranscriptRecord is one exported transcript entry.
type TranscriptRecord struct {
	Speaker   interview.Speaker `json:"speaker"`
	Text      string            `json:"text"`
	Timestamp string            `json:"timestamp"`
}

// ResponseRecord is one exported advisory item.
type ResponseRecord struct {
	Type      interview.AdvisoryType `json:"type"`
	Content   string                 `json:"content"`
	Timestamp string                 `json:"timestamp"`
}

// JSONExporter writes an indented [Document]. All times are UTC RFC 3339
// with millisecond precision.
type JSONExporter struct {
	// Now overrides the clock used for ExportedAt. Nil selects time.Now.
	Now func() time.Time
}

var _ Exporter = JSONExporter{}

// Export implements [Exporter].
func (e JSONExporter) Export(w io.Writer, snap session.Snapshot) error {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}

	doc := Document{
		Transcripts: make([]TranscriptRecord, 0, len(snap.Transcripts)),
		AIResponses: make([]ResponseRecord, 0, len(snap.Responses)),
		ExportedAt:  formatTime(now()),
	}
	for _, t := range snap.Transcripts {
		doc.Transcripts = append(doc.Transcripts, TranscriptRecord{
			Speaker:   t.Speaker,
			Text:      t.Text,
			Timestamp: formatTime(t.Time()),
		})
	}
	for _, r := range snap.Responses {
		doc.AIResponses = append(doc.AIResponses, ResponseRecord{
			Type:      r.Type,
			Content:   r.Content,
			Timestamp: formatTime(r.Time()),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("export: encode json: %w", err)
	}
	return nil
}

// Filename returns the download name for an export taken at t, e.g.
// "interview-2026-03-14.json".
func Filename(t time.Time) string {
	return "interview-" + t.Format(time.DateOnly) + ".json"
}

// PlainText renders the conversation as "Interviewer: ..." and "You: ..."
// paragraphs separated by blank lines.
func PlainText(entries []interview.TranscriptEntry) string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.Speaker.Label() + ": " + e.Text
	}
	return strings.Join(lines, "\n\n")
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
