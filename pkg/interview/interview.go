// Package interview defines the shared types used across all Cuecard packages.
//
// These types form the lingua franca between the session store, the analysis
// pipeline, the backend gateway, and the HTTP surfaces. They carry JSON tags
// matching the wire format spoken by the analysis backend and the browser UI,
// so the same values can be logged, archived, exported, and transmitted
// without intermediate conversion.
package interview

import "time"

// Speaker identifies who produced a [TranscriptEntry].
type Speaker string

const (
	// SpeakerInterviewer is the person asking questions.
	SpeakerInterviewer Speaker = "interviewer"

	// SpeakerApplicant is the candidate being assisted.
	SpeakerApplicant Speaker = "applicant"

	// SpeakerSystem marks entries injected by the application itself.
	SpeakerSystem Speaker = "system"
)

// IsValid reports whether s is a recognised speaker.
func (s Speaker) IsValid() bool {
	switch s {
	case SpeakerInterviewer, SpeakerApplicant, SpeakerSystem:
		return true
	}
	return false
}

// Label returns the conversation label used when rendering s for a prompt or
// a plain-text copy: "Interviewer" for the interviewer and "You" otherwise.
func (s Speaker) Label() string {
	if s == SpeakerInterviewer {
		return "Interviewer"
	}
	return "You"
}

// TranscriptEntry is one timestamped utterance attributed to a speaker.
// Entries are append-only; once stored, none of the fields change.
type TranscriptEntry struct {
	// ID is a unique opaque identifier assigned at creation.
	ID string `json:"id"`

	// Speaker is who said it.
	Speaker Speaker `json:"speaker"`

	// Text is the spoken or typed content. Never empty once stored.
	Text string `json:"text"`

	// Timestamp is milliseconds since the Unix epoch. Non-decreasing across
	// the transcript log.
	Timestamp int64 `json:"timestamp"`
}

// Time returns Timestamp as a [time.Time].
func (e TranscriptEntry) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// AdvisoryType classifies an [AdvisoryItem].
type AdvisoryType string

const (
	AdvisoryAnswer       AdvisoryType = "answer"
	AdvisorySuggestion   AdvisoryType = "suggestion"
	AdvisoryHint         AdvisoryType = "hint"
	AdvisoryTalkingPoint AdvisoryType = "talking-point"
)

// IsValid reports whether t is a recognised advisory type.
func (t AdvisoryType) IsValid() bool {
	switch t {
	case AdvisoryAnswer, AdvisorySuggestion, AdvisoryHint, AdvisoryTalkingPoint:
		return true
	}
	return false
}

// AdvisoryItem is one piece of generated coaching output.
//
// Content may carry emphasis markup (**bold**, ==highlight==). It is passed
// through verbatim; renderers interpret it.
type AdvisoryItem struct {
	ID         string       `json:"id"`
	Type       AdvisoryType `json:"type"`
	Content    string       `json:"content"`
	Timestamp  int64        `json:"timestamp"`
	Confidence float64      `json:"confidence"`
}

// Time returns Timestamp as a [time.Time].
func (a AdvisoryItem) Time() time.Time {
	return time.UnixMilli(a.Timestamp)
}

// CandidateContext is optional information about the candidate and the role.
// Every field is optional; absent fields are omitted from derived prompt text.
type CandidateContext struct {
	JobRole      string   `json:"jobRole,omitempty"`
	Company      string   `json:"company,omitempty"`
	Skills       []string `json:"skills,omitempty"`
	Experience   string   `json:"experience,omitempty"`
	Education    string   `json:"education,omitempty"`
	Achievements string   `json:"achievements,omitempty"`
	CustomNotes  string   `json:"customNotes,omitempty"`
}

// IsEmpty reports whether no field of c carries content.
func (c CandidateContext) IsEmpty() bool {
	return c.JobRole == "" && c.Company == "" && len(c.Skills) == 0 &&
		c.Experience == "" && c.Education == "" && c.Achievements == "" &&
		c.CustomNotes == ""
}

// DefaultIntent is the intent reported when the backend does not classify
// the interviewer's turn.
const DefaultIntent = "general"

// Analysis is the normalized result of one backend analysis call. All fields
// are always populated with at least their zero defaults, so consumers never
// need to nil-check.
type Analysis struct {
	Intent        string   `json:"intent"`
	Context       string   `json:"context"`
	Answer        string   `json:"answer"`
	Suggestions   []string `json:"suggestions"`
	Hints         []string `json:"hints"`
	TalkingPoints []string `json:"talkingPoints"`
}

// Normalize replaces empty fields with their documented defaults: "general"
// for Intent and non-nil empty slices for the lists.
func (a Analysis) Normalize() Analysis {
	if a.Intent == "" {
		a.Intent = DefaultIntent
	}
	if a.Suggestions == nil {
		a.Suggestions = []string{}
	}
	if a.Hints == nil {
		a.Hints = []string{}
	}
	if a.TalkingPoints == nil {
		a.TalkingPoints = []string{}
	}
	return a
}
