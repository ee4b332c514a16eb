// Package session holds the shared state of one interview session: the
// ordered transcript log, the ordered advisory log, the scalar UI flags, and
// the candidate context.
//
// The [Store] is the single owner of that state. It is mutated only through
// named operations, each of which completes atomically under one mutex before
// the next is observed. Observers either take a [Snapshot] or [Store.Subscribe]
// to a stream of [Change] values delivered in mutation order.
//
// Both logs are append-only between explicit clears: entries already stored
// are never reordered, edited, or removed by anything other than
// [Store.ClearTranscripts] or [Store.ClearResponses].
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/cuecard/pkg/interview"
)

// DefaultLanguage is the locale a new session starts with.
const DefaultLanguage = "en-US"

// defaultSubscriberBuffer is the channel capacity given to each subscriber.
const defaultSubscriberBuffer = 64

var (
	// ErrInvalidEntry is returned when a transcript entry fails validation.
	ErrInvalidEntry = errors.New("session: invalid transcript entry")

	// ErrInvalidItem is returned when an advisory item fails validation.
	ErrInvalidItem = errors.New("session: invalid advisory item")
)

// Flags are the scalar session flags shown to the UI.
type Flags struct {
	IsListening      bool   `json:"isListening"`
	IsAnalyzing      bool   `json:"isAnalyzing"`
	Error            string `json:"error,omitempty"`
	CurrentLanguage  string `json:"currentLanguage"`
	AutoSpeak        bool   `json:"autoSpeak"`
	ShowContextModal bool   `json:"showContextModal"`
}

// Snapshot is a point-in-time copy of the whole session state. Slices are
// owned by the caller.
type Snapshot struct {
	// Seq is the sequence number of the last mutation reflected here.
	Seq uint64 `json:"seq"`

	Transcripts []interview.TranscriptEntry `json:"transcripts"`
	Responses   []interview.AdvisoryItem    `json:"aiResponses"`
	Flags
	Candidate interview.CandidateContext `json:"interviewContext"`
}

// Store is the session state container. All methods are safe for concurrent
// use.
type Store struct {
	mu sync.Mutex

	seq         uint64
	transcripts []interview.TranscriptEntry
	responses   []interview.AdvisoryItem
	flags       Flags
	analyzing   int
	candidate   interview.CandidateContext

	// Ids ever stored in this session. Clears keep them so an id is never
	// reused.
	transcriptIDs map[string]struct{}
	responseIDs   map[string]struct{}

	subs    map[*subscriber]struct{}
	bufSize int
}

// Option is a functional option for [New].
type Option func(*Store)

// WithLanguage sets the initial session language. Empty values are ignored.
func WithLanguage(lang string) Option {
	return func(s *Store) {
		if lang != "" {
			s.flags.CurrentLanguage = lang
		}
	}
}

// WithSubscriberBuffer sets the per-subscriber channel capacity. A subscriber
// that lets this many changes pile up is dropped.
func WithSubscriberBuffer(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.bufSize = n
		}
	}
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		flags:         Flags{CurrentLanguage: DefaultLanguage},
		transcriptIDs: make(map[string]struct{}),
		responseIDs:   make(map[string]struct{}),
		subs:          make(map[*subscriber]struct{}),
		bufSize:       defaultSubscriberBuffer,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ─────────────────────────────────────────────────────────────────────────────
// Log operations
// ─────────────────────────────────────────────────────────────────────────────

// AddTranscript appends e to the transcript log and returns the stored value.
//
// The entry must carry an id not used before in this session, a valid
// speaker, and non-blank text. A timestamp
// older than the last stored entry is raised to it so the log stays
// non-decreasing.
func (s *Store) AddTranscript(e interview.TranscriptEntry) (interview.TranscriptEntry, error) {
	switch {
	case e.ID == "":
		return e, fmt.Errorf("%w: missing id", ErrInvalidEntry)
	case !e.Speaker.IsValid():
		return e, fmt.Errorf("%w: unknown speaker %q", ErrInvalidEntry, e.Speaker)
	case strings.TrimSpace(e.Text) == "":
		return e, fmt.Errorf("%w: empty text", ErrInvalidEntry)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, used := s.transcriptIDs[e.ID]; used {
		return e, fmt.Errorf("%w: id %q already used", ErrInvalidEntry, e.ID)
	}
	if n := len(s.transcripts); n > 0 {
		if last := s.transcripts[n-1].Timestamp; e.Timestamp < last {
			e.Timestamp = last
		}
	}
	s.transcripts = append(s.transcripts, e)
	s.transcriptIDs[e.ID] = struct{}{}
	stored := e
	s.publishLocked(Change{Kind: ChangeTranscriptAdded, Transcript: &stored})
	return e, nil
}

// AddAIResponse appends a single advisory item.
func (s *Store) AddAIResponse(item interview.AdvisoryItem) error {
	return s.AddAIResponses(item)
}

// AddAIResponses appends items in the given order as one atomic mutation, so
// the items of one analysis cycle are contiguous in the log. Nothing is
// appended if any item is invalid or reuses an id.
func (s *Store) AddAIResponses(items ...interview.AdvisoryItem) error {
	for _, it := range items {
		switch {
		case it.ID == "":
			return fmt.Errorf("%w: missing id", ErrInvalidItem)
		case !it.Type.IsValid():
			return fmt.Errorf("%w: unknown type %q", ErrInvalidItem, it.Type)
		case strings.TrimSpace(it.Content) == "":
			return fmt.Errorf("%w: empty content", ErrInvalidItem)
		case it.Confidence < 0 || it.Confidence > 1:
			return fmt.Errorf("%w: confidence %v out of range", ErrInvalidItem, it.Confidence)
		}
	}
	if len(items) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make(map[string]struct{}, len(items))
	for _, it := range items {
		_, used := s.responseIDs[it.ID]
		_, repeated := batch[it.ID]
		if used || repeated {
			return fmt.Errorf("%w: id %q already used", ErrInvalidItem, it.ID)
		}
		batch[it.ID] = struct{}{}
	}
	for _, it := range items {
		s.responses = append(s.responses, it)
		s.responseIDs[it.ID] = struct{}{}
		stored := it
		s.publishLocked(Change{Kind: ChangeResponseAdded, Response: &stored})
	}
	return nil
}

// ClearTranscripts empties the transcript log.
func (s *Store) ClearTranscripts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts = nil
	s.publishLocked(Change{Kind: ChangeTranscriptsCleared})
}

// ClearResponses empties the advisory log.
func (s *Store) ClearResponses() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = nil
	s.publishLocked(Change{Kind: ChangeResponsesCleared})
}

// ─────────────────────────────────────────────────────────────────────────────
// Flag setters
// ─────────────────────────────────────────────────────────────────────────────

// SetError sets the user-visible error message. An empty string clears it.
func (s *Store) SetError(msg string) {
	s.setFlag(func(f *Flags) bool {
		if f.Error == msg {
			return false
		}
		f.Error = msg
		return true
	})
}

// SetLanguage sets the current session language (e.g. "en-US").
func (s *Store) SetLanguage(lang string) {
	s.setFlag(func(f *Flags) bool {
		if lang == "" || f.CurrentLanguage == lang {
			return false
		}
		f.CurrentLanguage = lang
		return true
	})
}

// SetIsListening records whether speech capture is active.
func (s *Store) SetIsListening(v bool) {
	s.setFlag(func(f *Flags) bool {
		if f.IsListening == v {
			return false
		}
		f.IsListening = v
		return true
	})
}

// SetAutoSpeak records whether answers should be read aloud.
func (s *Store) SetAutoSpeak(v bool) {
	s.setFlag(func(f *Flags) bool {
		if f.AutoSpeak == v {
			return false
		}
		f.AutoSpeak = v
		return true
	})
}

// SetShowContextModal records whether the candidate-context editor is open.
func (s *Store) SetShowContextModal(v bool) {
	s.setFlag(func(f *Flags) bool {
		if f.ShowContextModal == v {
			return false
		}
		f.ShowContextModal = v
		return true
	})
}

// SetInterviewContext replaces the candidate context.
func (s *Store) SetInterviewContext(c interview.CandidateContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidate = cloneCandidate(c)
	stored := cloneCandidate(c)
	s.publishLocked(Change{Kind: ChangeContext, Candidate: &stored})
}

// setFlag applies fn under the lock and publishes a flags change when fn
// reports a modification.
func (s *Store) setFlag(fn func(*Flags) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !fn(&s.flags) {
		return
	}
	s.publishFlagsLocked()
}

func (s *Store) publishFlagsLocked() {
	f := s.flags
	s.publishLocked(Change{Kind: ChangeFlags, Flags: &f})
}

// ─────────────────────────────────────────────────────────────────────────────
// Analyzing acquisition
// ─────────────────────────────────────────────────────────────────────────────

// BeginAnalysis marks one analysis cycle as in flight and returns the
// function that ends it. IsAnalyzing is true while at least one cycle is in
// flight. The release function is idempotent and is meant to be deferred so
// it runs on every exit path.
func (s *Store) BeginAnalysis() (release func()) {
	s.mu.Lock()
	s.analyzing++
	if s.analyzing == 1 {
		s.flags.IsAnalyzing = true
		s.publishFlagsLocked()
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.analyzing--
			if s.analyzing == 0 {
				s.flags.IsAnalyzing = false
				s.publishFlagsLocked()
			}
		})
	}
}

// IsAnalyzing reports whether any analysis cycle is in flight.
func (s *Store) IsAnalyzing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analyzing > 0
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// Transcripts returns a copy of the transcript log, oldest first.
func (s *Store) Transcripts() []interview.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]interview.TranscriptEntry(nil), s.transcripts...)
}

// Responses returns a copy of the advisory log, oldest first.
func (s *Store) Responses() []interview.AdvisoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]interview.AdvisoryItem(nil), s.responses...)
}

// LastTranscript returns the most recent transcript entry, if any.
func (s *Store) LastTranscript() (interview.TranscriptEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.transcripts) == 0 {
		return interview.TranscriptEntry{}, false
	}
	return s.transcripts[len(s.transcripts)-1], true
}

// Flags returns the current scalar flags.
func (s *Store) Flags() Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

// Language returns the current session language.
func (s *Store) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags.CurrentLanguage
}

// Candidate returns a copy of the candidate context.
func (s *Store) Candidate() interview.CandidateContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneCandidate(s.candidate)
}

// Snapshot returns a copy of the complete session state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Seq:         s.seq,
		Transcripts: append([]interview.TranscriptEntry{}, s.transcripts...),
		Responses:   append([]interview.AdvisoryItem{}, s.responses...),
		Flags:       s.flags,
		Candidate:   cloneCandidate(s.candidate),
	}
}

func cloneCandidate(c interview.CandidateContext) interview.CandidateContext {
	c.Skills = append([]string(nil), c.Skills...)
	return c
}
