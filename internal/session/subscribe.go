package session

import (
	"github.com/MrWong99/cuecard/pkg/interview"
)

// ChangeKind identifies the mutation a [Change] describes.
type ChangeKind string

const (
	ChangeTranscriptAdded    ChangeKind = "transcript_added"
	ChangeResponseAdded      ChangeKind = "response_added"
	ChangeTranscriptsCleared ChangeKind = "transcripts_cleared"
	ChangeResponsesCleared   ChangeKind = "responses_cleared"
	ChangeFlags              ChangeKind = "flags"
	ChangeContext            ChangeKind = "context"
)

// Change describes one store mutation. Exactly one payload field is set,
// matching Kind; the clear kinds carry none.
type Change struct {
	// Seq is the store's sequence number after this mutation. Seq values seen
	// by one subscriber are strictly increasing.
	Seq  uint64     `json:"seq"`
	Kind ChangeKind `json:"kind"`

	Transcript *interview.TranscriptEntry  `json:"transcript,omitempty"`
	Response   *interview.AdvisoryItem     `json:"response,omitempty"`
	Flags      *Flags                      `json:"flags,omitempty"`
	Candidate  *interview.CandidateContext `json:"interviewContext,omitempty"`
}

type subscriber struct {
	ch chan Change
}

// Subscribe registers a new observer and returns the current state together
// with a channel of every change that follows it. No change is lost or
// duplicated between the snapshot and the first value on the channel.
//
// A subscriber that does not keep up is dropped: its channel is closed and it
// must subscribe again to resynchronise. Call cancel to unsubscribe; cancel
// is idempotent and closes the channel if it is still open.
func (s *Store) Subscribe() (snap Snapshot, changes <-chan Change, cancel func()) {
	sub := &subscriber{ch: make(chan Change, s.bufSize)}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	snap = s.snapshotLocked()
	s.mu.Unlock()

	cancel = func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[sub]; ok {
			delete(s.subs, sub)
			close(sub.ch)
		}
	}
	return snap, sub.ch, cancel
}

// Subscribers returns the number of registered observers.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// publishLocked stamps c with the next sequence number and offers it to every
// subscriber without blocking. s.mu must be held.
func (s *Store) publishLocked(c Change) {
	s.seq++
	c.Seq = s.seq
	for sub := range s.subs {
		select {
		case sub.ch <- c:
		default:
			delete(s.subs, sub)
			close(sub.ch)
		}
	}
}
