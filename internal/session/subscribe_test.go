package session_test

import (
	"testing"

	"github.com/MrWong99/cuecard/internal/session"
	"github.com/MrWong99/cuecard/pkg/interview"
)

func TestSubscribe_SnapshotThenChanges(t *testing.T) {
	t.Parallel()

	s := session.New()
	_, _ = s.AddTranscript(entry("a", interview.SpeakerInterviewer, "Why Go?", 1))

	snap, ch, cancel := s.Subscribe()
	defer cancel()

	if len(snap.Transcripts) != 1 || snap.Seq != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}

	_, _ = s.AddTranscript(entry("b", interview.SpeakerApplicant, "Because.", 2))
	_ = s.AddAIResponse(item("answer-b", interview.AdvisoryAnswer, "Say this."))
	s.ClearTranscripts()

	want := []session.ChangeKind{
		session.ChangeTranscriptAdded,
		session.ChangeResponseAdded,
		session.ChangeTranscriptsCleared,
	}
	lastSeq := snap.Seq
	for i, kind := range want {
		c := <-ch
		if c.Kind != kind {
			t.Errorf("change %d kind = %q, want %q", i, c.Kind, kind)
		}
		if c.Seq != lastSeq+1 {
			t.Errorf("change %d seq = %d, want %d", i, c.Seq, lastSeq+1)
		}
		lastSeq = c.Seq
	}
}

func TestSubscribe_PayloadMatchesKind(t *testing.T) {
	t.Parallel()

	s := session.New()
	_, ch, cancel := s.Subscribe()
	defer cancel()

	_, _ = s.AddTranscript(entry("a", interview.SpeakerInterviewer, "Why?", 1))
	c := <-ch
	if c.Transcript == nil || c.Transcript.ID != "a" {
		t.Errorf("transcript payload = %+v", c.Transcript)
	}

	release := s.BeginAnalysis()
	c = <-ch
	if c.Kind != session.ChangeFlags || c.Flags == nil || !c.Flags.IsAnalyzing {
		t.Errorf("expected analyzing flags change, got %+v", c)
	}
	release()
	c = <-ch
	if c.Flags == nil || c.Flags.IsAnalyzing {
		t.Errorf("expected analyzing cleared, got %+v", c)
	}

	s.SetInterviewContext(interview.CandidateContext{Company: "Acme"})
	c = <-ch
	if c.Kind != session.ChangeContext || c.Candidate == nil || c.Candidate.Company != "Acme" {
		t.Errorf("context change = %+v", c)
	}
}

func TestSubscribe_NoOpSetterPublishesNothing(t *testing.T) {
	t.Parallel()

	s := session.New()
	_, ch, cancel := s.Subscribe()
	defer cancel()

	s.SetAutoSpeak(false)
	s.SetLanguage(session.DefaultLanguage)

	select {
	case c := <-ch:
		t.Errorf("unexpected change %+v", c)
	default:
	}
}

func TestSubscribe_SlowSubscriberDropped(t *testing.T) {
	t.Parallel()

	s := session.New(session.WithSubscriberBuffer(2))
	_, ch, cancel := s.Subscribe()
	defer cancel()

	for i := range 3 {
		s.SetIsListening(i%2 == 0)
	}

	if n := s.Subscribers(); n != 0 {
		t.Fatalf("Subscribers = %d, want 0 after overflow", n)
	}

	// Buffered values are still readable, then the channel reports closed.
	count := 0
	for range ch {
		count++
	}
	if count != 2 {
		t.Errorf("drained %d changes, want 2", count)
	}
}

func TestSubscribe_CancelIdempotent(t *testing.T) {
	t.Parallel()

	s := session.New()
	_, ch, cancel := s.Subscribe()
	if s.Subscribers() != 1 {
		t.Fatal("expected one subscriber")
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	if s.Subscribers() != 0 {
		t.Error("subscriber not removed")
	}

	// Mutations after cancel must not panic on the closed channel.
	s.SetAutoSpeak(true)
}
