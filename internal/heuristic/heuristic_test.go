package heuristic_test

import (
	"testing"

	"github.com/MrWong99/cuecard/internal/heuristic"
	"github.com/MrWong99/cuecard/pkg/interview"
)

func TestLooksLikeQuestion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want bool
	}{
		{"What is your biggest strength?", true},
		{"I worked at Acme for 3 years.", false},
		{"Tell me about a time you failed.", true},
		{"DESCRIBE your ideal team", true},
		{"Really?", true},
		{"Thanks, that was great.", false},
		{"", false},
		// Substring match: "whole" contains "who".
		{"The whole team shipped it.", true},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			if got := heuristic.LooksLikeQuestion(tt.text); got != tt.want {
				t.Errorf("LooksLikeQuestion(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestInferSpeaker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		previous interview.Speaker
		want     interview.Speaker
	}{
		{
			name:     "question after applicant",
			text:     "How would you handle conflict?",
			previous: interview.SpeakerApplicant,
			want:     interview.SpeakerInterviewer,
		},
		{
			name:     "question after interviewer stays interviewer",
			text:     "Why did you leave?",
			previous: interview.SpeakerInterviewer,
			want:     interview.SpeakerInterviewer,
		},
		{
			name:     "statement after interviewer",
			text:     "I led a team of five.",
			previous: interview.SpeakerInterviewer,
			want:     interview.SpeakerApplicant,
		},
		{
			name:     "statement after applicant",
			text:     "Great, thanks for sharing.",
			previous: interview.SpeakerApplicant,
			want:     interview.SpeakerInterviewer,
		},
		{
			name:     "question mark without cue alternates",
			text:     "Really?",
			previous: interview.SpeakerInterviewer,
			want:     interview.SpeakerApplicant,
		},
		{
			name:     "cue without question mark alternates",
			text:     "Tell me more about it.",
			previous: interview.SpeakerInterviewer,
			want:     interview.SpeakerApplicant,
		},
		{
			name:     "no previous speaker",
			text:     "Hello there.",
			previous: "",
			want:     interview.SpeakerInterviewer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := heuristic.InferSpeaker(tt.text, tt.previous); got != tt.want {
				t.Errorf("InferSpeaker(%q, %q) = %q, want %q", tt.text, tt.previous, got, tt.want)
			}
		})
	}
}
