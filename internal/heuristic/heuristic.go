// Package heuristic holds the text heuristics shared by the analysis
// pipeline: detecting whether an utterance looks like a question, and
// guessing who spoke an unlabeled utterance.
//
// Both functions are pure and safe for concurrent use.
package heuristic

import (
	"strings"

	"github.com/MrWong99/cuecard/pkg/interview"
)

// CueWords are the interrogative cues that mark an utterance as a likely
// interviewer question. Matching is a case-insensitive substring test.
var CueWords = []string{"what", "why", "how", "when", "where", "who", "tell me", "describe", "explain"}

// hasCue reports whether lower (already lower-cased) contains any cue word.
func hasCue(lower string) bool {
	for _, w := range CueWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// LooksLikeQuestion reports whether text contains a '?' or any of the
// [CueWords].
func LooksLikeQuestion(text string) bool {
	if strings.Contains(text, "?") {
		return true
	}
	return hasCue(strings.ToLower(text))
}

// InferSpeaker guesses the speaker of an unlabeled utterance.
//
// Text containing both a '?' and a cue word is attributed to the interviewer.
// Anything else alternates from previous: after the interviewer comes the
// applicant, after anyone else comes the interviewer.
func InferSpeaker(text string, previous interview.Speaker) interview.Speaker {
	if strings.Contains(text, "?") && hasCue(strings.ToLower(text)) {
		return interview.SpeakerInterviewer
	}
	if previous == interview.SpeakerInterviewer {
		return interview.SpeakerApplicant
	}
	return interview.SpeakerInterviewer
}
