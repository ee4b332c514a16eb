package copilot

import "github.com/MrWong99/cuecard/pkg/interview"

// ShouldAnalyze reports whether history warrants an analysis cycle.
//
// An empty history never does. A history whose latest turn is the applicant's
// does not either, unless that turn is the only one: the candidate talking is
// not a cue, but a lone opening line still gets advice.
func ShouldAnalyze(history []interview.TranscriptEntry) bool {
	if len(history) == 0 {
		return false
	}
	last := history[len(history)-1]
	if last.Speaker == interview.SpeakerApplicant && len(history) > 1 {
		return false
	}
	return true
}
