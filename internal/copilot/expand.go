package copilot

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/cuecard/internal/gateway"
	"github.com/MrWong99/cuecard/internal/heuristic"
	"github.com/MrWong99/cuecard/pkg/interview"
)

// Fixed confidences per advisory type.
const (
	ConfidenceAnswer       = 0.9
	ConfidenceSuggestion   = 0.8
	ConfidenceHint         = 0.7
	ConfidenceTalkingPoint = 0.75
	ConfidenceFallback     = 0.5
)

// Ranker turns analyses into advisory items. The zero value uses the wall
// clock and random UUIDs.
type Ranker struct {
	// Now overrides the clock. Nil selects time.Now.
	Now func() time.Time

	// NewID overrides id generation. Nil selects uuid.NewString.
	NewID func() string
}

// Expand converts a with [Ranker] defaults. See [Ranker.Expand].
func Expand(a interview.Analysis, latest interview.TranscriptEntry) []interview.AdvisoryItem {
	return Ranker{}.Expand(a, latest)
}

// Expand converts a into at most four advisory items, in the fixed order
// answer, suggestion, hint, talking point. Only the first non-blank element
// of each list is surfaced. Item timestamps never precede latest.
func (r Ranker) Expand(a interview.Analysis, latest interview.TranscriptEntry) []interview.AdvisoryItem {
	ts := r.timestamp(latest)
	items := make([]interview.AdvisoryItem, 0, 4)

	add := func(typ interview.AdvisoryType, content string, confidence float64) {
		items = append(items, interview.AdvisoryItem{
			ID:         string(typ) + "-" + r.id(),
			Type:       typ,
			Content:    content,
			Timestamp:  ts,
			Confidence: confidence,
		})
	}

	if strings.TrimSpace(a.Answer) != "" {
		add(interview.AdvisoryAnswer, a.Answer, ConfidenceAnswer)
	}
	if s, ok := first(a.Suggestions); ok {
		add(interview.AdvisorySuggestion, s, ConfidenceSuggestion)
	}
	if h, ok := first(a.Hints); ok {
		add(interview.AdvisoryHint, h, ConfidenceHint)
	}
	if tp, ok := first(a.TalkingPoints); ok {
		add(interview.AdvisoryTalkingPoint, tp, ConfidenceTalkingPoint)
	}
	return items
}

// Fallback returns the items for a cycle that failed outright. It yields a
// single low-confidence answer when latest is an interviewer question and
// nothing otherwise.
func (r Ranker) Fallback(latest interview.TranscriptEntry) []interview.AdvisoryItem {
	if latest.Speaker != interview.SpeakerInterviewer || !heuristic.LooksLikeQuestion(latest.Text) {
		return nil
	}
	return []interview.AdvisoryItem{{
		ID:         string(interview.AdvisoryAnswer) + "-fallback-" + r.id(),
		Type:       interview.AdvisoryAnswer,
		Content:    gateway.FallbackAnswer,
		Timestamp:  r.timestamp(latest),
		Confidence: ConfidenceFallback,
	}}
}

func (r Ranker) id() string {
	if r.NewID != nil {
		return r.NewID()
	}
	return uuid.NewString()
}

func (r Ranker) timestamp(latest interview.TranscriptEntry) int64 {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return max(now().UnixMilli(), latest.Timestamp)
}

// first returns the first element of list that is not blank.
func first(list []string) (string, bool) {
	for _, s := range list {
		if strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}
