// Package copilot runs the analysis cycle: it decides whether the latest turn
// deserves advice, asks the analysis backend through an [Analyzer], ranks the
// reply into advisory items and appends them to the session store.
//
// Cycles triggered by [Copilot.Ingest] run asynchronously and may overlap.
// They are never cancelled by newer turns; whichever finishes first appends
// first. With coalescing enabled, cycles whose history ends on the same entry
// share one backend call.
package copilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/cuecard/internal/gateway"
	"github.com/MrWong99/cuecard/internal/heuristic"
	"github.com/MrWong99/cuecard/internal/observe"
	"github.com/MrWong99/cuecard/internal/prompt"
	"github.com/MrWong99/cuecard/internal/session"
	"github.com/MrWong99/cuecard/pkg/interview"
)

// ErrEmptyText is returned by [Copilot.Ingest] for blank transcript text.
var ErrEmptyText = errors.New("copilot: transcript text is empty")

// DefaultAnalysisTimeout bounds one asynchronous analysis cycle.
const DefaultAnalysisTimeout = 30 * time.Second

// User-visible messages for errors that stop a cycle.
const (
	msgNotConfigured = "LLM provider not configured"
	msgNoTranscripts = "No transcripts provided"
)

// Analyzer is the backend seam. [gateway.Gateway] implements it.
type Analyzer interface {
	Analyze(ctx context.Context, window []interview.TranscriptEntry, language string, candidate *interview.CandidateContext) (interview.Analysis, error)
}

var _ Analyzer = (*gateway.Gateway)(nil)

// Copilot ties the pipeline to a session store. It is safe for concurrent use.
type Copilot struct {
	store    *session.Store
	analyzer Analyzer
	ranker   Ranker
	metrics  *observe.Metrics

	timeout  time.Duration
	window   int
	coalesce atomic.Bool
	now      func() time.Time

	group singleflight.Group
	wg    sync.WaitGroup
}

// Option is a functional option for [New].
type Option func(*Copilot)

// WithAnalysisTimeout bounds each asynchronous cycle. Non-positive values
// keep [DefaultAnalysisTimeout].
func WithAnalysisTimeout(d time.Duration) Option {
	return func(c *Copilot) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithWindow limits how many recent entries are sent to the backend. Values
// outside 1..[prompt.MaxWindow] are ignored.
func WithWindow(n int) Option {
	return func(c *Copilot) {
		if n > 0 && n <= prompt.MaxWindow {
			c.window = n
		}
	}
}

// WithCoalescing makes cycles ending on the same entry share one backend call.
func WithCoalescing(enabled bool) Option {
	return func(c *Copilot) {
		c.coalesce.Store(enabled)
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Copilot) {
		c.metrics = m
	}
}

// WithClock overrides the clock used for entry timestamps and item times.
func WithClock(now func() time.Time) Option {
	return func(c *Copilot) {
		c.now = now
		c.ranker.Now = now
	}
}

// WithIDs overrides advisory item id generation.
func WithIDs(newID func() string) Option {
	return func(c *Copilot) {
		c.ranker.NewID = newID
	}
}

// New creates a Copilot bound to store and analyzer.
func New(store *session.Store, analyzer Analyzer, opts ...Option) *Copilot {
	c := &Copilot{
		store:    store,
		analyzer: analyzer,
		timeout:  DefaultAnalysisTimeout,
		window:   prompt.MaxWindow,
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// SetCoalescing toggles coalescing at runtime.
func (c *Copilot) SetCoalescing(enabled bool) {
	c.coalesce.Store(enabled)
}

// Ingest records one transcript entry and starts an analysis cycle for it in
// the background.
//
// Text is trimmed and must not be blank. A missing id, timestamp or speaker
// is filled in; the speaker is inferred from the text and the previous turn.
// The returned entry is the one stored.
func (c *Copilot) Ingest(ctx context.Context, e interview.TranscriptEntry) (interview.TranscriptEntry, error) {
	e.Text = strings.TrimSpace(e.Text)
	if e.Text == "" {
		return e, ErrEmptyText
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp == 0 {
		e.Timestamp = c.now().UnixMilli()
	}
	if e.Speaker == "" {
		var prev interview.Speaker
		if last, ok := c.store.LastTranscript(); ok {
			prev = last.Speaker
		}
		e.Speaker = heuristic.InferSpeaker(e.Text, prev)
	}

	stored, err := c.store.AddTranscript(e)
	if err != nil {
		return e, fmt.Errorf("copilot: ingest: %w", err)
	}

	history := historyThrough(c.store.Transcripts(), stored.ID)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		cctx, cancel := context.WithTimeout(observe.Detach(ctx), c.timeout)
		defer cancel()
		if _, err := c.Analyze(cctx, history); err != nil {
			observe.Logger(cctx).Debug("analysis cycle ended with error", "entry_id", stored.ID, "err", err)
		}
	}()

	return stored, nil
}

// Wait blocks until every cycle started by [Copilot.Ingest] has finished.
func (c *Copilot) Wait() {
	c.wg.Wait()
}

// Analyze runs one synchronous analysis cycle over history and returns the
// items it appended. A history that does not pass [ShouldAnalyze] yields no
// items and no error.
//
// Only configuration and input errors are returned; they are also written to
// the store's error flag. Any other failure is logged and replaced by
// [Ranker.Fallback].
func (c *Copilot) Analyze(ctx context.Context, history []interview.TranscriptEntry) ([]interview.AdvisoryItem, error) {
	if !ShouldAnalyze(history) {
		c.metrics.RecordAnalysisCycle(ctx, "skipped")
		return nil, nil
	}
	if !c.coalesce.Load() {
		return c.run(ctx, history)
	}

	leader := false
	v, err, _ := c.group.Do(history[len(history)-1].ID, func() (any, error) {
		leader = true
		return c.run(ctx, history)
	})
	if !leader {
		c.metrics.RecordAnalysisCycle(ctx, "coalesced")
	}
	items, _ := v.([]interview.AdvisoryItem)
	return items, err
}

// run performs one cycle and appends its items.
func (c *Copilot) run(ctx context.Context, history []interview.TranscriptEntry) ([]interview.AdvisoryItem, error) {
	latest := history[len(history)-1]
	window := history
	if len(window) > c.window {
		window = window[len(window)-c.window:]
	}

	outcome := "ok"
	ctx, span := observe.StartCycleSpan(ctx, latest.ID, len(window))
	var cycleErr error
	defer func() {
		c.metrics.RecordAnalysisCycle(ctx, outcome)
		observe.EndSpan(span, outcome, cycleErr)
	}()

	c.store.SetError("")
	release := c.store.BeginAnalysis()
	defer release()
	c.metrics.AnalysesInFlight.Add(ctx, 1)
	defer c.metrics.AnalysesInFlight.Add(ctx, -1)

	language, _, _ := strings.Cut(c.store.Language(), "-")
	candidate := c.store.Candidate()

	items, cycleErr := c.cycle(ctx, window, language, &candidate, latest)
	switch {
	case errors.Is(cycleErr, gateway.ErrNotConfigured):
		c.store.SetError(msgNotConfigured)
		outcome = "not_configured"
		return nil, cycleErr
	case errors.Is(cycleErr, gateway.ErrNoTranscripts):
		c.store.SetError(msgNoTranscripts)
		outcome = "invalid_input"
		return nil, cycleErr
	case cycleErr != nil:
		observe.Logger(ctx).Error("analysis cycle failed", "entry_id", latest.ID, "err", cycleErr)
		items = c.ranker.Fallback(latest)
		outcome = "hard_failure"
	}

	if err := c.store.AddAIResponses(items...); err != nil {
		slog.Error("failed to append advisory items", "entry_id", latest.ID, "err", err)
		return nil, nil
	}
	for _, it := range items {
		c.metrics.RecordAdvisoryItem(ctx, string(it.Type))
	}
	return items, nil
}

// cycle calls the analyzer and ranks the result. A panic in either step is
// turned into an error.
func (c *Copilot) cycle(ctx context.Context, window []interview.TranscriptEntry, language string, candidate *interview.CandidateContext, latest interview.TranscriptEntry) (items []interview.AdvisoryItem, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("copilot: panic during analysis: %v", r)
		}
	}()

	a, err := c.analyzer.Analyze(ctx, window, language, candidate)
	if err != nil {
		return nil, err
	}
	return c.ranker.Expand(a.Normalize(), latest), nil
}

// historyThrough returns the prefix of log that ends with the entry id. When
// the entry is no longer present (the log was cleared concurrently), the
// whole log is returned.
func historyThrough(log []interview.TranscriptEntry, id string) []interview.TranscriptEntry {
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].ID == id {
			return log[:i+1]
		}
	}
	return log
}
