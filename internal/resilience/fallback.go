package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] produced a
// result, either because each one failed or because its breaker was open.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is the breaker template for every entry of a
// [FallbackGroup]. Each entry gets its own breaker named after the entry.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// EntryStatus is the breaker state of one [FallbackGroup] entry.
type EntryStatus struct {
	Name  string
	State State
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup is an ordered list of interchangeable values of type T, each
// behind its own [CircuitBreaker]. Calls go to the first entry whose breaker
// admits them and move down the list on failure.
//
// Register every entry before sharing the group between goroutines.
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	entries []fallbackEntry[T]
}

// NewFallbackGroup returns a group whose preferred entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry behind all existing ones.
func (fg *FallbackGroup[T]) AddFallback(name string, v T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{name: name, value: v, breaker: NewCircuitBreaker(bc)})
}

// Primary returns the preferred entry.
func (fg *FallbackGroup[T]) Primary() T {
	return fg.entries[0].value
}

// Len reports the number of entries including the primary.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Available reports how many entries currently admit calls.
func (fg *FallbackGroup[T]) Available() int {
	n := 0
	for i := range fg.entries {
		if fg.entries[i].breaker.State() != StateOpen {
			n++
		}
	}
	return n
}

// Status lists the breaker state of each entry, primary first.
func (fg *FallbackGroup[T]) Status() []EntryStatus {
	out := make([]EntryStatus, 0, len(fg.entries))
	for _, e := range fg.entries {
		out = append(out, EntryStatus{Name: e.name, State: e.breaker.State()})
	}
	return out
}

// ExecuteWithResult calls fn with each entry in order until one succeeds.
// Entries with an open breaker are skipped. An error the breaker does not
// count as a failure, such as caller cancellation, is returned at once since
// the next entry would see the same context.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
		skipped int
	)
	for i := range fg.entries {
		e := &fg.entries[i]

		var out R
		err := e.breaker.Execute(func() error {
			var callErr error
			out, callErr = fn(e.value)
			return callErr
		})
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, ErrCircuitOpen):
			skipped++
			slog.Debug("fallback: circuit open, skipping", "provider", e.name)
		case !e.breaker.cfg.IsFailure(err):
			return zero, err
		default:
			slog.Warn("fallback: provider failed", "provider", e.name, "remaining", len(fg.entries)-i-1, "err", err)
		}
		lastErr = err
	}
	if skipped == len(fg.entries) {
		return zero, fmt.Errorf("%w: every circuit is open: %w", ErrAllFailed, lastErr)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
