package resilience

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/cuecard/pkg/provider/llm"
)

// AttrServedBy is the span attribute naming the chain entry that answered.
const AttrServedBy = attribute.Key("cuecard.llm.served_by")

// namedLLM lets the chain report which entry answered.
type namedLLM struct {
	name string
	llm.Provider
}

// LLMFallback implements [llm.Provider] as an ordered failover chain. Each
// entry has its own circuit breaker; when the primary fails or its breaker is
// open, the next healthy entry answers.
type LLMFallback struct {
	group *FallbackGroup[namedLLM]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred entry.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(namedLLM{name: primaryName, Provider: primary}, primaryName, cfg),
	}
}

// AddFallback appends provider to the chain.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, namedLLM{name: name, Provider: provider})
}

// Complete sends req to the first healthy entry. The entry that answered is
// recorded on the span in ctx and logged when it is not the primary.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	primary := f.group.Primary().name
	return ExecuteWithResult(f.group, func(p namedLLM) (*llm.CompletionResponse, error) {
		resp, err := p.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		trace.SpanFromContext(ctx).SetAttributes(AttrServedBy.String(p.name))
		if p.name != primary {
			slog.Info("llm request served by fallback", "provider", p.name, "primary", primary)
		}
		return resp, nil
	})
}

// Capabilities returns what every entry in the chain can honour, since any of
// them may end up serving a request: the smallest non-zero limits, and JSON
// mode only when all entries support it.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	var out llm.ModelCapabilities
	for i, e := range f.group.entries {
		c := e.value.Capabilities()
		if i == 0 {
			out = c
			continue
		}
		out.ContextWindow = minPositive(out.ContextWindow, c.ContextWindow)
		out.MaxOutputTokens = minPositive(out.MaxOutputTokens, c.MaxOutputTokens)
		out.SupportsJSONMode = out.SupportsJSONMode && c.SupportsJSONMode
	}
	return out
}

// Available reports how many entries currently admit requests.
func (f *LLMFallback) Available() int {
	return f.group.Available()
}

// Status reports the breaker state of each entry.
func (f *LLMFallback) Status() []EntryStatus {
	return f.group.Status()
}

// minPositive returns the smaller of a and b, treating zero as unknown.
func minPositive(a, b int) int {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	default:
		return min(a, b)
	}
}
