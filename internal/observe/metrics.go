// Package observe wires Cuecard's telemetry: OpenTelemetry instruments
// scraped through a Prometheus bridge, trace spans whose IDs double as
// correlation IDs, trace-aware slog loggers and the HTTP middleware that ties
// them to each request.
//
// Components take a [*Metrics] through their options and fall back to
// [DefaultMetrics]. Tests build their own with [NewMetrics] over a
// ManualReader.
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every Cuecard instrument.
const meterName = "github.com/MrWong99/cuecard"

// Metrics is the set of Cuecard instruments. Safe for concurrent use.
type Metrics struct {
	// GatewayDuration is the analysis backend round trip seen by the
	// gateway, by outcome.
	GatewayDuration metric.Float64Histogram
	// LLMDuration is model latency inside the analysis backend, by provider
	// and status.
	LLMDuration metric.Float64Histogram
	// HTTPRequestDuration is by method, route pattern and status class.
	HTTPRequestDuration metric.Float64Histogram

	// AnalysisCycles is by outcome: ok, hard_failure, not_configured,
	// invalid_input, skipped, coalesced.
	AnalysisCycles     metric.Int64Counter
	AdvisoryItems      metric.Int64Counter // by type
	GatewayFallbacks   metric.Int64Counter // by reason
	ProviderRequests   metric.Int64Counter // by provider, status
	LLMTokens          metric.Int64Counter // by provider, kind (prompt, completion)
	BreakerTransitions metric.Int64Counter // by breaker, state

	AnalysesInFlight metric.Int64UpDownCounter
	WSClients        metric.Int64UpDownCounter
}

// latencyBuckets (seconds) reach past the default analysis timeout since
// LLM calls routinely take several seconds.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	met := &Metrics{}
	var errs []error

	hist := func(dst *metric.Float64Histogram, name, desc string, buckets bool) {
		opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
		if buckets {
			opts = append(opts, metric.WithExplicitBucketBoundaries(latencyBuckets...))
		}
		var err error
		*dst, err = meter.Float64Histogram(name, opts...)
		errs = append(errs, err)
	}
	counter := func(dst *metric.Int64Counter, name, desc string) {
		var err error
		*dst, err = meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
	}
	gauge := func(dst *metric.Int64UpDownCounter, name, desc string) {
		var err error
		*dst, err = meter.Int64UpDownCounter(name, metric.WithDescription(desc))
		errs = append(errs, err)
	}

	hist(&met.GatewayDuration, "cuecard.gateway.duration", "Latency of analysis backend calls made by the gateway.", true)
	hist(&met.LLMDuration, "cuecard.llm.duration", "Latency of LLM inference.", true)
	hist(&met.HTTPRequestDuration, "cuecard.http.request.duration", "HTTP request latency by method and route.", false)

	counter(&met.AnalysisCycles, "cuecard.analysis.cycles", "Analysis cycles by outcome.")
	counter(&met.AdvisoryItems, "cuecard.advisory.items", "Advisory items produced, by type.")
	counter(&met.GatewayFallbacks, "cuecard.gateway.fallbacks", "Fallback analyses returned by the gateway, by reason.")
	counter(&met.ProviderRequests, "cuecard.provider.requests", "LLM provider requests by provider and status.")
	counter(&met.LLMTokens, "cuecard.llm.tokens", "Tokens reported by LLM providers, by provider and kind.")
	counter(&met.BreakerTransitions, "cuecard.breaker.transitions", "Circuit breaker transitions by breaker and target state.")

	gauge(&met.AnalysesInFlight, "cuecard.analyses.in_flight", "Analysis cycles currently running.")
	gauge(&met.WSClients, "cuecard.ws.clients", "Connected WebSocket observers.")

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] on the global meter
// provider, created on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func (m *Metrics) RecordAnalysisCycle(ctx context.Context, outcome string) {
	m.AnalysisCycles.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

func (m *Metrics) RecordAdvisoryItem(ctx context.Context, typ string) {
	m.AdvisoryItems.Add(ctx, 1, metric.WithAttributes(Attr("type", typ)))
}

func (m *Metrics) RecordGatewayFallback(ctx context.Context, reason string) {
	m.GatewayFallbacks.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordLLMCall records the latency and request count of one completion.
func (m *Metrics) RecordLLMCall(ctx context.Context, provider, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(Attr("provider", provider), Attr("status", status))
	m.LLMDuration.Record(ctx, elapsed.Seconds(), attrs)
	m.ProviderRequests.Add(ctx, 1, attrs)
}

// RecordLLMTokens adds reported token counts. Zero counts are skipped since
// several local backends report no usage.
func (m *Metrics) RecordLLMTokens(ctx context.Context, provider string, prompt, completion int) {
	if prompt > 0 {
		m.LLMTokens.Add(ctx, int64(prompt), metric.WithAttributes(Attr("provider", provider), Attr("kind", "prompt")))
	}
	if completion > 0 {
		m.LLMTokens.Add(ctx, int64(completion), metric.WithAttributes(Attr("provider", provider), Attr("kind", "completion")))
	}
}

func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(Attr("breaker", name), Attr("state", to)))
}
