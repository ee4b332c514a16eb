package observe

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// CorrelationHeader carries the trace ID of a request back to the client.
const CorrelationHeader = "X-Correlation-ID"

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*httpObserver)

// WithQuietPaths logs requests to the given URL paths at debug level. Probe
// and scrape endpoints are polled often enough to drown the request log.
func WithQuietPaths(paths ...string) MiddlewareOption {
	return func(o *httpObserver) {
		for _, p := range paths {
			o.quiet[p] = struct{}{}
		}
	}
}

// Middleware returns HTTP middleware that continues or starts a W3C trace for
// each request, echoes the trace ID in [CorrelationHeader], records
// [Metrics.HTTPRequestDuration] and logs the completed request.
//
// Requests are labelled with the matched [http.ServeMux] pattern when there
// is one, so path parameters stay out of metric labels. Upgraded WebSocket
// connections are logged when the session ends, with its full duration.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		o := &httpObserver{
			next:    next,
			metrics: m,
			quiet:   make(map[string]struct{}),
		}
		for _, opt := range opts {
			opt(o)
		}
		return o
	}
}

type httpObserver struct {
	next    http.Handler
	metrics *Metrics
	quiet   map[string]struct{}
}

var _ http.Handler = (*httpObserver)(nil)

func (o *httpObserver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	prop := propagation.TraceContext{}

	ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
	defer span.End()

	cid := CorrelationID(ctx)
	if cid != "" {
		w.Header().Set(CorrelationHeader, cid)
	}
	prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

	r = r.WithContext(ctx)
	rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	o.next.ServeHTTP(rec, r)

	route := r.URL.Path
	if r.Pattern != "" {
		route = r.Pattern
		span.SetName("HTTP " + r.Pattern)
	}
	elapsed := time.Since(start)

	o.metrics.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("path", route),
			attribute.String("status_class", statusClass(rec.statusCode)),
		),
	)
	span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))

	msg := "request completed"
	if rec.statusCode == http.StatusSwitchingProtocols {
		msg = "websocket session ended"
	}
	slog.LogAttrs(ctx, o.level(r.URL.Path, rec.statusCode), msg,
		slog.String("trace_id", cid),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", rec.statusCode),
		slog.Duration("duration", elapsed),
	)
}

func (o *httpObserver) level(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelWarn
	case status == http.StatusSwitchingProtocols:
		return slog.LevelInfo
	}
	if _, ok := o.quiet[path]; ok {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// statusClass maps 404 to "4xx".
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}

// statusRecorder remembers the status code the wrapped handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the wrapped writer to [http.ResponseController].
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack hands the connection to a WebSocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("observe: response writer cannot be hijacked")
	}
	r.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}
