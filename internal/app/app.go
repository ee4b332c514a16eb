// Package app wires all Cuecard subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and mirrors the session into the archive, and
// Shutdown tears everything down in order.
//
// For testing, inject test doubles via functional options (WithStore,
// WithMetrics, WithTelemetry). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/cuecard/internal/analyze"
	"github.com/MrWong99/cuecard/internal/api"
	"github.com/MrWong99/cuecard/internal/archive"
	"github.com/MrWong99/cuecard/internal/config"
	"github.com/MrWong99/cuecard/internal/copilot"
	"github.com/MrWong99/cuecard/internal/gateway"
	"github.com/MrWong99/cuecard/internal/health"
	"github.com/MrWong99/cuecard/internal/observe"
	"github.com/MrWong99/cuecard/internal/resilience"
	"github.com/MrWong99/cuecard/internal/session"
	"github.com/MrWong99/cuecard/pkg/provider/llm"
)

// serverShutdownTimeout bounds the HTTP drain when Run's context ends.
const serverShutdownTimeout = 10 * time.Second

// NamedLLM pairs an LLM provider with the config name it was built from.
type NamedLLM struct {
	Name     string
	Provider llm.Provider
}

// Providers holds the LLM providers built by main.go via the config
// registry. A nil LLM leaves the analysis backend unconfigured.
type Providers struct {
	LLM       llm.Provider
	LLMName   string
	Fallbacks []NamedLLM
}

// App owns all subsystem lifetimes and serves the interview copilot.
type App struct {
	cfg       *config.Config
	providers *Providers
	level     *slog.LevelVar

	// Subsystems: initialised in New, torn down in Shutdown.
	telemetry *observe.Telemetry
	metrics   *observe.Metrics
	store     *session.Store
	chain     *resilience.LLMFallback
	analyzer  *analyze.Handler
	gateway   *gateway.Gateway
	copilot   *copilot.Copilot
	archive   *archive.Archive
	health    *health.Handler
	listener  net.Listener
	server    *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a session store instead of creating an empty one.
func WithStore(s *session.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects the metrics sink used by every component.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTelemetry injects telemetry instead of initialising the global OTel
// providers.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) { a.telemetry = t }
}

// WithLevelVar hands the App the level variable of the process logger so
// config reloads can change verbosity.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles.
//
// New binds the listen address so that the analysis gateway can target the
// server's own /api/analyze route when no backend URL is configured.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Session store ─────────────────────────────────────────────────
	if a.store == nil {
		a.store = session.New(session.WithLanguage(cfg.Copilot.Language))
	}

	// ── 3. Archive ───────────────────────────────────────────────────────
	if err := a.initArchive(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 4. Analysis backend ──────────────────────────────────────────────
	a.initAnalyzer()

	// ── 5. Listener ──────────────────────────────────────────────────────
	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("app: listen on %s: %w", cfg.Server.ListenAddr, err)
	}
	a.listener = ln

	// ── 6. Gateway + copilot ─────────────────────────────────────────────
	if err := a.initCopilot(); err != nil {
		_ = ln.Close()
		a.close()
		return nil, fmt.Errorf("app: init copilot: %w", err)
	}

	// ── 7. HTTP server ───────────────────────────────────────────────────
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTelemetry sets up the OTel providers and the metrics sink unless both
// were injected.
func (a *App) initTelemetry(ctx context.Context) error {
	if a.telemetry == nil {
		tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName: a.cfg.Telemetry.ServiceName,
		})
		if err != nil {
			return err
		}
		a.telemetry = tel
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return tel.Shutdown(ctx)
		})
	}
	if a.metrics == nil {
		m, err := observe.NewMetrics(otel.GetMeterProvider())
		if err != nil {
			return err
		}
		a.metrics = m
	}
	return nil
}

// initArchive connects to PostgreSQL and restores the archived session when
// a DSN is configured.
func (a *App) initArchive(ctx context.Context) error {
	dsn := a.cfg.Archive.PostgresDSN
	if dsn == "" {
		return nil
	}

	sessionID := a.cfg.Archive.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
		slog.Info("no archive session id configured, starting a new session", "session_id", sessionID)
	}

	arc, err := archive.Open(ctx, dsn, sessionID)
	if err != nil {
		return err
	}
	a.archive = arc
	a.closers = append(a.closers, func() error {
		arc.Close()
		return nil
	})

	return arc.Restore(ctx, a.store)
}

// initAnalyzer builds the LLM failover chain and the /api/analyze handler.
func (a *App) initAnalyzer() {
	var provider llm.Provider
	name := a.providers.LLMName
	if name == "" {
		name = "llm"
	}

	if p := a.providers.LLM; p != nil {
		provider = p
		if len(a.providers.Fallbacks) > 0 {
			m := a.metrics
			a.chain = resilience.NewLLMFallback(p, name, resilience.FallbackConfig{
				CircuitBreaker: resilience.CircuitBreakerConfig{
					OnStateChange: func(entry string, _, to resilience.State) {
						m.RecordBreakerTransition(context.Background(), entry, to.String())
					},
				},
			})
			for _, fb := range a.providers.Fallbacks {
				a.chain.AddFallback(fb.Name, fb.Provider)
			}
			provider = a.chain
			slog.Info("llm failover enabled", "primary", name, "fallbacks", len(a.providers.Fallbacks))
		}
	} else {
		slog.Warn("no LLM provider configured, /api/analyze will answer 503")
	}

	a.analyzer = analyze.New(provider,
		analyze.WithProviderName(name),
		analyze.WithMetrics(a.metrics),
	)
}

// initCopilot creates the backend gateway and the copilot around the store.
func (a *App) initCopilot() error {
	opts := []gateway.Option{
		gateway.WithTimeout(a.cfg.Copilot.AnalysisTimeout),
		gateway.WithMetrics(a.metrics),
	}

	url := a.cfg.Copilot.BackendURL
	if url == "" {
		url = selfURL(a.listener.Addr(), a.cfg.Server.TLSEnabled()) + "/api/analyze"
		if srv := a.cfg.Server.TLS; a.cfg.Server.TLSEnabled() {
			client, err := selfTLSClient(srv.CertFile, srv.KeyFile)
			if err != nil {
				return err
			}
			opts = append([]gateway.Option{gateway.WithHTTPClient(client)}, opts...)
		}
	}

	gw, err := gateway.New(url, opts...)
	if err != nil {
		return err
	}
	a.gateway = gw

	a.copilot = copilot.New(a.store, gw,
		copilot.WithAnalysisTimeout(a.cfg.Copilot.AnalysisTimeout),
		copilot.WithWindow(a.cfg.Copilot.Window),
		copilot.WithCoalescing(a.cfg.Copilot.Coalesce),
		copilot.WithMetrics(a.metrics),
	)
	slog.Info("copilot ready", "backend_url", url, "window", a.cfg.Copilot.Window, "coalesce", a.cfg.Copilot.Coalesce)
	return nil
}

// initServer registers every route on one mux behind the observe middleware.
func (a *App) initServer() {
	checkers := []health.Checker{
		health.LLMConfigured(a.analyzer.Configured),
		health.Breaker(a.gateway.Breaker()),
	}
	if a.archive != nil {
		checkers = append(checkers, health.Database("archive", a.archive))
	}
	if a.chain != nil {
		checkers = append(checkers, failoverChecker(a.chain))
	}
	a.health = health.New(checkers)

	mux := http.NewServeMux()
	a.health.Register(mux)
	a.analyzer.Register(mux)
	api.New(a.store, a.copilot, api.WithMetrics(a.metrics)).Register(mux)
	if a.telemetry.MetricsHandler != nil && a.cfg.Telemetry.MetricsPath != "" {
		mux.Handle("GET "+a.cfg.Telemetry.MetricsPath, a.telemetry.MetricsHandler)
	}

	a.server = &http.Server{
		Handler: observe.Middleware(a.metrics,
			observe.WithQuietPaths("/healthz", "/readyz", a.cfg.Telemetry.MetricsPath),
		)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the bound listener and, when enabled, mirrors the
// session into the archive. It blocks until ctx is cancelled or the server
// fails, and returns context.Canceled (or the underlying cause).
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; a.cfg.Server.TLSEnabled() {
			err = a.server.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(a.listener)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), serverShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(sctx)
	})

	if a.archive != nil {
		g.Go(func() error {
			return a.archive.Run(gctx, a.store)
		})
	}

	slog.Info("app running", "addr", a.Addr())
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Addr returns the address the HTTP server is bound to.
func (a *App) Addr() net.Addr {
	return a.listener.Addr()
}

// Store returns the session store shared by every component.
func (a *App) Store() *session.Store {
	return a.store
}

// Reload applies the hot-reloadable parts of a config change. Changes that
// need a restart are logged and otherwise ignored.
func (a *App) Reload(_, _ *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LanguageChanged {
		a.store.SetLanguage(d.NewLanguage)
		slog.Info("language changed", "language", d.NewLanguage)
	}
	if d.CoalesceChanged {
		a.copilot.SetCoalescing(d.NewCoalesce)
		slog.Info("coalescing changed", "coalesce", d.NewCoalesce)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "fields", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, waits for in-flight analysis cycles and
// runs the closers in order. It respects the context deadline: if ctx
// expires first, remaining steps are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
		// Shutdown only closes the listener once Serve has taken it over.
		_ = a.listener.Close()

		done := make(chan struct{})
		go func() {
			a.copilot.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded waiting for analysis cycles")
			shutdownErr = ctx.Err()
			return
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// close runs the closers registered so far when New fails halfway.
func (a *App) close() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// selfURL returns the base URL under which the server reaches itself.
// Unspecified hosts (":8080", "0.0.0.0:8080") become localhost.
func selfURL(addr net.Addr, tls bool) string {
	scheme := "http"
	if tls {
		scheme = "https"
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return scheme + "://" + addr.String()
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	return scheme + "://" + net.JoinHostPort(host, port)
}

// selfTLSClient returns a client for calls from the server to itself over
// TLS. The loopback address is not a name the certificate was issued for, so
// the client trusts exactly the server's own certificate and verifies it
// against the first name the certificate carries.
func selfTLSClient(certFile, keyFile string) (*http.Client, error) {
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("app: load tls certificate: %w", err)
	}
	leaf := pair.Leaf
	if leaf == nil {
		if leaf, err = x509.ParseCertificate(pair.Certificate[0]); err != nil {
			return nil, fmt.Errorf("app: parse tls certificate: %w", err)
		}
	}

	var name string
	switch {
	case len(leaf.DNSNames) > 0:
		// A wildcard matches any single label.
		name = strings.Replace(leaf.DNSNames[0], "*", "cuecard", 1)
	case len(leaf.IPAddresses) > 0:
		name = leaf.IPAddresses[0].String()
	default:
		return nil, errors.New("app: tls certificate names no host; set copilot.backend_url")
	}

	roots := x509.NewCertPool()
	roots.AddCert(leaf)
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		RootCAs:    roots,
		ServerName: name,
		MinVersion: tls.VersionTLS12,
	}
	return &http.Client{Transport: transport}, nil
}

// failoverChecker degrades readiness when every LLM in the failover chain
// has an open breaker.
func failoverChecker(chain *resilience.LLMFallback) health.Checker {
	return health.Checker{
		Name:     "llm/failover",
		Optional: true,
		Check: func(context.Context) error {
			if chain.Available() > 0 {
				return nil
			}
			names := make([]string, 0, len(chain.Status()))
			for _, st := range chain.Status() {
				names = append(names, st.Name)
			}
			return fmt.Errorf("%w: circuits open for %s", resilience.ErrAllFailed, strings.Join(names, ", "))
		},
	}
}
