// Package config defines the configuration schema for the Cuecard server.
//
// Configuration is loaded from a YAML file via [Load] or [LoadFromReader] and
// validated with [Validate]. Providers are referenced by name and
// instantiated through a [Registry].
//
// Example YAML:
//
//	server:
//	  listen_addr: ":8080"
//	  log_level: info
//	providers:
//	  llm:
//	    name: openai
//	    model: gpt-4o-mini
//	  fallbacks:
//	    - name: anthropic
//	      model: claude-haiku
//	copilot:
//	  language: en-US
//	  analysis_timeout: 30s
//	archive:
//	  postgres_dsn: postgres://localhost/cuecard
//	  session_id: interview-42
package config

import (
	"log/slog"
	"os"
	"time"
)

// LogLevel controls the verbosity of server logging.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is one of the recognised log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to the matching [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// APIKeyEnv is consulted for the primary LLM API key when the config file
// leaves providers.llm.api_key empty.
const APIKeyEnv = "CUECARD_LLM_API_KEY"

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultAnalysisTimeout = 30 * time.Second
	DefaultWindow          = 20
	DefaultServiceName     = "cuecard"
	DefaultMetricsPath     = "/metrics"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Copilot   CopilotConfig   `yaml:"copilot"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server binds to (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel sets the minimum log severity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when both files are set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds paths to the certificate and key files.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the LLM used by the analysis backend.
type ProvidersConfig struct {
	// LLM is the primary provider. An entry without a name leaves the
	// analysis backend unconfigured; it then answers 503.
	LLM ProviderEntry `yaml:"llm"`

	// Fallbacks are tried in order when the primary fails.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// ProviderEntry is the common configuration shape for any named provider.
type ProviderEntry struct {
	// Name selects the provider implementation registered in the [Registry].
	Name string `yaml:"name"`

	// APIKey is the authentication credential for cloud providers.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects the specific model variant.
	Model string `yaml:"model"`

	// Options holds provider-specific settings not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// CopilotConfig tunes the analysis cycle.
type CopilotConfig struct {
	// BackendURL is where the gateway posts analysis requests. Empty selects
	// this server's own /api/analyze endpoint.
	BackendURL string `yaml:"backend_url"`

	// Language is the initial session language tag, e.g. "en-US".
	Language string `yaml:"language"`

	// AnalysisTimeout bounds one analysis cycle.
	AnalysisTimeout time.Duration `yaml:"analysis_timeout"`

	// Coalesce lets concurrent cycles for the same transcript share one
	// backend call.
	Coalesce bool `yaml:"coalesce"`

	// Window is the number of recent transcript entries sent to the backend
	// (1..20).
	Window int `yaml:"window"`
}

// ArchiveConfig enables the optional PostgreSQL archive.
type ArchiveConfig struct {
	// PostgresDSN is the connection string. Empty disables the archive.
	PostgresDSN string `yaml:"postgres_dsn"`

	// SessionID keys the archived rows. Empty generates a fresh id per start.
	SessionID string `yaml:"session_id"`
}

// TelemetryConfig controls OpenTelemetry setup.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
	MetricsPath string `yaml:"metrics_path"`
}

// ApplyDefaults fills unset fields with their defaults and resolves the
// primary API key from [APIKeyEnv] when the file leaves it empty.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Copilot.AnalysisTimeout == 0 {
		c.Copilot.AnalysisTimeout = DefaultAnalysisTimeout
	}
	if c.Copilot.Window == 0 {
		c.Copilot.Window = DefaultWindow
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
	if c.Telemetry.MetricsPath == "" {
		c.Telemetry.MetricsPath = DefaultMetricsPath
	}
	if c.Providers.LLM.APIKey == "" {
		c.Providers.LLM.APIKey = os.Getenv(APIKeyEnv)
	}
}

// TLSEnabled reports whether both TLS files are configured.
func (s ServerConfig) TLSEnabled() bool {
	return s.TLS != nil && s.TLS.CertFile != "" && s.TLS.KeyFile != ""
}
