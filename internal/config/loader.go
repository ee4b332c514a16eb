package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// KnownLLMProviders are the provider names the registry in cmd/cuecard ships
// factories for. Other names load fine but draw a warning.
var KnownLLMProviders = []string{"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// LocalProviders run without an API key.
var LocalProviders = []string{"ollama", "llamacpp", "llamafile"}

// NeedsAPIKey reports whether the provider named in e requires a credential.
func (e ProviderEntry) NeedsAPIKey() bool {
	return !slices.Contains(LocalProviders, e.Name)
}

// Load reads, defaults and validates the YAML file at path. Errors name the
// file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader is [Load] for an in-memory document. Unknown keys are
// rejected. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// problems collects validation failures keyed by their YAML path.
type problems []error

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Errorf(format, args...))
}

// Validate reports every incoherent value in cfg at once. Zero values mean
// "use the default" and always pass. Settings that disable a feature rather
// than break it are logged as warnings.
func Validate(cfg *Config) error {
	var p problems
	cfg.Server.validate(&p)
	cfg.Providers.validate(&p)
	cfg.Copilot.validate(&p)
	cfg.Telemetry.validate(&p)

	if cfg.Archive.SessionID != "" && cfg.Archive.PostgresDSN == "" {
		slog.Warn("archive.session_id is set but archive.postgres_dsn is empty; the archive is disabled")
	}
	return errors.Join(p...)
}

func (s ServerConfig) validate(p *problems) {
	if s.LogLevel != "" && !s.LogLevel.IsValid() {
		p.addf("server.log_level %q is invalid; valid values: debug, info, warn, error", s.LogLevel)
	}
	if s.TLS != nil && (s.TLS.CertFile == "") != (s.TLS.KeyFile == "") {
		p.addf("server.tls requires both cert_file and key_file")
	}
}

func (c ProvidersConfig) validate(p *problems) {
	primary := c.LLM
	switch {
	case primary.Name == "":
		if len(c.Fallbacks) > 0 {
			p.addf("providers.fallbacks requires providers.llm to be configured")
		}
		slog.Warn("no LLM provider configured; the analysis backend will answer 503 not_configured")
	case primary.NeedsAPIKey() && primary.APIKey == "":
		slog.Warn("providers.llm.api_key is empty; the analysis backend will answer 503 not_configured",
			"provider", primary.Name, "env", APIKeyEnv)
	}
	warnUnknownProvider("providers.llm", primary.Name)

	// Entries are identified by provider and model.
	firstSeen := map[string]int{primary.Name + "/" + primary.Model: -1}
	for i, fb := range c.Fallbacks {
		at := fmt.Sprintf("providers.fallbacks[%d]", i)
		if fb.Name == "" {
			p.addf("%s.name is required", at)
			continue
		}
		warnUnknownProvider(at, fb.Name)

		key := fb.Name + "/" + fb.Model
		prev, dup := firstSeen[key]
		switch {
		case !dup:
			firstSeen[key] = i
		case prev < 0:
			p.addf("%s duplicates providers.llm", at)
		default:
			p.addf("%s duplicates providers.fallbacks[%d]", at, prev)
		}
	}
}

func (c CopilotConfig) validate(p *problems) {
	if c.BackendURL != "" {
		u, err := url.Parse(c.BackendURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			p.addf("copilot.backend_url %q must be an absolute http(s) URL", c.BackendURL)
		}
	}
	if c.AnalysisTimeout < 0 {
		p.addf("copilot.analysis_timeout %s must not be negative", c.AnalysisTimeout)
	}
	if c.Window < 0 || c.Window > DefaultWindow {
		p.addf("copilot.window %d is out of range [1, %d]", c.Window, DefaultWindow)
	}
	if c.Language != strings.TrimSpace(c.Language) {
		p.addf("copilot.language %q must not contain surrounding whitespace", c.Language)
	}
}

func (t TelemetryConfig) validate(p *problems) {
	if t.MetricsPath != "" && !strings.HasPrefix(t.MetricsPath, "/") {
		p.addf("telemetry.metrics_path %q must start with /", t.MetricsPath)
	}
}

func warnUnknownProvider(at, name string) {
	if name == "" || slices.Contains(KnownLLMProviders, name) {
		return
	}
	slog.Warn("unknown LLM provider name; it needs a registered factory", "at", at, "name", name)
}
