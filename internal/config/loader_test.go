package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/cuecard/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "invalid log level",
			yaml: `
server:
  log_level: verbose
`,
			wantErr: "server.log_level",
		},
		{
			name: "half configured tls",
			yaml: `
server:
  tls:
    cert_file: cert.pem
`,
			wantErr: "server.tls",
		},
		{
			name: "fallbacks without primary",
			yaml: `
providers:
  fallbacks:
    - name: anthropic
`,
			wantErr: "requires providers.llm",
		},
		{
			name: "fallback without name",
			yaml: `
providers:
  llm:
    name: openai
  fallbacks:
    - model: gpt-4o
`,
			wantErr: "providers.fallbacks[0].name is required",
		},
		{
			name: "fallback duplicates primary",
			yaml: `
providers:
  llm:
    name: openai
    model: gpt-4o
  fallbacks:
    - name: openai
      model: gpt-4o
`,
			wantErr: "duplicates providers.llm",
		},
		{
			name: "duplicate fallbacks",
			yaml: `
providers:
  llm:
    name: openai
  fallbacks:
    - name: ollama
      model: llama3
    - name: ollama
      model: llama3
`,
			wantErr: "duplicates providers.fallbacks[0]",
		},
		{
			name: "relative backend url",
			yaml: `
copilot:
  backend_url: /api/analyze
`,
			wantErr: "copilot.backend_url",
		},
		{
			name: "non-http backend url",
			yaml: `
copilot:
  backend_url: ftp://example.com/analyze
`,
			wantErr: "copilot.backend_url",
		},
		{
			name: "negative timeout",
			yaml: `
copilot:
  analysis_timeout: -1s
`,
			wantErr: "copilot.analysis_timeout",
		},
		{
			name: "window too large",
			yaml: `
copilot:
  window: 21
`,
			wantErr: "copilot.window",
		},
		{
			name: "padded language",
			yaml: `
copilot:
  language: " en-US"
`,
			wantErr: "copilot.language",
		},
		{
			name: "relative metrics path",
			yaml: `
telemetry:
  metrics_path: metrics
`,
			wantErr: "telemetry.metrics_path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should contain %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader(`
server:
  log_level: loud
copilot:
  window: 99
telemetry:
  metrics_path: nope
`))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"server.log_level", "copilot.window", "telemetry.metrics_path"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_SoftProblemsOnlyWarn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{"no llm", "server:\n  log_level: info\n"},
		{"unknown provider", "providers:\n  llm:\n    name: my-proxy\n    api_key: k\n"},
		{"missing api key", "providers:\n  llm:\n    name: anthropic\n"},
		{"session id without dsn", "archive:\n  session_id: s1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := config.LoadFromReader(strings.NewReader(tt.yaml)); err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestValidate_DirectZeroWindowAllowed(t *testing.T) {
	t.Parallel()

	// Validate without ApplyDefaults treats zero as "use the default".
	if err := config.Validate(&config.Config{}); err != nil {
		t.Errorf("expected zero config to validate, got %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cuecard.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Archive.SessionID != "interview-42" {
		t.Errorf("session_id: got %q", cfg.Archive.SessionID)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Providers.LLM.Name != "openai" || len(cfg.Providers.Fallbacks) != 1 {
		t.Errorf("providers: %+v", cfg.Providers)
	}
	if cfg.Copilot.AnalysisTimeout != 30*time.Second || cfg.Copilot.Window != 20 {
		t.Errorf("copilot: %+v", cfg.Copilot)
	}
	if cfg.Archive.PostgresDSN != "" {
		t.Errorf("archive should be disabled, got %+v", cfg.Archive)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestLoad_InvalidFileNamesPath(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := config.Load(path)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("error should name the file, got: %v", err)
	}
}
