package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/cuecard/internal/config"
)

const (
	baseYAML = `
server:
  log_level: info
providers:
  llm:
    name: ollama
    model: llama3
copilot:
  language: en-US
`
	frenchYAML = `
server:
  log_level: debug
providers:
  llm:
    name: ollama
    model: llama3
copilot:
  language: fr-FR
  coalesce: true
`
	brokenYAML = `
server:
  log_level: bananas
`
)

// reload is one onChange invocation.
type reload struct {
	old, new *config.Config
	diff     config.ConfigDiff
}

// replaceFile swaps content in through a rename, the way most editors save.
func replaceFile(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".swp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
}

// touch pushes the mtime ahead of coarse file system clocks.
func touch(t *testing.T, path string) {
	t.Helper()
	ts := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatal(err)
	}
}

// watch writes content to a fresh config file and watches it. Every reload
// is delivered on the returned channel.
func watch(t *testing.T, content string, interval time.Duration) (*config.Watcher, string, <-chan reload) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cuecard.yaml")
	replaceFile(t, path, content)

	reloads := make(chan reload, 8)
	w, err := config.NewWatcher(path, func(old, new *config.Config, d config.ConfigDiff) {
		reloads <- reload{old, new, d}
	}, config.WithInterval(interval))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path, reloads
}

func TestNewWatcher(t *testing.T) {
	t.Parallel()

	w, _, _ := watch(t, baseYAML, time.Hour)
	cfg := w.Current()
	if cfg.Server.LogLevel != config.LogInfo || cfg.Copilot.Language != "en-US" {
		t.Errorf("initial config = %+v", cfg)
	}
	if cfg.Copilot.Window != config.DefaultWindow {
		t.Errorf("window = %d, want default %d", cfg.Copilot.Window, config.DefaultWindow)
	}
}

func TestNewWatcher_Errors(t *testing.T) {
	t.Parallel()

	broken := filepath.Join(t.TempDir(), "broken.yaml")
	replaceFile(t, broken, brokenYAML)

	for name, path := range map[string]string{
		"missing file":   filepath.Join(t.TempDir(), "absent.yaml"),
		"invalid config": broken,
	} {
		if _, err := config.NewWatcher(path, nil); err == nil {
			t.Errorf("%s: NewWatcher succeeded", name)
		}
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		interval time.Duration
		write    func(t *testing.T, path string)
	}{
		{
			name:     "rename over original",
			interval: 50 * time.Millisecond,
			write:    func(t *testing.T, path string) { replaceFile(t, path, frenchYAML) },
		},
		{
			// The poll never fires within the test, so the reload has to come
			// from a notification.
			name:     "in-place write",
			interval: time.Hour,
			write: func(t *testing.T, path string) {
				if err := os.WriteFile(path, []byte(frenchYAML), 0o644); err != nil {
					t.Fatal(err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w, path, reloads := watch(t, baseYAML, tt.interval)

			tt.write(t, path)
			touch(t, path)

			var got reload
			select {
			case got = <-reloads:
			case <-time.After(3 * time.Second):
				t.Fatal("no reload")
			}
			if got.old.Copilot.Language != "en-US" || got.new.Copilot.Language != "fr-FR" {
				t.Errorf("language %q -> %q", got.old.Copilot.Language, got.new.Copilot.Language)
			}
			d := got.diff
			if !d.LogLevelChanged || !d.LanguageChanged || d.NewLanguage != "fr-FR" || !d.NewCoalesce {
				t.Errorf("diff = %+v", d)
			}
			if w.Current() != got.new {
				t.Error("Current does not return the reloaded config")
			}
		})
	}
}

func TestWatcher_IgnoresUnusableEdits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		write func(t *testing.T, path string)
	}{
		{name: "fails validation", write: func(t *testing.T, path string) { replaceFile(t, path, brokenYAML) }},
		{name: "touch only", write: func(t *testing.T, path string) {}},
		{name: "same content rewritten", write: func(t *testing.T, path string) { replaceFile(t, path, baseYAML) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w, path, reloads := watch(t, baseYAML, 50*time.Millisecond)
			before := w.Current()

			tt.write(t, path)
			touch(t, path)

			select {
			case r := <-reloads:
				t.Fatalf("unexpected reload to %+v", r.new)
			case <-time.After(400 * time.Millisecond):
			}
			if w.Current() != before {
				t.Error("Current changed without a reload")
			}
		})
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	t.Parallel()

	w, _, _ := watch(t, baseYAML, 50*time.Millisecond)
	w.Stop()
	w.Stop()
}
