package config_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/cuecard/internal/config"
	"github.com/MrWong99/cuecard/pkg/provider/llm"
	"github.com/MrWong99/cuecard/pkg/provider/llm/mock"
)

func TestRegistry_CreateLLMTable(t *testing.T) {
	t.Parallel()

	errBadModel := errors.New("unknown model")
	reg := config.NewRegistry()
	reg.RegisterLLM("ollama", func(e config.ProviderEntry) (llm.Provider, error) {
		if e.Model != "llama3" {
			return nil, errBadModel
		}
		return &mock.Provider{}, nil
	})

	tests := []struct {
		name    string
		entry   config.ProviderEntry
		wantErr error
	}{
		{name: "registered", entry: config.ProviderEntry{Name: "ollama", Model: "llama3"}},
		{name: "factory error", entry: config.ProviderEntry{Name: "ollama", Model: "gpt-2"}, wantErr: errBadModel},
		{name: "unknown name", entry: config.ProviderEntry{Name: "openai"}, wantErr: config.ErrProviderNotRegistered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := reg.CreateLLM(tt.entry)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if (p != nil) != (tt.wantErr == nil) {
				t.Errorf("provider = %v with err %v", p, err)
			}
		})
	}
}

func TestRegistry_LLMNames(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	factory := func(config.ProviderEntry) (llm.Provider, error) { return &mock.Provider{}, nil }
	for _, name := range []string{"mistral", "anthropic", "ollama", "anthropic"} {
		reg.RegisterLLM(name, factory)
	}
	if got, want := reg.LLMNames(), []string{"anthropic", "mistral", "ollama"}; !slices.Equal(got, want) {
		t.Errorf("LLMNames = %v, want %v", got, want)
	}
}
