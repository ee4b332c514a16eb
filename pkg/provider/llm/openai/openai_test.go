package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/cuecard/pkg/provider/llm"
)

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("New with empty key: want error")
	}
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Model() != DefaultModel {
		t.Errorf("Model() = %q, want %q", p.Model(), DefaultModel)
	}
	if !p.Capabilities().SupportsJSONMode {
		t.Error("default model should support JSON mode")
	}
}

func TestMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role    string
		wantErr bool
	}{
		{role: llm.RoleSystem},
		{role: llm.RoleUser},
		{role: llm.RoleAssistant},
		{role: "tool", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			t.Parallel()
			m, err := message(llm.Message{Role: tt.role, Content: "x"})
			if tt.wantErr {
				if err == nil {
					t.Fatal("want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := map[string]bool{
				llm.RoleSystem:    m.OfSystem != nil,
				llm.RoleUser:      m.OfUser != nil,
				llm.RoleAssistant: m.OfAssistant != nil,
			}
			for role, set := range got {
				if set != (role == tt.role) {
					t.Errorf("arm %s set = %v", role, set)
				}
			}
		})
	}
}

func TestCapabilitiesFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model    string
		window   int
		maxOut   int
		jsonMode bool
	}{
		{"gpt-4o-mini", 128_000, 16_384, true},
		{"GPT-4o", 128_000, 16_384, true},
		{"gpt-4-turbo-preview", 128_000, 4_096, true},
		{"gpt-4-0613", 8_192, 4_096, false},
		{"gpt-3.5-turbo", 16_385, 4_096, true},
		{"o1-mini", 128_000, 65_536, false},
		{"o3-mini", 200_000, 100_000, true},
		{"my-finetune", 128_000, 4_096, true},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			c := capabilitiesFor(tt.model)
			if c.ContextWindow != tt.window || c.MaxOutputTokens != tt.maxOut || c.SupportsJSONMode != tt.jsonMode {
				t.Errorf("capabilitiesFor(%q) = %+v", tt.model, c)
			}
		})
	}
}

// fakeAPI serves /chat/completions with reply and records the last body.
func fakeAPI(t *testing.T, reply string) (*httptest.Server, func() map[string]any) {
	t.Helper()
	var (
		mu   sync.Mutex
		body map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		_ = json.Unmarshal(raw, &body)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, func() map[string]any {
		mu.Lock()
		defer mu.Unlock()
		return body
	}
}

func completion(finish, content string) string {
	c, _ := json.Marshal(content)
	return `{"id":"chatcmpl-1","object":"chat.completion","created":1700000000,"model":"gpt-4o-mini",
		"choices":[{"index":0,"finish_reason":"` + finish + `","message":{"role":"assistant","content":` + string(c) + `}}],
		"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}}`
}

func TestComplete(t *testing.T) {
	t.Parallel()
	srv, lastBody := fakeAPI(t, completion("stop", `{"intent":"behavioral"}`))

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "You are an interview copilot.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Analyze."}},
		Temperature:  0.7,
		MaxTokens:    1200,
		JSONMode:     true,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"intent":"behavioral"}` || resp.Truncated {
		t.Errorf("response = %+v", resp)
	}
	if resp.Usage.TotalTokens != 17 {
		t.Errorf("TotalTokens = %d, want 17", resp.Usage.TotalTokens)
	}

	body := lastBody()
	if rf, _ := body["response_format"].(map[string]any); rf["type"] != "json_object" {
		t.Errorf("response_format = %v, want json_object", body["response_format"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v, want system and user", body["messages"])
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message role = %v, want system", first["role"])
	}
	if body["max_tokens"] != float64(1200) {
		t.Errorf("max_tokens = %v", body["max_tokens"])
	}
}

func TestComplete_TruncatedReply(t *testing.T) {
	t.Parallel()
	srv, _ := fakeAPI(t, completion("length", `{"intent":"tech`))

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{SystemPrompt: "s"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !resp.Truncated {
		t.Error("Truncated = false for finish_reason length")
	}
}

func TestComplete_NoJSONModeForOldModels(t *testing.T) {
	t.Parallel()
	srv, lastBody := fakeAPI(t, completion("stop", "ok"))

	p, err := New("sk-test", "gpt-4-0613", WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{SystemPrompt: "s", JSONMode: true}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if rf, ok := lastBody()["response_format"]; ok {
		t.Errorf("response_format = %v, want omitted", rf)
	}
}

func TestComplete_Errors(t *testing.T) {
	t.Parallel()
	srv, _ := fakeAPI(t, `{"id":"x","object":"chat.completion","created":1,"model":"gpt-4o-mini","choices":[]}`)

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); !errors.Is(err, llm.ErrEmptyRequest) {
		t.Errorf("empty request: err = %v, want ErrEmptyRequest", err)
	}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{SystemPrompt: "s"}); !errors.Is(err, errNoChoices) {
		t.Errorf("no choices: err = %v, want errNoChoices", err)
	}
	bad := llm.CompletionRequest{Messages: []llm.Message{{Role: "tool", Content: "x"}}}
	if _, err := p.Complete(context.Background(), bad); err == nil || !strings.Contains(err.Error(), "unsupported message role") {
		t.Errorf("bad role: err = %v", err)
	}
}
