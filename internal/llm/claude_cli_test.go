package llm

import (
	"testing"
	"time"
)

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name   string
		client *ClaudeCLI
		req    Request
		want   []string
	}{
		{
			name:   "prompt only",
			client: NewClaudeCLI(),
			req:    Request{Prompt: "hello"},
			want:   []string{"--print", "-p", "hello"},
		},
		{
			name:   "system prompt and max tokens",
			client: NewClaudeCLI(),
			req:    Request{SystemPrompt: "be brief", Prompt: "hello", MaxTokens: 256},
			want:   []string{"--print", "--system-prompt", "be brief", "--max-tokens", "256", "-p", "hello"},
		},
		{
			name:   "client default model",
			client: NewClaudeCLI(WithModel("claude-sonnet-4-5")),
			req:    Request{Prompt: "hello"},
			want:   []string{"--print", "--model", "claude-sonnet-4-5", "-p", "hello"},
		},
		{
			name:   "request model overrides default",
			client: NewClaudeCLI(WithModel("default-model")),
			req:    Request{Prompt: "hello", Model: "request-model"},
			want:   []string{"--print", "--model", "request-model", "-p", "hello"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.client.buildArgs(tt.req)
			if len(got) != len(tt.want) {
				t.Fatalf("args = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("arg %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestAvailable(t *testing.T) {
	missing := NewClaudeCLI(WithPath("/nonexistent/binary/claude"))
	if missing.Available() {
		t.Error("nonexistent binary reported available")
	}
}

func TestOptions(t *testing.T) {
	c := NewClaudeCLI(
		WithPath("/usr/local/bin/claude"),
		WithModel("m"),
		WithTimeout(5*time.Second),
	)
	if c.path != "/usr/local/bin/claude" || c.model != "m" || c.timeout != 5*time.Second {
		t.Errorf("options not applied: %+v", c)
	}
}
