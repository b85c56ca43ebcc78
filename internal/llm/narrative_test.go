package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tuannvm/jira-pulse/internal/config"
)

type stubClient struct {
	reply  string
	err    error
	prompt string
}

func (s *stubClient) Complete(_ context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.reply, s.err
}

func TestRewrite(t *testing.T) {
	stub := &stubClient{reply: "  \"本周团队分配 3 个问题，已解决 2 个。\"\n"}
	got, err := NewRewriter(stub).Rewrite(context.Background(), "本周", "本周：分配到开发 3 个，已解决 2 个。")
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	if got != "本周团队分配 3 个问题，已解决 2 个。" {
		t.Errorf("Unexpected rewrite %q", got)
	}
	if !strings.Contains(stub.prompt, "Period: 本周") || !strings.Contains(stub.prompt, "分配到开发 3 个") {
		t.Errorf("Prompt is missing the period or the report: %s", stub.prompt)
	}
}

func TestRewriteErrors(t *testing.T) {
	boom := errors.New("boom")
	if _, err := NewRewriter(&stubClient{err: boom}).Rewrite(context.Background(), "本周", "text"); !errors.Is(err, boom) {
		t.Errorf("Expected client error, got %v", err)
	}
	if _, err := NewRewriter(&stubClient{reply: "   "}).Rewrite(context.Background(), "本周", "text"); !errors.Is(err, ErrEmptyCompletion) {
		t.Errorf("Expected ErrEmptyCompletion, got %v", err)
	}

	stub := &stubClient{}
	got, err := NewRewriter(stub).Rewrite(context.Background(), "本周", "  ")
	if err != nil || got != "  " || stub.prompt != "" {
		t.Errorf("Expected blank text to skip the model, got %q, %v", got, err)
	}
}

func TestNewClientUnsupportedProvider(t *testing.T) {
	_, err := NewClient(config.LLMConfig{Provider: "bard"})
	if err == nil || !strings.Contains(err.Error(), "unsupported LLM provider") {
		t.Errorf("Expected unsupported provider error, got %v", err)
	}
}

func TestTruncateForLogging(t *testing.T) {
	long := strings.Repeat("a", 600)
	if got := truncateForLogging(long); !strings.HasSuffix(got, "... [truncated]") || len(got) != 500+len("... [truncated]") {
		t.Errorf("Unexpected truncation length %d", len(got))
	}
	if got := truncateForLogging("short"); got != "short" {
		t.Errorf("Expected short string unchanged, got %q", got)
	}
}
