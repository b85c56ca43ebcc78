package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/tuannvm/jira-pulse/internal/config"
	log "github.com/tuannvm/jira-pulse/internal/logging"
)

// LLMClient defines the interface for interacting with LLM services
type LLMClient interface {
	// Complete sends a prompt to the LLM and returns the completion
	Complete(ctx context.Context, prompt string) (string, error)
}

// Client implements the LLMClient interface using langchain-go
type Client struct {
	llm         llms.Model
	maxTokens   int
	temperature float64
	timeout     time.Duration
}

// NewClient creates a new LLM client based on the provided configuration
func NewClient(cfg config.LLMConfig) (*Client, error) {
	var llmModel llms.Model
	var err error

	switch cfg.Provider {
	case "openai", "":
		llmModel, err = openai.New(
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		)
	case "azure":
		llmModel, err = openai.New(
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
			openai.WithBaseURL(cfg.ServiceURL),
		)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		llm:         llmModel,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
	}, nil
}

// Complete sends a prompt to the LLM and returns the completion
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c.llm == nil {
		return "", errors.New("LLM client not initialized")
	}

	log.Debugf("Sending prompt to LLM: %s", truncateForLogging(prompt))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts := []llms.CallOption{llms.WithTemperature(c.temperature)}
	if c.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.maxTokens))
	}
	completion, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt, opts...)
	if err != nil {
		return "", fmt.Errorf("LLM generation failed: %w", err)
	}

	log.Debugf("Received response from LLM: %s", truncateForLogging(completion))
	return completion, nil
}

// truncateForLogging truncates a string to a reasonable length for logging
func truncateForLogging(s string) string {
	const maxLength = 500
	if len(s) <= maxLength {
		return s
	}
	return s[:maxLength] + "... [truncated]"
}
