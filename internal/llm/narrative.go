package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyCompletion is returned when the model answers with blank text.
var ErrEmptyCompletion = errors.New("LLM returned an empty narrative")

const narrativePrompt = `You are writing the weekly status note a development manager sends to leadership.
Rewrite the report sentence below into two or three fluent sentences in the same language.
Keep every number, team name and period label exactly as given. Do not add facts, advice or headings.

Period: %s

Report:
%s

Rewritten note:`

// Rewriter turns the generated summary sentence into a smoother narrative.
type Rewriter struct {
	client LLMClient
}

// NewRewriter wraps client.
func NewRewriter(client LLMClient) *Rewriter {
	return &Rewriter{client: client}
}

// Rewrite asks the model to rephrase text for the labelled period.
func (r *Rewriter) Rewrite(ctx context.Context, label, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	completion, err := r.client.Complete(ctx, fmt.Sprintf(narrativePrompt, label, text))
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(completion)
	out = strings.Trim(out, "\"“”")
	if out == "" {
		return "", ErrEmptyCompletion
	}
	return out, nil
}
