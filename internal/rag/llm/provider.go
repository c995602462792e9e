package llm

import (
	"context"
	"errors"
)

// Request is a fully assembled prompt. Model empty means the provider's configured model.
type Request struct {
	System      string
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float32
}

type Response struct {
	Text      string
	Model     string
	TokensIn  int
	TokensOut int
}

// Provider generates one completion. Transient failures come back as LLM_FAILED transient errors.
type Provider interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Model() string
}

var ErrEmptyCompletion = errors.New("llm: empty completion")
