// Package perception talks to hosted text-generation services and turns a
// prompt template plus kernel data into raw model text.
package perception

import (
	"context"
)

// LLMClient is one provider's text-completion call. Implementations classify
// failures as *RateLimitError, *TransientError or *APIError so CallWithRetry
// can decide whether to retry.
type LLMClient interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Request is a single completion request.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// ClientFunc adapts a function to LLMClient.
type ClientFunc func(ctx context.Context, req Request) (string, error)

func (f ClientFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
