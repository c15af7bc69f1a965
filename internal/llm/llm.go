// Package llm defines the text-generation boundary shared by the Anthropic
// and OpenAI-compatible clients.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyText is returned when a response carries no usable text.
var ErrEmptyText = errors.New("llm: response contained no text")

// Request is a single-turn generation request.
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response is the decoded JSON object returned by a provider. Its shape
// varies by provider; use ExtractText to read it.
type Response map[string]any

// Generator produces text for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (Response, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
