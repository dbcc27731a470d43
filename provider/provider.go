package provider

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the upstream answers without any choice
var ErrEmptyResponse = errors.New("provider: empty response")

// Generator produces text from a prompt. It is the expensive call the
// response cache and the rate limiter protect.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Request is a single-turn generation request
type Request struct {
	// Model overrides the generator's default model (optional)
	Model string

	// System is the system instruction (optional)
	System string

	// Prompt is the user prompt
	Prompt string

	// MaxTokens bounds the completion length (optional)
	MaxTokens int

	// Temperature controls sampling (optional)
	Temperature float32
}

// Usage reports token accounting of a generation
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Response is the generated text
type Response struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func(ctx context.Context, req *Request) (*Response, error)

// Generate calls f
func (f GeneratorFunc) Generate(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
