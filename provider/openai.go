package provider

import (
	"context"
	"fmt"

	"github.com/deeplooplabs/fortune-gateway/logger"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAI is a Generator backed by an OpenAI-compatible chat completions API
type OpenAI struct {
	client *openai.Client
	model  string
	retry  *RetryConfig
	log    logger.Logger
}

// NewOpenAI creates a generator from config
func NewOpenAI(config *Config, log logger.Logger) *OpenAI {
	if config == nil {
		config = DefaultConfig()
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = config.GetHTTPClient()

	model := config.Model
	if model == "" {
		model = DefaultConfig().Model
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
		retry:  config.RetryConfig,
		log:    logger.OrNop(log),
	}
}

// Generate sends a chat completion and returns the first choice
func (o *OpenAI) Generate(ctx context.Context, req *Request) (*Response, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       o.model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.Model != "" {
		chatReq.Model = req.Model
	}
	if req.System != "" {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	attempts := 0
	var resp openai.ChatCompletionResponse
	err := retryWithBackoff(ctx, o.retry, func() error {
		attempts++
		r, err := o.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			o.log.Warn("upstream request failed", logger.Fields{
				"model":   chatReq.Model,
				"attempt": attempts,
				"status":  statusCode(err),
				"error":   err.Error(),
			})
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("provider: chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	o.log.Debug("upstream request completed", logger.Fields{
		"model":       resp.Model,
		"attempts":    attempts,
		"totalTokens": resp.Usage.TotalTokens,
	})

	return &Response{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

var _ Generator = (*OpenAI)(nil)
