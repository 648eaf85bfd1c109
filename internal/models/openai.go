// Package models 提供各家模型提供方的补全客户端实现。
package models

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIClient wraps an OpenAI-compatible chat endpoint (OpenAI, xAI,
// OpenRouter and friends all speak this protocol).
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a completion client. baseURL may be empty for the
// default OpenAI endpoint.
func NewOpenAIClient(apiKey, baseURL, model string) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("model name cannot be empty")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	return &OpenAIClient{
		client: &client,
		model:  model,
	}, nil
}

// Complete sends one system+user exchange and returns the assistant text.
func (c *OpenAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		slog.Error("failed to call chat completion API", "model", c.model, "error", err.Error())
		return "", fmt.Errorf("failed to call completion API: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}
