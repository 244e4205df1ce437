package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"thebox/internal/core"
)

const (
	DefaultBaseURL = "https://api.deepseek.com"
	DefaultModel   = "deepseek-chat"

	requestTimeout = 20 * time.Second
)

var ErrNoAPIKey = errors.New("assistant: api key not configured")

// Model completes a system and user prompt into a JSON reply.
type Model interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ChatModel talks to an OpenAI-compatible chat completions endpoint.
type ChatModel struct {
	client *openai.Client
	model  string
}

type ChatOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

func NewChatModel(opts ChatOptions) (*ChatModel, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	cfg := openai.DefaultConfig(strings.TrimSpace(opts.APIKey))
	cfg.BaseURL = DefaultBaseURL
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	return &ChatModel{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (m *ChatModel) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", &core.NetworkError{Op: "assistant", Status: apiErr.HTTPStatusCode, Err: err}
		}
		return "", &core.NetworkError{Op: "assistant", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &core.NetworkError{Op: "assistant", Err: fmt.Errorf("empty response")}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
