// Package openai provides a model.Client implementation backed by the
// OpenAI Chat Completions API via github.com/openai/openai-go. It covers
// non-streamed completions only and is used for side-channel prompts such
// as chat title generation; Stream reports ErrStreamingUnsupported.
package openai

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/agentwire/agentwire/runtime/chat"
	"github.com/agentwire/agentwire/runtime/model"
)

// CompletionsClient captures the subset of the openai-go client used by the
// adapter. It is satisfied by *sdk.ChatCompletionService.
type CompletionsClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	// Client is the completions client. Required.
	Client CompletionsClient
	// DefaultModel is the model identifier used when model.Request.Model is
	// empty. Required.
	DefaultModel string
}

// Client implements model.Client via the OpenAI Chat Completions API.
type Client struct {
	completions CompletionsClient
	model       string
}

// New builds an OpenAI-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{completions: opts.Client, model: opts.DefaultModel}, nil
}

// NewFromAPIKey constructs a client using the default openai-go HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	oc := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(Options{Client: &oc.Chat.Completions, DefaultModel: defaultModel})
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if len(req.Messages) == 0 {
		return model.Response{}, errors.New("messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		text := m.Text()
		if text == "" {
			continue
		}
		switch m.Role {
		case chat.RoleSystem:
			messages = append(messages, sdk.SystemMessage(text))
		case chat.RoleUser:
			messages = append(messages, sdk.UserMessage(text))
		case chat.RoleAssistant:
			messages = append(messages, sdk.AssistantMessage(text))
		case chat.RoleTool:
			// Tool transcripts are not replayed on the completion side
			// channel.
		default:
			return model.Response{}, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	if len(messages) == 0 {
		return model.Response{}, errors.New("openai: at least one textual message is required")
	}
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(modelID),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	resp, err := c.completions.New(ctx, params)
	if err != nil {
		return model.Response{}, fmt.Errorf("openai chat.completions.new: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return model.Response{}, errors.New("openai: response has no choices")
	}
	return model.Response{
		Text: resp.Choices[0].Message.Content,
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Stream reports that the OpenAI adapter does not implement streaming.
func (c *Client) Stream(context.Context, model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}
