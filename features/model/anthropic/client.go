// Package anthropic provides a model.Client implementation backed by the
// Anthropic Claude Messages API. It translates normalized requests into
// anthropic.Message calls using github.com/anthropics/anthropic-sdk-go, runs
// the tool execution loop during streaming, and maps responses (text, tool
// calls, usage) back into the generic chunk vocabulary.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/agentwire/agentwire/runtime/chat"
	"github.com/agentwire/agentwire/runtime/model"
)

type (
	// MessagesClient captures the subset of the Anthropic SDK client used by
	// the adapter. It is satisfied by *sdk.MessageService so callers can pass
	// either a real client or a mock in tests.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
		NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
	}

	// Options configures optional Anthropic adapter behavior.
	Options struct {
		// DefaultModel is the Claude model identifier used when
		// model.Request.Model is empty. Use the typed model constants from
		// github.com/anthropics/anthropic-sdk-go or the identifiers listed
		// in the Anthropic model reference. Required.
		DefaultModel string

		// MaxTokens sets the default completion cap when a request does not
		// specify MaxTokens. Defaults to 4096.
		MaxTokens int

		// Temperature is used when a request does not specify Temperature.
		Temperature float64

		// MaxToolTurns bounds the number of model turns taken to satisfy
		// tool calls within one stream. Defaults to 8.
		MaxToolTurns int
	}

	// Client implements model.Client on top of Anthropic Claude Messages.
	Client struct {
		msg          MessagesClient
		defaultModel string
		maxTok       int
		temp         float64
		maxTurns     int
	}
)

// New builds an Anthropic-backed model client from the provided Messages
// client and configuration options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	maxTurns := opts.MaxToolTurns
	if maxTurns <= 0 {
		maxTurns = 8
	}
	return &Client{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		maxTok:       maxTokens,
		temp:         opts.Temperature,
		maxTurns:     maxTurns,
	}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// Complete issues a non-streaming Messages.New request and returns the
// concatenated text blocks.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return model.Response{}, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return model.Response{}, fmt.Errorf("anthropic messages.new: %w", err)
	}
	if msg == nil {
		return model.Response{}, errors.New("anthropic: response message is nil")
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return model.Response{
		Text:  b.String(),
		Usage: usageFromMessage(msg),
	}, nil
}

// Stream starts a streaming completion and returns a Streamer that yields
// normalized chunks. The streamer executes tool handlers as the model calls
// them and feeds results back until the model stops requesting tools.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	handlers := make(map[string]model.ToolDefinition, len(req.Tools))
	for _, def := range req.Tools {
		handlers[def.Name] = def
	}
	return newStreamer(ctx, c.msg, *params, handlers, c.maxTurns), nil
}

func (c *Client) prepareRequest(req model.Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	if g := toolGuidelines(req.Tools); g != "" {
		system = append(system, sdk.TextBlockParam{Text: g})
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	toolParams, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	if len(toolParams) > 0 {
		params.Tools = toolParams
	}
	temp := req.Temperature
	if temp <= 0 {
		temp = c.temp
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}
	return &params, nil
}

// encodeMessages translates the conversation history into Anthropic message
// params. System messages become system blocks; tool messages are re-encoded
// as the assistant tool_use / user tool_result pair the API expects.
func encodeMessages(msgs []chat.Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	var system []sdk.TextBlockParam

	for _, m := range msgs {
		text := m.Text()
		switch m.Role {
		case chat.RoleSystem:
			if text != "" {
				system = append(system, sdk.TextBlockParam{Text: text})
			}
		case chat.RoleUser:
			if text != "" {
				conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(text)))
			}
		case chat.RoleAssistant:
			if text != "" {
				conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(text)))
			}
		case chat.RoleTool:
			if m.ToolCallID == "" {
				return nil, nil, errors.New("anthropic: tool message missing tool_call_id")
			}
			conversation = append(conversation,
				sdk.NewAssistantMessage(sdk.NewToolUseBlock(m.ToolCallID, decodeArgs(m.ToolArgs), m.ToolName)),
				sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, text, false)),
			)
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(defs []model.ToolDefinition) ([]sdk.ToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		if def.Description == "" {
			return nil, fmt.Errorf("anthropic: tool %q is missing description", def.Name)
		}
		schema, err := toolInputSchema(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func toolInputSchema(schema any) (sdk.ToolInputSchemaParam, error) {
	if schema == nil {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var raw json.RawMessage
	switch v := schema.(type) {
	case json.RawMessage:
		raw = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return sdk.ToolInputSchemaParam{}, err
		}
		raw = data
	}
	if len(raw) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

// toolGuidelines folds per-tool usage guidance into one system block.
func toolGuidelines(defs []model.ToolDefinition) string {
	var lines []string
	for _, def := range defs {
		if def.Guidelines == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", def.Name, def.Guidelines))
	}
	if len(lines) == 0 {
		return ""
	}
	return "Tool usage guidelines:\n" + strings.Join(lines, "\n")
}

func decodeArgs(raw string) any {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

func usageFromMessage(msg *sdk.Message) model.TokenUsage {
	u := msg.Usage
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		return model.TokenUsage{}
	}
	return model.TokenUsage{
		InputTokens:  int(u.InputTokens),
		OutputTokens: int(u.OutputTokens),
		TotalTokens:  int(u.InputTokens + u.OutputTokens),
	}
}
