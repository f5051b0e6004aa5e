package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/require"

	"github.com/agentwire/agentwire/runtime/chat"
	"github.com/agentwire/agentwire/runtime/model"
)

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "claude-test"})
	require.EqualError(t, err, "anthropic client is required")

	_, err = New(&fakeMessages{}, Options{})
	require.EqualError(t, err, "default model identifier is required")
}

func TestComplete(t *testing.T) {
	var resp sdk.Message
	require.NoError(t, json.Unmarshal([]byte(`{
		"content": [
			{"type": "text", "text": "Hello "},
			{"type": "text", "text": "world"}
		],
		"usage": {"input_tokens": 3, "output_tokens": 4}
	}`), &resp))
	msg := &fakeMessages{newResp: &resp}
	c := newTestClient(t, msg)

	out, err := c.Complete(context.Background(), model.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "Hello world", out.Text)
	require.Equal(t, model.TokenUsage{InputTokens: 3, OutputTokens: 4, TotalTokens: 7}, out.Usage)

	require.Len(t, msg.calls, 1)
	require.Equal(t, sdk.Model("claude-test"), msg.calls[0].Model)
	require.Equal(t, int64(4096), msg.calls[0].MaxTokens)
}

func TestCompleteError(t *testing.T) {
	msg := &fakeMessages{newErr: errors.New("overloaded")}
	c := newTestClient(t, msg)

	_, err := c.Complete(context.Background(), model.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
	})
	require.ErrorContains(t, err, "anthropic messages.new")
	require.ErrorContains(t, err, "overloaded")
}

func TestCompleteRequiresMessages(t *testing.T) {
	c := newTestClient(t, &fakeMessages{})
	_, err := c.Complete(context.Background(), model.Request{})
	require.EqualError(t, err, "anthropic: messages are required")
}

func TestEncodeMessages(t *testing.T) {
	conversation, system, err := encodeMessages([]chat.Message{
		{Role: chat.RoleSystem, Content: "be terse"},
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "hello"},
		{Role: chat.RoleTool, Content: `{"ok":true}`, ToolCallID: "t1", ToolName: "lookup", ToolArgs: `{"x":1}`},
	})
	require.NoError(t, err)
	require.Len(t, system, 1)
	require.Equal(t, "be terse", system[0].Text)

	// The tool message expands into an assistant tool_use block followed by
	// a user tool_result block.
	require.Len(t, conversation, 4)
	require.Equal(t, sdk.MessageParamRoleUser, conversation[0].Role)
	require.Equal(t, sdk.MessageParamRoleAssistant, conversation[1].Role)
	require.Equal(t, sdk.MessageParamRoleAssistant, conversation[2].Role)
	require.Equal(t, sdk.MessageParamRoleUser, conversation[3].Role)
}

func TestEncodeMessagesToolMissingCallID(t *testing.T) {
	_, _, err := encodeMessages([]chat.Message{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleTool, Content: "{}"},
	})
	require.EqualError(t, err, "anthropic: tool message missing tool_call_id")
}

func TestEncodeMessagesRequiresConversation(t *testing.T) {
	_, _, err := encodeMessages([]chat.Message{{Role: chat.RoleSystem, Content: "be terse"}})
	require.EqualError(t, err, "anthropic: at least one user/assistant message is required")
}

func TestEncodeToolsRequiresDescription(t *testing.T) {
	_, err := encodeTools([]model.ToolDefinition{{Name: "lookup"}})
	require.ErrorContains(t, err, `tool "lookup" is missing description`)
}

func TestToolGuidelinesFoldedIntoSystem(t *testing.T) {
	msg := &fakeMessages{streams: []*testDecoder{textTurn("ok", "end_turn")}}
	c := newTestClient(t, msg)

	s, err := c.Stream(context.Background(), model.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
		Tools: []model.ToolDefinition{{
			Name:        "lookup",
			Description: "looks things up",
			Guidelines:  "prefer exact matches",
		}},
	})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	_, err = drain(t, s)
	require.NoError(t, err)

	require.Len(t, msg.calls, 1)
	require.Len(t, msg.calls[0].System, 1)
	require.Contains(t, msg.calls[0].System[0].Text, "Tool usage guidelines:")
	require.Contains(t, msg.calls[0].System[0].Text, "lookup: prefer exact matches")
	require.Len(t, msg.calls[0].Tools, 1)
}

func TestDecodeArgs(t *testing.T) {
	require.Equal(t, map[string]any{"x": float64(1)}, decodeArgs(`{"x":1}`))
	require.Equal(t, map[string]any{}, decodeArgs("not json"))
	require.Equal(t, map[string]any{}, decodeArgs(""))
	require.Equal(t, map[string]any{}, decodeArgs("null"))
}
