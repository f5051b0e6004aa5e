package openai

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	"github.com/agentwire/agentwire/runtime/chat"
	"github.com/agentwire/agentwire/runtime/model"
)

type fakeCompletions struct {
	resp *sdk.ChatCompletion
	err  error
	last sdk.ChatCompletionNewParams
}

func (f *fakeCompletions) New(_ context.Context, body sdk.ChatCompletionNewParams, _ ...option.RequestOption) (*sdk.ChatCompletion, error) {
	f.last = body
	return f.resp, f.err
}

func TestNewValidation(t *testing.T) {
	_, err := New(Options{DefaultModel: "gpt-test"})
	require.EqualError(t, err, "openai client is required")

	_, err = New(Options{Client: &fakeCompletions{}})
	require.EqualError(t, err, "default model is required")
}

func TestComplete(t *testing.T) {
	fake := &fakeCompletions{resp: &sdk.ChatCompletion{
		Choices: []sdk.ChatCompletionChoice{{
			Message: sdk.ChatCompletionMessage{Content: "A short title"},
		}},
		Usage: sdk.CompletionUsage{PromptTokens: 10, CompletionTokens: 4, TotalTokens: 14},
	}}
	c, err := New(Options{Client: fake, DefaultModel: "gpt-test"})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), model.Request{
		Messages: []chat.Message{
			{Role: chat.RoleSystem, Content: "be brief"},
			{Role: chat.RoleUser, Content: "summarize this chat"},
			{Role: chat.RoleTool, Content: `{"skipped":true}`, ToolCallID: "t1"},
		},
		MaxTokens:   32,
		Temperature: 0.2,
	})
	require.NoError(t, err)
	require.Equal(t, "A short title", resp.Text)
	require.Equal(t, model.TokenUsage{InputTokens: 10, OutputTokens: 4, TotalTokens: 14}, resp.Usage)

	require.Equal(t, sdk.ChatModel("gpt-test"), fake.last.Model)
	// Tool messages are dropped on the completion side channel.
	require.Len(t, fake.last.Messages, 2)
	require.Equal(t, int64(32), fake.last.MaxTokens.Value)
	require.InDelta(t, 0.2, fake.last.Temperature.Value, 1e-9)
}

func TestCompleteModelOverride(t *testing.T) {
	fake := &fakeCompletions{resp: &sdk.ChatCompletion{
		Choices: []sdk.ChatCompletionChoice{{Message: sdk.ChatCompletionMessage{Content: "ok"}}},
	}}
	c, err := New(Options{Client: fake, DefaultModel: "gpt-test"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), model.Request{
		Model:    "gpt-other",
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, sdk.ChatModel("gpt-other"), fake.last.Model)
}

func TestCompleteErrors(t *testing.T) {
	c, err := New(Options{Client: &fakeCompletions{err: errors.New("rate limited")}, DefaultModel: "gpt-test"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), model.Request{})
	require.EqualError(t, err, "messages are required")

	_, err = c.Complete(context.Background(), model.Request{
		Messages: []chat.Message{{Role: chat.RoleTool, Content: "{}"}},
	})
	require.EqualError(t, err, "openai: at least one textual message is required")

	_, err = c.Complete(context.Background(), model.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
	})
	require.ErrorContains(t, err, "rate limited")
}

func TestCompleteNoChoices(t *testing.T) {
	c, err := New(Options{Client: &fakeCompletions{resp: &sdk.ChatCompletion{}}, DefaultModel: "gpt-test"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), model.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
	})
	require.EqualError(t, err, "openai: response has no choices")
}

func TestStreamUnsupported(t *testing.T) {
	c, err := New(Options{Client: &fakeCompletions{}, DefaultModel: "gpt-test"})
	require.NoError(t, err)

	_, err = c.Stream(context.Background(), model.Request{})
	require.ErrorIs(t, err, model.ErrStreamingUnsupported)
}
