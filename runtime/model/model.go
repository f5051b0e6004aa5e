// Package model defines the provider-agnostic abstraction over chat model
// backends. The run emitter consumes a normalized sequence of chunks from a
// Streamer without coupling to any provider SDK; implementations under
// features/model translate provider-specific streaming APIs (and tool
// execution) into this chunk vocabulary.
package model

import (
	"context"
	"errors"

	"github.com/agentwire/agentwire/runtime/chat"
)

type (
	// Client is the contract run emitters and the transcript persister use to
	// invoke models. Implementations wrap provider SDKs and must be
	// thread-safe and reusable across runs.
	Client interface {
		// Complete sends a non-streamed completion request and returns the
		// generated text. Used for side-channel prompts such as title
		// generation.
		Complete(ctx context.Context, req Request) (Response, error)

		// Stream starts a streaming completion and returns a Streamer that
		// yields normalized chunks. The returned Streamer must be closed by
		// the caller. Providers without streaming support return
		// ErrStreamingUnsupported.
		Stream(ctx context.Context, req Request) (Streamer, error)
	}

	// Streamer delivers incremental provider output. Successive Recv calls
	// return chunks until io.EOF. Safe to call from a single goroutine;
	// Close releases underlying resources and may be called concurrently
	// with Recv to abort the stream.
	Streamer interface {
		// Recv returns the next chunk from the stream.
		Recv() (Chunk, error)
		// Close closes the stream.
		Close() error
	}

	// Request captures the normalized parameters for a model invocation.
	Request struct {
		// Model is the provider-specific model identifier. Empty uses the
		// adapter's configured default.
		Model string
		// Messages is the ordered conversation history, including system
		// instructions and prior turns.
		Messages []chat.Message
		// Tools lists the tool schemas exposed to the model, together with
		// the handlers the adapter invokes when the model calls them.
		Tools []ToolDefinition
		// MaxTokens caps completion tokens. Zero uses the adapter default.
		MaxTokens int
		// Temperature controls sampling. Zero means the adapter default.
		Temperature float64
	}

	// Response is the result of a non-streamed Complete call.
	Response struct {
		// Text is the generated assistant text.
		Text string
		// Usage reports token usage when the provider provides it.
		Usage TokenUsage
	}

	// ToolDefinition describes one catalog tool: the schema advertised to the
	// model and the handler the adapter invokes on a tool call. Guidelines
	// are opaque usage instructions folded into the system prompt.
	ToolDefinition struct {
		// Name is the identifier presented to the model.
		Name string
		// Description documents the tool for prompting purposes.
		Description string
		// InputSchema is the JSON Schema describing the tool arguments.
		InputSchema any
		// Guidelines is optional free-form usage guidance appended to the
		// system instructions.
		Guidelines string
		// Handler executes the tool. It receives the raw argument JSON as
		// produced by the provider and returns the raw result string. A
		// returned error becomes the error string on the tool_call_result
		// chunk; it does not abort the run.
		Handler func(ctx context.Context, rawArgs string) (string, error)
	}

	// Chunk is one normalized streaming event. Kind indicates which payload
	// fields are populated; the allowed kinds are the ChunkKind constants.
	Chunk struct {
		// Kind is the chunk discriminator.
		Kind ChunkKind
		// Content is the text delta when Kind is ChunkContent.
		Content string
		// ToolCall carries the invocation when Kind is ChunkToolCallStart.
		ToolCall *ToolCall
		// ToolResult carries the outcome when Kind is ChunkToolCallResult.
		ToolResult *ToolResult
		// ErrorMessage describes the failure when Kind is ChunkError.
		ErrorMessage string
		// Done carries the terminal summary when Kind is ChunkDone.
		Done *Done
	}

	// ToolCall describes a tool invocation requested by the model.
	ToolCall struct {
		// ID is the provider-assigned tool call identifier.
		ID string
		// Name is the tool name as advertised in the request.
		Name string
		// RawArgs is the argument JSON exactly as produced by the provider.
		// Not guaranteed to be valid JSON.
		RawArgs string
	}

	// ToolResult describes the outcome of an executed tool call. Raw and Err
	// are mutually exclusive on the wire events derived from this chunk, but
	// adapters may populate Raw alongside Err for diagnostics.
	ToolResult struct {
		// ID is the tool call identifier the result answers.
		ID string
		// Name is the tool name.
		Name string
		// Raw is the raw result string returned by the tool handler.
		Raw string
		// Err is the error string when the handler failed. Empty on success.
		Err string
	}

	// Done summarizes a completed stream.
	Done struct {
		// Messages holds the assistant and tool messages the adapter
		// accumulated during the stream, without the prior history.
		// Advisory only: the emitter assembles the canonical persisted
		// list itself.
		Messages []chat.Message
		// Usage is the total token usage for the run.
		Usage TokenUsage
	}

	// TokenUsage records token counts reported by the provider. All zero
	// when the provider does not report usage.
	TokenUsage struct {
		// InputTokens counts prompt tokens.
		InputTokens int `json:"input_tokens"`
		// OutputTokens counts completion tokens.
		OutputTokens int `json:"output_tokens"`
		// TotalTokens is the aggregate when reported, else input+output.
		TotalTokens int `json:"total_tokens"`
	}
)

// ChunkKind enumerates the normalized provider chunk kinds.
type ChunkKind string

// Chunk kinds produced by provider stream adapters.
const (
	ChunkContent        ChunkKind = "content"
	ChunkToolCallStart  ChunkKind = "tool_call_start"
	ChunkToolCallResult ChunkKind = "tool_call_result"
	ChunkError          ChunkKind = "error"
	ChunkDone           ChunkKind = "done"
)

// ErrStreamingUnsupported indicates the model provider does not implement
// streaming for the requested model/parameters.
var ErrStreamingUnsupported = errors.New("model: streaming not supported")
