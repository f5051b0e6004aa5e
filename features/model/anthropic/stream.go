package anthropic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/agentwire/agentwire/runtime/chat"
	"github.com/agentwire/agentwire/runtime/model"
)

// streamer adapts Anthropic Messages streaming to the model.Streamer
// interface. It owns the tool execution loop: when a turn stops on
// tool_use, the buffered tool calls are executed through their handlers,
// results are emitted as chunks, and the conversation is resumed with the
// tool results appended, up to the configured turn bound.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	msg    MessagesClient

	chunks chan model.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error
}

func newStreamer(ctx context.Context, msg MessagesClient, params sdk.MessageNewParams, handlers map[string]model.ToolDefinition, maxTurns int) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		ctx:    cctx,
		cancel: cancel,
		msg:    msg,
		chunks: make(chan model.Chunk, 32),
	}
	go s.run(params, handlers, maxTurns)
	return s
}

// Recv returns the next chunk, or io.EOF once the stream is drained.
func (s *streamer) Recv() (model.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			return model.Chunk{}, err
		}
		return model.Chunk{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		s.setErr(err)
		return model.Chunk{}, err
	}
}

// Close aborts the stream and releases resources.
func (s *streamer) Close() error {
	s.cancel()
	return nil
}

func (s *streamer) run(params sdk.MessageNewParams, handlers map[string]model.ToolDefinition, maxTurns int) {
	defer close(s.chunks)

	var (
		transcript []chat.Message
		usage      model.TokenUsage
	)
	for turn := 0; turn < maxTurns; turn++ {
		res, err := s.streamTurn(&params)
		if err != nil {
			s.setErr(err)
			return
		}
		usage.InputTokens += res.usage.InputTokens
		usage.OutputTokens += res.usage.OutputTokens
		usage.TotalTokens += res.usage.TotalTokens

		if res.text != "" {
			transcript = append(transcript, chat.Message{Role: chat.RoleAssistant, Content: res.text})
		}
		if len(res.calls) == 0 {
			s.emit(model.Chunk{Kind: model.ChunkDone, Done: &model.Done{Messages: transcript, Usage: usage}})
			return
		}

		// Execute the requested tools, report their outcomes, and resume
		// the conversation with the results.
		assistantBlocks := make([]sdk.ContentBlockParamUnion, 0, len(res.calls)+1)
		if res.text != "" {
			assistantBlocks = append(assistantBlocks, sdk.NewTextBlock(res.text))
		}
		resultBlocks := make([]sdk.ContentBlockParamUnion, 0, len(res.calls))
		for _, call := range res.calls {
			raw, errStr := s.execute(call, handlers)
			if !s.emit(model.Chunk{Kind: model.ChunkToolCallResult, ToolResult: &model.ToolResult{
				ID:   call.ID,
				Name: call.Name,
				Raw:  raw,
				Err:  errStr,
			}}) {
				return
			}
			transcript = append(transcript, chat.Message{
				Role:       chat.RoleTool,
				Content:    raw,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				ToolArgs:   call.RawArgs,
			})
			assistantBlocks = append(assistantBlocks, sdk.NewToolUseBlock(call.ID, decodeArgs(call.RawArgs), call.Name))
			content := raw
			if content == "" {
				content = errStr
			}
			resultBlocks = append(resultBlocks, sdk.NewToolResultBlock(call.ID, content, errStr != ""))
		}
		params.Messages = append(params.Messages,
			sdk.NewAssistantMessage(assistantBlocks...),
			sdk.NewUserMessage(resultBlocks...),
		)

		if res.stopReason != string(sdk.StopReasonToolUse) {
			s.emit(model.Chunk{Kind: model.ChunkDone, Done: &model.Done{Messages: transcript, Usage: usage}})
			return
		}
	}
	s.setErr(fmt.Errorf("anthropic stream: tool turn limit %d exceeded", maxTurns))
}

type turnResult struct {
	text       string
	calls      []model.ToolCall
	usage      model.TokenUsage
	stopReason string
}

// streamTurn consumes one Messages streaming pass, emitting content and
// tool_call_start chunks as they arrive and buffering tool calls for
// execution.
func (s *streamer) streamTurn(params *sdk.MessageNewParams) (turnResult, error) {
	stream := s.msg.NewStreaming(s.ctx, *params)
	defer func() { _ = stream.Close() }()
	if err := stream.Err(); err != nil {
		return turnResult{}, fmt.Errorf("anthropic messages.new stream: %w", err)
	}

	var (
		res   turnResult
		text  strings.Builder
		tools = make(map[int]*toolBuffer)
	)
	for stream.Next() {
		select {
		case <-s.ctx.Done():
			return turnResult{}, s.ctx.Err()
		default:
		}
		switch ev := stream.Current().AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				if toolUse.ID == "" {
					return turnResult{}, errors.New("anthropic stream: tool use block missing id")
				}
				if toolUse.Name == "" {
					return turnResult{}, fmt.Errorf("anthropic stream: tool use block %q missing name", toolUse.ID)
				}
				tools[int(ev.Index)] = &toolBuffer{id: toolUse.ID, name: toolUse.Name}
			}
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text == "" {
					continue
				}
				text.WriteString(delta.Text)
				if !s.emit(model.Chunk{Kind: model.ChunkContent, Content: delta.Text}) {
					return turnResult{}, s.ctx.Err()
				}
			case sdk.InputJSONDelta:
				if tb := tools[int(ev.Index)]; tb != nil && delta.PartialJSON != "" {
					tb.fragments = append(tb.fragments, delta.PartialJSON)
				}
			}
		case sdk.ContentBlockStopEvent:
			tb := tools[int(ev.Index)]
			if tb == nil {
				continue
			}
			delete(tools, int(ev.Index))
			call := model.ToolCall{ID: tb.id, Name: tb.name, RawArgs: tb.finalInput()}
			res.calls = append(res.calls, call)
			if !s.emit(model.Chunk{Kind: model.ChunkToolCallStart, ToolCall: &call}) {
				return turnResult{}, s.ctx.Err()
			}
		case sdk.MessageDeltaEvent:
			res.stopReason = string(ev.Delta.StopReason)
			res.usage = model.TokenUsage{
				InputTokens:  int(ev.Usage.InputTokens),
				OutputTokens: int(ev.Usage.OutputTokens),
				TotalTokens:  int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
			}
		}
	}
	if err := stream.Err(); err != nil {
		return turnResult{}, fmt.Errorf("anthropic stream: %w", err)
	}
	if err := s.ctx.Err(); err != nil {
		return turnResult{}, err
	}
	res.text = text.String()
	return res, nil
}

// execute runs one tool handler. A missing or handler-less tool yields an
// error result rather than aborting the stream; the model sees the failure
// and can recover.
func (s *streamer) execute(call model.ToolCall, handlers map[string]model.ToolDefinition) (raw, errStr string) {
	def, ok := handlers[call.Name]
	if !ok || def.Handler == nil {
		return "", fmt.Sprintf("unknown tool %q", call.Name)
	}
	out, err := def.Handler(s.ctx, call.RawArgs)
	if err != nil {
		return out, err.Error()
	}
	return out, ""
}

func (s *streamer) emit(chunk model.Chunk) bool {
	select {
	case <-s.ctx.Done():
		return false
	case s.chunks <- chunk:
		return true
	}
}

func (s *streamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *streamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

func (tb *toolBuffer) finalInput() string {
	if len(tb.fragments) == 0 {
		return "{}"
	}
	joined := strings.Join(tb.fragments, "")
	if strings.TrimSpace(joined) == "" {
		return "{}"
	}
	return joined
}
