package run

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentwire/agentwire/runtime/chat"
	"github.com/agentwire/agentwire/runtime/model"
	"github.com/agentwire/agentwire/runtime/telemetry"
)

type (
	// Persister stores a completed run as a chat document. The emitter
	// invokes it after response_completed and emits response_saved (or a
	// persistence response_error) based on the outcome. Implementations
	// live in runtime/transcript.
	Persister interface {
		// Persist writes the final message list to the chat document,
		// minting a chat id and title as needed. Returns the saved chat id
		// and the store's revision token (empty when the store reports
		// none).
		Persist(ctx context.Context, c *chat.Chat, finalMessages []chat.Message) (SavedRef, error)
	}

	// SavedRef identifies a persisted chat document.
	SavedRef struct {
		ChatID   string
		Revision string
	}

	// Options configures an Emitter.
	Options struct {
		// Client is the model provider adapter. Required.
		Client model.Client
		// Persister stores completed runs. When nil, runs complete without
		// persistence and never emit response_saved.
		Persister Persister
		// Logger receives run diagnostics. Defaults to the noop logger.
		Logger telemetry.Logger
		// Metrics receives run counters. Defaults to the noop recorder.
		Metrics telemetry.Metrics
		// NewID mints run/response/item/event identifiers. Defaults to
		// uuid.NewString.
		NewID func() string
		// Now supplies event timestamps. Defaults to time.Now in UTC.
		Now func() time.Time
		// Buffer is the event channel capacity. Defaults to 32.
		Buffer int
	}

	// Emitter starts runs: each run consumes one provider stream with a
	// single sequential writer and produces a strictly ordered event stream
	// on its own channel. Multiple runs may execute in parallel with
	// independent sequence counters; within one conversation the caller
	// must not start a new run while one is outstanding.
	Emitter struct {
		client    model.Client
		persister Persister
		logger    telemetry.Logger
		metrics   telemetry.Metrics
		newID     func() string
		now       func() time.Time
		buffer    int
	}

	// Input describes one run: the chat being extended, the prior message
	// history including the new user turn, and the tool catalog.
	Input struct {
		// Chat is the conversation document being extended. May be nil or
		// unsaved; the persister mints identity on first save.
		Chat *chat.Chat
		// Messages is the ordered prior history plus the new user turn.
		Messages []chat.Message
		// Tools is the catalog of enabled tools.
		Tools []model.ToolDefinition
		// AgentID identifies the agent, echoed on response_started.
		AgentID string
		// Model optionally overrides the adapter's default model.
		Model string
		// RunID optionally fixes the run identifier; minted when empty.
		RunID string
	}

	// runState is the single-writer per-run emission state. Owned
	// exclusively by the run goroutine and discarded when the run ends.
	runState struct {
		runID      string
		responseID string
		seq        uint64

		activeItem string
		activeText strings.Builder

		record   transcriptRecord
		toolArgs map[string]string
		toolMsgs []chat.Message
	}

	// transcriptRecord tracks the response's final segment structure for
	// placeholder encoding at persistence time.
	transcriptRecord struct {
		segments []recordedSegment
	}

	// recordedSegment is one output item slot. A non-empty tokenCall means
	// the slot persists as a placeholder token for that tool call;
	// otherwise a text item persists literally.
	recordedSegment struct {
		item      OutputItem
		tokenCall string
		hidden    bool
	}
)

// NewEmitter builds an Emitter. The Client field is required.
func NewEmitter(opts Options) (*Emitter, error) {
	if opts.Client == nil {
		return nil, errors.New("model client is required")
	}
	e := &Emitter{
		client:    opts.Client,
		persister: opts.Persister,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		newID:     opts.NewID,
		now:       opts.Now,
		buffer:    opts.Buffer,
	}
	if e.logger == nil {
		e.logger = telemetry.NewNoopLogger()
	}
	if e.metrics == nil {
		e.metrics = telemetry.NewNoopMetrics()
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.buffer <= 0 {
		e.buffer = 32
	}
	return e, nil
}

// StartRun starts one run and returns its ordered event stream. The channel
// closes after the final event: response_saved on the success path,
// response_error otherwise. Canceling ctx mid-run behaves like a provider
// error chunk: one response_error, no persistence.
func (e *Emitter) StartRun(ctx context.Context, in Input) (<-chan Event, error) {
	if len(in.Messages) == 0 {
		return nil, errors.New("run: messages are required")
	}
	runID := in.RunID
	if runID == "" {
		runID = e.newID()
	}
	out := make(chan Event, e.buffer)
	go e.run(ctx, in, runID, out)
	return out, nil
}

func (e *Emitter) run(ctx context.Context, in Input, runID string, out chan<- Event) {
	defer close(out)

	st := &runState{
		runID:      runID,
		responseID: e.newID(),
		toolArgs:   make(map[string]string),
	}

	started := ResponseStartedPayload{ResponseID: st.responseID, AgentID: in.AgentID}
	e.emit(ctx, out, ResponseStarted{Base: e.base(st, EventResponseStarted, started), Data: started})

	streamer, err := e.client.Stream(ctx, model.Request{
		Model:    in.Model,
		Messages: in.Messages,
		Tools:    in.Tools,
	})
	if err != nil {
		e.fail(ctx, out, st, err)
		return
	}
	defer func() { _ = streamer.Close() }()

	for {
		chunk, err := streamer.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("provider stream ended before done")
			}
			e.fail(ctx, out, st, err)
			return
		}
		switch chunk.Kind {
		case model.ChunkContent:
			e.handleContent(ctx, out, st, chunk.Content)
		case model.ChunkToolCallStart:
			e.handleToolCallStart(ctx, out, st, chunk.ToolCall)
		case model.ChunkToolCallResult:
			e.handleToolCallResult(ctx, out, st, chunk.ToolResult)
		case model.ChunkError:
			e.fail(ctx, out, st, &ProviderError{Message: chunk.ErrorMessage})
			return
		case model.ChunkDone:
			e.handleDone(ctx, out, st, in, chunk.Done)
			return
		default:
			e.logger.Debug(ctx, "ignoring unknown provider chunk", "kind", string(chunk.Kind), "run_id", st.runID)
		}
	}
}

func (e *Emitter) handleContent(ctx context.Context, out chan<- Event, st *runState, text string) {
	if text == "" {
		return
	}
	if st.activeItem == "" {
		item := OutputItem{ID: e.newID(), Type: ItemText}
		st.activeItem = item.ID
		st.activeText.Reset()
		st.record.appendLiteral(item)
		e.emitItemCreated(ctx, out, st, item)
	}
	st.activeText.WriteString(text)
	p := OutputTextDeltaPayload{ResponseID: st.responseID, ItemID: st.activeItem, Delta: text}
	e.emit(ctx, out, OutputTextDelta{Base: e.base(st, EventOutputTextDelta, p), Data: p})
}

func (e *Emitter) handleToolCallStart(ctx context.Context, out chan<- Event, st *runState, call *model.ToolCall) {
	if call == nil {
		return
	}
	decoded := DecodeToolPayload(call.RawArgs)
	if _, ok := decoded.Structured(); !ok {
		e.metrics.IncCounter("run.decode_fallback", 1, "payload", "tool_args")
	}
	st.toolArgs[call.ID] = call.RawArgs
	p := ToolCallStartedPayload{
		ResponseID: st.responseID,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Args:       decoded.ArgsMapping(),
	}
	e.emit(ctx, out, ToolCallStarted{Base: e.base(st, EventToolCallStarted, p), Data: p})
}

func (e *Emitter) handleToolCallResult(ctx context.Context, out chan<- Event, st *runState, res *model.ToolResult) {
	if res == nil {
		return
	}
	decoded := DecodeToolPayload(res.Raw)
	p := ToolCallCompletedPayload{
		ResponseID: st.responseID,
		ToolCallID: res.ID,
		ToolName:   res.Name,
		Status:     ToolCallSuccess,
	}
	if res.Err != "" {
		p.Status = ToolCallError
		p.Error = res.Err
	} else {
		p.Result = decoded.Value()
	}
	e.emit(ctx, out, ToolCallCompleted{Base: e.base(st, EventToolCallCompleted, p), Data: p})

	content := res.Raw
	if content == "" && res.Err != "" {
		content = res.Err
	}
	st.toolMsgs = append(st.toolMsgs, chat.Message{
		Role:       chat.RoleTool,
		Content:    content,
		ToolCallID: res.ID,
		ToolName:   res.Name,
		ToolArgs:   st.toolArgs[res.ID],
	})

	if p.Status != ToolCallSuccess {
		return
	}
	if _, ok := decoded.Structured(); !ok {
		e.metrics.IncCounter("run.decode_fallback", 1, "payload", "tool_result")
		return
	}
	e.applyDirectives(ctx, out, st, res.ID, decoded.Directives())
}

// applyDirectives translates a structured tool result's embedded directives
// into protocol events and the transcript record. A new item supersedes any
// open streamed text item, which is finalized first.
func (e *Emitter) applyDirectives(ctx context.Context, out chan<- Event, st *runState, toolCallID string, dir Directives) {
	if dir.Message == "" && dir.Component == nil && !dir.Remove {
		return
	}
	e.closeActiveText(ctx, out, st)

	if dir.Remove {
		if dir.Component != nil {
			e.createComponent(ctx, out, st, toolCallID, dir)
		}
		patch := OutputItemPatch{State: StatePtr(StateHidden)}
		var repl *OutputItem
		if dir.Message != "" {
			repl = &OutputItem{ID: e.newID(), Type: ItemText, Text: dir.Message, ToolCallID: toolCallID}
			patch.ReplaceWith = repl
		}
		p := OutputItemUpdatedPayload{ResponseID: st.responseID, ItemID: dir.RemoveComponentID, Patch: patch}
		e.emit(ctx, out, OutputItemUpdated{Base: e.base(st, EventOutputItemUpdated, p), Data: p})
		st.record.hideAndReplace(dir.RemoveComponentID, repl, toolCallID)
		return
	}

	if dir.Message != "" {
		item := OutputItem{ID: e.newID(), Type: ItemText, Text: dir.Message, ToolCallID: toolCallID}
		if dir.Component != nil {
			// The component's placeholder token re-creates this text at
			// rehydration, so it is not encoded literally.
			st.record.appendToken(item, toolCallID)
		} else {
			st.record.appendLiteral(item)
		}
		e.emitItemCreated(ctx, out, st, item)
		p := OutputTextCompletedPayload{ResponseID: st.responseID, ItemID: item.ID, Text: dir.Message}
		e.emit(ctx, out, OutputTextCompleted{Base: e.base(st, EventOutputTextCompleted, p), Data: p})
	}
	if dir.Component != nil {
		e.createComponent(ctx, out, st, toolCallID, dir)
	}
}

func (e *Emitter) createComponent(ctx context.Context, out chan<- Event, st *runState, toolCallID string, dir Directives) {
	id := dir.ComponentID
	if id == "" {
		id = e.newID()
	}
	item := OutputItem{ID: id, Type: ItemComponent, Component: dir.Component, ToolCallID: toolCallID}
	st.record.appendToken(item, toolCallID)
	e.emitItemCreated(ctx, out, st, item)
}

func (e *Emitter) handleDone(ctx context.Context, out chan<- Event, st *runState, in Input, done *model.Done) {
	e.closeActiveText(ctx, out, st)
	var usage model.TokenUsage
	if done != nil {
		usage = done.Usage
	}
	p := ResponseCompletedPayload{ResponseID: st.responseID, Usage: usage}
	e.emit(ctx, out, ResponseCompleted{Base: e.base(st, EventResponseCompleted, p), Data: p})

	if e.persister == nil {
		return
	}
	final := e.finalMessages(in, st)
	ref, err := e.persister.Persist(ctx, in.Chat, final)
	if err != nil {
		perr := &PersistenceError{Err: err}
		e.logger.Error(ctx, "persist completed run", "run_id", st.runID, "err", err)
		e.metrics.IncCounter("run.persist_failures", 1)
		ep := ResponseErrorPayload{ResponseID: st.responseID, Message: perr.Error(), Retryable: false}
		e.emit(ctx, out, ResponseError{Base: e.base(st, EventResponseError, ep), Data: ep})
		return
	}
	sp := ResponseSavedPayload{ResponseID: st.responseID, ChatID: ref.ChatID, Revision: ref.Revision}
	e.emit(ctx, out, ResponseSaved{Base: e.base(st, EventResponseSaved, sp), Data: sp})
}

func (e *Emitter) emitItemCreated(ctx context.Context, out chan<- Event, st *runState, item OutputItem) {
	p := OutputItemCreatedPayload{ResponseID: st.responseID, Item: item}
	e.emit(ctx, out, OutputItemCreated{Base: e.base(st, EventOutputItemCreated, p), Data: p})
}

// closeActiveText finalizes the open streamed text item, if any.
func (e *Emitter) closeActiveText(ctx context.Context, out chan<- Event, st *runState) {
	if st.activeItem == "" {
		return
	}
	full := st.activeText.String()
	st.record.setText(st.activeItem, full)
	p := OutputTextCompletedPayload{ResponseID: st.responseID, ItemID: st.activeItem, Text: full}
	e.emit(ctx, out, OutputTextCompleted{Base: e.base(st, EventOutputTextCompleted, p), Data: p})
	st.activeItem = ""
	st.activeText.Reset()
}

// fail ends the run with exactly one response_error and no persistence.
func (e *Emitter) fail(ctx context.Context, out chan<- Event, st *runState, err error) {
	retryable := false
	msg := err.Error()
	var perr *ProviderError
	if errors.As(err, &perr) {
		retryable = perr.Retryable
		msg = perr.Message
	}
	e.logger.Warn(ctx, "run failed", "run_id", st.runID, "err", err)
	e.metrics.IncCounter("run.failures", 1)
	p := ResponseErrorPayload{ResponseID: st.responseID, Message: msg, Retryable: retryable}
	e.emit(ctx, out, ResponseError{Base: e.base(st, EventResponseError, p), Data: p})
}

// finalMessages assembles the canonical message list handed to the
// persister: the prior history, the assistant message with component
// segments encoded as placeholder tokens, and one tool message per result.
func (e *Emitter) finalMessages(in Input, st *runState) []chat.Message {
	out := make([]chat.Message, 0, len(in.Messages)+1+len(st.toolMsgs))
	out = append(out, in.Messages...)
	out = append(out, chat.Message{Role: chat.RoleAssistant, Content: st.record.assistantText()})
	out = append(out, st.toolMsgs...)
	return out
}

// base mints the envelope for the next event and advances the sequence.
func (e *Emitter) base(st *runState, t EventType, payload any) Base {
	b := NewBase(t, e.newID(), st.runID, st.seq, e.now(), payload)
	st.seq++
	return b
}

// emit delivers the event, falling back to a best-effort non-blocking send
// when the caller abandoned the run.
func (e *Emitter) emit(ctx context.Context, out chan<- Event, ev Event) {
	e.metrics.IncCounter("run.events_emitted", 1, "type", string(ev.Type()))
	select {
	case out <- ev:
	case <-ctx.Done():
		select {
		case out <- ev:
		default:
		}
	}
}

func (r *transcriptRecord) appendLiteral(item OutputItem) {
	r.segments = append(r.segments, recordedSegment{item: item})
}

func (r *transcriptRecord) appendToken(item OutputItem, toolCallID string) {
	r.segments = append(r.segments, recordedSegment{item: item, tokenCall: toolCallID})
}

func (r *transcriptRecord) setText(itemID, text string) {
	for i := range r.segments {
		if r.segments[i].item.ID == itemID {
			r.segments[i].item.Text = text
			return
		}
	}
}

// hideAndReplace hides the component item and, when a replacement is
// present, takes over its slot with a token for the removing tool call.
func (r *transcriptRecord) hideAndReplace(itemID string, repl *OutputItem, removerCall string) {
	for i := range r.segments {
		if r.segments[i].item.ID != itemID {
			continue
		}
		if repl == nil {
			r.segments[i].hidden = true
			return
		}
		r.segments[i] = recordedSegment{item: *repl, tokenCall: removerCall}
		return
	}
}

// assistantText encodes the final visible segments: literal text for
// streamed or message-only items, one placeholder token per
// directive-carrying tool call, hidden segments dropped.
func (r *transcriptRecord) assistantText() string {
	var parts []string
	seen := make(map[string]bool)
	for _, s := range r.segments {
		if s.hidden {
			continue
		}
		if s.tokenCall != "" {
			if !seen[s.tokenCall] {
				parts = append(parts, Placeholder(s.tokenCall))
				seen[s.tokenCall] = true
			}
			continue
		}
		if s.item.Type == ItemText && s.item.Text != "" {
			parts = append(parts, s.item.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}
