// Package reconcile turns ordered run events, or a persisted transcript,
// into the renderable segment list a consumer displays. The Engine applies
// live events idempotently; Rehydrate rebuilds the same segments from a
// stored chat without replaying the run.
package reconcile

import (
	"context"
	"sync"

	"github.com/agentwire/agentwire/runtime/model"
	"github.com/agentwire/agentwire/runtime/run"
	"github.com/agentwire/agentwire/runtime/telemetry"
)

type (
	// Segment is one renderable unit in display order: the output item plus
	// the consumer-side lifecycle state and any metadata merged by patches.
	Segment struct {
		Item  run.OutputItem
		State run.ItemState
		Meta  map[string]any
	}

	// ToolCallView is the consumer-side record of a tool invocation within
	// a response.
	ToolCallView struct {
		ToolCallID string
		ToolName   string
		Args       map[string]any
		Status     run.ToolCallStatus
		Result     any
		Error      string
		// Completed reports whether the matching completed event arrived.
		Completed bool
	}

	// ResponseView is a snapshot of one response's reconciled state.
	ResponseView struct {
		ResponseID string
		RunID      string
		AgentID    string
		Segments   []Segment
		ToolCalls  []ToolCallView
		Usage      model.TokenUsage
		// Done reports that response_completed arrived.
		Done bool
		// Err is the response_error message, when the run failed.
		Err string
		// ChatID and Revision are set once response_saved arrives.
		ChatID   string
		Revision string
	}

	// Options configures an Engine.
	Options struct {
		// Logger receives reconciliation diagnostics. Defaults to the noop
		// logger.
		Logger telemetry.Logger
	}

	// Engine reconciles run events into per-response segment state. Safe
	// for concurrent use; all mutation happens under one mutex, which is
	// adequate because event application is cheap and bursts are small.
	Engine struct {
		mu        sync.Mutex
		logger    telemetry.Logger
		responses map[string]*responseState
		// index locates an item's response and slot by item id. Rebuilt
		// lazily per response on structural mutation.
		index map[string]itemRef
		// seen holds applied event ids per run for idempotent replay.
		seen map[string]map[string]struct{}
	}

	itemRef struct {
		responseID string
		pos        int
	}

	responseState struct {
		runID     string
		agentID   string
		segments  []Segment
		toolCalls []ToolCallView
		usage     model.TokenUsage
		done      bool
		errMsg    string
		chatID    string
		revision  string
	}
)

// NewEngine builds a reconciliation engine.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Engine{
		logger:    logger,
		responses: make(map[string]*responseState),
		index:     make(map[string]itemRef),
		seen:      make(map[string]map[string]struct{}),
	}
}

// Apply folds one event into the engine state. Applying the same event id
// twice is a no-op, so redelivered events are harmless. Events that
// reference an unknown item are logged and dropped; events of unknown type
// are ignored.
func (e *Engine) Apply(ctx context.Context, ev run.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	runSeen := e.seen[ev.RunID()]
	if runSeen == nil {
		runSeen = make(map[string]struct{})
		e.seen[ev.RunID()] = runSeen
	}
	if _, dup := runSeen[ev.EventID()]; dup {
		return
	}
	runSeen[ev.EventID()] = struct{}{}

	switch v := ev.(type) {
	case run.ResponseStarted:
		rs := e.response(v.Data.ResponseID, ev.RunID())
		rs.agentID = v.Data.AgentID
	case run.OutputItemCreated:
		e.applyCreated(ev.RunID(), v.Data)
	case run.OutputTextDelta:
		e.applyDelta(ctx, ev.RunID(), v.Data)
	case run.OutputTextCompleted:
		e.applyTextCompleted(ctx, ev.RunID(), v.Data)
	case run.OutputItemUpdated:
		e.applyUpdated(ctx, ev.RunID(), v.Data)
	case run.ToolCallStarted:
		rs := e.response(v.Data.ResponseID, ev.RunID())
		rs.toolCalls = append(rs.toolCalls, ToolCallView{
			ToolCallID: v.Data.ToolCallID,
			ToolName:   v.Data.ToolName,
			Args:       v.Data.Args,
		})
	case run.ToolCallCompleted:
		e.applyToolCompleted(ev.RunID(), v.Data)
	case run.ResponseCompleted:
		rs := e.response(v.Data.ResponseID, ev.RunID())
		rs.done = true
		rs.usage = v.Data.Usage
		e.finalizeOpenText(v.Data.ResponseID)
	case run.ResponseError:
		rs := e.response(v.Data.ResponseID, ev.RunID())
		rs.errMsg = v.Data.Message
		e.failOpenItems(v.Data.ResponseID)
	case run.ResponseSaved:
		rs := e.response(v.Data.ResponseID, ev.RunID())
		rs.chatID = v.Data.ChatID
		rs.revision = v.Data.Revision
	default:
		e.logger.Debug(ctx, "ignoring event of unknown type", "type", string(ev.Type()), "run_id", ev.RunID())
	}
}

// response returns the state for the given response id, creating it when
// the consumer attached mid-run and never saw response_started.
func (e *Engine) response(responseID, runID string) *responseState {
	rs := e.responses[responseID]
	if rs == nil {
		rs = &responseState{runID: runID}
		e.responses[responseID] = rs
	}
	return rs
}

func (e *Engine) applyCreated(runID string, p run.OutputItemCreatedPayload) {
	rs := e.response(p.ResponseID, runID)
	if _, exists := e.index[p.Item.ID]; exists {
		// Replayed creation with a fresh event id; identity wins.
		return
	}
	state := run.StatePending
	if p.Item.Type == run.ItemComponent {
		// Components arrive whole.
		state = run.StateCompleted
	}
	rs.segments = append(rs.segments, Segment{Item: p.Item, State: state})
	e.index[p.Item.ID] = itemRef{responseID: p.ResponseID, pos: len(rs.segments) - 1}
}

func (e *Engine) applyDelta(ctx context.Context, runID string, p run.OutputTextDeltaPayload) {
	seg := e.lookup(ctx, runID, p.ResponseID, p.ItemID, "output_text_delta")
	if seg == nil {
		return
	}
	seg.Item.Text += p.Delta
	if seg.State == run.StatePending || seg.State == run.StateStreaming {
		seg.State = run.StateStreaming
	}
}

func (e *Engine) applyTextCompleted(ctx context.Context, runID string, p run.OutputTextCompletedPayload) {
	seg := e.lookup(ctx, runID, p.ResponseID, p.ItemID, "output_text_completed")
	if seg == nil {
		return
	}
	seg.Item.Text = p.Text
	if seg.State != run.StateHidden && seg.State != run.StateError {
		seg.State = run.StateCompleted
	}
}

func (e *Engine) applyUpdated(ctx context.Context, runID string, p run.OutputItemUpdatedPayload) {
	seg := e.lookup(ctx, runID, p.ResponseID, p.ItemID, "output_item_updated")
	if seg == nil {
		return
	}
	if p.Patch.ReplaceWith != nil {
		// The replacement takes over the slot atomically; the old item is
		// never rendered without it. The patch state describes the replaced
		// item, so the replacement always lands completed.
		ref := e.index[seg.Item.ID]
		delete(e.index, seg.Item.ID)
		seg.Item = *p.Patch.ReplaceWith
		seg.State = run.StateCompleted
		e.index[seg.Item.ID] = ref
	} else if p.Patch.State != nil {
		seg.State = *p.Patch.State
	}
	if len(p.Patch.Meta) > 0 {
		if seg.Meta == nil {
			seg.Meta = make(map[string]any, len(p.Patch.Meta))
		}
		for k, v := range p.Patch.Meta {
			seg.Meta[k] = v
		}
	}
}

func (e *Engine) applyToolCompleted(runID string, p run.ToolCallCompletedPayload) {
	rs := e.response(p.ResponseID, runID)
	for i := range rs.toolCalls {
		if rs.toolCalls[i].ToolCallID != p.ToolCallID {
			continue
		}
		rs.toolCalls[i].Status = p.Status
		rs.toolCalls[i].Result = p.Result
		rs.toolCalls[i].Error = p.Error
		rs.toolCalls[i].Completed = true
		return
	}
	// Completed without a started event; record what we know.
	rs.toolCalls = append(rs.toolCalls, ToolCallView{
		ToolCallID: p.ToolCallID,
		ToolName:   p.ToolName,
		Status:     p.Status,
		Result:     p.Result,
		Error:      p.Error,
		Completed:  true,
	})
}

// lookup resolves an item reference, creating the response lazily but never
// the item: a patch for an item the engine has not seen is dropped with a
// warning rather than guessed at.
func (e *Engine) lookup(ctx context.Context, runID, responseID, itemID, eventType string) *Segment {
	e.response(responseID, runID)
	ref, ok := e.index[itemID]
	if !ok || ref.responseID != responseID {
		e.logger.Warn(ctx, "event references unknown item", "event", eventType, "item_id", itemID, "response_id", responseID)
		return nil
	}
	rs := e.responses[ref.responseID]
	if ref.pos >= len(rs.segments) {
		return nil
	}
	return &rs.segments[ref.pos]
}

func (e *Engine) finalizeOpenText(responseID string) {
	rs := e.responses[responseID]
	for i := range rs.segments {
		if rs.segments[i].State == run.StateStreaming {
			rs.segments[i].State = run.StateCompleted
		}
	}
}

func (e *Engine) failOpenItems(responseID string) {
	rs := e.responses[responseID]
	for i := range rs.segments {
		switch rs.segments[i].State {
		case run.StatePending, run.StateStreaming:
			rs.segments[i].State = run.StateError
		}
	}
}

// RenderSegments returns the response's visible segments in display order.
// Hidden segments are excluded; the returned slice is a copy safe to retain.
func (e *Engine) RenderSegments(responseID string) []Segment {
	e.mu.Lock()
	defer e.mu.Unlock()
	rs := e.responses[responseID]
	if rs == nil {
		return nil
	}
	out := make([]Segment, 0, len(rs.segments))
	for _, s := range rs.segments {
		if s.State == run.StateHidden {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Response returns a snapshot of the response's reconciled state, or false
// when the engine has not seen the response.
func (e *Engine) Response(responseID string) (ResponseView, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rs := e.responses[responseID]
	if rs == nil {
		return ResponseView{}, false
	}
	view := ResponseView{
		ResponseID: responseID,
		RunID:      rs.runID,
		AgentID:    rs.agentID,
		Segments:   make([]Segment, 0, len(rs.segments)),
		ToolCalls:  append([]ToolCallView(nil), rs.toolCalls...),
		Usage:      rs.usage,
		Done:       rs.done,
		Err:        rs.errMsg,
		ChatID:     rs.chatID,
		Revision:   rs.revision,
	}
	for _, s := range rs.segments {
		if s.State == run.StateHidden {
			continue
		}
		view.Segments = append(view.Segments, s)
	}
	return view, true
}

// ReleaseRun drops all state held for the given run: its responses, their
// index entries, and the dedup set. Call after the final event is rendered.
func (e *Engine) ReleaseRun(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.seen, runID)
	for id, rs := range e.responses {
		if rs.runID != runID {
			continue
		}
		for _, s := range rs.segments {
			delete(e.index, s.Item.ID)
		}
		delete(e.responses, id)
	}
}
