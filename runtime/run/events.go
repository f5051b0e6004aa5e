// Package run implements the agent run streaming protocol: the typed event
// schema, the per-run emitter that translates normalized provider chunks
// into strictly ordered events, and the tool-result decoder that extracts
// segment directives from raw tool payloads.
//
// A run is one attempt to answer a user turn. It owns a monotonically
// increasing sequence counter; every emitted event carries a globally unique
// event id (consumer dedup), the run id, the sequence assigned at emission
// time, and a UTC timestamp. Within a run, response_started is always
// sequence 0 and the earliest event, exactly one of response_completed or
// response_error is the last non-saved event, and response_saved (when
// present) follows response_completed.
package run

import (
	"time"

	"github.com/agentwire/agentwire/runtime/model"
)

type (
	// Event describes a protocol event delivered to consumers. All concrete
	// event types embed Base for the envelope metadata; sinks marshal events
	// generically through the interface while consumers type-assert for
	// structured field access.
	//
	// Events are immutable after construction and safe to send concurrently.
	Event interface {
		// Type returns the event type constant.
		Type() EventType
		// EventID returns the globally unique event identifier used for
		// client-side deduplication.
		EventID() string
		// RunID returns the run that produced this event.
		RunID() string
		// Sequence returns the sequence number assigned at emission time.
		// Strictly increasing within a run; gaps allowed; never repeated.
		Sequence() uint64
		// Timestamp returns the emission time (UTC).
		Timestamp() time.Time
		// Payload returns the event-specific data in JSON-serializable form.
		Payload() any
	}

	// ResponseStarted opens a run. Always sequence 0 and emitted before any
	// provider output is consumed.
	ResponseStarted struct {
		Base
		Data ResponseStartedPayload
	}

	// OutputItemCreated announces a new renderable output item.
	OutputItemCreated struct {
		Base
		Data OutputItemCreatedPayload
	}

	// OutputTextDelta appends streamed text to an existing text item.
	OutputTextDelta struct {
		Base
		Data OutputTextDeltaPayload
	}

	// OutputTextCompleted finalizes a text item with its full text.
	OutputTextCompleted struct {
		Base
		Data OutputTextCompletedPayload
	}

	// OutputItemUpdated patches an existing item: state transition, metadata
	// merge, and/or atomic replacement in the same slot.
	OutputItemUpdated struct {
		Base
		Data OutputItemUpdatedPayload
	}

	// ToolCallStarted announces a tool invocation requested by the model.
	ToolCallStarted struct {
		Base
		Data ToolCallStartedPayload
	}

	// ToolCallCompleted reports the outcome of a tool invocation. Result and
	// Error are mutually exclusive.
	ToolCallCompleted struct {
		Base
		Data ToolCallCompletedPayload
	}

	// ResponseCompleted terminates a successful run with total token usage.
	ResponseCompleted struct {
		Base
		Data ResponseCompletedPayload
	}

	// ResponseError terminates a run deterministically: exactly one is
	// emitted on any fatal failure and no further events follow for the run,
	// except that a persistence failure after response_completed also
	// surfaces as a ResponseError.
	ResponseError struct {
		Base
		Data ResponseErrorPayload
	}

	// ResponseSaved reports successful persistence of the completed run.
	// Always follows ResponseCompleted.
	ResponseSaved struct {
		Base
		Data ResponseSavedPayload
	}

	// Unknown preserves an event of an unrecognized type decoded from the
	// wire. Consumers must tolerate and ignore it.
	Unknown struct {
		Base
	}

	// ResponseStartedPayload carries the response identity and run metadata.
	ResponseStartedPayload struct {
		// ResponseID identifies the single assistant response this run
		// produces.
		ResponseID string `json:"response_id"`
		// AgentID identifies the agent executing the run.
		AgentID string `json:"agent_id,omitempty"`
	}

	// OutputItemCreatedPayload announces a new item within a response.
	OutputItemCreatedPayload struct {
		// ResponseID routes the item without requiring that the consumer
		// observed response_started first.
		ResponseID string `json:"response_id"`
		// Item is the created output item.
		Item OutputItem `json:"item"`
	}

	// OutputTextDeltaPayload is an incremental text fragment.
	OutputTextDeltaPayload struct {
		ResponseID string `json:"response_id"`
		// ItemID identifies the text item the delta extends.
		ItemID string `json:"item_id"`
		// Delta is the text fragment to append.
		Delta string `json:"delta"`
	}

	// OutputTextCompletedPayload finalizes a text item.
	OutputTextCompletedPayload struct {
		ResponseID string `json:"response_id"`
		ItemID     string `json:"item_id"`
		// Text is the full final text, replacing any accumulated deltas.
		Text string `json:"text"`
	}

	// OutputItemUpdatedPayload patches an existing item.
	OutputItemUpdatedPayload struct {
		ResponseID string `json:"response_id"`
		ItemID     string `json:"item_id"`
		// Patch is the partial update to apply.
		Patch OutputItemPatch `json:"patch"`
	}

	// ToolCallStartedPayload announces a tool invocation.
	ToolCallStartedPayload struct {
		ResponseID string `json:"response_id"`
		// ToolCallID uniquely identifies the invocation; the matching
		// ToolCallCompleted event carries the same id.
		ToolCallID string `json:"tool_call_id"`
		// ToolName is the tool identifier.
		ToolName string `json:"tool_name"`
		// Args is the decoded arguments mapping. When the raw arguments do
		// not decode to an object the raw string is wrapped under a "raw"
		// key rather than failing the run.
		Args map[string]any `json:"args,omitempty"`
	}

	// ToolCallCompletedPayload reports a tool invocation outcome.
	ToolCallCompletedPayload struct {
		ResponseID string `json:"response_id"`
		ToolCallID string `json:"tool_call_id"`
		ToolName   string `json:"tool_name"`
		// Status is "success" or "error".
		Status ToolCallStatus `json:"status"`
		// Result is the decoded result object, or the raw string when the
		// result did not decode. Nil on error.
		Result any `json:"result,omitempty"`
		// Error is the failure description. Empty on success.
		Error string `json:"error,omitempty"`
	}

	// ResponseCompletedPayload closes a successful run.
	ResponseCompletedPayload struct {
		ResponseID string `json:"response_id"`
		// Usage is the total token usage for the run.
		Usage model.TokenUsage `json:"usage"`
	}

	// ResponseErrorPayload reports a fatal run failure.
	ResponseErrorPayload struct {
		ResponseID string `json:"response_id,omitempty"`
		// Message is a user-safe failure description.
		Message string `json:"message"`
		// Retryable advises whether retrying the turn may succeed without
		// changes.
		Retryable bool `json:"retryable"`
	}

	// ResponseSavedPayload reports successful persistence.
	ResponseSavedPayload struct {
		ResponseID string `json:"response_id"`
		// ChatID is the persisted chat document id.
		ChatID string `json:"chat_id"`
		// Revision is the store's new revision token. Omitted when the
		// store does not report one.
		Revision string `json:"revision,omitempty"`
	}

	// Base provides the envelope shared by all event types. Fields are
	// unexported; construct with NewBase and read through the Event
	// interface.
	Base struct {
		t   EventType
		id  string
		run string
		seq uint64
		at  time.Time
		p   any
	}
)

// EventType enumerates protocol event kinds.
type EventType string

// Protocol event types.
const (
	EventResponseStarted     EventType = "response_started"
	EventOutputItemCreated   EventType = "output_item_created"
	EventOutputTextDelta     EventType = "output_text_delta"
	EventOutputTextCompleted EventType = "output_text_completed"
	EventOutputItemUpdated   EventType = "output_item_updated"
	EventToolCallStarted     EventType = "tool_call_started"
	EventToolCallCompleted   EventType = "tool_call_completed"
	EventResponseCompleted   EventType = "response_completed"
	EventResponseError       EventType = "response_error"
	EventResponseSaved       EventType = "response_saved"
)

// ToolCallStatus is the outcome of a tool invocation.
type ToolCallStatus string

// Tool call outcomes.
const (
	ToolCallSuccess ToolCallStatus = "success"
	ToolCallError   ToolCallStatus = "error"
)

// NewBase constructs an event envelope.
func NewBase(t EventType, eventID, runID string, seq uint64, at time.Time, payload any) Base {
	return Base{t: t, id: eventID, run: runID, seq: seq, at: at, p: payload}
}

// Type implements Event.Type.
func (e Base) Type() EventType { return e.t }

// EventID implements Event.EventID.
func (e Base) EventID() string { return e.id }

// RunID implements Event.RunID.
func (e Base) RunID() string { return e.run }

// Sequence implements Event.Sequence.
func (e Base) Sequence() uint64 { return e.seq }

// Timestamp implements Event.Timestamp.
func (e Base) Timestamp() time.Time { return e.at }

// Payload implements Event.Payload.
func (e Base) Payload() any { return e.p }
