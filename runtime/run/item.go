package run

type (
	// ItemType discriminates the two renderable output item variants.
	ItemType string

	// ItemState tracks an output item's lifecycle on the consumer side.
	// Text items move pending → streaming → completed; component items move
	// pending → completed since they arrive whole. Hidden and error are
	// terminal side-paths reachable from any non-terminal state.
	ItemState string

	// OutputItem is a renderable unit of assistant output. Identity is the
	// stable ID, unique within the conversation: later patches join on it
	// and it never changes for the item's lifetime. Text content may be
	// amended in place by delta/completed events.
	OutputItem struct {
		// ID uniquely identifies the item within the conversation.
		ID string `json:"id"`
		// Type is ItemText or ItemComponent.
		Type ItemType `json:"type"`
		// Text is the textual content for text items.
		Text string `json:"text,omitempty"`
		// Component is the opaque UI payload for component items.
		Component map[string]any `json:"component,omitempty"`
		// ToolCallID records the tool invocation that synthesized the item.
		// Empty for items created from streamed text.
		ToolCallID string `json:"tool_call_id,omitempty"`
	}

	// OutputItemPatch is a partial update to an existing item. Patches are
	// idempotent when replayed with the same content but not commutative:
	// state and replacement interact (hide-and-replace is one atomic patch).
	OutputItemPatch struct {
		// State is the new lifecycle state, when present.
		State *ItemState `json:"state,omitempty"`
		// Meta is merged into the item's metadata, when present.
		Meta map[string]any `json:"meta,omitempty"`
		// ReplaceWith substitutes a brand-new item (new id, new type
		// permitted) that takes over rendering in the same slot.
		ReplaceWith *OutputItem `json:"replace_with,omitempty"`
	}
)

// Output item types.
const (
	ItemText      ItemType = "text"
	ItemComponent ItemType = "component"
)

// Output item lifecycle states.
const (
	StatePending   ItemState = "pending"
	StateStreaming ItemState = "streaming"
	StateCompleted ItemState = "completed"
	StateHidden    ItemState = "hidden"
	StateError     ItemState = "error"
)

// StatePtr returns a pointer to the given state, for patch construction.
func StatePtr(s ItemState) *ItemState { return &s }
