package reconcile

import (
	"strconv"

	"github.com/agentwire/agentwire/runtime/chat"
	"github.com/agentwire/agentwire/runtime/run"
)

// Rehydrate rebuilds the renderable segments of a persisted chat's
// assistant messages without replaying the run. It is a pure function of
// the chat document: placeholder tokens are expanded by re-decoding the
// stored tool result and applying its directives exactly as the live run
// did, so a rehydrated transcript renders the same segments the stream
// produced. Debug annotations are stripped; tokens whose tool result is
// missing or carries no directives expand to nothing, and a repeated token
// for the same call expands only once.
func Rehydrate(c *chat.Chat) []Segment {
	if c == nil {
		return nil
	}
	removed := removedComponents(c)
	expanded := make(map[string]bool)
	var out []Segment
	for i, msg := range c.Messages {
		if msg.Role != chat.RoleAssistant {
			continue
		}
		for j, tok := range run.ScanPlaceholders(msg.Text()) {
			if tok.ToolCallID == "" {
				out = append(out, textSegment(literalID(i, j), tok.Text, ""))
				continue
			}
			// First token for a call wins; duplicates expand to nothing.
			if expanded[tok.ToolCallID] {
				continue
			}
			expanded[tok.ToolCallID] = true
			out = append(out, expandToken(c, tok.ToolCallID, removed)...)
		}
	}
	return out
}

// removedComponents collects the component ids hidden by remove directives
// anywhere in the transcript, so tokens whose component was later removed
// do not resurrect it.
func removedComponents(c *chat.Chat) map[string]bool {
	var removed map[string]bool
	for _, m := range c.Messages {
		if m.Role != chat.RoleTool {
			continue
		}
		dir := run.DecodeToolPayload(m.Text()).Directives()
		if !dir.Remove {
			continue
		}
		if removed == nil {
			removed = make(map[string]bool)
		}
		removed[dir.RemoveComponentID] = true
	}
	return removed
}

// expandToken resolves one placeholder token against the chat's stored tool
// results and yields the segments its directives produce.
func expandToken(c *chat.Chat, toolCallID string, removed map[string]bool) []Segment {
	raw, ok := c.ToolResult(toolCallID)
	if !ok {
		return nil
	}
	decoded := run.DecodeToolPayload(raw)
	if _, structured := decoded.Structured(); !structured {
		return nil
	}
	dir := decoded.Directives()

	var out []Segment
	if dir.Remove {
		// The removed component stays gone; only the replacement text (and
		// any component the remover itself created) survives rehydration.
		if dir.Message != "" {
			out = append(out, textSegment(toolCallID+":replacement", dir.Message, toolCallID))
		}
		if dir.Component != nil && !removed[dir.ComponentID] {
			out = append(out, componentSegment(toolCallID, dir))
		}
		return out
	}
	if dir.Message != "" {
		out = append(out, textSegment(toolCallID+":message", dir.Message, toolCallID))
	}
	if dir.Component != nil && !removed[dir.ComponentID] {
		out = append(out, componentSegment(toolCallID, dir))
	}
	return out
}

func textSegment(id, text, toolCallID string) Segment {
	return Segment{
		Item:  run.OutputItem{ID: id, Type: run.ItemText, Text: text, ToolCallID: toolCallID},
		State: run.StateCompleted,
	}
}

func componentSegment(toolCallID string, dir run.Directives) Segment {
	id := dir.ComponentID
	if id == "" {
		id = toolCallID + ":component"
	}
	return Segment{
		Item: run.OutputItem{
			ID:         id,
			Type:       run.ItemComponent,
			Component:  dir.Component,
			ToolCallID: toolCallID,
		},
		State: run.StateCompleted,
	}
}

func literalID(msgIdx, tokIdx int) string {
	return "text:" + strconv.Itoa(msgIdx) + ":" + strconv.Itoa(tokIdx)
}
