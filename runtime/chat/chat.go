// Package chat defines the conversation document model shared by the run
// emitter, the transcript persister and the reconciliation engine, together
// with the contract of the backing document store. The document store is an
// external collaborator: implementations live under features/chat and must
// honor the optimistic revisioning semantics described on Store.
package chat

import (
	"context"
	"errors"
	"strings"
)

type (
	// Role identifies the author of a conversation message.
	Role string

	// Chat is the persisted conversation document. The message list is
	// ordered; assistant messages encode component segments as placeholder
	// tokens that are resolved against tool messages at rehydration time.
	Chat struct {
		// ID uniquely identifies the chat. Empty until the first save, at
		// which point the persister mints one.
		ID string `json:"id" bson:"chat_id"`
		// Revision is the store's opaque revision token. Empty for chats
		// that have never been saved, or when the store does not report
		// revisions. Stores reject writes carrying a stale revision.
		Revision string `json:"revision,omitempty" bson:"revision,omitempty"`
		// AgentID identifies the agent that owns the conversation.
		AgentID string `json:"agent_id" bson:"agent_id"`
		// Title is the human-readable chat title. Empty until title
		// generation succeeds; an empty title is a valid persisted state.
		Title string `json:"title,omitempty" bson:"title,omitempty"`
		// Messages is the ordered conversation transcript.
		Messages []Message `json:"messages" bson:"messages"`
	}

	// Message is a single conversation entry. Tool messages carry the
	// tool_call_id of the invocation they answer and either a plain string
	// content or multi-part content whose text parts are concatenated for
	// decoding.
	Message struct {
		// Role is one of RoleUser, RoleAssistant, RoleSystem, RoleTool.
		Role Role `json:"role" bson:"role"`
		// Content is the textual message body. May be empty when Parts is
		// used instead.
		Content string `json:"content,omitempty" bson:"content,omitempty"`
		// Parts carries multi-part content. Only text parts participate in
		// tool-result decoding.
		Parts []Part `json:"parts,omitempty" bson:"parts,omitempty"`
		// ToolCallID links a tool message to the tool invocation it answers.
		// Empty for non-tool messages.
		ToolCallID string `json:"tool_call_id,omitempty" bson:"tool_call_id,omitempty"`
		// ToolName records the tool that produced a tool message. Informational.
		ToolName string `json:"tool_name,omitempty" bson:"tool_name,omitempty"`
		// ToolArgs is the raw argument JSON of the invocation a tool message
		// answers. Kept for audit annotation; never decoded on rehydration.
		ToolArgs string `json:"tool_args,omitempty" bson:"tool_args,omitempty"`
	}

	// Part is one element of multi-part message content.
	Part struct {
		// Type discriminates part kinds; only "text" is interpreted here.
		Type string `json:"type" bson:"type"`
		// Text is the part body when Type is "text".
		Text string `json:"text,omitempty" bson:"text,omitempty"`
	}

	// Store is the document store contract consumed by the persister and the
	// rehydration path. Implementations signal optimistic revision conflicts
	// by returning ErrRevisionConflict from Put and Remove.
	Store interface {
		// Get loads a chat by id. Returns ErrChatNotFound when absent.
		Get(ctx context.Context, id string) (*Chat, error)
		// Put writes the chat and returns the store's new revision token,
		// or an empty string when the store does not track revisions. The
		// chat's Revision field must match the stored revision or be empty
		// for a first write; a mismatch returns ErrRevisionConflict.
		Put(ctx context.Context, c *Chat) (string, error)
		// Remove deletes the chat. Revision semantics match Put.
		Remove(ctx context.Context, c *Chat) error
		// ListByAgent returns all chats owned by the agent, most recently
		// updated first.
		ListByAgent(ctx context.Context, agentID string) ([]*Chat, error)
	}
)

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

var (
	// ErrChatNotFound is returned by Store.Get for unknown chat ids.
	ErrChatNotFound = errors.New("chat: not found")
	// ErrRevisionConflict is returned by Store.Put and Store.Remove when the
	// provided revision is stale.
	ErrRevisionConflict = errors.New("chat: revision conflict")
)

// Text returns the textual content of the message: Content when set,
// otherwise the concatenation of all text parts in order.
func (m Message) Text() string {
	if m.Content != "" {
		return m.Content
	}
	if len(m.Parts) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ToolResult returns the stored raw result for the given tool call id and
// whether a matching tool message exists. Later messages win when duplicated.
func (c *Chat) ToolResult(toolCallID string) (string, bool) {
	found := false
	var raw string
	for _, m := range c.Messages {
		if m.Role == RoleTool && m.ToolCallID == toolCallID {
			raw = m.Text()
			found = true
		}
	}
	return raw, found
}
