// Package inmem provides an in-memory chat.Store for tests and local
// tooling. It honors the same optimistic revisioning semantics as the Mongo
// implementation.
package inmem

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/agentwire/agentwire/runtime/chat"
)

// Store is an in-memory implementation of chat.Store.
type Store struct {
	mu    sync.RWMutex
	chats map[string]entry
	// seq orders chats per agent in insertion-then-update order, standing
	// in for the updated_at sort of the Mongo store.
	seq  map[string]int64
	tick int64
}

type entry struct {
	chat     chat.Chat
	revision int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		chats: make(map[string]entry),
		seq:   make(map[string]int64),
	}
}

// Get loads a chat by id.
func (s *Store) Get(ctx context.Context, id string) (*chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.chats[id]
	if !ok {
		return nil, chat.ErrChatNotFound
	}
	out := cloneChat(e.chat)
	out.Revision = strconv.FormatInt(e.revision, 10)
	return &out, nil
}

// Put writes the chat and returns the new revision token. A stale revision
// returns chat.ErrRevisionConflict.
func (s *Store) Put(ctx context.Context, c *chat.Chat) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expected int64
	if c.Revision != "" {
		rev, err := strconv.ParseInt(c.Revision, 10, 64)
		if err != nil {
			return "", chat.ErrRevisionConflict
		}
		expected = rev
	}
	current, exists := s.chats[c.ID]
	if exists && current.revision != expected {
		return "", chat.ErrRevisionConflict
	}
	if !exists && expected != 0 {
		return "", chat.ErrRevisionConflict
	}
	next := expected + 1
	s.chats[c.ID] = entry{chat: cloneChat(*c), revision: next}
	s.tick++
	s.seq[c.ID] = s.tick
	return strconv.FormatInt(next, 10), nil
}

// Remove deletes the chat. Revision semantics match Put.
func (s *Store) Remove(ctx context.Context, c *chat.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.chats[c.ID]
	if !exists {
		return chat.ErrChatNotFound
	}
	if c.Revision != "" {
		rev, err := strconv.ParseInt(c.Revision, 10, 64)
		if err != nil || current.revision != rev {
			return chat.ErrRevisionConflict
		}
	}
	delete(s.chats, c.ID)
	delete(s.seq, c.ID)
	return nil
}

// ListByAgent returns the agent's chats, most recently updated first.
func (s *Store) ListByAgent(ctx context.Context, agentID string) ([]*chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*chat.Chat
	for _, e := range s.chats {
		if e.chat.AgentID != agentID {
			continue
		}
		c := cloneChat(e.chat)
		c.Revision = strconv.FormatInt(e.revision, 10)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.seq[out[i].ID] > s.seq[out[j].ID]
	})
	return out, nil
}

// Reset clears all stored chats (useful in tests).
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = make(map[string]entry)
	s.seq = make(map[string]int64)
	s.tick = 0
}

func cloneChat(c chat.Chat) chat.Chat {
	out := c
	out.Messages = append([]chat.Message(nil), c.Messages...)
	return out
}
