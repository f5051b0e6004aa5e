// Package mongo exposes a chat.Store implementation backed by MongoDB. It
// mirrors the layering used by other persistence features: services build a
// Mongo client, wrap it in the feature client, and hand the resulting store
// to the transcript persister.
package mongo

import (
	"context"
	"errors"

	clientsmongo "github.com/agentwire/agentwire/features/chat/mongo/clients/mongo"
	"github.com/agentwire/agentwire/runtime/chat"
)

// Store implements chat.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Get loads a chat by id.
func (s *Store) Get(ctx context.Context, id string) (*chat.Chat, error) {
	return s.client.GetChat(ctx, id)
}

// Put writes the chat and returns the new revision token.
func (s *Store) Put(ctx context.Context, c *chat.Chat) (string, error) {
	return s.client.PutChat(ctx, c)
}

// Remove deletes the chat.
func (s *Store) Remove(ctx context.Context, c *chat.Chat) error {
	return s.client.RemoveChat(ctx, c)
}

// ListByAgent returns the agent's chats, most recently updated first.
func (s *Store) ListByAgent(ctx context.Context, agentID string) ([]*chat.Chat, error) {
	return s.client.ListChatsByAgent(ctx, agentID)
}
