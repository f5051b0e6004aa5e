// Package transcript persists completed runs as chat documents: it mints
// chat identity on first save, generates a title with a small model, appends
// the debug annotation describing tool-call parameters, and writes through
// the configured chat store.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentwire/agentwire/runtime/chat"
	"github.com/agentwire/agentwire/runtime/model"
	"github.com/agentwire/agentwire/runtime/run"
	"github.com/agentwire/agentwire/runtime/telemetry"
)

type (
	// Options configures a Persister.
	Options struct {
		// Store is the chat document store. Required.
		Store chat.Store
		// Titler generates chat titles for first saves. Optional; when nil,
		// or when generation fails, chats are saved with an empty title.
		Titler model.Client
		// TitleModel names the model used for title generation. Defaults to
		// a small, fast model chosen by the adapter when empty.
		TitleModel string
		// TitleTimeout bounds title generation. Defaults to 10 seconds.
		TitleTimeout time.Duration
		// DisableAnnotation suppresses the human-readable tool-call summary
		// appended to the assistant message.
		DisableAnnotation bool
		// Logger receives persistence diagnostics. Defaults to the noop
		// logger.
		Logger telemetry.Logger
		// NewID mints chat identifiers. Defaults to uuid.NewString.
		NewID func() string
	}

	// Persister implements run.Persister on top of a chat store.
	Persister struct {
		store        chat.Store
		titler       model.Client
		titleModel   string
		titleTimeout time.Duration
		annotate     bool
		logger       telemetry.Logger
		newID        func() string
	}
)

const titlePrompt = "Write a short title (at most six words) for a conversation that starts with the following message. Reply with the title only, no quotes.\n\n"

// NewPersister builds a Persister. The Store field is required.
func NewPersister(opts Options) (*Persister, error) {
	if opts.Store == nil {
		return nil, errors.New("chat store is required")
	}
	p := &Persister{
		store:        opts.Store,
		titler:       opts.Titler,
		titleModel:   opts.TitleModel,
		titleTimeout: opts.TitleTimeout,
		annotate:     !opts.DisableAnnotation,
		logger:       opts.Logger,
		newID:        opts.NewID,
	}
	if p.titleTimeout <= 0 {
		p.titleTimeout = 10 * time.Second
	}
	if p.logger == nil {
		p.logger = telemetry.NewNoopLogger()
	}
	if p.newID == nil {
		p.newID = uuid.NewString
	}
	return p, nil
}

// Persist writes the final message list to the chat document and returns
// the saved reference. A nil chat starts a new document. Title generation
// failures are logged and produce an empty title; only store errors fail
// the save.
func (p *Persister) Persist(ctx context.Context, c *chat.Chat, finalMessages []chat.Message) (run.SavedRef, error) {
	if c == nil {
		c = &chat.Chat{}
	}
	if c.ID == "" {
		c.ID = p.newID()
	}
	if c.Title == "" {
		c.Title = p.generateTitle(ctx, finalMessages)
	}
	c.Messages = finalMessages
	if p.annotate {
		p.annotateAssistant(c)
	}
	rev, err := p.store.Put(ctx, c)
	if err != nil {
		return run.SavedRef{}, fmt.Errorf("put chat %s: %w", c.ID, err)
	}
	c.Revision = rev
	return run.SavedRef{ChatID: c.ID, Revision: rev}, nil
}

// generateTitle asks the title model to summarize the first user turn.
// Best effort: any failure yields an empty title, which is a valid state.
func (p *Persister) generateTitle(ctx context.Context, msgs []chat.Message) string {
	if p.titler == nil {
		return ""
	}
	var first string
	for _, m := range msgs {
		if m.Role == chat.RoleUser {
			first = m.Text()
			break
		}
	}
	if first == "" {
		return ""
	}
	tctx, cancel := context.WithTimeout(ctx, p.titleTimeout)
	defer cancel()
	resp, err := p.titler.Complete(tctx, model.Request{
		Model:     p.titleModel,
		Messages:  []chat.Message{{Role: chat.RoleUser, Content: titlePrompt + first}},
		MaxTokens: 32,
	})
	if err != nil {
		p.logger.Warn(ctx, "title generation failed", "err", err)
		return ""
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(resp.Text), `"`))
}

// annotateAssistant appends the tool-call parameter summary to the last
// assistant message. The annotation sits after the marker and is stripped
// by the rehydration scanner; it exists for humans reading raw documents.
func (p *Persister) annotateAssistant(c *chat.Chat) {
	last := -1
	for i := range c.Messages {
		if c.Messages[i].Role == chat.RoleAssistant {
			last = i
		}
	}
	if last < 0 {
		return
	}
	var calls []string
	for _, m := range c.Messages[last:] {
		if m.Role != chat.RoleTool || m.ToolName == "" {
			continue
		}
		args := m.ToolArgs
		if args == "" {
			args = "{}"
		}
		calls = append(calls, fmt.Sprintf("- %s %s", m.ToolName, args))
	}
	if len(calls) == 0 {
		return
	}
	msg := &c.Messages[last]
	msg.Content = msg.Text() + run.AnnotationMarker + "\n" + strings.Join(calls, "\n")
	msg.Parts = nil
}
