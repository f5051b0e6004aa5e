// Package pulse publishes run events to goa.design/pulse streams and
// consumes them back. It mirrors the layering used by existing Pulse
// deployments: services build a Redis client, pass it to the Pulse client,
// and hand the resulting sink to the run emitter's fan-out.
package pulse

import (
	"context"
	"errors"
	"fmt"

	clientspulse "github.com/agentwire/agentwire/features/stream/pulse/clients/pulse"
	"github.com/agentwire/agentwire/runtime/run"
)

type (
	// Options configures the Pulse sink.
	Options struct {
		// Client is the Pulse client used to publish events. Required.
		Client clientspulse.Client
		// StreamID derives the target Pulse stream from an event. Defaults
		// to `run/<RunID>`.
		StreamID func(run.Event) (string, error)
		// Marshal overrides the event serialization (primarily for tests).
		Marshal func(run.Event) ([]byte, error)
	}

	// Sink publishes run events into Pulse streams. Thread-safe for
	// concurrent Send operations.
	Sink struct {
		client clientspulse.Client
		opts   sinkOptions
	}

	sinkOptions struct {
		streamID func(run.Event) (string, error)
		marshal  func(run.Event) ([]byte, error)
	}
)

// NewSink constructs a Pulse-backed event sink. The Client field in opts is
// required; StreamID and Marshal default to the built-in implementations.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	cfg := sinkOptions{
		streamID: defaultStreamID,
		marshal:  run.MarshalEvent,
	}
	if opts.StreamID != nil {
		cfg.streamID = opts.StreamID
	}
	if opts.Marshal != nil {
		cfg.marshal = opts.Marshal
	}
	return &Sink{
		client: opts.Client,
		opts:   cfg,
	}, nil
}

// Send publishes the event to the derived Pulse stream: it derives the
// stream ID, marshals the wire frame, and publishes it via the Pulse
// client. Thread-safe for concurrent calls.
func (s *Sink) Send(ctx context.Context, event run.Event) error {
	streamID, err := s.opts.streamID(event)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(streamID)
	if err != nil {
		return err
	}
	payload, err := s.opts.marshal(event)
	if err != nil {
		return err
	}
	if _, err := handle.Add(ctx, string(event.Type()), payload); err != nil {
		return err
	}
	return nil
}

// Close releases resources owned by the sink. This delegates to the
// underlying Pulse client, which may or may not close the Redis connection
// depending on the client implementation.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// defaultStreamID derives the Pulse stream name from the event's RunID.
// Returns an error if the RunID is empty.
func defaultStreamID(event run.Event) (string, error) {
	if event.RunID() == "" {
		return "", errors.New("run event missing run id")
	}
	return fmt.Sprintf("run/%s", event.RunID()), nil
}
