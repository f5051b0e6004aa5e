package run

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireEnvelope is the on-the-wire frame: the event object nested under a
// single "event" key so that transports can extend the frame without
// touching the event schema.
type wireEnvelope struct {
	Event wireEvent `json:"event"`
}

// wireEvent is the serialized event: envelope metadata plus the typed
// payload as raw JSON.
type wireEvent struct {
	Type      EventType       `json:"type"`
	EventID   string          `json:"event_id"`
	RunID     string          `json:"run_id"`
	Sequence  uint64          `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// MarshalEvent serializes an event into its wire frame.
func MarshalEvent(ev Event) ([]byte, error) {
	var payload json.RawMessage
	if p := ev.Payload(); p != nil {
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", ev.Type(), err)
		}
		payload = b
	}
	return json.Marshal(wireEnvelope{Event: wireEvent{
		Type:      ev.Type(),
		EventID:   ev.EventID(),
		RunID:     ev.RunID(),
		Sequence:  ev.Sequence(),
		Timestamp: ev.Timestamp(),
		Payload:   payload,
	}})
}

// UnmarshalEvent deserializes a wire frame into a typed event. Events of an
// unrecognized type decode to Unknown with the raw payload preserved, so
// consumers built against an older schema keep working.
func UnmarshalEvent(data []byte) (Event, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event frame: %w", err)
	}
	w := env.Event
	if w.Type == "" {
		return nil, fmt.Errorf("decode event frame: missing type")
	}

	switch w.Type {
	case EventResponseStarted:
		var p ResponseStartedPayload
		if err := decodePayload(w, &p); err != nil {
			return nil, err
		}
		return ResponseStarted{Base: w.base(p), Data: p}, nil
	case EventOutputItemCreated:
		var p OutputItemCreatedPayload
		if err := decodePayload(w, &p); err != nil {
			return nil, err
		}
		return OutputItemCreated{Base: w.base(p), Data: p}, nil
	case EventOutputTextDelta:
		var p OutputTextDeltaPayload
		if err := decodePayload(w, &p); err != nil {
			return nil, err
		}
		return OutputTextDelta{Base: w.base(p), Data: p}, nil
	case EventOutputTextCompleted:
		var p OutputTextCompletedPayload
		if err := decodePayload(w, &p); err != nil {
			return nil, err
		}
		return OutputTextCompleted{Base: w.base(p), Data: p}, nil
	case EventOutputItemUpdated:
		var p OutputItemUpdatedPayload
		if err := decodePayload(w, &p); err != nil {
			return nil, err
		}
		return OutputItemUpdated{Base: w.base(p), Data: p}, nil
	case EventToolCallStarted:
		var p ToolCallStartedPayload
		if err := decodePayload(w, &p); err != nil {
			return nil, err
		}
		return ToolCallStarted{Base: w.base(p), Data: p}, nil
	case EventToolCallCompleted:
		var p ToolCallCompletedPayload
		if err := decodePayload(w, &p); err != nil {
			return nil, err
		}
		return ToolCallCompleted{Base: w.base(p), Data: p}, nil
	case EventResponseCompleted:
		var p ResponseCompletedPayload
		if err := decodePayload(w, &p); err != nil {
			return nil, err
		}
		return ResponseCompleted{Base: w.base(p), Data: p}, nil
	case EventResponseError:
		var p ResponseErrorPayload
		if err := decodePayload(w, &p); err != nil {
			return nil, err
		}
		return ResponseError{Base: w.base(p), Data: p}, nil
	case EventResponseSaved:
		var p ResponseSavedPayload
		if err := decodePayload(w, &p); err != nil {
			return nil, err
		}
		return ResponseSaved{Base: w.base(p), Data: p}, nil
	default:
		return Unknown{Base: w.base(w.Payload)}, nil
	}
}

func (w wireEvent) base(payload any) Base {
	return NewBase(w.Type, w.EventID, w.RunID, w.Sequence, w.Timestamp, payload)
}

func decodePayload(w wireEvent, dst any) error {
	if len(w.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(w.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", w.Type, err)
	}
	return nil
}
