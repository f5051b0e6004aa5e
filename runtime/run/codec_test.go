package run

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentwire/agentwire/runtime/model"
)

func TestMarshalEventWireShape(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := OutputTextDeltaPayload{ResponseID: "resp-1", ItemID: "item-1", Delta: "hi"}
	ev := OutputTextDelta{Base: NewBase(EventOutputTextDelta, "ev-1", "run-1", 3, at, p), Data: p}

	data, err := MarshalEvent(ev)
	require.NoError(t, err)

	var frame map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &frame))
	require.Contains(t, frame, "event")

	var inner struct {
		Type     string          `json:"type"`
		EventID  string          `json:"event_id"`
		RunID    string          `json:"run_id"`
		Sequence uint64          `json:"sequence"`
		Payload  json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(frame["event"], &inner))
	require.Equal(t, "output_text_delta", inner.Type)
	require.Equal(t, "ev-1", inner.EventID)
	require.Equal(t, "run-1", inner.RunID)
	require.Equal(t, uint64(3), inner.Sequence)

	var payload OutputTextDeltaPayload
	require.NoError(t, json.Unmarshal(inner.Payload, &payload))
	require.Equal(t, p, payload)
}

func TestUnmarshalEventRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := ResponseCompletedPayload{ResponseID: "resp-1", Usage: model.TokenUsage{InputTokens: 5, OutputTokens: 7, TotalTokens: 12}}
	ev := ResponseCompleted{Base: NewBase(EventResponseCompleted, "ev-9", "run-1", 8, at, p), Data: p}

	data, err := MarshalEvent(ev)
	require.NoError(t, err)

	decoded, err := UnmarshalEvent(data)
	require.NoError(t, err)
	typed, ok := decoded.(ResponseCompleted)
	require.True(t, ok)
	require.Equal(t, EventResponseCompleted, typed.Type())
	require.Equal(t, "ev-9", typed.EventID())
	require.Equal(t, "run-1", typed.RunID())
	require.Equal(t, uint64(8), typed.Sequence())
	require.True(t, typed.Timestamp().Equal(at))
	require.Equal(t, p, typed.Data)
}

func TestUnmarshalEventToolCallCompleted(t *testing.T) {
	raw := `{"event":{"type":"tool_call_completed","event_id":"e1","run_id":"r1","sequence":4,` +
		`"timestamp":"2026-03-01T12:00:00Z",` +
		`"payload":{"response_id":"resp","tool_call_id":"tc-1","tool_name":"lookup","status":"error","error":"boom"}}}`
	decoded, err := UnmarshalEvent([]byte(raw))
	require.NoError(t, err)
	typed, ok := decoded.(ToolCallCompleted)
	require.True(t, ok)
	require.Equal(t, ToolCallError, typed.Data.Status)
	require.Equal(t, "boom", typed.Data.Error)
	require.Nil(t, typed.Data.Result)
}

func TestUnmarshalEventUnknownTypeTolerated(t *testing.T) {
	raw := `{"event":{"type":"response_annotated","event_id":"e2","run_id":"r1","sequence":9,` +
		`"timestamp":"2026-03-01T12:00:00Z","payload":{"note":"future"}}}`
	decoded, err := UnmarshalEvent([]byte(raw))
	require.NoError(t, err)
	_, ok := decoded.(Unknown)
	require.True(t, ok)
	require.Equal(t, EventType("response_annotated"), decoded.Type())
	require.Equal(t, uint64(9), decoded.Sequence())
}

func TestUnmarshalEventRejectsGarbage(t *testing.T) {
	_, err := UnmarshalEvent([]byte("not json"))
	require.Error(t, err)

	_, err = UnmarshalEvent([]byte(`{"event":{}}`))
	require.Error(t, err)
}
