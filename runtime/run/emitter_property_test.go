package run

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/agentwire/agentwire/runtime/model"
)

// buildRunScript turns a slice of action codes into a provider chunk script.
// Codes map to streamed text, directive-carrying tool calls, and removals of
// previously created components, so generated runs cover the directive
// combinations a real provider can produce.
func buildRunScript(codes []int, endErr bool) []model.Chunk {
	texts := []string{"alpha", "beta gamma", "delta"}
	var chunks []model.Chunk
	var open []string
	tool := 0
	nextCall := func() string {
		tool++
		return fmt.Sprintf("tc-%d", tool)
	}
	for _, code := range codes {
		switch code % 6 {
		case 0, 1:
			chunks = append(chunks, model.Chunk{Kind: model.ChunkContent, Content: texts[code%len(texts)]})
		case 2:
			id := nextCall()
			raw := fmt.Sprintf(`{"message":"note %s"}`, id)
			chunks = append(chunks, toolPair(id, "notify", raw)...)
		case 3:
			id := nextCall()
			comp := "comp-" + id
			raw := fmt.Sprintf(`{"component":{"componentId":%q,"kind":"card"}}`, comp)
			chunks = append(chunks, toolPair(id, "card", raw)...)
			open = append(open, comp)
		case 4:
			id := nextCall()
			comp := "comp-" + id
			raw := fmt.Sprintf(`{"message":"made %s","component":{"componentId":%q,"kind":"form"}}`, id, comp)
			chunks = append(chunks, toolPair(id, "form", raw)...)
			open = append(open, comp)
		case 5:
			id := nextCall()
			if len(open) == 0 {
				chunks = append(chunks,
					model.Chunk{Kind: model.ChunkToolCallStart, ToolCall: &model.ToolCall{ID: id, Name: "lookup", RawArgs: "{}"}},
					model.Chunk{Kind: model.ChunkToolCallResult, ToolResult: &model.ToolResult{ID: id, Name: "lookup", Err: "backend unavailable"}},
				)
				continue
			}
			comp := open[len(open)-1]
			open = open[:len(open)-1]
			raw := fmt.Sprintf(`{"removeComponentMessage":true,"componentId":%q,"message":"done %s"}`, comp, id)
			chunks = append(chunks, toolPair(id, "submit", raw)...)
		}
	}
	if endErr {
		chunks = append(chunks, model.Chunk{Kind: model.ChunkError, ErrorMessage: "overloaded"})
	} else {
		chunks = append(chunks, model.Chunk{Kind: model.ChunkDone, Done: &model.Done{}})
	}
	return chunks
}

func toolPair(id, name, raw string) []model.Chunk {
	return []model.Chunk{
		{Kind: model.ChunkToolCallStart, ToolCall: &model.ToolCall{ID: id, Name: name, RawArgs: "{}"}},
		{Kind: model.ChunkToolCallResult, ToolResult: &model.ToolResult{ID: id, Name: name, Raw: raw}},
	}
}

func drainRun(e *Emitter) []Event {
	events, err := e.StartRun(context.Background(), Input{Messages: userTurn("go")})
	if err != nil {
		return nil
	}
	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	return got
}

// TestRunSequenceOrderingProperty verifies that for any chunk script every
// run opens with response_started at sequence zero, carries one run id,
// assigns strictly increasing sequences, and never reuses an event id.
func TestRunSequenceOrderingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("events are strictly ordered with unique ids", prop.ForAll(
		func(codes []int, endErr bool) bool {
			client := &scriptClient{chunks: buildRunScript(codes, endErr)}
			e, err := NewEmitter(Options{Client: client})
			if err != nil {
				return false
			}
			got := drainRun(e)
			if len(got) == 0 {
				return false
			}
			if got[0].Type() != EventResponseStarted || got[0].Sequence() != 0 {
				return false
			}
			seen := make(map[string]bool)
			for i, ev := range got {
				if ev.RunID() != got[0].RunID() {
					return false
				}
				if seen[ev.EventID()] {
					return false
				}
				seen[ev.EventID()] = true
				if i > 0 && ev.Sequence() <= got[i-1].Sequence() {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 5)),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// TestRunTerminalEventProperty verifies that for any chunk script exactly one
// of response_completed or response_error terminates the run, response_saved
// only ever follows response_completed, and a failed run never persists.
func TestRunTerminalEventProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("one terminal event, persistence only on success", prop.ForAll(
		func(codes []int, endErr bool) bool {
			client := &scriptClient{chunks: buildRunScript(codes, endErr)}
			persister := &capturePersister{ref: SavedRef{ChatID: "chat-1", Revision: "1"}}
			e, err := NewEmitter(Options{Client: client, Persister: persister})
			if err != nil {
				return false
			}
			got := drainRun(e)
			if len(got) == 0 {
				return false
			}
			starts, completed, failed, saved := 0, 0, 0, 0
			for _, ev := range got {
				switch ev.Type() {
				case EventResponseStarted:
					starts++
				case EventResponseCompleted:
					completed++
				case EventResponseError:
					failed++
				case EventResponseSaved:
					saved++
				}
			}
			if starts != 1 || completed+failed != 1 {
				return false
			}
			if endErr {
				return failed == 1 && saved == 0 && persister.calls == 0 &&
					got[len(got)-1].Type() == EventResponseError
			}
			return completed == 1 && saved == 1 && persister.calls == 1 &&
				got[len(got)-1].Type() == EventResponseSaved &&
				got[len(got)-2].Type() == EventResponseCompleted
		},
		gen.SliceOf(gen.IntRange(0, 5)),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
