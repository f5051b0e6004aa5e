// Command agentwire runs a single agent turn against Anthropic, streams the
// run events through the reconciliation engine, and prints the rendered
// segments. It exercises the full pipeline: model streaming, tool directives,
// persistence (in-memory or MongoDB) and optional Pulse fan-out over Redis.
//
// Usage:
//
//	ANTHROPIC_API_KEY=... agentwire -prompt "What time is it?"
//
// Set MONGO_URL to persist chats in MongoDB and REDIS_URL to additionally
// publish run events to a Pulse stream.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"goa.design/clue/health"
	"goa.design/clue/log"

	chatmongo "github.com/agentwire/agentwire/features/chat/mongo"
	clientsmongo "github.com/agentwire/agentwire/features/chat/mongo/clients/mongo"
	"github.com/agentwire/agentwire/features/chat/mongo/clients/mongo/inmem"
	"github.com/agentwire/agentwire/features/model/anthropic"
	streampulse "github.com/agentwire/agentwire/features/stream/pulse"
	clientspulse "github.com/agentwire/agentwire/features/stream/pulse/clients/pulse"
	"github.com/agentwire/agentwire/runtime/chat"
	"github.com/agentwire/agentwire/runtime/model"
	"github.com/agentwire/agentwire/runtime/reconcile"
	"github.com/agentwire/agentwire/runtime/run"
	"github.com/agentwire/agentwire/runtime/telemetry"
	"github.com/agentwire/agentwire/runtime/transcript"
)

func main() {
	var (
		modelF  = flag.String("model", "claude-sonnet-4-20250514", "Claude model identifier")
		promptF = flag.String("prompt", "What time is it right now?", "User prompt for the run")
		agentF  = flag.String("agent", "demo.assistant", "Agent identifier recorded on the run")
		dbgF    = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	if err := realMain(ctx, *modelF, *promptF, *agentF); err != nil {
		log.Fatal(ctx, err)
	}
}

func realMain(ctx context.Context, modelID, prompt, agentID string) error {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	client, err := anthropic.NewFromAPIKey(apiKey, modelID)
	if err != nil {
		return err
	}

	store, cleanup, err := buildStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	persister, err := transcript.NewPersister(transcript.Options{
		Store:  store,
		Titler: client,
		Logger: telemetry.NewClueLogger(),
	})
	if err != nil {
		return err
	}

	emitter, err := run.NewEmitter(run.Options{
		Client:    client,
		Persister: persister,
		Logger:    telemetry.NewClueLogger(),
		Metrics:   telemetry.NewClueMetrics(),
	})
	if err != nil {
		return err
	}

	sink, err := buildSink(ctx)
	if err != nil {
		return err
	}

	events, err := emitter.StartRun(ctx, run.Input{
		AgentID:  agentID,
		Messages: []chat.Message{{Role: chat.RoleUser, Content: prompt}},
		Tools:    []model.ToolDefinition{clockTool()},
	})
	if err != nil {
		return err
	}

	engine := reconcile.NewEngine(reconcile.Options{Logger: telemetry.NewClueLogger()})
	var responseID string
	for event := range events {
		if sink != nil {
			if err := sink.Send(ctx, event); err != nil {
				log.Errorf(ctx, err, "pulse publish failed")
			}
		}
		engine.Apply(ctx, event)
		switch ev := event.(type) {
		case run.ResponseStarted:
			responseID = ev.Data.ResponseID
		case run.OutputTextDelta:
			fmt.Print(ev.Data.Delta)
		case run.OutputTextCompleted:
			fmt.Println()
		case run.ResponseError:
			log.Error(ctx, fmt.Errorf("%s", ev.Data.Message), log.KV{K: "retryable", V: ev.Data.Retryable})
		case run.ResponseSaved:
			log.Print(ctx, log.KV{K: "chat_id", V: ev.Data.ChatID}, log.KV{K: "revision", V: ev.Data.Revision})
		}
	}

	for i, seg := range engine.RenderSegments(responseID) {
		switch seg.Item.Type {
		case run.ItemText:
			log.Print(ctx, log.KV{K: "segment", V: i}, log.KV{K: "text", V: seg.Item.Text})
		case run.ItemComponent:
			data, _ := json.Marshal(seg.Item.Component)
			log.Print(ctx, log.KV{K: "segment", V: i}, log.KV{K: "component", V: string(data)})
		}
	}
	return nil
}

// buildStore returns a Mongo-backed chat store when MONGO_URL is set and an
// in-memory store otherwise.
func buildStore(ctx context.Context) (chat.Store, func(), error) {
	mongoURL := os.Getenv("MONGO_URL")
	if mongoURL == "" {
		return inmem.New(), func() {}, nil
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	mc, err := mongodriver.Connect(cctx, mongooptions.Client().ApplyURI(mongoURL))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	cleanup := func() { _ = mc.Disconnect(context.Background()) }
	mongoClient, err := clientsmongo.New(clientsmongo.Options{
		Client:   mc,
		Database: envOr("MONGO_DB", "agentwire"),
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	checker := health.NewChecker(mongoClient)
	if _, healthy := checker.Check(ctx); !healthy {
		log.Printf(ctx, "mongo reachable but not healthy yet")
	}
	store, err := chatmongo.NewStore(mongoClient)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return store, cleanup, nil
}

// buildSink returns a Pulse event sink when REDIS_URL is set.
func buildSink(ctx context.Context) (*streampulse.Sink, error) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	pulseClient, err := clientspulse.New(clientspulse.Options{Redis: redis.NewClient(opts)})
	if err != nil {
		return nil, err
	}
	sink, err := streampulse.NewSink(streampulse.Options{Client: pulseClient})
	if err != nil {
		return nil, err
	}
	log.Printf(ctx, "publishing run events to pulse")
	return sink, nil
}

// clockTool reports the current time through a message directive so the demo
// exercises tool-result decoding end to end.
func clockTool() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        "current_time",
		Description: "Returns the current wall-clock time in UTC.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(context.Context, string) (string, error) {
			out, err := json.Marshal(map[string]any{
				"message": "The current time is " + time.Now().UTC().Format(time.RFC1123) + ".",
			})
			return string(out), err
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
