// Package mongo hosts the MongoDB client used by the chat store.
package mongo

//go:generate cmg gen .

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/agentwire/agentwire/runtime/chat"
)

const (
	defaultChatsCollection = "agent_chats"
	defaultOpTimeout       = 5 * time.Second
	chatClientName         = "chat-mongo"
)

// Client exposes Mongo-backed operations for chat documents. Writes use
// optimistic revisioning: the stored revision is a counter, compared against
// the caller's token and bumped atomically on success.
type Client interface {
	health.Pinger

	GetChat(ctx context.Context, chatID string) (*chat.Chat, error)
	PutChat(ctx context.Context, c *chat.Chat) (string, error)
	RemoveChat(ctx context.Context, c *chat.Chat) error
	ListChatsByAgent(ctx context.Context, agentID string) ([]*chat.Chat, error)
}

// Options configures the Mongo chat client.
type Options struct {
	Client          *mongodriver.Client
	Database        string
	ChatsCollection string
	Timeout         time.Duration
}

type client struct {
	mongo   *mongodriver.Client
	chats   collection
	timeout time.Duration
}

// New returns a Client backed by MongoDB.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	chatsCollection := opts.ChatsCollection
	if chatsCollection == "" {
		chatsCollection = defaultChatsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(chatsCollection)
	wrapper := mongoCollection{coll: coll}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return newClientWithCollection(opts.Client, wrapper, timeout)
}

func (c *client) Name() string {
	return chatClientName
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) GetChat(ctx context.Context, chatID string) (*chat.Chat, error) {
	if chatID == "" {
		return nil, errors.New("chat id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"chat_id": chatID}
	var doc chatDocument
	if err := c.chats.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, chat.ErrChatNotFound
		}
		return nil, err
	}
	return doc.toChat(), nil
}

func (c *client) PutChat(ctx context.Context, in *chat.Chat) (string, error) {
	if in == nil || in.ID == "" {
		return "", errors.New("chat id is required")
	}
	expected, err := parseRevision(in.Revision)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	next := expected + 1
	set := bson.M{
		"chat_id":    in.ID,
		"agent_id":   in.AgentID,
		"title":      in.Title,
		"messages":   in.Messages,
		"revision":   next,
		"updated_at": now,
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if expected == 0 {
		// First write: insert only. A duplicate key on chat_id means the
		// document exists with a newer revision.
		filter := bson.M{"chat_id": in.ID, "revision": int64(0)}
		_, err := c.chats.UpdateOne(ctx, filter, bson.M{"$set": set, "$setOnInsert": bson.M{"created_at": now}},
			options.Update().SetUpsert(true))
		if err != nil {
			if mongodriver.IsDuplicateKeyError(err) {
				return "", chat.ErrRevisionConflict
			}
			return "", err
		}
		return strconv.FormatInt(next, 10), nil
	}

	filter := bson.M{"chat_id": in.ID, "revision": expected}
	res, err := c.chats.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return "", err
	}
	if res.MatchedCount == 0 {
		return "", chat.ErrRevisionConflict
	}
	return strconv.FormatInt(next, 10), nil
}

func (c *client) RemoveChat(ctx context.Context, in *chat.Chat) error {
	if in == nil || in.ID == "" {
		return errors.New("chat id is required")
	}
	filter := bson.M{"chat_id": in.ID}
	if in.Revision != "" {
		rev, err := parseRevision(in.Revision)
		if err != nil {
			return err
		}
		filter["revision"] = rev
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := c.chats.DeleteOne(ctx, filter)
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		if _, err := c.GetChat(ctx, in.ID); errors.Is(err, chat.ErrChatNotFound) {
			return chat.ErrChatNotFound
		}
		return chat.ErrRevisionConflict
	}
	return nil
}

func (c *client) ListChatsByAgent(ctx context.Context, agentID string) ([]*chat.Chat, error) {
	if agentID == "" {
		return nil, errors.New("agent id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"agent_id": agentID}
	cur, err := c.chats.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cur.Close(ctx)
	}()
	var out []*chat.Chat
	for cur.Next(ctx) {
		var doc chatDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toChat())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func parseRevision(token string) (int64, error) {
	if token == "" {
		return 0, nil
	}
	rev, err := strconv.ParseInt(token, 10, 64)
	if err != nil || rev < 0 {
		return 0, errors.New("malformed revision token")
	}
	return rev, nil
}

type chatDocument struct {
	ChatID    string         `bson:"chat_id"`
	Revision  int64          `bson:"revision"`
	AgentID   string         `bson:"agent_id"`
	Title     string         `bson:"title,omitempty"`
	Messages  []chat.Message `bson:"messages"`
	CreatedAt time.Time      `bson:"created_at"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

func (doc chatDocument) toChat() *chat.Chat {
	return &chat.Chat{
		ID:       doc.ChatID,
		Revision: strconv.FormatInt(doc.Revision, 10),
		AgentID:  doc.AgentID,
		Title:    doc.Title,
		Messages: doc.Messages,
	}
}

func ensureIndexes(ctx context.Context, chatsColl collection) error {
	chatIndex := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "chat_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := chatsColl.Indexes().CreateOne(ctx, chatIndex); err != nil {
		return err
	}
	agentIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "agent_id", Value: 1},
			{Key: "updated_at", Value: -1},
		},
	}
	if _, err := chatsColl.Indexes().CreateOne(ctx, agentIndex); err != nil {
		return err
	}
	return nil
}

func newClientWithCollection(mongoClient *mongodriver.Client, chatsColl collection, timeout time.Duration) (*client, error) {
	if chatsColl == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{
		mongo:   mongoClient,
		chats:   chatsColl,
		timeout: timeout,
	}, nil
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error)
	UpdateOne(ctx context.Context, filter any, update any,
		opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error)
	DeleteOne(ctx context.Context, filter any,
		opts ...*options.DeleteOptions) (*mongodriver.DeleteResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel,
		opts ...*options.CreateIndexesOptions) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	Close(ctx context.Context) error
	Decode(val any) error
	Err() error
	Next(ctx context.Context) bool
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return mongoCursor{cur: cur}, nil
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any,
	opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) DeleteOne(ctx context.Context, filter any,
	opts ...*options.DeleteOptions) (*mongodriver.DeleteResult, error) {
	return c.coll.DeleteOne(ctx, filter, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error {
	return r.res.Decode(val)
}

type mongoCursor struct {
	cur *mongodriver.Cursor
}

func (c mongoCursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}

func (c mongoCursor) Decode(val any) error {
	return c.cur.Decode(val)
}

func (c mongoCursor) Err() error {
	return c.cur.Err()
}

func (c mongoCursor) Next(ctx context.Context) bool {
	return c.cur.Next(ctx)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel,
	opts ...*options.CreateIndexesOptions) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
