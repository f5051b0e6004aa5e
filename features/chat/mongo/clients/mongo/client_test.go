package mongo

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/agentwire/agentwire/runtime/chat"
)

// fakeCollection is an in-memory stand-in for the chats collection. It
// interprets the filters and updates the client actually issues.
type fakeCollection struct {
	docs    map[string]chatDocument
	indexes []mongodriver.IndexModel
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[string]chatDocument)}
}

func (f *fakeCollection) FindOne(_ context.Context, filter any, _ ...*options.FindOneOptions) singleResult {
	id, _ := filter.(bson.M)["chat_id"].(string)
	doc, ok := f.docs[id]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	return fakeSingleResult{doc: doc}
}

func (f *fakeCollection) Find(_ context.Context, filter any, _ ...*options.FindOptions) (cursor, error) {
	agentID, _ := filter.(bson.M)["agent_id"].(string)
	var docs []chatDocument
	for _, doc := range f.docs {
		if doc.AgentID == agentID {
			docs = append(docs, doc)
		}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})
	return &fakeCursor{docs: docs}, nil
}

func (f *fakeCollection) UpdateOne(_ context.Context, filter any, update any,
	opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	fm := filter.(bson.M)
	id, _ := fm["chat_id"].(string)
	rev, _ := fm["revision"].(int64)
	um := update.(bson.M)

	doc, exists := f.docs[id]
	if exists && doc.Revision == rev {
		applySet(&doc, um["$set"].(bson.M))
		f.docs[id] = doc
		return &mongodriver.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
	}

	upsert := len(opts) > 0 && opts[0].Upsert != nil && *opts[0].Upsert
	if !upsert {
		return &mongodriver.UpdateResult{}, nil
	}
	if exists {
		return nil, mongodriver.WriteException{
			WriteErrors: []mongodriver.WriteError{{Code: 11000}},
		}
	}
	var fresh chatDocument
	applySet(&fresh, um["$set"].(bson.M))
	if insert, ok := um["$setOnInsert"].(bson.M); ok {
		applySet(&fresh, insert)
	}
	f.docs[id] = fresh
	return &mongodriver.UpdateResult{UpsertedCount: 1}, nil
}

func (f *fakeCollection) DeleteOne(_ context.Context, filter any,
	_ ...*options.DeleteOptions) (*mongodriver.DeleteResult, error) {
	fm := filter.(bson.M)
	id, _ := fm["chat_id"].(string)
	doc, exists := f.docs[id]
	if !exists {
		return &mongodriver.DeleteResult{}, nil
	}
	if rev, ok := fm["revision"].(int64); ok && doc.Revision != rev {
		return &mongodriver.DeleteResult{}, nil
	}
	delete(f.docs, id)
	return &mongodriver.DeleteResult{DeletedCount: 1}, nil
}

func (f *fakeCollection) Indexes() indexView { return (*fakeIndexView)(f) }

type fakeIndexView fakeCollection

func (v *fakeIndexView) CreateOne(_ context.Context, model mongodriver.IndexModel,
	_ ...*options.CreateIndexesOptions) (string, error) {
	v.indexes = append(v.indexes, model)
	return "", nil
}

func applySet(doc *chatDocument, set bson.M) {
	for key, val := range set {
		switch key {
		case "chat_id":
			doc.ChatID = val.(string)
		case "agent_id":
			doc.AgentID = val.(string)
		case "title":
			doc.Title = val.(string)
		case "messages":
			doc.Messages = val.([]chat.Message)
		case "revision":
			doc.Revision = val.(int64)
		case "created_at":
			doc.CreatedAt = val.(time.Time)
		case "updated_at":
			doc.UpdatedAt = val.(time.Time)
		}
	}
}

type fakeSingleResult struct {
	doc chatDocument
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	*val.(*chatDocument) = r.doc
	return nil
}

type fakeCursor struct {
	docs []chatDocument
	idx  int
}

func (c *fakeCursor) Next(context.Context) bool {
	if c.idx >= len(c.docs) {
		return false
	}
	c.idx++
	return true
}

func (c *fakeCursor) Decode(val any) error {
	*val.(*chatDocument) = c.docs[c.idx-1]
	return nil
}

func (c *fakeCursor) Err() error                 { return nil }
func (c *fakeCursor) Close(context.Context) error { return nil }

func newTestClient(t *testing.T) (*client, *fakeCollection) {
	t.Helper()
	coll := newFakeCollection()
	cl, err := newClientWithCollection(nil, coll, time.Second)
	require.NoError(t, err)
	return cl, coll
}

func TestEnsureIndexes(t *testing.T) {
	coll := newFakeCollection()
	require.NoError(t, ensureIndexes(context.Background(), coll))
	require.Len(t, coll.indexes, 2)

	unique := coll.indexes[0]
	require.Equal(t, bson.D{{Key: "chat_id", Value: 1}}, unique.Keys)
	require.NotNil(t, unique.Options.Unique)
	require.True(t, *unique.Options.Unique)

	listing := coll.indexes[1]
	require.Equal(t, bson.D{
		{Key: "agent_id", Value: 1},
		{Key: "updated_at", Value: -1},
	}, listing.Keys)
}

func TestPutChatFirstWrite(t *testing.T) {
	cl, coll := newTestClient(t)
	rev, err := cl.PutChat(context.Background(), &chat.Chat{
		ID:       "c1",
		AgentID:  "a1",
		Title:    "hello",
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "1", rev)

	doc := coll.docs["c1"]
	require.Equal(t, int64(1), doc.Revision)
	require.False(t, doc.CreatedAt.IsZero())
	require.False(t, doc.UpdatedAt.IsZero())

	got, err := cl.GetChat(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, "1", got.Revision)
	require.Equal(t, "hello", got.Title)
	require.Len(t, got.Messages, 1)
}

func TestPutChatFirstWriteConflictsWithExisting(t *testing.T) {
	cl, _ := newTestClient(t)
	_, err := cl.PutChat(context.Background(), &chat.Chat{ID: "c1", AgentID: "a1"})
	require.NoError(t, err)

	_, err = cl.PutChat(context.Background(), &chat.Chat{ID: "c1", AgentID: "a1"})
	require.ErrorIs(t, err, chat.ErrRevisionConflict)
}

func TestPutChatUpdate(t *testing.T) {
	cl, _ := newTestClient(t)
	_, err := cl.PutChat(context.Background(), &chat.Chat{ID: "c1", AgentID: "a1"})
	require.NoError(t, err)

	rev, err := cl.PutChat(context.Background(), &chat.Chat{ID: "c1", AgentID: "a1", Revision: "1", Title: "renamed"})
	require.NoError(t, err)
	require.Equal(t, "2", rev)

	got, err := cl.GetChat(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Title)

	_, err = cl.PutChat(context.Background(), &chat.Chat{ID: "c1", AgentID: "a1", Revision: "1"})
	require.ErrorIs(t, err, chat.ErrRevisionConflict)
}

func TestPutChatMalformedRevision(t *testing.T) {
	cl, _ := newTestClient(t)
	_, err := cl.PutChat(context.Background(), &chat.Chat{ID: "c1", Revision: "abc"})
	require.EqualError(t, err, "malformed revision token")
}

func TestGetChatMissing(t *testing.T) {
	cl, _ := newTestClient(t)
	_, err := cl.GetChat(context.Background(), "nope")
	require.ErrorIs(t, err, chat.ErrChatNotFound)
	_, err = cl.GetChat(context.Background(), "")
	require.EqualError(t, err, "chat id is required")
}

func TestRemoveChat(t *testing.T) {
	cl, _ := newTestClient(t)
	_, err := cl.PutChat(context.Background(), &chat.Chat{ID: "c1", AgentID: "a1"})
	require.NoError(t, err)

	err = cl.RemoveChat(context.Background(), &chat.Chat{ID: "c1", Revision: "9"})
	require.ErrorIs(t, err, chat.ErrRevisionConflict)

	require.NoError(t, cl.RemoveChat(context.Background(), &chat.Chat{ID: "c1", Revision: "1"}))

	err = cl.RemoveChat(context.Background(), &chat.Chat{ID: "c1"})
	require.ErrorIs(t, err, chat.ErrChatNotFound)
}

func TestRemoveChatWithoutRevision(t *testing.T) {
	cl, _ := newTestClient(t)
	_, err := cl.PutChat(context.Background(), &chat.Chat{ID: "c1", AgentID: "a1"})
	require.NoError(t, err)
	require.NoError(t, cl.RemoveChat(context.Background(), &chat.Chat{ID: "c1"}))
}

func TestListChatsByAgent(t *testing.T) {
	cl, coll := newTestClient(t)
	base := time.Now().UTC()
	for i, id := range []string{"c1", "c2", "c3"} {
		_, err := cl.PutChat(context.Background(), &chat.Chat{ID: id, AgentID: "a1"})
		require.NoError(t, err)
		doc := coll.docs[id]
		doc.UpdatedAt = base.Add(time.Duration(i) * time.Second)
		coll.docs[id] = doc
	}
	_, err := cl.PutChat(context.Background(), &chat.Chat{ID: "other", AgentID: "a2"})
	require.NoError(t, err)

	chats, err := cl.ListChatsByAgent(context.Background(), "a1")
	require.NoError(t, err)
	require.Len(t, chats, 3)
	require.Equal(t, "c3", chats[0].ID)
	require.Equal(t, "c2", chats[1].ID)
	require.Equal(t, "c1", chats[2].ID)

	_, err = cl.ListChatsByAgent(context.Background(), "")
	require.EqualError(t, err, "agent id is required")
}
