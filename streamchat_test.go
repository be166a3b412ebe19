package streamchat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/streamchat/core"
	"github.com/hupe1980/streamchat/internal/testutil"
	"github.com/hupe1980/streamchat/store"
)

func newTestClient(t *testing.T, st *store.InMemoryStore, replies ...testutil.Reply) *Client {
	t.Helper()
	if len(replies) == 0 {
		replies = []testutil.Reply{{Chunks: testutil.NewFrameBuilder().Delta("Hello").Delta(" there").Chunks(5)}}
	}
	c := New(testutil.NewScriptedDispatcher(replies...), func(o *Options) {
		o.UserID = "alice"
		o.Store = st
	})
	t.Cleanup(c.Close)
	return c
}

func TestClient_NewConversationAppearsInList(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	c := newTestClient(t, st)

	sess := c.NewConversation()
	reply, err := sess.SendSync(ctx, "What does the unconscious want?")
	require.NoError(t, err)
	assert.Equal(t, "Hello there", reply.Content.Text)

	items, err := c.Conversations()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "What does the unconscious want...", items[0].Title)

	stored, err := st.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, items[0].ID, stored[0].ID)
}

func TestClient_LoadConversationsNewestFirst(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	st := store.NewInMemoryStore(func(o *store.Options) {
		o.Now = func() time.Time {
			now = now.Add(time.Minute)
			return now
		}
	})
	older, err := st.Create(ctx, "alice", []core.Message{core.NewUserMessage("older")})
	require.NoError(t, err)
	newer, err := st.Create(ctx, "alice", []core.Message{core.NewUserMessage("newer")})
	require.NoError(t, err)
	_, err = st.Create(ctx, "bob", []core.Message{core.NewUserMessage("foreign")})
	require.NoError(t, err)

	c := newTestClient(t, st)
	items, err := c.LoadConversations(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, newer.ID, items[0].ID)
	assert.Equal(t, older.ID, items[1].ID)
}

func TestClient_OpenConversation(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	res, err := st.Create(ctx, "alice", []core.Message{core.NewUserMessage("stored question")})
	require.NoError(t, err)
	foreign, err := st.Create(ctx, "bob", []core.Message{core.NewUserMessage("not yours")})
	require.NoError(t, err)

	c := newTestClient(t, st)

	sess, err := c.OpenConversation(ctx, res.ID)
	require.NoError(t, err)
	view, err := sess.View()
	require.NoError(t, err)
	assert.Equal(t, res.ID, view.ConversationID)
	require.Len(t, view.Messages, 1)

	again, err := c.OpenConversation(ctx, res.ID)
	require.NoError(t, err)
	assert.Same(t, sess, again)

	_, err = c.OpenConversation(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = c.OpenConversation(ctx, foreign.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestClient_ClearChat(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	c := newTestClient(t, st)

	sess := c.NewConversation()
	_, err := sess.SendSync(ctx, "question")
	require.NoError(t, err)

	require.NoError(t, c.ClearChat(sess))
	view, err := sess.View()
	require.NoError(t, err)
	assert.Empty(t, view.Messages)
	assert.Empty(t, view.ConversationID)

	stored, err := st.List(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestClient_DeleteConversationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	c := newTestClient(t, st)

	sess := c.NewConversation()
	_, err := sess.SendSync(ctx, "question")
	require.NoError(t, err)
	view, err := sess.View()
	require.NoError(t, err)
	id := view.ConversationID

	require.NoError(t, c.DeleteConversation(ctx, id))
	require.NoError(t, c.DeleteConversation(ctx, id))

	items, err := c.Conversations()
	require.NoError(t, err)
	assert.Empty(t, items)

	view, err = sess.View()
	require.NoError(t, err)
	assert.Empty(t, view.Messages)

	_, err = st.Get(ctx, id)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestClient_WatchAppliesRemoteChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewInMemoryStore()
	res, err := st.Create(ctx, "alice", []core.Message{core.NewUserMessage("first")})
	require.NoError(t, err)

	c := newTestClient(t, st)
	_, err = c.LoadConversations(ctx)
	require.NoError(t, err)
	sess, err := c.OpenConversation(ctx, res.ID)
	require.NoError(t, err)

	done, err := c.Watch(ctx)
	require.NoError(t, err)

	// Another device of the same user rewrites the conversation.
	remote := []core.Message{core.NewUserMessage("first"), core.NewUserMessage("from elsewhere")}
	require.NoError(t, st.Update(ctx, res.ID, remote, time.Now()))

	require.Eventually(t, func() bool {
		v, err := sess.View()
		return err == nil && len(v.Messages) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type storeOnly struct{ core.ConversationStore }

func TestClient_WatchWithoutFeed(t *testing.T) {
	c := New(testutil.NewScriptedDispatcher(), func(o *Options) {
		o.UserID = "alice"
		o.Store = storeOnly{store.NewInMemoryStore()}
	})
	defer c.Close()

	_, err := c.Watch(context.Background())
	assert.ErrorIs(t, err, ErrNoFeed)
}
