package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/streamchat/core"
	"github.com/hupe1980/streamchat/engine"
	"github.com/hupe1980/streamchat/internal/testutil"
	"github.com/hupe1980/streamchat/persist"
	"github.com/hupe1980/streamchat/state"
	"github.com/hupe1980/streamchat/store"
)

func TestApply_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	list := state.NewList()
	defer list.Close()

	conv := testutil.NewConversationBuilder("c-1").Owner("alice").Exchange("q", "a").Build()
	require.NoError(t, list.Reset([]*core.Conversation{conv}))

	r := New(store.NewInMemoryStore(), list, nil)

	// Local delete, then the echoed remote delete.
	_, err := list.Remove("c-1")
	require.NoError(t, err)
	require.NoError(t, r.Apply(ctx, core.ChangeNotification{Type: core.ChangeDelete, ConversationID: "c-1"}))

	items, err := list.Items()
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestApply_UpsertReplacesWholesale(t *testing.T) {
	ctx := context.Background()
	list := state.NewList()
	defer list.Close()

	r := New(store.NewInMemoryStore(), list, nil)

	first := testutil.NewConversationBuilder("c-1").Exchange("q1", "a1").Exchange("q2", "a2").Build()
	require.NoError(t, r.Apply(ctx, core.ChangeNotification{Type: core.ChangeInsert, ConversationID: "c-1", Record: first}))

	second := testutil.NewConversationBuilder("c-1").Exchange("other", "history").Build()
	require.NoError(t, r.Apply(ctx, core.ChangeNotification{Type: core.ChangeUpdate, ConversationID: "c-1", Record: second}))

	got, err := list.Get("c-1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "other", got.Messages[0].Content.Text)
}

func TestApply_FetchesMissingRecord(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()
	res, err := s.Create(ctx, "alice", []core.Message{core.NewUserMessage("stored")})
	require.NoError(t, err)

	list := state.NewList()
	defer list.Close()
	r := New(s, list, nil, func(o *Options) { o.Fetcher = s })

	require.NoError(t, r.Apply(ctx, core.ChangeNotification{Type: core.ChangeInsert, ConversationID: res.ID}))
	got, err := list.Get(res.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "stored", got.Messages[0].Content.Text)

	assert.NoError(t, r.Apply(ctx, core.ChangeNotification{Type: core.ChangeUpdate, ConversationID: "vanished"}))
}

func TestApply_ResyncReloadsList(t *testing.T) {
	ctx := context.Background()
	s := store.NewInMemoryStore()
	kept, err := s.Create(ctx, "alice", []core.Message{core.NewUserMessage("still here")})
	require.NoError(t, err)

	list := state.NewList()
	defer list.Close()
	missed := testutil.NewConversationBuilder("gone").Owner("alice").Exchange("q", "a").Build()
	require.NoError(t, list.Reset([]*core.Conversation{missed}))

	eng := engine.New(testutil.NewScriptedDispatcher(), func(o *engine.Options) { o.UserID = "alice" })
	defer eng.Close()
	sess := eng.OpenSession(missed)

	r := New(s, list, eng, func(o *Options) { o.Loader = s })
	require.NoError(t, r.Apply(ctx, core.ChangeNotification{Type: core.ChangeResync, OwnerID: "alice"}))

	items, err := list.Items()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, kept.ID, items[0].ID)

	view, err := sess.View()
	require.NoError(t, err)
	assert.Empty(t, view.Messages)
	assert.Empty(t, view.ConversationID)
}

func TestApply_ResyncWithoutLoader(t *testing.T) {
	list := state.NewList()
	defer list.Close()

	err := New(store.NewInMemoryStore(), list, nil).Apply(context.Background(), core.ChangeNotification{Type: core.ChangeResync, OwnerID: "alice"})
	assert.Error(t, err)
}

func TestApply_UnknownType(t *testing.T) {
	list := state.NewList()
	defer list.Close()

	err := New(store.NewInMemoryStore(), list, nil).Apply(context.Background(), core.ChangeNotification{Type: "TRUNCATE"})
	assert.Error(t, err)
}

func TestRun_ReflectsCommitsAndClearsDeletedSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := store.NewInMemoryStore()
	list := state.NewList()
	defer list.Close()

	d := testutil.NewScriptedDispatcher(testutil.Reply{Chunks: testutil.NewFrameBuilder().Delta("answer").Chunks(4)})
	eng := engine.New(d, func(o *engine.Options) {
		o.UserID = "alice"
		o.Committer = persist.NewSynchronizer(s)
	})
	defer eng.Close()

	r := New(s, list, eng, func(o *Options) { o.Fetcher = s })
	done, err := r.Start(ctx, "alice")
	require.NoError(t, err)

	sess := eng.NewSession()
	_, err = sess.SendSync(ctx, "question")
	require.NoError(t, err)
	view, err := sess.View()
	require.NoError(t, err)
	convID := view.ConversationID

	require.Eventually(t, func() bool {
		c, _ := list.Get(convID)
		return c != nil && len(c.Messages) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Delete(ctx, convID))

	require.Eventually(t, func() bool {
		v, err := sess.View()
		c, _ := list.Get(convID)
		return err == nil && c == nil && len(v.Messages) == 0 && v.ConversationID == ""
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
