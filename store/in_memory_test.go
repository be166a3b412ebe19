package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/streamchat/core"
)

func receive(t *testing.T, ch <-chan core.ChangeNotification) core.ChangeNotification {
	t.Helper()
	select {
	case n, ok := <-ch:
		require.True(t, ok, "feed closed")
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return core.ChangeNotification{}
	}
}

func TestInMemoryStore_CreateUpdateGet(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	msgs := []core.Message{core.NewUserMessage("q"), core.NewAssistantMessage()}
	res, err := s.Create(ctx, "alice", msgs)
	require.NoError(t, err)
	require.NotEmpty(t, res.ID)
	assert.Equal(t, res.CreatedAt, res.UpdatedAt)

	later := res.UpdatedAt.Add(time.Minute)
	require.NoError(t, s.Update(ctx, res.ID, append(msgs, core.NewUserMessage("again")), later))

	conv, err := s.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", conv.OwnerID)
	assert.Len(t, conv.Messages, 3)
	assert.Equal(t, later.UTC(), conv.UpdatedAt)

	conv.Messages[0].Content.Text = "mutated"
	again, err := s.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "q", again.Messages[0].Content.Text)
}

func TestInMemoryStore_UpdateMissing(t *testing.T) {
	s := NewInMemoryStore()
	err := s.Update(context.Background(), "nope", nil, time.Now())
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestInMemoryStore_ListScopedByOwner(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewInMemoryStore(func(o *Options) {
		o.Now = func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}
	})

	first, _ := s.Create(ctx, "alice", nil)
	_, _ = s.Create(ctx, "bob", nil)
	second, _ := s.Create(ctx, "alice", nil)

	list, err := s.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestInMemoryStore_ChangeFeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewInMemoryStore()

	feed, err := s.Subscribe(ctx, "alice")
	require.NoError(t, err)

	res, _ := s.Create(context.Background(), "alice", nil)
	_, _ = s.Create(context.Background(), "bob", nil)
	require.NoError(t, s.Update(context.Background(), res.ID, []core.Message{core.NewUserMessage("x")}, time.Now()))
	require.NoError(t, s.Delete(context.Background(), res.ID))
	require.NoError(t, s.Delete(context.Background(), res.ID))

	ins := receive(t, feed)
	assert.Equal(t, core.ChangeInsert, ins.Type)
	assert.Equal(t, res.ID, ins.ConversationID)
	require.NotNil(t, ins.Record)

	upd := receive(t, feed)
	assert.Equal(t, core.ChangeUpdate, upd.Type)
	assert.Len(t, upd.Record.Messages, 1)

	del := receive(t, feed)
	assert.Equal(t, core.ChangeDelete, del.Type)
	assert.Nil(t, del.Record)

	cancel()
	select {
	case _, ok := <-feed:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("feed not closed after cancel")
	}
}
