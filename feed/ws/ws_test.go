package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/streamchat/core"
	"github.com/hupe1980/streamchat/store"
)

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func next(t *testing.T, ch <-chan core.ChangeNotification) core.ChangeNotification {
	t.Helper()
	select {
	case n, ok := <-ch:
		require.True(t, ok, "feed closed")
		return n
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for notification")
		return core.ChangeNotification{}
	}
}

func TestClientServer_RoundTrip(t *testing.T) {
	s := store.NewInMemoryStore()
	srv := httptest.NewServer(NewServer(s))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, err := NewClient(wsURL(srv.URL)).Subscribe(ctx, "alice")
	require.NoError(t, err)

	// The server subscribes after the handshake; retry until the insert shows up.
	var ins core.ChangeNotification
	require.Eventually(t, func() bool {
		res, err := s.Create(context.Background(), "alice", []core.Message{core.NewUserMessage("hello")})
		if err != nil {
			return false
		}
		select {
		case ins = <-feed:
			return ins.Type == core.ChangeInsert && ins.OwnerID == "alice" && res.ID != ""
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, core.ChangeInsert, ins.Type)
	require.NotNil(t, ins.Record)
	assert.Equal(t, "hello", ins.Record.Messages[0].Content.Text)

	require.NoError(t, s.Delete(context.Background(), ins.ConversationID))
	for {
		n := next(t, feed)
		if n.Type == core.ChangeDelete {
			assert.Equal(t, ins.ConversationID, n.ConversationID)
			assert.Nil(t, n.Record)
			break
		}
	}

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-feed
		return !ok
	}, 3*time.Second, 10*time.Millisecond)
}

func TestClient_ReconnectRequestsResync(t *testing.T) {
	var (
		mu    sync.Mutex
		dials int
	)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		mu.Lock()
		dials++
		first := dials == 1
		mu.Unlock()
		if first {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, err := NewClient(wsURL(srv.URL), func(o *ClientOptions) {
		o.ReconnectInterval = 10 * time.Millisecond
	}).Subscribe(ctx, "alice")
	require.NoError(t, err)

	n := next(t, feed)
	assert.Equal(t, core.ChangeResync, n.Type)
	assert.Equal(t, "alice", n.OwnerID)
}

func TestClient_MissingOwnerRejected(t *testing.T) {
	srv := httptest.NewServer(NewServer(store.NewInMemoryStore()))
	defer srv.Close()

	_, err := NewClient(wsURL(srv.URL)).Subscribe(context.Background(), "")
	assert.True(t, core.IsAuth(err), "got %v", err)
}
