package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/streamchat/core"
)

func newDispatcher(url string, timeout time.Duration) *HTTPDispatcher {
	return NewHTTPDispatcher(func(o *Options) {
		o.Config.Endpoint = url
		o.Config.Timeout = timeout
	})
}

func TestDispatch_SendsRequestAndStreamsBody(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"text\":\"hi\"}\n\n")
	}))
	defer srv.Close()

	body, err := newDispatcher(srv.URL, time.Second).Dispatch(context.Background(), core.ChatRequest{
		Message:    "hello",
		UserID:     "alice",
		Credential: "tok",
	})
	require.NoError(t, err)
	defer body.Close()

	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "data: {\"text\":\"hi\"}\n\n", string(raw))
	assert.Equal(t, "hello", got["message"])
	assert.Nil(t, got["conversationId"])
	assert.Equal(t, "alice", got["user_id"])
	assert.NotContains(t, got, "Credential")
}

func TestDispatch_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"unauthorized", http.StatusUnauthorized, func(t *testing.T, err error) {
			assert.True(t, core.IsAuth(err))
		}},
		{"bad request", http.StatusBadRequest, func(t *testing.T, err error) {
			var de *core.DispatchError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, "Message is required", de.Body)
			assert.False(t, core.IsRetryable(err))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error":"Message is required"}`)
			}))
			defer srv.Close()

			_, err := newDispatcher(srv.URL, time.Second).Dispatch(context.Background(), core.ChatRequest{Message: "x"})
			tt.check(t, err)
		})
	}
}

func TestDispatch_HeaderTimeoutIsRetryable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	_, err := newDispatcher(srv.URL, 50*time.Millisecond).Dispatch(context.Background(), core.ChatRequest{Message: "x"})
	assert.True(t, core.IsRetryable(err))
}

func TestDispatch_UnreachableIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newDispatcher(url, time.Second).Dispatch(context.Background(), core.ChatRequest{Message: "x"})
	assert.True(t, core.IsRetryable(err))
}

func TestStaticCredentials(t *testing.T) {
	called := false
	c := &StaticCredentials{Token: "t", OnReauthenticate: func(context.Context) error {
		called = true
		return nil
	}}

	tok, err := c.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t", tok)
	require.NoError(t, c.Reauthenticate(context.Background()))
	assert.True(t, called)
}
