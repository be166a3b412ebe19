package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/streamchat/core"
	"github.com/hupe1980/streamchat/engine"
	"github.com/hupe1980/streamchat/knowledge"
	"github.com/hupe1980/streamchat/model"
	"github.com/hupe1980/streamchat/persist"
	"github.com/hupe1980/streamchat/sse"
	"github.com/hupe1980/streamchat/store"
	"github.com/hupe1980/streamchat/transport"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const shadowReply = "The Shadow holds what we deny in ourselves."

func newTestServer(optFns ...func(o *Options)) (*Server, *model.MockModel) {
	m := model.NewMockModel("I am not sure.")
	m.AddResponse("What is the shadow?", shadowReply)
	base := knowledge.NewSampleBase()
	fns := append([]func(o *Options){func(o *Options) {
		o.Retrieval = base
		o.Querier = base
	}}, optFns...)
	return New(m, fns...), m
}

func postChat(t *testing.T, h http.Handler, body string, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeAll(t *testing.T, r io.Reader) []core.StreamEvent {
	t.Helper()
	dec := sse.NewDecoder(r, nil)
	var events []core.StreamEvent
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestChat_RequiresBearer(t *testing.T) {
	s, _ := newTestServer()

	rec := postChat(t, s, `{"message":"hi","user_id":"alice"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"invalid token"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Authorization", "Token abc")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChat_VerifierRejects(t *testing.T) {
	s, _ := newTestServer(func(o *Options) {
		o.Verify = func(_ context.Context, token string) error {
			if token != "good" {
				return errors.New("unknown token")
			}
			return nil
		}
	})

	assert.Equal(t, http.StatusUnauthorized, postChat(t, s, `{"message":"hi"}`, "bad").Code)
	assert.Equal(t, http.StatusOK, postChat(t, s, `{"message":"hi"}`, "good").Code)
}

func TestChat_ValidatesMessage(t *testing.T) {
	s, _ := newTestServer()

	for _, body := range []string{`{"user_id":"alice"}`, `{"message":"   "}`, `{"message":42}`, `not json`} {
		rec := postChat(t, s, body, "tok")
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), "error")
	}
}

func TestChat_StreamsDeltasThenMetadata(t *testing.T) {
	s, _ := newTestServer()

	rec := postChat(t, s, `{"message":"What is the shadow?","conversationId":null,"user_id":"alice"}`, "tok")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := decodeAll(t, rec.Body)
	require.NotEmpty(t, events)

	var text strings.Builder
	for _, ev := range events[:len(events)-1] {
		d, ok := ev.(core.DeltaEvent)
		require.True(t, ok, "unexpected %T", ev)
		text.WriteString(d.Text)
	}
	assert.Equal(t, shadowReply, text.String())

	meta, ok := events[len(events)-1].(core.MetadataEvent)
	require.True(t, ok)
	require.NotEmpty(t, meta.Concepts)
	assert.LessOrEqual(t, len(meta.Concepts), 3)
	assert.Equal(t, "Shadow", meta.Concepts[0].Name)

	var titles []string
	for _, r := range meta.References {
		titles = append(titles, r.Title)
	}
	assert.Contains(t, titles, "Aion")
}

func TestChat_ModelFailureSendsErrorFrame(t *testing.T) {
	s, m := newTestServer()
	m.AddFailure("What is the shadow?", errors.New("provider down"))

	rec := postChat(t, s, `{"message":"What is the shadow?"}`, "tok")
	require.Equal(t, http.StatusOK, rec.Code)

	events := decodeAll(t, rec.Body)
	require.Len(t, events, 2)
	assert.Equal(t, core.DeltaEvent{Text: "The "}, events[0])
	assert.Equal(t, core.ErrorEvent{Message: msgGenerationFailed}, events[1])
}

func TestChat_EmptyAnswerSendsErrorFrame(t *testing.T) {
	m := model.NewMockModel("")
	s := New(m)

	events := decodeAll(t, postChat(t, s, `{"message":"anything"}`, "tok").Body)
	require.Len(t, events, 1)
	assert.Equal(t, core.ErrorEvent{Message: msgEmptyResponse}, events[0])
}

func TestChat_LoadsHistory(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	prior := []core.Message{core.NewUserMessage("earlier"), core.NewAssistantMessage()}
	prior[1].Content.Text = "earlier answer"
	res, err := st.Create(ctx, "alice", prior)
	require.NoError(t, err)

	s, m := newTestServer(func(o *Options) { o.Store = st })

	body := `{"message":"What is the shadow?","conversationId":"` + res.ID + `","user_id":"alice"}`
	require.Equal(t, http.StatusOK, postChat(t, s, body, "tok").Code)

	// Unknown ids and foreign owners fall back to no history.
	require.Equal(t, http.StatusOK, postChat(t, s, `{"message":"x","conversationId":"missing","user_id":"alice"}`, "tok").Code)
	require.Equal(t, http.StatusOK, postChat(t, s, `{"message":"y","conversationId":"`+res.ID+`","user_id":"mallory"}`, "tok").Code)

	reqs := m.Requests()
	require.Len(t, reqs, 3)
	require.Len(t, reqs[0].Messages, 3)
	assert.Equal(t, "earlier", reqs[0].Messages[0].Content.Text)
	assert.Equal(t, "What is the shadow?", reqs[0].Messages[2].Content.Text)
	assert.NotEmpty(t, reqs[0].Instructions)
	assert.Len(t, reqs[1].Messages, 1)
	assert.Len(t, reqs[2].Messages, 1)
}

func TestQuery(t *testing.T) {
	s, _ := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"query":"shadow archetype","max_results":2}`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var results []knowledge.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 2)
	assert.Equal(t, "Shadow", results[0].Title)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"query":""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bare := New(model.NewMockModel(""))
	rec = httptest.NewRecorder()
	bare.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"query":"x"}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthRoutes(t *testing.T) {
	healthy := true
	s, _ := newTestServer(func(o *Options) {
		o.HealthCheck = func(context.Context) error {
			if !healthy {
				return errors.New("index offline")
			}
			return nil
		}
	})

	for _, path := range []string{"/", "/api/health", "/api/startup-check"} {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	healthy = false
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "index offline")
}

func TestCORS(t *testing.T) {
	dev, _ := newTestServer()
	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	dev.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	prod, _ := newTestServer(func(o *Options) {
		o.Config.Environment = EnvProduction
		o.Config.AllowedOrigins = []string{"https://chat.example.com"}
	})

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://chat.example.com")
	rec = httptest.NewRecorder()
	prod.ServeHTTP(rec, req)
	assert.Equal(t, "https://chat.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	prod.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "Olá m...", truncate("Olá mundo", 5))
	assert.Equal(t, strings.Repeat("x", 200)+"...", truncate(strings.Repeat("x", 250), 200))
}

func TestEndToEnd_EngineAgainstServer(t *testing.T) {
	st := store.NewInMemoryStore()
	s, _ := newTestServer(func(o *Options) { o.Store = st })
	ts := httptest.NewServer(s)
	defer ts.Close()

	eng := engine.New(transport.NewHTTPDispatcher(func(o *transport.Options) {
		o.Config.Endpoint = ts.URL + "/api/chat"
	}), func(o *engine.Options) {
		o.UserID = "alice"
		o.Credentials = &transport.StaticCredentials{Token: "tok"}
		o.Committer = persist.NewSynchronizer(st)
	})
	defer eng.Close()

	sess := eng.NewSession()
	reply, err := sess.SendSync(context.Background(), "What is the shadow?")
	require.NoError(t, err)
	assert.Equal(t, shadowReply, reply.Content.Text)
	require.NotEmpty(t, reply.Content.Concepts)
	assert.Equal(t, "Shadow", reply.Content.Concepts[0].Name)

	view, err := sess.View()
	require.NoError(t, err)
	require.NotEmpty(t, view.ConversationID)

	saved, err := st.Get(context.Background(), view.ConversationID)
	require.NoError(t, err)
	assert.Len(t, saved.Messages, 2)
}

func TestChat_InstructionsListConcepts(t *testing.T) {
	s, m := newTestServer()

	require.Equal(t, http.StatusOK, postChat(t, s, `{"message":"What is the shadow?"}`, "tok").Code)
	require.Len(t, m.Requests(), 1)
	assert.Contains(t, m.Requests()[0].Instructions, "Concepts relevant to this question: Shadow")

	bare, bareModel := newTestServer(func(o *Options) {
		o.Retrieval = nil
		o.Config.SystemPrompt = "{{ broken"
	})
	require.Equal(t, http.StatusOK, postChat(t, bare, `{"message":"What is the shadow?"}`, "tok").Code)
	assert.Equal(t, "{{ broken", bareModel.Requests()[0].Instructions)
}

func TestChat_ConcurrencyCap(t *testing.T) {
	s, _ := newTestServer(func(o *Options) { o.Config.MaxConcurrentStreams = 1 })

	require.NoError(t, s.limiter.acquire())
	rec := postChat(t, s, `{"message":"What is the shadow?"}`, "tok")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.limiter.release()
	rec = postChat(t, s, `{"message":"What is the shadow?"}`, "tok")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, s.limiter.Active())
}

func TestStreamLimiter(t *testing.T) {
	l := newStreamLimiter(2)
	require.NoError(t, l.acquire())
	require.NoError(t, l.acquire())
	assert.ErrorIs(t, l.acquire(), errTooManyStreams)
	assert.Equal(t, 0, l.Remaining())

	l.release()
	assert.Equal(t, 1, l.Remaining())
	l.release()
	l.release()
	assert.Equal(t, 0, l.Active())

	assert.Equal(t, -1, newStreamLimiter(0).Remaining())
}
