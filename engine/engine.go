package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/hupe1980/streamchat/core"
	"github.com/hupe1980/streamchat/logging"
	"github.com/hupe1980/streamchat/retry"
	"github.com/hupe1980/streamchat/state"
)

// Config defines tuning parameters for the Engine's operational behavior.
//
// Example:
//
//	cfg := Config{
//	    EventBufferSize: 256,
//	    CommitTimeout:   5 * time.Second,
//	}
type Config struct {
	// EventBufferSize sets the buffer size of the per-send event channel.
	// Larger buffers let a slow consumer lag behind the stream without
	// stalling the reader.
	EventBufferSize int

	// CommitTimeout bounds a single persistence commit. The commit runs
	// detached from the send context so a finalized exchange is persisted
	// even if the caller stops listening.
	CommitTimeout time.Duration
}

// DefaultConfig provides the default configuration values.
//
// Configuration values:
//   - EventBufferSize: 100
//   - CommitTimeout: 10s
var DefaultConfig = Config{
	EventBufferSize: 100,
	CommitTimeout:   10 * time.Second,
}

// Committer persists a finished exchange. persist.Synchronizer implements it.
type Committer interface {
	Commit(ctx context.Context, ownerID, conversationID string, messages []core.Message) (string, error)
}

// Options configures an Engine instance using the functional options pattern.
//
// Example:
//
//	eng := engine.New(dispatcher, func(o *engine.Options) {
//	    o.UserID = "alice"
//	    o.Committer = persist.NewSynchronizer(store)
//	    o.Logger = logger
//	})
type Options struct {
	// Config contains operational parameters for the engine behavior.
	// Defaults to DefaultConfig if not specified.
	Config Config

	// UserID is the caller identity carried by every chat request and the
	// owner of every conversation committed by this engine.
	UserID string

	// Credentials supplies the bearer credential attached to each dispatch.
	// When it also implements core.Reauthenticator it receives the
	// re-authentication redirect signal.
	Credentials core.CredentialProvider

	// Guard arbitrates retries and the auth-loop across all sessions of the
	// engine. Defaults to retry.NewGuard().
	Guard *retry.Guard

	// Committer persists finished exchanges. When nil exchanges stay local.
	Committer Committer

	// Callbacks receives lifecycle hooks. Defaults to an empty manager.
	Callbacks *CallbackManager

	// Tracer creates one span per send. Defaults to a no-op tracer.
	Tracer trace.Tracer

	// Logger provides structured logging for debugging and monitoring.
	// Defaults to NoOp logger if nil.
	Logger logging.Logger
}

// Engine owns the open sessions of one user and the collaborators they share.
//
// The Engine is the Stream Session Controller's host: every open
// conversation is represented by a Session, each backed by its own
// state.Store actor. Sessions share the dispatcher, the credential provider,
// the committer and, most importantly, the retry.Guard, whose auth-loop
// state spans unrelated send attempts.
//
// Concurrency Model:
//   - Thread-safe session registry via RWMutex
//   - One goroutine per in-flight send, cancellable through Session.Cancel
//   - All transcript mutations go through the session's state.Store actor
//
// Example Usage:
//
//	eng := engine.New(transport.NewHTTPDispatcher(), func(o *engine.Options) {
//	    o.UserID = "alice"
//	    o.Credentials = &transport.StaticCredentials{Token: token}
//	    o.Committer = persist.NewSynchronizer(store)
//	})
//	defer eng.Close()
//
//	sess := eng.NewSession()
//	events, errs, err := sess.Send(ctx, "What is eudaimonia?")
//	if err != nil {
//	    return err
//	}
//	for ev := range events {
//	    if d, ok := ev.(core.DeltaEvent); ok {
//	        fmt.Print(d.Text)
//	    }
//	}
//	if err := <-errs; err != nil {
//	    fmt.Println(core.UserMessage(err))
//	}
type Engine struct {
	// Collaborators - immutable after construction
	dispatcher  core.Dispatcher
	credentials core.CredentialProvider
	guard       *retry.Guard
	committer   Committer
	callbacks   *CallbackManager
	tracer      trace.Tracer
	logger      logging.Logger

	// Configuration - immutable after construction
	config Config
	userID string

	// Session registry - protected by mutex for thread-safe access
	sessions map[string]*Session
	mu       sync.RWMutex
}

// New creates a new Engine around dispatcher.
//
// Default Services:
//   - Guard: retry.NewGuard() with retry.DefaultConfig()
//   - Callbacks: empty CallbackManager
//   - Tracer: no-op OpenTelemetry tracer
//   - Logger: No-op logger that discards all messages
//
// The Engine does not take ownership of provided collaborators.
func New(dispatcher core.Dispatcher, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Guard == nil {
		opts.Guard = retry.NewGuard()
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("github.com/hupe1980/streamchat/engine")
	}
	if opts.Config.EventBufferSize <= 0 {
		opts.Config.EventBufferSize = DefaultConfig.EventBufferSize
	}
	if opts.Config.CommitTimeout <= 0 {
		opts.Config.CommitTimeout = DefaultConfig.CommitTimeout
	}

	return &Engine{
		dispatcher:  dispatcher,
		credentials: opts.Credentials,
		guard:       opts.Guard,
		committer:   opts.Committer,
		callbacks:   opts.Callbacks,
		tracer:      opts.Tracer,
		logger:      logging.OrNoOp(opts.Logger),
		config:      opts.Config,
		userID:      opts.UserID,
		sessions:    make(map[string]*Session),
	}
}

// UserID returns the identity this engine sends and commits as.
func (e *Engine) UserID() string { return e.userID }

// Guard returns the shared retry guard.
func (e *Engine) Guard() *retry.Guard { return e.guard }

// Callbacks returns the callback manager for registration.
func (e *Engine) Callbacks() *CallbackManager { return e.callbacks }

// NewSession opens a session for a brand new conversation. The conversation
// id stays empty until the first successful commit.
func (e *Engine) NewSession() *Session {
	return e.register(state.NewStore("", nil))
}

// OpenSession opens a session seeded with an existing conversation. If the
// conversation is already open its session is returned, so two sessions never
// stream into the same conversation.
func (e *Engine) OpenSession(conv *core.Conversation) *Session {
	if conv.ID != "" {
		if open := e.SessionsFor(conv.ID); len(open) > 0 {
			return open[0]
		}
	}
	return e.register(state.NewStore(conv.ID, conv.Messages))
}

func (e *Engine) register(st *state.Store) *Session {
	s := &Session{id: uuid.NewString(), engine: e, store: st}

	e.mu.Lock()
	e.sessions[s.id] = s
	e.mu.Unlock()

	return s
}

// Session returns an open session by its engine-local id.
func (e *Engine) Session(id string) (*Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s, ok := e.sessions[id]
	return s, ok
}

// SessionsFor returns the open sessions showing conversationID.
func (e *Engine) SessionsFor(conversationID string) []*Session {
	e.mu.RLock()
	all := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		all = append(all, s)
	}
	e.mu.RUnlock()

	var out []*Session
	for _, s := range all {
		if id, err := s.store.ConversationID(); err == nil && id == conversationID {
			out = append(out, s)
		}
	}
	return out
}

// CloseSession cancels any in-flight send of the session and releases it.
func (e *Engine) CloseSession(id string) {
	e.mu.Lock()
	s, ok := e.sessions[id]
	delete(e.sessions, id)
	e.mu.Unlock()

	if ok {
		s.shutdown()
	}
}

// Close releases every open session.
func (e *Engine) Close() {
	e.mu.Lock()
	sessions := e.sessions
	e.sessions = make(map[string]*Session)
	e.mu.Unlock()

	for _, s := range sessions {
		s.shutdown()
	}
}

func (e *Engine) logDispatch(attempt int, dur time.Duration, err error) {
	if l, ok := e.logger.(*logging.StreamChatLogger); ok {
		l.LogDispatch(attempt, dur, err)
		return
	}
	if err != nil {
		e.logger.Warn("Dispatch failed", "attempt", attempt, "duration", dur, "error", err.Error())
		return
	}
	e.logger.Debug("Dispatch accepted", "attempt", attempt, "duration", dur)
}

func (e *Engine) logCommit(conversationID string, messages int, dur time.Duration, err error) {
	if l, ok := e.logger.(*logging.StreamChatLogger); ok {
		l.LogCommit(conversationID, messages, dur, err)
		return
	}
	if err != nil {
		e.logger.Error("Commit failed", "conversation_id", conversationID, "message_count", messages, "error", err.Error())
		return
	}
	e.logger.Debug("Commit completed", "conversation_id", conversationID, "message_count", messages, "duration", dur)
}

func (e *Engine) logPhase(sessionID, conversationID string, from, to core.SessionPhase) {
	if l, ok := e.logger.(*logging.StreamChatLogger); ok {
		l.WithConversation(conversationID).WithContext("session_id", sessionID).LogPhase(from, to)
		return
	}
	e.logger.Debug("Session phase changed", "session_id", sessionID, "conversation_id", conversationID, "from", from.String(), "to", to.String())
}
