// Package streamchat provides a high-level façade over the stream session
// engine and its collaborators (retry guard, persistence synchronizer,
// conversation list and change-feed reconciler). Most applications interact
// with this package by:
//  1. Creating a Client via New() around a core.Dispatcher (optionally
//     overriding the default in-memory store)
//  2. Loading the conversation list and starting the change feed (Watch)
//  3. Opening conversations and sending messages through their sessions
//
// The façade delegates the exchange lifecycle to engine.Engine while keeping
// setup and usage ergonomics concise. All defaults are safe for local
// development and testing; production deployments supply a durable store, a
// change feed and a structured logger.
package streamchat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/streamchat/core"
	"github.com/hupe1980/streamchat/engine"
	"github.com/hupe1980/streamchat/logging"
	"github.com/hupe1980/streamchat/persist"
	"github.com/hupe1980/streamchat/reconcile"
	"github.com/hupe1980/streamchat/retry"
	"github.com/hupe1980/streamchat/state"
	"github.com/hupe1980/streamchat/store"
)

// ErrNoFeed is returned by Watch when no change feed is configured.
var ErrNoFeed = errors.New("no change feed configured")

// Options configures the Client instance.
type Options struct {
	// Engine configuration (event buffers, commit timeout)
	EngineConfig engine.Config
	// RetryConfig tunes backoff and the auth-loop cap.
	RetryConfig retry.Config

	// UserID owns every conversation created through this client.
	UserID string
	// Credentials supplies the bearer credential of each dispatch.
	Credentials core.CredentialProvider

	// Store is the durable conversation store. Defaults to an in-memory store.
	Store core.ConversationStore
	// Feed delivers remote changes. Defaults to Store when it also
	// implements core.ChangeFeed.
	Feed core.ChangeFeed

	Callbacks *engine.CallbackManager
	Tracer    trace.Tracer

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Client is the high-level façade of one signed-in user.
type Client struct {
	opts       Options
	engine     *engine.Engine
	sync       *persist.Synchronizer
	list       *state.List
	reconciler *reconcile.Reconciler
	feed       core.ChangeFeed
	logger     logging.Logger
}

// New creates a new Client dispatching through dispatcher. Any unset
// collaborator is initialized with an in-memory implementation.
func New(dispatcher core.Dispatcher, optFns ...func(o *Options)) *Client {
	opts := Options{
		EngineConfig: engine.DefaultConfig,
		RetryConfig:  retry.DefaultConfig(),
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Store == nil {
		opts.Store = store.NewInMemoryStore(func(o *store.Options) { o.Logger = opts.Logger })
	}
	if opts.Feed == nil {
		if feed, ok := opts.Store.(core.ChangeFeed); ok {
			opts.Feed = feed
		}
	}
	if opts.Callbacks == nil {
		opts.Callbacks = engine.NewCallbackManager()
	}

	logger := logging.OrNoOp(opts.Logger)
	synchronizer := persist.NewSynchronizer(opts.Store, func(o *persist.Options) { o.Logger = logger })
	list := state.NewList()

	eng := engine.New(dispatcher, func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.UserID = opts.UserID
		o.Credentials = opts.Credentials
		o.Guard = retry.NewGuard(func(g *retry.Options) { g.Config = opts.RetryConfig })
		o.Committer = synchronizer
		o.Callbacks = opts.Callbacks
		o.Tracer = opts.Tracer
		o.Logger = logger
	})

	c := &Client{
		opts:   opts,
		engine: eng,
		sync:   synchronizer,
		list:   list,
		feed:   opts.Feed,
		logger: logger,
	}
	if opts.Feed != nil {
		c.reconciler = reconcile.New(opts.Feed, list, eng, func(o *reconcile.Options) {
			o.Fetcher = opts.Store
			o.Loader = opts.Store
			o.Logger = logger
		})
	}

	opts.Callbacks.RegisterCallback(engine.NewFunctionCallback(engine.CallbackAfterCommit, c.reflectCommit))

	return c
}

// Engine returns the underlying engine.
func (c *Client) Engine() *engine.Engine { return c.engine }

// UserID returns the owner this client acts for.
func (c *Client) UserID() string { return c.opts.UserID }

// LoadConversations replaces the local list with the owner's stored
// conversations and returns it, newest first.
func (c *Client) LoadConversations(ctx context.Context) ([]state.Summary, error) {
	convs, err := c.sync.Load(ctx, c.opts.UserID)
	if err != nil {
		return nil, err
	}
	if err := c.list.Reset(convs); err != nil {
		return nil, err
	}
	return c.list.Items()
}

// Conversations returns the local list, newest first.
func (c *Client) Conversations() ([]state.Summary, error) {
	return c.list.Items()
}

// Watch subscribes to the change feed and reconciles in the background until
// ctx is done. The returned channel yields the loop's result.
func (c *Client) Watch(ctx context.Context) (<-chan error, error) {
	if c.reconciler == nil {
		return nil, ErrNoFeed
	}
	return c.reconciler.Start(ctx, c.opts.UserID)
}

// NewConversation opens a session for a conversation that does not exist
// yet. It is created in the store on its first successful exchange.
func (c *Client) NewConversation() *engine.Session {
	return c.engine.NewSession()
}

// OpenConversation opens a session seeded with a stored conversation. An
// already open conversation returns its existing session.
func (c *Client) OpenConversation(ctx context.Context, id string) (*engine.Session, error) {
	conv, err := c.list.Get(id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		conv, err = c.sync.Fetch(ctx, id)
		if err != nil {
			return nil, err
		}
	}
	if c.opts.UserID != "" && conv.OwnerID != "" && conv.OwnerID != c.opts.UserID {
		return nil, fmt.Errorf("open conversation %s: %w", id, core.ErrNotFound)
	}
	return c.engine.OpenSession(conv), nil
}

// ClearChat empties an idle session. The stored conversation is untouched.
func (c *Client) ClearChat(sess *engine.Session) error {
	return sess.Clear()
}

// DeleteConversation deletes a conversation from the store and drops it
// locally. Deleting an already deleted conversation succeeds, so the echoed
// remote delete is harmless.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	if err := c.sync.Delete(ctx, id); err != nil {
		return err
	}
	if _, err := c.list.Remove(id); err != nil {
		return err
	}
	for _, sess := range c.engine.SessionsFor(id) {
		if err := sess.Reset(); err != nil {
			return err
		}
	}
	c.logger.Info("Conversation deleted", "conversation_id", id)
	return nil
}

// Close releases every open session and the conversation list.
func (c *Client) Close() {
	c.engine.Close()
	c.list.Close()
}

// reflectCommit mirrors a committed transcript into the local list so it is
// current even without a change feed.
func (c *Client) reflectCommit(_ context.Context, cbCtx *engine.CallbackContext) error {
	sess, ok := c.engine.Session(cbCtx.SessionID)
	if !ok {
		return nil
	}
	view, err := sess.View()
	if err != nil {
		return err
	}

	conv := &core.Conversation{
		ID:        cbCtx.ConversationID,
		OwnerID:   c.opts.UserID,
		Messages:  view.Messages,
		UpdatedAt: time.Now().UTC(),
	}
	if existing, err := c.list.Get(conv.ID); err == nil && existing != nil {
		conv.CreatedAt = existing.CreatedAt
	} else {
		conv.CreatedAt = conv.UpdatedAt
	}
	return c.list.Upsert(conv)
}
