// Package reconcile merges change-feed notifications into local state.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/streamchat/core"
	"github.com/hupe1980/streamchat/engine"
	"github.com/hupe1980/streamchat/logging"
	"github.com/hupe1980/streamchat/state"
)

// Options configures a Reconciler.
type Options struct {
	// Fetcher re-reads a conversation when a notification carries no record.
	Fetcher interface {
		Get(ctx context.Context, id string) (*core.Conversation, error)
	}
	// Loader lists the owner's conversations when the feed asks for a resync.
	Loader interface {
		List(ctx context.Context, ownerID string) ([]*core.Conversation, error)
	}
	Logger logging.Logger
}

// Reconciler applies insert, update and delete notifications for one owner
// to the local conversation list and to the engine's open sessions.
//
// Notifications are applied one at a time in delivery order. Deletes are
// idempotent; inserts and updates replace the local entry wholesale.
type Reconciler struct {
	feed    core.ChangeFeed
	list    *state.List
	engine  *engine.Engine
	fetcher interface {
		Get(ctx context.Context, id string) (*core.Conversation, error)
	}
	loader interface {
		List(ctx context.Context, ownerID string) ([]*core.Conversation, error)
	}
	logger logging.Logger
}

// New creates a Reconciler. eng may be nil when no sessions are open.
func New(feed core.ChangeFeed, list *state.List, eng *engine.Engine, optFns ...func(o *Options)) *Reconciler {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Reconciler{
		feed:    feed,
		list:    list,
		engine:  eng,
		fetcher: opts.Fetcher,
		loader:  opts.Loader,
		logger:  logging.OrNoOp(opts.Logger),
	}
}

// Run subscribes to ownerID's notifications and applies them until ctx is
// done or the feed closes.
func (r *Reconciler) Run(ctx context.Context, ownerID string) error {
	ch, err := r.subscribe(ctx, ownerID)
	if err != nil {
		return err
	}
	return r.consume(ctx, ownerID, ch)
}

// Start subscribes synchronously and applies notifications in the
// background. The returned channel yields the loop's result once it ends.
func (r *Reconciler) Start(ctx context.Context, ownerID string) (<-chan error, error) {
	ch, err := r.subscribe(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() { done <- r.consume(ctx, ownerID, ch) }()
	return done, nil
}

func (r *Reconciler) subscribe(ctx context.Context, ownerID string) (<-chan core.ChangeNotification, error) {
	ch, err := r.feed.Subscribe(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("subscribe to change feed: %w", err)
	}
	r.logger.Info("Reconciler started", "owner_id", ownerID)
	return ch, nil
}

func (r *Reconciler) consume(ctx context.Context, ownerID string, ch <-chan core.ChangeNotification) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-ch:
			if !ok {
				r.logger.Info("Change feed closed", "owner_id", ownerID)
				return ctx.Err()
			}
			if n.OwnerID != "" && n.OwnerID != ownerID {
				r.logger.Warn("Notification for foreign owner dropped", "owner_id", n.OwnerID)
				continue
			}
			if err := r.Apply(ctx, n); err != nil {
				r.logger.Warn("Notification not applied", "type", string(n.Type), "conversation_id", n.ConversationID, "error", err.Error())
			}
		}
	}
}

// Apply merges a single notification.
func (r *Reconciler) Apply(ctx context.Context, n core.ChangeNotification) error {
	switch n.Type {
	case core.ChangeDelete:
		return r.applyDelete(n.ConversationID)
	case core.ChangeInsert, core.ChangeUpdate:
		return r.applyUpsert(ctx, n)
	case core.ChangeResync:
		return r.resync(ctx, n.OwnerID)
	default:
		return fmt.Errorf("unknown change type %q", n.Type)
	}
}

func (r *Reconciler) applyDelete(id string) error {
	removed, err := r.list.Remove(id)
	if err != nil {
		return err
	}
	if !removed {
		r.logger.Debug("Delete already applied", "conversation_id", id)
	}

	if r.engine == nil {
		return nil
	}
	for _, sess := range r.engine.SessionsFor(id) {
		if err := sess.Reset(); err != nil {
			return err
		}
		r.logger.Info("Open conversation deleted remotely", "conversation_id", id, "session_id", sess.ID())
	}
	return nil
}

func (r *Reconciler) applyUpsert(ctx context.Context, n core.ChangeNotification) error {
	conv := n.Record
	if conv == nil {
		if r.fetcher == nil {
			return errors.New("notification without record and no fetcher configured")
		}
		fetched, err := r.fetcher.Get(ctx, n.ConversationID)
		if errors.Is(err, core.ErrNotFound) {
			// Deleted in the meantime; the delete notification follows.
			return nil
		}
		if err != nil {
			return err
		}
		conv = fetched
	}
	if conv.ID == "" {
		conv = conv.Clone()
		conv.ID = n.ConversationID
	}

	if err := r.list.Upsert(conv); err != nil {
		return err
	}

	if r.engine == nil {
		return nil
	}
	for _, sess := range r.engine.SessionsFor(conv.ID) {
		if err := sess.Store().Replace(conv); err != nil {
			return err
		}
	}
	return nil
}

// resync reloads ownerID's conversations wholesale. Conversations that are
// gone clear their open sessions, the rest replace them.
func (r *Reconciler) resync(ctx context.Context, ownerID string) error {
	if r.loader == nil {
		return errors.New("resync requested and no loader configured")
	}
	if ownerID == "" {
		return errors.New("resync without owner")
	}

	convs, err := r.loader.List(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("reload conversations: %w", err)
	}
	previous, err := r.list.Items()
	if err != nil {
		return err
	}
	if err := r.list.Reset(convs); err != nil {
		return err
	}
	r.logger.Info("Conversation list resynced", "owner_id", ownerID, "count", len(convs))

	if r.engine == nil {
		return nil
	}

	current := make(map[string]struct{}, len(convs))
	for _, conv := range convs {
		current[conv.ID] = struct{}{}
		for _, sess := range r.engine.SessionsFor(conv.ID) {
			if err := sess.Store().Replace(conv); err != nil {
				return err
			}
		}
	}
	for _, conv := range previous {
		if _, ok := current[conv.ID]; ok {
			continue
		}
		for _, sess := range r.engine.SessionsFor(conv.ID) {
			if err := sess.Reset(); err != nil {
				return err
			}
		}
	}
	return nil
}
