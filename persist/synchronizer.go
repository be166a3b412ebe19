// Package persist commits finished exchanges to the durable conversation store.
package persist

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/streamchat/core"
	"github.com/hupe1980/streamchat/logging"
)

// Options configures a Synchronizer.
type Options struct {
	// Retries is the number of extra attempts for a failed commit.
	Retries int
	Logger  logging.Logger
	Now     func() time.Time
}

// Synchronizer creates or overwrites conversations in a core.ConversationStore.
// Every commit re-sends the full authoritative message list, so repeating a
// commit is a no-op overwrite rather than a duplicate append.
type Synchronizer struct {
	store   core.ConversationStore
	retries int
	logger  logging.Logger
	now     func() time.Time
}

// NewSynchronizer creates a Synchronizer for store.
func NewSynchronizer(store core.ConversationStore, optFns ...func(o *Options)) *Synchronizer {
	opts := Options{Retries: 1, Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Synchronizer{store: store, retries: opts.Retries, logger: logging.OrNoOp(opts.Logger), now: opts.Now}
}

// Commit persists messages. With an empty conversationID it creates a new
// conversation and returns the store-assigned id; otherwise it overwrites the
// existing one and bumps its updated_at. Failures are wrapped in
// core.PersistenceError.
func (s *Synchronizer) Commit(ctx context.Context, ownerID, conversationID string, messages []core.Message) (string, error) {
	msgs := core.CloneMessages(messages)

	if conversationID == "" {
		res, err := s.store.Create(ctx, ownerID, msgs)
		if err != nil {
			s.logger.Error("Create conversation failed", "owner_id", ownerID, "error", err.Error())
			return "", &core.PersistenceError{Err: err}
		}
		if res.ID == "" {
			return "", &core.PersistenceError{Err: errors.New("store returned empty conversation id")}
		}
		s.logger.Debug("Conversation created", "conversation_id", res.ID, "message_count", len(msgs))
		return res.ID, nil
	}

	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if err = s.store.Update(ctx, conversationID, msgs, s.now().UTC()); err == nil {
			s.logger.Debug("Conversation updated", "conversation_id", conversationID, "message_count", len(msgs), "attempt", attempt)
			return conversationID, nil
		}
		if errors.Is(err, core.ErrNotFound) || ctx.Err() != nil {
			break
		}
	}
	s.logger.Error("Update conversation failed", "conversation_id", conversationID, "error", err.Error())
	return conversationID, &core.PersistenceError{ConversationID: conversationID, Err: err}
}

// Delete removes a conversation. Deleting an absent conversation succeeds.
func (s *Synchronizer) Delete(ctx context.Context, conversationID string) error {
	if err := s.store.Delete(ctx, conversationID); err != nil && !errors.Is(err, core.ErrNotFound) {
		return &core.PersistenceError{ConversationID: conversationID, Err: err}
	}
	return nil
}

// Load lists the owner's conversations.
func (s *Synchronizer) Load(ctx context.Context, ownerID string) ([]*core.Conversation, error) {
	return s.store.List(ctx, ownerID)
}

// Fetch returns one conversation.
func (s *Synchronizer) Fetch(ctx context.Context, conversationID string) (*core.Conversation, error) {
	return s.store.Get(ctx, conversationID)
}
