// Package store provides an in-memory durable conversation store with an
// owner-scoped change feed. It is safe for concurrent access and best suited
// for tests, the CLI demo mode and ephemeral servers.
package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/streamchat/core"
	"github.com/hupe1980/streamchat/logging"
)

// Compile-time interface assertions.
var (
	_ core.ConversationStore = (*InMemoryStore)(nil)
	_ core.ChangeFeed        = (*InMemoryStore)(nil)
)

// InMemoryStore keeps conversations in a process local map. Every returned
// conversation is cloned to prevent external mutation of internal state.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*core.Conversation
	subscribers   map[string]map[*subscriber]struct{}
	now           func() time.Time
	logger        logging.Logger
}

// Options configures an InMemoryStore.
type Options struct {
	Now    func() time.Time
	Logger logging.Logger
}

// NewInMemoryStore constructs an empty in-memory conversation store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &InMemoryStore{
		conversations: make(map[string]*core.Conversation),
		subscribers:   make(map[string]map[*subscriber]struct{}),
		now:           opts.Now,
		logger:        logging.OrNoOp(opts.Logger),
	}
}

// Create stores a new conversation and assigns its id.
func (s *InMemoryStore) Create(_ context.Context, ownerID string, messages []core.Message) (core.CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	conv := &core.Conversation{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Messages:  core.CloneMessages(messages),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[conv.ID] = conv
	s.publishLocked(core.ChangeInsert, conv)

	return core.CommitResult{ID: conv.ID, CreatedAt: now, UpdatedAt: now}, nil
}

// Update overwrites the message list of an existing conversation.
func (s *InMemoryStore) Update(_ context.Context, id string, messages []core.Message, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return core.ErrNotFound
	}
	conv.Messages = core.CloneMessages(messages)
	conv.UpdatedAt = updatedAt.UTC()
	s.publishLocked(core.ChangeUpdate, conv)
	return nil
}

// Delete removes a conversation. Deleting an absent id is a no-op.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil
	}
	delete(s.conversations, id)
	s.publishLocked(core.ChangeDelete, &core.Conversation{ID: id, OwnerID: conv.OwnerID})
	return nil
}

// Get returns a clone of the conversation or core.ErrNotFound.
func (s *InMemoryStore) Get(_ context.Context, id string) (*core.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return conv.Clone(), nil
}

// List returns the owner's conversations, most recently updated first.
func (s *InMemoryStore) List(_ context.Context, ownerID string) ([]*core.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*core.Conversation, 0)
	for _, c := range s.conversations {
		if c.OwnerID == ownerID {
			out = append(out, c.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *core.Conversation) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	return out, nil
}

// Subscribe delivers change notifications for ownerID until ctx is done.
// Notifications are delivered in commit order and never dropped.
func (s *InMemoryStore) Subscribe(ctx context.Context, ownerID string) (<-chan core.ChangeNotification, error) {
	sub := &subscriber{notify: make(chan struct{}, 1), out: make(chan core.ChangeNotification)}

	s.mu.Lock()
	if s.subscribers[ownerID] == nil {
		s.subscribers[ownerID] = make(map[*subscriber]struct{})
	}
	s.subscribers[ownerID][sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		sub.pump(ctx)
		s.mu.Lock()
		delete(s.subscribers[ownerID], sub)
		s.mu.Unlock()
	}()

	s.logger.Debug("Change feed subscribed", "owner_id", ownerID)
	return sub.out, nil
}

func (s *InMemoryStore) publishLocked(t core.ChangeType, conv *core.Conversation) {
	n := core.ChangeNotification{Type: t, ConversationID: conv.ID, OwnerID: conv.OwnerID}
	if t != core.ChangeDelete {
		n.Record = conv.Clone()
	}
	for sub := range s.subscribers[conv.OwnerID] {
		sub.push(n)
	}
}

// subscriber buffers notifications so publishers never block on a slow reader.
type subscriber struct {
	mu     sync.Mutex
	queue  []core.ChangeNotification
	notify chan struct{}
	out    chan core.ChangeNotification
}

func (s *subscriber) push(n core.ChangeNotification) {
	s.mu.Lock()
	s.queue = append(s.queue, n)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump(ctx context.Context) {
	defer close(s.out)
	for {
		s.mu.Lock()
		pending := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, n := range pending {
			select {
			case s.out <- n:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return
		}
	}
}
