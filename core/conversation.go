package core

import (
	"context"
	"time"
)

const (
	titleLimit   = 30
	defaultTitle = "New conversation"
)

// Conversation is an owner-scoped transcript as held by the durable store.
// ID is empty until the store has assigned one on first commit.
type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"user_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Messages = CloneMessages(c.Messages)
	return &clone
}

// Title derives a sidebar label from the first user message.
func (c *Conversation) Title() string {
	for _, m := range c.Messages {
		if m.Role != RoleUser {
			continue
		}
		r := []rune(m.Content.Text)
		if len(r) > titleLimit {
			r = r[:titleLimit]
		}
		return string(r) + "..."
	}
	return defaultTitle
}

// CommitResult is what the durable store returns when it creates a conversation.
type CommitResult struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationStore is the durable conversation store collaborator.
//
// Update overwrites the full message list; callers always send the
// authoritative list so a retried update is a no-op overwrite.
type ConversationStore interface {
	Create(ctx context.Context, ownerID string, messages []Message) (CommitResult, error)
	Update(ctx context.Context, id string, messages []Message, updatedAt time.Time) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Conversation, error)
	List(ctx context.Context, ownerID string) ([]*Conversation, error)
}

// ChangeType is the kind of row-level mutation reported by a change feed.
type ChangeType string

const (
	// ChangeInsert reports a newly created conversation.
	ChangeInsert ChangeType = "INSERT"
	// ChangeUpdate reports a modified conversation.
	ChangeUpdate ChangeType = "UPDATE"
	// ChangeDelete reports a removed conversation.
	ChangeDelete ChangeType = "DELETE"
	// ChangeResync reports that notifications may have been missed, for
	// example across a reconnect. The owner's conversations must be reloaded.
	ChangeResync ChangeType = "RESYNC"
)

// ChangeNotification is a single change-feed delivery. Record may be nil for
// deletes, and for inserts/updates when the feed only carries ids.
type ChangeNotification struct {
	Type           ChangeType    `json:"type"`
	ConversationID string        `json:"conversation_id"`
	OwnerID        string        `json:"owner_id"`
	Record         *Conversation `json:"record,omitempty"`
}

// ChangeFeed delivers notifications for one owner's conversations. The
// returned channel is closed when ctx is done or the feed terminates.
type ChangeFeed interface {
	Subscribe(ctx context.Context, ownerID string) (<-chan ChangeNotification, error)
}
