package testutil

import (
	"time"

	"github.com/hupe1980/streamchat/core"
)

// ConversationBuilder helps construct conversations with fluent chaining for tests.
// Example:
//
//	conv := NewConversationBuilder("conv-1").Owner("alice").Exchange("q", "a").Build()
type ConversationBuilder struct {
	conv core.Conversation
}

// NewConversationBuilder creates a new builder for a conversation with the given id.
func NewConversationBuilder(id string) *ConversationBuilder {
	now := time.Now().UTC()
	return &ConversationBuilder{conv: core.Conversation{ID: id, CreatedAt: now, UpdatedAt: now}}
}

// Owner sets the owning user (chainable).
func (b *ConversationBuilder) Owner(ownerID string) *ConversationBuilder {
	b.conv.OwnerID = ownerID
	return b
}

// UpdatedAt sets the last update time (chainable).
func (b *ConversationBuilder) UpdatedAt(t time.Time) *ConversationBuilder {
	b.conv.UpdatedAt = t
	return b
}

// Message appends a single message (chainable).
func (b *ConversationBuilder) Message(m core.Message) *ConversationBuilder {
	b.conv.Messages = append(b.conv.Messages, m)
	return b
}

// Exchange appends a user question and its assistant answer (chainable).
func (b *ConversationBuilder) Exchange(question, answer string) *ConversationBuilder {
	b.conv.Messages = append(b.conv.Messages,
		NewMessageBuilder(core.RoleUser).Text(question).Build(),
		NewMessageBuilder(core.RoleAssistant).Text(answer).Build(),
	)
	return b
}

// Build returns a *core.Conversation.
func (b *ConversationBuilder) Build() *core.Conversation {
	return b.conv.Clone()
}

// MessageBuilder constructs messages for tests.
type MessageBuilder struct {
	msg core.Message
}

// NewMessageBuilder creates a builder for a message with a fresh id.
func NewMessageBuilder(role core.Role) *MessageBuilder {
	return &MessageBuilder{msg: core.Message{ID: core.NewID(), Role: role, Timestamp: time.Now().UTC()}}
}

// ID overrides the message id (chainable).
func (b *MessageBuilder) ID(id string) *MessageBuilder {
	b.msg.ID = id
	return b
}

// Text sets the message text (chainable).
func (b *MessageBuilder) Text(text string) *MessageBuilder {
	b.msg.Content.Text = text
	return b
}

// Concepts attaches concepts (chainable).
func (b *MessageBuilder) Concepts(cs ...core.Concept) *MessageBuilder {
	b.msg.Content.Concepts = cs
	return b
}

// References attaches references (chainable).
func (b *MessageBuilder) References(rs ...core.Reference) *MessageBuilder {
	b.msg.Content.References = rs
	return b
}

// Build returns the message.
func (b *MessageBuilder) Build() core.Message {
	return b.msg.Clone()
}
