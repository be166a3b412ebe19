package core

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	// RoleUser marks a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant marks a message produced by the assistant.
	RoleAssistant Role = "assistant"
)

// Concept is a retrieval hit attached to a finished assistant response.
type Concept struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Reference is a bibliographic pointer attached to a finished assistant response.
type Reference struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	Year   int    `json:"year"`
}

// MessageContent is the body of a message. Concepts and References stay nil
// until a metadata frame has been applied.
type MessageContent struct {
	Text       string      `json:"text"`
	Concepts   []Concept   `json:"concepts,omitempty"`
	References []Reference `json:"references,omitempty"`
}

// Clone returns a deep copy of the content.
func (c MessageContent) Clone() MessageContent {
	return MessageContent{
		Text:       c.Text,
		Concepts:   slices.Clone(c.Concepts),
		References: slices.Clone(c.References),
	}
}

// HasMetadata reports whether concepts or references were attached.
func (c MessageContent) HasMetadata() bool {
	return c.Concepts != nil || c.References != nil
}

// Message is one entry of a conversation transcript. A finalized message is
// immutable; only the in-flight assistant placeholder is ever mutated.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   MessageContent `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	m.Content = m.Content.Clone()
	return m
}

// NewUserMessage creates a user-authored message with a fresh id.
func NewUserMessage(text string) Message {
	return Message{ID: NewID(), Role: RoleUser, Content: MessageContent{Text: text}, Timestamp: time.Now().UTC()}
}

// NewAssistantMessage creates an empty assistant message with a fresh id.
func NewAssistantMessage() Message {
	return Message{ID: NewID(), Role: RoleAssistant, Timestamp: time.Now().UTC()}
}

// CloneMessages deep-copies a message slice.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// NewID generates a new unique identifier for messages.
//
// Conversation ids are never generated here: they are assigned by the durable
// store on first commit.
func NewID() string { return uuid.NewString() }
