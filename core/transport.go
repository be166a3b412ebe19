package core

import (
	"context"
	"io"
)

// ChatRequest is the logical dispatch request sent to the far end.
type ChatRequest struct {
	Message        string  `json:"message"`
	ConversationID *string `json:"conversationId"`
	UserID         string  `json:"user_id"`

	// Credential is sent as a bearer header, never in the body.
	Credential string `json:"-"`
}

// Dispatcher sends a chat request and returns the response stream once the
// far end accepted it. Non-2xx responses map to AuthError or DispatchError;
// network failures map to TransportError.
type Dispatcher interface {
	Dispatch(ctx context.Context, req ChatRequest) (io.ReadCloser, error)
}

// CredentialProvider supplies the current bearer credential. Its structure is
// opaque to this module.
type CredentialProvider interface {
	Credential(ctx context.Context) (string, error)
}

// Reauthenticator is optionally implemented by a CredentialProvider to receive
// the re-authentication redirect signal.
type Reauthenticator interface {
	Reauthenticate(ctx context.Context) error
}

// RetrievalProvider is the opaque source of concepts and references.
type RetrievalProvider interface {
	Concepts(ctx context.Context, query string, limit int) ([]Concept, error)
	References(ctx context.Context, text string, limit int) ([]Reference, error)
}
