package core

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrServerUnreachable is returned once transport retries are exhausted.
	ErrServerUnreachable = errors.New("server unreachable after multiple attempts")
	// ErrEmptyMessage rejects empty or whitespace-only submissions.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrSessionBusy rejects a submission while another exchange is in flight.
	ErrSessionBusy = errors.New("session already has an exchange in flight")
	// ErrStaleToken rejects operations on a superseded placeholder.
	ErrStaleToken = errors.New("stale placeholder token")
	// ErrNotFound is returned when a conversation does not exist.
	ErrNotFound = errors.New("conversation not found")
	// ErrConversationIDImmutable rejects re-assigning a conversation id.
	ErrConversationIDImmutable = errors.New("conversation id already assigned")
	// ErrMetadataAlreadySet rejects a second metadata assignment.
	ErrMetadataAlreadySet = errors.New("metadata already set")
	// ErrClosed is returned by actors after Close.
	ErrClosed = errors.New("closed")
)

// TransportError is a network or timeout failure. It is retryable unless
// Midstream is set: a connection lost after the stream began is not resent.
type TransportError struct {
	Err       error
	Midstream bool
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error: %v", e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError reports a rejected credential (401-class response).
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string { return fmt.Sprintf("credential rejected (status %d)", e.Status) }

// AuthLoopError reports that the re-authentication redirect cap was exceeded.
type AuthLoopError struct {
	Attempts int
}

func (e *AuthLoopError) Error() string {
	return fmt.Sprintf("authentication redirect loop after %d attempts", e.Attempts)
}

// StreamProtocolError carries the message of an error frame verbatim.
type StreamProtocolError struct {
	Message string
}

func (e *StreamProtocolError) Error() string { return e.Message }

// DispatchError is a non-2xx, non-auth response received before streaming began.
type DispatchError struct {
	Status int
	Body   string
}

func (e *DispatchError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("dispatch failed with status %d", e.Status)
	}
	return fmt.Sprintf("dispatch failed with status %d: %s", e.Status, e.Body)
}

// PersistenceError reports that committing a finished exchange failed.
type PersistenceError struct {
	ConversationID string
	Err            error
}

func (e *PersistenceError) Error() string {
	if e.ConversationID == "" {
		return fmt.Sprintf("persist new conversation: %v", e.Err)
	}
	return fmt.Sprintf("persist conversation %s: %v", e.ConversationID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transport failure eligible for backoff.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && !te.Midstream
}

// IsAuth reports whether err is a rejected credential.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// UserMessage maps err to the text shown to the user. Cancellation maps to "".
func UserMessage(err error) string {
	if err == nil || errors.Is(err, context.Canceled) {
		return ""
	}

	var (
		loopErr    *AuthLoopError
		authErr    *AuthError
		protoErr   *StreamProtocolError
		persistErr *PersistenceError
		transErr   *TransportError
	)

	switch {
	case errors.As(err, &loopErr):
		return "Re-authentication failed repeatedly. Clear your credentials and sign in again."
	case errors.As(err, &authErr):
		return "Your session has expired. Please sign in again."
	case errors.As(err, &protoErr):
		return protoErr.Message
	case errors.As(err, &persistErr):
		return "The conversation could not be saved. It will be retried with your next message."
	case errors.Is(err, ErrServerUnreachable):
		return "Could not reach the server after multiple attempts."
	case errors.Is(err, ErrSessionBusy):
		return "Please wait for the current response to finish."
	case errors.Is(err, ErrEmptyMessage):
		return "Type a message first."
	case errors.As(err, &transErr) && transErr.Midstream:
		return "The connection dropped while the answer was streaming. Please send your message again."
	case IsRetryable(err):
		return "Connection problem, retrying..."
	default:
		return "Something went wrong while talking to the server."
	}
}
