package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/streamchat/core"
)

// CallbackType defines the specific lifecycle points where callbacks can be executed.
//
// Callbacks provide a flexible mechanism for hooking into a session's send
// pipeline without modifying core logic. Each type represents a specific point
// in the exchange lifecycle where custom logic can be injected.
//
// Available callback types:
//   - BeforeDispatch: right before the chat request goes out
//   - OnPhaseChange: on every session phase transition
//   - AfterCommit: after a finished exchange was persisted
//   - OnError: when an exchange fails or cannot be persisted
//
// Callbacks are executed synchronously. Only BeforeDispatch can influence the
// flow: returning an error aborts the send and rolls it back.
type CallbackType string

const (
	// CallbackBeforeDispatch is triggered before the chat request is dispatched.
	// Use for request validation, auditing or rate limiting.
	CallbackBeforeDispatch CallbackType = "before_dispatch"

	// CallbackOnPhaseChange is triggered on every session phase transition.
	// Use for UI state, metrics or tracing.
	CallbackOnPhaseChange CallbackType = "on_phase_change"

	// CallbackAfterCommit is triggered after the exchange was persisted.
	// Use for cache invalidation or notifications.
	CallbackAfterCommit CallbackType = "after_commit"

	// CallbackOnError is triggered when an exchange fails.
	// Use for alerting or to render a sync warning.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext provides context information for callback execution.
type CallbackContext struct {
	// SessionID is the engine-local session identifier.
	SessionID string

	// ConversationID is the store-assigned conversation id, empty until the
	// first successful commit.
	ConversationID string

	// CallbackType indicates which callback type triggered this execution.
	CallbackType CallbackType

	// Request is the outgoing chat request (BeforeDispatch only).
	Request *core.ChatRequest

	// From and To describe a phase transition (OnPhaseChange only).
	From core.SessionPhase
	To   core.SessionPhase

	// Message is the finalized assistant message (AfterCommit only).
	Message *core.Message

	// Err is the failure (OnError only).
	Err error

	// Metadata provides extensible storage for custom callback data.
	Metadata map[string]any
}

// Callback defines the interface for session lifecycle hooks.
//
// Implementations should be fast: callbacks run synchronously on the session
// goroutine and block the exchange while they execute.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	cb := NewFunctionCallback(
//	    CallbackAfterCommit,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("saved %s", cc.ConversationID)
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager orchestrates callback execution throughout the session lifecycle.
//
// Callbacks are executed in registration order, and any callback returning
// an error stops execution of the remaining callbacks of that type.
// Registration and execution are safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates a new callback manager instance.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback to the manager for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks executes all registered callbacks for the specified type.
//
// Returns the first error returned by any callback, or nil if all succeed.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := cm.callbacks[callbackType]
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType
	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}

	return nil
}

// LoggingCallback forwards lifecycle events to a logging function.
//
// Example:
//
//	callback := NewLoggingCallback(CallbackOnPhaseChange, func(m string) {
//	    log.Printf("[SESSION] %s", m)
//	})
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(message string)
}

// NewLoggingCallback creates a new logging callback.
func NewLoggingCallback(callbackType CallbackType, logger func(message string)) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the lifecycle event with context information.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}

	var detail string
	switch c.callbackType {
	case CallbackOnPhaseChange:
		detail = fmt.Sprintf("%s -> %s", callbackCtx.From, callbackCtx.To)
	case CallbackOnError:
		detail = fmt.Sprintf("%v", callbackCtx.Err)
	case CallbackAfterCommit:
		if callbackCtx.Message != nil {
			detail = fmt.Sprintf("message %s", callbackCtx.Message.ID)
		}
	case CallbackBeforeDispatch:
		if callbackCtx.Request != nil {
			detail = fmt.Sprintf("%d chars", len(callbackCtx.Request.Message))
		}
	}

	c.logger(fmt.Sprintf("[%s] Session: %s, Conversation: %s, %s",
		c.callbackType, callbackCtx.SessionID, callbackCtx.ConversationID, detail))
	return nil
}

// RequestValidationCallback validates outgoing chat requests.
//
// The validator can enforce business rules (length limits, banned content)
// and return an error to reject the request. A rejected request is rolled
// back like any other failed send.
//
// Example:
//
//	validator := func(req core.ChatRequest) error {
//	    if len(req.Message) > 4000 {
//	        return errors.New("message too long")
//	    }
//	    return nil
//	}
//	callback := NewRequestValidationCallback(validator)
type RequestValidationCallback struct {
	validator func(req core.ChatRequest) error
}

// NewRequestValidationCallback creates a new request validation callback.
func NewRequestValidationCallback(validator func(req core.ChatRequest) error) *RequestValidationCallback {
	return &RequestValidationCallback{
		validator: validator,
	}
}

// Type returns the callback type (always CallbackBeforeDispatch).
func (c *RequestValidationCallback) Type() CallbackType {
	return CallbackBeforeDispatch
}

// Execute validates the request, if present.
func (c *RequestValidationCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.validator != nil && callbackCtx.Request != nil {
		return c.validator(*callbackCtx.Request)
	}
	return nil
}
