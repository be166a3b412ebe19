package engine

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/streamchat/core"
	"github.com/hupe1980/streamchat/sse"
	"github.com/hupe1980/streamchat/state"
)

// Session is the Stream Session Controller of one open conversation.
//
// State machine:
//
//	Idle --submit--> Sending --dispatch ok--> Streaming --stream end--> Finalizing --commit--> Idle
//	Sending/Streaming --failure--> Failed --rollback--> Idle
//	Finalizing --commit fails--> Failed --> Idle (transcript kept, marked unsynced)
//
// At most one exchange is in flight per session. Every mutation of the
// transcript goes through the session's state.Store, so a concurrent
// change-feed reconciliation never races with the stream reader.
type Session struct {
	id     string
	engine *Engine
	store  *state.Store

	mu        sync.Mutex
	cancel    context.CancelFunc
	inflight  chan struct{}
	lastReply *core.Message
	closed    bool
}

// ID returns the engine-local session identifier.
func (s *Session) ID() string { return s.id }

// Store exposes the session's state actor for reconciliation.
func (s *Session) Store() *state.Store { return s.store }

// View returns a snapshot of the session transcript and phase.
func (s *Session) View() (state.View, error) { return s.store.Snapshot() }

// Send submits text and streams the assistant response.
//
// Immediate errors are core.ErrEmptyMessage for empty or whitespace-only
// input and core.ErrSessionBusy while another exchange is in flight. On
// success the user message and an empty assistant placeholder are already
// part of the transcript when Send returns.
//
// Returns:
//   - events: Delta, Metadata and Error events in arrival order; closed when
//     the exchange is over
//   - errs: at most one terminal error, then closed. Cancellation yields no
//     error; a persistence failure yields a core.PersistenceError while the
//     finalized reply stays in the transcript
//
// Example:
//
//	events, errs, err := sess.Send(ctx, "Hello")
//	if err != nil {
//	    return err
//	}
//	for ev := range events {
//	    render(ev)
//	}
//	if err := <-errs; err != nil {
//	    showBanner(core.UserMessage(err))
//	}
func (s *Session) Send(ctx context.Context, text string) (<-chan core.StreamEvent, <-chan error, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil, core.ErrEmptyMessage
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, core.ErrClosed
	}
	if err := s.store.Begin(); err != nil {
		s.mu.Unlock()
		return nil, nil, err
	}
	sendCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.inflight = done
	s.lastReply = nil
	s.mu.Unlock()

	s.firePhase(ctx, core.PhaseIdle, core.PhaseSending)

	if err := s.store.AppendUser(core.NewUserMessage(text)); err != nil {
		s.release(cancel, done)
		return nil, nil, err
	}
	tok, err := s.store.AppendAssistantPlaceholder()
	if err != nil {
		s.release(cancel, done)
		return nil, nil, err
	}

	eventsCh := make(chan core.StreamEvent, s.engine.config.EventBufferSize)
	errorsCh := make(chan error, 1)

	go func() {
		defer func() {
			close(eventsCh)
			close(errorsCh)
			s.release(cancel, done)
		}()

		if err := s.run(sendCtx, tok, text, eventsCh); err != nil {
			errorsCh <- err
		}
	}()

	return eventsCh, errorsCh, nil
}

// SendSync submits text and blocks until the exchange is over. It returns
// the finalized assistant message. On a persistence failure the message is
// returned together with the core.PersistenceError.
func (s *Session) SendSync(ctx context.Context, text string) (core.Message, error) {
	eventsCh, errorsCh, err := s.Send(ctx, text)
	if err != nil {
		return core.Message{}, err
	}

	for range eventsCh {
	}
	err = <-errorsCh

	s.mu.Lock()
	reply := s.lastReply
	s.mu.Unlock()

	if reply == nil {
		if err == nil {
			err = ctx.Err()
		}
		if err == nil {
			err = context.Canceled
		}
		return core.Message{}, err
	}
	return *reply, err
}

// Cancel aborts the in-flight exchange, if any. The optimistic messages are
// rolled back and no error is reported.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the in-flight exchange, if any, has fully settled.
func (s *Session) Wait() {
	s.mu.Lock()
	done := s.inflight
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Clear resets the session to an empty new conversation. It fails with
// core.ErrSessionBusy while an exchange is in flight.
func (s *Session) Clear() error {
	phase, err := s.store.Phase()
	if err != nil {
		return err
	}
	if phase != core.PhaseIdle {
		return core.ErrSessionBusy
	}
	return s.store.Clear()
}

// Reset cancels any in-flight exchange and empties the session. It is used
// when the open conversation was deleted.
func (s *Session) Reset() error {
	s.Cancel()
	s.Wait()
	return s.store.Clear()
}

func (s *Session) release(cancel context.CancelFunc, done chan struct{}) {
	cancel()

	s.mu.Lock()
	if s.inflight == done {
		s.cancel = nil
		s.inflight = nil
	}
	s.mu.Unlock()

	close(done)
}

func (s *Session) shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.Cancel()
	s.Wait()
	s.store.Close()
}

// run drives one exchange after the optimistic insert.
func (s *Session) run(ctx context.Context, tok state.Token, text string, out chan<- core.StreamEvent) error {
	e := s.engine
	convID, _ := s.store.ConversationID()

	ctx, span := e.tracer.Start(ctx, "streamchat.send", trace.WithAttributes(
		attribute.String("streamchat.session_id", s.id),
		attribute.String("streamchat.conversation_id", convID),
		attribute.Int("streamchat.message_length", len(text)),
	))
	defer span.End()

	if err := s.exchange(ctx, tok, text, convID, out); err != nil {
		return s.fail(ctx, span, tok, err)
	}
	return s.finish(ctx, span, tok)
}

// exchange dispatches the request and consumes the stream into the store.
func (s *Session) exchange(ctx context.Context, tok state.Token, text, convID string, out chan<- core.StreamEvent) error {
	e := s.engine

	if err := e.guard.CheckAuth(); err != nil {
		return err
	}

	req := core.ChatRequest{Message: text, UserID: e.userID}
	if convID != "" {
		req.ConversationID = &convID
	}
	if e.credentials != nil {
		cred, err := e.credentials.Credential(ctx)
		if err != nil {
			return err
		}
		req.Credential = cred
	}

	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeDispatch, &CallbackContext{
		SessionID:      s.id,
		ConversationID: convID,
		Request:        &req,
	}); err != nil {
		return err
	}

	var body io.ReadCloser
	err := e.guard.Do(ctx, func(ctx context.Context, attempt int) error {
		start := time.Now()
		rc, err := e.dispatcher.Dispatch(ctx, req)
		e.logDispatch(attempt, time.Since(start), err)
		body = rc
		return err
	})
	if core.IsAuth(err) {
		return s.redirect(ctx, err)
	}
	if err != nil {
		return err
	}
	defer body.Close()

	// Closing the body unblocks a pending read when the send is cancelled.
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	s.transition(ctx, core.PhaseStreaming)

	dec := sse.NewDecoder(body, e.logger)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &core.TransportError{Err: err, Midstream: true}
		}

		switch v := ev.(type) {
		case core.DeltaEvent:
			if err := s.store.AppendDelta(tok, v.Text); err != nil {
				return err
			}
		case core.MetadataEvent:
			if err := s.store.SetMetadata(tok, v.Concepts, v.References); err != nil {
				if !errors.Is(err, core.ErrMetadataAlreadySet) {
					return err
				}
				e.logger.Warn("Duplicate metadata frame ignored", "session_id", s.id)
				continue
			}
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}

		if v, ok := ev.(core.ErrorEvent); ok {
			return &core.StreamProtocolError{Message: v.Message}
		}
	}

	return ctx.Err()
}

// redirect records a rejected credential and forwards the redirect signal.
func (s *Session) redirect(ctx context.Context, authErr error) error {
	e := s.engine

	issue, err := e.guard.RecordAuthFailure(authErr)
	if !issue {
		return err
	}
	if r, ok := e.credentials.(core.Reauthenticator); ok {
		if rerr := r.Reauthenticate(ctx); rerr != nil {
			e.logger.Warn("Re-authentication failed", "error", rerr.Error())
		}
	}
	return err
}

// fail rolls back exactly this submission's optimistic messages.
func (s *Session) fail(ctx context.Context, span trace.Span, tok state.Token, cause error) error {
	e := s.engine

	s.transition(ctx, core.PhaseFailed)
	if err := s.store.Rollback(tok); err != nil && !errors.Is(err, core.ErrStaleToken) {
		e.logger.Error("Rollback failed", "session_id", s.id, "error", err.Error())
	}
	s.transition(ctx, core.PhaseIdle)

	if errors.Is(cause, context.Canceled) || errors.Is(cause, core.ErrStaleToken) {
		span.AddEvent("cancelled")
		e.logger.Info("Exchange cancelled", "session_id", s.id)
		return nil
	}

	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	e.logger.Warn("Exchange failed", "session_id", s.id, "error", cause.Error())
	s.fireError(ctx, cause)
	return cause
}

// finish freezes the reply and commits the full transcript.
func (s *Session) finish(ctx context.Context, span trace.Span, tok state.Token) error {
	e := s.engine

	reply, err := s.store.Finalize(tok)
	if err != nil {
		return s.fail(ctx, span, tok, err)
	}
	e.guard.Reset()

	s.mu.Lock()
	s.lastReply = &reply
	s.mu.Unlock()

	s.transition(ctx, core.PhaseFinalizing)

	if e.committer == nil {
		s.transition(ctx, core.PhaseIdle)
		return nil
	}

	msgs, err := s.store.Messages()
	if err != nil {
		return err
	}
	convID, _ := s.store.ConversationID()

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.CommitTimeout)
	defer cancel()

	start := time.Now()
	id, err := e.committer.Commit(commitCtx, e.userID, convID, msgs)
	e.logCommit(convID, len(msgs), time.Since(start), err)
	if err == nil {
		err = s.store.SetConversationID(id)
	}
	if err != nil {
		_ = s.store.MarkUnsynced(true)
		s.transition(ctx, core.PhaseFailed)
		s.transition(ctx, core.PhaseIdle)

		var perr *core.PersistenceError
		if !errors.As(err, &perr) {
			err = &core.PersistenceError{ConversationID: convID, Err: err}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.fireError(ctx, err)
		return err
	}

	_ = s.store.Acknowledge(msgs)
	span.SetAttributes(attribute.String("streamchat.conversation_id", id))

	if cerr := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterCommit, &CallbackContext{
		SessionID:      s.id,
		ConversationID: id,
		Message:        &reply,
	}); cerr != nil {
		e.logger.Warn("After-commit callback failed", "session_id", s.id, "error", cerr.Error())
	}

	s.transition(ctx, core.PhaseIdle)
	return nil
}

func (s *Session) transition(ctx context.Context, to core.SessionPhase) {
	from, err := s.store.SetPhase(to)
	if err != nil {
		return
	}
	trace.SpanFromContext(ctx).AddEvent("phase", trace.WithAttributes(
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
	s.firePhase(ctx, from, to)
}

func (s *Session) firePhase(ctx context.Context, from, to core.SessionPhase) {
	e := s.engine

	convID, _ := s.store.ConversationID()
	e.logPhase(s.id, convID, from, to)

	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackOnPhaseChange, &CallbackContext{
		SessionID:      s.id,
		ConversationID: convID,
		From:           from,
		To:             to,
	}); err != nil {
		e.logger.Warn("Phase callback failed", "session_id", s.id, "error", err.Error())
	}
}

func (s *Session) fireError(ctx context.Context, cause error) {
	e := s.engine

	convID, _ := s.store.ConversationID()
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackOnError, &CallbackContext{
		SessionID:      s.id,
		ConversationID: convID,
		Err:            cause,
	}); err != nil {
		e.logger.Warn("Error callback failed", "session_id", s.id, "error", err.Error())
	}
}
