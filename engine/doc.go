// Package engine implements the stream session controller of StreamChat.
//
// The Engine hosts the open sessions of one user. A Session orchestrates a
// single user-to-assistant exchange at a time: optimistic insert, dispatch
// through the shared retry guard, frame consumption, finalize or rollback,
// and the persistence commit that follows a finished exchange.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────┐
//	│                     Engine                              │
//	│  ┌─────────────┐ ┌─────────────┐ ┌─────────────────┐    │
//	│  │ NewSession  │ │ OpenSession │ │   Callbacks     │    │
//	│  └─────────────┘ └─────────────┘ └─────────────────┘    │
//	├─────────────────────────────────────────────────────────┤
//	│                     Session                             │
//	│  ┌─────────────┐ ┌─────────────┐ ┌─────────────────┐    │
//	│  │    Send     │ │  SendSync   │ │ Cancel / Reset  │    │
//	│  └─────────────┘ └─────────────┘ └─────────────────┘    │
//	├─────────────────────────────────────────────────────────┤
//	│                  Collaborators                          │
//	│  ┌──────────┐ ┌─────────┐ ┌─────────┐ ┌─────────────┐   │
//	│  │Dispatcher│ │  Guard  │ │ Decoder │ │  Committer  │   │
//	│  └──────────┘ └─────────┘ └─────────┘ └─────────────┘   │
//	├─────────────────────────────────────────────────────────┤
//	│              state.Store (one actor per session)        │
//	└─────────────────────────────────────────────────────────┘
//
// # Exchange Lifecycle
//
//  1. Send rejects empty input and a session that is not Idle.
//  2. The user message and an empty assistant placeholder are appended.
//  3. The retry guard refuses locally when the auth-loop cap is exhausted,
//     otherwise the request is dispatched with transport retries.
//  4. Delta frames grow the placeholder, a metadata frame attaches concepts
//     and references, an error frame fails the exchange.
//  5. On a clean stream end the placeholder is finalized and the full
//     transcript committed.
//  6. Any failure before finalization rolls back exactly this submission's
//     messages. A failed commit keeps the transcript and marks it unsynced.
//
// # Usage Patterns
//
// Streaming Execution:
//
//	sess := eng.NewSession()
//	events, errs, err := sess.Send(ctx, "Hello")
//	if err != nil {
//	    return err
//	}
//	for ev := range events {
//	    handleEvent(ev)
//	}
//	if err := <-errs; err != nil {
//	    return err
//	}
//
// Synchronous Execution:
//
//	reply, err := sess.SendSync(ctx, "Hello")
//
// # Concurrency Model
//
//   - Thread-safe session registry
//   - At most one in-flight exchange per session, one session per conversation
//   - Cancellation closes the response body and rolls back without an error
//   - The retry guard is shared by all sessions of an engine
//
// # Observability
//
// Every send runs inside an OpenTelemetry span named "streamchat.send" with
// phase transitions recorded as span events. Lifecycle callbacks
// (before_dispatch, on_phase_change, after_commit, on_error) offer hooks for
// custom logic.
package engine
