package core

// StreamEvent is a decoded frame of the chat stream. Concrete event types
// implement the unexported isStreamEvent marker, keeping the set closed.
type StreamEvent interface{ isStreamEvent() }

// DeltaEvent carries an incremental piece of assistant text.
type DeltaEvent struct {
	Text string
}

func (DeltaEvent) isStreamEvent() {}

// MetadataEvent carries the retrieval payload of a finished response.
type MetadataEvent struct {
	Concepts   []Concept
	References []Reference
}

func (MetadataEvent) isStreamEvent() {}

// ErrorEvent is the far end's terminal error frame.
type ErrorEvent struct {
	Message string
}

func (ErrorEvent) isStreamEvent() {}

// SessionPhase is the state of a Stream Session Controller.
type SessionPhase int

const (
	// PhaseIdle accepts a new submission.
	PhaseIdle SessionPhase = iota
	// PhaseSending is dispatching the request.
	PhaseSending
	// PhaseStreaming is consuming response frames.
	PhaseStreaming
	// PhaseFinalizing is committing the finished exchange.
	PhaseFinalizing
	// PhaseFailed is rolling back or reporting a failure.
	PhaseFailed
)

// String returns the phase name.
func (p SessionPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSending:
		return "sending"
	case PhaseStreaming:
		return "streaming"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}
