// Package core provides the foundational domain types and collaborator
// contracts used by StreamChat. It defines:
//
//   - Messages and Conversations (transcripts owned by exactly one user)
//   - StreamEvents (the closed set of decoded chat stream frames)
//   - SessionPhase (the Stream Session Controller state machine)
//   - The error taxonomy shared by every component
//   - Small interfaces for the durable store, change feed, dispatcher,
//     credentials and retrieval provider
//
// The package keeps implementation concerns (persistence, transport, actor
// scheduling) out of scope so backends can be swapped at wiring time.
package core
