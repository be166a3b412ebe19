// Package server implements the far end of the chat stream protocol.
//
// POST /api/chat accepts {message, conversationId, user_id} with a bearer
// credential and answers with an event stream: one "message" frame per
// generated text fragment, then a single "metadata" frame carrying the
// concepts retrieved for the question and the references found in the
// answer. A generation failure after the stream started yields one "error"
// frame instead.
//
// The server also exposes the knowledge query route, health routes and,
// when a change feed is configured, the WebSocket feed at /api/feed.
package server
