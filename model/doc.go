// Package model defines the provider-agnostic abstraction the chat server
// uses to generate assistant replies.
//
// A Model turns a Request (system instructions plus transcript) into a
// stream of Response values: text deltas while generating, then one final
// aggregate. Providers (OpenAI, Anthropic) live in sub-packages so the server
// stays decoupled from vendor SDKs; MockModel serves tests and offline use.
package model
