// Package knowledge provides the in-memory retrieval provider used by the
// chat server to attach concepts and references to assistant replies.
//
// Base is a naive process-local index: term matching over names and content,
// scored by the fraction of query terms found. It is suitable for
// development and tests; swap in a vector index behind core.RetrievalProvider
// for production retrieval.
package knowledge
