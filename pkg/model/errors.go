package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrConversationNotFound is returned by explicit, non-creating lookups
	ErrConversationNotFound = goerr.New("conversation not found")

	// ErrRetrievalUnavailable means every retrieval path failed against the
	// chunk store. This is the only retrieval failure surfaced to callers.
	ErrRetrievalUnavailable = goerr.New("retrieval unavailable")

	// ErrSummarizationDeferred means the summarization LLM call failed.
	// Pruning is deferred to the next turn; no messages are lost.
	ErrSummarizationDeferred = goerr.New("summarization deferred")

	// ErrMalformedLLMOutput means a rephrase/expand response could not be
	// parsed. Always recovered locally with a fallback value.
	ErrMalformedLLMOutput = goerr.New("malformed LLM output")

	ErrInvalidRole       = goerr.New("invalid message role")
	ErrInvalidSearchMode = goerr.New("invalid search mode")
)
