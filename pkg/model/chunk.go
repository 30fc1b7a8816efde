package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SearchMode selects the retrieval strategy for a single search call
type SearchMode string

const (
	SearchModeStandard   SearchMode = "standard"
	SearchModeRephrase   SearchMode = "rephrase"
	SearchModeMultiQuery SearchMode = "multi_query"
)

// Validate checks if the search mode is valid
func (m SearchMode) Validate() error {
	switch m {
	case SearchModeStandard, SearchModeRephrase, SearchModeMultiQuery:
		return nil
	default:
		return ErrInvalidSearchMode
	}
}

// RetrievedChunk is a request-scoped retrieval result. It is never persisted;
// the caller consumes it to build a grounded prompt for the current turn.
type RetrievedChunk struct {
	Content    string
	DocumentID string
	Filename   string
	// Score is a similarity measure, higher is more similar
	Score float64
	// SourceQuery is the query text actually sent to the chunk store. For
	// rephrase and multi_query modes it differs from OriginalQuery.
	SourceQuery   string
	OriginalQuery string
	SearchMode    SearchMode
	DedupKey      string
}

// DedupKey returns a stable hash over normalized chunk content. The same text
// retrieved by different sub-queries always maps to the same key, so merged
// result sets can collapse duplicates.
func DedupKey(content string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(content), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}
