package adapter

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
)

// ChunkHit is a raw nearest-neighbor result from a chunk store
type ChunkHit struct {
	ChunkID    string
	DocumentID string
	Filename   string
	Content    string
	// Score is a similarity measure, higher is more similar
	Score float64
}

// ChunkEntry is an indexed document chunk with its embedding
type ChunkEntry struct {
	ChunkID    string
	DocumentID string
	Filename   string
	Content    string
	Embedding  []float32
}

// ChunkStore is a vector index over document chunks. Query returns up to k
// hits ordered by score descending. When scope is non-empty, results are
// restricted to the given document IDs; stores without native filter support
// report NativeScopeFilter() == false and receive an empty scope, leaving the
// restriction to the caller.
type ChunkStore interface {
	Query(ctx context.Context, vector []float32, k int, scope []string) ([]*ChunkHit, error)
	Upsert(ctx context.Context, entries []*ChunkEntry) error
	NativeScopeFilter() bool
}

// MemoryChunks is a brute-force cosine similarity store. Used for local runs
// and tests; assumes stored and query vectors are L2-normalized.
type MemoryChunks struct {
	mu      sync.RWMutex
	entries []*ChunkEntry

	// filterable is toggled off in tests to exercise the client-side
	// scope filter fallback path
	filterable bool
}

func NewMemoryChunks() *MemoryChunks {
	return &MemoryChunks{filterable: true}
}

// SetNativeScopeFilter overrides the filter capability report
func (s *MemoryChunks) SetNativeScopeFilter(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filterable = enabled
}

func (s *MemoryChunks) NativeScopeFilter() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterable
}

func (s *MemoryChunks) Upsert(ctx context.Context, entries []*ChunkEntry) error {
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			return goerr.New("chunk entry has no embedding", goerr.V("chunk_id", e.ChunkID))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *MemoryChunks) Query(ctx context.Context, vector []float32, k int, scope []string) ([]*ChunkHit, error) {
	if k <= 0 {
		return nil, nil
	}

	var allowed map[string]bool
	if len(scope) > 0 {
		allowed = make(map[string]bool, len(scope))
		for _, id := range scope {
			allowed[id] = true
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]*ChunkHit, 0, len(s.entries))
	for _, e := range s.entries {
		if allowed != nil && !allowed[e.DocumentID] {
			continue
		}
		hits = append(hits, &ChunkHit{
			ChunkID:    e.ChunkID,
			DocumentID: e.DocumentID,
			Filename:   e.Filename,
			Content:    e.Content,
			Score:      dot(e.Embedding, vector),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
