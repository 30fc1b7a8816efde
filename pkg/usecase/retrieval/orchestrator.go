package retrieval

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/watarai/vizsla/pkg/adapter"
	"github.com/watarai/vizsla/pkg/model"
	"github.com/watarai/vizsla/pkg/utils/logging"
)

const (
	// subQueryCount is the fan-out width of multi_query mode
	subQueryCount = 3

	// overfetchFactor sets the initial width of store queries when the scope
	// filter has to be applied client-side; the width doubles until k
	// in-scope hits are collected or the store runs out of candidates
	overfetchFactor = 4
)

// Orchestrator runs one retrieval call: it selects a search strategy,
// restricts candidates to an optional document scope, deduplicates merged
// results and ranks them by similarity. It holds no per-conversation state.
type Orchestrator struct {
	embedder  adapter.Embedder
	store     adapter.ChunkStore
	rephraser *Rephraser
	expander  *Expander
}

func New(embedder adapter.Embedder, store adapter.ChunkStore, llm adapter.LLM) *Orchestrator {
	return &Orchestrator{
		embedder:  embedder,
		store:     store,
		rephraser: NewRephraser(llm),
		expander:  NewExpander(llm),
	}
}

// Search returns up to k chunks for the query, ordered by score descending.
// Degradeable failures (a malformed rephrase, a failing sub-query) never
// surface; only a store outage that kills every path returns
// model.ErrRetrievalUnavailable.
func (o *Orchestrator) Search(ctx context.Context, query string, mode model.SearchMode, k int, scope []string) ([]*model.RetrievedChunk, error) {
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	switch mode {
	case model.SearchModeStandard:
		chunks, err := o.standard(ctx, query, query, mode, k, scope)
		if err != nil {
			return nil, goerr.Wrap(model.ErrRetrievalUnavailable, err.Error(), goerr.V("mode", mode))
		}
		return chunks, nil

	case model.SearchModeRephrase:
		rewritten := o.rephraser.Rephrase(ctx, query)
		chunks, err := o.standard(ctx, query, rewritten, mode, k, scope)
		if err != nil {
			return nil, goerr.Wrap(model.ErrRetrievalUnavailable, err.Error(), goerr.V("mode", mode))
		}
		return chunks, nil

	case model.SearchModeMultiQuery:
		return o.multiQuery(ctx, query, k, scope)

	default:
		return nil, model.ErrInvalidSearchMode
	}
}

// standard embeds one query and runs a nearest-neighbor search. When the
// store lacks native scope filtering, scopedQuery filters here; both paths
// yield the same result set for a given scope.
func (o *Orchestrator) standard(ctx context.Context, original, query string, mode model.SearchMode, k int, scope []string) ([]*model.RetrievedChunk, error) {
	vector, err := o.embedder.Embed(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query", goerr.V("query", query))
	}

	hits, err := o.scopedQuery(ctx, vector, k, scope)
	if err != nil {
		return nil, goerr.Wrap(err, "chunk store query failed", goerr.V("query", query))
	}

	chunks := make([]*model.RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		chunks = append(chunks, &model.RetrievedChunk{
			Content:       h.Content,
			DocumentID:    h.DocumentID,
			Filename:      h.Filename,
			Score:         h.Score,
			SourceQuery:   query,
			OriginalQuery: original,
			SearchMode:    mode,
			DedupKey:      model.DedupKey(h.Content),
		})
	}

	return rankAndDedup(chunks, k), nil
}

// scopedQuery runs a nearest-neighbor query restricted to the document
// scope. Stores without a native filter are queried unscoped with a widening
// fetch size until k in-scope hits are collected or the store returns fewer
// candidates than asked for, so the filtered path returns the same set a
// native filter would.
func (o *Orchestrator) scopedQuery(ctx context.Context, vector []float32, k int, scope []string) ([]*adapter.ChunkHit, error) {
	if len(scope) == 0 || o.store.NativeScopeFilter() {
		return o.store.Query(ctx, vector, k, scope)
	}

	allowed := make(map[string]bool, len(scope))
	for _, id := range scope {
		allowed[id] = true
	}

	fetchK := k * overfetchFactor
	for {
		hits, err := o.store.Query(ctx, vector, fetchK, nil)
		if err != nil {
			return nil, err
		}

		inScope := make([]*adapter.ChunkHit, 0, k)
		for _, h := range hits {
			if allowed[h.DocumentID] {
				inScope = append(inScope, h)
				if len(inScope) == k {
					return inScope, nil
				}
			}
		}
		// Fewer hits than requested means the store is exhausted
		if len(hits) < fetchK {
			return inScope, nil
		}
		fetchK *= 2
	}
}

// multiQuery fans the query out into sub-queries, searches them concurrently,
// and merges the results. A failing sub-query contributes zero chunks; only
// all sub-queries failing is a hard outage.
func (o *Orchestrator) multiQuery(ctx context.Context, query string, k int, scope []string) ([]*model.RetrievedChunk, error) {
	subQueries := o.expander.Expand(ctx, query, subQueryCount)

	results := make([][]*model.RetrievedChunk, len(subQueries))
	errs := make([]error, len(subQueries))

	var wg sync.WaitGroup
	for i, sq := range subQueries {
		wg.Add(1)
		go func(i int, sq string) {
			defer wg.Done()
			results[i], errs[i] = o.standard(ctx, query, sq, model.SearchModeMultiQuery, k, scope)
		}(i, sq)
	}
	wg.Wait()

	failures := 0
	for i, err := range errs {
		if err != nil {
			failures++
			logging.From(ctx).Warn("sub-query search failed",
				"error", err, "sub_query", subQueries[i])
		}
	}
	if failures == len(subQueries) {
		return nil, goerr.Wrap(model.ErrRetrievalUnavailable, "all sub-query searches failed",
			goerr.V("query", query), goerr.V("sub_queries", subQueries))
	}

	// Merge in sub-query order so first occurrence wins on duplicate content
	var merged []*model.RetrievedChunk
	for _, chunks := range results {
		merged = append(merged, chunks...)
	}

	return rankAndDedup(merged, k), nil
}

// rankAndDedup collapses duplicate content (first occurrence wins), sorts by
// score descending and truncates to k
func rankAndDedup(chunks []*model.RetrievedChunk, k int) []*model.RetrievedChunk {
	seen := make(map[string]bool, len(chunks))
	deduped := make([]*model.RetrievedChunk, 0, len(chunks))
	for _, c := range chunks {
		if seen[c.DedupKey] {
			continue
		}
		seen[c.DedupKey] = true
		deduped = append(deduped, c)
	}

	sort.SliceStable(deduped, func(i, j int) bool { return deduped[i].Score > deduped[j].Score })
	if len(deduped) > k {
		deduped = deduped[:k]
	}
	return deduped
}
