package adapter

import (
	"context"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
)

// scopeBatchSize is the Firestore limit on values in an "in" filter
const scopeBatchSize = 30

// FirestoreChunks is a ChunkStore backed by a Firestore collection with a
// vector index on the embedding field. Scope restriction is pushed into the
// query as an "in" pre-filter, so the store reports native support; scopes
// wider than the "in" filter limit are split into batches and re-merged.
type FirestoreChunks struct {
	client     *firestore.Client
	collection string
}

type fsChunkDoc struct {
	ChunkID    string             `firestore:"chunk_id"`
	DocumentID string             `firestore:"document_id"`
	Filename   string             `firestore:"filename"`
	Content    string             `firestore:"content"`
	Embedding  firestore.Vector32 `firestore:"embedding"`
}

type fsHitDoc struct {
	ChunkID    string  `firestore:"chunk_id"`
	DocumentID string  `firestore:"document_id"`
	Filename   string  `firestore:"filename"`
	Content    string  `firestore:"content"`
	Distance   float64 `firestore:"distance"`
}

// NewFirestoreChunks creates a Firestore-backed chunk store
func NewFirestoreChunks(ctx context.Context, projectID, databaseID, collection string) (*FirestoreChunks, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client")
	}

	return &FirestoreChunks{
		client:     client,
		collection: collection,
	}, nil
}

// Close releases the underlying client
func (s *FirestoreChunks) Close() error {
	return s.client.Close()
}

func (s *FirestoreChunks) NativeScopeFilter() bool { return true }

func (s *FirestoreChunks) Upsert(ctx context.Context, entries []*ChunkEntry) error {
	bw := s.client.BulkWriter(ctx)

	jobs := make([]*firestore.BulkWriterJob, 0, len(entries))
	for _, e := range entries {
		doc := &fsChunkDoc{
			ChunkID:    e.ChunkID,
			DocumentID: e.DocumentID,
			Filename:   e.Filename,
			Content:    e.Content,
			Embedding:  firestore.Vector32(e.Embedding),
		}
		job, err := bw.Set(s.client.Collection(s.collection).Doc(e.ChunkID), doc)
		if err != nil {
			return goerr.Wrap(err, "failed to enqueue chunk write", goerr.V("chunk_id", e.ChunkID))
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			return goerr.Wrap(err, "failed to write chunk",
				goerr.V("chunk_id", entries[i].ChunkID))
		}
	}
	return nil
}

func (s *FirestoreChunks) Query(ctx context.Context, vector []float32, k int, scope []string) ([]*ChunkHit, error) {
	if len(scope) <= scopeBatchSize {
		return s.queryNearest(ctx, vector, k, scope)
	}

	// Wide scopes run one vector query per batch and re-rank the union
	var hits []*ChunkHit
	for start := 0; start < len(scope); start += scopeBatchSize {
		end := start + scopeBatchSize
		if end > len(scope) {
			end = len(scope)
		}
		batch, err := s.queryNearest(ctx, vector, k, scope[start:end])
		if err != nil {
			return nil, err
		}
		hits = append(hits, batch...)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *FirestoreChunks) queryNearest(ctx context.Context, vector []float32, k int, scope []string) ([]*ChunkHit, error) {
	q := s.client.Collection(s.collection).Query
	if len(scope) > 0 {
		q = q.Where("document_id", "in", scope)
	}

	vq := q.FindNearest("embedding", firestore.Vector32(vector), k,
		firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{DistanceResultField: "distance"})

	it := vq.Documents(ctx)
	defer it.Stop()

	var hits []*ChunkHit
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read vector search result",
				goerr.V("collection", s.collection))
		}

		var doc fsHitDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode chunk document",
				goerr.V("doc", snap.Ref.ID))
		}
		hits = append(hits, &ChunkHit{
			ChunkID:    doc.ChunkID,
			DocumentID: doc.DocumentID,
			Filename:   doc.Filename,
			Content:    doc.Content,
			// Cosine distance in [0,2]; map to a similarity where higher is better
			Score: 1.0 - doc.Distance,
		})
	}

	return hits, nil
}
