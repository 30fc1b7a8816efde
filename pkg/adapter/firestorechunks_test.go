package adapter_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"
	"github.com/watarai/vizsla/pkg/adapter"
)

func setupFirestoreChunks(t *testing.T) *adapter.FirestoreChunks {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")

	if projectID == "" || databaseID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID and TEST_FIRESTORE_DATABASE_ID must be set to run Firestore tests")
	}

	collection := "chunks_test_" + uuid.New().String()[:8]
	store, err := adapter.NewFirestoreChunks(context.Background(), projectID, databaseID, collection)
	gt.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func axisEmbedding(dim, axis int, weight float32) []float32 {
	v := make([]float32, dim)
	v[axis] = weight
	return v
}

func TestFirestoreChunksQueryRanksBySimilarity(t *testing.T) {
	store := setupFirestoreChunks(t)
	ctx := context.Background()

	docID := uuid.New().String()
	entries := []*adapter.ChunkEntry{
		{ChunkID: "near", DocumentID: docID, Filename: "a.txt", Content: "closest chunk", Embedding: axisEmbedding(8, 0, 1)},
		{ChunkID: "mid", DocumentID: docID, Filename: "a.txt", Content: "middling chunk", Embedding: axisEmbedding(8, 1, 1)},
		{ChunkID: "far", DocumentID: docID, Filename: "a.txt", Content: "distant chunk", Embedding: axisEmbedding(8, 7, 1)},
	}
	gt.NoError(t, store.Upsert(ctx, entries))

	hits, err := store.Query(ctx, axisEmbedding(8, 0, 1), 2, nil)
	gt.NoError(t, err)
	gt.A(t, hits).Length(2)
	gt.Equal(t, hits[0].ChunkID, "near")
	for i := 1; i < len(hits); i++ {
		gt.True(t, hits[i-1].Score >= hits[i].Score)
	}
}

func TestFirestoreChunksScopeFilter(t *testing.T) {
	store := setupFirestoreChunks(t)
	ctx := context.Background()

	gt.True(t, store.NativeScopeFilter())

	wanted := uuid.New().String()
	other := uuid.New().String()
	entries := []*adapter.ChunkEntry{
		{ChunkID: "w1", DocumentID: wanted, Filename: "w.txt", Content: "in scope", Embedding: axisEmbedding(8, 0, 0.5)},
		{ChunkID: "o1", DocumentID: other, Filename: "o.txt", Content: "out of scope", Embedding: axisEmbedding(8, 0, 1)},
	}
	gt.NoError(t, store.Upsert(ctx, entries))

	hits, err := store.Query(ctx, axisEmbedding(8, 0, 1), 5, []string{wanted})
	gt.NoError(t, err)
	gt.A(t, hits).Length(1)
	gt.Equal(t, hits[0].DocumentID, wanted)
}

func TestFirestoreChunksWideScopeBatches(t *testing.T) {
	store := setupFirestoreChunks(t)
	ctx := context.Background()

	// More than one "in" filter batch worth of document IDs
	scope := make([]string, 0, 35)
	entries := make([]*adapter.ChunkEntry, 0, 35)
	for i := 0; i < 35; i++ {
		docID := uuid.New().String()
		scope = append(scope, docID)
		entries = append(entries, &adapter.ChunkEntry{
			ChunkID:    fmt.Sprintf("c%d", i),
			DocumentID: docID,
			Filename:   "batch.txt",
			Content:    fmt.Sprintf("chunk %d", i),
			Embedding:  axisEmbedding(8, i%8, 1),
		})
	}
	gt.NoError(t, store.Upsert(ctx, entries))

	hits, err := store.Query(ctx, axisEmbedding(8, 0, 1), 3, scope)
	gt.NoError(t, err)
	gt.A(t, hits).Length(3)
	for i := 1; i < len(hits); i++ {
		gt.True(t, hits[i-1].Score >= hits[i].Score)
	}
}
