package adapter

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
)

// BigQueryChunks is a ChunkStore backed by a BigQuery table with a VECTOR
// column, queried through VECTOR_SEARCH. BigQuery VECTOR_SEARCH has no
// per-document pre-filter here, so the store reports no native scope support
// and the orchestrator applies its client-side fallback.
type BigQueryChunks struct {
	client  *bigquery.Client
	dataset string
	table   string
}

type bqChunkRow struct {
	ChunkID    string    `bigquery:"chunk_id"`
	DocumentID string    `bigquery:"document_id"`
	Filename   string    `bigquery:"filename"`
	Content    string    `bigquery:"content"`
	Embedding  []float64 `bigquery:"embedding"`
}

type bqHitRow struct {
	ChunkID    string  `bigquery:"chunk_id"`
	DocumentID string  `bigquery:"document_id"`
	Filename   string  `bigquery:"filename"`
	Content    string  `bigquery:"content"`
	Distance   float64 `bigquery:"distance"`
}

// NewBigQueryChunks creates a BigQuery-backed chunk store
func NewBigQueryChunks(ctx context.Context, projectID, dataset, table string) (*BigQueryChunks, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client")
	}

	return &BigQueryChunks{
		client:  client,
		dataset: dataset,
		table:   table,
	}, nil
}

func (s *BigQueryChunks) NativeScopeFilter() bool { return false }

func (s *BigQueryChunks) Upsert(ctx context.Context, entries []*ChunkEntry) error {
	rows := make([]*bqChunkRow, 0, len(entries))
	for _, e := range entries {
		vec := make([]float64, len(e.Embedding))
		for i, v := range e.Embedding {
			vec[i] = float64(v)
		}
		rows = append(rows, &bqChunkRow{
			ChunkID:    e.ChunkID,
			DocumentID: e.DocumentID,
			Filename:   e.Filename,
			Content:    e.Content,
			Embedding:  vec,
		})
	}

	inserter := s.client.Dataset(s.dataset).Table(s.table).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return goerr.Wrap(err, "failed to insert chunk rows",
			goerr.V("dataset", s.dataset), goerr.V("table", s.table))
	}
	return nil
}

func (s *BigQueryChunks) Query(ctx context.Context, vector []float32, k int, scope []string) ([]*ChunkHit, error) {
	vec := make([]float64, len(vector))
	for i, v := range vector {
		vec[i] = float64(v)
	}

	query := fmt.Sprintf(`
		SELECT
			base.chunk_id AS chunk_id,
			base.document_id AS document_id,
			base.filename AS filename,
			base.content AS content,
			distance
		FROM VECTOR_SEARCH(
			TABLE %s.%s,
			'embedding',
			(SELECT @query_vector AS embedding),
			top_k => @top_k,
			distance_type => 'COSINE'
		)
		ORDER BY distance ASC`,
		"`"+s.dataset+"`", "`"+s.table+"`")

	q := s.client.Query(query)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "query_vector", Value: vec},
		{Name: "top_k", Value: int64(k)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to run vector search query")
	}

	var hits []*ChunkHit
	for {
		var row bqHitRow
		if err := it.Next(&row); err != nil {
			if err == iterator.Done {
				break
			}
			return nil, goerr.Wrap(err, "failed to read vector search result")
		}
		hits = append(hits, &ChunkHit{
			ChunkID:    row.ChunkID,
			DocumentID: row.DocumentID,
			Filename:   row.Filename,
			Content:    row.Content,
			// Cosine distance in [0,2]; map to a similarity where higher is better
			Score: 1.0 - row.Distance,
		})
	}

	return hits, nil
}
