package adapter

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
)

// Storage archives pruned conversation segments. Archived segments live
// outside the working set; the memory manager only ever writes them so
// compressed raw turns remain recoverable.
type Storage interface {
	// Put returns a writer for a new archive object
	Put(ctx context.Context, key string) (io.WriteCloser, error)
	// Get opens an archive object for reading
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

type gcsArchive struct {
	bucket *storage.BucketHandle
	client *storage.Client
}

// NewStorage creates a Cloud Storage backed archive rooted at the bucket
func NewStorage(ctx context.Context, bucketName string) (Storage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client",
			goerr.V("bucket", bucketName))
	}

	return &gcsArchive{
		bucket: client.Bucket(bucketName),
		client: client,
	}, nil
}

func (s *gcsArchive) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	return s.bucket.Object(key).NewWriter(ctx), nil
}

func (s *gcsArchive) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open archive object", goerr.V("key", key))
	}
	return r, nil
}
