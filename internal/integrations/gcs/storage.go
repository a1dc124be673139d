package gcs

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
)

// Client is the narrow slice of bucket operations the pipeline needs. Tests
// substitute an in-memory implementation.
type Client interface {
	// Download copies a bucket object to a local file.
	Download(ctx context.Context, object, destPath string) error
	// Upload copies a local file into the bucket under the given object path.
	Upload(ctx context.Context, srcPath, object, contentType string) error
}

type bucketClient struct {
	bucket *storage.BucketHandle
	name   string
}

// New builds a Client bound to a single bucket using ambient GCP credentials.
func New(ctx context.Context, bucketName string) (Client, error) {
	sc, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &bucketClient{bucket: sc.Bucket(bucketName), name: bucketName}, nil
}

func (c *bucketClient) Download(ctx context.Context, object, destPath string) error {
	r, err := c.bucket.Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("open gs://%s/%s: %w", c.name, object, err)
	}
	defer r.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("download gs://%s/%s: %w", c.name, object, err)
	}
	return nil
}

func (c *bucketClient) Upload(ctx context.Context, srcPath, object, contentType string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", srcPath, err)
	}
	defer f.Close()

	w := c.bucket.Object(object).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("upload gs://%s/%s: %w", c.name, object, err)
	}
	// Writer errors surface on Close, not Write.
	if err := w.Close(); err != nil {
		return fmt.Errorf("upload gs://%s/%s: %w", c.name, object, err)
	}
	return nil
}
