package catalog

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Uploader copies a local file to remote object storage
type Uploader interface {
	Upload(ctx context.Context, localPath, object string) error
}

// GCSMirror uploads lake files to a Cloud Storage bucket
type GCSMirror struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSMirror creates a mirror for bucket. Objects are written under
// prefix.
func NewGCSMirror(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSMirror, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSMirror{client: client, bucket: bucket, prefix: prefix}, nil
}

// Upload copies localPath to gs://bucket/prefix/object
func (m *GCSMirror) Upload(ctx context.Context, localPath, object string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	name := path.Join(m.prefix, object)
	w := m.client.Bucket(m.bucket).Object(name).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", name, err)
	}
	return nil
}

// Close releases the storage client
func (m *GCSMirror) Close() error {
	return m.client.Close()
}

// Publish exports each table as parquet under dir and, when up is not nil,
// uploads it as <table>/data.parquet.
func (c *Catalog) Publish(ctx context.Context, tables []string, dir string, up Uploader) error {
	for _, table := range tables {
		local, err := c.ExportParquet(ctx, table, dir)
		if err != nil {
			return err
		}
		if up == nil {
			continue
		}
		if err := up.Upload(ctx, local, path.Join(table, "data.parquet")); err != nil {
			return err
		}
	}
	return nil
}
