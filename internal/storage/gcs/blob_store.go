// Package gcs mirrors slot folders into a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the bucket and object prefix used for mirrored slots.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// BlobStore writes slot artifacts to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName returns the object key for a file inside a slot folder.
func (s *BlobStore) ObjectName(folder, name string) string {
	return path.Join(s.prefix, folder, name)
}

// PutObject uploads r under folder/name and returns a gs:// URI. Metadata is
// attached to the object verbatim.
func (s *BlobStore) PutObject(ctx context.Context, folder, name, contentType string, metadata map[string]string, r io.Reader) (string, error) {
	if strings.TrimSpace(folder) == "" || strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("folder and name are required")
	}
	object := s.ObjectName(folder, name)
	writer := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if len(metadata) > 0 {
		writer.Metadata = metadata
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}

// UploadFile streams a local file into folder, keeping its base name.
func (s *BlobStore) UploadFile(ctx context.Context, folder, localPath, contentType string, metadata map[string]string) (string, error) {
	// #nosec G304 -- localPath points inside an allocated slot.
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	return s.PutObject(ctx, folder, path.Base(strings.ReplaceAll(localPath, "\\", "/")), contentType, metadata, f)
}
