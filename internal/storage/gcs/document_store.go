// Package gcs provides a DocumentStore backed by Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	docstore "github.com/JakeFAU/erasure/internal/storage"
)

// Config captures the parameters required to address documents in GCS.
type Config struct {
	Bucket string
	Prefix string
}

// DocumentStore reads and writes documents as objects in one bucket.
type DocumentStore struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ docstore.DocumentStore = (*DocumentStore)(nil)

// New creates a GCS-backed document store.
func New(client *storage.Client, cfg Config) (*DocumentStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &DocumentStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Get downloads the object for name.
func (s *DocumentStore) Get(ctx context.Context, name string) ([]byte, error) {
	key, err := objectKey(s.prefix, name)
	if err != nil {
		return nil, err
	}
	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	defer reader.Close() //nolint:errcheck // read-only handle
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// Put uploads data, replacing any existing object, and returns a gs:// URI.
func (s *DocumentStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	key, err := objectKey(s.prefix, name)
	if err != nil {
		return "", err
	}
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}

func objectKey(prefix, name string) (string, error) {
	name = strings.TrimLeft(strings.TrimSpace(name), "/")
	if name == "" {
		return "", fmt.Errorf("document name is required")
	}
	if prefix == "" {
		return name, nil
	}
	return path.Join(prefix, name), nil
}
