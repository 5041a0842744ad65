package cache

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore implements BlobStore on a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore creates a client with application default credentials.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("%w: gcs bucket not set", ErrStoreUnavailable)
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Get implements BlobStore.Get.
func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("open gs://%s/%s: %w", s.bucket, key, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, fmt.Errorf("read gs://%s/%s: %w", s.bucket, key, err)
	}
	return data, true, nil
}

// Put implements BlobStore.Put.
func (s *GCSStore) Put(ctx context.Context, key string, value []byte) error {
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.CacheControl = "no-cache"

	if _, err := writer.Write(value); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write gs://%s/%s: %w", s.bucket, key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize gs://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// Ping reads the bucket attributes.
func (s *GCSStore) Ping(ctx context.Context) error {
	_, err := s.client.Bucket(s.bucket).Attrs(ctx)
	return err
}

// Close closes the GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
