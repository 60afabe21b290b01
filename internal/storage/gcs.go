package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore keeps objects in a Google Cloud Storage bucket.
type GCSStore struct {
	client  *storage.Client
	bucket  string
	baseURL string
}

// NewGCSStore connects to bucket. Public URLs are baseURL/bucket/path.
func NewGCSStore(ctx context.Context, bucket, credentialsFile, baseURL string) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	if baseURL == "" {
		baseURL = "https://storage.googleapis.com"
	}
	return &GCSStore{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/") + "/" + bucket,
	}, nil
}

func (s *GCSStore) Upload(ctx context.Context, path, contentType string, data []byte) (string, error) {
	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=3600"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write object %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close object %s: %w", path, err)
	}
	return s.baseURL + "/" + path, nil
}

func (s *GCSStore) Delete(ctx context.Context, path string) error {
	err := s.client.Bucket(s.bucket).Object(path).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object %s: %w", path, err)
	}
	return nil
}

func (s *GCSStore) PathFromURL(url string) (string, error) {
	return trimBase(s.baseURL, url)
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
