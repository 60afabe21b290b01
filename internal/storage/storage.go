// Package storage keeps car images in an object store.
package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrInvalidDataURL = errors.New("invalid data url")
	ErrForeignURL     = errors.New("url does not belong to this store")
)

// ObjectStore stores public objects addressed by path.
type ObjectStore interface {
	Upload(ctx context.Context, path, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, path string) error
	// PathFromURL maps a public URL returned by Upload back to its path.
	PathFromURL(url string) (string, error)
}

// Image is a decoded data URL.
type Image struct {
	ContentType string
	Ext         string
	Data        []byte
}

// ParseDataURL decodes "data:image/png;base64,...".
func ParseDataURL(s string) (*Image, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, ErrInvalidDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, ErrInvalidDataURL
	}
	contentType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 || !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: expected base64 image", ErrInvalidDataURL)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidDataURL)
	}

	ext := strings.TrimPrefix(contentType, "image/")
	if ext == "jpeg" {
		ext = "jpg"
	}
	return &Image{ContentType: contentType, Ext: ext, Data: data}, nil
}

// MemoryStore is an in-process ObjectStore for development and tests.
type MemoryStore struct {
	baseURL string
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{baseURL: strings.TrimRight(baseURL, "/"), objects: make(map[string][]byte)}
}

func (m *MemoryStore) Upload(_ context.Context, path, _ string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = append([]byte(nil), data...)
	return m.baseURL + "/" + path, nil
}

func (m *MemoryStore) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	return nil
}

func (m *MemoryStore) PathFromURL(url string) (string, error) {
	return trimBase(m.baseURL, url)
}

// Has reports whether an object exists at path.
func (m *MemoryStore) Has(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[path]
	return ok
}

func trimBase(base, url string) (string, error) {
	path, ok := strings.CutPrefix(url, base+"/")
	if !ok || path == "" {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, url)
	}
	return path, nil
}
