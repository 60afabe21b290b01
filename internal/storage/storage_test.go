package storage

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDataURL(t *testing.T) {
	png := base64.StdEncoding.EncodeToString([]byte("\x89PNG"))

	img, err := ParseDataURL("data:image/png;base64," + png)
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, "png", img.Ext)
	assert.Equal(t, []byte("\x89PNG"), img.Data)

	img, err = ParseDataURL("data:image/jpeg;base64," + png)
	require.NoError(t, err)
	assert.Equal(t, "jpg", img.Ext)

	invalid := []string{
		"https://example.com/car.png",
		"data:image/png;base64",
		"data:text/plain;base64," + png,
		"data:image/png," + png,
		"data:image/png;base64,!!!",
		"data:image/png;base64,",
	}
	for _, s := range invalid {
		_, err := ParseDataURL(s)
		assert.ErrorIs(t, err, ErrInvalidDataURL, s)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore("http://localhost:8080/images/")
	ctx := context.Background()

	url, err := s.Upload(ctx, "cars/abc/image-1-0.png", "image/png", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/images/cars/abc/image-1-0.png", url)
	assert.True(t, s.Has("cars/abc/image-1-0.png"))

	path, err := s.PathFromURL(url)
	require.NoError(t, err)
	assert.Equal(t, "cars/abc/image-1-0.png", path)

	_, err = s.PathFromURL("https://elsewhere.example.com/x.png")
	assert.ErrorIs(t, err, ErrForeignURL)

	require.NoError(t, s.Delete(ctx, path))
	assert.False(t, s.Has(path))
}

func TestGCSStore_PathFromURL(t *testing.T) {
	s := &GCSStore{bucket: "car-images", baseURL: "https://storage.googleapis.com/car-images"}

	path, err := s.PathFromURL("https://storage.googleapis.com/car-images/cars/abc/image-1-0.jpg")
	require.NoError(t, err)
	assert.Equal(t, "cars/abc/image-1-0.jpg", path)

	_, err = s.PathFromURL("https://storage.googleapis.com/other/cars/abc.jpg")
	assert.ErrorIs(t, err, ErrForeignURL)
}
