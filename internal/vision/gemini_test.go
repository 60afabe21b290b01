package vision

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehiql/internal/cache"
	"vehiql/internal/storage"
)

const validAnswer = "```json\n" + `{"make":"Toyota","model":"Corolla","year":2021,"color":"White","price":18500,
"mileage":"32000","bodyType":"Sedan","fuelType":"Petrol","transmission":"Automatic",
"description":"Clean compact sedan.","confidence":0.87}` + "\n```"

func geminiServer(t *testing.T, status int, answer string, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.URL.RawQuery)

		var req generateRequest
		body, _ := io.ReadAll(r.Body)
		if !assert.NoError(t, json.Unmarshal(body, &req)) || !assert.Len(t, req.Contents, 1) || !assert.Len(t, req.Contents[0].Parts, 2) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "image/png", req.Contents[0].Parts[0].InlineData.MimeType)

		w.WriteHeader(status)
		if status >= 300 {
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"API key invalid"}}`))
			return
		}
		resp := map[string]any{"candidates": []any{map[string]any{
			"content": map[string]any{"parts": []any{map[string]any{"text": answer}}},
		}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(endpoint string) *Client {
	return NewClient(Config{APIKey: "test-key", Model: "gemini-1.5-flash", Endpoint: endpoint, Timeout: time.Second},
		zerolog.New(io.Discard))
}

func testImage() *storage.Image {
	return &storage.Image{ContentType: "image/png", Ext: "png", Data: []byte("car-photo")}
}

func TestExtractCarDetails(t *testing.T) {
	var calls int32
	srv := geminiServer(t, http.StatusOK, validAnswer, &calls)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	c := newTestClient(srv.URL)
	c.UseCache(cache.New(rdb, "vehiql:", time.Hour))

	details, err := c.ExtractCarDetails(context.Background(), testImage())
	require.NoError(t, err)
	assert.Equal(t, "Toyota", details.Make)
	assert.Equal(t, 2021, details.Year)
	assert.Equal(t, "18500", details.Price.String())
	assert.Equal(t, "32000", details.Mileage.String())
	assert.InDelta(t, 0.87, details.Confidence, 1e-9)

	again, err := c.ExtractCarDetails(context.Background(), testImage())
	require.NoError(t, err)
	assert.Equal(t, details, again)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second call served from cache")
}

func TestExtractCarDetails_Errors(t *testing.T) {
	var calls int32

	_, err := NewClient(Config{}, zerolog.New(io.Discard)).ExtractCarDetails(context.Background(), testImage())
	assert.ErrorIs(t, err, ErrNotConfigured)

	srv := geminiServer(t, http.StatusForbidden, "", &calls)
	_, err = newTestClient(srv.URL).ExtractCarDetails(context.Background(), testImage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key invalid")

	srv = geminiServer(t, http.StatusOK, `{"make":"Toyota"}`, &calls)
	_, err = newTestClient(srv.URL).ExtractCarDetails(context.Background(), testImage())
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestExtractCarDetails_TransportErrorHidesKey(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	_, err := newTestClient(endpoint).ExtractCarDetails(context.Background(), testImage())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "test-key")
}

func TestParseDetails(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr string
	}{
		{"fenced", validAnswer, ""},
		{"bare", "```\n" + `{"make":"a","model":"b","year":1,"color":"c","bodyType":"d","price":1,"mileage":1,"fuelType":"e","transmission":"f","description":"g","confidence":1}` + "```", ""},
		{"not json", "I think it's a Toyota.", "failed to parse ai response"},
		{"missing fields", `{"make":"Toyota","model":"Corolla","year":2021}`, "missing required fields: color, bodyType, price, mileage, fuelType, transmission, description, confidence"},
		{"wrong type", `{"make":1,"model":"b","year":1,"color":"c","bodyType":"d","price":1,"mileage":1,"fuelType":"e","transmission":"f","description":"g","confidence":1}`, "failed to parse ai response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDetails(tt.text)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, d.Make)
		})
	}
}
