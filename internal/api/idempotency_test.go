package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehiql/internal/model"
)

func newIdempotencyServer(t *testing.T) (*HTTPServer, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	return &HTTPServer{redis: client, log: zerolog.New(io.Discard)}, mock
}

func idempotentRequest(key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/cars/c1/test-drives", strings.NewReader(`{}`))
	req.Header.Set(idempotencyHeader, key)
	return req.WithContext(withUser(req.Context(), &model.User{ID: "u1"}))
}

func TestIdempotency(t *testing.T) {
	const redisKey = "idempotency:u1:abc"
	stored, err := json.Marshal(storedResponse{Status: http.StatusCreated, Body: `{"id":"b1"}`})
	require.NoError(t, err)

	tests := []struct {
		name       string
		setup      func(mock redismock.ClientMock)
		handler    http.HandlerFunc
		wantStatus int
		wantBody   string
		wantCalls  int
		wantHit    bool
	}{
		{
			name: "first request is stored",
			setup: func(mock redismock.ClientMock) {
				mock.ExpectSetNX(redisKey, processingMarker, processingTTL).SetVal(true)
				mock.ExpectSet(redisKey, stored, idempotencyTTL).SetVal("OK")
			},
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(`{"id":"b1"}`))
			},
			wantStatus: http.StatusCreated,
			wantBody:   `{"id":"b1"}`,
			wantCalls:  1,
		},
		{
			name: "retry is replayed",
			setup: func(mock redismock.ClientMock) {
				mock.ExpectSetNX(redisKey, processingMarker, processingTTL).SetVal(false)
				mock.ExpectGet(redisKey).SetVal(string(stored))
			},
			wantStatus: http.StatusCreated,
			wantBody:   `{"id":"b1"}`,
			wantHit:    true,
		},
		{
			name: "concurrent request conflicts",
			setup: func(mock redismock.ClientMock) {
				mock.ExpectSetNX(redisKey, processingMarker, processingTTL).SetVal(false)
				mock.ExpectGet(redisKey).SetVal(processingMarker)
			},
			wantStatus: http.StatusConflict,
		},
		{
			name: "key expiring between lock and lookup conflicts",
			setup: func(mock redismock.ClientMock) {
				mock.ExpectSetNX(redisKey, processingMarker, processingTTL).SetVal(false)
				mock.ExpectGet(redisKey).RedisNil()
			},
			wantStatus: http.StatusConflict,
		},
		{
			name: "server error releases the key",
			setup: func(mock redismock.ClientMock) {
				mock.ExpectSetNX(redisKey, processingMarker, processingTTL).SetVal(true)
				mock.ExpectDel(redisKey).SetVal(1)
			},
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeError(w, http.StatusInternalServerError, "internal error")
			},
			wantStatus: http.StatusInternalServerError,
			wantCalls:  1,
		},
		{
			name: "redis down passes through",
			setup: func(mock redismock.ClientMock) {
				mock.ExpectSetNX(redisKey, processingMarker, processingTTL).SetErr(errors.New("connection refused"))
			},
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
			},
			wantStatus: http.StatusCreated,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newIdempotencyServer(t)
			tt.setup(mock)

			calls := 0
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				if tt.handler != nil {
					tt.handler(w, r)
				}
			})

			w := httptest.NewRecorder()
			s.idempotency(next).ServeHTTP(w, idempotentRequest("abc"))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
			assert.Equal(t, tt.wantHit, w.Header().Get("X-Idempotency-Hit") == "true")
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestIdempotency_NoKey(t *testing.T) {
	s, mock := newIdempotencyServer(t)

	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ })
	s.idempotency(next).ServeHTTP(httptest.NewRecorder(), idempotentRequest(""))

	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClientLimiter(t *testing.T) {
	l := newClientLimiter(0, 2)

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "buckets are per client")
}
