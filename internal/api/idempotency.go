package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyHeader = "Idempotency-Key"
	processingMarker  = "PROCESSING"
	processingTTL     = 30 * time.Second
)

// storedResponse is the replayable result of an idempotent request.
type storedResponse struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *recordingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func idempotencyKey(userID, key string) string {
	return fmt.Sprintf("idempotency:%s:%s", userID, key)
}

// idempotency replays the stored response of a request retried with the same Idempotency-Key.
// The key is locked with SETNX while the first request runs; server errors release it.
func (s *HTTPServer) idempotency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(idempotencyHeader)
		if key == "" || s.redis == nil {
			next.ServeHTTP(w, r)
			return
		}

		userID := ""
		if u := userFrom(r.Context()); u != nil {
			userID = u.ID
		}
		redisKey := idempotencyKey(userID, key)
		ctx := r.Context()

		acquired, err := s.redis.SetNX(ctx, redisKey, processingMarker, processingTTL).Result()
		if err != nil {
			s.log.Warn().Err(err).Msg("idempotency lock failed")
			next.ServeHTTP(w, r)
			return
		}

		if !acquired {
			val, err := s.redis.Get(ctx, redisKey).Result()
			if errors.Is(err, redis.Nil) || val == processingMarker {
				writeError(w, http.StatusConflict, "request with this idempotency key is in progress")
				return
			}
			if err != nil {
				s.log.Warn().Err(err).Msg("idempotency lookup failed")
				next.ServeHTTP(w, r)
				return
			}
			var stored storedResponse
			if err := json.Unmarshal([]byte(val), &stored); err != nil {
				writeError(w, http.StatusConflict, "request with this idempotency key is in progress")
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Hit", "true")
			w.WriteHeader(stored.Status)
			_, _ = w.Write([]byte(stored.Body))
			return
		}

		rec := &recordingWriter{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		if rec.status >= http.StatusInternalServerError || rec.status == 0 {
			_ = s.redis.Del(ctx, redisKey).Err()
			return
		}
		data, _ := json.Marshal(storedResponse{Status: rec.status, Body: rec.body.String()})
		if err := s.redis.Set(ctx, redisKey, data, idempotencyTTL).Err(); err != nil {
			s.log.Warn().Err(err).Msg("idempotency store failed")
		}
	})
}
