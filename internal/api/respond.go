package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"vehiql/internal/booking"
	"vehiql/internal/cars"
	"vehiql/internal/db"
	"vehiql/internal/slots"
	"vehiql/internal/storage"
	"vehiql/internal/vision"
)

const maxBodyBytes = 32 << 20 // car images arrive inline as data URLs

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps domain errors to HTTP statuses.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		if status == http.StatusInternalServerError {
			writeError(w, status, "internal error")
			return
		}
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, booking.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, slots.ErrSlotAlreadyBooked),
		errors.Is(err, booking.ErrInvalidStatusTransition),
		errors.Is(err, db.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, slots.ErrDayClosed),
		errors.Is(err, slots.ErrOutsideWorkingHours),
		errors.Is(err, slots.ErrSlotInPast),
		errors.Is(err, slots.ErrInvalidWindow),
		errors.Is(err, booking.ErrDateTooFar),
		errors.Is(err, booking.ErrCarUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, booking.ErrUnknownStatus),
		errors.Is(err, cars.ErrInvalidCar),
		errors.Is(err, cars.ErrInvalidPrice),
		errors.Is(err, cars.ErrNoImages),
		errors.Is(err, storage.ErrInvalidDataURL):
		return http.StatusBadRequest
	case errors.Is(err, cars.ErrNoExtractor), errors.Is(err, vision.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, vision.ErrBadResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %v", err)
	}
	return nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return n, nil
}

func queryFloat(r *http.Request, name string) (float64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return f, nil
}
