package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"vehiql/internal/booking"
	"vehiql/internal/slots"
)

// BookTestDriveRequest is the body of POST /api/cars/{id}/test-drives.
type BookTestDriveRequest struct {
	Date      string `json:"date"`       // YYYY-MM-DD
	StartTime string `json:"start_time"` // HH:MM
	EndTime   string `json:"end_time"`   // HH:MM
	Notes     string `json:"notes,omitempty"`
}

// handleAvailability returns the free slots of a car on a date.
// GET /api/cars/{id}/availability?date=YYYY-MM-DD
func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	carID := chi.URLParam(r, "id")
	dateStr := r.URL.Query().Get("date")
	if dateStr == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	date, err := slots.ParseDate(dateStr, s.bookings.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := s.db.GetCar(r.Context(), carID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	res, err := s.bookings.Availability(r.Context(), carID, date)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCalendar returns bookable days for the date picker.
// GET /api/cars/{id}/calendar?from=YYYY-MM-DD&days=N
func (s *HTTPServer) handleCalendar(w http.ResponseWriter, r *http.Request) {
	if _, err := s.db.GetCar(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	from := s.bookings.Now().In(s.bookings.Location())
	if v := r.URL.Query().Get("from"); v != "" {
		d, err := slots.ParseDate(v, s.bookings.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		from = d
	}

	days, err := queryInt(r, "days")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if days == 0 || days > s.calendarDays {
		days = s.calendarDays
	}

	cal, err := s.bookings.Calendar(r.Context(), from, days)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": cal})
}

// handleBookTestDrive books a one-hour test drive for the caller.
// POST /api/cars/{id}/test-drives
func (s *HTTPServer) handleBookTestDrive(w http.ResponseWriter, r *http.Request) {
	var req BookTestDriveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Date == "" || req.StartTime == "" || req.EndTime == "" {
		writeError(w, http.StatusBadRequest, "date, start_time and end_time are required")
		return
	}
	date, err := slots.ParseDate(req.Date, s.bookings.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	b, err := s.bookings.BookTestDrive(r.Context(), booking.Request{
		UserID:    userFrom(r.Context()).ID,
		CarID:     chi.URLParam(r, "id"),
		Date:      date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Notes:     strings.TrimSpace(req.Notes),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// handleReservations returns the caller's test drives.
// GET /api/reservations
func (s *HTTPServer) handleReservations(w http.ResponseWriter, r *http.Request) {
	res, err := s.bookings.UserTestDrives(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCancelReservation cancels one of the caller's test drives.
// POST /api/reservations/{id}/cancel
func (s *HTTPServer) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	b, err := s.bookings.CancelTestDrive(r.Context(), userFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
