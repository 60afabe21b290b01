package api

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"vehiql/internal/audit"
	"vehiql/internal/cars"
	"vehiql/internal/model"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// CreateCarRequest is the body of POST /api/admin/cars.
type CreateCarRequest struct {
	cars.Input
	Images []string `json:"images"` // data URLs
}

// UpdateCarRequest is the body of PATCH /api/admin/cars/{id}.
type UpdateCarRequest struct {
	Status   *model.CarStatus `json:"status,omitempty"`
	Featured *bool            `json:"featured,omitempty"`
}

type extractRequest struct {
	Image string `json:"image"` // data URL
}

type statusRequest struct {
	Status model.BookingStatus `json:"status"`
}

type roleRequest struct {
	Role model.Role `json:"role"`
}

type workingHoursRequest struct {
	WorkingHours []model.WorkingHour `json:"working_hours"`
}

// handleDashboard returns inventory and test drive statistics.
// GET /api/admin/dashboard
func (s *HTTPServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.db.Dashboard(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleCreateCar adds a car with its images.
// POST /api/admin/cars
func (s *HTTPServer) handleCreateCar(w http.ResponseWriter, r *http.Request) {
	var req CreateCarRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	car, err := s.cars.CreateCar(r.Context(), req.Input, req.Images)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, car)
}

// handleExtractCar reads listing details from a photo.
// POST /api/admin/cars/extract
func (s *HTTPServer) handleExtractCar(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Image == "" {
		writeError(w, http.StatusBadRequest, "image is required")
		return
	}

	details, err := s.cars.ExtractDetails(r.Context(), req.Image)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// handleUpdateCar changes the status or featured flag of a car.
// PATCH /api/admin/cars/{id}
func (s *HTTPServer) handleUpdateCar(w http.ResponseWriter, r *http.Request) {
	var req UpdateCarRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	car, err := s.cars.UpdateListing(r.Context(), chi.URLParam(r, "id"), req.Status, req.Featured)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, car)
}

// handleDeleteCar removes a car and its bookings.
// DELETE /api/admin/cars/{id}
func (s *HTTPServer) handleDeleteCar(w http.ResponseWriter, r *http.Request) {
	if err := s.cars.DeleteCar(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleAdminTestDrives lists bookings for the back-office.
// GET /api/admin/test-drives?search=&status=&date=&limit=&offset=
func (s *HTTPServer) handleAdminTestDrives(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.BookingFilter{
		Search: q.Get("search"),
		Status: model.BookingStatus(q.Get("status")),
		Date:   q.Get("date"),
		CarID:  q.Get("car_id"),
	}
	var err error
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Date != "" {
		if _, err := time.Parse(model.DateLayout, filter.Date); err != nil {
			writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
			return
		}
	}

	list, err := s.bookings.ListTestDrives(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"test_drives": list})
}

// handleUpdateTestDrive moves a booking through its lifecycle.
// PATCH /api/admin/test-drives/{id}
func (s *HTTPServer) handleUpdateTestDrive(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	b, err := s.bookings.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"test_drive":    b,
		"next_statuses": s.bookings.NextStatuses(b.Status),
	})
}

// handleSaveWorkingHours replaces the weekly schedule.
// PUT /api/admin/settings/working-hours
func (s *HTTPServer) handleSaveWorkingHours(w http.ResponseWriter, r *http.Request) {
	var req workingHoursRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	seen := make(map[model.DayOfWeek]bool, len(req.WorkingHours))
	for i := range req.WorkingHours {
		h := &req.WorkingHours[i]
		if day, ok := model.ParseDayOfWeek(string(h.DayOfWeek)); ok {
			h.DayOfWeek = day
		}
		if err := h.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if seen[h.DayOfWeek] {
			writeError(w, http.StatusBadRequest, "duplicate day "+string(h.DayOfWeek))
			return
		}
		seen[h.DayOfWeek] = true
	}

	d, err := s.db.SaveWorkingHours(r.Context(), req.WorkingHours)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleListUsers lists every user.
// GET /api/admin/users
func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.db.ListUsers(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// handleUpdateRole grants or revokes admin access.
// PATCH /api/admin/users/{id}/role
func (s *HTTPServer) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Role.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}

	id := chi.URLParam(r, "id")
	if caller := userFrom(r.Context()); caller.ID == id && req.Role != model.RoleAdmin {
		writeError(w, http.StatusBadRequest, "cannot remove your own admin role")
		return
	}

	u, err := s.db.UpdateUserRole(r.Context(), id, req.Role)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.log.Info().Str("user_id", u.ID).Str("role", string(u.Role)).Msg("user role changed")
	writeJSON(w, http.StatusOK, u)
}

// handleExport downloads every table as an XLSX workbook.
// GET /api/admin/export
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "export is not available")
		return
	}

	var buf bytes.Buffer
	if err := s.exporter.Export(r.Context(), &buf); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+audit.Filename(s.bookings.Now())+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
