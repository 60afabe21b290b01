package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vehiql/internal/model"
)

// handleListCars returns the public catalog.
// GET /api/cars?search=&make=&body_type=&fuel_type=&transmission=&min_price=&max_price=&sort=&page=&limit=
func (s *HTTPServer) handleListCars(w http.ResponseWriter, r *http.Request) {
	s.listCars(w, r)
}

// handleAdminListCars returns cars of every status.
// GET /api/admin/cars?status=
func (s *HTTPServer) handleAdminListCars(w http.ResponseWriter, r *http.Request) {
	s.listCars(w, r)
}

func (s *HTTPServer) listCars(w http.ResponseWriter, r *http.Request) {
	filter, err := carFilterFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.cars.ListCars(r.Context(), filter, userFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func carFilterFrom(r *http.Request) (model.CarFilter, error) {
	q := r.URL.Query()
	filter := model.CarFilter{
		Search:       q.Get("search"),
		Make:         q.Get("make"),
		BodyType:     q.Get("body_type"),
		FuelType:     q.Get("fuel_type"),
		Transmission: q.Get("transmission"),
		Status:       model.CarStatus(q.Get("status")),
		SortBy:       q.Get("sort"),
	}

	var err error
	if filter.MinPrice, err = queryFloat(r, "min_price"); err != nil {
		return filter, err
	}
	if filter.MaxPrice, err = queryFloat(r, "max_price"); err != nil {
		return filter, err
	}
	if filter.Page, err = queryInt(r, "page"); err != nil {
		return filter, err
	}
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		return filter, err
	}

	if filter.Status != "" && !filter.Status.IsValid() {
		return filter, errors.New("invalid status")
	}
	switch filter.SortBy {
	case "", model.SortNewest, model.SortPriceAsc, model.SortPriceDesc:
	default:
		return filter, errors.New("invalid sort")
	}
	if v := q.Get("featured"); v != "" {
		featured := v == "true"
		filter.Featured = &featured
	}
	return filter, nil
}

// handleCarFilters returns the listing facets.
// GET /api/cars/filters
func (s *HTTPServer) handleCarFilters(w http.ResponseWriter, r *http.Request) {
	f, err := s.cars.Filters(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// handleGetCar returns a car page.
// GET /api/cars/{id}
func (s *HTTPServer) handleGetCar(w http.ResponseWriter, r *http.Request) {
	detail, err := s.cars.GetCar(r.Context(), chi.URLParam(r, "id"), userFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleSavedCars lists the caller's wishlist.
// GET /api/saved-cars
func (s *HTTPServer) handleSavedCars(w http.ResponseWriter, r *http.Request) {
	list, err := s.db.ListSavedCars(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cars": list})
}

// handleToggleSavedCar adds or removes a car from the caller's wishlist.
// POST /api/saved-cars/{carID}/toggle
func (s *HTTPServer) handleToggleSavedCar(w http.ResponseWriter, r *http.Request) {
	saved, err := s.db.ToggleSavedCar(r.Context(), userFrom(r.Context()).ID, chi.URLParam(r, "carID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"saved": saved})
}

// handleDealership returns the dealership profile and working hours.
// GET /api/dealership
func (s *HTTPServer) handleDealership(w http.ResponseWriter, r *http.Request) {
	d, err := s.db.GetDealership(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleMe returns the authenticated user.
// GET /api/me
func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFrom(r.Context()))
}
