// Package api exposes the catalog, test drive booking and back-office over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"vehiql/internal/audit"
	"vehiql/internal/booking"
	"vehiql/internal/cars"
	"vehiql/internal/config"
	"vehiql/internal/identity"
	"vehiql/internal/model"
)

const (
	maxCalendarDays = 90
	idempotencyTTL  = 24 * time.Hour
)

// Store is the persistence used directly by handlers.
type Store interface {
	SyncUser(ctx context.Context, profile model.User) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUserRole(ctx context.Context, id string, role model.Role) (*model.User, error)
	GetCar(ctx context.Context, id string) (*model.Car, error)
	ToggleSavedCar(ctx context.Context, userID, carID string) (bool, error)
	ListSavedCars(ctx context.Context, userID string) ([]model.Car, error)
	GetDealership(ctx context.Context) (*model.Dealership, error)
	SaveWorkingHours(ctx context.Context, hours []model.WorkingHour) (*model.Dealership, error)
	Dashboard(ctx context.Context) (*model.Dashboard, error)
}

// Deps are the services behind the HTTP surface.
type Deps struct {
	Store    Store
	Bookings *booking.Service
	Cars     *cars.Service
	Verifier identity.Verifier
	Redis    redis.Cmdable // optional; disables idempotency when nil
	Exporter *audit.Exporter
}

// HTTPServer serves the JSON API.
type HTTPServer struct {
	server       *http.Server
	db           Store
	bookings     *booking.Service
	cars         *cars.Service
	verifier     identity.Verifier
	redis        redis.Cmdable
	exporter     *audit.Exporter
	extract      *clientLimiter
	calendarDays int
	log          zerolog.Logger
}

func NewHTTPServer(cfg *config.Config, deps Deps, logger zerolog.Logger) *HTTPServer {
	perHour := cfg.Vision.RatePerHour
	if perHour <= 0 {
		perHour = 10
	}
	burst := cfg.Vision.Burst
	if burst <= 0 {
		burst = perHour
	}

	s := &HTTPServer{
		db:           deps.Store,
		bookings:     deps.Bookings,
		cars:         deps.Cars,
		verifier:     deps.Verifier,
		redis:        deps.Redis,
		exporter:     deps.Exporter,
		extract:      newClientLimiter(rate.Every(time.Hour/time.Duration(perHour)), burst),
		calendarDays: cfg.Booking.CalendarDays,
		log:          logger.With().Str("component", "http").Logger(),
	}
	if s.calendarDays <= 0 || s.calendarDays > maxCalendarDays {
		s.calendarDays = maxCalendarDays
	}

	s.server = &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           s.routes(),
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSeconds) * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown is called.
func (s *HTTPServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(countRoutes)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/cars", s.handleListCars)
		r.Get("/cars/filters", s.handleCarFilters)
		r.Get("/cars/{id}", s.handleGetCar)
		r.Get("/cars/{id}/availability", s.handleAvailability)
		r.Get("/cars/{id}/calendar", s.handleCalendar)
		r.Get("/dealership", s.handleDealership)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)

			r.With(s.idempotency).Post("/cars/{id}/test-drives", s.handleBookTestDrive)
			r.Get("/me", s.handleMe)
			r.Get("/reservations", s.handleReservations)
			r.Post("/reservations/{id}/cancel", s.handleCancelReservation)
			r.Get("/saved-cars", s.handleSavedCars)
			r.Post("/saved-cars/{carID}/toggle", s.handleToggleSavedCar)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin)

			r.Get("/dashboard", s.handleDashboard)
			r.Get("/cars", s.handleAdminListCars)
			r.Post("/cars", s.handleCreateCar)
			r.With(s.rateLimitExtract).Post("/cars/extract", s.handleExtractCar)
			r.Patch("/cars/{id}", s.handleUpdateCar)
			r.Delete("/cars/{id}", s.handleDeleteCar)
			r.Get("/test-drives", s.handleAdminTestDrives)
			r.Patch("/test-drives/{id}", s.handleUpdateTestDrive)
			r.Put("/settings/working-hours", s.handleSaveWorkingHours)
			r.Get("/users", s.handleListUsers)
			r.Patch("/users/{id}/role", s.handleUpdateRole)
			r.Get("/export", s.handleExport)
		})
	})

	return r
}
