package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehiql/internal/audit"
	"vehiql/internal/booking"
	"vehiql/internal/cars"
	"vehiql/internal/config"
	"vehiql/internal/db"
	"vehiql/internal/identity"
	"vehiql/internal/model"
	"vehiql/internal/storage"
)

const (
	adminToken = "admin:admin@example.com"
	aliceToken = "alice:alice@example.com"
	bobToken   = "bob:bob@example.com"
)

type testEnv struct {
	handler http.Handler
	store   *db.DB
	redis   *miniredis.Miniredis
}

// datetime builds a UTC instant.
func datetime(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)

	store, err := db.NewDB(filepath.Join(t.TempDir(), "vehiql.db"), time.UTC, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.EnsureDealership(context.Background(), config.DefaultDealership().Dealership())
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{}
	cfg.Booking.CalendarDays = 30
	cfg.Vision.RatePerHour = 10
	for _, m := range mutate {
		m(cfg)
	}

	// Monday morning before opening.
	clock := func() time.Time { return datetime(2024, 6, 10, 8, 0) }
	bookings := booking.NewService(store, nil, booking.Options{Location: time.UTC, MaxAdvanceDays: 30, Clock: clock}, logger)
	catalog := cars.NewService(store, storage.NewMemoryStore("https://cdn.test"), nil, nil, logger)

	srv := NewHTTPServer(cfg, Deps{
		Store:    store,
		Bookings: bookings,
		Cars:     catalog,
		Verifier: identity.DevVerifier{},
		Redis:    rdb,
		Exporter: audit.NewExporter(store, logger),
	}, logger)

	env := &testEnv{handler: srv.Handler(), store: store, redis: mr}
	// The first user to sign in becomes the admin.
	resp := env.do(t, http.MethodGet, "/api/me", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *testEnv) createCar(t *testing.T) string {
	t.Helper()
	img := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("photo"))
	w := e.do(t, http.MethodPost, "/api/admin/cars", adminToken, map[string]any{
		"make": "Toyota", "model": "Corolla", "year": 2021, "price": "$18,500",
		"mileage": 32000, "body_type": "Sedan", "images": []string{img},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[model.Car](t, w).ID
}

func book(start, end string) BookTestDriveRequest {
	return BookTestDriveRequest{Date: "2024-06-11", StartTime: start, EndTime: end}
}

func TestAuthGuards(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		wantStatus int
		wantError  string
	}{
		{"anonymous me", http.MethodGet, "/api/me", "", http.StatusUnauthorized, "unauthorized"},
		{"anonymous reservations", http.MethodGet, "/api/reservations", "", http.StatusUnauthorized, "unauthorized"},
		{"anonymous admin", http.MethodGet, "/api/admin/dashboard", "", http.StatusUnauthorized, "unauthorized"},
		{"user on admin route", http.MethodGet, "/api/admin/dashboard", aliceToken, http.StatusForbidden, "not-admin"},
		{"admin dashboard", http.MethodGet, "/api/admin/dashboard", adminToken, http.StatusOK, ""},
		{"public catalog", http.MethodGet, "/api/cars", "", http.StatusOK, ""},
		{"public dealership", http.MethodGet, "/api/dealership", "", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.token, nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, decode[errorResponse](t, w).Error)
			}
		})
	}

	me := decode[model.User](t, env.do(t, http.MethodGet, "/api/me", aliceToken, nil))
	assert.Equal(t, model.RoleUser, me.Role)
	assert.Equal(t, "alice@example.com", me.Email)
}

func TestBookTestDrive_Flow(t *testing.T) {
	env := newTestEnv(t)
	carID := env.createCar(t)
	base := "/api/cars/" + carID

	w := env.do(t, http.MethodPost, base+"/test-drives", aliceToken, book("10:00", "11:00"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[model.TestDriveBooking](t, w)
	assert.Equal(t, model.StatusPending, created.Status)
	assert.Equal(t, "10:00", created.StartTime)

	w = env.do(t, http.MethodPost, base+"/test-drives", bobToken, book("10:00", "11:00"))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodGet, base+"/availability?date=2024-06-11", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	avail := decode[booking.Availability](t, w)
	assert.True(t, avail.Bookable)
	assert.Len(t, avail.Slots, 8)
	for _, s := range avail.Slots {
		assert.NotEqual(t, "10:00", s.StartTime)
	}

	res := decode[booking.Reservations](t, env.do(t, http.MethodGet, "/api/reservations", aliceToken, nil))
	require.Len(t, res.Upcoming, 1)
	assert.Equal(t, carID, res.Upcoming[0].Car.ID)

	w = env.do(t, http.MethodPost, "/api/reservations/"+created.ID+"/cancel", bobToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/api/reservations/"+created.ID+"/cancel", aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.StatusCancelled, decode[model.TestDriveBooking](t, w).Status)

	w = env.do(t, http.MethodPost, base+"/test-drives", bobToken, book("10:00", "11:00"))
	assert.Equal(t, http.StatusCreated, w.Code, "cancelled slot is free again")
}

func TestBookTestDrive_Rejections(t *testing.T) {
	env := newTestEnv(t)
	carID := env.createCar(t)

	tests := []struct {
		name       string
		carID      string
		req        BookTestDriveRequest
		wantStatus int
	}{
		{"missing fields", carID, BookTestDriveRequest{Date: "2024-06-11"}, http.StatusBadRequest},
		{"bad date", carID, BookTestDriveRequest{Date: "11/06/2024", StartTime: "10:00", EndTime: "11:00"}, http.StatusBadRequest},
		{"closed day", carID, BookTestDriveRequest{Date: "2024-06-16", StartTime: "10:00", EndTime: "11:00"}, http.StatusUnprocessableEntity},
		{"outside hours", carID, book("18:00", "19:00"), http.StatusUnprocessableEntity},
		{"not on the hour", carID, book("10:30", "11:30"), http.StatusUnprocessableEntity},
		{"two hours", carID, book("10:00", "12:00"), http.StatusUnprocessableEntity},
		{"in the past", carID, BookTestDriveRequest{Date: "2024-06-07", StartTime: "10:00", EndTime: "11:00"}, http.StatusUnprocessableEntity},
		{"too far ahead", carID, BookTestDriveRequest{Date: "2024-08-01", StartTime: "10:00", EndTime: "11:00"}, http.StatusUnprocessableEntity},
		{"unknown car", "missing", book("10:00", "11:00"), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/cars/"+tt.carID+"/test-drives", aliceToken, tt.req)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestBookTestDrive_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	carID := env.createCar(t)
	path := "/api/cars/" + carID + "/test-drives"

	first := env.do(t, http.MethodPost, path, aliceToken, book("14:00", "15:00"), idempotencyHeader, "k-1")
	require.Equal(t, http.StatusCreated, first.Code)

	again := env.do(t, http.MethodPost, path, aliceToken, book("14:00", "15:00"), idempotencyHeader, "k-1")
	assert.Equal(t, http.StatusCreated, again.Code)
	assert.Equal(t, "true", again.Header().Get("X-Idempotency-Hit"))
	assert.Equal(t,
		decode[model.TestDriveBooking](t, first).ID,
		decode[model.TestDriveBooking](t, again).ID)

	// Same key from another user is a different request.
	other := env.do(t, http.MethodPost, path, bobToken, book("14:00", "15:00"), idempotencyHeader, "k-1")
	assert.Equal(t, http.StatusConflict, other.Code)
	assert.Empty(t, other.Header().Get("X-Idempotency-Hit"))
}

func TestAvailabilityAndCalendar(t *testing.T) {
	env := newTestEnv(t)
	carID := env.createCar(t)

	w := env.do(t, http.MethodGet, "/api/cars/"+carID+"/availability", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/cars/missing/availability?date=2024-06-11", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	avail := decode[booking.Availability](t, env.do(t, http.MethodGet, "/api/cars/"+carID+"/availability?date=2024-06-15", "", nil))
	require.True(t, avail.Bookable)
	require.Len(t, avail.Slots, 6)
	assert.Equal(t, "10:00", avail.Slots[0].StartTime)
	assert.Equal(t, "10:00 AM - 11:00 AM", avail.Slots[0].Label)

	avail = decode[booking.Availability](t, env.do(t, http.MethodGet, "/api/cars/"+carID+"/availability?date=2024-06-16", "", nil))
	assert.False(t, avail.Bookable)
	assert.Empty(t, avail.Slots)

	w = env.do(t, http.MethodGet, "/api/cars/"+carID+"/calendar?from=2024-06-14&days=3", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cal := decode[struct {
		Days []struct {
			Date     string `json:"date"`
			Bookable bool   `json:"bookable"`
		} `json:"days"`
	}](t, w)
	require.Len(t, cal.Days, 3)
	assert.Equal(t, "2024-06-14", cal.Days[0].Date)
	assert.True(t, cal.Days[0].Bookable)
	assert.True(t, cal.Days[1].Bookable)
	assert.False(t, cal.Days[2].Bookable, "sunday is closed")
}

func TestAdminTestDrives(t *testing.T) {
	env := newTestEnv(t)
	carID := env.createCar(t)

	w := env.do(t, http.MethodPost, "/api/cars/"+carID+"/test-drives", aliceToken, book("10:00", "11:00"))
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[model.TestDriveBooking](t, w).ID

	list := decode[struct {
		TestDrives []model.TestDriveView `json:"test_drives"`
	}](t, env.do(t, http.MethodGet, "/api/admin/test-drives?search=alice&status=PENDING", adminToken, nil))
	require.Len(t, list.TestDrives, 1)
	assert.Equal(t, "alice@example.com", list.TestDrives[0].User.Email)

	w = env.do(t, http.MethodGet, "/api/admin/test-drives?status=LOST", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPatch, "/api/admin/test-drives/"+id, adminToken, map[string]string{"status": "CONFIRMED"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[struct {
		TestDrive    model.TestDriveBooking `json:"test_drive"`
		NextStatuses []model.BookingStatus  `json:"next_statuses"`
	}](t, w)
	assert.Equal(t, model.StatusConfirmed, updated.TestDrive.Status)
	assert.ElementsMatch(t, []model.BookingStatus{model.StatusCompleted, model.StatusCancelled, model.StatusNoShow}, updated.NextStatuses)

	w = env.do(t, http.MethodPatch, "/api/admin/test-drives/"+id, adminToken, map[string]string{"status": "PENDING"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/reservations/"+id+"/cancel", aliceToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "owners may only cancel pending bookings")
}

func TestAdminCars(t *testing.T) {
	env := newTestEnv(t)
	carID := env.createCar(t)

	w := env.do(t, http.MethodPost, "/api/admin/cars", adminToken, map[string]any{
		"make": "Toyota", "model": "Corolla", "year": 2021, "price": 1, "images": []string{"https://x/y.png"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPatch, "/api/admin/cars/"+carID, adminToken, map[string]string{"status": "SOLD"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.CarSold, decode[model.Car](t, w).Status)

	public := decode[model.CarPage](t, env.do(t, http.MethodGet, "/api/cars", "", nil))
	assert.Empty(t, public.Cars)
	admin := decode[model.CarPage](t, env.do(t, http.MethodGet, "/api/admin/cars?status=SOLD", adminToken, nil))
	assert.Len(t, admin.Cars, 1)

	w = env.do(t, http.MethodPost, "/api/cars/"+carID+"/test-drives", aliceToken, book("10:00", "11:00"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = env.do(t, http.MethodGet, "/api/cars?sort=cheapest", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodDelete, "/api/admin/cars/"+carID, adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, "/api/cars/"+carID, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSavedCars(t *testing.T) {
	env := newTestEnv(t)
	carID := env.createCar(t)

	w := env.do(t, http.MethodPost, "/api/saved-cars/"+carID+"/toggle", aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[map[string]bool](t, w)["saved"])

	saved := decode[struct {
		Cars []model.Car `json:"cars"`
	}](t, env.do(t, http.MethodGet, "/api/saved-cars", aliceToken, nil))
	require.Len(t, saved.Cars, 1)
	assert.True(t, saved.Cars[0].Wishlisted)

	page := decode[model.CarPage](t, env.do(t, http.MethodGet, "/api/cars", aliceToken, nil))
	require.Len(t, page.Cars, 1)
	assert.True(t, page.Cars[0].Wishlisted)

	w = env.do(t, http.MethodPost, "/api/saved-cars/missing/toggle", aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWorkingHoursSettings(t *testing.T) {
	env := newTestEnv(t)
	carID := env.createCar(t)

	w := env.do(t, http.MethodPut, "/api/admin/settings/working-hours", adminToken, map[string]any{
		"working_hours": []map[string]any{{"day_of_week": "TUESDAY", "open_time": "12:00", "close_time": "09:00", "is_open": true}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/api/admin/settings/working-hours", adminToken, map[string]any{
		"working_hours": []map[string]any{{"day_of_week": "tuesday", "open_time": "12:00", "close_time": "14:00", "is_open": true}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	avail := decode[booking.Availability](t, env.do(t, http.MethodGet, "/api/cars/"+carID+"/availability?date=2024-06-11", "", nil))
	require.Len(t, avail.Slots, 2)
	assert.Equal(t, "12:00", avail.Slots[0].StartTime)

	avail = decode[booking.Availability](t, env.do(t, http.MethodGet, "/api/cars/"+carID+"/availability?date=2024-06-12", "", nil))
	assert.False(t, avail.Bookable, "days left out of the schedule are closed")
}

func TestUserRoles(t *testing.T) {
	env := newTestEnv(t)
	alice := decode[model.User](t, env.do(t, http.MethodGet, "/api/me", aliceToken, nil))
	admin := decode[model.User](t, env.do(t, http.MethodGet, "/api/me", adminToken, nil))

	w := env.do(t, http.MethodPatch, "/api/admin/users/"+admin.ID+"/role", adminToken, map[string]string{"role": "USER"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPatch, "/api/admin/users/"+alice.ID+"/role", adminToken, map[string]string{"role": "OWNER"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPatch, "/api/admin/users/"+alice.ID+"/role", adminToken, map[string]string{"role": "ADMIN"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/admin/users", aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	users := decode[struct {
		Users []model.User `json:"users"`
	}](t, w)
	assert.Len(t, users.Users, 2)
}

func TestExport(t *testing.T) {
	env := newTestEnv(t)
	env.createCar(t)

	w := env.do(t, http.MethodGet, "/api/admin/export", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "vehiql_export_20240610_080000.xlsx")
	assert.NotZero(t, w.Body.Len())
}

func TestExtract_RateLimited(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Vision.RatePerHour = 1
		cfg.Vision.Burst = 1
	})
	img := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("photo"))

	w := env.do(t, http.MethodPost, "/api/admin/cars/extract", adminToken, map[string]string{"image": img})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "no extractor configured")

	w = env.do(t, http.MethodPost, "/api/admin/cars/extract", adminToken, map[string]string{"image": img})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
