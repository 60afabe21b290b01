// Package cars manages the dealership inventory.
package cars

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vehiql/internal/cache"
	"vehiql/internal/model"
	"vehiql/internal/storage"
)

var (
	ErrInvalidCar   = errors.New("invalid car")
	ErrInvalidPrice = errors.New("invalid price value")
	ErrNoImages     = errors.New("no valid images were uploaded")
	ErrNoExtractor  = errors.New("car detail extraction is not available")
)

const filtersKey = "car-filters"

// Repository provides the persistence the catalog needs.
type Repository interface {
	CreateCar(ctx context.Context, c *model.Car) error
	GetCar(ctx context.Context, id string) (*model.Car, error)
	UpdateCarListing(ctx context.Context, id string, status *model.CarStatus, featured *bool) (*model.Car, error)
	DeleteCar(ctx context.Context, id string) (*model.Car, error)
	ListCars(ctx context.Context, filter model.CarFilter) (*model.CarPage, error)
	CarFilters(ctx context.Context) (*model.CarFilters, error)
	MarkWishlisted(ctx context.Context, userID string, cars []model.Car) error
	LatestUserBooking(ctx context.Context, userID, carID string) (*model.TestDriveBooking, error)
	GetDealership(ctx context.Context) (*model.Dealership, error)
}

// Extractor reads listing details from a photo.
type Extractor interface {
	ExtractCarDetails(ctx context.Context, img *storage.Image) (*model.CarDetails, error)
}

// Price accepts a JSON number or a formatted string such as "$25,000".
type Price string

func (p *Price) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*p = Price(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPrice, b)
	}
	*p = Price(n.String())
	return nil
}

// Input is a new car listing.
type Input struct {
	Make         string          `json:"make"`
	Model        string          `json:"model"`
	Year         int             `json:"year"`
	Price        Price           `json:"price"`
	Mileage      int             `json:"mileage"`
	Color        string          `json:"color"`
	FuelType     string          `json:"fuel_type"`
	Transmission string          `json:"transmission"`
	BodyType     string          `json:"body_type"`
	Seats        int             `json:"seats"`
	Description  string          `json:"description"`
	Status       model.CarStatus `json:"status"`
	Featured     bool            `json:"featured"`
}

// TestDriveInfo tells the viewer of a car how to book it.
type TestDriveInfo struct {
	UserTestDrive *model.TestDriveBooking `json:"user_test_drive"`
	Dealership    *model.Dealership       `json:"dealership"`
}

// Detail is a car page.
type Detail struct {
	model.Car
	TestDriveInfo TestDriveInfo `json:"test_drive_info"`
}

// Service is the car catalog.
type Service struct {
	repo      Repository
	store     storage.ObjectStore
	extractor Extractor
	cache     *cache.Cache
	clock     func() time.Time
	logger    zerolog.Logger
}

func NewService(repo Repository, store storage.ObjectStore, extractor Extractor, cc *cache.Cache, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		store:     store,
		extractor: extractor,
		cache:     cc,
		clock:     time.Now,
		logger:    logger.With().Str("component", "cars").Logger(),
	}
}

// CreateCar validates in, uploads the data URL images and stores the car.
func (s *Service) CreateCar(ctx context.Context, in Input, images []string) (*model.Car, error) {
	price, err := NormalizePrice(string(in.Price))
	if err != nil {
		return nil, err
	}
	if err := s.validate(&in); err != nil {
		return nil, err
	}

	now := s.clock()
	car := &model.Car{
		ID:           uuid.NewString(),
		Make:         strings.TrimSpace(in.Make),
		Model:        strings.TrimSpace(in.Model),
		Year:         in.Year,
		Price:        price,
		Mileage:      in.Mileage,
		Color:        in.Color,
		FuelType:     in.FuelType,
		Transmission: in.Transmission,
		BodyType:     in.BodyType,
		Seats:        in.Seats,
		Description:  in.Description,
		Status:       in.Status,
		Featured:     in.Featured,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	car.Images, err = s.uploadImages(ctx, car.ID, now, images)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateCar(ctx, car); err != nil {
		s.removeImages(ctx, car.Images)
		return nil, fmt.Errorf("create car: %w", err)
	}

	s.cache.Delete(ctx, filtersKey)
	s.logger.Info().Str("car_id", car.ID).Str("title", car.Title()).Int("images", len(car.Images)).Msg("car created")
	return car, nil
}

// ListCars returns a page of cars. Non-admin callers only see available cars.
func (s *Service) ListCars(ctx context.Context, filter model.CarFilter, caller *model.User) (*model.CarPage, error) {
	if !caller.IsAdmin() {
		filter.Status = model.CarAvailable
	}
	page, err := s.repo.ListCars(ctx, filter)
	if err != nil {
		return nil, err
	}
	if caller != nil {
		if err := s.repo.MarkWishlisted(ctx, caller.ID, page.Cars); err != nil {
			return nil, err
		}
	}
	return page, nil
}

// GetCar returns the car page with the caller's wishlist state and test drive info.
func (s *Service) GetCar(ctx context.Context, id string, caller *model.User) (*Detail, error) {
	var car model.Car
	if !s.cache.Get(ctx, carKey(id), &car) {
		c, err := s.repo.GetCar(ctx, id)
		if err != nil {
			return nil, err
		}
		car = *c
		s.cache.Set(ctx, carKey(id), car)
	}

	detail := &Detail{Car: car}
	if caller != nil {
		list := []model.Car{car}
		if err := s.repo.MarkWishlisted(ctx, caller.ID, list); err != nil {
			return nil, err
		}
		detail.Wishlisted = list[0].Wishlisted

		b, err := s.repo.LatestUserBooking(ctx, caller.ID, id)
		if err == nil {
			detail.TestDriveInfo.UserTestDrive = b
		}
	}

	dealership, err := s.repo.GetDealership(ctx)
	if err == nil {
		detail.TestDriveInfo.Dealership = dealership
	}
	return detail, nil
}

// Filters returns the listing facets.
func (s *Service) Filters(ctx context.Context) (*model.CarFilters, error) {
	var f model.CarFilters
	if s.cache.Get(ctx, filtersKey, &f) {
		return &f, nil
	}
	res, err := s.repo.CarFilters(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, filtersKey, res)
	return res, nil
}

// UpdateListing changes a car's status or featured flag.
func (s *Service) UpdateListing(ctx context.Context, id string, status *model.CarStatus, featured *bool) (*model.Car, error) {
	if status == nil && featured == nil {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidCar)
	}
	if status != nil && !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidCar, *status)
	}
	car, err := s.repo.UpdateCarListing(ctx, id, status, featured)
	if err != nil {
		return nil, err
	}
	s.cache.Delete(ctx, carKey(id), filtersKey)
	return car, nil
}

// DeleteCar removes a car. Its images are deleted best effort.
func (s *Service) DeleteCar(ctx context.Context, id string) error {
	car, err := s.repo.DeleteCar(ctx, id)
	if err != nil {
		return err
	}
	s.cache.Delete(ctx, carKey(id), filtersKey)
	s.removeImages(ctx, car.Images)
	s.logger.Info().Str("car_id", id).Msg("car deleted")
	return nil
}

// ExtractDetails reads listing details from a data URL photo.
func (s *Service) ExtractDetails(ctx context.Context, dataURL string) (*model.CarDetails, error) {
	if s.extractor == nil {
		return nil, ErrNoExtractor
	}
	img, err := storage.ParseDataURL(dataURL)
	if err != nil {
		return nil, err
	}
	return s.extractor.ExtractCarDetails(ctx, img)
}

func (s *Service) validate(in *Input) error {
	if strings.TrimSpace(in.Make) == "" || strings.TrimSpace(in.Model) == "" {
		return fmt.Errorf("%w: make and model are required", ErrInvalidCar)
	}
	if maxYear := s.clock().Year() + 1; in.Year < 1900 || in.Year > maxYear {
		return fmt.Errorf("%w: year must be between 1900 and %d", ErrInvalidCar, maxYear)
	}
	if in.Mileage < 0 || in.Seats < 0 {
		return fmt.Errorf("%w: mileage and seats cannot be negative", ErrInvalidCar)
	}
	if in.Status == "" {
		in.Status = model.CarAvailable
	}
	if !in.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidCar, in.Status)
	}
	return nil
}

func (s *Service) uploadImages(ctx context.Context, carID string, now time.Time, images []string) ([]string, error) {
	urls := make([]string, 0, len(images))
	for i, dataURL := range images {
		img, err := storage.ParseDataURL(dataURL)
		if err != nil {
			s.logger.Warn().Err(err).Int("index", i).Msg("skip image")
			continue
		}
		path := fmt.Sprintf("cars/%s/image-%d-%d.%s", carID, now.UnixMilli(), i, img.Ext)
		url, err := s.store.Upload(ctx, path, img.ContentType, img.Data)
		if err != nil {
			s.removeImages(ctx, urls)
			return nil, fmt.Errorf("upload image: %w", err)
		}
		urls = append(urls, url)
	}
	if len(urls) == 0 {
		return nil, ErrNoImages
	}
	return urls, nil
}

func (s *Service) removeImages(ctx context.Context, urls []string) {
	for _, u := range urls {
		path, err := s.store.PathFromURL(u)
		if err != nil {
			s.logger.Warn().Err(err).Str("url", u).Msg("unknown image url")
			continue
		}
		if err := s.store.Delete(ctx, path); err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("delete image")
		}
	}
}

// NormalizePrice parses a price such as "$25,000.5" and rounds it to cents.
func NormalizePrice(s string) (float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, s)
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) || v < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	return math.Round(v*100) / 100, nil
}

func carKey(id string) string {
	return "car:" + id
}
