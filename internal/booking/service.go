package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vehiql/internal/metrics"
	"vehiql/internal/model"
	"vehiql/internal/slots"
)

var (
	ErrForbidden      = errors.New("booking belongs to another user")
	ErrDateTooFar     = errors.New("date is too far in the future")
	ErrCarUnavailable = errors.New("car is not available for test drives")
	ErrUnknownStatus  = errors.New("unknown booking status")
)

// Event types published by the service.
const (
	EventBooked        = "test_drive.booked"
	EventStatusChanged = "test_drive.status_changed"
)

// Repository provides the persistence the service needs.
type Repository interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	GetCar(ctx context.Context, id string) (*model.Car, error)
	GetWorkingHours(ctx context.Context) (model.WorkingHours, error)
	ListCarBookingsOnDate(ctx context.Context, carID string, date time.Time) ([]model.TestDriveBooking, error)
	CreateBooking(ctx context.Context, b *model.TestDriveBooking) error
	GetBooking(ctx context.Context, id string) (*model.TestDriveBooking, error)
	UpdateBookingStatus(ctx context.Context, id string, from, to model.BookingStatus, at time.Time) error
	ListBookings(ctx context.Context, filter model.BookingFilter) ([]model.TestDriveView, error)
}

// EventPublisher fans out booking events.
type EventPublisher interface {
	PublishJSON(evType string, payload interface{}) error
}

// StatusChange is the payload of EventStatusChanged.
type StatusChange struct {
	Booking model.TestDriveBooking `json:"booking"`
	From    model.BookingStatus    `json:"from"`
	To      model.BookingStatus    `json:"to"`
	Actor   Actor                  `json:"actor"`
}

// EventKey partitions status changes by booking.
func (c StatusChange) EventKey() string {
	return c.Booking.ID
}

// Request is a user's test drive booking request.
type Request struct {
	UserID    string
	CarID     string
	Date      time.Time
	StartTime string
	EndTime   string
	Notes     string
}

// Availability is the slot view of one car and date.
type Availability struct {
	Date     string       `json:"date"`
	Bookable bool         `json:"bookable"`
	Slots    []slots.Slot `json:"slots"`
}

// Reservations splits a user's bookings for display.
type Reservations struct {
	Upcoming []model.TestDriveView `json:"upcoming"`
	Past     []model.TestDriveView `json:"past"`
}

// Options tunes the service.
type Options struct {
	Location       *time.Location
	MaxAdvanceDays int
	Clock          func() time.Time
}

// Service books test drives and moves them through their lifecycle.
type Service struct {
	repo       Repository
	fsm        *FSM
	events     EventPublisher
	loc        *time.Location
	maxAdvance int
	clock      func() time.Time
	logger     zerolog.Logger
}

// NewService creates a booking service.
func NewService(repo Repository, events EventPublisher, opts Options, logger zerolog.Logger) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{
		repo:       repo,
		fsm:        NewFSM(),
		events:     events,
		loc:        opts.Location,
		maxAdvance: opts.MaxAdvanceDays,
		clock:      opts.Clock,
		logger:     logger.With().Str("component", "booking").Logger(),
	}
}

// Location is the dealership time zone calendar dates are interpreted in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Now returns the current instant from the injected clock.
func (s *Service) Now() time.Time {
	return s.clock()
}

// Availability returns the free slots of a car on date.
func (s *Service) Availability(ctx context.Context, carID string, date time.Time) (*Availability, error) {
	date = s.inLocation(date)
	now := s.clock()

	hours, err := s.repo.GetWorkingHours(ctx)
	if err != nil {
		return nil, fmt.Errorf("get working hours: %w", err)
	}

	res := &Availability{
		Date:     date.Format(model.DateLayout),
		Bookable: slots.IsDayBookable(date, hours, now) && !s.tooFar(date, now),
		Slots:    []slots.Slot{},
	}
	if !res.Bookable {
		return res, nil
	}

	existing, err := s.repo.ListCarBookingsOnDate(ctx, carID, date)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	res.Slots = slots.ComputeAvailableSlots(date, hours, existing, now)
	return res, nil
}

// Calendar returns bookability of days starting at from.
func (s *Service) Calendar(ctx context.Context, from time.Time, days int) ([]slots.Day, error) {
	hours, err := s.repo.GetWorkingHours(ctx)
	if err != nil {
		return nil, fmt.Errorf("get working hours: %w", err)
	}
	now := s.clock()
	cal := slots.Calendar(s.inLocation(from), days, hours, now)
	for i := range cal {
		d, err := slots.ParseDate(cal[i].Date, s.loc)
		if err == nil && s.tooFar(d, now) {
			cal[i].Bookable = false
		}
	}
	return cal, nil
}

// BookTestDrive validates and stores a booking in one transaction.
func (s *Service) BookTestDrive(ctx context.Context, req Request) (*model.TestDriveBooking, error) {
	now := s.clock()
	date := s.inLocation(req.Date)

	if s.tooFar(date, now) {
		s.reject(req, ErrDateTooFar)
		return nil, ErrDateTooFar
	}

	car, err := s.repo.GetCar(ctx, req.CarID)
	if err != nil {
		return nil, fmt.Errorf("get car: %w", err)
	}
	if car.Status != model.CarAvailable {
		s.reject(req, ErrCarUnavailable)
		return nil, ErrCarUnavailable
	}

	var created *model.TestDriveBooking
	err = s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		hours, err := s.repo.GetWorkingHours(ctx)
		if err != nil {
			return fmt.Errorf("get working hours: %w", err)
		}
		existing, err := s.repo.ListCarBookingsOnDate(ctx, req.CarID, date)
		if err != nil {
			return fmt.Errorf("list bookings: %w", err)
		}

		b, err := slots.ValidateBookingRequest(req.CarID, date, req.StartTime, req.EndTime, hours, existing, now)
		if err != nil {
			return err
		}
		b.ID = uuid.NewString()
		b.UserID = req.UserID
		b.Notes = req.Notes
		b.CreatedAt = now
		b.UpdatedAt = now

		if err := s.repo.CreateBooking(ctx, b); err != nil {
			return err
		}
		created = b
		return nil
	})
	if err != nil {
		s.reject(req, err)
		return nil, err
	}

	metrics.IncBookingCreated(string(created.Status))
	s.logger.Info().
		Str("booking_id", created.ID).
		Str("car_id", created.CarID).
		Str("user_id", created.UserID).
		Str("date", created.Date()).
		Str("start", created.StartTime).
		Msg("test drive booked")
	s.publish(EventBooked, created)

	return created, nil
}

// UserTestDrives returns a user's bookings split into upcoming and past.
func (s *Service) UserTestDrives(ctx context.Context, userID string) (*Reservations, error) {
	list, err := s.repo.ListBookings(ctx, model.BookingFilter{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	res := &Reservations{Upcoming: []model.TestDriveView{}, Past: []model.TestDriveView{}}
	for _, b := range list {
		if b.Status.IsUpcoming() {
			res.Upcoming = append(res.Upcoming, b)
		} else {
			res.Past = append(res.Past, b)
		}
	}
	return res, nil
}

// ListTestDrives returns bookings for the back-office.
func (s *Service) ListTestDrives(ctx context.Context, filter model.BookingFilter) ([]model.TestDriveView, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, filter.Status)
	}
	return s.repo.ListBookings(ctx, filter)
}

// CancelTestDrive cancels a booking on behalf of its owner or an admin.
func (s *Service) CancelTestDrive(ctx context.Context, caller *model.User, bookingID string) (*model.TestDriveBooking, error) {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}

	actor := ActorOwner
	if caller.IsAdmin() {
		actor = ActorAdmin
	} else if b.UserID != caller.ID {
		return nil, ErrForbidden
	}

	return s.transition(ctx, b, model.StatusCancelled, actor)
}

// UpdateStatus moves a booking to status on behalf of an admin.
func (s *Service) UpdateStatus(ctx context.Context, bookingID string, status model.BookingStatus) (*model.TestDriveBooking, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidStatusTransition, status)
	}

	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return s.transition(ctx, b, status, ActorAdmin)
}

// NextStatuses lists the statuses an admin may set on a booking.
func (s *Service) NextStatuses(status model.BookingStatus) []model.BookingStatus {
	return s.fsm.Next(ActorAdmin, status)
}

func (s *Service) transition(ctx context.Context, b *model.TestDriveBooking, to model.BookingStatus, actor Actor) (*model.TestDriveBooking, error) {
	from := b.Status
	if err := s.fsm.Check(actor, from, to); err != nil {
		return nil, err
	}

	at := s.clock()
	if err := s.repo.UpdateBookingStatus(ctx, b.ID, from, to, at); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	b.Status = to
	b.UpdatedAt = at

	metrics.IncStatusTransition(string(from), string(to))
	s.logger.Info().
		Str("booking_id", b.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("actor", string(actor)).
		Msg("test drive status changed")
	s.publish(EventStatusChanged, StatusChange{Booking: *b, From: from, To: to, Actor: actor})

	return b, nil
}

func (s *Service) publish(evType string, payload interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishJSON(evType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", evType).Msg("publish event failed")
	}
}

func (s *Service) reject(req Request, err error) {
	reason := rejectionReason(err)
	metrics.IncBookingRejected(reason)
	s.logger.Warn().
		Err(err).
		Str("car_id", req.CarID).
		Str("user_id", req.UserID).
		Str("start", req.StartTime).
		Str("reason", reason).
		Msg("test drive rejected")
}

// tooFar reports whether date lies beyond the booking horizon.
func (s *Service) tooFar(date, now time.Time) bool {
	if s.maxAdvance <= 0 {
		return false
	}
	today := now.In(s.loc)
	limit := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, s.loc).AddDate(0, 0, s.maxAdvance)
	return date.After(limit)
}

// inLocation reinterprets the calendar date of t in the dealership zone.
func (s *Service) inLocation(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, slots.ErrDayClosed):
		return "day_closed"
	case errors.Is(err, slots.ErrOutsideWorkingHours):
		return "outside_working_hours"
	case errors.Is(err, slots.ErrSlotAlreadyBooked):
		return "slot_already_booked"
	case errors.Is(err, slots.ErrSlotInPast):
		return "slot_in_past"
	case errors.Is(err, slots.ErrInvalidWindow):
		return "invalid_window"
	case errors.Is(err, ErrDateTooFar):
		return "date_too_far"
	case errors.Is(err, ErrCarUnavailable):
		return "car_unavailable"
	default:
		return "error"
	}
}
