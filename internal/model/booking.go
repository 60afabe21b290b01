package model

import "time"

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// BookingStatus is the lifecycle state of a test drive booking.
type BookingStatus string

const (
	StatusPending   BookingStatus = "PENDING"
	StatusConfirmed BookingStatus = "CONFIRMED"
	StatusCompleted BookingStatus = "COMPLETED"
	StatusCancelled BookingStatus = "CANCELLED"
	StatusNoShow    BookingStatus = "NO_SHOW"
)

// BookingStatuses lists every status in lifecycle order.
var BookingStatuses = []BookingStatus{
	StatusPending,
	StatusConfirmed,
	StatusCompleted,
	StatusCancelled,
	StatusNoShow,
}

// IsValid reports whether s is a known status.
func (s BookingStatus) IsValid() bool {
	for _, st := range BookingStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s BookingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// IsUpcoming reports whether the booking still awaits the drive.
func (s BookingStatus) IsUpcoming() bool {
	return s == StatusPending || s == StatusConfirmed
}

// TestDriveBooking occupies one (car, date, start hour) cell.
type TestDriveBooking struct {
	ID          string        `json:"id"`
	CarID       string        `json:"car_id"`
	UserID      string        `json:"user_id"`
	BookingDate time.Time     `json:"booking_date"`
	StartTime   string        `json:"start_time"` // "14:00"
	EndTime     string        `json:"end_time"`   // "15:00"
	Status      BookingStatus `json:"status"`
	Notes       string        `json:"notes,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// IsActive reports whether the booking still holds its slot.
func (b *TestDriveBooking) IsActive() bool {
	return b.Status != StatusCancelled
}

// Date returns the booking date in DateLayout.
func (b *TestDriveBooking) Date() string {
	return b.BookingDate.Format(DateLayout)
}

// EventKey partitions booking events by booking id.
func (b *TestDriveBooking) EventKey() string {
	return b.ID
}

// TestDriveView is a booking joined with its car and user for listings.
type TestDriveView struct {
	TestDriveBooking
	Car  CarSummary  `json:"car"`
	User UserSummary `json:"user"`
}

// BookingFilter narrows booking listings.
type BookingFilter struct {
	Search string // matches car make/model and user name/email
	Status BookingStatus
	Date   string // YYYY-MM-DD
	UserID string
	CarID  string
	Limit  int
	Offset int
}
