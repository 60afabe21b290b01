// Package slots derives bookable one-hour test drive windows from working hours.
package slots

import (
	"errors"
	"fmt"
	"time"

	"vehiql/internal/model"
)

var (
	ErrDayClosed           = errors.New("dealership is closed on this day")
	ErrOutsideWorkingHours = errors.New("slot is outside working hours")
	ErrSlotAlreadyBooked   = errors.New("slot is already booked")
	ErrSlotInPast          = errors.New("slot is in the past")
	ErrInvalidWindow       = errors.New("slot must be exactly one hour on the hour")
)

const (
	slotLength  = 60 // minutes
	labelLayout = "3:04 PM"
)

// Slot is a candidate one-hour window.
type Slot struct {
	StartTime string `json:"start_time"` // "09:00"
	EndTime   string `json:"end_time"`   // "10:00"
	Label     string `json:"label"`      // "9:00 AM - 10:00 AM"
}

// Day is a calendar entry for the date picker.
type Day struct {
	Date     string `json:"date"`
	Bookable bool   `json:"bookable"`
}

// ComputeAvailableSlots returns the free one-hour windows of date in ascending order.
// existing should hold the car's bookings; cancelled ones and other dates are ignored.
// On the calendar day of now only windows starting strictly after now are kept.
func ComputeAvailableSlots(date time.Time, hours model.WorkingHours, existing []model.TestDriveBooking, now time.Time) []Slot {
	day := startOfDay(date)
	openHour, closeHour, ok := openHours(day, hours)
	if !ok {
		return []Slot{}
	}

	booked := bookedStarts(day, "", existing)
	today := isToday(day, now)

	slots := make([]Slot, 0, closeHour-openHour)
	for hour := openHour; hour < closeHour; hour++ {
		if booked[hour*60] {
			continue
		}
		if today && !slotStart(day, hour*60).After(now) {
			continue
		}
		slots = append(slots, newSlot(day, hour))
	}
	return slots
}

// IsDayBookable reports whether date can be picked at all.
// Fully booked days remain bookable; they just yield no slots.
func IsDayBookable(date time.Time, hours model.WorkingHours, now time.Time) bool {
	day := startOfDay(date)
	if day.Before(startOfDay(now.In(day.Location()))) {
		return false
	}
	_, _, ok := openHours(day, hours)
	return ok
}

// Calendar lists days starting at from with their bookability.
func Calendar(from time.Time, days int, hours model.WorkingHours, now time.Time) []Day {
	if days <= 0 {
		return []Day{}
	}
	start := startOfDay(from)
	out := make([]Day, 0, days)
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i)
		out = append(out, Day{
			Date:     d.Format(model.DateLayout),
			Bookable: IsDayBookable(d, hours, now),
		})
	}
	return out
}

// ValidateBookingRequest re-checks a single proposed window against the same rules as
// ComputeAvailableSlots. On success it returns a PENDING booking ready to be stored.
func ValidateBookingRequest(
	carID string,
	date time.Time,
	startTime, endTime string,
	hours model.WorkingHours,
	existing []model.TestDriveBooking,
	now time.Time,
) (*model.TestDriveBooking, error) {
	start, err := model.ClockMinutes(startTime)
	if err != nil {
		return nil, fmt.Errorf("%w: start: %v", ErrInvalidWindow, err)
	}
	end, err := model.ClockMinutes(endTime)
	if err != nil {
		return nil, fmt.Errorf("%w: end: %v", ErrInvalidWindow, err)
	}
	if end-start != slotLength || start%slotLength != 0 {
		return nil, ErrInvalidWindow
	}

	day := startOfDay(date)
	openHour, closeHour, ok := openHours(day, hours)
	if !ok {
		return nil, ErrDayClosed
	}

	hour := start / 60
	if hour < openHour || hour >= closeHour {
		return nil, ErrOutsideWorkingHours
	}

	if bookedStarts(day, carID, existing)[start] {
		return nil, ErrSlotAlreadyBooked
	}

	if !slotStart(day, start).After(now) {
		return nil, ErrSlotInPast
	}

	return &model.TestDriveBooking{
		CarID:       carID,
		BookingDate: day,
		StartTime:   model.FormatClock(start),
		EndTime:     model.FormatClock(end),
		Status:      model.StatusPending,
	}, nil
}

// ParseDate parses a YYYY-MM-DD calendar date in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(model.DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q; expected YYYY-MM-DD", s)
	}
	return d, nil
}

// Label renders a window in 12-hour form.
func Label(start, end time.Time) string {
	return fmt.Sprintf("%s - %s", start.Format(labelLayout), end.Format(labelLayout))
}

// newSlot labels the window by wall clock, so DST days keep "2:00 AM - 3:00 AM".
func newSlot(day time.Time, hour int) Slot {
	start := wallClock(hour * 60)
	end := wallClock(hour*60 + slotLength)
	return Slot{
		StartTime: model.FormatClock(hour * 60),
		EndTime:   model.FormatClock(hour*60 + slotLength),
		Label:     Label(start, end),
	}
}

// openHours returns the integer hour bounds [open, close) of the day.
func openHours(day time.Time, hours model.WorkingHours) (openHour, closeHour int, ok bool) {
	h, ok := hours.Open(model.DayOfWeekOf(day))
	if !ok {
		return 0, 0, false
	}
	open, err := model.ClockMinutes(h.OpenTime)
	if err != nil {
		return 0, 0, false
	}
	closing, err := model.ClockMinutes(h.CloseTime)
	if err != nil || closing <= open {
		return 0, 0, false
	}
	return open / 60, closing / 60, true
}

// bookedStarts collects start minutes held by active bookings on day.
// An empty carID matches every booking.
func bookedStarts(day time.Time, carID string, existing []model.TestDriveBooking) map[int]bool {
	booked := make(map[int]bool, len(existing))
	for i := range existing {
		b := &existing[i]
		if !b.IsActive() || !sameDate(b.BookingDate, day) {
			continue
		}
		if carID != "" && b.CarID != carID {
			continue
		}
		start, err := model.ClockMinutes(b.StartTime)
		if err != nil {
			continue
		}
		booked[start] = true
	}
	return booked
}

func slotStart(day time.Time, minutes int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, day.Location())
}

// wallClock is a zone-free instant used only for formatting clock labels.
func wallClock(minutes int) time.Time {
	return time.Date(2000, time.January, 1, minutes/60, minutes%60, 0, 0, time.UTC)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// sameDate compares calendar dates as written, without zone conversion.
func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func isToday(day, now time.Time) bool {
	return sameDate(day, now.In(day.Location()))
}
