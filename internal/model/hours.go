package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DayOfWeek is an upper-cased English weekday name.
type DayOfWeek string

const (
	Monday    DayOfWeek = "MONDAY"
	Tuesday   DayOfWeek = "TUESDAY"
	Wednesday DayOfWeek = "WEDNESDAY"
	Thursday  DayOfWeek = "THURSDAY"
	Friday    DayOfWeek = "FRIDAY"
	Saturday  DayOfWeek = "SATURDAY"
	Sunday    DayOfWeek = "SUNDAY"
)

// Weekdays lists the days starting from Monday.
var Weekdays = []DayOfWeek{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

// DayOfWeekOf resolves the weekday of t in its own location.
func DayOfWeekOf(t time.Time) DayOfWeek {
	return DayOfWeek(strings.ToUpper(t.Weekday().String()))
}

// ParseDayOfWeek accepts any casing of an English weekday name.
func ParseDayOfWeek(s string) (DayOfWeek, bool) {
	d := DayOfWeek(strings.ToUpper(strings.TrimSpace(s)))
	for _, w := range Weekdays {
		if w == d {
			return d, true
		}
	}
	return "", false
}

// WorkingHour is the opening window for one weekday.
type WorkingHour struct {
	DayOfWeek DayOfWeek `json:"day_of_week"`
	OpenTime  string    `json:"open_time"`  // "09:00"
	CloseTime string    `json:"close_time"` // "18:00"
	IsOpen    bool      `json:"is_open"`
}

// Validate checks the day name and, for open days, that open < close.
func (h WorkingHour) Validate() error {
	if _, ok := ParseDayOfWeek(string(h.DayOfWeek)); !ok {
		return fmt.Errorf("invalid day of week %q", h.DayOfWeek)
	}
	if !h.IsOpen {
		return nil
	}
	open, err := ClockMinutes(h.OpenTime)
	if err != nil {
		return fmt.Errorf("%s: open_time: %w", h.DayOfWeek, err)
	}
	closing, err := ClockMinutes(h.CloseTime)
	if err != nil {
		return fmt.Errorf("%s: close_time: %w", h.DayOfWeek, err)
	}
	if closing <= open {
		return fmt.Errorf("%s: close_time must be after open_time", h.DayOfWeek)
	}
	return nil
}

// WorkingHours maps weekdays to their opening windows. Missing days are closed.
type WorkingHours map[DayOfWeek]WorkingHour

// NewWorkingHours indexes a list by weekday; later entries win.
func NewWorkingHours(list []WorkingHour) WorkingHours {
	wh := make(WorkingHours, len(list))
	for _, h := range list {
		wh[h.DayOfWeek] = h
	}
	return wh
}

// Open returns the window for day when the dealership is open that day.
func (wh WorkingHours) Open(day DayOfWeek) (WorkingHour, bool) {
	h, ok := wh[day]
	if !ok || !h.IsOpen {
		return WorkingHour{}, false
	}
	return h, true
}

// List returns all seven days from Monday, filling missing days as closed.
func (wh WorkingHours) List() []WorkingHour {
	out := make([]WorkingHour, 0, len(Weekdays))
	for _, d := range Weekdays {
		h, ok := wh[d]
		if !ok {
			h = WorkingHour{DayOfWeek: d}
		}
		out = append(out, h)
	}
	return out
}

// ClockMinutes parses "HH:MM" (or "H:MM") into minutes after midnight.
func ClockMinutes(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid time format: %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour: %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute: %q", s)
	}
	return hour*60 + minute, nil
}

// FormatClock renders minutes after midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
