package model

import "time"

type Dealership struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Address      string        `json:"address"`
	Phone        string        `json:"phone"`
	Email        string        `json:"email"`
	WorkingHours []WorkingHour `json:"working_hours"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Hours indexes the dealership's working hours by weekday.
func (d *Dealership) Hours() WorkingHours {
	if d == nil {
		return WorkingHours{}
	}
	return NewWorkingHours(d.WorkingHours)
}

// Dashboard summarises inventory and test drive activity.
type Dashboard struct {
	Cars struct {
		Total       int `json:"total"`
		Available   int `json:"available"`
		Unavailable int `json:"unavailable"`
		Sold        int `json:"sold"`
		Featured    int `json:"featured"`
	} `json:"cars"`
	TestDrives struct {
		Total          int                   `json:"total"`
		ByStatus       map[BookingStatus]int `json:"by_status"`
		ConversionRate float64               `json:"conversion_rate"`
	} `json:"test_drives"`
}
