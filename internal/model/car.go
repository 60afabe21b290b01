package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// CarStatus is the listing state of a car.
type CarStatus string

const (
	CarAvailable   CarStatus = "AVAILABLE"
	CarUnavailable CarStatus = "UNAVAILABLE"
	CarSold        CarStatus = "SOLD"
)

// IsValid reports whether s is a known car status.
func (s CarStatus) IsValid() bool {
	switch s {
	case CarAvailable, CarUnavailable, CarSold:
		return true
	}
	return false
}

type Car struct {
	ID           string    `json:"id"`
	Make         string    `json:"make"`
	Model        string    `json:"model"`
	Year         int       `json:"year"`
	Price        float64   `json:"price"`
	Mileage      int       `json:"mileage"`
	Color        string    `json:"color"`
	FuelType     string    `json:"fuel_type"`
	Transmission string    `json:"transmission"`
	BodyType     string    `json:"body_type"`
	Seats        int       `json:"seats,omitempty"`
	Description  string    `json:"description"`
	Status       CarStatus `json:"status"`
	Featured     bool      `json:"featured"`
	Images       []string  `json:"images"`
	Wishlisted   bool      `json:"wishlisted"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Title is "2021 Toyota Corolla".
func (c *Car) Title() string {
	return fmt.Sprintf("%d %s %s", c.Year, c.Make, c.Model)
}

// CarSummary is the subset of a car embedded in booking listings.
type CarSummary struct {
	ID     string   `json:"id"`
	Make   string   `json:"make"`
	Model  string   `json:"model"`
	Year   int      `json:"year"`
	Images []string `json:"images,omitempty"`
}

// CarFilters are the facets offered for the public listing.
type CarFilters struct {
	Makes         []string `json:"makes"`
	BodyTypes     []string `json:"body_types"`
	FuelTypes     []string `json:"fuel_types"`
	Transmissions []string `json:"transmissions"`
	MinPrice      float64  `json:"min_price"`
	MaxPrice      float64  `json:"max_price"`
}

// CarDetails are the attributes extracted from a car photo.
type CarDetails struct {
	Make         string      `json:"make"`
	Model        string      `json:"model"`
	Year         int         `json:"year"`
	Color        string      `json:"color"`
	BodyType     string      `json:"bodyType"`
	Price        json.Number `json:"price"`
	Mileage      json.Number `json:"mileage"`
	FuelType     string      `json:"fuelType"`
	Transmission string      `json:"transmission"`
	Description  string      `json:"description"`
	Confidence   float64     `json:"confidence"`
}

// Car listing sort orders.
const (
	SortNewest    = "newest"
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
)

// CarFilter narrows car listings.
type CarFilter struct {
	Search       string // matches make, model and color
	Make         string
	BodyType     string
	FuelType     string
	Transmission string
	MinPrice     float64
	MaxPrice     float64
	Status       CarStatus
	Featured     *bool
	SortBy       string
	Page         int
	Limit        int
}

// CarPage is one page of a car listing.
type CarPage struct {
	Cars       []Car `json:"cars"`
	Total      int   `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"total_pages"`
}
