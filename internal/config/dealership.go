package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"vehiql/internal/model"
)

// DealershipConfig seeds the dealership profile on first start.
type DealershipConfig struct {
	Name         string              `yaml:"name"`
	Address      string              `yaml:"address"`
	Phone        string              `yaml:"phone"`
	Email        string              `yaml:"email"`
	WorkingHours []WorkingHourConfig `yaml:"working_hours"`
}

type WorkingHourConfig struct {
	Day    string `yaml:"day"`   // "MONDAY"
	Open   string `yaml:"open"`  // "09:00"
	Close  string `yaml:"close"` // "18:00"
	Closed bool   `yaml:"closed"`
}

// DefaultDealership is used when no dealership file exists.
func DefaultDealership() *DealershipConfig {
	cfg := &DealershipConfig{Name: "Vehiql Motors"}
	for _, d := range model.Weekdays {
		h := WorkingHourConfig{Day: string(d), Open: "09:00", Close: "18:00"}
		switch d {
		case model.Saturday:
			h.Open, h.Close = "10:00", "16:00"
		case model.Sunday:
			h.Closed = true
		}
		cfg.WorkingHours = append(cfg.WorkingHours, h)
	}
	return cfg
}

// LoadDealership loads and validates the dealership file.
// A missing file yields DefaultDealership.
func LoadDealership(path string) (*DealershipConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultDealership(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dealership config: %w", err)
	}

	var cfg DealershipConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse dealership config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate dealership config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the dealership configuration for errors.
func (c *DealershipConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}

	seen := make(map[model.DayOfWeek]bool)
	for i, h := range c.WorkingHours {
		day, ok := model.ParseDayOfWeek(h.Day)
		if !ok {
			return fmt.Errorf("working_hours[%d]: invalid day '%s'", i, h.Day)
		}
		if seen[day] {
			return fmt.Errorf("working_hours[%d]: duplicate day %s", i, day)
		}
		seen[day] = true

		if err := h.toModel(day).Validate(); err != nil {
			return fmt.Errorf("working_hours[%d]: %w", i, err)
		}
	}
	return nil
}

// Dealership converts the configuration to the stored representation.
// Days not listed are closed.
func (c *DealershipConfig) Dealership() model.Dealership {
	var hours []model.WorkingHour
	for _, h := range c.WorkingHours {
		day, ok := model.ParseDayOfWeek(h.Day)
		if !ok {
			continue
		}
		hours = append(hours, h.toModel(day))
	}
	return model.Dealership{
		Name:         c.Name,
		Address:      c.Address,
		Phone:        c.Phone,
		Email:        c.Email,
		WorkingHours: model.NewWorkingHours(hours).List(),
	}
}

func (h WorkingHourConfig) toModel(day model.DayOfWeek) model.WorkingHour {
	return model.WorkingHour{
		DayOfWeek: day,
		OpenTime:  h.Open,
		CloseTime: h.Close,
		IsOpen:    !h.Closed,
	}
}
