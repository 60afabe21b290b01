package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vehiql/internal/model"
)

// GetDealership returns the dealership with its working hours.
func (db *DB) GetDealership(ctx context.Context) (*model.Dealership, error) {
	var d model.Dealership
	err := db.conn(ctx).QueryRowContext(ctx, `SELECT id, name, address, phone, email, created_at, updated_at
		FROM dealerships ORDER BY created_at LIMIT 1`).
		Scan(&d.ID, &d.Name, &d.Address, &d.Phone, &d.Email, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dealership: %w", err)
	}

	hours, err := db.listWorkingHours(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	d.WorkingHours = model.NewWorkingHours(hours).List()
	return &d, nil
}

// EnsureDealership creates the dealership from defaults when none exists yet.
func (db *DB) EnsureDealership(ctx context.Context, defaults model.Dealership) (*model.Dealership, error) {
	var out *model.Dealership
	err := db.WithinTransaction(ctx, func(ctx context.Context) error {
		d, err := db.GetDealership(ctx)
		if err == nil {
			out = d
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		now := time.Now()
		d = &defaults
		d.ID = uuid.NewString()
		d.CreatedAt, d.UpdatedAt = now, now
		_, err = db.conn(ctx).ExecContext(ctx,
			`INSERT INTO dealerships (id, name, address, phone, email, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.Name, d.Address, d.Phone, d.Email, d.CreatedAt, d.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert dealership: %w", err)
		}
		if err := db.replaceWorkingHours(ctx, d.ID, d.WorkingHours); err != nil {
			return err
		}
		db.logger.Info().Str("dealership_id", d.ID).Msg("default dealership created")

		out, err = db.GetDealership(ctx)
		return err
	})
	return out, err
}

// GetWorkingHours returns the dealership's weekly schedule.
// Without a dealership every day is closed.
func (db *DB) GetWorkingHours(ctx context.Context) (model.WorkingHours, error) {
	d, err := db.GetDealership(ctx)
	if errors.Is(err, ErrNotFound) {
		return model.WorkingHours{}, nil
	}
	if err != nil {
		return nil, err
	}
	return d.Hours(), nil
}

// SaveWorkingHours replaces the weekly schedule of the dealership.
// Day names are stored upper-case whatever casing the caller used.
func (db *DB) SaveWorkingHours(ctx context.Context, list []model.WorkingHour) (*model.Dealership, error) {
	hours := make([]model.WorkingHour, len(list))
	for i, h := range list {
		if err := h.Validate(); err != nil {
			return nil, err
		}
		h.DayOfWeek, _ = model.ParseDayOfWeek(string(h.DayOfWeek))
		hours[i] = h
	}

	var out *model.Dealership
	err := db.WithinTransaction(ctx, func(ctx context.Context) error {
		d, err := db.GetDealership(ctx)
		if err != nil {
			return err
		}
		if err := db.replaceWorkingHours(ctx, d.ID, hours); err != nil {
			return err
		}
		if _, err := db.conn(ctx).ExecContext(ctx,
			`UPDATE dealerships SET updated_at = ? WHERE id = ?`, time.Now(), d.ID); err != nil {
			return fmt.Errorf("touch dealership: %w", err)
		}
		out, err = db.GetDealership(ctx)
		return err
	})
	return out, err
}

func (db *DB) replaceWorkingHours(ctx context.Context, dealershipID string, hours []model.WorkingHour) error {
	if _, err := db.conn(ctx).ExecContext(ctx,
		`DELETE FROM working_hours WHERE dealership_id = ?`, dealershipID); err != nil {
		return fmt.Errorf("clear working hours: %w", err)
	}
	for _, h := range hours {
		_, err := db.conn(ctx).ExecContext(ctx,
			`INSERT INTO working_hours (dealership_id, day_of_week, open_time, close_time, is_open) VALUES (?, ?, ?, ?, ?)`,
			dealershipID, h.DayOfWeek, h.OpenTime, h.CloseTime, h.IsOpen)
		if err != nil {
			return fmt.Errorf("insert working hours %s: %w", h.DayOfWeek, err)
		}
	}
	return nil
}

func (db *DB) listWorkingHours(ctx context.Context, dealershipID string) ([]model.WorkingHour, error) {
	rows, err := db.conn(ctx).QueryContext(ctx,
		`SELECT day_of_week, open_time, close_time, is_open FROM working_hours WHERE dealership_id = ?`,
		dealershipID)
	if err != nil {
		return nil, fmt.Errorf("query working hours: %w", err)
	}
	defer rows.Close()

	var out []model.WorkingHour
	for rows.Next() {
		var (
			h   model.WorkingHour
			day string
		)
		if err := rows.Scan(&day, &h.OpenTime, &h.CloseTime, &h.IsOpen); err != nil {
			return nil, fmt.Errorf("scan working hours: %w", err)
		}
		h.DayOfWeek = model.DayOfWeek(day)
		out = append(out, h)
	}
	return out, rows.Err()
}
