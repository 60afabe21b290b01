package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"vehiql/internal/model"
	"vehiql/internal/slots"
)

const bookingColumns = `b.id, b.car_id, b.user_id, b.booking_date, b.start_time, b.end_time,
	b.status, b.notes, b.created_at, b.updated_at`

// ListCarBookingsOnDate returns the active bookings of a car on date ordered by start time.
func (db *DB) ListCarBookingsOnDate(ctx context.Context, carID string, date time.Time) ([]model.TestDriveBooking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM test_drive_bookings b
		WHERE b.car_id = ? AND b.booking_date = ? AND b.status <> ?
		ORDER BY b.start_time`

	rows, err := db.conn(ctx).QueryContext(ctx, query, carID, date.Format(model.DateLayout), model.StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("query car bookings: %w", err)
	}
	defer rows.Close()

	var out []model.TestDriveBooking
	for rows.Next() {
		b, err := db.scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// CreateBooking inserts b. A second active booking for the same cell fails with
// slots.ErrSlotAlreadyBooked.
func (db *DB) CreateBooking(ctx context.Context, b *model.TestDriveBooking) error {
	query := `INSERT INTO test_drive_bookings
		(id, car_id, user_id, booking_date, start_time, end_time, status, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn(ctx).ExecContext(ctx, query,
		b.ID, b.CarID, b.UserID, b.Date(), b.StartTime, b.EndTime,
		b.Status, b.Notes, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return slots.ErrSlotAlreadyBooked
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// GetBooking returns a booking by id.
func (db *DB) GetBooking(ctx context.Context, id string) (*model.TestDriveBooking, error) {
	query := `SELECT ` + bookingColumns + ` FROM test_drive_bookings b WHERE b.id = ?`
	b, err := db.scanBooking(db.conn(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

// UpdateBookingStatus moves a booking from one status to another and stamps updated_at with at.
// It fails with ErrConcurrentModification when the stored status is no longer from.
func (db *DB) UpdateBookingStatus(ctx context.Context, id string, from, to model.BookingStatus, at time.Time) error {
	res, err := db.conn(ctx).ExecContext(ctx,
		`UPDATE test_drive_bookings SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, at, id, from,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return slots.ErrSlotAlreadyBooked
		}
		return fmt.Errorf("update booking status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = db.conn(ctx).QueryRowContext(ctx, `SELECT 1 FROM test_drive_bookings WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check booking: %w", err)
	}
	return ErrConcurrentModification
}

// ListBookings returns bookings joined with their car and user, newest date first.
func (db *DB) ListBookings(ctx context.Context, filter model.BookingFilter) ([]model.TestDriveView, error) {
	var (
		where []string
		args  []any
	)
	if filter.UserID != "" {
		where = append(where, "b.user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.CarID != "" {
		where = append(where, "b.car_id = ?")
		args = append(args, filter.CarID)
	}
	if filter.Date != "" {
		where = append(where, "b.booking_date = ?")
		args = append(args, filter.Date)
	}
	if filter.Status != "" {
		where = append(where, "b.status = ?")
		args = append(args, filter.Status)
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		like := "%" + s + "%"
		where = append(where, "(c.make LIKE ? OR c.model LIKE ? OR u.name LIKE ? OR u.email LIKE ?)")
		args = append(args, like, like, like, like)
	}

	query := `SELECT ` + bookingColumns + `,
		c.make, c.model, c.year, c.images,
		u.name, u.email, u.phone
		FROM test_drive_bookings b
		JOIN cars c ON c.id = b.car_id
		JOIN users u ON u.id = b.user_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY b.booking_date DESC, b.start_time ASC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := db.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	out := []model.TestDriveView{}
	for rows.Next() {
		var (
			v      model.TestDriveView
			date   string
			images string
			status string
		)
		if err := rows.Scan(
			&v.ID, &v.CarID, &v.UserID, &date, &v.StartTime, &v.EndTime,
			&status, &v.Notes, &v.CreatedAt, &v.UpdatedAt,
			&v.Car.Make, &v.Car.Model, &v.Car.Year, &images,
			&v.User.Name, &v.User.Email, &v.User.Phone,
		); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		if v.BookingDate, err = time.ParseInLocation(model.DateLayout, date, db.loc); err != nil {
			return nil, fmt.Errorf("parse booking date %q: %w", date, err)
		}
		v.Status = model.BookingStatus(status)
		v.Car.ID = v.CarID
		v.User.ID = v.UserID
		if err := json.Unmarshal([]byte(images), &v.Car.Images); err != nil {
			db.logger.Warn().Err(err).Str("car_id", v.CarID).Msg("undecodable car images")
		}
		v.Car.Images = nonNil(v.Car.Images)
		out = append(out, v)
	}
	return out, rows.Err()
}

// LatestUserBooking returns the newest non-cancelled booking a user holds for a car.
func (db *DB) LatestUserBooking(ctx context.Context, userID, carID string) (*model.TestDriveBooking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM test_drive_bookings b
		WHERE b.user_id = ? AND b.car_id = ? AND b.status IN (?, ?, ?)
		ORDER BY b.created_at DESC
		LIMIT 1`
	b, err := db.scanBooking(db.conn(ctx).QueryRowContext(ctx, query,
		userID, carID, model.StatusPending, model.StatusConfirmed, model.StatusCompleted))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (db *DB) scanBooking(row rowScanner) (*model.TestDriveBooking, error) {
	var (
		b      model.TestDriveBooking
		date   string
		status string
	)
	err := row.Scan(&b.ID, &b.CarID, &b.UserID, &date, &b.StartTime, &b.EndTime,
		&status, &b.Notes, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan booking: %w", err)
	}
	b.BookingDate, err = time.ParseInLocation(model.DateLayout, date, db.loc)
	if err != nil {
		return nil, fmt.Errorf("parse booking date %q: %w", date, err)
	}
	b.Status = model.BookingStatus(status)
	return &b, nil
}
