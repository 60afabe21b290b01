package db

import (
	"context"
	"fmt"

	"vehiql/internal/model"
)

// Dashboard aggregates inventory and test drive counts.
func (db *DB) Dashboard(ctx context.Context) (*model.Dashboard, error) {
	d := &model.Dashboard{}

	err := db.conn(ctx).QueryRowContext(ctx, `SELECT
			COUNT(*),
			COALESCE(SUM(status = 'AVAILABLE'), 0),
			COALESCE(SUM(status = 'UNAVAILABLE'), 0),
			COALESCE(SUM(status = 'SOLD'), 0),
			COALESCE(SUM(featured), 0)
		FROM cars`).
		Scan(&d.Cars.Total, &d.Cars.Available, &d.Cars.Unavailable, &d.Cars.Sold, &d.Cars.Featured)
	if err != nil {
		return nil, fmt.Errorf("count cars: %w", err)
	}

	rows, err := db.conn(ctx).QueryContext(ctx, `SELECT status, COUNT(*) FROM test_drive_bookings GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count test drives: %w", err)
	}
	defer rows.Close()

	d.TestDrives.ByStatus = make(map[model.BookingStatus]int, len(model.BookingStatuses))
	for _, st := range model.BookingStatuses {
		d.TestDrives.ByStatus[st] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		d.TestDrives.ByStatus[model.BookingStatus(status)] = n
		d.TestDrives.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Share of test drives that ended with the car sold.
	if completed := d.TestDrives.ByStatus[model.StatusCompleted]; completed > 0 {
		var sold int
		err := db.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(DISTINCT b.car_id)
			FROM test_drive_bookings b JOIN cars c ON c.id = b.car_id
			WHERE b.status = ? AND c.status = ?`, model.StatusCompleted, model.CarSold).Scan(&sold)
		if err != nil {
			return nil, fmt.Errorf("count conversions: %w", err)
		}
		d.TestDrives.ConversionRate = float64(sold) / float64(completed) * 100
	}
	return d, nil
}
