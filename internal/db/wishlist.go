package db

import (
	"context"
	"fmt"
	"time"

	"vehiql/internal/model"
)

// ToggleSavedCar adds the car to the user's wishlist or removes it when already saved.
// It reports whether the car is saved afterwards.
func (db *DB) ToggleSavedCar(ctx context.Context, userID, carID string) (bool, error) {
	var saved bool
	err := db.WithinTransaction(ctx, func(ctx context.Context) error {
		if _, err := db.GetCar(ctx, carID); err != nil {
			return err
		}

		res, err := db.conn(ctx).ExecContext(ctx,
			`DELETE FROM user_saved_cars WHERE user_id = ? AND car_id = ?`, userID, carID)
		if err != nil {
			return fmt.Errorf("delete saved car: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			saved = false
			return nil
		}

		_, err = db.conn(ctx).ExecContext(ctx,
			`INSERT INTO user_saved_cars (user_id, car_id, saved_at) VALUES (?, ?, ?)`,
			userID, carID, time.Now())
		if err != nil {
			return fmt.Errorf("insert saved car: %w", err)
		}
		saved = true
		return nil
	})
	return saved, err
}

// ListSavedCars returns the user's wishlist, most recently saved first.
func (db *DB) ListSavedCars(ctx context.Context, userID string) ([]model.Car, error) {
	rows, err := db.conn(ctx).QueryContext(ctx, `SELECT `+carColumns+`
		FROM user_saved_cars s
		JOIN cars c ON c.id = s.car_id
		WHERE s.user_id = ?
		ORDER BY s.saved_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query saved cars: %w", err)
	}
	defer rows.Close()

	out := []model.Car{}
	for rows.Next() {
		c, err := scanCar(rows)
		if err != nil {
			return nil, err
		}
		c.Wishlisted = true
		out = append(out, *c)
	}
	return out, rows.Err()
}

// MarkWishlisted sets Wishlisted on cars the user has saved.
func (db *DB) MarkWishlisted(ctx context.Context, userID string, cars []model.Car) error {
	if userID == "" || len(cars) == 0 {
		return nil
	}
	rows, err := db.conn(ctx).QueryContext(ctx, `SELECT car_id FROM user_saved_cars WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("query saved ids: %w", err)
	}
	defer rows.Close()

	saved := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan saved id: %w", err)
		}
		saved[id] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := range cars {
		cars[i].Wishlisted = saved[cars[i].ID]
	}
	return nil
}
