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
)

const carColumns = `c.id, c.make, c.model, c.year, c.price, c.mileage, c.color, c.fuel_type,
	c.transmission, c.body_type, c.seats, c.description, c.status, c.featured, c.images,
	c.created_at, c.updated_at`

// CreateCar inserts a car listing.
func (db *DB) CreateCar(ctx context.Context, c *model.Car) error {
	images, err := json.Marshal(nonNil(c.Images))
	if err != nil {
		return fmt.Errorf("marshal images: %w", err)
	}

	query := `INSERT INTO cars
		(id, make, model, year, price, mileage, color, fuel_type, transmission, body_type,
		 seats, description, status, featured, images, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = db.conn(ctx).ExecContext(ctx, query,
		c.ID, c.Make, c.Model, c.Year, c.Price, c.Mileage, c.Color, c.FuelType, c.Transmission,
		c.BodyType, c.Seats, c.Description, c.Status, c.Featured, string(images),
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert car: %w", err)
	}
	return nil
}

// GetCar returns a car by id.
func (db *DB) GetCar(ctx context.Context, id string) (*model.Car, error) {
	c, err := scanCar(db.conn(ctx).QueryRowContext(ctx, `SELECT `+carColumns+` FROM cars c WHERE c.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// UpdateCarListing changes the status and featured flag of a car. Nil values are left as is.
func (db *DB) UpdateCarListing(ctx context.Context, id string, status *model.CarStatus, featured *bool) (*model.Car, error) {
	var (
		sets []string
		args []any
	)
	if status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *status)
	}
	if featured != nil {
		sets = append(sets, "featured = ?")
		args = append(args, *featured)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now(), id)

	res, err := db.conn(ctx).ExecContext(ctx, `UPDATE cars SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("update car: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return db.GetCar(ctx, id)
}

// DeleteCar removes a car and returns what was stored so its images can be cleaned up.
func (db *DB) DeleteCar(ctx context.Context, id string) (*model.Car, error) {
	var deleted *model.Car
	err := db.WithinTransaction(ctx, func(ctx context.Context) error {
		c, err := db.GetCar(ctx, id)
		if err != nil {
			return err
		}
		if _, err := db.conn(ctx).ExecContext(ctx, `DELETE FROM cars WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete car: %w", err)
		}
		deleted = c
		return nil
	})
	return deleted, err
}

// ListCars returns one page of cars matching filter.
func (db *DB) ListCars(ctx context.Context, filter model.CarFilter) (*model.CarPage, error) {
	var (
		where []string
		args  []any
	)
	if s := strings.TrimSpace(filter.Search); s != "" {
		like := "%" + s + "%"
		where = append(where, "(c.make LIKE ? OR c.model LIKE ? OR c.color LIKE ?)")
		args = append(args, like, like, like)
	}
	for col, val := range map[string]string{
		"c.make":         filter.Make,
		"c.body_type":    filter.BodyType,
		"c.fuel_type":    filter.FuelType,
		"c.transmission": filter.Transmission,
	} {
		if val != "" {
			where = append(where, col+" = ? COLLATE NOCASE")
			args = append(args, val)
		}
	}
	if filter.MinPrice > 0 {
		where = append(where, "c.price >= ?")
		args = append(args, filter.MinPrice)
	}
	if filter.MaxPrice > 0 {
		where = append(where, "c.price <= ?")
		args = append(args, filter.MaxPrice)
	}
	if filter.Status != "" {
		where = append(where, "c.status = ?")
		args = append(args, filter.Status)
	}
	if filter.Featured != nil {
		where = append(where, "c.featured = ?")
		args = append(args, *filter.Featured)
	}

	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	page := &model.CarPage{Cars: []model.Car{}, Page: filter.Page, Limit: filter.Limit}
	if page.Page < 1 {
		page.Page = 1
	}
	if page.Limit < 1 {
		page.Limit = 9
	}

	if err := db.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM cars c`+cond, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("count cars: %w", err)
	}
	page.TotalPages = (page.Total + page.Limit - 1) / page.Limit

	order := " ORDER BY c.created_at DESC"
	switch filter.SortBy {
	case model.SortPriceAsc:
		order = " ORDER BY c.price ASC"
	case model.SortPriceDesc:
		order = " ORDER BY c.price DESC"
	}

	query := `SELECT ` + carColumns + ` FROM cars c` + cond + order + ` LIMIT ? OFFSET ?`
	rows, err := db.conn(ctx).QueryContext(ctx, query, append(args, page.Limit, (page.Page-1)*page.Limit)...)
	if err != nil {
		return nil, fmt.Errorf("query cars: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCar(rows)
		if err != nil {
			return nil, err
		}
		page.Cars = append(page.Cars, *c)
	}
	return page, rows.Err()
}

// CarFilters returns the listing facets of available cars.
func (db *DB) CarFilters(ctx context.Context) (*model.CarFilters, error) {
	f := &model.CarFilters{}
	facets := []struct {
		col  string
		dest *[]string
	}{
		{"make", &f.Makes},
		{"body_type", &f.BodyTypes},
		{"fuel_type", &f.FuelTypes},
		{"transmission", &f.Transmissions},
	}
	for _, facet := range facets {
		values, err := db.distinct(ctx, facet.col)
		if err != nil {
			return nil, err
		}
		*facet.dest = values
	}

	err := db.conn(ctx).QueryRowContext(ctx,
		`SELECT COALESCE(MIN(price), 0), COALESCE(MAX(price), 0) FROM cars WHERE status = ?`,
		model.CarAvailable,
	).Scan(&f.MinPrice, &f.MaxPrice)
	if err != nil {
		return nil, fmt.Errorf("price range: %w", err)
	}
	return f, nil
}

func (db *DB) distinct(ctx context.Context, col string) ([]string, error) {
	rows, err := db.conn(ctx).QueryContext(ctx,
		`SELECT DISTINCT `+col+` FROM cars WHERE status = ? AND `+col+` <> '' ORDER BY `+col,
		model.CarAvailable,
	)
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", col, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan %s: %w", col, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanCar(row rowScanner) (*model.Car, error) {
	var (
		c      model.Car
		status string
		images string
	)
	err := row.Scan(&c.ID, &c.Make, &c.Model, &c.Year, &c.Price, &c.Mileage, &c.Color, &c.FuelType,
		&c.Transmission, &c.BodyType, &c.Seats, &c.Description, &status, &c.Featured, &images,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan car: %w", err)
	}
	c.Status = model.CarStatus(status)
	if err := json.Unmarshal([]byte(images), &c.Images); err != nil {
		return nil, fmt.Errorf("decode images of car %s: %w", c.ID, err)
	}
	c.Images = nonNil(c.Images)
	return &c, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
