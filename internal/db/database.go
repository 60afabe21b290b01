package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB wraps sql.DB for the dealership store.
type DB struct {
	*sql.DB
	path   string
	loc    *time.Location
	logger zerolog.Logger
}

var (
	ErrNotFound               = errors.New("not found")
	ErrConcurrentModification = errors.New("concurrent modification")
)

// NewDB opens database at path and runs migrations.
// Calendar dates are read back in loc.
func NewDB(path string, loc *time.Location, logger zerolog.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// IMMEDIATE transactions take the write lock up front so check-then-insert is serialized.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if loc == nil {
		loc = time.UTC
	}
	instance := &DB{
		DB:     db,
		path:   path,
		loc:    loc,
		logger: logger.With().Str("component", "db").Logger(),
	}
	instance.logger.Info().Str("path", path).Msg("database initialized")
	return instance, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			external_id TEXT UNIQUE NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'USER',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS cars (
			id TEXT PRIMARY KEY,
			make TEXT NOT NULL,
			model TEXT NOT NULL,
			year INTEGER NOT NULL,
			price REAL NOT NULL,
			mileage INTEGER NOT NULL DEFAULT 0,
			color TEXT NOT NULL DEFAULT '',
			fuel_type TEXT NOT NULL DEFAULT '',
			transmission TEXT NOT NULL DEFAULT '',
			body_type TEXT NOT NULL DEFAULT '',
			seats INTEGER NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'AVAILABLE',
			featured BOOLEAN NOT NULL DEFAULT 0,
			images TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS dealerships (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			address TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS working_hours (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			dealership_id TEXT NOT NULL,
			day_of_week TEXT NOT NULL,
			open_time TEXT NOT NULL,
			close_time TEXT NOT NULL,
			is_open BOOLEAN NOT NULL DEFAULT 1,
			UNIQUE (dealership_id, day_of_week),
			FOREIGN KEY (dealership_id) REFERENCES dealerships(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS test_drive_bookings (
			id TEXT PRIMARY KEY,
			car_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			booking_date TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			notes TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (car_id) REFERENCES cars(id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS user_saved_cars (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			car_id TEXT NOT NULL,
			saved_at DATETIME NOT NULL,
			UNIQUE (user_id, car_id),
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (car_id) REFERENCES cars(id) ON DELETE CASCADE
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_cars_status ON cars(status)`,
		`CREATE INDEX IF NOT EXISTS idx_cars_make ON cars(make)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_car_date ON test_drive_bookings(car_id, booking_date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_user ON test_drive_bookings(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON test_drive_bookings(status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_slot
			ON test_drive_bookings(car_id, booking_date, start_time)
			WHERE status <> 'CANCELLED'`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
