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

const userColumns = `id, external_id, email, name, image_url, phone, role, created_at, updated_at`

// SyncUser stores the identity-provider profile and returns the local user.
// The very first user of an empty store becomes an admin.
func (db *DB) SyncUser(ctx context.Context, profile model.User) (*model.User, error) {
	var synced *model.User
	err := db.WithinTransaction(ctx, func(ctx context.Context) error {
		existing, err := db.GetUserByExternalID(ctx, profile.ExternalID)
		switch {
		case err == nil:
			if existing.Email == profile.Email && existing.Name == profile.Name && existing.ImageURL == profile.ImageURL {
				synced = existing
				return nil
			}
			existing.Email, existing.Name, existing.ImageURL = profile.Email, profile.Name, profile.ImageURL
			existing.UpdatedAt = time.Now()
			_, err = db.conn(ctx).ExecContext(ctx,
				`UPDATE users SET email = ?, name = ?, image_url = ?, updated_at = ? WHERE id = ?`,
				existing.Email, existing.Name, existing.ImageURL, existing.UpdatedAt, existing.ID)
			if err != nil {
				return fmt.Errorf("update user: %w", err)
			}
			synced = existing
			return nil
		case !errors.Is(err, ErrNotFound):
			return err
		}

		var count int
		if err := db.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
			return fmt.Errorf("count users: %w", err)
		}

		now := time.Now()
		u := profile
		u.ID = uuid.NewString()
		u.Role = model.RoleUser
		if count == 0 {
			u.Role = model.RoleAdmin
		}
		u.CreatedAt, u.UpdatedAt = now, now

		_, err = db.conn(ctx).ExecContext(ctx,
			`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.ExternalID, u.Email, u.Name, u.ImageURL, u.Phone, u.Role, u.CreatedAt, u.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		db.logger.Info().Str("user_id", u.ID).Str("role", string(u.Role)).Msg("user created")
		synced = &u
		return nil
	})
	return synced, err
}

func (db *DB) GetUserByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	return db.getUser(ctx, `external_id = ?`, externalID)
}

func (db *DB) GetUser(ctx context.Context, id string) (*model.User, error) {
	return db.getUser(ctx, `id = ?`, id)
}

func (db *DB) getUser(ctx context.Context, cond string, arg any) (*model.User, error) {
	u, err := scanUser(db.conn(ctx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+cond, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

// ListUsers returns every user, newest first.
func (db *DB) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := db.conn(ctx).QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	out := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// UpdateUserRole sets the role of a user.
func (db *DB) UpdateUserRole(ctx context.Context, id string, role model.Role) (*model.User, error) {
	res, err := db.conn(ctx).ExecContext(ctx,
		`UPDATE users SET role = ?, updated_at = ? WHERE id = ?`, role, time.Now(), id)
	if err != nil {
		return nil, fmt.Errorf("update role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return db.GetUser(ctx, id)
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u    model.User
		role string
	)
	err := row.Scan(&u.ID, &u.ExternalID, &u.Email, &u.Name, &u.ImageURL, &u.Phone, &role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Role = model.Role(role)
	return &u, nil
}
