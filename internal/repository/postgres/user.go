package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pikoshi/pikoshi/internal/apperror"
	"github.com/pikoshi/pikoshi/internal/model"
	"github.com/pikoshi/pikoshi/internal/repository"
)

var _ repository.UserRepository = (*DB)(nil)

const selectUser = `SELECT id, uuid, name, email, password, salt, is_active, signed_up_method, created_at, last_login
		 FROM users`

// Create checks the email and inserts inside one transaction. A concurrent
// signup that slips past the check is stopped by the unique index (23505)
// and reported as the same Conflict.
func (db *DB) Create(ctx context.Context, u *model.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.LastLogin.IsZero() {
		u.LastLogin = u.CreatedAt
	}

	return repository.WithTx(ctx, db.conn, func(ctx context.Context, tx repository.DBTX) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, u.Email,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("postgres: checking email: %w", err)
		}
		if exists {
			return apperror.Conflict("user", u.Email)
		}

		err = tx.QueryRowContext(ctx,
			`INSERT INTO users (uuid, name, email, password, salt, is_active, signed_up_method, created_at, last_login)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
			u.UUID, u.Name, u.Email, u.Password, u.Salt, u.IsActive,
			string(u.SignedUpMethod), u.CreatedAt, u.LastLogin,
		).Scan(&u.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return apperror.Conflict("user", u.Email)
			}
			return fmt.Errorf("postgres: inserting user %s: %w", u.Email, err)
		}
		return nil
	})
}

func (db *DB) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return db.getOne(ctx, selectUser+` WHERE id = $1`, id, strconv.FormatInt(id, 10))
}

func (db *DB) GetByUUID(ctx context.Context, uuid string) (*model.User, error) {
	return db.getOne(ctx, selectUser+` WHERE uuid = $1`, uuid, uuid)
}

func (db *DB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return db.getOne(ctx, selectUser+` WHERE email = $1`, email, email)
}

func (db *DB) getOne(ctx context.Context, query string, arg any, label string) (*model.User, error) {
	var (
		u      model.User
		method string
	)
	err := db.conn.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.UUID, &u.Name, &u.Email, &u.Password, &u.Salt,
		&u.IsActive, &method, &u.CreatedAt, &u.LastLogin,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", label)
		}
		return nil, fmt.Errorf("postgres: getting user %s: %w", label, err)
	}
	u.SignedUpMethod = model.SignupMethod(method)
	return &u, nil
}

func (db *DB) MarkLoggedIn(ctx context.Context, id int64, at time.Time) error {
	return db.updateOne(ctx, id, `UPDATE users SET is_active = TRUE, last_login = $1 WHERE id = $2`, at.UTC(), id)
}

func (db *DB) SetActive(ctx context.Context, id int64, active bool) error {
	return db.updateOne(ctx, id, `UPDATE users SET is_active = $1 WHERE id = $2`, active, id)
}

func (db *DB) UpdatePassword(ctx context.Context, id int64, hash, salt string) error {
	return db.updateOne(ctx, id, `UPDATE users SET password = $1, salt = $2 WHERE id = $3`, hash, salt, id)
}

func (db *DB) updateOne(ctx context.Context, id int64, query string, args ...any) error {
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", strconv.FormatInt(id, 10))
		}
		return fmt.Errorf("postgres: updating user %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	return nil
}
