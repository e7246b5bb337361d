package sqlite

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

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, uuid, name, email, password, salt, is_active, signed_up_method, created_at, last_login`

// Create inserts a new user.
//
// The duplicate-email check and the INSERT share one transaction. Two
// concurrent signups can still both pass the SELECT; the loser then hits the
// UNIQUE index, which we translate into the same Conflict.
func (db *DB) Create(ctx context.Context, u *model.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.LastLogin.IsZero() {
		u.LastLogin = u.CreatedAt
	}

	err := repository.WithTx(ctx, db.conn, func(ctx context.Context, tx repository.DBTX) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM users WHERE email = ?`, u.Email,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("sqlite: checking email: %w", err)
		}
		if exists > 0 {
			return apperror.Conflict("user", u.Email)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO users (uuid, name, email, password, salt, is_active, signed_up_method, created_at, last_login)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.UUID,
			u.Name,
			u.Email,
			u.Password,
			u.Salt,
			u.IsActive,
			string(u.SignedUpMethod),
			u.CreatedAt,
			u.LastLogin,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return apperror.Conflict("user", u.Email)
			}
			return fmt.Errorf("sqlite: inserting user %s: %w", u.Email, err)
		}

		u.ID, err = res.LastInsertId()
		return err
	})
	return err
}

// GetByID retrieves a user by their store-assigned id.
func (db *DB) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return db.getOne(ctx, "id", id, strconv.FormatInt(id, 10))
}

// GetByUUID retrieves a user by their client-facing UUID.
func (db *DB) GetByUUID(ctx context.Context, uuid string) (*model.User, error) {
	return db.getOne(ctx, "uuid", uuid, uuid)
}

// GetByEmail retrieves a user by email.
func (db *DB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return db.getOne(ctx, "email", email, email)
}

// getOne runs the shared SELECT. column is always one of our constants,
// never user input, so building the WHERE clause with Sprintf is safe.
func (db *DB) getOne(ctx context.Context, column string, arg any, label string) (*model.User, error) {
	var (
		u      model.User
		method string
	)
	err := db.conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM users WHERE %s = ?`, userColumns, column), arg,
	).Scan(
		&u.ID,
		&u.UUID,
		&u.Name,
		&u.Email,
		&u.Password,
		&u.Salt,
		&u.IsActive,
		&method,
		&u.CreatedAt,
		&u.LastLogin,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", label)
		}
		return nil, fmt.Errorf("sqlite: getting user by %s: %w", column, err)
	}
	u.SignedUpMethod = model.SignupMethod(method)
	return &u, nil
}

// MarkLoggedIn activates the account and stamps the login time.
func (db *DB) MarkLoggedIn(ctx context.Context, id int64, at time.Time) error {
	return db.updateOne(ctx, id,
		`UPDATE users SET is_active = 1, last_login = ? WHERE id = ?`, at.UTC(), id)
}

// SetActive toggles is_active.
func (db *DB) SetActive(ctx context.Context, id int64, active bool) error {
	return db.updateOne(ctx, id,
		`UPDATE users SET is_active = ? WHERE id = ?`, active, id)
}

// UpdatePassword replaces the digest and salt together; a digest is
// meaningless without the salt it was derived with.
func (db *DB) UpdatePassword(ctx context.Context, id int64, hash, salt string) error {
	return db.updateOne(ctx, id,
		`UPDATE users SET password = ?, salt = ? WHERE id = ?`, hash, salt, id)
}

// updateOne executes an UPDATE and turns "no rows affected" into NotFound.
func (db *DB) updateOne(ctx context.Context, id int64, query string, args ...any) error {
	result, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", strconv.FormatInt(id, 10))
		}
		return fmt.Errorf("sqlite: updating user %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	return nil
}
