// Package repository defines the storage contracts the services depend on.
//
// The services only ever see these interfaces. Concrete implementations live
// in sub-packages (sqlite for development and tests, postgres for
// production) and are picked once in server.New.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pikoshi/pikoshi/internal/model"
)

// UserRepository is the User store.
//
// Errors follow the apperror taxonomy: a missing row is apperror.ErrNotFound
// and a duplicate email is apperror.ErrConflict. Anything else is an
// unclassified storage error.
type UserRepository interface {
	// Create persists u and fills in its ID and CreatedAt. The email check
	// and the insert run in one transaction; the unique index on email is
	// the backstop for concurrent signups that both pass the check.
	Create(ctx context.Context, u *model.User) error

	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByUUID(ctx context.Context, uuid string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)

	// MarkLoggedIn sets is_active and stamps last_login.
	MarkLoggedIn(ctx context.Context, id int64, at time.Time) error
	SetActive(ctx context.Context, id int64, active bool) error
	UpdatePassword(ctx context.Context, id int64, hash, salt string) error
}

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx, so a
// query helper can run inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a transaction. It commits when fn returns nil and
// rolls back on an error or a panic (the panic is re-raised).
func WithTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(ctx, tx)
}
