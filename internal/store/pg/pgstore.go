// Package pg implements the permit, evidence and directory repositories on PostgreSQL.
package pg

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"safeworks.org/ptw/internal/config"
	"safeworks.org/ptw/internal/directory"
	"safeworks.org/ptw/internal/evidence"
	"safeworks.org/ptw/internal/permit"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

type Store struct {
	db *sqlx.DB
}

// Open connects with the pgx stdlib driver and applies pool limits.
func Open(opts config.DatabaseOptions) (*Store, error) {
	db, err := sqlx.Open("pgx", opts.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sqlx.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying pool for migrations.
func (s *Store) DB() *sql.DB { return s.db.DB }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Permits returns the permit repository view.
func (s *Store) Permits() permit.Repository { return permitRepo{s} }

// Evidence returns the evidence repository view.
func (s *Store) Evidence() evidence.Repository { return evidenceRepo{s} }

// Directory returns the reference data repository view.
func (s *Store) Directory() directory.Repository { return directoryRepo{s} }

// inTx commits when fn returns nil and rolls back otherwise.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit transaction")
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func isCode(err error, code string) bool {
	pgErr, ok := maybePgError(err)
	return ok && pgErr.Code == code
}

// affected turns a zero row count into miss.
func affected(res sql.Result, err error, miss error, what string) error {
	if err != nil {
		return errors.Wrap(err, what)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, what)
	}
	if n == 0 {
		return miss
	}
	return nil
}
