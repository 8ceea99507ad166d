// Package sqlite provides a single-file SQLite backend for every repository port.
// It is meant for small deployments and tests; Postgres stays the default.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"telegram-course-streams/internal/domain"
	"telegram-course-streams/internal/domain/ports/repository"
	"telegram-course-streams/internal/infra/db/sqlite/migrations"
)

// Store owns the SQLite handle shared by the repositories.
type Store struct {
	db *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toNullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

// Open opens the database file at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func applyMigrations(db *sql.DB) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}
	// m.Close would close db through the driver; only the source is released here.
	defer src.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// DB exposes the handle for seeding and health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) executor(tx repository.Tx) (executor, error) {
	switch v := tx.(type) {
	case *sql.Tx:
		return v, nil
	case nil:
		return s.db, nil
	default:
		return nil, domain.ErrInvalidExecContext
	}
}

// execChanged runs a guarded write and reports whether exactly one row changed.
func (s *Store) execChanged(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (bool, error) {
	ex, err := s.executor(tx)
	if err != nil {
		return false, err
	}
	res, err := ex.ExecContext(ctx, q, args...)
	if err != nil {
		return false, opFailed(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, opFailed(err)
	}
	return n == 1, nil
}

var savepointSeq atomic.Uint64

// withSubTx runs fn under a savepoint of tx, or a fresh transaction when tx is nil.
// A failing fn is rolled back without poisoning the caller's transaction.
func (s *Store) withSubTx(ctx context.Context, tx repository.Tx, fn func(ex executor) error) error {
	switch v := tx.(type) {
	case nil:
		sub, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return opFailed(err)
		}
		defer func() { _ = sub.Rollback() }()
		if err := fn(sub); err != nil {
			return err
		}
		return opFailed(sub.Commit())
	case *sql.Tx:
		name := fmt.Sprintf("sp_%d", savepointSeq.Add(1))
		if _, err := v.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
			return opFailed(err)
		}
		if err := fn(v); err != nil {
			_, _ = v.ExecContext(ctx, "ROLLBACK TO "+name)
			_, _ = v.ExecContext(ctx, "RELEASE "+name)
			return err
		}
		_, err := v.ExecContext(ctx, "RELEASE "+name)
		return opFailed(err)
	default:
		return domain.ErrInvalidExecContext
	}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func opFailed(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidExecContext):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case isUniqueViolation(err):
		return domain.ErrConflict
	default:
		return fmt.Errorf("%w: %v", domain.ErrOperationFailed, err)
	}
}

func scanErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
}

type scanner interface {
	Scan(dest ...interface{}) error
}
