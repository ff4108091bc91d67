// Package sqlite provides the per-entity embedded SQLite store. Every task or
// workflow owns one database file holding its metadata row, its phases, its
// history log and its migration bookkeeping.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dukex/pulse/pkg/persistence/sqlbase"
	_ "github.com/mattn/go-sqlite3"
)

// Querier is satisfied by both *sql.DB and *sql.Tx so repositories can run
// inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is an open per-entity database.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	closed bool
}

// Path returns the database file of an entity under dataDir.
func Path(dataDir, namespace, key string) string {
	return filepath.Join(dataDir, namespace, key+".db")
}

// OpenExisting opens the database at path only if it already exists. A missing
// file is reported as os.ErrNotExist and nothing is created on disk.
func OpenExisting(ctx context.Context, logger *slog.Logger, path string, migrations map[int]string) (*Store, error) {
	_, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat database: %w", err)
	}

	return Open(ctx, logger, path, migrations)
}

// Open opens (creating if needed) the database at path and brings its schema
// up to date with migrations.
func Open(ctx context.Context, logger *slog.Logger, path string, migrations map[int]string) (*Store, error) {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", path)

	database, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// One writer per entity; a single connection keeps transactions serialized.
	database.SetMaxOpenConns(1)
	database.SetMaxIdleConns(1)

	store := &Store{
		db:     database,
		path:   path,
		logger: logger,
	}

	err = store.configurePragmas(ctx)
	if err != nil {
		_ = database.Close()

		return nil, err
	}

	err = sqlbase.NewMigrationManager(logger, database, migrations).RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *Store) configurePragmas(ctx context.Context) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	} {
		_, err := s.db.ExecContext(ctx, pragma)
		if err != nil {
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	return nil
}

// DB exposes the underlying handle for reads outside a transaction.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path is the file backing the store.
func (s *Store) Path() string {
	return s.path
}

// InTx runs fn inside one transaction. The transaction commits only when fn
// returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	transaction, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	err = fn(transaction)
	if err != nil {
		rollbackErr := transaction.Rollback()
		if rollbackErr != nil {
			s.logger.ErrorContext(ctx, "failed to rollback transaction", "error", rollbackErr)
		}

		return err
	}

	err = transaction.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true

	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	return nil
}

// Destroy closes the store and removes its file together with the WAL and
// shared-memory companions. Nothing of the entity survives.
func (s *Store) Destroy() error {
	err := s.Close()
	if err != nil {
		return err
	}

	for _, file := range []string{s.path, s.path + "-wal", s.path + "-shm", s.path + "-journal"} {
		err := os.Remove(file)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", file, err)
		}
	}

	return nil
}
