// Package sqlite is a file-backed store for the command line tool, built on
// the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JonMunkholm/tabimport/internal/schema"
	"github.com/JonMunkholm/tabimport/internal/store"
	"github.com/JonMunkholm/tabimport/internal/store/sqlgen"
)

// Store implements store.Store, store.JobStore and store.LogStore.
type Store struct {
	sqlgen.Meta
	records sqlgen.Records
	db      *sql.DB
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if path == ":memory:" {
		dsn = "file::memory:"
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection keeps transactions serialized and :memory: shared
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	q := queryer{db: db}
	return &Store{
		Meta:    sqlgen.Meta{Q: q, D: sqlgen.SQLite{}},
		records: sqlgen.Records{Q: q, D: sqlgen.SQLite{}},
		db:      db,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Bootstrap creates the job and log tables and one table per model.
func (s *Store) Bootstrap(ctx context.Context, models []*schema.Model) error {
	stmts := sqlgen.MetaTables(sqlgen.SQLite{})
	for _, m := range models {
		stmts = append(stmts, sqlgen.CreateTable(sqlgen.SQLite{}, m, schema.Get))
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}
	return nil
}

// WithinTx runs fn in a transaction, committing only when fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(sqlgen.Records{Q: queryer{db: tx}, D: sqlgen.SQLite{}}); err != nil {
		return err
	}
	return tx.Commit()
}

// Records returns every record of model ordered by primary key.
func (s *Store) Records(ctx context.Context, model *schema.Model) ([]*store.Record, error) {
	return s.records.All(ctx, model)
}

// Count returns the number of records of model.
func (s *Store) Count(ctx context.Context, model *schema.Model) (int, error) {
	return s.records.Count(ctx, model)
}

// Lookup finds a record outside a transaction.
func (s *Store) Lookup(ctx context.Context, model *schema.Model, field string, value any) (schema.Identifier, error) {
	return s.records.Lookup(ctx, model, field, value)
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type queryer struct {
	db execQuerier
}

func (q queryer) Exec(ctx context.Context, query string, args ...any) error {
	_, err := q.db.ExecContext(ctx, query, args...)
	return wrapErr(err)
}

func (q queryer) Query(ctx context.Context, query string, args []any, each func(scan func(dest ...any) error) error) error {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return wrapErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := each(rows.Scan); err != nil {
			return err
		}
	}
	return wrapErr(rows.Err())
}

func wrapErr(err error) error {
	var sqlErr *sqlitedrv.Error
	if errors.As(err, &sqlErr) && sqlErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return fmt.Errorf("%w: %s", store.ErrConstraint, sqlErr.Error())
	}
	return err
}
