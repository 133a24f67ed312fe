// Package postgres is the pgx-backed store used by the server.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/tabimport/internal/schema"
	"github.com/JonMunkholm/tabimport/internal/store"
	"github.com/JonMunkholm/tabimport/internal/store/sqlgen"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
}

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Connect opens and pings a pool.
func Connect(ctx context.Context, url string, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// Store implements store.Store, store.JobStore and store.LogStore.
type Store struct {
	sqlgen.Meta
	records sqlgen.Records
	pool    *pgxpool.Pool
}

// New wraps a pool.
func New(pool *pgxpool.Pool) *Store {
	q := queryer{db: pool}
	return &Store{
		Meta:    sqlgen.Meta{Q: q, D: sqlgen.Postgres{}},
		records: sqlgen.Records{Q: q, D: sqlgen.Postgres{}},
		pool:    pool,
	}
}

// Bootstrap creates the job and log tables and one table per model.
func (s *Store) Bootstrap(ctx context.Context, models []*schema.Model) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, ddl := range sqlgen.MetaTables(sqlgen.Postgres{}) {
			if _, err := tx.Exec(ctx, ddl); err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
		}
		for _, m := range models {
			if _, err := tx.Exec(ctx, sqlgen.CreateTable(sqlgen.Postgres{}, m, schema.Get)); err != nil {
				return fmt.Errorf("bootstrap %s: %w", m.Key, err)
			}
		}
		return nil
	})
}

// WithinTx runs fn in a database transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(sqlgen.Records{Q: queryer{db: tx}, D: sqlgen.Postgres{}})
	})
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

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

type queryer struct {
	db DBTX
}

func (q queryer) Exec(ctx context.Context, query string, args ...any) error {
	_, err := q.db.Exec(ctx, query, args...)
	return wrapErr(err)
}

func (q queryer) Query(ctx context.Context, query string, args []any, each func(scan func(dest ...any) error) error) error {
	rows, err := q.db.Query(ctx, query, args...)
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

// wrapErr marks integrity violations (SQLSTATE class 23) as store.ErrConstraint.
func wrapErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) == 5 && pgErr.Code[:2] == "23" {
		return fmt.Errorf("%w: %s", store.ErrConstraint, pgErr.Message)
	}
	return err
}
