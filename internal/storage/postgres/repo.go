// Package postgres registers the Postgres backend (pgx v5).
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tabload/internal/storage"
	"tabload/internal/storage/sqldb"
)

func init() {
	storage.Register("postgres", New)
}

/*
Repo implements storage.Repository for Postgres.

It shares the SQL builders of sqldb through Dialect but executes through a
pgx pool: staging loads use the COPY protocol (pgx CopyFrom) and transfers
run on a pgx.Tx when atomic.
*/
type Repo struct {
	pool *pgxpool.Pool
}

// pgConn is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// New creates a new Postgres-backed Repo and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		pc.MaxConns = int32(cfg.MaxOpenConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Ping(ctx context.Context) error { return r.pool.Ping(ctx) }

// Close closes the connection pool.
func (r *Repo) Close() error {
	r.pool.Close()
	return nil
}

func (r *Repo) MaxIdentifierLength() int { return Dialect{}.MaxIdentifierLength() }

func (r *Repo) TableExists(ctx context.Context, table string) (bool, error) {
	schema, name := storage.SplitQualifiedName(table)
	q, args := Dialect{}.TableExistsQuery(schema, name)
	var n int64
	if err := r.pool.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("postgres: table exists %s: %w", table, err)
	}
	return n > 0, nil
}

func (r *Repo) ColumnNames(ctx context.Context, table string) ([]string, error) {
	schema, name := storage.SplitQualifiedName(table)
	q, args := Dialect{}.ColumnsQuery(schema, name)

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: columns %s: %w", table, err)
	}
	cols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: columns %s: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("postgres: columns %s: %w", table, storage.ErrTableMissing)
	}
	return cols, nil
}

func (r *Repo) CreateTable(ctx context.Context, spec storage.TableSpec) error {
	d := Dialect{}
	if schema, _ := storage.SplitQualifiedName(spec.Name); schema != "" {
		if _, err := r.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+d.QuoteIdent(schema)); err != nil {
			return fmt.Errorf("postgres: create schema %s: %w", schema, err)
		}
	}
	q, err := sqldb.BuildCreateTable(d, spec)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("postgres: create table %s: %w", spec.Name, err)
	}
	return nil
}

func (r *Repo) DropTable(ctx context.Context, table string) error {
	if _, err := r.pool.Exec(ctx, Dialect{}.DropTableSQL(table)); err != nil {
		return fmt.Errorf("postgres: drop table %s: %w", table, err)
	}
	return nil
}

func (r *Repo) TruncateTable(ctx context.Context, table string) error {
	if _, err := r.pool.Exec(ctx, Dialect{}.TruncateSQL(table)); err != nil {
		return fmt.Errorf("postgres: truncate %s: %w", table, err)
	}
	return nil
}

func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	return count(ctx, r.pool, table)
}

func count(ctx context.Context, c pgConn, table string) (int64, error) {
	var n int64
	if err := c.QueryRow(ctx, sqldb.BuildCount(Dialect{}, table)).Scan(&n); err != nil {
		if isUndefinedTable(err) {
			return 0, fmt.Errorf("postgres: count %s: %w", table, storage.ErrTableMissing)
		}
		return 0, fmt.Errorf("postgres: count %s: %w", table, err)
	}
	return n, nil
}

// BulkLoad streams rows with COPY FROM STDIN. COPY is all-or-nothing.
func (r *Repo) BulkLoad(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("postgres: bulk load %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
	}
	n, err := r.pool.CopyFrom(ctx, identifier(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("postgres: bulk load %s: %w", table, err)
	}
	return n, nil
}

func (r *Repo) TransferColumns(ctx context.Context, req storage.TransferRequest) (storage.TransferResult, error) {
	stmt, err := sqldb.BuildTransfer(Dialect{}, req)
	if err != nil {
		return storage.TransferResult{}, err
	}
	if !req.Atomic {
		return transfer(ctx, r.pool, req.Destination, stmt)
	}

	tx, err := r.pool.BeginTx(ctx, transferTxOptions)
	if err != nil {
		return storage.TransferResult{}, fmt.Errorf("postgres: transfer: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := transfer(ctx, tx, req.Destination, stmt)
	if err != nil {
		return storage.TransferResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return storage.TransferResult{}, fmt.Errorf("postgres: transfer: commit: %w", err)
	}
	return res, nil
}

// transferTxOptions pins the before/after counts of an atomic transfer to
// one snapshot, so rows committed meanwhile by other workers are not counted.
var transferTxOptions = pgx.TxOptions{IsoLevel: pgx.RepeatableRead}

func transfer(ctx context.Context, c pgConn, dest, stmt string) (storage.TransferResult, error) {
	out := storage.TransferResult{Affected: -1}

	var err error
	if out.Before, err = count(ctx, c, dest); err != nil {
		return out, err
	}
	tag, err := c.Exec(ctx, stmt)
	if err != nil {
		return out, fmt.Errorf("postgres: transfer into %s: %w", dest, err)
	}
	out.Affected = tag.RowsAffected()
	if out.After, err = count(ctx, c, dest); err != nil {
		return out, err
	}
	return out, nil
}

func (r *Repo) InsertRecord(ctx context.Context, table string, columns []string, values []any) error {
	stmt, args, err := sqldb.BuildInsert(Dialect{}, table, columns, [][]any{values})
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("postgres: insert into %s: %w", table, err)
	}
	return nil
}

// isUndefinedTable reports whether err is Postgres SQLSTATE 42P01.
func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}

func identifier(table string) pgx.Identifier {
	schema, name := storage.SplitQualifiedName(table)
	if schema == "" {
		return pgx.Identifier{name}
	}
	return pgx.Identifier{schema, name}
}

var _ storage.Repository = (*Repo)(nil)
