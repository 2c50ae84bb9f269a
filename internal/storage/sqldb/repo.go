package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"tabload/internal/storage"
)

// defaultMaxRowsPerInsert caps multi-row INSERT statements independently of
// the parameter limit; very wide VALUES lists are slow to plan.
const defaultMaxRowsPerInsert = 1000

// querier is the subset of *sql.DB and *sql.Tx used by Repo.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// BulkFunc loads rows inside tx using a backend-native bulk path. table is
// the unquoted, possibly schema-qualified name.
type BulkFunc func(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) (int64, error)

// Repo implements storage.Repository for database/sql drivers.
type Repo struct {
	db      *sql.DB
	d       Dialect
	bulk    BulkFunc
	maxRows int
}

// Option configures a Repo.
type Option func(*Repo)

// WithBulkLoader replaces the chunked INSERT path of BulkLoad.
func WithBulkLoader(f BulkFunc) Option { return func(r *Repo) { r.bulk = f } }

// WithMaxRowsPerInsert caps rows per INSERT statement.
func WithMaxRowsPerInsert(n int) Option {
	return func(r *Repo) {
		if n > 0 {
			r.maxRows = n
		}
	}
}

// New wraps an open handle.
func New(db *sql.DB, d Dialect, opts ...Option) *Repo {
	r := &Repo{db: db, d: d, maxRows: defaultMaxRowsPerInsert}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Open opens driver with cfg.DSN, applies the pool limit and verifies
// connectivity. defaultMaxOpen applies when cfg.MaxOpenConns is zero.
func Open(ctx context.Context, driver string, cfg storage.Config, d Dialect, defaultMaxOpen int, opts ...Option) (*Repo, error) {
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", d.Name(), err)
	}
	return Wrap(ctx, db, cfg, d, defaultMaxOpen, opts...)
}

// Wrap applies the pool limit to an already opened handle, pings it and
// returns the Repo. db is closed when the ping fails.
func Wrap(ctx context.Context, db *sql.DB, cfg storage.Config, d Dialect, defaultMaxOpen int, opts ...Option) (*Repo, error) {
	maxOpen := cfg.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = defaultMaxOpen
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping: %w", d.Name(), err)
	}
	return New(db, d, opts...), nil
}

// DB exposes the underlying handle.
func (r *Repo) DB() *sql.DB { return r.db }

func (r *Repo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *Repo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Repo) MaxIdentifierLength() int { return r.d.MaxIdentifierLength() }

func (r *Repo) TableExists(ctx context.Context, table string) (bool, error) {
	schema, name := storage.SplitQualifiedName(table)
	q, args := r.d.TableExistsQuery(schema, name)
	var n int64
	if err := r.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("%s: table exists %s: %w", r.d.Name(), table, err)
	}
	return n > 0, nil
}

func (r *Repo) ColumnNames(ctx context.Context, table string) ([]string, error) {
	schema, name := storage.SplitQualifiedName(table)
	q, args := r.d.ColumnsQuery(schema, name)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: columns %s: %w", r.d.Name(), table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("%s: columns %s: %w", r.d.Name(), table, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: columns %s: %w", r.d.Name(), table, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: columns %s: %w", r.d.Name(), table, storage.ErrTableMissing)
	}
	return out, nil
}

func (r *Repo) CreateTable(ctx context.Context, spec storage.TableSpec) error {
	q, err := BuildCreateTable(r.d, spec)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("%s: create table %s: %w", r.d.Name(), spec.Name, err)
	}
	return nil
}

func (r *Repo) DropTable(ctx context.Context, table string) error {
	if _, err := r.db.ExecContext(ctx, r.d.DropTableSQL(table)); err != nil {
		return fmt.Errorf("%s: drop table %s: %w", r.d.Name(), table, err)
	}
	return nil
}

func (r *Repo) TruncateTable(ctx context.Context, table string) error {
	if _, err := r.db.ExecContext(ctx, r.d.TruncateSQL(table)); err != nil {
		return fmt.Errorf("%s: truncate %s: %w", r.d.Name(), table, err)
	}
	return nil
}

func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	return r.count(ctx, r.db, table)
}

func (r *Repo) count(ctx context.Context, q querier, table string) (int64, error) {
	var n int64
	if err := q.QueryRowContext(ctx, BuildCount(r.d, table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: count %s: %w", r.d.Name(), table, err)
	}
	return n, nil
}

// BulkLoad appends rows inside one transaction so a failed batch leaves no
// partial rows behind.
func (r *Repo) BulkLoad(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("%s: bulk load %s: no columns", r.d.Name(), table)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: bulk load %s: begin tx: %w", r.d.Name(), table, err)
	}
	defer func() { _ = tx.Rollback() }()

	var n int64
	if r.bulk != nil {
		n, err = r.bulk(ctx, tx, table, columns, rows)
	} else {
		n, err = r.insertChunks(ctx, tx, table, columns, rows)
	}
	if err != nil {
		return 0, fmt.Errorf("%s: bulk load %s: %w", r.d.Name(), table, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: bulk load %s: commit: %w", r.d.Name(), table, err)
	}
	return n, nil
}

func (r *Repo) insertChunks(ctx context.Context, q querier, table string, columns []string, rows [][]any) (int64, error) {
	chunk := ChunkRows(r.d, len(columns), r.maxRows)
	var total int64
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		stmt, args, err := BuildInsert(r.d, table, columns, rows[start:end])
		if err != nil {
			return total, err
		}
		res, err := q.ExecContext(ctx, stmt, args...)
		if err != nil {
			return total, err
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		} else {
			total += int64(end - start)
		}
	}
	return total, nil
}

func (r *Repo) TransferColumns(ctx context.Context, req storage.TransferRequest) (storage.TransferResult, error) {
	stmt, err := BuildTransfer(r.d, req)
	if err != nil {
		return storage.TransferResult{}, err
	}

	if !req.Atomic {
		return r.transfer(ctx, r.db, req.Destination, stmt)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.TransferResult{}, fmt.Errorf("%s: transfer: begin tx: %w", r.d.Name(), err)
	}
	res, err := r.transfer(ctx, tx, req.Destination, stmt)
	if err != nil {
		_ = tx.Rollback()
		return storage.TransferResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return storage.TransferResult{}, fmt.Errorf("%s: transfer: commit: %w", r.d.Name(), err)
	}
	return res, nil
}

func (r *Repo) transfer(ctx context.Context, q querier, dest, stmt string) (storage.TransferResult, error) {
	out := storage.TransferResult{Affected: -1}

	var err error
	if out.Before, err = r.count(ctx, q, dest); err != nil {
		return out, err
	}
	res, err := q.ExecContext(ctx, stmt)
	if err != nil {
		return out, fmt.Errorf("%s: transfer into %s: %w", r.d.Name(), dest, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		out.Affected = n
	}
	if out.After, err = r.count(ctx, q, dest); err != nil {
		return out, err
	}
	return out, nil
}

func (r *Repo) InsertRecord(ctx context.Context, table string, columns []string, values []any) error {
	stmt, args, err := BuildInsert(r.d, table, columns, [][]any{values})
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("%s: insert into %s: %w", r.d.Name(), table, err)
	}
	return nil
}

var _ storage.Repository = (*Repo)(nil)
