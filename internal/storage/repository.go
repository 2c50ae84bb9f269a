package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrTableMissing is returned by backends when an operation needs a table
// that does not exist.
var ErrTableMissing = errors.New("storage: table does not exist")

// Config is the minimal configuration needed to open a repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string

	// MaxOpenConns caps the connection pool. Zero keeps the backend default.
	MaxOpenConns int
}

// TransferRequest describes one append-only INSERT ... SELECT from a staging
// table into a destination table.
//
// SourceColumns and TargetColumns are parallel: SourceColumns[i] is read from
// Staging and written to TargetColumns[i] in Destination.
type TransferRequest struct {
	Staging       string
	Destination   string
	SourceColumns []string
	TargetColumns []string

	// Atomic runs count, insert and count inside one transaction.
	Atomic bool
}

// Validate checks the request shape.
func (r TransferRequest) Validate() error {
	if strings.TrimSpace(r.Staging) == "" || strings.TrimSpace(r.Destination) == "" {
		return fmt.Errorf("storage: transfer requires staging and destination tables")
	}
	if len(r.SourceColumns) == 0 {
		return fmt.Errorf("storage: transfer requires at least one column")
	}
	if len(r.SourceColumns) != len(r.TargetColumns) {
		return fmt.Errorf("storage: transfer column mismatch: %d source vs %d target",
			len(r.SourceColumns), len(r.TargetColumns))
	}
	return nil
}

// TransferResult carries the destination row counts around a transfer.
type TransferResult struct {
	Before int64
	After  int64

	// Affected is the statement's own row count as reported by the driver,
	// or -1 when the driver does not report one.
	Affected int64
}

// Added is the number of rows the transfer moved, measured as the
// destination count delta.
func (r TransferResult) Added() int64 { return r.After - r.Before }

// Consistent reports whether the driver's rows-affected agrees with the
// count delta. A mismatch means another writer touched the destination.
func (r TransferResult) Consistent() bool {
	return r.Affected < 0 || r.Affected == r.Added()
}

// Repository is the backend-agnostic destination store used by the pipeline.
//
// Table names may be schema-qualified ("dbo.orders"); each backend quotes the
// parts with its own rules. Column names are passed verbatim and quoted.
type Repository interface {
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources. Call once.
	Close() error

	// MaxIdentifierLength is the longest column name the backend accepts,
	// or 0 when there is no practical limit.
	MaxIdentifierLength() int

	TableExists(ctx context.Context, table string) (bool, error)

	// ColumnNames returns the table's column names in ordinal order.
	// A missing table yields ErrTableMissing.
	ColumnNames(ctx context.Context, table string) ([]string, error)

	// CreateTable creates the table when it does not exist.
	CreateTable(ctx context.Context, spec TableSpec) error

	// DropTable drops the table when it exists.
	DropTable(ctx context.Context, table string) error

	TruncateTable(ctx context.Context, table string) error
	CountRows(ctx context.Context, table string) (int64, error)

	// BulkLoad appends rows to table. Every row must have len(columns) values.
	BulkLoad(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// TransferColumns appends the staging rows to the destination.
	TransferColumns(ctx context.Context, req TransferRequest) (TransferResult, error)

	// InsertRecord inserts a single row.
	InsertRecord(ctx context.Context, table string, columns []string, values []any) error
}

// Factory opens a repository for one backend kind.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// Call Register from an init() function in a backend package. Registering
// the same kind more than once panics, as do an empty kind and a nil factory.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
