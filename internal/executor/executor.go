package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrBusy is returned when no executor slot frees up within the wait
	// timeout.
	ErrBusy = errors.New("executor busy")
	// ErrTimeout is returned when a query exceeds the per-query deadline.
	ErrTimeout = errors.New("query timed out")
)

const (
	defaultQueryTimeout = 15 * time.Second
	defaultWaitTimeout  = 2 * time.Second
	defaultRowCap       = 200
)

// Result holds the outcome of a successful query execution. Truncated is
// set when the store had more rows than the cap.
type Result struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
}

// Executor runs validated read-only SQL against the corpus with a bounded
// number of concurrent queries. Admission waits up to waitTimeout for a
// slot; execution is bounded by queryTimeout.
type Executor struct {
	db           *sql.DB
	slots        *semaphore.Weighted
	queryTimeout time.Duration
	waitTimeout  time.Duration
	rowCap       int
}

// Options configures an Executor. Zero fields fall back to defaults.
type Options struct {
	MaxConcurrent int
	QueryTimeout  time.Duration
	WaitTimeout   time.Duration
	RowCap        int
}

// New creates an Executor over the given read-only database handle.
func New(db *sql.DB, opts Options) *Executor {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = defaultQueryTimeout
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = defaultWaitTimeout
	}
	if opts.RowCap <= 0 {
		opts.RowCap = defaultRowCap
	}
	return &Executor{
		db:           db,
		slots:        semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		queryTimeout: opts.QueryTimeout,
		waitTimeout:  opts.WaitTimeout,
		rowCap:       opts.RowCap,
	}
}

// Execute runs one validated statement. It acquires an executor slot (or
// fails with ErrBusy), applies the query deadline, and reads at most the
// row cap, flagging truncation when more rows were available.
func (e *Executor) Execute(ctx context.Context, query string) (*Result, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, e.waitTimeout)
	defer cancel()
	if err := e.slots.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrBusy
	}
	defer e.slots.Release(1)

	queryCtx, cancelQuery := context.WithTimeout(ctx, e.queryTimeout)
	defer cancelQuery()

	rows, err := e.db.QueryContext(queryCtx, query)
	if err != nil {
		return nil, e.classify(ctx, queryCtx, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	result := &Result{Columns: cols, Rows: make([][]any, 0, 16)}
	for rows.Next() {
		if len(result.Rows) == e.rowCap {
			result.Truncated = true
			break
		}
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		result.Rows = append(result.Rows, normalizeValues(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, e.classify(ctx, queryCtx, err)
	}
	return result, nil
}

// classify maps a driver error to the timeout/cancel sentinels when the
// deadline or the caller's context was the cause.
func (e *Executor) classify(ctx, queryCtx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if queryCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, e.queryTimeout)
	}
	return fmt.Errorf("executing query: %w", err)
}

// normalizeValues makes scanned values JSON-friendly: byte slices become
// strings, timestamps become RFC 3339.
func normalizeValues(row []any) []any {
	for i, v := range row {
		switch val := v.(type) {
		case []byte:
			row[i] = string(val)
		case time.Time:
			row[i] = val.Format(time.RFC3339)
		}
	}
	return row
}
