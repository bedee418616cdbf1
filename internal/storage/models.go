package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// QueryRecord is one completed pipeline run, kept for history and
// debugging.
type QueryRecord struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Question   string    `json:"question"`
	SQL        string    `json:"sql"` // last attempted SQL, empty if none was produced
	Answer     string    `json:"answer"`
	Status     string    `json:"status"`     // "answered" or "failed"
	ErrorKind  string    `json:"error_kind"` // empty when answered
	Attempts   int       `json:"attempts"`   // synthesis attempts consumed
	DurationMs int64     `json:"duration_ms"`
	RowCount   int       `json:"row_count"`
	Truncated  bool      `json:"truncated"`
}
