package schema

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrUnavailable is returned when the backing store cannot be reached to
// describe its schema. Callers must surface it instead of proceeding with
// an empty or stale descriptor.
var ErrUnavailable = errors.New("schema unavailable")

// ColumnInfo describes a single column of a corpus table.
type ColumnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// TableInfo describes one corpus table: its columns in declaration order
// and a bounded set of example rows used for prompt grounding.
type TableInfo struct {
	Name       string       `json:"name"`
	Columns    []ColumnInfo `json:"columns"`
	SampleRows [][]string   `json:"sample_rows"`
}

// Descriptor is an immutable snapshot of the corpus schema. Once loaded it
// is shared read-only across requests; a refresh produces a new Descriptor
// rather than mutating an existing one.
type Descriptor struct {
	Tables   []TableInfo `json:"tables"`
	LoadedAt time.Time   `json:"loaded_at"`
}

// Table returns the table with the given name. SQL identifiers are
// case-insensitive, so the match is case-insensitive too.
func (d *Descriptor) Table(name string) (TableInfo, bool) {
	for _, t := range d.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return TableInfo{}, false
}

// HasColumn reports whether the table contains a column with the given name.
func (t TableInfo) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

// ColumnNames returns the column names in declaration order.
func (t TableInfo) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Source describes the backing store's live schema. sampleRows bounds the
// number of example rows fetched per table.
type Source interface {
	Describe(ctx context.Context, sampleRows int) (*Descriptor, error)
}
