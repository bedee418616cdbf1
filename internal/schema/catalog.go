package schema

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

const defaultSampleRows = 3

// Catalog caches the corpus schema descriptor for the lifetime of the
// process. Reads are lock-free against the cached snapshot; a reload swaps
// the snapshot atomically, and in-flight requests keep using the descriptor
// they already captured.
type Catalog struct {
	source     Source
	sampleRows int

	snapshot atomic.Pointer[Descriptor]
	reloadMu sync.Mutex
}

// NewCatalog creates a Catalog over the given source. sampleRows controls
// how many example rows are fetched per table (default 3 if <= 0).
func NewCatalog(source Source, sampleRows int) *Catalog {
	if sampleRows <= 0 {
		sampleRows = defaultSampleRows
	}
	return &Catalog{source: source, sampleRows: sampleRows}
}

// Get returns the cached descriptor, loading it on first use (or after
// Invalidate). Once cached it never touches the backing store.
func (c *Catalog) Get(ctx context.Context) (*Descriptor, error) {
	if snap := c.snapshot.Load(); snap != nil {
		return snap, nil
	}
	return c.Load(ctx)
}

// Load performs a full reload from the source and atomically swaps the
// cached snapshot. Concurrent reloads are serialized; the second caller
// reuses the snapshot installed by the first.
func (c *Catalog) Load(ctx context.Context) (*Descriptor, error) {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	if snap := c.snapshot.Load(); snap != nil {
		return snap, nil
	}

	desc, err := c.source.Describe(ctx, c.sampleRows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.snapshot.Store(desc)
	slog.Debug("schema catalog loaded", "tables", len(desc.Tables))
	return desc, nil
}

// Invalidate drops the cached snapshot. The next Get performs a full reload.
func (c *Catalog) Invalidate() {
	c.snapshot.Store(nil)
}
