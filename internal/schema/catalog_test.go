package schema

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingSource struct {
	calls int
	err   error
}

func (s *countingSource) Describe(_ context.Context, sampleRows int) (*Descriptor, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Descriptor{
		Tables: []TableInfo{{
			Name: "comments",
			Columns: []ColumnInfo{
				{Name: "id", Type: "INTEGER"},
				{Name: "text", Type: "TEXT", Nullable: true},
			},
		}},
		LoadedAt: time.Now().UTC(),
	}, nil
}

func TestCatalogGet_CachesSnapshot(t *testing.T) {
	src := &countingSource{}
	cat := NewCatalog(src, 3)

	first, err := cat.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := cat.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if src.calls != 1 {
		t.Errorf("source calls = %d, want 1", src.calls)
	}
	if first != second {
		t.Error("cached Get must return the same snapshot pointer")
	}
}

func TestCatalogInvalidate_ForcesReload(t *testing.T) {
	src := &countingSource{}
	cat := NewCatalog(src, 3)

	first, err := cat.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	cat.Invalidate()

	second, err := cat.Get(context.Background())
	if err != nil {
		t.Fatalf("Get after Invalidate: %v", err)
	}
	if src.calls != 2 {
		t.Errorf("source calls = %d, want 2", src.calls)
	}
	if first == second {
		t.Error("reload must produce a fresh snapshot")
	}
}

func TestCatalogLoad_WrapsUnavailable(t *testing.T) {
	src := &countingSource{err: errors.New("connection refused")}
	cat := NewCatalog(src, 3)

	_, err := cat.Get(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestDescriptorTable_CaseInsensitive(t *testing.T) {
	desc := &Descriptor{Tables: []TableInfo{{Name: "Comments"}}}

	if _, ok := desc.Table("comments"); !ok {
		t.Error("table lookup should be case-insensitive")
	}
	if _, ok := desc.Table("videos"); ok {
		t.Error("unknown table must not resolve")
	}
}

func TestTableInfoHasColumn(t *testing.T) {
	table := TableInfo{Columns: []ColumnInfo{{Name: "posted_at"}}}

	if !table.HasColumn("POSTED_AT") {
		t.Error("column lookup should be case-insensitive")
	}
	if table.HasColumn("deleted_at") {
		t.Error("unknown column must not resolve")
	}
}
