package corpus

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/malcolmiscalm/tubequery/internal/schema"
)

// DB wraps the scraped-corpus SQLite database. The corpus is populated by
// the external scraping/translation/sentiment pipeline and is strictly
// read-only from this process.
type DB struct {
	db *sql.DB
}

// Open opens the corpus database at path in read-only mode. maxConns bounds
// the connection pool shared by the schema catalog and the executor.
func Open(path string, maxConns int) (*DB, error) {
	if maxConns <= 0 {
		maxConns = 4
	}

	dsn := "file:" + url.PathEscape(path) + "?mode=ro"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening corpus database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging corpus database: %w", err)
	}

	db.SetMaxOpenConns(maxConns)

	// Set busy timeout so concurrent readers wait briefly instead of failing.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return &DB{db: db}, nil
}

// OpenWritable opens the corpus without the read-only flag. Used by tests
// that need to seed fixture tables.
func OpenWritable(path string, maxConns int) (*DB, error) {
	if maxConns <= 0 {
		maxConns = 4
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening corpus database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging corpus database: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	return &DB{db: db}, nil
}

// Close closes the underlying database connection.
func (c *DB) Close() error {
	return c.db.Close()
}

// Handle exposes the underlying *sql.DB for the executor.
func (c *DB) Handle() *sql.DB {
	return c.db
}

// Describe introspects the live schema: table names from sqlite_master,
// columns from PRAGMA table_info, and up to sampleRows example rows per
// table. Implements schema.Source.
func (c *DB) Describe(ctx context.Context, sampleRows int) (*schema.Descriptor, error) {
	names, err := c.tableNames(ctx)
	if err != nil {
		return nil, err
	}

	desc := &schema.Descriptor{LoadedAt: time.Now().UTC()}
	for _, name := range names {
		table, err := c.describeTable(ctx, name, sampleRows)
		if err != nil {
			return nil, err
		}
		desc.Tables = append(desc.Tables, table)
	}
	return desc, nil
}

func (c *DB) tableNames(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master
		 WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing corpus tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (c *DB) describeTable(ctx context.Context, name string, sampleRows int) (schema.TableInfo, error) {
	table := schema.TableInfo{Name: name}

	cols, err := c.db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(name)+")")
	if err != nil {
		return schema.TableInfo{}, fmt.Errorf("describing table %s: %w", name, err)
	}
	defer cols.Close()

	for cols.Next() {
		var (
			cid        int
			colName    string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := cols.Scan(&cid, &colName, &colType, &notNull, &defaultVal, &pk); err != nil {
			return schema.TableInfo{}, fmt.Errorf("scanning column of %s: %w", name, err)
		}
		table.Columns = append(table.Columns, schema.ColumnInfo{
			Name:     colName,
			Type:     colType,
			Nullable: notNull == 0,
		})
	}
	if err := cols.Err(); err != nil {
		return schema.TableInfo{}, err
	}

	if sampleRows > 0 {
		samples, err := c.sampleTable(ctx, name, len(table.Columns), sampleRows)
		if err != nil {
			return schema.TableInfo{}, err
		}
		table.SampleRows = samples
	}

	return table, nil
}

func (c *DB) sampleTable(ctx context.Context, name string, columnCount, limit int) ([][]string, error) {
	rows, err := c.db.QueryContext(ctx,
		fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(name), limit))
	if err != nil {
		return nil, fmt.Errorf("sampling table %s: %w", name, err)
	}
	defer rows.Close()

	var samples [][]string
	for rows.Next() {
		values := make([]any, columnCount)
		targets := make([]any, columnCount)
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scanning sample row of %s: %w", name, err)
		}

		rendered := make([]string, columnCount)
		for i, v := range values {
			rendered[i] = renderValue(v)
		}
		samples = append(samples, rendered)
	}
	return samples, rows.Err()
}

func renderValue(v any) string {
	switch typed := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(typed)
	case string:
		return typed
	case time.Time:
		return typed.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", typed)
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
