// Package sqlite loads records into a SQLite database. It is the backend of
// choice for local runs and for tests that need real upsert semantics
// without a server.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"possync/internal/schema"
	"possync/internal/storage"

	_ "modernc.org/sqlite"
)

// Kind is the registry key for this backend.
const Kind = "sqlite"

func init() {
	storage.Register(Kind, func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return New(ctx, cfg)
	})
}

// Sink writes rows through database/sql with the modernc driver.
type Sink struct {
	db *sql.DB
}

// New opens (and creates if needed) the database at cfg.DSN.
func New(ctx context.Context, cfg storage.Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sqlite: missing dsn")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// The modernc driver serializes writes; a single connection avoids
	// SQLITE_BUSY on concurrent batches.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Sink{db: db}, nil
}

// Upsert merges rows on the resource's conflict key.
func (s *Sink) Upsert(ctx context.Context, res schema.Resource, rows []schema.Record) (int, error) {
	if res.ConflictKey == "" {
		return 0, fmt.Errorf("sqlite: resource %s declares no conflict key", res.Kind)
	}
	return s.write(ctx, res, rows, res.ConflictKey)
}

// Insert appends rows with no dedupe.
func (s *Sink) Insert(ctx context.Context, res schema.Resource, rows []schema.Record) (int, error) {
	return s.write(ctx, res, rows, "")
}

// Close closes the database.
func (s *Sink) Close() error {
	return s.db.Close()
}

func (s *Sink) write(ctx context.Context, res schema.Resource, rows []schema.Record, conflictKey string) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	cols := storage.Columns(rows)
	if err := s.ensureTable(ctx, res.Table, cols, conflictKey); err != nil {
		return 0, err
	}

	stmt := buildWriteSQL(res.Table, cols, conflictKey)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prepare %s: %w", res.Table, err)
	}
	defer prepared.Close()

	for _, row := range rows {
		if _, err := prepared.ExecContext(ctx, storage.Values(row, cols)...); err != nil {
			return 0, fmt.Errorf("sqlite: write %s: %w", res.Table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit %s: %w", res.Table, err)
	}
	return len(rows), nil
}

// ensureTable creates the table on first use and adds columns the table does
// not have yet. SQLite is dynamically typed, so every column is declared
// bare.
func (s *Sink) ensureTable(ctx context.Context, table string, cols []string, conflictKey string) error {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(quoteIdent(table))
	b.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(c))
		if c == conflictKey {
			b.WriteString(" UNIQUE")
		}
	}
	b.WriteString(")")

	if _, err := s.db.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("sqlite: ensure table %s: %w", table, err)
	}

	existing, err := s.tableColumns(ctx, table)
	if err != nil {
		return err
	}
	for _, c := range cols {
		if existing[c] {
			continue
		}
		alter := "ALTER TABLE " + quoteIdent(table) + " ADD COLUMN " + quoteIdent(c)
		if _, err := s.db.ExecContext(ctx, alter); err != nil {
			return fmt.Errorf("sqlite: add column %s.%s: %w", table, c, err)
		}
	}
	return nil
}

func (s *Sink) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("sqlite: table info %s: %w", table, err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

// buildWriteSQL renders a single-row INSERT with an optional ON CONFLICT
// merge clause.
func buildWriteSQL(table string, cols []string, conflictKey string) string {
	var b strings.Builder

	b.WriteString("INSERT INTO ")
	b.WriteString(quoteIdent(table))
	b.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(c))
	}
	b.WriteString(") VALUES (")
	for i := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("?")
	}
	b.WriteString(")")

	if conflictKey != "" {
		b.WriteString(" ON CONFLICT(")
		b.WriteString(quoteIdent(conflictKey))
		b.WriteString(") DO UPDATE SET ")
		first := true
		for _, c := range cols {
			if c == conflictKey {
				continue
			}
			if !first {
				b.WriteString(", ")
			}
			first = false
			b.WriteString(quoteIdent(c))
			b.WriteString(" = excluded.")
			b.WriteString(quoteIdent(c))
		}
		if first {
			return strings.TrimSuffix(b.String(), " DO UPDATE SET ") + " DO NOTHING"
		}
	}

	return b.String()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

var _ storage.Sink = (*Sink)(nil)
