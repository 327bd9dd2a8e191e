// Package mssql loads records into SQL Server. Writes go through
// database/sql with the Microsoft driver; upserts use MERGE because SQL
// Server has no ON CONFLICT clause.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"possync/internal/schema"
	"possync/internal/storage"

	_ "github.com/microsoft/go-mssqldb"
)

// Kind is the registry key for this backend.
const Kind = "mssql"

func init() {
	storage.Register(Kind, func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return New(ctx, cfg)
	})
}

// Sink writes rows to SQL Server.
type Sink struct {
	db *sql.DB
}

// New connects to the server named by cfg.DSN.
func New(ctx context.Context, cfg storage.Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mssql: missing dsn")
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return &Sink{db: db}, nil
}

// Upsert merges rows on the resource's conflict key via MERGE.
func (s *Sink) Upsert(ctx context.Context, res schema.Resource, rows []schema.Record) (int, error) {
	if res.ConflictKey == "" {
		return 0, fmt.Errorf("mssql: resource %s declares no conflict key", res.Kind)
	}
	return s.write(ctx, res, rows, buildMergeSQL(res.Table, storage.Columns(rows), res.ConflictKey))
}

// Insert appends rows with no dedupe.
func (s *Sink) Insert(ctx context.Context, res schema.Resource, rows []schema.Record) (int, error) {
	return s.write(ctx, res, rows, buildInsertSQL(res.Table, storage.Columns(rows)))
}

// Close closes the database.
func (s *Sink) Close() error {
	return s.db.Close()
}

func (s *Sink) write(ctx context.Context, res schema.Resource, rows []schema.Record, stmt string) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	cols := storage.Columns(rows)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mssql: begin: %w", err)
	}
	defer tx.Rollback()

	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("mssql: prepare %s: %w", res.Table, err)
	}
	defer prepared.Close()

	for _, row := range rows {
		if _, err := prepared.ExecContext(ctx, storage.Values(row, cols)...); err != nil {
			return 0, fmt.Errorf("mssql: write %s: %w", res.Table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mssql: commit %s: %w", res.Table, err)
	}
	return len(rows), nil
}

// buildInsertSQL renders a single-row INSERT with @pN placeholders.
func buildInsertSQL(table string, cols []string) string {
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
		fmt.Fprintf(&b, "@p%d", i+1)
	}
	b.WriteString(")")
	return b.String()
}

// buildMergeSQL renders a single-row MERGE keyed on conflictKey: matched
// rows are updated, unmatched rows inserted.
func buildMergeSQL(table string, cols []string, conflictKey string) string {
	var b strings.Builder

	b.WriteString("MERGE ")
	b.WriteString(quoteIdent(table))
	b.WriteString(" AS target USING (SELECT ")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "@p%d AS %s", i+1, quoteIdent(c))
	}
	b.WriteString(") AS source ON target.")
	b.WriteString(quoteIdent(conflictKey))
	b.WriteString(" = source.")
	b.WriteString(quoteIdent(conflictKey))

	var updatable []string
	for _, c := range cols {
		if c != conflictKey {
			updatable = append(updatable, c)
		}
	}
	if len(updatable) > 0 {
		b.WriteString(" WHEN MATCHED THEN UPDATE SET ")
		for i, c := range updatable {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "target.%s = source.%s", quoteIdent(c), quoteIdent(c))
		}
	}

	b.WriteString(" WHEN NOT MATCHED THEN INSERT (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(c))
	}
	b.WriteString(") VALUES (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("source." + quoteIdent(c))
	}
	b.WriteString(");")
	return b.String()
}

// quoteIdent brackets an identifier, SQL Server style.
func quoteIdent(s string) string {
	return "[" + strings.ReplaceAll(s, "]", "]]") + "]"
}

var _ storage.Sink = (*Sink)(nil)
