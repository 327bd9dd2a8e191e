// Package postgres loads records straight into a Postgres database over pgx.
// Deployments that own the database use it to bypass the REST layer.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"possync/internal/schema"
	"possync/internal/storage"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Kind is the registry key for this backend.
const Kind = "postgres"

func init() {
	storage.Register(Kind, func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return New(ctx, cfg)
	})
}

// Sink writes rows through a pgx connection pool.
type Sink struct {
	pool *pgxpool.Pool
}

// New connects to the database named by cfg.DSN.
func New(ctx context.Context, cfg storage.Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres: missing dsn")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Sink{pool: pool}, nil
}

// Upsert merges rows on the resource's conflict key.
func (s *Sink) Upsert(ctx context.Context, res schema.Resource, rows []schema.Record) (int, error) {
	if res.ConflictKey == "" {
		return 0, fmt.Errorf("postgres: resource %s declares no conflict key", res.Kind)
	}
	return s.write(ctx, res, rows, res.ConflictKey)
}

// Insert appends rows with no dedupe.
func (s *Sink) Insert(ctx context.Context, res schema.Resource, rows []schema.Record) (int, error) {
	return s.write(ctx, res, rows, "")
}

// Close releases the pool.
func (s *Sink) Close() error {
	s.pool.Close()
	return nil
}

func (s *Sink) write(ctx context.Context, res schema.Resource, rows []schema.Record, conflictKey string) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	cols := storage.Columns(rows)
	sql := buildWriteSQL(res.Table, cols, conflictKey, len(rows))

	args := make([]any, 0, len(cols)*len(rows))
	for _, row := range rows {
		args = append(args, storage.Values(row, cols)...)
	}

	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: write %s: %w", res.Table, err)
	}
	return int(tag.RowsAffected()), nil
}

// buildWriteSQL renders a multi-row INSERT, with an ON CONFLICT merge clause
// when conflictKey is non-empty. Pure so the SQL contract is testable
// without a database.
func buildWriteSQL(table string, cols []string, conflictKey string, rowCount int) string {
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
	b.WriteString(") VALUES ")

	arg := 1
	for r := 0; r < rowCount; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for i := range cols {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", arg)
			arg++
		}
		b.WriteString(")")
	}

	if conflictKey != "" {
		b.WriteString(" ON CONFLICT (")
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
			b.WriteString(" = EXCLUDED.")
			b.WriteString(quoteIdent(c))
		}
		if first {
			// Every column is the key; there is nothing to update.
			b.Reset()
			return buildWriteSQL(table, cols, "", rowCount) + " ON CONFLICT (" + quoteIdent(conflictKey) + ") DO NOTHING"
		}
	}

	return b.String()
}

// quoteIdent double-quotes an identifier. Vendor column names are camelCase
// and would otherwise be folded to lowercase.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

var _ storage.Sink = (*Sink)(nil)
