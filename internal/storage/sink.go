// Package storage defines the destination datastore abstraction and the
// backend registry. Concrete backends live in subpackages and register
// themselves via init(); programs select one at runtime by kind.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"possync/internal/schema"
)

// Config selects and configures a backend.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - Endpoint/Key are used by the REST backend, DSN by the SQL backends;
//     validation is backend-specific.
type Config struct {
	Kind string

	// Endpoint and Key configure REST-style backends.
	Endpoint string
	Key      string

	// DSN configures SQL backends.
	DSN string
}

// Sink is a backend-agnostic destination for normalized records.
//
// The two write paths carry different rerun semantics on purpose: Upsert is
// idempotent on the resource's conflict key, Insert appends unconditionally.
// The caller picks the path from the resource's schema declaration.
type Sink interface {
	// Upsert writes rows with merge-on-conflict semantics keyed on
	// res.ConflictKey. Returns the number of rows written.
	Upsert(ctx context.Context, res schema.Resource, rows []schema.Record) (int, error)

	// Insert appends rows with no dedupe. Returns the number of rows written.
	Insert(ctx context.Context, res schema.Resource, rows []schema.Record) (int, error)

	// Close releases backend resources. Call once at shutdown.
	Close() error
}

// Factory constructs a backend from its configuration.
type Factory func(ctx context.Context, cfg Config) (Sink, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under a kind (e.g. "postgrest", "postgres").
// Call from an init() function in the backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. This is intentional to fail fast and
//     avoid ambiguous backend selection.
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

// New constructs a Sink using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Sink, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Columns returns the sorted union of keys across rows. SQL backends need a
// stable column list for a batch even when the vendor omits keys on some
// rows.
func Columns(rows []schema.Record) []string {
	seen := map[string]bool{}
	for _, row := range rows {
		for k := range row {
			seen[k] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Values materializes one row against a fixed column list. Missing keys
// become nil, which SQL drivers write as NULL.
func Values(row schema.Record, cols []string) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = DriverValue(row[c])
	}
	return out
}

// DriverValue converts JSON-decoded values into types SQL drivers accept.
// json.Number becomes int64 when it fits, float64 otherwise. Nested objects
// and arrays are re-encoded as JSON text.
func DriverValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return v
	}
}
