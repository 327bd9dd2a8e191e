// Package postgrest loads records through a PostgREST-compatible API, such
// as the one Supabase exposes in front of its Postgres databases.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"possync/internal/schema"
	"possync/internal/storage"
)

// Kind is the registry key for this backend.
const Kind = "postgrest"

func init() {
	storage.Register(Kind, func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		return New(cfg)
	})
}

// Sink writes rows to a PostgREST endpoint.
type Sink struct {
	endpoint string // project base URL, without /rest/v1
	key      string
	http     *http.Client
}

// New validates the configuration and builds a sink. No connection is made
// until the first write.
func New(cfg storage.Config) (*Sink, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("postgrest: missing endpoint")
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("postgrest: missing access key")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("postgrest: bad endpoint: %w", err)
	}
	return &Sink{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		key:      cfg.Key,
		http:     &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// SetHTTPClient overrides the HTTP client. Tests point it at httptest
// servers.
func (s *Sink) SetHTTPClient(h *http.Client) { s.http = h }

// Upsert merges rows on the resource's conflict key via the on_conflict
// query parameter and Prefer: resolution=merge-duplicates.
func (s *Sink) Upsert(ctx context.Context, res schema.Resource, rows []schema.Record) (int, error) {
	if res.ConflictKey == "" {
		return 0, fmt.Errorf("postgrest: resource %s declares no conflict key", res.Kind)
	}
	return s.write(ctx, res, rows, true)
}

// Insert appends rows unconditionally.
func (s *Sink) Insert(ctx context.Context, res schema.Resource, rows []schema.Record) (int, error) {
	return s.write(ctx, res, rows, false)
}

// Close is a no-op: the sink holds no persistent connection.
func (s *Sink) Close() error { return nil }

func (s *Sink) write(ctx context.Context, res schema.Resource, rows []schema.Record, upsert bool) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	u := s.endpoint + "/rest/v1/" + res.Table
	if upsert {
		u += "?on_conflict=" + url.QueryEscape(res.ConflictKey)
	}

	body, err := json.Marshal(rows)
	if err != nil {
		return 0, fmt.Errorf("postgrest: encode %s rows: %w", res.Table, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("postgrest: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	if upsert {
		req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")
	} else {
		req.Header.Set("Prefer", "return=minimal")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("postgrest: write %s: %w", res.Table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("postgrest: write %s: status %d: %s",
			res.Table, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return len(rows), nil
}

var _ storage.Sink = (*Sink)(nil)
