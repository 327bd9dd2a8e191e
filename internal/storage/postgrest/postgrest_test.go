package postgrest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"possync/internal/schema"
	"possync/internal/storage"
)

type capturedRequest struct {
	path   string
	query  string
	prefer string
	apikey string
	auth   string
	body   []map[string]any
}

func newTestSink(t *testing.T, status int) (*Sink, *[]capturedRequest) {
	t.Helper()

	var calls []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body []map[string]any
		_ = json.Unmarshal(raw, &body)
		calls = append(calls, capturedRequest{
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			prefer: r.Header.Get("Prefer"),
			apikey: r.Header.Get("apikey"),
			auth:   r.Header.Get("Authorization"),
			body:   body,
		})
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	s, err := New(storage.Config{Kind: Kind, Endpoint: srv.URL, Key: "service-key"})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	s.SetHTTPClient(srv.Client())
	return s, &calls
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(storage.Config{Key: "k"}); err == nil {
		t.Fatalf("missing endpoint must error")
	}
	if _, err := New(storage.Config{Endpoint: "https://x.supabase.co"}); err == nil {
		t.Fatalf("missing key must error")
	}
}

func TestUpsert_MergeDuplicatesOnConflictKey(t *testing.T) {
	t.Parallel()

	s, calls := newTestSink(t, http.StatusCreated)

	rows := []schema.Record{{"idSaleOrder": 7, "total": 120.5}}
	n, err := s.Upsert(context.Background(), schema.SaleOrders, rows)
	if err != nil {
		t.Fatalf("Upsert() err=%v", err)
	}
	if n != 1 {
		t.Fatalf("n = %d, want 1", n)
	}

	got := (*calls)[0]
	if got.path != "/rest/v1/sale_orders" {
		t.Fatalf("path = %q", got.path)
	}
	if got.query != "on_conflict=idSaleOrder" {
		t.Fatalf("query = %q", got.query)
	}
	if !strings.Contains(got.prefer, "resolution=merge-duplicates") {
		t.Fatalf("prefer = %q", got.prefer)
	}
	if got.apikey != "service-key" || got.auth != "Bearer service-key" {
		t.Fatalf("auth headers = %q / %q", got.apikey, got.auth)
	}
	if len(got.body) != 1 || got.body[0]["idSaleOrder"] != float64(7) {
		t.Fatalf("body = %v", got.body)
	}
}

func TestInsert_NoConflictHandling(t *testing.T) {
	t.Parallel()

	s, calls := newTestSink(t, http.StatusCreated)

	n, err := s.Insert(context.Background(), schema.SaleProducts, []schema.Record{{"product": "cookie"}})
	if err != nil {
		t.Fatalf("Insert() err=%v", err)
	}
	if n != 1 {
		t.Fatalf("n = %d", n)
	}

	got := (*calls)[0]
	if got.path != "/rest/v1/sale_products" {
		t.Fatalf("path = %q", got.path)
	}
	if got.query != "" {
		t.Fatalf("insert must not set on_conflict, query = %q", got.query)
	}
	if strings.Contains(got.prefer, "merge-duplicates") {
		t.Fatalf("insert must not request merge, prefer = %q", got.prefer)
	}
}

func TestWrite_EmptyBatchSkipsNetwork(t *testing.T) {
	t.Parallel()

	s, calls := newTestSink(t, http.StatusCreated)

	n, err := s.Insert(context.Background(), schema.SaleProducts, nil)
	if err != nil || n != 0 {
		t.Fatalf("Insert(nil) = %d, %v", n, err)
	}
	if len(*calls) != 0 {
		t.Fatalf("empty batch should not hit the API, calls = %d", len(*calls))
	}
}

func TestWrite_ErrorStatusSurfaced(t *testing.T) {
	t.Parallel()

	s, _ := newTestSink(t, http.StatusConflict)

	_, err := s.Insert(context.Background(), schema.SaleProducts, []schema.Record{{"x": 1}})
	if err == nil || !strings.Contains(err.Error(), "409") {
		t.Fatalf("err = %v, want 409 status error", err)
	}
}

func TestUpsert_RequiresConflictKey(t *testing.T) {
	t.Parallel()

	s, _ := newTestSink(t, http.StatusCreated)

	_, err := s.Upsert(context.Background(), schema.SaleProducts, []schema.Record{{"x": 1}})
	if err == nil {
		t.Fatalf("upsert on a keyless resource must error")
	}
}
