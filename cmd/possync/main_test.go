package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"possync/internal/schema"
	"possync/internal/storage"
)

func fixedNow() time.Time {
	return time.Date(2025, 12, 1, 9, 30, 0, 0, time.UTC)
}

func env(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// memSink captures writes for assertions.
type memSink struct {
	mu      sync.Mutex
	upserts map[string]int
	inserts map[string]int
	closed  bool
}

func newMemSink() *memSink {
	return &memSink{upserts: map[string]int{}, inserts: map[string]int{}}
}

func (s *memSink) Upsert(ctx context.Context, res schema.Resource, rows []schema.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts[res.Kind] += len(rows)
	return len(rows), nil
}

func (s *memSink) Insert(ctx context.Context, res schema.Resource, rows []schema.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts[res.Kind] += len(rows)
	return len(rows), nil
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestParseFlags_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := parseFlags(nil, fixedNow)
	if err != nil {
		t.Fatalf("parseFlags() err=%v", err)
	}
	if cfg.FromDate != "01/12/2025" || cfg.ToDate != "01/12/2025" {
		t.Fatalf("window = %s..%s, want today", cfg.FromDate, cfg.ToDate)
	}
	if cfg.MetricsBackend != "none" {
		t.Fatalf("metrics backend = %q", cfg.MetricsBackend)
	}
}

func TestParseFlags_Validation(t *testing.T) {
	t.Parallel()

	if _, err := parseFlags([]string{"-from-date", "2025-12-01"}, fixedNow); err == nil {
		t.Fatalf("ISO date must be rejected")
	}
	if _, err := parseFlags([]string{"-from-date", "02/12/2025", "-to-date", "01/12/2025"}, fixedNow); err == nil {
		t.Fatalf("inverted window must be rejected")
	}
	if _, err := parseFlags([]string{"-metrics-backend", "statsd"}, fixedNow); err == nil {
		t.Fatalf("unknown metrics backend must be rejected")
	}
	if _, err := parseFlags([]string{"-from-date", "25/11/2025", "-to-date", "01/12/2025"}, fixedNow); err != nil {
		t.Fatalf("valid window rejected: %v", err)
	}
}

func TestRun_ListShops(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	code := run(context.Background(), []string{"-list-shops"}, deps{
		Stdout: &out,
		Now:    fixedNow,
		LookupEnv: env(map[string]string{
			"LINISCO_SC": "pw",
			"LINISCO_DO": `{"email":"x@y.com","password":"p"}`,
		}),
		SinkFactory: func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
			t.Fatal("list mode must not build a sink")
			return nil, nil
		},
	})

	if code != 0 {
		t.Fatalf("exit = %d, want 0", code)
	}
	got := out.String()
	if !strings.Contains(got, "credential=password (LINISCO_SC)") {
		t.Fatalf("SC line missing:\n%s", got)
	}
	if !strings.Contains(got, "credential=payload (LINISCO_DO)") {
		t.Fatalf("DO line missing:\n%s", got)
	}
	if !strings.Contains(got, "credential=missing (LINISCO_SL)") {
		t.Fatalf("SL line missing:\n%s", got)
	}
}

func TestRun_UnknownShopKey(t *testing.T) {
	t.Parallel()

	var errOut strings.Builder
	code := run(context.Background(), []string{"-shops", "SC,ZZ"}, deps{
		Stderr:    &errOut,
		Now:       fixedNow,
		LookupEnv: env(nil),
	})

	if code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
	if !strings.Contains(errOut.String(), "ZZ") {
		t.Fatalf("stderr = %q", errOut.String())
	}
}

func TestRun_MissingDestinationConfig(t *testing.T) {
	t.Parallel()

	var errOut strings.Builder
	code := run(context.Background(), nil, deps{
		Stderr:    &errOut,
		Now:       fixedNow,
		LookupEnv: env(nil),
	})

	if code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
	if !strings.Contains(errOut.String(), "SUPABASE_URL") {
		t.Fatalf("stderr = %q", errOut.String())
	}
}

// End to end against a scripted vendor API: one shop with credentials syncs,
// the rest are skipped, the summary reports both.
func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/sign_in":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"authentication_token":"tok"}`))
		case "/sale_orders":
			_, _ = w.Write([]byte(`[{"idSaleOrder": 1, "orderDate": "2025-12-01 10:00:00"}, {"idSaleOrder": 2, "orderDate": "2025-12-01 11:00:00"}]`))
		case "/sale_products":
			_, _ = w.Write([]byte(`[{"id": 9, "product": "cookie"}]`))
		case "/psessions":
			_, _ = w.Write([]byte(`[]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	sink := newMemSink()
	var out strings.Builder

	code := run(context.Background(), []string{"-shops", "SC,SL", "-from-date", "01/12/2025", "-to-date", "01/12/2025"}, deps{
		Stdout: &out,
		Now:    fixedNow,
		LookupEnv: env(map[string]string{
			"SUPABASE_URL":     "https://x.supabase.co",
			"SUPABASE_KEY":     "k",
			"LINISCO_BASE_URL": srv.URL,
			"LINISCO_SC":       "pw",
		}),
		SinkFactory: func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
			return sink, nil
		},
	})

	if code != 0 {
		t.Fatalf("exit = %d, want 0\noutput:\n%s", code, out.String())
	}

	if sink.upserts[schema.SaleOrders.Kind] != 2 {
		t.Fatalf("orders upserted = %d, want 2", sink.upserts[schema.SaleOrders.Kind])
	}
	if sink.inserts[schema.SaleProducts.Kind] != 1 {
		t.Fatalf("products inserted = %d, want 1", sink.inserts[schema.SaleProducts.Kind])
	}
	if !sink.closed {
		t.Fatalf("sink not closed")
	}

	got := out.String()
	if !strings.Contains(got, "SC (Subway Corrientes): orders=2 products=1 sessions=0") {
		t.Fatalf("summary missing SC line:\n%s", got)
	}
	if !strings.Contains(got, "SL (Subway Lacroze): skipped, no credentials (LINISCO_SL)") {
		t.Fatalf("summary missing SL skip line:\n%s", got)
	}
	if !strings.Contains(got, "total orders=2 products=1 sessions=0 rows=3 shops_ok=1/2") {
		t.Fatalf("summary missing totals:\n%s", got)
	}
}

func TestRun_AuthFailureExitsNonZero(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	var out strings.Builder
	code := run(context.Background(), []string{"-shops", "SC"}, deps{
		Stdout: &out,
		Now:    fixedNow,
		LookupEnv: env(map[string]string{
			"SUPABASE_URL":     "https://x.supabase.co",
			"SUPABASE_KEY":     "k",
			"LINISCO_BASE_URL": srv.URL,
			"LINISCO_SC":       "badpw",
		}),
		SinkFactory: func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
			return newMemSink(), nil
		},
	})

	if code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	if !strings.Contains(out.String(), "sign-in failed") {
		t.Fatalf("summary missing failure line:\n%s", out.String())
	}
}
