// Package pipeline orchestrates one sync run: per shop, resolve credentials,
// sign in, then fetch, normalize and load every resource for the window.
//
// Failure isolation is per shop and per resource: one shop failing to
// authenticate, or one resource failing to fetch, never aborts the rest of
// the run. The aggregate summary is always produced.
package pipeline

import (
	"context"
	"os"

	"possync/internal/credential"
	"possync/internal/linisco"
	"possync/internal/metrics"
	"possync/internal/normalize"
	"possync/internal/registry"
	"possync/internal/schema"
	"possync/internal/storage"

	"go.uber.org/zap"
)

// Shop outcome statuses. They double as the metrics status label.
const (
	StatusOK            = "ok"
	StatusNoCredentials = "no_credentials"
	StatusAuthFailed    = "auth_failed"
)

// posClient is the vendor API surface the pipeline needs. *linisco.Client
// satisfies it; tests use fakes.
type posClient interface {
	SignIn(ctx context.Context, email string, cred credential.Credential) (string, error)
	Fetch(ctx context.Context, res schema.Resource, email, token string, dr linisco.DateRange) ([]schema.Record, error)
}

// Counters tallies destination rows loaded, by resource.
type Counters struct {
	Orders   int
	Products int
	Sessions int
}

// Add accumulates another tally.
func (c *Counters) Add(o Counters) {
	c.Orders += o.Orders
	c.Products += o.Products
	c.Sessions += o.Sessions
}

// Total is the grand total across resources.
func (c Counters) Total() int {
	return c.Orders + c.Products + c.Sessions
}

func (c *Counters) record(kind string, n int) {
	switch kind {
	case schema.SaleOrders.Kind:
		c.Orders += n
	case schema.SaleProducts.Kind:
		c.Products += n
	case schema.PosSessions.Kind:
		c.Sessions += n
	}
}

// ShopResult is the outcome of one shop's sync.
type ShopResult struct {
	Shop   registry.Shop
	Status string
	Loaded Counters

	// AuthErr is set when Status is auth_failed.
	AuthErr error

	// ResourceErrs holds per-resource fetch/load failures for shops that
	// did authenticate. Other resources still complete.
	ResourceErrs map[string]error
}

// Runner executes sync runs. All fields except LookupEnv and Log are
// required.
type Runner struct {
	Client posClient
	Sink   storage.Sink
	Range  linisco.DateRange

	// LookupEnv resolves credential variables. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)

	Log *zap.Logger
}

func (r *Runner) lookup() func(string) (string, bool) {
	if r.LookupEnv != nil {
		return r.LookupEnv
	}
	return os.LookupEnv
}

func (r *Runner) log() *zap.Logger {
	if r.Log != nil {
		return r.Log
	}
	return zap.NewNop()
}

// Run syncs every shop in order and folds per-shop tallies into the grand
// total. It only fails outright on context cancellation.
func (r *Runner) Run(ctx context.Context, shops []registry.Shop) ([]ShopResult, Counters, error) {
	results := make([]ShopResult, 0, len(shops))
	var totals Counters

	for _, shop := range shops {
		if err := ctx.Err(); err != nil {
			return results, totals, err
		}
		res := r.RunShop(ctx, shop)
		results = append(results, res)
		totals.Add(res.Loaded)
	}
	return results, totals, nil
}

// RunShop syncs a single shop.
//
// Edge cases:
//   - No credential configured: the shop is reported and skipped with zero
//     counts, without any network traffic.
//   - Sign-in failure: reported and skipped with zero counts; no resource
//     is fetched.
//   - A resource failing to fetch or load is recorded and the remaining
//     resources still run.
func (r *Runner) RunShop(ctx context.Context, shop registry.Shop) ShopResult {
	log := r.log().With(zap.String("shop", shop.Key))
	result := ShopResult{Shop: shop}

	cred, ok := credential.Resolve(r.lookup(), shop.CredentialEnvKey())
	if !ok {
		log.Warn("no credentials configured, skipping shop",
			zap.String("env_key", shop.CredentialEnvKey()))
		result.Status = StatusNoCredentials
		metrics.IncShopResult(StatusNoCredentials)
		return result
	}

	// A structured payload may carry its own login email, which wins over
	// the roster's.
	email := shop.Email
	if e := cred.Email(); e != "" {
		email = e
	}

	token, err := r.Client.SignIn(ctx, email, cred)
	if err != nil {
		log.Warn("sign-in failed, skipping shop", zap.Error(err))
		result.Status = StatusAuthFailed
		result.AuthErr = err
		metrics.IncShopResult(StatusAuthFailed)
		return result
	}

	for _, res := range schema.All() {
		rows, err := r.Client.Fetch(ctx, res, email, token, r.Range)
		if err != nil {
			log.Error("fetch failed", zap.String("resource", res.Kind), zap.Error(err))
			result.addResourceErr(res.Kind, err)
			continue
		}

		normalized := normalize.Rows(res, rows, shop)
		if len(normalized) == 0 {
			log.Info("resource empty", zap.String("resource", res.Kind))
			continue
		}

		var n int
		if res.ConflictKey != "" {
			n, err = r.Sink.Upsert(ctx, res, normalized)
		} else {
			n, err = r.Sink.Insert(ctx, res, normalized)
		}
		if err != nil {
			log.Error("load failed", zap.String("resource", res.Kind), zap.Error(err))
			result.addResourceErr(res.Kind, err)
			continue
		}

		result.Loaded.record(res.Kind, n)
		metrics.AddRecordsLoaded(res.Kind, n)
		log.Info("resource loaded", zap.String("resource", res.Kind), zap.Int("rows", n))
	}

	result.Status = StatusOK
	metrics.IncShopResult(StatusOK)
	return result
}

func (s *ShopResult) addResourceErr(kind string, err error) {
	if s.ResourceErrs == nil {
		s.ResourceErrs = map[string]error{}
	}
	s.ResourceErrs[kind] = err
}
