// Command possync pulls point-of-sale data from the Linisco API for a date
// window and loads it into the configured destination, one shop at a time.
//
// Typical cron usage:
//
//	possync -from-date 01/12/2025 -to-date 01/12/2025
//
// Destination and credentials come from the environment (or a .env file next
// to the binary); flags control the window, the shop selection and metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"possync/internal/config"
	"possync/internal/credential"
	"possync/internal/linisco"
	"possync/internal/logger"
	"possync/internal/metrics"
	"possync/internal/metrics/datadog"
	"possync/internal/pipeline"
	"possync/internal/registry"
	"possync/internal/storage"
	_ "possync/internal/storage/all"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// rangeLayout is the vendor API's date format.
const rangeLayout = "02/01/2006"

// backendCloser is the minimal interface used to manage a metrics backend.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps are external seams for testability.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	LookupEnv  func(string) (string, bool)
	LoadDotenv func(path string) error
	Now        func() time.Time

	SinkFactory    func(ctx context.Context, cfg storage.Config) (storage.Sink, error)
	BackendFactory func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error)
}

// runConfig holds the parsed flags.
type runConfig struct {
	FromDate    string
	ToDate      string
	ShopsCSV    string
	ShopsConfig string
	ListShops   bool
	EnvFile     string

	MetricsBackend string
	MetricsFlush   time.Duration
	DDTagsCSV      string

	Verbose bool
}

// main is intentionally small: it wires real dependencies and exits with a
// code.
func main() {
	code := run(context.Background(), os.Args[1:], deps{
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		LookupEnv:   os.LookupEnv,
		LoadDotenv:  func(path string) error { return godotenv.Load(path) },
		Now:         time.Now,
		SinkFactory: storage.New,
		BackendFactory: func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error) {
			return datadog.NewBackend(ctx, datadog.Options{
				JobName:    jobName,
				Tags:       tags,
				FlushEvery: flushEvery,
			})
		},
	})
	os.Exit(code)
}

// run executes the sync command and returns an exit code.
//
// Exit codes:
//   - 0: every selected shop synced cleanly (skips for missing credentials
//     are reported but do not fail the run).
//   - 1: at least one shop failed to authenticate or lost a resource.
//   - 2: configuration/initialization error.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.LookupEnv == nil {
		d.LookupEnv = os.LookupEnv
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.SinkFactory == nil {
		d.SinkFactory = storage.New
	}

	cfg, err := parseFlags(args, d.Now)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	// A missing .env is normal: the environment may be set by cron or the
	// shell instead.
	if d.LoadDotenv != nil {
		_ = d.LoadDotenv(cfg.EnvFile)
	}

	reg, err := buildRoster(cfg, d.LookupEnv)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	shops, unknown := reg.Filter(splitCSV(cfg.ShopsCSV))
	if len(unknown) > 0 {
		fmt.Fprintf(d.Stderr, "unknown shop keys: %s\n", strings.Join(unknown, ", "))
		return 2
	}

	if cfg.ListShops {
		listShops(d.Stdout, shops, d.LookupEnv)
		return 0
	}

	envCfg, err := config.FromEnv(d.LookupEnv)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}
	if cfg.Verbose {
		envCfg.Debug = true
	}

	log := logger.New(envCfg.Debug)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.MetricsBackend == "datadog" {
		if d.BackendFactory == nil {
			fmt.Fprintln(d.Stderr, "internal error: BackendFactory is nil")
			return 2
		}
		tags := append(datadog.ParseTagsCSV(cfg.DDTagsCSV), "tool:possync")
		backend, err := d.BackendFactory(ctx, "possync", tags, cfg.MetricsFlush)
		if err != nil {
			fmt.Fprintf(d.Stderr, "datadog backend init failed: %v\n", err)
			return 2
		}
		metrics.SetBackend(backend)
		defer func() {
			_ = metrics.Flush()
			_ = backend.Close()
		}()
	}

	sink, err := d.SinkFactory(ctx, envCfg.Storage)
	if err != nil {
		fmt.Fprintf(d.Stderr, "storage init failed: %v\n", err)
		return 2
	}
	defer func() { _ = sink.Close() }()

	client := linisco.New(envCfg.VendorBaseURL,
		linisco.WithLogger(log),
		linisco.WithDebug(envCfg.Debug))

	runner := &pipeline.Runner{
		Client:    client,
		Sink:      sink,
		Range:     linisco.DateRange{From: cfg.FromDate, To: cfg.ToDate},
		LookupEnv: d.LookupEnv,
		Log:       log,
	}

	log.Info("sync starting",
		zap.String("from", cfg.FromDate),
		zap.String("to", cfg.ToDate),
		zap.Int("shops", len(shops)),
		zap.String("storage", envCfg.Storage.Kind))

	results, totals, err := runner.Run(ctx, shops)
	printSummary(d.Stdout, cfg, results, totals)
	if err != nil {
		fmt.Fprintf(d.Stderr, "run aborted: %v\n", err)
		return 1
	}

	_ = metrics.Flush()

	if anyFailed(results) {
		return 1
	}
	return 0
}

// parseFlags parses command arguments into a validated runConfig. The date
// window defaults to today, matching the nightly cron use case.
func parseFlags(args []string, now func() time.Time) (runConfig, error) {
	fs := flag.NewFlagSet("possync", flag.ContinueOnError)

	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)
	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}

	today := now().Format(rangeLayout)

	var cfg runConfig
	fs.StringVar(&cfg.FromDate, "from-date", today, "Window start, dd/mm/yyyy (inclusive)")
	fs.StringVar(&cfg.ToDate, "to-date", today, "Window end, dd/mm/yyyy (inclusive)")
	fs.StringVar(&cfg.ShopsCSV, "shops", "", "Shop keys to sync, CSV (default: all)")
	fs.StringVar(&cfg.ShopsConfig, "shops-config", "", "Path to a roster JSON file (default: built-in roster)")
	fs.BoolVar(&cfg.ListShops, "list-shops", false, "Print the roster and credential availability, then exit")
	fs.StringVar(&cfg.EnvFile, "env-file", ".env", "Path to a dotenv file (missing file is ignored)")
	fs.StringVar(&cfg.MetricsBackend, "metrics-backend", "none", "Metrics backend: datadog or none")
	fs.DurationVar(&cfg.MetricsFlush, "metrics-flush", time.Minute, "Metrics flush interval")
	fs.StringVar(&cfg.DDTagsCSV, "dd-tags", "", "Extra Datadog tags CSV (e.g. env:prod,service:possync)")
	fs.BoolVar(&cfg.Verbose, "v", false, "Verbose logging (same as DEBUG=1)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return runConfig{}, errors.New(usageBuf.String())
		}
		return runConfig{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}

	from, err := time.Parse(rangeLayout, cfg.FromDate)
	if err != nil {
		return runConfig{}, fmt.Errorf("-from-date %q is not dd/mm/yyyy", cfg.FromDate)
	}
	to, err := time.Parse(rangeLayout, cfg.ToDate)
	if err != nil {
		return runConfig{}, fmt.Errorf("-to-date %q is not dd/mm/yyyy", cfg.ToDate)
	}
	if to.Before(from) {
		return runConfig{}, fmt.Errorf("-to-date %s is before -from-date %s", cfg.ToDate, cfg.FromDate)
	}

	switch cfg.MetricsBackend {
	case "none", "datadog":
	default:
		return runConfig{}, fmt.Errorf("-metrics-backend must be datadog or none, got %q", cfg.MetricsBackend)
	}

	return cfg, nil
}

// buildRoster loads the roster from the flag, the environment, or the
// built-in default, in that order.
func buildRoster(cfg runConfig, lookup func(string) (string, bool)) (*registry.Registry, error) {
	path := cfg.ShopsConfig
	if path == "" {
		if v, ok := lookup(config.EnvShopsConfig); ok {
			path = strings.TrimSpace(v)
		}
	}
	if path != "" {
		return registry.Load(path)
	}
	return registry.New(registry.DefaultShops())
}

// listShops prints the roster and whether a credential is configured for
// each shop. No network traffic.
func listShops(w io.Writer, shops []registry.Shop, lookup func(string) (string, bool)) {
	for _, s := range shops {
		state := "missing"
		if cred, ok := credential.Resolve(lookup, s.CredentialEnvKey()); ok {
			state = "password"
			if cred.Kind() == credential.Structured {
				state = "payload"
			}
		}
		fmt.Fprintf(w, "%-4s %-6s %-24s %-28s credential=%s (%s)\n",
			s.Key, s.Code, s.Name, s.Email, state, s.CredentialEnvKey())
	}
}

// printSummary writes the per-shop outcome lines and the aggregate totals.
// It runs even when some shops failed: partial progress is the normal mode
// for this job.
func printSummary(w io.Writer, cfg runConfig, results []pipeline.ShopResult, totals pipeline.Counters) {
	fmt.Fprintf(w, "sync %s..%s\n", cfg.FromDate, cfg.ToDate)

	ok := 0
	for _, r := range results {
		switch r.Status {
		case pipeline.StatusNoCredentials:
			fmt.Fprintf(w, "  %s (%s): skipped, no credentials (%s)\n",
				r.Shop.Key, r.Shop.Name, r.Shop.CredentialEnvKey())
		case pipeline.StatusAuthFailed:
			fmt.Fprintf(w, "  %s (%s): sign-in failed: %v\n", r.Shop.Key, r.Shop.Name, r.AuthErr)
		default:
			ok++
			fmt.Fprintf(w, "  %s (%s): orders=%d products=%d sessions=%d\n",
				r.Shop.Key, r.Shop.Name, r.Loaded.Orders, r.Loaded.Products, r.Loaded.Sessions)
			for kind, err := range r.ResourceErrs {
				fmt.Fprintf(w, "    %s failed: %v\n", kind, err)
			}
		}
	}

	fmt.Fprintf(w, "total orders=%d products=%d sessions=%d rows=%d shops_ok=%d/%d\n",
		totals.Orders, totals.Products, totals.Sessions, totals.Total(), ok, len(results))
}

func anyFailed(results []pipeline.ShopResult) bool {
	for _, r := range results {
		if r.Status == pipeline.StatusAuthFailed || len(r.ResourceErrs) > 0 {
			return true
		}
	}
	return false
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
