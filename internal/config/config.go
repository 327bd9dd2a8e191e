// Package config assembles the process configuration from the environment.
//
// The CLI loads .env first (operators run this job from cron with a dotfile
// next to the binary), then reads everything through one explicit Config
// value. Nothing else in the module touches the environment for
// configuration.
package config

import (
	"fmt"
	"strings"

	"possync/internal/storage"
)

// Environment variable names.
const (
	EnvStorageKind = "STORAGE_KIND"
	EnvStorageDSN  = "STORAGE_DSN"
	EnvSupabaseURL = "SUPABASE_URL"
	EnvSupabaseKey = "SUPABASE_KEY"
	EnvBaseURL     = "LINISCO_BASE_URL"
	EnvShopsConfig = "SHOPS_CONFIG"
	EnvDebug       = "DEBUG"
)

// Config is the resolved process configuration.
type Config struct {
	// Storage selects and configures the destination backend.
	Storage storage.Config

	// VendorBaseURL overrides the production API endpoint. Empty selects
	// the default.
	VendorBaseURL string

	// ShopsConfigPath points at a roster file. Empty selects the built-in
	// roster.
	ShopsConfigPath string

	// Debug turns on request/response detail logging.
	Debug bool
}

// FromEnv builds a Config from the given lookup (os.LookupEnv in
// production). Validation errors accumulate so the operator sees every
// missing variable at once.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := Config{
		Storage: storage.Config{
			Kind:     get(EnvStorageKind),
			Endpoint: get(EnvSupabaseURL),
			Key:      get(EnvSupabaseKey),
			DSN:      get(EnvStorageDSN),
		},
		VendorBaseURL:   get(EnvBaseURL),
		ShopsConfigPath: get(EnvShopsConfig),
		Debug:           isTruthy(get(EnvDebug)),
	}
	if cfg.Storage.Kind == "" {
		cfg.Storage.Kind = "postgrest"
	}

	var missing []string
	switch cfg.Storage.Kind {
	case "postgrest":
		if cfg.Storage.Endpoint == "" {
			missing = append(missing, EnvSupabaseURL)
		}
		if cfg.Storage.Key == "" {
			missing = append(missing, EnvSupabaseKey)
		}
	default:
		if cfg.Storage.DSN == "" {
			missing = append(missing, EnvStorageDSN)
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}

// isTruthy matches the operator conventions for boolean flags.
func isTruthy(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
