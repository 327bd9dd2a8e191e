// Package registry loads the shop roster: the static list of point-of-sale
// locations this pipeline can extract from.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
)

// Shop is one physical point-of-sale location. Immutable for the run.
type Shop struct {
	// Key is the short unique code used to select shops and to derive the
	// credential variable name (LINISCO_<Key>).
	Key string `json:"key"`

	// Code is the shop's external numeric code at the vendor.
	Code string `json:"code"`

	// Name is the display name injected into every loaded record.
	Name string `json:"name"`

	// Email is the vendor login email for this shop.
	Email string `json:"email"`
}

// CredentialEnvKey returns the environment variable holding this shop's
// credential.
func (s Shop) CredentialEnvKey() string {
	return "LINISCO_" + s.Key
}

// Registry is an ordered shop roster. Order matters: shops are processed in
// roster order and Filter preserves it.
type Registry struct {
	shops []Shop
	byKey map[string]int
}

// rosterFile matches the on-disk shops_config.json shape.
type rosterFile struct {
	Shops []Shop `json:"shops"`
}

// DefaultShops is the built-in roster, used when no roster file is
// configured. Keep in sync with the fleet.
func DefaultShops() []Shop {
	return []Shop{
		{Key: "SC", Code: "66220", Name: "Subway Corrientes", Email: "66220@linisco.com.ar"},
		{Key: "SL", Code: "63953", Name: "Subway Lacroze", Email: "63953@linisco.com.ar"},
		{Key: "SO", Code: "72267", Name: "Subway Ortiz", Email: "72267@linisco.com.ar"},
		{Key: "DO", Code: "10019", Name: "Daniel Ortiz", Email: "10019@linisco.com.ar"},
		{Key: "DL", Code: "30036", Name: "Daniel Lacroze", Email: "30036@linisco.com.ar"},
		{Key: "DC", Code: "30038", Name: "Daniel Corrientes", Email: "30038@linisco.com.ar"},
		{Key: "SE", Code: "10020", Name: "Seitu Juramento", Email: "10020@linisco.com.ar"},
		{Key: "SJ", Code: "75248", Name: "Subway Juramento", Email: "75248@linisco.com.ar"},
	}
}

// New builds a registry from an explicit shop list, preserving order.
// Duplicate keys are an error: shop selection would be ambiguous.
func New(shops []Shop) (*Registry, error) {
	byKey := make(map[string]int, len(shops))
	for i, s := range shops {
		if s.Key == "" {
			return nil, fmt.Errorf("registry: shop %d has an empty key", i)
		}
		if _, dup := byKey[s.Key]; dup {
			return nil, fmt.Errorf("registry: duplicate shop key %q", s.Key)
		}
		byKey[s.Key] = i
	}
	return &Registry{shops: shops, byKey: byKey}, nil
}

// Load reads a roster file. A missing file is a configuration error; the
// caller reports it and continues with an empty roster rather than crashing.
func Load(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("registry: open roster %s: %w", path, err)
	}
	defer f.Close()

	var rf rosterFile
	if err := json.NewDecoder(f).Decode(&rf); err != nil {
		return nil, fmt.Errorf("registry: decode roster %s: %w", path, err)
	}
	return New(rf.Shops)
}

// All returns the shops in roster order. Callers must not mutate the slice.
func (r *Registry) All() []Shop {
	return r.shops
}

// Len returns the number of configured shops.
func (r *Registry) Len() int {
	return len(r.shops)
}

// Get looks up one shop by key.
func (r *Registry) Get(key string) (Shop, bool) {
	i, ok := r.byKey[key]
	if !ok {
		return Shop{}, false
	}
	return r.shops[i], true
}

// Filter returns the shops whose keys appear in keys, in roster order (not
// argument order), plus the keys that matched nothing. An empty keys slice
// selects the whole roster.
func (r *Registry) Filter(keys []string) (selected []Shop, unknown []string) {
	if len(keys) == 0 {
		return r.shops, nil
	}

	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		if _, ok := r.byKey[k]; !ok {
			unknown = append(unknown, k)
			continue
		}
		want[k] = true
	}

	for _, s := range r.shops {
		if want[s.Key] {
			selected = append(selected, s)
		}
	}
	return selected, unknown
}
