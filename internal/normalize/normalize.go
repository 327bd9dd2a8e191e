// Package normalize reshapes raw vendor rows into destination-ready records.
//
// Transforms are pure and per-record: no I/O, no shared state, input order
// preserved. The set of transforms applied to a row is driven entirely by the
// resource's schema declaration.
package normalize

import (
	"math"
	"strings"
	"time"

	"possync/internal/registry"
	"possync/internal/schema"
)

// dateLayouts are the source formats the vendor has been observed emitting,
// tried in order. The canonical layout itself comes first so normalization
// is idempotent.
var dateLayouts = []string{
	schema.TimeLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
}

// Rows normalizes a batch of raw rows for one resource and shop. The input
// slice is not modified; output rows are fresh maps in input order.
func Rows(res schema.Resource, rows []schema.Record, shop registry.Shop) []schema.Record {
	out := make([]schema.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, Row(res, row, shop))
	}
	return out
}

// Row normalizes a single raw row:
//
//   - declared date columns are coerced to the canonical timestamp layout
//     (unparseable values become nil)
//   - non-representable numbers (NaN, ±Inf) become nil
//   - the shop name is stamped on every row, the shop number where the
//     resource declares it
//   - the vendor's own surrogate "id" is dropped where the resource says
//     the destination assigns its own
func Row(res schema.Resource, row schema.Record, shop registry.Shop) schema.Record {
	out := make(schema.Record, len(row)+2)
	for k, v := range row {
		if res.DropID && k == "id" {
			continue
		}
		out[k] = canonicalizeNull(v)
	}

	for _, col := range res.DateColumns {
		if v, ok := out[col]; ok {
			out[col] = coerceDate(v)
		}
	}

	out["shopName"] = shop.Name
	if res.TagShopNumber {
		out["shopNumber"] = shop.Code
	}
	return out
}

// coerceDate parses a raw date value and reformats it to schema.TimeLayout.
// Anything unparseable maps to nil rather than poisoning the load.
func coerceDate(v any) any {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(schema.TimeLayout)
		}
	}
	return nil
}

// canonicalizeNull maps float values with no JSON representation to nil.
// JSON decoding with UseNumber never produces these, but rows also arrive
// from in-process sources.
func canonicalizeNull(v any) any {
	switch f := v.(type) {
	case float64:
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
	case float32:
		f64 := float64(f)
		if math.IsNaN(f64) || math.IsInf(f64, 0) {
			return nil
		}
	}
	return v
}
