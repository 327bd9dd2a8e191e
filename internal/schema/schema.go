// Package schema declares the three vendor resources this pipeline moves and
// how each one is normalized and loaded.
//
// All per-resource knowledge (date columns, identity handling, upsert keys)
// lives in one static, testable table: one Resource entry per kind. Nothing
// downstream sniffs column names at runtime.
package schema

// Record is one row as produced by the vendor API (and, after normalization,
// as handed to the destination sink). The field set is whatever the vendor
// returns; this system does not own the vendor schema.
type Record map[string]any

// TimeLayout is the canonical local timestamp format written into every date
// column. No zone suffix: the destination stores local shop time.
const TimeLayout = "2006-01-02T15:04:05"

// Resource describes one vendor data category end to end: where to fetch it,
// where to load it, and the per-resource normalization rules.
type Resource struct {
	// Kind is the stable name used in logs, counters, and metrics tags.
	Kind string

	// Path is the vendor API path, relative to the base host.
	Path string

	// Table is the destination table name.
	Table string

	// ConflictKey is the natural key used for upsert. Empty means the
	// resource is loaded with a plain insert: the destination assigns its
	// own identity and reruns over the same range produce duplicates.
	ConflictKey string

	// TagShopNumber injects shopNumber (the shop's external code) in
	// addition to shopName.
	TagShopNumber bool

	// DropID removes a vendor field literally named "id" before load,
	// because the destination generates its own identity for this table.
	DropID bool

	// DateColumns are the vendor columns rewritten to TimeLayout.
	DateColumns []string
}

var (
	// SaleOrders keep their natural key, so loads are idempotent upserts.
	SaleOrders = Resource{
		Kind:          "sale_orders",
		Path:          "sale_orders",
		Table:         "sale_orders",
		ConflictKey:   "idSaleOrder",
		TagShopNumber: true,
		DateColumns:   []string{"orderDate"},
	}

	// SaleProducts have no stable natural key in this integration.
	SaleProducts = Resource{
		Kind:   "sale_products",
		Path:   "sale_products",
		Table:  "sale_products",
		DropID: true,
	}

	// PosSessions are cash-register sessions; insert-only like products.
	PosSessions = Resource{
		Kind:        "psessions",
		Path:        "psessions",
		Table:       "psessions",
		DropID:      true,
		DateColumns: []string{"date", "openingDate", "closingDate"},
	}
)

// All returns the resources in load order: orders first, then products, then
// sessions.
func All() []Resource {
	return []Resource{SaleOrders, SaleProducts, PosSessions}
}
