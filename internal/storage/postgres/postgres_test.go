package postgres

import (
	"testing"
)

func TestBuildWriteSQL_Insert(t *testing.T) {
	t.Parallel()

	got := buildWriteSQL("sale_products", []string{"product", "shopName"}, "", 2)
	want := `INSERT INTO "sale_products" ("product", "shopName") VALUES ($1, $2), ($3, $4)`
	if got != want {
		t.Fatalf("sql = %s\nwant %s", got, want)
	}
}

func TestBuildWriteSQL_Upsert(t *testing.T) {
	t.Parallel()

	got := buildWriteSQL("sale_orders", []string{"idSaleOrder", "orderDate", "total"}, "idSaleOrder", 1)
	want := `INSERT INTO "sale_orders" ("idSaleOrder", "orderDate", "total") VALUES ($1, $2, $3)` +
		` ON CONFLICT ("idSaleOrder") DO UPDATE SET "orderDate" = EXCLUDED."orderDate", "total" = EXCLUDED."total"`
	if got != want {
		t.Fatalf("sql = %s\nwant %s", got, want)
	}
}

func TestBuildWriteSQL_UpsertKeyOnlyFallsBackToDoNothing(t *testing.T) {
	t.Parallel()

	got := buildWriteSQL("t", []string{"k"}, "k", 1)
	want := `INSERT INTO "t" ("k") VALUES ($1) ON CONFLICT ("k") DO NOTHING`
	if got != want {
		t.Fatalf("sql = %s\nwant %s", got, want)
	}
}

func TestQuoteIdent(t *testing.T) {
	t.Parallel()

	if got := quoteIdent("idSaleOrder"); got != `"idSaleOrder"` {
		t.Fatalf("quoteIdent = %s", got)
	}
	if got := quoteIdent(`odd"name`); got != `"odd""name"` {
		t.Fatalf("quoteIdent = %s", got)
	}
}
