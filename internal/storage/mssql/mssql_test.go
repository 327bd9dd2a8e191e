package mssql

import (
	"testing"
)

func TestBuildInsertSQL(t *testing.T) {
	t.Parallel()

	got := buildInsertSQL("sale_products", []string{"product", "shopName"})
	want := "INSERT INTO [sale_products] ([product], [shopName]) VALUES (@p1, @p2)"
	if got != want {
		t.Fatalf("sql = %s\nwant %s", got, want)
	}
}

func TestBuildMergeSQL(t *testing.T) {
	t.Parallel()

	got := buildMergeSQL("sale_orders", []string{"idSaleOrder", "total"}, "idSaleOrder")
	want := "MERGE [sale_orders] AS target USING (SELECT @p1 AS [idSaleOrder], @p2 AS [total]) AS source" +
		" ON target.[idSaleOrder] = source.[idSaleOrder]" +
		" WHEN MATCHED THEN UPDATE SET target.[total] = source.[total]" +
		" WHEN NOT MATCHED THEN INSERT ([idSaleOrder], [total]) VALUES (source.[idSaleOrder], source.[total]);"
	if got != want {
		t.Fatalf("sql = %s\nwant %s", got, want)
	}
}

func TestBuildMergeSQL_KeyOnly(t *testing.T) {
	t.Parallel()

	got := buildMergeSQL("t", []string{"k"}, "k")
	want := "MERGE [t] AS target USING (SELECT @p1 AS [k]) AS source ON target.[k] = source.[k]" +
		" WHEN NOT MATCHED THEN INSERT ([k]) VALUES (source.[k]);"
	if got != want {
		t.Fatalf("sql = %s\nwant %s", got, want)
	}
}

func TestQuoteIdent(t *testing.T) {
	t.Parallel()

	if got := quoteIdent("idSaleOrder"); got != "[idSaleOrder]" {
		t.Fatalf("quoteIdent = %s", got)
	}
	if got := quoteIdent("odd]name"); got != "[odd]]name]" {
		t.Fatalf("quoteIdent = %s", got)
	}
}
