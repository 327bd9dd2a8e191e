package schema

import "testing"

func TestAll_OrderAndLoadRules(t *testing.T) {
	t.Parallel()

	all := All()
	if len(all) != 3 {
		t.Fatalf("expected 3 resources, got %d", len(all))
	}
	if all[0].Kind != "sale_orders" || all[1].Kind != "sale_products" || all[2].Kind != "psessions" {
		t.Fatalf("unexpected resource order: %v, %v, %v", all[0].Kind, all[1].Kind, all[2].Kind)
	}

	// Orders upsert on their natural key and never drop it.
	if SaleOrders.ConflictKey != "idSaleOrder" {
		t.Fatalf("orders conflict key = %q", SaleOrders.ConflictKey)
	}
	if SaleOrders.DropID {
		t.Fatalf("orders must keep their identity column")
	}
	if !SaleOrders.TagShopNumber {
		t.Fatalf("orders must be tagged with shopNumber")
	}

	// Products and sessions are insert-only and destination-identified.
	for _, r := range []Resource{SaleProducts, PosSessions} {
		if r.ConflictKey != "" {
			t.Fatalf("%s: expected plain insert, got conflict key %q", r.Kind, r.ConflictKey)
		}
		if !r.DropID {
			t.Fatalf("%s: expected DropID", r.Kind)
		}
		if r.TagShopNumber {
			t.Fatalf("%s: shopNumber is an orders-only tag", r.Kind)
		}
	}
}

func TestResource_DateColumns(t *testing.T) {
	t.Parallel()

	if got := SaleOrders.DateColumns; len(got) != 1 || got[0] != "orderDate" {
		t.Fatalf("orders date columns = %v", got)
	}
	if got := SaleProducts.DateColumns; len(got) != 0 {
		t.Fatalf("products date columns = %v", got)
	}
	want := []string{"date", "openingDate", "closingDate"}
	got := PosSessions.DateColumns
	if len(got) != len(want) {
		t.Fatalf("sessions date columns = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sessions date columns = %v, want %v", got, want)
		}
	}
}
