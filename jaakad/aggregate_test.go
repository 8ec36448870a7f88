package jaakad_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/sarafbook/jaakad/jaakad"
)

// =============================================================================
// TEST HELPERS (shared across the package tests)
// =============================================================================

func item(stockID, label string, weight float64, pieces int) jaakad.LineItem {
	return jaakad.NewLineItem(stockID, label, decimal.NewFromFloat(weight), pieces)
}

func weightEq(t *testing.T, want float64, got decimal.Decimal) {
	t.Helper()
	if !got.Equal(decimal.NewFromFloat(want)) {
		t.Fatalf("weight = %v, want %v", got, want)
	}
}

// =============================================================================
// AGGREGATOR TESTS
// =============================================================================

func TestAggregate_SumsByIdentity(t *testing.T) {
	totals := jaakad.Aggregate([]jaakad.LineItem{
		item("s1", "Chain", 10.5, 2),
		item("s1", "Chain", 4.5, 1),
		item("", "Ring", 2, 0),
	})

	if totals.Len() != 2 {
		t.Fatalf("expected 2 identities, got %d", totals.Len())
	}

	chain, ok := totals.Get(jaakad.CatalogIdentity("s1"))
	if !ok {
		t.Fatal("missing catalog identity s1")
	}
	weightEq(t, 15, chain.Weight)
	if chain.Pieces != 3 {
		t.Fatalf("pieces = %d, want 3", chain.Pieces)
	}

	ring, ok := totals.Get(jaakad.LabelIdentity("Ring"))
	if !ok {
		t.Fatal("missing label identity Ring")
	}
	weightEq(t, 2, ring.Weight)
}

func TestAggregate_EmptyInput(t *testing.T) {
	if got := jaakad.Aggregate(nil).Len(); got != 0 {
		t.Fatalf("expected empty totals, got %d identities", got)
	}
	if got := len(jaakad.Aggregate(nil).Items()); got != 0 {
		t.Fatalf("expected no items, got %d", got)
	}
}

func TestAggregate_FirstSeenOrder(t *testing.T) {
	// Iteration order must be deterministic: first appearance wins.
	totals := jaakad.Aggregate([]jaakad.LineItem{
		item("", "C", 1, 0),
		item("", "A", 1, 0),
		item("", "B", 1, 0),
		item("", "A", 1, 0),
	})

	var labels []string
	for _, li := range totals.Items() {
		labels = append(labels, li.Label)
	}
	want := []string{"C", "A", "B"}
	for i := range want {
		if labels[i] != want[i] {
			t.Fatalf("order = %v, want %v", labels, want)
		}
	}
}

func TestAggregate_CatalogAndLabelNeverCollide(t *testing.T) {
	// A catalog id that looks like a label must stay a distinct position.
	totals := jaakad.Aggregate([]jaakad.LineItem{
		item("Ring", "Heavy Ring", 5, 1),
		item("", "Ring", 3, 1),
	})
	if totals.Len() != 2 {
		t.Fatalf("catalog id and same-text label collided: %d identities", totals.Len())
	}
}
