/*
aggregate.go - Summing line items by identity

PURPOSE:
  Collapses any sequence of line items into one net quantity per identity.
  Used to normalize an incoming event's items and to fold an entry's whole
  event history into net consumption.

DETERMINISM:
  Iteration order is first-seen identity order, so the same input always
  produces the same output sequence. Pure function, no error path: a line
  item always yields a key (catalog id, or label fallback).
*/
package jaakad

import "github.com/shopspring/decimal"

// Totals is an identity-keyed sum of line items that remembers first-seen
// order for deterministic iteration.
type Totals struct {
	byID  map[Identity]LineItem
	order []Identity
}

// Aggregate sums a sequence of line items by identity. Empty (or nil) input
// yields empty totals.
func Aggregate(items []LineItem) *Totals {
	t := &Totals{byID: make(map[Identity]LineItem, len(items))}
	for _, it := range items {
		t.add(it)
	}
	return t
}

func (t *Totals) add(it LineItem) {
	id := it.Identity
	if id.IsZero() {
		// Items deserialized from older documents may lack the identity
		// field; re-derive it from the stored columns.
		id = ItemIdentity("", it.Label)
	}
	cur, ok := t.byID[id]
	if !ok {
		t.order = append(t.order, id)
		cur = LineItem{Identity: id, Label: it.Label, Weight: decimal.Zero}
	}
	cur.Weight = cur.Weight.Add(it.Weight)
	cur.Pieces += it.Pieces
	if cur.Label == "" {
		cur.Label = it.Label
	}
	t.byID[id] = cur
}

// Get returns the summed quantity for an identity.
func (t *Totals) Get(id Identity) (LineItem, bool) {
	li, ok := t.byID[id]
	return li, ok
}

// Len returns the number of distinct identities.
func (t *Totals) Len() int {
	return len(t.order)
}

// Items returns the sums in first-seen identity order.
func (t *Totals) Items() []LineItem {
	out := make([]LineItem, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id])
	}
	return out
}
