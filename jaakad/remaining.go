/*
remaining.go - Outstanding-quantity computation

PURPOSE:
  The heart of the ledger: given what was initially loaned and every
  reconciling event recorded since, compute what is still owed per identity.

ALGORITHM:
  1. Aggregate initial items into a base map (identity -> quantity).
  2. Flatten all items across every event sequence; aggregate into consumed.
  3. remaining = max(0, base - consumed), per identity, weight and pieces
     independently.
  4. Emit a row only while something is still outstanding; fully consumed
     identities are dropped. The output is exactly "what is still owed".

DEFENSIVE CLAMPING:
  The service rejects over-consumption up front, but this calculator clamps
  at zero regardless, so an already-persisted inconsistency can never
  produce a negative outstanding balance. An identity appearing only in
  consumption and never in the initial loan is ignored: consumption cannot
  create a position.

PRECISION:
  Weights are decimals end to end. Client-supplied float strings can still
  carry dust, so a remaining weight within WeightEpsilon of zero is treated
  as zero rather than holding the entry open forever.
*/
package jaakad

import "github.com/shopspring/decimal"

// WeightEpsilon is the tolerance below which a remaining weight is
// considered fully consumed. Pieces are integers and compared exactly.
var WeightEpsilon = decimal.NewFromFloat(0.001)

// Remaining computes the outstanding quantity per identity after applying
// every supplied event sequence against the initial loan. Pure: calling it
// twice on the same history yields identical output.
func Remaining(initial []LineItem, eventLogs ...[]Event) []LineItem {
	base := Aggregate(initial)

	var consumedItems []LineItem
	for _, log := range eventLogs {
		for _, ev := range log {
			consumedItems = append(consumedItems, ev.Items...)
		}
	}
	consumed := Aggregate(consumedItems)

	remaining := make([]LineItem, 0, base.Len())
	for _, b := range base.Items() {
		c, _ := consumed.Get(b.Identity)

		remWeight := b.Weight.Sub(c.Weight)
		if remWeight.IsNegative() {
			remWeight = decimal.Zero
		}
		remPieces := b.Pieces - c.Pieces
		if remPieces < 0 {
			remPieces = 0
		}

		if weightSettled(remWeight) && remPieces == 0 {
			continue
		}
		if weightSettled(remWeight) {
			remWeight = decimal.Zero
		}
		remaining = append(remaining, LineItem{
			Identity: b.Identity,
			Label:    b.Label,
			Weight:   remWeight,
			Pieces:   remPieces,
		})
	}
	return remaining
}

// Outstanding returns the outstanding quantity for a single identity, or a
// zero line item when nothing remains.
func Outstanding(remaining []LineItem, id Identity) LineItem {
	for _, li := range remaining {
		if li.Identity == id {
			return li
		}
	}
	return LineItem{Identity: id, Weight: decimal.Zero}
}

// weightSettled reports whether a weight is zero within tolerance.
func weightSettled(w decimal.Decimal) bool {
	return w.Abs().LessThanOrEqual(WeightEpsilon)
}
