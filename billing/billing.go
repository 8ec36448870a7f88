/*
Package billing is the settlement boundary between the consignment ledger
and the pricing side of the shop.

The ledger's responsibility ends at "this quantity is no longer
outstanding": when a jaakad is converted to a sale, the ledger hands the
settled line items here. The recorder persists the settlement and
decrements the stock catalog for every catalog-keyed item. Pricing (bill
arithmetic, fine balance) stays outside this repository.

Label-keyed items have no catalog row to decrement; their settlement is
recorded and the shelf adjustment is left to the operator, matching how
the shop handles off-catalog goods on paper.
*/
package billing

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/sarafbook/jaakad/jaakad"
)

// StockAdjuster is the slice of the stock store billing needs.
type StockAdjuster interface {
	DecrementStock(ctx context.Context, stockID string, weight decimal.Decimal, pieces int) error
}

// SettlementStore persists settlement records.
type SettlementStore interface {
	SaveSettlement(ctx context.Context, s jaakad.Settlement) error
}

// Recorder implements jaakad.SettlementSink over a settlement store and a
// stock adjuster.
type Recorder struct {
	settlements SettlementStore
	stock       StockAdjuster
}

// NewRecorder wires the billing boundary. stock may be nil when no catalog
// is in use; settlements are still recorded.
func NewRecorder(settlements SettlementStore, stock StockAdjuster) *Recorder {
	return &Recorder{settlements: settlements, stock: stock}
}

// Record persists the settlement, then adjusts stock for catalog-keyed
// items. The settlement row is the source of truth: if a stock decrement
// fails after it is written, the failure is surfaced for a retry but the
// settlement is not rolled back.
func (r *Recorder) Record(ctx context.Context, s jaakad.Settlement) error {
	if err := r.settlements.SaveSettlement(ctx, s); err != nil {
		return fmt.Errorf("save settlement %s: %w", s.ID, err)
	}

	if r.stock == nil {
		return nil
	}
	for _, item := range s.Items {
		stockID := item.StockID()
		if stockID == "" {
			continue
		}
		if err := r.stock.DecrementStock(ctx, stockID, item.Weight, item.Pieces); err != nil {
			if jaakad.IsClientError(err) || jaakad.IsNotFound(err) {
				// The ledger position was real even if the shelf count
				// drifted; flag it for the operator instead of failing the
				// settlement.
				log.Printf("billing: stock adjustment skipped for %s: %v", stockID, err)
				continue
			}
			return fmt.Errorf("decrement stock %s: %w", stockID, err)
		}
	}
	return nil
}
