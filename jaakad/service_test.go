package jaakad_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarafbook/jaakad/jaakad"
	"github.com/sarafbook/jaakad/jaakad/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	svc         *jaakad.Service
	entries     *store.Memory
	directory   *store.Directory
	catalog     *store.Catalog
	settlements *store.Settlements
	retailer    jaakad.Retailer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		entries:     store.NewMemory(),
		directory:   store.NewDirectory(),
		catalog:     store.NewCatalog(),
		settlements: store.NewSettlements(),
	}
	f.retailer = f.directory.Add("Ramesh Jewellers", "9876543210")
	f.catalog.Add("s1", "Gold Chain")
	f.svc = jaakad.NewService(f.entries, f.directory, f.catalog, f.settlements)
	return f
}

func in(stockID, label string, weight float64, pieces int) jaakad.ItemInput {
	return jaakad.ItemInput{
		StockID: stockID,
		Label:   label,
		Weight:  decimal.NewFromFloat(weight),
		Pieces:  pieces,
	}
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_OpensEntryWithSnapshot(t *testing.T) {
	// GIVEN: a registered retailer and catalog item
	// WHEN: creating a jaakad for 100g / 10pcs of item A
	// THEN: the entry is open, remaining equals the full loan, and the
	//       retailer is snapshotted into the document (scenario A)
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.Create(ctx, f.retailer.ID, "2025-03-01", []jaakad.ItemInput{in("s1", "", 100, 10)})
	require.NoError(t, err)

	assert.Equal(t, jaakad.StatusOpen, entry.Status)
	assert.Equal(t, "Ramesh Jewellers", entry.RetailerName)
	assert.Equal(t, "Gold Chain", entry.InitialItems[0].Label, "label resolved from catalog")

	_, remaining, err := f.svc.Get(ctx, entry.EntryID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.True(t, remaining[0].Weight.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 10, remaining[0].Pieces)
}

func TestCreate_RejectsEmptyItems(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), f.retailer.ID, "", nil)

	assert.ErrorIs(t, err, jaakad.ErrValidation)
}

func TestCreate_RejectsZeroQuantityItem(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), f.retailer.ID, "", []jaakad.ItemInput{in("", "Ring", 0, 0)})

	assert.ErrorIs(t, err, jaakad.ErrValidation)
}

func TestCreate_UnknownRetailer(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), 999, "", []jaakad.ItemInput{in("s1", "", 10, 1)})

	assert.ErrorIs(t, err, jaakad.ErrRetailerNotFound)
}

func TestCreate_LabelFallbackWhenNotInCatalog(t *testing.T) {
	// Absence of a catalog entry is not an error: the caller's label and a
	// synthetic identity are used instead.
	f := newFixture(t)

	entry, err := f.svc.Create(context.Background(), f.retailer.ID, "", []jaakad.ItemInput{in("", "Payal", 12.5, 2)})
	require.NoError(t, err)

	assert.Equal(t, jaakad.LabelIdentity("Payal"), entry.InitialItems[0].Identity)
}

// =============================================================================
// RECORD RETURN
// =============================================================================

func TestRecordReturn_PartialThenFull(t *testing.T) {
	// Scenario B then C: a 40/4 return leaves 60/6 partially_returned;
	// a further 60/6 return empties the loan and closes it.
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.Create(ctx, f.retailer.ID, "2025-03-01", []jaakad.ItemInput{in("s1", "", 100, 10)})
	require.NoError(t, err)

	entry, remaining, err := f.svc.RecordReturn(ctx, entry.EntryID, "2025-03-05", []jaakad.ItemInput{in("s1", "", 40, 4)}, "first lot back")
	require.NoError(t, err)
	assert.Equal(t, jaakad.StatusPartiallyReturned, entry.Status)
	require.Len(t, remaining, 1)
	assert.True(t, remaining[0].Weight.Equal(decimal.NewFromInt(60)))
	assert.Equal(t, 6, remaining[0].Pieces)

	entry, remaining, err = f.svc.RecordReturn(ctx, entry.EntryID, "2025-03-20", []jaakad.ItemInput{in("s1", "", 60, 6)}, "")
	require.NoError(t, err)
	assert.Equal(t, jaakad.StatusClosed, entry.Status)
	assert.Empty(t, remaining)
}

func TestRecordReturn_OverReturnRejected(t *testing.T) {
	// Scenario D: returning 61g when only 60g is outstanding fails with a
	// validation error and appends nothing.
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.Create(ctx, f.retailer.ID, "", []jaakad.ItemInput{in("s1", "", 100, 10)})
	require.NoError(t, err)
	_, _, err = f.svc.RecordReturn(ctx, entry.EntryID, "", []jaakad.ItemInput{in("s1", "", 40, 4)}, "")
	require.NoError(t, err)

	_, _, err = f.svc.RecordReturn(ctx, entry.EntryID, "", []jaakad.ItemInput{in("s1", "", 61, 0)}, "")

	assert.ErrorIs(t, err, jaakad.ErrValidation)
	var over *jaakad.OverReturnError
	assert.ErrorAs(t, err, &over)

	after, _, err := f.svc.Get(ctx, entry.EntryID)
	require.NoError(t, err)
	assert.Len(t, after.Returns, 1, "rejected attempt must not be appended")
}

func TestRecordReturn_OverPiecesRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.Create(ctx, f.retailer.ID, "", []jaakad.ItemInput{in("s1", "", 100, 3)})
	require.NoError(t, err)

	_, _, err = f.svc.RecordReturn(ctx, entry.EntryID, "", []jaakad.ItemInput{in("s1", "", 10, 4)}, "")

	assert.ErrorIs(t, err, jaakad.ErrValidation)
}

func TestRecordReturn_UnknownEntry(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.RecordReturn(context.Background(), "J00000000-00000", "", []jaakad.ItemInput{in("s1", "", 1, 0)}, "")

	assert.ErrorIs(t, err, jaakad.ErrNotFound)
}

func TestRecordReturn_DuplicateItemsInOneRequestCollapsed(t *testing.T) {
	// Two rows for the same identity in one request count once, summed.
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.Create(ctx, f.retailer.ID, "", []jaakad.ItemInput{in("s1", "", 100, 10)})
	require.NoError(t, err)

	entry, remaining, err := f.svc.RecordReturn(ctx, entry.EntryID, "",
		[]jaakad.ItemInput{in("s1", "", 30, 3), in("s1", "", 20, 2)}, "")
	require.NoError(t, err)

	require.Len(t, entry.Returns[0].Items, 1)
	assert.True(t, remaining[0].Weight.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 5, remaining[0].Pieces)
}

// =============================================================================
// TERMINAL LOCK
// =============================================================================

func TestTerminalLock_AllMutationsRejected(t *testing.T) {
	// Once closed, return / convert / forward all fail with a terminal
	// state error and leave the entry untouched.
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.Create(ctx, f.retailer.ID, "", []jaakad.ItemInput{in("s1", "", 100, 10)})
	require.NoError(t, err)
	_, err = f.svc.ForceClose(ctx, entry.EntryID)
	require.NoError(t, err)

	_, _, err = f.svc.RecordReturn(ctx, entry.EntryID, "", []jaakad.ItemInput{in("s1", "", 1, 0)}, "")
	assert.ErrorIs(t, err, jaakad.ErrTerminalState)

	_, _, err = f.svc.ConvertToSale(ctx, entry.EntryID, "", []jaakad.ItemInput{in("s1", "", 1, 0)})
	assert.ErrorIs(t, err, jaakad.ErrTerminalState)

	_, _, err = f.svc.CarryForward(ctx, entry.EntryID, "", []jaakad.ItemInput{in("s1", "", 1, 0)})
	assert.ErrorIs(t, err, jaakad.ErrTerminalState)

	after, _, err := f.svc.Get(ctx, entry.EntryID)
	require.NoError(t, err)
	assert.Empty(t, after.Returns)
	assert.Empty(t, after.Conversions)
	assert.Empty(t, after.Forwards)
}

// =============================================================================
// CONVERT TO SALE
// =============================================================================

func TestConvertToSale_ClosesAndEmitsSettlement(t *testing.T) {
	// GIVEN: an open loan with 100/10 outstanding
	// WHEN: converting 70/7 to a sale
	// THEN: the entry is closed despite remaining quantity, and the billing
	//       sink receives exactly the converted items
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.Create(ctx, f.retailer.ID, "", []jaakad.ItemInput{in("s1", "", 100, 10)})
	require.NoError(t, err)

	entry, remaining, err := f.svc.ConvertToSale(ctx, entry.EntryID, "2025-04-01", []jaakad.ItemInput{in("s1", "", 70, 7)})
	require.NoError(t, err)

	assert.Equal(t, jaakad.StatusClosed, entry.Status)
	require.Len(t, remaining, 1, "unconverted quantity is still reported")
	assert.True(t, remaining[0].Weight.Equal(decimal.NewFromInt(30)))

	require.Len(t, f.settlements.Recorded, 1)
	s := f.settlements.Recorded[0]
	assert.Equal(t, entry.EntryID, s.EntryID)
	require.Len(t, entry.Conversions, 1)
	assert.Equal(t, entry.Conversions[0].ID, s.EventID, "settlement links to its conversion event")
	assert.Equal(t, f.retailer.ID, s.RetailerID)
	require.Len(t, s.Items, 1)
	assert.True(t, s.Items[0].Weight.Equal(decimal.NewFromInt(70)))
}

func TestConvertToSale_EmptyItems_DegradesToForceClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.Create(ctx, f.retailer.ID, "", []jaakad.ItemInput{in("s1", "", 100, 10)})
	require.NoError(t, err)

	entry, _, err = f.svc.ConvertToSale(ctx, entry.EntryID, "", nil)
	require.NoError(t, err)

	assert.Equal(t, jaakad.StatusClosed, entry.Status)
	assert.Empty(t, entry.Conversions, "no conversion event for an empty bill")
	assert.Empty(t, f.settlements.Recorded)
}

func TestConvertToSale_SinkFailureSurfacedButEntryStaysClosed(t *testing.T) {
	f := newFixture(t)
	f.settlements.Fail = assert.AnError
	ctx := context.Background()

	entry, err := f.svc.Create(ctx, f.retailer.ID, "", []jaakad.ItemInput{in("s1", "", 100, 10)})
	require.NoError(t, err)

	_, _, err = f.svc.ConvertToSale(ctx, entry.EntryID, "", []jaakad.ItemInput{in("s1", "", 100, 10)})
	assert.ErrorIs(t, err, jaakad.ErrStorage)

	after, _, err := f.svc.Get(ctx, entry.EntryID)
	require.NoError(t, err)
	assert.Equal(t, jaakad.StatusClosed, after.Status, "billing re-drives from the entry, not vice versa")
}

// =============================================================================
// CARRY FORWARD
// =============================================================================

func TestCarryForward_CreatesChildAndLocksSource(t *testing.T) {
	// Scenario E: forwarding the 30/3 remainder opens a child loan with that
	// balance, the source becomes forwarded, and a retry fails rather than
	// minting a second child.
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.Create(ctx, f.retailer.ID, "", []jaakad.ItemInput{in("", "Bangle", 30, 3)})
	require.NoError(t, err)

	source, child, err := f.svc.CarryForward(ctx, entry.EntryID, "2025-05-01", []jaakad.ItemInput{in("", "Bangle", 30, 3)})
	require.NoError(t, err)

	assert.Equal(t, jaakad.StatusForwarded, source.Status)
	assert.Equal(t, jaakad.StatusOpen, child.Status)
	assert.Equal(t, source.RetailerName, child.RetailerName, "counterparty snapshot carries over")
	require.Len(t, source.Forwards, 1)
	assert.Equal(t, child.EntryID, source.Forwards[0].ChildID)

	// The child is a real, fetchable entry with the forwarded balance.
	got, remaining, err := f.svc.Get(ctx, child.EntryID)
	require.NoError(t, err)
	assert.Equal(t, jaakad.StatusOpen, got.Status)
	require.Len(t, remaining, 1)
	assert.Equal(t, 3, remaining[0].Pieces)

	// Retry: terminal, not a duplicate child.
	_, _, err = f.svc.CarryForward(ctx, entry.EntryID, "", []jaakad.ItemInput{in("", "Bangle", 30, 3)})
	assert.ErrorIs(t, err, jaakad.ErrTerminalState)

	all, err := f.svc.List(ctx, jaakad.EntryFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2, "exactly one child exists")
}

func TestCarryForward_OverForwardRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.Create(ctx, f.retailer.ID, "", []jaakad.ItemInput{in("s1", "", 50, 5)})
	require.NoError(t, err)

	_, _, err = f.svc.CarryForward(ctx, entry.EntryID, "", []jaakad.ItemInput{in("s1", "", 80, 5)})

	assert.ErrorIs(t, err, jaakad.ErrValidation)
}

// =============================================================================
// FORCE CLOSE
// =============================================================================

func TestForceClose_PermanentAndIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.Create(ctx, f.retailer.ID, "", []jaakad.ItemInput{in("s1", "", 100, 10)})
	require.NoError(t, err)

	closed, err := f.svc.ForceClose(ctx, entry.EntryID)
	require.NoError(t, err)
	assert.Equal(t, jaakad.StatusClosed, closed.Status)

	// Closing again is a no-op, not an error.
	again, err := f.svc.ForceClose(ctx, entry.EntryID)
	require.NoError(t, err)
	assert.Equal(t, jaakad.StatusClosed, again.Status)

	// The bypass outlives re-derivation even with quantity outstanding.
	jaakad.Recompute(closed)
	assert.Equal(t, jaakad.StatusClosed, closed.Status)
}

func TestForceClose_ForwardedCannotBeRelabeled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.Create(ctx, f.retailer.ID, "", []jaakad.ItemInput{in("s1", "", 10, 1)})
	require.NoError(t, err)
	_, _, err = f.svc.CarryForward(ctx, entry.EntryID, "", []jaakad.ItemInput{in("s1", "", 10, 1)})
	require.NoError(t, err)

	_, err = f.svc.ForceClose(ctx, entry.EntryID)

	assert.ErrorIs(t, err, jaakad.ErrTerminalState)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestList_FiltersByStatusAndRetailer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := f.directory.Add("Sharma & Sons", "9998887770")

	a, err := f.svc.Create(ctx, f.retailer.ID, "", []jaakad.ItemInput{in("s1", "", 10, 1)})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, other.ID, "", []jaakad.ItemInput{in("s1", "", 20, 2)})
	require.NoError(t, err)
	_, err = f.svc.ForceClose(ctx, a.EntryID)
	require.NoError(t, err)

	open, err := f.svc.List(ctx, jaakad.EntryFilter{Status: jaakad.StatusOpen})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, other.ID, open[0].RetailerID)

	byRetailer, err := f.svc.List(ctx, jaakad.EntryFilter{RetailerID: f.retailer.ID})
	require.NoError(t, err)
	require.Len(t, byRetailer, 1)
	assert.Equal(t, a.EntryID, byRetailer[0].EntryID)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestConcurrentReturns_NeverOverConsume(t *testing.T) {
	// Two writers racing to return 60/6 each against 100/10 outstanding:
	// serialization means at most one succeeds in full; the history can
	// never jointly over-consume the position.
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.svc.Create(ctx, f.retailer.ID, "", []jaakad.ItemInput{in("s1", "", 100, 10)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = f.svc.RecordReturn(ctx, entry.EntryID, "", []jaakad.ItemInput{in("s1", "", 60, 6)}, "")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, jaakad.ErrValidation, "loser must fail validation, not corrupt state")
		}
	}
	assert.Equal(t, 1, succeeded)

	_, remaining, err := f.svc.Get(ctx, entry.EntryID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.True(t, remaining[0].Weight.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, 4, remaining[0].Pieces)
}
