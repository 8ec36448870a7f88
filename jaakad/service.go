/*
service.go - The ledger service and its four lifecycle transitions

PURPOSE:
  Orchestrates create, record-return, convert-to-sale, and carry-forward
  (plus terminal force-close) over the pure calculators and the entry store.

TRANSITION SHAPE:
  Every mutating transition follows the same sequence:
    1. Lock the entry (per-entry serialization)
    2. Load and guard against terminal state
    3. Normalize and validate the incoming items against the current
       outstanding quantity
    4. Append the immutable event
    5. Re-derive remaining and status from the full history
    6. Persist with an optimistic version check

  The stored status is always a projection of step 5, never independently
  mutated - except by ForceClose and the forward transition, which set a
  terminal state explicitly.

CONCURRENCY:
  Transitions against different entries proceed in parallel. Transitions
  against the same entry are serialized by a per-entry mutex; the store's
  version check is the backstop if a second process writes concurrently.
*/
package jaakad

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ItemInput is a caller-supplied line item before identity resolution.
type ItemInput struct {
	StockID string
	Label   string
	Weight  decimal.Decimal
	Pieces  int
}

// Service is the consignment ledger.
type Service struct {
	entries   EntryStore
	retailers RetailerDirectory
	stock     StockCatalog
	billing   SettlementSink

	mu    sync.Mutex
	locks map[string]*entryLock

	now func() time.Time
}

// entryLock is a per-entry mutex with a reference count so the lock map can
// be pruned when the last holder or waiter for an id releases it.
type entryLock struct {
	mu   sync.Mutex
	refs int
}

// NewService wires the ledger to its store and collaborators. stock and
// billing may be nil: without a catalog every item is label-keyed, and
// without a billing sink conversions settle silently.
func NewService(entries EntryStore, retailers RetailerDirectory, stock StockCatalog, billing SettlementSink) *Service {
	return &Service{
		entries:   entries,
		retailers: retailers,
		stock:     stock,
		billing:   billing,
		locks:     make(map[string]*entryLock),
		now:       time.Now,
	}
}

// lockEntry serializes writers on one entry id. The returned func releases
// the lock and drops it from the map once no other writer is holding or
// waiting on the same id, so the map stays bounded by in-flight transitions
// rather than growing with every entry ever touched.
func (s *Service) lockEntry(entryID string) func() {
	s.mu.Lock()
	l, ok := s.locks[entryID]
	if !ok {
		l = &entryLock{}
		s.locks[entryID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, entryID)
		}
		s.mu.Unlock()
	}
}

// =============================================================================
// CREATE
// =============================================================================

// Create issues a new loan to a retailer. The retailer record is snapshotted
// into the entry; later directory edits do not touch existing loans.
func (s *Service) Create(ctx context.Context, retailerID int, date string, items []ItemInput) (*Entry, error) {
	if retailerID <= 0 {
		return nil, &ValidationError{Field: "retailer_id", Message: "required"}
	}
	lineItems, err := s.normalizeItems(ctx, items)
	if err != nil {
		return nil, err
	}

	retailer, err := s.retailers.Lookup(ctx, retailerID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	entry := &Entry{
		EntryID:       NewEntryID(),
		RetailerID:    retailer.ID,
		RetailerName:  retailer.Name,
		RetailerPhone: retailer.Phone,
		IssuedDate:    s.orToday(date),
		InitialItems:  lineItems,
		Returns:       []Event{},
		Conversions:   []Event{},
		Forwards:      []Event{},
		Status:        StatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.entries.Insert(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// =============================================================================
// RECORD RETURN
// =============================================================================

// RecordReturn appends a physical-return event and re-derives the entry's
// remaining quantity and status. Returns the updated entry together with
// the freshly computed remaining.
func (s *Service) RecordReturn(ctx context.Context, entryID, date string, items []ItemInput, note string) (*Entry, []LineItem, error) {
	unlock := s.lockEntry(entryID)
	defer unlock()

	entry, err := s.loadMutable(ctx, entryID)
	if err != nil {
		return nil, nil, err
	}

	lineItems, err := s.normalizeItems(ctx, items)
	if err != nil {
		return nil, nil, err
	}
	if err := validateAgainstOutstanding(entry.Remaining(), lineItems); err != nil {
		return nil, nil, err
	}

	entry.Returns = append(entry.Returns, Event{
		ID:         NewReturnID(),
		Date:       s.orToday(date),
		Items:      lineItems,
		Note:       strings.TrimSpace(note),
		RecordedAt: s.now().UTC(),
	})

	remaining := entry.Remaining()
	entry.Status = DeriveStatus(remaining, entry.HasConsumption())
	entry.UpdatedAt = s.now().UTC()

	if err := s.entries.Update(ctx, entry, entry.Version); err != nil {
		return nil, nil, err
	}
	return entry, remaining, nil
}

// =============================================================================
// CONVERT TO SALE
// =============================================================================

// ConvertToSale marks quantity as sold rather than physically returned and
// settles the entry: the status is forced to closed even when some quantity
// remains unaccounted. With no items this degrades to a force-close with no
// conversion event and no settlement.
//
// The settlement record is emitted to the billing sink only after the entry
// write commits. A sink failure surfaces as a storage error, but the entry
// stays closed: billing re-drives from the recorded conversion event.
func (s *Service) ConvertToSale(ctx context.Context, entryID, date string, items []ItemInput) (*Entry, []LineItem, error) {
	unlock := s.lockEntry(entryID)
	defer unlock()

	entry, err := s.loadMutable(ctx, entryID)
	if err != nil {
		return nil, nil, err
	}

	var settlement *Settlement
	if len(items) > 0 {
		lineItems, err := s.normalizeItems(ctx, items)
		if err != nil {
			return nil, nil, err
		}
		if err := validateAgainstOutstanding(entry.Remaining(), lineItems); err != nil {
			return nil, nil, err
		}

		ev := Event{
			ID:         NewConversionID(),
			Date:       s.orToday(date),
			Items:      lineItems,
			RecordedAt: s.now().UTC(),
		}
		entry.Conversions = append(entry.Conversions, ev)
		settlement = &Settlement{
			ID:         NewSettlementID(),
			EntryID:    entry.EntryID,
			EventID:    ev.ID,
			RetailerID: entry.RetailerID,
			Date:       ev.Date,
			Items:      lineItems,
			RecordedAt: ev.RecordedAt,
		}
	}

	// Converting the remainder to a sale settles the entry by definition.
	entry.Status = StatusClosed
	entry.UpdatedAt = s.now().UTC()

	if err := s.entries.Update(ctx, entry, entry.Version); err != nil {
		return nil, nil, err
	}

	remaining := entry.Remaining()
	if settlement != nil && s.billing != nil {
		if err := s.billing.Record(ctx, *settlement); err != nil {
			return entry, remaining, &StorageError{Op: "record settlement", Err: err}
		}
	}
	return entry, remaining, nil
}

// =============================================================================
// CARRY FORWARD
// =============================================================================

// CarryForward closes a loan by re-issuing its unresolved balance as a new
// loan: a child entry is created with the forwarded items, a forward event
// referencing the child is appended to the source, and the source becomes
// forwarded. Both writes apply atomically at the store.
//
// Retrying against an already-forwarded source fails with a terminal-state
// error rather than creating a second child.
func (s *Service) CarryForward(ctx context.Context, entryID, date string, items []ItemInput) (source, child *Entry, err error) {
	unlock := s.lockEntry(entryID)
	defer unlock()

	entry, err := s.loadMutable(ctx, entryID)
	if err != nil {
		return nil, nil, err
	}
	// A forward event on a non-forwarded source means a previous attempt was
	// interrupted between writes; treat the source as already processed
	// rather than minting a second child.
	if len(entry.Forwards) > 0 {
		return nil, nil, &TerminalStateError{EntryID: entry.EntryID, Status: StatusForwarded}
	}

	lineItems, err := s.normalizeItems(ctx, items)
	if err != nil {
		return nil, nil, err
	}
	if err := validateAgainstOutstanding(entry.Remaining(), lineItems); err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	eventDate := s.orToday(date)

	child = &Entry{
		EntryID:       NewEntryID(),
		RetailerID:    entry.RetailerID,
		RetailerName:  entry.RetailerName,
		RetailerPhone: entry.RetailerPhone,
		IssuedDate:    eventDate,
		InitialItems:  lineItems,
		Returns:       []Event{},
		Conversions:   []Event{},
		Forwards:      []Event{},
		Status:        StatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	entry.Forwards = append(entry.Forwards, Event{
		ID:         NewForwardID(),
		Date:       eventDate,
		Items:      lineItems,
		ChildID:    child.EntryID,
		RecordedAt: now,
	})
	entry.Status = StatusForwarded
	entry.UpdatedAt = now

	if err := s.entries.Forward(ctx, entry, entry.Version, child); err != nil {
		return nil, nil, err
	}
	return entry, child, nil
}

// =============================================================================
// FORCE CLOSE
// =============================================================================

// ForceClose marks a loan settled regardless of remaining quantity, for when
// an operator writes off a negligible remainder. The close is permanent:
// status re-derivation never reopens a closed entry. Closing an already
// closed entry is a no-op; a forwarded entry cannot be re-labeled.
func (s *Service) ForceClose(ctx context.Context, entryID string) (*Entry, error) {
	unlock := s.lockEntry(entryID)
	defer unlock()

	entry, err := s.entries.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	switch entry.Status {
	case StatusClosed:
		return entry, nil
	case StatusForwarded:
		return nil, &TerminalStateError{EntryID: entry.EntryID, Status: entry.Status}
	}

	entry.Status = StatusClosed
	entry.UpdatedAt = s.now().UTC()
	if err := s.entries.Update(ctx, entry, entry.Version); err != nil {
		return nil, err
	}
	return entry, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Get fetches one entry together with its currently computed remaining.
func (s *Service) Get(ctx context.Context, entryID string) (*Entry, []LineItem, error) {
	entry, err := s.entries.Get(ctx, entryID)
	if err != nil {
		return nil, nil, err
	}
	return entry, entry.Remaining(), nil
}

// List returns entries filtered by status and/or retailer, newest first.
func (s *Service) List(ctx context.Context, f EntryFilter) ([]*Entry, error) {
	return s.entries.List(ctx, f)
}

// =============================================================================
// HELPERS
// =============================================================================

// loadMutable fetches an entry and rejects terminal states.
func (s *Service) loadMutable(ctx context.Context, entryID string) (*Entry, error) {
	entry, err := s.entries.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status.IsTerminal() {
		return nil, &TerminalStateError{EntryID: entry.EntryID, Status: entry.Status}
	}
	return entry, nil
}

// normalizeItems resolves identities (catalog id when known, label fallback),
// collapses duplicate identities within one request, and rejects empty or
// zero-quantity input.
func (s *Service) normalizeItems(ctx context.Context, items []ItemInput) ([]LineItem, error) {
	if len(items) == 0 {
		return nil, &ValidationError{Field: "items", Message: "required"}
	}

	raw := make([]LineItem, 0, len(items))
	for i, in := range items {
		label := strings.TrimSpace(in.Label)
		if in.StockID != "" && s.stock != nil {
			catalogLabel, ok, err := s.stock.LookupStock(ctx, in.StockID)
			if err != nil {
				return nil, &StorageError{Op: "stock lookup", Err: err}
			}
			if ok {
				label = catalogLabel
			}
		}
		if in.StockID == "" && label == "" {
			return nil, &ValidationError{
				Field:   fmt.Sprintf("items[%d]", i),
				Message: "item name required when no stock id is given",
			}
		}
		if in.Weight.IsNegative() || in.Pieces < 0 {
			return nil, &ValidationError{
				Field:   fmt.Sprintf("items[%d]", i),
				Message: "weight and pcs must not be negative",
			}
		}
		li := NewLineItem(in.StockID, label, in.Weight, in.Pieces)
		if li.IsEmpty() {
			return nil, &ValidationError{
				Field:   fmt.Sprintf("items[%d]", i),
				Message: "item must carry weight or pcs",
			}
		}
		raw = append(raw, li)
	}

	return Aggregate(raw).Items(), nil
}

// validateAgainstOutstanding rejects any item whose quantity exceeds the
// identity's current outstanding balance. The remaining calculator would
// clamp anyway; this check keeps client mistakes out of the history.
func validateAgainstOutstanding(remaining []LineItem, items []LineItem) error {
	for _, it := range items {
		out := Outstanding(remaining, it.Identity)
		if it.Weight.GreaterThan(out.Weight.Add(WeightEpsilon)) || it.Pieces > out.Pieces {
			return &OverReturnError{
				Identity:          it.Identity,
				Label:             it.Label,
				RequestedWeight:   it.Weight,
				RequestedPieces:   it.Pieces,
				OutstandingWeight: out.Weight,
				OutstandingPieces: out.Pieces,
			}
		}
	}
	return nil
}

// orToday defaults a blank date to today, matching the paper workflow where
// most documents are recorded same-day.
func (s *Service) orToday(date string) string {
	date = strings.TrimSpace(date)
	if date != "" {
		return date
	}
	return s.now().UTC().Format("2006-01-02")
}
