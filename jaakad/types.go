/*
Package jaakad provides the core consignment ledger engine.

PURPOSE:
  A jaakad is a loan of physical inventory (weighed goods, counted pieces)
  to a retailer. This package tracks what is still outstanding on each loan
  across an open-ended sequence of partial returns, conversions to sale, and
  carry-forwards, and derives the loan's lifecycle status from that quantity.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identity: the key distinguishing one line-item position from another
  - LineItem: a quantity of one item (weight + pieces tracked independently)
  - Event: an immutable reconciliation record appended to an entry's history
  - Entry: the aggregate root for one loan
  - Status: the derived lifecycle state

DESIGN PRINCIPLES:
  1. Immutability: events are appended, never edited or removed
  2. Derived state: remaining and status are projections over the event
     history; the stored status is a cache, never ground truth
  3. Precision: weights use decimal.Decimal to avoid floating-point errors
  4. Identity safety: catalog ids and free-text labels are a tagged union,
     never concatenated strings

SEE ALSO:
  - aggregate.go: summing line items by identity
  - remaining.go: outstanding-quantity computation
  - status.go: lifecycle derivation
  - service.go: the four transitions
*/
package jaakad

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTITY - What makes two line items "the same" position
// =============================================================================

// IdentityKind tags how a line item is keyed.
type IdentityKind string

const (
	// IdentityCatalog keys by a stock catalog id.
	IdentityCatalog IdentityKind = "catalog"
	// IdentityLabel keys by the free-text item name (no catalog reference).
	IdentityLabel IdentityKind = "label"
)

// Identity is the key for one outstanding position within a loan.
// It is a tagged union so a catalog id can never collide with a label
// that happens to contain the same characters.
//
// Identity is comparable and safe to use as a map key.
type Identity struct {
	Kind IdentityKind `json:"kind"`
	Ref  string       `json:"ref"`
}

// CatalogIdentity keys a line item by its stock catalog id.
func CatalogIdentity(stockID string) Identity {
	return Identity{Kind: IdentityCatalog, Ref: stockID}
}

// LabelIdentity keys a line item by its item name.
func LabelIdentity(label string) Identity {
	return Identity{Kind: IdentityLabel, Ref: label}
}

// ItemIdentity resolves the identity for caller-supplied fields: the catalog
// id when present, otherwise a synthetic key derived from the label.
func ItemIdentity(stockID, label string) Identity {
	if stockID != "" {
		return CatalogIdentity(stockID)
	}
	return LabelIdentity(label)
}

// String renders the identity for logs and error messages.
func (id Identity) String() string {
	return string(id.Kind) + ":" + id.Ref
}

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool {
	return id.Kind == "" && id.Ref == ""
}

// =============================================================================
// LINE ITEM - A quantity of one item
// =============================================================================

// LineItem is a quantity of a single item. Weight and piece count are
// independent: an item can be fully returned by weight but not by count,
// or vice versa.
type LineItem struct {
	Identity Identity        `json:"identity"`
	Label    string          `json:"item_name"`
	Weight   decimal.Decimal `json:"weight"`
	Pieces   int             `json:"pcs"`
}

// NewLineItem builds a line item, resolving identity from stockID/label.
func NewLineItem(stockID, label string, weight decimal.Decimal, pieces int) LineItem {
	return LineItem{
		Identity: ItemIdentity(stockID, label),
		Label:    label,
		Weight:   weight,
		Pieces:   pieces,
	}
}

// StockID returns the catalog id, or "" for label-keyed items.
func (li LineItem) StockID() string {
	if li.Identity.Kind == IdentityCatalog {
		return li.Identity.Ref
	}
	return ""
}

// IsEmpty reports whether the item carries no quantity at all.
func (li LineItem) IsEmpty() bool {
	return !li.Weight.IsPositive() && li.Pieces <= 0
}

// =============================================================================
// EVENTS - Append-only reconciliation history
// =============================================================================

// EventKind distinguishes the three reconciling event logs.
type EventKind string

const (
	EventReturn     EventKind = "return"
	EventConversion EventKind = "conversion"
	EventForward    EventKind = "forward"
)

// Event is one immutable reconciliation record. Once appended to an entry
// it is never edited or removed; a correction is a new compensating event.
type Event struct {
	ID         string     `json:"event_id"`
	Date       string     `json:"date"` // YYYY-MM-DD, as supplied by the caller
	Items      []LineItem `json:"items"`
	Note       string     `json:"note,omitempty"`
	ChildID    string     `json:"child_id,omitempty"` // forward events only
	RecordedAt time.Time  `json:"recorded_at"`
}

// =============================================================================
// STATUS - Derived lifecycle state
// =============================================================================

type Status string

const (
	StatusOpen              Status = "open"
	StatusPartiallyReturned Status = "partially_returned"
	StatusClosed            Status = "closed"
	StatusForwarded         Status = "forwarded"
)

// IsTerminal reports whether the status admits no further mutation.
func (s Status) IsTerminal() bool {
	return s == StatusClosed || s == StatusForwarded
}

// =============================================================================
// ENTRY - Aggregate root for one loan
// =============================================================================

// Entry is one consignment loan, tracked from issuance to settlement.
//
// INVARIANTS:
//   - InitialItems is non-empty and immutable after creation.
//   - Returns/Conversions/Forwards are append-only.
//   - Status is a projection over the event history (see status.go); it is
//     recomputed on every write, never independently mutated except by
//     ForceClose.
//   - Entries are never deleted.
type Entry struct {
	EntryID string `json:"jaakad_id"`

	// Retailer snapshot at issuance. Deliberately not kept in sync with
	// later retailer edits: the loan document reflects issuance time.
	RetailerID    int    `json:"retailer_id"`
	RetailerName  string `json:"retailer_name"`
	RetailerPhone string `json:"retailer_phone"`

	IssuedDate   string     `json:"date"` // YYYY-MM-DD
	InitialItems []LineItem `json:"initial_items"`

	Returns     []Event `json:"returns"`
	Conversions []Event `json:"billed"`
	Forwards    []Event `json:"carryforwards"`

	Status Status `json:"status"`

	// Version supports optimistic concurrency at the store: two writers
	// racing on the same entry cannot both pass validation against a stale
	// remaining snapshot.
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EventLogs returns the three event sequences in a fixed order, for folding
// into net consumption.
func (e *Entry) EventLogs() [][]Event {
	return [][]Event{e.Returns, e.Conversions, e.Forwards}
}

// HasConsumption reports whether any reconciling event has been recorded.
func (e *Entry) HasConsumption() bool {
	return len(e.Returns) > 0 || len(e.Conversions) > 0 || len(e.Forwards) > 0
}

// Remaining computes the currently outstanding quantity per identity.
func (e *Entry) Remaining() []LineItem {
	return Remaining(e.InitialItems, e.EventLogs()...)
}

// =============================================================================
// COLLABORATOR SHAPES
// =============================================================================

// Retailer is the directory record snapshotted into an entry at creation.
type Retailer struct {
	ID    int    `json:"retailer_id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Settlement is the record handed to the billing subsystem when outstanding
// quantity is converted to a sale. The ledger's responsibility ends at "this
// quantity is no longer outstanding"; billing prices it and adjusts stock.
type Settlement struct {
	ID         string     `json:"settlement_id"`
	EntryID    string     `json:"jaakad_id"`
	EventID    string     `json:"event_id"` // conversion event that produced it
	RetailerID int        `json:"retailer_id"`
	Date       string     `json:"date"`
	Items      []LineItem `json:"items"`
	RecordedAt time.Time  `json:"recorded_at"`
}
