/*
store.go - Persistence and collaborator interfaces

PURPOSE:
  Defines the boundary between the ledger and everything it talks to: the
  entry store, the retailer directory, the stock catalog, and the billing
  subsystem. The service depends only on these interfaces; implementations
  live in jaakad/store (memory) and store/sqlite (production).

APPEND-ONLY CONTRACT:
  Entries are created and updated, never deleted - there is deliberately no
  Delete method on EntryStore. "Update" only ever appends to the event logs
  and refreshes the derived status; the store does not enforce that shape,
  the service does.

CONCURRENCY:
  The entry is the unit of concurrency. Update and Forward take the version
  the caller read; a mismatch at write time returns
  ErrConcurrentModification so two writers can never both apply against the
  same stale remaining snapshot.
*/
package jaakad

import "context"

// EntryFilter narrows a List call. Zero values mean "no filter".
type EntryFilter struct {
	Status     Status
	RetailerID int
}

// EntryStore persists ledger entries.
type EntryStore interface {
	// Insert persists a brand-new entry. Fails if the entry id exists.
	Insert(ctx context.Context, e *Entry) error

	// Get returns the entry, or ErrNotFound.
	Get(ctx context.Context, entryID string) (*Entry, error)

	// List returns entries matching the filter, newest first.
	List(ctx context.Context, f EntryFilter) ([]*Entry, error)

	// Update persists a modified entry if its stored version still equals
	// expectedVersion, then bumps the version. Returns
	// ErrConcurrentModification on a mismatch and ErrNotFound if the entry
	// vanished (it never should; entries are permanent).
	Update(ctx context.Context, e *Entry, expectedVersion int) error

	// Forward atomically inserts the child entry and updates the source
	// (forward event appended, status forwarded) under the same version
	// check as Update. Both writes apply or neither does.
	Forward(ctx context.Context, source *Entry, expectedVersion int, child *Entry) error
}

// RetailerDirectory looks up counterparties at creation time. The ledger
// stores a snapshot and never re-queries.
type RetailerDirectory interface {
	// Lookup returns the retailer, or ErrRetailerNotFound.
	Lookup(ctx context.Context, retailerID int) (*Retailer, error)
}

// StockCatalog resolves line-item identities. Absence of a catalog entry is
// not an error: the ledger falls back to the caller-supplied label.
type StockCatalog interface {
	LookupStock(ctx context.Context, stockID string) (label string, ok bool, err error)
}

// SettlementSink receives the settled line items when outstanding quantity
// is converted to a sale. The sink (billing) prices them and adjusts stock;
// the ledger never computes price.
type SettlementSink interface {
	Record(ctx context.Context, s Settlement) error
}
