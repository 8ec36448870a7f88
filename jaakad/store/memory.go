// Package store provides in-memory implementations of the jaakad
// persistence and collaborator interfaces, for tests and development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/sarafbook/jaakad/jaakad"
)

// =============================================================================
// MEMORY ENTRY STORE
// =============================================================================

// Memory is an in-memory jaakad.EntryStore. Entries are deep-copied on the
// way in and out so callers can't mutate stored state behind the version
// check.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*jaakad.Entry
	seq     int // insertion order, for newest-first listing
	order   map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*jaakad.Entry),
		order:   make(map[string]int),
	}
}

func (m *Memory) Insert(_ context.Context, e *jaakad.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(e)
}

func (m *Memory) insertLocked(e *jaakad.Entry) error {
	if _, exists := m.entries[e.EntryID]; exists {
		return &jaakad.StorageError{Op: "insert", Err: errDuplicateID(e.EntryID)}
	}
	m.seq++
	m.order[e.EntryID] = m.seq
	m.entries[e.EntryID] = copyEntry(e)
	return nil
}

func (m *Memory) Get(_ context.Context, entryID string) (*jaakad.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[entryID]
	if !ok {
		return nil, jaakad.ErrNotFound
	}
	return copyEntry(e), nil
}

func (m *Memory) List(_ context.Context, f jaakad.EntryFilter) ([]*jaakad.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*jaakad.Entry
	for _, e := range m.entries {
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.RetailerID != 0 && e.RetailerID != f.RetailerID {
			continue
		}
		out = append(out, copyEntry(e))
	}
	sort.Slice(out, func(i, j int) bool {
		return m.order[out[i].EntryID] > m.order[out[j].EntryID]
	})
	return out, nil
}

func (m *Memory) Update(_ context.Context, e *jaakad.Entry, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(e, expectedVersion)
}

func (m *Memory) updateLocked(e *jaakad.Entry, expectedVersion int) error {
	cur, ok := m.entries[e.EntryID]
	if !ok {
		return jaakad.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return jaakad.ErrConcurrentModification
	}
	stored := copyEntry(e)
	stored.Version = expectedVersion + 1
	m.entries[e.EntryID] = stored
	e.Version = stored.Version
	return nil
}

// Forward applies the child insert and the source update as one step; the
// single lock makes the pair atomic.
func (m *Memory) Forward(_ context.Context, source *jaakad.Entry, expectedVersion int, child *jaakad.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.insertLocked(child); err != nil {
		return err
	}
	if err := m.updateLocked(source, expectedVersion); err != nil {
		// roll the child back so a failed forward leaves no orphan
		delete(m.entries, child.EntryID)
		delete(m.order, child.EntryID)
		return err
	}
	return nil
}

func copyEntry(e *jaakad.Entry) *jaakad.Entry {
	c := *e
	c.InitialItems = append([]jaakad.LineItem{}, e.InitialItems...)
	c.Returns = copyEvents(e.Returns)
	c.Conversions = copyEvents(e.Conversions)
	c.Forwards = copyEvents(e.Forwards)
	return &c
}

func copyEvents(evs []jaakad.Event) []jaakad.Event {
	out := make([]jaakad.Event, len(evs))
	copy(out, evs)
	for i := range out {
		out[i].Items = append([]jaakad.LineItem{}, evs[i].Items...)
	}
	return out
}

type errDuplicateID string

func (e errDuplicateID) Error() string { return "duplicate entry id: " + string(e) }

// =============================================================================
// MEMORY COLLABORATORS
// =============================================================================

// Directory is an in-memory jaakad.RetailerDirectory.
type Directory struct {
	mu        sync.RWMutex
	retailers map[int]jaakad.Retailer
	nextID    int
}

func NewDirectory() *Directory {
	return &Directory{retailers: make(map[int]jaakad.Retailer)}
}

// Add registers a retailer and assigns the next numeric id.
func (d *Directory) Add(name, phone string) jaakad.Retailer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	r := jaakad.Retailer{ID: d.nextID, Name: name, Phone: phone}
	d.retailers[r.ID] = r
	return r
}

func (d *Directory) Lookup(_ context.Context, retailerID int) (*jaakad.Retailer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.retailers[retailerID]
	if !ok {
		return nil, jaakad.ErrRetailerNotFound
	}
	return &r, nil
}

// Catalog is an in-memory jaakad.StockCatalog.
type Catalog struct {
	mu     sync.RWMutex
	labels map[string]string
}

func NewCatalog() *Catalog {
	return &Catalog{labels: make(map[string]string)}
}

func (c *Catalog) Add(stockID, label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.labels[stockID] = label
}

func (c *Catalog) LookupStock(_ context.Context, stockID string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	label, ok := c.labels[stockID]
	return label, ok, nil
}

// Settlements is an in-memory jaakad.SettlementSink that records everything
// it receives, for asserting on in tests.
type Settlements struct {
	mu       sync.Mutex
	Recorded []jaakad.Settlement
	Fail     error // when set, Record returns this error
}

func NewSettlements() *Settlements {
	return &Settlements{}
}

func (s *Settlements) Record(_ context.Context, settlement jaakad.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	s.Recorded = append(s.Recorded, settlement)
	return nil
}
