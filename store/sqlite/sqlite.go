/*
Package sqlite provides the SQLite-backed persistence layer.

PURPOSE:
  Implements jaakad.EntryStore, jaakad.RetailerDirectory and
  jaakad.StockCatalog, plus settlement storage for the billing boundary.
  The same patterns apply to PostgreSQL - only minor dialect differences.

DOCUMENT MODEL:
  A ledger entry's event logs are stored as JSON inside the entry row. The
  entry is the unit of consistency and of concurrency, so one row per entry
  (rather than one row per event) keeps every transition a single-row write
  guarded by one version column.

CONCURRENCY:
  Writes carry the version the caller read; UPDATE ... WHERE version = ?
  with a rows-affected check surfaces lost races as
  jaakad.ErrConcurrentModification. Carry-forward (child insert + source
  update) runs inside one SQL transaction so both writes apply or neither.

WAL MODE:
  SQLite is opened with WAL for better concurrency: multiple readers don't
  block, single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/jaakad.db")   // or ":memory:"
  if err != nil { ... }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool with versioned migrations.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/sarafbook/jaakad/jaakad"
)

// Store implements the persistence interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Ledger entries. One row per loan; event logs are JSON documents.
	-- There is intentionally no delete path for this table.
	CREATE TABLE IF NOT EXISTS entries (
		entry_id TEXT PRIMARY KEY,
		retailer_id INTEGER NOT NULL,
		retailer_name TEXT NOT NULL,
		retailer_phone TEXT,
		issued_date TEXT NOT NULL,
		initial_items_json TEXT NOT NULL,
		returns_json TEXT NOT NULL,
		conversions_json TEXT NOT NULL,
		forwards_json TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_retailer_status
		ON entries(retailer_id, status);
	CREATE INDEX IF NOT EXISTS idx_entries_created_at
		ON entries(created_at DESC);

	-- Retailer directory. Numeric ids continue the original sequence.
	CREATE TABLE IF NOT EXISTS retailers (
		retailer_id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT,
		created_at TEXT NOT NULL
	);

	-- Stock catalog. The ledger reads only the label; billing adjusts the
	-- quantities.
	CREATE TABLE IF NOT EXISTS stock (
		stock_id TEXT PRIMARY KEY,
		item_name TEXT NOT NULL,
		weight TEXT NOT NULL,
		pcs INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Settlements emitted by convert-to-sale, consumed by billing. One per
	-- conversion event, so a re-driven delivery cannot double-book.
	CREATE TABLE IF NOT EXISTS settlements (
		settlement_id TEXT PRIMARY KEY,
		entry_id TEXT NOT NULL,
		event_id TEXT NOT NULL UNIQUE,
		retailer_id INTEGER NOT NULL,
		date TEXT NOT NULL,
		items_json TEXT NOT NULL,
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_settlements_entry
		ON settlements(entry_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ENTRY STORE (jaakad.EntryStore interface)
// =============================================================================

// Insert persists a brand-new entry.
func (s *Store) Insert(ctx context.Context, e *jaakad.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertEntry(ctx, s.db, e)
}

func (s *Store) insertEntry(ctx context.Context, db execer, e *jaakad.Entry) error {
	initial, returns, conversions, forwards, err := marshalLogs(e)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO entries
		(entry_id, retailer_id, retailer_name, retailer_phone, issued_date,
		 initial_items_json, returns_json, conversions_json, forwards_json,
		 status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.ExecContext(ctx, query,
		e.EntryID,
		e.RetailerID,
		e.RetailerName,
		nullString(e.RetailerPhone),
		e.IssuedDate,
		initial, returns, conversions, forwards,
		string(e.Status),
		e.Version,
		e.CreatedAt.UTC().Format(time.RFC3339),
		e.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &jaakad.StorageError{Op: "insert entry", Err: fmt.Errorf("entry id %s already exists", e.EntryID)}
		}
		return &jaakad.StorageError{Op: "insert entry", Err: err}
	}
	return nil
}

// Get returns one entry by id.
func (s *Store) Get(ctx context.Context, entryID string) (*jaakad.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT entry_id, retailer_id, retailer_name, retailer_phone, issued_date,
		       initial_items_json, returns_json, conversions_json, forwards_json,
		       status, version, created_at, updated_at
		FROM entries WHERE entry_id = ?
	`, entryID)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, jaakad.ErrNotFound
	}
	if err != nil {
		return nil, &jaakad.StorageError{Op: "get entry", Err: err}
	}
	return e, nil
}

// List returns entries matching the filter, newest first.
func (s *Store) List(ctx context.Context, f jaakad.EntryFilter) ([]*jaakad.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT entry_id, retailer_id, retailer_name, retailer_phone, issued_date,
		       initial_items_json, returns_json, conversions_json, forwards_json,
		       status, version, created_at, updated_at
		FROM entries
	`
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.RetailerID != 0 {
		where = append(where, "retailer_id = ?")
		args = append(args, f.RetailerID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, entry_id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &jaakad.StorageError{Op: "list entries", Err: err}
	}
	defer rows.Close()

	var entries []*jaakad.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, &jaakad.StorageError{Op: "list entries", Err: err}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Update persists a modified entry under an optimistic version check.
func (s *Store) Update(ctx context.Context, e *jaakad.Entry, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateEntry(ctx, s.db, e, expectedVersion)
}

func (s *Store) updateEntry(ctx context.Context, db execer, e *jaakad.Entry, expectedVersion int) error {
	_, returns, conversions, forwards, err := marshalLogs(e)
	if err != nil {
		return err
	}

	// InitialItems are immutable after creation and deliberately not part
	// of this statement.
	res, err := db.ExecContext(ctx, `
		UPDATE entries
		SET returns_json = ?, conversions_json = ?, forwards_json = ?,
		    status = ?, version = version + 1, updated_at = ?
		WHERE entry_id = ? AND version = ?
	`,
		returns, conversions, forwards,
		string(e.Status),
		e.UpdatedAt.UTC().Format(time.RFC3339),
		e.EntryID, expectedVersion,
	)
	if err != nil {
		return &jaakad.StorageError{Op: "update entry", Err: err}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return &jaakad.StorageError{Op: "update entry", Err: err}
	}
	if n == 0 {
		// Distinguish "gone" from "raced": entries are never deleted, so a
		// missing row means a bad id, anything else is a version conflict.
		var exists int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries WHERE entry_id = ?", e.EntryID).Scan(&exists); err != nil {
			return &jaakad.StorageError{Op: "update entry", Err: err}
		}
		if exists == 0 {
			return jaakad.ErrNotFound
		}
		return jaakad.ErrConcurrentModification
	}

	e.Version = expectedVersion + 1
	return nil
}

// Forward atomically inserts the child entry and updates the source.
func (s *Store) Forward(ctx context.Context, source *jaakad.Entry, expectedVersion int, child *jaakad.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &jaakad.StorageError{Op: "forward", Err: err}
	}
	defer tx.Rollback()

	if err := s.insertEntry(ctx, tx, child); err != nil {
		return err
	}
	if err := s.updateEntry(ctx, tx, source, expectedVersion); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &jaakad.StorageError{Op: "forward", Err: err}
	}
	return nil
}

// =============================================================================
// RETAILER DIRECTORY (jaakad.RetailerDirectory interface)
// =============================================================================

// Lookup returns the retailer record for a counterparty id.
func (s *Store) Lookup(ctx context.Context, retailerID int) (*jaakad.Retailer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r jaakad.Retailer
	var phone sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT retailer_id, name, phone FROM retailers WHERE retailer_id = ?",
		retailerID,
	).Scan(&r.ID, &r.Name, &phone)
	if err == sql.ErrNoRows {
		return nil, jaakad.ErrRetailerNotFound
	}
	if err != nil {
		return nil, &jaakad.StorageError{Op: "lookup retailer", Err: err}
	}
	r.Phone = phone.String
	return &r, nil
}

// CreateRetailer registers a retailer under the next numeric id.
func (s *Store) CreateRetailer(ctx context.Context, name, phone string) (*jaakad.Retailer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxID sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(retailer_id) FROM retailers").Scan(&maxID); err != nil {
		return nil, &jaakad.StorageError{Op: "create retailer", Err: err}
	}

	r := &jaakad.Retailer{ID: int(maxID.Int64) + 1, Name: name, Phone: phone}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO retailers (retailer_id, name, phone, created_at) VALUES (?, ?, ?, ?)",
		r.ID, r.Name, nullString(r.Phone), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, &jaakad.StorageError{Op: "create retailer", Err: err}
	}
	return r, nil
}

// ListRetailers returns all retailers ordered by id.
func (s *Store) ListRetailers(ctx context.Context) ([]jaakad.Retailer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT retailer_id, name, phone FROM retailers ORDER BY retailer_id")
	if err != nil {
		return nil, &jaakad.StorageError{Op: "list retailers", Err: err}
	}
	defer rows.Close()

	var out []jaakad.Retailer
	for rows.Next() {
		var r jaakad.Retailer
		var phone sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &phone); err != nil {
			return nil, &jaakad.StorageError{Op: "list retailers", Err: err}
		}
		r.Phone = phone.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// STOCK CATALOG (jaakad.StockCatalog interface)
// =============================================================================

// StockItem is one catalog row.
type StockItem struct {
	StockID string          `json:"stock_id"`
	Name    string          `json:"item_name"`
	Weight  decimal.Decimal `json:"weight"`
	Pieces  int             `json:"pcs"`
}

// LookupStock resolves a stock id to its catalog label. Absence is not an
// error.
func (s *Store) LookupStock(ctx context.Context, stockID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var name string
	err := s.db.QueryRowContext(ctx, "SELECT item_name FROM stock WHERE stock_id = ?", stockID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, &jaakad.StorageError{Op: "lookup stock", Err: err}
	}
	return name, true, nil
}

// SaveStock inserts or replaces a catalog row.
func (s *Store) SaveStock(ctx context.Context, item StockItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock (stock_id, item_name, weight, pcs, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(stock_id) DO UPDATE SET item_name = excluded.item_name,
			weight = excluded.weight, pcs = excluded.pcs
	`, item.StockID, item.Name, item.Weight.String(), item.Pieces, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return &jaakad.StorageError{Op: "save stock", Err: err}
	}
	return nil
}

// GetStock returns one catalog row.
func (s *Store) GetStock(ctx context.Context, stockID string) (*StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var item StockItem
	var weight string
	err := s.db.QueryRowContext(ctx,
		"SELECT stock_id, item_name, weight, pcs FROM stock WHERE stock_id = ?", stockID,
	).Scan(&item.StockID, &item.Name, &weight, &item.Pieces)
	if err == sql.ErrNoRows {
		return nil, jaakad.ErrNotFound
	}
	if err != nil {
		return nil, &jaakad.StorageError{Op: "get stock", Err: err}
	}
	item.Weight = mustDecimal(weight)
	return &item, nil
}

// ListStock returns the whole catalog.
func (s *Store) ListStock(ctx context.Context) ([]StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT stock_id, item_name, weight, pcs FROM stock ORDER BY item_name")
	if err != nil {
		return nil, &jaakad.StorageError{Op: "list stock", Err: err}
	}
	defer rows.Close()

	var out []StockItem
	for rows.Next() {
		var item StockItem
		var weight string
		if err := rows.Scan(&item.StockID, &item.Name, &weight, &item.Pieces); err != nil {
			return nil, &jaakad.StorageError{Op: "list stock", Err: err}
		}
		item.Weight = mustDecimal(weight)
		out = append(out, item)
	}
	return out, rows.Err()
}

// DecrementStock subtracts sold quantity from a catalog row, rejecting
// decrements that would push either quantity below zero.
func (s *Store) DecrementStock(ctx context.Context, stockID string, weight decimal.Decimal, pieces int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var curWeight string
	var curPieces int
	err := s.db.QueryRowContext(ctx,
		"SELECT weight, pcs FROM stock WHERE stock_id = ?", stockID,
	).Scan(&curWeight, &curPieces)
	if err == sql.ErrNoRows {
		return jaakad.ErrNotFound
	}
	if err != nil {
		return &jaakad.StorageError{Op: "decrement stock", Err: err}
	}

	newWeight := mustDecimal(curWeight).Sub(weight)
	newPieces := curPieces - pieces
	if newWeight.IsNegative() || newPieces < 0 {
		return &jaakad.ValidationError{Field: "stock", Message: "not enough stock for " + stockID}
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE stock SET weight = ?, pcs = ? WHERE stock_id = ?",
		newWeight.String(), newPieces, stockID,
	)
	if err != nil {
		return &jaakad.StorageError{Op: "decrement stock", Err: err}
	}
	return nil
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

// SaveSettlement records a settlement row.
func (s *Store) SaveSettlement(ctx context.Context, settlement jaakad.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := json.Marshal(settlement.Items)
	if err != nil {
		return &jaakad.StorageError{Op: "save settlement", Err: err}
	}
	// One settlement per conversion event: a re-drive racing a slow first
	// delivery must not double-book the sale.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settlements (settlement_id, entry_id, event_id, retailer_id, date, items_json, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`,
		settlement.ID, settlement.EntryID, settlement.EventID, settlement.RetailerID,
		settlement.Date, string(items),
		settlement.RecordedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return &jaakad.StorageError{Op: "save settlement", Err: err}
	}
	return nil
}

// ListSettlements returns settlements, newest first.
func (s *Store) ListSettlements(ctx context.Context) ([]jaakad.Settlement, error) {
	return s.listSettlements(ctx, "", nil)
}

// ListSettlementsForEntry returns the settlements recorded for one entry.
func (s *Store) ListSettlementsForEntry(ctx context.Context, entryID string) ([]jaakad.Settlement, error) {
	return s.listSettlements(ctx, " WHERE entry_id = ?", []any{entryID})
}

func (s *Store) listSettlements(ctx context.Context, where string, args []any) ([]jaakad.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT settlement_id, entry_id, event_id, retailer_id, date, items_json, recorded_at
		FROM settlements`+where+` ORDER BY recorded_at DESC
	`, args...)
	if err != nil {
		return nil, &jaakad.StorageError{Op: "list settlements", Err: err}
	}
	defer rows.Close()

	var out []jaakad.Settlement
	for rows.Next() {
		var st jaakad.Settlement
		var itemsJSON, recordedAt string
		if err := rows.Scan(&st.ID, &st.EntryID, &st.EventID, &st.RetailerID, &st.Date, &itemsJSON, &recordedAt); err != nil {
			return nil, &jaakad.StorageError{Op: "list settlements", Err: err}
		}
		if err := json.Unmarshal([]byte(itemsJSON), &st.Items); err != nil {
			return nil, &jaakad.StorageError{Op: "list settlements", Err: err}
		}
		st.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
		out = append(out, st)
	}
	return out, rows.Err()
}

// =============================================================================
// DEV / DEMO
// =============================================================================

// Reset wipes every table. Development and demo use only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"entries", "retailers", "stock", "settlements"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return &jaakad.StorageError{Op: "reset", Err: err}
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// execer is the slice of *sql.DB / *sql.Tx the entry writers need. The
// existence probe in updateEntry must run on the same handle as the UPDATE:
// inside a transaction, going through s.db would draw a second pool
// connection, and with a plain ":memory:" DSN that connection is a brand-new
// empty database.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*jaakad.Entry, error) {
	var (
		e                                       jaakad.Entry
		phone                                   sql.NullString
		initial, returns, conversions, forwards string
		status, createdAt, updatedAt            string
	)
	err := row.Scan(
		&e.EntryID, &e.RetailerID, &e.RetailerName, &phone, &e.IssuedDate,
		&initial, &returns, &conversions, &forwards,
		&status, &e.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.RetailerPhone = phone.String
	e.Status = jaakad.Status(status)
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	if err := json.Unmarshal([]byte(initial), &e.InitialItems); err != nil {
		return nil, fmt.Errorf("failed to decode initial items: %w", err)
	}
	if err := json.Unmarshal([]byte(returns), &e.Returns); err != nil {
		return nil, fmt.Errorf("failed to decode returns: %w", err)
	}
	if err := json.Unmarshal([]byte(conversions), &e.Conversions); err != nil {
		return nil, fmt.Errorf("failed to decode conversions: %w", err)
	}
	if err := json.Unmarshal([]byte(forwards), &e.Forwards); err != nil {
		return nil, fmt.Errorf("failed to decode forwards: %w", err)
	}
	return &e, nil
}

func marshalLogs(e *jaakad.Entry) (initial, returns, conversions, forwards string, err error) {
	enc := func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	}
	if initial, err = enc(orEmptyItems(e.InitialItems)); err != nil {
		return
	}
	if returns, err = enc(orEmptyEvents(e.Returns)); err != nil {
		return
	}
	if conversions, err = enc(orEmptyEvents(e.Conversions)); err != nil {
		return
	}
	forwards, err = enc(orEmptyEvents(e.Forwards))
	return
}

// orEmptyItems keeps nil slices serializing as [] rather than null.
func orEmptyItems(items []jaakad.LineItem) []jaakad.LineItem {
	if items == nil {
		return []jaakad.LineItem{}
	}
	return items
}

func orEmptyEvents(evs []jaakad.Event) []jaakad.Event {
	if evs == nil {
		return []jaakad.Event{}
	}
	return evs
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
