/*
handlers.go - HTTP API handlers for the consignment ledger

PURPOSE:
  Exposes the jaakad ledger via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Jaakads:
    GET    /api/jaakads                List entries (filter by status/retailer)
    POST   /api/jaakads                Issue a new loan
    GET    /api/jaakads/{id}           Get entry with remaining quantity
    POST   /api/jaakads/{id}/returns   Record a return
    POST   /api/jaakads/{id}/convert   Convert outstanding quantity to a sale
    POST   /api/jaakads/{id}/forward   Carry outstanding quantity forward
    POST   /api/jaakads/{id}/close     Force-close

  Retailers:
    GET    /api/retailers              List registered retailers
    POST   /api/retailers              Register a retailer

  Stock:
    GET    /api/stock                  List catalog rows
    POST   /api/stock                  Create or replace a catalog row

  Settlements:
    GET    /api/settlements            List billing settlements

  Dev:
    POST   /api/dev/reset              Wipe and reseed (dev only)

REQUEST FLOW:
  1. Parse HTTP request
  2. Call domain logic (service, store)
  3. Serialize response
  4. Map domain errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, over-return
  - 404: Entry or retailer not found
  - 409: Terminal state, concurrent modification
  - 500: Storage errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - seed.go: Demo data loader
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/sarafbook/jaakad/jaakad"
	"github.com/sarafbook/jaakad/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *jaakad.Service
	Store   *sqlite.Store
	Billing jaakad.SettlementSink
}

// NewHandler creates a new handler.
func NewHandler(service *jaakad.Service, store *sqlite.Store, billing jaakad.SettlementSink) *Handler {
	return &Handler{Service: service, Store: store, Billing: billing}
}

// =============================================================================
// JAAKAD HANDLERS
// =============================================================================

// ListJaakads returns all entries, newest first. Supports ?status= and
// ?retailer_id= filters.
func (h *Handler) ListJaakads(w http.ResponseWriter, r *http.Request) {
	filter := jaakad.EntryFilter{}
	if s := r.URL.Query().Get("status"); s != "" {
		switch status := jaakad.Status(s); status {
		case jaakad.StatusOpen, jaakad.StatusPartiallyReturned, jaakad.StatusClosed, jaakad.StatusForwarded:
			filter.Status = status
		default:
			writeError(w, http.StatusBadRequest, "Invalid status", fmt.Errorf("unknown status %q", s))
			return
		}
	}
	if rid := r.URL.Query().Get("retailer_id"); rid != "" {
		id, err := strconv.Atoi(rid)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid retailer_id", err)
			return
		}
		filter.RetailerID = id
	}

	entries, err := h.Service.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, "Failed to list jaakads", err)
		return
	}

	dtos := make([]JaakadResponse, len(entries))
	for i, e := range entries {
		dtos[i] = JaakadResponse{
			Jaakad:    toJaakadDTO(e),
			Remaining: toItemDTOs(e.Remaining()),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetJaakad returns a single entry with its computed remaining quantity.
func (h *Handler) GetJaakad(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entry, remaining, err := h.Service.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get jaakad", err)
		return
	}

	writeJSON(w, http.StatusOK, JaakadResponse{
		Jaakad:    toJaakadDTO(entry),
		Remaining: toItemDTOs(remaining),
	})
}

// CreateJaakad issues a new loan to a retailer.
func (h *Handler) CreateJaakad(w http.ResponseWriter, r *http.Request) {
	var req CreateJaakadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Service.Create(r.Context(), req.RetailerID, req.Date, toItemInputs(req.Items))
	if err != nil {
		writeDomainError(w, "Failed to create jaakad", err)
		return
	}

	writeJSON(w, http.StatusCreated, JaakadResponse{
		Jaakad:    toJaakadDTO(entry),
		Remaining: toItemDTOs(entry.Remaining()),
	})
}

// RecordReturn records goods coming back from the retailer.
func (h *Handler) RecordReturn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, remaining, err := h.Service.RecordReturn(r.Context(), id, req.Date, toItemInputs(req.Items), req.Note)
	if err != nil {
		writeDomainError(w, "Failed to record return", err)
		return
	}

	writeJSON(w, http.StatusOK, JaakadResponse{
		Jaakad:    toJaakadDTO(entry),
		Remaining: toItemDTOs(remaining),
	})
}

// ConvertToSale converts outstanding quantity into a sale and closes the
// entry. An empty items list closes without a settlement.
func (h *Handler) ConvertToSale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, remaining, err := h.Service.ConvertToSale(r.Context(), id, req.Date, toItemInputs(req.Items))
	if err != nil {
		// The entry may have closed even when the billing hand-off failed.
		// A non-retryable error with a closed entry still reports success
		// would hide the billing gap, so surface the error regardless.
		writeDomainError(w, "Failed to convert jaakad", err)
		return
	}

	writeJSON(w, http.StatusOK, JaakadResponse{
		Jaakad:    toJaakadDTO(entry),
		Remaining: toItemDTOs(remaining),
	})
}

// CarryForward moves outstanding quantity onto a fresh entry and marks the
// source forwarded.
func (h *Handler) CarryForward(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	source, child, err := h.Service.CarryForward(r.Context(), id, req.Date, toItemInputs(req.Items))
	if err != nil {
		writeDomainError(w, "Failed to carry forward", err)
		return
	}

	writeJSON(w, http.StatusOK, CarryForwardResponse{
		Source: toJaakadDTO(source),
		Child:  toJaakadDTO(child),
	})
}

// ForceClose marks an entry closed regardless of remaining quantity.
func (h *Handler) ForceClose(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entry, err := h.Service.ForceClose(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to close jaakad", err)
		return
	}

	writeJSON(w, http.StatusOK, JaakadResponse{
		Jaakad:    toJaakadDTO(entry),
		Remaining: toItemDTOs(entry.Remaining()),
	})
}

// =============================================================================
// RETAILER HANDLERS
// =============================================================================

// ListRetailers returns all registered retailers.
func (h *Handler) ListRetailers(w http.ResponseWriter, r *http.Request) {
	retailers, err := h.Store.ListRetailers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list retailers", err)
		return
	}

	dtos := make([]RetailerDTO, len(retailers))
	for i, ret := range retailers {
		dtos[i] = RetailerDTO{RetailerID: ret.ID, Name: ret.Name, Phone: ret.Phone}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRetailer registers a counterparty and assigns the next numeric id.
func (h *Handler) CreateRetailer(w http.ResponseWriter, r *http.Request) {
	var req CreateRetailerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "Retailer name is required", nil)
		return
	}

	retailer, err := h.Store.CreateRetailer(r.Context(), strings.TrimSpace(req.Name), strings.TrimSpace(req.Phone))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create retailer", err)
		return
	}

	writeJSON(w, http.StatusCreated, RetailerDTO{
		RetailerID: retailer.ID,
		Name:       retailer.Name,
		Phone:      retailer.Phone,
	})
}

// =============================================================================
// STOCK HANDLERS
// =============================================================================

// ListStock returns all catalog rows.
func (h *Handler) ListStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.Store.ListStock(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list stock", err)
		return
	}

	dtos := make([]StockDTO, len(items))
	for i, it := range items {
		dtos[i] = StockDTO{
			StockID:  it.StockID,
			ItemName: it.Name,
			Weight:   it.Weight.InexactFloat64(),
			Pcs:      it.Pieces,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveStock creates or replaces a catalog row.
func (h *Handler) SaveStock(w http.ResponseWriter, r *http.Request) {
	var req StockDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.StockID) == "" || strings.TrimSpace(req.ItemName) == "" {
		writeError(w, http.StatusBadRequest, "stock_id and item_name are required", nil)
		return
	}

	item := sqlite.StockItem{
		StockID: strings.TrimSpace(req.StockID),
		Name:    strings.TrimSpace(req.ItemName),
		Weight:  decimal.NewFromFloat(req.Weight),
		Pieces:  req.Pcs,
	}
	if err := h.Store.SaveStock(r.Context(), item); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save stock", err)
		return
	}

	writeJSON(w, http.StatusCreated, req)
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// ListSettlements returns billing settlements, newest first.
func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	settlements, err := h.Store.ListSettlements(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list settlements", err)
		return
	}

	dtos := make([]SettlementDTO, len(settlements))
	for i, s := range settlements {
		dtos[i] = SettlementDTO{
			SettlementID: s.ID,
			JaakadID:     s.EntryID,
			EventID:      s.EventID,
			RetailerID:   s.RetailerID,
			Date:         s.Date,
			Items:        toItemDTOs(s.Items),
			RecordedAt:   s.RecordedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RedriveSettlements re-emits settlements for any conversion event on a
// jaakad that has no recorded settlement, for when the billing hand-off
// failed after the entry closed. Idempotent: events already settled are
// skipped, and the store keys settlements by conversion event.
func (h *Handler) RedriveSettlements(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entry, _, err := h.Service.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to load jaakad", err)
		return
	}

	recorded, err := h.Store.ListSettlementsForEntry(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list settlements", err)
		return
	}
	settled := make(map[string]bool, len(recorded))
	for _, s := range recorded {
		settled[s.EventID] = true
	}

	var emitted []SettlementDTO
	for _, ev := range entry.Conversions {
		if settled[ev.ID] {
			continue
		}
		s := jaakad.Settlement{
			ID:         jaakad.NewSettlementID(),
			EntryID:    entry.EntryID,
			EventID:    ev.ID,
			RetailerID: entry.RetailerID,
			Date:       ev.Date,
			Items:      ev.Items,
			RecordedAt: ev.RecordedAt,
		}
		if err := h.Billing.Record(r.Context(), s); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to re-drive settlement", err)
			return
		}
		emitted = append(emitted, SettlementDTO{
			SettlementID: s.ID,
			JaakadID:     s.EntryID,
			EventID:      s.EventID,
			RetailerID:   s.RetailerID,
			Date:         s.Date,
			Items:        toItemDTOs(s.Items),
			RecordedAt:   s.RecordedAt.Format(time.RFC3339),
		})
	}
	if emitted == nil {
		emitted = []SettlementDTO{}
	}
	writeJSON(w, http.StatusOK, emitted)
}

// =============================================================================
// HELPERS
// =============================================================================

// writeDomainError maps domain errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case jaakad.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case jaakad.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case jaakad.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
