/*
seed.go - Demo data loader for testing and demonstrations

PURPOSE:

	Populates the database with realistic data for demos: a stock catalog,
	a few retailers, and jaakads in every lifecycle state so the frontend
	has something to show on first run.

HOW THE SEED WORKS:
 1. Reset database (clear all data)
 2. Insert stock catalog rows
 3. Register retailers
 4. Issue jaakads and drive them through returns / conversion / forward

USAGE VIA API:

	POST /api/dev/reset   Wipe the database
	POST /api/dev/seed    Wipe and load the demo data

NOTE:

	Both endpoints destroy existing data. Only use in development/demo
	environments.

SEE ALSO:
  - handlers.go: Ledger handlers
  - server.go: Route wiring
*/
package api

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/sarafbook/jaakad/jaakad"
	"github.com/sarafbook/jaakad/store/sqlite"
)

// ResetDatabase wipes all tables.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// LoadDemoData wipes the database and loads the demo data set.
func (h *Handler) LoadDemoData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	if err := h.loadDemoData(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load demo data", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "seeded"})
}

func (h *Handler) loadDemoData(ctx context.Context) error {
	// Stock catalog.
	stock := []sqlite.StockItem{
		{StockID: "GC-22K-01", Name: "Gold Chain 22K", Weight: decimal.NewFromInt(500), Pieces: 50},
		{StockID: "GB-22K-01", Name: "Gold Bangle 22K", Weight: decimal.NewFromInt(800), Pieces: 40},
		{StockID: "SR-92-01", Name: "Silver Ring 92.5", Weight: decimal.NewFromInt(300), Pieces: 120},
		{StockID: "GE-18K-01", Name: "Gold Earrings 18K", Weight: decimal.NewFromInt(250), Pieces: 60},
	}
	for _, item := range stock {
		if err := h.Store.SaveStock(ctx, item); err != nil {
			return err
		}
	}

	// Retailers.
	ramesh, err := h.Store.CreateRetailer(ctx, "Ramesh Jewellers", "+91 98200 11223")
	if err != nil {
		return err
	}
	sona, err := h.Store.CreateRetailer(ctx, "Sona Emporium", "+91 98111 44556")
	if err != nil {
		return err
	}
	if _, err := h.Store.CreateRetailer(ctx, "Karat House", ""); err != nil {
		return err
	}

	in := func(stockID, label string, weight float64, pcs int) jaakad.ItemInput {
		return jaakad.ItemInput{
			StockID: stockID,
			Label:   label,
			Weight:  decimal.NewFromFloat(weight),
			Pieces:  pcs,
		}
	}

	// An open jaakad with nothing returned yet.
	if _, err := h.Service.Create(ctx, ramesh.ID, "", []jaakad.ItemInput{
		in("GC-22K-01", "", 120.5, 12),
		in("GB-22K-01", "", 96, 6),
	}); err != nil {
		return err
	}

	// A partially returned jaakad.
	partial, err := h.Service.Create(ctx, ramesh.ID, "", []jaakad.ItemInput{
		in("GC-22K-01", "", 100, 10),
	})
	if err != nil {
		return err
	}
	if _, _, err := h.Service.RecordReturn(ctx, partial.EntryID, "", []jaakad.ItemInput{
		in("GC-22K-01", "", 40, 4),
	}, "first settlement visit"); err != nil {
		return err
	}

	// A jaakad closed by converting the remainder to a sale.
	sold, err := h.Service.Create(ctx, sona.ID, "", []jaakad.ItemInput{
		in("SR-92-01", "", 60, 20),
	})
	if err != nil {
		return err
	}
	if _, _, err := h.Service.RecordReturn(ctx, sold.EntryID, "", []jaakad.ItemInput{
		in("SR-92-01", "", 30, 10),
	}, ""); err != nil {
		return err
	}
	if _, _, err := h.Service.ConvertToSale(ctx, sold.EntryID, "", []jaakad.ItemInput{
		in("SR-92-01", "", 30, 10),
	}); err != nil {
		return err
	}

	// A forwarded jaakad with its open child.
	forwarded, err := h.Service.Create(ctx, sona.ID, "", []jaakad.ItemInput{
		in("GE-18K-01", "", 50, 12),
		{Label: "Custom Pendant", Weight: decimal.NewFromFloat(18.25), Pieces: 1},
	})
	if err != nil {
		return err
	}
	if _, _, err := h.Service.CarryForward(ctx, forwarded.EntryID, "", []jaakad.ItemInput{
		in("GE-18K-01", "", 50, 12),
		{Label: "Custom Pendant", Weight: decimal.NewFromFloat(18.25), Pieces: 1},
	}); err != nil {
		return err
	}

	return nil
}
