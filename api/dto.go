/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the domain model from
  the wire contract. Weights travel as JSON numbers on the wire (the
  frontend does arithmetic display only); the domain keeps decimals.

NAMING CONVENTION:
  - *DTO: response types returned to clients
  - *Request: request body types from clients
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sarafbook/jaakad/jaakad"
)

// =============================================================================
// LINE ITEMS
// =============================================================================

// ItemDTO is one line item on the wire.
type ItemDTO struct {
	StockID  string  `json:"stock_id,omitempty"`
	ItemName string  `json:"item_name"`
	Weight   float64 `json:"weight"`
	Pcs      int     `json:"pcs"`
}

func toItemInputs(items []ItemDTO) []jaakad.ItemInput {
	out := make([]jaakad.ItemInput, len(items))
	for i, it := range items {
		out[i] = jaakad.ItemInput{
			StockID: it.StockID,
			Label:   it.ItemName,
			Weight:  decimal.NewFromFloat(it.Weight),
			Pieces:  it.Pcs,
		}
	}
	return out
}

func toItemDTOs(items []jaakad.LineItem) []ItemDTO {
	out := make([]ItemDTO, len(items))
	for i, it := range items {
		out[i] = ItemDTO{
			StockID:  it.StockID(),
			ItemName: it.Label,
			Weight:   it.Weight.InexactFloat64(),
			Pcs:      it.Pieces,
		}
	}
	return out
}

// =============================================================================
// JAAKAD ENTRIES
// =============================================================================

// EventDTO is one reconciliation record in a response.
type EventDTO struct {
	ID         string    `json:"event_id"`
	Date       string    `json:"date"`
	Items      []ItemDTO `json:"items"`
	Note       string    `json:"note,omitempty"`
	ChildID    string    `json:"child_id,omitempty"`
	RecordedAt string    `json:"recorded_at"`
}

// JaakadDTO is a full ledger entry in a response.
type JaakadDTO struct {
	JaakadID      string     `json:"jaakad_id"`
	RetailerID    int        `json:"retailer_id"`
	RetailerName  string     `json:"retailer_name"`
	RetailerPhone string     `json:"retailer_phone,omitempty"`
	Date          string     `json:"date"`
	InitialItems  []ItemDTO  `json:"initial_items"`
	Returns       []EventDTO `json:"returns"`
	Billed        []EventDTO `json:"billed"`
	Carryforwards []EventDTO `json:"carryforwards"`
	Status        string     `json:"status"`
	CreatedAt     string     `json:"created_at"`
	UpdatedAt     string     `json:"updated_at"`
}

// JaakadResponse pairs an entry with its computed remaining quantity.
type JaakadResponse struct {
	Jaakad    JaakadDTO `json:"jaakad"`
	Remaining []ItemDTO `json:"remaining"`
}

// CarryForwardResponse returns both sides of a forward.
type CarryForwardResponse struct {
	Source JaakadDTO `json:"jaakad"`
	Child  JaakadDTO `json:"new_jaakad"`
}

// CreateJaakadRequest issues a new loan.
type CreateJaakadRequest struct {
	RetailerID int       `json:"retailer_id"`
	Date       string    `json:"date"`
	Items      []ItemDTO `json:"items"`
}

// EventRequest carries items for a return / conversion / forward.
type EventRequest struct {
	Date  string    `json:"date"`
	Items []ItemDTO `json:"items"`
	Note  string    `json:"note,omitempty"`
}

func toEventDTOs(events []jaakad.Event) []EventDTO {
	out := make([]EventDTO, len(events))
	for i, ev := range events {
		out[i] = EventDTO{
			ID:         ev.ID,
			Date:       ev.Date,
			Items:      toItemDTOs(ev.Items),
			Note:       ev.Note,
			ChildID:    ev.ChildID,
			RecordedAt: ev.RecordedAt.Format(time.RFC3339),
		}
	}
	return out
}

func toJaakadDTO(e *jaakad.Entry) JaakadDTO {
	return JaakadDTO{
		JaakadID:      e.EntryID,
		RetailerID:    e.RetailerID,
		RetailerName:  e.RetailerName,
		RetailerPhone: e.RetailerPhone,
		Date:          e.IssuedDate,
		InitialItems:  toItemDTOs(e.InitialItems),
		Returns:       toEventDTOs(e.Returns),
		Billed:        toEventDTOs(e.Conversions),
		Carryforwards: toEventDTOs(e.Forwards),
		Status:        string(e.Status),
		CreatedAt:     e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     e.UpdatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// RETAILERS / STOCK / SETTLEMENTS
// =============================================================================

// RetailerDTO mirrors the directory record.
type RetailerDTO struct {
	RetailerID int    `json:"retailer_id"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
}

// CreateRetailerRequest registers a counterparty.
type CreateRetailerRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// StockDTO mirrors a catalog row.
type StockDTO struct {
	StockID  string  `json:"stock_id"`
	ItemName string  `json:"item_name"`
	Weight   float64 `json:"weight"`
	Pcs      int     `json:"pcs"`
}

// SettlementDTO is one billing settlement in a response.
type SettlementDTO struct {
	SettlementID string    `json:"settlement_id"`
	JaakadID     string    `json:"jaakad_id"`
	EventID      string    `json:"event_id"`
	RetailerID   int       `json:"retailer_id"`
	Date         string    `json:"date"`
	Items        []ItemDTO `json:"items"`
	RecordedAt   string    `json:"recorded_at"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
