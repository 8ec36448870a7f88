/*
ids.go - Document id generation

Entry and event ids are human-readable (the shop reads them off printed
documents and WhatsApp messages): a kind prefix, the date, and a random
5-digit suffix, e.g. J20250828-41923. Settlement ids are plain UUIDs since
nothing human-facing references them.

Prefixes: J = jaakad entry, R = return, B = bill (conversion),
CF = carry-forward.
*/
package jaakad

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// NewEntryID generates a readable id for a new ledger entry.
// Never reused: the random suffix plus the store's uniqueness constraint
// guarantee global uniqueness.
func NewEntryID() string { return newDocID("J") }

// NewReturnID generates an id for a return event.
func NewReturnID() string { return newDocID("R") }

// NewConversionID generates an id for a conversion (bill) event.
func NewConversionID() string { return newDocID("B") }

// NewForwardID generates an id for a carry-forward event.
func NewForwardID() string { return newDocID("CF") }

// NewSettlementID generates an opaque id for a billing settlement record.
func NewSettlementID() string { return uuid.NewString() }

func newDocID(prefix string) string {
	now := time.Now().UTC()
	return fmt.Sprintf("%s%s-%05d", prefix, now.Format("20060102"), 10000+rand.Intn(90000))
}
