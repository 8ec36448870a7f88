/*
status.go - Lifecycle status derivation

PURPOSE:
  Maps the outstanding quantity to a lifecycle state. The stored status on
  an entry is only a cached projection of this rule; it is recomputed on
  every write and never trusted as authoritative input to a decision.

RULES:
  remaining empty              -> closed
  remaining non-empty + events -> partially_returned
  remaining non-empty          -> open

  "forwarded" is never derivable from quantity: it is set exclusively by the
  carry-forward transition, and like a force-close it is terminal - once an
  entry is closed or forwarded, re-derivation must not reopen it.
*/
package jaakad

// DeriveStatus maps outstanding quantity to a lifecycle state.
// hadConsumption reports whether any return/conversion/forward event exists.
func DeriveStatus(remaining []LineItem, hadConsumption bool) Status {
	if len(remaining) == 0 {
		return StatusClosed
	}
	if hadConsumption {
		return StatusPartiallyReturned
	}
	return StatusOpen
}

// Recompute refreshes an entry's cached status from its event history.
// Terminal entries are left untouched: a forced close or a forward is
// permanent regardless of what the quantity would derive to. Exposed as a
// repair entry point for migrations.
func Recompute(e *Entry) {
	if e.Status.IsTerminal() {
		return
	}
	e.Status = DeriveStatus(e.Remaining(), e.HasConsumption())
}
