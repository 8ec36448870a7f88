package jaakad_test

import (
	"testing"

	"github.com/sarafbook/jaakad/jaakad"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name      string
		remaining []jaakad.LineItem
		consumed  bool
		want      jaakad.Status
	}{
		{"nothing outstanding", nil, true, jaakad.StatusClosed},
		{"nothing outstanding, no events", nil, false, jaakad.StatusClosed},
		{"outstanding, no events", []jaakad.LineItem{item("s1", "Chain", 10, 1)}, false, jaakad.StatusOpen},
		{"outstanding, with events", []jaakad.LineItem{item("s1", "Chain", 10, 1)}, true, jaakad.StatusPartiallyReturned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := jaakad.DeriveStatus(tt.remaining, tt.consumed); got != tt.want {
				t.Fatalf("DeriveStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRecompute_RefreshesNonTerminal(t *testing.T) {
	e := &jaakad.Entry{
		InitialItems: []jaakad.LineItem{item("s1", "Chain", 100, 10)},
		Returns:      []jaakad.Event{returnEvent(item("s1", "Chain", 40, 4))},
		Status:       jaakad.StatusOpen, // stale cache
	}

	jaakad.Recompute(e)

	if e.Status != jaakad.StatusPartiallyReturned {
		t.Fatalf("status = %s, want %s", e.Status, jaakad.StatusPartiallyReturned)
	}
}

func TestRecompute_NeverReopensTerminal(t *testing.T) {
	// A force-closed entry still has outstanding quantity; re-derivation
	// must not resurrect it. Same for forwarded.
	for _, terminal := range []jaakad.Status{jaakad.StatusClosed, jaakad.StatusForwarded} {
		e := &jaakad.Entry{
			InitialItems: []jaakad.LineItem{item("s1", "Chain", 100, 10)},
			Status:       terminal,
		}
		jaakad.Recompute(e)
		if e.Status != terminal {
			t.Fatalf("terminal %s was overwritten to %s", terminal, e.Status)
		}
	}
}

func TestStatusIsTerminal(t *testing.T) {
	if jaakad.StatusOpen.IsTerminal() || jaakad.StatusPartiallyReturned.IsTerminal() {
		t.Fatal("open states reported terminal")
	}
	if !jaakad.StatusClosed.IsTerminal() || !jaakad.StatusForwarded.IsTerminal() {
		t.Fatal("terminal states not reported terminal")
	}
}
