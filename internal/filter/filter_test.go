package filter

import (
	"testing"

	"actorcore/internal/ids"
	"actorcore/internal/message"
)

type radarContact struct{ Range int }

func TestFilterPassesWhenNoneInstalled(t *testing.T) {
	reg := NewRegistry()
	owner := ids.NextMboxID()
	typ := message.TypeOf[radarContact]()
	msg := message.NewClassical(radarContact{Range: 500}, message.Immutable, nil)
	if got := reg.Evaluate(owner, typ, msg); got != Pass {
		t.Fatalf("expected pass, got %v", got)
	}
}

func TestFilterRejectsOnPredicateFalse(t *testing.T) {
	reg := NewRegistry()
	owner := ids.NextMboxID()
	typ := message.TypeOf[radarContact]()
	reg.Set(owner, typ, func(payload message.Message) bool {
		return payload.Payload().(radarContact).Range < 1000
	})
	near := message.NewClassical(radarContact{Range: 500}, message.Immutable, nil)
	far := message.NewClassical(radarContact{Range: 5000}, message.Immutable, nil)

	if got := reg.Evaluate(owner, typ, near); got != Pass {
		t.Fatalf("expected near contact to pass, got %v", got)
	}
	if got := reg.Evaluate(owner, typ, far); got != RejectedByFilter {
		t.Fatalf("expected far contact to be rejected, got %v", got)
	}
}

func TestFilterReportsHiddenByEnvelope(t *testing.T) {
	reg := NewRegistry()
	owner := ids.NextMboxID()
	typ := message.TypeOf[radarContact]()
	reg.Set(owner, typ, func(message.Message) bool { return true })

	inner := message.NewClassical(radarContact{Range: 1}, message.Immutable, nil)
	suppressed := message.NewEnvelopeWithHook(inner, func(ctx message.AccessContext, invoker message.Invoker) {
		// never invoke, simulating an envelope that hides its payload
	})
	if got := reg.Evaluate(owner, typ, suppressed); got != HiddenByEnvelope {
		t.Fatalf("expected hidden by envelope, got %v", got)
	}
}

func TestDropRemovesFilter(t *testing.T) {
	reg := NewRegistry()
	owner := ids.NextMboxID()
	typ := message.TypeOf[radarContact]()
	reg.Set(owner, typ, func(message.Message) bool { return false })
	reg.Drop(owner, typ)
	if reg.Has(owner, typ) {
		t.Fatalf("expected filter to be dropped")
	}
	// Dropping an absent filter must be a no-op, not a panic.
	reg.Drop(owner, typ)
}
