package message

import "testing"

type pingMsg struct{ N int }

func TestClassicalMessageRoundTrip(t *testing.T) {
	m := NewClassical(pingMsg{N: 3}, Immutable, nil)
	if m.Kind() != KindClassical {
		t.Fatalf("expected classical kind, got %v", m.Kind())
	}
	if m.Type() != TypeOf[pingMsg]() {
		t.Fatalf("expected pingMsg type id")
	}
	if got := m.Payload().(pingMsg).N; got != 3 {
		t.Fatalf("expected payload 3, got %d", got)
	}
}

func TestSignalCarriesNoPayload(t *testing.T) {
	type stopSignal struct{}
	m := NewSignal[stopSignal](nil)
	if m.Kind() != KindSignal {
		t.Fatalf("expected signal kind")
	}
	if m.Payload() != nil {
		t.Fatalf("expected nil payload for a signal")
	}
}

func TestEnvelopeDelegatesMutability(t *testing.T) {
	inner := NewClassical(pingMsg{N: 1}, Immutable, nil)
	env := NewEnvelope(inner)
	if env.Mutability() != Immutable {
		t.Fatalf("expected immutable")
	}
	env.SetMutability(Mutable)
	if inner.Mutability() != Mutable {
		t.Fatalf("expected mutability change to propagate to inner message")
	}
}

func TestUnwrapPeelsNestedEnvelopes(t *testing.T) {
	inner := NewClassical(pingMsg{N: 7}, Immutable, nil)
	e1 := NewEnvelope(inner)
	e2 := NewEnvelope(e1)
	e3 := NewEnvelope(e2)

	got, exposed := Unwrap(e3)
	if !exposed {
		t.Fatalf("expected exposure to succeed")
	}
	if got.Payload().(pingMsg).N != 7 {
		t.Fatalf("expected to reach the innermost payload")
	}
}

func TestUnwrapHonoursSuppression(t *testing.T) {
	inner := NewClassical(pingMsg{N: 9}, Immutable, nil)
	suppressed := NewEnvelopeWithHook(inner, func(ctx AccessContext, invoker Invoker) {
		// never invoke: simulates an envelope consuming the message itself.
	})

	_, exposed := Unwrap(suppressed)
	if exposed {
		t.Fatalf("expected suppression to report exposed=false")
	}
}

func TestUpcasterChainWalksToBaseType(t *testing.T) {
	type base struct{}
	chain := &UpcasterChain{Base: TypeOf[base]()}
	m := NewClassical(pingMsg{}, Immutable, chain)

	if m.Upcasters() == nil || m.Upcasters().Base != TypeOf[base]() {
		t.Fatalf("expected upcaster chain to expose base type")
	}
}
