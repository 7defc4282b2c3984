// Package message implements the data model described in spec.md §3:
// an opaque, runtime-typed message carrying a mutability flag and a kind
// tag, plus the enveloped-message protocol (§4.9) that lets a message wrap
// another message behind a pre/post access hook, and the upcaster chain
// that lets subscribers bind to a base type and still receive derived
// types (spec.md §9 "Message upcasting").
package message

import "reflect"

// TypeID is the runtime type identifier used for subscription and limit
// lookups. Using reflect.Type directly gives O(1) comparisons and avoids a
// second type registry, matching the spec's requirement that every
// message carry "a runtime type identifier".
type TypeID struct{ rt reflect.Type }

// TypeOf returns the TypeID for the static Go type T. Prefer this at
// subscription sites; it never allocates a sample value.
func TypeOf[T any]() TypeID {
	var zero T
	return TypeID{rt: reflect.TypeOf(zero)}
}

// TypeIDFor returns the TypeID of a concrete value's dynamic type.
func TypeIDFor(v any) TypeID {
	return TypeID{rt: reflect.TypeOf(v)}
}

// String renders the wrapped Go type name for diagnostics and trace lines.
func (t TypeID) String() string {
	if t.rt == nil {
		return "<nil>"
	}
	return t.rt.String()
}

// Valid reports whether the TypeID was ever assigned a concrete type.
func (t TypeID) Valid() bool { return t.rt != nil }

// Kind tags the structural shape of a message, per spec.md §3.
type Kind int

const (
	// KindSignal messages carry no payload.
	KindSignal Kind = iota
	// KindClassical messages carry a payload defined by the message's own
	// Go type.
	KindClassical
	// KindUserType messages wrap an arbitrary value that was not
	// purpose-built as a message type.
	KindUserType
	// KindEnveloped messages wrap another message behind AccessHook.
	KindEnveloped
)

func (k Kind) String() string {
	switch k {
	case KindSignal:
		return "signal"
	case KindClassical:
		return "classical"
	case KindUserType:
		return "user-type"
	case KindEnveloped:
		return "enveloped"
	default:
		return "unknown"
	}
}

// Mutability controls how widely a message may be delivered. Mutable
// messages may only travel through an MPSC mailbox to a single receiver;
// immutable messages may fan out to any number of concurrent receivers.
type Mutability int

const (
	Immutable Mutability = iota
	Mutable
)

// DeliveryMode selects how a push into a mailbox behaves when it would
// otherwise need to wait or throw, per spec.md §4.1/§4.10. Nonblocking is
// used by the timer source so it never blocks and downgrades a configured
// throw into a silent drop-newest.
type DeliveryMode int

const (
	Ordinary DeliveryMode = iota
	Nonblocking
)

// UpcasterChain lets a concrete message type also be matched against one
// or more base types. Each node names the base TypeID that subscribers may
// bind against; Next continues the chain toward more distant ancestors.
// A nil chain means the message has no declared base types.
type UpcasterChain struct {
	Base TypeID
	Next *UpcasterChain
}

// Message is the opaque, erased payload object flowing through the
// mailbox fabric. Concrete payloads are carried behind Payload(); signals
// return nil.
type Message interface {
	Type() TypeID
	Kind() Kind
	Mutability() Mutability
	// SetMutability mutates the mutability flag in place; it exists so
	// that envelopes can propagate a mutability change down to the
	// message they wrap, per spec.md §4.9.
	SetMutability(Mutability)
	Payload() any
	Upcasters() *UpcasterChain
}

// box is the concrete, non-enveloped Message implementation.
type box struct {
	typ       TypeID
	kind      Kind
	mutable   Mutability
	payload   any
	upcasters *UpcasterChain
}

func (b *box) Type() TypeID              { return b.typ }
func (b *box) Kind() Kind                { return b.kind }
func (b *box) Mutability() Mutability    { return b.mutable }
func (b *box) SetMutability(m Mutability) { b.mutable = m }
func (b *box) Payload() any              { return b.payload }
func (b *box) Upcasters() *UpcasterChain { return b.upcasters }

// NewSignal constructs a payload-less message of the given static type.
func NewSignal[T any](upcasters *UpcasterChain) Message {
	return &box{typ: TypeOf[T](), kind: KindSignal, mutable: Immutable, upcasters: upcasters}
}

// NewClassical constructs a message whose Go type is itself the intended
// wire type (the common case: purpose-built message structs).
func NewClassical(payload any, mutable Mutability, upcasters *UpcasterChain) Message {
	return &box{typ: TypeIDFor(payload), kind: KindClassical, mutable: mutable, payload: payload, upcasters: upcasters}
}

// NewUserType wraps an arbitrary value (one not purpose-built as a
// message) so that it can flow through the same pipeline as a classical
// message; per spec.md §3 this wrapping is itself transparent to callers.
func NewUserType(payload any, mutable Mutability, upcasters *UpcasterChain) Message {
	return &box{typ: TypeIDFor(payload), kind: KindUserType, mutable: mutable, payload: payload, upcasters: upcasters}
}
