// Package filter implements the per-(agent,mbox,type) delivery-filter
// registry described in spec.md §3/§4.4. It is grounded on the teacher's
// internal/networking/tiers.go, which gates whether a given observer
// receives a given entity update based on an interest tier predicate —
// the same "evaluate a predicate before this subscriber gets the
// message" shape a delivery filter has, just generalised from a fixed
// tier enum to an arbitrary predicate function.
package filter

import (
	"sync"

	"actorcore/internal/ids"
	"actorcore/internal/message"
)

// Predicate decides whether a message should be delivered to the
// subscriber it is attached to. It receives the unwrapped payload message
// (see Registry.Evaluate) so ordinary predicates never need to know about
// envelopes.
type Predicate func(payload message.Message) bool

type key struct {
	owner ids.MboxID
	typ   message.TypeID
}

// Registry holds delivery filters for every (owner, type) pair on one
// MPMC mailbox. Filters are independent of subscriptions: a mailbox entry
// may have a filter with no subscription yet (it still gets recorded, per
// spec.md §4.4), a subscription with no filter (passes everything), or
// both.
type Registry struct {
	mu      sync.RWMutex
	entries map[key]Predicate
}

// NewRegistry constructs an empty delivery-filter registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[key]Predicate)}
}

// Set installs (or replaces) the filter for (owner, typ).
func (r *Registry) Set(owner ids.MboxID, typ message.TypeID, pred Predicate) {
	if r == nil || pred == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key{owner: owner, typ: typ}] = pred
}

// Drop removes the filter for (owner, typ). It is noexcept: dropping an
// absent filter is a no-op, matching spec.md §6's drop_delivery_filter
// contract.
func (r *Registry) Drop(owner ids.MboxID, typ message.TypeID) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key{owner: owner, typ: typ})
}

// Result is the outcome of evaluating a filter for one subscriber.
type Result int

const (
	// Pass means either no filter is installed, or the filter accepted
	// the message.
	Pass Result = iota
	// RejectedByFilter means a filter is installed and declined the
	// message.
	RejectedByFilter
	// HiddenByEnvelope means the message is enveloped and the envelope
	// declined to expose its payload for inspection, per spec.md §4.4.
	HiddenByEnvelope
)

func (res Result) String() string {
	switch res {
	case Pass:
		return "pass"
	case RejectedByFilter:
		return "rejected_by_filter"
	case HiddenByEnvelope:
		return "hidden_by_envelope"
	default:
		return "unknown"
	}
}

// Evaluate looks up the filter for (owner, typ) and runs it against msg,
// unwrapping one or more envelope layers first via
// message.Unwrap(ContextInspection) so ordinary predicates always see a
// concrete payload.
func (r *Registry) Evaluate(owner ids.MboxID, typ message.TypeID, msg message.Message) Result {
	if r == nil {
		return Pass
	}
	r.mu.RLock()
	pred, ok := r.entries[key{owner: owner, typ: typ}]
	r.mu.RUnlock()
	if !ok {
		return Pass
	}
	payload, exposed := message.Unwrap(msg)
	if !exposed {
		return HiddenByEnvelope
	}
	if pred(payload) {
		return Pass
	}
	return RejectedByFilter
}

// Has reports whether any filter is installed for (owner, typ).
func (r *Registry) Has(owner ids.MboxID, typ message.TypeID) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[key{owner: owner, typ: typ}]
	return ok
}
