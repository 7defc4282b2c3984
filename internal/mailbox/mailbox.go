// Package mailbox implements the three mailbox shapes described in
// spec.md §3/§4.1: the MPSC direct mbox every agent owns, the MPMC named
// mbox multiple agents subscribe to, and the mchain bounded message queue.
// It is grounded on the teacher's internal/networking/chunks.go
// ArcChunkIndex, which already keeps a capacity-bounded, concurrently
// produced/consumed index with an explicit eviction policy — the same
// shape an overflowing mailbox needs, just generalised from byte chunks to
// arbitrary typed messages.
package mailbox

import (
	"actorcore/internal/ids"
	"actorcore/internal/message"
)

// Kind distinguishes the three mailbox shapes, per spec.md §3.
type Kind int

const (
	Direct Kind = iota
	Named
	Chain
)

func (k Kind) String() string {
	switch k {
	case Direct:
		return "direct_mbox"
	case Named:
		return "mpmc_mbox"
	case Chain:
		return "mchain"
	default:
		return "unknown"
	}
}

// Mbox is the common capability every mailbox shape exposes to a producer:
// an identity and a way to push one message in. internal/limit.Deliverer is
// satisfied structurally by this same method set, so a Mbox can be handed
// straight to a limit.Registry as a Transform action's redirect target.
// DeliverAtDepth is Deliver with the transform-recursion depth threaded
// through explicitly, so a Transform whose target is a different mailbox
// keeps counting against the same depth cap (spec.md §4.3) instead of
// resetting to 0 on the far side of the redirect.
type Mbox interface {
	ID() ids.MboxID
	Kind() Kind
	Deliver(mode message.DeliveryMode, msg message.Message) error
	DeliverAtDepth(mode message.DeliveryMode, msg message.Message, depth int) error
}
