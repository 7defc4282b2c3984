package mailbox

import (
	"actorcore/internal/filter"
	"actorcore/internal/ids"
	"actorcore/internal/limit"
	"actorcore/internal/message"
	"actorcore/internal/queue"
	"actorcore/internal/rc"
)

// DirectMbox is the MPSC mailbox every agent owns: exactly one owner, set
// once at construction, reachable by any number of concurrent producers.
// Because the owner never changes, DirectMbox needs no locking of its own
// beyond what limits and filters already provide — unlike NamedMbox, whose
// subscriber table can change at any time.
type DirectMbox struct {
	id      ids.MboxID
	owner   queue.Receiver
	limits  *limit.Registry
	filters *filter.Registry
}

// NewDirect constructs the direct mbox bound to owner. limits may be nil
// (no quotas configured); filters may be nil (no delivery filters ever
// installed against this mbox's id).
func NewDirect(owner queue.Receiver, limits *limit.Registry, filters *filter.Registry) *DirectMbox {
	return &DirectMbox{id: ids.NextMboxID(), owner: owner, limits: limits, filters: filters}
}

func (d *DirectMbox) ID() ids.MboxID { return d.id }
func (d *DirectMbox) Kind() Kind     { return Direct }

// Deliver runs the filter check, then the message-limit check, then pushes
// the resulting execution demand to the owner via queue.Receiver.HandleDemand,
// per spec.md §4.1's direct-mbox delivery pipeline.
func (d *DirectMbox) Deliver(mode message.DeliveryMode, msg message.Message) error {
	return d.DeliverAtDepth(mode, msg, 0)
}

// DeliverAtDepth is Deliver with an explicit transform-recursion depth, so
// a Transform action whose target is this mailbox keeps counting against
// the same maxTransformDepth cap as the delivery that redirected into it,
// per spec.md §4.3.
func (d *DirectMbox) DeliverAtDepth(mode message.DeliveryMode, msg message.Message, depth int) error {
	if d.filters != nil && d.filters.Evaluate(d.id, msg.Type(), msg) != filter.Pass {
		return nil
	}
	outcome, err := d.limits.Check(msg.Type(), msg, depth)
	switch outcome {
	case limit.OutcomeDropped, limit.OutcomeLoggedAndDropped, limit.OutcomeTransformed:
		if mode == message.Nonblocking && err == limit.ErrOverLimit {
			//1.- A nonblocking producer (the timer facade, a periodic
			// signal source) never sees Throw; it is downgraded to a
			// silent drop, per spec.md §4.10.
			return nil
		}
		return err
	case limit.OutcomeRemoveOldest:
		//2.- Evicting an already-queued demand of this type is the
		// concrete EventQueue's job; DirectMbox has no visibility into
		// the queue it pushes to, so it delivers the new demand anyway
		// as a best-effort fallback (spec.md §1 leaves dispatchers out
		// of the core's scope).
	}

	kind := queue.OnMessage
	if msg.Kind() == message.KindEnveloped {
		kind = queue.OnEnveloped
	}
	typ := msg.Type()
	demand := queue.Demand{
		Receiver: d.owner,
		MboxID:   d.id,
		Type:     typ,
		Msg:      msg,
		Kind:     kind,
		ReleaseHook: func() {
			d.limits.Release(typ)
		},
	}
	if err := d.owner.HandleDemand(demand); err != nil {
		d.limits.Release(typ)
		if mode == message.Nonblocking {
			return nil
		}
		return rc.Wrap(rc.MboxClosed, "direct mbox delivery rejected", err)
	}
	return nil
}
