package mailbox

import (
	"sort"
	"sync"

	"actorcore/internal/filter"
	"actorcore/internal/ids"
	"actorcore/internal/limit"
	"actorcore/internal/message"
	"actorcore/internal/queue"
	"actorcore/internal/rc"
)

// subscriberRecord is one (subscriber, type) slot in a NamedMbox's fan-out
// table, per spec.md §3: the subscriber's own mbox id (used as the filter
// lookup key and the limit-registry owner), its dispatch priority, the
// queue.Receiver to hand demands to, and that subscriber's own message-limit
// table (shared with its DirectMbox — one registry per agent, not per
// subscription).
type subscriberRecord struct {
	key      ids.MboxID
	priority int
	receiver queue.Receiver
	limits   *limit.Registry
}

// NamedMbox is the MPMC mailbox multiple agents may subscribe to. Its
// subscriber table is a plain priority-ordered slice per type rather than a
// tree: spec.md §3 expects at most a handful of subscribers per type per
// mailbox in practice, so a slice with insertion-sort keeps lookups cache
// friendly without the bookkeeping a balanced tree would add.
type NamedMbox struct {
	id      ids.MboxID
	mu      sync.RWMutex
	subs    map[message.TypeID][]*subscriberRecord
	filters *filter.Registry
}

// NewNamed constructs an empty MPMC mailbox.
func NewNamed(filters *filter.Registry) *NamedMbox {
	return &NamedMbox{id: ids.NextMboxID(), subs: make(map[message.TypeID][]*subscriberRecord), filters: filters}
}

func (n *NamedMbox) ID() ids.MboxID { return n.id }
func (n *NamedMbox) Kind() Kind     { return Named }

// Subscribe registers a subscriber for typ, inserted in descending-priority
// order (ties keep insertion order, matching spec.md §4.5's "higher-priority
// subscribers are offered the message first").
func (n *NamedMbox) Subscribe(typ message.TypeID, subscriberKey ids.MboxID, priority int, receiver queue.Receiver, limits *limit.Registry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	rec := &subscriberRecord{key: subscriberKey, priority: priority, receiver: receiver, limits: limits}
	list := n.subs[typ]
	idx := sort.Search(len(list), func(i int) bool { return list[i].priority < priority })
	list = append(list, nil)
	copy(list[idx+1:], list[idx:])
	list[idx] = rec
	n.subs[typ] = list
}

// Unsubscribe removes subscriberKey's registration for typ, if any.
func (n *NamedMbox) Unsubscribe(typ message.TypeID, subscriberKey ids.MboxID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	list := n.subs[typ]
	for i, rec := range list {
		if rec.key == subscriberKey {
			n.subs[typ] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Deliver fans msg out to every current subscriber of msg.Type(), evaluating
// each subscriber's own delivery filter and message-limit table
// independently: one subscriber dropping the message never affects whether
// another subscriber receives it, per spec.md §4.1.
func (n *NamedMbox) Deliver(mode message.DeliveryMode, msg message.Message) error {
	return n.DeliverAtDepth(mode, msg, 0)
}

// DeliverAtDepth is Deliver with an explicit transform-recursion depth, so
// a Transform action whose target is this mailbox keeps counting against
// the same maxTransformDepth cap as the delivery that redirected into it,
// per spec.md §4.3.
func (n *NamedMbox) DeliverAtDepth(mode message.DeliveryMode, msg message.Message, depth int) error {
	if msg.Mutability() == message.Mutable {
		return rc.New(rc.MutableMsgCannotBeDeliveredViaMPMCMbox, msg.Type().String())
	}

	n.mu.RLock()
	list := append([]*subscriberRecord(nil), n.subs[msg.Type()]...)
	n.mu.RUnlock()

	typ := msg.Type()
	var firstErr error
	for _, rec := range list {
		if n.filters != nil && n.filters.Evaluate(rec.key, typ, msg) != filter.Pass {
			continue
		}
		outcome, err := rec.limits.Check(typ, msg, depth)
		switch outcome {
		case limit.OutcomeDropped, limit.OutcomeLoggedAndDropped, limit.OutcomeTransformed:
			if err != nil && mode != message.Nonblocking && firstErr == nil {
				firstErr = err
			}
			continue
		case limit.OutcomeRemoveOldest:
			// See DirectMbox.Deliver: eviction belongs to the concrete
			// EventQueue, out of this package's reach. Fall through and
			// deliver anyway.
		}

		kind := queue.OnMessage
		if msg.Kind() == message.KindEnveloped {
			kind = queue.OnEnveloped
		}
		limits := rec.limits
		demand := queue.Demand{
			Receiver: rec.receiver,
			MboxID:   n.id,
			Type:     typ,
			Msg:      msg,
			Kind:     kind,
			ReleaseHook: func() {
				limits.Release(typ)
			},
		}
		if err := rec.receiver.HandleDemand(demand); err != nil {
			limits.Release(typ)
			if firstErr == nil && mode != message.Nonblocking {
				firstErr = err
			}
		}
	}
	return firstErr
}
