package mailbox

import (
	"reflect"
	"sync"

	"actorcore/internal/ids"
	"actorcore/internal/message"
	"actorcore/internal/rc"
)

// OverflowPolicy names an mchain's reaction to a full buffer, per spec.md
// §3/§8 scenario S4. A chain configured with Throw additionally downgrades
// to a silent drop whenever the overflowing Deliver call was made with
// message.Nonblocking, matching the fourth S4 policy ("nonblocking
// downgrades throw to drop").
type OverflowPolicy int

const (
	ChainDropNewest OverflowPolicy = iota
	ChainRemoveOldest
	ChainThrow
)

// ChainMbox is the capability an mchain adds on top of Mbox: pull-style
// consumption for a dispatcher's select-case loop, and explicit closing.
// Unlike Direct/Named mailboxes, a chain never routes by message type: it
// has no subscriber table at all, so Subscribe/delivery-filter calls against
// it are programming errors reported via the dedicated rc codes spec.md §6
// sets aside for exactly that (rc_msg_chain_doesnt_support_subscriptions /
// rc_msg_chain_doesnt_support_delivery_filters).
type ChainMbox interface {
	Mbox
	// TryReceive pops the oldest queued message without blocking.
	TryReceive() (message.Message, bool)
	// Notify returns a channel a select statement can wait on alongside
	// other chains; a receive on it only means "maybe non-empty now", the
	// caller must still call TryReceive (spec.md's mchain has no
	// reservation protocol, so this is advisory, not a lease).
	Notify() <-chan struct{}
	// Close stops accepting new deliveries. If retainContent is false the
	// buffered backlog is discarded immediately; otherwise it drains via
	// TryReceive as normal until empty.
	Close(retainContent bool)
	Len() int
}

// Subscribe always fails for an mchain: it has no per-type subscriber
// table, per spec.md §3.
func chainSubscribeErr() error {
	return rc.New(rc.MsgChainDoesntSupportSubscriptions, "mchain")
}

// SetFilter always fails for an mchain, for the same reason Subscribe does.
func chainFilterErr() error {
	return rc.New(rc.MsgChainDoesntSupportDeliveryFilters, "mchain")
}

// Subscribe reports rc_msg_chain_doesnt_support_subscriptions.
func (c *RingChain) Subscribe() error { return chainSubscribeErr() }

// SetFilter reports rc_msg_chain_doesnt_support_delivery_filters.
func (c *RingChain) SetFilter() error { return chainFilterErr() }

// Subscribe reports rc_msg_chain_doesnt_support_subscriptions.
func (c *DynamicChain) Subscribe() error { return chainSubscribeErr() }

// SetFilter reports rc_msg_chain_doesnt_support_delivery_filters.
func (c *DynamicChain) SetFilter() error { return chainFilterErr() }

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// RingChain is an mchain backed by a preallocated fixed-capacity ring
// buffer: no allocation on the delivery hot path once constructed, at the
// cost of a hard capacity ceiling, per spec.md §3's "preallocated storage"
// mchain variant.
type RingChain struct {
	id     ids.MboxID
	mu     sync.Mutex
	buf    []message.Message
	head   int
	size   int
	policy OverflowPolicy
	closed bool
	notify chan struct{}
}

// NewRingChain constructs a ring-buffered mchain with the given fixed
// capacity and overflow policy.
func NewRingChain(capacity int, policy OverflowPolicy) *RingChain {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingChain{
		id:     ids.NextMboxID(),
		buf:    make([]message.Message, capacity),
		policy: policy,
		notify: make(chan struct{}, 1),
	}
}

func (c *RingChain) ID() ids.MboxID { return c.id }
func (c *RingChain) Kind() Kind     { return Chain }

func (c *RingChain) Deliver(mode message.DeliveryMode, msg message.Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return rc.New(rc.MboxClosed, "mchain")
	}
	capacity := len(c.buf)
	if c.size == capacity {
		switch c.policy {
		case ChainDropNewest:
			c.mu.Unlock()
			return nil
		case ChainRemoveOldest:
			c.head = (c.head + 1) % capacity
			c.size--
		case ChainThrow:
			c.mu.Unlock()
			if mode == message.Nonblocking {
				//1.- Nonblocking downgrades throw to drop, per spec.md §8 S4.
				return nil
			}
			return rc.New(rc.MsgChainOverflow, "mchain")
		}
	}
	idx := (c.head + c.size) % capacity
	c.buf[idx] = msg
	c.size++
	c.mu.Unlock()
	notify(c.notify)
	return nil
}

// DeliverAtDepth satisfies Mbox; an mchain has no per-type quota table, so
// the transform-recursion depth is irrelevant here and simply ignored.
func (c *RingChain) DeliverAtDepth(mode message.DeliveryMode, msg message.Message, _ int) error {
	return c.Deliver(mode, msg)
}

func (c *RingChain) TryReceive() (message.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.size == 0 {
		return nil, false
	}
	msg := c.buf[c.head]
	c.buf[c.head] = nil
	c.head = (c.head + 1) % len(c.buf)
	c.size--
	return msg, true
}

func (c *RingChain) Notify() <-chan struct{} { return c.notify }

func (c *RingChain) Close(retainContent bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if !retainContent {
		c.head, c.size = 0, 0
		for i := range c.buf {
			c.buf[i] = nil
		}
	}
}

func (c *RingChain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// DynamicChain is an mchain backed by a growable slice: no fixed capacity
// ceiling is required (maxSize <= 0 means unbounded), trading the ring's
// allocation-free hot path for the flexibility spec.md §3's "dynamic
// storage" mchain variant calls for.
type DynamicChain struct {
	id      ids.MboxID
	mu      sync.Mutex
	items   []message.Message
	maxSize int
	policy  OverflowPolicy
	closed  bool
	notify  chan struct{}
}

// NewDynamicChain constructs a slice-backed mchain. maxSize <= 0 means no
// capacity ceiling (overflow policy is then never consulted).
func NewDynamicChain(maxSize int, policy OverflowPolicy) *DynamicChain {
	return &DynamicChain{id: ids.NextMboxID(), maxSize: maxSize, policy: policy, notify: make(chan struct{}, 1)}
}

func (c *DynamicChain) ID() ids.MboxID { return c.id }
func (c *DynamicChain) Kind() Kind     { return Chain }

func (c *DynamicChain) Deliver(mode message.DeliveryMode, msg message.Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return rc.New(rc.MboxClosed, "mchain")
	}
	if c.maxSize > 0 && len(c.items) >= c.maxSize {
		switch c.policy {
		case ChainDropNewest:
			c.mu.Unlock()
			return nil
		case ChainRemoveOldest:
			c.items = append(c.items[:0:0], c.items[1:]...)
		case ChainThrow:
			c.mu.Unlock()
			if mode == message.Nonblocking {
				return nil
			}
			return rc.New(rc.MsgChainOverflow, "mchain")
		}
	}
	c.items = append(c.items, msg)
	c.mu.Unlock()
	notify(c.notify)
	return nil
}

// DeliverAtDepth satisfies Mbox; an mchain has no per-type quota table, so
// the transform-recursion depth is irrelevant here and simply ignored.
func (c *DynamicChain) DeliverAtDepth(mode message.DeliveryMode, msg message.Message, _ int) error {
	return c.Deliver(mode, msg)
}

func (c *DynamicChain) TryReceive() (message.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) == 0 {
		return nil, false
	}
	msg := c.items[0]
	c.items = append(c.items[:0:0], c.items[1:]...)
	return msg, true
}

func (c *DynamicChain) Notify() <-chan struct{} { return c.notify }

func (c *DynamicChain) Close(retainContent bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if !retainContent {
		c.items = nil
	}
}

func (c *DynamicChain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Select drains every chain that is currently non-empty through onMsg, then
// blocks until any chain's Notify channel fires, and repeats. It never
// returns; with no chains it loops without blocking. It is a thin convenience over each chain's Notify
// channel for callers that want one blocking call instead of hand-rolling a
// select statement over a variable number of channels, grounded on the same
// "drain whichever source is ready" loop shape as the teacher's
// internal/timesync/service.go cadence loop.
func Select(chains []ChainMbox, onMsg func(ids.MboxID, message.Message)) {
	for {
		drained := false
		for _, c := range chains {
			for {
				msg, ok := c.TryReceive()
				if !ok {
					break
				}
				drained = true
				onMsg(c.ID(), msg)
			}
		}
		if drained {
			continue
		}
		waitAny(chains)
	}
}

// waitAny blocks until any one chain's Notify channel is readable. Select's
// chain count is dynamic, so this can't be a static Go select statement;
// reflect.Select builds one at runtime instead of fanning out a goroutine
// per channel (which would leak one per iteration that lost the race).
func waitAny(chains []ChainMbox) {
	if len(chains) == 0 {
		return
	}
	cases := make([]reflect.SelectCase, len(chains))
	for i, c := range chains {
		cases[i] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(c.Notify())}
	}
	reflect.Select(cases)
}
