// Package coop implements the cooperation lifecycle described in spec.md
// §4.8: multi-phase atomic registration with rollback, the parent/child
// coop graph, reference counting across agents/children/the registration
// routine itself, and mirror-image deregistration under stop guards. It is
// grounded on the teacher's internal/match/session.go Session: capacity-
// gated join/leave bookkeeping behind a functional-options constructor,
// generalised from "match participants" to "agents registered as one
// atomic unit".
package coop

import (
	"sort"
	"sync"
	"sync/atomic"

	"actorcore/internal/agent"
	"actorcore/internal/ids"
	"actorcore/internal/queue"
	"actorcore/internal/rc"
)

// Status is the cooperation's lifecycle stage, per spec.md §4.8.
type Status int32

const (
	NotRegistered Status = iota
	Registering
	Registered
	Deregistering
	Deregistered
)

func (s Status) String() string {
	switch s {
	case NotRegistered:
		return "not_registered"
	case Registering:
		return "registering"
	case Registered:
		return "registered"
	case Deregistering:
		return "deregistering"
	case Deregistered:
		return "deregistered"
	default:
		return "unknown"
	}
}

// Binder assigns the event queue a coop binds each of its agents to.
// Concrete dispatcher thread-pool policy (thread-per-agent, fixed-pool,
// adv-pool) lives outside the core, per spec.md §1; Binder is the seam.
type Binder interface {
	QueueFor(c *Coop, a *agent.Agent) queue.EventQueue
}

// BinderFunc adapts a function to the Binder interface.
type BinderFunc func(c *Coop, a *agent.Agent) queue.EventQueue

func (f BinderFunc) QueueFor(c *Coop, a *agent.Agent) queue.EventQueue { return f(c, a) }

// AgentEntry pairs an agent with the dispatch priority used to order
// registration, per spec.md §4.8 step 2 ("sort agents by descending
// priority").
type AgentEntry struct {
	Agent    *agent.Agent
	Priority int
}

// Coop is one cooperation: an atomically registered/deregistered group of
// agents plus any child cooperations registered beneath it.
type Coop struct {
	id   ids.CoopID
	name string

	mu     sync.Mutex
	status atomic.Int32
	reason string
	agents []AgentEntry

	parent  *Coop
	childMu sync.Mutex
	child   []*Coop

	// usage counts every live contributor: +1 per successfully bound agent
	// (released by that agent's own evt-finish), +1 per registered child
	// coop (released on that child's final unlink), and +1 held by the
	// registration routine itself for its own duration, per spec.md §4.8's
	// reference-counting rule.
	usage *ids.RefCounted

	notifyRegistered   []func(*Coop)
	notifyDeregistered []func(*Coop, string)
	onFinalize         func(*Coop)
}

// New constructs an unregistered coop. parent may be nil for a root coop.
// onFinalize, if non-nil, runs once at the end of the coop's lifecycle
// (spec.md §4.8 step 5's "run resource deleters").
func New(name string, parent *Coop, onFinalize func(*Coop)) *Coop {
	return &Coop{
		id:         ids.NextCoopID(),
		name:       name,
		parent:     parent,
		usage:      ids.NewRefCounted(0),
		onFinalize: onFinalize,
	}
}

func (c *Coop) ID() ids.CoopID { return c.id }
func (c *Coop) Name() string   { return c.name }
func (c *Coop) Parent() *Coop  { return c.parent }

// Status reports the coop's current lifecycle stage.
func (c *Coop) Status() Status { return Status(c.status.Load()) }

// Reason reports the deregistration reason, once deregistration has begun.
func (c *Coop) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Usage exposes the coop's own reference count so an agent constructed for
// this coop can be wired with agent.New(..., coop.Usage(), ...).
func (c *Coop) Usage() *ids.RefCounted { return c.usage }

// Children returns a snapshot of the coop's current child list.
func (c *Coop) Children() []*Coop {
	c.childMu.Lock()
	defer c.childMu.Unlock()
	return append([]*Coop(nil), c.child...)
}

// OnRegistered installs a registration notificator, per spec.md §4.8 step 7.
func (c *Coop) OnRegistered(fn func(*Coop)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifyRegistered = append(c.notifyRegistered, fn)
}

// OnDeregistered installs a deregistration notificator.
func (c *Coop) OnDeregistered(fn func(*Coop, string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifyDeregistered = append(c.notifyDeregistered, fn)
}

// AddAgent enrolls an agent into this coop's registration batch. Only valid
// before Register is called.
func (c *Coop) AddAgent(a *agent.Agent, priority int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if Status(c.status.Load()) != NotRegistered {
		return rc.New(rc.AnotherStateSwitchIsInProgressForCoop, "cannot add an agent once registration has started")
	}
	c.agents = append(c.agents, AgentEntry{Agent: a, Priority: priority})
	return nil
}

// Register runs the multi-phase registration algorithm of spec.md §4.8: all
// phases must succeed or all are rolled back.
func (c *Coop) Register(binder Binder) error {
	if !c.status.CompareAndSwap(int32(NotRegistered), int32(Registering)) {
		return rc.New(rc.AnotherStateSwitchIsInProgressForCoop, "coop already registering or registered")
	}

	//1.- The registration routine itself holds +1 for its own duration, so
	// a concurrent deregistration triggered by an agent's evt-finish cannot
	// tear the coop down out from under this call.
	c.usage.Retain()
	defer func() {
		if c.usage.Release() == 0 {
			c.finalize()
		}
	}()

	c.mu.Lock()
	entries := append([]AgentEntry(nil), c.agents...)
	c.mu.Unlock()

	//2.- Sort agents by descending priority.
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Priority > entries[j].Priority })

	barrier := make(chan struct{})
	for _, e := range entries {
		e.Agent.SetBindingBarrier(barrier)
	}

	//3.- Define each agent; on failure, previously-defined agents are just
	// discarded (they were never exposed to a bind, so there is nothing to
	// shut down).
	defined := make([]AgentEntry, 0, len(entries))
	for _, e := range entries {
		if err := e.Agent.InitiateDefinition(); err != nil {
			close(barrier)
			c.status.Store(int32(NotRegistered))
			return err
		}
		defined = append(defined, e)
	}

	//4.- Bind each agent; on failure, unbind all previously-bound agents in
	// reverse order.
	bound := make([]AgentEntry, 0, len(defined))
	for _, e := range defined {
		q := binder.QueueFor(c, e.Agent)
		if err := e.Agent.BindToDispatcher(q); err != nil {
			for i := len(bound) - 1; i >= 0; i-- {
				bound[i].Agent.ShutdownAgent()
			}
			close(barrier)
			c.status.Store(int32(NotRegistered))
			return err
		}
		bound = append(bound, e)
	}

	//5.- Link into the parent's child list under the parent's lock;
	// increment the parent's usage counter.
	if c.parent != nil {
		c.parent.childMu.Lock()
		c.parent.child = append(c.parent.child, c)
		c.parent.childMu.Unlock()
		c.parent.usage.Retain()
	}

	//6.- Mark registered and release the binding barrier: agents' evt-start
	// handlers may now proceed.
	c.status.Store(int32(Registered))
	close(barrier)

	//7.- Call registration notificators.
	c.mu.Lock()
	notificators := make([]func(*Coop), len(c.notifyRegistered))
	copy(notificators, c.notifyRegistered)
	c.mu.Unlock()
	for _, fn := range notificators {
		fn(c)
	}
	return nil
}

// Deregister is the mirror of Register, per spec.md §4.8. It is noexcept:
// a coop that is not currently Registered is left untouched.
func (c *Coop) Deregister(reason string) {
	if !c.status.CompareAndSwap(int32(Registered), int32(Deregistering)) {
		return
	}
	c.mu.Lock()
	c.reason = reason
	entries := append([]AgentEntry(nil), c.agents...)
	c.mu.Unlock()

	//3.- Shut every agent down; each push rejects further demands and
	// schedules the evt-finish that will eventually release this coop's
	// usage counter.
	for _, e := range entries {
		e.Agent.ShutdownAgent()
	}

	//4.- Recursively deregister children with the mirrored reason.
	for _, child := range c.Children() {
		child.Deregister("parent_deregistration")
	}

	//5.- With no live agent or child left to release the usage counter
	// later, finalize now.
	if c.usage.Count() == 0 {
		c.finalize()
	}
}

// finalize runs once, when the usage counter of a deregistering coop has
// dropped to zero: it marks the coop terminally Deregistered, calls
// deregistration notificators, runs the resource-deleter hook, and unlinks
// from the parent (releasing the parent's own usage contribution, possibly
// cascading into the parent's own finalize).
func (c *Coop) finalize() {
	// A Registered coop whose usage drops to zero (no agents and no
	// children once Register returns) stays Registered until Deregister;
	// a coop already finalized is left as it is.
	if !c.status.CompareAndSwap(int32(Deregistering), int32(Deregistered)) {
		return
	}

	c.mu.Lock()
	reason := c.reason
	notificators := make([]func(*Coop, string), len(c.notifyDeregistered))
	copy(notificators, c.notifyDeregistered)
	c.mu.Unlock()
	for _, fn := range notificators {
		fn(c, reason)
	}
	if c.onFinalize != nil {
		c.onFinalize(c)
	}

	if c.parent != nil {
		c.parent.childMu.Lock()
		for i, ch := range c.parent.child {
			if ch == c {
				c.parent.child = append(c.parent.child[:i], c.parent.child[i+1:]...)
				break
			}
		}
		c.parent.childMu.Unlock()
		if c.parent.usage.Release() == 0 {
			c.parent.finalize()
		}
	}
}

// UsageZeroHook returns the callback agent.New's Hooks.OnUsageZero field
// must be set to for every agent constructed as a member of this coop.
func (c *Coop) UsageZeroHook() func() { return c.finalize }
