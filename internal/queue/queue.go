// Package queue defines the abstract event-queue contract described in
// spec.md §4.2: the push endpoint dispatchers supply, the demand shape
// routed through it, and the install-time hook that lets an external
// collaborator (the message-tracing façade, a testing harness) wrap every
// queue as it is bound. Concrete dispatcher thread pools are out of the
// core's scope (spec.md §1) — see internal/dispatcher for one reference
// implementation used by tests and the demo CLI.
package queue

import (
	"actorcore/internal/ids"
	"actorcore/internal/message"
)

// HandlerKind selects which of the agent's four demand handlers a Demand
// must be routed to, per spec.md §3/§4.7.
type HandlerKind int

const (
	EvtStart HandlerKind = iota
	EvtFinish
	OnMessage
	OnEnveloped
)

func (k HandlerKind) String() string {
	switch k {
	case EvtStart:
		return "evt_start"
	case EvtFinish:
		return "evt_finish"
	case OnMessage:
		return "on_message"
	case OnEnveloped:
		return "on_enveloped_msg"
	default:
		return "unknown"
	}
}

// Demand is the unit pushed to an event queue, per spec.md §3's
// "execution demand": the receiving agent, the mailbox and type the
// message arrived on, the message itself, which handler to invoke, and an
// optional release callback the receiver must call exactly once when the
// demand is popped (message-limit counter decrement).
type Demand struct {
	Receiver    Receiver
	MboxID      ids.MboxID
	Type        message.TypeID
	Msg         message.Message
	Kind        HandlerKind
	ReleaseHook func()
}

// Receiver is implemented by internal/agent.Agent. Keeping it as a small
// interface here (rather than importing internal/agent) avoids a package
// cycle: agents push demands onto queues, and queues deliver demands back
// to agents.
//
// The two methods split the mailbox-to-worker handoff in half. HandleDemand
// is called by a mailbox at delivery time and only forwards the demand to
// whichever EventQueue the agent is currently bound to (or reports an error
// if the agent is unbound/shut down); it never runs a handler itself.
// Execute is called by a dispatcher worker after popping the demand back off
// that queue, and is where the handler-finder actually runs.
type Receiver interface {
	HandleDemand(d Demand) error
	Execute(d Demand)
}

// EventQueue is the abstract push endpoint a dispatcher supplies. Demands
// for the same receiver pushed to the same queue instance are popped and
// executed in push order by exactly one worker at a time, except for
// thread-safe-marked handlers under a dispatcher that supports running
// them in parallel (spec.md §5).
type EventQueue interface {
	Push(d Demand) error
	PushEvtStart(d Demand) error
	PushEvtFinish(d Demand) error
}

// Hook lets an external collaborator substitute a wrapped queue at bind
// time and observe unbind, per spec.md §4.2. The default hook (nil) is a
// pass-through.
type Hook interface {
	OnBind(q EventQueue) EventQueue
	OnUnbind(q EventQueue)
}

// HookFuncs adapts two functions to the Hook interface.
type HookFuncs struct {
	Bind   func(q EventQueue) EventQueue
	Unbind func(q EventQueue)
}

func (h HookFuncs) OnBind(q EventQueue) EventQueue {
	if h.Bind != nil {
		return h.Bind(q)
	}
	return q
}

func (h HookFuncs) OnUnbind(q EventQueue) {
	if h.Unbind != nil {
		h.Unbind(q)
	}
}

// Installer routes every bind/unbind through an optional Hook, matching
// spec.md §4.2's "the environment routes the queue through an installed
// event-queue hook".
type Installer struct {
	hook Hook
}

// NewInstaller constructs an Installer. A nil hook is a valid no-op.
func NewInstaller(hook Hook) *Installer {
	return &Installer{hook: hook}
}

// Bind passes q through the installed hook's OnBind, if any.
func (i *Installer) Bind(q EventQueue) EventQueue {
	if i == nil || i.hook == nil {
		return q
	}
	return i.hook.OnBind(q)
}

// Unbind notifies the installed hook's OnUnbind, if any.
func (i *Installer) Unbind(q EventQueue) {
	if i == nil || i.hook == nil {
		return
	}
	i.hook.OnUnbind(q)
}
