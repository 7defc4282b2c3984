// Package agent implements the agent runtime described in spec.md §4.7: the
// direct mbox + subscription storage + state machine every agent owns, the
// four demand handlers (evt-start, evt-finish, on_message, on_enveloped_msg),
// the handler-finder, and exception-reaction resolution. It is grounded on
// the teacher's internal/bots/controller.go Controller: a mutex-guarded
// reconcile loop with clear construction/shutdown phases and a single owner
// goroutine invariant, generalised from "reconcile bot population" to
// "reconcile subscription state against the current HSM leaf".
package agent

import (
	"sync"
	"sync/atomic"

	"actorcore/internal/hsm"
	"actorcore/internal/ids"
	"actorcore/internal/limit"
	"actorcore/internal/logging"
	"actorcore/internal/mailbox"
	"actorcore/internal/message"
	"actorcore/internal/queue"
	"actorcore/internal/rc"
	"actorcore/internal/subscription"
	"actorcore/internal/timer"
)

// Status is the agent's lifecycle stage, per spec.md §4.7.
type Status int32

const (
	NotDefined Status = iota
	Defined
	Registered
	Deregistering
)

func (s Status) String() string {
	switch s {
	case NotDefined:
		return "not_defined"
	case Defined:
		return "defined"
	case Registered:
		return "registered"
	case Deregistering:
		return "deregistering"
	default:
		return "unknown"
	}
}

// ExceptionReaction names how an agent reacts to a handler exception, per
// spec.md §4.7. Unknown/zero-value reactions collapse to Abort.
type ExceptionReaction int

const (
	Abort ExceptionReaction = iota
	ShutdownSObjectizer
	DeregisterCoop
	IgnoreAndStayActive
)

// Definition is the caller-supplied so_define_agent callback: it installs
// subscriptions and builds the HSM tree. It may only call a's Subscribe
// methods, which enforce the working-thread precondition.
type Definition func(a *Agent) error

// Hooks bundles the optional so_evt_start/so_evt_finish callbacks and the
// exception-reaction resolver a coop installs at registration time. Keeping
// these as plain funcs (rather than importing internal/coop) avoids a
// package cycle: coop constructs and owns Agents, agent must not import coop.
type Hooks struct {
	EvtStart  func(a *Agent) error
	EvtFinish func(a *Agent) error
	// ResolveReaction is consulted by the exception envelope; nil means
	// every exception aborts, matching spec.md §4.7's "unknown reactions
	// collapse to abort".
	ResolveReaction func(err error) ExceptionReaction
	// OnFatal receives the abort reaction's message. A nil hook panics,
	// matching hsm.Machine's own default.
	OnFatal func(reason string)
	// OnShutdownSObjectizer runs the shutdown-sobjectizer reaction.
	OnShutdownSObjectizer func()
	// OnDeregisterCoop runs the deregister-coop reaction.
	OnDeregisterCoop func(err error)
	// OnUsageZero fires when this agent's evt-finish release drops the
	// owning coop's usage counter to zero, letting the coop schedule its
	// own finalization (spec.md §4.8's "usage counter hits zero").
	OnUsageZero func()
	// TimerSource lets the agent schedule state time-limit self-signals
	// (spec.md §4.6). nil leaves any declared TimeLimitDescriptor inert.
	TimerSource *timer.Source
}

// Agent is one unit of computation: a direct mbox, a message-limit table, a
// subscription table, and a hierarchical state machine, pumped by whatever
// dispatcher worker calls Execute after popping a demand off the agent's
// bound queue.
type Agent struct {
	id      ids.MboxID
	mbox    *mailbox.DirectMbox
	limits  *limit.Registry
	subs    *subscription.Storage
	machine *hsm.Machine

	mu            sync.Mutex
	status        Status
	workingThread atomic.Uint64 // ids.ThreadID; ids.NoThread means "not on any thread"

	queueLock ids.RWSpinlock
	queue     queue.EventQueue
	installer *queue.Installer

	coopUsage      *ids.RefCounted
	bindingBarrier <-chan struct{}

	define Definition
	hooks  Hooks

	timerSrc   *timer.Source
	timeLimits map[*hsm.State]*timeLimitRuntime
}

// timeLimitSignal is the private sentinel payload delivered to a
// time-limited state's own dedicated mailbox; the handler-finder keys on
// (mbox, type, state) exactly like any user subscription.
type timeLimitSignal struct{}

var timeLimitSignalType = message.TypeOf[timeLimitSignal]()

// timeLimitRuntime is the per-(agent,state) bookkeeping for a scheduled
// time-limit self-signal: the dedicated mbox the signal is delivered to,
// and the timer handle released on exit.
type timeLimitRuntime struct {
	mbox   *mailbox.DirectMbox
	handle timer.Handle
}

// New constructs an agent bound to defaultState (already resolved to a leaf,
// typically via hsm.Activate), with the given definition callback, hooks,
// and the coop-wide usage counter this agent's bind/evt-finish pair touches.
// queueHook, if non-nil, wraps every queue this agent is bound to (message
// tracing, test harnesses).
func New(defaultState *hsm.State, define Definition, hooks Hooks, coopUsage *ids.RefCounted, queueHook queue.Hook) *Agent {
	a := &Agent{
		limits:     limit.NewRegistry(false),
		subs:       subscription.NewStorage(),
		machine:    hsm.NewMachine(defaultState),
		coopUsage:  coopUsage,
		define:     define,
		hooks:      hooks,
		installer:  queue.NewInstaller(queueHook),
		timerSrc:   hooks.TimerSource,
		timeLimits: make(map[*hsm.State]*timeLimitRuntime),
	}
	a.workingThread.Store(uint64(ids.NextThreadID())) //1.- Constructor's own thread may subscribe immediately.
	a.mbox = mailbox.NewDirect(a, a.limits, nil)
	a.id = a.mbox.ID()
	a.machine.OnFatal(func(reason string) { a.fatal(reason) })
	a.machine.SetStateObservers(a.enterTimeLimitedState, a.exitTimeLimitedState)
	//2.- ChangeState only fires the enter observer for states it actually
	// transitions into; the machine's own initial leaf is entered here too,
	// so a defaultState declaring a time limit is wired from construction.
	a.enterTimeLimitedState(defaultState)
	return a
}

// ID returns the agent's own direct-mbox id.
func (a *Agent) ID() ids.MboxID { return a.id }

// DirectMbox exposes the agent's own MPSC mailbox for producers to deliver
// into.
func (a *Agent) DirectMbox() *mailbox.DirectMbox { return a.mbox }

// Status reports the agent's current lifecycle stage.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// State returns the agent's current HSM leaf.
func (a *Agent) State() *hsm.State { return a.machine.Current() }

func (a *Agent) currentThread() ids.ThreadID { return ids.ThreadID(a.workingThread.Load()) }

func (a *Agent) setWorkingThread(t ids.ThreadID) { a.workingThread.Store(uint64(t)) }

// CurrentThreadToken exposes the logical thread token active for the
// duration of the current dispatch window (constructor, so_define_agent, or
// a demand handler). Go has no OS-thread affinity to check against, so
// unlike the originating design this is not compared against a caller-
// supplied identity; the meaningful invariant — "only mutate subscriptions
// from inside the agent's own single-threaded dispatch window, never from an
// unrelated goroutine" — is instead enforced by requiring a non-zero token.
func (a *Agent) CurrentThreadToken() ids.ThreadID { return a.currentThread() }

// Subscribe installs a subscription, enforced to only succeed while the
// agent is inside its own dispatch window, per spec.md §4.7's precondition
// ("subscriptions are allowed only while working-thread-id is non-null").
func (a *Agent) Subscribe(mbox ids.MboxID, typ message.TypeID, state *hsm.State, rec *subscription.Record) error {
	if a.currentThread() == ids.NoThread {
		return rc.New(rc.OperationEnabledOnlyOnAgentWorkingThread, "subscribe")
	}
	return a.subs.Create(subscription.Key{Mbox: mbox, Type: typ, State: state}, rec)
}

// Unsubscribe drops a subscription, under the same precondition.
func (a *Agent) Unsubscribe(mbox ids.MboxID, typ message.TypeID, state *hsm.State) error {
	if a.currentThread() == ids.NoThread {
		return rc.New(rc.OperationEnabledOnlyOnAgentWorkingThread, "unsubscribe")
	}
	a.subs.Drop(subscription.Key{Mbox: mbox, Type: typ, State: state})
	return nil
}

// SetBindingBarrier installs the channel the evt-start handler waits on
// before running, per spec.md §4.7 ("acquires the coop binding barrier,
// ensures registration finished"). The owning coop closes the channel once
// every agent in the registration batch has bound, per spec.md §4.8 step 6.
// It must be called before BindToDispatcher.
func (a *Agent) SetBindingBarrier(ch <-chan struct{}) { a.bindingBarrier = ch }

// Limits exposes the agent's own message-limit table so a definition
// callback can call SetLimit during so_define_agent.
func (a *Agent) Limits() *limit.Registry { return a.limits }

// Machine exposes the agent's HSM so a definition callback can build out
// the state tree and register time-limit/history behaviour.
func (a *Agent) Machine() *hsm.Machine { return a.machine }

// InitiateDefinition runs so_define_agent() on the caller's thread (the
// "working-thread sentinel" of spec.md §4.7), then marks the agent Defined.
func (a *Agent) InitiateDefinition() error {
	a.mu.Lock()
	if a.status != NotDefined {
		a.mu.Unlock()
		return rc.New(rc.AgentDeactivated, "agent already defined")
	}
	a.mu.Unlock()

	callerThread := ids.NextThreadID()
	a.setWorkingThread(callerThread)
	var defErr error
	if a.define != nil {
		defErr = a.define(a)
	}
	a.setWorkingThread(ids.NoThread)
	if defErr != nil {
		return defErr
	}

	a.mu.Lock()
	a.status = Defined
	a.mu.Unlock()
	return nil
}

// BindToDispatcher implements spec.md §4.7's mandatory ordering: under the
// event-queue write lock, retain the coop usage counter, push the evt-start
// demand to the hook-wrapped queue first, then store the queue pointer.
func (a *Agent) BindToDispatcher(target queue.EventQueue) error {
	bound := a.installer.Bind(target)

	a.queueLock.Lock()
	defer a.queueLock.Unlock()

	if a.coopUsage != nil {
		a.coopUsage.Retain()
	}
	demand := queue.Demand{Receiver: a, MboxID: a.id, Kind: queue.EvtStart}
	if err := bound.PushEvtStart(demand); err != nil {
		if a.coopUsage != nil {
			a.coopUsage.Release()
		}
		return err
	}
	a.queue = bound

	a.mu.Lock()
	a.status = Registered
	a.mu.Unlock()
	return nil
}

// ShutdownAgent implements spec.md §4.7: under the same lock, push
// evt-finish, null out the queue pointer so no further pushes are accepted,
// then unbind via the hook. A nil queue pointer at shutdown is a fatal
// internal error, per spec.
func (a *Agent) ShutdownAgent() {
	a.queueLock.Lock()
	defer a.queueLock.Unlock()

	if a.queue == nil {
		a.fatal("shutdown_agent called with no bound queue")
		return
	}
	demand := queue.Demand{Receiver: a, MboxID: a.id, Kind: queue.EvtFinish}
	//1.- Push before nulling so the demand is guaranteed to beat any racing
	// producer that observes the nulled pointer and gives up.
	_ = a.queue.PushEvtFinish(demand)
	old := a.queue
	a.queue = nil
	a.installer.Unbind(old)

	a.mu.Lock()
	a.status = Deregistering
	a.mu.Unlock()
}

// HandleDemand forwards d to whichever queue the agent is currently bound
// to, or fails if the agent is unbound (shut down or not yet bound), per
// spec.md §4.1's "push into the agent's currently bound event queue".
func (a *Agent) HandleDemand(d queue.Demand) error {
	a.queueLock.RLock()
	q := a.queue
	a.queueLock.RUnlock()
	if q == nil {
		return rc.New(rc.MboxClosed, "agent has no bound queue")
	}
	return q.Push(d)
}

// Execute runs one popped demand's handler, per spec.md §4.7. It is called
// by a dispatcher worker, never by a producer.
func (a *Agent) Execute(d queue.Demand) {
	switch d.Kind {
	case queue.EvtStart:
		a.execEvtStart()
	case queue.EvtFinish:
		a.execEvtFinish(d)
	case queue.OnMessage:
		a.execOnMessage(d)
	case queue.OnEnveloped:
		a.execOnEnveloped(d)
	}
}

func (a *Agent) execEvtStart() {
	if a.bindingBarrier != nil {
		<-a.bindingBarrier
	}
	thread := ids.NextThreadID()
	a.setWorkingThread(thread)
	defer a.setWorkingThread(ids.NoThread)
	a.guard(func() error {
		if a.hooks.EvtStart != nil {
			return a.hooks.EvtStart(a)
		}
		return nil
	})
}

func (a *Agent) execEvtFinish(d queue.Demand) {
	thread := ids.NextThreadID()
	a.setWorkingThread(thread)
	a.guard(func() error {
		if a.hooks.EvtFinish != nil {
			return a.hooks.EvtFinish(a)
		}
		return nil
	})
	//1.- Force a return to the default state, running exit hooks along the
	// way, regardless of whether so_evt_finish succeeded.
	if def := a.machine.DefaultState(); def != nil {
		_ = a.machine.ChangeState(def)
	}
	a.setWorkingThread(ids.NoThread)
	if a.coopUsage != nil {
		if v := a.coopUsage.Release(); v == 0 && a.hooks.OnUsageZero != nil {
			a.hooks.OnUsageZero()
		}
	}
	if d.ReleaseHook != nil {
		d.ReleaseHook()
	}
}

func (a *Agent) execOnMessage(d queue.Demand) {
	if d.ReleaseHook != nil {
		d.ReleaseHook()
	}
	// Plain on_message: an intermediate subscription switches state
	// without invoking its handler, per spec.md §4.6.
	rec, ok := a.resolveTransferChain(d.MboxID, d.Msg, false)
	if !ok {
		return
	}
	a.runHandler(rec, d.Msg)
}

func (a *Agent) execOnEnveloped(d queue.Demand) {
	if d.ReleaseHook != nil {
		d.ReleaseHook()
	}
	env, _ := message.AsEnvelope(d.Msg)
	// on_enveloped_msg: an intermediate subscription is invoked with the
	// whole envelope before the transfer, per spec.md §4.7.
	rec, ok := a.resolveTransferChain(d.MboxID, d.Msg, true)
	if !ok {
		// No handler found: let the envelope observe the "not handled"
		// inspection path, per spec.md §4.7.
		if env != nil {
			message.Unwrap(env)
		}
		return
	}
	if env == nil {
		a.runHandler(rec, d.Msg)
		return
	}
	env.AccessHook(message.ContextHandlerFound, message.InvokerFunc(func(inner message.Message) {
		a.runHandler(rec, inner)
	}))
}

// resolveTransferChain looks up the handler for (mbox, msg) in the agent's
// current state and, while it finds an Intermediate/transfer_to_state
// subscription, optionally invokes it (on_enveloped_msg passes the whole
// envelope to an intermediate handler before transferring; plain on_message
// does not) then switches to the transfer target and re-runs the
// handler-finder there for the same (mbox, type), per spec.md §4.6. A state
// revisited within the same chain without reaching a final handler raises
// rc_transfer_to_state_loop via the exception-reaction path, matching the
// "either a final handler is eventually invoked or the runtime raises
// rc_transfer_to_state_loop" property.
func (a *Agent) resolveTransferChain(mbox ids.MboxID, msg message.Message, invokeIntermediate bool) (*subscription.Record, bool) {
	visited := map[*hsm.State]struct{}{}
	for {
		rec, ok := a.findHandler(mbox, msg)
		if !ok {
			return nil, false
		}
		if rec.Disposition != subscription.Intermediate || rec.TransferTarget == nil {
			return rec, true
		}
		if invokeIntermediate {
			a.runHandler(rec, msg)
		}
		if current := a.machine.Current(); current != nil {
			visited[current] = struct{}{}
		}
		if _, seen := visited[rec.TransferTarget]; seen {
			a.reactToException(rc.New(rc.TransferToStateLoop, "transfer_to_state revisited a state without reaching a final handler"))
			return nil, false
		}
		if err := a.machine.ChangeState(rec.TransferTarget); err != nil {
			a.reactToException(err)
			return nil, false
		}
	}
}

func (a *Agent) runHandler(rec *subscription.Record, msg message.Message) {
	if rec.Fn == nil || rec.Disposition == subscription.Suppress {
		return
	}
	thread := ids.NextThreadID()
	a.setWorkingThread(thread)
	defer a.setWorkingThread(ids.NoThread)
	a.guard(func() error { return rec.Fn(msg) })
}

func (a *Agent) findHandler(mbox ids.MboxID, msg message.Message) (*subscription.Record, bool) {
	typ := msg.Type()
	for state := a.machine.Current(); state != nil; state = state.Parent() {
		if rec, ok := a.subs.Find(subscription.Key{Mbox: mbox, Type: typ, State: state}); ok {
			return rec, true
		}
		for chain := msg.Upcasters(); chain != nil; chain = chain.Next {
			if rec, ok := a.subs.Find(subscription.Key{Mbox: mbox, Type: chain.Base, State: state}); ok {
				return rec, true
			}
		}
	}
	if rec, ok := a.subs.Find(subscription.Key{Mbox: mbox, Type: typ, State: hsm.Deadletter}); ok {
		return rec, true
	}
	return nil, false
}

// enterTimeLimitedState implements spec.md §4.6's time-limit scheduling: if
// s declares a TimeLimitDescriptor and the agent has a timer source, it
// lazily creates a dedicated MPSC mailbox for s, installs a Final
// subscription on it that switches to the descriptor's target, and
// schedules a periodic self-signal at the descriptor's duration. It is a
// no-op for states with no time limit, or if no timer source was wired.
func (a *Agent) enterTimeLimitedState(s *hsm.State) {
	if s == nil {
		return
	}
	tl := s.TimeLimitDescriptor()
	if tl == nil || a.timerSrc == nil {
		return
	}
	mbox := mailbox.NewDirect(a, nil, nil)
	key := subscription.Key{Mbox: mbox.ID(), Type: timeLimitSignalType, State: s}
	target := tl.Target
	if err := a.subs.Create(key, &subscription.Record{
		Disposition: subscription.Final,
		Fn: func(message.Message) error {
			return a.machine.ChangeState(target)
		},
	}); err != nil {
		return
	}
	msg := message.NewClassical(timeLimitSignal{}, message.Immutable, nil)
	handle, err := a.timerSrc.Schedule(mbox, msg, tl.Duration, tl.Duration)
	if err != nil {
		a.subs.Drop(key)
		return
	}
	a.timeLimits[s] = &timeLimitRuntime{mbox: mbox, handle: handle}
}

// exitTimeLimitedState releases the timer handle and drops the subscription
// installed by enterTimeLimitedState, per spec.md §4.6's "on exit from S,
// the timer is released and the subscription dropped".
func (a *Agent) exitTimeLimitedState(s *hsm.State) {
	if s == nil {
		return
	}
	rt, ok := a.timeLimits[s]
	if !ok {
		return
	}
	delete(a.timeLimits, s)
	rt.handle.Release()
	a.subs.Drop(subscription.Key{Mbox: rt.mbox.ID(), Type: timeLimitSignalType, State: s})
}

// guard runs fn under the panic-to-exception-reaction boundary spec.md §4.7
// requires around every handler invocation.
func (a *Agent) guard(fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			a.reactToException(panicToError(r))
		}
	}()
	if err := fn(); err != nil {
		a.reactToException(err)
	}
}

func (a *Agent) reactToException(err error) {
	reaction := Abort
	if a.hooks.ResolveReaction != nil {
		reaction = a.hooks.ResolveReaction(err)
	}
	switch reaction {
	case ShutdownSObjectizer:
		if a.hooks.OnShutdownSObjectizer != nil {
			a.hooks.OnShutdownSObjectizer()
			return
		}
		fallthrough
	case Abort:
		a.fatal(err.Error())
	case DeregisterCoop:
		if a.hooks.OnDeregisterCoop != nil {
			a.hooks.OnDeregisterCoop(err)
		}
	case IgnoreAndStayActive:
		// swallow
	default:
		a.fatal(err.Error())
	}
}

func (a *Agent) fatal(reason string) {
	logging.L().Error("agent fatal error", logging.String("reason", reason))
	if a.hooks.OnFatal != nil {
		a.hooks.OnFatal(reason)
		return
	}
	panic("agent: fatal: " + reason)
}

func panicToError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return rc.New(rc.AgentDeactivated, "panic: "+toString(r))
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "non-string panic value"
}
