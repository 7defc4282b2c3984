package hsm

import "actorcore/internal/rc"

// Deadletter is the process-wide sentinel state used as a fallback lookup
// key in the handler-finder when no state-specific subscription matched,
// per spec.md §4.5. It is a plain root state: it is never actually
// activated, only used as a map key.
var Deadletter = MustNewState("deadletter", nil)

// AwaitingDeregistration is the process-wide sentinel state an agent is
// parked in after an unhandled exception, per spec.md §4.5. A transition
// into it is one-way: Machine.ChangeState rejects any further transition
// once current == AwaitingDeregistration.
var AwaitingDeregistration = MustNewState("awaiting-deregistration", nil)

// Machine owns one agent's current-state pointer and enforces the
// re-entrancy guard and transition algorithm described in spec.md §4.6.
type Machine struct {
	current   *State
	def       *State
	switching bool
	onFatal   func(reason string)

	onEnterState func(*State)
	onExitState  func(*State)
}

// NewMachine constructs a Machine whose initial current state is
// defaultState (already resolved to a leaf by the caller, typically via
// Activate). The same state is remembered as the machine's default so
// evt-finish can force a return to it, per spec.md §4.7.
func NewMachine(defaultState *State) *Machine {
	return &Machine{current: defaultState, def: defaultState}
}

// DefaultState returns the state the machine was constructed with.
func (m *Machine) DefaultState() *State { return m.def }

// OnFatal installs the callback invoked when an enter/exit hook panics.
// Hooks are declared noexcept (spec.md §4.6): a panic crossing one is
// unrecoverable and must abort the process, matching spec.md §7's
// "noexcept boundaries" rule. The default, if none is installed, re-panics.
func (m *Machine) OnFatal(fn func(reason string)) { m.onFatal = fn }

// SetStateObservers installs callbacks ChangeState invokes whenever it
// enters or exits a state, in addition to that state's own onEnter/onExit
// hooks. This is how internal/agent wires time-limit scheduling (mailbox +
// timer) without hsm needing to know about mailboxes or timers at all;
// hsm only carries the TimeLimit declaration itself.
func (m *Machine) SetStateObservers(onEnter, onExit func(*State)) {
	m.onEnterState = onEnter
	m.onExitState = onExit
}

// Current returns the machine's current leaf state.
func (m *Machine) Current() *State { return m.current }

// IsActive reports whether state is the machine's current state or one of
// its active ancestors.
func (m *Machine) IsActive(state *State) bool {
	for cur := m.current; cur != nil; cur = cur.parent {
		if cur == state {
			return true
		}
	}
	return false
}

func (m *Machine) runHook(name string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			if m.onFatal != nil {
				m.onFatal(name + " panicked: " + toString(r))
			} else {
				panic(r)
			}
		}
	}()
	fn()
}

func toString(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "non-string panic value"
}

// ChangeState runs the five-step transition algorithm from spec.md §4.6:
// compute root-to-leaf paths for the current and target state, find the
// divergence point, exit up to it, enter down to the resolved target
// leaf, then propagate history.
func (m *Machine) ChangeState(target *State) error {
	if target == nil {
		return rc.New(rc.AgentUnknownState, "nil target state")
	}
	if m.switching {
		return rc.New(rc.AnotherStateSwitchInProgress, "")
	}
	if m.current == AwaitingDeregistration {
		return rc.New(rc.AgentDeactivated, "cannot leave awaiting-deregistration")
	}

	leaf, err := Activate(target)
	if err != nil {
		return err
	}

	m.switching = true
	defer func() { m.switching = false }()

	fromPath := m.current.path()
	toPath := leaf.path()

	//1.- Find k, the first index at which the two paths diverge (the
	// length of their common prefix).
	k := 0
	for k < len(fromPath) && k < len(toPath) && fromPath[k] == toPath[k] {
		k++
	}

	//2.- Exit from the current leaf up to (and including) level k,
	// updating the current pointer as each level is exited.
	for i := len(fromPath) - 1; i >= k; i-- {
		s := fromPath[i]
		m.runHook("on_exit:"+s.Name, func() {
			if s.onExit != nil {
				s.onExit()
			}
		})
		if m.onExitState != nil {
			m.onExitState(s)
		}
		if i > 0 {
			m.current = fromPath[i-1]
		}
	}

	//3.- Enter from level k down to the resolved leaf, updating the
	// current pointer as each level is entered.
	for i := k; i < len(toPath); i++ {
		s := toPath[i]
		m.runHook("on_enter:"+s.Name, func() {
			if s.onEnter != nil {
				s.onEnter()
			}
		})
		if m.onEnterState != nil {
			m.onEnterState(s)
		}
		m.current = s
	}

	m.current = leaf

	//4.- Propagate history: every composite ancestor of the new leaf
	// records either the immediate child on the path (shallow) or the
	// leaf itself (deep).
	for i := 0; i < len(toPath)-1; i++ {
		ancestor := toPath[i]
		switch ancestor.history {
		case Shallow:
			ancestor.lastActive = toPath[i+1]
		case Deep:
			ancestor.lastActive = leaf
		}
	}

	return nil
}
