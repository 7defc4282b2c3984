// Package hsm implements the hierarchical state machine described in
// spec.md §3/§4.6: nested composite states with shallow/deep history,
// initial substates, enter/exit hooks, time-limited states, and the
// transfer-to-state + deadletter lookup semantics used by the agent
// runtime's handler-finder. It is grounded on the teacher's
// internal/match/flow.go timing-state bookkeeping (deaths/shields maps
// keyed by entity with clock-driven transitions) generalised into a
// proper nested state tree.
package hsm

import (
	"time"

	"actorcore/internal/rc"
)

// MaxNestingLevel bounds how deep a state tree may nest, per spec.md §3.
const MaxNestingLevel = 16

// HistoryMode controls what Activate does when re-entering a composite
// state.
type HistoryMode int

const (
	NoHistory HistoryMode = iota
	Shallow
	Deep
)

// TimeLimit declares that entering a state schedules a periodic
// self-signal which, after Duration elapses, switches the agent to
// Target. The actual timer wiring (mailbox, subscription, cancellation)
// is owned by internal/agent, which is the only layer with access to both
// the timer facade and the agent's own mailbox; hsm only carries the
// declaration.
type TimeLimit struct {
	Duration time.Duration
	Target   *State
}

// EnterHook and ExitHook run as a state is entered or exited. Per
// spec.md §4.6 these are declared noexcept: a hook that panics is
// reported through the Machine's fatal handler and the transition is
// not rolled back, because the HSM cannot safely unwind a partial
// transition.
type EnterHook func()
type ExitHook func()

// State is one node in an agent's hierarchical state machine.
type State struct {
	Name string

	parent   *State
	children []*State
	level    int

	initial    *State
	history    HistoryMode
	lastActive *State

	onEnter EnterHook
	onExit  ExitHook

	timeLimit *TimeLimit
}

// NewState constructs a state under the given parent (nil for a root
// state) and enforces the maximum nesting depth.
func NewState(name string, parent *State) (*State, error) {
	level := 0
	if parent != nil {
		level = parent.level + 1
	}
	if level > MaxNestingLevel {
		return nil, rc.New(rc.StateNestingTooDeep, name)
	}
	s := &State{Name: name, parent: parent, level: level}
	if parent != nil {
		parent.children = append(parent.children, s)
	}
	return s, nil
}

// MustNewState is a convenience wrapper for static state-tree construction
// (typically in package-level var blocks or test fixtures) where a
// nesting-depth violation is a programming error that should fail fast.
func MustNewState(name string, parent *State) *State {
	s, err := NewState(name, parent)
	if err != nil {
		panic(err)
	}
	return s
}

// Parent returns the enclosing composite state, or nil for a root state.
func (s *State) Parent() *State { return s.parent }

// Level returns the nesting depth (0 for a root state).
func (s *State) Level() int { return s.level }

// IsComposite reports whether the state has any declared substates.
func (s *State) IsComposite() bool { return len(s.children) > 0 }

// SetInitial declares the substate entered by default when this composite
// state is activated and no history substate has been recorded yet. It
// may be called only once per state.
func (s *State) SetInitial(child *State) error {
	if s.initial != nil {
		return rc.New(rc.InitialSubstateAlreadyDefined, s.Name)
	}
	s.initial = child
	return nil
}

// SetHistory configures the history mode for this composite state.
func (s *State) SetHistory(mode HistoryMode) { s.history = mode }

// OnEnter installs the enter hook, returning s for chaining.
func (s *State) OnEnter(fn EnterHook) *State {
	s.onEnter = fn
	return s
}

// OnExit installs the exit hook, returning s for chaining.
func (s *State) OnExit(fn ExitHook) *State {
	s.onExit = fn
	return s
}

// SetTimeLimit validates and stores a time-limit declaration. Replacing an
// existing time limit builds the new descriptor before discarding the old
// one is the caller's (internal/agent's) responsibility, per spec.md
// §4.6's exception-safety note; this method itself is a simple setter.
func (s *State) SetTimeLimit(tl *TimeLimit) error {
	if tl != nil && tl.Duration <= 0 {
		return rc.New(rc.InvalidTimeLimitForState, s.Name)
	}
	s.timeLimit = tl
	return nil
}

// TimeLimitDescriptor returns the declared time limit, or nil.
func (s *State) TimeLimitDescriptor() *TimeLimit { return s.timeLimit }

// path returns the root-to-s slice of ancestors including s itself.
func (s *State) path() []*State {
	path := make([]*State, s.level+1)
	cur := s
	for i := s.level; i >= 0; i-- {
		path[i] = cur
		cur = cur.parent
	}
	return path
}

// Activate resolves a (possibly composite) target state down to an actual
// leaf, following last-active-substate (history) or initial-substate at
// every composite level, per spec.md §4.6.
func Activate(state *State) (*State, error) {
	cur := state
	for cur.IsComposite() {
		if cur.lastActive != nil {
			cur = cur.lastActive
			continue
		}
		if cur.initial != nil {
			cur = cur.initial
			continue
		}
		return nil, rc.New(rc.NoInitialSubstate, cur.Name)
	}
	return cur, nil
}
