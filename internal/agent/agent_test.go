package agent

import (
	"strings"
	"testing"
	"time"

	"actorcore/internal/hsm"
	"actorcore/internal/ids"
	"actorcore/internal/message"
	"actorcore/internal/queue"
	"actorcore/internal/rc"
	"actorcore/internal/subscription"
	"actorcore/internal/timer"
)

// inlineQueue is a test-only EventQueue that executes every pushed demand
// synchronously on the pushing goroutine, standing in for a real dispatcher
// worker thread (out of core scope per spec.md §1).
type inlineQueue struct{}

func (inlineQueue) Push(d queue.Demand) error         { d.Receiver.Execute(d); return nil }
func (inlineQueue) PushEvtStart(d queue.Demand) error  { d.Receiver.Execute(d); return nil }
func (inlineQueue) PushEvtFinish(d queue.Demand) error { d.Receiver.Execute(d); return nil }

type pingMsg struct{ n int }

func buildAgent(t *testing.T, define Definition, hooks Hooks) *Agent {
	t.Helper()
	root, err := hsm.NewState("root", nil)
	if err != nil {
		t.Fatalf("root state: %v", err)
	}
	a := New(root, define, hooks, ids.NewRefCounted(0), nil)
	return a
}

func TestInitiateDefinitionAllowsSubscribeThenLocksAfter(t *testing.T) {
	var called bool
	a := buildAgent(t, func(ag *Agent) error {
		called = true
		state := ag.Machine().Current()
		return ag.Subscribe(ag.ID(), message.TypeOf[pingMsg](), state, &subscription.Record{
			Fn: func(message.Message) error { return nil },
		})
	}, Hooks{})

	if err := a.InitiateDefinition(); err != nil {
		t.Fatalf("initiate definition: %v", err)
	}
	if !called {
		t.Fatalf("expected the definition callback to run")
	}
	if a.Status() != Defined {
		t.Fatalf("expected status Defined, got %v", a.Status())
	}

	// Outside the dispatch window, Unsubscribe must fail.
	if err := a.Unsubscribe(a.ID(), message.TypeOf[pingMsg](), a.Machine().Current()); err == nil {
		t.Fatalf("expected unsubscribe outside the dispatch window to fail")
	}
}

func TestBindPushesEvtStartBeforeStoringQueue(t *testing.T) {
	var evtStarted bool
	a := buildAgent(t, nil, Hooks{
		EvtStart: func(ag *Agent) error { evtStarted = true; return nil },
	})
	if err := a.BindToDispatcher(inlineQueue{}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if !evtStarted {
		t.Fatalf("expected evt-start to have run synchronously during bind")
	}
	if a.Status() != Registered {
		t.Fatalf("expected status Registered after bind, got %v", a.Status())
	}
}

func TestOnMessageInvokesMatchedHandler(t *testing.T) {
	var got int
	typ := message.TypeOf[pingMsg]()
	a := buildAgent(t, func(ag *Agent) error {
		return ag.Subscribe(ag.ID(), typ, ag.Machine().Current(), &subscription.Record{
			Fn: func(msg message.Message) error {
				got = msg.Payload().(pingMsg).n
				return nil
			},
		})
	}, Hooks{})
	if err := a.InitiateDefinition(); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := a.BindToDispatcher(inlineQueue{}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	msg := message.NewClassical(pingMsg{n: 42}, message.Immutable, nil)
	if err := a.DirectMbox().Deliver(message.Ordinary, msg); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected handler to observe payload 42, got %d", got)
	}
}

func TestHandlerFinderFallsBackToDeadletter(t *testing.T) {
	var hitDeadletter bool
	typ := message.TypeOf[pingMsg]()
	a := buildAgent(t, func(ag *Agent) error {
		return ag.Subscribe(ag.ID(), typ, hsm.Deadletter, &subscription.Record{
			Fn: func(message.Message) error { hitDeadletter = true; return nil },
		})
	}, Hooks{})
	a.InitiateDefinition()
	a.BindToDispatcher(inlineQueue{})

	msg := message.NewClassical(pingMsg{n: 1}, message.Immutable, nil)
	a.DirectMbox().Deliver(message.Ordinary, msg)
	if !hitDeadletter {
		t.Fatalf("expected the deadletter subscription to fire when no state-scoped handler matched")
	}
}

func TestUnhandledExceptionAbortsByDefault(t *testing.T) {
	var fatalReason string
	typ := message.TypeOf[pingMsg]()
	a := buildAgent(t, func(ag *Agent) error {
		return ag.Subscribe(ag.ID(), typ, ag.Machine().Current(), &subscription.Record{
			Fn: func(message.Message) error { panic("boom") },
		})
	}, Hooks{OnFatal: func(reason string) { fatalReason = reason }})
	a.InitiateDefinition()
	a.BindToDispatcher(inlineQueue{})

	msg := message.NewClassical(pingMsg{n: 1}, message.Immutable, nil)
	a.DirectMbox().Deliver(message.Ordinary, msg)
	if fatalReason == "" {
		t.Fatalf("expected the default exception reaction to abort")
	}
}

func TestIgnoreReactionSwallowsException(t *testing.T) {
	var fatalCalled bool
	typ := message.TypeOf[pingMsg]()
	a := buildAgent(t, func(ag *Agent) error {
		return ag.Subscribe(ag.ID(), typ, ag.Machine().Current(), &subscription.Record{
			Fn: func(message.Message) error { panic("boom") },
		})
	}, Hooks{
		OnFatal:         func(string) { fatalCalled = true },
		ResolveReaction: func(error) ExceptionReaction { return IgnoreAndStayActive },
	})
	a.InitiateDefinition()
	a.BindToDispatcher(inlineQueue{})

	msg := message.NewClassical(pingMsg{n: 1}, message.Immutable, nil)
	a.DirectMbox().Deliver(message.Ordinary, msg)
	if fatalCalled {
		t.Fatalf("expected ignore-and-stay-active not to reach the fatal hook")
	}
}

func TestShutdownPushesEvtFinishAndReleasesCoopUsage(t *testing.T) {
	usage := ids.NewRefCounted(0)
	var finished bool
	root, _ := hsm.NewState("root", nil)
	a := New(root, nil, Hooks{EvtFinish: func(*Agent) error { finished = true; return nil }}, usage, nil)
	a.BindToDispatcher(inlineQueue{})
	if usage.Count() != 1 {
		t.Fatalf("expected bind to retain the coop usage counter, got %d", usage.Count())
	}

	a.ShutdownAgent()
	if !finished {
		t.Fatalf("expected evt-finish to run during shutdown")
	}
	if usage.Count() != 0 {
		t.Fatalf("expected evt-finish to release the coop usage counter, got %d", usage.Count())
	}
	if a.Status() != Deregistering {
		t.Fatalf("expected status Deregistering after shutdown, got %v", a.Status())
	}

	// A demand delivered after shutdown must fail: the queue pointer is nil.
	if err := a.HandleDemand(queue.Demand{}); err == nil {
		t.Fatalf("expected HandleDemand to fail once the agent is unbound")
	}
}

// TestTransferToStateChainReachesFinalHandler exercises a two-hop
// transfer_to_state chain: sA's Intermediate subscription switches to sB,
// where a Final subscription for the same message type actually runs.
func TestTransferToStateChainReachesFinalHandler(t *testing.T) {
	root, _ := hsm.NewState("root", nil)
	sA, _ := hsm.NewState("sA", root)
	sB, _ := hsm.NewState("sB", root)
	typ := message.TypeOf[pingMsg]()

	var got int
	a := New(sA, func(ag *Agent) error {
		if err := ag.Subscribe(ag.ID(), typ, sA, &subscription.Record{
			Disposition:    subscription.Intermediate,
			TransferTarget: sB,
		}); err != nil {
			return err
		}
		return ag.Subscribe(ag.ID(), typ, sB, &subscription.Record{
			Fn: func(msg message.Message) error {
				got = msg.Payload().(pingMsg).n
				return nil
			},
		})
	}, Hooks{}, ids.NewRefCounted(0), nil)
	a.InitiateDefinition()
	a.BindToDispatcher(inlineQueue{})

	msg := message.NewClassical(pingMsg{n: 7}, message.Immutable, nil)
	if err := a.DirectMbox().Deliver(message.Ordinary, msg); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got != 7 {
		t.Fatalf("expected the final handler in sB to observe payload 7, got %d", got)
	}
	if a.Machine().Current() != sB {
		t.Fatalf("expected the machine to have switched to sB")
	}
}

// TestTransferToStateLoopRaisesTransferToStateLoop exercises a cyclic
// transfer_to_state chain (sA -> sB -> sA) that never reaches a final
// handler; the runtime must raise rc_transfer_to_state_loop rather than
// recursing forever.
func TestTransferToStateLoopRaisesTransferToStateLoop(t *testing.T) {
	root, _ := hsm.NewState("root", nil)
	sA, _ := hsm.NewState("sA", root)
	sB, _ := hsm.NewState("sB", root)
	typ := message.TypeOf[pingMsg]()

	var fatalReason string
	a := New(sA, func(ag *Agent) error {
		if err := ag.Subscribe(ag.ID(), typ, sA, &subscription.Record{
			Disposition:    subscription.Intermediate,
			TransferTarget: sB,
		}); err != nil {
			return err
		}
		return ag.Subscribe(ag.ID(), typ, sB, &subscription.Record{
			Disposition:    subscription.Intermediate,
			TransferTarget: sA,
		})
	}, Hooks{OnFatal: func(reason string) { fatalReason = reason }}, ids.NewRefCounted(0), nil)
	a.InitiateDefinition()
	a.BindToDispatcher(inlineQueue{})

	msg := message.NewClassical(pingMsg{n: 1}, message.Immutable, nil)
	a.DirectMbox().Deliver(message.Ordinary, msg)
	if fatalReason == "" {
		t.Fatalf("expected a transfer_to_state cycle to raise a fatal reaction")
	}
	if want := rc.TransferToStateLoop.String(); !strings.Contains(fatalReason, want) {
		t.Fatalf("expected fatal reason to mention %q, got %q", want, fatalReason)
	}
}

// TestTimeLimitSchedulesForcedTransition exercises spec.md §4.6 scenario S6:
// entering a state with a declared time limit schedules a self-signal that,
// after the duration elapses, switches the agent to the descriptor's target
// even though no external message ever arrives.
func TestTimeLimitSchedulesForcedTransition(t *testing.T) {
	root, _ := hsm.NewState("root", nil)
	s1, _ := hsm.NewState("s1", root)
	s2, _ := hsm.NewState("s2", root)
	if err := s1.SetTimeLimit(&hsm.TimeLimit{Duration: 10 * time.Millisecond, Target: s2}); err != nil {
		t.Fatalf("set time limit: %v", err)
	}

	src := timer.NewSource()
	defer src.Close()
	a := New(s1, nil, Hooks{TimerSource: src}, ids.NewRefCounted(0), nil)
	a.InitiateDefinition()
	a.BindToDispatcher(inlineQueue{})

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if a.Machine().Current() == s2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if a.Machine().Current() != s2 {
		t.Fatalf("expected the time limit to force a transition into s2, got %v", a.Machine().Current())
	}
}
