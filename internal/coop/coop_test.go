package coop

import (
	"sync"
	"testing"
	"time"

	"actorcore/internal/agent"
	"actorcore/internal/dispatcher"
	"actorcore/internal/hsm"
	"actorcore/internal/ids"
	"actorcore/internal/queue"
)

func buildTestAgent(t *testing.T, c *Coop) *agent.Agent {
	t.Helper()
	root, err := hsm.NewState("root", nil)
	if err != nil {
		t.Fatalf("root state: %v", err)
	}
	return agent.New(root, nil, agent.Hooks{OnUsageZero: c.UsageZeroHook()}, c.Usage(), nil)
}

// sharedQueueBinder binds every agent in a coop to one ThreadPerAgent
// instance, yielding cooperation-FIFO ordering (spec.md §8 scenario S1).
type sharedQueueBinder struct{ q *dispatcher.ThreadPerAgent }

func (b sharedQueueBinder) QueueFor(*Coop, *agent.Agent) queue.EventQueue { return b.q }

func TestRegisterBindsEveryAgentAndReleasesBarrier(t *testing.T) {
	c := New("root-coop", nil, nil)
	a1 := buildTestAgent(t, c)
	a2 := buildTestAgent(t, c)
	if err := c.AddAgent(a1, 0); err != nil {
		t.Fatalf("add agent 1: %v", err)
	}
	if err := c.AddAgent(a2, 10); err != nil {
		t.Fatalf("add agent 2: %v", err)
	}

	q := dispatcher.NewThreadPerAgent(8)
	defer q.Close()

	if err := c.Register(sharedQueueBinder{q}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if c.Status() != Registered {
		t.Fatalf("expected coop Registered, got %v", c.Status())
	}
	if a1.Status() != agent.Registered || a2.Status() != agent.Registered {
		t.Fatalf("expected both agents Registered, got %v / %v", a1.Status(), a2.Status())
	}
}

func TestRegisterRejectsSecondCallWhileInProgress(t *testing.T) {
	c := New("root-coop", nil, nil)
	q := dispatcher.NewThreadPerAgent(8)
	defer q.Close()

	if err := c.Register(sharedQueueBinder{q}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := c.Register(sharedQueueBinder{q}); err == nil {
		t.Fatalf("expected second register on an already-registered coop to fail")
	}
}

func TestAddAgentRejectedAfterRegistrationStarted(t *testing.T) {
	c := New("root-coop", nil, nil)
	a := buildTestAgent(t, c)
	q := dispatcher.NewThreadPerAgent(8)
	defer q.Close()

	if err := c.Register(sharedQueueBinder{q}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := c.AddAgent(a, 0); err == nil {
		t.Fatalf("expected AddAgent to fail once registration has started")
	}
}

func TestDeregisterShutsDownAgentsAndFinalizes(t *testing.T) {
	c := New("root-coop", nil, nil)
	a1 := buildTestAgent(t, c)
	a2 := buildTestAgent(t, c)
	c.AddAgent(a1, 0)
	c.AddAgent(a2, 0)

	q := dispatcher.NewThreadPerAgent(8)
	defer q.Close()
	if err := c.Register(sharedQueueBinder{q}); err != nil {
		t.Fatalf("register: %v", err)
	}

	var mu sync.Mutex
	var gotReason string
	c.OnDeregistered(func(_ *Coop, reason string) {
		mu.Lock()
		gotReason = reason
		mu.Unlock()
	})

	c.Deregister("test-shutdown")
	if c.Status() != Deregistering && c.Status() != Deregistered {
		t.Fatalf("expected Deregistering or terminal Deregistered immediately, got %v", c.Status())
	}

	// Agent evt-finish demands are processed asynchronously by the shared
	// dispatcher worker; poll briefly for the usage counter to reach zero
	// and the coop to finalize.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.Status() == Deregistered {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if c.Status() != Deregistered {
		t.Fatalf("expected coop to finalize to Deregistered, got %v", c.Status())
	}
	mu.Lock()
	defer mu.Unlock()
	if gotReason != "test-shutdown" {
		t.Fatalf("expected deregistration notificator to observe reason, got %q", gotReason)
	}
	if a1.Status() != agent.Deregistering || a2.Status() != agent.Deregistering {
		t.Fatalf("expected both agents Deregistering, got %v / %v", a1.Status(), a2.Status())
	}
}

func TestChildCoopRegistrationIncrementsParentUsage(t *testing.T) {
	parent := New("parent", nil, nil)
	qParent := dispatcher.NewThreadPerAgent(8)
	defer qParent.Close()
	if err := parent.Register(sharedQueueBinder{qParent}); err != nil {
		t.Fatalf("register parent: %v", err)
	}
	baseline := parent.Usage().Count()

	child := New("child", parent, nil)
	a := buildTestAgent(t, child)
	child.AddAgent(a, 0)
	qChild := dispatcher.NewThreadPerAgent(8)
	defer qChild.Close()
	if err := child.Register(sharedQueueBinder{qChild}); err != nil {
		t.Fatalf("register child: %v", err)
	}

	if parent.Usage().Count() != baseline+1 {
		t.Fatalf("expected child registration to retain parent usage, got %d (baseline %d)", parent.Usage().Count(), baseline)
	}
	if got := parent.Children(); len(got) != 1 || got[0] != child {
		t.Fatalf("expected parent to list the registered child")
	}
}

func TestParentDeregisterCascadesToChildren(t *testing.T) {
	parent := New("parent", nil, nil)
	qParent := dispatcher.NewThreadPerAgent(8)
	defer qParent.Close()
	if err := parent.Register(sharedQueueBinder{qParent}); err != nil {
		t.Fatalf("register parent: %v", err)
	}

	child := New("child", parent, nil)
	a := buildTestAgent(t, child)
	child.AddAgent(a, 0)
	qChild := dispatcher.NewThreadPerAgent(8)
	defer qChild.Close()
	if err := child.Register(sharedQueueBinder{qChild}); err != nil {
		t.Fatalf("register child: %v", err)
	}

	parent.Deregister("parent-shutdown")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if child.Status() == Deregistered && parent.Status() == Deregistered {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if child.Status() != Deregistered {
		t.Fatalf("expected child to finalize, got %v", child.Status())
	}
	if child.Reason() != "parent_deregistration" {
		t.Fatalf("expected child deregistration reason to be parent_deregistration, got %q", child.Reason())
	}
	if parent.Status() != Deregistered {
		t.Fatalf("expected parent to finalize once its own usage (registration + child) drains, got %v", parent.Status())
	}
	if len(parent.Children()) != 0 {
		t.Fatalf("expected child to be unlinked from parent on finalize")
	}
}

func TestRegisterRollsBackOnBindFailure(t *testing.T) {
	c := New("root-coop", nil, nil)
	good := buildTestAgent(t, c)
	c.AddAgent(good, 10)

	// A bad agent is bound to an already-closed queue, so its
	// BindToDispatcher call fails and registration must roll back.
	badQueue := dispatcher.NewThreadPerAgent(1)
	badQueue.Close()
	bad := buildTestAgent(t, c)
	c.AddAgent(bad, 0)

	goodQueue := dispatcher.NewThreadPerAgent(8)
	defer goodQueue.Close()

	binder := BinderFunc(func(_ *Coop, a *agent.Agent) queue.EventQueue {
		if a == bad {
			return badQueue
		}
		return goodQueue
	})

	if err := c.Register(binder); err == nil {
		t.Fatalf("expected registration to fail when one agent cannot bind")
	}
	if c.Status() != NotRegistered {
		t.Fatalf("expected coop to roll back to NotRegistered, got %v", c.Status())
	}
}
