package env

import (
	"sync"
	"testing"
	"time"

	"actorcore/internal/agent"
	"actorcore/internal/coop"
	"actorcore/internal/hsm"
	"actorcore/internal/message"
	"actorcore/internal/subscription"
)

type pingMsg struct{ n int }
type pongMsg struct{ n int }

// TestRunWiresRootCoopAndDispatchesPingPong exercises the full construction
// order: New resolves config/logging/stats/tracing, Run registers a child
// coop holding a ping/pong agent pair bound to the shared default
// dispatcher (cooperation-FIFO, spec.md §8 scenario S1), and Stop tears
// everything down once the guard is released.
func TestRunWiresRootCoopAndDispatchesPingPong(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var (
		mu     sync.Mutex
		rounds int
	)
	done := make(chan struct{})

	pingState := hsm.MustNewState("ping-default", nil)
	pongState := hsm.MustNewState("pong-default", nil)

	var pingAgent, pongAgent *agent.Agent

	pongDefine := func(a *agent.Agent) error {
		return a.Subscribe(a.ID(), message.TypeOf[pingMsg](), pongState, &subscription.Record{
			Disposition: subscription.Final,
			Fn: func(msg message.Message) error {
				in := msg.Payload().(pingMsg)
				return pingAgent.DirectMbox().Deliver(message.Ordinary,
					message.NewClassical(pongMsg{n: in.n}, message.Immutable, nil))
			},
		})
	}

	pingDefine := func(a *agent.Agent) error {
		return a.Subscribe(a.ID(), message.TypeOf[pongMsg](), pingState, &subscription.Record{
			Disposition: subscription.Final,
			Fn: func(msg message.Message) error {
				mu.Lock()
				rounds++
				r := rounds
				mu.Unlock()
				if r >= 3 {
					close(done)
					return nil
				}
				in := msg.Payload().(pongMsg)
				return pongAgent.DirectMbox().Deliver(message.Ordinary,
					message.NewClassical(pingMsg{n: in.n + 1}, message.Immutable, nil))
			},
		})
	}

	var demo *coop.Coop
	err = e.Run(true, func(e *Environment) error {
		demo = coop.New("ping-pong", e.RootCoop(), nil)
		pongAgent = agent.New(pongState, pongDefine, e.NewAgentHooks(demo), demo.Usage(), nil)
		pingAgent = agent.New(pingState, pingDefine, e.NewAgentHooks(demo), demo.Usage(), nil)
		if err := demo.AddAgent(pongAgent, 0); err != nil {
			return err
		}
		if err := demo.AddAgent(pingAgent, 0); err != nil {
			return err
		}
		if err := demo.Register(e.DefaultBinder()); err != nil {
			return err
		}
		return pongAgent.DirectMbox().Deliver(message.Ordinary,
			message.NewClassical(pingMsg{n: 1}, message.Immutable, nil))
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("ping-pong exchange did not complete in time")
	}

	e.Stop()

	mu.Lock()
	defer mu.Unlock()
	if rounds != 3 {
		t.Fatalf("expected 3 rounds of ping-pong, got %d", rounds)
	}
}

func TestAddStopGuardRejectedAfterStopBegins(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Run(false, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if err := e.AddStopGuard("held"); err != nil {
		t.Fatalf("AddStopGuard: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		e.Stop()
		close(stopped)
	}()

	// Give Stop a moment to observe the held guard and mark stopping.
	time.Sleep(20 * time.Millisecond)
	if err := e.AddStopGuard("too-late"); err == nil {
		t.Fatalf("expected a stop guard added after stop begins to be rejected")
	}

	e.RemoveStopGuard("held")
	<-stopped
}
