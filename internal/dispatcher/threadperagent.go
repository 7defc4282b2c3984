// Package dispatcher provides one reference concrete queue.EventQueue
// implementation: a single goroutine draining a buffered channel in push
// order. Concrete dispatcher thread pools are explicitly out of the core's
// scope (spec.md §1); this package exists so tests and the demo CLI
// (cmd/actorctl) have something real to bind agents to. It is grounded on
// the teacher's internal/simulation/loop.go fixed-rate goroutine loop,
// generalised from "tick a simulation at a fixed rate" to "drain whichever
// demand arrives next, in arrival order".
package dispatcher

import (
	"sync/atomic"

	"actorcore/internal/queue"
	"actorcore/internal/rc"
)

// ThreadPerAgent is a single-worker event queue. Binding every agent in a
// cooperation to one shared instance yields cooperation-FIFO ordering
// (spec.md §8 scenario S1); binding each agent to its own instance yields
// individual-FIFO ordering (scenario S2) — the choice belongs to the
// binder, not to this type.
type ThreadPerAgent struct {
	ch     chan queue.Demand
	closed atomic.Bool
	done   chan struct{}
}

// NewThreadPerAgent starts the worker goroutine and returns the queue
// handle. buffer bounds how many demands may be in flight before Push
// blocks the producer.
func NewThreadPerAgent(buffer int) *ThreadPerAgent {
	if buffer <= 0 {
		buffer = 64
	}
	d := &ThreadPerAgent{ch: make(chan queue.Demand, buffer), done: make(chan struct{})}
	go d.run()
	return d
}

func (d *ThreadPerAgent) run() {
	defer close(d.done)
	for demand := range d.ch {
		demand.Receiver.Execute(demand)
	}
}

func (d *ThreadPerAgent) send(dm queue.Demand) error {
	if d.closed.Load() {
		return rc.New(rc.MboxClosed, "dispatcher queue is closed")
	}
	d.ch <- dm
	return nil
}

// Push enqueues an ordinary demand.
func (d *ThreadPerAgent) Push(dm queue.Demand) error { return d.send(dm) }

// PushEvtStart enqueues the evt-start demand. Callers (internal/agent) are
// responsible for the spec.md §4.7 ordering guarantee that this is the
// first demand pushed for a newly bound agent.
func (d *ThreadPerAgent) PushEvtStart(dm queue.Demand) error { return d.send(dm) }

// PushEvtFinish enqueues the evt-finish demand.
func (d *ThreadPerAgent) PushEvtFinish(dm queue.Demand) error { return d.send(dm) }

// Close stops accepting new demands and waits for the worker to drain
// whatever was already queued.
func (d *ThreadPerAgent) Close() {
	if d.closed.CompareAndSwap(false, true) {
		close(d.ch)
	}
	<-d.done
}
