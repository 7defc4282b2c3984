// Package timer implements the timer scheduler facade of spec.md §4.10: a
// (type, msg, mbox, delay, period) entry point that validates its inputs
// and otherwise only drives an external timer source — "the facade
// protects only validation" (spec.md §5's shared-resource policy). It is
// grounded on the teacher's internal/timesync/service.go periodic-ticker
// loop, generalised from "stream drift samples on a fixed cadence" to
// "deliver one message, once or repeatedly, into one mailbox".
package timer

import (
	"sync"
	"time"

	"actorcore/internal/mailbox"
	"actorcore/internal/message"
	"actorcore/internal/rc"
)

// Handle cancels a scheduled delivery. Releasing an already-released or
// already-fired (non-periodic) handle is a safe no-op.
type Handle interface {
	Release()
}

type handle struct {
	stop chan struct{}
	once sync.Once
}

func (h *handle) Release() {
	h.once.Do(func() { close(h.stop) })
}

// Source is the external timer source the facade wraps. Each Schedule
// call starts one goroutine that waits out the delay, delivers once, and
// (if period > 0) keeps delivering on that cadence until the returned
// Handle is released.
type Source struct {
	wg sync.WaitGroup
}

// NewSource constructs an empty timer source.
func NewSource() *Source { return &Source{} }

// Schedule validates delay/period and, for a mutable msg, the period-zero
// and MPSC-only restrictions of spec.md §4.10, then starts delivery.
// Periodic (and one-shot) delivery always uses the nonblocking push mode
// so the timer goroutine never blocks and never throws.
func (s *Source) Schedule(mbox mailbox.Mbox, msg message.Message, delay, period time.Duration) (Handle, error) {
	if delay < 0 {
		return nil, rc.New(rc.NegativeValueForPause, "timer delay must be >= 0")
	}
	if period < 0 {
		return nil, rc.New(rc.NegativeValueForPeriod, "timer period must be >= 0")
	}
	if msg.Mutability() == message.Mutable {
		if period != 0 {
			return nil, rc.New(rc.MutableMsgCannotBePeriodic, "a mutable message cannot be scheduled periodically")
		}
		if mbox.Kind() != mailbox.Direct {
			return nil, rc.New(rc.MutableMsgCannotBeDeliveredViaMPMCMbox, "a mutable message may only be timed to an MPSC mailbox")
		}
	}

	h := &handle{stop: make(chan struct{})}
	s.wg.Add(1)
	go s.run(mbox, msg, delay, period, h)
	return h, nil
}

func (s *Source) run(mbox mailbox.Mbox, msg message.Message, delay, period time.Duration, h *handle) {
	defer s.wg.Done()

	delayTimer := time.NewTimer(delay)
	defer delayTimer.Stop()
	select {
	case <-h.stop:
		return
	case <-delayTimer.C:
	}
	_ = mbox.Deliver(message.Nonblocking, msg)
	if period == 0 {
		return
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			_ = mbox.Deliver(message.Nonblocking, msg)
		}
	}
}

// Close blocks until every in-flight timer goroutine has observed
// cancellation. Callers must Release every outstanding periodic Handle
// before calling Close; a periodic timer whose handle is never released
// will block Close forever, matching spec.md §4.10's "release on
// destruction if not already released".
func (s *Source) Close() { s.wg.Wait() }
