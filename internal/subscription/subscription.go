// Package subscription implements the agent-local subscription storage
// described in spec.md §3/§4.5: a table keyed by (mbox, type, state) that
// the handler-finder (internal/agent) queries on the hot path. It is
// grounded on the teacher's internal/radar/processor.go, which keeps a
// similarly-shaped keyed registry of per-source processing state and
// looks entries up by composite key on every incoming contact.
package subscription

import (
	"fmt"
	"sync"

	"actorcore/internal/hsm"
	"actorcore/internal/ids"
	"actorcore/internal/message"
	"actorcore/internal/rc"
)

// ThreadSafety classifies whether the dispatcher may run a handler
// concurrently with other thread-safe handlers of the same agent.
type ThreadSafety int

const (
	Unsafe ThreadSafety = iota
	Safe
)

// Disposition distinguishes a terminal subscription from one that
// transfers control to another state before a final handler is found, per
// spec.md §4.6 ("transfer-to-state").
type Disposition int

const (
	Final Disposition = iota
	Intermediate
	// Suppress stops superstate traversal at this state without invoking
	// any handler (spec.md §4.6).
	Suppress
)

// HandlerFunc is invoked with the (possibly still enveloped) message. The
// agent runtime decides, based on Record.Disposition, whether the raw
// message or an unwrapped payload is handed in.
type HandlerFunc func(msg message.Message) error

// Record is the value stored for a subscription key.
type Record struct {
	Fn           HandlerFunc
	ThreadSafety ThreadSafety
	Disposition  Disposition
	// TransferTarget names the state an Intermediate subscription
	// switches to before re-running the handler-finder for the same
	// (mbox, type).
	TransferTarget *hsm.State
}

// Key identifies one subscription slot.
type Key struct {
	Mbox  ids.MboxID
	Type  message.TypeID
	State *hsm.State
}

func (k Key) String() string {
	name := "<nil>"
	if k.State != nil {
		name = k.State.Name
	}
	return fmt.Sprintf("mbox=%d type=%s state=%s", k.Mbox, k.Type, name)
}

// Storage is one agent's subscription table.
type Storage struct {
	mu      sync.RWMutex
	records map[Key]*Record
}

// NewStorage constructs an empty subscription table.
func NewStorage() *Storage {
	return &Storage{records: make(map[Key]*Record)}
}

// Create installs a new subscription. It fails if the exact (mbox, type,
// state) tuple is already occupied, per spec.md §3's uniqueness
// invariant.
func (s *Storage) Create(key Key, rec *Record) error {
	if s == nil {
		return rc.New(rc.AgentDeactivated, "subscription storage is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[key]; exists {
		return rc.New(rc.DuplicateSubscription, key.String())
	}
	s.records[key] = rec
	return nil
}

// Drop removes the subscription for the exact key, if any.
func (s *Storage) Drop(key Key) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}

// DropAllStates removes every subscription for (mbox, type) regardless of
// which state it was registered against.
func (s *Storage) DropAllStates(mbox ids.MboxID, typ message.TypeID) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.records {
		if key.Mbox == mbox && key.Type == typ {
			delete(s.records, key)
		}
	}
}

// Find looks up the exact (mbox, type, state) tuple.
func (s *Storage) Find(key Key) (*Record, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	return rec, ok
}

// Iterate calls fn for every stored (Key, *Record) pair. Iteration order
// is unspecified, per spec.md §4.5 ("iteration order is irrelevant for
// correctness"). fn returning false stops iteration early.
func (s *Storage) Iterate(fn func(Key, *Record) bool) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, v := range s.records {
		if !fn(k, v) {
			return
		}
	}
}

// Len reports the number of stored subscriptions, for diagnostics/tests.
func (s *Storage) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
