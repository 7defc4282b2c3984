package ids

import (
	"fmt"
	"sync/atomic"
)

// RefCounted models an intrusive reference count with acquire/release
// semantics, mirroring the spec's "intrusive reference counts for messages"
// design note. Callers embed it (or hold one alongside the owned resource)
// and call Retain/Release directly; there is no implicit finalizer.
type RefCounted struct {
	count atomic.Int64
}

// NewRefCounted returns a RefCounted initialised to the given starting
// count (typically 1, for the initial owner).
func NewRefCounted(initial int64) *RefCounted {
	rc := &RefCounted{}
	rc.count.Store(initial)
	return rc
}

// Retain increments the reference count and returns the new value.
func (r *RefCounted) Retain() int64 {
	return r.count.Add(1)
}

// Release decrements the reference count and returns the new value. A
// caller observing 0 is the sole owner responsible for final teardown;
// observing a negative value is a programming error and panics, matching
// the spec's treatment of internal invariant violations as fatal.
func (r *RefCounted) Release() int64 {
	v := r.count.Add(-1)
	if v < 0 {
		panic(fmt.Sprintf("ids: refcount went negative (%d)", v))
	}
	return v
}

// Count returns the current value without mutating it.
func (r *RefCounted) Count() int64 {
	return r.count.Load()
}
