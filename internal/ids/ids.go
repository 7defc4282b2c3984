// Package ids provides the monotonic identifier and reference-count
// primitives shared by the mailbox fabric, the cooperation lifecycle, and
// the agent runtime. Every id generator in this package is process-unique
// and lock-free; diagnostic names layered on top use github.com/google/uuid
// so that log lines and trace exports carry a label a human can search for
// without having to correlate a bare integer across files.
package ids

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// MboxID uniquely identifies a mailbox for the lifetime of the process.
type MboxID uint64

// CoopID uniquely identifies a cooperation for the lifetime of the process.
type CoopID uint64

// ThreadID identifies a dispatcher worker thread (or a logical stand-in for
// one in single-threaded test harnesses).
type ThreadID uint64

// NoThread is the sentinel value meaning "not executing on any thread".
const NoThread ThreadID = 0

var (
	mboxCounter   atomic.Uint64
	coopCounter   atomic.Uint64
	threadCounter atomic.Uint64
)

// NextMboxID returns the next process-unique mailbox id.
func NextMboxID() MboxID {
	return MboxID(mboxCounter.Add(1))
}

// NextCoopID returns the next process-unique cooperation id.
func NextCoopID() CoopID {
	return CoopID(coopCounter.Add(1))
}

// NextThreadID returns the next process-unique logical thread id.
func NextThreadID() ThreadID {
	return ThreadID(threadCounter.Add(1))
}

// NewDiagnosticName mints a short, human-searchable label for log lines and
// trace exports. It is never used as a lookup key — only for display.
func NewDiagnosticName(prefix string) string {
	//1.- Generate a random (v4) uuid and keep only its first segment so log
	// lines stay short while remaining practically unique.
	u := uuid.New()
	short := u.String()[:8]
	if prefix == "" {
		return short
	}
	return prefix + "-" + short
}
