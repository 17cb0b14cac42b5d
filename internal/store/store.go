// Package store owns all per-session state: the append-only turn history,
// the decision history, and the risk accumulator. Other components receive
// snapshots or commit requests, never references to mutable internals.
package store

import (
	"sync"

	"github.com/turnguard/turnguard/internal/model"
)

// SessionSummary is a read-only listing row for the query surface.
type SessionSummary struct {
	SessionID string              `json:"session_id"`
	Status    model.SessionStatus `json:"status"`
	Risk      float64             `json:"risk_accumulator"`
	TurnCount int                 `json:"turn_count"`
}

// Store is the session-state owner. Implementations must be safe for
// concurrent use across sessions; per-session write serialization is the
// caller's job (see Locks).
type Store interface {
	// Snapshot returns a copy of the session state. Unknown ids return a
	// fresh default state (ACTIVE, empty history, zero accumulator), never
	// an error.
	Snapshot(sessionID string) (model.SessionState, error)

	// Commit appends the turn and its decision and persists the updated
	// accumulator and status. Returns model.ErrOutOfOrderTurn when
	// turn.TurnID is not strictly greater than the last recorded turn_id.
	Commit(st model.SessionState, turn model.Turn, dec model.Decision) error

	// Sessions lists known sessions, most recently updated first.
	Sessions(limit int) ([]SessionSummary, error)

	Close() error
}

// Locks hands out one mutex per session id so concurrent calls on the same
// session serialize while distinct sessions never block each other.
type Locks struct {
	m sync.Map // session_id → *sync.Mutex
}

// For returns the mutex for the given session id, creating it on first use.
func (l *Locks) For(sessionID string) *sync.Mutex {
	if v, ok := l.m.Load(sessionID); ok {
		return v.(*sync.Mutex)
	}
	mu := &sync.Mutex{}
	actual, _ := l.m.LoadOrStore(sessionID, mu)
	return actual.(*sync.Mutex)
}
