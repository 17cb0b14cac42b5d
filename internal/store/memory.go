package store

import (
	"sort"
	"sync"

	"github.com/turnguard/turnguard/internal/model"
)

// Memory is an in-process Store. The replay harness gives each regression
// case a private Memory store so cases cannot leak state to one another;
// tests use it for the same isolation.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]model.SessionState
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]model.SessionState)}
}

func (m *Memory) Snapshot(sessionID string) (model.SessionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.sessions[sessionID]
	if !ok {
		return model.NewSessionState(sessionID), nil
	}
	return copyState(st), nil
}

func (m *Memory) Commit(st model.SessionState, turn model.Turn, dec model.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.sessions[st.SessionID]; ok && turn.TurnID <= prev.LastTurnID {
		return model.OutOfOrderTurn(st.SessionID, turn.TurnID, prev.LastTurnID)
	}
	m.sessions[st.SessionID] = copyState(st)
	return nil
}

func (m *Memory) Sessions(limit int) ([]SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SessionSummary, 0, len(m.sessions))
	for id, st := range m.sessions {
		out = append(out, SessionSummary{
			SessionID: id,
			Status:    st.Status,
			Risk:      st.Risk,
			TurnCount: len(st.Turns),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

// copyState deep-copies the slices so callers never alias store internals.
func copyState(st model.SessionState) model.SessionState {
	out := st
	out.Turns = append([]model.Turn(nil), st.Turns...)
	out.Decisions = append([]model.Decision(nil), st.Decisions...)
	if st.LastDecision != nil {
		d := *st.LastDecision
		out.LastDecision = &d
	}
	return out
}
