package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/turnguard/turnguard/internal/model"
)

// storeUnderTest runs the same contract suite against both implementations.
func storeUnderTest(t *testing.T, name string) Store {
	t.Helper()
	switch name {
	case "memory":
		return NewMemory()
	case "sqlite":
		st, err := OpenSQLite(filepath.Join(t.TempDir(), "turnguard.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { st.Close() })
		return st
	}
	t.Fatalf("unknown store %q", name)
	return nil
}

func commitTurn(t *testing.T, s Store, st model.SessionState, turnID int64, verdict model.Verdict) model.SessionState {
	t.Helper()
	turn := model.Turn{
		SessionID: st.SessionID,
		TurnID:    turnID,
		Role:      model.RoleUser,
		Content:   "hello",
		Timestamp: time.Now().UTC(),
	}
	dec := model.Decision{
		TurnID:     turnID,
		Verdict:    verdict,
		ReasonCode: model.ReasonBenign,
		ContributingSignals: []model.Signal{
			{Kind: model.KindBenign, SourceTurnID: turnID},
		},
		CreatedAt: time.Now().UTC(),
	}
	st.Turns = append(st.Turns, turn)
	st.Decisions = append(st.Decisions, dec)
	st.LastTurnID = turnID
	st.LastDecision = &dec
	if err := s.Commit(st, turn, dec); err != nil {
		t.Fatalf("commit turn %d: %v", turnID, err)
	}
	return st
}

func TestStoreContract(t *testing.T) {
	for _, name := range []string{"memory", "sqlite"} {
		t.Run(name, func(t *testing.T) {
			t.Run("unknown session is fresh", func(t *testing.T) {
				s := storeUnderTest(t, name)
				st, err := s.Snapshot("never-seen")
				if err != nil {
					t.Fatalf("snapshot: %v", err)
				}
				if st.Status != model.StatusActive || st.Risk != 0 || st.LastTurnID != 0 {
					t.Errorf("expected fresh default state, got %+v", st)
				}
				if len(st.Turns) != 0 || len(st.Decisions) != 0 {
					t.Error("fresh session must have empty history")
				}
			})

			t.Run("commit then snapshot round-trips", func(t *testing.T) {
				s := storeUnderTest(t, name)
				st := model.NewSessionState("s1")
				st.Risk = 0.6
				st.Status = model.StatusUnderReview
				commitTurn(t, s, st, 1, model.VerdictReview)

				got, err := s.Snapshot("s1")
				if err != nil {
					t.Fatalf("snapshot: %v", err)
				}
				if got.Risk != 0.6 {
					t.Errorf("risk=%v, want 0.6", got.Risk)
				}
				if got.Status != model.StatusUnderReview {
					t.Errorf("status=%s", got.Status)
				}
				if got.LastTurnID != 1 {
					t.Errorf("last_turn_id=%d", got.LastTurnID)
				}
				if len(got.Turns) != 1 || len(got.Decisions) != 1 {
					t.Fatalf("history: %d turns, %d decisions", len(got.Turns), len(got.Decisions))
				}
				if got.LastDecision == nil || got.LastDecision.Verdict != model.VerdictReview {
					t.Error("last decision not recovered")
				}
				if len(got.Decisions[0].ContributingSignals) != 1 {
					t.Error("contributing signals not persisted")
				}
			})

			t.Run("out of order commit rejected", func(t *testing.T) {
				s := storeUnderTest(t, name)
				st := model.NewSessionState("s1")
				st = commitTurn(t, s, st, 5, model.VerdictAllow)

				dup := model.Turn{SessionID: "s1", TurnID: 5, Role: model.RoleUser, Timestamp: time.Now().UTC()}
				err := s.Commit(st, dup, model.Decision{TurnID: 5, Verdict: model.VerdictAllow, ReasonCode: model.ReasonBenign})
				if !errors.Is(err, model.ErrOutOfOrderTurn) {
					t.Fatalf("expected ErrOutOfOrderTurn, got %v", err)
				}

				// Session unchanged after the rejection.
				got, err := s.Snapshot("s1")
				if err != nil {
					t.Fatal(err)
				}
				if got.LastTurnID != 5 || len(got.Turns) != 1 {
					t.Errorf("rejected commit must not mutate: %+v", got)
				}
			})

			t.Run("sessions listing", func(t *testing.T) {
				s := storeUnderTest(t, name)
				commitTurn(t, s, model.NewSessionState("s1"), 1, model.VerdictAllow)
				commitTurn(t, s, model.NewSessionState("s2"), 1, model.VerdictAllow)

				sums, err := s.Sessions(10)
				if err != nil {
					t.Fatalf("sessions: %v", err)
				}
				if len(sums) != 2 {
					t.Fatalf("expected 2 sessions, got %d", len(sums))
				}

				sums, err = s.Sessions(1)
				if err != nil {
					t.Fatal(err)
				}
				if len(sums) != 1 {
					t.Errorf("limit not applied: got %d", len(sums))
				}
			})
		})
	}
}

func TestMemorySnapshotIsolation(t *testing.T) {
	s := NewMemory()
	st := model.NewSessionState("s1")
	commitTurn(t, s, st, 1, model.VerdictAllow)

	snap, err := s.Snapshot("s1")
	if err != nil {
		t.Fatal(err)
	}
	snap.Turns[0].Content = "mutated"
	snap.Risk = 99

	again, err := s.Snapshot("s1")
	if err != nil {
		t.Fatal(err)
	}
	if again.Turns[0].Content == "mutated" || again.Risk == 99 {
		t.Error("snapshot must not alias store internals")
	}
}
