package policy

import (
	"testing"

	"github.com/turnguard/turnguard/internal/model"
)

func userTurn(id int64, content string) model.Turn {
	return model.Turn{SessionID: "s1", TurnID: id, Role: model.RoleUser, Content: content}
}

func TestDecideLatchedSessionAlwaysBlocks(t *testing.T) {
	state := model.NewSessionState("s1")
	state.Status = model.StatusBlocked

	// Even a benign signal cannot unlatch.
	signals := []model.Signal{{Kind: model.KindBenign, SourceTurnID: 5}}
	dec, next := Decide(userTurn(5, "hello"), signals, state, DefaultConfig())

	if dec.Verdict != model.VerdictBlock {
		t.Fatalf("expected block, got %s", dec.Verdict)
	}
	if dec.ReasonCode != model.ReasonLatchedBlocked {
		t.Errorf("expected %s, got %s", model.ReasonLatchedBlocked, dec.ReasonCode)
	}
	if next.Status != model.StatusBlocked {
		t.Errorf("latch must be irreversible, got %s", next.Status)
	}
}

func TestDecideDangerousHardBlockLatches(t *testing.T) {
	state := model.NewSessionState("s1")
	signals := []model.Signal{{Kind: model.KindDangerousInstruction, Strength: 0.9, SourceTurnID: 1}}

	dec, next := Decide(userTurn(1, "x"), signals, state, DefaultConfig())

	if dec.Verdict != model.VerdictBlock {
		t.Fatalf("expected block, got %s", dec.Verdict)
	}
	if dec.ReasonCode != model.ReasonDangerous {
		t.Errorf("expected %s, got %s", model.ReasonDangerous, dec.ReasonCode)
	}
	if next.Status != model.StatusBlocked {
		t.Errorf("expected BLOCKED status, got %s", next.Status)
	}
}

func TestDecideDangerousBelowThresholdDoesNotBlock(t *testing.T) {
	state := model.NewSessionState("s1")
	signals := []model.Signal{{Kind: model.KindDangerousInstruction, Strength: 0.5, SourceTurnID: 1}}

	dec, next := Decide(userTurn(1, "x"), signals, state, DefaultConfig())

	if dec.Verdict != model.VerdictAllow {
		t.Fatalf("sub-threshold dangerous signal does not accumulate, expected allow, got %s", dec.Verdict)
	}
	if next.Status != model.StatusActive {
		t.Errorf("expected ACTIVE, got %s", next.Status)
	}
}

func TestDecideDangerousBeatsInjectionOnSameTurn(t *testing.T) {
	state := model.NewSessionState("s1")
	signals := []model.Signal{
		{Kind: model.KindPromptInjection, Strength: 0.6, SourceTurnID: 1},
		{Kind: model.KindDangerousInstruction, Strength: 0.9, SourceTurnID: 1},
	}

	dec, next := Decide(userTurn(1, "x"), signals, state, DefaultConfig())

	if dec.Verdict != model.VerdictBlock || dec.ReasonCode != model.ReasonDangerous {
		t.Fatalf("hard block must take precedence, got %s/%s", dec.Verdict, dec.ReasonCode)
	}
	if next.Risk != 0 {
		t.Errorf("hard block must not also accumulate risk, got %v", next.Risk)
	}
}

func TestDecideInjectionAccumulatesAndEscalates(t *testing.T) {
	cfg := DefaultConfig()
	state := model.NewSessionState("s1")

	sig := func(id int64) []model.Signal {
		return []model.Signal{{Kind: model.KindPromptInjection, Strength: 0.6, SourceTurnID: id}}
	}

	dec, state := Decide(userTurn(1, "x"), sig(1), state, cfg)
	if dec.Verdict != model.VerdictReview || dec.ReasonCode != model.ReasonInjectionSingle {
		t.Fatalf("turn 1: expected review/%s, got %s/%s", model.ReasonInjectionSingle, dec.Verdict, dec.ReasonCode)
	}
	if state.Risk != 0.6 {
		t.Fatalf("turn 1: expected risk 0.6, got %v", state.Risk)
	}

	dec, state = Decide(userTurn(2, "x"), sig(2), state, cfg)
	if dec.Verdict != model.VerdictReview || dec.ReasonCode != model.ReasonInjectionEscalation {
		t.Fatalf("turn 2: expected review/%s, got %s/%s", model.ReasonInjectionEscalation, dec.Verdict, dec.ReasonCode)
	}
	if state.Risk < cfg.Thresholds.Review {
		t.Errorf("turn 2: accumulator %v should have crossed %v", state.Risk, cfg.Thresholds.Review)
	}
	if state.Status != model.StatusUnderReview {
		t.Errorf("turn 2: expected UNDER_REVIEW, got %s", state.Status)
	}
}

func TestDecideBenignDecaysTowardZero(t *testing.T) {
	cfg := DefaultConfig()
	state := model.NewSessionState("s1")
	state.Risk = 0.15

	dec, state := Decide(userTurn(1, "x"), nil, state, cfg)
	if dec.Verdict != model.VerdictAllow || dec.ReasonCode != model.ReasonBenign {
		t.Fatalf("expected allow/benign, got %s/%s", dec.Verdict, dec.ReasonCode)
	}
	if state.Risk < 0.049 || state.Risk > 0.051 {
		t.Errorf("expected risk ~0.05, got %v", state.Risk)
	}

	_, state = Decide(userTurn(2, "x"), nil, state, cfg)
	if state.Risk != 0 {
		t.Errorf("accumulator must floor at zero, got %v", state.Risk)
	}
}

func TestDecideRecordsTurnAndDecision(t *testing.T) {
	state := model.NewSessionState("s1")

	dec, next := Decide(userTurn(7, "hello"), nil, state, DefaultConfig())

	if len(next.Turns) != 1 || next.Turns[0].TurnID != 7 {
		t.Fatalf("turn not recorded: %+v", next.Turns)
	}
	if len(next.Decisions) != 1 || next.Decisions[0].TurnID != 7 {
		t.Fatalf("decision not recorded: %+v", next.Decisions)
	}
	if next.LastTurnID != 7 {
		t.Errorf("expected LastTurnID=7, got %d", next.LastTurnID)
	}
	if next.LastDecision == nil || next.LastDecision.TurnID != dec.TurnID {
		t.Error("LastDecision not refreshed")
	}
	// Input state untouched
	if len(state.Turns) != 0 || len(state.Decisions) != 0 {
		t.Error("Decide must not mutate the input state")
	}
}

func TestOrderSignalsDeterministic(t *testing.T) {
	signals := []model.Signal{
		{Kind: model.KindCrescendo, Strength: 0.4},
		{Kind: model.KindRefusalRephrase, Strength: 0.4},
		{Kind: model.KindPromptInjection, Strength: 0.6},
	}

	ordered := orderSignals(signals)

	if ordered[0].Kind != model.KindPromptInjection {
		t.Errorf("strongest first, got %s", ordered[0].Kind)
	}
	// Equal strength breaks ties by kind declaration order.
	if ordered[1].Kind != model.KindRefusalRephrase || ordered[2].Kind != model.KindCrescendo {
		t.Errorf("tie-break by kind rank, got %s then %s", ordered[1].Kind, ordered[2].Kind)
	}
}
