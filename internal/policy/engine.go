package policy

import (
	"sort"
	"time"

	"github.com/turnguard/turnguard/internal/model"
)

// Decide evaluates one turn's signals against the session state and renders
// exactly one Decision plus the updated state. The input state is copied;
// callers own persistence.
//
// Precedence (must not be changed):
//  1. BLOCKED latch — block without re-evaluation
//  2. dangerous_instruction_suspected at hard threshold — block and latch
//  3. injection-family signals — accumulate risk, review
//  4. benign default — allow, decay accumulator
//
// The precedence is a priority list, not a sum: one block-grade signal
// overrides any number of weaker ones. Reported signal order is strength
// descending, then kind declaration order, so regression output is stable
// regardless of extractor emission order.
func Decide(turn model.Turn, signals []model.Signal, state model.SessionState, cfg *Config) (model.Decision, model.SessionState) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	next := state
	now := time.Now().UTC()

	// Step 1: fail-closed latch. Extraction output is irrelevant here.
	if next.Latched() {
		dec := model.Decision{
			TurnID:     turn.TurnID,
			Verdict:    model.VerdictBlock,
			ReasonCode: model.ReasonLatchedBlocked,
			CreatedAt:  now,
		}
		return dec, record(next, turn, dec)
	}

	ordered := orderSignals(signals)

	// Step 2: hard block on dangerous instruction at threshold strength.
	for _, sig := range ordered {
		if sig.Kind == model.KindDangerousInstruction && sig.Strength >= cfg.Thresholds.HardBlock {
			next.Status = model.StatusBlocked
			dec := model.Decision{
				TurnID:              turn.TurnID,
				Verdict:             model.VerdictBlock,
				ReasonCode:          model.ReasonDangerous,
				ContributingSignals: ordered,
				CreatedAt:           now,
			}
			return dec, record(next, turn, dec)
		}
	}

	// Step 3: injection-family accumulation. Single occurrences are never
	// silently allowed.
	var injection []model.Signal
	for _, sig := range ordered {
		if model.InjectionFamily(sig.Kind) {
			injection = append(injection, sig)
		}
	}
	if len(injection) > 0 {
		for _, sig := range injection {
			next.Risk += sig.Strength
		}

		reason := model.ReasonInjectionSingle
		if next.Risk >= cfg.Thresholds.Review {
			reason = model.ReasonInjectionEscalation
			next.Status = model.StatusUnderReview
		}
		dec := model.Decision{
			TurnID:              turn.TurnID,
			Verdict:             model.VerdictReview,
			ReasonCode:          reason,
			ContributingSignals: ordered,
			CreatedAt:           now,
		}
		return dec, record(next, turn, dec)
	}

	// Step 4: benign default. Accumulator decays toward zero so one-off weak
	// signals do not penalize the session forever.
	next.Risk -= cfg.Decay
	if next.Risk < 0 {
		next.Risk = 0
	}
	dec := model.Decision{
		TurnID:              turn.TurnID,
		Verdict:             model.VerdictAllow,
		ReasonCode:          model.ReasonBenign,
		ContributingSignals: ordered,
		CreatedAt:           now,
	}
	return dec, record(next, turn, dec)
}

// record appends the turn and decision to the state copy and refreshes the
// derived fields. Exactly one decision per call.
func record(state model.SessionState, turn model.Turn, dec model.Decision) model.SessionState {
	state.Turns = append(state.Turns, turn)
	state.Decisions = append(state.Decisions, dec)
	state.LastTurnID = turn.TurnID
	d := dec
	state.LastDecision = &d
	return state
}

// orderSignals sorts by strength descending, then kind declaration order.
// The strongest reason wins ties deterministically.
func orderSignals(signals []model.Signal) []model.Signal {
	if len(signals) == 0 {
		return nil
	}
	out := make([]model.Signal, len(signals))
	copy(out, signals)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		return model.KindRank[out[i].Kind] < model.KindRank[out[j].Kind]
	})
	return out
}
