// Package extract derives typed risk signals from conversation turns.
// Extractors are pure: same turn and history always produce the same
// signals, with no mutation of session state and no I/O. The one
// non-deterministic capability — an external classifier — sits behind a
// narrow interface and degrades to a conservative fallback signal.
package extract

import (
	"context"
	"fmt"
	"os"

	"github.com/turnguard/turnguard/internal/model"
	"github.com/turnguard/turnguard/internal/policy"
)

// Extractor inspects a single turn plus bounded prior context and emits zero
// or more signals. Implementations must tolerate empty history (first turn)
// and must never return an error: unrecognized content is simply no signal.
type Extractor interface {
	Name() string
	Extract(turn model.Turn, history []model.Turn) []model.Signal
}

// Runner fans a turn out to all registered extractors and the optional
// classifier, then appends the benign default when nothing fired so every
// decision is attributable to at least one signal.
type Runner struct {
	extractors []Extractor
	classifier Classifier
	cfg        *policy.Config
}

// NewRunner builds the built-in extractor set from the policy config.
func NewRunner(cfg *policy.Config) *Runner {
	if cfg == nil {
		cfg = policy.DefaultConfig()
	}
	return &Runner{
		extractors: []Extractor{
			NewDangerousInstruction(cfg.DangerousPatterns),
			NewPromptInjection(cfg.InjectionPatterns),
			NewRefusalRephrase(),
			NewCrescendo(cfg.SensitiveKeywords),
			NewRiskVelocity(cfg.SensitiveKeywords, cfg.Velocity.MinKeywordDelta, cfg.Velocity.MinIncreaseTurns),
		},
		cfg: cfg,
	}
}

// WithClassifier attaches an external classifier capability. The classifier
// is invoked with the configured timeout; failure substitutes the configured
// fallback signal rather than omitting signals.
func (r *Runner) WithClassifier(c Classifier) *Runner {
	r.classifier = c
	return r
}

// Run extracts all signals for one turn. History is trimmed to the configured
// window so cost does not grow with session length.
func (r *Runner) Run(ctx context.Context, turn model.Turn, history []model.Turn) []model.Signal {
	window := recentWindow(history, r.cfg.HistoryWindow)

	var signals []model.Signal
	for _, ex := range r.extractors {
		signals = append(signals, ex.Extract(turn, window)...)
	}

	if r.classifier != nil && r.cfg.Classifier.Enabled {
		signals = append(signals, r.classify(ctx, turn, window)...)
	}

	if len(signals) == 0 {
		signals = append(signals, model.Signal{
			Kind:         model.KindBenign,
			Strength:     0,
			SourceTurnID: turn.TurnID,
		})
	}
	return signals
}

// classify calls the external capability with a bounded timeout. A timeout or
// error never silently resolves to benign: it degrades to a moderate-strength
// injection signal (fail closed) and is logged, not propagated.
func (r *Runner) classify(ctx context.Context, turn model.Turn, history []model.Turn) []model.Signal {
	timeout := r.cfg.Classifier.Timeout()
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	signals, err := r.classifier.Classify(cctx, turn, history)
	if err != nil {
		fmt.Fprintf(os.Stderr, "classifier unavailable (%v): substituting conservative signal for turn %d\n", err, turn.TurnID)
		return []model.Signal{{
			Kind:         model.KindPromptInjection,
			Strength:     r.cfg.Classifier.FallbackStrength,
			SourceTurnID: turn.TurnID,
			Detail:       "classifier_unavailable_fallback",
		}}
	}

	out := signals[:0]
	for _, s := range signals {
		if s.Strength < 0 || s.Strength > 1 {
			continue // out-of-range strengths are discarded, not clamped
		}
		s.SourceTurnID = turn.TurnID
		out = append(out, s)
	}
	return out
}

// recentWindow returns the last n turns of history.
func recentWindow(history []model.Turn, n int) []model.Turn {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
