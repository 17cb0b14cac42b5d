package replay

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/turnguard/turnguard/internal/identity"
	"github.com/turnguard/turnguard/internal/model"
	"github.com/turnguard/turnguard/internal/pipeline"
	"github.com/turnguard/turnguard/internal/policy"
	"github.com/turnguard/turnguard/internal/store"
)

// Mismatch records one expected-vs-actual divergence, with enough detail to
// diagnose without rerunning interactively.
type Mismatch struct {
	CaseID          string        `json:"case_id"`
	TurnID          int64         `json:"turn_id"`
	ExpectedVerdict model.Verdict `json:"expected_verdict"`
	ActualVerdict   model.Verdict `json:"actual_verdict"`
	ExpectedReason  string        `json:"expected_reason_code,omitempty"`
	ActualReason    string        `json:"actual_reason_code,omitempty"`
}

func (m Mismatch) String() string {
	s := fmt.Sprintf("case %s turn %d: expected %s, got %s", m.CaseID, m.TurnID, m.ExpectedVerdict, m.ActualVerdict)
	if m.ExpectedReason != "" {
		s += fmt.Sprintf(" (expected reason %s, got %s)", m.ExpectedReason, m.ActualReason)
	}
	return s
}

// CaseResult is the outcome of one replayed case.
type CaseResult struct {
	CaseID     string     `json:"case_id"`
	Passed     bool       `json:"passed"`
	Turns      int        `json:"turns"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
	Err        string     `json:"error,omitempty"`
}

// Report aggregates all case results into the regression verdict.
type Report struct {
	Results []CaseResult `json:"results"`
}

// Passed reports the aggregate verdict: every case passed.
func (r *Report) Passed() bool {
	for _, res := range r.Results {
		if !res.Passed {
			return false
		}
	}
	return true
}

// FailedCount returns the number of failed cases.
func (r *Report) FailedCount() int {
	n := 0
	for _, res := range r.Results {
		if !res.Passed {
			n++
		}
	}
	return n
}

// Format renders the report as text, one line per case plus failure detail.
func (r *Report) Format() string {
	var b strings.Builder
	for _, res := range r.Results {
		if res.Passed {
			fmt.Fprintf(&b, "PASS %s (%d turns)\n", res.CaseID, res.Turns)
			continue
		}
		fmt.Fprintf(&b, "FAIL %s (%d turns)\n", res.CaseID, res.Turns)
		if res.Err != "" {
			fmt.Fprintf(&b, "     error: %s\n", res.Err)
		}
		for _, m := range res.Mismatches {
			fmt.Fprintf(&b, "     %s\n", m)
		}
	}
	fmt.Fprintf(&b, "%d/%d cases passed\n", len(r.Results)-r.FailedCount(), len(r.Results))
	return b.String()
}

// Runner replays corpora under a fixed policy config.
type Runner struct {
	cfg *policy.Config
}

// NewRunner creates a runner. The config is shared read-only across cases so
// every case is judged under the same pinned thresholds.
func NewRunner(cfg *policy.Config) *Runner {
	if cfg == nil {
		cfg = policy.DefaultConfig()
	}
	return &Runner{cfg: cfg}
}

// Run replays every case and returns the aggregated report. Result order
// matches corpus order regardless of parallelism.
//
// Turns within a case are strictly sequential (the risk accumulator makes
// them order-sensitive); cases are independent, so parallel=true runs them
// concurrently, each against its own clean store.
func (r *Runner) Run(ctx context.Context, corpus *Corpus, parallel bool) *Report {
	report := &Report{Results: make([]CaseResult, len(corpus.Cases))}

	if !parallel {
		for i, cs := range corpus.Cases {
			report.Results[i] = r.runCase(ctx, cs)
		}
		return report
	}

	var wg sync.WaitGroup
	for i, cs := range corpus.Cases {
		wg.Add(1)
		go func(i int, cs Case) {
			defer wg.Done()
			report.Results[i] = r.runCase(ctx, cs)
		}(i, cs)
	}
	wg.Wait()
	return report
}

// runCase replays one case from a clean store. No classifier, no audit log:
// the corpus pins the deterministic built-in extractors only.
func (r *Runner) runCase(ctx context.Context, cs Case) CaseResult {
	result := CaseResult{CaseID: cs.CaseID, Turns: len(cs.Turns)}

	p := pipeline.New(r.cfg, "", store.NewMemory())
	sessionID := identity.NewSessionID()

	for _, ct := range cs.Turns {
		dec, err := p.Evaluate(ctx, model.Turn{
			SessionID: sessionID,
			TurnID:    ct.TurnID,
			Role:      ct.Role,
			Content:   ct.Content,
		})
		if err != nil {
			result.Err = fmt.Sprintf("turn %d: %v", ct.TurnID, err)
			result.Passed = false
			return result
		}

		if dec.Verdict != ct.ExpectedVerdict ||
			(ct.ExpectedReason != "" && dec.ReasonCode != ct.ExpectedReason) {
			result.Mismatches = append(result.Mismatches, Mismatch{
				CaseID:          cs.CaseID,
				TurnID:          ct.TurnID,
				ExpectedVerdict: ct.ExpectedVerdict,
				ActualVerdict:   dec.Verdict,
				ExpectedReason:  ct.ExpectedReason,
				ActualReason:    dec.ReasonCode,
			})
		}
	}

	result.Passed = len(result.Mismatches) == 0
	return result
}
