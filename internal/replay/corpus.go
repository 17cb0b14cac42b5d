// Package replay drives labeled regression cases through the same pipeline
// live traffic uses and asserts the expected decision for every turn. It is
// the release gate: a policy or extractor change that shifts any pinned
// verdict fails the run.
package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/turnguard/turnguard/internal/model"
)

// CaseTurn is one labeled turn: the inbound fields plus the expected
// decision.
type CaseTurn struct {
	TurnID  int64      `json:"turn_id"`
	Role    model.Role `json:"role"`
	Content string     `json:"content"`

	ExpectedVerdict model.Verdict `json:"expected_verdict"`
	// ExpectedReason is optional; empty means any reason code passes.
	ExpectedReason string `json:"expected_reason_code,omitempty"`
}

// Case is an ordered, labeled turn sequence. Cases never share state: each
// runs against its own clean store.
type Case struct {
	CaseID string     `json:"case_id"`
	Turns  []CaseTurn `json:"turns"`
}

// Corpus is the ordered collection of regression cases.
type Corpus struct {
	Cases []Case `json:"cases"`
}

// LoadCorpus reads and validates a corpus file.
func LoadCorpus(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("replay: read corpus: %w", err)
	}

	var corpus Corpus
	if err := json.Unmarshal(data, &corpus); err != nil {
		return nil, fmt.Errorf("replay: parse corpus: %w", err)
	}

	if err := validateCorpus(&corpus); err != nil {
		return nil, err
	}
	return &corpus, nil
}

func validateCorpus(c *Corpus) error {
	if len(c.Cases) == 0 {
		return fmt.Errorf("replay: corpus has no cases")
	}

	seen := make(map[string]bool, len(c.Cases))
	for _, cs := range c.Cases {
		if cs.CaseID == "" {
			return fmt.Errorf("replay: case with empty case_id")
		}
		if seen[cs.CaseID] {
			return fmt.Errorf("replay: duplicate case_id %q", cs.CaseID)
		}
		seen[cs.CaseID] = true

		if len(cs.Turns) == 0 {
			return fmt.Errorf("replay: case %q has no turns", cs.CaseID)
		}

		var last int64
		for i, t := range cs.Turns {
			if t.TurnID <= last {
				return fmt.Errorf("replay: case %q turn %d: turn_id %d not strictly increasing", cs.CaseID, i, t.TurnID)
			}
			last = t.TurnID

			if !model.ValidRole(t.Role) {
				return fmt.Errorf("replay: case %q turn_id %d: unknown role %q", cs.CaseID, t.TurnID, t.Role)
			}
			switch t.ExpectedVerdict {
			case model.VerdictAllow, model.VerdictReview, model.VerdictBlock:
			default:
				return fmt.Errorf("replay: case %q turn_id %d: unknown expected_verdict %q", cs.CaseID, t.TurnID, t.ExpectedVerdict)
			}
		}
	}
	return nil
}
