package extract

import (
	"fmt"
	"regexp"

	"github.com/turnguard/turnguard/internal/model"
)

// defaultDangerousPatterns are the hard safety guardrail: requests for
// weapons and physical-harm instructions.
var defaultDangerousPatterns = []string{
	`\bpipe\s*bomb\b`,
	`\bhow\s+to\s+make\s+(a\s+)?bomb\b`,
	`\bhow\s+to\s+build\s+(a\s+)?bomb\b`,
	`\bexplosive\s+device\b`,
	`\bghost\s+gun\b`,
	`\b3d\s*print\s+(a\s*)?gun\b`,
	`\bsynthesize\s+(nerve\s+agent|sarin|ricin)\b`,
}

// dangerousStrength is above the default hard-block threshold: a single
// match latches the session.
const dangerousStrength = 0.9

// DangerousInstruction detects explicit dangerous-instruction requests in a
// single turn. It looks only at the current turn: the hard guardrail must
// fire regardless of context.
type DangerousInstruction struct {
	patterns []*regexp.Regexp
}

// NewDangerousInstruction compiles the pattern set, with policy-config
// overrides replacing the defaults.
func NewDangerousInstruction(extra []string) *DangerousInstruction {
	return &DangerousInstruction{patterns: compilePatterns(defaultDangerousPatterns, extra)}
}

func (d *DangerousInstruction) Name() string { return "dangerous_instruction" }

func (d *DangerousInstruction) Extract(turn model.Turn, _ []model.Turn) []model.Signal {
	if turn.Role != model.RoleUser {
		return nil
	}
	text := normalizeText(turn.Content)
	if text == "" {
		return nil
	}

	for _, re := range d.patterns {
		if re.MatchString(text) {
			return []model.Signal{{
				Kind:         model.KindDangerousInstruction,
				Strength:     dangerousStrength,
				SourceTurnID: turn.TurnID,
				Detail:       fmt.Sprintf("pattern=%s", re.String()),
			}}
		}
	}
	return nil
}
