package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/turnguard/turnguard/internal/model"
)

// defaultInjectionPatterns match explicit jailbreak / prompt-injection
// language in user turns.
var defaultInjectionPatterns = []string{
	`\bjailbreak\b`,
	`\bprompt injection\b`,
	`\bignore (all|any|previous) instructions\b`,
	`\boverride (the )?(system|safety)\b`,
	`\breveal (the )?(system prompt|prompt|hidden prompt)\b`,
	`\bshow (me )?(the )?(system prompt|developer message)\b`,
	`\bdeveloper message\b`,
	`\bsystem prompt\b`,
	`\bdo anything now\b`,
	`\bDAN\b`,
}

// injectionAnchors gate the signal: at least one anchor substring must be
// present so incidental pattern overlap does not fire on benign text.
var injectionAnchors = []string{"system prompt", "developer message", "prompt injection", "jailbreak", "ignore"}

const (
	injectionBaseStrength = 0.6
	injectionStepStrength = 0.1
	injectionMaxStrength  = 0.9
)

// PromptInjection detects direct prompt-attack language in a single turn.
type PromptInjection struct {
	patterns []*regexp.Regexp
}

// NewPromptInjection compiles the pattern set. Extra patterns from policy
// config are additive; invalid regexes are skipped.
func NewPromptInjection(extra []string) *PromptInjection {
	return &PromptInjection{patterns: compilePatterns(defaultInjectionPatterns, extra)}
}

func (p *PromptInjection) Name() string { return "prompt_injection" }

// Extract fires on user turns whose content matches an anchor plus at least
// one attack pattern. Strength grows with distinct pattern hits.
func (p *PromptInjection) Extract(turn model.Turn, _ []model.Turn) []model.Signal {
	if turn.Role != model.RoleUser {
		return nil
	}
	text := normalizeText(turn.Content)
	if text == "" || !containsAny(text, injectionAnchors) {
		return nil
	}

	hits := 0
	for _, re := range p.patterns {
		if re.MatchString(text) {
			hits++
		}
	}
	if hits == 0 {
		return nil
	}

	strength := injectionBaseStrength + injectionStepStrength*float64(hits-1)
	if strength > injectionMaxStrength {
		strength = injectionMaxStrength
	}

	return []model.Signal{{
		Kind:         model.KindPromptInjection,
		Strength:     strength,
		SourceTurnID: turn.TurnID,
		Detail:       fmt.Sprintf("pattern_hits=%d", hits),
	}}
}

func containsAny(text string, subs []string) bool {
	for _, s := range subs {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

// compilePatterns compiles defaults unless overrides are given, with
// case-insensitive matching.
func compilePatterns(defaults, overrides []string) []*regexp.Regexp {
	src := defaults
	if len(overrides) > 0 {
		src = overrides
	}
	out := make([]*regexp.Regexp, 0, len(src))
	for _, p := range src {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			continue
		}
		out = append(out, re)
	}
	return out
}
