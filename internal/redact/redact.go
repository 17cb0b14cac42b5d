// Package redact strips personal identifiers from turn content before it is
// persisted. Detection always runs on the raw text; only the stored copy is
// scrubbed.
package redact

import (
	"fmt"
	"regexp"
	"strings"
)

// Config holds redaction settings from the policy file.
type Config struct {
	Enabled       bool              `yaml:"enabled"`
	ExtraPatterns []ExtraPatternDef `yaml:"extra_patterns"`
}

// ExtraPatternDef defines a custom pattern from config.
type ExtraPatternDef struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`
}

type pattern struct {
	regex       *regexp.Regexp
	replacement string
}

// Built-in detectors. Card-like runs last so an SSN is not half-eaten by the
// digit-run matcher.
var builtins = []pattern{
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED_SSN]"},
	{regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`), "[REDACTED_NUMBER]"},
}

// Redactor applies built-in and operator-defined patterns to text.
type Redactor struct {
	patterns []pattern
}

// NewRedactor compiles the redactor from config. Returns nil if redaction is
// disabled (callers should nil-check). Invalid extra patterns are an error so
// a bad policy file fails at load, not at the first matching turn.
func NewRedactor(cfg Config) (*Redactor, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	patterns := make([]pattern, 0, len(builtins)+len(cfg.ExtraPatterns))
	patterns = append(patterns, builtins...)
	for i, def := range cfg.ExtraPatterns {
		if def.Name == "" {
			return nil, fmt.Errorf("extra_patterns[%d]: name is required", i)
		}
		if def.Regex == "" {
			return nil, fmt.Errorf("extra_patterns[%d]: regex is required", i)
		}
		re, err := regexp.Compile(def.Regex)
		if err != nil {
			return nil, fmt.Errorf("extra_patterns[%d] %q: invalid regex: %w", i, def.Name, err)
		}
		patterns = append(patterns, pattern{
			regex:       re,
			replacement: "[REDACTED_" + strings.ToUpper(def.Name) + "]",
		})
	}

	return &Redactor{patterns: patterns}, nil
}

// Redact replaces every sensitive match in text and reports how many
// replacements were made.
func (r *Redactor) Redact(text string) (string, int) {
	hits := 0
	for _, p := range r.patterns {
		text = p.regex.ReplaceAllStringFunc(text, func(string) string {
			hits++
			return p.replacement
		})
	}
	return text, hits
}
