package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/turnguard/turnguard/internal/alert"
	"github.com/turnguard/turnguard/internal/redact"
)

// Thresholds defines the score boundaries the decision engine enforces.
type Thresholds struct {
	// HardBlock is the minimum dangerous-instruction signal strength that
	// latches the session to BLOCKED.
	HardBlock float64 `yaml:"hard_block"`
	// Review is the risk-accumulator value at which repeated injection
	// signals escalate from single-turn review to pattern escalation.
	Review float64 `yaml:"review"`
}

// ClassifierConfig configures the optional external classifier capability.
type ClassifierConfig struct {
	Enabled bool   `yaml:"enabled"`
	ModelID string `yaml:"model_id"`
	Region  string `yaml:"region"`
	// TimeoutMS bounds each classify call. On timeout or error the extractor
	// substitutes a conservative injection signal at FallbackStrength.
	TimeoutMS        int     `yaml:"timeout_ms"`
	FallbackStrength float64 `yaml:"fallback_strength"`
}

// Timeout returns the classify call budget as a duration.
func (c ClassifierConfig) Timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// VelocityConfig tunes the risk-velocity spike detector.
type VelocityConfig struct {
	// MinKeywordDelta is the sensitive-keyword jump over the previous user
	// turn required to count as a spike.
	MinKeywordDelta int `yaml:"min_keyword_delta"`
	// MinIncreaseTurns is how many user turns in the window (current
	// included) must show a keyword increase before a spike fires.
	MinIncreaseTurns int `yaml:"min_increase_turns"`
}

// Config holds all tunable policy parameters. Threshold values are policy,
// not structure: the regression corpus pins the defaults below.
type Config struct {
	Version    int              `yaml:"version"`
	Thresholds Thresholds       `yaml:"thresholds"`
	// Decay is subtracted from the risk accumulator on benign turns,
	// bounded at zero.
	Decay float64 `yaml:"decay"`
	// HistoryWindow caps how many recent turns extractors inspect.
	HistoryWindow int `yaml:"history_window"`
	// Pattern overrides. Empty slices keep the built-in defaults.
	InjectionPatterns []string `yaml:"injection_patterns"`
	DangerousPatterns []string `yaml:"dangerous_patterns"`
	SensitiveKeywords []string `yaml:"sensitive_keywords"`

	Velocity   VelocityConfig        `yaml:"velocity"`
	Classifier ClassifierConfig      `yaml:"classifier"`
	Redaction  redact.Config         `yaml:"redaction"`
	Alerts     []alert.WebhookConfig `yaml:"alerts"`
}

// DefaultConfig returns the built-in policy parameters.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Thresholds: Thresholds{
			HardBlock: 0.8,
			Review:    1.0,
		},
		Decay:         0.1,
		HistoryWindow: 8,
		Velocity: VelocityConfig{
			MinKeywordDelta:  5,
			MinIncreaseTurns: 2,
		},
		Redaction: redact.Config{
			Enabled: true,
		},
		Classifier: ClassifierConfig{
			Enabled:          false,
			TimeoutMS:        2000,
			FallbackStrength: 0.5,
		},
	}
}

// LoadConfig loads policy configuration from a YAML file.
// Empty path falls back to ~/.turnguard/policy.yaml.
// Missing file returns defaults. Invalid YAML returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads policy configuration and returns its SHA-256 hash.
// The hash is computed over the raw YAML bytes on disk and attributes every
// audited decision to the exact policy that produced it. When no file exists
// (defaults used), the hash is the SHA-256 of empty input.
func LoadConfigWithHash(path string) (*Config, string, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return DefaultConfig(), emptyHash(), nil
		}
		path = filepath.Join(home, ".turnguard", "policy.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), emptyHash(), nil
		}
		return nil, "", fmt.Errorf("failed to read policy config: %w", err)
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse policy config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, "", err
	}

	return cfg, hash, nil
}

func emptyHash() string {
	h := sha256.Sum256(nil)
	return "sha256:" + hex.EncodeToString(h[:])
}

func validate(cfg *Config) error {
	if cfg.Thresholds.HardBlock <= 0 || cfg.Thresholds.HardBlock > 1 {
		return fmt.Errorf("invalid policy config: hard_block must be in (0,1], got %v", cfg.Thresholds.HardBlock)
	}
	if cfg.Thresholds.Review <= 0 {
		return fmt.Errorf("invalid policy config: review threshold must be positive, got %v", cfg.Thresholds.Review)
	}
	if cfg.Decay < 0 {
		return fmt.Errorf("invalid policy config: decay must be non-negative, got %v", cfg.Decay)
	}
	if cfg.HistoryWindow <= 0 {
		return fmt.Errorf("invalid policy config: history_window must be positive, got %d", cfg.HistoryWindow)
	}
	if cfg.Velocity.MinKeywordDelta <= 0 {
		return fmt.Errorf("invalid policy config: velocity.min_keyword_delta must be positive, got %d", cfg.Velocity.MinKeywordDelta)
	}
	if cfg.Velocity.MinIncreaseTurns <= 0 {
		return fmt.Errorf("invalid policy config: velocity.min_increase_turns must be positive, got %d", cfg.Velocity.MinIncreaseTurns)
	}
	if _, err := redact.NewRedactor(cfg.Redaction); err != nil {
		return fmt.Errorf("invalid policy config: redaction: %w", err)
	}
	for i, a := range cfg.Alerts {
		if a.URL == "" {
			return fmt.Errorf("invalid policy config: alerts[%d]: url is required", i)
		}
	}
	return nil
}

// DefaultConfigYAML returns a commented YAML string for init-policy.
func DefaultConfigYAML() string {
	return `# turnguard policy configuration
# Generated by: turnguard init-policy
#
# Decision precedence (cannot be changed):
#   1. BLOCKED session latch -> block
#   2. dangerous_instruction_suspected >= thresholds.hard_block -> block, latch
#   3. injection-family signal -> accumulate risk, review
#      (accumulator >= thresholds.review -> escalation, UNDER_REVIEW)
#   4. no signal -> allow, accumulator decays toward zero

version: 1

thresholds:
  # Dangerous-instruction signal strength that latches the session BLOCKED.
  hard_block: 0.8
  # Risk accumulator value at which injection reviews escalate.
  review: 1.0

# Subtracted from the accumulator on each benign turn, floor zero.
decay: 0.1

# How many recent turns extractors inspect.
history_window: 8

# Optional overrides for the built-in detection patterns (regular expressions).
# Leave empty to keep the defaults.
injection_patterns: []
dangerous_patterns: []
sensitive_keywords: []

# Risk-velocity spike detector: fires when the current user turn's
# sensitive-keyword count jumps by at least min_keyword_delta over the
# previous user turn, after min_increase_turns upward steps in the window.
velocity:
  min_keyword_delta: 5
  min_increase_turns: 2

# Scrub SSNs, email addresses, and card-like digit runs from turn content
# before it is persisted. Detection runs on the raw text either way.
redaction:
  enabled: true
  extra_patterns: []
  # extra_patterns:
  #   - name: employee_id
  #     regex: 'EMP-\d{6}'

# Webhook alerting on high-signal verdicts. One alert per session and reason.
alerts: []
# alerts:
#   - url: https://hooks.slack.com/services/XXX
#     format: slack
#     events: [block, review]

# External classifier capability (AWS Bedrock). Disabled by default: the
# regression corpus runs on the deterministic built-in extractors only.
classifier:
  enabled: false
  model_id: ""
  region: ""
  timeout_ms: 2000
  # Conservative injection strength substituted when the classifier times out
  # or errors. Never allows a classification failure to resolve to allow.
  fallback_strength: 0.5
`
}
