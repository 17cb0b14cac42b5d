// Package alert fans high-signal decisions out to webhook destinations so
// operators hear about blocked and escalated sessions without polling the
// decision log.
package alert

// WebhookConfig defines one webhook alert destination.
type WebhookConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["block", "review"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Event is the payload sent to webhook endpoints.
type Event struct {
	Timestamp  string  `json:"timestamp"`
	SessionID  string  `json:"session_id"`
	TurnID     int64   `json:"turn_id"`
	Verdict    string  `json:"verdict"`
	ReasonCode string  `json:"reason_code"`
	Risk       float64 `json:"risk_accumulator"`
	Status     string  `json:"session_status"`
	PolicyHash string  `json:"policy_hash"`
}
