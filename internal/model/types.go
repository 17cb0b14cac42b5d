package model

import "time"

// Role attributes a turn to one side of the conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Verdict is the policy outcome for a single turn.
type Verdict string

const (
	VerdictAllow  Verdict = "allow"
	VerdictReview Verdict = "review"
	VerdictBlock  Verdict = "block"
)

// SignalKind identifies a class of extracted risk signal.
// Declaration order is the deterministic tie-break order for same-strength
// signals, most severe first. Do not reorder.
type SignalKind string

const (
	KindDangerousInstruction SignalKind = "dangerous_instruction_suspected"
	KindPromptInjection      SignalKind = "prompt_injection_suspected"
	KindRefusalRephrase      SignalKind = "refusal_rephrase_suspected"
	KindCrescendo            SignalKind = "crescendo_escalation"
	KindRiskVelocity         SignalKind = "risk_velocity_spike"
	KindBenign               SignalKind = "benign"
)

// KindRank maps a signal kind to its precedence rank (lower = more severe).
var KindRank = map[SignalKind]int{
	KindDangerousInstruction: 0,
	KindPromptInjection:      1,
	KindRefusalRephrase:      2,
	KindCrescendo:            3,
	KindRiskVelocity:         4,
	KindBenign:               5,
}

// InjectionFamily reports whether the kind feeds the session risk
// accumulator. Dangerous-instruction signals do not accumulate; they either
// hard-block or fall away.
func InjectionFamily(k SignalKind) bool {
	switch k {
	case KindPromptInjection, KindRefusalRephrase, KindCrescendo, KindRiskVelocity:
		return true
	}
	return false
}

// Signal is a typed, strength-scored indicator derived from one turn.
// Signals are ephemeral: derived fresh per turn, persisted only inside the
// Decision they contributed to.
type Signal struct {
	Kind         SignalKind `json:"kind"`
	Strength     float64    `json:"strength"` // 0.0–1.0
	SourceTurnID int64      `json:"source_turn_id"`
	Detail       string     `json:"detail,omitempty"`
}

// Turn is one role-attributed message within a session. Immutable once
// appended; turn IDs are strictly increasing per session.
type Turn struct {
	SessionID string    `json:"session_id"`
	TurnID    int64     `json:"turn_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"ts"`
}

// Reason codes attached to every Decision. A Decision is never produced
// without one.
const (
	ReasonLatchedBlocked      = "session_latched_blocked"
	ReasonDangerous           = "dangerous_instruction"
	ReasonInjectionEscalation = "injection_pattern_escalation"
	ReasonInjectionSingle     = "injection_suspected_single_turn"
	ReasonBenign              = "benign"
)

// Decision is the rendered outcome for one turn. Produced exactly once per
// turn and appended to session history alongside it.
type Decision struct {
	TurnID              int64     `json:"turn_id"`
	Verdict             Verdict   `json:"verdict"`
	ReasonCode          string    `json:"reason_code"`
	ContributingSignals []Signal  `json:"contributing_signals"`
	CreatedAt           time.Time `json:"created_at"`
}

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusActive      SessionStatus = "ACTIVE"
	StatusUnderReview SessionStatus = "UNDER_REVIEW"
	StatusBlocked     SessionStatus = "BLOCKED"
)

// SessionState is the per-session mutable state owned by the store. All other
// components receive copies, never references to store internals.
type SessionState struct {
	SessionID    string        `json:"session_id"`
	Turns        []Turn        `json:"turns"`
	Decisions    []Decision    `json:"decisions"`
	Risk         float64       `json:"risk_accumulator"`
	Status       SessionStatus `json:"current_status"`
	LastTurnID   int64         `json:"last_turn_id"`
	LastDecision *Decision     `json:"last_decision,omitempty"`
}

// NewSessionState returns a fresh session: ACTIVE, empty history, zero risk.
func NewSessionState(sessionID string) SessionState {
	return SessionState{
		SessionID: sessionID,
		Status:    StatusActive,
	}
}

// Latched reports whether the session has reached the irreversible BLOCKED
// state.
func (s *SessionState) Latched() bool {
	return s.Status == StatusBlocked
}
