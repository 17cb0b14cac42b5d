package model

import (
	"errors"
	"fmt"
)

// ErrOutOfOrderTurn is returned when a submitted turn_id is not strictly
// greater than the last recorded turn_id for the session. The session is left
// untouched; the caller must resubmit with correct ordering.
var ErrOutOfOrderTurn = errors.New("out_of_order_turn")

// ErrMalformedTurn is returned when a required turn field is missing or
// invalid. Rejected at the boundary; no session mutation, no decision.
var ErrMalformedTurn = errors.New("malformed_turn")

// OutOfOrderTurn wraps ErrOutOfOrderTurn with the offending and last-seen IDs.
func OutOfOrderTurn(sessionID string, got, last int64) error {
	return fmt.Errorf("%w: session %s: turn_id %d <= last %d", ErrOutOfOrderTurn, sessionID, got, last)
}

// ValidateTurn checks the required inbound fields. Content may be empty.
func ValidateTurn(t Turn) error {
	if t.SessionID == "" {
		return fmt.Errorf("%w: missing session_id", ErrMalformedTurn)
	}
	if t.TurnID <= 0 {
		return fmt.Errorf("%w: turn_id must be a positive integer", ErrMalformedTurn)
	}
	if !ValidRole(t.Role) {
		return fmt.Errorf("%w: unknown role %q", ErrMalformedTurn, t.Role)
	}
	return nil
}
