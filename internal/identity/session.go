package identity

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// MaxSessionID caps the length of caller-supplied session identifiers.
const MaxSessionID = 64

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	illegalRe    = regexp.MustCompile(`[^a-z0-9_\-]`)
)

// NormalizeSessionID canonicalizes a caller-supplied session id: trim,
// lowercase, spaces to underscores, strip illegal characters, cap length.
// An id that normalizes to nothing becomes "default".
func NormalizeSessionID(sessionID string) string {
	sid := strings.ToLower(strings.TrimSpace(sessionID))
	sid = whitespaceRe.ReplaceAllString(sid, "_")
	sid = illegalRe.ReplaceAllString(sid, "")
	if len(sid) > MaxSessionID {
		sid = sid[:MaxSessionID]
	}
	if sid == "" {
		sid = "default"
	}
	return sid
}

// NewSessionID generates a fresh session id for callers that did not supply
// one, and for replay cases that need private, non-colliding sessions.
func NewSessionID() string {
	return "sess-" + uuid.NewString()
}
