package extract

import (
	"fmt"
	"regexp"

	"github.com/turnguard/turnguard/internal/model"
)

// refusalPatterns identify assistant refusals.
var refusalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bi can'?t\b`),
	regexp.MustCompile(`\bi cannot\b`),
	regexp.MustCompile(`\bi'?m sorry\b`),
	regexp.MustCompile(`\bi won'?t\b`),
	regexp.MustCompile(`\bcan'?t help\b`),
	regexp.MustCompile(`\bnot able to\b`),
	regexp.MustCompile(`\bcan'?t do that\b`),
}

const (
	// rephraseSimThreshold is the token-jaccard similarity above which a new
	// user turn counts as a rephrase of a previously refused request.
	rephraseSimThreshold = 0.35
	rephraseStrength     = 0.4
)

// RefusalRephrase detects the refusal→rephrase evasion loop: the assistant
// refused a request and the user resubmits a near-identical one.
type RefusalRephrase struct{}

func NewRefusalRephrase() *RefusalRephrase { return &RefusalRephrase{} }

func (r *RefusalRephrase) Name() string { return "refusal_rephrase" }

// Extract compares the current user turn against the user request that
// preceded the most recent assistant refusal in the history window.
func (r *RefusalRephrase) Extract(turn model.Turn, history []model.Turn) []model.Signal {
	if turn.Role != model.RoleUser || len(history) == 0 {
		return nil
	}

	refusalIdx := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == model.RoleAssistant && isRefusal(history[i].Content) {
			refusalIdx = i
			break
		}
	}
	if refusalIdx < 0 {
		return nil
	}

	// The request that got refused: last user turn before the refusal.
	var refused *model.Turn
	for i := refusalIdx - 1; i >= 0; i-- {
		if history[i].Role == model.RoleUser {
			refused = &history[i]
			break
		}
	}
	if refused == nil {
		return nil
	}

	sim := jaccard(refused.Content, turn.Content)
	if sim < rephraseSimThreshold {
		return nil
	}

	return []model.Signal{{
		Kind:         model.KindRefusalRephrase,
		Strength:     rephraseStrength,
		SourceTurnID: turn.TurnID,
		Detail:       fmt.Sprintf("similarity=%.3f refused_turn=%d", sim, refused.TurnID),
	}}
}

func isRefusal(text string) bool {
	t := normalizeText(text)
	for _, re := range refusalPatterns {
		if re.MatchString(t) {
			return true
		}
	}
	return false
}
