package extract

import (
	"fmt"

	"github.com/turnguard/turnguard/internal/model"
)

const (
	velocityBase = 0.5
	velocityStep = 0.1
	velocityMax  = 0.8
)

// RiskVelocity detects a sudden spike in sensitive-keyword usage: the current
// user turn jumps far above the previous one after the session already showed
// an upward trend. Crescendo catches the slow ramp; velocity catches the
// lurch.
type RiskVelocity struct {
	keywords         []string
	minKeywordDelta  int
	minIncreaseTurns int
}

// NewRiskVelocity uses the shared sensitive-keyword list (config overrides
// replace the defaults) with the configured spike thresholds.
func NewRiskVelocity(keywords []string, minKeywordDelta, minIncreaseTurns int) *RiskVelocity {
	if len(keywords) == 0 {
		keywords = defaultSensitiveKeywords
	}
	if minKeywordDelta <= 0 {
		minKeywordDelta = 5
	}
	if minIncreaseTurns <= 0 {
		minIncreaseTurns = 2
	}
	return &RiskVelocity{
		keywords:         keywords,
		minKeywordDelta:  minKeywordDelta,
		minIncreaseTurns: minIncreaseTurns,
	}
}

func (v *RiskVelocity) Name() string { return "risk_velocity" }

// Extract fires on the turn whose keyword delta over the previous user turn
// reaches the spike threshold, provided the window holds enough increase
// turns (current included) to show a trend rather than a one-off.
func (v *RiskVelocity) Extract(turn model.Turn, history []model.Turn) []model.Signal {
	if turn.Role != model.RoleUser {
		return nil
	}

	scores := make([]int, 0, len(history)+1)
	for _, t := range history {
		if t.Role == model.RoleUser {
			scores = append(scores, keywordCount(t.Content, v.keywords))
		}
	}
	if len(scores) == 0 {
		return nil
	}
	scores = append(scores, keywordCount(turn.Content, v.keywords))

	increases := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[i-1] {
			increases++
		}
	}

	delta := scores[len(scores)-1] - scores[len(scores)-2]
	if delta < v.minKeywordDelta || increases < v.minIncreaseTurns {
		return nil
	}

	strength := velocityBase + velocityStep*float64(delta-v.minKeywordDelta)
	if strength > velocityMax {
		strength = velocityMax
	}

	return []model.Signal{{
		Kind:         model.KindRiskVelocity,
		Strength:     strength,
		SourceTurnID: turn.TurnID,
		Detail:       fmt.Sprintf("keyword_delta=%d increase_turns=%d", delta, increases),
	}}
}
