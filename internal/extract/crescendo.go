package extract

import (
	"fmt"

	"github.com/turnguard/turnguard/internal/model"
)

// defaultSensitiveKeywords feed the crescendo progression score.
var defaultSensitiveKeywords = []string{
	"system prompt",
	"hidden prompt",
	"bypass",
	"exploit",
	"jailbreak",
	"override",
	"ignore instructions",
	"reveal instructions",
}

const (
	// crescendoMinScore is the minimum keyword count on the current turn for
	// an escalation to register at all.
	crescendoMinScore = 2
	crescendoBase     = 0.3
	crescendoStep     = 0.1
	crescendoMax      = 0.6
)

// Crescendo detects escalating sensitive-keyword usage across consecutive
// user turns: each request probes a little further than the last.
type Crescendo struct {
	keywords []string
}

// NewCrescendo uses the default keyword list unless the policy config
// overrides it.
func NewCrescendo(keywords []string) *Crescendo {
	if len(keywords) == 0 {
		keywords = defaultSensitiveKeywords
	}
	return &Crescendo{keywords: keywords}
}

func (c *Crescendo) Name() string { return "crescendo" }

// Extract fires when the current user turn's keyword score strictly exceeds
// the previous user turn's and reaches the minimum. First user turns never
// fire: escalation needs a baseline.
func (c *Crescendo) Extract(turn model.Turn, history []model.Turn) []model.Signal {
	if turn.Role != model.RoleUser {
		return nil
	}

	var prev *model.Turn
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == model.RoleUser {
			prev = &history[i]
			break
		}
	}
	if prev == nil {
		return nil
	}

	prevScore := keywordCount(prev.Content, c.keywords)
	curScore := keywordCount(turn.Content, c.keywords)
	if curScore <= prevScore || curScore < crescendoMinScore {
		return nil
	}

	strength := crescendoBase + crescendoStep*float64(curScore-prevScore-1)
	if strength > crescendoMax {
		strength = crescendoMax
	}

	return []model.Signal{{
		Kind:         model.KindCrescendo,
		Strength:     strength,
		SourceTurnID: turn.TurnID,
		Detail:       fmt.Sprintf("keyword_score=%d prev=%d", curScore, prevScore),
	}}
}
