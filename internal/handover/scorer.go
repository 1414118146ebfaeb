package handover

import (
	"strings"

	"leadflow-platform/internal/conversation"
)

// Scorer estimates a lead's readiness (0-100) from conversation content.
//
// The scoring formula is a pluggable strategy: the evaluator only requires
// that thresholds be comparable against whatever a Scorer produces. The
// store keeps the max of old and new scores, so no strategy can regress an
// existing higher score.
type Scorer interface {
	Score(c conversation.Conversation) int
}

// KeywordScorer is the default strategy: additive weights for keyword
// categories found in lead messages plus a small engagement bonus per reply,
// clamped to 0-100.
type KeywordScorer struct {
	// Weights maps a lowercase keyword to its score contribution. Each
	// keyword counts once per conversation regardless of repetition.
	Weights map[string]int

	// ReplyBonus is added once per lead message.
	ReplyBonus int
}

// NewKeywordScorer returns the stock weighting: buying intent scores
// highest, then budget/authority signals, then engagement.
func NewKeywordScorer() *KeywordScorer {
	return &KeywordScorer{
		Weights: map[string]int{
			"ready to buy": 30,
			"buy":          15,
			"purchase":     15,
			"pricing":      15,
			"price":        10,
			"budget":       20,
			"decision":     10,
			"demo":         15,
			"interested":   10,
			"when":         5,
		},
		ReplyBonus: 5,
	}
}

func (s *KeywordScorer) Score(c conversation.Conversation) int {
	score := 0
	seen := make(map[string]bool, len(s.Weights))

	for _, m := range c.Messages {
		if m.Role != conversation.RoleLead {
			continue
		}
		score += s.ReplyBonus
		content := strings.ToLower(m.Content)
		for kw, pts := range s.Weights {
			if seen[kw] {
				continue
			}
			if strings.Contains(content, kw) {
				seen[kw] = true
				score += pts
			}
		}
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// matchKeyword returns the first configured trigger found in a lead
// message, matched case-insensitively as a substring. Agent messages are
// skipped: an outbound template that mentions a trigger phrase must not
// hand its own lead over.
func matchKeyword(c conversation.Conversation, triggers []string) (string, bool) {
	for _, m := range c.Messages {
		if m.Role != conversation.RoleLead {
			continue
		}
		content := strings.ToLower(m.Content)
		for _, trig := range triggers {
			if trig == "" {
				continue
			}
			if strings.Contains(content, strings.ToLower(trig)) {
				return trig, true
			}
		}
	}
	return "", false
}
