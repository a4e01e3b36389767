package validation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ScoreCriteria are the named sub-scores of an evaluation, each in 0..10.
var ScoreCriteria = []string{"memorable", "differentiating", "pattern_anchored", "funnel_continuous"}

// AngleID accepts either a JSON string or number.
type AngleID string

func (a *AngleID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = AngleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("angle_id: %w", err)
	}
	*a = AngleID(n.String())
	return nil
}

// Evaluation is one scored candidate.
type Evaluation struct {
	AngleID    AngleID            `json:"angle_id"`
	Scores     map[string]float64 `json:"scores"`
	TotalScore float64            `json:"total_score"`
}

// Winner is the declared winning candidate.
type Winner struct {
	AngleID     AngleID `json:"angle_id"`
	TotalScore  float64 `json:"total_score"`
	CoreMessage string  `json:"core_message"`
}

// EvaluationSet is the stage5_evaluation document.
type EvaluationSet struct {
	Evaluations []Evaluation `json:"evaluations"`
	Winner      Winner       `json:"winner"`
}

// ParseEvaluationSet decodes an evaluation document from its generic form.
func ParseEvaluationSet(doc any) (EvaluationSet, error) {
	var set EvaluationSet
	data, err := json.Marshal(doc)
	if err != nil {
		return set, err
	}
	if err := json.Unmarshal(data, &set); err != nil {
		return set, fmt.Errorf("failed to decode evaluations: %w", err)
	}
	return set, nil
}

// WeakCriterion is a winner sub-score below the weak threshold.
type WeakCriterion struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// WinnerCheck is the outcome of ConfirmWinner.
type WinnerCheck struct {
	WinnerID     string          `json:"winner_id"`
	WinnerTotal  float64         `json:"winner_total"`
	MaxTotal     float64         `json:"max_total"`
	TopScorers   []string        `json:"top_scorers"`
	IsTopScorer  bool            `json:"is_top_scorer"`
	Found        bool            `json:"found"`
	WeakCriteria []WeakCriterion `json:"weak_criteria,omitempty"`
}

// DefaultWeakThreshold is the sub-score below which a winner criterion is weak.
const DefaultWeakThreshold = 7

// ConfirmWinner checks the declared winner against the best total score
// with the default weak threshold.
func ConfirmWinner(set EvaluationSet) WinnerCheck {
	return confirmWinner(set, DefaultWeakThreshold)
}

func confirmWinner(set EvaluationSet, weak float64) WinnerCheck {
	check := WinnerCheck{WinnerID: string(set.Winner.AngleID), WinnerTotal: set.Winner.TotalScore}

	ranked := make([]Evaluation, len(set.Evaluations))
	copy(ranked, set.Evaluations)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].TotalScore > ranked[j].TotalScore })

	if len(ranked) > 0 {
		check.MaxTotal = ranked[0].TotalScore
		for _, e := range ranked {
			if e.TotalScore != check.MaxTotal {
				break
			}
			check.TopScorers = append(check.TopScorers, string(e.AngleID))
		}
	}

	for _, e := range set.Evaluations {
		if string(e.AngleID) != check.WinnerID {
			continue
		}
		check.Found = true
		check.WinnerTotal = e.TotalScore
		for _, name := range ScoreCriteria {
			if s, ok := e.Scores[name]; ok && s < weak {
				check.WeakCriteria = append(check.WeakCriteria, WeakCriterion{Name: name, Score: s})
			}
		}
		break
	}

	for _, id := range check.TopScorers {
		if id == check.WinnerID {
			check.IsTopScorer = true
		}
	}
	return check
}

// Warnings renders the check as human-readable warnings. An empty result
// means the winner is consistent.
func (c WinnerCheck) Warnings() []string {
	var out []string
	if !c.Found {
		out = append(out, fmt.Sprintf("declared winner %q is not among the evaluations", c.WinnerID))
	}
	if !c.IsTopScorer && len(c.TopScorers) > 0 {
		out = append(out, fmt.Sprintf("declared winner %q scored %s, but %s scored %s",
			c.WinnerID, formatScore(c.WinnerTotal), strings.Join(c.TopScorers, ", "), formatScore(c.MaxTotal)))
	}
	for _, w := range c.WeakCriteria {
		out = append(out, fmt.Sprintf("winner is weak on %s (%s/10)", w.Name, formatScore(w.Score)))
	}
	return out
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
