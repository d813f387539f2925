package practice

import (
	"encoding/json"
	"strings"

	"github.com/wybie18/codeknight-go/internal/platform"
)

// Grader scores one submission per item type. A nil score means the item
// needs manual grading (coding, essay).
type Grader struct {
	strategies map[platform.ItemType]strategy
}

type strategy func(it platform.TestItem, answer any) *float64

// NewGrader installs the built-in strategies.
func NewGrader() *Grader {
	return &Grader{strategies: map[platform.ItemType]strategy{
		platform.ItemMultipleChoice: gradeMultipleChoice,
		platform.ItemFillBlank:      gradeFillBlank,
		platform.ItemBoolean:        gradeBoolean,
	}}
}

// Grade returns the awarded points, or nil when the item type has no
// auto-grading strategy.
func (g *Grader) Grade(it platform.TestItem, answer any) *float64 {
	s, ok := g.strategies[it.Type]
	if !ok {
		return nil
	}
	return s(it, answer)
}

func gradeMultipleChoice(it platform.TestItem, answer any) *float64 {
	p, ok := it.Payload.(*platform.MultipleChoiceQuestion)
	if !ok || p.CorrectOption == nil {
		return nil
	}
	idx, ok := toInt(answer)
	score := 0.0
	if ok && idx == *p.CorrectOption {
		score = it.Points
	}
	return &score
}

func gradeBoolean(it platform.TestItem, answer any) *float64 {
	p, ok := it.Payload.(*platform.BooleanQuestion)
	if !ok || p.CorrectAnswer == nil {
		return nil
	}
	b, ok := answer.(bool)
	score := 0.0
	if ok && b == *p.CorrectAnswer {
		score = it.Points
	}
	return &score
}

func gradeFillBlank(it platform.TestItem, answer any) *float64 {
	p, ok := it.Payload.(*platform.FillBlankQuestion)
	if !ok || len(p.AcceptedAnswers) == 0 {
		return nil
	}
	s, ok := answer.(string)
	score := 0.0
	if ok {
		got := strings.ToLower(strings.TrimSpace(s))
		for _, want := range p.AcceptedAnswers {
			if got == strings.ToLower(strings.TrimSpace(want)) {
				score = it.Points
				break
			}
		}
	}
	return &score
}

// toInt accepts the shapes an option index arrives in: a Go int from
// in-process callers, a float64 or json.Number after JSON decoding.
func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
