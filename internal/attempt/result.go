package attempt

import "github.com/wybie18/codeknight-go/internal/platform"

// PassPercentage is the platform-wide pass threshold.
const PassPercentage = 50.0

// Result is the derived outcome of an attempt. It is never stored;
// Materialize recomputes it identically for a fresh submission and for a
// historical fetch.
type Result struct {
	Score              float64              `json:"score"`
	TotalPoints        float64              `json:"total_points"`
	Percentage         float64              `json:"percentage"`
	Passed             bool                 `json:"passed"`
	NeedsManualGrading bool                 `json:"needs_manual_grading"`
	GradedItems        int                  `json:"graded_items"`
	TotalItems         int                  `json:"total_items"`
	Violations         []platform.Violation `json:"violations,omitempty"`
}

// Materialize computes a Result from an attempt and its test definition.
func Materialize(a *platform.TestAttempt, t *platform.Test) Result {
	score := 0.0
	if a.TotalScore != nil {
		score = *a.TotalScore
	}
	graded := 0
	for _, s := range a.Submissions {
		if s.Score != nil {
			graded++
		}
	}
	total := len(t.Items)
	pct := 0.0
	if t.TotalPoints > 0 {
		pct = score / t.TotalPoints * 100
	}
	return Result{
		Score:              score,
		TotalPoints:        t.TotalPoints,
		Percentage:         pct,
		Passed:             pct >= PassPercentage,
		NeedsManualGrading: graded < total,
		GradedItems:        graded,
		TotalItems:         total,
	}
}
