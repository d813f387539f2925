package platform

import "time"

// Test statuses as reported by the platform. The client never mutates a
// test; it only reads these to decide whether an attempt may start.
const (
	TestStatusDraft     = "draft"
	TestStatusScheduled = "scheduled"
	TestStatusActive    = "active"
	TestStatusClosed    = "closed"
	TestStatusArchived  = "archived"
)

// Attempt statuses. in_progress -> submitted happens on the client's
// submit call; submitted -> graded happens server-side once manual
// grading finishes.
const (
	AttemptInProgress = "in_progress"
	AttemptSubmitted  = "submitted"
	AttemptGraded     = "graded"
	AttemptAbandoned  = "abandoned"
)

// Test is an assessment definition. DurationMinutes nil means untimed;
// MaxAttempts 0 means unlimited.
type Test struct {
	ID              int64      `json:"id"`
	Slug            string     `json:"slug"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	DurationMinutes *int       `json:"duration_minutes"`
	TotalPoints     float64    `json:"total_points"`
	MaxAttempts     int        `json:"max_attempts"`
	Status          string     `json:"status"`
	Items           []TestItem `json:"items,omitempty"`
}

// TestAttempt is one student's instance of taking a Test. TotalScore is
// nil until graded. Exactly one attempt per (student, test) may be
// in_progress at a time; the server enforces it, the client resumes it.
type TestAttempt struct {
	ID              int64            `json:"id"`
	TestID          int64            `json:"test_id"`
	AttemptNumber   int              `json:"attempt_number"`
	StartedAt       time.Time        `json:"started_at"`
	SubmittedAt     *time.Time       `json:"submitted_at"`
	Status          string           `json:"status"`
	TotalScore      *float64         `json:"total_score"`
	ViolationsCount int              `json:"violations_count"`
	Submissions     []ItemSubmission `json:"submissions,omitempty"`
	Test            *Test            `json:"test,omitempty"`
}

// ItemSubmission is the server-persisted answer for one item. Score is
// nil until that item has been graded (auto or manual).
type ItemSubmission struct {
	ItemID int64    `json:"item_id"`
	Answer any      `json:"answer"`
	Score  *float64 `json:"score"`
}

// StudentStats summarizes the requesting student's history on a test.
type StudentStats struct {
	AttemptsUsed int      `json:"attempts_used"`
	BestScore    *float64 `json:"best_score"`
}

// TestDetail is the test-detail response: the test plus everything the
// client needs to pick its initial screen (resume, view result, overview).
type TestDetail struct {
	Test            Test          `json:"test"`
	StudentStats    StudentStats  `json:"student_stats"`
	CanStartAttempt bool          `json:"can_start_attempt"`
	Attempts        []TestAttempt `json:"attempts,omitempty"`
}

type ViolationType string

// Violation types. Only app_background is reported by the mobile shell
// today; the rest are defined for parity with the platform's enum.
const (
	ViolationAppBackground ViolationType = "app_background"
	ViolationTabSwitch     ViolationType = "tab_switch"
	ViolationCopyPaste     ViolationType = "copy_paste"
	ViolationScreenshot    ViolationType = "screenshot"
	ViolationScreenRecord  ViolationType = "screen_record"
)

// Violation is one observed anti-cheat event. The client accumulates
// these per attempt session; the server's violations_count stays
// authoritative.
type Violation struct {
	Type      ViolationType `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Details   string        `json:"details,omitempty"`
}

// Course, LeaderboardEntry and Achievement back the platform's thin
// read-only listings.
type Course struct {
	ID          int64  `json:"id"`
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Lessons     int    `json:"lessons_count"`
	Progress    int    `json:"progress_percent"`
}

type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	Username string `json:"username"`
	Points   int    `json:"points"`
}

type Achievement struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	EarnedAt    *time.Time `json:"earned_at"`
}
