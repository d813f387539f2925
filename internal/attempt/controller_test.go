package attempt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wybie18/codeknight-go/internal/platform"
)

/* ---------------- In-memory fake of the platform API ---------------- */

type savedAnswer struct {
	itemID int64
	value  any
}

type fakeAPI struct {
	mu      sync.Mutex
	detail  *platform.TestDetail
	attempt *platform.TestAttempt

	startCalls  int
	submitCalls int
	saves       []savedAnswer

	saveErr       error
	submitErr     error
	submitEntered chan struct{}
	submitBlock   chan struct{}
}

func (f *fakeAPI) GetTest(_ context.Context, _ string) (*platform.TestDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.detail
	return &cp, nil
}

func (f *fakeAPI) GetAttempt(_ context.Context, _ string, _ int64) (*platform.TestAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.attempt
	return &cp, nil
}

func (f *fakeAPI) StartAttempt(_ context.Context, _ string) (*platform.TestAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	cp := *f.attempt
	return &cp, nil
}

func (f *fakeAPI) SubmitAnswer(_ context.Context, _ string, _ int64, itemID int64, answer any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves = append(f.saves, savedAnswer{itemID: itemID, value: answer})
	return nil
}

func (f *fakeAPI) SubmitAttempt(_ context.Context, _ string, _ int64) (*platform.TestAttempt, error) {
	if f.submitEntered != nil {
		f.submitEntered <- struct{}{}
	}
	if f.submitBlock != nil {
		<-f.submitBlock
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitCalls++
	score := 8.0
	now := time.Now()
	cp := *f.attempt
	cp.Status = platform.AttemptSubmitted
	cp.TotalScore = &score
	cp.SubmittedAt = &now
	cp.Submissions = []platform.ItemSubmission{
		{ItemID: 1, Answer: 1, Score: f64(3)},
		{ItemID: 2, Answer: true, Score: f64(2)},
		{ItemID: 3, Answer: "len", Score: f64(2)},
		{ItemID: 4, Answer: "code", Score: f64(1)},
	}
	return &cp, nil
}

func f64(v float64) *float64 { return &v }

func seedTest(durationMinutes *int) platform.Test {
	one := 1
	yes := true
	return platform.Test{
		ID: 7, Slug: "go-basics", Title: "Go Basics",
		DurationMinutes: durationMinutes,
		TotalPoints:     10,
		MaxAttempts:     3,
		Status:          platform.TestStatusActive,
		Items: []platform.TestItem{
			{ID: 1, Order: 1, Points: 3, Type: platform.ItemMultipleChoice, Payload: &platform.MultipleChoiceQuestion{Question: "q1", Options: []string{"a", "b"}, CorrectOption: &one}},
			{ID: 2, Order: 2, Points: 2, Type: platform.ItemBoolean, Payload: &platform.BooleanQuestion{Question: "q2", CorrectAnswer: &yes}},
			{ID: 3, Order: 3, Points: 2, Type: platform.ItemFillBlank, Payload: &platform.FillBlankQuestion{Question: "q3", AcceptedAnswers: []string{"len"}}},
			{ID: 4, Order: 4, Points: 2, Type: platform.ItemCoding, Payload: &platform.CodingProblem{Title: "q4", Description: "d"}},
			{ID: 5, Order: 5, Points: 1, Type: platform.ItemEssay, Payload: &platform.EssayPrompt{Prompt: "q5"}},
		},
	}
}

func seedAPI(t *testing.T, durationMinutes *int, startedAt time.Time) *fakeAPI {
	t.Helper()
	test := seedTest(durationMinutes)
	return &fakeAPI{
		detail: &platform.TestDetail{Test: test, CanStartAttempt: true},
		attempt: &platform.TestAttempt{
			ID: 42, TestID: test.ID, AttemptNumber: 1,
			StartedAt: startedAt,
			Status:    platform.AttemptInProgress,
			Test:      &test,
		},
	}
}

/* ------------------------------- Tests ------------------------------- */

func TestLoadLandsOnOverview(t *testing.T) {
	api := seedAPI(t, nil, time.Now())
	c := NewController(api, "go-basics")
	defer c.Close()

	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.State(); got != StateOverview {
		t.Fatalf("expected overview, got %q", got)
	}
}

func TestLoadResumesInProgressAttempt(t *testing.T) {
	dur := 30
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := started.Add(time.Minute) // 60s elapsed
	api := seedAPI(t, &dur, started)
	api.detail.Attempts = []platform.TestAttempt{{ID: 42, AttemptNumber: 1, Status: platform.AttemptInProgress}}
	api.attempt.Submissions = []platform.ItemSubmission{{ItemID: 1, Answer: "42"}}

	c := NewController(api, "go-basics", WithClock(func() time.Time { return now }))
	defer c.Close()

	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.State(); got != StateAttempt {
		t.Fatalf("expected attempt state, got %q", got)
	}
	answers := c.Answers()
	if len(answers) != 1 || answers[1] != "42" {
		t.Fatalf("expected answers rehydrated to {1: 42}, got %v", answers)
	}
	if want := 30*60 - 60; c.TimeLeft() != want {
		t.Fatalf("expected timeLeft %d, got %d", want, c.TimeLeft())
	}
}

func TestLoadShowsResultWhenNoAttemptsLeft(t *testing.T) {
	api := seedAPI(t, nil, time.Now())
	api.detail.CanStartAttempt = false
	api.detail.Attempts = []platform.TestAttempt{{ID: 42, AttemptNumber: 1, Status: platform.AttemptGraded}}
	score := 8.0
	api.attempt.Status = platform.AttemptGraded
	api.attempt.TotalScore = &score
	api.attempt.Submissions = []platform.ItemSubmission{
		{ItemID: 1, Score: f64(3)}, {ItemID: 2, Score: f64(2)},
		{ItemID: 3, Score: f64(2)}, {ItemID: 4, Score: f64(1)},
	}

	c := NewController(api, "go-basics")
	defer c.Close()

	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.State(); got != StateViewResult {
		t.Fatalf("expected view_result, got %q", got)
	}
	res := c.Result()
	if res == nil || res.Score != 8 || !res.Passed {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestStartRejectedWithoutPermission(t *testing.T) {
	api := seedAPI(t, nil, time.Now())
	api.detail.CanStartAttempt = false

	c := NewController(api, "go-basics")
	defer c.Close()
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrCannotStart) {
		t.Fatalf("expected ErrCannotStart, got %v", err)
	}
	if api.startCalls != 0 {
		t.Fatalf("expected no network call, got %d", api.startCalls)
	}
}

func TestCountdownDecrementsAndAutoSubmitsOnce(t *testing.T) {
	dur := 1 // 60 seconds
	api := seedAPI(t, &dur, time.Now())
	var ticks []int
	c := NewController(api, "go-basics", WithHooks(Hooks{
		OnTick: func(left int) { ticks = append(ticks, left) },
	}))
	defer c.Close()

	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.TimeLeft() != 60 {
		t.Fatalf("expected 60s, got %d", c.TimeLeft())
	}

	for i := 0; i < 70; i++ {
		if !c.tick() {
			break
		}
	}

	if c.TimeLeft() != 0 {
		t.Fatalf("expected timeLeft clamped to 0, got %d", c.TimeLeft())
	}
	if api.submitCalls != 1 {
		t.Fatalf("expected exactly 1 submit call, got %d", api.submitCalls)
	}
	if got := c.State(); got != StateResult {
		t.Fatalf("expected result state, got %q", got)
	}
	for i, left := range ticks {
		if want := 59 - i; left != want {
			t.Fatalf("tick %d: expected %d, got %d", i, want, left)
		}
		if left < 0 {
			t.Fatalf("timeLeft went negative: %d", left)
		}
	}
}

func TestViolationEscalationForcesSingleSubmit(t *testing.T) {
	api := seedAPI(t, nil, time.Now())
	var warnings []string
	c := NewController(api, "go-basics", WithHooks(Hooks{
		OnWarning: func(msg string) { warnings = append(warnings, msg) },
	}))
	defer c.Close()

	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	c.ReportAppBackground()
	c.ReportAppBackground()
	if api.submitCalls != 0 {
		t.Fatalf("submitted before reaching the limit")
	}
	c.ReportAppBackground()

	if api.submitCalls != 1 {
		t.Fatalf("expected exactly 1 submit call, got %d", api.submitCalls)
	}
	if !c.IsForceSubmit() {
		t.Fatalf("expected forceSubmit to be set")
	}
	if got := len(c.Violations()); got != 3 {
		t.Fatalf("expected 3 violations, got %d", got)
	}
	if len(warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %d: %v", len(warnings), warnings)
	}

	// Further reports after escalation are ignored.
	c.ReportAppBackground()
	if got := len(c.Violations()); got != 3 {
		t.Fatalf("violation recorded after escalation: %d", got)
	}
	res := c.Result()
	if res == nil || len(res.Violations) != 3 {
		t.Fatalf("expected violations attached to result, got %+v", res)
	}
}

func TestSubmitIsIdempotentUnderRace(t *testing.T) {
	api := seedAPI(t, nil, time.Now())
	api.submitEntered = make(chan struct{}, 1)
	api.submitBlock = make(chan struct{})

	c := NewController(api, "go-basics")
	defer c.Close()
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.RecordAnswer(1, 1)
	c.RecordAnswer(2, true)
	c.RecordAnswer(3, "len")
	c.RecordAnswer(4, "code")
	c.RecordAnswer(5, "essay text")

	done := make(chan error, 1)
	go func() { done <- c.Submit(context.Background(), true) }()
	<-api.submitEntered // first submit is now in flight

	if err := c.Submit(context.Background(), true); !errors.Is(err, ErrSubmitInFlight) {
		t.Fatalf("expected ErrSubmitInFlight, got %v", err)
	}

	close(api.submitBlock)
	if err := <-done; err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	if api.submitCalls != 1 {
		t.Fatalf("expected exactly 1 network submit, got %d", api.submitCalls)
	}
}

func TestAutoSaveDebouncesToLastValue(t *testing.T) {
	api := seedAPI(t, nil, time.Now())
	c := NewController(api, "go-basics", WithAutoSaveDelay(20*time.Millisecond))
	defer c.Close()
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	for _, v := range []string{"l", "le", "len"} {
		c.RecordAnswer(3, v)
	}
	time.Sleep(100 * time.Millisecond)

	api.mu.Lock()
	saves := append([]savedAnswer(nil), api.saves...)
	api.mu.Unlock()
	if len(saves) != 1 {
		t.Fatalf("expected 1 auto-save, got %d", len(saves))
	}
	if saves[0].itemID != 3 || saves[0].value != "len" {
		t.Fatalf("expected last value saved, got %+v", saves[0])
	}
}

func TestAutoSaveIsKeyedPerItem(t *testing.T) {
	api := seedAPI(t, nil, time.Now())
	c := NewController(api, "go-basics", WithAutoSaveDelay(20*time.Millisecond))
	defer c.Close()
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	c.RecordAnswer(1, 1)
	c.RecordAnswer(3, "len") // within item 1's debounce window
	time.Sleep(100 * time.Millisecond)

	api.mu.Lock()
	n := len(api.saves)
	api.mu.Unlock()
	if n != 2 {
		t.Fatalf("expected both items saved, got %d saves", n)
	}
}

func TestSubmitCancelsPendingAutoSave(t *testing.T) {
	api := seedAPI(t, nil, time.Now())
	c := NewController(api, "go-basics", WithAutoSaveDelay(50*time.Millisecond))
	defer c.Close()
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	c.RecordAnswer(3, "len")
	if err := c.Submit(context.Background(), true); err != nil {
		t.Fatalf("submit: %v", err)
	}
	time.Sleep(120 * time.Millisecond)

	api.mu.Lock()
	n := len(api.saves)
	api.mu.Unlock()
	if n != 0 {
		t.Fatalf("stale auto-save landed after submission: %d", n)
	}
}

func TestEmptyAnswerIsNotAutoSaved(t *testing.T) {
	api := seedAPI(t, nil, time.Now())
	c := NewController(api, "go-basics", WithAutoSaveDelay(10*time.Millisecond))
	defer c.Close()
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	c.RecordAnswer(3, "   ")
	time.Sleep(50 * time.Millisecond)

	api.mu.Lock()
	n := len(api.saves)
	api.mu.Unlock()
	if n != 0 {
		t.Fatalf("empty answer scheduled a save")
	}
	if _, ok := c.Answers()[3]; !ok {
		t.Fatalf("empty answer should still be recorded locally")
	}
}

func TestIncompleteSubmitAsksForConfirmation(t *testing.T) {
	api := seedAPI(t, nil, time.Now())
	c := NewController(api, "go-basics")
	defer c.Close()
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	c.RecordAnswer(1, 0)
	c.RecordAnswer(2, false)
	c.RecordAnswer(3, "len")

	err := c.Submit(context.Background(), false)
	var inc *IncompleteError
	if !errors.As(err, &inc) {
		t.Fatalf("expected IncompleteError, got %v", err)
	}
	if inc.Unanswered != 2 {
		t.Fatalf("expected 2 unanswered, got %d", inc.Unanswered)
	}
	if want := "2 unanswered question(s)"; inc.Error() != want {
		t.Fatalf("expected %q, got %q", want, inc.Error())
	}
	if api.submitCalls != 0 {
		t.Fatalf("unconfirmed submit reached the network")
	}

	if err := c.Submit(context.Background(), true); err != nil {
		t.Fatalf("confirmed submit: %v", err)
	}
	if api.submitCalls != 1 {
		t.Fatalf("expected 1 submit, got %d", api.submitCalls)
	}
}

func TestResumePastDeadlineTriggersTimeUp(t *testing.T) {
	dur := 30
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := started.Add(31 * time.Minute)
	api := seedAPI(t, &dur, started)
	api.detail.Attempts = []platform.TestAttempt{{ID: 42, AttemptNumber: 1, Status: platform.AttemptInProgress}}

	c := NewController(api, "go-basics", WithClock(func() time.Time { return now }))
	defer c.Close()

	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.TimeLeft() != 0 {
		t.Fatalf("expected timeLeft 0, got %d", c.TimeLeft())
	}
	if api.submitCalls != 1 {
		t.Fatalf("expected the time-up submit, got %d calls", api.submitCalls)
	}
	if got := c.State(); got != StateResult {
		t.Fatalf("expected result state, got %q", got)
	}
}

func TestViewResultRejectedDuringAttempt(t *testing.T) {
	dur := 30
	api := seedAPI(t, &dur, time.Now())
	c := NewController(api, "go-basics")
	defer c.Close()
	ctx := context.Background()

	if err := c.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.ViewResult(ctx, 42); err == nil {
		t.Fatalf("viewing results mid-attempt must be rejected")
	}
	if got := c.State(); got != StateAttempt {
		t.Fatalf("rejected view changed state to %q", got)
	}
	if !c.tick() {
		t.Fatalf("countdown stopped by the rejected view")
	}
	if c.TimeLeft() != 30*60-1 {
		t.Fatalf("countdown not running: %d", c.TimeLeft())
	}

	// After finishing and starting over, the countdown must arm again
	// for the fresh attempt.
	if err := c.Submit(ctx, true); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := c.BackToOverview(ctx); err != nil {
		t.Fatalf("back to overview: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if c.TimeLeft() != 30*60 {
		t.Fatalf("fresh attempt time: %d", c.TimeLeft())
	}
	if !c.tick() {
		t.Fatalf("countdown suppressed on the next attempt")
	}
	if c.TimeLeft() != 30*60-1 {
		t.Fatalf("countdown not running on the next attempt: %d", c.TimeLeft())
	}
}

func TestViewResultWithoutTestDefinition(t *testing.T) {
	api := seedAPI(t, nil, time.Now())
	api.attempt.Test = nil
	c := NewController(api, "go-basics")
	defer c.Close()

	// No Load happened, so the controller has no test to fall back on.
	if err := c.ViewResult(context.Background(), 42); err == nil {
		t.Fatalf("expected an error when the response carries no test definition")
	}
}

func TestCloseStopsSessionWithoutSubmitting(t *testing.T) {
	dur := 30
	api := seedAPI(t, &dur, time.Now())
	c := NewController(api, "go-basics")
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	c.Close()
	if c.tick() {
		t.Fatalf("tick should stop after Close")
	}
	if api.submitCalls != 0 {
		t.Fatalf("Close must not submit")
	}
	c.Close() // idempotent
}
