package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wybie18/codeknight-go/internal/platform"
)

// State is the controller's screen state.
type State string

const (
	StateLoading    State = "loading"
	StateOverview   State = "overview"
	StateAttempt    State = "attempt"
	StateResult     State = "result"
	StateViewResult State = "view_result"
)

const (
	// DefaultMaxViolations forces submission once reached.
	DefaultMaxViolations = 3
	// DefaultAutoSaveDelay is the debounce window for answer writes.
	DefaultAutoSaveDelay = time.Second

	// ReasonTimeUp and ReasonMaxViolations label forced submissions.
	ReasonTimeUp        = "Time is up!"
	ReasonMaxViolations = "Maximum violations exceeded"
)

// API is the slice of the platform client the controller needs.
type API interface {
	GetTest(ctx context.Context, slug string) (*platform.TestDetail, error)
	GetAttempt(ctx context.Context, slug string, attemptID int64) (*platform.TestAttempt, error)
	StartAttempt(ctx context.Context, slug string) (*platform.TestAttempt, error)
	SubmitAnswer(ctx context.Context, slug string, attemptID, itemID int64, answer any) error
	SubmitAttempt(ctx context.Context, slug string, attemptID int64) (*platform.TestAttempt, error)
}

// Auditor records attempt-session events to a local append-only log.
type Auditor interface {
	Append(ctx context.Context, typ, key, dataJSON string) error
}

// Hooks are the shell's observation points. They replace the mobile
// app's alert dialogs and are invoked outside the controller lock.
type Hooks struct {
	OnStateChange func(State)
	OnTick        func(secondsLeft int)
	OnWarning     func(message string)
	OnResult      func(Result)
}

// Clock is an injectable time source.
type Clock func() time.Time

// Controller drives one test-taking session: the screen-state machine,
// the countdown, violation escalation and answer auto-save. The shell
// owns exactly one Controller per test screen and must Close it when
// navigating away.
type Controller struct {
	api           API
	slug          string
	clock         Clock
	hooks         Hooks
	log           *slog.Logger
	audit         Auditor
	maxViolations int
	saver         *autoSaver

	mu           sync.Mutex
	state        State
	detail       *platform.TestDetail
	test         *platform.Test
	attempt      *platform.TestAttempt
	answers      map[int64]any
	violations   []platform.Violation
	timed        bool
	timeLeft     int
	isSubmitting bool
	forceSubmit  bool
	result       *Result
	closed       bool
	stopTimer    chan struct{}
}

// Option configures the controller.
type Option func(*Controller)

func WithClock(c Clock) Option               { return func(ct *Controller) { ct.clock = c } }
func WithHooks(h Hooks) Option               { return func(ct *Controller) { ct.hooks = h } }
func WithLogger(l *slog.Logger) Option       { return func(ct *Controller) { ct.log = l } }
func WithAuditLog(a Auditor) Option          { return func(ct *Controller) { ct.audit = a } }
func WithMaxViolations(n int) Option         { return func(ct *Controller) { ct.maxViolations = n } }
func WithAutoSaveDelay(d time.Duration) Option {
	return func(ct *Controller) { ct.saver.delay = d }
}

// NewController creates a controller for one test, identified by slug.
func NewController(api API, slug string, opts ...Option) *Controller {
	c := &Controller{
		api:           api,
		slug:          slug,
		clock:         time.Now,
		log:           slog.Default(),
		maxViolations: DefaultMaxViolations,
		state:         StateLoading,
		answers:       map[int64]any{},
	}
	c.saver = newAutoSaver(DefaultAutoSaveDelay, c.saveAnswer)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load fetches the test and picks the initial screen: resume an
// in_progress attempt, show the latest result when no further attempt is
// permitted, or land on the overview.
func (c *Controller) Load(ctx context.Context) error {
	detail, err := c.api.GetTest(ctx, c.slug)
	if err != nil {
		return fmt.Errorf("load test: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.detail = detail
	c.test = &detail.Test
	c.mu.Unlock()

	var resumable, latest *platform.TestAttempt
	for i := range detail.Attempts {
		a := &detail.Attempts[i]
		if a.Status == platform.AttemptInProgress {
			resumable = a
		}
		if latest == nil || a.AttemptNumber > latest.AttemptNumber {
			latest = a
		}
	}

	if resumable != nil {
		return c.Resume(ctx, resumable.ID)
	}
	if latest != nil && !detail.CanStartAttempt &&
		(latest.Status == platform.AttemptSubmitted || latest.Status == platform.AttemptGraded) {
		return c.viewResult(ctx, latest.ID)
	}
	c.transition(StateOverview)
	return nil
}

// Start begins a fresh attempt. It is rejected client-side when the
// server has not granted can_start_attempt.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.detail == nil || !c.detail.CanStartAttempt {
		c.mu.Unlock()
		return ErrCannotStart
	}
	if c.state != StateOverview {
		c.mu.Unlock()
		return fmt.Errorf("attempt: cannot start from state %q", c.state)
	}
	c.mu.Unlock()

	a, err := c.api.StartAttempt(ctx, c.slug)
	if err != nil {
		return fmt.Errorf("start attempt: %w", err)
	}

	c.mu.Lock()
	c.attempt = a
	if a.Test != nil {
		c.test = a.Test
	}
	c.answers = map[int64]any{}
	c.violations = nil
	c.isSubmitting = false
	c.forceSubmit = false
	c.result = nil
	c.timed = c.test.DurationMinutes != nil
	if c.timed {
		c.timeLeft = *c.test.DurationMinutes * 60
	} else {
		c.timeLeft = 0
	}
	c.state = StateAttempt
	c.startCountdownLocked()
	c.mu.Unlock()

	c.auditEvent("AttemptStarted", a.ID, map[string]any{"attempt_number": a.AttemptNumber})
	c.notifyState(StateAttempt)
	return nil
}

// Resume rehydrates an in_progress attempt: answers from the persisted
// submissions, remaining time from started_at, floored at zero. A
// resumed attempt whose time has already run out goes straight down the
// time-up path.
func (c *Controller) Resume(ctx context.Context, attemptID int64) error {
	a, err := c.api.GetAttempt(ctx, c.slug, attemptID)
	if err != nil {
		return fmt.Errorf("resume attempt: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.attempt = a
	if a.Test != nil {
		c.test = a.Test
	}
	c.answers = map[int64]any{}
	for _, s := range a.Submissions {
		if s.Answer != nil {
			c.answers[s.ItemID] = s.Answer
		}
	}
	c.violations = nil
	c.isSubmitting = false
	c.forceSubmit = false
	c.result = nil
	c.timed = c.test != nil && c.test.DurationMinutes != nil
	if c.timed {
		elapsed := int(c.clock().Sub(a.StartedAt).Seconds())
		c.timeLeft = *c.test.DurationMinutes*60 - elapsed
		if c.timeLeft < 0 {
			c.timeLeft = 0
		}
	} else {
		c.timeLeft = 0
	}
	c.state = StateAttempt
	expired := c.timed && c.timeLeft == 0
	if !expired {
		c.startCountdownLocked()
	}
	c.mu.Unlock()

	c.notifyState(StateAttempt)
	if expired {
		if err := c.submit(ctx, false, ReasonTimeUp); err != nil && !errors.Is(err, ErrSubmitInFlight) {
			return err
		}
	}
	return nil
}

// RecordAnswer stores the latest value for an item immediately and, for
// non-empty values on an in_progress attempt, schedules a debounced
// auto-save. The save is intentionally not synchronous with the update.
func (c *Controller) RecordAnswer(itemID int64, value any) {
	c.mu.Lock()
	if c.closed || c.state != StateAttempt {
		c.mu.Unlock()
		return
	}
	c.answers[itemID] = value
	schedule := !c.isSubmitting &&
		c.attempt != nil && c.attempt.Status == platform.AttemptInProgress &&
		!emptyAnswer(value)
	c.mu.Unlock()

	if schedule {
		c.saver.schedule(itemID, value)
	}
}

// Submit finalizes the attempt at the student's request. Unconfirmed
// submits with unanswered items return an *IncompleteError so the shell
// can prompt before retrying with confirmed=true.
func (c *Controller) Submit(ctx context.Context, confirmed bool) error {
	if !confirmed {
		if n := c.UnansweredCount(); n > 0 {
			return &IncompleteError{Unanswered: n}
		}
	}
	return c.submit(ctx, true, "")
}

// ViewResult shows a historical submitted/graded attempt read-only. It
// is rejected while a test is being taken; the only way out of the
// attempt state is a submission.
func (c *Controller) ViewResult(ctx context.Context, attemptID int64) error {
	return c.viewResult(ctx, attemptID)
}

// BackToOverview leaves a result screen and refreshes the test detail so
// attempt counts and can_start_attempt are current.
func (c *Controller) BackToOverview(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateResult && c.state != StateViewResult {
		c.mu.Unlock()
		return fmt.Errorf("attempt: cannot return to overview from state %q", c.state)
	}
	c.mu.Unlock()

	detail, err := c.api.GetTest(ctx, c.slug)
	if err != nil {
		return fmt.Errorf("refresh test: %w", err)
	}
	c.mu.Lock()
	c.detail = detail
	c.test = &detail.Test
	c.result = nil
	c.state = StateOverview
	c.mu.Unlock()
	c.notifyState(StateOverview)
	return nil
}

// TryAgain chains back-to-overview into a fresh start.
func (c *Controller) TryAgain(ctx context.Context) error {
	if err := c.BackToOverview(ctx); err != nil {
		return err
	}
	return c.Start(ctx)
}

// ReportAppBackground records the app leaving the foreground during an
// attempt.
func (c *Controller) ReportAppBackground() {
	c.ReportViolation(platform.ViolationAppBackground, "")
}

// ReportViolation appends an anti-cheat event. Outside the attempt
// state, or once escalation has begun, reports are ignored. Reaching the
// violation limit forces submission exactly once.
func (c *Controller) ReportViolation(typ platform.ViolationType, details string) {
	c.mu.Lock()
	if c.closed || c.state != StateAttempt || c.isSubmitting || c.forceSubmit {
		c.mu.Unlock()
		return
	}
	v := platform.Violation{Type: typ, Timestamp: c.clock(), Details: details}
	c.violations = append(c.violations, v)
	n := len(c.violations)
	limit := c.maxViolations
	force := n >= limit
	if force {
		c.forceSubmit = true
	}
	attemptID := c.attempt.ID
	c.mu.Unlock()

	c.auditEvent("ViolationRecorded", attemptID, v)
	if force {
		c.warn(fmt.Sprintf("Maximum violations reached (%d/%d). Your test is being submitted.", n, limit))
		if err := c.submit(context.Background(), false, ReasonMaxViolations); err != nil && !errors.Is(err, ErrSubmitInFlight) {
			c.log.Error("forced submit failed", "attempt", attemptID, "error", err)
		}
		return
	}
	c.warn(fmt.Sprintf("Leaving the app during a test is recorded as a violation. Warning %d/%d.", n, limit))
}

// Close tears the session down: countdown stopped, pending auto-saves
// cancelled, late network results ignored. Safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopCountdownLocked()
	c.mu.Unlock()
	c.saver.cancelAll()
}

// UnansweredCount reports how many items have no non-empty answer yet.
func (c *Controller) UnansweredCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.test == nil {
		return 0
	}
	n := 0
	for _, it := range c.test.Items {
		if emptyAnswer(c.answers[it.ID]) {
			n++
		}
	}
	return n
}

// Read-only snapshots for the shell.

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) TimeLeft() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeLeft
}

func (c *Controller) Answers() map[int64]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int64]any, len(c.answers))
	for k, v := range c.answers {
		out[k] = v
	}
	return out
}

func (c *Controller) Violations() []platform.Violation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]platform.Violation, len(c.violations))
	copy(out, c.violations)
	return out
}

func (c *Controller) Result() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return nil
	}
	r := *c.result
	return &r
}

func (c *Controller) Attempt() *platform.TestAttempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

func (c *Controller) Test() *platform.Test {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.test
}

func (c *Controller) IsForceSubmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forceSubmit
}

// --- internals ---

func (c *Controller) viewResult(ctx context.Context, attemptID int64) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateAttempt {
		c.mu.Unlock()
		return fmt.Errorf("attempt: cannot view results from state %q", c.state)
	}
	c.mu.Unlock()

	a, err := c.api.GetAttempt(ctx, c.slug, attemptID)
	if err != nil {
		return fmt.Errorf("fetch attempt result: %w", err)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.attempt = a
	if a.Test != nil {
		c.test = a.Test
	}
	if c.test == nil {
		c.mu.Unlock()
		return fmt.Errorf("attempt %d: response carries no test definition", attemptID)
	}
	res := Materialize(a, c.test)
	c.result = &res
	c.state = StateViewResult
	hooks := c.hooks
	c.mu.Unlock()

	c.notifyState(StateViewResult)
	if hooks.OnResult != nil {
		hooks.OnResult(res)
	}
	return nil
}

// submit performs the one and only submission of the session. The
// isSubmitting flag is checked-and-set under the lock before any network
// call, so a timer-driven auto-submit and a manual submit cannot both
// proceed. Pending auto-saves are cancelled before the request is issued.
func (c *Controller) submit(ctx context.Context, manual bool, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateAttempt || c.attempt == nil {
		c.mu.Unlock()
		return ErrNotInAttempt
	}
	if c.isSubmitting {
		c.mu.Unlock()
		return ErrSubmitInFlight
	}
	c.isSubmitting = true
	attemptID := c.attempt.ID
	c.mu.Unlock()

	c.saver.cancelAll()
	if !manual {
		c.log.Info("auto-submitting attempt", "attempt", attemptID, "reason", reason)
	}

	a, err := c.api.SubmitAttempt(ctx, c.slug, attemptID)
	if err != nil {
		c.mu.Lock()
		c.isSubmitting = false
		restart := c.state == StateAttempt && c.timed && c.timeLeft > 0
		if restart {
			c.startCountdownLocked()
		}
		c.mu.Unlock()
		return fmt.Errorf("submit attempt: %w", err)
	}

	c.mu.Lock()
	c.stopCountdownLocked()
	c.attempt = a
	if a.Test != nil {
		c.test = a.Test
	}
	res := Materialize(a, c.test)
	res.Violations = make([]platform.Violation, len(c.violations))
	copy(res.Violations, c.violations)
	c.result = &res
	c.state = StateResult
	hooks := c.hooks
	c.mu.Unlock()

	c.auditEvent("AttemptSubmitted", attemptID, map[string]any{
		"manual": manual, "reason": reason, "score": res.Score,
	})
	c.notifyState(StateResult)
	if hooks.OnResult != nil {
		hooks.OnResult(res)
	}
	return nil
}

// startCountdownLocked arms the 1 Hz countdown. It only runs while the
// session is in the attempt state with time remaining; every exit path
// stops it before the state changes.
func (c *Controller) startCountdownLocked() {
	if !c.timed || c.timeLeft <= 0 || c.stopTimer != nil {
		return
	}
	stop := make(chan struct{})
	c.stopTimer = stop
	go c.runCountdown(stop)
}

func (c *Controller) stopCountdownLocked() {
	if c.stopTimer != nil {
		close(c.stopTimer)
		c.stopTimer = nil
	}
}

func (c *Controller) runCountdown(stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !c.tick() {
				return
			}
		}
	}
}

// tick decrements timeLeft by one second. Hitting zero clamps, stops the
// countdown and fires the time-up submission; it never goes negative.
func (c *Controller) tick() bool {
	c.mu.Lock()
	if c.closed || c.state != StateAttempt || c.stopTimer == nil {
		// A run that outlived its state must not block the next one
		// from arming.
		c.stopTimer = nil
		c.mu.Unlock()
		return false
	}
	c.timeLeft--
	if c.timeLeft < 0 {
		c.timeLeft = 0
	}
	left := c.timeLeft
	expired := left == 0
	if expired {
		c.stopTimer = nil
	}
	hooks := c.hooks
	c.mu.Unlock()

	if hooks.OnTick != nil {
		hooks.OnTick(left)
	}
	if !expired {
		return true
	}
	c.warn(ReasonTimeUp)
	if err := c.submit(context.Background(), false, ReasonTimeUp); err != nil && !errors.Is(err, ErrSubmitInFlight) {
		c.log.Error("time-up submit failed", "error", err)
	}
	return false
}

func (c *Controller) saveAnswer(itemID int64, value any) {
	c.mu.Lock()
	// Re-check at fire time: the attempt may have been submitted while
	// the debounce window was open.
	if c.closed || c.state != StateAttempt || c.isSubmitting ||
		c.attempt == nil || c.attempt.Status != platform.AttemptInProgress {
		c.mu.Unlock()
		return
	}
	attemptID := c.attempt.ID
	c.mu.Unlock()

	err := c.api.SubmitAnswer(context.Background(), c.slug, attemptID, itemID, value)
	switch {
	case err == nil:
		c.log.Debug("answer auto-saved", "attempt", attemptID, "item", itemID)
		c.auditEvent("AnswerSaved", attemptID, map[string]any{"item_id": itemID})
	case platform.IsNotInProgress(err):
		// Benign race: the attempt was finalized while the save was queued.
		c.log.Debug("auto-save skipped, attempt no longer in progress", "item", itemID)
	default:
		c.log.Warn("auto-save failed", "attempt", attemptID, "item", itemID, "error", err)
		c.auditEvent("AnswerSaveFailed", attemptID, map[string]any{"item_id": itemID, "error": err.Error()})
	}
}

func (c *Controller) transition(s State) {
	c.mu.Lock()
	if c.closed || c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	c.notifyState(s)
}

func (c *Controller) notifyState(s State) {
	if c.hooks.OnStateChange != nil {
		c.hooks.OnStateChange(s)
	}
}

func (c *Controller) warn(msg string) {
	if c.hooks.OnWarning != nil {
		c.hooks.OnWarning(msg)
	}
}

func (c *Controller) auditEvent(typ string, attemptID int64, data any) {
	if c.audit == nil {
		return
	}
	buf, err := json.Marshal(data)
	if err != nil {
		return
	}
	if err := c.audit.Append(context.Background(), typ, strconv.FormatInt(attemptID, 10), string(buf)); err != nil {
		c.log.Debug("audit append failed", "type", typ, "error", err)
	}
}

func emptyAnswer(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	default:
		return false
	}
}
