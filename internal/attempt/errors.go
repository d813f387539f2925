package attempt

import (
	"errors"
	"fmt"
)

var (
	// ErrCannotStart means the server has not granted permission to start
	// an attempt (attempts exhausted, test inactive). Checked client-side
	// before any network call.
	ErrCannotStart = errors.New("attempt: cannot start attempt")

	// ErrSubmitInFlight means a submission is already underway; the
	// duplicate call performed no network request.
	ErrSubmitInFlight = errors.New("attempt: submission already in flight")

	// ErrNotInAttempt means the operation is only valid while taking a
	// test.
	ErrNotInAttempt = errors.New("attempt: no attempt in progress")

	// ErrClosed means the controller has been torn down.
	ErrClosed = errors.New("attempt: controller closed")
)

// IncompleteError is returned by an unconfirmed submit when items are
// still unanswered, so the shell can ask the student to confirm.
type IncompleteError struct {
	Unanswered int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%d unanswered question(s)", e.Unanswered)
}
