// Package practice is a local backend implementing the platform's test
// and attempt API, so the client can be exercised offline. It is not the
// hosted platform; it mirrors the subset of behavior the client depends
// on: attempt lifecycle, per-item persistence, auto grading, and the
// single-in-progress and max-attempt rules.
package practice

import (
	"context"
	"errors"

	"github.com/wybie18/codeknight-go/internal/platform"
)

var (
	ErrNotFound      = errors.New("practice: not found")
	ErrTestNotActive = errors.New("practice: test is not active")
	ErrAttemptLimit  = errors.New("practice: maximum attempts reached")
	ErrAttemptActive = errors.New("practice: an attempt is already in progress")
	ErrNotInProgress = errors.New("practice: attempt is not in progress")
)

type User struct {
	ID       string
	Username string
	PassHash string
}

// Store persists tests, attempts and users.
type Store interface {
	PutTest(ctx context.Context, t platform.Test) (platform.Test, error)
	ListTests(ctx context.Context) ([]platform.Test, error)

	// StudentView returns the sanitized test plus the student's stats,
	// prior attempts and permission to start a new one.
	StudentView(ctx context.Context, slug, userID string) (platform.TestDetail, error)

	StartAttempt(ctx context.Context, slug, userID string) (platform.TestAttempt, error)
	GetAttempt(ctx context.Context, slug string, attemptID int64, userID string) (platform.TestAttempt, error)
	SaveAnswer(ctx context.Context, slug string, attemptID int64, userID string, itemID int64, answer any) error
	SubmitAttempt(ctx context.Context, slug string, attemptID int64, userID string) (platform.TestAttempt, error)
	AddViolation(ctx context.Context, slug string, attemptID int64, userID string) error

	Leaderboard(ctx context.Context, limit int) ([]platform.LeaderboardEntry, error)

	GetUserByUsername(ctx context.Context, username string) (User, error)
	CreateUser(ctx context.Context, username, passHash string) (User, error)
}

// canStart applies the shared start rules: test active, attempts left,
// nothing currently in progress.
func canStart(t platform.Test, attempts []platform.TestAttempt) bool {
	if t.Status != platform.TestStatusActive {
		return false
	}
	used := 0
	for _, a := range attempts {
		if a.Status == platform.AttemptInProgress {
			return false
		}
		if a.Status != platform.AttemptAbandoned {
			used++
		}
	}
	return t.MaxAttempts == 0 || used < t.MaxAttempts
}
