package practice

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wybie18/codeknight-go/internal/platform"
)

// MemoryStore is the in-memory Store used by tests and throwaway runs.
type MemoryStore struct {
	// Now is the time source; swap it in tests.
	Now func() time.Time

	grader *Grader

	mu        sync.RWMutex
	tests     map[string]platform.Test // by slug, with answer keys
	attempts  map[int64]*platform.TestAttempt
	owners    map[int64]string // attempt id -> user id
	slugByTID map[int64]string
	users     map[string]User // by username
	userByID  map[string]User
	nextTest  int64
	nextAtt   int64
}

func NewMemoryStore(grader *Grader) *MemoryStore {
	return &MemoryStore{
		Now:       time.Now,
		grader:    grader,
		tests:     map[string]platform.Test{},
		attempts:  map[int64]*platform.TestAttempt{},
		owners:    map[int64]string{},
		slugByTID: map[int64]string{},
		users:     map[string]User{},
		userByID:  map[string]User{},
	}
}

func (m *MemoryStore) PutTest(_ context.Context, t platform.Test) (platform.Test, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.tests[t.Slug]; ok {
		t.ID = existing.ID
	} else {
		m.nextTest++
		t.ID = m.nextTest
	}
	m.tests[t.Slug] = t
	m.slugByTID[t.ID] = t.Slug
	return t, nil
}

func (m *MemoryStore) ListTests(_ context.Context) ([]platform.Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]platform.Test, 0, len(m.tests))
	for _, t := range m.tests {
		t.Items = nil // listings carry no items
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) StudentView(_ context.Context, slug, userID string) (platform.TestDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tests[slug]
	if !ok {
		return platform.TestDetail{}, ErrNotFound
	}
	attempts := m.attemptsForLocked(t.ID, userID)
	detail := platform.TestDetail{
		Test:            sanitizeTest(t),
		Attempts:        attempts,
		CanStartAttempt: canStart(t, attempts),
	}
	detail.StudentStats = statsFor(attempts)
	return detail, nil
}

func (m *MemoryStore) StartAttempt(_ context.Context, slug, userID string) (platform.TestAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tests[slug]
	if !ok {
		return platform.TestAttempt{}, ErrNotFound
	}
	existing := m.attemptsForLocked(t.ID, userID)
	for _, a := range existing {
		if a.Status == platform.AttemptInProgress {
			return platform.TestAttempt{}, ErrAttemptActive
		}
	}
	if t.Status != platform.TestStatusActive {
		return platform.TestAttempt{}, ErrTestNotActive
	}
	if !canStart(t, existing) {
		return platform.TestAttempt{}, ErrAttemptLimit
	}
	m.nextAtt++
	a := &platform.TestAttempt{
		ID:            m.nextAtt,
		TestID:        t.ID,
		AttemptNumber: len(existing) + 1,
		StartedAt:     m.Now(),
		Status:        platform.AttemptInProgress,
	}
	m.attempts[a.ID] = a
	m.owners[a.ID] = userID
	return m.attemptViewLocked(a, t), nil
}

func (m *MemoryStore) GetAttempt(_ context.Context, slug string, attemptID int64, userID string) (platform.TestAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, t, err := m.ownedAttemptLocked(slug, attemptID, userID)
	if err != nil {
		return platform.TestAttempt{}, err
	}
	return m.attemptViewLocked(a, t), nil
}

func (m *MemoryStore) SaveAnswer(_ context.Context, slug string, attemptID int64, userID string, itemID int64, answer any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, t, err := m.ownedAttemptLocked(slug, attemptID, userID)
	if err != nil {
		return err
	}
	if a.Status != platform.AttemptInProgress {
		return ErrNotInProgress
	}
	found := false
	for _, it := range t.Items {
		if it.ID == itemID {
			found = true
			break
		}
	}
	if !found {
		return ErrNotFound
	}
	for i := range a.Submissions {
		if a.Submissions[i].ItemID == itemID {
			a.Submissions[i].Answer = answer
			return nil
		}
	}
	a.Submissions = append(a.Submissions, platform.ItemSubmission{ItemID: itemID, Answer: answer})
	return nil
}

func (m *MemoryStore) SubmitAttempt(_ context.Context, slug string, attemptID int64, userID string) (platform.TestAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, t, err := m.ownedAttemptLocked(slug, attemptID, userID)
	if err != nil {
		return platform.TestAttempt{}, err
	}
	if a.Status != platform.AttemptInProgress {
		// Submitting twice returns the finalized attempt unchanged.
		return m.attemptViewLocked(a, t), nil
	}
	gradeAttempt(m.grader, a, t)
	now := m.Now()
	a.SubmittedAt = &now
	return m.attemptViewLocked(a, t), nil
}

func (m *MemoryStore) AddViolation(_ context.Context, slug string, attemptID int64, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, _, err := m.ownedAttemptLocked(slug, attemptID, userID)
	if err != nil {
		return err
	}
	if a.Status != platform.AttemptInProgress {
		return ErrNotInProgress
	}
	a.ViolationsCount++
	return nil
}

func (m *MemoryStore) Leaderboard(_ context.Context, limit int) ([]platform.LeaderboardEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// best score per (user, test), summed per user
	points := map[string]float64{}
	best := map[string]map[int64]float64{}
	for _, a := range m.attempts {
		if a.TotalScore == nil {
			continue
		}
		u := m.userOf(a)
		if best[u] == nil {
			best[u] = map[int64]float64{}
		}
		if *a.TotalScore > best[u][a.TestID] {
			best[u][a.TestID] = *a.TotalScore
		}
	}
	for u, perTest := range best {
		for _, s := range perTest {
			points[u] += s
		}
	}
	out := make([]platform.LeaderboardEntry, 0, len(points))
	for u, p := range points {
		name := u
		if usr, ok := m.userByID[u]; ok {
			name = usr.Username
		}
		out = append(out, platform.LeaderboardEntry{Username: name, Points: int(p)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Points > out[j].Points })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

func (m *MemoryStore) GetUserByUsername(_ context.Context, username string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryStore) CreateUser(_ context.Context, username, passHash string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[username]; ok {
		return u, nil
	}
	u := User{ID: uuid.NewString(), Username: username, PassHash: passHash}
	m.users[username] = u
	m.userByID[u.ID] = u
	return u, nil
}

// --- locked helpers ---

func (m *MemoryStore) userOf(a *platform.TestAttempt) string { return m.owners[a.ID] }

func (m *MemoryStore) attemptsForLocked(testID int64, userID string) []platform.TestAttempt {
	var out []platform.TestAttempt
	for _, a := range m.attempts {
		if a.TestID == testID && m.userOf(a) == userID {
			cp := *a
			cp.Submissions = nil
			cp.Test = nil
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out
}

func (m *MemoryStore) ownedAttemptLocked(slug string, attemptID int64, userID string) (*platform.TestAttempt, platform.Test, error) {
	t, ok := m.tests[slug]
	if !ok {
		return nil, platform.Test{}, ErrNotFound
	}
	a, ok := m.attempts[attemptID]
	if !ok || a.TestID != t.ID || m.userOf(a) != userID {
		return nil, platform.Test{}, ErrNotFound
	}
	return a, t, nil
}

func (m *MemoryStore) attemptViewLocked(a *platform.TestAttempt, t platform.Test) platform.TestAttempt {
	cp := *a
	cp.Submissions = make([]platform.ItemSubmission, len(a.Submissions))
	copy(cp.Submissions, a.Submissions)
	st := sanitizeTest(t)
	cp.Test = &st
	return cp
}

// --- shared helpers ---

func sanitizeTest(t platform.Test) platform.Test {
	items := make([]platform.TestItem, len(t.Items))
	for i, it := range t.Items {
		items[i] = it.Sanitized()
	}
	t.Items = items
	return t
}

func statsFor(attempts []platform.TestAttempt) platform.StudentStats {
	stats := platform.StudentStats{AttemptsUsed: len(attempts)}
	for _, a := range attempts {
		if a.TotalScore != nil && (stats.BestScore == nil || *a.TotalScore > *stats.BestScore) {
			s := *a.TotalScore
			stats.BestScore = &s
		}
	}
	return stats
}

// gradeAttempt scores every submission, sums the auto-graded points and
// finalizes the status: graded when every item got a score, submitted
// when manual grading is still owed. Skipped items settle too: an
// auto-gradable item without a submission scores zero, so the attempt
// does not wait on manual grading it will never get.
func gradeAttempt(g *Grader, a *platform.TestAttempt, t platform.Test) {
	total := 0.0
	graded := 0
	answered := make(map[int64]bool, len(a.Submissions))
	for i := range a.Submissions {
		item, ok := itemByID(t, a.Submissions[i].ItemID)
		if !ok {
			continue
		}
		answered[item.ID] = true
		score := g.Grade(item, a.Submissions[i].Answer)
		a.Submissions[i].Score = score
		if score != nil {
			total += *score
			graded++
		}
	}
	for _, it := range t.Items {
		if answered[it.ID] {
			continue
		}
		if score := g.Grade(it, nil); score != nil {
			a.Submissions = append(a.Submissions, platform.ItemSubmission{ItemID: it.ID, Score: score})
			total += *score
			graded++
		}
	}
	a.TotalScore = &total
	if graded == len(t.Items) {
		a.Status = platform.AttemptGraded
	} else {
		a.Status = platform.AttemptSubmitted
	}
}

func itemByID(t platform.Test, id int64) (platform.TestItem, bool) {
	for _, it := range t.Items {
		if it.ID == id {
			return it, true
		}
	}
	return platform.TestItem{}, false
}
