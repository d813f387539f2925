package practice

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wybie18/codeknight-go/internal/platform"
)

// SQLStore persists the practice backend in sqlite or postgres. Items
// and submissions ride in JSON columns; the lifecycle rules match the
// memory store.
type SQLStore struct {
	db     *sql.DB
	grader *Grader

	// Now is the time source; swap it in tests.
	Now func() time.Time
}

func NewSQLStore(db *sql.DB, grader *Grader) *SQLStore {
	return &SQLStore{db: db, grader: grader, Now: time.Now}
}

func (s *SQLStore) PutTest(ctx context.Context, t platform.Test) (platform.Test, error) {
	items, err := json.Marshal(t.Items)
	if err != nil {
		return platform.Test{}, err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO tests (slug,title,description,duration_minutes,total_points,max_attempts,status,items_json,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (slug) DO UPDATE SET title=EXCLUDED.title, description=EXCLUDED.description,
			duration_minutes=EXCLUDED.duration_minutes, total_points=EXCLUDED.total_points,
			max_attempts=EXCLUDED.max_attempts, status=EXCLUDED.status, items_json=EXCLUDED.items_json`,
		t.Slug, t.Title, t.Description, t.DurationMinutes, t.TotalPoints, t.MaxAttempts, t.Status, string(items), s.Now().Unix())
	if err != nil {
		return platform.Test{}, err
	}
	return s.getTest(ctx, t.Slug)
}

func (s *SQLStore) ListTests(ctx context.Context) ([]platform.Test, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,slug,title,description,duration_minutes,total_points,max_attempts,status FROM tests ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []platform.Test
	for rows.Next() {
		var t platform.Test
		if err := rows.Scan(&t.ID, &t.Slug, &t.Title, &t.Description, &t.DurationMinutes, &t.TotalPoints, &t.MaxAttempts, &t.Status); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLStore) StudentView(ctx context.Context, slug, userID string) (platform.TestDetail, error) {
	t, err := s.getTest(ctx, slug)
	if err != nil {
		return platform.TestDetail{}, err
	}
	attempts, err := s.attemptsFor(ctx, t.ID, userID)
	if err != nil {
		return platform.TestDetail{}, err
	}
	detail := platform.TestDetail{
		Test:            sanitizeTest(t),
		Attempts:        attempts,
		CanStartAttempt: canStart(t, attempts),
		StudentStats:    statsFor(attempts),
	}
	return detail, nil
}

func (s *SQLStore) StartAttempt(ctx context.Context, slug, userID string) (platform.TestAttempt, error) {
	t, err := s.getTest(ctx, slug)
	if err != nil {
		return platform.TestAttempt{}, err
	}
	existing, err := s.attemptsFor(ctx, t.ID, userID)
	if err != nil {
		return platform.TestAttempt{}, err
	}
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

	started := s.Now()
	res, err := s.db.ExecContext(ctx, `INSERT INTO attempts (test_id,user_id,attempt_number,status,submissions_json,started_at)
		VALUES ($1,$2,$3,$4,'[]',$5)`,
		t.ID, userID, len(existing)+1, platform.AttemptInProgress, started.Unix())
	if err != nil {
		return platform.TestAttempt{}, err
	}
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		// pg's pgx stdlib driver has no LastInsertId; look the row up.
		row := s.db.QueryRowContext(ctx, `SELECT id FROM attempts WHERE test_id=$1 AND user_id=$2 AND attempt_number=$3`,
			t.ID, userID, len(existing)+1)
		if err := row.Scan(&id); err != nil {
			return platform.TestAttempt{}, err
		}
	}
	return s.GetAttempt(ctx, slug, id, userID)
}

func (s *SQLStore) GetAttempt(ctx context.Context, slug string, attemptID int64, userID string) (platform.TestAttempt, error) {
	t, err := s.getTest(ctx, slug)
	if err != nil {
		return platform.TestAttempt{}, err
	}
	a, err := s.getOwnedAttempt(ctx, t, attemptID, userID)
	if err != nil {
		return platform.TestAttempt{}, err
	}
	st := sanitizeTest(t)
	a.Test = &st
	return a, nil
}

func (s *SQLStore) SaveAnswer(ctx context.Context, slug string, attemptID int64, userID string, itemID int64, answer any) error {
	t, err := s.getTest(ctx, slug)
	if err != nil {
		return err
	}
	a, err := s.getOwnedAttempt(ctx, t, attemptID, userID)
	if err != nil {
		return err
	}
	if a.Status != platform.AttemptInProgress {
		return ErrNotInProgress
	}
	if _, ok := itemByID(t, itemID); !ok {
		return ErrNotFound
	}
	updated := false
	for i := range a.Submissions {
		if a.Submissions[i].ItemID == itemID {
			a.Submissions[i].Answer = answer
			updated = true
			break
		}
	}
	if !updated {
		a.Submissions = append(a.Submissions, platform.ItemSubmission{ItemID: itemID, Answer: answer})
	}
	return s.writeSubmissions(ctx, attemptID, a.Submissions)
}

func (s *SQLStore) SubmitAttempt(ctx context.Context, slug string, attemptID int64, userID string) (platform.TestAttempt, error) {
	t, err := s.getTest(ctx, slug)
	if err != nil {
		return platform.TestAttempt{}, err
	}
	a, err := s.getOwnedAttempt(ctx, t, attemptID, userID)
	if err != nil {
		return platform.TestAttempt{}, err
	}
	if a.Status != platform.AttemptInProgress {
		st := sanitizeTest(t)
		a.Test = &st
		return a, nil
	}

	gradeAttempt(s.grader, &a, t)
	buf, _ := json.Marshal(a.Submissions)
	_, err = s.db.ExecContext(ctx, `UPDATE attempts SET status=$1, total_score=$2, submissions_json=$3, submitted_at=$4 WHERE id=$5`,
		a.Status, a.TotalScore, string(buf), s.Now().Unix(), attemptID)
	if err != nil {
		return platform.TestAttempt{}, err
	}
	return s.GetAttempt(ctx, slug, attemptID, userID)
}

func (s *SQLStore) AddViolation(ctx context.Context, slug string, attemptID int64, userID string) error {
	t, err := s.getTest(ctx, slug)
	if err != nil {
		return err
	}
	a, err := s.getOwnedAttempt(ctx, t, attemptID, userID)
	if err != nil {
		return err
	}
	if a.Status != platform.AttemptInProgress {
		return ErrNotInProgress
	}
	_, err = s.db.ExecContext(ctx, `UPDATE attempts SET violations_count=violations_count+1 WHERE id=$1`, attemptID)
	return err
}

func (s *SQLStore) Leaderboard(ctx context.Context, limit int) ([]platform.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.username, SUM(best.score) AS points FROM (
			SELECT user_id, test_id, MAX(total_score) AS score
			FROM attempts WHERE total_score IS NOT NULL
			GROUP BY user_id, test_id
		) best
		JOIN users u ON u.id = best.user_id
		GROUP BY u.username
		ORDER BY points DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []platform.LeaderboardEntry
	rank := 0
	for rows.Next() {
		var username string
		var points float64
		if err := rows.Scan(&username, &points); err != nil {
			return nil, err
		}
		rank++
		out = append(out, platform.LeaderboardEntry{Rank: rank, Username: username, Points: int(points)})
	}
	return out, rows.Err()
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,username,pass_hash FROM users WHERE username=$1`, username)
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.PassHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

func (s *SQLStore) CreateUser(ctx context.Context, username, passHash string) (User, error) {
	if u, err := s.GetUserByUsername(ctx, username); err == nil {
		return u, nil
	}
	u := User{ID: uuid.NewString(), Username: username, PassHash: passHash}
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (id,username,pass_hash,created_at)
		VALUES ($1,$2,$3,$4)`, u.ID, u.Username, u.PassHash, s.Now().Unix())
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// --- row helpers ---

func (s *SQLStore) getTest(ctx context.Context, slug string) (platform.Test, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,slug,title,description,duration_minutes,total_points,max_attempts,status,items_json FROM tests WHERE slug=$1`, slug)
	var t platform.Test
	var items string
	if err := row.Scan(&t.ID, &t.Slug, &t.Title, &t.Description, &t.DurationMinutes, &t.TotalPoints, &t.MaxAttempts, &t.Status, &items); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return platform.Test{}, ErrNotFound
		}
		return platform.Test{}, err
	}
	if err := json.Unmarshal([]byte(items), &t.Items); err != nil {
		return platform.Test{}, err
	}
	return t, nil
}

func (s *SQLStore) attemptsFor(ctx context.Context, testID int64, userID string) ([]platform.TestAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,test_id,attempt_number,status,total_score,violations_count,started_at,submitted_at
		FROM attempts WHERE test_id=$1 AND user_id=$2 ORDER BY attempt_number`, testID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []platform.TestAttempt
	for rows.Next() {
		a, err := scanAttempt(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) getOwnedAttempt(ctx context.Context, t platform.Test, attemptID int64, userID string) (platform.TestAttempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,test_id,attempt_number,status,total_score,violations_count,started_at,submitted_at,submissions_json
		FROM attempts WHERE id=$1 AND test_id=$2 AND user_id=$3`, attemptID, t.ID, userID)
	var a platform.TestAttempt
	var score sql.NullFloat64
	var started int64
	var submitted sql.NullInt64
	var subs string
	err := row.Scan(&a.ID, &a.TestID, &a.AttemptNumber, &a.Status, &score, &a.ViolationsCount, &started, &submitted, &subs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return platform.TestAttempt{}, ErrNotFound
		}
		return platform.TestAttempt{}, err
	}
	if score.Valid {
		a.TotalScore = &score.Float64
	}
	a.StartedAt = time.Unix(started, 0)
	if submitted.Valid {
		ts := time.Unix(submitted.Int64, 0)
		a.SubmittedAt = &ts
	}
	if err := json.Unmarshal([]byte(subs), &a.Submissions); err != nil {
		a.Submissions = nil
	}
	return a, nil
}

func (s *SQLStore) writeSubmissions(ctx context.Context, attemptID int64, subs []platform.ItemSubmission) error {
	buf, err := json.Marshal(subs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE attempts SET submissions_json=$1 WHERE id=$2`, string(buf), attemptID)
	return err
}

func scanAttempt(scan func(...any) error) (platform.TestAttempt, error) {
	var a platform.TestAttempt
	var score sql.NullFloat64
	var started int64
	var submitted sql.NullInt64
	if err := scan(&a.ID, &a.TestID, &a.AttemptNumber, &a.Status, &score, &a.ViolationsCount, &started, &submitted); err != nil {
		return platform.TestAttempt{}, err
	}
	if score.Valid {
		a.TotalScore = &score.Float64
	}
	a.StartedAt = time.Unix(started, 0)
	if submitted.Valid {
		ts := time.Unix(submitted.Int64, 0)
		a.SubmittedAt = &ts
	}
	return a, nil
}
