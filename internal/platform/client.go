package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is a Go client for the Code Knight REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithTimeout sets the client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// NewClient creates a new platform client. token is the student's
// bearer token; pass "" for endpoints reached before login.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token, e.g. after Login.
func (c *Client) SetToken(token string) { c.token = token }

// Login exchanges credentials for a bearer token and installs it on the
// client.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/login", bytes.NewReader(body), &out); err != nil {
		return "", err
	}
	c.token = out.Token
	return out.Token, nil
}

// GetTest fetches a test definition plus the requesting student's stats,
// permission to start, and prior attempts.
func (c *Client) GetTest(ctx context.Context, slug string) (*TestDetail, error) {
	var out TestDetail
	if err := c.do(ctx, http.MethodGet, "/tests/"+url.PathEscape(slug), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAttempt fetches one attempt with its nested test, items and
// persisted submissions.
func (c *Client) GetAttempt(ctx context.Context, slug string, attemptID int64) (*TestAttempt, error) {
	var out TestAttempt
	path := fmt.Sprintf("/tests/%s/attempts/%d", url.PathEscape(slug), attemptID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartAttempt creates a new in_progress attempt. The server rejects it
// when attempts are exhausted or the test is not active.
func (c *Client) StartAttempt(ctx context.Context, slug string) (*TestAttempt, error) {
	var out TestAttempt
	path := fmt.Sprintf("/tests/%s/attempts", url.PathEscape(slug))
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitAnswer persists the latest answer for one item. Fails with a
// not-in-progress APIError once the attempt has been submitted.
func (c *Client) SubmitAnswer(ctx context.Context, slug string, attemptID, itemID int64, answer any) error {
	body, err := json.Marshal(map[string]any{"item_id": itemID, "answer": answer})
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	path := fmt.Sprintf("/tests/%s/attempts/%d/answers", url.PathEscape(slug), attemptID)
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(body), nil)
}

// SubmitAttempt finalizes the attempt and returns it with whatever the
// server could grade immediately.
func (c *Client) SubmitAttempt(ctx context.Context, slug string, attemptID int64) (*TestAttempt, error) {
	var out TestAttempt
	path := fmt.Sprintf("/tests/%s/attempts/%d/submit", url.PathEscape(slug), attemptID)
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTests returns the tests visible to the student.
func (c *Client) ListTests(ctx context.Context) ([]Test, error) {
	var out []Test
	if err := c.do(ctx, http.MethodGet, "/tests", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListCourses returns the student's courses with progress.
func (c *Client) ListCourses(ctx context.Context) ([]Course, error) {
	var out []Course
	if err := c.do(ctx, http.MethodGet, "/courses", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetLeaderboard returns up to limit ranked entries.
func (c *Client) GetLeaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	path := "/leaderboard"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []LeaderboardEntry
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListAchievements returns the achievement catalog with earned state.
func (c *Client) ListAchievements(ctx context.Context) ([]Achievement, error) {
	var out []Achievement
	if err := c.do(ctx, http.MethodGet, "/achievements", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// do performs a request and decodes the response's data envelope into
// out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode/100 != 2 {
		apiErr := &APIError{StatusCode: res.StatusCode}
		var e struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &e) == nil {
			apiErr.Message = e.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err == nil && len(envelope.Data) > 0 {
		respBody = envelope.Data
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
