package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quiz-attempt-service/internal/attempt"
	"quiz-attempt-service/internal/domain"
)

var _ attempt.Backend = (*Client)(nil)

// StatusError is an error reply that maps to no domain error.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("quiz api: status %d", e.Status)
	}
	return fmt.Sprintf("quiz api: status %d: %s", e.Status, e.Message)
}

// Client talks to the REST API and lets an attempt session run against a
// remote service.
type Client struct {
	baseURL string
	http    *http.Client
}

type ClientOption func(*Client)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) FetchQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var quiz domain.Quiz
	err := c.do(ctx, http.MethodGet, "/quizzes/"+url.PathEscape(quizID), nil, &quiz)
	return quiz, err
}

func (c *Client) History(ctx context.Context, quizID, learnerID string) ([]domain.Attempt, error) {
	var list []domain.Attempt
	path := "/quizzes/" + url.PathEscape(quizID) + "/attempts?learnerId=" + url.QueryEscape(learnerID)
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) Eligibility(ctx context.Context, quizID, learnerID string) (domain.Eligibility, error) {
	var e domain.Eligibility
	path := "/quizzes/" + url.PathEscape(quizID) + "/eligibility?learnerId=" + url.QueryEscape(learnerID)
	err := c.do(ctx, http.MethodGet, path, nil, &e)
	return e, err
}

func (c *Client) StartAttempt(ctx context.Context, quizID, learnerID string) (domain.Attempt, error) {
	var a domain.Attempt
	err := c.do(ctx, http.MethodPost, "/quizzes/"+url.PathEscape(quizID)+"/attempts", startRequest{LearnerID: learnerID}, &a)
	return a, err
}

func (c *Client) SubmitAttempt(ctx context.Context, attemptID string, answers []domain.Answer) (domain.AttemptSummary, error) {
	var summary domain.AttemptSummary
	err := c.do(ctx, http.MethodPost, "/attempts/"+url.PathEscape(attemptID)+"/submit", submitRequest{Answers: answers}, &summary)
	return summary, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
			return &StatusError{Status: resp.StatusCode}
		}
		return errorFromBody(resp.StatusCode, e)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
