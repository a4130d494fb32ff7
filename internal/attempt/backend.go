// Package attempt runs the lifecycle of a single learner's quiz attempt.
package attempt

import (
	"context"
	"time"

	"quiz-attempt-service/internal/domain"
)

// Backend is the remote boundary an attempt session talks to.
type Backend interface {
	FetchQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	History(ctx context.Context, quizID, learnerID string) ([]domain.Attempt, error)
	Eligibility(ctx context.Context, quizID, learnerID string) (domain.Eligibility, error)
	StartAttempt(ctx context.Context, quizID, learnerID string) (domain.Attempt, error)
	// SubmitAttempt must be idempotent per attempt id.
	SubmitAttempt(ctx context.Context, attemptID string, answers []domain.Answer) (domain.AttemptSummary, error)
}

// Config tunes timing behaviour of a session.
type Config struct {
	RequestTimeout       time.Duration
	AutosaveDelay        time.Duration
	SnapshotEveryTicks   int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMaxElapsed      time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:       15 * time.Second,
		AutosaveDelay:        500 * time.Millisecond,
		SnapshotEveryTicks:   5,
		RetryInitialInterval: 2 * time.Second,
		RetryMaxInterval:     30 * time.Second,
		RetryMaxElapsed:      10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.AutosaveDelay < 0 {
		c.AutosaveDelay = 0
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = def.RetryInitialInterval
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = def.RetryMaxInterval
	}
	if c.RetryMaxElapsed < 0 {
		c.RetryMaxElapsed = 0
	}
	return c
}

// State is the session lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateActive     State = "active"
	StateSubmitting State = "submitting"
	StateCompleted  State = "completed"
	StateClosed     State = "closed"
)

// Trigger says why a submission happened.
type Trigger string

const (
	TriggerManual  Trigger = "manual"
	TriggerTimeout Trigger = "timeout"
)
