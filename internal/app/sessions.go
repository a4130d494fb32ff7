package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"quiz-attempt-service/internal/attempt"
	"quiz-attempt-service/internal/clock"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/metrics"
	"quiz-attempt-service/internal/progress"
)

// SessionRepository holds the live attempt sessions of this process, one per
// learner and quiz. Acquire and Release are reference counted.
type SessionRepository interface {
	// Acquire returns domain.ErrOpenElsewhere when the session is live on
	// another instance.
	Acquire(ctx context.Context, quizID, learnerID string, create func() *attempt.Session) (*attempt.Session, error)
	// Release drops one reference and returns the session once the last
	// reference is gone; the caller closes it.
	Release(quizID, learnerID string) (*attempt.Session, bool)
}

// LocalBackend exposes an AttemptService as an attempt.Backend for sessions
// running in the same process.
type LocalBackend struct {
	svc *AttemptService
}

func NewLocalBackend(svc *AttemptService) *LocalBackend {
	return &LocalBackend{svc: svc}
}

func (b *LocalBackend) FetchQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	return b.svc.GetQuiz(ctx, quizID)
}

func (b *LocalBackend) History(ctx context.Context, quizID, learnerID string) ([]domain.Attempt, error) {
	return b.svc.History(ctx, quizID, learnerID)
}

func (b *LocalBackend) Eligibility(ctx context.Context, quizID, learnerID string) (domain.Eligibility, error) {
	return b.svc.Eligibility(ctx, quizID, learnerID)
}

func (b *LocalBackend) StartAttempt(ctx context.Context, quizID, learnerID string) (domain.Attempt, error) {
	return b.svc.StartAttempt(ctx, quizID, learnerID)
}

func (b *LocalBackend) SubmitAttempt(ctx context.Context, attemptID string, answers []domain.Answer) (domain.AttemptSummary, error) {
	return b.svc.SubmitAttempt(ctx, attemptID, answers)
}

// SessionManager opens and releases live attempt sessions.
type SessionManager struct {
	repo     SessionRepository
	backend  attempt.Backend
	progress progress.Store
	cfg      attempt.Config
	log      *zap.Logger
	metrics  *metrics.Metrics
	newClock func() clock.Clock
	now      func() time.Time
}

type SessionManagerOption func(*SessionManager)

// WithClockFactory replaces the wall-clock countdown.
func WithClockFactory(newClock func() clock.Clock) SessionManagerOption {
	return func(m *SessionManager) { m.newClock = newClock }
}

// WithSessionNow injects the time source used for remaining-time and dwell
// calculations.
func WithSessionNow(now func() time.Time) SessionManagerOption {
	return func(m *SessionManager) { m.now = now }
}

func WithSessionLogger(log *zap.Logger) SessionManagerOption {
	return func(m *SessionManager) { m.log = log }
}

func WithSessionMetrics(mt *metrics.Metrics) SessionManagerOption {
	return func(m *SessionManager) { m.metrics = mt }
}

func NewSessionManager(repo SessionRepository, backend attempt.Backend, store progress.Store, cfg attempt.Config, opts ...SessionManagerOption) *SessionManager {
	m := &SessionManager{
		repo:     repo,
		backend:  backend,
		progress: store,
		cfg:      cfg,
		log:      zap.NewNop(),
		newClock: func() clock.Clock { return clock.NewCountdown() },
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.New(nil)
	}
	return m
}

// Open returns the live session for the learner and quiz, creating it if
// needed. Every successful Open must be paired with a Release.
func (m *SessionManager) Open(ctx context.Context, quizID, learnerID string) (*attempt.Session, error) {
	return m.repo.Acquire(ctx, quizID, learnerID, func() *attempt.Session {
		m.metrics.ActiveSessions.Inc()
		return attempt.NewSession(attempt.Options{
			QuizID:    quizID,
			LearnerID: learnerID,
			Backend:   m.backend,
			Progress:  m.progress,
			Clock:     m.newClock(),
			Config:    m.cfg,
			Logger:    m.log,
			Now:       m.now,
		})
	})
}

// Release drops a reference; the last one closes the session, stopping its
// clock and keeping its snapshot for later resume.
func (m *SessionManager) Release(quizID, learnerID string) {
	session, last := m.repo.Release(quizID, learnerID)
	if !last {
		return
	}
	m.metrics.ActiveSessions.Dec()
	if err := session.Close(); err != nil {
		m.log.Warn("closing attempt session", zap.String("quiz_id", quizID), zap.String("learner_id", learnerID), zap.Error(err))
	}
}
