package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/eligibility"
	"quiz-attempt-service/internal/metrics"
	"quiz-attempt-service/internal/results"
	"quiz-attempt-service/internal/scoring"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// AttemptRepository persists attempts.
type AttemptRepository interface {
	Create(ctx context.Context, a domain.Attempt) error
	Get(ctx context.Context, attemptID string) (domain.Attempt, error)
	// ListByLearner returns attempts ordered by attempt number.
	ListByLearner(ctx context.Context, quizID, learnerID string) ([]domain.Attempt, error)
	// Complete stores a graded attempt only if it is still active. It reports
	// false when another submission completed it first.
	Complete(ctx context.Context, a domain.Attempt) (bool, error)
}

// AttemptService is the server side of the attempt boundary: eligibility,
// start, idempotent submit and results.
type AttemptService struct {
	quizzes  QuizRepository
	attempts AttemptRepository
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
	newID    func() string
	sf       singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

type Option func(*AttemptService)

func WithLogger(log *zap.Logger) Option {
	return func(s *AttemptService) { s.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *AttemptService) { s.metrics = m }
}

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *AttemptService) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *AttemptService) { s.newID = newID }
}

// WithSeed fixes the shuffle source.
func WithSeed(seed int64) Option {
	return func(s *AttemptService) { s.rnd = rand.New(rand.NewSource(seed)) }
}

func NewAttemptService(quizzes QuizRepository, attempts AttemptRepository, opts ...Option) *AttemptService {
	s := &AttemptService{
		quizzes:  quizzes,
		attempts: attempts,
		log:      zap.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}
	return s
}

// GetQuiz returns the full quiz definition, answer keys included.
func (s *AttemptService) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	return s.quizzes.GetQuiz(ctx, quizID)
}

// History lists a learner's attempts at a quiz.
func (s *AttemptService) History(ctx context.Context, quizID, learnerID string) ([]domain.Attempt, error) {
	return s.attempts.ListByLearner(ctx, quizID, learnerID)
}

// Eligibility evaluates the start rules against stored history.
func (s *AttemptService) Eligibility(ctx context.Context, quizID, learnerID string) (domain.Eligibility, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Eligibility{}, err
	}
	history, err := s.attempts.ListByLearner(ctx, quizID, learnerID)
	if err != nil {
		return domain.Eligibility{}, err
	}
	return eligibility.CanStart(quiz, history).Eligibility(), nil
}

// StartAttempt returns the learner's active attempt if there is one, or
// creates the next attempt. Concurrent starts for the same learner and quiz
// share one result.
func (s *AttemptService) StartAttempt(ctx context.Context, quizID, learnerID string) (domain.Attempt, error) {
	result, err, _ := s.sf.Do("start:"+quizID+":"+learnerID, func() (interface{}, error) {
		return s.startAttempt(ctx, quizID, learnerID)
	})
	if err != nil {
		return domain.Attempt{}, err
	}
	return result.(domain.Attempt), nil
}

func (s *AttemptService) startAttempt(ctx context.Context, quizID, learnerID string) (domain.Attempt, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Attempt{}, err
	}
	history, err := s.attempts.ListByLearner(ctx, quizID, learnerID)
	if err != nil {
		return domain.Attempt{}, err
	}
	for _, a := range history {
		if a.Status == domain.AttemptActive {
			s.metrics.AttemptsResumed.Inc()
			return a, nil
		}
	}

	decision := eligibility.CanStart(quiz, history)
	if !decision.Allowed {
		s.metrics.EligibilityDenied.WithLabelValues(decision.Reason).Inc()
		if decision.Reason == eligibility.ReasonNoAttemptsLeft {
			return domain.Attempt{}, domain.ErrMaxAttemptsReached
		}
		return domain.Attempt{}, decision.Err()
	}

	a := domain.Attempt{
		ID:            s.newID(),
		LearnerID:     learnerID,
		QuizID:        quizID,
		AttemptNumber: len(history) + 1,
		Status:        domain.AttemptActive,
		QuestionOrder: s.questionOrder(quiz),
		StartedAt:     s.now().UTC(),
	}
	if err := s.attempts.Create(ctx, a); err != nil {
		return domain.Attempt{}, fmt.Errorf("create attempt: %w", err)
	}
	s.metrics.AttemptsStarted.Inc()
	s.log.Info("attempt started",
		zap.String("attempt_id", a.ID),
		zap.String("quiz_id", quizID),
		zap.String("learner_id", learnerID),
		zap.Int("attempt_number", a.AttemptNumber))
	return a, nil
}

func (s *AttemptService) questionOrder(quiz domain.Quiz) []string {
	ids := make([]string, len(quiz.Questions))
	for i, q := range quiz.Questions {
		ids[i] = q.ID
	}
	if quiz.ShuffleQuestions {
		s.rndMu.Lock()
		s.rnd.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		s.rndMu.Unlock()
	}
	return ids
}

// SubmitAttempt grades and completes an attempt. It is idempotent: a
// completed attempt returns its stored summary without re-scoring.
func (s *AttemptService) SubmitAttempt(ctx context.Context, attemptID string, submitted []domain.Answer) (domain.AttemptSummary, error) {
	result, err, _ := s.sf.Do("submit:"+attemptID, func() (interface{}, error) {
		return s.submitAttempt(ctx, attemptID, submitted)
	})
	if err != nil {
		s.metrics.Submissions.WithLabelValues(metrics.OutcomeFailed).Inc()
		return domain.AttemptSummary{}, err
	}
	return result.(domain.AttemptSummary), nil
}

func (s *AttemptService) submitAttempt(ctx context.Context, attemptID string, submitted []domain.Answer) (domain.AttemptSummary, error) {
	a, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		return domain.AttemptSummary{}, err
	}
	if a.Status == domain.AttemptCompleted {
		s.metrics.Submissions.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		return a.Summary(), nil
	}
	quiz, err := s.quizzes.GetQuiz(ctx, a.QuizID)
	if err != nil {
		return domain.AttemptSummary{}, err
	}

	graded := s.grade(quiz, a, submitted)
	ok, err := s.attempts.Complete(ctx, graded)
	if err != nil {
		return domain.AttemptSummary{}, fmt.Errorf("complete attempt: %w", err)
	}
	if !ok {
		// another instance completed it first; its summary is the answer
		stored, err := s.attempts.Get(ctx, attemptID)
		if err != nil {
			return domain.AttemptSummary{}, err
		}
		s.metrics.Submissions.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		return stored.Summary(), nil
	}

	s.metrics.Submissions.WithLabelValues(metrics.OutcomeScored).Inc()
	s.metrics.ScorePercentage.Observe(graded.Percentage)
	s.log.Info("attempt scored",
		zap.String("attempt_id", graded.ID),
		zap.Int("score", graded.Score),
		zap.Int("total_possible", graded.TotalPossible),
		zap.Bool("passed", graded.Passed))
	return graded.Summary(), nil
}

// grade scores the submission against the questions the attempt was given.
// Answers for unknown questions are dropped; missing answers are recorded empty.
func (s *AttemptService) grade(quiz domain.Quiz, a domain.Attempt, submitted []domain.Answer) domain.Attempt {
	byID := make(map[string]domain.Answer, len(submitted))
	for _, ans := range submitted {
		byID[ans.QuestionID] = ans
	}

	scored := quiz
	scored.Questions = nil
	values := make(map[string]domain.AnswerValue, len(submitted))
	list := make([]domain.Answer, 0, len(quiz.Questions))
	for _, id := range a.Order(quiz) {
		q, ok := quiz.Question(id)
		if !ok {
			continue
		}
		scored.Questions = append(scored.Questions, q)
		ans := byID[id]
		if err := q.Accepts(ans.Value); err != nil {
			s.log.Warn("grading malformed answer as incorrect", zap.String("attempt_id", a.ID), zap.Error(err))
		}
		if ans.TimeSpent < 0 {
			ans.TimeSpent = 0
		}
		values[id] = ans.Value
		list = append(list, domain.Answer{QuestionID: id, Value: ans.Value, TimeSpent: ans.TimeSpent})
	}

	res := scoring.Score(scored, values)
	now := s.now().UTC()
	a.Status = domain.AttemptCompleted
	a.Answers = res.Apply(list)
	a.Score = res.TotalScore
	a.TotalPossible = res.TotalPossible
	a.Percentage = res.Percentage
	a.Passed = res.Passed
	a.CompletedAt = &now
	if elapsed := int(now.Sub(a.StartedAt) / time.Second); elapsed > 0 {
		a.TimeSpent = elapsed
	}
	return a
}

// Results returns the review of a completed attempt. A quiz deleted since the
// attempt renders every question as unavailable.
func (s *AttemptService) Results(ctx context.Context, attemptID string) (results.Review, error) {
	a, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		return results.Review{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, a.QuizID)
	if errors.Is(err, domain.ErrQuizNotFound) {
		quiz = domain.Quiz{ID: a.QuizID}
	} else if err != nil {
		return results.Review{}, err
	}
	return results.Build(quiz, a)
}
