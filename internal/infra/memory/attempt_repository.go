package memory

import (
	"context"
	"sort"
	"sync"

	"quiz-attempt-service/internal/domain"
)

// AttemptRepository is an in-memory implementation of app.AttemptRepository.
type AttemptRepository struct {
	mu       sync.RWMutex
	attempts map[string]domain.Attempt
}

func NewAttemptRepository() *AttemptRepository {
	return &AttemptRepository{attempts: make(map[string]domain.Attempt)}
}

// Create stores a new attempt. Attempt numbers are unique per learner and quiz.
func (r *AttemptRepository) Create(_ context.Context, a domain.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.attempts {
		if existing.QuizID == a.QuizID && existing.LearnerID == a.LearnerID && existing.AttemptNumber == a.AttemptNumber {
			return domain.ErrStartInProgress
		}
	}
	r.attempts[a.ID] = cloneAttempt(a)
	return nil
}

func (r *AttemptRepository) Get(_ context.Context, attemptID string) (domain.Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return cloneAttempt(a), nil
}

func (r *AttemptRepository) ListByLearner(_ context.Context, quizID, learnerID string) ([]domain.Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Attempt, 0)
	for _, a := range r.attempts {
		if a.QuizID == quizID && a.LearnerID == learnerID {
			out = append(out, cloneAttempt(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, nil
}

func (r *AttemptRepository) Complete(_ context.Context, a domain.Attempt) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.attempts[a.ID]
	if !ok {
		return false, domain.ErrAttemptNotFound
	}
	if existing.Status != domain.AttemptActive {
		return false, nil
	}
	r.attempts[a.ID] = cloneAttempt(a)
	return true, nil
}

func cloneAttempt(a domain.Attempt) domain.Attempt {
	if a.QuestionOrder != nil {
		a.QuestionOrder = append([]string(nil), a.QuestionOrder...)
	}
	if a.Answers != nil {
		a.Answers = append([]domain.Answer(nil), a.Answers...)
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		a.CompletedAt = &t
	}
	return a
}
