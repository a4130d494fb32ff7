// Package eligibility decides whether a learner may begin an attempt.
package eligibility

import "quiz-attempt-service/internal/domain"

const (
	ReasonQuizUnavailable = "quiz unavailable"
	ReasonNoQuestions     = "no questions"
	ReasonNoAttemptsLeft  = "no attempts remaining"
)

// Decision is the outcome of CanStart.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	// Resume is set when history holds an attempt that is still active; the
	// caller should continue it instead of creating a new one.
	Resume bool `json:"resume,omitempty"`
}

// CanStart applies the start rules in order: published quiz, at least one
// question, then attempts remaining. It has no side effects and must be
// re-evaluated before every start because history can change between checks.
func CanStart(quiz domain.Quiz, history []domain.Attempt) Decision {
	if !quiz.Active {
		return Decision{Reason: ReasonQuizUnavailable}
	}
	if len(quiz.Questions) == 0 {
		return Decision{Reason: ReasonNoQuestions}
	}
	for _, a := range history {
		if a.QuizID == quiz.ID && a.Status == domain.AttemptActive {
			return Decision{Allowed: true, Resume: true}
		}
	}
	if quiz.MaxAttempts > 0 && priorAttempts(quiz.ID, history) >= quiz.MaxAttempts {
		return Decision{Reason: ReasonNoAttemptsLeft}
	}
	return Decision{Allowed: true}
}

// Err converts a denial into an error; it returns nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &domain.IneligibleError{Reason: d.Reason}
}

// Eligibility converts the decision into the wire shape of the eligibility query.
func (d Decision) Eligibility() domain.Eligibility {
	return domain.Eligibility{CanTake: d.Allowed, Reason: d.Reason, Resume: d.Resume}
}

func priorAttempts(quizID string, history []domain.Attempt) int {
	n := 0
	for _, a := range history {
		if a.QuizID == quizID {
			n++
		}
	}
	return n
}
