package domain

import (
	"fmt"
	"time"
)

// QuestionType selects how a question is answered and scored.
type QuestionType string

const (
	QuestionSingleSelect QuestionType = "single_select"
	QuestionMultiSelect  QuestionType = "multi_select"
	QuestionTrueFalse    QuestionType = "true_false"
	QuestionFillBlank    QuestionType = "fill_blank"
	QuestionEssay        QuestionType = "essay"
)

// IsSelect reports whether answers are picked from the option list.
func (t QuestionType) IsSelect() bool {
	return t == QuestionSingleSelect || t == QuestionMultiSelect || t == QuestionTrueFalse
}

// Question is a single quiz item.
type Question struct {
	ID             string       `json:"id"`
	Type           QuestionType `json:"type"`
	Prompt         string       `json:"prompt"`
	Options        []string     `json:"options,omitempty"`
	CorrectAnswers []string     `json:"correctAnswers,omitempty"`
	Points         int          `json:"points"` // defaults to 1 if zero
	Explanation    string       `json:"explanation,omitempty"`
}

// PointValue returns the question's weight, treating zero as one point.
func (q Question) PointValue() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// Validate checks the structural invariants of a question definition.
func (q Question) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("question without id: %w", ErrInvalidQuestion)
	}
	switch q.Type {
	case QuestionSingleSelect, QuestionTrueFalse, QuestionMultiSelect:
		if len(q.Options) < 2 {
			return fmt.Errorf("question %s needs at least 2 options: %w", q.ID, ErrInvalidQuestion)
		}
		if len(q.CorrectAnswers) == 0 {
			return fmt.Errorf("question %s has no correct answer: %w", q.ID, ErrInvalidQuestion)
		}
		if q.Type != QuestionMultiSelect && len(q.CorrectAnswers) != 1 {
			return fmt.Errorf("question %s must have exactly one correct answer: %w", q.ID, ErrInvalidQuestion)
		}
		for _, c := range q.CorrectAnswers {
			if !q.hasOption(c) {
				return fmt.Errorf("question %s: correct answer %q is not an option: %w", q.ID, c, ErrInvalidQuestion)
			}
		}
	case QuestionFillBlank:
		if len(q.CorrectAnswers) != 1 {
			return fmt.Errorf("question %s must have exactly one correct answer: %w", q.ID, ErrInvalidQuestion)
		}
	case QuestionEssay:
	default:
		return fmt.Errorf("question %s has unknown type %q: %w", q.ID, q.Type, ErrInvalidQuestion)
	}
	return nil
}

// Accepts verifies that a value has the shape the question type expects.
// Empty values are always accepted; they clear the answer.
func (q Question) Accepts(v AnswerValue) error {
	if v.IsEmpty() {
		return nil
	}
	if q.Type == QuestionMultiSelect {
		if v.Kind() != KindMulti {
			return fmt.Errorf("question %s expects a set of options: %w", q.ID, ErrInvalidAnswer)
		}
	} else if v.Kind() != KindSingle {
		return fmt.Errorf("question %s expects a single value: %w", q.ID, ErrInvalidAnswer)
	}
	if q.Type.IsSelect() {
		for _, s := range v.Values() {
			if !q.hasOption(s) {
				return fmt.Errorf("question %s: %q is not an option: %w", q.ID, s, ErrInvalidAnswer)
			}
		}
	}
	return nil
}

func (q Question) hasOption(s string) bool {
	for _, o := range q.Options {
		if o == s {
			return true
		}
	}
	return false
}

// Quiz is a collection of questions plus attempt policy.
type Quiz struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Questions          []Question `json:"questions"`
	TimeLimitMinutes   int        `json:"timeLimit,omitempty"`
	PassingScore       float64    `json:"passingScore"`
	MaxAttempts        int        `json:"maxAttempts"`
	Active             bool       `json:"active"`
	ShuffleQuestions   bool       `json:"shuffleQuestions,omitempty"`
	ShowCorrectAnswers bool       `json:"showCorrectAnswers,omitempty"`
	AllowReview        bool       `json:"allowReview,omitempty"`
}

// TimeLimit returns the countdown length in seconds, or 0 when untimed.
func (q Quiz) TimeLimit() int {
	if q.TimeLimitMinutes <= 0 {
		return 0
	}
	return q.TimeLimitMinutes * 60
}

// Question looks a question up by id.
func (q Quiz) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// Validate checks every question and rejects duplicate ids.
func (q Quiz) Validate() error {
	seen := make(map[string]struct{}, len(q.Questions))
	for _, question := range q.Questions {
		if err := question.Validate(); err != nil {
			return err
		}
		if _, ok := seen[question.ID]; ok {
			return fmt.Errorf("quiz %s: duplicate question %s: %w", q.ID, question.ID, ErrInvalidQuestion)
		}
		seen[question.ID] = struct{}{}
	}
	return nil
}

// LearnerView strips answer keys and explanations before the quiz is sent to a learner.
func (q Quiz) LearnerView() Quiz {
	out := q
	out.Questions = make([]Question, len(q.Questions))
	for i, question := range q.Questions {
		question.CorrectAnswers = nil
		question.Explanation = ""
		out.Questions[i] = question
	}
	return out
}

// AttemptStatus is the persisted lifecycle status of an attempt.
type AttemptStatus string

const (
	AttemptActive    AttemptStatus = "active"
	AttemptCompleted AttemptStatus = "completed"
)

// Answer is one learner answer inside an attempt.
type Answer struct {
	QuestionID    string      `json:"questionId"`
	Value         AnswerValue `json:"value"`
	Correct       bool        `json:"correct"`
	PointsAwarded int         `json:"pointsAwarded"`
	PendingReview bool        `json:"pendingReview,omitempty"`
	TimeSpent     int         `json:"timeSpent"` // seconds
}

// Attempt is one timed instance of a learner taking a quiz.
type Attempt struct {
	ID            string        `json:"id"`
	LearnerID     string        `json:"learnerId"`
	QuizID        string        `json:"quizId"`
	AttemptNumber int           `json:"attemptNumber"`
	Status        AttemptStatus `json:"status"`
	QuestionOrder []string      `json:"questionOrder,omitempty"`
	Answers       []Answer      `json:"answers,omitempty"`
	Score         int           `json:"score"`
	TotalPossible int           `json:"totalPossible"`
	Percentage    float64       `json:"percentage"`
	Passed        bool          `json:"passed"`
	TimeSpent     int           `json:"timeSpent"` // seconds
	StartedAt     time.Time     `json:"startedAt"`
	CompletedAt   *time.Time    `json:"completedAt,omitempty"`
}

// Summary projects a completed attempt into the submission response.
func (a Attempt) Summary() AttemptSummary {
	summary := AttemptSummary{
		AttemptID:     a.ID,
		Score:         a.Score,
		TotalPossible: a.TotalPossible,
		Percentage:    a.Percentage,
		Passed:        a.Passed,
		TimeSpent:     a.TimeSpent,
		Answers:       a.Answers,
	}
	if a.CompletedAt != nil {
		summary.CompletedAt = *a.CompletedAt
	}
	return summary
}

// Order returns the question ids in presentation order for this attempt.
func (a Attempt) Order(quiz Quiz) []string {
	if len(a.QuestionOrder) > 0 {
		return a.QuestionOrder
	}
	ids := make([]string, len(quiz.Questions))
	for i, q := range quiz.Questions {
		ids[i] = q.ID
	}
	return ids
}

// AttemptSummary is the authoritative result returned by a submission.
type AttemptSummary struct {
	AttemptID     string    `json:"attemptId"`
	Score         int       `json:"score"`
	TotalPossible int       `json:"totalPossible"`
	Percentage    float64   `json:"percentage"`
	Passed        bool      `json:"passed"`
	TimeSpent     int       `json:"timeSpent"`
	CompletedAt   time.Time `json:"completedAt"`
	Answers       []Answer  `json:"answers,omitempty"`
}

// Eligibility is the remote answer to "may this learner take the quiz".
type Eligibility struct {
	CanTake bool   `json:"canTake"`
	Reason  string `json:"reason,omitempty"`
	Resume  bool   `json:"resume,omitempty"`
}
