// Package results shapes a completed attempt into a learner review.
package results

import (
	"time"

	"quiz-attempt-service/internal/domain"
)

// Status classifies a reviewed question.
type Status string

const (
	StatusCorrect       Status = "correct"
	StatusIncorrect     Status = "incorrect"
	StatusUnanswered    Status = "unanswered"
	StatusPendingReview Status = "pending_review"
	// StatusUnavailable marks a question removed from the quiz after the attempt.
	StatusUnavailable Status = "unavailable"
)

type Summary struct {
	AttemptID     string     `json:"attemptId"`
	AttemptNumber int        `json:"attemptNumber"`
	Score         int        `json:"score"`
	TotalPossible int        `json:"totalPossible"`
	Percentage    float64    `json:"percentage"`
	PassingScore  float64    `json:"passingScore"`
	Passed        bool       `json:"passed"`
	TimeSpent     int        `json:"timeSpent"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	Answered      int        `json:"answered"`
	Questions     int        `json:"questions"`
}

// Item compares the learner's answer with the answer key for one question.
// CorrectAnswers and Explanation are only set when the quiz shows correct answers.
type Item struct {
	Index          int                 `json:"index"`
	QuestionID     string              `json:"questionId"`
	Type           domain.QuestionType `json:"type,omitempty"`
	Prompt         string              `json:"prompt,omitempty"`
	Options        []string            `json:"options,omitempty"`
	Status         Status              `json:"status"`
	Answer         domain.AnswerValue  `json:"answer"`
	CorrectAnswers []string            `json:"correctAnswers,omitempty"`
	Explanation    string              `json:"explanation,omitempty"`
	PointsAwarded  int                 `json:"pointsAwarded"`
	PointsPossible int                 `json:"pointsPossible"`
	TimeSpent      int                 `json:"timeSpent"`
}

// NavEntry is one cell of the question navigator.
type NavEntry struct {
	Index  int    `json:"index"`
	Status Status `json:"status"`
}

// Review is the read-only results view of a completed attempt.
type Review struct {
	QuizID             string     `json:"quizId"`
	Title              string     `json:"title"`
	Summary            Summary    `json:"summary"`
	Items              []Item     `json:"items"`
	Navigator          []NavEntry `json:"navigator"`
	ShowCorrectAnswers bool       `json:"showCorrectAnswers"`
	AllowReview        bool       `json:"allowReview"`
}

// Build projects a completed attempt against the quiz as it is now. Questions
// deleted since the attempt render as unavailable.
func Build(quiz domain.Quiz, attempt domain.Attempt) (Review, error) {
	if attempt.Status != domain.AttemptCompleted {
		return Review{}, domain.ErrAttemptInProgress
	}

	answers := make(map[string]domain.Answer, len(attempt.Answers))
	for _, a := range attempt.Answers {
		answers[a.QuestionID] = a
	}
	order := reviewOrder(quiz, attempt)

	review := Review{
		QuizID:             quiz.ID,
		Title:              quiz.Title,
		ShowCorrectAnswers: quiz.ShowCorrectAnswers,
		AllowReview:        quiz.AllowReview,
		Items:              make([]Item, 0, len(order)),
		Navigator:          make([]NavEntry, 0, len(order)),
		Summary: Summary{
			AttemptID:     attempt.ID,
			AttemptNumber: attempt.AttemptNumber,
			Score:         attempt.Score,
			TotalPossible: attempt.TotalPossible,
			Percentage:    attempt.Percentage,
			PassingScore:  quiz.PassingScore,
			Passed:        attempt.Passed,
			TimeSpent:     attempt.TimeSpent,
			StartedAt:     attempt.StartedAt,
			CompletedAt:   attempt.CompletedAt,
			Questions:     len(order),
		},
	}

	for i, id := range order {
		ans := answers[id]
		item := Item{
			Index:         i,
			QuestionID:    id,
			Answer:        ans.Value,
			PointsAwarded: ans.PointsAwarded,
			TimeSpent:     ans.TimeSpent,
		}
		if !ans.Value.IsEmpty() {
			review.Summary.Answered++
		}
		q, ok := quiz.Question(id)
		if ok {
			item.Type = q.Type
			item.Prompt = q.Prompt
			item.Options = q.Options
			item.PointsPossible = q.PointValue()
			if quiz.ShowCorrectAnswers {
				item.CorrectAnswers = q.CorrectAnswers
				item.Explanation = q.Explanation
			}
		}
		item.Status = status(ok, ans)
		review.Items = append(review.Items, item)
		review.Navigator = append(review.Navigator, NavEntry{Index: i, Status: item.Status})
	}
	return review, nil
}

func status(available bool, ans domain.Answer) Status {
	switch {
	case !available:
		return StatusUnavailable
	case ans.Value.IsEmpty():
		return StatusUnanswered
	case ans.PendingReview:
		return StatusPendingReview
	case ans.Correct:
		return StatusCorrect
	}
	return StatusIncorrect
}

// reviewOrder is the order the learner saw: the captured question order, else
// the submitted answer order, else the quiz order.
func reviewOrder(quiz domain.Quiz, attempt domain.Attempt) []string {
	if len(attempt.QuestionOrder) > 0 {
		return attempt.QuestionOrder
	}
	if len(attempt.Answers) > 0 {
		ids := make([]string, len(attempt.Answers))
		for i, a := range attempt.Answers {
			ids[i] = a.QuestionID
		}
		return ids
	}
	return attempt.Order(quiz)
}

// Jump returns the index of the next question after from with the wanted
// status, wrapping around; -1 when none matches.
func (r Review) Jump(from int, want Status) int {
	n := len(r.Navigator)
	for step := 1; step <= n; step++ {
		idx := ((from+step)%n + n) % n
		if r.Navigator[idx].Status == want {
			return idx
		}
	}
	return -1
}
