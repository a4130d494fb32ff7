// Package scoring grades submitted answers against a quiz definition.
package scoring

import (
	"math"

	"quiz-attempt-service/internal/domain"
)

// QuestionResult is the per-question outcome.
type QuestionResult struct {
	QuestionID     string `json:"questionId"`
	Correct        bool   `json:"correct"`
	PointsAwarded  int    `json:"pointsAwarded"`
	PointsPossible int    `json:"pointsPossible"`
	Answered       bool   `json:"answered"`
	PendingReview  bool   `json:"pendingReview,omitempty"`
}

// Result aggregates a scored submission.
type Result struct {
	PerQuestion   []QuestionResult `json:"perQuestion"`
	TotalScore    int              `json:"totalScore"`
	TotalPossible int              `json:"totalPossible"`
	Percentage    float64          `json:"percentage"`
	Passed        bool             `json:"passed"`
}

// Score grades answers (keyed by question id) in quiz order.
//
// Essay questions are never auto-scored: they award 0 points, count toward
// TotalPossible and are marked PendingReview. Unanswered questions award 0 and
// still count toward TotalPossible, so partial completion is penalised.
func Score(quiz domain.Quiz, answers map[string]domain.AnswerValue) Result {
	res := Result{PerQuestion: make([]QuestionResult, 0, len(quiz.Questions))}
	for _, q := range quiz.Questions {
		qr := Grade(q, answers[q.ID])
		res.TotalPossible += qr.PointsPossible
		res.TotalScore += qr.PointsAwarded
		res.PerQuestion = append(res.PerQuestion, qr)
	}
	res.Percentage = Percentage(res.TotalScore, res.TotalPossible)
	res.Passed = res.Percentage >= quiz.PassingScore
	return res
}

// Grade scores one answer against one question.
func Grade(q domain.Question, v domain.AnswerValue) QuestionResult {
	qr := QuestionResult{
		QuestionID:     q.ID,
		PointsPossible: q.PointValue(),
		Answered:       !v.IsEmpty(),
	}
	if q.Type == domain.QuestionEssay {
		qr.PendingReview = qr.Answered
		return qr
	}
	if !qr.Answered || q.Accepts(v) != nil {
		return qr
	}
	if isCorrect(q, v) {
		qr.Correct = true
		qr.PointsAwarded = qr.PointsPossible
	}
	return qr
}

func isCorrect(q domain.Question, v domain.AnswerValue) bool {
	switch q.Type {
	case domain.QuestionSingleSelect, domain.QuestionTrueFalse, domain.QuestionFillBlank:
		// exact, case-sensitive comparison; no trimming
		return len(q.CorrectAnswers) == 1 && v.Single() == q.CorrectAnswers[0]
	case domain.QuestionMultiSelect:
		return v.Equal(domain.MultiAnswer(q.CorrectAnswers...))
	}
	return false
}

// Percentage returns score/possible*100 rounded half away from zero to two decimals.
func Percentage(score, possible int) float64 {
	if possible <= 0 {
		return 0
	}
	return math.Round(float64(score)/float64(possible)*10000) / 100
}

// Apply copies per-question grading onto an ordered answer list.
func (r Result) Apply(answers []domain.Answer) []domain.Answer {
	byID := make(map[string]QuestionResult, len(r.PerQuestion))
	for _, qr := range r.PerQuestion {
		byID[qr.QuestionID] = qr
	}
	out := make([]domain.Answer, len(answers))
	for i, a := range answers {
		qr := byID[a.QuestionID]
		a.Correct = qr.Correct
		a.PointsAwarded = qr.PointsAwarded
		a.PendingReview = qr.PendingReview
		out[i] = a
	}
	return out
}
