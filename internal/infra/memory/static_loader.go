package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"quiz-attempt-service/internal/domain"
)

// StaticQuizLoader serves a fixed set of quizzes; used for demos, seed files and tests.
type StaticQuizLoader struct {
	quizzes map[string]domain.Quiz
}

func NewStaticQuizLoader(quizzes map[string]domain.Quiz) *StaticQuizLoader {
	return &StaticQuizLoader{quizzes: quizzes}
}

// LoadStaticQuizFile reads a JSON array of quizzes. Every quiz must have an
// id, pass validation and appear once.
func LoadStaticQuizFile(path string) (*StaticQuizLoader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list []domain.Quiz
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse quiz seed %s: %w", path, err)
	}
	quizzes := make(map[string]domain.Quiz, len(list))
	for i, q := range list {
		if q.ID == "" {
			return nil, fmt.Errorf("quiz seed %s: entry %d has no id", path, i)
		}
		if _, dup := quizzes[q.ID]; dup {
			return nil, fmt.Errorf("quiz seed %s: duplicate quiz %s", path, q.ID)
		}
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("quiz seed %s: %w", path, err)
		}
		quizzes[q.ID] = q
	}
	return NewStaticQuizLoader(quizzes), nil
}

func (l *StaticQuizLoader) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	quiz, ok := l.quizzes[quizID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return quiz, nil
}
