package answers

import (
	"errors"
	"testing"

	"quiz-attempt-service/internal/domain"
)

func questions() []domain.Question {
	return []domain.Question{
		{ID: "q1", Type: domain.QuestionSingleSelect, Options: []string{"a", "b"}, CorrectAnswers: []string{"a"}},
		{ID: "q2", Type: domain.QuestionMultiSelect, Options: []string{"a", "b", "c"}, CorrectAnswers: []string{"a"}},
		{ID: "q3", Type: domain.QuestionEssay},
	}
}

func TestSetRejectsWrongShape(t *testing.T) {
	s := NewStore(questions())
	if err := s.Set("q2", domain.SingleAnswer("a")); !errors.Is(err, domain.ErrInvalidAnswer) {
		t.Fatalf("expected invalid answer, got %v", err)
	}
	if err := s.Set("nope", domain.SingleAnswer("a")); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected unknown question, got %v", err)
	}
	if s.AnsweredCount() != 0 {
		t.Fatalf("rejected writes must not change state")
	}
}

func TestAnsweredCountTracksNonEmptyValues(t *testing.T) {
	s := NewStore(questions())
	steps := []struct {
		id   string
		v    domain.AnswerValue
		want int
	}{
		{"q1", domain.SingleAnswer("a"), 1},
		{"q2", domain.MultiAnswer("a", "c"), 2},
		{"q3", domain.SingleAnswer(""), 2},
		{"q3", domain.SingleAnswer("free text"), 3},
		{"q2", domain.MultiAnswer(), 2},
		{"q1", domain.SingleAnswer("b"), 2},
	}
	for i, step := range steps {
		if err := s.Set(step.id, step.v); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got := s.AnsweredCount(); got != step.want {
			t.Fatalf("step %d: expected %d answered, got %d", i, step.want, got)
		}
	}
}

func TestSeedDropsIncompatibleEntries(t *testing.T) {
	s := NewStore(questions())
	dropped := s.Seed(map[string]domain.AnswerValue{
		"q1":      domain.SingleAnswer("a"),
		"q2":      domain.SingleAnswer("a"),
		"deleted": domain.SingleAnswer("x"),
	})
	if len(dropped) != 2 {
		t.Fatalf("expected 2 dropped entries, got %v", dropped)
	}
	if v, ok := s.Get("q1"); !ok || v.Single() != "a" {
		t.Fatalf("q1 should survive seeding")
	}
}

func TestSubscribeReceivesChanges(t *testing.T) {
	s := NewStore(questions())
	ch, cancel := s.Subscribe()
	defer cancel()

	if err := s.Set("q1", domain.SingleAnswer("b")); err != nil {
		t.Fatalf("set: %v", err)
	}
	change := <-ch
	if change.QuestionID != "q1" || change.Answered != 1 {
		t.Fatalf("unexpected change %+v", change)
	}
}
