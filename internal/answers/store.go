// Package answers holds the in-progress answers of one attempt.
package answers

import (
	"fmt"
	"sync"

	"quiz-attempt-service/internal/domain"
)

// Change describes a single write to the store.
type Change struct {
	QuestionID string
	Value      domain.AnswerValue
	Answered   int
}

// Store maps question id to answer value. Values are validated against the
// question type on the way in, so readers never need to check shapes.
type Store struct {
	questions map[string]domain.Question

	mu          sync.RWMutex
	values      map[string]domain.AnswerValue
	subscribers map[chan Change]struct{}
}

// NewStore builds an empty store for the given questions.
func NewStore(questions []domain.Question) *Store {
	byID := make(map[string]domain.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	return &Store{
		questions:   byID,
		values:      make(map[string]domain.AnswerValue),
		subscribers: make(map[chan Change]struct{}),
	}
}

// Validate checks a value without storing it.
func (s *Store) Validate(questionID string, v domain.AnswerValue) error {
	q, ok := s.questions[questionID]
	if !ok {
		return fmt.Errorf("%s: %w", questionID, domain.ErrQuestionNotFound)
	}
	return q.Accepts(v)
}

// Set stores a value; an empty value removes the answer.
func (s *Store) Set(questionID string, v domain.AnswerValue) error {
	if err := s.Validate(questionID, v); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.IsEmpty() {
		delete(s.values, questionID)
	} else {
		s.values[questionID] = v
	}
	s.broadcastLocked(Change{QuestionID: questionID, Value: v, Answered: len(s.values)})
	return nil
}

// Seed replaces the contents with previously saved answers. Entries for
// unknown questions or with the wrong shape are dropped and returned.
func (s *Store) Seed(values map[string]domain.AnswerValue) []string {
	var dropped []string
	next := make(map[string]domain.AnswerValue, len(values))
	for id, v := range values {
		if v.IsEmpty() {
			continue
		}
		if err := s.Validate(id, v); err != nil {
			dropped = append(dropped, id)
			continue
		}
		next[id] = v
	}
	s.mu.Lock()
	s.values = next
	s.mu.Unlock()
	return dropped
}

func (s *Store) Get(questionID string) (domain.AnswerValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[questionID]
	return v, ok
}

// Snapshot returns a copy of all stored answers.
func (s *Store) Snapshot() map[string]domain.AnswerValue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.AnswerValue, len(s.values))
	for id, v := range s.values {
		out[id] = v
	}
	return out
}

// AnsweredCount is the number of questions holding a non-empty value.
func (s *Store) AnsweredCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Subscribe returns a channel of changes. The caller must invoke the returned
// cancel function to avoid leaks.
func (s *Store) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 8)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Store) broadcastLocked(c Change) {
	for ch := range s.subscribers {
		select {
		case ch <- c:
		default:
			// drop the oldest pending change so a slow reader never blocks writers
			select {
			case <-ch:
			default:
			}
			ch <- c
		}
	}
}
