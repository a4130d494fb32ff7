package memory

import (
	"context"
	"sync"

	"quiz-attempt-service/internal/attempt"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	session *attempt.Session
	refs    int
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*sessionEntry),
	}
}

// Acquire never fails; a single process has no other owner to defer to.
func (s *SessionStore) Acquire(_ context.Context, quizID, learnerID string, create func() *attempt.Session) (*attempt.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey(quizID, learnerID)
	if entry, ok := s.sessions[key]; ok {
		entry.refs++
		return entry.session, nil
	}
	entry := &sessionEntry{session: create(), refs: 1}
	s.sessions[key] = entry
	return entry.session, nil
}

func (s *SessionStore) Release(quizID, learnerID string) (*attempt.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey(quizID, learnerID)
	entry, ok := s.sessions[key]
	if !ok {
		return nil, false
	}
	entry.refs--
	if entry.refs > 0 {
		return entry.session, false
	}
	delete(s.sessions, key)
	return entry.session, true
}

// Len reports how many sessions are live.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func sessionKey(quizID, learnerID string) string {
	return quizID + "/" + learnerID
}
