package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-attempt-service/internal/attempt"
	"quiz-attempt-service/internal/domain"
)

const defaultMarkerTimeout = 2 * time.Second

// releaseMarker deletes the liveness marker only while this instance owns it.
var releaseMarker = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Notes:
//   - Sessions live in a local map; their clocks and subscribers are in-process.
//   - Redis holds a liveness marker per learner and quiz naming the instance
//     that runs the session. A second instance refuses to open the same one.
//   - Redis is never called while s.mu is held.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	owner    string
	timeout  time.Duration
	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	session *attempt.Session
	refs    int
}

// NewSessionStore marks liveness with the given owner id (typically host:port).
func NewSessionStore(client *redis.Client, ttl time.Duration, owner string) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		owner:    owner,
		timeout:  defaultMarkerTimeout,
		sessions: make(map[string]*sessionEntry),
	}
}

// Acquire joins the local session or claims the marker and creates one. It
// fails with domain.ErrOpenElsewhere when another instance holds the marker.
func (s *SessionStore) Acquire(ctx context.Context, quizID, learnerID string, create func() *attempt.Session) (*attempt.Session, error) {
	key := s.key(quizID, learnerID)
	if session, ok := s.retain(key); ok {
		return session, nil
	}
	if err := s.claim(ctx, key); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.sessions[key]; ok {
		entry.refs++
		return entry.session, nil
	}
	entry := &sessionEntry{session: create(), refs: 1}
	s.sessions[key] = entry
	return entry.session, nil
}

func (s *SessionStore) retain(key string) (*attempt.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[key]
	if !ok {
		return nil, false
	}
	entry.refs++
	return entry.session, true
}

// claim writes the marker unless another instance owns it. Redis failures
// are tolerated and the session runs unmarked.
func (s *SessionStore) claim(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ok, err := s.client.SetNX(ctx, key, s.owner, s.ttl).Result()
	if err != nil || ok {
		return nil
	}
	owner, err := s.client.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil), err == nil && owner == s.owner:
		_ = s.client.Set(ctx, key, s.owner, s.ttl).Err()
		return nil
	case err != nil:
		return nil
	}
	return fmt.Errorf("%w: %s", domain.ErrOpenElsewhere, owner)
}

func (s *SessionStore) Release(quizID, learnerID string) (*attempt.Session, bool) {
	key := s.key(quizID, learnerID)
	s.mu.Lock()
	entry, ok := s.sessions[key]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	entry.refs--
	if entry.refs > 0 {
		s.mu.Unlock()
		return entry.session, false
	}
	delete(s.sessions, key)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_ = releaseMarker.Run(ctx, s.client, []string{key}, s.owner).Err()
	return entry.session, true
}

// Refresh extends the liveness markers of every local session. It is called
// periodically so markers of crashed instances expire.
func (s *SessionStore) Refresh(ctx context.Context) error {
	s.mu.Lock()
	keys := make([]string, 0, len(s.sessions))
	for key := range s.sessions {
		keys = append(keys, key)
	}
	s.mu.Unlock()
	if len(keys) == 0 || s.ttl <= 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, key := range keys {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Len reports how many sessions this instance runs.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionStore) key(quizID, learnerID string) string {
	return "quiz:session:" + quizID + ":" + learnerID
}
