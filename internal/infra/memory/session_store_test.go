package memory

import (
	"context"
	"testing"

	"quiz-attempt-service/internal/attempt"
)

func TestSessionStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	created := 0
	create := func() *attempt.Session {
		created++
		return attempt.NewSession(attempt.Options{QuizID: "quiz-1", LearnerID: "u1", Progress: NewProgressStore()})
	}

	first, err := store.Acquire(ctx, "quiz-1", "u1", create)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	second, err := store.Acquire(ctx, "quiz-1", "u1", create)
	if err != nil || first != second || created != 1 {
		t.Fatalf("expected one shared session, created %d (%v)", created, err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected session present")
	}

	if _, last := store.Release("quiz-1", "u1"); last {
		t.Fatalf("first release must not be the last")
	}
	session, last := store.Release("quiz-1", "u1")
	if !last || session != first {
		t.Fatalf("expected last release to hand back the session")
	}
	_ = session.Close()
	if store.Len() != 0 {
		t.Fatalf("expected session removed after last release")
	}
	if _, last := store.Release("quiz-1", "u1"); last {
		t.Fatalf("release of unknown session must be a no-op")
	}
}
