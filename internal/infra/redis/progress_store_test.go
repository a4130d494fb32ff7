package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/progress"
)

func TestProgressStoreRoundTripWithTTL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewProgressStore(newClient(mr), time.Hour)
	key := progress.Key("quiz-1", "u1")
	remaining := 42

	err = store.Save(ctx, key, progress.Snapshot{
		QuizID:               "quiz-1",
		AttemptID:            "a1",
		Answers:              map[string]domain.AnswerValue{"q1": domain.SingleAnswer("4"), "q2": domain.MultiAnswer("a", "b")},
		CurrentQuestionIndex: 1,
		TimeRemaining:        &remaining,
		FlaggedQuestions:     []int{0},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := mr.TTL(key); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %s", ttl)
	}

	snap, ok, err := store.Load(ctx, key)
	if err != nil || !ok {
		t.Fatalf("load: %v %v", ok, err)
	}
	if snap.Version != progress.CurrentVersion || snap.CurrentQuestionIndex != 1 || *snap.TimeRemaining != 42 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if !snap.Answers["q2"].Equal(domain.MultiAnswer("b", "a")) {
		t.Fatalf("set answer lost: %v", snap.Answers["q2"])
	}

	if err := store.Clear(ctx, key); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, err := store.Load(ctx, key); ok || err != nil {
		t.Fatalf("expected absent after clear, got %v %v", ok, err)
	}
}

func TestProgressStoreReadsLegacyAndRejectsCorrupt(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store := NewProgressStore(newClient(mr), 0)

	_ = mr.Set("legacy", `{"quizId":"quiz-1","answers":{"q1":"4"},"currentQuestionIndex":0,"timeRemaining":null,"flaggedQuestions":[]}`)
	snap, ok, err := store.Load(ctx, "legacy")
	if err != nil || !ok || snap.Version != 1 || snap.Answers["q1"].Single() != "4" {
		t.Fatalf("legacy snapshot not readable: %+v %v %v", snap, ok, err)
	}

	_ = mr.Set("corrupt", "{")
	if _, _, err := store.Load(ctx, "corrupt"); !errors.Is(err, progress.ErrCorruptSnapshot) {
		t.Fatalf("expected corrupt snapshot error, got %v", err)
	}
}
