// Package progress persists resumable snapshots of in-progress attempts.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quiz-attempt-service/internal/domain"
)

// CurrentVersion is written into every snapshot. Snapshots without a version
// field predate versioning and are read as version 1.
const CurrentVersion = 1

// ErrCorruptSnapshot marks stored bytes that cannot be decoded.
var ErrCorruptSnapshot = errors.New("corrupt progress snapshot")

// Snapshot is the durable record of an active attempt.
type Snapshot struct {
	Version              int                           `json:"version"`
	QuizID               string                        `json:"quizId"`
	AttemptID            string                        `json:"attemptId,omitempty"`
	Answers              map[string]domain.AnswerValue `json:"answers"`
	CurrentQuestionIndex int                           `json:"currentQuestionIndex"`
	TimeRemaining        *int                          `json:"timeRemaining"`
	FlaggedQuestions     []int                         `json:"flaggedQuestions"`
	TimeSpent            map[string]int                `json:"timeSpent,omitempty"`
	SavedAt              time.Time                     `json:"savedAt,omitempty"`
}

// Compatible reports whether the snapshot may seed the given attempt.
// A missing quiz id is read as the quiz named by the key. A snapshot without
// an attempt id cannot be tied to an attempt, so it only seeds one that was
// already active before this start (resuming), never a newly created one.
func (s Snapshot) Compatible(quizID, attemptID string, resuming bool) bool {
	if s.QuizID != "" && s.QuizID != quizID {
		return false
	}
	if s.AttemptID == "" {
		return resuming
	}
	return s.AttemptID == attemptID
}

// Key derives the storage key for a learner's progress on a quiz.
func Key(quizID, learnerID string) string {
	return "quiz_progress_" + quizID + "_" + learnerID
}

// Store is the key/value port behind the persistence adapter.
// Load reports found=false when no snapshot exists.
type Store interface {
	Save(ctx context.Context, key string, snap Snapshot) error
	Load(ctx context.Context, key string) (snap Snapshot, found bool, err error)
	Clear(ctx context.Context, key string) error
}

// Encode serialises a snapshot with the current version.
func Encode(s Snapshot) ([]byte, error) {
	s.Version = CurrentVersion
	if s.Answers == nil {
		s.Answers = map[string]domain.AnswerValue{}
	}
	if s.FlaggedQuestions == nil {
		s.FlaggedQuestions = []int{}
	}
	return json.Marshal(s)
}

// Decode parses stored bytes, upgrading unversioned snapshots.
func Decode(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if s.Version == 0 {
		s.Version = 1
	}
	if s.Version > CurrentVersion {
		return Snapshot{}, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, s.Version)
	}
	if s.Answers == nil {
		s.Answers = map[string]domain.AnswerValue{}
	}
	return s, nil
}
