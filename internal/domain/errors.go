package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrAttemptNotFound is returned for unknown attempt ids.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrQuestionNotFound indicates an answer references a question outside the attempt.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrInvalidQuestion marks a quiz definition that breaks the question invariants.
	ErrInvalidQuestion = errors.New("invalid question definition")
	// ErrInvalidAnswer marks an answer whose shape does not match its question type.
	ErrInvalidAnswer = errors.New("invalid answer")
	// ErrOutOfRange is returned for question indexes outside the attempt.
	ErrOutOfRange = errors.New("question index out of range")
	// ErrMaxAttemptsReached is returned when a start races past the attempt limit.
	ErrMaxAttemptsReached = errors.New("max attempts reached")
	// ErrIneligible is matched by every IneligibleError.
	ErrIneligible = errors.New("not eligible to start quiz")
	// ErrNotActive is returned for operations that need an active attempt.
	ErrNotActive = errors.New("attempt is not active")
	// ErrSubmissionInProgress is returned to a second submit while one is in flight.
	ErrSubmissionInProgress = errors.New("submission already in progress")
	// ErrStartInProgress is returned to a second start while one is in flight.
	ErrStartInProgress = errors.New("start already in progress")
	// ErrAttemptInProgress is returned when results are requested before completion.
	ErrAttemptInProgress = errors.New("attempt still in progress")
	// ErrSessionClosed is returned once the learner has left the attempt view.
	ErrSessionClosed = errors.New("session closed")
	// ErrOpenElsewhere is returned when another instance runs the learner's session.
	ErrOpenElsewhere = errors.New("attempt is open on another instance")
)

// IneligibleError is the normal "may not start" outcome; it carries the user-facing reason.
type IneligibleError struct {
	Reason string
}

func (e *IneligibleError) Error() string {
	return "cannot start quiz: " + e.Reason
}

func (e *IneligibleError) Is(target error) bool {
	return target == ErrIneligible
}

// SubmitError wraps a failed submission. Retryable failures leave the attempt active.
type SubmitError struct {
	Err       error
	Retryable bool
}

func (e *SubmitError) Error() string {
	return "submit attempt: " + e.Err.Error()
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}
