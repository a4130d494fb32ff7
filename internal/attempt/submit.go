package attempt

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"quiz-attempt-service/internal/domain"
)

// Submit sends the answers to the backend. Exactly one submission is in flight
// per session; a second caller gets ErrSubmissionInProgress and a caller after
// completion gets the stored summary back. On failure the attempt returns to
// Active and the countdown resumes.
func (s *Session) Submit(ctx context.Context, trigger Trigger) (domain.AttemptSummary, error) {
	s.mu.Lock()
	switch s.state {
	case StateCompleted:
		summary := *s.summary
		s.mu.Unlock()
		return summary, nil
	case StateSubmitting:
		s.mu.Unlock()
		return domain.AttemptSummary{}, domain.ErrSubmissionInProgress
	case StateClosed:
		s.mu.Unlock()
		return domain.AttemptSummary{}, domain.ErrSessionClosed
	case StateActive:
	default:
		s.mu.Unlock()
		return domain.AttemptSummary{}, domain.ErrNotActive
	}

	s.accrueTimeLocked()
	s.disarmLocked()
	s.state = StateSubmitting
	sentAt := s.now()
	gen := s.gen
	attemptID := s.attempt.ID
	payload := s.payloadLocked()
	s.broadcastLocked(s.eventLocked(EventState))
	s.mu.Unlock()

	s.log.Info("submitting attempt",
		zap.String("attempt_id", attemptID),
		zap.String("trigger", string(trigger)),
		zap.Int("answered", countAnswered(payload)))

	reqCtx, cancel := s.requestContext(ctx)
	summary, err := s.backend.SubmitAttempt(reqCtx, attemptID, payload)
	cancel()

	s.mu.Lock()
	if s.gen != gen || s.state != StateSubmitting {
		s.mu.Unlock()
		return domain.AttemptSummary{}, domain.ErrSessionClosed
	}
	if err != nil {
		serr := &domain.SubmitError{Err: err, Retryable: retryable(err)}
		s.failSubmitLocked(serr, trigger, s.now().Sub(sentAt))
		s.mu.Unlock()
		return domain.AttemptSummary{}, serr
	}
	s.completeLocked(summary)
	s.mu.Unlock()

	s.saver.Clear()
	if err := s.saver.Flush(); err != nil {
		s.log.Warn("clearing progress after submit failed", zap.Error(err))
	}
	return summary, nil
}

func (s *Session) payloadLocked() []domain.Answer {
	values := s.answers.Snapshot()
	out := make([]domain.Answer, 0, len(s.questions))
	for _, q := range s.questions {
		out = append(out, domain.Answer{
			QuestionID: q.ID,
			Value:      values[q.ID],
			TimeSpent:  int(s.timeSpent[q.ID] / time.Second),
		})
	}
	return out
}

func countAnswered(list []domain.Answer) int {
	n := 0
	for _, a := range list {
		if !a.Value.IsEmpty() {
			n++
		}
	}
	return n
}

func (s *Session) completeLocked(summary domain.AttemptSummary) {
	s.state = StateCompleted
	s.summary = &summary
	s.lastErr = nil
	s.retrying = false
	completedAt := summary.CompletedAt
	if completedAt.IsZero() {
		completedAt = s.now()
		s.summary.CompletedAt = completedAt
	}
	s.attempt.Status = domain.AttemptCompleted
	s.attempt.Answers = summary.Answers
	s.attempt.Score = summary.Score
	s.attempt.TotalPossible = summary.TotalPossible
	s.attempt.Percentage = summary.Percentage
	s.attempt.Passed = summary.Passed
	s.attempt.TimeSpent = summary.TimeSpent
	s.attempt.CompletedAt = &completedAt

	s.log.Info("attempt submitted",
		zap.String("attempt_id", s.attempt.ID),
		zap.Int("score", summary.Score),
		zap.Int("total_possible", summary.TotalPossible),
		zap.Float64("percentage", summary.Percentage),
		zap.Bool("passed", summary.Passed))
	s.broadcastLocked(s.eventLocked(EventSubmitted))
}

// failSubmitLocked returns the attempt to Active. The countdown keeps running
// on the server while a request is in flight, so that time is charged too.
func (s *Session) failSubmitLocked(serr *domain.SubmitError, trigger Trigger, inFlight time.Duration) {
	s.state = StateActive
	if s.timed && inFlight > 0 {
		s.remaining -= int(inFlight / time.Second)
		if s.remaining < 0 {
			s.remaining = 0
		}
	}
	s.lastErr = serr
	s.enteredAt = s.now()
	s.log.Warn("submit failed",
		zap.String("attempt_id", s.attempt.ID),
		zap.Bool("retryable", serr.Retryable),
		zap.Error(serr.Err))

	ev := s.eventLocked(EventError)
	ev.Error = serr.Error()
	ev.Retryable = serr.Retryable
	s.broadcastLocked(ev)

	if s.timed && s.remaining > 0 {
		s.armLocked(s.remaining)
	}
	s.saveLocked()

	outOfTime := trigger == TriggerTimeout || (s.timed && s.remaining <= 0)
	if outOfTime && serr.Retryable && !s.retrying {
		s.retrying = true
		go s.retrySubmit(s.gen)
	}
}

// retrySubmit keeps resubmitting a timed-out attempt in the background until
// the backend accepts it, the error becomes permanent or the session closes.
func (s *Session) retrySubmit(gen uint64) {
	defer func() {
		s.mu.Lock()
		if s.gen == gen {
			s.retrying = false
		}
		s.mu.Unlock()
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInitialInterval
	b.MaxInterval = s.cfg.RetryMaxInterval
	b.MaxElapsedTime = s.cfg.RetryMaxElapsed

	op := func() error {
		s.mu.Lock()
		stale := s.gen != gen || s.state == StateClosed || s.state == StateCompleted
		s.mu.Unlock()
		if stale {
			return nil
		}
		_, err := s.Submit(s.ctx, TriggerTimeout)
		var serr *domain.SubmitError
		switch {
		case err == nil:
			return nil
		case errors.Is(err, domain.ErrSessionClosed):
			return backoff.Permanent(err)
		case errors.As(err, &serr) && !serr.Retryable:
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.log.Info("retrying timed out submission", zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, s.ctx), notify); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("giving up on timed out submission", zap.Error(err))
	}
}

// retryable separates transient transport failures from rejections the
// backend will keep returning.
func retryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrAttemptNotFound),
		errors.Is(err, domain.ErrInvalidAnswer),
		errors.Is(err, domain.ErrQuestionNotFound):
		return false
	}
	return true
}
