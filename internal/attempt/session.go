package attempt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"quiz-attempt-service/internal/answers"
	"quiz-attempt-service/internal/clock"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/eligibility"
	"quiz-attempt-service/internal/progress"
	"quiz-attempt-service/internal/scoring"
)

// Options wires a Session to its collaborators.
type Options struct {
	QuizID    string
	LearnerID string
	Backend   Backend
	Progress  progress.Store
	Clock     clock.Clock
	Config    Config
	Logger    *zap.Logger
	Now       func() time.Time
}

// Session owns one learner's attempt at one quiz: Idle -> Starting -> Active
// -> Submitting -> Completed, with Submitting falling back to Active when the
// submission fails. Close moves any state to Closed.
type Session struct {
	quizID    string
	learnerID string
	key       string
	backend   Backend
	store     progress.Store
	clock     clock.Clock
	cfg       Config
	log       *zap.Logger
	now       func() time.Time
	saver     *progress.Autosaver

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	gen         uint64 // bumped by Start and Close; stale responses compare against it
	armSeq      uint64 // bumped whenever the clock is armed or cancelled
	quiz        domain.Quiz
	attempt     domain.Attempt
	questions   []domain.Question
	answers     *answers.Store
	current     int
	enteredAt   time.Time
	flagged     map[int]struct{}
	timeSpent   map[string]time.Duration
	timed       bool
	remaining   int
	ticks       int
	summary     *domain.AttemptSummary
	lastErr     error
	retrying    bool
	subscribers map[chan Event]struct{}
}

// NewSession builds an idle session. Backend and Progress are required.
func NewSession(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.NewCountdown()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	cfg := opts.Config.withDefaults()
	key := progress.Key(opts.QuizID, opts.LearnerID)
	log := opts.Logger.With(zap.String("quiz_id", opts.QuizID), zap.String("learner_id", opts.LearnerID))

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		quizID:      opts.QuizID,
		learnerID:   opts.LearnerID,
		key:         key,
		backend:     opts.Backend,
		store:       opts.Progress,
		clock:       opts.Clock,
		cfg:         cfg,
		log:         log,
		now:         opts.Now,
		saver:       progress.NewAutosaver(opts.Progress, key, cfg.AutosaveDelay, log),
		ctx:         ctx,
		cancel:      cancel,
		state:       StateIdle,
		flagged:     make(map[int]struct{}),
		timeSpent:   make(map[string]time.Duration),
		subscribers: make(map[chan Event]struct{}),
	}
}

// Start begins or resumes the attempt. Calling it while an attempt is active
// resumes the running session; calling it after completion starts a retake.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateActive, StateSubmitting:
		s.mu.Unlock()
		return nil
	case StateStarting:
		s.mu.Unlock()
		return domain.ErrStartInProgress
	case StateClosed:
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	s.state = StateStarting
	s.gen++
	gen := s.gen
	s.broadcastLocked(s.eventLocked(EventState))
	s.mu.Unlock()

	reqCtx, cancel := s.requestContext(ctx)
	defer cancel()

	quiz, att, resuming, err := s.begin(reqCtx)
	var (
		snap  progress.Snapshot
		found bool
	)
	if err == nil {
		snap, found = s.loadSnapshot(reqCtx, quiz, att, resuming)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.state != StateStarting {
		return domain.ErrSessionClosed
	}
	if err != nil {
		s.state = StateIdle
		s.lastErr = err
		ev := s.eventLocked(EventError)
		ev.Error = err.Error()
		s.broadcastLocked(ev)
		if !errors.Is(err, domain.ErrIneligible) {
			s.log.Warn("start attempt failed", zap.Error(err))
		}
		return err
	}
	s.activateLocked(quiz, att, snap, found)
	return nil
}

// begin runs the start protocol against the backend. resuming reports whether
// the returned attempt was already active in the learner's history.
func (s *Session) begin(ctx context.Context) (quiz domain.Quiz, att domain.Attempt, resuming bool, err error) {
	quiz, err = s.backend.FetchQuiz(ctx, s.quizID)
	if err != nil {
		return domain.Quiz{}, domain.Attempt{}, false, fmt.Errorf("fetch quiz: %w", err)
	}
	history, err := s.backend.History(ctx, s.quizID, s.learnerID)
	if err != nil {
		return domain.Quiz{}, domain.Attempt{}, false, fmt.Errorf("attempt history: %w", err)
	}
	if err := eligibility.CanStart(quiz, history).Err(); err != nil {
		return domain.Quiz{}, domain.Attempt{}, false, err
	}
	remote, err := s.backend.Eligibility(ctx, s.quizID, s.learnerID)
	if err != nil {
		return domain.Quiz{}, domain.Attempt{}, false, fmt.Errorf("eligibility: %w", err)
	}
	if !remote.CanTake {
		return domain.Quiz{}, domain.Attempt{}, false, &domain.IneligibleError{Reason: remote.Reason}
	}
	att, err = s.backend.StartAttempt(ctx, s.quizID, s.learnerID)
	if errors.Is(err, domain.ErrMaxAttemptsReached) {
		return domain.Quiz{}, domain.Attempt{}, false, &domain.IneligibleError{Reason: eligibility.ReasonNoAttemptsLeft}
	}
	if err != nil {
		return domain.Quiz{}, domain.Attempt{}, false, fmt.Errorf("start attempt: %w", err)
	}
	if att.Status != domain.AttemptActive {
		return domain.Quiz{}, domain.Attempt{}, false, fmt.Errorf("attempt %s is %s: %w", att.ID, att.Status, domain.ErrNotActive)
	}
	for _, h := range history {
		if h.ID == att.ID && h.Status == domain.AttemptActive {
			resuming = true
			break
		}
	}
	return quiz, att, resuming, nil
}

// loadSnapshot returns a snapshot only when it belongs to this quiz and attempt.
// Unreadable or mismatched snapshots are treated as absent and removed.
func (s *Session) loadSnapshot(ctx context.Context, quiz domain.Quiz, att domain.Attempt, resuming bool) (progress.Snapshot, bool) {
	snap, found, err := s.store.Load(ctx, s.key)
	if err != nil {
		s.log.Warn("ignoring unreadable progress snapshot", zap.Error(err))
		if errors.Is(err, progress.ErrCorruptSnapshot) {
			s.saver.Clear()
		}
		return progress.Snapshot{}, false
	}
	if !found {
		return progress.Snapshot{}, false
	}
	if !snap.Compatible(quiz.ID, att.ID, resuming) {
		s.log.Info("discarding stale progress snapshot",
			zap.String("snapshot_quiz", snap.QuizID),
			zap.String("snapshot_attempt", snap.AttemptID),
			zap.String("attempt_id", att.ID),
			zap.Bool("resuming", resuming))
		s.saver.Clear()
		return progress.Snapshot{}, false
	}
	snap.QuizID = quiz.ID
	snap.AttemptID = att.ID
	return snap, true
}

func (s *Session) activateLocked(quiz domain.Quiz, att domain.Attempt, snap progress.Snapshot, found bool) {
	s.quiz = quiz
	s.attempt = att
	s.questions = orderedQuestions(quiz, att.Order(quiz))
	s.answers = answers.NewStore(s.questions)
	s.current = 0
	s.flagged = make(map[int]struct{})
	s.timeSpent = make(map[string]time.Duration)
	s.summary = nil
	s.lastErr = nil
	s.ticks = 0

	if found {
		if dropped := s.answers.Seed(snap.Answers); len(dropped) > 0 {
			s.log.Info("dropped incompatible saved answers", zap.Strings("question_ids", dropped))
		}
		if snap.CurrentQuestionIndex >= 0 && snap.CurrentQuestionIndex < len(s.questions) {
			s.current = snap.CurrentQuestionIndex
		}
		for _, idx := range snap.FlaggedQuestions {
			if idx >= 0 && idx < len(s.questions) {
				s.flagged[idx] = struct{}{}
			}
		}
		for id, secs := range snap.TimeSpent {
			if secs > 0 {
				s.timeSpent[id] = time.Duration(secs) * time.Second
			}
		}
	}

	s.state = StateActive
	s.enteredAt = s.now()
	limit := quiz.TimeLimit()
	s.timed = limit > 0
	if s.timed {
		s.remaining = s.initialRemaining(limit, snap, found)
		s.armLocked(s.remaining)
	}
	s.log.Info("attempt active",
		zap.String("attempt_id", att.ID),
		zap.Int("attempt_number", att.AttemptNumber),
		zap.Bool("resumed", found),
		zap.Int("remaining", s.remaining))
	s.broadcastLocked(s.eventLocked(EventState))
	s.saveLocked()
}

// initialRemaining prefers the server start time; the snapshot value is the
// fallback for attempts without one.
func (s *Session) initialRemaining(limit int, snap progress.Snapshot, found bool) int {
	if !s.attempt.StartedAt.IsZero() {
		elapsed := int(s.now().Sub(s.attempt.StartedAt) / time.Second)
		if elapsed < 0 {
			elapsed = 0
		}
		return limit - elapsed
	}
	if found && snap.TimeRemaining != nil && *snap.TimeRemaining < limit {
		return *snap.TimeRemaining
	}
	return limit
}

func orderedQuestions(quiz domain.Quiz, order []string) []domain.Question {
	out := make([]domain.Question, 0, len(order))
	for _, id := range order {
		if q, ok := quiz.Question(id); ok {
			out = append(out, q)
		}
	}
	return out
}

// armLocked starts the countdown. With no time left it schedules the timeout
// submission instead, since callbacks must not run under s.mu.
func (s *Session) armLocked(seconds int) {
	s.armSeq++
	seq := s.armSeq
	if seconds <= 0 {
		s.remaining = 0
		go s.onExpire(seq)
		return
	}
	s.clock.Arm(seconds, func(r int) { s.onTick(seq, r) }, func() { s.onExpire(seq) })
}

func (s *Session) disarmLocked() {
	s.armSeq++
	if s.timed {
		s.remaining = s.remainingLocked()
	}
	s.clock.Cancel()
}

func (s *Session) remainingLocked() int {
	if s.clock.Armed() {
		return s.clock.Remaining()
	}
	return s.remaining
}

func (s *Session) onTick(seq uint64, remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.armSeq || s.state != StateActive {
		return
	}
	s.remaining = remaining
	s.ticks++
	s.broadcastLocked(s.eventLocked(EventTick))
	if s.cfg.SnapshotEveryTicks > 0 && s.ticks%s.cfg.SnapshotEveryTicks == 0 {
		s.saveLocked()
	}
}

func (s *Session) onExpire(seq uint64) {
	s.mu.Lock()
	stale := seq != s.armSeq || s.state != StateActive
	s.mu.Unlock()
	if stale {
		return
	}
	s.log.Info("time limit reached, submitting")
	if _, err := s.Submit(s.ctx, TriggerTimeout); err != nil && !errors.Is(err, domain.ErrSubmissionInProgress) {
		s.log.Warn("timeout submission failed", zap.Error(err))
	}
}

// SetAnswer stores an answer for a question of this attempt.
func (s *Session) SetAnswer(questionID string, v domain.AnswerValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return domain.ErrNotActive
	}
	if err := s.answers.Set(questionID, v); err != nil {
		return err
	}
	s.broadcastLocked(s.eventLocked(EventState))
	s.saveLocked()
	return nil
}

// ToggleFlag flips the review marker on a question and returns the new value.
func (s *Session) ToggleFlag(index int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return false, domain.ErrNotActive
	}
	if index < 0 || index >= len(s.questions) {
		return false, fmt.Errorf("flag %d: %w", index, domain.ErrOutOfRange)
	}
	_, on := s.flagged[index]
	if on {
		delete(s.flagged, index)
	} else {
		s.flagged[index] = struct{}{}
	}
	s.saveLocked()
	return !on, nil
}

// Navigate moves the current-question cursor.
func (s *Session) Navigate(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return domain.ErrNotActive
	}
	if index < 0 || index >= len(s.questions) {
		return fmt.Errorf("navigate %d: %w", index, domain.ErrOutOfRange)
	}
	s.accrueTimeLocked()
	s.current = index
	s.broadcastLocked(s.eventLocked(EventState))
	s.saveLocked()
	return nil
}

func (s *Session) accrueTimeLocked() {
	now := s.now()
	if s.current >= 0 && s.current < len(s.questions) {
		if d := now.Sub(s.enteredAt); d > 0 {
			s.timeSpent[s.questions[s.current].ID] += d
		}
	}
	s.enteredAt = now
}

func (s *Session) saveLocked() {
	if s.state != StateActive {
		return
	}
	s.saver.Save(s.snapshotLocked())
}

func (s *Session) snapshotLocked() progress.Snapshot {
	snap := progress.Snapshot{
		QuizID:               s.quizID,
		AttemptID:            s.attempt.ID,
		Answers:              s.answers.Snapshot(),
		CurrentQuestionIndex: s.current,
		FlaggedQuestions:     s.flaggedLocked(),
		TimeSpent:            make(map[string]int, len(s.timeSpent)),
		SavedAt:              s.now(),
	}
	for id, d := range s.timeSpent {
		snap.TimeSpent[id] = int(d / time.Second)
	}
	if s.timed {
		r := s.remainingLocked()
		snap.TimeRemaining = &r
	}
	return snap
}

func (s *Session) flaggedLocked() []int {
	out := make([]int, 0, len(s.flagged))
	for idx := range s.flagged {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// Close is called when the learner leaves the attempt view. It stops the
// clock, abandons in-flight requests and flushes the latest snapshot; the
// snapshot is kept so the attempt can be resumed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	if s.state == StateActive {
		s.accrueTimeLocked()
		s.disarmLocked()
		s.saveLocked()
	} else {
		s.armSeq++
		s.clock.Cancel()
	}
	s.state = StateClosed
	s.gen++
	s.broadcastLocked(s.eventLocked(EventState))
	s.closeSubscribersLocked()
	s.mu.Unlock()

	s.cancel()
	return s.saver.Close()
}

func (s *Session) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.RequestTimeout)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Remaining returns seconds left, or 0 for untimed attempts.
func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.timed {
		return 0
	}
	return s.remainingLocked()
}

// AnsweredCount is the number of questions with a non-empty answer.
func (s *Session) AnsweredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.answers == nil {
		return 0
	}
	return s.answers.AnsweredCount()
}

// Current returns the cursor position.
func (s *Session) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Flagged returns the flagged question indexes in ascending order.
func (s *Session) Flagged() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flaggedLocked()
}

// Attempt returns the current attempt record; after completion it carries the
// server-graded answers and score.
func (s *Session) Attempt() domain.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Quiz returns the definition captured at start.
func (s *Session) Quiz() domain.Quiz {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quiz
}

// Summary returns the authoritative result once completed.
func (s *Session) Summary() (domain.AttemptSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summary == nil {
		return domain.AttemptSummary{}, false
	}
	return *s.summary, true
}

// LastError returns the most recent start or submit failure.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Preview scores the current answers locally. It is advisory only: the
// summary returned by the backend on submission is authoritative.
func (s *Session) Preview() scoring.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.answers == nil {
		return scoring.Result{}
	}
	return scoring.Score(s.quiz, s.answers.Snapshot())
}

// View is a read-only projection for transports.
type View struct {
	State         State                         `json:"state"`
	QuizID        string                        `json:"quizId"`
	AttemptID     string                        `json:"attemptId,omitempty"`
	AttemptNumber int                           `json:"attemptNumber,omitempty"`
	Title         string                        `json:"title,omitempty"`
	Questions     []domain.Question             `json:"questions,omitempty"`
	Answers       map[string]domain.AnswerValue `json:"answers,omitempty"`
	Current       int                           `json:"current"`
	Flagged       []int                         `json:"flagged"`
	Answered      int                           `json:"answered"`
	Remaining     *int                          `json:"remaining,omitempty"`
	Summary       *domain.AttemptSummary        `json:"summary,omitempty"`
	Error         string                        `json:"error,omitempty"`
}

// View returns the learner-facing state; answer keys are never included.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		State:         s.state,
		QuizID:        s.quizID,
		AttemptID:     s.attempt.ID,
		AttemptNumber: s.attempt.AttemptNumber,
		Title:         s.quiz.Title,
		Current:       s.current,
		Flagged:       s.flaggedLocked(),
	}
	if len(s.questions) > 0 {
		v.Questions = domain.Quiz{Questions: s.questions}.LearnerView().Questions
	}
	if s.answers != nil {
		v.Answers = s.answers.Snapshot()
		v.Answered = len(v.Answers)
	}
	if s.timed {
		r := s.remainingLocked()
		v.Remaining = &r
	}
	if s.summary != nil {
		sum := *s.summary
		v.Summary = &sum
	}
	if s.lastErr != nil {
		v.Error = s.lastErr.Error()
	}
	return v
}

// FlushProgress writes any pending snapshot now.
func (s *Session) FlushProgress() error {
	return s.saver.Flush()
}
