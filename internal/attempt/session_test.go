package attempt_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"quiz-attempt-service/internal/attempt"
	"quiz-attempt-service/internal/clock"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/eligibility"
	"quiz-attempt-service/internal/infra/memory"
	"quiz-attempt-service/internal/progress"
	"quiz-attempt-service/internal/scoring"
)

type fakeBackend struct {
	mu       sync.Mutex
	quiz     domain.Quiz
	attempts []domain.Attempt
	now      func() time.Time

	starts     int
	submits    int
	submitErrs []error
	block      chan struct{}
	entered    chan struct{}
	// deaf makes a blocked submit ignore cancellation, like a server that
	// answers after the client gave up.
	deaf bool

	startBlock   chan struct{}
	startEntered chan struct{}
}

func newFakeBackend(quiz domain.Quiz, now func() time.Time) *fakeBackend {
	return &fakeBackend{quiz: quiz, now: now}
}

func (b *fakeBackend) FetchQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	if quizID != b.quiz.ID {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return b.quiz, nil
}

func (b *fakeBackend) History(_ context.Context, quizID, learnerID string) ([]domain.Attempt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Attempt
	for _, a := range b.attempts {
		if a.QuizID == quizID && a.LearnerID == learnerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (b *fakeBackend) Eligibility(ctx context.Context, quizID, learnerID string) (domain.Eligibility, error) {
	history, _ := b.History(ctx, quizID, learnerID)
	return eligibility.CanStart(b.quiz, history).Eligibility(), nil
}

func (b *fakeBackend) StartAttempt(_ context.Context, quizID, learnerID string) (domain.Attempt, error) {
	b.mu.Lock()
	block, entered := b.startBlock, b.startEntered
	b.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts++
	n := 0
	for _, a := range b.attempts {
		if a.QuizID != quizID || a.LearnerID != learnerID {
			continue
		}
		if a.Status == domain.AttemptActive {
			return a, nil
		}
		n++
	}
	if b.quiz.MaxAttempts > 0 && n >= b.quiz.MaxAttempts {
		return domain.Attempt{}, domain.ErrMaxAttemptsReached
	}
	a := domain.Attempt{
		ID:            fmt.Sprintf("attempt-%d", len(b.attempts)+1),
		LearnerID:     learnerID,
		QuizID:        quizID,
		AttemptNumber: n + 1,
		Status:        domain.AttemptActive,
		StartedAt:     b.now(),
	}
	b.attempts = append(b.attempts, a)
	return a, nil
}

func (b *fakeBackend) SubmitAttempt(ctx context.Context, attemptID string, list []domain.Answer) (domain.AttemptSummary, error) {
	b.mu.Lock()
	b.submits++
	block, entered, deaf := b.block, b.entered, b.deaf
	var err error
	if len(b.submitErrs) > 0 {
		err, b.submitErrs = b.submitErrs[0], b.submitErrs[1:]
	}
	b.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	switch {
	case block != nil && deaf:
		<-block
	case block != nil:
		select {
		case <-block:
		case <-ctx.Done():
			return domain.AttemptSummary{}, ctx.Err()
		}
	}
	if err != nil {
		return domain.AttemptSummary{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, a := range b.attempts {
		if a.ID != attemptID {
			continue
		}
		if a.Status == domain.AttemptCompleted {
			return a.Summary(), nil
		}
		values := make(map[string]domain.AnswerValue, len(list))
		for _, ans := range list {
			values[ans.QuestionID] = ans.Value
		}
		res := scoring.Score(b.quiz, values)
		completed := b.now()
		a.Status = domain.AttemptCompleted
		a.Answers = res.Apply(list)
		a.Score = res.TotalScore
		a.TotalPossible = res.TotalPossible
		a.Percentage = res.Percentage
		a.Passed = res.Passed
		a.CompletedAt = &completed
		b.attempts[i] = a
		return a.Summary(), nil
	}
	return domain.AttemptSummary{}, domain.ErrAttemptNotFound
}

// complete marks an attempt finished without going through a session.
func (b *fakeBackend) complete(attemptID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, a := range b.attempts {
		if a.ID == attemptID {
			done := b.now()
			a.Status = domain.AttemptCompleted
			a.CompletedAt = &done
			b.attempts[i] = a
		}
	}
}

func (b *fakeBackend) counts() (starts, submits int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts, b.submits
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func twoQuestionQuiz(timeLimitMinutes int) domain.Quiz {
	return domain.Quiz{
		ID:               "quiz-1",
		Title:            "Basics",
		Active:           true,
		PassingScore:     50,
		TimeLimitMinutes: timeLimitMinutes,
		Questions: []domain.Question{
			{ID: "q1", Type: domain.QuestionSingleSelect, Prompt: "Pick a", Options: []string{"a", "b"}, CorrectAnswers: []string{"a"}, Points: 1},
			{ID: "q2", Type: domain.QuestionTrueFalse, Prompt: "Sky is green", Options: []string{"true", "false"}, CorrectAnswers: []string{"false"}, Points: 1},
		},
	}
}

type fixture struct {
	backend *fakeBackend
	store   *memory.ProgressStore
	clock   *clock.Manual
	now     *testClock
}

func newFixture(quiz domain.Quiz) *fixture {
	now := &testClock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	return &fixture{
		backend: newFakeBackend(quiz, now.Now),
		store:   memory.NewProgressStore(),
		clock:   clock.NewManual(),
		now:     now,
	}
}

func (f *fixture) session(t *testing.T) *attempt.Session {
	t.Helper()
	s := attempt.NewSession(attempt.Options{
		QuizID:    "quiz-1",
		LearnerID: "learner-1",
		Backend:   f.backend,
		Progress:  f.store,
		Clock:     f.clock,
		Config: attempt.Config{
			RequestTimeout:       time.Second,
			RetryInitialInterval: time.Millisecond,
			RetryMaxInterval:     5 * time.Millisecond,
			RetryMaxElapsed:      time.Second,
		},
		Now: f.now.Now,
	})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func (f *fixture) stored(t *testing.T) (progress.Snapshot, bool) {
	t.Helper()
	snap, ok, err := f.store.Load(context.Background(), progress.Key("quiz-1", "learner-1"))
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	return snap, ok
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestManualSubmitUsesServerSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz(0))
	s := f.session(t)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.State() != attempt.StateActive {
		t.Fatalf("expected active, got %s", s.State())
	}
	if err := s.SetAnswer("q1", domain.SingleAnswer("a")); err != nil {
		t.Fatalf("answer q1: %v", err)
	}
	if err := s.SetAnswer("q2", domain.SingleAnswer("true")); err != nil {
		t.Fatalf("answer q2: %v", err)
	}
	if preview := s.Preview(); preview.TotalScore != 1 {
		t.Fatalf("preview should score 1, got %+v", preview)
	}

	summary, err := s.Submit(ctx, attempt.TriggerManual)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if summary.Score != 1 || summary.TotalPossible != 2 || summary.Percentage != 50 || !summary.Passed {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(summary.Answers) != 2 || !summary.Answers[0].Correct || summary.Answers[1].Correct {
		t.Fatalf("expected graded answers, got %+v", summary.Answers)
	}
	if s.State() != attempt.StateCompleted {
		t.Fatalf("expected completed, got %s", s.State())
	}
	if got := s.Attempt(); got.Status != domain.AttemptCompleted || got.Score != 1 {
		t.Fatalf("attempt not updated from summary: %+v", got)
	}
	if _, ok := f.stored(t); ok {
		t.Fatalf("snapshot should be cleared after submit")
	}

	again, err := s.Submit(ctx, attempt.TriggerManual)
	if err != nil || again.AttemptID != summary.AttemptID {
		t.Fatalf("second submit should return stored summary, got %+v %v", again, err)
	}
	if _, submits := f.backend.counts(); submits != 1 {
		t.Fatalf("expected one backend submit, got %d", submits)
	}
}

func TestTimeoutSubmitsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz(1))
	s := f.session(t)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := s.Remaining(); got != 60 {
		t.Fatalf("expected 60 seconds, got %d", got)
	}
	_ = s.SetAnswer("q1", domain.SingleAnswer("a"))

	f.clock.Advance(59)
	if s.State() != attempt.StateActive || s.Remaining() != 1 {
		t.Fatalf("expected active with 1s left, got %s/%d", s.State(), s.Remaining())
	}
	f.clock.Advance(1)
	if s.State() != attempt.StateCompleted {
		t.Fatalf("expected completed after expiry, got %s", s.State())
	}
	if fired := f.clock.Advance(10); fired != 0 {
		t.Fatalf("clock must stay disarmed after submit, fired %d", fired)
	}
	if _, submits := f.backend.counts(); submits != 1 {
		t.Fatalf("expected exactly one submit, got %d", submits)
	}
	summary, ok := s.Summary()
	if !ok || summary.Score != 1 || summary.Passed != true {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestConcurrentSubmitIsSingleFlight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz(1))
	f.backend.block = make(chan struct{})
	f.backend.entered = make(chan struct{}, 1)
	s := f.session(t)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, attempt.TriggerManual)
		done <- err
	}()
	<-f.backend.entered

	if _, err := s.Submit(ctx, attempt.TriggerManual); !errors.Is(err, domain.ErrSubmissionInProgress) {
		t.Fatalf("expected submission in progress, got %v", err)
	}
	if fired := f.clock.Advance(60); fired != 0 {
		t.Fatalf("countdown must be cancelled while submitting, fired %d", fired)
	}
	if err := s.SetAnswer("q1", domain.SingleAnswer("a")); !errors.Is(err, domain.ErrNotActive) {
		t.Fatalf("answers are frozen while submitting, got %v", err)
	}

	close(f.backend.block)
	if err := <-done; err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, submits := f.backend.counts(); submits != 1 {
		t.Fatalf("expected one backend call, got %d", submits)
	}
}

func TestIneligibleStartNeverCreatesAttempt(t *testing.T) {
	ctx := context.Background()
	quiz := twoQuestionQuiz(0)
	quiz.MaxAttempts = 1
	f := newFixture(quiz)
	f.backend.attempts = []domain.Attempt{{ID: "old", QuizID: "quiz-1", LearnerID: "learner-1", Status: domain.AttemptCompleted}}
	s := f.session(t)

	err := s.Start(ctx)
	var inel *domain.IneligibleError
	if !errors.As(err, &inel) || inel.Reason != eligibility.ReasonNoAttemptsLeft {
		t.Fatalf("expected no attempts remaining, got %v", err)
	}
	if starts, _ := f.backend.counts(); starts != 0 {
		t.Fatalf("start attempt must not be called, got %d", starts)
	}
	if s.State() != attempt.StateIdle {
		t.Fatalf("expected idle, got %s", s.State())
	}
}

func TestInactiveQuizIsIneligible(t *testing.T) {
	quiz := twoQuestionQuiz(0)
	quiz.Active = false
	f := newFixture(quiz)
	s := f.session(t)

	if err := s.Start(context.Background()); !errors.Is(err, domain.ErrIneligible) {
		t.Fatalf("expected ineligible, got %v", err)
	}
}

func TestStartTwiceResumes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz(0))
	s := f.session(t)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	first := s.Attempt().ID
	if err := s.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if s.Attempt().ID != first {
		t.Fatalf("second start should keep attempt %s, got %s", first, s.Attempt().ID)
	}
	if starts, _ := f.backend.counts(); starts != 1 {
		t.Fatalf("expected one backend start, got %d", starts)
	}
}

func TestResumeRestoresSnapshotAfterClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz(1))
	first := f.session(t)

	if err := first.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = first.SetAnswer("q2", domain.SingleAnswer("false"))
	if err := first.Navigate(1); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if on, err := first.ToggleFlag(0); err != nil || !on {
		t.Fatalf("flag: %v %v", on, err)
	}
	f.clock.Advance(10)
	f.now.Add(10 * time.Second)
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	snap, ok := f.stored(t)
	if !ok {
		t.Fatalf("close must keep the snapshot")
	}
	if snap.TimeRemaining == nil || *snap.TimeRemaining != 50 {
		t.Fatalf("expected 50s remaining in snapshot, got %v", snap.TimeRemaining)
	}

	f.now.Add(5 * time.Second)
	f.clock = clock.NewManual()
	second := f.session(t)
	if err := second.Start(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if second.Attempt().ID != "attempt-1" {
		t.Fatalf("expected to resume attempt-1, got %s", second.Attempt().ID)
	}
	if second.AnsweredCount() != 1 || second.Current() != 1 {
		t.Fatalf("answers or cursor not restored: answered=%d current=%d", second.AnsweredCount(), second.Current())
	}
	if flagged := second.Flagged(); len(flagged) != 1 || flagged[0] != 0 {
		t.Fatalf("flags not restored: %v", flagged)
	}
	// time keeps running against the server start time while the learner is away
	if got := second.Remaining(); got != 45 {
		t.Fatalf("expected 45s remaining, got %d", got)
	}
}

func TestStaleSnapshotIsDiscarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz(0))
	key := progress.Key("quiz-1", "learner-1")
	err := f.store.Save(ctx, key, progress.Snapshot{
		QuizID:    "quiz-1",
		AttemptID: "finished-attempt",
		Answers:   map[string]domain.AnswerValue{"q1": domain.SingleAnswer("b")},
	})
	if err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	s := f.session(t)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.AnsweredCount() != 0 {
		t.Fatalf("answers from another attempt must not be restored")
	}
	if err := s.FlushProgress(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	snap, ok := f.stored(t)
	if !ok || snap.AttemptID != s.Attempt().ID || len(snap.Answers) != 0 {
		t.Fatalf("expected fresh snapshot for the new attempt, got %+v", snap)
	}
}

func TestCorruptSnapshotIsTreatedAsAbsent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz(0))
	f.store.Put(progress.Key("quiz-1", "learner-1"), []byte("{not json"))
	s := f.session(t)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start with corrupt snapshot: %v", err)
	}
	if s.AnsweredCount() != 0 {
		t.Fatalf("expected empty answers")
	}
}

func TestSubmitFailureKeepsAttemptActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz(1))
	f.backend.submitErrs = []error{errors.New("connection reset")}
	s := f.session(t)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = s.SetAnswer("q1", domain.SingleAnswer("a"))
	f.clock.Advance(20)
	arms := f.clock.Arms()

	_, err := s.Submit(ctx, attempt.TriggerManual)
	var serr *domain.SubmitError
	if !errors.As(err, &serr) || !serr.Retryable {
		t.Fatalf("expected retryable submit error, got %v", err)
	}
	if s.State() != attempt.StateActive {
		t.Fatalf("expected active after failure, got %s", s.State())
	}
	if f.clock.Arms() != arms+1 || s.Remaining() != 40 {
		t.Fatalf("countdown should resume at 40s, arms=%d remaining=%d", f.clock.Arms(), s.Remaining())
	}
	if s.AnsweredCount() != 1 {
		t.Fatalf("answers must survive a failed submit")
	}
	if s.LastError() == nil {
		t.Fatalf("expected last error to be recorded")
	}

	if _, err := s.Submit(ctx, attempt.TriggerManual); err != nil {
		t.Fatalf("retry submit: %v", err)
	}
	if s.State() != attempt.StateCompleted {
		t.Fatalf("expected completed, got %s", s.State())
	}
}

func TestTimeoutSubmitRetriesInBackground(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz(1))
	f.backend.submitErrs = []error{errors.New("503"), errors.New("503")}
	s := f.session(t)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clock.Advance(60)

	waitFor(t, func() bool { return s.State() == attempt.StateCompleted })
	if _, submits := f.backend.counts(); submits != 3 {
		t.Fatalf("expected 3 submit calls, got %d", submits)
	}
}

func TestPermanentSubmitErrorIsNotRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz(1))
	f.backend.submitErrs = []error{domain.ErrAttemptNotFound}
	s := f.session(t)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clock.Advance(60)

	var serr *domain.SubmitError
	if err := s.LastError(); !errors.As(err, &serr) || serr.Retryable {
		t.Fatalf("expected permanent submit error, got %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, submits := f.backend.counts(); submits != 1 {
		t.Fatalf("permanent failures must not be retried, got %d calls", submits)
	}
}

func TestInputValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz(0))
	s := f.session(t)

	if err := s.SetAnswer("q1", domain.SingleAnswer("a")); !errors.Is(err, domain.ErrNotActive) {
		t.Fatalf("expected not active before start, got %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.SetAnswer("nope", domain.SingleAnswer("a")); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
	if err := s.SetAnswer("q1", domain.MultiAnswer("a")); !errors.Is(err, domain.ErrInvalidAnswer) {
		t.Fatalf("expected invalid answer shape, got %v", err)
	}
	if err := s.Navigate(2); !errors.Is(err, domain.ErrOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
	if _, err := s.ToggleFlag(-1); !errors.Is(err, domain.ErrOutOfRange) {
		t.Fatalf("expected out of range flag, got %v", err)
	}
	if s.Current() != 0 {
		t.Fatalf("failed navigation must not move the cursor")
	}
}

func TestRetakeAfterCompletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz(0))
	s := f.session(t)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.Submit(ctx, attempt.TriggerManual); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("retake: %v", err)
	}
	got := s.Attempt()
	if got.AttemptNumber != 2 || got.Status != domain.AttemptActive {
		t.Fatalf("expected fresh attempt #2, got %+v", got)
	}
	if _, ok := s.Summary(); ok {
		t.Fatalf("summary must reset on retake")
	}
}

func TestClosedSessionRejectsWork(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz(0))
	s := f.session(t)

	events, cancel := s.Subscribe()
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Start(ctx); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected closed, got %v", err)
	}
	if _, err := s.Submit(ctx, attempt.TriggerManual); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected closed on submit, got %v", err)
	}

	var last attempt.Event
	for ev := range events {
		last = ev
	}
	if last.State != attempt.StateClosed {
		t.Fatalf("expected final closed event, got %+v", last)
	}
}

func TestViewHidesAnswerKeys(t *testing.T) {
	f := newFixture(twoQuestionQuiz(0))
	s := f.session(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	v := s.View()
	if len(v.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(v.Questions))
	}
	for _, q := range v.Questions {
		if len(q.CorrectAnswers) != 0 {
			t.Fatalf("view leaked answer key for %s", q.ID)
		}
	}
}

func TestUntaggedSnapshotIsIgnoredForRetake(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz(0))
	s := f.session(t)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.Submit(ctx, attempt.TriggerManual); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// leftover from a client that did not tag snapshots with the attempt
	f.store.Put(progress.Key("quiz-1", "learner-1"),
		[]byte(`{"quizId":"quiz-1","answers":{"q1":"a"},"currentQuestionIndex":1,"timeRemaining":null,"flaggedQuestions":[0]}`))

	if err := s.Start(ctx); err != nil {
		t.Fatalf("retake: %v", err)
	}
	if s.Attempt().ID != "attempt-2" {
		t.Fatalf("expected new attempt-2, got %s", s.Attempt().ID)
	}
	if s.AnsweredCount() != 0 || s.Current() != 0 || len(s.Flagged()) != 0 {
		t.Fatalf("retake picked up old progress: answered=%d current=%d flagged=%v",
			s.AnsweredCount(), s.Current(), s.Flagged())
	}
}

func TestUntaggedSnapshotResumesActiveAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz(0))
	first := f.session(t)
	if err := first.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// bare progress record keyed by quiz and learner only
	f.store.Put(progress.Key("quiz-1", "learner-1"),
		[]byte(`{"answers":{"q2":"false"},"currentQuestionIndex":1,"timeRemaining":null,"flaggedQuestions":[1]}`))

	second := f.session(t)
	if err := second.Start(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if second.Attempt().ID != "attempt-1" {
		t.Fatalf("expected to resume attempt-1, got %s", second.Attempt().ID)
	}
	if second.AnsweredCount() != 1 || second.Current() != 1 {
		t.Fatalf("expected restored progress, answered=%d current=%d", second.AnsweredCount(), second.Current())
	}
	if flagged := second.Flagged(); len(flagged) != 1 || flagged[0] != 1 {
		t.Fatalf("expected question 1 flagged, got %v", flagged)
	}

	if err := second.FlushProgress(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	snap, ok := f.stored(t)
	if !ok || snap.QuizID != "quiz-1" || snap.AttemptID != "attempt-1" {
		t.Fatalf("rewritten snapshot should carry quiz and attempt ids, got %+v", snap)
	}
}

func TestUntaggedSnapshotIgnoredWhenActiveAttemptFinishedElsewhere(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz(0))
	first := f.session(t)
	if err := first.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = first.Close()
	f.backend.complete("attempt-1")
	f.store.Put(progress.Key("quiz-1", "learner-1"), []byte(`{"answers":{"q1":"a"},"currentQuestionIndex":1}`))

	second := f.session(t)
	if err := second.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if second.Attempt().ID != "attempt-2" || second.AnsweredCount() != 0 {
		t.Fatalf("completed attempt's progress leaked into %s (answered=%d)", second.Attempt().ID, second.AnsweredCount())
	}
}

func TestCloseAbandonsInFlightSubmit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz(1))
	s := f.session(t)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = s.SetAnswer("q1", domain.SingleAnswer("a"))

	release := make(chan struct{})
	f.backend.mu.Lock()
	f.backend.block = release
	f.backend.entered = make(chan struct{}, 1)
	f.backend.deaf = true
	entered := f.backend.entered
	f.backend.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, attempt.TriggerManual)
		done <- err
	}()
	<-entered
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// the server answers after the learner left
	close(release)

	if err := <-done; !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected abandoned submit, got %v", err)
	}
	if s.State() != attempt.StateClosed {
		t.Fatalf("late response changed state to %s", s.State())
	}
	if _, ok := s.Summary(); ok {
		t.Fatalf("late response must not record a summary")
	}
	snap, ok := f.stored(t)
	if !ok || snap.AttemptID != "attempt-1" || len(snap.Answers) != 1 {
		t.Fatalf("snapshot must survive close, got %+v %v", snap, ok)
	}
}

func TestCloseAbandonsInFlightStart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz(1))
	s := f.session(t)
	events, cancel := s.Subscribe()
	defer cancel()

	release := make(chan struct{})
	f.backend.startBlock = release
	f.backend.startEntered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	<-f.backend.startEntered
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	close(release)

	if err := <-done; !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected abandoned start, got %v", err)
	}
	if s.State() != attempt.StateClosed || s.Attempt().ID != "" {
		t.Fatalf("late start response applied: state=%s attempt=%q", s.State(), s.Attempt().ID)
	}
	if f.clock.Arms() != 0 {
		t.Fatalf("countdown must not be armed after close")
	}
	if _, ok := f.stored(t); ok {
		t.Fatalf("no snapshot should be written for an abandoned start")
	}
	for ev := range events {
		if ev.State == attempt.StateActive {
			t.Fatalf("abandoned start published an active event")
		}
	}
}

func TestFailedSubmitChargesTimeInFlight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(twoQuestionQuiz(1))
	f.backend.submitErrs = []error{errors.New("gateway timeout")}
	s := f.session(t)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clock.Advance(20)
	f.now.Add(20 * time.Second)

	release := make(chan struct{})
	f.backend.mu.Lock()
	f.backend.block = release
	f.backend.entered = make(chan struct{}, 1)
	entered := f.backend.entered
	f.backend.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, attempt.TriggerManual)
		done <- err
	}()
	<-entered
	f.now.Add(15 * time.Second)
	close(release)

	if err := <-done; err == nil {
		t.Fatalf("expected submit failure")
	}
	if s.State() != attempt.StateActive {
		t.Fatalf("expected active after failure, got %s", s.State())
	}
	if got := s.Remaining(); got != 25 {
		t.Fatalf("expected 25s left after a 15s request, got %d", got)
	}
}
