package attempt

import "quiz-attempt-service/internal/domain"

const (
	EventState     = "state"
	EventTick      = "tick"
	EventSubmitted = "submitted"
	EventError     = "error"
)

// Event is pushed to subscribers on every visible change.
type Event struct {
	Type      string                 `json:"type"`
	State     State                  `json:"state"`
	Remaining *int                   `json:"remaining,omitempty"`
	Answered  int                    `json:"answered"`
	Current   int                    `json:"current"`
	Summary   *domain.AttemptSummary `json:"summary,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Retryable bool                   `json:"retryable,omitempty"`
}

// Subscribe returns a channel of session events. The caller must invoke the
// returned cancel function to avoid leaks. The channel is closed when the
// session closes.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	ch <- s.eventLocked(EventState)
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

func (s *Session) eventLocked(typ string) Event {
	ev := Event{
		Type:    typ,
		State:   s.state,
		Current: s.current,
	}
	if s.answers != nil {
		ev.Answered = s.answers.AnsweredCount()
	}
	if s.timed {
		r := s.remainingLocked()
		ev.Remaining = &r
	}
	if s.summary != nil {
		sum := *s.summary
		ev.Summary = &sum
	}
	return ev
}

func (s *Session) broadcastLocked(ev Event) {
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// slow subscriber: drop the oldest event rather than block the session
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}

func (s *Session) closeSubscribersLocked() {
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}
