package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/attempt"
	"quiz-attempt-service/internal/domain"
)

// WSHandler drives a live attempt session over a websocket.
type WSHandler struct {
	sessions *app.SessionManager
	service  *app.AttemptService
	upgrader websocket.Upgrader
	limit    rate.Limit
	burst    int
	log      *zap.Logger
}

type WSOption func(*WSHandler)

// WithRateLimit bounds inbound messages per connection.
func WithRateLimit(perSecond float64, burst int) WSOption {
	return func(h *WSHandler) {
		h.limit = rate.Limit(perSecond)
		h.burst = burst
	}
}

func WithWSLogger(log *zap.Logger) WSOption {
	return func(h *WSHandler) { h.log = log }
}

func NewWSHandler(sessions *app.SessionManager, service *app.AttemptService, opts ...WSOption) *WSHandler {
	h := &WSHandler{
		sessions: sessions,
		service:  service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		limit: 10,
		burst: 20,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string             `json:"questionId"`
	Value      domain.AnswerValue `json:"value"`
}

type indexPayload struct {
	Index int `json:"index"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type tickPayload struct {
	Remaining int `json:"remaining"`
}

type errorPayload struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func errorMessage(msg string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}}
}

// ServeWS upgrades the request and attaches the connection to the learner's
// session for the quiz. The last connection to leave closes the session. A
// session live on another instance is refused with 409 before the upgrade.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	learnerID := r.URL.Query().Get("learnerId")
	if quizID == "" || learnerID == "" {
		http.Error(w, "missing quizId or learnerId", http.StatusBadRequest)
		return
	}

	log := h.log.With(zap.String("quiz_id", quizID), zap.String("learner_id", learnerID))
	session, err := h.sessions.Open(r.Context(), quizID, learnerID)
	if err != nil {
		status, body := errorBody(err)
		if status >= http.StatusInternalServerError {
			log.Error("opening attempt session", zap.Error(err))
		}
		writeJSON(w, status, body)
		return
	}
	defer h.sessions.Release(quizID, learnerID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancelCtx := context.WithCancel(r.Context())
	defer cancelCtx()

	events, unsubscribe := session.Subscribe()
	defer unsubscribe()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// single writer: gorilla connections do not allow concurrent writes
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}()

	emit := func(msg outboundMessage[any]) bool {
		select {
		case send <- msg:
			return true
		case <-writerDone:
			return false
		case <-closeSignals:
			return false
		}
	}

	go func() {
		defer close(updatesDone)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				for _, msg := range h.translate(ctx, session, ev) {
					if !emit(msg) {
						return
					}
				}
			case <-closeSignals:
				return
			}
		}
	}()

	limiter := rate.NewLimiter(h.limit, h.burst)
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if !limiter.Allow() {
			if !emit(errorMessage("rate limit exceeded")) {
				break
			}
			continue
		}
		if msg, ok := h.dispatch(ctx, session, inbound); ok {
			if !emit(msg) {
				break
			}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// dispatch applies one inbound command. Failures of remote calls reach the
// client through the session's error event; only local rejections are
// answered here.
func (h *WSHandler) dispatch(ctx context.Context, session *attempt.Session, in inboundMessage) (outboundMessage[any], bool) {
	switch in.Type {
	case "start":
		if err := session.Start(ctx); err != nil && localRejection(err) {
			return errorMessage(err.Error()), true
		}
	case "answer":
		var p answerPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return errorMessage("invalid answer payload"), true
		}
		if err := session.SetAnswer(p.QuestionID, p.Value); err != nil {
			return errorMessage(err.Error()), true
		}
	case "flag":
		var p indexPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return errorMessage("invalid flag payload"), true
		}
		if _, err := session.ToggleFlag(p.Index); err != nil {
			return errorMessage(err.Error()), true
		}
		return outboundMessage[any]{Type: "state", Payload: session.View()}, true
	case "navigate":
		var p indexPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return errorMessage("invalid navigate payload"), true
		}
		if err := session.Navigate(p.Index); err != nil {
			return errorMessage(err.Error()), true
		}
	case "submit":
		if _, err := session.Submit(ctx, attempt.TriggerManual); err != nil && localRejection(err) {
			return errorMessage(err.Error()), true
		}
	default:
		return errorMessage("unsupported message type"), true
	}
	return outboundMessage[any]{}, false
}

func localRejection(err error) bool {
	return errors.Is(err, domain.ErrStartInProgress) ||
		errors.Is(err, domain.ErrSubmissionInProgress) ||
		errors.Is(err, domain.ErrNotActive) ||
		errors.Is(err, domain.ErrSessionClosed)
}

func (h *WSHandler) translate(ctx context.Context, session *attempt.Session, ev attempt.Event) []outboundMessage[any] {
	switch ev.Type {
	case attempt.EventTick:
		if ev.Remaining == nil {
			return nil
		}
		return []outboundMessage[any]{{Type: "tick", Payload: tickPayload{Remaining: *ev.Remaining}}}
	case attempt.EventError:
		return []outboundMessage[any]{{Type: "error", Payload: errorPayload{Message: ev.Error, Retryable: ev.Retryable}}}
	case attempt.EventSubmitted:
		if ev.Summary == nil {
			return nil
		}
		out := []outboundMessage[any]{{Type: "submitted", Payload: *ev.Summary}}
		review, err := h.service.Results(ctx, ev.Summary.AttemptID)
		if err != nil {
			h.log.Warn("loading results after submit", zap.String("attempt_id", ev.Summary.AttemptID), zap.Error(err))
			return append(out, errorMessage("results unavailable"))
		}
		return append(out, outboundMessage[any]{Type: "results", Payload: review})
	default:
		return []outboundMessage[any]{{Type: "state", Payload: session.View()}}
	}
}
