package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/metrics"
)

// API exposes the attempt service over REST.
type API struct {
	service *app.AttemptService
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewAPI(service *app.AttemptService, m *metrics.Metrics, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &API{service: service, metrics: m, log: log}
}

// Register mounts every REST route on mux.
func (a *API) Register(mux *http.ServeMux) {
	a.handle(mux, "GET /quizzes/{quizID}", "/quizzes/{quizID}", a.getQuiz)
	a.handle(mux, "GET /quizzes/{quizID}/eligibility", "/quizzes/{quizID}/eligibility", a.eligibility)
	a.handle(mux, "GET /quizzes/{quizID}/attempts", "/quizzes/{quizID}/attempts", a.history)
	a.handle(mux, "POST /quizzes/{quizID}/attempts", "/quizzes/{quizID}/attempts", a.startAttempt)
	a.handle(mux, "POST /attempts/{attemptID}/submit", "/attempts/{attemptID}/submit", a.submitAttempt)
	a.handle(mux, "GET /attempts/{attemptID}/results", "/attempts/{attemptID}/results", a.results)
	mux.Handle("GET /metrics", a.metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func (a *API) handle(mux *http.ServeMux, pattern, endpoint string, h http.HandlerFunc) {
	mux.Handle(pattern, a.metrics.Instrument(endpoint, h))
}

type startRequest struct {
	LearnerID string `json:"learnerId"`
}

type submitRequest struct {
	Answers []domain.Answer `json:"answers"`
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

func (a *API) getQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := a.service.GetQuiz(r.Context(), r.PathValue("quizID"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz.LearnerView())
}

func (a *API) eligibility(w http.ResponseWriter, r *http.Request) {
	learnerID := r.URL.Query().Get("learnerId")
	if learnerID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: codeBadRequest, Message: "missing learnerId"})
		return
	}
	e, err := a.service.Eligibility(r.Context(), r.PathValue("quizID"), learnerID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *API) history(w http.ResponseWriter, r *http.Request) {
	learnerID := r.URL.Query().Get("learnerId")
	if learnerID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: codeBadRequest, Message: "missing learnerId"})
		return
	}
	list, err := a.service.History(r.Context(), r.PathValue("quizID"), learnerID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) startAttempt(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LearnerID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: codeBadRequest, Message: "body must carry learnerId"})
		return
	}
	att, err := a.service.StartAttempt(r.Context(), r.PathValue("quizID"), req.LearnerID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, att)
}

func (a *API) submitAttempt(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: codeBadRequest, Message: "invalid submission body"})
		return
	}
	summary, err := a.service.SubmitAttempt(r.Context(), r.PathValue("attemptID"), req.Answers)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) results(w http.ResponseWriter, r *http.Request) {
	review, err := a.service.Results(r.Context(), r.PathValue("attemptID"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status, body := errorBody(err)
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error codes shared by the API and Client.
const (
	codeBadRequest        = "bad_request"
	codeQuizNotFound      = "quiz_not_found"
	codeAttemptNotFound   = "attempt_not_found"
	codeQuestionNotFound  = "question_not_found"
	codeInvalidAnswer     = "invalid_answer"
	codeIneligible        = "ineligible"
	codeMaxAttempts       = "max_attempts_reached"
	codeStartInProgress   = "start_in_progress"
	codeAttemptInProgress = "attempt_in_progress"
	codeSubmitInProgress  = "submission_in_progress"
	codeOpenElsewhere     = "open_elsewhere"
	codeInternal          = "internal"
)

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrQuizNotFound, http.StatusNotFound, codeQuizNotFound},
	{domain.ErrAttemptNotFound, http.StatusNotFound, codeAttemptNotFound},
	{domain.ErrQuestionNotFound, http.StatusBadRequest, codeQuestionNotFound},
	{domain.ErrInvalidAnswer, http.StatusBadRequest, codeInvalidAnswer},
	{domain.ErrMaxAttemptsReached, http.StatusConflict, codeMaxAttempts},
	{domain.ErrStartInProgress, http.StatusConflict, codeStartInProgress},
	{domain.ErrAttemptInProgress, http.StatusConflict, codeAttemptInProgress},
	{domain.ErrSubmissionInProgress, http.StatusConflict, codeSubmitInProgress},
	{domain.ErrOpenElsewhere, http.StatusConflict, codeOpenElsewhere},
}

func errorBody(err error) (int, errorResponse) {
	var ineligible *domain.IneligibleError
	if errors.As(err, &ineligible) {
		return http.StatusForbidden, errorResponse{Error: codeIneligible, Message: err.Error(), Reason: ineligible.Reason}
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.status, errorResponse{Error: c.code, Message: err.Error()}
		}
	}
	return http.StatusInternalServerError, errorResponse{Error: codeInternal, Message: "internal error"}
}

// errorFromBody turns an error reply back into the domain error it was built from.
func errorFromBody(status int, body errorResponse) error {
	if body.Error == codeIneligible {
		return &domain.IneligibleError{Reason: body.Reason}
	}
	for _, c := range errorCodes {
		if c.code == body.Error {
			return c.err
		}
	}
	return &StatusError{Status: status, Code: body.Error, Message: body.Message}
}
