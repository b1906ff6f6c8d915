package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/middleware"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/response"
	"github.com/stemsi/exstem-runtime/internal/runtime"
	"github.com/stemsi/exstem-runtime/internal/service"
	"github.com/stemsi/exstem-runtime/internal/session"
	"github.com/stemsi/exstem-runtime/internal/validator"
)

// AttemptHandler serves the candidate's attempt endpoints.
type AttemptHandler struct {
	manager    *runtime.Manager
	bank       *service.QuestionBank
	submitWait time.Duration
	log        zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(manager *runtime.Manager, bank *service.QuestionBank, submitWait time.Duration, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		manager:    manager,
		bank:       bank,
		submitWait: submitWait,
		log:        log.With().Str("component", "attempt_handler").Logger(),
	}
}

// StartAttempt godoc
// POST /api/v1/attempts
// Starts an attempt, or returns the candidate's unfinished one.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.StartAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	assessmentID := uuid.MustParse(req.AssessmentID)

	st, err := h.manager.Start(c.Request.Context(), assessmentID, claims.CandidateID())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"session": st})
}

// GetStatus godoc
// GET /api/v1/attempts/:session_id
func (h *AttemptHandler) GetStatus(c *gin.Context) {
	sessionID, candidateID, ok := h.target(c)
	if !ok {
		return
	}

	st, err := h.manager.Status(c.Request.Context(), sessionID, candidateID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": st})
}

// GetPaper godoc
// GET /api/v1/attempts/:session_id/paper
// Returns the question text and options. Correct answers are never sent.
func (h *AttemptHandler) GetPaper(c *gin.Context) {
	sessionID, candidateID, ok := h.target(c)
	if !ok {
		return
	}

	st, err := h.manager.Status(c.Request.Context(), sessionID, candidateID)
	if err != nil {
		h.fail(c, err)
		return
	}

	paper, err := h.bank.LoadPaper(c.Request.Context(), st.AssessmentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"questions": paper})
}

// ResumeAttempt godoc
// POST /api/v1/attempts/:session_id/resume
// Answers the resume prompt: continue the saved attempt or restart it fresh.
func (h *AttemptHandler) ResumeAttempt(c *gin.Context) {
	sessionID, candidateID, ok := h.target(c)
	if !ok {
		return
	}

	var req model.ResumeAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	st, err := h.manager.ResumeOrStartFresh(c.Request.Context(), sessionID, candidateID, req.Choice)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": st})
}

// RecordAnswer godoc
// PUT /api/v1/attempts/:session_id/answers
func (h *AttemptHandler) RecordAnswer(c *gin.Context) {
	sessionID, candidateID, ok := h.target(c)
	if !ok {
		return
	}

	var req model.AnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	st, err := h.manager.Answer(c.Request.Context(), sessionID, candidateID, uuid.MustParse(req.QuestionID), req.OptionID, req.Toggle)
	h.respond(c, st, err)
}

// Navigate godoc
// PUT /api/v1/attempts/:session_id/position
func (h *AttemptHandler) Navigate(c *gin.Context) {
	sessionID, candidateID, ok := h.target(c)
	if !ok {
		return
	}

	var req model.NavigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	st, err := h.manager.Navigate(c.Request.Context(), sessionID, candidateID, *req.Index)
	h.respond(c, st, err)
}

// ToggleFlag godoc
// POST /api/v1/attempts/:session_id/flags
func (h *AttemptHandler) ToggleFlag(c *gin.Context) {
	sessionID, candidateID, ok := h.target(c)
	if !ok {
		return
	}

	var req model.FlagRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	st, err := h.manager.Flag(c.Request.Context(), sessionID, candidateID, *req.Index)
	h.respond(c, st, err)
}

// ReportConnectivity godoc
// PUT /api/v1/attempts/:session_id/connectivity
// Lets clients without a live stream report going offline or coming back.
func (h *AttemptHandler) ReportConnectivity(c *gin.Context) {
	sessionID, candidateID, ok := h.target(c)
	if !ok {
		return
	}

	var req model.ConnectivityRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	st, err := h.manager.SetConnectivity(c.Request.Context(), sessionID, candidateID, *req.Online)
	h.respond(c, st, err)
}

// Submit godoc
// POST /api/v1/attempts/:session_id/submit
// Finalizes the attempt. Answers 202 when scoring is still running after
// the configured wait; the client then polls the status.
func (h *AttemptHandler) Submit(c *gin.Context) {
	h.submit(c, h.manager.ManualSubmit)
}

// RetrySubmit godoc
// POST /api/v1/attempts/:session_id/submit/retry
func (h *AttemptHandler) RetrySubmit(c *gin.Context) {
	h.submit(c, h.manager.RetrySubmission)
}

type submitFunc func(ctx context.Context, sessionID uuid.UUID, candidateID string) (session.Status, error)

func (h *AttemptHandler) submit(c *gin.Context, fn submitFunc) {
	sessionID, candidateID, ok := h.target(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.submitWait)
	defer cancel()

	st, err := fn(ctx, sessionID, candidateID)
	if err != nil {
		if errors.Is(err, model.ErrSubmissionFailed) {
			// The candidate sees the blocking failure together with the state to retry from.
			response.FailWithData(c, http.StatusBadGateway, response.ErrSubmissionFailed, gin.H{"session": st})
			return
		}
		h.fail(c, err)
		return
	}

	if st.SubmissionPending {
		response.Success(c, http.StatusAccepted, gin.H{"session": st})
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": st})
}

// AbandonAttempt godoc
// DELETE /api/v1/attempts/:session_id
// Persists the latest state and releases the live session. The attempt stays resumable.
func (h *AttemptHandler) AbandonAttempt(c *gin.Context) {
	sessionID, candidateID, ok := h.target(c)
	if !ok {
		return
	}

	if err := h.manager.Abandon(c.Request.Context(), sessionID, candidateID); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session_id": sessionID, "abandoned": true})
}

// ─── Helpers ────────────────────────────────────────────────────────

// target resolves the session id path param and the calling candidate.
func (h *AttemptHandler) target(c *gin.Context) (uuid.UUID, string, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return uuid.Nil, "", false
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, "", false
	}
	return sessionID, claims.CandidateID(), true
}

func (h *AttemptHandler) respond(c *gin.Context, st session.Status, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": st})
}

func (h *AttemptHandler) fail(c *gin.Context, err error) {
	status, code := response.FromError(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("request_id", c.GetString(response.ContextKeyRequestID)).
			Str("path", c.FullPath()).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}
