package response

import (
	"errors"
	"net/http"

	"github.com/stemsi/exstem-runtime/internal/model"
)

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired     ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid      ErrCode = "TOKEN_INVALID"
	ErrCandidateOnly     ErrCode = "CANDIDATE_ACCESS_ONLY"
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Session runtime ───────────────────────────────────────────────
	ErrSessionNotFound      ErrCode = "SESSION_NOT_FOUND"
	ErrSessionPaused        ErrCode = "SESSION_PAUSED"
	ErrSessionClosed        ErrCode = "SESSION_CLOSED"
	ErrInvalidNavigation    ErrCode = "INVALID_NAVIGATION"
	ErrInvalidAnswerTarget  ErrCode = "INVALID_ANSWER_TARGET"
	ErrSubmissionFailed     ErrCode = "SUBMISSION_FAILED"
	ErrSubmissionInProgress ErrCode = "SUBMISSION_IN_PROGRESS"
	ErrNoPendingSubmission  ErrCode = "NO_PENDING_SUBMISSION"

	// ─── Assessment ────────────────────────────────────────────────────
	ErrAssessmentNotFound   ErrCode = "ASSESSMENT_NOT_FOUND"
	ErrAttemptLimitExceeded ErrCode = "ATTEMPT_LIMIT_EXCEEDED"
	ErrNoQuestions          ErrCode = "NO_QUESTIONS"

	// ─── Server ────────────────────────────────────────────────────────
	ErrServiceUnavailable ErrCode = "SERVICE_UNAVAILABLE"
	ErrInternal           ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid or expired."
	case ErrCandidateOnly:
		return "This resource is restricted to candidates."
	case ErrRateLimitExceeded:
		return "Too many requests. Please slow down."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "The submitted data is invalid."
	case ErrInvalidID:
		return "The identifier is not valid."
	case ErrInvalidPayload:
		return "The request body could not be read."

	// ─── Session runtime ───────────────────────────────────────────────
	case ErrSessionNotFound:
		return "Assessment session not found."
	case ErrSessionPaused:
		return "Your session is paused until your connection is restored."
	case ErrSessionClosed:
		return "This attempt has already been submitted."
	case ErrInvalidNavigation:
		return "That question does not exist in this assessment."
	case ErrInvalidAnswerTarget:
		return "That question or option does not belong to this assessment."
	case ErrSubmissionFailed:
		return "Your test could not be submitted, please retry."
	case ErrSubmissionInProgress:
		return "Your test is being submitted."
	case ErrNoPendingSubmission:
		return "There is no failed submission to retry."

	// ─── Assessment ────────────────────────────────────────────────────
	case ErrAssessmentNotFound:
		return "Assessment not found."
	case ErrAttemptLimitExceeded:
		return "You have used all attempts for this assessment."
	case ErrNoQuestions:
		return "This assessment has no questions yet."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrServiceUnavailable:
		return "The service is temporarily unavailable."
	default:
		return "An internal server error occurred."
	}
}

// FromError maps a domain error onto an HTTP status and error code.
func FromError(err error) (int, ErrCode) {
	switch {
	case errors.Is(err, model.ErrSessionNotFound):
		return http.StatusNotFound, ErrSessionNotFound
	case errors.Is(err, model.ErrSessionPaused):
		return http.StatusConflict, ErrSessionPaused
	case errors.Is(err, model.ErrSessionClosed):
		return http.StatusConflict, ErrSessionClosed
	case errors.Is(err, model.ErrInvalidNavigation):
		return http.StatusUnprocessableEntity, ErrInvalidNavigation
	case errors.Is(err, model.ErrInvalidAnswerTarget):
		return http.StatusUnprocessableEntity, ErrInvalidAnswerTarget
	case errors.Is(err, model.ErrSubmissionFailed):
		return http.StatusBadGateway, ErrSubmissionFailed
	case errors.Is(err, model.ErrSubmissionInProgress):
		return http.StatusConflict, ErrSubmissionInProgress
	case errors.Is(err, model.ErrNoPendingSubmission):
		return http.StatusConflict, ErrNoPendingSubmission
	case errors.Is(err, model.ErrAssessmentNotFound):
		return http.StatusNotFound, ErrAssessmentNotFound
	case errors.Is(err, model.ErrAttemptLimitExceeded):
		return http.StatusForbidden, ErrAttemptLimitExceeded
	case errors.Is(err, model.ErrNoQuestions):
		return http.StatusUnprocessableEntity, ErrNoQuestions
	case errors.Is(err, model.ErrPersistenceTransient):
		return http.StatusServiceUnavailable, ErrServiceUnavailable
	default:
		return http.StatusInternalServerError, ErrInternal
	}
}
