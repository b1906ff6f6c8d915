package model

import "errors"

// Runtime and collaborator errors.
var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionPaused        = errors.New("session is paused")
	ErrSessionClosed        = errors.New("session is finalized")
	ErrInvalidNavigation    = errors.New("question index out of range")
	ErrInvalidAnswerTarget  = errors.New("unknown question or option")
	ErrPersistenceTransient = errors.New("persistence temporarily unavailable")
	ErrSubmissionFailed     = errors.New("submission failed")
	ErrNoPendingSubmission  = errors.New("no failed submission to retry")
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")
	ErrAssessmentNotFound   = errors.New("assessment not found")
	ErrNoQuestions          = errors.New("assessment has no questions")
	ErrSubmissionInProgress = errors.New("submission already in progress")
)
