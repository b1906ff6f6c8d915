package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmitReason records why an attempt was finalized.
type SubmitReason string

const (
	SubmitReasonManual  SubmitReason = "manual"
	SubmitReasonTimeout SubmitReason = "timeout"
)

// SubmissionRequest is sent to the scoring collaborator exactly once per attempt.
// SessionID doubles as the idempotency key.
type SubmissionRequest struct {
	SessionID      uuid.UUID              `json:"session_id"`
	AssessmentID   uuid.UUID              `json:"assessment_id"`
	CandidateID    string                 `json:"candidate_id"`
	Answers        map[uuid.UUID][]string `json:"answers"`
	ElapsedSeconds int                    `json:"elapsed_seconds"`
	Reason         SubmitReason           `json:"reason"`
}

// SubmissionResult is the terminal outcome returned by the scoring collaborator.
type SubmissionResult struct {
	SessionID      uuid.UUID    `json:"session_id"`
	Score          float64      `json:"score"`
	IsPassed       bool         `json:"is_passed"`
	CertificateRef *string      `json:"certificate_ref,omitempty"`
	Reason         SubmitReason `json:"reason"`
	SubmittedAt    time.Time    `json:"submitted_at"`
}

// CertificateRequest is published for every passed attempt.
type CertificateRequest struct {
	CertificateRef string    `json:"certificate_ref"`
	SessionID      uuid.UUID `json:"session_id"`
	AssessmentID   uuid.UUID `json:"assessment_id"`
	CandidateID    string    `json:"candidate_id"`
	Score          float64   `json:"score"`
	IssuedAt       time.Time `json:"issued_at"`
}
