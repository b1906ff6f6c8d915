package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates the persisted lifecycle states of an attempt.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusPaused     AttemptStatus = "paused"
	// AttemptStatusSubmitting marks an attempt whose submission was requested
	// but not yet acknowledged by scoring.
	AttemptStatusSubmitting AttemptStatus = "submitting"
	AttemptStatusSubmitted  AttemptStatus = "submitted"
	AttemptStatusExpired    AttemptStatus = "expired"
)

// Terminal reports whether no further candidate activity is accepted.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusSubmitted || s == AttemptStatusExpired
}

// SessionAttempt is one candidate's run through one assessment.
type SessionAttempt struct {
	ID                   uuid.UUID     `json:"id"`
	CandidateID          string        `json:"candidate_id"`
	AssessmentID         uuid.UUID     `json:"assessment_id"`
	AttemptNumber        int           `json:"attempt_number"`
	TimeRemaining        int           `json:"time_remaining"`
	StartedAt            time.Time     `json:"started_at"`
	CompletedAt          *time.Time    `json:"completed_at,omitempty"`
	CurrentQuestionIndex int           `json:"current_question_index"`
	Status               AttemptStatus `json:"status"`
	SubmitReason         SubmitReason  `json:"submit_reason,omitempty"`
}

// Snapshot is the autosave payload sent to the persistence gateway.
type Snapshot struct {
	SessionID            uuid.UUID     `json:"session_id"`
	CurrentQuestionIndex int           `json:"current_question_index"`
	TimeRemaining        int           `json:"time_remaining"`
	Status               AttemptStatus `json:"status"`
}

// StartAttemptRequest is the payload for starting a new attempt.
type StartAttemptRequest struct {
	AssessmentID string `json:"assessment_id" binding:"required,uuid"`
}

// ResumeChoice selects between continuing a saved attempt and resetting it.
type ResumeChoice string

const (
	ResumeChoiceResume ResumeChoice = "resume"
	ResumeChoiceFresh  ResumeChoice = "fresh"
)

// ResumeAttemptRequest is the payload for the resume-or-start-fresh prompt.
type ResumeAttemptRequest struct {
	Choice ResumeChoice `json:"choice" binding:"required,oneof=resume fresh"`
}

// NavigateRequest moves the candidate to another question.
type NavigateRequest struct {
	Index *int `json:"index" binding:"required,min=0"`
}

// FlagRequest toggles the review flag on a question.
type FlagRequest struct {
	Index *int `json:"index" binding:"required,min=0"`
}

// ConnectivityRequest reports a connectivity transition observed by the client.
type ConnectivityRequest struct {
	Online *bool `json:"online" binding:"required"`
}

// QueuedSnapshot is a snapshot waiting in the write-behind queue. SavedAt
// orders it against resets of the same attempt.
type QueuedSnapshot struct {
	Snapshot
	SavedAt time.Time `json:"saved_at"`
}

// AttemptCompletion is queued after scoring so the attempt row and its
// caches can be finalized in bulk.
type AttemptCompletion struct {
	SessionID   uuid.UUID     `json:"session_id"`
	Status      AttemptStatus `json:"status"`
	CompletedAt time.Time     `json:"completed_at"`
}
