// Package runtime hosts live assessment sessions. Each session serializes
// its events through a session.Machine and performs I/O outside its lock.
package runtime

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-runtime/internal/model"
)

// PersistenceGateway is the durable store for attempts and answers.
type PersistenceGateway interface {
	LoadSession(ctx context.Context, sessionID uuid.UUID) (*model.SessionAttempt, error)
	LoadAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.AnswerRecord, error)
	SaveSnapshot(ctx context.Context, snap model.Snapshot) error
	UpsertAnswer(ctx context.Context, rec model.AnswerRecord) error
	SaveStatus(ctx context.Context, sessionID uuid.UUID, status model.AttemptStatus, completedAt *time.Time) error
	// MarkSubmitting durably records a requested submission before scoring.
	MarkSubmitting(ctx context.Context, snap model.Snapshot, reason model.SubmitReason) error
	// PendingSubmissions lists attempts whose submission was never acknowledged.
	PendingSubmissions(ctx context.Context, limit int) ([]model.SessionAttempt, error)
	// CreateAttempt returns the candidate's unfinished attempt when one exists.
	CreateAttempt(ctx context.Context, assessmentID uuid.UUID, candidateID string) (*model.SessionAttempt, error)
	ResetAttempt(ctx context.Context, sessionID uuid.UUID) (*model.SessionAttempt, error)
}

// QuestionBank supplies the read-only assessment content.
type QuestionBank interface {
	LoadAssessment(ctx context.Context, assessmentID uuid.UUID) (*model.Assessment, error)
	LoadQuestions(ctx context.Context, assessmentID uuid.UUID) ([]model.QuestionView, error)
}

// Submitter scores a finished attempt. Submit must be idempotent per session id.
type Submitter interface {
	Submit(ctx context.Context, req model.SubmissionRequest) (*model.SubmissionResult, error)
}

// ResultReader is implemented by submitters that can return a stored result.
type ResultReader interface {
	Result(ctx context.Context, sessionID uuid.UUID) (*model.SubmissionResult, error)
}

// NotificationKind names a candidate-facing runtime event.
type NotificationKind string

const (
	NotifyPaused           NotificationKind = "paused"
	NotifyResumed          NotificationKind = "resumed"
	NotifyWarning          NotificationKind = "warning"
	NotifyFinalizing       NotificationKind = "finalizing"
	NotifySubmitted        NotificationKind = "submitted"
	NotifyExpired          NotificationKind = "expired"
	NotifySubmissionFailed NotificationKind = "submission_failed"
)

// Notification is pushed to the candidate's live stream.
type Notification struct {
	Kind          NotificationKind        `json:"kind"`
	SessionID     uuid.UUID               `json:"session_id"`
	CandidateID   string                  `json:"-"`
	TimeRemaining int                     `json:"time_remaining"`
	Reason        model.SubmitReason      `json:"reason,omitempty"`
	Result        *model.SubmissionResult `json:"result,omitempty"`
	Error         string                  `json:"error,omitempty"`
	At            time.Time               `json:"at"`
}

// Notifier delivers notifications. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) {}
