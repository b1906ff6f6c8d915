package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-runtime/internal/model"
)

// Event is an input accepted by Machine.Handle.
type Event interface {
	EventName() string
}

// Tick charges elapsed whole seconds against the countdown.
type Tick struct {
	Elapsed int
}

// ConnectivityLost pauses a running attempt.
type ConnectivityLost struct {
	At time.Time
}

// ConnectivityRestored resumes a paused attempt.
type ConnectivityRestored struct {
	At time.Time
}

// RecordAnswer selects, replaces or toggles an option on a question.
type RecordAnswer struct {
	QuestionID uuid.UUID
	OptionID   string
	Toggle     bool
}

// Navigate moves to another question.
type Navigate struct {
	Index int
}

// ToggleFlag marks or unmarks a question for review.
type ToggleFlag struct {
	Index int
}

// ManualSubmit is the candidate asking to finish.
type ManualSubmit struct{}

// SubmissionAcknowledged carries the scoring collaborator's terminal answer.
type SubmissionAcknowledged struct {
	Result model.SubmissionResult
	At     time.Time
}

// SubmissionFailed reports that the submit call returned an error.
type SubmissionFailed struct {
	Err error
}

// RetrySubmission re-issues a failed submission under the same idempotency key.
type RetrySubmission struct{}

// SnapshotSaved marks answer revisions as durable.
type SnapshotSaved struct {
	Revisions map[uuid.UUID]uint64
}

// Restored is applied once after a machine is rebuilt and its owner is ready
// to run effects.
type Restored struct{}

func (Tick) EventName() string                   { return "tick" }
func (ConnectivityLost) EventName() string       { return "connectivity_lost" }
func (ConnectivityRestored) EventName() string   { return "connectivity_restored" }
func (RecordAnswer) EventName() string           { return "record_answer" }
func (Navigate) EventName() string               { return "navigate" }
func (ToggleFlag) EventName() string             { return "toggle_flag" }
func (ManualSubmit) EventName() string           { return "manual_submit" }
func (SubmissionAcknowledged) EventName() string { return "submission_acknowledged" }
func (SubmissionFailed) EventName() string       { return "submission_failed" }
func (RetrySubmission) EventName() string        { return "retry_submission" }
func (SnapshotSaved) EventName() string          { return "snapshot_saved" }
func (Restored) EventName() string               { return "restored" }
