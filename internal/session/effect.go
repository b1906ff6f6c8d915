package session

import "github.com/stemsi/exstem-runtime/internal/model"

// Effect is a side effect requested by a transition. Effects are returned in
// the order the owner must apply them.
type Effect interface {
	EffectName() string
}

// Transition is the outcome of one Handle call.
type Transition struct {
	From    Phase
	To      Phase
	Effects []Effect
}

// Changed reports whether the phase moved.
func (t Transition) Changed() bool {
	return t.From != t.To
}

type (
	StartClock       struct{}
	StopClock        struct{}
	ScheduleAutosave struct{}
	SuspendAutosave  struct{}
	ResumeAutosave   struct{}
)

// Checkpoint persists the attempt status outside the autosave cadence.
type Checkpoint struct {
	Status model.AttemptStatus
}

// Warn is raised once when the countdown crosses the warning threshold.
type Warn struct {
	Remaining int
}

// Finalize asks the owner to flush and call the scoring collaborator.
type Finalize struct {
	Reason model.SubmitReason
	Retry  bool
}

// ReportFailure surfaces a failed submission to the candidate.
type ReportFailure struct {
	Err error
}

// Archive releases the attempt after scoring acknowledged it.
type Archive struct {
	Result model.SubmissionResult
}

func (StartClock) EffectName() string       { return "start_clock" }
func (StopClock) EffectName() string        { return "stop_clock" }
func (ScheduleAutosave) EffectName() string { return "schedule_autosave" }
func (SuspendAutosave) EffectName() string  { return "suspend_autosave" }
func (ResumeAutosave) EffectName() string   { return "resume_autosave" }
func (Checkpoint) EffectName() string       { return "checkpoint" }
func (Warn) EffectName() string             { return "warn" }
func (Finalize) EffectName() string         { return "finalize" }
func (ReportFailure) EffectName() string    { return "report_failure" }
func (Archive) EffectName() string          { return "archive" }
