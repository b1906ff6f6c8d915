package session

import "github.com/stemsi/exstem-runtime/internal/model"

// Phase is the runtime lifecycle of an attempt.
type Phase string

const (
	PhaseInProgress Phase = "in_progress"
	PhasePaused     Phase = "paused"
	// PhaseSubmitting is entered when finalization starts and left once the
	// scoring collaborator acknowledges the submission.
	PhaseSubmitting Phase = "submitting"
	PhaseSubmitted  Phase = "submitted"
	PhaseExpired    Phase = "expired"
)

// Terminal reports whether the attempt has been acknowledged by scoring.
func (p Phase) Terminal() bool {
	return p == PhaseSubmitted || p == PhaseExpired
}

// Finalizing reports whether finalization has started.
func (p Phase) Finalizing() bool {
	return p == PhaseSubmitting || p.Terminal()
}

// AttemptStatus maps the phase onto the persisted status column.
func (p Phase) AttemptStatus() model.AttemptStatus {
	switch p {
	case PhasePaused:
		return model.AttemptStatusPaused
	case PhaseSubmitting:
		return model.AttemptStatusSubmitting
	case PhaseSubmitted:
		return model.AttemptStatusSubmitted
	case PhaseExpired:
		return model.AttemptStatusExpired
	default:
		return model.AttemptStatusInProgress
	}
}

// PhaseFor maps a persisted status onto the runtime phase.
func PhaseFor(status model.AttemptStatus) Phase {
	switch status {
	case model.AttemptStatusPaused:
		return PhasePaused
	case model.AttemptStatusSubmitting:
		return PhaseSubmitting
	case model.AttemptStatusSubmitted:
		return PhaseSubmitted
	case model.AttemptStatusExpired:
		return PhaseExpired
	default:
		return PhaseInProgress
	}
}
