package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-runtime/internal/model"
)

// DefaultWarningThreshold is the remaining time, in seconds, at which the
// low-time warning fires.
const DefaultWarningThreshold = 300

// Restore describes the persisted attempt a Machine is rebuilt from.
type Restore struct {
	Attempt         model.SessionAttempt
	Questions       []model.QuestionView
	Answers         []model.AnswerRecord
	DurationSeconds int
	// WarningThreshold defaults to DefaultWarningThreshold when zero.
	WarningThreshold int
}

// Machine is the state machine for one attempt. It is not safe for concurrent
// use; the owner serializes calls.
type Machine struct {
	attempt   model.SessionAttempt
	questions []model.QuestionView
	positions map[uuid.UUID]int

	phase     Phase
	remaining int
	duration  int
	threshold int
	warned    bool
	current   int

	answers   map[uuid.UUID]map[string]struct{}
	revisions map[uuid.UUID]uint64
	saved     map[uuid.UUID]uint64
	flags     map[int]struct{}

	pauseCount int
	pausedAt   time.Time
	pausedFor  time.Duration

	reason      model.SubmitReason
	inFlight    bool
	lastErr     error
	result      *model.SubmissionResult
	completedAt *time.Time
}

// New rebuilds a Machine from a persisted attempt. Terminal attempts cannot be
// resumed.
func New(r Restore) (*Machine, error) {
	if r.Attempt.Status.Terminal() {
		return nil, fmt.Errorf("restore %s: %w", r.Attempt.ID, model.ErrSessionClosed)
	}
	if len(r.Questions) == 0 {
		return nil, fmt.Errorf("restore %s: %w", r.Attempt.ID, model.ErrNoQuestions)
	}

	threshold := r.WarningThreshold
	if threshold <= 0 {
		threshold = DefaultWarningThreshold
	}

	remaining := r.Attempt.TimeRemaining
	if remaining < 0 {
		remaining = 0
	}
	duration := r.DurationSeconds
	if duration < remaining {
		duration = remaining
	}

	m := &Machine{
		attempt:   r.Attempt,
		questions: append([]model.QuestionView(nil), r.Questions...),
		positions: make(map[uuid.UUID]int, len(r.Questions)),
		phase:     PhaseFor(r.Attempt.Status),
		remaining: remaining,
		duration:  duration,
		threshold: threshold,
		// A restored attempt already below the threshold crossed it earlier.
		warned:    remaining <= threshold,
		current:   clampIndex(r.Attempt.CurrentQuestionIndex, len(r.Questions)),
		answers:   make(map[uuid.UUID]map[string]struct{}),
		revisions: make(map[uuid.UUID]uint64),
		saved:     make(map[uuid.UUID]uint64),
		flags:     make(map[int]struct{}),
	}
	for i, q := range m.questions {
		m.positions[q.ID] = i
	}
	if m.phase == PhaseSubmitting {
		m.reason = r.Attempt.SubmitReason
		if m.reason == "" {
			m.reason = model.SubmitReasonManual
			if remaining == 0 {
				m.reason = model.SubmitReasonTimeout
			}
		}
	}

	for _, rec := range r.Answers {
		pos, ok := m.positions[rec.QuestionID]
		if !ok {
			continue
		}
		q := m.questions[pos]
		sel := make(map[string]struct{}, len(rec.SelectedOptionIDs))
		for _, opt := range rec.SelectedOptionIDs {
			if !q.HasOption(opt) {
				continue
			}
			sel[opt] = struct{}{}
			if q.Cardinality != model.CardinalityMultiple {
				break
			}
		}
		m.answers[rec.QuestionID] = sel
	}

	return m, nil
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// Handle applies one event and returns the transition with its effects.
// Rejected events return an error and leave the machine untouched.
func (m *Machine) Handle(ev Event) (Transition, error) {
	from := m.phase
	var (
		effects []Effect
		err     error
	)

	switch e := ev.(type) {
	case Tick:
		effects = m.tick(e)
	case ConnectivityLost:
		effects = m.connectivityLost(e)
	case ConnectivityRestored:
		effects = m.connectivityRestored(e)
	case RecordAnswer:
		effects, err = m.recordAnswer(e)
	case Navigate:
		err = m.navigate(e)
	case ToggleFlag:
		err = m.toggleFlag(e)
	case ManualSubmit:
		effects, err = m.manualSubmit()
	case SubmissionAcknowledged:
		effects = m.acknowledge(e)
	case SubmissionFailed:
		effects = m.fail(e)
	case RetrySubmission:
		effects, err = m.retry()
	case SnapshotSaved:
		m.markSaved(e)
	case Restored:
		effects = m.restored()
	default:
		err = fmt.Errorf("unsupported event %T", ev)
	}

	return Transition{From: from, To: m.phase, Effects: effects}, err
}

func (m *Machine) tick(e Tick) []Effect {
	if m.phase != PhaseInProgress || e.Elapsed <= 0 {
		return nil
	}

	before := m.remaining
	m.remaining -= e.Elapsed
	if m.remaining < 0 {
		m.remaining = 0
	}

	var effects []Effect
	if !m.warned && before > m.threshold && m.remaining <= m.threshold {
		m.warned = true
		if m.remaining > 0 {
			effects = append(effects, Warn{Remaining: m.remaining})
		}
	}
	if m.remaining == 0 {
		effects = append(effects, m.finalize(model.SubmitReasonTimeout)...)
	}
	return effects
}

func (m *Machine) connectivityLost(e ConnectivityLost) []Effect {
	if m.phase != PhaseInProgress {
		return nil
	}
	m.phase = PhasePaused
	m.pausedAt = e.At
	m.pauseCount++
	return []Effect{StopClock{}, SuspendAutosave{}, Checkpoint{Status: model.AttemptStatusPaused}}
}

func (m *Machine) connectivityRestored(e ConnectivityRestored) []Effect {
	if m.phase != PhasePaused {
		return nil
	}
	if !m.pausedAt.IsZero() && e.At.After(m.pausedAt) {
		m.pausedFor += e.At.Sub(m.pausedAt)
	}
	m.pausedAt = time.Time{}
	m.phase = PhaseInProgress
	return []Effect{ResumeAutosave{}, Checkpoint{Status: model.AttemptStatusInProgress}, StartClock{}}
}

func (m *Machine) mutable() error {
	switch m.phase {
	case PhaseInProgress:
		return nil
	case PhasePaused:
		return model.ErrSessionPaused
	default:
		return model.ErrSessionClosed
	}
}

func (m *Machine) recordAnswer(e RecordAnswer) ([]Effect, error) {
	if err := m.mutable(); err != nil {
		return nil, err
	}
	pos, ok := m.positions[e.QuestionID]
	if !ok {
		return nil, model.ErrInvalidAnswerTarget
	}
	q := m.questions[pos]
	if !q.HasOption(e.OptionID) {
		return nil, model.ErrInvalidAnswerTarget
	}

	prev := m.answers[e.QuestionID]
	_, selected := prev[e.OptionID]
	next := make(map[string]struct{}, len(prev)+1)

	if q.Cardinality == model.CardinalityMultiple {
		for opt := range prev {
			next[opt] = struct{}{}
		}
		if selected && e.Toggle {
			delete(next, e.OptionID)
		} else {
			next[e.OptionID] = struct{}{}
		}
	} else if !(selected && e.Toggle) {
		next[e.OptionID] = struct{}{}
	}

	if _, exists := m.answers[e.QuestionID]; exists && sameSet(prev, next) {
		return nil, nil
	}
	m.answers[e.QuestionID] = next
	m.revisions[e.QuestionID]++
	return []Effect{ScheduleAutosave{}}, nil
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func (m *Machine) navigate(e Navigate) error {
	if err := m.mutable(); err != nil {
		return err
	}
	if e.Index < 0 || e.Index >= len(m.questions) {
		return model.ErrInvalidNavigation
	}
	m.current = e.Index
	return nil
}

func (m *Machine) toggleFlag(e ToggleFlag) error {
	if err := m.mutable(); err != nil {
		return err
	}
	if e.Index < 0 || e.Index >= len(m.questions) {
		return model.ErrInvalidNavigation
	}
	if _, ok := m.flags[e.Index]; ok {
		delete(m.flags, e.Index)
	} else {
		m.flags[e.Index] = struct{}{}
	}
	return nil
}

func (m *Machine) manualSubmit() ([]Effect, error) {
	switch m.phase {
	case PhaseInProgress:
		return m.finalize(model.SubmitReasonManual), nil
	case PhasePaused:
		return nil, model.ErrSessionPaused
	default:
		// First finalize wins; later requests are ignored.
		return nil, nil
	}
}

func (m *Machine) finalize(reason model.SubmitReason) []Effect {
	m.phase = PhaseSubmitting
	m.reason = reason
	m.inFlight = true
	m.lastErr = nil
	return []Effect{StopClock{}, SuspendAutosave{}, Finalize{Reason: reason}}
}

func (m *Machine) acknowledge(e SubmissionAcknowledged) []Effect {
	if m.phase != PhaseSubmitting {
		return nil
	}
	m.inFlight = false
	m.lastErr = nil
	result := e.Result
	m.result = &result

	at := e.At
	if at.IsZero() {
		at = result.SubmittedAt
	}
	m.completedAt = &at

	if m.reason == model.SubmitReasonTimeout {
		m.phase = PhaseExpired
	} else {
		m.phase = PhaseSubmitted
	}
	return []Effect{Archive{Result: result}}
}

func (m *Machine) fail(e SubmissionFailed) []Effect {
	if m.phase != PhaseSubmitting || !m.inFlight {
		return nil
	}
	m.inFlight = false
	m.lastErr = e.Err
	if m.lastErr == nil {
		m.lastErr = model.ErrSubmissionFailed
	}
	return []Effect{ReportFailure{Err: m.lastErr}}
}

func (m *Machine) retry() ([]Effect, error) {
	if m.phase != PhaseSubmitting {
		return nil, model.ErrNoPendingSubmission
	}
	if m.inFlight {
		return nil, nil
	}
	m.inFlight = true
	m.lastErr = nil
	return []Effect{Finalize{Reason: m.reason, Retry: true}}, nil
}

// restored settles what a reopened attempt owes: a submission left pending is
// issued again and a playable attempt with no time left expires.
func (m *Machine) restored() []Effect {
	switch m.phase {
	case PhaseSubmitting:
		if m.inFlight {
			return nil
		}
		m.inFlight = true
		m.lastErr = nil
		return []Effect{Finalize{Reason: m.reason, Retry: true}}
	case PhaseInProgress, PhasePaused:
		if m.remaining > 0 {
			return nil
		}
		m.pausedAt = time.Time{}
		return m.finalize(model.SubmitReasonTimeout)
	}
	return nil
}

func (m *Machine) markSaved(e SnapshotSaved) {
	for qid, rev := range e.Revisions {
		if rev > m.saved[qid] {
			m.saved[qid] = rev
		}
	}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	return m.phase
}

// TimeRemaining returns the remaining seconds.
func (m *Machine) TimeRemaining() int {
	return m.remaining
}

// Reason returns the finalize reason, empty before finalization.
func (m *Machine) Reason() model.SubmitReason {
	return m.reason
}

// Selected returns the sorted selection for a question.
func (m *Machine) Selected(questionID uuid.UUID) []string {
	return sortedKeys(m.answers[questionID])
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Attempt returns the attempt record reflecting the in-memory state.
func (m *Machine) Attempt() model.SessionAttempt {
	a := m.attempt
	a.TimeRemaining = m.remaining
	a.CurrentQuestionIndex = m.current
	a.Status = m.phase.AttemptStatus()
	if m.completedAt != nil {
		at := *m.completedAt
		a.CompletedAt = &at
	}
	return a
}

// PendingAnswer is an answer whose latest revision is not yet durable.
type PendingAnswer struct {
	QuestionID uuid.UUID
	Selected   []string
	Revision   uint64
}

// Snapshot is the autosave payload plus the answers it must upsert.
type Snapshot struct {
	State   model.Snapshot
	Answers []PendingAnswer
}

// Snapshot captures the state to flush. Only answers changed since their last
// durable revision are included.
func (m *Machine) Snapshot() Snapshot {
	snap := Snapshot{
		State: model.Snapshot{
			SessionID:            m.attempt.ID,
			CurrentQuestionIndex: m.current,
			TimeRemaining:        m.remaining,
			Status:               m.phase.AttemptStatus(),
		},
	}
	for _, q := range m.questions {
		rev := m.revisions[q.ID]
		if rev == 0 || rev <= m.saved[q.ID] {
			continue
		}
		snap.Answers = append(snap.Answers, PendingAnswer{
			QuestionID: q.ID,
			Selected:   sortedKeys(m.answers[q.ID]),
			Revision:   rev,
		})
	}
	return snap
}

// SubmissionRequest assembles the one-shot submission payload.
func (m *Machine) SubmissionRequest() model.SubmissionRequest {
	answers := make(map[uuid.UUID][]string, len(m.answers))
	for qid, sel := range m.answers {
		answers[qid] = sortedKeys(sel)
	}
	elapsed := m.duration - m.remaining
	if elapsed < 0 {
		elapsed = 0
	}
	return model.SubmissionRequest{
		SessionID:      m.attempt.ID,
		AssessmentID:   m.attempt.AssessmentID,
		CandidateID:    m.attempt.CandidateID,
		Answers:        answers,
		ElapsedSeconds: elapsed,
		Reason:         m.reason,
	}
}

// Status is the read model exposed to the candidate-facing layer.
type Status struct {
	SessionID            uuid.UUID               `json:"session_id"`
	AssessmentID         uuid.UUID               `json:"assessment_id"`
	Phase                Phase                   `json:"phase"`
	TimeRemaining        int                     `json:"time_remaining"`
	CurrentQuestionIndex int                     `json:"current_question_index"`
	QuestionCount        int                     `json:"question_count"`
	AnsweredCount        int                     `json:"answered_count"`
	FlaggedCount         int                     `json:"flagged_count"`
	Flagged              []int                   `json:"flagged"`
	Answers              map[uuid.UUID][]string  `json:"answers"`
	WarningRaised        bool                    `json:"warning_raised"`
	PauseCount           int                     `json:"pause_count"`
	PausedSeconds        int                     `json:"paused_seconds"`
	SubmissionPending    bool                    `json:"submission_pending"`
	SubmissionError      string                  `json:"submission_error,omitempty"`
	Result               *model.SubmissionResult `json:"result,omitempty"`
}

// Status returns the current read model.
func (m *Machine) Status() Status {
	answered := 0
	selections := make(map[uuid.UUID][]string, len(m.answers))
	for qid, sel := range m.answers {
		if len(sel) > 0 {
			answered++
			selections[qid] = sortedKeys(sel)
		}
	}
	flagged := make([]int, 0, len(m.flags))
	for i := range m.flags {
		flagged = append(flagged, i)
	}
	sort.Ints(flagged)

	st := Status{
		SessionID:            m.attempt.ID,
		AssessmentID:         m.attempt.AssessmentID,
		Phase:                m.phase,
		TimeRemaining:        m.remaining,
		CurrentQuestionIndex: m.current,
		QuestionCount:        len(m.questions),
		AnsweredCount:        answered,
		FlaggedCount:         len(flagged),
		Flagged:              flagged,
		Answers:              selections,
		WarningRaised:        m.warned,
		PauseCount:           m.pauseCount,
		PausedSeconds:        int(m.pausedFor / time.Second),
		SubmissionPending:    m.inFlight,
		Result:               m.result,
	}
	if m.lastErr != nil {
		st.SubmissionError = m.lastErr.Error()
	}
	return st
}
