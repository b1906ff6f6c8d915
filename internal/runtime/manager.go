package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/clock"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/session"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Config holds per-session timing.
type Config struct {
	TickInterval     time.Duration
	AutosaveInterval time.Duration
	AutosaveDebounce time.Duration
	FlushTimeout     time.Duration
	WarningThreshold int
}

// Manager is the per-process registry of live sessions. Sessions are
// independent; the registry lock only guards the map.
type Manager struct {
	gateway   PersistenceGateway
	bank      QuestionBank
	submitter Submitter
	notifier  Notifier
	cfg       Config
	log       zerolog.Logger

	now    func() time.Time
	ticker func(time.Duration) clock.Ticker

	ctx    context.Context
	opens  singleflight.Group
	mu     sync.RWMutex
	live   map[uuid.UUID]*Session
	closed bool
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithClock replaces the wall clock and the ticker factory.
func WithClock(now func() time.Time, ticker func(time.Duration) clock.Ticker) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
		m.ticker = ticker
	}
}

// NewManager creates a Manager. A nil notifier drops notifications.
func NewManager(
	gateway PersistenceGateway,
	bank QuestionBank,
	submitter Submitter,
	notifier Notifier,
	cfg Config,
	log zerolog.Logger,
	opts ...ManagerOption,
) *Manager {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	m := &Manager{
		gateway:   gateway,
		bank:      bank,
		submitter: submitter,
		notifier:  notifier,
		cfg:       cfg,
		log:       log.With().Str("component", "session_manager").Logger(),
		now:       time.Now,
		ctx:       context.Background(),
		live:      make(map[uuid.UUID]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start creates an attempt (or returns the candidate's unfinished one) and
// opens it.
func (m *Manager) Start(ctx context.Context, assessmentID uuid.UUID, candidateID string) (session.Status, error) {
	attempt, err := m.gateway.CreateAttempt(ctx, assessmentID, candidateID)
	if err != nil {
		return session.Status{}, fmt.Errorf("create attempt: %w", err)
	}

	s, err := m.open(ctx, attempt)
	if err != nil {
		return session.Status{}, err
	}
	return s.Status(), nil
}

// ResumeOrStartFresh answers the resume prompt. Fresh resets the same attempt
// in place: answers cleared, full duration, first question.
func (m *Manager) ResumeOrStartFresh(ctx context.Context, sessionID uuid.UUID, candidateID string, choice model.ResumeChoice) (session.Status, error) {
	switch choice {
	case model.ResumeChoiceResume:
		s, err := m.acquire(ctx, sessionID, candidateID)
		if err != nil {
			return session.Status{}, err
		}
		return s.Status(), nil

	case model.ResumeChoiceFresh:
		attempt, err := m.owned(ctx, sessionID, candidateID)
		if err != nil {
			return session.Status{}, err
		}
		if attempt.Status.Terminal() {
			return session.Status{}, model.ErrSessionClosed
		}
		if attempt.Status == model.AttemptStatusSubmitting {
			return session.Status{}, model.ErrSubmissionInProgress
		}

		if s := m.lookup(sessionID); s != nil {
			if s.Status().Phase.Finalizing() {
				return session.Status{}, model.ErrSubmissionInProgress
			}
			m.release(s)
			s.Close(ctx, false)
		}

		reset, err := m.gateway.ResetAttempt(ctx, sessionID)
		if err != nil {
			return session.Status{}, fmt.Errorf("reset attempt: %w", err)
		}
		s, err := m.open(ctx, reset)
		if err != nil {
			return session.Status{}, err
		}
		m.log.Info().Str("session_id", sessionID.String()).Msg("Attempt restarted fresh")
		return s.Status(), nil
	}
	return session.Status{}, fmt.Errorf("unknown resume choice %q", choice)
}

// Answer records an answer.
func (m *Manager) Answer(ctx context.Context, sessionID uuid.UUID, candidateID string, questionID uuid.UUID, optionID string, toggle bool) (session.Status, error) {
	return m.handle(ctx, sessionID, candidateID, session.RecordAnswer{QuestionID: questionID, OptionID: optionID, Toggle: toggle})
}

// Navigate moves to another question.
func (m *Manager) Navigate(ctx context.Context, sessionID uuid.UUID, candidateID string, index int) (session.Status, error) {
	return m.handle(ctx, sessionID, candidateID, session.Navigate{Index: index})
}

// Flag toggles the review flag on a question.
func (m *Manager) Flag(ctx context.Context, sessionID uuid.UUID, candidateID string, index int) (session.Status, error) {
	return m.handle(ctx, sessionID, candidateID, session.ToggleFlag{Index: index})
}

// ManualSubmit finalizes the attempt and waits, bounded by ctx, for the
// scoring collaborator. A failed submission surfaces ErrSubmissionFailed.
func (m *Manager) ManualSubmit(ctx context.Context, sessionID uuid.UUID, candidateID string) (session.Status, error) {
	return m.submit(ctx, sessionID, candidateID, session.ManualSubmit{})
}

// RetrySubmission re-issues a failed submission under the same session id.
func (m *Manager) RetrySubmission(ctx context.Context, sessionID uuid.UUID, candidateID string) (session.Status, error) {
	return m.submit(ctx, sessionID, candidateID, session.RetrySubmission{})
}

func (m *Manager) submit(ctx context.Context, sessionID uuid.UUID, candidateID string, ev session.Event) (session.Status, error) {
	s, err := m.acquire(ctx, sessionID, candidateID)
	if errors.Is(err, model.ErrSessionClosed) {
		// Already archived: submitting again is a no-op.
		return m.Status(ctx, sessionID, candidateID)
	}
	if err != nil {
		return session.Status{}, err
	}

	if _, err := s.Handle(ev); err != nil {
		return session.Status{}, err
	}

	st, err := s.Await(ctx)
	if err != nil {
		// The submission keeps running; the caller polls status.
		return st, nil
	}
	if st.SubmissionError != "" {
		return st, fmt.Errorf("submit %s: %w", sessionID, model.ErrSubmissionFailed)
	}
	return st, nil
}

// SetConnectivity reports the candidate's connectivity.
func (m *Manager) SetConnectivity(ctx context.Context, sessionID uuid.UUID, candidateID string, online bool) (session.Status, error) {
	s, err := m.acquire(ctx, sessionID, candidateID)
	if err != nil {
		return session.Status{}, err
	}
	return s.SetConnectivity(online)
}

// Status returns the live read model, or one built from the persisted record
// when the session is not live.
func (m *Manager) Status(ctx context.Context, sessionID uuid.UUID, candidateID string) (session.Status, error) {
	if s := m.lookup(sessionID); s != nil {
		if s.CandidateID() != candidateID {
			return session.Status{}, model.ErrSessionNotFound
		}
		return s.Status(), nil
	}

	attempt, err := m.owned(ctx, sessionID, candidateID)
	if err != nil {
		return session.Status{}, err
	}
	answers, err := m.gateway.LoadAnswers(ctx, sessionID)
	if err != nil {
		return session.Status{}, fmt.Errorf("load answers: %w", err)
	}
	questions, err := m.bank.LoadQuestions(ctx, attempt.AssessmentID)
	if err != nil {
		return session.Status{}, fmt.Errorf("load questions: %w", err)
	}

	answered := 0
	selections := make(map[uuid.UUID][]string, len(answers))
	for _, a := range answers {
		if len(a.SelectedOptionIDs) > 0 {
			answered++
			selections[a.QuestionID] = a.SelectedOptionIDs
		}
	}
	st := session.Status{
		SessionID:            attempt.ID,
		AssessmentID:         attempt.AssessmentID,
		Phase:                session.PhaseFor(attempt.Status),
		TimeRemaining:        attempt.TimeRemaining,
		CurrentQuestionIndex: attempt.CurrentQuestionIndex,
		QuestionCount:        len(questions),
		AnsweredCount:        answered,
		Flagged:              []int{},
		Answers:              selections,
	}
	if rr, ok := m.submitter.(ResultReader); ok && attempt.Status.Terminal() {
		result, err := rr.Result(ctx, sessionID)
		if err != nil {
			m.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to load result")
		} else {
			st.Result = result
		}
	}
	return st, nil
}

// Abandon releases a live session after persisting its latest state. The
// attempt stays resumable. A session whose submission is in flight is kept
// until scoring answers.
func (m *Manager) Abandon(ctx context.Context, sessionID uuid.UUID, candidateID string) error {
	s := m.lookup(sessionID)
	if s == nil {
		_, err := m.owned(ctx, sessionID, candidateID)
		return err
	}
	if s.CandidateID() != candidateID {
		return model.ErrSessionNotFound
	}
	if s.Status().SubmissionPending {
		return model.ErrSubmissionInProgress
	}
	m.release(s)
	s.Close(ctx, true)
	return nil
}

// RecoverPending reopens attempts left in the submitting state by an earlier
// process so their submissions are issued again. It returns how many were
// reopened.
func (m *Manager) RecoverPending(ctx context.Context, limit int) (int, error) {
	attempts, err := m.gateway.PendingSubmissions(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending submissions: %w", err)
	}

	reopened := 0
	for i := range attempts {
		if _, err := m.open(ctx, &attempts[i]); err != nil {
			m.log.Warn().Err(err).Str("session_id", attempts[i].ID.String()).Msg("Failed to reopen pending submission")
			continue
		}
		reopened++
	}
	if reopened > 0 {
		m.log.Info().Int("sessions", reopened).Msg("Pending submissions resumed")
	}
	return reopened, nil
}

// Live returns the number of live sessions.
func (m *Manager) Live() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.live)
}

// Shutdown closes every live session, flushing each one.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.live))
	for _, s := range m.live {
		sessions = append(sessions, s)
	}
	m.live = make(map[uuid.UUID]*Session)
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for _, s := range sessions {
		g.Go(func() error {
			s.Close(gctx, true)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	m.log.Info().Int("sessions", len(sessions)).Msg("Session manager stopped")
	return ctx.Err()
}

func (m *Manager) handle(ctx context.Context, sessionID uuid.UUID, candidateID string, ev session.Event) (session.Status, error) {
	s, err := m.acquire(ctx, sessionID, candidateID)
	if err != nil {
		return session.Status{}, err
	}
	return s.Handle(ev)
}

func (m *Manager) lookup(sessionID uuid.UUID) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live[sessionID]
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	if m.live[s.ID()] == s {
		delete(m.live, s.ID())
	}
	m.mu.Unlock()
}

// owned loads the persisted attempt and hides attempts of other candidates.
func (m *Manager) owned(ctx context.Context, sessionID uuid.UUID, candidateID string) (*model.SessionAttempt, error) {
	attempt, err := m.gateway.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if attempt.CandidateID != candidateID {
		return nil, model.ErrSessionNotFound
	}
	return attempt, nil
}

// acquire returns the live session, opening it from the gateway on first use.
func (m *Manager) acquire(ctx context.Context, sessionID uuid.UUID, candidateID string) (*Session, error) {
	if s := m.lookup(sessionID); s != nil {
		if s.CandidateID() != candidateID {
			return nil, model.ErrSessionNotFound
		}
		return s, nil
	}

	attempt, err := m.owned(ctx, sessionID, candidateID)
	if err != nil {
		return nil, err
	}
	if attempt.Status.Terminal() {
		return nil, model.ErrSessionClosed
	}
	return m.open(ctx, attempt)
}

func (m *Manager) open(ctx context.Context, attempt *model.SessionAttempt) (*Session, error) {
	v, err, _ := m.opens.Do(attempt.ID.String(), func() (any, error) {
		if s := m.lookup(attempt.ID); s != nil {
			return s, nil
		}

		assessment, err := m.bank.LoadAssessment(ctx, attempt.AssessmentID)
		if err != nil {
			return nil, fmt.Errorf("load assessment: %w", err)
		}
		questions, err := m.bank.LoadQuestions(ctx, attempt.AssessmentID)
		if err != nil {
			return nil, fmt.Errorf("load questions: %w", err)
		}
		answers, err := m.gateway.LoadAnswers(ctx, attempt.ID)
		if err != nil {
			return nil, fmt.Errorf("load answers: %w", err)
		}

		machine, err := session.New(session.Restore{
			Attempt:          *attempt,
			Questions:        questions,
			Answers:          answers,
			DurationSeconds:  assessment.DurationSeconds,
			WarningThreshold: m.cfg.WarningThreshold,
		})
		if err != nil {
			return nil, err
		}

		s := newSession(m.ctx, machine, sessionDeps{
			gateway:   m.gateway,
			submitter: m.submitter,
			notifier:  m.notifier,
			cfg:       m.cfg,
			now:       m.now,
			log:       m.log,
			onArchive: m.release,
			ticker:    m.ticker,
		})

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, fmt.Errorf("open session: %w", context.Canceled)
		}
		m.live[s.ID()] = s
		m.mu.Unlock()

		s.start()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}
