package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/autosave"
	"github.com/stemsi/exstem-runtime/internal/clock"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/network"
	"github.com/stemsi/exstem-runtime/internal/session"
)

// Session is the single owner of one live attempt.
type Session struct {
	id          uuid.UUID
	candidateID string

	gateway   PersistenceGateway
	submitter Submitter
	notifier  Notifier
	now       func() time.Time
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	countdown *clock.Countdown
	saver     *autosave.Scheduler
	monitor   *network.Monitor
	onArchive func(*Session)

	mu      sync.Mutex
	machine *session.Machine
	epoch   uint64
	closed  bool
	// settled is non-nil while a submission is in flight and is closed
	// when the collaborator answers.
	settled chan struct{}
}

type sessionDeps struct {
	gateway   PersistenceGateway
	submitter Submitter
	notifier  Notifier
	cfg       Config
	now       func() time.Time
	log       zerolog.Logger
	onArchive func(*Session)
	ticker    func(time.Duration) clock.Ticker
}

func newSession(parent context.Context, m *session.Machine, d sessionDeps) *Session {
	attempt := m.Attempt()
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))

	s := &Session{
		id:          attempt.ID,
		candidateID: attempt.CandidateID,
		gateway:     d.gateway,
		submitter:   d.submitter,
		notifier:    d.notifier,
		now:         d.now,
		log:         d.log.With().Str("session_id", attempt.ID.String()).Logger(),
		ctx:         ctx,
		cancel:      cancel,
		onArchive:   d.onArchive,
		machine:     m,
	}

	opts := []clock.Option{clock.WithInterval(d.cfg.TickInterval), clock.WithLogger(s.log)}
	if d.ticker != nil {
		opts = append(opts, clock.WithTicker(d.ticker))
	}
	s.countdown = clock.New(s.onTick, opts...)
	s.saver = autosave.New(s.flush, autosave.Config{
		Interval:     d.cfg.AutosaveInterval,
		Debounce:     d.cfg.AutosaveDebounce,
		FlushTimeout: d.cfg.FlushTimeout,
	}, s.log)
	s.monitor = network.NewMonitor(m.Phase() != session.PhasePaused, d.now)
	return s
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.id }

// CandidateID returns the owning candidate.
func (s *Session) CandidateID() string { return s.candidateID }

// start arms the clock and autosave for the restored phase, then lets the
// machine settle what the restored attempt owes.
func (s *Session) start() {
	s.mu.Lock()
	switch s.machine.Phase() {
	case session.PhaseInProgress:
		if s.machine.TimeRemaining() > 0 {
			s.epoch = s.countdown.Start()
		}
	case session.PhasePaused, session.PhaseSubmitting:
		s.saver.Suspend()
	}
	s.saver.Start(s.ctx)
	s.log.Info().
		Str("phase", string(s.machine.Phase())).
		Int("time_remaining", s.machine.TimeRemaining()).
		Msg("Session opened")
	s.mu.Unlock()

	if _, err := s.apply(session.Restored{}, nil); err != nil {
		s.log.Warn().Err(err).Msg("Restore settlement failed")
	}
}

// Handle serializes one candidate event through the state machine.
func (s *Session) Handle(ev session.Event) (session.Status, error) {
	return s.apply(ev, nil)
}

// SetConnectivity feeds a connectivity observation through the monitor. Only
// edges reach the state machine.
func (s *Session) SetConnectivity(online bool) (session.Status, error) {
	s.mu.Lock()
	change, ok := s.monitor.Signal(online)
	s.mu.Unlock()
	if !ok {
		return s.Status(), nil
	}

	if change.Online {
		return s.apply(session.ConnectivityRestored{At: change.At}, nil)
	}
	return s.apply(session.ConnectivityLost{At: change.At}, nil)
}

func (s *Session) onTick(epoch uint64, elapsed int) {
	_, _ = s.apply(session.Tick{Elapsed: elapsed}, func() bool {
		return epoch == s.epoch && s.countdown.Running()
	})
}

// apply runs ev under the session lock, performs clock and autosave effects
// in place and returns the I/O effects to run after unlocking.
func (s *Session) apply(ev session.Event, accept func() bool) (session.Status, error) {
	s.mu.Lock()
	// An archived session still answers duplicate submits as no-ops.
	if s.closed && !s.machine.Phase().Terminal() {
		s.mu.Unlock()
		return session.Status{}, model.ErrSessionNotFound
	}
	if accept != nil && !accept() {
		st := s.machine.Status()
		s.mu.Unlock()
		return st, nil
	}

	tr, err := s.machine.Handle(ev)
	if err != nil {
		s.mu.Unlock()
		return session.Status{}, err
	}
	if tr.Changed() {
		s.log.Info().Str("from", string(tr.From)).Str("to", string(tr.To)).Str("event", ev.EventName()).Msg("Session transition")
	}

	var deferred []func()
	for _, eff := range tr.Effects {
		if fn := s.effectLocked(eff); fn != nil {
			deferred = append(deferred, fn)
		}
	}
	st := s.machine.Status()
	s.mu.Unlock()

	for _, fn := range deferred {
		fn()
	}
	return st, nil
}

func (s *Session) effectLocked(eff session.Effect) func() {
	remaining := s.machine.TimeRemaining()

	switch e := eff.(type) {
	case session.StartClock:
		s.epoch = s.countdown.Start()
	case session.StopClock:
		s.countdown.Stop()
	case session.ScheduleAutosave:
		s.saver.MarkDirty()
	case session.SuspendAutosave:
		s.saver.Suspend()
	case session.ResumeAutosave:
		s.saver.Resume()

	case session.Checkpoint:
		state := s.machine.Snapshot().State
		kind := NotifyResumed
		if e.Status == model.AttemptStatusPaused {
			kind = NotifyPaused
		}
		return func() {
			if err := s.gateway.SaveSnapshot(s.ctx, state); err != nil {
				s.log.Warn().Err(err).Str("status", string(e.Status)).Msg("Checkpoint failed")
			}
			s.notify(Notification{Kind: kind, TimeRemaining: state.TimeRemaining})
		}

	case session.Warn:
		return func() {
			s.notify(Notification{Kind: NotifyWarning, TimeRemaining: e.Remaining})
		}

	case session.Finalize:
		s.settled = make(chan struct{})
		s.wg.Add(1)
		go s.finalize(e)
		if e.Retry {
			return nil
		}
		return func() {
			s.notify(Notification{Kind: NotifyFinalizing, TimeRemaining: remaining, Reason: e.Reason})
		}

	case session.ReportFailure:
		s.settle()
		return func() {
			s.notify(Notification{Kind: NotifySubmissionFailed, TimeRemaining: remaining, Error: e.Err.Error()})
		}

	case session.Archive:
		s.settle()
		attempt := s.machine.Attempt()
		return func() { s.archive(attempt, e.Result) }
	}
	return nil
}

func (s *Session) settle() {
	if s.settled != nil {
		close(s.settled)
		s.settled = nil
	}
}

func (s *Session) notify(n Notification) {
	n.SessionID = s.id
	n.CandidateID = s.candidateID
	if n.At.IsZero() {
		n.At = s.now()
	}
	s.notifier.Notify(s.ctx, n)
}

// flush is the autosave function: snapshot under the lock, send without it.
func (s *Session) flush(ctx context.Context) error {
	s.mu.Lock()
	if s.machine.Phase().Terminal() {
		s.mu.Unlock()
		return nil
	}
	snap := s.machine.Snapshot()
	s.mu.Unlock()

	if err := s.gateway.SaveSnapshot(ctx, snap.State); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	var firstErr error
	saved := make(map[uuid.UUID]uint64, len(snap.Answers))
	for _, a := range snap.Answers {
		err := s.gateway.UpsertAnswer(ctx, model.AnswerRecord{
			SessionID:         s.id,
			QuestionID:        a.QuestionID,
			SelectedOptionIDs: a.Selected,
			UpdatedAt:         s.now(),
		})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("upsert answer %s: %w", a.QuestionID, err)
			}
			continue
		}
		saved[a.QuestionID] = a.Revision
	}

	if len(saved) > 0 {
		s.mu.Lock()
		_, _ = s.machine.Handle(session.SnapshotSaved{Revisions: saved})
		s.mu.Unlock()
	}
	return firstErr
}

// finalize is the barrier between play and scoring: autosave is stopped and
// awaited, the pending submission is recorded, a final flush is issued, then
// the collaborator is called once.
func (s *Session) finalize(f session.Finalize) {
	defer s.wg.Done()

	s.saver.Stop()

	s.mu.Lock()
	state := s.machine.Snapshot().State
	s.mu.Unlock()
	if err := s.gateway.MarkSubmitting(s.ctx, state, f.Reason); err != nil {
		// A closed row was already scored elsewhere; Submit returns that result.
		s.log.Warn().Err(err).Msg("Failed to record pending submission")
	}

	if err := s.saver.FlushNow(s.ctx); err != nil {
		s.log.Warn().Err(err).Msg("Final flush failed, submitting in-memory answers")
	}

	s.mu.Lock()
	req := s.machine.SubmissionRequest()
	s.mu.Unlock()

	s.log.Info().
		Str("reason", string(f.Reason)).
		Bool("retry", f.Retry).
		Int("answers", len(req.Answers)).
		Int("elapsed_seconds", req.ElapsedSeconds).
		Msg("Submitting attempt")

	result, err := s.submitter.Submit(s.ctx, req)
	if err != nil {
		s.log.Error().Err(err).Msg("Submission failed")
		_, _ = s.apply(session.SubmissionFailed{Err: fmt.Errorf("%w: %w", model.ErrSubmissionFailed, err)}, nil)
		return
	}
	_, _ = s.apply(session.SubmissionAcknowledged{Result: *result, At: s.now()}, nil)
}

func (s *Session) archive(attempt model.SessionAttempt, result model.SubmissionResult) {
	if err := s.gateway.SaveStatus(s.ctx, s.id, attempt.Status, attempt.CompletedAt); err != nil {
		s.log.Error().Err(err).Msg("Failed to persist terminal status")
	}

	kind := NotifySubmitted
	if attempt.Status == model.AttemptStatusExpired {
		kind = NotifyExpired
	}
	s.notify(Notification{Kind: kind, Reason: result.Reason, Result: &result})

	s.log.Info().
		Str("status", string(attempt.Status)).
		Float64("score", result.Score).
		Bool("is_passed", result.IsPassed).
		Msg("Session archived")

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.countdown.Close()
	if s.onArchive != nil {
		s.onArchive(s)
	}
	s.cancel()
}

// Status returns the current read model.
func (s *Session) Status() session.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Status()
}

// Await blocks until an in-flight submission is answered or ctx ends.
func (s *Session) Await(ctx context.Context) (session.Status, error) {
	s.mu.Lock()
	ch := s.settled
	s.mu.Unlock()

	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return s.Status(), ctx.Err()
		}
	}
	return s.Status(), nil
}

// Close releases the session. When flush is set and the attempt is still
// playable, the latest state is persisted first. An in-flight submission is
// given until ctx ends to settle; one that does not stays recorded as
// submitting and is issued again on the next open. No goroutine started by
// the session outlives Close.
func (s *Session) Close(ctx context.Context, flush bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	finalizing := s.machine.Phase().Finalizing()
	if !finalizing {
		s.closed = true
		s.countdown.Stop()
	}
	s.mu.Unlock()

	if finalizing {
		if _, err := s.Await(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Submission still pending on close")
		} else {
			s.wg.Wait()
		}
		s.mu.Lock()
		s.closed = true
		s.settle()
		s.mu.Unlock()
	}

	s.countdown.Close()
	s.saver.Stop()

	if flush && !finalizing {
		if err := s.flushWith(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Flush on close failed")
		}
	}

	s.cancel()
	s.wg.Wait()
	s.log.Info().Msg("Session closed")
}

func (s *Session) flushWith(ctx context.Context) error {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), autosave.DefaultFlushTimeout)
	defer cancel()
	return s.flush(fctx)
}
