package runtime

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/session"
)

const candidate = "cand-42"

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStartAndManualSubmit(t *testing.T) {
	f := newFixture(t, 1800, 30, Config{})
	ctx := testContext(t)

	st, err := f.manager.Start(ctx, f.bank.assessment.ID, candidate)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st.Phase != session.PhaseInProgress || st.TimeRemaining != 1800 || st.QuestionCount != 30 {
		t.Fatalf("unexpected initial status: %+v", st)
	}

	for _, q := range f.bank.questions {
		if _, err := f.manager.Answer(ctx, st.SessionID, candidate, q.ID, "A", false); err != nil {
			t.Fatalf("Answer: %v", err)
		}
	}

	st, err = f.manager.ManualSubmit(ctx, st.SessionID, candidate)
	if err != nil {
		t.Fatalf("ManualSubmit: %v", err)
	}
	if st.Phase != session.PhaseSubmitted || st.Result == nil {
		t.Fatalf("expected submitted with result, got %+v", st)
	}

	// Duplicate submits are no-ops.
	for i := 0; i < 3; i++ {
		if _, err := f.manager.ManualSubmit(ctx, st.SessionID, candidate); err != nil {
			t.Fatalf("duplicate ManualSubmit: %v", err)
		}
	}

	calls := f.submitter.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one submit, got %d", len(calls))
	}
	if calls[0].Reason != model.SubmitReasonManual || len(calls[0].Answers) != 30 {
		t.Fatalf("unexpected submission: reason %q, %d answers", calls[0].Reason, len(calls[0].Answers))
	}

	waitFor(t, "session release", func() bool { return f.manager.Live() == 0 })
	attempt, answers := f.gateway.persisted(st.SessionID)
	if attempt.Status != model.AttemptStatusSubmitted || attempt.CompletedAt == nil {
		t.Fatalf("terminal status not persisted: %+v", attempt)
	}
	if len(answers) != 30 {
		t.Fatalf("final flush persisted %d answers, want 30", len(answers))
	}
	if f.notifier.Count(NotifySubmitted) != 1 || f.notifier.Count(NotifyFinalizing) != 1 {
		t.Fatalf("expected one finalizing and one submitted notification")
	}

	st, err = f.manager.Status(ctx, st.SessionID, candidate)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Phase != session.PhaseSubmitted || st.Result == nil || st.AnsweredCount != 30 {
		t.Fatalf("unexpected archived status: %+v", st)
	}
}

func TestTimeoutSubmitsOnce(t *testing.T) {
	f := newFixture(t, 3, 2, Config{})
	ctx := testContext(t)

	st, err := f.manager.Start(ctx, f.bank.assessment.ID, candidate)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.clock.Advance(3 * time.Second)
	waitFor(t, "timeout submission", func() bool { return len(f.submitter.Calls()) == 1 })
	waitFor(t, "session release", func() bool { return f.manager.Live() == 0 })

	// A stray manual submit after the timeout does not call scoring again.
	if _, err := f.manager.ManualSubmit(ctx, st.SessionID, candidate); err != nil {
		t.Fatalf("ManualSubmit after timeout: %v", err)
	}
	calls := f.submitter.Calls()
	if len(calls) != 1 || calls[0].Reason != model.SubmitReasonTimeout || calls[0].ElapsedSeconds != 3 {
		t.Fatalf("unexpected submissions: %+v", calls)
	}

	attempt, _ := f.gateway.persisted(st.SessionID)
	if attempt.Status != model.AttemptStatusExpired || attempt.TimeRemaining != 0 {
		t.Fatalf("expected expired with 0 remaining, got %+v", attempt)
	}
	if f.notifier.Count(NotifyExpired) != 1 {
		t.Fatalf("expected an expired notification")
	}
}

func TestPauseStopsTheClock(t *testing.T) {
	f := newFixture(t, 600, 3, Config{})
	ctx := testContext(t)

	st, err := f.manager.Start(ctx, f.bank.assessment.ID, candidate)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	id := st.SessionID
	remaining := func() int {
		st, _ := f.manager.Status(ctx, id, candidate)
		return st.TimeRemaining
	}

	f.clock.Advance(2 * time.Second)
	waitFor(t, "first ticks", func() bool { return remaining() == 598 })

	st, err = f.manager.SetConnectivity(ctx, id, candidate, false)
	if err != nil || st.Phase != session.PhasePaused {
		t.Fatalf("expected paused, got %+v (%v)", st, err)
	}
	if _, err := f.manager.Answer(ctx, id, candidate, f.bank.questions[0].ID, "A", false); !errors.Is(err, model.ErrSessionPaused) {
		t.Fatalf("expected ErrSessionPaused, got %v", err)
	}
	if _, err := f.manager.ManualSubmit(ctx, id, candidate); !errors.Is(err, model.ErrSessionPaused) {
		t.Fatalf("expected ErrSessionPaused on submit, got %v", err)
	}

	// Offline for 50 seconds.
	f.clock.Advance(50 * time.Second)
	if _, err := f.manager.SetConnectivity(ctx, id, candidate, false); err != nil {
		t.Fatalf("repeated offline: %v", err)
	}
	st, err = f.manager.SetConnectivity(ctx, id, candidate, true)
	if err != nil || st.Phase != session.PhaseInProgress {
		t.Fatalf("expected in_progress, got %+v (%v)", st, err)
	}
	if st.TimeRemaining != 598 || st.PauseCount != 1 || st.PausedSeconds != 50 {
		t.Fatalf("pause charged time: %+v", st)
	}

	f.clock.Advance(time.Second)
	waitFor(t, "tick after resume", func() bool { return remaining() == 597 })

	attempt, _ := f.gateway.persisted(id)
	if attempt.Status != model.AttemptStatusInProgress {
		t.Fatalf("resume checkpoint not persisted: %+v", attempt)
	}
	if f.notifier.Count(NotifyPaused) != 1 || f.notifier.Count(NotifyResumed) != 1 {
		t.Fatalf("expected one paused and one resumed notification")
	}
}

func TestAutosaveRecoversAfterFailures(t *testing.T) {
	f := newFixture(t, 600, 4, Config{AutosaveInterval: 15 * time.Millisecond})
	f.gateway.snapshotFails = 3
	ctx := testContext(t)

	st, err := f.manager.Start(ctx, f.bank.assessment.ID, candidate)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	id := st.SessionID
	q := f.bank.questions

	if _, err := f.manager.Answer(ctx, id, candidate, q[0].ID, "B", false); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if _, err := f.manager.Answer(ctx, id, candidate, q[1].ID, "A", false); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if _, err := f.manager.Answer(ctx, id, candidate, q[1].ID, "D", false); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if _, err := f.manager.Navigate(ctx, id, candidate, 2); err != nil {
		t.Fatalf("Navigate: %v", err)
	}

	waitFor(t, "successful flush", func() bool {
		f.gateway.mu.Lock()
		defer f.gateway.mu.Unlock()
		return f.gateway.snapshotFails == 0 && f.gateway.snapshots > 0
	})

	st, err = f.manager.Status(ctx, id, candidate)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.AnsweredCount != 2 {
		t.Fatalf("in-memory answers lost: %+v", st)
	}

	waitFor(t, "answers persisted", func() bool {
		_, answers := f.gateway.persisted(id)
		return len(answers) == 2
	})
	attempt, answers := f.gateway.persisted(id)
	if attempt.CurrentQuestionIndex != st.CurrentQuestionIndex || attempt.TimeRemaining != st.TimeRemaining {
		t.Fatalf("persisted snapshot %+v does not match status %+v", attempt, st)
	}
	if !reflect.DeepEqual(sortedCopy(answers[q[0].ID]), []string{"B"}) {
		t.Fatalf("unexpected persisted answer for q0: %v", answers[q[0].ID])
	}
	if !reflect.DeepEqual(sortedCopy(answers[q[1].ID]), []string{"A", "D"}) {
		t.Fatalf("unexpected persisted answer for q1: %v", answers[q[1].ID])
	}
}

func TestSubmissionFailureThenRetry(t *testing.T) {
	f := newFixture(t, 600, 2, Config{})
	f.submitter.failures = 1
	ctx := testContext(t)

	st, err := f.manager.Start(ctx, f.bank.assessment.ID, candidate)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	id := st.SessionID

	if _, err := f.manager.RetrySubmission(ctx, id, candidate); !errors.Is(err, model.ErrNoPendingSubmission) {
		t.Fatalf("expected ErrNoPendingSubmission, got %v", err)
	}

	st, err = f.manager.ManualSubmit(ctx, id, candidate)
	if !errors.Is(err, model.ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
	if st.Phase != session.PhaseSubmitting || st.SubmissionError == "" {
		t.Fatalf("expected pending submission with error, got %+v", st)
	}
	if _, err := f.manager.Answer(ctx, id, candidate, f.bank.questions[0].ID, "A", false); !errors.Is(err, model.ErrSessionClosed) {
		t.Fatalf("answers must be rejected after finalize, got %v", err)
	}

	st, err = f.manager.RetrySubmission(ctx, id, candidate)
	if err != nil {
		t.Fatalf("RetrySubmission: %v", err)
	}
	if st.Phase != session.PhaseSubmitted {
		t.Fatalf("expected submitted, got %s", st.Phase)
	}

	calls := f.submitter.Calls()
	if len(calls) != 2 || calls[0].SessionID != calls[1].SessionID {
		t.Fatalf("expected two calls with the same session id, got %+v", calls)
	}
	if f.notifier.Count(NotifySubmissionFailed) != 1 {
		t.Fatalf("expected one submission_failed notification")
	}
}

func TestConcurrentSubmitsFinalizeOnce(t *testing.T) {
	f := newFixture(t, 600, 2, Config{})
	f.submitter.release = make(chan struct{})
	ctx := testContext(t)

	st, err := f.manager.Start(ctx, f.bank.assessment.ID, candidate)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.manager.ManualSubmit(ctx, st.SessionID, candidate)
		}()
	}
	// A timeout racing the manual submits.
	f.clock.Advance(600 * time.Second)

	time.Sleep(20 * time.Millisecond)
	close(f.submitter.release)
	wg.Wait()

	waitFor(t, "archive", func() bool { return f.manager.Live() == 0 })
	if n := len(f.submitter.Calls()); n != 1 {
		t.Fatalf("expected exactly one submit, got %d", n)
	}
}

func TestAbandonReleasesAndResumes(t *testing.T) {
	f := newFixture(t, 600, 3, Config{})
	ctx := testContext(t)

	st, err := f.manager.Start(ctx, f.bank.assessment.ID, candidate)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	id := st.SessionID
	q := f.bank.questions

	if _, err := f.manager.Answer(ctx, id, candidate, q[2].ID, "C", false); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	f.clock.Advance(5 * time.Second)
	waitFor(t, "tick", func() bool {
		st, _ := f.manager.Status(ctx, id, candidate)
		return st.TimeRemaining == 595
	})

	if err := f.manager.Abandon(ctx, id, candidate); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if f.manager.Live() != 0 {
		t.Fatalf("session still live after abandon")
	}
	attempt, answers := f.gateway.persisted(id)
	if attempt.TimeRemaining != 595 || len(answers) != 1 {
		t.Fatalf("abandon did not flush: %+v %v", attempt, answers)
	}

	// Time away from the attempt is not charged.
	f.clock.Advance(time.Minute)

	st, err = f.manager.ResumeOrStartFresh(ctx, id, candidate, model.ResumeChoiceResume)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if st.TimeRemaining != 595 || st.AnsweredCount != 1 || f.manager.Live() != 1 {
		t.Fatalf("unexpected resumed status: %+v", st)
	}
}

func TestStartFreshResetsAttempt(t *testing.T) {
	f := newFixture(t, 600, 3, Config{})
	ctx := testContext(t)

	st, err := f.manager.Start(ctx, f.bank.assessment.ID, candidate)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	id := st.SessionID

	if _, err := f.manager.Answer(ctx, id, candidate, f.bank.questions[0].ID, "A", false); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if _, err := f.manager.Navigate(ctx, id, candidate, 2); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	f.clock.Advance(10 * time.Second)
	waitFor(t, "tick", func() bool {
		st, _ := f.manager.Status(ctx, id, candidate)
		return st.TimeRemaining == 590
	})

	st, err = f.manager.ResumeOrStartFresh(ctx, id, candidate, model.ResumeChoiceFresh)
	if err != nil {
		t.Fatalf("fresh: %v", err)
	}
	if st.SessionID != id || st.TimeRemaining != 600 || st.AnsweredCount != 0 || st.CurrentQuestionIndex != 0 {
		t.Fatalf("fresh start did not reset: %+v", st)
	}

	// Starting again returns the same unfinished attempt.
	again, err := f.manager.Start(ctx, f.bank.assessment.ID, candidate)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if again.SessionID != id {
		t.Fatalf("expected the unfinished attempt %s, got %s", id, again.SessionID)
	}
}

func TestOtherCandidatesCannotSeeSession(t *testing.T) {
	f := newFixture(t, 600, 2, Config{})
	ctx := testContext(t)

	st, err := f.manager.Start(ctx, f.bank.assessment.ID, candidate)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	tests := []struct {
		name string
		call func() error
	}{
		{"status", func() error { _, err := f.manager.Status(ctx, st.SessionID, "intruder"); return err }},
		{"answer", func() error {
			_, err := f.manager.Answer(ctx, st.SessionID, "intruder", f.bank.questions[0].ID, "A", false)
			return err
		}},
		{"submit", func() error { _, err := f.manager.ManualSubmit(ctx, st.SessionID, "intruder"); return err }},
		{"abandon", func() error { return f.manager.Abandon(ctx, st.SessionID, "intruder") }},
		{"unknown", func() error { _, err := f.manager.Status(ctx, uuid.New(), candidate); return err }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !errors.Is(err, model.ErrSessionNotFound) {
				t.Fatalf("expected ErrSessionNotFound, got %v", err)
			}
		})
	}
}

func TestAttemptLimit(t *testing.T) {
	f := newFixture(t, 600, 1, Config{})
	f.gateway.maxAttempts = 1
	ctx := testContext(t)

	st, err := f.manager.Start(ctx, f.bank.assessment.ID, candidate)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.manager.ManualSubmit(ctx, st.SessionID, candidate); err != nil {
		t.Fatalf("ManualSubmit: %v", err)
	}
	waitFor(t, "archive", func() bool { return f.manager.Live() == 0 })

	if _, err := f.manager.Start(ctx, f.bank.assessment.ID, candidate); !errors.Is(err, model.ErrAttemptLimitExceeded) {
		t.Fatalf("expected ErrAttemptLimitExceeded, got %v", err)
	}
}

func TestAbandonDuringPendingSubmission(t *testing.T) {
	f := newFixture(t, 600, 2, Config{})
	f.submitter.release = make(chan struct{})
	ctx := testContext(t)

	st, err := f.manager.Start(ctx, f.bank.assessment.ID, candidate)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	id := st.SessionID
	q := f.bank.questions
	if _, err := f.manager.Answer(ctx, id, candidate, q[0].ID, "B", false); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	st, err = f.manager.ManualSubmit(short, id, candidate)
	cancel()
	if err != nil {
		t.Fatalf("ManualSubmit: %v", err)
	}
	if st.Phase != session.PhaseSubmitting || !st.SubmissionPending {
		t.Fatalf("expected a pending submission, got %+v", st)
	}
	waitFor(t, "pending submission recorded", func() bool {
		attempt, _ := f.gateway.persisted(id)
		return attempt.Status == model.AttemptStatusSubmitting
	})

	if err := f.manager.Abandon(ctx, id, candidate); !errors.Is(err, model.ErrSubmissionInProgress) {
		t.Fatalf("expected ErrSubmissionInProgress, got %v", err)
	}
	if f.manager.Live() != 1 {
		t.Fatalf("session released while scoring is pending")
	}
	if _, err := f.manager.Answer(ctx, id, candidate, q[1].ID, "A", false); !errors.Is(err, model.ErrSessionClosed) {
		t.Fatalf("answers must be rejected while submitting, got %v", err)
	}
	if _, err := f.manager.ResumeOrStartFresh(ctx, id, candidate, model.ResumeChoiceFresh); !errors.Is(err, model.ErrSubmissionInProgress) {
		t.Fatalf("fresh start must be refused while submitting, got %v", err)
	}

	close(f.submitter.release)
	waitFor(t, "archive", func() bool { return f.manager.Live() == 0 })

	calls := f.submitter.Calls()
	if len(calls) != 1 || calls[0].Reason != model.SubmitReasonManual || len(calls[0].Answers) != 1 {
		t.Fatalf("unexpected submissions: %+v", calls)
	}
	attempt, _ := f.gateway.persisted(id)
	if attempt.Status != model.AttemptStatusSubmitted {
		t.Fatalf("expected submitted, got %s", attempt.Status)
	}
}

func TestShutdownDuringPendingSubmissionResumesAfterRestart(t *testing.T) {
	f := newFixture(t, 600, 2, Config{})
	f.submitter.release = make(chan struct{})
	ctx := testContext(t)

	st, err := f.manager.Start(ctx, f.bank.assessment.ID, candidate)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	id := st.SessionID
	q := f.bank.questions
	if _, err := f.manager.Answer(ctx, id, candidate, q[1].ID, "C", false); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	_, _ = f.manager.ManualSubmit(short, id, candidate)
	cancel()
	waitFor(t, "pending submission recorded", func() bool {
		attempt, _ := f.gateway.persisted(id)
		return attempt.Status == model.AttemptStatusSubmitting
	})

	// Scoring never answers before the shutdown deadline.
	stop, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	_ = f.manager.Shutdown(stop)
	cancel()

	attempt, answers := f.gateway.persisted(id)
	if attempt.Status != model.AttemptStatusSubmitting || attempt.SubmitReason != model.SubmitReasonManual {
		t.Fatalf("pending submission lost on shutdown: %+v", attempt)
	}
	if len(answers) != 1 {
		t.Fatalf("final flush persisted %d answers, want 1", len(answers))
	}
	if n := len(f.submitter.Calls()); n != 0 {
		t.Fatalf("aborted submission was recorded %d times", n)
	}

	submitter := newFakeSubmitter()
	next := f.restart(t, submitter)
	n, err := next.RecoverPending(ctx, 10)
	if err != nil {
		t.Fatalf("RecoverPending: %v", err)
	}
	if n != 1 {
		t.Fatalf("reopened %d sessions, want 1", n)
	}

	waitFor(t, "resubmission", func() bool { return len(submitter.Calls()) == 1 })
	waitFor(t, "archive", func() bool { return next.Live() == 0 })

	calls := submitter.Calls()
	if calls[0].SessionID != id || calls[0].Reason != model.SubmitReasonManual || len(calls[0].Answers) != 1 {
		t.Fatalf("unexpected resubmission: %+v", calls[0])
	}
	attempt, _ = f.gateway.persisted(id)
	if attempt.Status != model.AttemptStatusSubmitted {
		t.Fatalf("expected submitted after restart, got %s", attempt.Status)
	}
	if _, err := next.Answer(ctx, id, candidate, q[0].ID, "A", false); !errors.Is(err, model.ErrSessionClosed) {
		t.Fatalf("answers must be rejected after scoring, got %v", err)
	}
}

func TestStartReissuesPendingSubmission(t *testing.T) {
	f := newFixture(t, 600, 2, Config{})
	f.submitter.release = make(chan struct{})
	ctx := testContext(t)
	q := f.bank.questions

	id := f.gateway.seed(f.bank.assessment.ID, model.AttemptStatusSubmitting, model.SubmitReasonManual, 240,
		map[uuid.UUID][]string{q[0].ID: {"D"}})

	st, err := f.manager.Start(ctx, f.bank.assessment.ID, candidate)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st.SessionID != id || st.Phase != session.PhaseSubmitting || !st.SubmissionPending {
		t.Fatalf("expected the pending attempt back, got %+v", st)
	}
	if _, err := f.manager.Navigate(ctx, id, candidate, 1); !errors.Is(err, model.ErrSessionClosed) {
		t.Fatalf("navigation must be rejected while submitting, got %v", err)
	}

	close(f.submitter.release)
	waitFor(t, "archive", func() bool { return f.manager.Live() == 0 })

	calls := f.submitter.Calls()
	if len(calls) != 1 || calls[0].Reason != model.SubmitReasonManual || calls[0].ElapsedSeconds != 360 {
		t.Fatalf("unexpected submissions: %+v", calls)
	}
	attempt, _ := f.gateway.persisted(id)
	if attempt.Status != model.AttemptStatusSubmitted {
		t.Fatalf("expected submitted, got %s", attempt.Status)
	}
}

func TestRestoreAtZeroExpires(t *testing.T) {
	f := newFixture(t, 600, 2, Config{})
	ctx := testContext(t)
	q := f.bank.questions

	id := f.gateway.seed(f.bank.assessment.ID, model.AttemptStatusInProgress, "", 0,
		map[uuid.UUID][]string{q[1].ID: {"A", "B"}})

	if _, err := f.manager.ResumeOrStartFresh(ctx, id, candidate, model.ResumeChoiceResume); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := f.manager.Answer(ctx, id, candidate, q[0].ID, "A", false); !errors.Is(err, model.ErrSessionClosed) {
		t.Fatalf("answers must be rejected at zero time, got %v", err)
	}

	waitFor(t, "timeout submission", func() bool { return len(f.submitter.Calls()) == 1 })
	waitFor(t, "archive", func() bool { return f.manager.Live() == 0 })

	calls := f.submitter.Calls()
	if len(calls) != 1 || calls[0].Reason != model.SubmitReasonTimeout || calls[0].ElapsedSeconds != 600 {
		t.Fatalf("unexpected submissions: %+v", calls)
	}
	attempt, _ := f.gateway.persisted(id)
	if attempt.Status != model.AttemptStatusExpired || attempt.TimeRemaining != 0 {
		t.Fatalf("expected expired with 0 remaining, got %+v", attempt)
	}
	if f.notifier.Count(NotifyExpired) != 1 {
		t.Fatalf("expected an expired notification")
	}
}
