package runtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/clock"
	"github.com/stemsi/exstem-runtime/internal/model"
)

var errUnavailable = errors.New("store unavailable")

type fakeGateway struct {
	mu            sync.Mutex
	duration      int
	maxAttempts   int
	attempts      map[uuid.UUID]*model.SessionAttempt
	answers       map[uuid.UUID]map[uuid.UUID][]string
	snapshotFails int
	snapshots     int
	statuses      []model.AttemptStatus
	marks         []model.SubmitReason
}

func newFakeGateway(duration int) *fakeGateway {
	return &fakeGateway{
		duration:    duration,
		maxAttempts: 3,
		attempts:    make(map[uuid.UUID]*model.SessionAttempt),
		answers:     make(map[uuid.UUID]map[uuid.UUID][]string),
	}
}

func (g *fakeGateway) LoadSession(_ context.Context, id uuid.UUID) (*model.SessionAttempt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.attempts[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	cp := *a
	return &cp, nil
}

func (g *fakeGateway) LoadAnswers(_ context.Context, id uuid.UUID) ([]model.AnswerRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []model.AnswerRecord
	for qid, sel := range g.answers[id] {
		out = append(out, model.AnswerRecord{SessionID: id, QuestionID: qid, SelectedOptionIDs: append([]string(nil), sel...)})
	}
	return out, nil
}

func (g *fakeGateway) SaveSnapshot(_ context.Context, snap model.Snapshot) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.snapshotFails > 0 {
		g.snapshotFails--
		return errUnavailable
	}
	a, ok := g.attempts[snap.SessionID]
	if !ok {
		return model.ErrSessionNotFound
	}
	g.snapshots++
	if a.Status == model.AttemptStatusSubmitting || a.Status.Terminal() {
		return nil
	}
	a.CurrentQuestionIndex = snap.CurrentQuestionIndex
	a.TimeRemaining = snap.TimeRemaining
	a.Status = snap.Status
	return nil
}

func (g *fakeGateway) UpsertAnswer(_ context.Context, rec model.AnswerRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.answers[rec.SessionID] == nil {
		g.answers[rec.SessionID] = make(map[uuid.UUID][]string)
	}
	g.answers[rec.SessionID][rec.QuestionID] = append([]string(nil), rec.SelectedOptionIDs...)
	return nil
}

func (g *fakeGateway) SaveStatus(_ context.Context, id uuid.UUID, status model.AttemptStatus, completedAt *time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.attempts[id]
	if !ok {
		return model.ErrSessionNotFound
	}
	a.Status = status
	a.CompletedAt = completedAt
	g.statuses = append(g.statuses, status)
	return nil
}

func (g *fakeGateway) MarkSubmitting(_ context.Context, snap model.Snapshot, reason model.SubmitReason) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.attempts[snap.SessionID]
	if !ok {
		return model.ErrSessionNotFound
	}
	if a.Status.Terminal() {
		return model.ErrSessionClosed
	}
	a.Status = model.AttemptStatusSubmitting
	a.SubmitReason = reason
	a.CurrentQuestionIndex = snap.CurrentQuestionIndex
	a.TimeRemaining = snap.TimeRemaining
	g.marks = append(g.marks, reason)
	return nil
}

func (g *fakeGateway) PendingSubmissions(_ context.Context, limit int) ([]model.SessionAttempt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []model.SessionAttempt
	for _, a := range g.attempts {
		if a.Status == model.AttemptStatusSubmitting && len(out) < limit {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (g *fakeGateway) CreateAttempt(_ context.Context, assessmentID uuid.UUID, candidateID string) (*model.SessionAttempt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for _, a := range g.attempts {
		if a.AssessmentID != assessmentID || a.CandidateID != candidateID {
			continue
		}
		if !a.Status.Terminal() {
			cp := *a
			return &cp, nil
		}
		n++
	}
	if n >= g.maxAttempts {
		return nil, model.ErrAttemptLimitExceeded
	}

	a := &model.SessionAttempt{
		ID:            uuid.New(),
		CandidateID:   candidateID,
		AssessmentID:  assessmentID,
		AttemptNumber: n + 1,
		TimeRemaining: g.duration,
		StartedAt:     time.Now(),
		Status:        model.AttemptStatusInProgress,
	}
	g.attempts[a.ID] = a
	cp := *a
	return &cp, nil
}

func (g *fakeGateway) ResetAttempt(_ context.Context, id uuid.UUID) (*model.SessionAttempt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.attempts[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	a.TimeRemaining = g.duration
	a.CurrentQuestionIndex = 0
	a.Status = model.AttemptStatusInProgress
	delete(g.answers, id)
	cp := *a
	return &cp, nil
}

// seed stores an attempt for the fixture's assessment as a previous process
// would have left it.
func (g *fakeGateway) seed(assessmentID uuid.UUID, status model.AttemptStatus, reason model.SubmitReason, remaining int, answers map[uuid.UUID][]string) uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	a := &model.SessionAttempt{
		ID:            uuid.New(),
		CandidateID:   candidate,
		AssessmentID:  assessmentID,
		AttemptNumber: 1,
		TimeRemaining: remaining,
		StartedAt:     time.Now(),
		Status:        status,
		SubmitReason:  reason,
	}
	g.attempts[a.ID] = a
	if answers != nil {
		g.answers[a.ID] = answers
	}
	return a.ID
}

func (g *fakeGateway) persisted(id uuid.UUID) (model.SessionAttempt, map[uuid.UUID][]string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	answers := make(map[uuid.UUID][]string)
	for qid, sel := range g.answers[id] {
		answers[qid] = append([]string(nil), sel...)
	}
	return *g.attempts[id], answers
}

type fakeBank struct {
	assessment model.Assessment
	questions  []model.QuestionView
}

func newFakeBank(duration, n int) *fakeBank {
	b := &fakeBank{assessment: model.Assessment{ID: uuid.New(), Title: "Safety basics", DurationSeconds: duration, MaxAttempts: 3, PassScore: 70}}
	for i := 0; i < n; i++ {
		card := model.CardinalitySingle
		if i%2 == 1 {
			card = model.CardinalityMultiple
		}
		b.questions = append(b.questions, model.QuestionView{ID: uuid.New(), Position: i, Cardinality: card, OptionIDs: []string{"A", "B", "C", "D"}})
	}
	return b
}

func (b *fakeBank) LoadAssessment(_ context.Context, id uuid.UUID) (*model.Assessment, error) {
	if id != b.assessment.ID {
		return nil, model.ErrAssessmentNotFound
	}
	a := b.assessment
	return &a, nil
}

func (b *fakeBank) LoadQuestions(_ context.Context, id uuid.UUID) ([]model.QuestionView, error) {
	if id != b.assessment.ID {
		return nil, model.ErrAssessmentNotFound
	}
	return b.questions, nil
}

type fakeSubmitter struct {
	mu       sync.Mutex
	failures int
	calls    []model.SubmissionRequest
	results  map[uuid.UUID]*model.SubmissionResult
	release  chan struct{}
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{results: make(map[uuid.UUID]*model.SubmissionResult)}
}

func (f *fakeSubmitter) Submit(ctx context.Context, req model.SubmissionRequest) (*model.SubmissionResult, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.failures > 0 {
		f.failures--
		return nil, errUnavailable
	}
	if r, ok := f.results[req.SessionID]; ok {
		return r, nil
	}
	r := &model.SubmissionResult{
		SessionID:   req.SessionID,
		Score:       float64(len(req.Answers)),
		IsPassed:    len(req.Answers) > 0,
		Reason:      req.Reason,
		SubmittedAt: time.Now(),
	}
	f.results[req.SessionID] = r
	return r, nil
}

func (f *fakeSubmitter) Result(_ context.Context, id uuid.UUID) (*model.SubmissionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results[id], nil
}

func (f *fakeSubmitter) Calls() []model.SubmissionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SubmissionRequest(nil), f.calls...)
}

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []NotificationKind
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	r.kinds = append(r.kinds, n.Kind)
	r.mu.Unlock()
}

func (r *recordingNotifier) Count(kind NotificationKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

type manualTicker struct {
	c chan time.Time
}

func (t *manualTicker) C() <-chan time.Time { return t.c }
func (t *manualTicker) Stop()               {}

// manualClock drives every countdown in a test by hand.
type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	current *manualTicker
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Ticker(time.Duration) clock.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = &manualTicker{c: make(chan time.Time, 1)}
	return c.current
}

// Advance moves time forward and delivers one tick to the running countdown.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	t := c.current
	c.mu.Unlock()
	if t == nil {
		return
	}
	select {
	case t.c <- c.Now():
	default:
	}
}

type fixture struct {
	gateway   *fakeGateway
	bank      *fakeBank
	submitter *fakeSubmitter
	notifier  *recordingNotifier
	clock     *manualClock
	manager   *Manager
}

func newFixture(t *testing.T, duration, questions int, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		gateway:   newFakeGateway(duration),
		bank:      newFakeBank(duration, questions),
		submitter: newFakeSubmitter(),
		notifier:  &recordingNotifier{},
		clock:     newManualClock(),
	}
	if cfg.AutosaveInterval == 0 {
		cfg.AutosaveInterval = time.Hour
	}
	if cfg.AutosaveDebounce == 0 {
		cfg.AutosaveDebounce = time.Hour
	}
	f.manager = NewManager(f.gateway, f.bank, f.submitter, f.notifier, cfg, zerolog.Nop(),
		WithClock(f.clock.Now, f.clock.Ticker))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.manager.Shutdown(ctx)
	})
	return f
}

// restart builds a second manager over the same stores, as a new process
// would after a crash or deploy.
func (f *fixture) restart(t *testing.T, submitter *fakeSubmitter) *Manager {
	t.Helper()
	m := NewManager(f.gateway, f.bank, submitter, f.notifier, Config{
		AutosaveInterval: time.Hour,
		AutosaveDebounce: time.Hour,
	}, zerolog.Nop(), WithClock(f.clock.Now, f.clock.Ticker))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
