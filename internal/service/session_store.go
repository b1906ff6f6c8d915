package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/repository"
)

// attemptCacheTTL bounds how long an attempt's fast-lane state lives in Redis.
const attemptCacheTTL = 24 * time.Hour

// Snapshot hash fields.
const (
	fieldQuestionIndex = "current_question_index"
	fieldTimeRemaining = "time_remaining"
	fieldStatus        = "status"
)

// SessionStore persists attempts and answers. Writes land in Redis and are
// queued for the autosave worker, which writes them behind to PostgreSQL.
// Reads prefer Redis and fall back to PostgreSQL, healing the cache.
type SessionStore struct {
	attemptRepo    *repository.AttemptRepository
	answerRepo     *repository.AnswerRepository
	assessmentRepo *repository.AssessmentRepository
	rdb            *redis.Client
	log            zerolog.Logger
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(
	attemptRepo *repository.AttemptRepository,
	answerRepo *repository.AnswerRepository,
	assessmentRepo *repository.AssessmentRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *SessionStore {
	return &SessionStore{
		attemptRepo:    attemptRepo,
		answerRepo:     answerRepo,
		assessmentRepo: assessmentRepo,
		rdb:            rdb,
		log:            log.With().Str("component", "session_store").Logger(),
	}
}

// cachedAnswer is the value stored per question in the answers hash.
type cachedAnswer struct {
	Selected  []string  `json:"selected"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LoadSession returns the attempt with any newer fast-lane snapshot applied.
func (s *SessionStore) LoadSession(ctx context.Context, sessionID uuid.UUID) (*model.SessionAttempt, error) {
	attempt, err := s.attemptRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	s.overlaySnapshot(ctx, attempt)
	return attempt, nil
}

// overlaySnapshot applies the cached snapshot to a playable attempt. A Redis
// failure leaves the PostgreSQL row as is. Rows already marked submitting are
// authoritative since MarkSubmitting writes them synchronously.
func (s *SessionStore) overlaySnapshot(ctx context.Context, attempt *model.SessionAttempt) {
	if attempt.Status.Terminal() || attempt.Status == model.AttemptStatusSubmitting {
		return
	}

	fields, err := s.rdb.HGetAll(ctx, config.CacheKey.AttemptSnapshotKey(attempt.ID)).Result()
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", attempt.ID.String()).Msg("Snapshot cache read failed, using database row")
		return
	}
	if len(fields) == 0 {
		return
	}

	if v, err := strconv.Atoi(fields[fieldQuestionIndex]); err == nil {
		attempt.CurrentQuestionIndex = v
	}
	if v, err := strconv.Atoi(fields[fieldTimeRemaining]); err == nil && v >= 0 {
		attempt.TimeRemaining = v
	}
	switch status := model.AttemptStatus(fields[fieldStatus]); status {
	case model.AttemptStatusInProgress, model.AttemptStatusPaused, model.AttemptStatusSubmitting,
		model.AttemptStatusSubmitted, model.AttemptStatusExpired:
		attempt.Status = status
	}
}

// LoadAnswers returns the attempt's answers from Redis, falling back to
// PostgreSQL on a cache miss.
func (s *SessionStore) LoadAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.AnswerRecord, error) {
	key := config.CacheKey.AttemptAnswersKey(sessionID)
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Answer cache read failed, using database")
	} else if len(fields) > 0 {
		return decodeAnswers(sessionID, fields)
	}

	records, err := s.answerRepo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	// Self-heal so the next read is served from Redis.
	if len(records) > 0 {
		values := make(map[string]any, len(records))
		for _, r := range records {
			raw, err := json.Marshal(cachedAnswer{Selected: r.SelectedOptionIDs, UpdatedAt: r.UpdatedAt})
			if err != nil {
				return nil, fmt.Errorf("encode answer: %w", err)
			}
			values[r.QuestionID.String()] = raw
		}
		pipe := s.rdb.TxPipeline()
		pipe.HSet(ctx, key, values)
		pipe.Expire(ctx, key, attemptCacheTTL)
		_, _ = pipe.Exec(ctx)
	}
	return records, nil
}

func decodeAnswers(sessionID uuid.UUID, fields map[string]string) ([]model.AnswerRecord, error) {
	records := make([]model.AnswerRecord, 0, len(fields))
	for qid, raw := range fields {
		questionID, err := uuid.Parse(qid)
		if err != nil {
			return nil, fmt.Errorf("invalid question id %q in cache: %w", qid, err)
		}
		var a cachedAnswer
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("invalid answer for %s in cache: %w", qid, err)
		}
		records = append(records, model.AnswerRecord{
			SessionID:         sessionID,
			QuestionID:        questionID,
			SelectedOptionIDs: a.Selected,
			UpdatedAt:         a.UpdatedAt,
		})
	}
	return records, nil
}

// SaveSnapshot caches the snapshot and queues it for write-behind.
func (s *SessionStore) SaveSnapshot(ctx context.Context, snap model.Snapshot) error {
	raw, err := json.Marshal(model.QueuedSnapshot{Snapshot: snap, SavedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	key := config.CacheKey.AttemptSnapshotKey(snap.SessionID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		fieldQuestionIndex, snap.CurrentQuestionIndex,
		fieldTimeRemaining, snap.TimeRemaining,
		fieldStatus, string(snap.Status),
	)
	pipe.Expire(ctx, key, attemptCacheTTL)
	pipe.RPush(ctx, config.WorkerKey.PersistSnapshotsQueue, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache snapshot: %w", err)
	}
	return nil
}

// UpsertAnswer caches the answer and queues it for write-behind.
func (s *SessionStore) UpsertAnswer(ctx context.Context, rec model.AnswerRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	if rec.SelectedOptionIDs == nil {
		rec.SelectedOptionIDs = []string{}
	}

	cached, err := json.Marshal(cachedAnswer{Selected: rec.SelectedOptionIDs, UpdatedAt: rec.UpdatedAt})
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}
	queued, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}

	key := config.CacheKey.AttemptAnswersKey(rec.SessionID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, rec.QuestionID.String(), cached)
	pipe.Expire(ctx, key, attemptCacheTTL)
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, queued)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache answer: %w", err)
	}
	return nil
}

// SaveStatus writes a status change straight to PostgreSQL. Terminal states
// are never left to the write-behind queue.
func (s *SessionStore) SaveStatus(ctx context.Context, sessionID uuid.UUID, status model.AttemptStatus, completedAt *time.Time) error {
	if err := s.attemptRepo.UpdateStatus(ctx, sessionID, status, completedAt); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if err := s.rdb.HSet(ctx, config.CacheKey.AttemptSnapshotKey(sessionID), fieldStatus, string(status)).Err(); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to cache status")
	}
	return nil
}

// MarkSubmitting records the pending submission in PostgreSQL before scoring
// is called, so a restart or an abandoned session resumes it instead of
// reopening the attempt for play.
func (s *SessionStore) MarkSubmitting(ctx context.Context, snap model.Snapshot, reason model.SubmitReason) error {
	if err := s.attemptRepo.MarkSubmitting(ctx, snap, reason); err != nil {
		if errors.Is(err, model.ErrSessionClosed) {
			return err
		}
		return fmt.Errorf("mark submitting: %w", err)
	}

	key := config.CacheKey.AttemptSnapshotKey(snap.SessionID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		fieldQuestionIndex, snap.CurrentQuestionIndex,
		fieldTimeRemaining, snap.TimeRemaining,
		fieldStatus, string(model.AttemptStatusSubmitting),
	)
	pipe.Expire(ctx, key, attemptCacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("session_id", snap.SessionID.String()).Msg("Failed to cache submitting status")
	}
	return nil
}

// PendingSubmissions lists attempts left in the submitting state.
func (s *SessionStore) PendingSubmissions(ctx context.Context, limit int) ([]model.SessionAttempt, error) {
	attempts, err := s.attemptRepo.ListSubmitting(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list submitting attempts: %w", err)
	}
	return attempts, nil
}

// CreateAttempt returns the candidate's unfinished attempt, or starts the
// next one within the assessment's attempt limit.
func (s *SessionStore) CreateAttempt(ctx context.Context, assessmentID uuid.UUID, candidateID string) (*model.SessionAttempt, error) {
	assessment, err := s.assessmentRepo.GetByID(ctx, assessmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("get assessment: %w", err)
	}

	attempt, created, err := s.attemptRepo.CreateOrGetOpen(ctx, assessmentID, candidateID, assessment.MaxAttempts, assessment.DurationSeconds, time.Now())
	if err != nil {
		return nil, err
	}

	if created {
		s.log.Info().
			Str("session_id", attempt.ID.String()).
			Str("candidate_id", candidateID).
			Int("attempt_number", attempt.AttemptNumber).
			Msg("Attempt created")
	} else {
		s.overlaySnapshot(ctx, attempt)
	}
	return attempt, nil
}

// ResetAttempt restarts an unfinished attempt and drops its cached state.
func (s *SessionStore) ResetAttempt(ctx context.Context, sessionID uuid.UUID) (*model.SessionAttempt, error) {
	current, err := s.attemptRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	assessment, err := s.assessmentRepo.GetByID(ctx, current.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("get assessment: %w", err)
	}

	if err := s.rdb.Del(ctx,
		config.CacheKey.AttemptSnapshotKey(sessionID),
		config.CacheKey.AttemptAnswersKey(sessionID),
	).Err(); err != nil {
		return nil, fmt.Errorf("clear attempt cache: %w", err)
	}

	attempt, err := s.attemptRepo.Reset(ctx, sessionID, assessment.DurationSeconds, time.Now())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrSessionClosed
		}
		return nil, fmt.Errorf("reset attempt: %w", err)
	}
	return attempt, nil
}
