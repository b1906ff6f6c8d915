package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-runtime/internal/model"
)

const attemptColumns = `id, candidate_id, assessment_id, attempt_number, time_remaining,
	current_question_index, status, started_at, completed_at, COALESCE(submit_reason, '')`

// AttemptRepository handles session attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func scanAttempt(row pgx.Row) (*model.SessionAttempt, error) {
	a := &model.SessionAttempt{}
	err := row.Scan(&a.ID, &a.CandidateID, &a.AssessmentID, &a.AttemptNumber, &a.TimeRemaining,
		&a.CurrentQuestionIndex, &a.Status, &a.StartedAt, &a.CompletedAt, &a.SubmitReason)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetByID retrieves an attempt by its UUID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.SessionAttempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM session_attempts WHERE id = $1`, id))
}

// CreateOrGetOpen returns the candidate's unfinished attempt, or creates the
// next one when fewer than maxAttempts exist. A transaction-scoped advisory
// lock serializes concurrent starts for the same candidate and assessment.
// The bool reports whether a new row was inserted.
func (r *AttemptRepository) CreateOrGetOpen(ctx context.Context, assessmentID uuid.UUID, candidateID string, maxAttempts, durationSeconds int, startedAt time.Time) (*model.SessionAttempt, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2::text))`, candidateID, assessmentID,
	); err != nil {
		return nil, false, err
	}

	open, err := scanAttempt(tx.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM session_attempts
		 WHERE candidate_id = $1 AND assessment_id = $2 AND status IN ('in_progress', 'paused', 'submitting')
		 LIMIT 1`, candidateID, assessmentID))
	switch {
	case err == nil:
		return open, false, tx.Commit(ctx)
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, false, err
	}

	var used int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM session_attempts WHERE candidate_id = $1 AND assessment_id = $2`,
		candidateID, assessmentID,
	).Scan(&used); err != nil {
		return nil, false, err
	}
	if used >= maxAttempts {
		return nil, false, model.ErrAttemptLimitExceeded
	}

	created, err := scanAttempt(tx.QueryRow(ctx,
		`INSERT INTO session_attempts (candidate_id, assessment_id, attempt_number, time_remaining, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+attemptColumns,
		candidateID, assessmentID, used+1, durationSeconds, model.AttemptStatusInProgress, startedAt))
	if err != nil {
		return nil, false, err
	}
	return created, true, tx.Commit(ctx)
}

// UpdateSnapshot persists the position, timer and status of an unfinished
// attempt. Terminal attempts, and snapshots taken before the last reset, are
// ignored.
func (r *AttemptRepository) UpdateSnapshot(ctx context.Context, snap model.QueuedSnapshot) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE session_attempts
		 SET current_question_index = $2, time_remaining = $3, status = $4, updated_at = NOW()
		 WHERE id = $1 AND status IN ('in_progress', 'paused') AND started_at <= $5`,
		snap.SessionID, snap.CurrentQuestionIndex, snap.TimeRemaining, snap.Status, snap.SavedAt)
	return err
}

// UpdateSnapshots applies a batch of snapshots with one UNNEST statement.
// The batch must hold at most one snapshot per attempt.
func (r *AttemptRepository) UpdateSnapshots(ctx context.Context, snaps []model.QueuedSnapshot) error {
	n := len(snaps)
	ids := make([]uuid.UUID, 0, n)
	indexes := make([]int32, 0, n)
	remaining := make([]int32, 0, n)
	statuses := make([]string, 0, n)
	savedAts := make([]time.Time, 0, n)
	for _, s := range snaps {
		ids = append(ids, s.SessionID)
		indexes = append(indexes, int32(s.CurrentQuestionIndex))
		remaining = append(remaining, int32(s.TimeRemaining))
		statuses = append(statuses, string(s.Status))
		savedAts = append(savedAts, s.SavedAt)
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE session_attempts AS a
		SET current_question_index = t.idx,
		    time_remaining = t.remaining,
		    status = t.status,
		    updated_at = NOW()
		FROM (
			SELECT u.id, u.idx, u.remaining, u.status, u.saved_at
			FROM UNNEST($1::uuid[], $2::int[], $3::int[], $4::text[], $5::timestamptz[])
				AS u (id, idx, remaining, status, saved_at)
		) AS t
		WHERE a.id = t.id
		  AND a.status IN ('in_progress', 'paused')
		  AND a.started_at <= t.saved_at`,
		ids, indexes, remaining, statuses, savedAts)
	return err
}

// UpdateStatus sets a status, and the completion time for terminal ones.
func (r *AttemptRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.AttemptStatus, completedAt *time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE session_attempts
		 SET status = $2, completed_at = COALESCE($3, completed_at), updated_at = NOW()
		 WHERE id = $1 AND status IN ('in_progress', 'paused', 'submitting')`,
		id, status, completedAt)
	return err
}

// MarkSubmitting records that scoring was requested, together with the final
// position and timer. Once set, queued snapshots no longer touch the row.
func (r *AttemptRepository) MarkSubmitting(ctx context.Context, snap model.Snapshot, reason model.SubmitReason) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE session_attempts
		 SET status = 'submitting', submit_reason = $2,
		     current_question_index = $3, time_remaining = $4, updated_at = NOW()
		 WHERE id = $1 AND status IN ('in_progress', 'paused', 'submitting')`,
		snap.SessionID, reason, snap.CurrentQuestionIndex, snap.TimeRemaining)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrSessionClosed
	}
	return nil
}

// ListSubmitting returns attempts whose submission was requested but never
// acknowledged, oldest first.
func (r *AttemptRepository) ListSubmitting(ctx context.Context, limit int) ([]model.SessionAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM session_attempts
		 WHERE status = 'submitting'
		 ORDER BY updated_at
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.SessionAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// CompleteBatch marks scored attempts as finished with one UNNEST statement.
func (r *AttemptRepository) CompleteBatch(ctx context.Context, ids []uuid.UUID, statuses []model.AttemptStatus, completedAts []time.Time) error {
	raw := make([]string, len(statuses))
	for i, s := range statuses {
		raw[i] = string(s)
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE session_attempts AS a
		SET status = t.status,
		    completed_at = t.completed_at,
		    time_remaining = CASE WHEN t.status = 'expired' THEN 0 ELSE a.time_remaining END,
		    updated_at = NOW()
		FROM (
			SELECT u.id, u.status, u.completed_at
			FROM UNNEST($1::uuid[], $2::text[], $3::timestamptz[]) AS u (id, status, completed_at)
		) AS t
		WHERE a.id = t.id`,
		ids, raw, completedAts)
	return err
}

// Reset restarts an unfinished attempt in place: full duration, first
// question, answers removed. startedAt fences off queued writes made before
// the reset.
func (r *AttemptRepository) Reset(ctx context.Context, id uuid.UUID, durationSeconds int, startedAt time.Time) (*model.SessionAttempt, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	a, err := scanAttempt(tx.QueryRow(ctx,
		`UPDATE session_attempts
		 SET time_remaining = $2, current_question_index = 0, status = $3,
		     started_at = $4, updated_at = NOW()
		 WHERE id = $1 AND status IN ('in_progress', 'paused')
		 RETURNING `+attemptColumns,
		id, durationSeconds, model.AttemptStatusInProgress, startedAt))
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM answer_records WHERE session_id = $1`, id); err != nil {
		return nil, err
	}
	return a, tx.Commit(ctx)
}
