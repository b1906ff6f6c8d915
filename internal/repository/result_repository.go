package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-runtime/internal/model"
)

// ResultRepository handles submission result data access.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// GetBySession retrieves the result of an attempt.
func (r *ResultRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) (*model.SubmissionResult, error) {
	res := &model.SubmissionResult{}
	err := r.pool.QueryRow(ctx,
		`SELECT session_id, score, is_passed, certificate_ref, reason, submitted_at
		 FROM submission_results WHERE session_id = $1`, sessionID,
	).Scan(&res.SessionID, &res.Score, &res.IsPassed, &res.CertificateRef, &res.Reason, &res.SubmittedAt)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Insert stores a result once per session. It reports false when a result
// already existed, in which case the stored one wins.
func (r *ResultRepository) Insert(ctx context.Context, res *model.SubmissionResult, elapsedSeconds int) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO submission_results (session_id, score, is_passed, certificate_ref, reason, elapsed_seconds, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (session_id) DO NOTHING`,
		res.SessionID, res.Score, res.IsPassed, res.CertificateRef, res.Reason, elapsedSeconds, res.SubmittedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
