package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-runtime/internal/model"
)

// AnswerRepository handles answer record data access.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// ListBySession retrieves every answer record of an attempt.
func (r *AnswerRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.AnswerRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, question_id, selected_option_ids, updated_at
		 FROM answer_records WHERE session_id = $1`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.AnswerRecord
	for rows.Next() {
		var a model.AnswerRecord
		if err := rows.Scan(&a.SessionID, &a.QuestionID, &a.SelectedOptionIDs, &a.UpdatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// Upsert replaces the record for (session, question). Older writes never
// overwrite newer ones, and writes made before the attempt was last reset
// are discarded.
func (r *AnswerRepository) Upsert(ctx context.Context, a model.AnswerRecord) error {
	updatedAt := a.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	selected := a.SelectedOptionIDs
	if selected == nil {
		selected = []string{}
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO answer_records (session_id, question_id, selected_option_ids, updated_at)
		 SELECT $1, $2, $3, $4
		 WHERE EXISTS (SELECT 1 FROM session_attempts WHERE id = $1 AND started_at <= $4)
		 ON CONFLICT (session_id, question_id) DO UPDATE
		 SET selected_option_ids = EXCLUDED.selected_option_ids,
		     updated_at = EXCLUDED.updated_at
		 WHERE answer_records.updated_at <= EXCLUDED.updated_at`,
		a.SessionID, a.QuestionID, selected, updatedAt)
	return err
}
