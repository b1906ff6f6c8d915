package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/repository"
)

// contentCacheTTL bounds how long assessment content is cached.
const contentCacheTTL = time.Hour

// QuestionBank serves read-only assessment content, cached in Redis.
type QuestionBank struct {
	assessmentRepo *repository.AssessmentRepository
	questionRepo   *repository.QuestionRepository
	rdb            *redis.Client
	log            zerolog.Logger
}

// NewQuestionBank creates a new QuestionBank.
func NewQuestionBank(
	assessmentRepo *repository.AssessmentRepository,
	questionRepo *repository.QuestionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *QuestionBank {
	return &QuestionBank{
		assessmentRepo: assessmentRepo,
		questionRepo:   questionRepo,
		rdb:            rdb,
		log:            log.With().Str("component", "question_bank").Logger(),
	}
}

// LoadAssessment returns the assessment settings.
func (b *QuestionBank) LoadAssessment(ctx context.Context, assessmentID uuid.UUID) (*model.Assessment, error) {
	key := config.CacheKey.AssessmentKey(assessmentID)

	var cached model.Assessment
	if b.readCache(ctx, key, &cached) {
		return &cached, nil
	}

	a, err := b.assessmentRepo.GetByID(ctx, assessmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	b.writeCache(ctx, map[string]any{key: a})
	return a, nil
}

// LoadQuestions returns the ordered question views, without correctness data.
func (b *QuestionBank) LoadQuestions(ctx context.Context, assessmentID uuid.UUID) ([]model.QuestionView, error) {
	var views []model.QuestionView
	if b.readCache(ctx, config.CacheKey.AssessmentQuestionsKey(assessmentID), &views) {
		return views, nil
	}

	views, _, err := b.load(ctx, assessmentID)
	return views, err
}

// AnswerKey returns the correct option ids per question.
func (b *QuestionBank) AnswerKey(ctx context.Context, assessmentID uuid.UUID) (map[uuid.UUID][]string, error) {
	var key map[uuid.UUID][]string
	if b.readCache(ctx, config.CacheKey.AssessmentAnswerKey(assessmentID), &key) {
		return key, nil
	}

	_, key, err := b.load(ctx, assessmentID)
	return key, err
}

// LoadPaper returns the questions with their text and options, for display.
func (b *QuestionBank) LoadPaper(ctx context.Context, assessmentID uuid.UUID) ([]model.PaperQuestion, error) {
	var paper []model.PaperQuestion
	if b.readCache(ctx, config.CacheKey.AssessmentPaperKey(assessmentID), &paper) {
		return paper, nil
	}

	questions, err := b.questionRepo.ListByAssessment(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	paper = make([]model.PaperQuestion, 0, len(questions))
	for i, q := range questions {
		paper = append(paper, model.PaperQuestion{
			ID:           q.ID,
			Position:     i,
			QuestionText: q.QuestionText,
			Cardinality:  q.Cardinality,
			Options:      q.Options,
		})
	}
	b.writeCache(ctx, map[string]any{config.CacheKey.AssessmentPaperKey(assessmentID): paper})
	return paper, nil
}

// load reads the question bank rows and caches both runtime projections.
func (b *QuestionBank) load(ctx context.Context, assessmentID uuid.UUID) ([]model.QuestionView, map[uuid.UUID][]string, error) {
	questions, err := b.questionRepo.ListByAssessment(ctx, assessmentID)
	if err != nil {
		return nil, nil, fmt.Errorf("list questions: %w", err)
	}

	views := make([]model.QuestionView, 0, len(questions))
	key := make(map[uuid.UUID][]string, len(questions))
	for i, q := range questions {
		v := q.View()
		v.Position = i
		views = append(views, v)
		key[q.ID] = q.CorrectOptionIDs
	}

	b.writeCache(ctx, map[string]any{
		config.CacheKey.AssessmentQuestionsKey(assessmentID): views,
		config.CacheKey.AssessmentAnswerKey(assessmentID):    key,
	})
	return views, key, nil
}

func (b *QuestionBank) readCache(ctx context.Context, key string, dst any) bool {
	raw, err := b.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			b.log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		b.log.Warn().Err(err).Str("key", key).Msg("Discarding malformed cache entry")
		return false
	}
	return true
}

func (b *QuestionBank) writeCache(ctx context.Context, entries map[string]any) {
	pipe := b.rdb.Pipeline()
	for key, v := range entries {
		raw, err := json.Marshal(v)
		if err != nil {
			b.log.Warn().Err(err).Str("key", key).Msg("Cache encode failed")
			continue
		}
		pipe.Set(ctx, key, raw, contentCacheTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		b.log.Warn().Err(err).Msg("Cache write failed")
	}
}
