package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/repository"
)

const ScorePollTimeout = 1 * time.Second

// ScoringWorker consumes persist_results_queue, marks scored attempts as
// finished in bulk and clears their fast-lane buffers.
type ScoringWorker struct {
	attempts     *repository.AttemptRepository
	rdb          *redis.Client
	batchSize    int
	batchTimeout time.Duration
	log          zerolog.Logger
}

func NewScoringWorker(attempts *repository.AttemptRepository, rdb *redis.Client, batchSize int, batchTimeout time.Duration, log zerolog.Logger) *ScoringWorker {
	return &ScoringWorker{
		attempts:     attempts,
		rdb:          rdb,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		log:          log.With().Str("component", "scoring_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *ScoringWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ScoringWorker started")

	batch := newBatcher[model.AttemptCompletion](w.batchSize, w.batchTimeout, time.Now())

	for {
		if batch.due(time.Now()) {
			w.flushSafe(ctx, batch.take(time.Now()))
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch.take(time.Now()))
			return

		default:
			item, err := w.rdb.BLPop(ctx, ScorePollTimeout, config.WorkerKey.PersistResultsQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var c model.AttemptCompletion
			if err := json.Unmarshal([]byte(item[1]), &c); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch.add(c)
		}
	}
}

// ----------------------------------------------------------------
// Batch update wrapper
// ----------------------------------------------------------------

func (w *ScoringWorker) flushSafe(ctx context.Context, batch []model.AttemptCompletion) {
	if len(batch) == 0 {
		return
	}
	batch = uniqueCompletions(batch)

	if err := w.bulkComplete(ctx, batch); err != nil {
		w.log.Warn().Err(err).Msg("bulk completion failed, using fallback")

		for _, c := range batch {
			completedAt := c.CompletedAt
			if err := w.attempts.UpdateStatus(ctx, c.SessionID, c.Status, &completedAt); err != nil {
				w.log.Error().Err(err).Msg("UpdateStatus failed, requeueing")
				raw, _ := json.Marshal(c)
				w.rdb.RPush(ctx, config.WorkerKey.PersistResultsQueue, raw)
			}
		}
		return
	}

	// After successful updates, delete the attempt buffers in Redis.
	w.bulkClearBuffers(ctx, batch)
}

func (w *ScoringWorker) bulkComplete(ctx context.Context, batch []model.AttemptCompletion) error {
	n := len(batch)
	ids := make([]uuid.UUID, 0, n)
	statuses := make([]model.AttemptStatus, 0, n)
	completedAts := make([]time.Time, 0, n)
	for _, c := range batch {
		ids = append(ids, c.SessionID)
		statuses = append(statuses, c.Status)
		completedAts = append(completedAts, c.CompletedAt)
	}
	return w.attempts.CompleteBatch(ctx, ids, statuses, completedAts)
}

// ----------------------------------------------------------------
// BULK Redis DEL for clearing attempt buffers
// ----------------------------------------------------------------

func (w *ScoringWorker) bulkClearBuffers(ctx context.Context, batch []model.AttemptCompletion) {
	pipe := w.rdb.Pipeline()

	for _, c := range batch {
		pipe.Del(ctx,
			config.CacheKey.AttemptSnapshotKey(c.SessionID),
			config.CacheKey.AttemptAnswersKey(c.SessionID),
		)
	}

	_, _ = pipe.Exec(ctx)
}
