package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/repository"
)

const (
	SnapshotBatchSize    = 200
	SnapshotBatchTimeout = 2 * time.Second
	SnapshotPollTimeout  = 1 * time.Second
)

// SnapshotWorker consumes persist_snapshots_queue and writes attempt
// snapshots behind to PostgreSQL in batches.
type SnapshotWorker struct {
	attempts *repository.AttemptRepository
	rdb      *redis.Client
	log      zerolog.Logger
}

func NewSnapshotWorker(attempts *repository.AttemptRepository, rdb *redis.Client, log zerolog.Logger) *SnapshotWorker {
	return &SnapshotWorker{
		attempts: attempts,
		rdb:      rdb,
		log:      log.With().Str("component", "snapshot_worker").Logger(),
	}
}

// ─── Worker loop with batching ──────────────────────────────────────

func (w *SnapshotWorker) Start(ctx context.Context) {
	w.log.Info().Msg("SnapshotWorker started")

	batch := newBatcher[model.QueuedSnapshot](SnapshotBatchSize, SnapshotBatchTimeout, time.Now())

	for {
		if batch.due(time.Now()) {
			w.flushSafe(ctx, batch.take(time.Now()))
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch.take(time.Now()))
			w.drain(context.Background())
			return

		default:
			item, err := w.rdb.BLPop(ctx, SnapshotPollTimeout, config.WorkerKey.PersistSnapshotsQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var s model.QueuedSnapshot
			if err := json.Unmarshal([]byte(item[1]), &s); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch.add(s)
		}
	}
}

// ─── Batch update wrapper ───────────────────────────────────────────

func (w *SnapshotWorker) flushSafe(ctx context.Context, batch []model.QueuedSnapshot) {
	if len(batch) == 0 {
		return
	}
	batch = latestSnapshots(batch)

	if err := w.attempts.UpdateSnapshots(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("size", len(batch)).Msg("bulk snapshot update failed, using fallback")

		for _, s := range batch {
			if err := w.attempts.UpdateSnapshot(ctx, s); err != nil {
				w.log.Error().Err(err).Str("session_id", s.SessionID.String()).Msg("UpdateSnapshot failed, requeueing")
				raw, _ := json.Marshal(s)
				w.rdb.RPush(ctx, config.WorkerKey.PersistSnapshotsQueue, raw)
			}
		}
		return
	}

	w.log.Debug().Int("size", len(batch)).Msg("Snapshots persisted")
}

// drain writes whatever is still queued at shutdown.
func (w *SnapshotWorker) drain(ctx context.Context) {
	var pending []model.QueuedSnapshot
	for {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.PersistSnapshotsQueue).Result()
		if err != nil {
			break
		}
		var s model.QueuedSnapshot
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}
		pending = append(pending, s)
	}

	if len(pending) > 0 {
		w.flushSafe(ctx, pending)
		w.log.Info().Int("count", len(pending)).Msg("Drained remaining items")
	}
}
