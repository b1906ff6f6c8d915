package worker

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-runtime/internal/model"
)

// batcher collects queue items until the batch is full or old enough.
type batcher[T any] struct {
	size     int
	timeout  time.Duration
	items    []T
	lastSent time.Time
}

func newBatcher[T any](size int, timeout time.Duration, now time.Time) *batcher[T] {
	if size <= 0 {
		size = 1
	}
	return &batcher[T]{size: size, timeout: timeout, items: make([]T, 0, size), lastSent: now}
}

func (b *batcher[T]) add(item T) { b.items = append(b.items, item) }

// due reports whether the pending items should be flushed at now.
func (b *batcher[T]) due(now time.Time) bool {
	return len(b.items) > 0 && (len(b.items) >= b.size || now.Sub(b.lastSent) >= b.timeout)
}

// take returns the pending items and starts a new batch.
func (b *batcher[T]) take(now time.Time) []T {
	out := b.items
	b.items = make([]T, 0, b.size)
	b.lastSent = now
	return out
}

// latestSnapshots keeps the newest snapshot per attempt, preserving first-seen order.
func latestSnapshots(batch []model.QueuedSnapshot) []model.QueuedSnapshot {
	index := make(map[uuid.UUID]int, len(batch))
	out := make([]model.QueuedSnapshot, 0, len(batch))
	for _, s := range batch {
		i, ok := index[s.SessionID]
		if !ok {
			index[s.SessionID] = len(out)
			out = append(out, s)
			continue
		}
		if !s.SavedAt.Before(out[i].SavedAt) {
			out[i] = s
		}
	}
	return out
}

// uniqueCompletions keeps the first completion per attempt.
func uniqueCompletions(batch []model.AttemptCompletion) []model.AttemptCompletion {
	seen := make(map[uuid.UUID]bool, len(batch))
	out := make([]model.AttemptCompletion, 0, len(batch))
	for _, c := range batch {
		if seen[c.SessionID] {
			continue
		}
		seen[c.SessionID] = true
		out = append(out, c)
	}
	return out
}
