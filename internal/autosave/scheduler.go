// Package autosave periodically flushes attempt state to the persistence
// gateway and debounces flushes after answer changes.
package autosave

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/model"
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultDebounce     = 2 * time.Second
	DefaultFlushTimeout = 10 * time.Second
)

// FlushFunc persists the latest state. It is called with no session lock held.
type FlushFunc func(ctx context.Context) error

// Config holds the scheduler cadence. Zero fields use the defaults.
type Config struct {
	Interval     time.Duration
	Debounce     time.Duration
	FlushTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = DefaultFlushTimeout
	}
	return c
}

// Scheduler runs one goroutine with one timer. The timer fires at the
// earlier of the periodic deadline and the debounce deadline.
type Scheduler struct {
	flush FlushFunc
	cfg   Config
	log   zerolog.Logger

	// flushMu serializes flushes so at most one is in flight.
	flushMu sync.Mutex

	mu          sync.Mutex
	started     bool
	stopped     bool
	suspended   bool
	dirty       bool
	dirtyAt     time.Time
	lastAttempt time.Time
	failures    int
	wake        chan struct{}
	stop        chan struct{}
	done        chan struct{}
}

// New creates a Scheduler. Call Start to begin the loop.
func New(flush FlushFunc, cfg Config, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		flush: flush,
		cfg:   cfg.withDefaults(),
		log:   log.With().Str("component", "autosave").Logger(),
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start launches the loop. ctx bounds every flush the loop issues; Stop, not
// ctx cancellation, is the normal way to end the loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.lastAttempt = time.Now()
	s.mu.Unlock()

	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	timer := time.NewTimer(s.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
			if s.due() {
				s.flushOnce(ctx)
			}
		}
		timer.Reset(s.nextDelay())
	}
}

func (s *Scheduler) deadlineLocked() time.Time {
	deadline := s.lastAttempt.Add(s.cfg.Interval)
	if s.dirty {
		if d := s.dirtyAt.Add(s.cfg.Debounce); d.Before(deadline) {
			deadline = d
		}
	}
	return deadline
}

func (s *Scheduler) nextDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.suspended {
		return s.cfg.Interval
	}
	d := time.Until(s.deadlineLocked())
	if d < 0 {
		d = 0
	}
	return d
}

func (s *Scheduler) due() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.suspended && !time.Now().Before(s.deadlineLocked())
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// MarkDirty records an answer change. Bursts are coalesced into one flush no
// sooner than the debounce delay after the latest change.
func (s *Scheduler) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.dirtyAt = time.Now()
	s.mu.Unlock()
	s.notify()
}

// Suspend stops scheduled flushes until Resume. FlushNow still works.
func (s *Scheduler) Suspend() {
	s.mu.Lock()
	s.suspended = true
	s.mu.Unlock()
	s.notify()
}

// Resume re-enables scheduled flushes.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.suspended = false
	s.mu.Unlock()
	s.notify()
}

// FlushNow flushes synchronously, after any in-flight flush completes.
func (s *Scheduler) FlushNow(ctx context.Context) error {
	return s.flushOnce(ctx)
}

func (s *Scheduler) flushOnce(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	started := time.Now()
	fctx, cancel := context.WithTimeout(ctx, s.cfg.FlushTimeout)
	err := s.flush(fctx)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastAttempt = started
	// Changes made while the flush ran stay dirty.
	if s.dirty && !s.dirtyAt.After(started) {
		s.dirty = false
	}

	if err != nil {
		s.failures++
		s.log.Warn().Err(err).Int("consecutive_failures", s.failures).Msg("Autosave flush failed")
		return fmt.Errorf("flush snapshot: %w: %w", model.ErrPersistenceTransient, err)
	}
	if s.failures > 0 {
		s.log.Info().Int("after_failures", s.failures).Msg("Autosave recovered")
	}
	s.failures = 0
	return nil
}

// Failures returns the number of consecutive failed flushes.
func (s *Scheduler) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// Stop ends the loop and waits for an in-flight flush to finish. It is safe
// to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
	started := s.started
	s.mu.Unlock()

	if started {
		<-s.done
	}
}
