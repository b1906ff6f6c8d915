// Package clock drives the attempt countdown while the session is running.
package clock

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultInterval is the tick cadence of a running countdown.
const DefaultInterval = time.Second

// Ticker is the subset of *time.Ticker the countdown needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

// NewStdTicker wraps time.NewTicker.
func NewStdTicker(d time.Duration) Ticker {
	return stdTicker{t: time.NewTicker(d)}
}

// EmitFunc receives whole elapsed seconds for one epoch.
type EmitFunc func(epoch uint64, elapsed int)

// Countdown emits elapsed seconds measured on the monotonic clock. Each Start
// opens a new epoch; emissions carry it so the receiver can drop ticks that
// raced a Stop.
type Countdown struct {
	interval  time.Duration
	newTicker func(time.Duration) Ticker
	now       func() time.Time
	emit      EmitFunc
	log       zerolog.Logger

	mu      sync.Mutex
	epoch   uint64
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// Option customizes a Countdown.
type Option func(*Countdown)

// WithInterval sets the tick cadence.
func WithInterval(d time.Duration) Option {
	return func(c *Countdown) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithTicker replaces the ticker factory.
func WithTicker(f func(time.Duration) Ticker) Option {
	return func(c *Countdown) { c.newTicker = f }
}

// WithNow replaces the clock source.
func WithNow(now func() time.Time) Option {
	return func(c *Countdown) { c.now = now }
}

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Countdown) { c.log = log.With().Str("component", "countdown").Logger() }
}

// New creates a stopped Countdown.
func New(emit EmitFunc, opts ...Option) *Countdown {
	c := &Countdown{
		interval:  DefaultInterval,
		newTicker: NewStdTicker,
		now:       time.Now,
		emit:      emit,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins a new epoch and returns it. Starting a running countdown
// returns the current epoch.
func (c *Countdown) Start() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return c.epoch
	}
	c.epoch++
	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	ticker := c.newTicker(c.interval)
	go c.run(c.epoch, ticker, c.now(), c.stop, c.done)

	c.log.Debug().Uint64("epoch", c.epoch).Msg("Countdown started")
	return c.epoch
}

func (c *Countdown) run(epoch uint64, ticker Ticker, anchor time.Time, stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			select {
			case <-stop:
				return
			default:
			}

			whole := int(c.now().Sub(anchor) / time.Second)
			if whole <= 0 {
				continue
			}
			anchor = anchor.Add(time.Duration(whole) * time.Second)
			c.emit(epoch, whole)
		}
	}
}

// Stop ends the current epoch without waiting for the goroutine. The
// sub-second remainder of the epoch is not charged.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	c.running = false
	close(c.stop)
	c.log.Debug().Uint64("epoch", c.epoch).Msg("Countdown stopped")
}

// Close stops the countdown and waits for its goroutine to exit. It must not
// be called from inside the emit callback.
func (c *Countdown) Close() {
	c.Stop()

	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Epoch returns the current epoch.
func (c *Countdown) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Running reports whether an epoch is active.
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
