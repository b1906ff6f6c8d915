package clock

import (
	"sync"
	"testing"
	"time"
)

type fakeTicker struct {
	c       chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func (f *fakeTicker) C() <-chan time.Time { return f.c }
func (f *fakeTicker) Stop()               { f.once.Do(func() { close(f.stopped) }) }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type emission struct {
	epoch   uint64
	elapsed int
}

type harness struct {
	clock   *fakeClock
	tickers chan *fakeTicker
	out     chan emission
	cd      *Countdown
}

func newHarness() *harness {
	h := &harness{
		clock:   &fakeClock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)},
		tickers: make(chan *fakeTicker, 4),
		out:     make(chan emission, 16),
	}
	h.cd = New(
		func(epoch uint64, elapsed int) { h.out <- emission{epoch, elapsed} },
		WithNow(h.clock.Now),
		WithTicker(func(time.Duration) Ticker {
			t := &fakeTicker{c: make(chan time.Time), stopped: make(chan struct{})}
			h.tickers <- t
			return t
		}),
	)
	return h
}

func (h *harness) ticker(t *testing.T) *fakeTicker {
	t.Helper()
	select {
	case tk := <-h.tickers:
		return tk
	case <-time.After(time.Second):
		t.Fatal("ticker was not created")
		return nil
	}
}

func (h *harness) expect(t *testing.T) emission {
	t.Helper()
	select {
	case e := <-h.out:
		return e
	case <-time.After(time.Second):
		t.Fatal("no emission")
		return emission{}
	}
}

func (h *harness) expectNone(t *testing.T) {
	t.Helper()
	select {
	case e := <-h.out:
		t.Fatalf("unexpected emission %+v", e)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCountdownCarriesRemainder(t *testing.T) {
	h := newHarness()
	epoch := h.cd.Start()
	tk := h.ticker(t)
	defer h.cd.Close()

	tests := []struct {
		advance time.Duration
		want    int
	}{
		{1500 * time.Millisecond, 1},
		{1500 * time.Millisecond, 2},
		{400 * time.Millisecond, 0},
		{700 * time.Millisecond, 1},
		{5 * time.Second, 5},
	}
	total := 0
	for i, tc := range tests {
		h.clock.Advance(tc.advance)
		tk.c <- time.Time{}
		if tc.want == 0 {
			h.expectNone(t)
			continue
		}
		e := h.expect(t)
		if e.epoch != epoch || e.elapsed != tc.want {
			t.Fatalf("step %d: expected {%d %d}, got %+v", i, epoch, tc.want, e)
		}
		total += e.elapsed
	}
	if total != 9 {
		t.Fatalf("expected 9 whole seconds, got %d", total)
	}
}

func TestCountdownStopEndsEpoch(t *testing.T) {
	h := newHarness()
	first := h.cd.Start()
	tk := h.ticker(t)

	h.cd.Stop()
	select {
	case <-tk.stopped:
	case <-time.After(time.Second):
		t.Fatal("ticker not stopped")
	}
	if h.cd.Running() {
		t.Fatal("countdown still running after Stop")
	}

	// Time spent stopped is never charged.
	h.clock.Advance(time.Minute)

	second := h.cd.Start()
	if second != first+1 {
		t.Fatalf("expected epoch %d, got %d", first+1, second)
	}
	tk = h.ticker(t)

	h.clock.Advance(time.Second)
	tk.c <- time.Time{}
	if e := h.expect(t); e.epoch != second || e.elapsed != 1 {
		t.Fatalf("expected {%d 1}, got %+v", second, e)
	}
	h.cd.Close()
}

func TestCountdownStartIsIdempotent(t *testing.T) {
	h := newHarness()
	a := h.cd.Start()
	h.ticker(t)
	b := h.cd.Start()
	if a != b {
		t.Fatalf("second Start opened a new epoch: %d -> %d", a, b)
	}
	select {
	case <-h.tickers:
		t.Fatal("second Start created another ticker")
	default:
	}
	h.cd.Close()
	h.cd.Close()
}
