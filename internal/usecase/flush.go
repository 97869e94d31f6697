package usecase

import (
	"context"
	"sync"
	"time"
)

// flusher throttles persistence of log/progress snapshots to at most one
// write per interval, with a single-slot pending buffer: one write in flight,
// at most one queued catch-up. Forced requests bypass the throttle window but
// still serialize behind an in-flight write.
type flusher struct {
	write    func(ctx context.Context) error
	interval time.Duration
	logger   Logger

	mu       sync.Mutex
	writeMu  sync.Mutex // held while a write runs; Close waits on it
	last     time.Time
	inFlight bool
	pending  bool
	timer    *time.Timer
	closed   bool
}

func newFlusher(write func(ctx context.Context) error, interval time.Duration, logger Logger) *flusher {
	return &flusher{write: write, interval: interval, logger: logger}
}

// Request asks for a persistence attempt. Persistence failures here are
// logged and swallowed; only the final flush in Close reports its error.
func (f *flusher) Request(force bool) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	if f.inFlight {
		f.pending = true
		f.mu.Unlock()
		return
	}
	if !force {
		if wait := f.interval - time.Since(f.last); wait > 0 {
			f.pending = true
			if f.timer == nil {
				f.timer = time.AfterFunc(wait, f.catchUp)
			}
			f.mu.Unlock()
			return
		}
	}
	f.begin()
}

// begin runs one write. Called with f.mu held; releases it.
func (f *flusher) begin() {
	f.inFlight = true
	f.pending = false
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.mu.Unlock()

	f.writeMu.Lock()
	err := f.write(context.Background())
	f.writeMu.Unlock()

	f.mu.Lock()
	f.last = time.Now()
	f.inFlight = false
	if f.pending && !f.closed && f.timer == nil {
		f.pending = false
		f.timer = time.AfterFunc(f.interval, f.catchUp)
	}
	f.mu.Unlock()

	if err != nil && f.logger != nil {
		f.logger.Warnf("flush failed (will retry on next update): %v", err)
	}
}

func (f *flusher) catchUp() {
	f.mu.Lock()
	f.timer = nil
	if f.closed {
		f.mu.Unlock()
		return
	}
	if f.inFlight {
		f.pending = true
		f.mu.Unlock()
		return
	}
	f.begin()
}

// Close stops the throttle and performs the definitive final write. It waits
// for any in-flight write to drain first so the final state always wins.
func (f *flusher) Close(ctx context.Context) error {
	f.mu.Lock()
	f.closed = true
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.mu.Unlock()

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return f.write(ctx)
}
