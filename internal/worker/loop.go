// Package worker runs a single cooperative periodic task with a stable cadence.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// CycleFunc is one iteration of a periodic task.
type CycleFunc func(ctx context.Context) error

// Options tune the cadence of a Loop.
type Options struct {
	// Interval is the target time between cycle starts.
	Interval time.Duration
	// ErrorBackoff replaces the normal sleep after a failed cycle.
	ErrorBackoff time.Duration
	// MinSleep is the floor applied when a cycle overruns its interval.
	MinSleep time.Duration
}

const (
	defaultErrorBackoff = time.Minute
	defaultMinSleep     = time.Second
)

// Loop runs fn every Interval until stopped. Cycle errors and panics are
// logged and followed by ErrorBackoff; they never terminate the loop.
type Loop struct {
	name   string
	opts   Options
	fn     CycleFunc
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	// stopping is set while Stop waits for the goroutine; cancel and done stay
	// set until it has exited so Start cannot launch a second one.
	stopping bool
}

// NewLoop creates a stopped loop.
func NewLoop(name string, logger *slog.Logger, opts Options, fn CycleFunc) *Loop {
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = defaultErrorBackoff
	}
	if opts.MinSleep <= 0 {
		opts.MinSleep = defaultMinSleep
	}
	return &Loop{
		name:   name,
		opts:   opts,
		fn:     fn,
		logger: logger.With("loop", name),
	}
}

// Start launches the loop in the background. It returns false, doing nothing,
// when the loop is already running or a Stop is still waiting for it.
func (l *Loop) Start(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done

	go func() {
		defer close(done)
		l.run(runCtx)
	}()

	l.logger.Info("Loop: started", "interval", l.opts.Interval)
	return true
}

// Stop cancels the loop and blocks until the running cycle has returned.
// It returns false when the loop was not running. A concurrent Stop waits for
// the same goroutine and returns false.
func (l *Loop) Stop() bool {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	if cancel == nil {
		l.mu.Unlock()
		return false
	}
	if l.stopping {
		l.mu.Unlock()
		<-done
		return false
	}
	l.stopping = true
	l.mu.Unlock()

	cancel()
	<-done

	l.mu.Lock()
	l.cancel, l.done = nil, nil
	l.stopping = false
	l.mu.Unlock()

	l.logger.Info("Loop: stopped")
	return true
}

// Running reports whether the loop has been started and not stopped.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil && !l.stopping
}

func (l *Loop) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		started := time.Now()
		err := l.cycle(ctx)
		elapsed := time.Since(started)

		wait := l.opts.Interval - elapsed
		if wait < l.opts.MinSleep {
			wait = l.opts.MinSleep
		}
		if err != nil && ctx.Err() == nil {
			l.logger.Error("Loop: cycle failed", "error", err, "elapsed", elapsed, "backoff", l.opts.ErrorBackoff)
			wait = l.opts.ErrorBackoff
		} else {
			l.logger.Debug("Loop: cycle completed", "elapsed", elapsed, "next_in", wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (l *Loop) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s cycle: %v", l.name, r)
		}
	}()
	return l.fn(ctx)
}
