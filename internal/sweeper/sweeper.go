// Package sweeper runs the periodic expiry sweep over the file registry.
//
// The sweep only hastens eviction: the registry already refuses to serve
// expired records, so a missed or failed sweep never exposes stale data.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/maneesh/filelink/internal/metrics"
)

// Target is what the sweeper drives
type Target interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Result describes one sweep
type Result struct {
	Evicted  int
	Skipped  bool // another sweep was still running
	Err      error
	Duration time.Duration
}

// Sweeper calls SweepExpired on a fixed interval until stopped.
// Runs never overlap: a tick that finds the previous sweep still running is
// skipped, not queued.
type Sweeper struct {
	target   Target
	interval time.Duration
	logger   *log.Logger

	running sync.Mutex // held for the duration of one sweep

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a sweeper. Call Start to begin the schedule.
func New(target Target, interval time.Duration, logger *log.Logger) *Sweeper {
	return &Sweeper{
		target:   target,
		interval: interval,
		logger:   logger.With("component", "sweeper"),
	}
}

// Start launches the background loop bound to ctx. The first sweep runs
// immediately. Calling Start on a running sweeper does nothing.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(loopCtx, s.done)

	s.logger.Info("sweeper started", "interval", s.interval)
}

// Stop cancels the loop and waits for an in-flight sweep to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep unless one is already running.
// Errors and panics are logged and returned in the result, never propagated.
func (s *Sweeper) RunOnce(ctx context.Context) (res Result) {
	if !s.running.TryLock() {
		metrics.SweepsTotal.WithLabelValues("skipped").Inc()
		s.logger.Warn("previous sweep still running, skipping")
		return Result{Skipped: true}
	}
	defer s.running.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("sweep panicked: %v", r)
		}
		res.Duration = time.Since(start)
		s.record(res)
	}()

	n, err := s.target.SweepExpired(ctx)
	return Result{Evicted: n, Err: err}
}

func (s *Sweeper) record(res Result) {
	metrics.SweepDuration.Observe(res.Duration.Seconds())
	metrics.SweepEvictedTotal.Add(float64(res.Evicted))

	if res.Err != nil {
		metrics.SweepsTotal.WithLabelValues("error").Inc()
		s.logger.Error("sweep failed", "evicted", res.Evicted, "err", res.Err, "duration", res.Duration)
		return
	}
	metrics.SweepsTotal.WithLabelValues("ok").Inc()
	if res.Evicted > 0 {
		s.logger.Info("sweep finished", "evicted", res.Evicted, "duration", res.Duration)
	} else {
		s.logger.Debug("sweep finished", "evicted", 0, "duration", res.Duration)
	}
}
