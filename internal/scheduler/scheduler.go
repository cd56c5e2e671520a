// Package scheduler drives the per-server scan loops. Each (server, scan
// class) pair gets its own ticker and worker goroutine; the three cadences
// never block each other, and a tick that arrives while the previous cycle
// is still running is skipped, not queued.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/unraid-agent/internal/collector"
	"github.com/unraid-agent/internal/metrics"
)

const shutdownGrace = 10 * time.Second

// Worker runs one scan class for one server.
type Worker struct {
	server     string
	class      collector.ScanClass
	interval   time.Duration
	collectors []collector.Collector
	agent      *metrics.Agent
	log        *zap.Logger

	// busy guards against overlapping cycles for this (server, class).
	busy atomic.Bool
	// cycles tracks in-flight cycle goroutines so shutdown can drain them.
	cycles sync.WaitGroup
}

// NewWorker builds a worker for one server and scan class.
func NewWorker(server string, class collector.ScanClass, interval time.Duration, cs []collector.Collector, agent *metrics.Agent, log *zap.Logger) *Worker {
	return &Worker{
		server:     server,
		class:      class,
		interval:   interval,
		collectors: cs,
		agent:      agent,
		log:        log,
	}
}

// Run ticks until ctx is cancelled. The first cycle fires immediately so
// entities appear without waiting a full interval.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("scan worker started",
		zap.String("server", w.server),
		zap.String("scan_class", string(w.class)),
		zap.Duration("interval", w.interval))

	for _, c := range w.collectors {
		if err := c.Init(); err != nil {
			w.log.Error("collector init failed",
				zap.String("server", w.server),
				zap.String("domain", c.Name()),
				zap.Error(err))
		}
	}
	defer func() {
		for _, c := range w.collectors {
			if err := c.Close(); err != nil {
				w.log.Warn("collector close failed",
					zap.String("server", w.server),
					zap.String("domain", c.Name()),
					zap.Error(err))
			}
		}
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ticker.C:
			w.tick(ctx)
		case <-ctx.Done():
			// An in-flight cycle gets the shutdown grace to finish before
			// the deferred collector Close runs.
			w.cycles.Wait()
			w.log.Info("scan worker stopped",
				zap.String("server", w.server),
				zap.String("scan_class", string(w.class)))
			return
		}
	}
}

// graceContext returns a context that outlives parent cancellation by the
// shutdown grace: the cycle keeps running when the loop stops, and is cut
// off only once the grace elapses.
func graceContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	go func() {
		select {
		case <-parent.Done():
			timer := time.NewTimer(shutdownGrace)
			defer timer.Stop()
			select {
			case <-timer.C:
				cancel()
			case <-ctx.Done():
			}
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// tick starts one cycle unless the previous one is still in flight.
func (w *Worker) tick(ctx context.Context) {
	if !w.busy.CompareAndSwap(false, true) {
		if w.agent != nil {
			w.agent.TicksSkipped.WithLabelValues(w.server, string(w.class)).Inc()
		}
		w.log.Warn("scan tick skipped, previous cycle still running",
			zap.String("server", w.server),
			zap.String("scan_class", string(w.class)))
		return
	}

	w.cycles.Add(1)
	go func() {
		defer w.cycles.Done()
		defer w.busy.Store(false)
		cctx, cancel := graceContext(ctx)
		defer cancel()
		w.cycle(cctx)
	}()
}

// cycle runs every collector of this scan class once. One collector failing
// does not stop the others.
func (w *Worker) cycle(ctx context.Context) {
	for _, c := range w.collectors {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		err := c.Collect(ctx)
		elapsed := time.Since(start)

		if w.agent != nil {
			w.agent.CollectDuration.WithLabelValues(w.server, c.Name()).Observe(elapsed.Seconds())
		}
		if err != nil {
			if w.agent != nil {
				w.agent.CollectErrors.WithLabelValues(w.server, c.Name()).Inc()
			}
			w.log.Warn("collection failed",
				zap.String("server", w.server),
				zap.String("domain", c.Name()),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
			continue
		}
		w.log.Debug("collection finished",
			zap.String("server", w.server),
			zap.String("domain", c.Name()),
			zap.Duration("elapsed", elapsed))
	}
}

// Scheduler owns every worker and their lifecycle.
type Scheduler struct {
	workers []*Worker
	log     *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a scheduler over the given workers.
func New(workers []*Worker, log *zap.Logger) *Scheduler {
	return &Scheduler{workers: workers, log: log}
}

// Start launches every worker.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, w := range s.workers {
		w := w
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			w.Run(ctx)
		}()
	}
}

// Stop cancels every worker and waits for the loops to drain their in-flight
// cycles. Cycles are bounded by the shutdown grace through their context, so
// the extra margin here only catches collectors that ignore cancellation.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("all scan workers stopped")
	case <-time.After(shutdownGrace + time.Second):
		s.log.Warn("shutdown grace elapsed with cycles still in flight")
	}
}
