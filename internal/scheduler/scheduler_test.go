package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/unraid-agent/internal/collector"
)

// stubCollector counts cycles and optionally blocks until released.
type stubCollector struct {
	name  string
	calls atomic.Int64
	block chan struct{}
}

func (s *stubCollector) Name() string { return s.name }
func (s *stubCollector) Init() error  { return nil }
func (s *stubCollector) Close() error { return nil }

func (s *stubCollector) Collect(ctx context.Context) error {
	s.calls.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
		}
	}
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWorkerRunsImmediatelyAndOnTicks(t *testing.T) {
	c := &stubCollector{name: "cpu"}
	w := NewWorker("tower", collector.ScanPrimary, 20*time.Millisecond, []collector.Collector{c}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitFor(t, func() bool { return c.calls.Load() >= 3 })
}

func TestWorkerSkipsTickWhileBusy(t *testing.T) {
	c := &stubCollector{name: "slow", block: make(chan struct{})}
	w := NewWorker("tower", collector.ScanPrimary, 15*time.Millisecond, []collector.Collector{c}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// The first cycle blocks; several tick intervals pass without a second
	// cycle starting.
	waitFor(t, func() bool { return c.calls.Load() == 1 })
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int64(1), c.calls.Load())

	// Releasing the cycle lets the next tick run again.
	close(c.block)
	waitFor(t, func() bool { return c.calls.Load() >= 2 })
}

func TestWorkersRunIndependently(t *testing.T) {
	slow := &stubCollector{name: "slow", block: make(chan struct{})}
	fast := &stubCollector{name: "fast"}

	ws := []*Worker{
		NewWorker("tower", collector.ScanPrimary, 10*time.Millisecond, []collector.Collector{slow}, nil, zap.NewNop()),
		NewWorker("tower", collector.ScanUPS, 10*time.Millisecond, []collector.Collector{fast}, nil, zap.NewNop()),
	}
	s := New(ws, zap.NewNop())
	s.Start(context.Background())
	defer func() {
		close(slow.block)
		s.Stop()
	}()

	// The stuck primary class must not stall the ups class.
	waitFor(t, func() bool { return fast.calls.Load() >= 3 })
	assert.Equal(t, int64(1), slow.calls.Load())
}

// timedCollector takes a fixed time inside Collect and records whether Close
// overlapped a still-running Collect.
type timedCollector struct {
	dur time.Duration

	inCollect          atomic.Bool
	collectDone        atomic.Bool
	closedMidCollect   atomic.Bool
	collectInterrupted atomic.Bool
}

func (c *timedCollector) Name() string { return "timed" }
func (c *timedCollector) Init() error  { return nil }

func (c *timedCollector) Collect(ctx context.Context) error {
	c.inCollect.Store(true)
	defer c.inCollect.Store(false)
	select {
	case <-time.After(c.dur):
		c.collectDone.Store(true)
	case <-ctx.Done():
		c.collectInterrupted.Store(true)
	}
	return nil
}

func (c *timedCollector) Close() error {
	if c.inCollect.Load() {
		c.closedMidCollect.Store(true)
	}
	return nil
}

func TestStopWaitsForInFlightCycle(t *testing.T) {
	c := &timedCollector{dur: 200 * time.Millisecond}
	s := New([]*Worker{
		NewWorker("tower", collector.ScanPrimary, time.Hour, []collector.Collector{c}, nil, zap.NewNop()),
	}, zap.NewNop())

	s.Start(context.Background())
	waitFor(t, func() bool { return c.inCollect.Load() })

	start := time.Now()
	s.Stop()
	elapsed := time.Since(start)

	// The in-flight cycle finishes within the grace; cancellation must not
	// cut it short, and Close must not overlap Collect.
	assert.True(t, c.collectDone.Load(), "in-flight cycle must run to completion")
	assert.False(t, c.collectInterrupted.Load(), "loop cancellation must not abort the cycle")
	assert.False(t, c.closedMidCollect.Load(), "Close must not run while Collect is in flight")
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "Stop must block on the in-flight cycle")
}

func TestSchedulerStopWaitsForWorkers(t *testing.T) {
	c := &stubCollector{name: "cpu"}
	s := New([]*Worker{
		NewWorker("tower", collector.ScanPrimary, 10*time.Millisecond, []collector.Collector{c}, nil, zap.NewNop()),
	}, zap.NewNop())

	s.Start(context.Background())
	waitFor(t, func() bool { return c.calls.Load() >= 1 })
	s.Stop()

	after := c.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, c.calls.Load(), "no cycles after Stop")
}
