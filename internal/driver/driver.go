// Package driver runs the periodic tick: occupancy poll, auto-extension, then the queue drain.
package driver

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"seat-queue-backend/config"
	"seat-queue-backend/internal/extension"
	"seat-queue-backend/internal/scheduler"
)

var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "seatq_driver_tick_duration_seconds",
		Help:    "Duration of a full driver tick.",
		Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
	})
	ticksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seatq_driver_ticks_skipped_total",
		Help: "Ticks skipped because the previous tick was still running.",
	})
)

// Poller records occupancy transitions.
type Poller interface {
	PollOnce(ctx context.Context) int
}

// Extender runs the auto-extension rules.
type Extender interface {
	RunOnce(ctx context.Context) (extension.RunStats, error)
}

// Queue is the reservation queue.
type Queue interface {
	Drain(ctx context.Context) (scheduler.DrainStats, error)
	Cleanup(ctx context.Context) (int64, error)
}

// Driver owns the tick loop. Poller and Extender may be nil.
type Driver struct {
	cfg      config.DriverConfig
	poller   Poller
	extender Extender
	queue    Queue

	active atomic.Bool
	ticks  atomic.Int64
}

// New creates a Driver.
func New(cfg config.DriverConfig, poller Poller, extender Extender, queue Queue) *Driver {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Driver{cfg: cfg, poller: poller, extender: extender, queue: queue}
}

// Run ticks immediately and then every interval until ctx is done. It returns once the last
// tick has finished.
func (d *Driver) Run(ctx context.Context) {
	log.Printf("Starting driver, interval %s", d.cfg.Interval)
	d.Tick(ctx)

	var wg sync.WaitGroup
	timer := time.NewTimer(d.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			log.Println("Driver shutting down.")
			return
		case <-timer.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				d.Tick(ctx)
			}()
			timer.Reset(d.cfg.Interval)
		}
	}
}

// Tick runs one tick bounded by the interval. It returns false without doing anything when
// another tick is still active.
func (d *Driver) Tick(ctx context.Context) bool {
	if !d.active.CompareAndSwap(false, true) {
		ticksSkipped.Inc()
		log.Println("Previous tick still running; skipping this one.")
		return false
	}
	defer d.active.Store(false)

	start := time.Now()
	defer func() { tickDuration.Observe(time.Since(start).Seconds()) }()

	tctx, cancel := context.WithTimeout(ctx, d.cfg.Interval)
	defer cancel()

	events := 0
	if d.poller != nil {
		events = d.poller.PollOnce(tctx)
	}

	var ext extension.RunStats
	if d.extender != nil && tctx.Err() == nil {
		var err error
		if ext, err = d.extender.RunOnce(tctx); err != nil {
			log.Printf("Error running auto-extension: %v", err)
		}
	}

	var drained scheduler.DrainStats
	if tctx.Err() == nil {
		var err error
		if drained, err = d.queue.Drain(tctx); err != nil {
			log.Printf("Error draining reservation queue: %v", err)
		}
	}

	n := d.ticks.Add(1)
	if d.cfg.CleanupEvery > 0 && n%int64(d.cfg.CleanupEvery) == 0 {
		if _, err := d.queue.Cleanup(tctx); err != nil {
			log.Printf("Error cleaning up finished requests: %v", err)
		}
	}

	log.Printf("Tick %d finished in %s: %d occupancy events; extensions %d/%d ok, %d failed; requests %d attempted, %d completed, %d requeued, %d failed",
		n, time.Since(start).Round(time.Millisecond), events,
		ext.Successful, ext.Processed, ext.Failed,
		drained.Attempted, drained.Completed, drained.Requeued, drained.Failed)
	return true
}
