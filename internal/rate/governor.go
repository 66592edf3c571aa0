// Package rate paces batch submission towards a target row throughput.
package rate

import (
	"context"
	"math"
	"sync/atomic"
	"time"
)

// DefaultInterval is the length of one pacing cycle.
const DefaultInterval = time.Second

// Governor derives a per-worker batch size and paces each worker in fixed
// wall-clock cycles.
//
// # Algorithm
//
// The aggregate target rate is split evenly across workers. Every cycle a
// worker submits batch = floor(rate/workers * interval) rows, at least one,
// then sleeps whatever is left of the cycle. The cycle is stretched to
// batch / (rate/workers) so that workers * batch / cycle equals the target
// even when a worker's share of an interval is fractional. A cycle that
// overran is not compensated: the governor measures real elapsed time per
// cycle rather than following an ideal cumulative schedule, so a slow cycle
// lengthens the run instead of causing a burst later.
//
// A Governor with a non-positive rate is unthrottled: BatchSize returns the
// configured size and Pace returns immediately.
//
// # Thread Safety
//
// Governor is safe for concurrent use; each worker passes its own cycle
// start time to Pace.
//
// # Example
//
//	g := NewGovernor(1000, 4, time.Second) // 1000 rows/s over 4 workers
//	size := g.BatchSize(10)                // 250, every 1s
//	for {
//	    start := time.Now()
//	    submit(size)
//	    if err := g.Pace(ctx, start); err != nil {
//	        return
//	    }
//	}
type Governor struct {
	rate     float64 // Aggregate rows per second, <= 0 means unthrottled
	workers  int
	interval time.Duration
	batch    int           // Rows per cycle when throttled
	cycle    time.Duration // Length of one throttled cycle

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	// Metrics
	cycles    atomic.Int64 // Completed pacing cycles
	overruns  atomic.Int64 // Cycles that took longer than the interval
	totalWait atomic.Int64 // Total time slept in nanoseconds
}

// NewGovernor creates a governor for the aggregate rate (rows per second)
// shared by workers. A zero interval selects DefaultInterval.
func NewGovernor(rate float64, workers int, interval time.Duration) *Governor {
	if workers < 1 {
		workers = 1
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if math.IsInf(rate, 1) || math.IsNaN(rate) {
		rate = 0
	}
	g := &Governor{
		rate:     rate,
		workers:  workers,
		interval: interval,
		cycle:    interval,
		sleep:    sleepContext,
		now:      time.Now,
	}
	if rate > 0 {
		perWorker := rate / float64(workers)
		// The epsilon keeps shares like 0.7*10 from flooring to 6.
		g.batch = int(math.Floor(perWorker*interval.Seconds() + 1e-9))
		if g.batch < 1 {
			g.batch = 1
		}
		g.cycle = time.Duration(float64(g.batch) / perWorker * float64(time.Second))
	}
	return g
}

// Unthrottled reports whether the governor imposes no rate.
func (g *Governor) Unthrottled() bool {
	return g.rate <= 0
}

// Rate returns the aggregate target in rows per second.
func (g *Governor) Rate() float64 {
	return g.rate
}

// Interval returns the configured pacing interval.
func (g *Governor) Interval() time.Duration {
	return g.interval
}

// Cycle returns the length of one throttled cycle. It equals the interval
// unless a worker's share of the interval is fractional.
func (g *Governor) Cycle() time.Duration {
	return g.cycle
}

// PerWorkerRate returns the rows per second each worker is responsible for.
func (g *Governor) PerWorkerRate() float64 {
	if g.Unthrottled() {
		return 0
	}
	return g.rate / float64(g.workers)
}

// BatchSize returns how many rows a worker should submit per cycle.
//
// When throttled this is floor(perWorkerRate * interval), at least 1.
// When unthrottled the configured size is used as is.
func (g *Governor) BatchSize(configured int) int {
	if g.Unthrottled() {
		if configured < 1 {
			return 1
		}
		return configured
	}
	return g.batch
}

// Pace sleeps for the remainder of the cycle that began at started.
//
// It never sleeps when unthrottled or when the cycle already overran.
// Returns ctx.Err() if the context is cancelled while sleeping.
func (g *Governor) Pace(ctx context.Context, started time.Time) error {
	return g.PaceUntil(ctx, started, time.Time{})
}

// PaceUntil is Pace with the sleep cut short at deadline. A zero deadline
// means none.
func (g *Governor) PaceUntil(ctx context.Context, started, deadline time.Time) error {
	if g.Unthrottled() {
		return nil
	}
	g.cycles.Add(1)

	now := g.now()
	remaining := g.cycle - now.Sub(started)
	if remaining <= 0 {
		g.overruns.Add(1)
		return nil
	}
	if !deadline.IsZero() {
		if left := deadline.Sub(now); left < remaining {
			remaining = left
		}
		if remaining <= 0 {
			return nil
		}
	}

	g.totalWait.Add(int64(remaining))
	return g.sleep(ctx, remaining)
}

// Stats returns statistics about the governor's operation.
func (g *Governor) Stats() Stats {
	return Stats{
		Rate:      g.rate,
		Workers:   g.workers,
		Interval:  g.interval,
		Cycle:     g.cycle,
		Cycles:    g.cycles.Load(),
		Overruns:  g.overruns.Load(),
		TotalWait: time.Duration(g.totalWait.Load()),
	}
}

// Stats contains statistics about the governor.
type Stats struct {
	Rate      float64       `json:"rate"`      // Aggregate rows per second
	Workers   int           `json:"workers"`   // Workers sharing the rate
	Interval  time.Duration `json:"interval"`  // Configured pacing interval
	Cycle     time.Duration `json:"cycle"`     // Throttled cycle length
	Cycles    int64         `json:"cycles"`    // Paced cycles
	Overruns  int64         `json:"overruns"`  // Cycles longer than the interval
	TotalWait time.Duration `json:"totalWait"` // Total time spent sleeping
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
