// Package scheduler drives the worker pool that generates and delivers batches.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/streamload/internal/generator"
	"github.com/wesleyorama2/streamload/internal/ingest"
	"github.com/wesleyorama2/streamload/internal/metrics"
	"github.com/wesleyorama2/streamload/internal/pool"
	"github.com/wesleyorama2/streamload/internal/rate"
	"github.com/wesleyorama2/streamload/internal/size"
)

// Sender delivers one batch to one destination. *ingest.Client satisfies it.
type Sender interface {
	Send(ctx context.Context, dest ingest.Destination, batch generator.Batch) (int, error)
}

// Config describes one run.
type Config struct {
	// Plan supplies the schema and the row ceiling
	Plan *size.Plan

	// Table is the destination table (prefix in column-as-table mode)
	Table string

	// ColumnAsTable sends every column to its own table of points
	ColumnAsTable bool

	// BatchSize is the rows per request when the rate is unthrottled
	BatchSize int

	// Duration switches the run to deadline mode when > 0
	Duration time.Duration

	// Workers is the number of concurrent workers
	Workers int

	// Rate is the aggregate target in rows per second, <= 0 for unthrottled
	Rate float64

	// Interval is the pacing cycle length (default 1s)
	Interval time.Duration
}

// Validate checks the run configuration.
func (c *Config) Validate() error {
	if c.Plan == nil {
		return errors.New("scheduler: size plan is required")
	}
	if len(c.Plan.Schema) == 0 {
		return errors.New("scheduler: schema has no columns")
	}
	if c.Workers < 1 {
		return fmt.Errorf("scheduler: workers must be > 0, got %d", c.Workers)
	}
	if c.BatchSize < 1 && c.Rate <= 0 {
		return fmt.Errorf("scheduler: batch size must be > 0, got %d", c.BatchSize)
	}
	if c.Plan.Unbounded && c.Duration <= 0 {
		return errors.New("scheduler: an unbounded run needs a duration")
	}
	return nil
}

// WorkerCount bounds the configured maximum by twice the endpoint count so
// a small endpoint set is not oversubscribed. Without a maximum one worker
// per endpoint is used, or one per column in column-as-table mode.
func WorkerCount(maxThreads, endpoints, columns int, columnAsTable bool) int {
	limit := 2 * endpoints
	n := maxThreads
	if n <= 0 {
		n = endpoints
		if columnAsTable {
			n = columns
		}
	}
	if n > limit {
		n = limit
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Result summarizes a finished run.
type Result struct {
	Accepted      int64         `json:"accepted"`
	Attempted     int64         `json:"attempted"`
	Batches       int64         `json:"batches"`
	FailedBatches int64         `json:"failedBatches"`
	Ceiling       int64         `json:"ceiling"`
	Workers       int           `json:"workers"`
	Elapsed       time.Duration `json:"elapsed"`
	Governor      rate.Stats    `json:"governor"`
}

// Scheduler runs a fixed pool of workers against a connection pool.
type Scheduler struct {
	config   Config
	pool     *pool.Pool
	sender   Sender
	gen      *generator.Generator
	governor *rate.Governor
	metrics  *metrics.Engine
	logger   *zap.Logger
	onError  func(workerID int, err error)
	now      func() time.Time

	state    atomic.Pointer[RunState]
	workers  []*Worker
	activeWs atomic.Int32
	running  atomic.Bool
	wg       sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithGenerator sets the row generator.
func WithGenerator(g *generator.Generator) Option {
	return func(s *Scheduler) {
		s.gen = g
	}
}

// WithMetrics reports worker activity and failures to a metrics engine.
func WithMetrics(m *metrics.Engine) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithErrorHandler is called for every batch that could not be delivered.
func WithErrorHandler(fn func(workerID int, err error)) Option {
	return func(s *Scheduler) {
		s.onError = fn
	}
}

// WithClock overrides the clock used for stop checks.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates a scheduler.
func New(cfg Config, p *pool.Pool, sender Sender, options ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.New("scheduler: connection pool is required")
	}
	if sender == nil {
		return nil, errors.New("scheduler: sender is required")
	}

	s := &Scheduler{
		config:   cfg,
		pool:     p,
		sender:   sender,
		gen:      generator.New(),
		governor: rate.NewGovernor(cfg.Rate, cfg.Workers, cfg.Interval),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, option := range options {
		option(s)
	}
	return s, nil
}

// Governor returns the rate governor.
func (s *Scheduler) Governor() *rate.Governor {
	return s.governor
}

// State returns the run state, or nil before Run is called.
func (s *Scheduler) State() *RunState {
	return s.state.Load()
}

// IsRunning returns true while workers are active.
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// ActiveWorkers returns the number of workers that have not stopped.
func (s *Scheduler) ActiveWorkers() int {
	return int(s.activeWs.Load())
}

// Run starts all workers and blocks until every one of them has finished
// its current iteration and stopped.
//
// Workers stop when the ceiling is reached, the deadline passes or ctx is
// cancelled. Stop conditions are checked between iterations only, so an
// in-flight batch, retries included, always completes.
func (s *Scheduler) Run(ctx context.Context) (*Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, errors.New("scheduler is already running")
	}
	defer s.running.Store(false)

	ceiling := s.config.Plan.Ceiling
	if s.config.Plan.Unbounded {
		ceiling = -1
	}
	start := s.now()
	state := NewRunState(ceiling, s.config.Duration, start)
	s.state.Store(state)

	s.logger.Info("run started",
		zap.Int("workers", s.config.Workers),
		zap.Int("endpoints", s.pool.Size()),
		zap.Int64("ceiling", state.Ceiling()),
		zap.Duration("duration", s.config.Duration),
		zap.Float64("rate", s.config.Rate))

	s.workers = make([]*Worker, s.config.Workers)
	for i := range s.workers {
		w := newWorker(i + 1)
		s.workers[i] = w
		s.wg.Add(1)
		go s.runWorker(ctx, state, w)
	}

	s.wg.Wait()

	result := &Result{
		Accepted:      state.Accepted(),
		Attempted:     state.Attempted(),
		Batches:       state.Batches(),
		FailedBatches: state.FailedBatches(),
		Ceiling:       state.Ceiling(),
		Workers:       len(s.workers),
		Elapsed:       s.now().Sub(start),
		Governor:      s.governor.Stats(),
	}

	s.logger.Info("run finished",
		zap.Int64("accepted", result.Accepted),
		zap.Int64("failed_batches", result.FailedBatches),
		zap.Duration("elapsed", result.Elapsed))

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// Workers returns the workers of the current or last run.
func (s *Scheduler) Workers() []*Worker {
	out := make([]*Worker, len(s.workers))
	copy(out, s.workers)
	return out
}

// runWorker runs one worker until the stopping condition holds.
func (s *Scheduler) runWorker(ctx context.Context, state *RunState, w *Worker) {
	defer s.wg.Done()
	defer w.setState(StateStopped)

	s.setActive(1)
	defer s.setActive(-1)

	batchSize := s.governor.BatchSize(s.config.BatchSize)
	deadline, _ := state.Deadline()

	for {
		w.setState(StateIdle)
		if ctx.Err() != nil || state.Done(s.now()) {
			return
		}

		started := time.Now()
		n := state.Reserve(batchSize)
		if n == 0 {
			return
		}

		if !s.iterate(ctx, state, w, n) {
			return
		}

		if err := s.governor.PaceUntil(ctx, started, deadline); err != nil {
			return
		}
	}
}

// iterate runs Acquire, Generate, Submit and Release for one batch of n
// rows. It returns false if the worker should stop.
func (s *Scheduler) iterate(ctx context.Context, state *RunState, w *Worker, n int) bool {
	w.setState(StateAcquire)
	submitted := false

	err := s.pool.Do(ctx, func(ep *pool.Endpoint) error {
		w.setState(StateGenerate)
		batch := s.gen.NewBatch(s.config.Plan.Schema, n, s.config.Table, s.config.ColumnAsTable)

		// The in-flight batch is never abandoned, even when ctx is cancelled.
		w.setState(StateSubmit)
		submitted = true
		accepted, err := s.sender.Send(context.WithoutCancel(ctx), ep, batch)

		state.AddAccepted(accepted)
		w.accepted.Add(int64(accepted))
		w.iterations.Add(1)
		state.AddBatch(err != nil)

		w.setState(StateRelease)
		if err != nil {
			return &batchFailure{endpoint: ep.Addr, err: err}
		}
		return nil
	})

	if !submitted {
		// Acquire was interrupted; the reserved rows were never sent.
		state.Unreserve(n)
		return false
	}

	if err != nil {
		w.failures.Add(1)
		s.reportFailure(w, err)
	}
	return true
}

func (s *Scheduler) reportFailure(w *Worker, err error) {
	var bf *batchFailure
	endpoint := ""
	if errors.As(err, &bf) {
		endpoint = bf.endpoint
		err = bf.err
	}

	s.logger.Warn("batch delivery failed",
		zap.Int("worker", w.ID),
		zap.String("endpoint", endpoint),
		zap.String("table", s.config.Table),
		zap.Error(err))

	if s.metrics != nil {
		s.metrics.RecordBatchFailure(endpoint, s.config.Table)
	}
	if s.onError != nil {
		s.onError(w.ID, err)
	}
}

func (s *Scheduler) setActive(delta int32) {
	n := s.activeWs.Add(delta)
	if s.metrics != nil {
		s.metrics.SetActiveWorkers(int(n))
	}
}

// batchFailure carries the endpoint a failed batch was sent to.
type batchFailure struct {
	endpoint string
	err      error
}

func (e *batchFailure) Error() string { return e.err.Error() }

func (e *batchFailure) Unwrap() error { return e.err }
