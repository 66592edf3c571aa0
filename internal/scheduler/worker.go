package scheduler

import (
	"sync/atomic"
)

// WorkerState represents where a worker is in its iteration.
type WorkerState int32

const (
	// StateIdle indicates the worker is between iterations.
	StateIdle WorkerState = iota
	// StateAcquire indicates the worker is waiting for an endpoint.
	StateAcquire
	// StateGenerate indicates the worker is building a batch.
	StateGenerate
	// StateSubmit indicates the worker is delivering a batch.
	StateSubmit
	// StateRelease indicates the worker is returning its endpoint.
	StateRelease
	// StateStopped indicates the worker has exited.
	StateStopped
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquire:
		return "acquire"
	case StateGenerate:
		return "generate"
	case StateSubmit:
		return "submit"
	case StateRelease:
		return "release"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Worker is one concurrent sender.
//
// Each worker repeatedly acquires an endpoint, generates a batch, submits
// it and releases the endpoint until the run's stopping condition holds.
type Worker struct {
	// Unique identifier for this worker
	ID int

	// Lifecycle state (atomic for lock-free reads)
	state atomic.Int32

	iterations atomic.Int64
	accepted   atomic.Int64
	failures   atomic.Int64
}

func newWorker(id int) *Worker {
	return &Worker{ID: id}
}

// GetState returns the current worker state.
func (w *Worker) GetState() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *Worker) setState(s WorkerState) {
	w.state.Store(int32(s))
}

// Iterations returns how many batches the worker submitted.
func (w *Worker) Iterations() int64 {
	return w.iterations.Load()
}

// Accepted returns how many rows this worker got accepted.
func (w *Worker) Accepted() int64 {
	return w.accepted.Load()
}

// Failures returns how many of this worker's batches failed.
func (w *Worker) Failures() int64 {
	return w.failures.Load()
}
