package scheduler

import (
	"math"
	"sync/atomic"
	"time"
)

// RunState holds the process-wide counters of a run.
//
// Counters are only changed through atomic operations; the ceiling,
// deadline and start time are fixed once the run starts.
type RunState struct {
	accepted      atomic.Int64
	reserved      atomic.Int64
	failedBatches atomic.Int64
	batches       atomic.Int64

	ceiling   int64
	unbounded bool
	start     time.Time
	deadline  time.Time
}

// NewRunState creates the state for a run starting at start.
// A negative ceiling means unbounded; a zero duration means no deadline.
func NewRunState(ceiling int64, duration time.Duration, start time.Time) *RunState {
	s := &RunState{
		ceiling:   ceiling,
		unbounded: ceiling < 0,
		start:     start,
	}
	if duration > 0 {
		s.deadline = start.Add(duration)
		s.unbounded = true
	}
	return s
}

// Reserve claims up to n rows from the ceiling and returns how many were
// granted; zero means the ceiling is exhausted. Unbounded runs always
// grant n.
func (s *RunState) Reserve(n int) int {
	if n <= 0 {
		return 0
	}
	if s.unbounded {
		s.reserved.Add(int64(n))
		return n
	}
	for {
		cur := s.reserved.Load()
		left := s.ceiling - cur
		if left <= 0 {
			return 0
		}
		grant := int64(n)
		if grant > left {
			grant = left
		}
		if s.reserved.CompareAndSwap(cur, cur+grant) {
			return int(grant)
		}
	}
}

// Unreserve hands back rows that were reserved but never submitted.
func (s *RunState) Unreserve(n int) {
	s.reserved.Add(-int64(n))
}

// AddAccepted records rows acknowledged by an endpoint.
func (s *RunState) AddAccepted(n int) {
	if n > 0 {
		s.accepted.Add(int64(n))
	}
}

// AddBatch records a submitted batch and whether it failed.
func (s *RunState) AddBatch(failed bool) {
	s.batches.Add(1)
	if failed {
		s.failedBatches.Add(1)
	}
}

// Accepted returns the number of rows acknowledged so far.
func (s *RunState) Accepted() int64 { return s.accepted.Load() }

// Attempted returns the number of rows handed to workers so far.
func (s *RunState) Attempted() int64 { return s.reserved.Load() }

// Batches returns the number of submitted batches.
func (s *RunState) Batches() int64 { return s.batches.Load() }

// FailedBatches returns the number of batches that were not delivered.
func (s *RunState) FailedBatches() int64 { return s.failedBatches.Load() }

// Start returns the run start time.
func (s *RunState) Start() time.Time { return s.start }

// Deadline returns the deadline and whether one is set.
func (s *RunState) Deadline() (time.Time, bool) {
	return s.deadline, !s.deadline.IsZero()
}

// Ceiling returns the row ceiling, or -1 for unbounded runs.
func (s *RunState) Ceiling() int64 {
	if s.unbounded {
		return -1
	}
	return s.ceiling
}

// Done reports whether the stopping condition holds at now.
func (s *RunState) Done(now time.Time) bool {
	if !s.deadline.IsZero() {
		return !now.Before(s.deadline)
	}
	if s.unbounded {
		return false
	}
	return s.reserved.Load() >= s.ceiling
}

// Progress returns a completion ratio between 0 and 1, or NaN when the
// run has neither a ceiling nor a deadline.
func (s *RunState) Progress(now time.Time) float64 {
	var p float64
	switch {
	case !s.deadline.IsZero():
		total := s.deadline.Sub(s.start)
		p = float64(now.Sub(s.start)) / float64(total)
	case s.unbounded:
		return math.NaN()
	case s.ceiling == 0:
		p = 1
	default:
		p = float64(s.reserved.Load()) / float64(s.ceiling)
	}
	if p > 1 {
		p = 1
	}
	if p < 0 {
		p = 0
	}
	return p
}
