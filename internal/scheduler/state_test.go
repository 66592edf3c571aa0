package scheduler

import (
	"math"
	"sync"
	"testing"
	"time"
)

func TestRunState_ReserveNeverExceedsCeiling(t *testing.T) {
	state := NewRunState(1000, 0, time.Now())

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				n := state.Reserve(7)
				if n == 0 {
					return
				}
				mu.Lock()
				granted += n
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 1000 {
		t.Errorf("Expected 1000 rows granted, got %d", granted)
	}
	if state.Attempted() != 1000 {
		t.Errorf("Expected Attempted 1000, got %d", state.Attempted())
	}
	if !state.Done(time.Now()) {
		t.Error("State should be done once the ceiling is reserved")
	}
}

func TestRunState_PartialGrantAndUnreserve(t *testing.T) {
	state := NewRunState(10, 0, time.Now())

	if n := state.Reserve(8); n != 8 {
		t.Fatalf("Expected 8, got %d", n)
	}
	if n := state.Reserve(8); n != 2 {
		t.Fatalf("Expected partial grant of 2, got %d", n)
	}
	if n := state.Reserve(1); n != 0 {
		t.Fatalf("Expected exhausted ceiling, got %d", n)
	}

	state.Unreserve(2)
	if state.Done(time.Now()) {
		t.Error("State should not be done after rows were handed back")
	}
	if n := state.Reserve(5); n != 2 {
		t.Errorf("Expected 2 rows after unreserve, got %d", n)
	}
	if n := state.Reserve(0); n != 0 {
		t.Errorf("Reserve(0) = %d", n)
	}
}

func TestRunState_Deadline(t *testing.T) {
	start := time.Unix(1000, 0)
	state := NewRunState(5, 10*time.Second, start)

	if state.Ceiling() != -1 {
		t.Errorf("A deadline run should report no ceiling, got %d", state.Ceiling())
	}
	if n := state.Reserve(100); n != 100 {
		t.Errorf("Deadline runs should grant every reservation, got %d", n)
	}
	if state.Done(start.Add(9 * time.Second)) {
		t.Error("Should not be done before the deadline")
	}
	if !state.Done(start.Add(10 * time.Second)) {
		t.Error("Should be done at the deadline")
	}
	if deadline, ok := state.Deadline(); !ok || !deadline.Equal(start.Add(10*time.Second)) {
		t.Errorf("Unexpected deadline %v %v", deadline, ok)
	}

	if p := state.Progress(start.Add(5 * time.Second)); p != 0.5 {
		t.Errorf("Expected progress 0.5, got %v", p)
	}
	if p := state.Progress(start.Add(time.Minute)); p != 1 {
		t.Errorf("Progress should be capped at 1, got %v", p)
	}
}

func TestRunState_Progress(t *testing.T) {
	now := time.Now()

	bounded := NewRunState(200, 0, now)
	bounded.Reserve(50)
	if p := bounded.Progress(now); p != 0.25 {
		t.Errorf("Expected 0.25, got %v", p)
	}

	if p := NewRunState(0, 0, now).Progress(now); p != 1 {
		t.Errorf("Empty ceiling should report complete, got %v", p)
	}

	unbounded := NewRunState(-1, 0, now)
	if !math.IsNaN(unbounded.Progress(now)) {
		t.Error("Unbounded progress should be NaN")
	}
	if unbounded.Done(now.Add(time.Hour)) {
		t.Error("Unbounded run without deadline never finishes on its own")
	}
}

func TestRunState_Counters(t *testing.T) {
	state := NewRunState(100, 0, time.Now())
	state.AddAccepted(10)
	state.AddAccepted(-3)
	state.AddBatch(false)
	state.AddBatch(true)

	if state.Accepted() != 10 || state.Batches() != 2 || state.FailedBatches() != 1 {
		t.Errorf("Unexpected counters accepted=%d batches=%d failed=%d",
			state.Accepted(), state.Batches(), state.FailedBatches())
	}
}

func TestWorkerStateString(t *testing.T) {
	names := map[WorkerState]string{
		StateIdle:       "idle",
		StateAcquire:    "acquire",
		StateGenerate:   "generate",
		StateSubmit:     "submit",
		StateRelease:    "release",
		StateStopped:    "stopped",
		WorkerState(42): "unknown",
	}
	for state, want := range names {
		if state.String() != want {
			t.Errorf("%d.String() = %q, want %q", state, state.String(), want)
		}
	}
}
