package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	p, err := New([]string{"10.0.0.1:32149", " 10.0.0.2:32149 ", "10.0.0.1:32149", ""})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Size())

	eps := p.Endpoints()
	assert.Equal(t, "10.0.0.1:32149", eps[0].Addr)
	assert.Equal(t, "10.0.0.2:32149", eps[1].Addr)

	_, err = New(nil)
	assert.True(t, errors.Is(err, ErrEmpty))

	_, err = Parse(" , ")
	assert.True(t, errors.Is(err, ErrEmpty))
}

func TestParse(t *testing.T) {
	p, err := Parse("a:1,b:2,c:3")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Size())
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "http://10.0.0.1:32149", (&Endpoint{Addr: "10.0.0.1:32149"}).URL())
	assert.Equal(t, "https://ingest:443", (&Endpoint{Addr: "https://ingest:443"}).URL())
	assert.Equal(t, "http://127.0.0.1:8080", (&Endpoint{Addr: "http://127.0.0.1:8080"}).URL())
}

func TestAcquireRelease(t *testing.T) {
	p, err := New([]string{"a:1", "b:2"})
	require.NoError(t, err)

	first, err := p.Acquire(context.Background())
	require.NoError(t, err)
	second, err := p.Acquire(context.Background())
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, p.Busy())

	_, ok := p.TryAcquire()
	assert.False(t, ok, "pool should be exhausted")

	p.Release(first)
	assert.Equal(t, 1, p.Busy())

	again, ok := p.TryAcquire()
	require.True(t, ok)
	assert.Same(t, first, again)

	p.Release(again)
	p.Release(second)
	assert.Equal(t, 0, p.Busy())
	assert.Equal(t, 2, p.MaxBusy())
}

func TestAcquire_BlocksUntilRelease(t *testing.T) {
	p, err := New([]string{"a:1"})
	require.NoError(t, err)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	got := make(chan *Endpoint, 1)
	go func() {
		ep, err := p.Acquire(context.Background())
		if err != nil {
			t.Errorf("Acquire failed: %v", err)
		}
		got <- ep
	}()

	select {
	case <-got:
		t.Fatal("Acquire should block while the only endpoint is held")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(held)

	select {
	case ep := <-got:
		assert.Same(t, held, ep)
		p.Release(ep)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by Release")
	}
}

func TestAcquire_ContextCancel(t *testing.T) {
	p, err := New([]string{"a:1"})
	require.NoError(t, err)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(held)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, p.Busy())
}

func TestRelease_Panics(t *testing.T) {
	p, err := New([]string{"a:1"})
	require.NoError(t, err)
	other, err := New([]string{"a:1"})
	require.NoError(t, err)

	ep := p.Endpoints()[0]
	assert.Panics(t, func() { p.Release(ep) }, "release of a free endpoint")

	held, err := other.Acquire(context.Background())
	require.NoError(t, err)
	assert.Panics(t, func() { p.Release(held) }, "release of a foreign endpoint")
	assert.Panics(t, func() { p.Release(nil) })
}

func TestDo_NeverExceedsEndpointCount(t *testing.T) {
	addrs := []string{"a:1", "b:2", "c:3"}
	p, err := New(addrs)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		inFlight atomic.Int32
		peak     atomic.Int32
		mu       sync.Mutex
		holders  = make(map[string]int)
	)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				err := p.Do(context.Background(), func(ep *Endpoint) error {
					n := inFlight.Add(1)
					defer inFlight.Add(-1)
					for {
						old := peak.Load()
						if n <= old || peak.CompareAndSwap(old, n) {
							break
						}
					}

					mu.Lock()
					holders[ep.Addr]++
					if holders[ep.Addr] > 1 {
						t.Errorf("endpoint %s held by two callers", ep.Addr)
					}
					mu.Unlock()

					time.Sleep(time.Millisecond)

					mu.Lock()
					holders[ep.Addr]--
					mu.Unlock()
					return nil
				})
				if err != nil {
					t.Errorf("Do failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, int(peak.Load()), len(addrs))
	assert.LessOrEqual(t, p.MaxBusy(), p.Size())
	assert.Equal(t, 0, p.Busy())
}

func TestDo_ReleasesOnErrorAndPanic(t *testing.T) {
	p, err := New([]string{"a:1"})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = p.Do(context.Background(), func(*Endpoint) error { return boom })
	assert.Equal(t, boom, err)
	assert.Equal(t, 0, p.Busy())

	assert.Panics(t, func() {
		_ = p.Do(context.Background(), func(*Endpoint) error { panic("fn") })
	})
	assert.Equal(t, 0, p.Busy())
}
