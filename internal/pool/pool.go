// Package pool arbitrates exclusive short-term ownership of ingestion endpoints.
package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// ErrEmpty is returned when a pool is created without endpoints.
var ErrEmpty = errors.New("pool: no endpoints configured")

// Endpoint is one destination host:port.
//
// The busy flag is owned by the Pool and only changes under its lock.
type Endpoint struct {
	Addr string

	index int
	busy  bool
}

// URL returns the ingestion URL for the endpoint.
func (e *Endpoint) URL() string {
	if strings.HasPrefix(e.Addr, "http://") || strings.HasPrefix(e.Addr, "https://") {
		return e.Addr
	}
	return "http://" + e.Addr
}

func (e *Endpoint) String() string {
	return e.Addr
}

// Pool holds a fixed set of endpoints and hands each one to at most one
// caller at a time. Free endpoints are picked uniformly at random so that
// workers restarting together do not herd onto the same destination.
//
// Pool is safe for concurrent use.
type Pool struct {
	endpoints []*Endpoint

	mu      sync.Mutex
	free    []int
	rnd     *rand.Rand
	waitCh  chan struct{}
	busy    int
	maxBusy int
}

// New creates a pool from a list of addresses. Duplicates are dropped,
// keeping the first occurrence.
func New(addrs []string) (*Pool, error) {
	seen := make(map[string]bool, len(addrs))
	p := &Pool{
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		waitCh: make(chan struct{}),
	}

	for _, addr := range addrs {
		addr = strings.TrimSpace(addr)
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		ep := &Endpoint{Addr: addr, index: len(p.endpoints)}
		p.endpoints = append(p.endpoints, ep)
		p.free = append(p.free, ep.index)
	}

	if len(p.endpoints) == 0 {
		return nil, ErrEmpty
	}
	return p, nil
}

// Parse splits a comma separated connection list and builds a pool.
func Parse(conns string) (*Pool, error) {
	return New(strings.Split(conns, ","))
}

// Size returns the number of endpoints.
func (p *Pool) Size() int {
	return len(p.endpoints)
}

// Endpoints returns the endpoints in configuration order.
func (p *Pool) Endpoints() []*Endpoint {
	out := make([]*Endpoint, len(p.endpoints))
	copy(out, p.endpoints)
	return out
}

// Busy returns the number of endpoints currently held.
func (p *Pool) Busy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

// MaxBusy returns the highest number of simultaneously held endpoints seen.
func (p *Pool) MaxBusy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxBusy
}

// Acquire blocks until a free endpoint can be claimed or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Endpoint, error) {
	for {
		p.mu.Lock()
		if len(p.free) > 0 {
			ep := p.claimLocked()
			p.mu.Unlock()
			return ep, nil
		}
		wait := p.waitCh
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// TryAcquire claims a free endpoint without blocking.
func (p *Pool) TryAcquire() (*Endpoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil, false
	}
	return p.claimLocked(), true
}

// claimLocked removes a random free endpoint and marks it busy.
func (p *Pool) claimLocked() *Endpoint {
	i := p.rnd.Intn(len(p.free))
	idx := p.free[i]
	last := len(p.free) - 1
	p.free[i] = p.free[last]
	p.free = p.free[:last]

	ep := p.endpoints[idx]
	ep.busy = true
	p.busy++
	if p.busy > p.maxBusy {
		p.maxBusy = p.busy
	}
	return ep
}

// Release returns an endpoint to the pool and wakes waiting callers.
//
// Releasing an endpoint that is not held is a programming error and panics.
func (p *Pool) Release(ep *Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ep == nil || ep.index >= len(p.endpoints) || p.endpoints[ep.index] != ep {
		panic(fmt.Sprintf("pool: release of unknown endpoint %v", ep))
	}
	if !ep.busy {
		panic(fmt.Sprintf("pool: release of endpoint %s that is not held", ep.Addr))
	}

	ep.busy = false
	p.busy--
	p.free = append(p.free, ep.index)

	// Wake every waiter; the ones that lose the race go back to waiting.
	close(p.waitCh)
	p.waitCh = make(chan struct{})
}

// Do acquires an endpoint, runs fn with it and releases it on every exit
// path, including panics.
func (p *Pool) Do(ctx context.Context, fn func(ep *Endpoint) error) error {
	ep, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(ep)
	return fn(ep)
}
