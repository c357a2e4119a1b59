package sandbox

import (
	"context"
	"sync"
)

// Pool manages a pool of reusable runtimes
type Pool struct {
	config    Config
	sandboxes chan *pooled
	size      int

	mu         sync.RWMutex
	generation uint64
	closed     bool
}

type pooled struct {
	*Runtime
	generation uint64
}

// PoolStats describes pool occupancy.
type PoolStats struct {
	Size       int    `json:"size"`
	Available  int    `json:"available"`
	InUse      int    `json:"in_use"`
	Generation uint64 `json:"generation"`
	Closed     bool   `json:"closed"`
}

// NewPool creates a runtime pool
func NewPool(config Config, size int) (*Pool, error) {
	if size <= 0 {
		size = 4
	}

	pool := &Pool{
		config:    config,
		sandboxes: make(chan *pooled, size),
		size:      size,
	}

	for i := 0; i < size; i++ {
		rt, err := New(config)
		if err != nil {
			pool.Close()
			return nil, err
		}
		pool.sandboxes <- &pooled{Runtime: rt}
	}

	return pool, nil
}

// acquire takes an idle runtime, replacing it first if it predates the
// last Reset.
func (p *Pool) acquire(ctx context.Context) (*pooled, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrPoolClosed
	}

	var rt *pooled
	select {
	case got, ok := <-p.sandboxes:
		if !ok {
			return nil, ErrPoolClosed
		}
		rt = got
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.RLock()
	generation := p.generation
	p.mu.RUnlock()
	if rt.generation == generation {
		return rt, nil
	}

	fresh, err := New(p.config)
	if err != nil {
		p.release(rt)
		return nil, err
	}
	rt.Close()
	return &pooled{Runtime: fresh, generation: generation}, nil
}

func (p *Pool) release(rt *pooled) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		rt.Close()
		return
	}
	if err := rt.Reset(); err != nil {
		rt.Close()
		fresh, err := New(p.config)
		if err != nil {
			return
		}
		rt = &pooled{Runtime: fresh, generation: rt.generation}
	}

	select {
	case p.sandboxes <- rt:
	default:
		rt.Close()
	}
}

// Execute runs source on a pooled runtime, waiting for one to free up.
func (p *Pool) Execute(ctx context.Context, source string, doc *Document) (*Result, error) {
	rt, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.release(rt)

	return rt.Execute(ctx, source, doc)
}

// Reset retires every runtime, idle or busy. Each is replaced with a
// fresh one the next time it is acquired.
func (p *Pool) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.generation++
	return nil
}

// Close closes pool and all runtimes
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	close(p.sandboxes)

	for rt := range p.sandboxes {
		rt.Close()
	}

	return nil
}

// Stats returns pool statistics
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	available := len(p.sandboxes)
	return PoolStats{
		Size:       p.size,
		Available:  available,
		InUse:      p.size - available,
		Generation: p.generation,
		Closed:     p.closed,
	}
}
