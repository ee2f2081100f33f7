package quality

import "context"

// Pool bounds how many deep reviews run concurrently across all projects.
// A semaphore-guarded goroutine pool is the whole mechanism a bounded local
// fan-out needs here; no example repo carries a worker-pool library worth
// pulling in for this (documented in DESIGN.md).
type Pool struct {
	sem chan struct{}
}

// NewPool constructs a Pool that runs at most size tasks concurrently.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Submit runs fn on a pool goroutine once a slot is free, or returns
// ctx.Err() without running fn if ctx is cancelled first. Submit itself
// does not block past acquiring a slot; it returns immediately after
// launching fn.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context)) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	go func() {
		defer func() { <-p.sem }()
		fn(ctx)
	}()
	return nil
}
