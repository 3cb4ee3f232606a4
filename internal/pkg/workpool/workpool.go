package workpool

import "sync"

// Pool is a bounded worker pool. At most size jobs run at once; further
// submissions queue on the semaphore rather than spawning unbounded
// goroutines against the same file lock.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Submit schedules job on the pool and returns a channel that yields
// its result. The caller is never blocked by submission itself, only by
// reading the channel.
func (p *Pool) Submit(job func() error) <-chan error {
	done := make(chan error, 1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
		done <- job()
	}()
	return done
}

// Wait blocks until every submitted job has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}
