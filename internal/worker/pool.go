package worker

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ProcessFunc runs one job to completion.
type ProcessFunc func(id uuid.UUID) error

// Pool dispatches job executions. With workers > 0 at most that many jobs
// run at once and the rest wait in FIFO order; with workers <= 0 every job
// gets its own goroutine. Submit never blocks the caller.
type Pool struct {
	process ProcessFunc
	workers int
	log     zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []uuid.UUID
	stopped bool

	running sync.WaitGroup // in-flight executions
	loops   sync.WaitGroup // worker goroutines
}

func NewPool(process ProcessFunc, workers int, logger zerolog.Logger) *Pool {
	p := &Pool{
		process: process,
		workers: workers,
		log:     logger.With().Str("component", "pool").Logger(),
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < workers; i++ {
		p.loops.Add(1)
		go p.loop(i + 1)
	}
	p.log.Info().Int("workers", workers).Msg("worker pool started")
	return p
}

// Submit schedules id for execution. It reports false once the pool has
// been stopped.
func (p *Pool) Submit(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return false
	}

	p.running.Add(1)
	if p.workers <= 0 {
		go func() {
			defer p.running.Done()
			p.run(0, id)
		}()
		return true
	}

	p.pending = append(p.pending, id)
	p.cond.Signal()
	return true
}

func (p *Pool) loop(n int) {
	defer p.loops.Done()

	for {
		p.mu.Lock()
		for len(p.pending) == 0 && !p.stopped {
			p.cond.Wait()
		}
		if len(p.pending) == 0 {
			p.mu.Unlock()
			return
		}
		id := p.pending[0]
		p.pending = p.pending[1:]
		p.mu.Unlock()

		p.run(n, id)
		p.running.Done()
	}
}

func (p *Pool) run(n int, id uuid.UUID) {
	if err := p.process(id); err != nil {
		p.log.Warn().Int("worker", n).Str("job_id", id.String()).Err(err).Msg("process job error")
	}
}

// Stop rejects new submissions and waits until queued and in-flight jobs
// have returned or ctx is done. Callers cancel the jobs first so that
// queued ones return immediately.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.running.Wait()
		p.loops.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info().Msg("worker pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
