package node

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/byzhang/terrastore/internal/metrics"
	"go.uber.org/zap"
)

// task is a unit of work submitted to a workerPool.
type task struct {
	id string
	fn func(context.Context) error
	ctx context.Context
}

// workerPool is the bounded goroutine pool backing a LocalNode's command
// execution (§4.4, §5 "one worker pool per local node"). Adapted from the
// reference corpus's internal/util/workerpool.Pool: a channel-backed task
// queue, a fixed set of worker goroutines, panic-recovering execution and
// atomic counters, but trimmed to the fields this domain actually reads.
type workerPool struct {
	name       string
	maxWorkers int

	queue    chan task
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	logger  *zap.Logger
	metrics *metrics.Metrics

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

func newWorkerPool(name string, maxWorkers, queueSize int, logger *zap.Logger, met *metrics.Metrics) *workerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = maxWorkers * 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &workerPool{
		name:       name,
		maxWorkers: maxWorkers,
		queue:      make(chan task, queueSize),
		stopCh:     make(chan struct{}),
		logger:     logger,
		metrics:    met,
	}

	for i := 0; i < maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

func (p *workerPool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case t := <-p.queue:
			p.run(id, t)
		}
	}
}

func (p *workerPool) run(workerID int, t task) {
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.metrics.RecordPoolFailure()
			p.logger.Error("task panicked",
				zap.String("pool", p.name),
				zap.Int("worker", workerID),
				zap.String("task_id", t.id),
				zap.Any("panic", r))
		}
	}()

	ctx := t.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := t.fn(ctx); err != nil {
		p.failed.Add(1)
		p.metrics.RecordPoolFailure()
	} else {
		p.completed.Add(1)
	}
}

// submit enqueues t, blocking until a slot is free, the pool stops, or ctx is
// canceled — whichever comes first.
func (p *workerPool) submit(ctx context.Context, t task) error {
	select {
	case <-p.stopCh:
		return fmt.Errorf("worker pool %q is stopped", p.name)
	case <-ctx.Done():
		return ctx.Err()
	case p.queue <- t:
		p.submitted.Add(1)
		p.metrics.SetPoolQueued(len(p.queue))
		return nil
	}
}

// stop drains in-flight workers, waiting up to timeout.
func (p *workerPool) stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stopCh)
		done := make(chan struct{})
		go func() { p.wg.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool %q stop timed out after %s", p.name, timeout)
		}
	})
	return err
}
