// Package worker runs submitted tasks on a fixed-size pool backed by an
// unbounded FIFO queue. Submit never blocks and never rejects; backpressure
// is visible through the queue depth gauge instead.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/metrics"
)

// Run is the unit of work executed by the pool.
type Run struct {
	TaskID string
	Do     func(ctx context.Context)
}

// Pool executes runs with a fixed number of workers. A panic inside a run is
// recovered, reported through onPanic, and never takes a worker down.
type Pool struct {
	logger  *zap.Logger
	onPanic func(taskID string, cause error)

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Run
	closed  bool
	baseCtx context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPool creates a pool with the given number of workers and starts them.
// onPanic is invoked after a recovered panic so the caller can mark the task
// failed; it may be nil.
func NewPool(size int, logger *zap.Logger, onPanic func(taskID string, cause error)) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		logger:  logger,
		onPanic: onPanic,
		baseCtx: ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	var wg sync.WaitGroup
	wg.Add(size)
	for i := 0; i < size; i++ {
		go func(id int) {
			defer wg.Done()
			p.worker(id)
		}(i)
	}
	go func() {
		wg.Wait()
		close(p.done)
	}()
	return p
}

// Submit enqueues a run. It always accepts unless the pool is shutting down.
func (p *Pool) Submit(run Run) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.queue = append(p.queue, run)
	metrics.WorkerQueueDepth.Set(float64(len(p.queue)))
	p.cond.Signal()
	return true
}

// QueueDepth reports the number of runs waiting for a worker.
func (p *Pool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Shutdown stops accepting new runs and waits for workers to drain the queue
// or for ctx to expire, whichever comes first.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		// Give up on draining; cancel in-flight runs.
		p.cancel()
		<-p.done
		return ctx.Err()
	}
}

func (p *Pool) worker(id int) {
	for {
		run, ok := p.next()
		if !ok {
			return
		}
		metrics.WorkerActiveRuns.Inc()
		p.execute(id, run)
		metrics.WorkerActiveRuns.Dec()
	}
}

// next blocks until a run is available or the pool is closed and drained.
func (p *Pool) next() (Run, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 {
		if p.closed {
			return Run{}, false
		}
		p.cond.Wait()
	}
	run := p.queue[0]
	p.queue = p.queue[1:]
	metrics.WorkerQueueDepth.Set(float64(len(p.queue)))
	return run, true
}

func (p *Pool) execute(workerID int, run Run) {
	defer func() {
		if r := recover(); r != nil {
			metrics.WorkerPanicsRecovered.Inc()
			p.logger.Error("Recovered panic in task run",
				zap.Int("worker_id", workerID),
				zap.String("task_id", run.TaskID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			if p.onPanic != nil {
				p.onPanic(run.TaskID, fmt.Errorf("panic: %v", r))
			}
		}
	}()
	run.Do(p.baseCtx)
}
