package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// AsyncRunner executes best-effort side effects (provider calls,
// notifications) off the inbound acknowledgment path. Tasks get their own
// retry/backoff policy; a task that exhausts retries is logged and dropped,
// never propagated back to the event handler.
type AsyncRunner struct {
	logger *slog.Logger
	tasks  chan asyncTask

	maxElapsed time.Duration

	mu     sync.Mutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

type asyncTask struct {
	name string
	fn   func(ctx context.Context) error
}

func NewAsyncRunner(workers, buffer int, logger *slog.Logger) *AsyncRunner {
	if workers <= 0 {
		workers = 4
	}
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &AsyncRunner{
		logger:     logger.With("subsystem", "async"),
		tasks:      make(chan asyncTask, buffer),
		maxElapsed: 2 * time.Minute,
		ctx:        ctx,
		cancel:     cancel,
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

func (r *AsyncRunner) worker() {
	defer r.wg.Done()
	for t := range r.tasks {
		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = r.maxElapsed
		err := backoff.Retry(func() error {
			return t.fn(r.ctx)
		}, backoff.WithContext(bo, r.ctx))
		if err != nil {
			r.logger.Error("async side effect failed", "task", t.name, "err", err)
			asyncTasksFailed.WithLabelValues(t.name).Inc()
		}
	}
}

// Submit queues a task without blocking. When the queue is full the task is
// dropped with a log line; these are best-effort effects and backpressure
// must not reach the webhook handler.
func (r *AsyncRunner) Submit(name string, fn func(ctx context.Context) error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		r.logger.Warn("async runner shut down, dropping task", "task", name)
		return
	}
	select {
	case r.tasks <- asyncTask{name: name, fn: fn}:
		asyncTasksSubmitted.WithLabelValues(name).Inc()
	default:
		r.logger.Error("async queue full, dropping task", "task", name)
		asyncTasksDropped.WithLabelValues(name).Inc()
	}
}

// Shutdown stops accepting tasks, lets in-flight work drain until ctx
// expires, then cancels whatever is left.
func (r *AsyncRunner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.tasks)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}
