// Package sweeper runs periodic cleanup tasks off the request path.
package sweeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultTimeout = 30 * time.Second

// Task is one periodic job. Run returns the number of records it removed.
// A Task with a non-positive Interval is never scheduled.
type Task struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Run      func(ctx context.Context) (int, error)
}

// ResultFunc observes the outcome of every run.
type ResultFunc func(task string, removed int, err error)

// Runner owns one goroutine per scheduled task.
type Runner struct {
	log      *zap.Logger
	tasks    []Task
	onResult ResultFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New returns a stopped Runner.
func New(log *zap.Logger, onResult ResultFunc, tasks ...Task) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{log: log.Named("sweeper"), tasks: tasks, onResult: onResult}
}

// Start schedules every task. It is a no-op when already running.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.running = true

	for _, t := range r.tasks {
		if t.Interval <= 0 || t.Run == nil {
			continue
		}
		r.wg.Add(1)
		go r.loop(ctx, t)
	}
}

// Stop cancels every task and waits for in-flight runs to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.running = false
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, t Task) {
	defer r.wg.Done()
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx, t)
		}
	}
}

// RunOnce executes t immediately with its timeout and reports the result.
func (r *Runner) RunOnce(ctx context.Context, t Task) (int, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	n, err := t.Run(ctx)
	if err != nil {
		r.log.Warn("sweep failed", zap.String("task", t.Name), zap.Error(err))
	} else if n > 0 {
		r.log.Debug("sweep done",
			zap.String("task", t.Name),
			zap.Int("removed", n),
			zap.Duration("took", time.Since(start)),
		)
	}
	if r.onResult != nil {
		r.onResult(t.Name, n, err)
	}
	return n, err
}
