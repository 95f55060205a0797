package async

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SafeGo executes fn in a goroutine with panic recovery, a per-task
// deadline and error logging. Use this instead of a bare `go func()` for
// side effects whose failure must never reach the caller.
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logrus.WithFields(logrus.Fields{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logrus.WithField("task", taskName).WithError(err).Warn("background task failed")
		}
	}()
}

// Pool runs submitted tasks on a fixed set of workers. Each task gets its
// own deadline; panics and errors are logged, never returned.
type Pool struct {
	taskName     string
	timeout      time.Duration
	workCh       chan func(context.Context) error
	doneCh       chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// NewPool creates a pool with the given number of workers.
func NewPool(ctx context.Context, workers int, taskName string, timeout time.Duration) *Pool {
	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		taskName: taskName,
		timeout:  timeout,
		workCh:   make(chan func(context.Context) error, workers*2),
		doneCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.worker()
			}()
		}
		wg.Wait()
		close(p.doneCh)
	}()

	return p
}

// Submit queues a task. Tasks submitted after shutdown are dropped with a
// log line rather than blocking the caller.
func (p *Pool) Submit(fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			// Send on closed channel: shutdown raced the submit.
			logrus.WithField("task", p.taskName).Warn("task dropped, pool shut down")
		}
	}()

	select {
	case p.workCh <- fn:
	case <-p.doneCh:
		logrus.WithField("task", p.taskName).Warn("task dropped, pool shut down")
	}
}

// Shutdown drains queued tasks and waits up to timeout for workers to
// finish.
func (p *Pool) Shutdown(timeout time.Duration) {
	p.shutdownOnce.Do(func() {
		close(p.workCh)
		select {
		case <-p.doneCh:
		case <-time.After(timeout):
			logrus.WithField("task", p.taskName).Warn("pool shutdown timed out")
		}
		p.cancel()
	})
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case fn, ok := <-p.workCh:
			if !ok {
				return
			}
			p.run(fn)
		}
	}
}

func (p *Pool) run(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"task":  p.taskName,
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("panic in pool task")
		}
	}()

	if err := fn(ctx); err != nil {
		logrus.WithField("task", p.taskName).WithError(err).Warn("pool task failed")
	}
}
