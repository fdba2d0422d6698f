// Package dispatch runs slow side effects (command publishes, notifications)
// on a bounded worker pool so the control loop never waits on them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/face-trigger/internal/logic"
)

// Task kinds.
const (
	KindPublish = "publish"
	KindNotify  = "notify"
)

var (
	// ErrPoolFull is returned by Submit when the queue has no room.
	ErrPoolFull = errors.New("worker pool queue is full")
	// ErrPoolClosed is returned by Submit after Stop.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolNotStarted is returned by Submit before Start.
	ErrPoolNotStarted = errors.New("worker pool not started")
)

// Task is one unit of background work.
type Task struct {
	Kind     string
	Identity logic.Identity
	Run      func(ctx context.Context) error
}

// Result reports how a task finished.
type Result struct {
	Task     Task
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Pool is a fixed set of workers reading from a bounded queue.
type Pool struct {
	workers int
	log     *zap.SugaredLogger

	taskCh   chan Task
	resultCh chan Result
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewPool creates a pool with the given worker count and queue capacity.
func NewPool(workers, queue int, log *zap.SugaredLogger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Pool{
		workers:  workers,
		log:      log,
		taskCh:   make(chan Task, queue),
		resultCh: make(chan Result, queue+workers),
	}
}

// Start launches the workers. Tasks run under a context derived from ctx
// that Stop cancels once the grace period runs out.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if p.started {
		return errors.New("pool already started")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	go func() {
		p.wg.Wait()
		close(p.resultCh)
	}()

	p.started = true
	return nil
}

// Submit enqueues task without blocking.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.closed:
		return ErrPoolClosed
	case !p.started:
		return ErrPoolNotStarted
	}

	select {
	case p.taskCh <- task:
		return nil
	default:
		return ErrPoolFull
	}
}

// Results delivers one Result per finished task. It is closed after all
// workers exit.
func (p *Pool) Results() <-chan Result {
	return p.resultCh
}

// Stop refuses new tasks and waits up to grace for queued and in-flight
// tasks. It then cancels the task context; anything still running is
// abandoned. Returns true if everything finished within grace.
func (p *Pool) Stop(grace time.Duration) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return true
	}
	p.closed = true
	started := p.started
	close(p.taskCh)
	p.mu.Unlock()

	if !started {
		close(p.resultCh)
		return true
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		p.cancel()
		return true
	case <-timer.C:
		p.log.Warnw("worker pool grace period expired, abandoning tasks", "grace", grace)
		p.cancel()
		return false
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskCh:
			if !ok {
				return
			}
			p.deliver(p.execute(task))
		}
	}
}

func (p *Pool) execute(task Task) (res Result) {
	res = Result{Task: task, Started: time.Now()}

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("task panicked: %v", r)
			p.log.Errorw("task panicked",
				"kind", task.Kind,
				"identity", string(task.Identity),
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()))
		}
		res.Duration = time.Since(res.Started)
	}()

	if task.Run == nil {
		res.Err = errors.New("task has no run function")
		return res
	}
	res.Err = task.Run(p.ctx)
	return res
}

func (p *Pool) deliver(res Result) {
	select {
	case p.resultCh <- res:
	case <-p.ctx.Done():
	}
}
