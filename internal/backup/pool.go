package backup

import (
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"pibackup/internal/syncutil"
)

// DefaultPoolSize is the number of workers running long tasks.
const DefaultPoolSize = 2

const queueFactor = 8

// Pool runs tasks on a fixed number of workers. Submit never blocks; a full
// queue is reported as ErrPoolFull.
type Pool struct {
	tasks  chan func()
	group  errgroup.Group
	logger Logger

	mu     syncutil.RWMutex
	closed bool
}

// NewPool starts size workers. A size below 1 uses DefaultPoolSize.
func NewPool(size int, logger Logger) *Pool {
	if size < 1 {
		size = DefaultPoolSize
	}
	p := &Pool{
		tasks:  make(chan func(), size*queueFactor),
		logger: logger,
	}
	for range size {
		p.group.Go(p.work)
	}
	return p
}

func (p *Pool) work() error {
	for task := range p.tasks {
		p.run(task)
	}
	return nil
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	task()
}

// Submit enqueues task.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrPoolFull
	}
}

// Close stops accepting tasks, lets queued tasks finish and waits for the workers.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	return p.group.Wait()
}
