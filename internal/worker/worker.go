package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/LeoCommon/altcom/pkg/log"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultWorkers   = 2
	DefaultQueueSize = 32
)

type JobFunction func(context.Context, interface{}) error

var (
	ErrPoolShutdown = errors.New("worker pool is shut down")
	ErrQueueFull    = errors.New("worker queue is full")
)

type Job struct {
	Argument    interface{}
	Command     JobFunction
	PostExecute func(error)
	// Discard runs instead of Command when the pool shuts down with the job still queued
	Discard func()
	name    string
	id      string // An unique ID
}

func NewJob(name string, command JobFunction, arg interface{}) *Job {
	return &Job{
		id:       uuid.NewString(),
		name:     name,
		Command:  command,
		Argument: arg,
	}
}

func (j *Job) ID() string {
	return j.id
}

// Pool runs jobs on a fixed number of goroutines. Submit never blocks,
// so the frame receive path cannot be stalled by slow callbacks.
type Pool struct {
	lock     sync.RWMutex
	workers  int
	queue    chan *Job
	running  map[string]*Job
	shutdown bool
	started  bool
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewPool(numWorkers int, queueSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers: numWorkers,
		queue:   make(chan *Job, queueSize),
		running: make(map[string]*Job),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers, calling it twice has no effect
func (p *Pool) Start() {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.started || p.shutdown {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

// Submit queues a job without blocking
func (p *Pool) Submit(job *Job) error {
	p.lock.RLock()
	defer p.lock.RUnlock()

	if p.shutdown {
		return ErrPoolShutdown
	}

	select {
	case p.queue <- job:
		return nil
	default:
		return fmt.Errorf("%w: %s dropped", ErrQueueFull, job.name)
	}
}

func (p *Pool) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.queue:
			p.execute(job)
		}
	}
}

func (p *Pool) execute(job *Job) {
	p.lock.Lock()
	p.running[job.id] = job
	p.lock.Unlock()

	defer func() {
		p.lock.Lock()
		delete(p.running, job.id)
		p.lock.Unlock()
	}()

	err := p.protect(job)
	if job.PostExecute != nil {
		job.PostExecute(err)
	} else if err != nil {
		log.Error("job finished with error", zap.String("job", job.name), zap.String("id", job.id), zap.Error(err))
	}
}

// protect keeps a panicking user callback from taking the worker down
func (p *Pool) protect(job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.name, r)
		}
	}()
	return job.Command(p.ctx, job.Argument)
}

// HasRunningJob returns true if at least one job is running, false otherwise
func (p *Pool) HasRunningJob() bool {
	p.lock.RLock()
	defer p.lock.RUnlock()

	return len(p.running) != 0
}

// Queued is the number of jobs waiting for a worker
func (p *Pool) Queued() int {
	return len(p.queue)
}

// Shutdown stops the workers after their current job and discards queued jobs
func (p *Pool) Shutdown() {
	p.lock.Lock()
	if p.shutdown {
		p.lock.Unlock()
		return
	}
	p.shutdown = true
	p.cancel()
	p.lock.Unlock()

	// Wait for all workers to terminate
	p.wg.Wait()

	for {
		select {
		case job := <-p.queue:
			log.Debug("discarding queued job", zap.String("job", job.name), zap.String("id", job.id))
			if job.Discard != nil {
				job.Discard()
			}
		default:
			return
		}
	}
}
