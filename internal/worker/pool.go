// Package worker provides the bounded pool that runs persistence jobs
// detached from request handling.
package worker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultMinWorkers = 1
	defaultMaxWorkers = 8
	defaultQueueSize  = 64
	defaultWorkerIdle = 30 * time.Second
)

// Pool keeps between min and max workers alive. Workers above the minimum
// retire after sitting idle; new ones spawn when jobs queue up. Submit never
// blocks the caller.
type Pool struct {
	jobs chan func()
	quit chan struct{}
	log  zerolog.Logger

	mu      sync.Mutex
	running int
	min     int
	max     int
	idle    time.Duration

	closeOnce sync.Once
}

func NewPool(minWorkers, maxWorkers, queueSize int, idle time.Duration, log zerolog.Logger) *Pool {
	if minWorkers <= 0 {
		minWorkers = defaultMinWorkers
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
		if maxWorkers < defaultMaxWorkers {
			maxWorkers = defaultMaxWorkers
		}
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if idle <= 0 {
		idle = defaultWorkerIdle
	}
	p := &Pool{
		jobs: make(chan func(), queueSize),
		quit: make(chan struct{}),
		log:  log,
		min:  minWorkers,
		max:  maxWorkers,
		idle: idle,
	}
	for i := 0; i < minWorkers; i++ {
		p.spawn()
	}
	return p
}

// Submit schedules a job. When the queue is full and the pool is at capacity
// the job runs on its own goroutine, so persistence work is never dropped and
// never backs up into the submitting request.
func (p *Pool) Submit(job func()) {
	if job == nil {
		return
	}
	select {
	case p.jobs <- job:
		p.maybeSpawn()
	default:
		go p.runJob(job)
	}
}

func (p *Pool) maybeSpawn() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running >= p.max || len(p.jobs) == 0 {
		return
	}
	p.running++
	go p.work()
}

func (p *Pool) spawn() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running >= p.max {
		return
	}
	p.running++
	go p.work()
}

func (p *Pool) work() {
	idle := time.NewTimer(p.idle)
	defer idle.Stop()
	for {
		select {
		case job := <-p.jobs:
			p.runJob(job)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.idle)
		case <-idle.C:
			p.mu.Lock()
			if p.running > p.min {
				p.running--
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
			idle.Reset(p.idle)
		case <-p.quit:
			p.mu.Lock()
			p.running--
			p.mu.Unlock()
			return
		}
	}
}

func (p *Pool) runJob(job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("persistence job panicked")
		}
	}()
	job()
}

// Shutdown stops all workers. Queued jobs that have not started are drained
// and run inline so nothing pending is lost.
func (p *Pool) Shutdown() {
	p.closeOnce.Do(func() {
		close(p.quit)
		for {
			select {
			case job := <-p.jobs:
				p.runJob(job)
			default:
				return
			}
		}
	})
}
