package world

import (
	"sync"

	"go.uber.org/zap"
)

// loaderPool runs chunk loads on a fixed set of worker goroutines. When the
// queue is full, the job gets a goroutine of its own so submit never blocks
// the loop.
type loaderPool struct {
	jobs    chan func()
	closeCh chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	log     *zap.Logger
}

func newLoaderPool(workers, queue int, log *zap.Logger) *loaderPool {
	p := &loaderPool{
		jobs:    make(chan func(), queue),
		closeCh: make(chan struct{}),
		log:     log,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *loaderPool) work() {
	defer p.wg.Done()
	for {
		select {
		case <-p.closeCh:
			return
		case job := <-p.jobs:
			p.run(job)
		}
	}
}

func (p *loaderPool) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("chunk loader panicked", zap.Any("panic", r))
		}
	}()
	job()
}

func (p *loaderPool) submit(job func()) {
	select {
	case <-p.closeCh:
		go p.run(job)
		return
	default:
	}
	select {
	case p.jobs <- job:
	default:
		p.log.Debug("loader queue full, spilling to goroutine")
		go p.run(job)
	}
}

// close stops the workers. Queued jobs that were not started are run on
// their own goroutines so their callbacks still fire.
func (p *loaderPool) close() {
	p.once.Do(func() {
		close(p.closeCh)
		p.wg.Wait()
		for {
			select {
			case job := <-p.jobs:
				go p.run(job)
			default:
				return
			}
		}
	})
}
