package solver

import (
	"runtime"
	"sync"
)

// defaultParallelThreshold is the minimum particle count to fan a pass out to
// the workers. Below this, single-threaded is faster due to goroutine overhead.
const defaultParallelThreshold = 256

// passFunc processes particles [start, end) and returns the first flagged
// particle index, or -1.
type passFunc func(start, end int) int

// workChunk represents a range of particles for a worker to process.
type workChunk struct {
	start, end int
	pass       passFunc
}

// workerPool runs one pass at a time over persistent goroutines. run returns
// only after every chunk of the pass has finished, which is the barrier
// between the force and integration passes.
type workerPool struct {
	numWorkers int
	threshold  int

	workChan chan workChunk
	doneChan chan int
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
}

func newWorkerPool(numWorkers, threshold int) *workerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	if threshold <= 0 {
		threshold = defaultParallelThreshold
	}
	return &workerPool{numWorkers: numWorkers, threshold: threshold}
}

// start launches the worker goroutines.
func (p *workerPool) start() {
	if p.running {
		return
	}

	p.workChan = make(chan workChunk, p.numWorkers)
	p.doneChan = make(chan int, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// stop signals all workers to exit and waits for them.
func (p *workerPool) stop() {
	if !p.running {
		return
	}

	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

func (p *workerPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case chunk, ok := <-p.workChan:
			if !ok {
				return
			}
			p.doneChan <- chunk.pass(chunk.start, chunk.end)
		}
	}
}

// run executes pass over n particles and returns the lowest flagged index, or -1.
func (p *workerPool) run(n int, pass passFunc) int {
	if n == 0 {
		return -1
	}
	if n < p.threshold || p.numWorkers == 1 {
		return pass(0, n)
	}
	if !p.running {
		p.start()
	}

	chunkSize := (n + p.numWorkers - 1) / p.numWorkers

	dispatched := 0
	for w := 0; w < p.numWorkers; w++ {
		start := w * chunkSize
		end := min(start+chunkSize, n)
		if start >= end {
			continue
		}
		p.workChan <- workChunk{start: start, end: end, pass: pass}
		dispatched++
	}

	flagged := -1
	for i := 0; i < dispatched; i++ {
		if idx := <-p.doneChan; idx >= 0 && (flagged < 0 || idx < flagged) {
			flagged = idx
		}
	}
	return flagged
}
