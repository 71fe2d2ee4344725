// Package parallel runs data-parallel batch work on a fixed set of goroutine
// lanes with per-lane queues and work stealing.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool is a set of long-lived worker goroutines ("lanes").
//
// Each lane owns a queue; an idle lane steals from the others, which keeps
// lanes busy when some chunks of a batch take much longer than others (an
// orbit that escapes after 10 steps next to one that runs for thousands).
//
// Pool is safe for concurrent use.
type Pool struct {
	lanes  int
	queues []chan func()
	done   chan struct{}
	wg     sync.WaitGroup

	running atomic.Bool
}

// NewPool starts a pool with the given number of lanes.
// If lanes is 0 or negative, GOMAXPROCS is used.
func NewPool(lanes int) *Pool {
	if lanes <= 0 {
		lanes = runtime.GOMAXPROCS(0)
	}

	queueSize := max(lanes*4, 8)

	p := &Pool{
		lanes:  lanes,
		queues: make([]chan func(), lanes),
		done:   make(chan struct{}),
	}
	for i := range lanes {
		p.queues[i] = make(chan func(), queueSize)
	}

	p.running.Store(true)
	p.wg.Add(lanes)
	for i := range lanes {
		go p.lane(i)
	}
	return p
}

func (p *Pool) lane(id int) {
	defer p.wg.Done()

	own := p.queues[id]
	for {
		select {
		case <-p.done:
			p.drain(own)
			return
		case work := <-own:
			work()
		default:
			if stolen := p.steal(id); stolen != nil {
				stolen()
				continue
			}
			select {
			case <-p.done:
				p.drain(own)
				return
			case work := <-own:
				work()
			}
		}
	}
}

func (p *Pool) drain(queue chan func()) {
	for {
		select {
		case work := <-queue:
			work()
		default:
			return
		}
	}
}

func (p *Pool) steal(id int) func() {
	for i := range p.lanes {
		if i == id {
			continue
		}
		select {
		case work := <-p.queues[i]:
			return work
		default:
		}
	}
	return nil
}

// ExecuteAll runs every work item and returns once all have completed: a
// fan-out followed by a join barrier. On a closed pool the items run on the
// calling goroutine.
func (p *Pool) ExecuteAll(work []func()) {
	if len(work) == 0 {
		return
	}
	if !p.running.Load() {
		for _, fn := range work {
			fn()
		}
		return
	}

	var join sync.WaitGroup
	join.Add(len(work))
	for i, fn := range work {
		wrapped := func() {
			defer join.Done()
			fn()
		}
		select {
		case p.queues[i%p.lanes] <- wrapped:
		case <-p.done:
			wrapped()
		}
	}
	join.Wait()
}

// Range is a half-open index range [Lo, Hi).
type Range struct {
	Lo, Hi int
}

// Split divides [0, n) into at most parts contiguous ranges whose sizes
// differ by at most one. Empty ranges are omitted.
func Split(n, parts int) []Range {
	if n <= 0 {
		return nil
	}
	parts = max(min(parts, n), 1)
	out := make([]Range, 0, parts)
	size, rem := n/parts, n%parts
	lo := 0
	for i := range parts {
		hi := lo + size
		if i < rem {
			hi++
		}
		out = append(out, Range{Lo: lo, Hi: hi})
		lo = hi
	}
	return out
}

// Dispatch splits [0, n) into at most parts ranges and calls fn once per
// range, in parallel, returning after every call has finished. part is the
// range's position in the split and is unique per call, so fn may use it to
// index per-part scratch state.
func (p *Pool) Dispatch(n, parts int, fn func(part int, r Range)) {
	ranges := Split(n, parts)
	work := make([]func(), len(ranges))
	for i, r := range ranges {
		work[i] = func() { fn(i, r) }
	}
	p.ExecuteAll(work)
}

// Close stops accepting work, finishes anything queued, and stops all lanes.
// Close is safe to call multiple times.
func (p *Pool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Lanes returns the number of lanes.
func (p *Pool) Lanes() int {
	return p.lanes
}

// IsRunning reports whether the pool still dispatches to its lanes.
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}
