package session

import "sync"

// consumption follows which chunks the sink has finished with. A chunk counts
// once it is fully generated, every one of its units has been acknowledged,
// and the same holds for every chunk before it. Units dropped by a stop are
// never acknowledged, so their chunks stay unconsumed and a resumed job
// generates them again.
type consumption struct {
	mu        sync.Mutex
	pending   map[int]int  // unacknowledged units per chunk
	finished  map[int]bool // generated chunks, true when they produced audio
	next      int          // first chunk not yet consumed
	succeeded int          // consumed chunks that produced audio
}

func newConsumption(start, priorSucceeded int) *consumption {
	return &consumption{
		pending:   make(map[int]int),
		finished:  make(map[int]bool),
		next:      start,
		succeeded: priorSucceeded,
	}
}

// emitted records a unit handed to the sink.
func (c *consumption) emitted(chunk int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[chunk]++
}

// acknowledged records a unit the sink is done with.
func (c *consumption) acknowledged(chunk int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.release(chunk)
	c.advance()
}

// rejected forgets a unit the sink refused.
func (c *consumption) rejected(chunk int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.release(chunk)
}

// finish marks chunk as fully generated.
func (c *consumption) finish(chunk int, succeeded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished[chunk] = succeeded
	c.advance()
}

// snapshot returns the number of leading chunks consumed and how many of
// them produced audio. Both include chunks of earlier runs.
func (c *consumption) snapshot() (consumed, succeeded int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next, c.succeeded
}

func (c *consumption) release(chunk int) {
	if c.pending[chunk] <= 1 {
		delete(c.pending, chunk)
		return
	}
	c.pending[chunk]--
}

func (c *consumption) advance() {
	for {
		ok, done := c.finished[c.next]
		if !done || c.pending[c.next] > 0 {
			return
		}
		if ok {
			c.succeeded++
		}
		delete(c.finished, c.next)
		c.next++
	}
}
