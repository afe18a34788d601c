package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Capacity bounds.
const (
	DefaultCapacity = 6
	MaxCapacity     = 64
)

var (
	// ErrQueueClosed is returned when operations are attempted on a closed queue
	ErrQueueClosed = errors.New("queue is closed")

	// ErrSlotTimeout is returned when no slot frees up within the wait
	ErrSlotTimeout = errors.New("timed out waiting for a queue slot")

	// ErrDrainTimeout is returned when outstanding slots are not acknowledged in time
	ErrDrainTimeout = errors.New("timed out waiting for the queue to drain")
)

// Ticket is one held generation slot. The zero Ticket is never issued.
type Ticket uint64

// AudioQueue is a counting semaphore between the generator and the audio
// sink. A slot is taken for every emitted audio unit and released only when
// the sink acknowledges it, so InFlight never exceeds Capacity.
type AudioQueue struct {
	capacity int

	mu          sync.Mutex
	outstanding map[Ticket]time.Time
	order       []Ticket // issue order, may hold released tickets
	next        Ticket
	changed     chan struct{}
	closed      bool
	stats       Stats
}

// Stats tracks queue activity.
type Stats struct {
	Acquired        int64
	Acknowledged    int64
	Reclaimed       int64
	DuplicateAcks   int64
	Waits           int64
	Timeouts        int64
	Resets          int64
	InFlight        int
	PeakInFlight    int
	LastAcquire     time.Time
	LastAcknowledge time.Time
	AverageHold     time.Duration
}

// New creates a queue with the given capacity, clamped to [1, MaxCapacity].
// A non-positive capacity selects DefaultCapacity.
func New(capacity int) *AudioQueue {
	switch {
	case capacity <= 0:
		capacity = DefaultCapacity
	case capacity > MaxCapacity:
		capacity = MaxCapacity
	}
	return &AudioQueue{
		capacity:    capacity,
		outstanding: make(map[Ticket]time.Time, capacity),
		changed:     make(chan struct{}),
	}
}

// Capacity returns the maximum number of outstanding slots.
func (q *AudioQueue) Capacity() int { return q.capacity }

// InFlight returns the number of outstanding slots.
func (q *AudioQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.outstanding)
}

// Holds reports whether t is still outstanding.
func (q *AudioQueue) Holds(t Ticket) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.outstanding[t]
	return ok
}

// TryAcquire takes a slot if one is free.
func (q *AudioQueue) TryAcquire() (Ticket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.outstanding) >= q.capacity {
		return 0, false
	}
	return q.issueLocked(), true
}

// Acquire waits up to wait for a free slot. It returns ErrSlotTimeout when
// the wait elapses, the context error when ctx is done, and ErrQueueClosed
// once the queue is closed. A non-positive wait blocks until ctx is done.
func (q *AudioQueue) Acquire(ctx context.Context, wait time.Duration) (Ticket, error) {
	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	waited := false
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return 0, ErrQueueClosed
		}
		if len(q.outstanding) < q.capacity {
			t := q.issueLocked()
			q.mu.Unlock()
			return t, nil
		}
		if !waited {
			q.stats.Waits++
			waited = true
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-changed:
		case <-timeout:
			q.mu.Lock()
			q.stats.Timeouts++
			q.mu.Unlock()
			return 0, ErrSlotTimeout
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Reclaim force-admits one unit when the consumer has stopped acknowledging.
// If the queue is full the oldest outstanding slot is revoked first, so its
// eventual acknowledgement becomes a no-op and InFlight stays within Capacity.
func (q *AudioQueue) Reclaim() Ticket {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.outstanding) >= q.capacity && len(q.order) > 0 {
		oldest := q.order[0]
		q.order = q.order[1:]
		if _, ok := q.outstanding[oldest]; ok {
			delete(q.outstanding, oldest)
			q.stats.Reclaimed++
		}
	}
	return q.issueLocked()
}

// Acknowledge releases the slot held by t. It reports false when t was
// already released, reclaimed or reset.
func (q *AudioQueue) Acknowledge(t Ticket) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	issued, ok := q.outstanding[t]
	if !ok {
		q.stats.DuplicateAcks++
		return false
	}
	delete(q.outstanding, t)
	q.compactLocked()

	now := time.Now()
	q.stats.Acknowledged++
	q.stats.LastAcknowledge = now
	hold := now.Sub(issued)
	if q.stats.AverageHold == 0 {
		q.stats.AverageHold = hold
	} else {
		q.stats.AverageHold = (q.stats.AverageHold + hold) / 2
	}
	q.broadcastLocked()
	return true
}

// Reset releases every outstanding slot. Acknowledgements for the released
// tickets are ignored.
func (q *AudioQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.outstanding) == 0 {
		return
	}
	q.outstanding = make(map[Ticket]time.Time, q.capacity)
	q.order = q.order[:0]
	q.stats.Resets++
	q.broadcastLocked()
}

// WaitIdle blocks until no slot is outstanding. It returns ErrDrainTimeout
// after wait, or the context error. A non-positive wait blocks until ctx is
// done.
func (q *AudioQueue) WaitIdle(ctx context.Context, wait time.Duration) error {
	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}
	for {
		q.mu.Lock()
		if len(q.outstanding) == 0 {
			q.mu.Unlock()
			return nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-changed:
		case <-timeout:
			return ErrDrainTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close wakes every waiter. Outstanding slots may still be acknowledged.
func (q *AudioQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

// Stats returns a snapshot of queue activity.
func (q *AudioQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.InFlight = len(q.outstanding)
	return s
}

func (q *AudioQueue) issueLocked() Ticket {
	q.next++
	t := q.next
	now := time.Now()
	q.outstanding[t] = now
	q.order = append(q.order, t)

	q.stats.Acquired++
	q.stats.LastAcquire = now
	if n := len(q.outstanding); n > q.stats.PeakInFlight {
		q.stats.PeakInFlight = n
	}
	return t
}

// compactLocked drops released tickets from the front of order.
func (q *AudioQueue) compactLocked() {
	i := 0
	for i < len(q.order) {
		if _, ok := q.outstanding[q.order[i]]; ok {
			break
		}
		i++
	}
	q.order = q.order[i:]
}

func (q *AudioQueue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
