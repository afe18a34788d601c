package session

import (
	"sync"
	"time"

	"github.com/dgnsrekt/streamtts/internal/queue"
)

// backlog tracks units handed to the sink until they are acknowledged, and
// estimates when the sink should be done with them. Sinks consume units in
// order, so a unit starts no earlier than its emission and no earlier than
// the acknowledgement of the unit before it.
type backlog struct {
	mu      sync.Mutex
	units   []pendingUnit
	lastAck time.Time
}

type pendingUnit struct {
	ticket   queue.Ticket
	duration time.Duration
	emitted  time.Time
}

func (b *backlog) add(t queue.Ticket, d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.units = append(b.units, pendingUnit{ticket: t, duration: d, emitted: time.Now()})
}

// acked forgets t and records the acknowledgement time.
func (b *backlog) acked(t queue.Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.removeLocked(t) {
		b.lastAck = time.Now()
	}
}

// remove forgets t without counting it as consumed.
func (b *backlog) remove(t queue.Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(t)
}

// prune forgets every unit whose slot is no longer held.
func (b *backlog) prune(holds func(queue.Ticket) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.units[:0]
	for _, u := range b.units {
		if holds(u.ticket) {
			kept = append(kept, u)
		}
	}
	b.units = kept
}

func (b *backlog) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.units)
}

// oldestDue returns when the oldest pending unit should have been consumed.
func (b *backlog) oldestDue() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.units) == 0 {
		return time.Time{}, false
	}
	u := b.units[0]
	return later(u.emitted, b.lastAck).Add(u.duration), true
}

// allDue returns when every pending unit should have been consumed.
func (b *backlog) allDue() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.units) == 0 {
		return time.Time{}, false
	}
	end := b.lastAck
	for _, u := range b.units {
		end = later(end, u.emitted).Add(u.duration)
	}
	return end, true
}

func (b *backlog) removeLocked(t queue.Ticket) bool {
	for i, u := range b.units {
		if u.ticket == t {
			b.units = append(b.units[:i], b.units[i+1:]...)
			return true
		}
	}
	return false
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
