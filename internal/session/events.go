package session

import (
	"fmt"
	"time"

	"github.com/dgnsrekt/streamtts/internal/tts"
)

// Event is published on the session's event channel. The concrete types are
// StateChanged, ChunkStarted, UnitEmitted, ChunkFailed, ProgressUpdated and
// Finished.
type Event interface {
	event()
}

// StateChanged reports a state transition.
type StateChanged struct {
	From State
	To   State
}

// ChunkStarted reports that a chunk was submitted.
type ChunkStarted struct {
	Chunk tts.TextChunk
}

// UnitEmitted reports that a unit was handed to the sink.
type UnitEmitted struct {
	ChunkIndex int
	Part       int
	Duration   time.Duration
}

// ChunkFailed reports a chunk skipped without producing audio.
type ChunkFailed struct {
	Chunk tts.TextChunk
	Err   error
}

// ProgressUpdated reports progress after each chunk. Counts include chunks
// finished by an earlier run of the same job. Consumed trails Attempted by
// the units still buffered in the sink.
type ProgressUpdated struct {
	Attempted         int
	Succeeded         int
	Consumed          int
	ConsumedSucceeded int
	Total             int
	Percent           int
}

// Finished is the last event before the channel is closed.
type Finished struct {
	Result Result
}

func (StateChanged) event()    {}
func (ChunkStarted) event()    {}
func (UnitEmitted) event()     {}
func (ChunkFailed) event()     {}
func (ProgressUpdated) event() {}
func (Finished) event()        {}

// publish never blocks. When the buffer is full the oldest ProgressUpdated
// is dropped, or the oldest event if no progress is buffered. Only the
// generation goroutine publishes.
func (s *Session) publish(ev Event) {
	select {
	case s.events <- ev:
		return
	default:
	}

	pending := make([]Event, 0, cap(s.events)+1)
drain:
	for {
		select {
		case e := <-s.events:
			pending = append(pending, e)
		default:
			break drain
		}
	}
	pending = append(pending, ev)
	if len(pending) > cap(s.events) {
		drop := 0
		for i, e := range pending {
			if _, ok := e.(ProgressUpdated); ok {
				drop = i
				break
			}
		}
		pending = append(pending[:drop], pending[drop+1:]...)
	}

	for _, e := range pending {
		select {
		case s.events <- e:
		default:
			s.logger.Debug("event dropped", "event", fmt.Sprintf("%T", e))
		}
	}
}
