package audio

import (
	"sync"

	"github.com/dgnsrekt/streamtts/internal/tts"
)

// Recorder forwards units to another sink and keeps a copy of every sample
// that sink accepted, in order.
type Recorder struct {
	Sink

	mu         sync.Mutex
	samples    []float32
	sampleRate int
}

// NewRecorder wraps next.
func NewRecorder(next Sink) *Recorder {
	return &Recorder{Sink: next}
}

// Enqueue implements Sink.
func (r *Recorder) Enqueue(unit tts.AudioUnit, ack AckFunc) error {
	if err := r.Sink.Enqueue(unit, ack); err != nil {
		return err
	}
	r.mu.Lock()
	r.samples = append(r.samples, unit.Samples...)
	r.sampleRate = unit.SampleRate
	r.mu.Unlock()
	return nil
}

// Recording returns the captured audio as a single unit.
func (r *Recorder) Recording() tts.AudioUnit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return tts.AudioUnit{
		Samples:    append([]float32(nil), r.samples...),
		SampleRate: r.sampleRate,
	}
}
