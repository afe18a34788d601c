package audio

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgnsrekt/streamtts/internal/tts"
)

// ErrSinkStopped is returned by Enqueue after Stop.
var ErrSinkStopped = errors.New("audio sink stopped")

// Format is the audio format shared by every unit of one job.
type Format struct {
	SampleRate int
	Channels   int
}

// Validate checks that the format can be opened.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	}
	if f.Channels != 1 {
		return fmt.Errorf("unsupported channel count: %d (only mono)", f.Channels)
	}
	return nil
}

// AckFunc is called exactly once per enqueued unit when the sink has fully
// consumed it. A non-nil error reports that consumption failed.
type AckFunc func(err error)

// Sink consumes audio units strictly in the order they are enqueued.
type Sink interface {
	// Open prepares the sink for a job with the given format.
	Open(ctx context.Context, format Format) error

	// Enqueue hands a unit to the sink. ack is invoked once the unit has been
	// played or written.
	Enqueue(unit tts.AudioUnit, ack AckFunc) error

	// Flush blocks until every enqueued unit has been consumed.
	Flush(ctx context.Context) error

	// Stop halts consumption immediately and drops pending units. Dropped
	// units are not acknowledged.
	Stop() error

	// Close finalizes the sink. It is safe to call after Stop.
	Close() error
}

func checkUnit(f Format, unit tts.AudioUnit) error {
	if unit.SampleRate != f.SampleRate {
		return fmt.Errorf("%w: unit sample rate %d does not match job rate %d", tts.ErrConsumer, unit.SampleRate, f.SampleRate)
	}
	return nil
}
