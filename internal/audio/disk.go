package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/streamtts/internal/tts"
	"github.com/dgnsrekt/streamtts/internal/wav"
)

type writeSeekCloser interface {
	io.Writer
	io.Seeker
	io.Closer
}

// DiskWriter appends audio to a WAV file through wav.Writer, which patches
// the header sizes when it is closed.
type DiskWriter struct {
	path     string
	encoding wav.Encoding
	create   func(path string) (writeSeekCloser, error)
	logger   *log.Logger

	mu      sync.Mutex
	file    writeSeekCloser
	enc     *wav.Writer
	format  Format
	stopped bool
	failed  error
	units   int
}

// NewDiskWriter creates a writer for path using the given sample encoding.
func NewDiskWriter(path string, encoding wav.Encoding) *DiskWriter {
	return &DiskWriter{
		path:     path,
		encoding: encoding,
		create: func(p string) (writeSeekCloser, error) {
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				return nil, err
			}
			return os.Create(p)
		},
		logger: log.WithPrefix("disk"),
	}
}

// Path returns the output file path.
func (d *DiskWriter) Path() string { return d.path }

// BytesWritten returns the number of sample bytes appended so far.
func (d *DiskWriter) BytesWritten() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enc == nil {
		return 0
	}
	return d.enc.DataSize()
}

// Open implements Sink. It creates the file and writes a placeholder header.
func (d *DiskWriter) Open(ctx context.Context, format Format) error {
	if err := format.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := d.create(d.path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", tts.ErrConsumer, d.path, err)
	}

	enc, err := wav.NewWriter(f, d.encoding, format.SampleRate, format.Channels)
	if err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", tts.ErrConsumer, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.file = f
	d.enc = enc
	d.format = format
	d.stopped = false
	d.failed = nil
	d.units = 0
	d.logger.Debug("writing audio", "path", d.path, "encoding", d.encoding, "sample_rate", format.SampleRate)
	return nil
}

// Enqueue implements Sink. The unit is written synchronously and acknowledged
// as soon as the write returns. A failed write is reported through ack.
func (d *DiskWriter) Enqueue(unit tts.AudioUnit, ack AckFunc) error {
	d.mu.Lock()
	if d.file == nil {
		d.mu.Unlock()
		return errors.New("disk writer not open")
	}
	if d.stopped {
		d.mu.Unlock()
		return ErrSinkStopped
	}
	if d.failed != nil {
		err := d.failed
		d.mu.Unlock()
		return err
	}
	if err := checkUnit(d.format, unit); err != nil {
		d.mu.Unlock()
		return err
	}

	err := d.enc.Write(unit.Samples)
	if errors.Is(err, wav.ErrTooLarge) {
		err = fmt.Errorf("%w: %v", tts.ErrConsumer, err)
	} else if err != nil {
		err = fmt.Errorf("%w: write %s: %v", tts.ErrConsumer, d.path, err)
	}
	if err != nil {
		d.failed = err
	} else {
		d.units++
	}
	d.mu.Unlock()

	if ack != nil {
		ack(err)
	}
	return nil
}

// Flush implements Sink. Every unit is written by the time Enqueue
// returns, so it only reports an earlier write failure.
func (d *DiskWriter) Flush(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failed
}

// Stop implements Sink. Nothing further is written; Close still finalizes
// the partial file.
func (d *DiskWriter) Stop() error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	return nil
}

// Close implements Sink. It patches the RIFF and data sizes and closes the
// file. A failed write does not prevent the header from being finalized.
func (d *DiskWriter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}

	var errs []error
	if d.failed != nil {
		errs = append(errs, d.failed)
	}
	if err := d.enc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("finalize header: %w", err))
	}
	if err := d.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	d.file = nil

	d.logger.Debug("audio file finalized", "path", d.path, "bytes", d.enc.DataSize(), "units", d.units)
	if len(errs) > 0 {
		return fmt.Errorf("%w: finalize %s: %v", tts.ErrConsumer, d.path, errors.Join(errs...))
	}
	return nil
}
