package wav

import (
	"errors"
	"fmt"
	"io"
	"math"

	gowav "github.com/cwbudde/wav"
	"github.com/go-audio/audio"
)

// MaxDataSize is the largest data chunk a canonical header can describe.
const MaxDataSize = math.MaxUint32 - HeaderSize

// ErrTooLarge is returned when a write would overflow the 32-bit size fields.
var ErrTooLarge = errors.New("WAV data would exceed 4 GiB")

// Writer streams float samples into a WAV container through the cwbudde
// encoder. The header is written when the Writer is created; Close patches
// the RIFF and data sizes.
//
// After a failed Write the RIFF size counts the bytes that reached w, while
// the data size also counts the samples of the failed buffer.
type Writer struct {
	enc      *gowav.Encoder
	format   *audio.Format
	encoding Encoding
	frames   int64
}

// NewWriter writes a placeholder header to w.
func NewWriter(w io.WriteSeeker, encoding Encoding, sampleRate, channels int) (*Writer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid format: sample rate %d, channels %d", sampleRate, channels)
	}

	wr := &Writer{
		enc:      gowav.NewEncoder(w, sampleRate, encoding.BitsPerSample(), channels, int(encoding.FormatTag())),
		format:   &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		encoding: encoding,
	}
	// The encoder emits its header with the first buffer, so an empty one
	// leaves a valid file behind even if nothing else is written.
	if err := wr.enc.Write(wr.buffer(nil)); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return wr, nil
}

func (w *Writer) buffer(samples []float32) *audio.Float32Buffer {
	return &audio.Float32Buffer{
		Data:           samples,
		Format:         w.format,
		SourceBitDepth: w.encoding.BitsPerSample(),
	}
}

// Write appends interleaved samples.
func (w *Writer) Write(samples []float32) error {
	if len(samples)%w.format.NumChannels != 0 {
		return fmt.Errorf("%d samples do not fill whole %d-channel frames", len(samples), w.format.NumChannels)
	}
	frames := int64(len(samples) / w.format.NumChannels)
	if w.DataSize()+frames*w.blockAlign() > MaxDataSize {
		return ErrTooLarge
	}
	if err := w.enc.Write(w.buffer(samples)); err != nil {
		return err
	}
	w.frames += frames
	return nil
}

// DataSize returns the number of sample bytes written so far.
func (w *Writer) DataSize() int64 {
	return w.frames * w.blockAlign()
}

func (w *Writer) blockAlign() int64 {
	return int64(w.format.NumChannels * w.encoding.BitsPerSample() / 8)
}

// Close patches the header sizes. The underlying writer stays open.
func (w *Writer) Close() error {
	return w.enc.Close()
}

// File returns a complete WAV file holding samples.
func File(enc Encoding, sampleRate, channels int, samples []float32) ([]byte, error) {
	var buf memFile
	w, err := NewWriter(&buf, enc, sampleRate, channels)
	if err != nil {
		return nil, err
	}
	if err := w.Write(samples); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.data, nil
}

// memFile is an in-memory io.WriteSeeker.
type memFile struct {
	data []byte
	pos  int64
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.data)) {
		m.data = append(m.data, make([]byte, end-int64(len(m.data)))...)
	}
	copy(m.data[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = m.pos + offset
	case io.SeekEnd:
		abs = int64(len(m.data)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	m.pos = abs
	return abs, nil
}
