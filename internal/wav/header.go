// Package wav writes generated audio as RIFF/WAVE files and reads back the
// canonical 44-byte header they carry.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the size of the canonical header in bytes.
const HeaderSize = 44

// Offsets of the size fields patched when a file is closed.
const (
	RIFFSizeOffset = 4
	DataSizeOffset = 40
)

// Encoding is the sample format of the data chunk.
type Encoding int

const (
	// PCM16 is signed 16-bit integer PCM (format tag 1).
	PCM16 Encoding = iota
	// Float32 is 32-bit IEEE float (format tag 3).
	Float32
)

// BitsPerSample returns the sample width.
func (e Encoding) BitsPerSample() int {
	if e == Float32 {
		return 32
	}
	return 16
}

// FormatTag returns the WAVE format tag.
func (e Encoding) FormatTag() uint16 {
	if e == Float32 {
		return 3
	}
	return 1
}

func (e Encoding) String() string {
	if e == Float32 {
		return "float32"
	}
	return "pcm16"
}

var (
	// ErrNotWAV is returned when the data is not a RIFF/WAVE stream
	ErrNotWAV = errors.New("not a RIFF/WAVE file")

	// ErrUnsupportedLayout is returned for headers other than the canonical 44 bytes
	ErrUnsupportedLayout = errors.New("unsupported WAV header layout")
)

// Header describes a canonical 44-byte WAV header.
type Header struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
	DataSize   uint32
}

// BlockAlign is channels times bytes per sample.
func (h Header) BlockAlign() int {
	return h.Channels * h.Encoding.BitsPerSample() / 8
}

// ByteRate is sample rate times block align.
func (h Header) ByteRate() int {
	return h.SampleRate * h.BlockAlign()
}

// RIFFSize is the value of the RIFF chunk size field: file size minus 8.
func (h Header) RIFFSize() uint32 {
	return h.DataSize + HeaderSize - 8
}

// ReadHeader parses a canonical 44-byte header from r.
func ReadHeader(r io.Reader) (Header, uint32, error) {
	b := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, b); err != nil {
		return Header{}, 0, fmt.Errorf("read header: %w", err)
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return Header{}, 0, ErrNotWAV
	}
	if string(b[12:16]) != "fmt " || binary.LittleEndian.Uint32(b[16:20]) != 16 || string(b[36:40]) != "data" {
		return Header{}, 0, ErrUnsupportedLayout
	}

	var enc Encoding
	switch tag, bits := binary.LittleEndian.Uint16(b[20:22]), binary.LittleEndian.Uint16(b[34:36]); {
	case tag == 1 && bits == 16:
		enc = PCM16
	case tag == 3 && bits == 32:
		enc = Float32
	default:
		return Header{}, 0, fmt.Errorf("%w: format tag %d with %d bits", ErrUnsupportedLayout, tag, bits)
	}

	h := Header{
		Encoding:   enc,
		Channels:   int(binary.LittleEndian.Uint16(b[22:24])),
		SampleRate: int(binary.LittleEndian.Uint32(b[24:28])),
		DataSize:   binary.LittleEndian.Uint32(b[DataSizeOffset:]),
	}
	return h, binary.LittleEndian.Uint32(b[RIFFSizeOffset:]), nil
}
