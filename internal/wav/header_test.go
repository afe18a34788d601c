package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestWriterHeader(t *testing.T) {
	tests := []struct {
		name       string
		encoding   Encoding
		sampleRate int
		samples    int
		formatTag  uint16
		bits       uint16
		blockAlign uint16
		byteRate   uint32
	}{
		{"pcm16 mono", PCM16, 24000, 240, 1, 16, 2, 48000},
		{"float32 mono", Float32, 22050, 22050, 3, 32, 4, 88200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf memFile
			w, err := NewWriter(&buf, tt.encoding, tt.sampleRate, 1)
			if err != nil {
				t.Fatalf("NewWriter failed: %v", err)
			}
			// Two buffers, so the sizes accumulate across writes.
			half := tt.samples / 2
			if err := w.Write(make([]float32, half)); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			if err := w.Write(make([]float32, tt.samples-half)); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			dataSize := uint32(tt.samples) * uint32(tt.bits/8)
			b := buf.data
			if len(b) != HeaderSize+int(dataSize) {
				t.Fatalf("Expected %d bytes, got %d", HeaderSize+int(dataSize), len(b))
			}
			if w.DataSize() != int64(dataSize) {
				t.Errorf("Expected DataSize %d, got %d", dataSize, w.DataSize())
			}
			if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" || string(b[12:16]) != "fmt " || string(b[36:40]) != "data" {
				t.Errorf("Unexpected chunk ids in %q", b[:HeaderSize])
			}
			if got := binary.LittleEndian.Uint32(b[RIFFSizeOffset:]); got != dataSize+36 {
				t.Errorf("Expected RIFF size %d, got %d", dataSize+36, got)
			}
			if got := binary.LittleEndian.Uint32(b[DataSizeOffset:]); got != dataSize {
				t.Errorf("Expected data size %d, got %d", dataSize, got)
			}
			if got := binary.LittleEndian.Uint16(b[20:22]); got != tt.formatTag {
				t.Errorf("Expected format tag %d, got %d", tt.formatTag, got)
			}
			if got := binary.LittleEndian.Uint32(b[28:32]); got != tt.byteRate {
				t.Errorf("Expected byte rate %d, got %d", tt.byteRate, got)
			}
			if got := binary.LittleEndian.Uint16(b[32:34]); got != tt.blockAlign {
				t.Errorf("Expected block align %d, got %d", tt.blockAlign, got)
			}
			if got := binary.LittleEndian.Uint16(b[34:36]); got != tt.bits {
				t.Errorf("Expected %d bits, got %d", tt.bits, got)
			}

			want := Header{Encoding: tt.encoding, SampleRate: tt.sampleRate, Channels: 1, DataSize: dataSize}
			parsed, riff, err := ReadHeader(bytes.NewReader(b))
			if err != nil {
				t.Fatalf("ReadHeader failed: %v", err)
			}
			if parsed != want {
				t.Errorf("Expected %+v, got %+v", want, parsed)
			}
			if riff != want.RIFFSize() {
				t.Errorf("Expected RIFF size %d, got %d", want.RIFFSize(), riff)
			}
		})
	}
}

func TestWriterEmpty(t *testing.T) {
	var buf memFile
	w, err := NewWriter(&buf, PCM16, 24000, 1)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if len(buf.data) != HeaderSize {
		t.Errorf("Expected the header to be written on creation, got %d bytes", len(buf.data))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	h, riff, err := ReadHeader(bytes.NewReader(buf.data))
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if h.DataSize != 0 || riff != 36 {
		t.Errorf("Expected data 0 and riff 36, got %d and %d", h.DataSize, riff)
	}
}

func TestWriterInvalid(t *testing.T) {
	var buf memFile
	if _, err := NewWriter(&buf, PCM16, 0, 1); err == nil {
		t.Error("Expected error for zero sample rate")
	}

	w, err := NewWriter(&buf, PCM16, 24000, 2)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := w.Write(make([]float32, 3)); err == nil {
		t.Error("Expected error for a partial stereo frame")
	}
}

func TestHeaderInvalid(t *testing.T) {
	good, err := File(PCM16, 24000, 1, nil)
	if err != nil {
		t.Fatalf("File failed: %v", err)
	}

	notWAV := bytes.Clone(good)
	copy(notWAV[0:4], "RIFX")
	if _, _, err := ReadHeader(bytes.NewReader(notWAV)); !errors.Is(err, ErrNotWAV) {
		t.Errorf("Expected ErrNotWAV, got %v", err)
	}

	extensible := bytes.Clone(good)
	binary.LittleEndian.PutUint16(extensible[20:22], 0xFFFE)
	if _, _, err := ReadHeader(bytes.NewReader(extensible)); !errors.Is(err, ErrUnsupportedLayout) {
		t.Errorf("Expected ErrUnsupportedLayout, got %v", err)
	}

	if _, _, err := ReadHeader(bytes.NewReader(good[:20])); err == nil {
		t.Error("Expected error for truncated header")
	}
}

func TestFile(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1}
	file, err := File(PCM16, 24000, 1, samples)
	if err != nil {
		t.Fatalf("File failed: %v", err)
	}
	if len(file) != HeaderSize+8 {
		t.Fatalf("Expected %d bytes, got %d", HeaderSize+8, len(file))
	}

	h, riff, err := ReadHeader(bytes.NewReader(file))
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if h.DataSize != 8 || riff != 8+36 {
		t.Errorf("Expected data 8 and riff 44, got %d and %d", h.DataSize, riff)
	}
	if got := int16(binary.LittleEndian.Uint16(file[HeaderSize+6:])); got != 32767 {
		t.Errorf("Expected full scale sample 32767, got %d", got)
	}

	if _, err := File(PCM16, 0, 1, samples); err == nil {
		t.Error("Expected an error for a zero sample rate")
	}
}
