package tts

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// Mode selects where generated audio goes.
type Mode string

const (
	// ModeStream plays audio as it is generated.
	ModeStream Mode = "stream"
	// ModeDisk writes audio into a WAV file.
	ModeDisk Mode = "disk"
)

// ParseMode converts a user supplied mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stream", "play", "":
		return ModeStream, nil
	case "disk", "save", "file":
		return ModeDisk, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want stream or disk)", s)
	}
}

// Backend is the execution substrate an engine runs inference on.
type Backend string

const (
	// BackendGPU is the preferred accelerated backend.
	BackendGPU Backend = "gpu"
	// BackendCPU is the portable fallback backend.
	BackendCPU Backend = "cpu"
)

// ParseBackend converts a user supplied backend name.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gpu", "cuda", "webgpu":
		return BackendGPU, nil
	case "cpu", "wasm":
		return BackendCPU, nil
	default:
		return "", fmt.Errorf("unknown backend %q (want gpu or cpu)", s)
	}
}

// TextChunk is one bounded slice of the job text. Index is zero based.
type TextChunk struct {
	Index int
	Total int
	Text  string
}

// GenerationRequest describes one generation job. Speed is the effective
// engine factor, already remapped from the raw control value.
type GenerationRequest struct {
	JobID   string
	Text    string
	VoiceID string
	Speed   float64
	Mode    Mode
}

// Validate checks that the request can be submitted.
func (r GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyText
	}
	if r.Mode != ModeStream && r.Mode != ModeDisk {
		return fmt.Errorf("invalid mode %q", r.Mode)
	}
	if r.Speed < MinEffectiveSpeed || r.Speed > MaxEffectiveSpeed {
		return fmt.Errorf("%w: %.2f", ErrSpeedOutOfRange, r.Speed)
	}
	return nil
}

// AudioUnit is one generated PCM buffer. Samples are mono float32 in
// [-1, 1]. Part numbers the sub-pieces of a chunk that had to be shrunk.
type AudioUnit struct {
	Samples    []float32
	SampleRate int
	ChunkIndex int
	Part       int
	Text       string
}

// Duration returns the playback length of the unit.
func (u AudioUnit) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(u.Samples)) * time.Second / time.Duration(u.SampleRate)
}

// PCM16 encodes the samples as signed 16-bit little endian PCM.
func (u AudioUnit) PCM16() []byte {
	out := make([]byte, len(u.Samples)*2)
	for i, s := range u.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(FloatToInt16(s)))
	}
	return out
}

// Float32LE encodes the samples as 32-bit IEEE float little endian.
func (u AudioUnit) Float32LE() []byte {
	out := make([]byte, len(u.Samples)*4)
	for i, s := range u.Samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// Voice describes one voice offered by an engine.
type Voice struct {
	Name     string `json:"name"`
	Gender   string `json:"gender,omitempty"`
	Language string `json:"language,omitempty"`
}

// Capabilities is reported by an engine once initialized.
type Capabilities struct {
	Voices     map[string]Voice
	SampleRate int
	Backend    Backend
}

// VoiceIDs returns the voice identifiers in no particular order.
func (c Capabilities) VoiceIDs() []string {
	ids := make([]string, 0, len(c.Voices))
	for id := range c.Voices {
		ids = append(ids, id)
	}
	return ids
}
