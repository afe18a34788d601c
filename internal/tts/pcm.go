package tts

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FloatToInt16 converts a float sample to 16-bit PCM, clipping out of range
// input.
func FloatToInt16(s float32) int16 {
	switch {
	case s >= 1:
		return math.MaxInt16
	case s <= -1:
		return math.MinInt16
	}
	return int16(s * math.MaxInt16)
}

// DecodePCM16 converts signed 16-bit little endian PCM into float samples.
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("invalid PCM data length: %d (must be even for 16-bit samples)", len(data))
	}
	out := make([]float32, len(data)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float32(v) / 32768
	}
	return out, nil
}

// DecodeFloat32LE converts 32-bit float little endian bytes into samples.
func DecodeFloat32LE(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid float PCM length: %d (must be a multiple of 4)", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

// Silence returns the given number of seconds of zero samples.
func Silence(sampleRate int, seconds float64) []float32 {
	n := int(float64(sampleRate) * seconds)
	if n < 0 {
		n = 0
	}
	return make([]float32, n)
}
