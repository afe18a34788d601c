//go:build nocgo
// +build nocgo

package audio

import (
	"errors"
	"io"
)

// DeviceContext stub for builds without cgo.
type DeviceContext struct{}

// NewDeviceContext always fails without cgo.
func NewDeviceContext(sampleRate int) (*DeviceContext, error) {
	return nil, errors.New("audio not available in nocgo build")
}

// NewPlayer implements AudioContext.
func (d *DeviceContext) NewPlayer(r io.Reader) (Player, error) {
	return nil, errors.New("audio not available in nocgo build")
}

// SampleRate implements AudioContext.
func (d *DeviceContext) SampleRate() int { return 0 }

// Close implements AudioContext.
func (d *DeviceContext) Close() error { return nil }
