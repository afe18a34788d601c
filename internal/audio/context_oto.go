//go:build !nocgo
// +build !nocgo

package audio

import (
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// oto allows a single context per process.
var (
	otoMu       sync.Mutex
	otoContexts = map[int]*oto.Context{}
)

// DeviceContext plays audio through the system output device.
type DeviceContext struct {
	context    *oto.Context
	sampleRate int
}

// NewDeviceContext opens the output device at sampleRate, mono, 16-bit.
func NewDeviceContext(sampleRate int) (*DeviceContext, error) {
	otoMu.Lock()
	defer otoMu.Unlock()

	if c, ok := otoContexts[sampleRate]; ok {
		return &DeviceContext{context: c, sampleRate: sampleRate}, nil
	}
	if len(otoContexts) > 0 {
		return nil, fmt.Errorf("audio device already open at a different sample rate")
	}

	options := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	}
	switch runtime.GOOS {
	case "darwin":
		options.BufferSize = 100 * time.Millisecond
	case "windows":
		options.BufferSize = 80 * time.Millisecond
	default:
		options.BufferSize = 50 * time.Millisecond
	}

	log.Debug("opening audio device", "sample_rate", sampleRate, "buffer_size", options.BufferSize)

	c, ready, err := oto.NewContext(options)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio context: %w", err)
	}
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("audio context initialization timeout")
	}

	otoContexts[sampleRate] = c
	return &DeviceContext{context: c, sampleRate: sampleRate}, nil
}

// NewPlayer implements AudioContext.
func (d *DeviceContext) NewPlayer(r io.Reader) (Player, error) {
	return &devicePlayer{player: d.context.NewPlayer(r)}, nil
}

// SampleRate implements AudioContext.
func (d *DeviceContext) SampleRate() int { return d.sampleRate }

// Close implements AudioContext. The oto context lives for the process.
func (d *DeviceContext) Close() error { return nil }

type devicePlayer struct {
	player *oto.Player
}

func (p *devicePlayer) Play()                    { p.player.Play() }
func (p *devicePlayer) Pause()                   { p.player.Pause() }
func (p *devicePlayer) IsPlaying() bool          { return p.player.IsPlaying() }
func (p *devicePlayer) SetVolume(volume float64) { p.player.SetVolume(volume) }
func (p *devicePlayer) Close() error             { return p.player.Close() }
