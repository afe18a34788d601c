package audio

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// AudioContext is an audio output device. Real playback uses oto; tests use
// MockContext.
type AudioContext interface {
	// NewPlayer creates a player that reads signed 16-bit little endian PCM
	// from r.
	NewPlayer(r io.Reader) (Player, error)

	// SampleRate returns the device sample rate.
	SampleRate() int

	// Close releases the device.
	Close() error
}

// Player plays one stream of PCM.
type Player interface {
	Play()
	Pause()
	IsPlaying() bool
	SetVolume(volume float64)
	Close() error
}

// ContextType selects the kind of audio context to create.
type ContextType int

const (
	// ContextAuto uses the real device unless running in CI.
	ContextAuto ContextType = iota
	// ContextDevice uses real audio hardware via oto.
	ContextDevice
	// ContextMock never produces sound.
	ContextMock
)

// ContextFactory creates an audio context for a sample rate.
type ContextFactory func(sampleRate int) (AudioContext, error)

// NewContextFactory returns a factory for the given context type. ContextAuto
// falls back to the mock context when the device cannot be opened.
func NewContextFactory(kind ContextType) ContextFactory {
	return func(sampleRate int) (AudioContext, error) {
		switch kind {
		case ContextMock:
			return NewMockContext(sampleRate, 1), nil
		case ContextDevice:
			ctx, err := NewDeviceContext(sampleRate)
			if err != nil {
				return nil, err
			}
			return ctx, nil
		}

		if IsCI() {
			log.Debug("CI environment detected, using mock audio context")
			return NewMockContext(sampleRate, 1), nil
		}
		ctx, err := NewDeviceContext(sampleRate)
		if err != nil {
			log.Warn("audio device unavailable, falling back to silent playback", "err", err)
			return NewMockContext(sampleRate, 1), nil
		}
		return ctx, nil
	}
}

// IsCI reports whether the process runs in a CI environment.
func IsCI() bool {
	for _, key := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "BUILDKITE", "JENKINS_URL"} {
		if v := os.Getenv(key); v != "" && !strings.EqualFold(v, "false") {
			return true
		}
	}
	return false
}
