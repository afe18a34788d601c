package audio

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// MockContext implements AudioContext without producing sound. Playback
// takes the real duration of the data divided by Speedup.
type MockContext struct {
	mu         sync.Mutex
	sampleRate int
	channels   int
	closed     bool
	played     [][]byte

	// Speedup divides simulated playback time. Zero finishes instantly.
	Speedup float64

	// Stall keeps every player playing forever.
	Stall bool

	// Test helpers
	PlayersCreated int
	PlayersClosed  int
}

// NewMockContext creates a mock context that plays in real time.
func NewMockContext(sampleRate, channels int) *MockContext {
	log.Debug("creating mock audio context", "sample_rate", sampleRate)
	return &MockContext{sampleRate: sampleRate, channels: channels, Speedup: 1}
}

// NewPlayer implements AudioContext.
func (m *MockContext) NewPlayer(r io.Reader) (Player, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("mock audio context closed")
	}
	m.PlayersCreated++

	bytesPerSecond := float64(m.sampleRate * m.channels * 2)
	length := time.Duration(float64(len(data)) / bytesPerSecond * float64(time.Second))
	switch {
	case m.Stall:
		length = time.Duration(1<<62 - 1)
	case m.Speedup <= 0:
		length = 0
	default:
		length = time.Duration(float64(length) / m.Speedup)
	}

	return &MockPlayer{context: m, data: data, remaining: length, volume: 1}, nil
}

// SampleRate implements AudioContext.
func (m *MockContext) SampleRate() int { return m.sampleRate }

// Close implements AudioContext.
func (m *MockContext) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Played returns the PCM of every player that was started, in start order.
func (m *MockContext) Played() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.played...)
}

func (m *MockContext) recordPlay(data []byte) {
	m.mu.Lock()
	m.played = append(m.played, data)
	m.mu.Unlock()
}

func (m *MockContext) recordClose() {
	m.mu.Lock()
	m.PlayersClosed++
	m.mu.Unlock()
}

// MockPlayer implements Player for MockContext.
type MockPlayer struct {
	context *MockContext
	data    []byte

	mu        sync.Mutex
	started   bool
	playing   bool
	until     time.Time
	remaining time.Duration
	volume    float64
	closed    bool
}

// Play starts or resumes playback.
func (p *MockPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.playing {
		return
	}
	if !p.started {
		p.started = true
		p.context.recordPlay(p.data)
	}
	p.playing = true
	p.until = time.Now().Add(p.remaining)
}

// Pause pauses playback.
func (p *MockPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return
	}
	p.remaining = max(time.Until(p.until), 0)
	p.playing = false
}

// IsPlaying reports whether playback is in progress.
func (p *MockPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing && !time.Now().Before(p.until) {
		p.playing = false
		p.remaining = 0
	}
	return p.playing
}

// SetVolume sets the playback volume.
func (p *MockPlayer) SetVolume(volume float64) {
	p.mu.Lock()
	p.volume = volume
	p.mu.Unlock()
}

// Close releases the player.
func (p *MockPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.playing = false
	p.context.recordClose()
	return nil
}
