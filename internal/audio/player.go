package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/streamtts/internal/tts"
)

var errInterrupted = errors.New("playback interrupted")

// PlayerConfig configures a StreamingPlayer.
type PlayerConfig struct {
	// Contexts opens the output device once the job sample rate is known.
	Contexts ContextFactory

	// Volume in [0, 1]. Zero means full volume.
	Volume float64

	// PollInterval is how often playback completion is checked.
	PollInterval time.Duration

	// Margin is added to a unit's duration to bound the wait for its
	// playback to finish.
	Margin time.Duration
}

// DefaultPlayerConfig returns sensible defaults using the auto context.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		Contexts:     NewContextFactory(ContextAuto),
		Volume:       1,
		PollInterval: 10 * time.Millisecond,
		Margin:       2 * time.Second,
	}
}

type queued struct {
	unit tts.AudioUnit
	ack  AckFunc
}

// StreamingPlayer plays units strictly in arrival order and acknowledges each
// one only after its playback has finished.
type StreamingPlayer struct {
	config PlayerConfig
	logger *log.Logger

	mu        sync.Mutex
	device    AudioContext
	format    Format
	pending   []queued
	running   bool
	stopped   bool
	idle      chan struct{}
	isIdle    bool
	interrupt chan struct{}
	onStop    func()
	played    int
	wg        sync.WaitGroup
}

// NewStreamingPlayer creates a player. Nothing is opened until Open.
func NewStreamingPlayer(config PlayerConfig) *StreamingPlayer {
	def := DefaultPlayerConfig()
	if config.Contexts == nil {
		config.Contexts = def.Contexts
	}
	if config.Volume <= 0 || config.Volume > 1 {
		config.Volume = def.Volume
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.Margin <= 0 {
		config.Margin = def.Margin
	}
	return &StreamingPlayer{config: config, logger: log.WithPrefix("player")}
}

// OnStop registers fn to run when Stop halts playback, so that upstream
// generation can be cancelled.
func (p *StreamingPlayer) OnStop(fn func()) {
	p.mu.Lock()
	p.onStop = fn
	p.mu.Unlock()
}

// Open implements Sink.
func (p *StreamingPlayer) Open(ctx context.Context, format Format) error {
	if err := format.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	device, err := p.config.Contexts(format.SampleRate)
	if err != nil {
		return fmt.Errorf("%w: open audio device: %v", tts.ErrConsumer, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.device = device
	p.format = format
	p.pending = nil
	p.stopped = false
	p.played = 0
	p.interrupt = make(chan struct{})
	p.idle = make(chan struct{})
	close(p.idle)
	p.isIdle = true
	return nil
}

// Enqueue implements Sink. Playback starts immediately if the player is idle.
func (p *StreamingPlayer) Enqueue(unit tts.AudioUnit, ack AckFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.device == nil {
		return errors.New("player not open")
	}
	if p.stopped {
		return ErrSinkStopped
	}
	if err := checkUnit(p.format, unit); err != nil {
		return err
	}

	p.pending = append(p.pending, queued{unit: unit, ack: ack})
	if p.isIdle {
		p.idle = make(chan struct{})
		p.isIdle = false
	}
	if !p.running {
		p.running = true
		p.wg.Add(1)
		go p.loop()
	}
	return nil
}

// Flush implements Sink.
func (p *StreamingPlayer) Flush(ctx context.Context) error {
	p.mu.Lock()
	idle, interrupt := p.idle, p.interrupt
	p.mu.Unlock()
	if idle == nil {
		return nil
	}

	select {
	case <-idle:
		return nil
	case <-interrupt:
		return ErrSinkStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop implements Sink. It halts the current unit, drops everything pending
// and runs the OnStop callback.
func (p *StreamingPlayer) Stop() error {
	p.mu.Lock()
	if p.stopped || p.device == nil {
		p.mu.Unlock()
		return nil
	}
	p.halt()
	dropped := len(p.pending)
	p.pending = nil
	onStop := p.onStop
	p.mu.Unlock()

	p.logger.Debug("playback stopped", "dropped", dropped)
	if onStop != nil {
		onStop()
	}
	return nil
}

// Close implements Sink.
func (p *StreamingPlayer) Close() error {
	p.mu.Lock()
	if p.device == nil {
		p.mu.Unlock()
		return nil
	}
	if !p.stopped {
		p.halt()
	}
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.device.Close()
	p.device = nil
	return err
}

// Played returns the number of units played to completion since Open.
func (p *StreamingPlayer) Played() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.played
}

// halt must be called with p.mu held.
func (p *StreamingPlayer) halt() {
	p.stopped = true
	close(p.interrupt)
}

func (p *StreamingPlayer) loop() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		if p.stopped || len(p.pending) == 0 {
			p.running = false
			if !p.isIdle {
				close(p.idle)
				p.isIdle = true
			}
			p.mu.Unlock()
			return
		}
		item := p.pending[0]
		p.pending = p.pending[1:]
		device, interrupt := p.device, p.interrupt
		p.mu.Unlock()

		err := p.play(device, interrupt, item.unit)
		if errors.Is(err, errInterrupted) {
			continue
		}

		p.mu.Lock()
		if err == nil {
			p.played++
		}
		p.mu.Unlock()

		if item.ack != nil {
			item.ack(err)
		}
	}
}

func (p *StreamingPlayer) play(device AudioContext, interrupt <-chan struct{}, unit tts.AudioUnit) error {
	// CRITICAL: keep the PCM referenced until playback finishes.
	pcm := unit.PCM16()
	defer runtime.KeepAlive(pcm)

	player, err := device.NewPlayer(bytes.NewReader(pcm))
	if err != nil {
		return fmt.Errorf("%w: create player: %v", tts.ErrConsumer, err)
	}
	defer player.Close()

	player.SetVolume(p.config.Volume)
	player.Play()

	p.logger.Debug("playing unit", "chunk", unit.ChunkIndex, "part", unit.Part, "duration", unit.Duration())

	deadline := time.NewTimer(unit.Duration() + p.config.Margin)
	defer deadline.Stop()
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-interrupt:
			player.Pause()
			return errInterrupted
		case <-deadline.C:
			p.logger.Warn("playback did not finish in time, moving on", "chunk", unit.ChunkIndex)
			return nil
		case <-ticker.C:
			if !player.IsPlaying() {
				return nil
			}
		}
	}
}
