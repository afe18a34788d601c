// Package mock provides a scriptable inference engine for tests and demos.
package mock

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/streamtts/internal/tts"
)

// DefaultSampleRate matches the neural engines this stands in for.
const DefaultSampleRate = 24000

// FailFunc decides whether call number n (starting at 1) for text fails.
type FailFunc func(text string, n int) error

// Config controls the mock engine.
type Config struct {
	SampleRate int
	Latency    time.Duration // Simulated processing delay

	// Seconds of audio produced per character of input.
	SecondsPerChar float64

	// Failure injection
	InitError error
	Fail      FailFunc
}

// Engine implements tts.Engine. It produces a quiet tone whose length
// follows the text length, and it reports overlapping calls as session
// conflicts the way a single-session engine would.
type Engine struct {
	config Config

	mu          sync.Mutex
	initialized bool
	backend     tts.Backend
	calls       []string
	closed      bool

	busy atomic.Bool
}

// New creates a mock engine.
func New(config Config) *Engine {
	if config.SampleRate == 0 {
		config.SampleRate = DefaultSampleRate
	}
	if config.SecondsPerChar == 0 {
		config.SecondsPerChar = 0.002
	}
	return &Engine{config: config}
}

// Voices offered by every mock engine.
var Voices = map[string]tts.Voice{
	"af_heart":   {Name: "Heart", Gender: "female", Language: "en-us"},
	"am_michael": {Name: "Michael", Gender: "male", Language: "en-us"},
	"bf_emma":    {Name: "Emma", Gender: "female", Language: "en-gb"},
}

// Initialize implements tts.Engine.
func (e *Engine) Initialize(ctx context.Context, opts tts.InitOptions) (tts.Capabilities, error) {
	if e.config.InitError != nil {
		return tts.Capabilities{}, e.config.InitError
	}
	if err := ctx.Err(); err != nil {
		return tts.Capabilities{}, err
	}

	e.mu.Lock()
	e.initialized = true
	e.backend = opts.Backend
	e.mu.Unlock()

	voices := make(map[string]tts.Voice, len(Voices))
	for id, v := range Voices {
		voices[id] = v
	}
	return tts.Capabilities{Voices: voices, SampleRate: e.config.SampleRate, Backend: opts.Backend}, nil
}

// Generate implements tts.Engine.
func (e *Engine) Generate(ctx context.Context, text string, opts tts.GenerateOptions) (tts.AudioUnit, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return tts.AudioUnit{}, tts.ErrSessionConflict
	}
	defer e.busy.Store(false)

	e.mu.Lock()
	if !e.initialized || e.closed {
		e.mu.Unlock()
		return tts.AudioUnit{}, tts.ErrNotInitialized
	}
	e.calls = append(e.calls, text)
	n := len(e.calls)
	e.mu.Unlock()

	if e.config.Latency > 0 {
		select {
		case <-time.After(e.config.Latency):
		case <-ctx.Done():
			return tts.AudioUnit{}, ctx.Err()
		}
	}

	if e.config.Fail != nil {
		if err := e.config.Fail(text, n); err != nil {
			return tts.AudioUnit{}, err
		}
	}
	if text == "" {
		return tts.AudioUnit{}, tts.Malformed("empty text", nil)
	}

	speed := opts.Speed
	if speed <= 0 {
		speed = 1
	}
	seconds := float64(len(text)) * e.config.SecondsPerChar / speed
	return tts.AudioUnit{
		Samples:    tone(e.config.SampleRate, seconds),
		SampleRate: e.config.SampleRate,
		Text:       text,
	}, nil
}

// Close implements tts.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Calls returns the texts passed to Generate, in order.
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// CallCount returns the number of Generate calls that reached the engine.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// Backend returns the backend the engine was initialized with.
func (e *Engine) Backend() tts.Backend {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend
}

// FailFirst fails the first n calls with err.
func FailFirst(n int, err error) FailFunc {
	return func(_ string, call int) error {
		if call <= n {
			return err
		}
		return nil
	}
}

// FailLongerThan rejects text longer than limit as malformed input.
func FailLongerThan(limit int) FailFunc {
	return func(text string, _ int) error {
		if len(text) > limit {
			return tts.Malformed("text too long", errors.New("input exceeds model context"))
		}
		return nil
	}
}

func tone(sampleRate int, seconds float64) []float32 {
	n := int(float64(sampleRate) * seconds)
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.1 * math.Sin(2*math.Pi*220*float64(i)/float64(sampleRate)))
	}
	return out
}
