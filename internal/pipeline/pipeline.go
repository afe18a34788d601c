// Package pipeline assembles one generation run: the engine runtime, the
// bounded audio queue, an audio sink and the session that drives them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/streamtts/internal/audio"
	"github.com/dgnsrekt/streamtts/internal/chunker"
	"github.com/dgnsrekt/streamtts/internal/config"
	"github.com/dgnsrekt/streamtts/internal/engine"
	"github.com/dgnsrekt/streamtts/internal/queue"
	"github.com/dgnsrekt/streamtts/internal/session"
	"github.com/dgnsrekt/streamtts/internal/tts"
	"github.com/dgnsrekt/streamtts/internal/wav"
)

// Options configures a Pipeline.
type Options struct {
	Factory   tts.EngineFactory
	Runtime   engine.RuntimeConfig
	QueueSize int
	Session   session.Options
	Player    audio.PlayerConfig
}

// FromConfig derives pipeline options from the configuration.
func FromConfig(cfg config.Config) (Options, error) {
	factory, err := EngineFactory(cfg.Engine)
	if err != nil {
		return Options{}, err
	}
	preferred, fallback := cfg.Backends()

	g := cfg.Generation
	policy := session.DefaultRetryPolicy()
	policy.MaxRetries = g.Retries
	policy.Backoff = g.Backoff
	policy.CallTimeout = g.CallTimeout
	policy.CallGrace = g.CallGrace

	sess := session.DefaultOptions()
	sess.Policy = policy
	sess.Chunker = chunker.New(g.MaxChunk)
	sess.SlotWait = g.SlotWait
	sess.DrainTimeout = g.DrainTimeout

	player := audio.DefaultPlayerConfig()
	player.Volume = cfg.Audio.Volume

	return Options{
		Factory: factory,
		Runtime: engine.RuntimeConfig{
			ModelID:   cfg.Engine.Model,
			Precision: cfg.Engine.Precision,
			Preferred: preferred,
			Fallback:  fallback,
		},
		QueueSize: g.QueueSize,
		Session:   sess,
		Player:    player,
	}, nil
}

// Target says where the audio of one run goes.
type Target struct {
	Mode     tts.Mode
	Output   string // WAV path for disk mode
	Encoding wav.Encoding

	// Keep records the audio so it can be returned as a WAV file.
	Keep bool
}

// RunOptions are per-run settings.
type RunOptions struct {
	StartChunk     int
	PriorSucceeded int

	// Observe receives every session event. It must not block for long.
	Observe func(session.Event)

	// OnSession is called with the session before it runs, so the caller
	// can stop it.
	OnSession func(*session.Session)
}

// Output is the result of one run.
type Output struct {
	Result session.Result

	// Produced counts the leading chunks the sink finished with, and
	// Succeeded those of them that produced audio. Both include earlier
	// runs, so an interrupted stream job resumes at Produced.
	Produced  int
	Succeeded int

	// WAV is the recorded audio when Target.Keep was set and any chunk
	// succeeded.
	WAV []byte
}

// Pipeline runs generation jobs one at a time. The engine runtime is
// created once and shared by every run.
type Pipeline struct {
	opts   Options
	rt     *engine.Runtime
	logger *log.Logger

	mu sync.Mutex
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 6
	}
	return &Pipeline{
		opts:   opts,
		rt:     engine.NewRuntime(opts.Factory, opts.Runtime),
		logger: log.WithPrefix("pipeline"),
	}
}

// Runtime returns the shared engine runtime.
func (p *Pipeline) Runtime() *engine.Runtime { return p.rt }

// Voices initializes the engine and returns its voices.
func (p *Pipeline) Voices(ctx context.Context) (tts.Capabilities, error) {
	return p.rt.Initialize(ctx)
}

// Run generates req into target and blocks until the run is terminal.
func (p *Pipeline) Run(ctx context.Context, req tts.GenerationRequest, target Target, ro RunOptions) (Output, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sink, err := p.sink(req.Mode, target)
	if err != nil {
		return Output{}, err
	}
	var rec *audio.Recorder
	if target.Keep {
		rec = audio.NewRecorder(sink)
		sink = rec
	}

	opts := p.opts.Session
	opts.StartChunk = ro.StartChunk
	opts.PriorSucceeded = ro.PriorSucceeded

	q := queue.New(p.opts.QueueSize)
	defer q.Close()
	s := session.New(p.rt, q, sink, opts)
	if ro.OnSession != nil {
		ro.OnSession(s)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range s.Events() {
			if ro.Observe != nil {
				ro.Observe(ev)
			}
		}
	}()

	res, runErr := s.Run(ctx, req)
	wg.Wait()

	out := Output{
		Result:    res,
		Produced:  res.StartChunk + res.Consumed,
		Succeeded: ro.PriorSucceeded + res.ConsumedSucceeded,
	}
	if rec != nil && res.State == session.StateComplete {
		data, err := encodeRecording(rec.Recording(), target.Encoding)
		if err != nil {
			p.logger.Warn("failed to encode recording", "err", err)
		} else {
			out.WAV = data
		}
	}
	return out, runErr
}

// Close releases the engines.
func (p *Pipeline) Close() error {
	return p.rt.Close()
}

func (p *Pipeline) sink(mode tts.Mode, target Target) (audio.Sink, error) {
	if target.Mode != "" && target.Mode != mode {
		return nil, fmt.Errorf("request mode %s does not match target mode %s", mode, target.Mode)
	}
	switch mode {
	case tts.ModeStream:
		return audio.NewStreamingPlayer(p.opts.Player), nil
	case tts.ModeDisk:
		if target.Output == "" {
			return nil, errors.New("disk mode needs an output path")
		}
		return audio.NewDiskWriter(target.Output, target.Encoding), nil
	default:
		return nil, fmt.Errorf("invalid mode %q", mode)
	}
}

func encodeRecording(unit tts.AudioUnit, enc wav.Encoding) ([]byte, error) {
	if len(unit.Samples) == 0 {
		return nil, nil
	}
	return wav.File(enc, unit.SampleRate, 1, unit.Samples)
}
