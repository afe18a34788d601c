// Package engine owns inference engine instances and backend selection.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/streamtts/internal/tts"
)

// RuntimeConfig selects the model and the backend ladder.
type RuntimeConfig struct {
	ModelID   string
	Precision string

	// Preferred is tried first. Fallback, when set and different, is used
	// when the preferred backend cannot initialize and for per-chunk
	// demotion.
	Preferred tts.Backend
	Fallback  tts.Backend
}

// Runtime is the explicitly owned handle to the inference engine. It
// initializes one engine per backend lazily and at most once, and it
// guarantees that Generate calls never overlap.
type Runtime struct {
	factory tts.EngineFactory
	config  RuntimeConfig
	logger  *log.Logger

	mu      sync.Mutex
	engines map[tts.Backend]tts.Engine
	caps    map[tts.Backend]tts.Capabilities
	failed  map[tts.Backend]error
	active  tts.Backend

	call sync.Mutex
}

// NewRuntime creates a runtime that builds engines with factory.
func NewRuntime(factory tts.EngineFactory, config RuntimeConfig) *Runtime {
	if config.Preferred == "" {
		config.Preferred = tts.BackendGPU
	}
	return &Runtime{
		factory: factory,
		config:  config,
		logger:  log.WithPrefix("engine"),
		engines: make(map[tts.Backend]tts.Engine),
		caps:    make(map[tts.Backend]tts.Capabilities),
		failed:  make(map[tts.Backend]error),
	}
}

// Initialize selects the active backend: the preferred one, or the fallback
// when the preferred backend fails. It fails only if both fail. Calling it
// again returns the already selected backend's capabilities.
func (r *Runtime) Initialize(ctx context.Context) (tts.Capabilities, error) {
	r.mu.Lock()
	if r.active != "" {
		caps := r.caps[r.active]
		r.mu.Unlock()
		return caps, nil
	}
	r.mu.Unlock()

	caps, perr := r.ensure(ctx, r.config.Preferred)
	if perr == nil {
		r.setActive(r.config.Preferred)
		return caps, nil
	}
	r.logger.Warn("preferred backend failed to initialize", "backend", r.config.Preferred, "err", perr)

	fb := r.config.Fallback
	if fb == "" || fb == r.config.Preferred {
		return tts.Capabilities{}, tts.NewError(tts.KindBackendUnavailable, "BACKEND_UNAVAILABLE",
			fmt.Sprintf("backend %s failed to initialize", r.config.Preferred), errors.Join(tts.ErrBackendUnavailable, perr))
	}

	caps, ferr := r.ensure(ctx, fb)
	if ferr != nil {
		return tts.Capabilities{}, tts.NewError(tts.KindBackendUnavailable, "BACKEND_UNAVAILABLE",
			"all backends failed to initialize", errors.Join(tts.ErrBackendUnavailable, perr, ferr))
	}
	r.logger.Info("using fallback backend", "backend", fb)
	r.setActive(fb)
	return caps, nil
}

// Active returns the backend selected by Initialize, or "" before that.
func (r *Runtime) Active() tts.Backend {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Capabilities returns the active backend's capabilities.
func (r *Runtime) Capabilities() tts.Capabilities {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.caps[r.active]
}

// DemotionTarget reports the backend a failing chunk may be demoted to. It is
// only available while running on the preferred backend.
func (r *Runtime) DemotionTarget() (tts.Backend, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fb := r.config.Fallback
	if r.active == "" || r.active != r.config.Preferred || fb == "" || fb == r.active {
		return "", false
	}
	if _, failed := r.failed[fb]; failed {
		return "", false
	}
	return fb, true
}

// Generate synthesizes text on the given backend, or the active backend when
// backend is empty. A call made while another is still running fails with
// tts.ErrSessionConflict.
func (r *Runtime) Generate(ctx context.Context, backend tts.Backend, text string, opts tts.GenerateOptions) (tts.AudioUnit, error) {
	if !r.call.TryLock() {
		return tts.AudioUnit{}, tts.Transient("engine is still busy with a previous call", tts.ErrSessionConflict)
	}
	defer r.call.Unlock()

	if backend == "" {
		backend = r.Active()
	}
	if backend == "" {
		return tts.AudioUnit{}, tts.ErrNotInitialized
	}
	if _, err := r.ensure(ctx, backend); err != nil {
		return tts.AudioUnit{}, err
	}

	r.mu.Lock()
	eng := r.engines[backend]
	r.mu.Unlock()
	return eng.Generate(ctx, text, opts)
}

// Close shuts down every engine that was initialized.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for backend, eng := range r.engines {
		if err := eng.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s engine: %w", backend, err))
		}
	}
	r.engines = make(map[tts.Backend]tts.Engine)
	r.active = ""
	return errors.Join(errs...)
}

// ensure returns the capabilities of backend, initializing its engine on first
// use. Initialization failures are remembered and not retried.
func (r *Runtime) ensure(ctx context.Context, backend tts.Backend) (tts.Capabilities, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caps, ok := r.caps[backend]; ok {
		if _, live := r.engines[backend]; live {
			return caps, nil
		}
	}
	if err, ok := r.failed[backend]; ok {
		return tts.Capabilities{}, err
	}

	eng, err := r.factory(backend)
	if err != nil {
		err = fmt.Errorf("create %s engine: %w", backend, err)
		r.failed[backend] = err
		return tts.Capabilities{}, err
	}

	caps, err := eng.Initialize(ctx, tts.InitOptions{
		ModelID:   r.config.ModelID,
		Precision: r.config.Precision,
		Backend:   backend,
	})
	if err != nil {
		_ = eng.Close()
		err = fmt.Errorf("initialize %s engine: %w", backend, err)
		r.failed[backend] = err
		return tts.Capabilities{}, err
	}
	if caps.Backend == "" {
		caps.Backend = backend
	}

	r.logger.Debug("engine initialized", "backend", backend, "voices", len(caps.Voices), "sample_rate", caps.SampleRate)
	r.engines[backend] = eng
	r.caps[backend] = caps
	return caps, nil
}

func (r *Runtime) setActive(b tts.Backend) {
	r.mu.Lock()
	r.active = b
	r.mu.Unlock()
}
