package tts

import "context"

// InitOptions selects the model and backend an engine initializes with.
type InitOptions struct {
	ModelID   string
	Precision string
	Backend   Backend
}

// GenerateOptions are the per-call synthesis parameters. Speed is the
// effective factor from RemapSpeed.
type GenerateOptions struct {
	Voice string
	Speed float64
}

// Engine is a stateful inference engine. Initialize must succeed before
// Generate is called, and Generate calls must never overlap.
type Engine interface {
	// Initialize loads the model on the requested backend.
	Initialize(ctx context.Context, opts InitOptions) (Capabilities, error)

	// Generate synthesizes text into one audio unit. ChunkIndex and Part
	// are filled in by the caller.
	Generate(ctx context.Context, text string, opts GenerateOptions) (AudioUnit, error)

	// Close releases the engine.
	Close() error
}

// EngineFactory builds a fresh engine instance for one backend.
type EngineFactory func(backend Backend) (Engine, error)
