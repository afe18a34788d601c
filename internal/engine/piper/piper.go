// Package piper runs the Piper command line synthesizer as an inference
// engine. Every call starts a fresh process with the text preloaded on stdin.
package piper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/streamtts/internal/tts"
)

// DefaultSampleRate is used when the model config does not name one.
const DefaultSampleRate = 22050

// MaxTextSize is the longest text handed to a single process.
const MaxTextSize = 5000

// Config configures the Piper engine.
type Config struct {
	// Binary is the piper executable. Defaults to "piper" on PATH.
	Binary string

	// ModelPath is the .onnx voice model (required).
	ModelPath string

	// ConfigPath defaults to the model path with a .onnx.json suffix, then
	// .json.
	ConfigPath string

	// KillGrace is how long an interrupted process gets before it is killed.
	KillGrace time.Duration
}

type modelConfig struct {
	Audio struct {
		SampleRate int `json:"sample_rate"`
	} `json:"audio"`
	Language struct {
		Code string `json:"code"`
	} `json:"language"`
	SpeakerIDMap map[string]int `json:"speaker_id_map"`
}

// Engine implements tts.Engine with Piper.
type Engine struct {
	config Config
	logger *log.Logger

	mu         sync.RWMutex
	binary     string
	backend    tts.Backend
	sampleRate int
	voices     map[string]tts.Voice
	speakers   map[string]int
}

// New creates a Piper engine. Nothing is checked until Initialize.
func New(config Config) *Engine {
	if config.Binary == "" {
		config.Binary = "piper"
	}
	if config.KillGrace <= 0 {
		config.KillGrace = 100 * time.Millisecond
	}
	return &Engine{config: config, logger: log.WithPrefix("piper")}
}

// Initialize implements tts.Engine. It resolves the binary, reads the model
// config and runs a short test synthesis on the requested backend.
func (e *Engine) Initialize(ctx context.Context, opts tts.InitOptions) (tts.Capabilities, error) {
	binary, err := exec.LookPath(e.config.Binary)
	if err != nil {
		return tts.Capabilities{}, unavailable("piper not found in PATH", err)
	}
	if e.config.ModelPath == "" {
		return tts.Capabilities{}, unavailable("model path is required", nil)
	}
	if _, err := os.Stat(e.config.ModelPath); err != nil {
		return tts.Capabilities{}, unavailable("model file not accessible", err)
	}

	mc, err := e.readModelConfig()
	if err != nil {
		return tts.Capabilities{}, unavailable("read model config", err)
	}

	sampleRate := mc.Audio.SampleRate
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	lang := strings.ReplaceAll(strings.ToLower(mc.Language.Code), "_", "-")
	name := strings.TrimSuffix(filepath.Base(e.config.ModelPath), filepath.Ext(e.config.ModelPath))

	voices := make(map[string]tts.Voice)
	if len(mc.SpeakerIDMap) == 0 {
		voices[name] = tts.Voice{Name: name, Language: lang}
	}
	for speaker := range mc.SpeakerIDMap {
		voices[speaker] = tts.Voice{Name: speaker, Language: lang}
	}

	e.mu.Lock()
	e.binary = binary
	e.backend = opts.Backend
	e.sampleRate = sampleRate
	e.voices = voices
	e.speakers = mc.SpeakerIDMap
	e.mu.Unlock()

	// The CUDA provider only fails once a session is created, so try it.
	if _, err := e.Generate(ctx, "Ready.", tts.GenerateOptions{Speed: 1}); err != nil {
		return tts.Capabilities{}, unavailable(fmt.Sprintf("test synthesis on %s failed", opts.Backend), err)
	}

	e.logger.Debug("piper ready", "model", e.config.ModelPath, "backend", opts.Backend, "sample_rate", sampleRate)
	return tts.Capabilities{Voices: voices, SampleRate: sampleRate, Backend: opts.Backend}, nil
}

// Generate implements tts.Engine.
func (e *Engine) Generate(ctx context.Context, text string, opts tts.GenerateOptions) (tts.AudioUnit, error) {
	e.mu.RLock()
	binary, backend, sampleRate, speakers := e.binary, e.backend, e.sampleRate, e.speakers
	e.mu.RUnlock()
	if binary == "" {
		return tts.AudioUnit{}, tts.ErrNotInitialized
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return tts.AudioUnit{}, tts.Malformed("empty text", nil)
	}
	if len(text) > MaxTextSize {
		return tts.AudioUnit{}, tts.Malformed(fmt.Sprintf("text too long: %d characters (max %d)", len(text), MaxTextSize), nil)
	}

	cmd := exec.CommandContext(ctx, binary, e.args(opts, backend, speakers)...)
	// CRITICAL: stdin is set before start so piper never reads an empty pipe.
	cmd.Stdin = strings.NewReader(text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = e.config.KillGrace

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return tts.AudioUnit{}, fmt.Errorf("piper interrupted: %w", ctx.Err())
		}
		return tts.AudioUnit{}, classify(err, stderr.String())
	}

	if stdout.Len() == 0 {
		return tts.AudioUnit{}, tts.Malformed("piper produced no audio", errors.New(strings.TrimSpace(stderr.String())))
	}
	samples, err := tts.DecodePCM16(stdout.Bytes())
	if err != nil {
		return tts.AudioUnit{}, tts.Transient("decode piper output", err)
	}
	return tts.AudioUnit{Samples: samples, SampleRate: sampleRate, Text: text}, nil
}

// Close implements tts.Engine. No process outlives a call.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.binary = ""
	e.mu.Unlock()
	return nil
}

func (e *Engine) args(opts tts.GenerateOptions, backend tts.Backend, speakers map[string]int) []string {
	speed := opts.Speed
	if speed <= 0 {
		speed = 1
	}
	args := []string{
		"--model", e.config.ModelPath,
		"--output-raw",
		"--length-scale", strconv.FormatFloat(1/speed, 'f', 3, 64),
	}
	if cfg := e.configPath(); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if id, ok := speakers[opts.Voice]; ok {
		args = append(args, "--speaker", strconv.Itoa(id))
	}
	if backend == tts.BackendGPU {
		args = append(args, "--cuda")
	}
	return args
}

func (e *Engine) configPath() string {
	if e.config.ConfigPath != "" {
		return e.config.ConfigPath
	}
	for _, p := range []string{
		e.config.ModelPath + ".json",
		strings.TrimSuffix(e.config.ModelPath, filepath.Ext(e.config.ModelPath)) + ".json",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (e *Engine) readModelConfig() (modelConfig, error) {
	var mc modelConfig
	path := e.configPath()
	if path == "" {
		return mc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return mc, err
	}
	if err := sonic.Unmarshal(data, &mc); err != nil {
		return mc, fmt.Errorf("parse %s: %w", path, err)
	}
	return mc, nil
}

// classify maps a failed run to an error kind using piper's stderr.
func classify(err error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "out of memory"),
		strings.Contains(lower, "cuda error"),
		strings.Contains(lower, "device lost"):
		return tts.NewError(tts.KindTransient, "CONTEXT_LOST", "piper lost its execution context",
			errors.Join(tts.ErrContextLost, err)).WithContext("stderr", msg)
	case strings.Contains(lower, "phoneme"),
		strings.Contains(lower, "too long"),
		strings.Contains(lower, "invalid utf"),
		strings.Contains(lower, "sequence length"):
		return tts.Malformed("piper rejected the text", fmt.Errorf("%w: %s", err, msg))
	default:
		return tts.Transient("piper failed", fmt.Errorf("%w: %s", err, msg))
	}
}

func unavailable(msg string, cause error) error {
	return tts.NewError(tts.KindBackendUnavailable, "BACKEND_UNAVAILABLE", msg, errors.Join(tts.ErrBackendUnavailable, cause))
}
