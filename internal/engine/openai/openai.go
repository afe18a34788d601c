// Package openai synthesizes speech through the OpenAI audio API, or any
// server compatible with it.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/streamtts/internal/tts"
)

// SampleRate of the raw PCM response format.
const SampleRate = 24000

// MaxInput is the longest input the speech endpoint accepts.
const MaxInput = 4096

// Voices offered by the speech endpoint.
var Voices = map[string]tts.Voice{
	"alloy":   {Name: "Alloy", Language: "en"},
	"ash":     {Name: "Ash", Language: "en"},
	"coral":   {Name: "Coral", Language: "en"},
	"echo":    {Name: "Echo", Language: "en"},
	"fable":   {Name: "Fable", Language: "en"},
	"nova":    {Name: "Nova", Language: "en"},
	"onyx":    {Name: "Onyx", Language: "en"},
	"sage":    {Name: "Sage", Language: "en"},
	"shimmer": {Name: "Shimmer", Language: "en"},
}

// Config configures the OpenAI engine.
type Config struct {
	APIKey  string
	BaseURL string // optional; for compatible self-hosted servers
	Model   string
	Voice   string // default voice

	// RequestsPerMinute bounds the request rate. Zero means 50.
	RequestsPerMinute int

	HTTPClient *http.Client
}

// Engine implements tts.Engine on the speech endpoint. The endpoint is
// stateless and the backend is only reported back.
type Engine struct {
	config  Config
	limiter *rate.Limiter
	logger  *log.Logger

	mu      sync.Mutex
	client  *openai.Client
	model   string
	backend tts.Backend
}

// New creates an engine. The API key is checked by Initialize.
func New(config Config) *Engine {
	if config.Model == "" {
		config.Model = string(openai.TTSModel1)
	}
	if config.Voice == "" {
		config.Voice = "alloy"
	}
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 50
	}
	every := time.Minute / time.Duration(config.RequestsPerMinute)
	return &Engine{
		config:  config,
		limiter: rate.NewLimiter(rate.Every(every), 1),
		logger:  log.WithPrefix("openai"),
	}
}

// Initialize implements tts.Engine.
func (e *Engine) Initialize(ctx context.Context, opts tts.InitOptions) (tts.Capabilities, error) {
	if e.config.APIKey == "" {
		return tts.Capabilities{}, tts.NewError(tts.KindBackendUnavailable, "BACKEND_UNAVAILABLE",
			"missing API key", tts.ErrBackendUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return tts.Capabilities{}, err
	}

	config := openai.DefaultConfig(e.config.APIKey)
	if e.config.BaseURL != "" {
		config.BaseURL = e.config.BaseURL
	}
	if e.config.HTTPClient != nil {
		config.HTTPClient = e.config.HTTPClient
	} else {
		config.HTTPClient = &http.Client{Timeout: 90 * time.Second}
	}

	model := e.config.Model
	if opts.ModelID != "" {
		model = opts.ModelID
	}

	e.mu.Lock()
	e.client = openai.NewClientWithConfig(config)
	e.model = model
	e.backend = opts.Backend
	e.mu.Unlock()

	voices := make(map[string]tts.Voice, len(Voices))
	for id, v := range Voices {
		voices[id] = v
	}
	return tts.Capabilities{Voices: voices, SampleRate: SampleRate, Backend: opts.Backend}, nil
}

// Generate implements tts.Engine.
func (e *Engine) Generate(ctx context.Context, text string, opts tts.GenerateOptions) (tts.AudioUnit, error) {
	e.mu.Lock()
	client, model := e.client, e.model
	e.mu.Unlock()
	if client == nil {
		return tts.AudioUnit{}, tts.ErrNotInitialized
	}
	if text == "" {
		return tts.AudioUnit{}, tts.Malformed("empty text", nil)
	}
	if len(text) > MaxInput {
		return tts.AudioUnit{}, tts.Malformed(fmt.Sprintf("input is %d characters (max %d)", len(text), MaxInput), nil)
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return tts.AudioUnit{}, err
	}

	voice := opts.Voice
	if voice == "" {
		voice = e.config.Voice
	}
	speed := opts.Speed
	if speed <= 0 {
		speed = 1
	}

	resp, err := client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
		Speed:          speed,
	})
	if err != nil {
		return tts.AudioUnit{}, classify(ctx, err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		if ctx.Err() != nil {
			return tts.AudioUnit{}, ctx.Err()
		}
		return tts.AudioUnit{}, tts.Transient("read speech response", err)
	}
	// A stream cut mid-sample leaves an odd byte.
	data = data[:len(data)&^1]

	samples, err := tts.DecodePCM16(data)
	if err != nil {
		return tts.AudioUnit{}, tts.Transient("decode speech response", err)
	}
	if len(samples) == 0 {
		return tts.AudioUnit{}, tts.Transient("empty speech response", nil)
	}

	e.logger.Debug("speech generated", "chars", len(text), "samples", len(samples), "voice", voice)
	return tts.AudioUnit{Samples: samples, SampleRate: SampleRate, Text: text}, nil
}

// Close implements tts.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.client = nil
	e.mu.Unlock()
	return nil
}

// classify maps API failures by HTTP status.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusBadRequest, status == http.StatusRequestEntityTooLarge:
		return tts.Malformed("speech request rejected", err)
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusNotFound:
		return tts.NewError(tts.KindBackendUnavailable, "BACKEND_UNAVAILABLE", "speech endpoint refused access",
			errors.Join(tts.ErrBackendUnavailable, err)).WithContext("status", status)
	default:
		// 408, 409, 429, 5xx and network failures
		return tts.Transient("speech request failed", err).WithContext("status", status)
	}
}
