// Package config holds the streamtts configuration and its loading rules:
// defaults, then the config file and flags through viper, then environment
// overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/streamtts/internal/tts"
)

// AppName names the config, data and log directories.
const AppName = "streamtts"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STREAMTTS_"

// Config contains every streamtts setting.
type Config struct {
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine" envPrefix:"ENGINE_"`
	Generation GenerationConfig `yaml:"generation" mapstructure:"generation" envPrefix:"GENERATION_"`
	Audio      AudioConfig      `yaml:"audio" mapstructure:"audio" envPrefix:"AUDIO_"`
	Jobs       JobsConfig       `yaml:"jobs" mapstructure:"jobs" envPrefix:"JOBS_"`
	Log        LogConfig        `yaml:"log" mapstructure:"log" envPrefix:"LOG_"`
}

// EngineConfig selects the inference engine and its backends.
type EngineConfig struct {
	// Name is one of mock, piper, openai or remote.
	Name      string `yaml:"name" mapstructure:"name" env:"NAME"`
	Model     string `yaml:"model" mapstructure:"model" env:"MODEL"`
	Precision string `yaml:"precision" mapstructure:"precision" env:"PRECISION"`
	Backend   string `yaml:"backend" mapstructure:"backend" env:"BACKEND"`
	Fallback  string `yaml:"fallback" mapstructure:"fallback" env:"FALLBACK"`

	Piper  PiperConfig  `yaml:"piper" mapstructure:"piper" envPrefix:"PIPER_"`
	OpenAI OpenAIConfig `yaml:"openai" mapstructure:"openai" envPrefix:"OPENAI_"`
	Remote RemoteConfig `yaml:"remote" mapstructure:"remote" envPrefix:"REMOTE_"`
}

// PiperConfig configures the piper subprocess engine.
type PiperConfig struct {
	Binary     string `yaml:"binary" mapstructure:"binary" env:"BINARY"`
	ModelPath  string `yaml:"model_path" mapstructure:"model_path" env:"MODEL_PATH"`
	ConfigPath string `yaml:"config_path" mapstructure:"config_path" env:"CONFIG_PATH"`
}

// OpenAIConfig configures the OpenAI speech engine.
type OpenAIConfig struct {
	APIKey            string `yaml:"api_key,omitempty" mapstructure:"api_key" env:"API_KEY"`
	BaseURL           string `yaml:"base_url,omitempty" mapstructure:"base_url" env:"BASE_URL"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
}

// RemoteConfig configures the websocket worker engine.
type RemoteConfig struct {
	URL         string        `yaml:"url" mapstructure:"url" env:"URL"`
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout" env:"DIAL_TIMEOUT"`
}

// GenerationConfig tunes chunking, flow control and the retry ladder.
type GenerationConfig struct {
	Voice     string  `yaml:"voice" mapstructure:"voice" env:"VOICE"`
	Speed     float64 `yaml:"speed" mapstructure:"speed" env:"SPEED"` // raw control value
	MaxChunk  int     `yaml:"max_chunk" mapstructure:"max_chunk" env:"MAX_CHUNK"`
	QueueSize int     `yaml:"queue_size" mapstructure:"queue_size" env:"QUEUE_SIZE"`
	Markdown  bool    `yaml:"markdown" mapstructure:"markdown" env:"MARKDOWN"`

	Retries      int           `yaml:"retries" mapstructure:"retries" env:"RETRIES"`
	Backoff      time.Duration `yaml:"backoff" mapstructure:"backoff" env:"BACKOFF"`
	CallTimeout  time.Duration `yaml:"call_timeout" mapstructure:"call_timeout" env:"CALL_TIMEOUT"`
	CallGrace    time.Duration `yaml:"call_grace" mapstructure:"call_grace" env:"CALL_GRACE"`
	SlotWait     time.Duration `yaml:"slot_wait" mapstructure:"slot_wait" env:"SLOT_WAIT"`
	DrainTimeout time.Duration `yaml:"drain_timeout" mapstructure:"drain_timeout" env:"DRAIN_TIMEOUT"`
}

// AudioConfig configures the audio sinks.
type AudioConfig struct {
	Output string  `yaml:"output" mapstructure:"output" env:"OUTPUT"`
	Float  bool    `yaml:"float" mapstructure:"float" env:"FLOAT"`
	Volume float64 `yaml:"volume" mapstructure:"volume" env:"VOLUME"`
}

// JobsConfig configures the job store.
type JobsConfig struct {
	Dir       string `yaml:"dir" mapstructure:"dir" env:"DIR"`
	KeepAudio bool   `yaml:"keep_audio" mapstructure:"keep_audio" env:"KEEP_AUDIO"`
	Bell      bool   `yaml:"bell" mapstructure:"bell" env:"BELL"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level" env:"LEVEL"`
	File       string `yaml:"file" mapstructure:"file" env:"FILE"`
	Timestamps bool   `yaml:"timestamps" mapstructure:"timestamps" env:"TIMESTAMPS"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			Name:     "mock",
			Backend:  string(tts.BackendGPU),
			Fallback: string(tts.BackendCPU),
			Piper: PiperConfig{
				Binary: "piper",
			},
			OpenAI: OpenAIConfig{
				RequestsPerMinute: 50,
			},
			Remote: RemoteConfig{
				URL:         "ws://127.0.0.1:8765/worker",
				DialTimeout: 10 * time.Second,
			},
		},
		Generation: GenerationConfig{
			Speed:        1.0,
			MaxChunk:     300,
			QueueSize:    6,
			Retries:      3,
			Backoff:      500 * time.Millisecond,
			CallTimeout:  30 * time.Second,
			CallGrace:    2 * time.Second,
			SlotWait:     10 * time.Second,
			DrainTimeout: time.Minute,
		},
		Audio: AudioConfig{
			Output: "speech.wav",
			Volume: 1.0,
		},
		Jobs: JobsConfig{
			Dir:  DefaultDataDir(),
			Bell: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	p, err := gap.NewScope(gap.User, AppName).DataPath("")
	if err != nil || p == "" {
		return filepath.Join("~", ".local", "share", AppName)
	}
	return p
}

// Load reads the configuration from v, applies environment overrides and
// validates the result.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unable to decode configuration: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("unable to parse environment: %w", err)
	}
	// The OpenAI SDK convention.
	if cfg.Engine.OpenAI.APIKey == "" {
		var key struct {
			APIKey string `env:"OPENAI_API_KEY"`
		}
		if err := env.Parse(&key); err == nil {
			cfg.Engine.OpenAI.APIKey = key.APIKey
		}
	}

	if err := cfg.ExpandPaths(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ExpandPaths replaces a leading ~ in every path setting.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{
		&c.Engine.Piper.Binary,
		&c.Engine.Piper.ModelPath,
		&c.Engine.Piper.ConfigPath,
		&c.Audio.Output,
		&c.Jobs.Dir,
		&c.Log.File,
	} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("unable to expand %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration and normalizes names.
func (c *Config) Validate() error {
	c.Engine.Name = strings.ToLower(strings.TrimSpace(c.Engine.Name))
	switch c.Engine.Name {
	case "mock", "piper", "openai", "remote":
	default:
		return fmt.Errorf("invalid engine %q: must be one of mock, piper, openai, remote", c.Engine.Name)
	}

	if _, err := tts.ParseBackend(c.Engine.Backend); err != nil {
		return err
	}
	if c.Engine.Fallback != "" {
		if _, err := tts.ParseBackend(c.Engine.Fallback); err != nil {
			return fmt.Errorf("fallback: %w", err)
		}
	}

	if c.Engine.Name == "remote" && c.Engine.Remote.URL == "" {
		return fmt.Errorf("remote engine needs engine.remote.url")
	}
	if c.Engine.Name == "piper" && c.Engine.Piper.ModelPath == "" {
		return fmt.Errorf("piper engine needs engine.piper.model_path")
	}

	g := c.Generation
	if g.Speed < tts.MinRawSpeed || g.Speed > tts.MaxRawSpeed {
		return fmt.Errorf("speed must be between %.1f and %.1f, got %.2f", tts.MinRawSpeed, tts.MaxRawSpeed, g.Speed)
	}
	if g.MaxChunk < 20 || g.MaxChunk > 4096 {
		return fmt.Errorf("max_chunk must be between 20 and 4096, got %d", g.MaxChunk)
	}
	if g.QueueSize < 1 || g.QueueSize > 64 {
		return fmt.Errorf("queue_size must be between 1 and 64, got %d", g.QueueSize)
	}
	if g.Retries < 0 || g.Retries > 10 {
		return fmt.Errorf("retries must be between 0 and 10, got %d", g.Retries)
	}
	for name, d := range map[string]time.Duration{
		"call_timeout":  g.CallTimeout,
		"slot_wait":     g.SlotWait,
		"drain_timeout": g.DrainTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if g.Backoff < 0 || g.CallGrace < 0 {
		return fmt.Errorf("backoff and call_grace must not be negative")
	}

	if c.Audio.Volume < 0 || c.Audio.Volume > 1 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %.2f", c.Audio.Volume)
	}
	if c.Jobs.Dir == "" {
		return fmt.Errorf("jobs.dir must not be empty")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	return nil
}

// Backends returns the preferred and fallback backends.
func (c Config) Backends() (preferred, fallback tts.Backend) {
	preferred, _ = tts.ParseBackend(c.Engine.Backend)
	if c.Engine.Fallback != "" {
		fallback, _ = tts.ParseBackend(c.Engine.Fallback)
	}
	return preferred, fallback
}
