package pipeline

import (
	"fmt"

	"github.com/dgnsrekt/streamtts/internal/config"
	"github.com/dgnsrekt/streamtts/internal/engine/mock"
	"github.com/dgnsrekt/streamtts/internal/engine/openai"
	"github.com/dgnsrekt/streamtts/internal/engine/piper"
	"github.com/dgnsrekt/streamtts/internal/engine/remote"
	"github.com/dgnsrekt/streamtts/internal/tts"
)

// EngineFactory builds engines for the configured engine name. Every
// backend gets its own instance.
func EngineFactory(cfg config.EngineConfig) (tts.EngineFactory, error) {
	switch cfg.Name {
	case "mock":
		return func(tts.Backend) (tts.Engine, error) {
			return mock.New(mock.Config{}), nil
		}, nil
	case "piper":
		return func(tts.Backend) (tts.Engine, error) {
			return piper.New(piper.Config{
				Binary:     cfg.Piper.Binary,
				ModelPath:  cfg.Piper.ModelPath,
				ConfigPath: cfg.Piper.ConfigPath,
			}), nil
		}, nil
	case "openai":
		return func(tts.Backend) (tts.Engine, error) {
			return openai.New(openai.Config{
				APIKey:            cfg.OpenAI.APIKey,
				BaseURL:           cfg.OpenAI.BaseURL,
				Model:             cfg.Model,
				RequestsPerMinute: cfg.OpenAI.RequestsPerMinute,
			}), nil
		}, nil
	case "remote":
		return func(tts.Backend) (tts.Engine, error) {
			return remote.New(remote.Config{
				URL:         cfg.Remote.URL,
				DialTimeout: cfg.Remote.DialTimeout,
			}), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Name)
	}
}
