package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Durations are rendered as "30s" rather than nanoseconds.

// MarshalYAML implements yaml.Marshaler.
func (g GenerationConfig) MarshalYAML() (interface{}, error) {
	return struct {
		Voice        string  `yaml:"voice"`
		Speed        float64 `yaml:"speed"`
		MaxChunk     int     `yaml:"max_chunk"`
		QueueSize    int     `yaml:"queue_size"`
		Markdown     bool    `yaml:"markdown"`
		Retries      int     `yaml:"retries"`
		Backoff      string  `yaml:"backoff"`
		CallTimeout  string  `yaml:"call_timeout"`
		CallGrace    string  `yaml:"call_grace"`
		SlotWait     string  `yaml:"slot_wait"`
		DrainTimeout string  `yaml:"drain_timeout"`
	}{
		g.Voice, g.Speed, g.MaxChunk, g.QueueSize, g.Markdown, g.Retries,
		g.Backoff.String(), g.CallTimeout.String(), g.CallGrace.String(),
		g.SlotWait.String(), g.DrainTimeout.String(),
	}, nil
}

// MarshalYAML implements yaml.Marshaler.
func (r RemoteConfig) MarshalYAML() (interface{}, error) {
	return struct {
		URL         string `yaml:"url"`
		DialTimeout string `yaml:"dial_timeout"`
	}{r.URL, r.DialTimeout.String()}, nil
}

// YAML renders the configuration. Secrets are masked.
func (c Config) YAML() ([]byte, error) {
	if c.Engine.OpenAI.APIKey != "" {
		c.Engine.OpenAI.APIKey = mask(c.Engine.OpenAI.APIKey)
	}
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("unable to render configuration: %w", err)
	}
	return out, nil
}

func mask(secret string) string {
	if len(secret) <= 8 {
		return "********"
	}
	return secret[:4] + "…" + secret[len(secret)-4:]
}
