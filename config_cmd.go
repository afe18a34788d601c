package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# inference engine
engine:
  # mock, piper, openai or remote
  name: "mock"
  # model id; empty uses the engine default
  model: ""
  # preferred backend and the one used when it fails
  backend: "gpu"
  fallback: "cpu"

  piper:
    binary: "piper"
    # model_path: "~/voices/en_US-lessac-medium.onnx"
    # config_path: "~/voices/en_US-lessac-medium.onnx.json"

  openai:
    # api_key: "sk-..." (or set OPENAI_API_KEY)
    # base_url: "https://api.openai.com/v1"
    requests_per_minute: 50

  remote:
    url: "ws://127.0.0.1:8765/worker"
    dial_timeout: "10s"

generation:
  # voice id; partial names are matched
  voice: ""
  # 0.5 to 2.0
  speed: 1.0
  # longest chunk sent to the engine, in characters
  max_chunk: 300
  # audio units buffered ahead of playback
  queue_size: 6
  # treat input as markdown
  markdown: false
  retries: 3
  backoff: "500ms"
  call_timeout: "30s"
  call_grace: "2s"
  # grace past a unit's playback before its queue slot is reclaimed
  slot_wait: "10s"
  # grace past the remaining playback when draining at the end
  drain_timeout: "1m"

audio:
  # default file for the save command
  output: "speech.wav"
  # write 32-bit float samples instead of 16-bit PCM
  float: false
  volume: 1.0

jobs:
  # dir: "~/.local/share/streamtts"
  keep_audio: false
  # ring the terminal bell when a job finishes
  bell: true

log:
  # debug, info, warn or error
  level: "info"
  # file: "streamtts.log"
  timestamps: false
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the streamtts config file",
	Long:    paragraph(fmt.Sprintf("\n%s the streamtts config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("streamtts config\nstreamtts config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("streamtts", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  paragraph(fmt.Sprintf("\nPrint the configuration after the config file, flags and environment are %s.", keyword("merged"))),
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd, nil)
		if err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Fprintln(cmd.OutOrStdout(), faint("# "+used))
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
