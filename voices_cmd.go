package main

import (
	"fmt"
	"slices"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/streamtts/internal/pipeline"
)

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List the voices of the configured engine",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd, nil)
		if err != nil {
			return err
		}
		opts, err := pipeline.FromConfig(cfg)
		if err != nil {
			return err
		}
		p := pipeline.New(opts)
		defer p.Close() //nolint:errcheck

		caps, err := p.Voices(cmd.Context())
		if err != nil {
			return fmt.Errorf("unable to start engine: %w", err)
		}

		ids := caps.VoiceIDs()
		slices.Sort(ids)
		t := table.New().
			Border(lipgloss.HiddenBorder()).
			Headers("VOICE", "NAME", "GENDER", "LANGUAGE")
		for _, id := range ids {
			v := caps.Voices[id]
			t.Row(keyword(id), v.Name, v.Gender, v.Language)
		}
		fmt.Fprintln(cmd.OutOrStdout(), t.String())
		fmt.Fprintln(cmd.OutOrStdout(), faint(fmt.Sprintf("  %s engine, %s backend, %d Hz", cfg.Engine.Name, caps.Backend, caps.SampleRate)))
		return nil
	},
}
