package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/streamtts/internal/config"
	"github.com/dgnsrekt/streamtts/internal/jobs"
	"github.com/dgnsrekt/streamtts/internal/pipeline"
	"github.com/dgnsrekt/streamtts/internal/session"
	"github.com/dgnsrekt/streamtts/internal/tts"
	"github.com/dgnsrekt/streamtts/internal/ui"
	"github.com/dgnsrekt/streamtts/internal/wav"
)

// speakKeys maps speak flags to configuration keys.
var speakKeys = map[string]string{
	"speed":      "generation.speed",
	"voice":      "generation.voice",
	"max-chunk":  "generation.max_chunk",
	"queue-size": "generation.queue_size",
	"markdown":   "generation.markdown",
	"float":      "audio.float",
	"output":     "audio.output",
}

var (
	streamCmd = &cobra.Command{
		Use:   "stream [FILE|-]",
		Short: "Play text as it is generated",
		Long: paragraph(fmt.Sprintf("\n%s the text while later chunks are still being generated. Press q or Ctrl-C to stop.",
			keyword("Play"))),
		Example: paragraph("streamtts stream notes.md\necho hello | streamtts stream --voice heart"),
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSpeak(cmd, args, tts.ModeStream)
		},
	}

	saveCmd = &cobra.Command{
		Use:     "save [FILE|-]",
		Short:   "Write speech to a WAV file",
		Long:    paragraph(fmt.Sprintf("\n%s speech into a WAV file, one chunk at a time.", keyword("Write"))),
		Example: paragraph("streamtts save chapter.txt -o chapter.wav\nstreamtts save --clipboard --float -o clip.wav"),
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSpeak(cmd, args, tts.ModeDisk)
		},
	}
)

func init() {
	def := config.Default()
	for _, cmd := range []*cobra.Command{streamCmd, saveCmd} {
		f := cmd.Flags()
		f.Float64("speed", def.Generation.Speed, "speech speed from 0.5 to 2.0")
		f.String("voice", def.Generation.Voice, "voice id; partial names are matched")
		f.Int("max-chunk", def.Generation.MaxChunk, "longest chunk sent to the engine, in characters")
		f.Int("queue-size", def.Generation.QueueSize, "audio units buffered ahead of the sink")
		f.Bool("markdown", def.Generation.Markdown, "treat input as markdown")
		f.Bool("clipboard", false, "read text from the clipboard")
		f.Bool("float", def.Audio.Float, "write 32-bit float samples")
		f.Bool("enqueue", false, "queue a job instead of running it now")
	}
	saveCmd.Flags().StringP("output", "o", def.Audio.Output, "WAV file to write")
}

func encodingFor(cfg config.Config) wav.Encoding {
	if cfg.Audio.Float {
		return wav.Float32
	}
	return wav.PCM16
}

func runSpeak(cmd *cobra.Command, args []string, mode tts.Mode) error {
	cfg, err := loadConfig(cmd, speakKeys)
	if err != nil {
		return err
	}
	fromClipboard, _ := cmd.Flags().GetBool("clipboard")
	enqueue, _ := cmd.Flags().GetBool("enqueue")

	raw, source, err := readInput(args, fromClipboard, os.Stdin)
	if err != nil {
		return err
	}
	text, err := prepareText(raw, source, cfg.Generation.Markdown)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := pipeline.FromConfig(cfg)
	if err != nil {
		return err
	}
	p := pipeline.New(opts)
	defer func() {
		if err := p.Close(); err != nil {
			log.Warn("failed to close engine", "err", err)
		}
	}()

	voice := cfg.Generation.Voice
	if voice != "" {
		caps, err := p.Voices(ctx)
		if err != nil {
			return fmt.Errorf("unable to start engine: %w", err)
		}
		if voice, err = resolveVoice(voice, caps.VoiceIDs()); err != nil {
			return err
		}
		log.Debug("voice selected", "voice", voice)
	}

	req := tts.GenerationRequest{
		JobID:   uuid.NewString(),
		Text:    text,
		VoiceID: voice,
		Speed:   tts.RemapSpeed(cfg.Generation.Speed),
		Mode:    mode,
	}
	target := pipeline.Target{Mode: mode, Encoding: encodingFor(cfg)}
	if mode == tts.ModeDisk {
		target.Output = cfg.Audio.Output
	}

	if enqueue {
		return enqueueJob(cmd, cfg, req, target, source)
	}
	return runInteractive(ctx, cmd, p, req, target, source)
}

func enqueueJob(cmd *cobra.Command, cfg config.Config, req tts.GenerationRequest, target pipeline.Target, source string) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	job := jobs.New(req)
	job.Output = target.Output
	job.Source = source
	if err := store.Create(job); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s. Run it with %s.\n", keyword(jobs.ShortID(job.ID)), keyword("streamtts jobs run"))
	return nil
}

// runInteractive runs one request in the foreground with a progress view on
// a terminal and log lines otherwise.
func runInteractive(ctx context.Context, cmd *cobra.Command, p *pipeline.Pipeline, req tts.GenerationRequest, target pipeline.Target, source string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		out    pipeline.Output
		runErr error
	)
	if !ui.IsTerminal(os.Stderr) || debug {
		events := ui.NewEventLogger(nil)
		out, runErr = p.Run(ctx, req, target, pipeline.RunOptions{Observe: events.Observe})
	} else {
		title := "Speaking " + source
		if req.Mode == tts.ModeDisk {
			title = "Writing " + target.Output
		}
		prog := ui.NewProgram(ui.NewModel(title, cancel), os.Stderr)
		done := make(chan error, 1)
		go func() {
			_, err := prog.Run()
			done <- err
		}()

		out, runErr = p.Run(ctx, req, target, pipeline.RunOptions{
			Observe: func(ev session.Event) { prog.Send(ui.EventMsg{Event: ev}) },
		})
		prog.Quit()
		if err := <-done; err != nil {
			log.Warn("progress view failed", "err", err)
		}
	}

	fmt.Fprintln(cmd.ErrOrStderr(), ui.Summary(out.Result))
	if runErr == nil && req.Mode == tts.ModeDisk {
		fmt.Fprintln(cmd.OutOrStdout(), "Wrote", target.Output)
	}
	if errors.Is(runErr, tts.ErrStopped) {
		return nil
	}
	return runErr
}
