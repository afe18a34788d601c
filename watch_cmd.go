package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/streamtts/internal/config"
	"github.com/dgnsrekt/streamtts/internal/jobs"
	"github.com/dgnsrekt/streamtts/internal/tts"
)

var watchKeys = map[string]string{
	"speed":      "generation.speed",
	"voice":      "generation.voice",
	"markdown":   "generation.markdown",
	"keep-audio": "jobs.keep_audio",
	"float":      "audio.float",
}

var watchCmd = &cobra.Command{
	Use:   "watch DIR",
	Short: "Queue a job for every text file dropped into a directory",
	Long: paragraph(fmt.Sprintf("\nWatch DIR and %s every new .txt or .md file. Jobs run one at a time, oldest first.",
		keyword("speak"))),
	Example: paragraph("streamtts watch ~/inbox\nstreamtts watch ~/inbox --mode disk --out-dir ~/audio"),
	Args:    cobra.ExactArgs(1),
	RunE:    runWatch,
}

func init() {
	def := config.Default()
	f := watchCmd.Flags()
	f.String("mode", string(tts.ModeStream), "stream plays each job, disk writes WAV files")
	f.String("out-dir", "", "directory for WAV files in disk mode (default <jobs dir>/output)")
	f.Float64("speed", def.Generation.Speed, "speech speed from 0.5 to 2.0")
	f.String("voice", def.Generation.Voice, "voice id; partial names are matched")
	f.Bool("markdown", def.Generation.Markdown, "treat every file as markdown")
	f.Bool("keep-audio", def.Jobs.KeepAudio, "keep finished audio in the job store")
	f.Bool("float", def.Audio.Float, "write 32-bit float samples")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, watchKeys)
	if err != nil {
		return err
	}
	dir := args[0]
	if st, err := os.Stat(dir); err != nil {
		return fmt.Errorf("unable to watch %s: %w", dir, err)
	} else if !st.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	modeName, _ := cmd.Flags().GetString("mode")
	mode, err := tts.ParseMode(modeName)
	if err != nil {
		return err
	}
	outDir, _ := cmd.Flags().GetString("out-dir")

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck
	if n, err := store.RecoverInterrupted(); err != nil {
		return err
	} else if n > 0 {
		log.Info("resuming interrupted jobs", "count", n)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched, p, err := newScheduler(cfg, store)
	if err != nil {
		return err
	}
	defer p.Close() //nolint:errcheck

	voice := cfg.Generation.Voice
	if voice != "" {
		caps, err := p.Voices(ctx)
		if err != nil {
			return fmt.Errorf("unable to start engine: %w", err)
		}
		if voice, err = resolveVoice(voice, caps.VoiceIDs()); err != nil {
			return err
		}
	}

	intake := func(path string, data []byte) (*jobs.Job, error) {
		text, err := prepareText(string(data), path, cfg.Generation.Markdown)
		if err != nil {
			return nil, err
		}
		job := jobs.New(tts.GenerationRequest{
			Text:    text,
			VoiceID: voice,
			Speed:   tts.RemapSpeed(cfg.Generation.Speed),
			Mode:    mode,
		})
		if mode == tts.ModeDisk && outDir != "" {
			base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			job.Output = filepath.Join(outDir, base+".wav")
		}
		return job, nil
	}

	watcher := jobs.NewWatcher(dir, store, intake, jobs.WatcherOptions{
		OnQueued: func(job *jobs.Job) {
			log.Info("job queued", "id", jobs.ShortID(job.ID), "source", job.Source)
			sched.Wake()
		},
	})

	log.Info("watching for text files", "dir", dir, "mode", mode)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error { return watcher.Run(ctx) })
	return g.Wait()
}
