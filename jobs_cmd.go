package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/truncate"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/streamtts/internal/config"
	"github.com/dgnsrekt/streamtts/internal/jobs"
	"github.com/dgnsrekt/streamtts/internal/pipeline"
	"github.com/dgnsrekt/streamtts/internal/session"
	"github.com/dgnsrekt/streamtts/internal/ui"
)

var jobsKeys = map[string]string{
	"keep-audio": "jobs.keep_audio",
	"float":      "audio.float",
}

var (
	jobsCmd = &cobra.Command{
		Use:   "jobs",
		Short: "Manage queued generation jobs",
		Long: paragraph(fmt.Sprintf("\nList, run and remove jobs queued with %s or picked up by %s.",
			keyword("--enqueue"), keyword("watch"))),
		Args: cobra.NoArgs,
	}

	jobsListCmd = &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List jobs",
		Args:    cobra.NoArgs,
		RunE:    runJobsList,
	}

	jobsRunCmd = &cobra.Command{
		Use:   "run",
		Short: "Run queued and interrupted jobs, oldest first",
		Args:  cobra.NoArgs,
		RunE:  runJobsRun,
	}

	jobsClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Remove complete and failed jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := storeFor(cmd)
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck

			n, err := store.ClearCompleted()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s.\n", humanize.Comma(int64(n))+" "+plural(n, "job"))
			return nil
		},
	}

	jobsRmCmd = &cobra.Command{
		Use:   "rm ID...",
		Short: "Remove jobs by id or id prefix",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFor(cmd)
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck

			for _, arg := range args {
				job, err := findJob(store, arg)
				if err != nil {
					return err
				}
				if job.Status == jobs.StatusProcessing {
					return fmt.Errorf("job %s is processing", jobs.ShortID(job.ID))
				}
				if err := store.Delete(job.ID); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Removed", jobs.ShortID(job.ID))
			}
			return nil
		},
	}

	jobsExportCmd = &cobra.Command{
		Use:   "export ID",
		Short: "Write the kept audio of a finished job to a WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFor(cmd)
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck

			job, err := findJob(store, args[0])
			if err != nil {
				return err
			}
			data, err := store.LoadAudio(job.ID)
			if errors.Is(err, jobs.ErrNoAudio) {
				return fmt.Errorf("job %s kept no audio; run jobs with --keep-audio", jobs.ShortID(job.ID))
			}
			if err != nil {
				return err
			}

			out, _ := cmd.Flags().GetString("output")
			if out == "" {
				out = jobs.ShortID(job.ID) + ".wav"
			}
			if err := os.WriteFile(out, data, 0o644); err != nil { //nolint:gosec
				return fmt.Errorf("unable to write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s)\n", out, humanize.Bytes(uint64(len(data))))
			return nil
		},
	}
)

func init() {
	jobsListCmd.Flags().StringSlice("status", nil, "only show jobs with these statuses")
	jobsRunCmd.Flags().Bool("keep-audio", config.Default().Jobs.KeepAudio, "keep finished audio in the job store")
	jobsRunCmd.Flags().Bool("float", config.Default().Audio.Float, "write 32-bit float samples")
	jobsExportCmd.Flags().StringP("output", "o", "", "WAV file to write (default <id>.wav)")

	jobsCmd.AddCommand(jobsListCmd, jobsRunCmd, jobsClearCmd, jobsRmCmd, jobsExportCmd)
}

func openStore(cfg config.Config) (*jobs.FileStore, error) {
	store, err := jobs.NewFileStore(cfg.Jobs.Dir)
	if err != nil {
		return nil, fmt.Errorf("unable to open job store: %w", err)
	}
	return store, nil
}

func storeFor(cmd *cobra.Command) (*jobs.FileStore, error) {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return nil, err
	}
	return openStore(cfg)
}

// findJob resolves a full id or a unique id prefix.
func findJob(store jobs.Store, ref string) (*jobs.Job, error) {
	if job, err := store.Get(ref); err == nil {
		return job, nil
	}
	all, err := store.List()
	if err != nil {
		return nil, err
	}
	var found *jobs.Job
	for _, j := range all {
		if !strings.HasPrefix(j.ID, ref) {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("job id %q is ambiguous", ref)
		}
		found = j
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", jobs.ErrNotFound, ref)
	}
	return found, nil
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	store, err := storeFor(cmd)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	var statuses []jobs.Status
	names, _ := cmd.Flags().GetStringSlice("status")
	for _, name := range names {
		st, err := jobs.ParseStatus(name)
		if err != nil {
			return err
		}
		statuses = append(statuses, st)
	}

	list, err := store.List(statuses...)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No jobs.")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), jobTable(list))
	return nil
}

func jobTable(list []*jobs.Job) string {
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers("ID", "STATUS", "MODE", "CHUNKS", "CREATED", "TEXT")

	for _, j := range list {
		chunks := "-"
		if j.TotalChunkCount > 0 {
			chunks = fmt.Sprintf("%d/%d", j.SucceededChunks, j.TotalChunkCount)
		}
		status := string(j.Status)
		if j.Status == jobs.StatusProcessing || (j.Status == jobs.StatusQueued && j.Progress > 0) {
			status = fmt.Sprintf("%s %d%%", j.Status, j.Progress)
		}
		t.Row(jobs.ShortID(j.ID), status, string(j.Mode), chunks, humanize.Time(j.CreatedAt), preview(j.Text, 40))
	}
	return t.String()
}

// preview returns the first line of text cut to width.
func preview(text string, width uint) string {
	text = strings.Join(strings.Fields(text), " ")
	return truncate.StringWithTail(text, width, "…")
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func runJobsRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, jobsKeys)
	if err != nil {
		return err
	}
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

	n, err := sched.RunPending(ctx)
	if ctx.Err() != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Interrupted after %d %s; remaining jobs stay queued.\n", n, plural(n, "job"))
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Ran %d %s.\n", n, plural(n, "job"))
	return nil
}

// newScheduler wires a pipeline into a job scheduler.
func newScheduler(cfg config.Config, store jobs.Store) (*jobs.Scheduler, *pipeline.Pipeline, error) {
	opts, err := pipeline.FromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	p := pipeline.New(opts)

	loggers := map[string]*ui.EventLogger{}
	runner := &pipeline.JobRunner{
		Pipeline:  p,
		Encoding:  encodingFor(cfg),
		OutputDir: filepath.Join(cfg.Jobs.Dir, "output"),
		Keep:      cfg.Jobs.KeepAudio,
		Observe: func(job *jobs.Job, ev session.Event) {
			l, ok := loggers[job.ID]
			if !ok {
				l = ui.NewEventLogger(log.With("job", jobs.ShortID(job.ID)))
				loggers[job.ID] = l
			}
			l.Observe(ev)
			if _, done := ev.(session.Finished); done {
				delete(loggers, job.ID)
			}
		},
	}
	sched := jobs.NewScheduler(store, runner, jobs.SchedulerOptions{
		Notifier:  jobs.TerminalNotifier{Out: os.Stderr, Bell: cfg.Jobs.Bell},
		KeepAudio: cfg.Jobs.KeepAudio,
	})
	return sched, p, nil
}
