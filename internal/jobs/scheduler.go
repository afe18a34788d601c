package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
)

// Checkpoint is reported by a Runner as chunks are attempted.
type Checkpoint struct {
	Produced  int
	Succeeded int
	Total     int
	Progress  int
}

// Outcome is the result of running one job.
type Outcome struct {
	Checkpoint

	// WAV holds the finished audio when the runner kept it.
	WAV []byte
	Err error
}

// Runner executes a single job.
type Runner interface {
	RunJob(ctx context.Context, job *Job, checkpoint func(Checkpoint)) Outcome
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, job *Job, checkpoint func(Checkpoint)) Outcome

// RunJob implements Runner.
func (f RunnerFunc) RunJob(ctx context.Context, job *Job, checkpoint func(Checkpoint)) Outcome {
	return f(ctx, job, checkpoint)
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Notifier Notifier

	// KeepAudio stores finished audio in the job store.
	KeepAudio bool

	// PollInterval is how often Run looks for new jobs without a Wake.
	// Zero means 30s.
	PollInterval time.Duration
}

// Scheduler runs queued jobs one at a time.
type Scheduler struct {
	store  Store
	runner Runner
	opts   SchedulerOptions
	logger *log.Logger
	wake   chan struct{}
}

// NewScheduler creates a scheduler.
func NewScheduler(store Store, runner Runner, opts SchedulerOptions) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}
	return &Scheduler{
		store:  store,
		runner: runner,
		opts:   opts,
		logger: log.WithPrefix("scheduler"),
		wake:   make(chan struct{}, 1),
	}
}

// Wake makes a running scheduler look for jobs immediately.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run processes jobs until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := s.RunPending(ctx); err != nil && !errors.Is(err, ErrBusy) {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// RunPending runs queued jobs, oldest first, until none remain. It returns
// the number of jobs that reached a terminal status.
func (s *Scheduler) RunPending(ctx context.Context) (int, error) {
	ran := 0
	for {
		if err := ctx.Err(); err != nil {
			return ran, err
		}

		job, err := s.store.Claim()
		if errors.Is(err, ErrNoQueued) {
			return ran, nil
		}
		if err != nil {
			return ran, err
		}

		final, err := s.runOne(ctx, job)
		if err != nil {
			return ran, err
		}
		if !final.Status.IsDone() {
			// Interrupted and requeued.
			return ran, ctx.Err()
		}
		ran++
	}
}

func (s *Scheduler) runOne(ctx context.Context, job *Job) (*Job, error) {
	s.logger.Info("running job", "id", job.ID, "mode", job.Mode, "attempt", job.Attempts,
		"resume_from", job.ProducedChunkCount)

	checkpoint := func(c Checkpoint) {
		_, err := s.store.Update(job.ID, func(j *Job) error {
			applyCheckpoint(j, c)
			return nil
		})
		if err != nil {
			s.logger.Warn("failed to checkpoint job", "id", job.ID, "err", err)
		}
	}

	out := s.runner.RunJob(ctx, job.Clone(), checkpoint)

	final, err := s.store.Update(job.ID, func(j *Job) error {
		applyCheckpoint(j, out.Checkpoint)
		switch {
		case ctx.Err() != nil:
			j.Status = StatusQueued
		case out.Err != nil:
			j.Status = StatusFailed
			j.Error = out.Err.Error()
			j.CompletedAt = time.Now()
		default:
			j.Status = StatusComplete
			j.Progress = 100
			j.Error = ""
			j.CompletedAt = time.Now()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if final.Status == StatusComplete && s.opts.KeepAudio && len(out.WAV) > 0 {
		if err := s.store.SaveAudio(final.ID, out.WAV); err != nil {
			s.logger.Warn("failed to keep audio", "id", final.ID, "err", err)
		} else {
			final.HasAudio = true
		}
	}

	switch final.Status {
	case StatusQueued:
		s.logger.Info("job interrupted", "id", final.ID, "produced", final.ProducedChunkCount, "total", final.TotalChunkCount)
	case StatusFailed:
		s.logger.Error("job failed", "id", final.ID, "err", final.Error)
		s.opts.Notifier.Notify(ctx, final)
	default:
		s.logger.Info("job complete", "id", final.ID, "succeeded", final.SucceededChunks, "total", final.TotalChunkCount)
		s.opts.Notifier.Notify(ctx, final)
	}
	return final, nil
}

// applyCheckpoint records absolute counts. A checkpoint without a total
// comes from a run that never started and leaves the job alone.
func applyCheckpoint(j *Job, c Checkpoint) {
	if c.Total == 0 {
		return
	}
	j.TotalChunkCount = c.Total
	j.ProducedChunkCount = c.Produced
	j.SucceededChunks = c.Succeeded
	j.Progress = c.Progress
}
