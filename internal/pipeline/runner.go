package pipeline

import (
	"context"
	"path/filepath"

	"github.com/dgnsrekt/streamtts/internal/jobs"
	"github.com/dgnsrekt/streamtts/internal/session"
	"github.com/dgnsrekt/streamtts/internal/tts"
	"github.com/dgnsrekt/streamtts/internal/wav"
)

// JobRunner runs persisted jobs through a pipeline.
type JobRunner struct {
	Pipeline *Pipeline
	Encoding wav.Encoding

	// OutputDir receives disk jobs that have no output path.
	OutputDir string

	// Keep returns the finished audio so the store can keep it.
	Keep bool

	// Observe, when set, sees every session event of every job.
	Observe func(job *jobs.Job, ev session.Event)
}

// RunJob implements jobs.Runner. Checkpoints count only chunks the sink has
// finished with, so a stream job resumes after the last chunk that was heard.
func (r *JobRunner) RunJob(ctx context.Context, job *jobs.Job, checkpoint func(jobs.Checkpoint)) jobs.Outcome {
	start, prior := job.ResumePoint()

	target := Target{Mode: job.Mode, Encoding: r.Encoding, Keep: r.Keep}
	if job.Mode == tts.ModeDisk {
		target.Output = job.Output
		if target.Output == "" {
			target.Output = filepath.Join(r.OutputDir, job.ID+".wav")
		}
	}

	percent := job.Progress
	observe := func(ev session.Event) {
		if p, ok := ev.(session.ProgressUpdated); ok {
			percent = p.Percent
			if checkpoint != nil {
				checkpoint(jobs.Checkpoint{
					Produced:  p.Consumed,
					Succeeded: p.ConsumedSucceeded,
					Total:     p.Total,
					Progress:  p.Percent,
				})
			}
		}
		if r.Observe != nil {
			r.Observe(job, ev)
		}
	}

	out, err := r.Pipeline.Run(ctx, job.Request(), target, RunOptions{
		StartChunk:     start,
		PriorSucceeded: prior,
		Observe:        observe,
	})
	return jobs.Outcome{
		Checkpoint: jobs.Checkpoint{
			Produced:  out.Produced,
			Succeeded: out.Succeeded,
			Total:     out.Result.Total,
			Progress:  percent,
		},
		WAV: out.WAV,
		Err: err,
	}
}
