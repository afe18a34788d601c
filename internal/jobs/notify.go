package jobs

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
)

// Notifier is told when a job reaches a terminal status. Delivery is best
// effort.
type Notifier interface {
	Notify(ctx context.Context, job *Job)
}

// NopNotifier drops notifications.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, *Job) {}

// TerminalNotifier logs the outcome and rings the terminal bell.
type TerminalNotifier struct {
	Out  io.Writer
	Bell bool
}

// Notify implements Notifier.
func (n TerminalNotifier) Notify(_ context.Context, job *Job) {
	if job.Status == StatusFailed {
		log.Warn("job failed", "id", shortID(job.ID), "source", job.Source, "err", job.Error)
	} else {
		log.Info("job finished", "id", shortID(job.ID), "source", job.Source,
			"chunks", fmt.Sprintf("%d/%d", job.SucceededChunks, job.TotalChunkCount))
	}
	if n.Bell && n.Out != nil {
		fmt.Fprint(n.Out, "\a")
	}
}

// MultiNotifier fans out to several notifiers.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, job *Job) {
	for _, n := range m {
		n.Notify(ctx, job)
	}
}

// ShortID returns the first eight characters of a job id.
func ShortID(id string) string { return shortID(id) }

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
