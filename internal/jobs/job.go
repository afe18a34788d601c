// Package jobs persists generation jobs so they can be queued, resumed after
// an interruption and run one at a time.
package jobs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/streamtts/internal/tts"
)

var (
	// ErrNotFound is returned for an unknown job id
	ErrNotFound = errors.New("job not found")

	// ErrBusy is returned by Claim while another job is processing
	ErrBusy = errors.New("another job is processing")

	// ErrNoQueued is returned by Claim when nothing is queued
	ErrNoQueued = errors.New("no queued jobs")

	// ErrNoAudio is returned by LoadAudio when no audio was kept
	ErrNoAudio = errors.New("no audio stored for job")
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// ParseStatus converts a user supplied status name.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusQueued, StatusProcessing, StatusComplete, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown job status %q", s)
	}
}

// IsDone reports whether the status is terminal.
func (s Status) IsDone() bool {
	return s == StatusComplete || s == StatusFailed
}

// Job is one persisted generation job.
type Job struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	VoiceID string   `json:"voice_id"`
	Speed   float64  `json:"speed"` // effective engine factor
	Mode    tts.Mode `json:"mode"`

	// Output is the WAV path for disk jobs.
	Output string `json:"output,omitempty"`
	// Source names where the text came from, e.g. a watched file.
	Source string `json:"source,omitempty"`

	Status             Status `json:"status"`
	Progress           int    `json:"progress"`
	ProducedChunkCount int    `json:"produced_chunk_count"`
	SucceededChunks    int    `json:"succeeded_chunks"`
	TotalChunkCount    int    `json:"total_chunk_count"`
	Attempts           int    `json:"attempts"`
	Error              string `json:"error,omitempty"`
	HasAudio           bool   `json:"has_audio,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// New creates a queued job. The id is assigned by the store.
func New(req tts.GenerationRequest) *Job {
	return &Job{
		Text:    req.Text,
		VoiceID: req.VoiceID,
		Speed:   req.Speed,
		Mode:    req.Mode,
		Status:  StatusQueued,
	}
}

// Request returns the generation request for the job.
func (j *Job) Request() tts.GenerationRequest {
	return tts.GenerationRequest{
		JobID:   j.ID,
		Text:    j.Text,
		VoiceID: j.VoiceID,
		Speed:   j.Speed,
		Mode:    j.Mode,
	}
}

// ResumePoint returns the chunk to start from and how many earlier chunks
// produced audio. Disk jobs always restart because the partial file is
// rewritten.
func (j *Job) ResumePoint() (start, succeeded int) {
	if j.Mode == tts.ModeDisk {
		return 0, 0
	}
	return j.ProducedChunkCount, j.SucceededChunks
}

// Clone returns a copy of the job.
func (j *Job) Clone() *Job {
	c := *j
	return &c
}
