package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/streamtts/internal/session"
	"github.com/dgnsrekt/streamtts/internal/tts"
)

func TestStatusDisplayCreation(t *testing.T) {
	display := NewStatusDisplay()
	if display.CompactStatus() != "" {
		t.Error("Initial compact status should be empty")
	}
	if display.DetailedStatus(80) != "" {
		t.Error("Initial detailed status should be empty")
	}
	if display.Done() {
		t.Error("Display should not be done initially")
	}
}

func TestStatusDisplayApply(t *testing.T) {
	display := NewStatusDisplay()
	events := []session.Event{
		session.StateChanged{From: session.StateIdle, To: session.StateInitializing},
		session.StateChanged{From: session.StateInitializing, To: session.StateGenerating},
		session.ChunkStarted{Chunk: tts.TextChunk{Index: 2, Total: 10, Text: "Three."}},
		session.UnitEmitted{ChunkIndex: 2, Duration: 65 * time.Second},
		session.ChunkFailed{Chunk: tts.TextChunk{Index: 1, Total: 10}, Err: errors.New("engine rejected text")},
		session.ProgressUpdated{Attempted: 3, Total: 10, Percent: 30},
	}
	for _, ev := range events {
		display.Apply(ev)
	}

	if display.State() != session.StateGenerating {
		t.Errorf("Expected generating, got %s", display.State())
	}
	if display.Percent() != 30 {
		t.Errorf("Expected 30%%, got %d", display.Percent())
	}

	compact := display.CompactStatus()
	for _, want := range []string{"▶", "3/10", "1 skipped"} {
		if !strings.Contains(compact, want) {
			t.Errorf("Expected compact status to contain %q, got %q", want, compact)
		}
	}

	detailed := display.DetailedStatus(80)
	for _, want := range []string{"Chunks: 3 of 10", "Audio:  1:05", "engine rejected text"} {
		if !strings.Contains(detailed, want) {
			t.Errorf("Expected detailed status to contain %q, got %q", want, detailed)
		}
	}
}

func TestStatusDisplayTruncatesErrors(t *testing.T) {
	display := NewStatusDisplay()
	display.Apply(session.StateChanged{To: session.StateGenerating})
	display.Apply(session.ChunkFailed{Err: errors.New(strings.Repeat("x", 200))})

	for _, line := range strings.Split(display.DetailedStatus(40), "\n") {
		if !strings.Contains(line, "Error") {
			continue
		}
		if !strings.Contains(line, "...") {
			t.Errorf("Expected a truncated error, got %q", line)
		}
		if strings.Count(line, "x") > 40 {
			t.Errorf("Expected the error to fit the width, got %d characters", strings.Count(line, "x"))
		}
	}
}

func TestStatusDisplayFinished(t *testing.T) {
	display := NewStatusDisplay()
	display.Apply(session.Finished{Result: session.Result{
		State:   session.StateFailed,
		Err:     errors.New("no chunk produced audio"),
		Backend: tts.BackendCPU,
	}})
	if !display.Done() {
		t.Error("Expected display to be done")
	}
	if display.State() != session.StateFailed {
		t.Errorf("Expected failed, got %s", display.State())
	}
	if !strings.Contains(display.CompactStatus(), "✗") {
		t.Errorf("Expected failure icon, got %q", display.CompactStatus())
	}
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name string
		res  session.Result
		want []string
	}{
		{
			name: "complete",
			res: session.Result{
				State: session.StateComplete, Total: 4, Attempted: 4, Succeeded: 4,
				Audio: 12 * time.Second, Elapsed: 1500 * time.Millisecond, Backend: tts.BackendGPU,
			},
			want: []string{"✓", "complete", "4 of 4 chunks", "0:12 of audio", "1.5s", "gpu"},
		},
		{
			name: "resumed with skips",
			res: session.Result{
				State: session.StateComplete, Total: 10, StartChunk: 6, Attempted: 4, Succeeded: 3, Skipped: 1,
			},
			want: []string{"3 of 4 chunks", "1 skipped"},
		},
		{
			name: "stopped",
			res:  session.Result{State: session.StateStopped, Total: 3, Attempted: 1},
			want: []string{"◼", "stopped", "0 of 3 chunks"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summary(tt.res)
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("Expected %q in %q", want, got)
				}
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00"},
		{-time.Second, "0:00"},
		{59 * time.Second, "0:59"},
		{61 * time.Second, "1:01"},
		{10 * time.Minute, "10:00"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("Expected %s for %v, got %s", tt.want, tt.in, got)
		}
	}
}
