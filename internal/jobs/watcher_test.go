package jobs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgnsrekt/streamtts/internal/tts"
)

func TestWatcherQueuesTextFiles(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	queued := make(chan *Job, 10)
	intake := func(path string, data []byte) (*Job, error) {
		return New(tts.GenerationRequest{Text: string(data), Speed: 1, Mode: tts.ModeStream}), nil
	}
	w := NewWatcher(dir, s, intake, WatcherOptions{
		Settle:   50 * time.Millisecond,
		OnQueued: func(j *Job) { queued <- j },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, "chapter.txt")
	os.WriteFile(path, []byte("Chapter one."), 0o644)
	os.WriteFile(filepath.Join(dir, "notes.log"), []byte("ignored"), 0o644)
	os.WriteFile(filepath.Join(dir, ".draft.txt"), []byte("ignored"), 0o644)

	select {
	case job := <-queued:
		if job.Source != path || job.Text != "Chapter one." {
			t.Errorf("Unexpected job %+v", job)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for a queued job")
	}

	select {
	case job := <-queued:
		t.Errorf("Expected a single job, got another from %s", job.Source)
	case <-time.After(300 * time.Millisecond):
	}

	all, _ := s.List()
	if len(all) != 1 {
		t.Errorf("Expected 1 stored job, got %d", len(all))
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Expected Run to return nil, got %v", err)
	}
}

func TestWatcherAccepts(t *testing.T) {
	w := NewWatcher("", nil, nil, WatcherOptions{})
	tests := []struct {
		path string
		want bool
	}{
		{"/in/a.txt", true},
		{"/in/b.MD", true},
		{"/in/c.pdf", false},
		{"/in/.hidden.txt", false},
		{"/in/noext", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := w.accepts(tt.path); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
