package jobs

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/streamtts/internal/tts"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func createJob(t *testing.T, s Store, text string, mode tts.Mode) *Job {
	t.Helper()
	job := New(tts.GenerationRequest{Text: text, VoiceID: "af_heart", Speed: 1, Mode: mode})
	if err := s.Create(job); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return job
}

func TestStoreCreateGetUpdate(t *testing.T) {
	s := newTestStore(t)
	job := createJob(t, s, "Hello there.", tts.ModeStream)

	if job.ID == "" || job.Status != StatusQueued || job.CreatedAt.IsZero() {
		t.Fatalf("Expected an id, queued status and creation time, got %+v", job)
	}

	got, err := s.Get(job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Text != "Hello there." || got.VoiceID != "af_heart" || !got.CreatedAt.Equal(job.CreatedAt) {
		t.Errorf("Unexpected job %+v", got)
	}

	updated, err := s.Update(job.ID, func(j *Job) error {
		j.Progress = 40
		j.ID = "tampered"
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.ID != job.ID || updated.Progress != 40 {
		t.Errorf("Expected progress 40 on %s, got %d on %s", job.ID, updated.Progress, updated.ID)
	}

	boom := errors.New("boom")
	if _, err := s.Update(job.ID, func(j *Job) error {
		j.Progress = 90
		return boom
	}); !errors.Is(err, boom) {
		t.Errorf("Expected the update error, got %v", err)
	}
	if got, _ := s.Get(job.ID); got.Progress != 40 {
		t.Errorf("Expected failed update to leave progress 40, got %d", got.Progress)
	}
}

func TestStoreNotFound(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"missing", "../jobs", ""} {
		if _, err := s.Get(id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%q): expected ErrNotFound, got %v", id, err)
		}
	}
	if err := s.Delete("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := s.Update("missing", func(*Job) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStoreListOrderAndFilter(t *testing.T) {
	s := newTestStore(t)
	a := createJob(t, s, "first", tts.ModeStream)
	b := createJob(t, s, "second", tts.ModeDisk)
	c := createJob(t, s, "third", tts.ModeStream)

	s.Update(b.ID, func(j *Job) error {
		j.Status = StatusComplete
		return nil
	})

	// A corrupt record is skipped.
	os.WriteFile(filepath.Join(s.Dir(), "jobs", "broken.json"), []byte("{"), 0o644)

	all, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != a.ID || all[1].ID != b.ID || all[2].ID != c.ID {
		t.Fatalf("Expected jobs in creation order, got %d jobs", len(all))
	}

	queued, _ := s.List(StatusQueued)
	if len(queued) != 2 || queued[0].ID != a.ID || queued[1].ID != c.ID {
		t.Errorf("Expected 2 queued jobs, got %d", len(queued))
	}

	done, _ := s.List(StatusComplete, StatusFailed)
	if len(done) != 1 || done[0].ID != b.ID {
		t.Errorf("Expected 1 done job, got %d", len(done))
	}
}

func TestStoreClaimSingleProcessing(t *testing.T) {
	s := newTestStore(t)
	a := createJob(t, s, "first", tts.ModeStream)
	b := createJob(t, s, "second", tts.ModeStream)

	claimed, err := s.Claim()
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if claimed.ID != a.ID || claimed.Status != StatusProcessing || claimed.Attempts != 1 || claimed.StartedAt.IsZero() {
		t.Fatalf("Expected the oldest job to be processing, got %+v", claimed)
	}

	if _, err := s.Claim(); !errors.Is(err, ErrBusy) {
		t.Fatalf("Expected ErrBusy while a job is processing, got %v", err)
	}

	s.Update(a.ID, func(j *Job) error {
		j.Status = StatusComplete
		return nil
	})
	claimed, err = s.Claim()
	if err != nil || claimed.ID != b.ID {
		t.Fatalf("Expected to claim %s, got %v (%v)", b.ID, claimed, err)
	}

	s.Update(b.ID, func(j *Job) error {
		j.Status = StatusFailed
		return nil
	})
	if _, err := s.Claim(); !errors.Is(err, ErrNoQueued) {
		t.Errorf("Expected ErrNoQueued, got %v", err)
	}

	processing, _ := s.List(StatusProcessing)
	if len(processing) != 0 {
		t.Errorf("Expected no processing jobs, got %d", len(processing))
	}
}

func TestStoreClaimAcrossStores(t *testing.T) {
	dir := t.TempDir()
	stores := make([]*FileStore, 2)
	for i := range stores {
		s, err := NewFileStore(dir)
		if err != nil {
			t.Fatalf("NewFileStore failed: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		stores[i] = s
	}
	createJob(t, stores[0], "first", tts.ModeStream)
	createJob(t, stores[0], "second", tts.ModeStream)

	errs := make(chan error, len(stores))
	var wg sync.WaitGroup
	for _, s := range stores {
		wg.Add(1)
		go func(s *FileStore) {
			defer wg.Done()
			_, err := s.Claim()
			errs <- err
		}(s)
	}
	wg.Wait()
	close(errs)

	claimed := 0
	for err := range errs {
		switch {
		case err == nil:
			claimed++
		case !errors.Is(err, ErrBusy):
			t.Errorf("Expected ErrBusy, got %v", err)
		}
	}
	if claimed != 1 {
		t.Errorf("Expected 1 claim to succeed, got %d", claimed)
	}
	processing, _ := stores[1].List(StatusProcessing)
	if len(processing) != 1 {
		t.Errorf("Expected 1 processing job, got %d", len(processing))
	}
	if _, err := os.Stat(filepath.Join(dir, claimLockName)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected the claim lock to be removed, got %v", err)
	}
}

func TestStoreClaimLock(t *testing.T) {
	s := newTestStore(t)
	createJob(t, s, "first", tts.ModeStream)

	lock := filepath.Join(s.dir, claimLockName)
	if err := os.WriteFile(lock, []byte("1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := s.Claim(); !errors.Is(err, ErrBusy) {
		t.Fatalf("Expected ErrBusy while the lock is held, got %v", err)
	}

	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(lock, old, old); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}
	if _, err := s.Claim(); err != nil {
		t.Errorf("Expected a stale lock to be taken over, got %v", err)
	}
}

func TestStoreRecoverInterrupted(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	job := createJob(t, s, "Resume me.", tts.ModeStream)
	s.Claim()
	s.Update(job.ID, func(j *Job) error {
		j.ProducedChunkCount = 2
		j.SucceededChunks = 1
		j.TotalChunkCount = 5
		return nil
	})
	s.Close()

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer reopened.Close()

	n, err := reopened.RecoverInterrupted()
	if err != nil {
		t.Fatalf("RecoverInterrupted failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 recovered job, got %d", n)
	}

	got, _ := reopened.Get(job.ID)
	if got.Status != StatusQueued || got.ProducedChunkCount != 2 || got.Attempts != 1 {
		t.Errorf("Expected queued job keeping its progress, got %+v", got)
	}
	if start, ok := got.ResumePoint(); start != 2 || ok != 1 {
		t.Errorf("Expected resume at 2 with 1 succeeded, got %d and %d", start, ok)
	}
}

func TestStoreAudio(t *testing.T) {
	s := newTestStore(t)
	job := createJob(t, s, "Keep my audio.", tts.ModeStream)

	if _, err := s.LoadAudio(job.ID); !errors.Is(err, ErrNoAudio) {
		t.Fatalf("Expected ErrNoAudio, got %v", err)
	}

	wav := bytes.Repeat([]byte{0, 1, 2, 3}, 4096)
	if err := s.SaveAudio(job.ID, wav); err != nil {
		t.Fatalf("SaveAudio failed: %v", err)
	}

	got, err := s.LoadAudio(job.ID)
	if err != nil {
		t.Fatalf("LoadAudio failed: %v", err)
	}
	if !bytes.Equal(got, wav) {
		t.Errorf("Expected %d bytes back, got %d", len(wav), len(got))
	}

	st, err := os.Stat(filepath.Join(s.Dir(), "audio", job.ID+".wav.zst"))
	if err != nil {
		t.Fatalf("Expected a compressed blob: %v", err)
	}
	if st.Size() >= int64(len(wav)) {
		t.Errorf("Expected compression, got %d bytes for %d", st.Size(), len(wav))
	}

	if j, _ := s.Get(job.ID); !j.HasAudio {
		t.Error("Expected HasAudio to be set")
	}
	if err := s.SaveAudio("missing", wav); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStoreClearCompleted(t *testing.T) {
	s := newTestStore(t)
	done := createJob(t, s, "done", tts.ModeStream)
	failed := createJob(t, s, "failed", tts.ModeStream)
	queued := createJob(t, s, "queued", tts.ModeStream)

	s.Update(done.ID, func(j *Job) error {
		j.Status = StatusComplete
		return nil
	})
	s.Update(failed.ID, func(j *Job) error {
		j.Status = StatusFailed
		return nil
	})
	s.SaveAudio(done.ID, []byte("RIFF"))

	n, err := s.ClearCompleted()
	if err != nil {
		t.Fatalf("ClearCompleted failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 removed, got %d", n)
	}

	left, _ := s.List()
	if len(left) != 1 || left[0].ID != queued.ID {
		t.Errorf("Expected only the queued job to remain, got %d jobs", len(left))
	}
	if _, err := s.LoadAudio(done.ID); !errors.Is(err, ErrNoAudio) {
		t.Errorf("Expected audio to be removed, got %v", err)
	}
}

func TestJobResumePoint(t *testing.T) {
	tests := []struct {
		name      string
		mode      tts.Mode
		wantStart int
		wantOK    int
	}{
		{"stream resumes", tts.ModeStream, 3, 2},
		{"disk restarts", tts.ModeDisk, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &Job{Mode: tt.mode, ProducedChunkCount: 3, SucceededChunks: 2}
			start, ok := j.ResumePoint()
			if start != tt.wantStart || ok != tt.wantOK {
				t.Errorf("Expected (%d, %d), got (%d, %d)", tt.wantStart, tt.wantOK, start, ok)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	if st, err := ParseStatus(" Failed "); err != nil || st != StatusFailed {
		t.Errorf("Expected failed, got %q (%v)", st, err)
	}
	if _, err := ParseStatus("paused"); err == nil {
		t.Error("Expected an error for an unknown status")
	}
	if StatusQueued.IsDone() || StatusProcessing.IsDone() || !StatusComplete.IsDone() || !StatusFailed.IsDone() {
		t.Error("Unexpected IsDone results")
	}
}
