package jobs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Store is a durable queue of jobs.
type Store interface {
	Create(job *Job) error
	Get(id string) (*Job, error)
	Update(id string, fn func(*Job) error) (*Job, error)
	List(statuses ...Status) ([]*Job, error)
	Delete(id string) error

	// ClearCompleted removes complete and failed jobs.
	ClearCompleted() (int, error)

	// Claim marks the oldest queued job as processing. It fails with
	// ErrBusy while another job is processing.
	Claim() (*Job, error)

	// RecoverInterrupted requeues jobs left processing by a crash.
	RecoverInterrupted() (int, error)

	SaveAudio(id string, wav []byte) error
	LoadAudio(id string) ([]byte, error)
}

// FileStore keeps one JSON record per job and zstd compressed audio blobs
// under a directory.
type FileStore struct {
	dir    string
	logger *log.Logger
	now    func() time.Time

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens or creates a store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	for _, sub := range []string{"jobs", "audio"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create job directory: %w", err)
		}
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &FileStore{
		dir:     dir,
		logger:  log.WithPrefix("jobs"),
		now:     time.Now,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Dir returns the store root.
func (s *FileStore) Dir() string { return s.dir }

// Create implements Store. It assigns the id and creation time.
func (s *FileStore) Create(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job.ID = uuid.NewString()
	job.CreatedAt = s.now()
	if job.Status == "" {
		job.Status = StatusQueued
	}
	if err := s.writeJob(job); err != nil {
		return err
	}
	s.logger.Debug("job created", "id", job.ID, "mode", job.Mode, "chars", len(job.Text))
	return nil
}

// Get implements Store.
func (s *FileStore) Get(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readJob(id)
}

// Update implements Store. fn edits a copy; nothing is written if it fails.
func (s *FileStore) Update(id string, fn func(*Job) error) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.readJob(id)
	if err != nil {
		return nil, err
	}
	if err := fn(job); err != nil {
		return nil, err
	}
	job.ID = id
	if err := s.writeJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

// List implements Store. Jobs are returned oldest first, filtered by status
// when any are given.
func (s *FileStore) List(statuses ...Status) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.listLocked()
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return all, nil
	}

	var out []*Job
	for _, j := range all {
		for _, st := range statuses {
			if j.Status == st {
				out = append(out, j)
				break
			}
		}
	}
	return out, nil
}

// Delete implements Store.
func (s *FileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.jobPath(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return err
	}
	s.removeAudio(id)
	return nil
}

// ClearCompleted implements Store.
func (s *FileStore) ClearCompleted() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.listLocked()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, j := range all {
		if !j.Status.IsDone() {
			continue
		}
		if err := os.Remove(s.jobPath(j.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, err
		}
		s.removeAudio(j.ID)
		removed++
	}
	return removed, nil
}

// Claim implements Store. A lock file under the store directory keeps two
// processes sharing it from claiming at the same time.
func (s *FileStore) Claim() (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lockClaims()
	if err != nil {
		return nil, err
	}
	defer unlock()

	all, err := s.listLocked()
	if err != nil {
		return nil, err
	}

	var next *Job
	for _, j := range all {
		switch j.Status {
		case StatusProcessing:
			return nil, fmt.Errorf("%w: %s", ErrBusy, j.ID)
		case StatusQueued:
			if next == nil {
				next = j
			}
		}
	}
	if next == nil {
		return nil, ErrNoQueued
	}

	next.Status = StatusProcessing
	next.StartedAt = s.now()
	next.Attempts++
	next.Error = ""
	if err := s.writeJob(next); err != nil {
		return nil, err
	}
	return next, nil
}

const (
	claimLockName  = "claim.lock"
	claimLockStale = 30 * time.Second
	claimLockRetry = 10 * time.Millisecond
	claimLockTries = 20
)

// lockClaims creates the claim lock file and returns a func removing it. A
// lock older than claimLockStale was left by a crashed process.
func (s *FileStore) lockClaims() (func(), error) {
	path := filepath.Join(s.dir, claimLockName)
	for try := 0; ; try++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() {
				if err := os.Remove(path); err != nil {
					s.logger.Warn("failed to remove claim lock", "err", err)
				}
			}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to lock job store: %w", err)
		}
		if info, err := os.Stat(path); err == nil && time.Since(info.ModTime()) > claimLockStale {
			s.logger.Warn("removing stale claim lock", "path", path)
			os.Remove(path)
			continue
		}
		if try >= claimLockTries {
			return nil, fmt.Errorf("%w: claim lock held by another process", ErrBusy)
		}
		time.Sleep(claimLockRetry)
	}
}

// RecoverInterrupted implements Store.
func (s *FileStore) RecoverInterrupted() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.listLocked()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, j := range all {
		if j.Status != StatusProcessing {
			continue
		}
		j.Status = StatusQueued
		if err := s.writeJob(j); err != nil {
			return recovered, err
		}
		s.logger.Info("requeued interrupted job", "id", j.ID, "produced", j.ProducedChunkCount, "total", j.TotalChunkCount)
		recovered++
	}
	return recovered, nil
}

// SaveAudio implements Store.
func (s *FileStore) SaveAudio(id string, wav []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.readJob(id)
	if err != nil {
		return err
	}

	compressed := s.encoder.EncodeAll(wav, nil)
	if err := writeFile(s.audioPath(id), compressed); err != nil {
		return fmt.Errorf("failed to write audio: %w", err)
	}
	s.logger.Debug("audio stored", "id", id, "bytes", len(wav), "compressed", len(compressed))

	job.HasAudio = true
	return s.writeJob(job)
}

// LoadAudio implements Store.
func (s *FileStore) LoadAudio(id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.audioPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoAudio, id)
		}
		return nil, err
	}
	out, err := s.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("corrupt audio for job %s: %w", id, err)
	}
	return out, nil
}

// Close releases the compressor.
func (s *FileStore) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return nil
}

func (s *FileStore) listLocked() ([]*Job, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "jobs"))
	if err != nil {
		return nil, err
	}

	jobs := make([]*Job, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		j, err := s.readJob(strings.TrimSuffix(name, ".json"))
		if err != nil {
			s.logger.Warn("skipping unreadable job", "file", name, "err", err)
			continue
		}
		jobs = append(jobs, j)
	}

	sort.SliceStable(jobs, func(a, b int) bool {
		if !jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
		}
		return jobs[a].ID < jobs[b].ID
	})
	return jobs, nil
}

func (s *FileStore) readJob(id string) (*Job, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	data, err := os.ReadFile(s.jobPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}

	var job Job
	if err := sonic.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("corrupt job record %s: %w", id, err)
	}
	return &job, nil
}

func (s *FileStore) writeJob(job *Job) error {
	data, err := sonic.ConfigStd.MarshalIndent(job, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFile(s.jobPath(job.ID), data); err != nil {
		return fmt.Errorf("failed to write job %s: %w", job.ID, err)
	}
	return nil
}

func (s *FileStore) removeAudio(id string) {
	if err := os.Remove(s.audioPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove audio", "id", id, "err", err)
	}
}

func (s *FileStore) jobPath(id string) string {
	return filepath.Join(s.dir, "jobs", id+".json")
}

func (s *FileStore) audioPath(id string) string {
	return filepath.Join(s.dir, "audio", id+".wav.zst")
}

// validID keeps ids from escaping the store directory.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}

func writeFile(path string, data []byte) error {
	// Write to a temp file first, then rename over the target.
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}

	_, err = tmp.Write(data)
	closeErr := tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if closeErr != nil {
		os.Remove(tmp.Name())
		return closeErr
	}
	return os.Rename(tmp.Name(), path)
}
