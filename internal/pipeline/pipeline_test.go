package pipeline

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgnsrekt/streamtts/internal/audio"
	"github.com/dgnsrekt/streamtts/internal/chunker"
	"github.com/dgnsrekt/streamtts/internal/config"
	"github.com/dgnsrekt/streamtts/internal/engine/mock"
	"github.com/dgnsrekt/streamtts/internal/jobs"
	"github.com/dgnsrekt/streamtts/internal/session"
	"github.com/dgnsrekt/streamtts/internal/tts"
	"github.com/dgnsrekt/streamtts/internal/wav"
)

const fourSentences = "One here. Two here. Three here. Four here."

func silentContexts(sampleRate int) (audio.AudioContext, error) {
	ctx := audio.NewMockContext(sampleRate, 1)
	ctx.Speedup = 0
	return ctx, nil
}

func testPipeline(eng *mock.Engine) *Pipeline {
	sess := session.DefaultOptions()
	sess.Chunker = chunker.New(12)
	sess.SlotWait = time.Second
	sess.DrainTimeout = time.Second
	sess.EventBuffer = 1024

	player := audio.DefaultPlayerConfig()
	player.Contexts = silentContexts

	return New(Options{
		Factory:   func(tts.Backend) (tts.Engine, error) { return eng, nil },
		QueueSize: 2,
		Session:   sess,
		Player:    player,
	})
}

func request(mode tts.Mode) tts.GenerationRequest {
	return tts.GenerationRequest{JobID: "job-1", Text: fourSentences, VoiceID: "af_heart", Speed: 1, Mode: mode}
}

func TestPipelineDisk(t *testing.T) {
	p := testPipeline(mock.New(mock.Config{}))
	defer p.Close()

	path := filepath.Join(t.TempDir(), "out", "speech.wav")
	out, err := p.Run(context.Background(), request(tts.ModeDisk), Target{
		Mode:     tts.ModeDisk,
		Output:   path,
		Encoding: wav.PCM16,
		Keep:     true,
	}, RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Result.State != session.StateComplete {
		t.Errorf("Expected complete, got %s", out.Result.State)
	}
	if out.Produced != 4 || out.Succeeded != 4 {
		t.Errorf("Expected 4 produced and 4 succeeded, got %d and %d", out.Produced, out.Succeeded)
	}

	info, err := wav.Inspect(path)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if !info.Consistent {
		t.Errorf("Expected consistent header sizes, got %+v", info)
	}
	if info.Header.SampleRate != mock.DefaultSampleRate {
		t.Errorf("Expected %d Hz, got %d", mock.DefaultSampleRate, info.Header.SampleRate)
	}
	if !bytes.HasPrefix(out.WAV, []byte("RIFF")) {
		t.Errorf("Expected kept audio to be a WAV file")
	}
	if int64(len(out.WAV)) != info.FileSize {
		t.Errorf("Expected kept audio to match the file size %d, got %d", info.FileSize, len(out.WAV))
	}
}

func TestPipelineStream(t *testing.T) {
	eng := mock.New(mock.Config{})
	p := testPipeline(eng)
	defer p.Close()

	var emitted, progress int
	out, err := p.Run(context.Background(), request(tts.ModeStream), Target{}, RunOptions{
		Observe: func(ev session.Event) {
			switch ev.(type) {
			case session.UnitEmitted:
				emitted++
			case session.ProgressUpdated:
				progress++
			}
		},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if emitted != 4 {
		t.Errorf("Expected 4 units, got %d", emitted)
	}
	if progress == 0 {
		t.Errorf("Expected progress events")
	}
	if out.WAV != nil {
		t.Errorf("Expected no audio without Keep")
	}
	if eng.CallCount() != 4 {
		t.Errorf("Expected 4 engine calls, got %d", eng.CallCount())
	}
}

func TestPipelineTargetErrors(t *testing.T) {
	p := testPipeline(mock.New(mock.Config{}))
	defer p.Close()

	tests := []struct {
		name   string
		req    tts.GenerationRequest
		target Target
	}{
		{"mode mismatch", request(tts.ModeStream), Target{Mode: tts.ModeDisk}},
		{"disk without output", request(tts.ModeDisk), Target{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.Run(context.Background(), tt.req, tt.target, RunOptions{}); err == nil {
				t.Errorf("Expected an error")
			}
		})
	}
}

func TestPipelineCancelled(t *testing.T) {
	p := testPipeline(mock.New(mock.Config{Latency: 200 * time.Millisecond}))
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out, err := p.Run(ctx, request(tts.ModeStream), Target{}, RunOptions{})
	if err == nil {
		t.Fatalf("Expected an error from a cancelled run")
	}
	if out.Result.State != session.StateStopped {
		t.Errorf("Expected stopped, got %s", out.Result.State)
	}
}

func TestJobRunnerResumesStreamJob(t *testing.T) {
	eng := mock.New(mock.Config{})
	p := testPipeline(eng)
	defer p.Close()

	job := jobs.New(request(tts.ModeStream))
	job.ID = "resume"
	job.ProducedChunkCount = 2
	job.SucceededChunks = 1
	job.TotalChunkCount = 4

	var checkpoints []jobs.Checkpoint
	r := &JobRunner{Pipeline: p}
	out := r.RunJob(context.Background(), job, func(c jobs.Checkpoint) {
		checkpoints = append(checkpoints, c)
	})
	if out.Err != nil {
		t.Fatalf("RunJob failed: %v", out.Err)
	}
	if out.Produced != 4 || out.Succeeded != 3 || out.Total != 4 {
		t.Errorf("Expected 4 produced, 3 succeeded of 4, got %+v", out.Checkpoint)
	}
	if calls := eng.Calls(); len(calls) != 2 || calls[0] != "Three here." {
		t.Errorf("Expected generation to resume at the third chunk, got %v", calls)
	}
	if len(checkpoints) == 0 {
		t.Fatalf("Expected checkpoints")
	}
	for _, c := range checkpoints {
		if c.Produced < 2 || c.Total != 4 {
			t.Errorf("Expected absolute checkpoints, got %+v", c)
		}
	}
}

func TestJobRunnerCheckpointsOnlyPlayedChunks(t *testing.T) {
	stalled := audio.NewMockContext(mock.DefaultSampleRate, 1)
	stalled.Stall = true

	sess := session.DefaultOptions()
	sess.Chunker = chunker.New(12)
	sess.SlotWait = time.Second
	sess.DrainTimeout = time.Second
	sess.EventBuffer = 1024
	player := audio.DefaultPlayerConfig()
	player.Contexts = func(int) (audio.AudioContext, error) { return stalled, nil }
	player.Margin = time.Minute

	eng := mock.New(mock.Config{})
	p := New(Options{
		Factory:   func(tts.Backend) (tts.Engine, error) { return eng, nil },
		QueueSize: 2,
		Session:   sess,
		Player:    player,
	})
	defer p.Close()

	job := jobs.New(request(tts.ModeStream))
	job.ID = "stalled"
	job.ProducedChunkCount = 1
	job.SucceededChunks = 1
	job.TotalChunkCount = 4

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var checkpoints []jobs.Checkpoint
	r := &JobRunner{Pipeline: p}
	out := r.RunJob(ctx, job, func(c jobs.Checkpoint) {
		checkpoints = append(checkpoints, c)
	})
	if out.Err == nil {
		t.Fatalf("Expected an error from a cancelled run")
	}
	if len(stalled.Played()) == 0 {
		t.Fatalf("Expected playback to start")
	}
	if eng.CallCount() < 2 {
		t.Errorf("Expected at least 2 chunks handed to the player, got %d", eng.CallCount())
	}
	if out.Produced != 1 || out.Succeeded != 1 {
		t.Errorf("Expected 1 produced and 1 succeeded, got %d and %d", out.Produced, out.Succeeded)
	}
	for _, c := range checkpoints {
		if c.Produced != 1 || c.Succeeded != 1 {
			t.Errorf("Expected checkpoints to stay at the first chunk, got %+v", c)
		}
	}
}

func TestJobRunnerWithScheduler(t *testing.T) {
	store, err := jobs.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer store.Close()

	p := testPipeline(mock.New(mock.Config{}))
	defer p.Close()

	outDir := t.TempDir()
	job := jobs.New(request(tts.ModeDisk))
	if err := store.Create(job); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	runner := &JobRunner{Pipeline: p, Encoding: wav.PCM16, OutputDir: outDir, Keep: true}
	sched := jobs.NewScheduler(store, runner, jobs.SchedulerOptions{KeepAudio: true})
	n, err := sched.RunPending(context.Background())
	if err != nil {
		t.Fatalf("RunPending failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 job run, got %d", n)
	}

	got, err := store.Get(job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != jobs.StatusComplete || got.Progress != 100 || !got.HasAudio {
		t.Errorf("Expected a complete job with audio, got %+v", got)
	}
	if got.SucceededChunks != 4 || got.TotalChunkCount != 4 {
		t.Errorf("Expected 4 of 4 chunks, got %d of %d", got.SucceededChunks, got.TotalChunkCount)
	}
	if _, err := wav.Inspect(filepath.Join(outDir, job.ID+".wav")); err != nil {
		t.Errorf("Expected a readable WAV file: %v", err)
	}
	if _, err := store.LoadAudio(job.ID); err != nil {
		t.Errorf("Expected kept audio: %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Generation.MaxChunk = 120
	cfg.Generation.Retries = 5

	opts, err := FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	if opts.QueueSize != cfg.Generation.QueueSize {
		t.Errorf("Expected queue size %d, got %d", cfg.Generation.QueueSize, opts.QueueSize)
	}
	if opts.Session.Chunker != chunker.New(120) {
		t.Errorf("Expected a 120 rune chunker")
	}
	if opts.Session.Policy.MaxRetries != 5 {
		t.Errorf("Expected 5 retries, got %d", opts.Session.Policy.MaxRetries)
	}
	if opts.Runtime.Preferred != tts.BackendGPU || opts.Runtime.Fallback != tts.BackendCPU {
		t.Errorf("Expected gpu then cpu, got %s then %s", opts.Runtime.Preferred, opts.Runtime.Fallback)
	}

	cfg.Engine.Name = "nope"
	if _, err := FromConfig(cfg); err == nil {
		t.Errorf("Expected an error for an unknown engine")
	}
}

func TestEngineFactory(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"mock", false},
		{"piper", false},
		{"openai", false},
		{"remote", false},
		{"espeak", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default().Engine
			cfg.Name = tt.name
			factory, err := EngineFactory(cfg)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("EngineFactory failed: %v", err)
			}
			eng, err := factory(tts.BackendCPU)
			if err != nil || eng == nil {
				t.Errorf("Expected an engine, got %v", err)
			}
		})
	}
}

func TestVoices(t *testing.T) {
	p := testPipeline(mock.New(mock.Config{}))
	defer p.Close()

	caps, err := p.Voices(context.Background())
	if err != nil {
		t.Fatalf("Voices failed: %v", err)
	}
	if len(caps.Voices) != len(mock.Voices) {
		t.Errorf("Expected %d voices, got %d", len(mock.Voices), len(caps.Voices))
	}

	failing := testPipeline(mock.New(mock.Config{InitError: errors.New("no model")}))
	defer failing.Close()
	if _, err := failing.Voices(context.Background()); err == nil {
		t.Errorf("Expected an initialization error")
	}
}
