package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/streamtts/internal/tts"
)

func testUnit(index, samples int) tts.AudioUnit {
	s := make([]float32, samples)
	for i := range s {
		s[i] = 0.25
	}
	return tts.AudioUnit{Samples: s, SampleRate: 24000, ChunkIndex: index}
}

func newTestPlayer(mock *MockContext, margin time.Duration) *StreamingPlayer {
	return NewStreamingPlayer(PlayerConfig{
		Contexts:     func(int) (AudioContext, error) { return mock, nil },
		PollInterval: time.Millisecond,
		Margin:       margin,
	})
}

func TestFormatValidate(t *testing.T) {
	tests := []struct {
		name      string
		format    Format
		expectErr bool
	}{
		{"mono 24kHz", Format{SampleRate: 24000, Channels: 1}, false},
		{"mono 22050Hz", Format{SampleRate: 22050, Channels: 1}, false},
		{"zero rate", Format{SampleRate: 0, Channels: 1}, true},
		{"stereo", Format{SampleRate: 24000, Channels: 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.format.Validate()
			if (err != nil) != tt.expectErr {
				t.Errorf("Expected error=%v, got %v", tt.expectErr, err)
			}
		})
	}
}

func TestStreamingPlayerPlaysInOrder(t *testing.T) {
	mock := NewMockContext(24000, 1)
	mock.Speedup = 0
	p := newTestPlayer(mock, time.Second)

	if err := p.Open(context.Background(), Format{SampleRate: 24000, Channels: 1}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	var mu sync.Mutex
	var acked []int
	for i := 0; i < 5; i++ {
		unit := testUnit(i, 240+i)
		err := p.Enqueue(unit, func(err error) {
			if err != nil {
				t.Errorf("Unexpected ack error: %v", err)
			}
			mu.Lock()
			acked = append(acked, unit.ChunkIndex)
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(acked) != 5 {
		t.Fatalf("Expected 5 acks, got %d", len(acked))
	}
	for i, idx := range acked {
		if idx != i {
			t.Errorf("Expected ack %d for chunk %d, got chunk %d", i, i, idx)
		}
	}

	played := mock.Played()
	for i, pcm := range played {
		if want := (240 + i) * 2; len(pcm) != want {
			t.Errorf("Expected unit %d to play %d bytes, got %d", i, want, len(pcm))
		}
	}
	if p.Played() != 5 {
		t.Errorf("Expected 5 played units, got %d", p.Played())
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestStreamingPlayerStop(t *testing.T) {
	mock := NewMockContext(24000, 1)
	mock.Stall = true
	p := newTestPlayer(mock, time.Minute)

	stopped := make(chan struct{})
	p.OnStop(func() { close(stopped) })

	if err := p.Open(context.Background(), Format{SampleRate: 24000, Channels: 1}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	var mu sync.Mutex
	acks := 0
	for i := 0; i < 3; i++ {
		if err := p.Enqueue(testUnit(i, 2400), func(error) {
			mu.Lock()
			acks++
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(mock.Played()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Playback never started")
		}
		time.Sleep(time.Millisecond)
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Expected OnStop callback to run")
	}

	// Second stop is a no-op.
	if err := p.Stop(); err != nil {
		t.Errorf("Expected second Stop to succeed, got %v", err)
	}

	if err := p.Enqueue(testUnit(3, 10), nil); !errors.Is(err, ErrSinkStopped) {
		t.Errorf("Expected ErrSinkStopped, got %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if acks != 0 {
		t.Errorf("Expected no acks after stop, got %d", acks)
	}
	if n := len(mock.Played()); n != 1 {
		t.Errorf("Expected 1 unit started, got %d", n)
	}
}

func TestStreamingPlayerStalledDeviceMovesOn(t *testing.T) {
	mock := NewMockContext(24000, 1)
	mock.Stall = true
	p := newTestPlayer(mock, 20*time.Millisecond)

	if err := p.Open(context.Background(), Format{SampleRate: 24000, Channels: 1}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	done := make(chan error, 1)
	if err := p.Enqueue(testUnit(0, 24), func(err error) { done <- err }); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil ack, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected ack once the playback bound elapsed")
	}
	p.Close()
}

func TestStreamingPlayerRejectsMismatchedRate(t *testing.T) {
	mock := NewMockContext(24000, 1)
	p := newTestPlayer(mock, time.Second)
	if err := p.Open(context.Background(), Format{SampleRate: 24000, Channels: 1}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	unit := testUnit(0, 10)
	unit.SampleRate = 22050
	if err := p.Enqueue(unit, nil); !errors.Is(err, tts.ErrConsumer) {
		t.Errorf("Expected consumer error, got %v", err)
	}
}

func TestStreamingPlayerNotOpen(t *testing.T) {
	p := NewStreamingPlayer(PlayerConfig{Contexts: NewContextFactory(ContextMock)})
	if err := p.Enqueue(testUnit(0, 10), nil); err == nil {
		t.Error("Expected error when enqueueing before Open")
	}
	if err := p.Close(); err != nil {
		t.Errorf("Expected Close on unopened player to succeed, got %v", err)
	}
}
