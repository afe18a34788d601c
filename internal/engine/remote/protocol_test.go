package remote

import (
	"errors"
	"testing"

	"github.com/dgnsrekt/streamtts/internal/tts"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, msg Message)
	}{
		{
			name:  "ready",
			input: `{"type":"ready","id":"a1","payload":{"backend":"cpu","sample_rate":24000,"voices":{"af_heart":{"name":"Heart","gender":"female","language":"en-us"}}}}`,
			check: func(t *testing.T, msg Message) {
				m, ok := msg.(Ready)
				if !ok {
					t.Fatalf("Expected Ready, got %T", msg)
				}
				if m.ID != "a1" || m.Backend != "cpu" || m.SampleRate != 24000 {
					t.Errorf("Unexpected ready %+v", m)
				}
				if m.Voices["af_heart"].Gender != "female" {
					t.Errorf("Expected voice gender female, got %q", m.Voices["af_heart"].Gender)
				}
			},
		},
		{
			name:  "generate",
			input: `{"type":"generate","id":"g7","payload":{"text":"Hello.","voice":"af_heart","speed":1.25}}`,
			check: func(t *testing.T, msg Message) {
				m, ok := msg.(Generate)
				if !ok {
					t.Fatalf("Expected Generate, got %T", msg)
				}
				if m.RequestID() != "g7" || m.Text != "Hello." || m.Speed != 1.25 {
					t.Errorf("Unexpected generate %+v", m)
				}
			},
		},
		{
			name:  "audio",
			input: `{"type":"audio","id":"g7","payload":{"sample_rate":24000,"samples":480}}`,
			check: func(t *testing.T, msg Message) {
				m, ok := msg.(Audio)
				if !ok {
					t.Fatalf("Expected Audio, got %T", msg)
				}
				if m.Samples != 480 {
					t.Errorf("Expected 480 samples, got %d", m.Samples)
				}
			},
		},
		{
			name:  "error",
			input: `{"type":"error","id":"g7","payload":{"code":"malformed_input","message":"too many phonemes"}}`,
			check: func(t *testing.T, msg Message) {
				m, ok := msg.(Error)
				if !ok {
					t.Fatalf("Expected Error, got %T", msg)
				}
				if m.Code != CodeMalformedInput || m.Message != "too many phonemes" {
					t.Errorf("Unexpected error %+v", m)
				}
			},
		},
		{
			name:  "init without payload",
			input: `{"type":"init","id":"i1"}`,
			check: func(t *testing.T, msg Message) {
				if _, ok := msg.(Init); !ok {
					t.Fatalf("Expected Init, got %T", msg)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.input))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			tt.check(t, msg)
		})
	}
}

func TestDecodeInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"not json", `hello`, ErrProtocol},
		{"unknown kind", `{"type":"progress","id":"x"}`, ErrUnknownKind},
		{"bad payload", `{"type":"audio","id":"x","payload":{"samples":"many"}}`, ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.input)); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestEncodeCarriesKindAndID(t *testing.T) {
	data, err := Encode(Generate{ID: "r1", Text: "Hi.", Speed: 1})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Kind() != KindGenerate || msg.RequestID() != "r1" {
		t.Errorf("Expected generate r1, got %s %s", msg.Kind(), msg.RequestID())
	}
}

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		kind     tts.Kind
		sentinel error
	}{
		{CodeSessionConflict, tts.KindTransient, tts.ErrSessionConflict},
		{CodeContextLost, tts.KindTransient, tts.ErrContextLost},
		{CodeMalformedInput, tts.KindMalformedInput, tts.ErrMalformedInput},
		{CodeBackendUnavailable, tts.KindBackendUnavailable, tts.ErrBackendUnavailable},
		{CodeTimeout, tts.KindTimeout, tts.ErrTimeout},
		{"gremlins", tts.KindTransient, nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := Error{Code: tt.code, Message: "boom"}.Err()
			if got := tts.KindOf(err); got != tt.kind {
				t.Errorf("Expected %s, got %s", tt.kind, got)
			}
			if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
				t.Errorf("Expected %v to wrap %v", err, tt.sentinel)
			}
		})
	}
}
