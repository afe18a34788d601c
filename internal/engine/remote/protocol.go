package remote

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/dgnsrekt/streamtts/internal/tts"
)

// Protocol errors.
var (
	ErrUnknownKind = errors.New("unknown message kind")
	ErrProtocol    = errors.New("worker protocol violation")
)

// Kind tags a worker message.
type Kind string

const (
	KindInit     Kind = "init"
	KindReady    Kind = "ready"
	KindGenerate Kind = "generate"
	KindAudio    Kind = "audio"
	KindError    Kind = "error"
)

// Envelope is the text frame every message travels in.
type Envelope struct {
	Type    Kind            `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is one decoded worker message. The concrete types are Init,
// Ready, Generate, Audio and Error.
type Message interface {
	Kind() Kind
	RequestID() string
	message()
}

// Init asks the worker to load a model.
type Init struct {
	ID        string `json:"-"`
	Model     string `json:"model"`
	Precision string `json:"precision,omitempty"`
	Backend   string `json:"backend"`
}

// Ready answers Init once the model is loaded.
type Ready struct {
	ID         string               `json:"-"`
	Backend    string               `json:"backend"`
	SampleRate int                  `json:"sample_rate"`
	Voices     map[string]tts.Voice `json:"voices"`
}

// Generate asks the worker to synthesize one piece of text.
type Generate struct {
	ID    string  `json:"-"`
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"`
	Speed float64 `json:"speed"`
}

// Audio announces a binary frame of Samples float32 little endian values.
type Audio struct {
	ID         string `json:"-"`
	SampleRate int    `json:"sample_rate"`
	Samples    int    `json:"samples"`
}

// ErrorCode is the failure class reported by the worker.
type ErrorCode string

const (
	CodeSessionConflict    ErrorCode = "session_conflict"
	CodeContextLost        ErrorCode = "context_lost"
	CodeMalformedInput     ErrorCode = "malformed_input"
	CodeBackendUnavailable ErrorCode = "backend_unavailable"
	CodeTimeout            ErrorCode = "timeout"
)

// Error reports a failed request.
type Error struct {
	ID      string    `json:"-"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (Init) Kind() Kind     { return KindInit }
func (Ready) Kind() Kind    { return KindReady }
func (Generate) Kind() Kind { return KindGenerate }
func (Audio) Kind() Kind    { return KindAudio }
func (Error) Kind() Kind    { return KindError }

func (m Init) RequestID() string     { return m.ID }
func (m Ready) RequestID() string    { return m.ID }
func (m Generate) RequestID() string { return m.ID }
func (m Audio) RequestID() string    { return m.ID }
func (m Error) RequestID() string    { return m.ID }

func (Init) message()     {}
func (Ready) message()    {}
func (Generate) message() {}
func (Audio) message()    {}
func (Error) message()    {}

// Err converts the worker failure into a classified engine error.
func (m Error) Err() error {
	var err *tts.Error
	switch m.Code {
	case CodeSessionConflict:
		err = tts.Transient(m.Message, tts.ErrSessionConflict)
	case CodeContextLost:
		err = tts.Transient(m.Message, tts.ErrContextLost)
	case CodeMalformedInput:
		err = tts.Malformed(m.Message, nil)
	case CodeBackendUnavailable:
		err = tts.NewError(tts.KindBackendUnavailable, "BACKEND_UNAVAILABLE", m.Message, tts.ErrBackendUnavailable)
	case CodeTimeout:
		err = tts.NewError(tts.KindTimeout, "TIMEOUT", m.Message, tts.ErrTimeout)
	default:
		err = tts.Transient(m.Message, nil)
	}
	return err.WithContext("worker_code", string(m.Code))
}

// Encode wraps m in an envelope.
func Encode(m Message) ([]byte, error) {
	payload, err := sonic.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", m.Kind(), err)
	}
	return sonic.Marshal(Envelope{Type: m.Kind(), ID: m.RequestID(), Payload: payload})
}

// Decode parses one text frame.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	var (
		msg    Message
		target any
	)
	switch env.Type {
	case KindInit:
		m := &Init{}
		msg, target = m, m
	case KindReady:
		m := &Ready{}
		msg, target = m, m
	case KindGenerate:
		m := &Generate{}
		msg, target = m, m
	case KindAudio:
		m := &Audio{}
		msg, target = m, m
	case KindError:
		m := &Error{}
		msg, target = m, m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}

	if len(env.Payload) > 0 {
		if err := sonic.Unmarshal(env.Payload, target); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrProtocol, env.Type, err)
		}
	}
	return withID(msg, env.ID), nil
}

func withID(msg Message, id string) Message {
	switch m := msg.(type) {
	case *Init:
		m.ID = id
		return *m
	case *Ready:
		m.ID = id
		return *m
	case *Generate:
		m.ID = id
		return *m
	case *Audio:
		m.ID = id
		return *m
	case *Error:
		m.ID = id
		return *m
	}
	return msg
}
