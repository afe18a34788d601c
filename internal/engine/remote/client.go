// Package remote drives an out-of-process inference worker over a websocket.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dgnsrekt/streamtts/internal/tts"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("remote engine closed")

// Config configures the worker connection.
type Config struct {
	URL         string
	Header      http.Header
	DialTimeout time.Duration // zero means 10s
}

// Engine implements tts.Engine against a worker. A lost connection is
// redialed and the model reloaded on the next call.
type Engine struct {
	config Config
	logger *log.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	opts   tts.InitOptions
	caps   tts.Capabilities
	inited bool
	closed bool
}

// New creates an engine for the worker at config.URL.
func New(config Config) *Engine {
	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}
	return &Engine{config: config, logger: log.WithPrefix("remote")}
}

// Initialize implements tts.Engine.
func (e *Engine) Initialize(ctx context.Context, opts tts.InitOptions) (tts.Capabilities, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return tts.Capabilities{}, ErrClosed
	}
	e.opts = opts
	e.inited = false
	e.dropLocked()
	if err := e.connectLocked(ctx); err != nil {
		return tts.Capabilities{}, err
	}
	e.inited = true
	return e.caps, nil
}

// Generate implements tts.Engine.
func (e *Engine) Generate(ctx context.Context, text string, opts tts.GenerateOptions) (tts.AudioUnit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return tts.AudioUnit{}, ErrClosed
	}
	if !e.inited {
		return tts.AudioUnit{}, tts.ErrNotInitialized
	}
	if e.conn == nil {
		e.logger.Debug("reconnecting to worker", "url", e.config.URL)
		if err := e.connectLocked(ctx); err != nil {
			return tts.AudioUnit{}, err
		}
	}

	id := uuid.NewString()
	resp, frame, err := e.roundTripLocked(ctx, Generate{ID: id, Text: text, Voice: opts.Voice, Speed: opts.Speed})
	if err != nil {
		return tts.AudioUnit{}, err
	}

	switch m := resp.(type) {
	case Audio:
		samples, err := tts.DecodeFloat32LE(frame)
		if err != nil {
			return tts.AudioUnit{}, tts.Transient("decode worker audio", err)
		}
		if len(samples) != m.Samples {
			return tts.AudioUnit{}, tts.Transient("worker audio length mismatch",
				fmt.Errorf("%w: announced %d samples, got %d", ErrProtocol, m.Samples, len(samples)))
		}
		if len(samples) == 0 {
			return tts.AudioUnit{}, tts.Transient("worker returned no audio", nil)
		}
		return tts.AudioUnit{Samples: samples, SampleRate: m.SampleRate, Text: text}, nil
	case Error:
		return tts.AudioUnit{}, m.Err()
	default:
		return tts.AudioUnit{}, tts.Transient("unexpected worker reply",
			fmt.Errorf("%w: %s to generate", ErrProtocol, resp.Kind()))
	}
}

// Close implements tts.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.conn == nil {
		return nil
	}
	e.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := e.conn.Close()
	e.conn = nil
	return err
}

func (e *Engine) connectLocked(ctx context.Context) error {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: e.config.DialTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, e.config.URL, e.config.Header)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return tts.NewError(tts.KindBackendUnavailable, "BACKEND_UNAVAILABLE", "dial worker",
			errors.Join(tts.ErrBackendUnavailable, err)).WithContext("url", e.config.URL)
	}
	e.conn = conn

	resp, _, err := e.roundTripLocked(ctx, Init{
		ID:        uuid.NewString(),
		Model:     e.opts.ModelID,
		Precision: e.opts.Precision,
		Backend:   string(e.opts.Backend),
	})
	if err != nil {
		return err
	}

	switch m := resp.(type) {
	case Ready:
		backend := e.opts.Backend
		if m.Backend != "" {
			backend = tts.Backend(m.Backend)
		}
		e.caps = tts.Capabilities{Voices: m.Voices, SampleRate: m.SampleRate, Backend: backend}
		e.logger.Debug("worker ready", "backend", backend, "sample_rate", m.SampleRate, "voices", len(m.Voices))
		return nil
	case Error:
		e.dropLocked()
		return m.Err()
	default:
		e.dropLocked()
		return fmt.Errorf("%w: %s to init", ErrProtocol, resp.Kind())
	}
}

// roundTripLocked sends req and waits for the reply carrying its id. Replies
// to earlier, abandoned requests are discarded along with their audio frames.
// Any transport failure drops the connection.
func (e *Engine) roundTripLocked(ctx context.Context, req Message) (Message, []byte, error) {
	conn := e.conn
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
		conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	data, err := Encode(req)
	if err != nil {
		return nil, nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return nil, nil, e.transportErr(ctx, "send", err)
	}

	skipFrame := false
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			return nil, nil, e.transportErr(ctx, "receive", err)
		}
		if typ == websocket.BinaryMessage {
			if skipFrame {
				skipFrame = false
				continue
			}
			e.logger.Warn("unexpected binary frame from worker", "bytes", len(data))
			continue
		}
		skipFrame = false

		msg, err := Decode(data)
		if err != nil {
			e.logger.Warn("undecodable worker message", "err", err)
			continue
		}
		if msg.RequestID() != req.RequestID() {
			e.logger.Debug("discarding stale reply", "kind", msg.Kind(), "id", msg.RequestID())
			if _, ok := msg.(Audio); ok {
				skipFrame = true
			}
			continue
		}
		if _, ok := msg.(Audio); !ok {
			return msg, nil, nil
		}

		typ, frame, err := conn.ReadMessage()
		if err != nil {
			return nil, nil, e.transportErr(ctx, "receive audio", err)
		}
		if typ != websocket.BinaryMessage {
			e.dropLocked()
			return nil, nil, tts.Transient("worker sent no audio frame", ErrProtocol)
		}
		return msg, frame, nil
	}
}

func (e *Engine) transportErr(ctx context.Context, op string, err error) error {
	e.dropLocked()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return tts.Transient("worker "+op+" failed", errors.Join(tts.ErrContextLost, err))
}

func (e *Engine) dropLocked() {
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
}
