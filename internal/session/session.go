// Package session drives one generation job: it feeds chunks to the engine
// one at a time, applies the retry ladder, and hands each unit of audio to a
// sink under queue backpressure.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/streamtts/internal/audio"
	"github.com/dgnsrekt/streamtts/internal/chunker"
	"github.com/dgnsrekt/streamtts/internal/engine"
	"github.com/dgnsrekt/streamtts/internal/queue"
	"github.com/dgnsrekt/streamtts/internal/tts"
)

var (
	// ErrNoAudio is returned when every chunk of a job failed
	ErrNoAudio = errors.New("no chunk produced audio")

	// ErrAlreadyRun is returned when Run is called a second time
	ErrAlreadyRun = errors.New("session already run")
)

// Options configures a session.
type Options struct {
	Policy  RetryPolicy
	Chunker chunker.Chunker

	// SlotWait is how long the oldest unit may stay unacknowledged past the
	// end of its expected playback before its slot is reclaimed.
	SlotWait time.Duration

	// DrainTimeout is added to the expected playback time of the units still
	// pending when generation ends.
	DrainTimeout time.Duration

	// StartChunk skips chunks produced by an earlier run. PriorSucceeded is
	// how many of those produced audio.
	StartChunk     int
	PriorSucceeded int

	EventBuffer int
}

// DefaultOptions returns the standard session options.
func DefaultOptions() Options {
	return Options{
		Policy:       DefaultRetryPolicy(),
		Chunker:      chunker.New(chunker.DefaultMaxLen),
		SlotWait:     10 * time.Second,
		DrainTimeout: time.Minute,
		EventBuffer:  64,
	}
}

// Result summarizes a finished run.
type Result struct {
	State State

	Total      int
	StartChunk int
	Attempted  int
	Succeeded  int
	Skipped    int
	Units      int

	// Consumed counts the leading chunks the sink finished with, and
	// ConsumedSucceeded those of them that produced audio.
	Consumed          int
	ConsumedSucceeded int

	Backend   tts.Backend
	Demoted   int
	Reclaimed int

	Audio   time.Duration
	Elapsed time.Duration
	Err     error
}

// Session runs a single job. It is not reusable.
type Session struct {
	rt     *engine.Runtime
	queue  *queue.AudioQueue
	sink   audio.Sink
	opts   Options
	logger *log.Logger

	machine *StateMachine
	events  chan Event

	ran      atomic.Bool
	stopping atomic.Bool
	stopCh   chan struct{}

	mu          sync.Mutex
	cancel      context.CancelCauseFunc
	consumerErr error

	// Owned by the generation goroutine.
	format    audio.Format
	genOpts   tts.GenerateOptions
	abandoned <-chan callResult
	progress  *Progress
	result    Result

	backlog  backlog
	consumed *consumption
}

type callResult struct {
	unit tts.AudioUnit
	err  error
}

// chunkRun tracks one chunk while its pieces are generated.
type chunkRun struct {
	chunk   tts.TextChunk
	parts   int
	lastErr error
}

// New creates a session. If the sink can report user stops through an
// OnStop hook, the session registers itself there.
func New(rt *engine.Runtime, q *queue.AudioQueue, sink audio.Sink, opts Options) *Session {
	def := DefaultOptions()
	opts.Policy = opts.Policy.withDefaults()
	if opts.Chunker == (chunker.Chunker{}) {
		opts.Chunker = def.Chunker
	}
	if opts.SlotWait <= 0 {
		opts.SlotWait = def.SlotWait
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = def.DrainTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = def.EventBuffer
	}

	s := &Session{
		rt:      rt,
		queue:   q,
		sink:    sink,
		opts:    opts,
		logger:  log.WithPrefix("session"),
		machine: NewStateMachine(),
		events:  make(chan Event, opts.EventBuffer),
		stopCh:  make(chan struct{}),
	}
	if n, ok := sink.(interface{ OnStop(func()) }); ok {
		n.OnStop(s.Stop)
	}
	return s
}

// Events returns the event channel. It is closed when Run returns.
func (s *Session) Events() <-chan Event { return s.events }

// State returns the current state.
func (s *Session) State() State { return s.machine.Current() }

// Stop cancels the session. It is safe to call more than once and from any
// goroutine. No engine call starts after Stop, the sink is halted and every
// queue slot is released.
func (s *Session) Stop() {
	if !s.stopping.CompareAndSwap(false, true) {
		return
	}
	close(s.stopCh)

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel(tts.ErrStopped)
	}

	if err := s.sink.Stop(); err != nil {
		s.logger.Warn("failed to stop sink", "err", err)
	}
	s.queue.Reset()
	s.logger.Debug("session stopped")
}

// Run generates req and blocks until the job reaches a terminal state. The
// returned error is nil only when the state is StateComplete.
func (s *Session) Run(ctx context.Context, req tts.GenerationRequest) (Result, error) {
	if !s.ran.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyRun
	}
	defer close(s.events)
	s.consumed = newConsumption(s.opts.StartChunk, s.opts.PriorSucceeded)

	if err := req.Validate(); err != nil {
		s.machine.Transition(StateFailed)
		res := Result{State: StateFailed, Err: err}
		s.publish(Finished{Result: res})
		return res, err
	}
	s.genOpts = tts.GenerateOptions{Voice: req.VoiceID, Speed: req.Speed}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	if s.stopping.Load() {
		cancel(tts.ErrStopped)
	}

	done := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-done:
		}
		return nil
	})
	g.Go(func() error {
		defer close(done)
		s.run(runCtx, req)
		return nil
	})
	_ = g.Wait()

	res := s.result
	s.publish(Finished{Result: res})
	return res, res.Err
}

func (s *Session) run(ctx context.Context, req tts.GenerationRequest) {
	start := time.Now()
	s.result = Result{StartChunk: s.opts.StartChunk}
	sinkOpen := false

	abort := s.generateAll(ctx, req, &sinkOpen)
	if abort == nil {
		abort = s.drain(ctx)
	}

	if sinkOpen {
		if err := s.sink.Close(); err != nil && abort == nil && !s.stopping.Load() {
			abort = consumerError("close audio sink", err)
		}
	}
	s.awaitAbandoned(s.opts.Policy.CallGrace)

	consumed, succeeded := s.consumed.snapshot()
	s.result.Consumed = consumed - s.opts.StartChunk
	s.result.ConsumedSucceeded = succeeded - s.opts.PriorSucceeded

	state, err := s.outcome(ctx, abort)
	if state != StateComplete {
		s.queue.Reset()
	}
	s.result.State = state
	s.result.Err = err
	s.result.Elapsed = time.Since(start)
	if state == StateComplete && s.progress != nil {
		s.publishProgress(s.progress.Complete())
	}
	s.transition(state)

	logFn := s.logger.Info
	if state != StateComplete {
		logFn = s.logger.Warn
	}
	logFn("job finished",
		"job", req.JobID,
		"state", state,
		"succeeded", s.result.Succeeded,
		"attempted", s.result.Attempted,
		"total", s.result.Total,
		"skipped", s.result.Skipped,
		"elapsed", s.result.Elapsed.Round(time.Millisecond),
	)
}

// generateAll runs every chunk. It returns a non-nil error only when the job
// must end early.
func (s *Session) generateAll(ctx context.Context, req tts.GenerationRequest, sinkOpen *bool) error {
	if err := interrupted(ctx); err != nil {
		return err
	}

	s.transition(StateInitializing)
	caps, err := s.rt.Initialize(ctx)
	if err != nil {
		return err
	}
	s.result.Backend = s.rt.Active()
	s.format = audio.Format{SampleRate: caps.SampleRate, Channels: 1}

	if err := s.sink.Open(ctx, s.format); err != nil {
		return consumerError("open audio sink", err)
	}
	*sinkOpen = true

	it := s.opts.Chunker.NewIterator(req.Text)
	s.result.Total = it.Total()
	if it.Total() == 0 {
		return tts.NewError(tts.KindMalformedInput, "EMPTY_TEXT", "text has no speakable content", tts.ErrEmptyText)
	}
	it.Seek(s.opts.StartChunk)
	s.progress = NewProgress(it.Total(), it.Total()-it.Remaining())
	s.logger.Debug("generation started",
		"job", req.JobID,
		"chunks", it.Total(), "start", s.opts.StartChunk, "backend", s.result.Backend, "sample_rate", caps.SampleRate)

	for {
		s.transition(StateSubmitting)
		if err := interrupted(ctx); err != nil {
			return err
		}
		chunk, ok := it.Next()
		if !ok {
			return nil
		}

		s.result.Attempted++
		s.publish(ChunkStarted{Chunk: chunk})

		cr := &chunkRun{chunk: chunk}
		_, err := s.produce(ctx, cr, chunk.Text, s.opts.Policy.Shrink)
		switch {
		case cr.parts > 0:
			s.result.Succeeded++
		case err == nil:
			s.result.Skipped++
			s.logger.Warn("skipping chunk", "index", chunk.Index, "err", cr.lastErr)
			s.publish(ChunkFailed{Chunk: chunk, Err: cr.lastErr})
		}
		if err != nil {
			return err
		}
		s.consumed.finish(chunk.Index, cr.parts > 0)
		s.publishProgress(s.progress.Advance())
	}
}

// produce generates text for cr, shrinking it when the engine rejects it.
// It returns the number of units emitted and a non-nil error only when the
// job must end.
func (s *Session) produce(ctx context.Context, cr *chunkRun, text string, steps []ShrinkStep) (int, error) {
	g, err := s.attempt(ctx, cr, text)
	if err == nil {
		return 1, s.emit(cr, g)
	}
	if cause := interrupted(ctx); cause != nil {
		return 0, cause
	}
	if fatal(err) {
		return 0, err
	}
	cr.lastErr = err
	if tts.KindOf(err) != tts.KindMalformedInput {
		return 0, nil
	}

	for i, step := range steps {
		if step.Applies != nil && !step.Applies(text) {
			continue
		}
		pieces := step.Split(text)
		if len(pieces) < 2 {
			continue
		}
		s.logger.Debug("shrinking rejected text", "index", cr.chunk.Index, "step", step.Name, "pieces", len(pieces))

		emitted := 0
		for _, piece := range pieces {
			n, err := s.produce(ctx, cr, piece, steps[i+1:])
			emitted += n
			if err != nil {
				return emitted, err
			}
		}
		return emitted, nil
	}
	return 0, nil
}

// attempt runs the retry ladder for one piece of text. The queue slot for the
// piece is taken first and handed to emit on success.
func (s *Session) attempt(ctx context.Context, cr *chunkRun, text string) (generated, error) {
	ticket, err := s.waitSlot(ctx)
	if err != nil {
		return generated{}, err
	}
	s.transition(StateGenerating)

	unit, err := s.generate(ctx, text)
	if err != nil {
		s.queue.Acknowledge(ticket)
		return generated{}, err
	}
	return generated{unit: unit, ticket: ticket}, nil
}

type generated struct {
	unit   tts.AudioUnit
	ticket queue.Ticket
}

func (s *Session) generate(ctx context.Context, text string) (tts.AudioUnit, error) {
	policy := s.opts.Policy
	var lastErr error

	for try := 0; try <= policy.MaxRetries; try++ {
		if try > 0 {
			if err := sleep(ctx, policy.Backoff); err != nil {
				return tts.AudioUnit{}, err
			}
		}
		unit, err := s.call(ctx, "", text)
		if err == nil {
			return unit, nil
		}
		if cause := interrupted(ctx); cause != nil {
			return tts.AudioUnit{}, cause
		}
		if fatal(err) || tts.KindOf(err) == tts.KindMalformedInput {
			return tts.AudioUnit{}, err
		}
		lastErr = err
		s.logger.Debug("engine call failed", "try", try+1, "kind", tts.KindOf(err), "err", err)
	}

	if policy.DemoteOnExhaust {
		if fb, ok := s.rt.DemotionTarget(); ok {
			s.logger.Info("demoting chunk to fallback backend", "backend", fb)
			s.result.Demoted++
			unit, err := s.call(ctx, fb, text)
			if err == nil {
				return unit, nil
			}
			lastErr = err
		}
	}
	return tts.AudioUnit{}, lastErr
}

// call makes one engine call bounded by the call timeout. A call that times
// out keeps running in the background; the next call waits for it first.
func (s *Session) call(ctx context.Context, backend tts.Backend, text string) (tts.AudioUnit, error) {
	if !s.awaitAbandoned(s.opts.Policy.CallGrace) && s.stopping.Load() {
		return tts.AudioUnit{}, tts.ErrStopped
	}
	if err := interrupted(ctx); err != nil {
		return tts.AudioUnit{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.Policy.CallTimeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		unit, err := s.rt.Generate(callCtx, backend, text, s.genOpts)
		done <- callResult{unit: unit, err: err}
	}()

	select {
	case r := <-done:
		if err := interrupted(ctx); err != nil {
			return tts.AudioUnit{}, err
		}
		if r.err == nil && r.unit.SampleRate != s.format.SampleRate {
			return tts.AudioUnit{}, tts.Transient(
				fmt.Sprintf("engine produced %d Hz audio for a %d Hz job", r.unit.SampleRate, s.format.SampleRate), nil)
		}
		return r.unit, r.err
	case <-callCtx.Done():
		s.abandoned = done
		if err := interrupted(ctx); err != nil {
			return tts.AudioUnit{}, err
		}
		return tts.AudioUnit{}, tts.NewError(tts.KindTimeout, "TIMEOUT",
			fmt.Sprintf("engine call exceeded %s", s.opts.Policy.CallTimeout), tts.ErrTimeout)
	}
}

// awaitAbandoned waits up to grace for a timed-out call to return. It reports
// whether no call is outstanding afterwards.
func (s *Session) awaitAbandoned(grace time.Duration) bool {
	if s.abandoned == nil {
		return true
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-s.abandoned:
		s.abandoned = nil
		return true
	case <-timer.C:
		s.logger.Warn("abandoned engine call still running", "grace", grace)
		return false
	case <-s.stopCh:
		return false
	}
}

func (s *Session) waitSlot(ctx context.Context) (queue.Ticket, error) {
	s.transition(StateWaitingForSlot)
	if t, ok := s.queue.TryAcquire(); ok {
		return t, nil
	}

	for {
		t, err := s.queue.Acquire(ctx, s.slotWait())
		switch {
		case err == nil:
			return t, nil
		case errors.Is(err, queue.ErrSlotTimeout):
			due, ok := s.backlog.oldestDue()
			if ok && time.Since(due) < s.opts.SlotWait {
				// The oldest unit started late; it is not overdue yet.
				continue
			}
			s.logger.Warn("audio consumer stalled, reclaiming oldest slot", "pending", s.backlog.len())
			s.result.Reclaimed++
			t := s.queue.Reclaim()
			s.backlog.prune(s.queue.Holds)
			return t, nil
		case errors.Is(err, queue.ErrQueueClosed):
			return 0, tts.ErrStopped
		default:
			if cause := interrupted(ctx); cause != nil {
				return 0, cause
			}
			return 0, err
		}
	}
}

// slotWait bounds the next wait for a slot: the remaining playback of the
// oldest unit plus SlotWait.
func (s *Session) slotWait() time.Duration {
	wait := s.opts.SlotWait
	if due, ok := s.backlog.oldestDue(); ok {
		wait += max(time.Until(due), 0)
	}
	return wait
}

func (s *Session) emit(cr *chunkRun, g generated) error {
	unit := g.unit
	unit.ChunkIndex = cr.chunk.Index
	unit.Part = cr.parts
	if unit.Text == "" {
		unit.Text = cr.chunk.Text
	}

	s.backlog.add(g.ticket, unit.Duration())
	s.consumed.emitted(unit.ChunkIndex)
	if err := s.sink.Enqueue(unit, s.ackFor(g.ticket, unit.ChunkIndex)); err != nil {
		s.backlog.remove(g.ticket)
		s.consumed.rejected(unit.ChunkIndex)
		s.queue.Acknowledge(g.ticket)
		if errors.Is(err, audio.ErrSinkStopped) && s.stopping.Load() {
			return tts.ErrStopped
		}
		return consumerError("enqueue audio", err)
	}

	cr.parts++
	s.result.Units++
	s.result.Audio += unit.Duration()
	s.publish(UnitEmitted{ChunkIndex: unit.ChunkIndex, Part: unit.Part, Duration: unit.Duration()})
	return nil
}

// ackFor returns the acknowledgement bound to ticket. Only the first call has
// any effect. A unit whose slot was reclaimed still counts as consumed.
func (s *Session) ackFor(ticket queue.Ticket, chunk int) audio.AckFunc {
	var once sync.Once
	return func(err error) {
		once.Do(func() {
			s.backlog.acked(ticket)
			if err == nil {
				s.consumed.acknowledged(chunk)
			}
			s.queue.Acknowledge(ticket)
			if err != nil {
				s.consumerFailed(err)
			}
		})
	}
}

func (s *Session) consumerFailed(err error) {
	s.mu.Lock()
	if s.consumerErr != nil {
		s.mu.Unlock()
		return
	}
	s.consumerErr = consumerError("audio sink failed", err)
	cancel := s.cancel
	cerr := s.consumerErr
	s.mu.Unlock()

	s.logger.Error("audio sink failed", "err", err)
	if cancel != nil {
		cancel(cerr)
	}
}

func (s *Session) drain(ctx context.Context) error {
	s.transition(StateDraining)

	wait := s.opts.DrainTimeout
	if due, ok := s.backlog.allDue(); ok {
		wait += max(time.Until(due), 0)
	}
	if err := s.queue.WaitIdle(ctx, wait); err != nil {
		if cause := interrupted(ctx); cause != nil {
			return cause
		}
		s.logger.Warn("audio queue did not drain", "in_flight", s.queue.InFlight(), "pending", s.backlog.len(), "err", err)
	}

	flushCtx, cancel := context.WithTimeout(ctx, s.opts.DrainTimeout)
	defer cancel()
	if err := s.sink.Flush(flushCtx); err != nil {
		if cause := interrupted(ctx); cause != nil {
			return cause
		}
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("audio sink did not finish in time")
			return nil
		}
		return consumerError("flush audio sink", err)
	}
	return nil
}

func (s *Session) outcome(ctx context.Context, abort error) (State, error) {
	s.mu.Lock()
	if abort == nil || errors.Is(abort, tts.ErrStopped) || errors.Is(abort, context.Canceled) {
		if s.consumerErr != nil {
			abort = s.consumerErr
		}
	}
	s.mu.Unlock()

	switch {
	case tts.KindOf(abort) == tts.KindConsumer:
		return StateFailed, abort
	case s.stopping.Load(), ctx.Err() != nil, errors.Is(abort, tts.ErrStopped), errors.Is(abort, context.Canceled):
		return StateStopped, tts.ErrStopped
	case abort != nil:
		return StateFailed, abort
	case s.result.Succeeded+s.opts.PriorSucceeded == 0:
		return StateFailed, fmt.Errorf("%w: all %d chunks failed", ErrNoAudio, s.result.Attempted)
	default:
		return StateComplete, nil
	}
}

func (s *Session) transition(to State) {
	from := s.machine.Current()
	if from == to {
		return
	}
	if !s.machine.Transition(to) {
		s.logger.Error("illegal state transition", "from", from, "to", to)
		return
	}
	s.publish(StateChanged{From: from, To: to})
}

func (s *Session) publishProgress(percent int) {
	consumed, succeeded := s.consumed.snapshot()
	s.publish(ProgressUpdated{
		Attempted:         s.progress.Attempted(),
		Succeeded:         s.opts.PriorSucceeded + s.result.Succeeded,
		Consumed:          consumed,
		ConsumedSucceeded: succeeded,
		Total:             s.result.Total,
		Percent:           percent,
	})
}

// interrupted returns why ctx ended, or nil while it is live.
func interrupted(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return context.Cause(ctx)
}

// fatal reports errors that end the job rather than the chunk.
func fatal(err error) bool {
	return errors.Is(err, tts.ErrStopped) ||
		errors.Is(err, context.Canceled) ||
		tts.KindOf(err) == tts.KindConsumer
}

func consumerError(msg string, err error) error {
	if te := (*tts.Error)(nil); errors.As(err, &te) && te.Kind == tts.KindConsumer {
		return err
	}
	return tts.NewError(tts.KindConsumer, "CONSUMER", msg, errors.Join(tts.ErrConsumer, err))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return interrupted(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
