package session

import "sync"

// State is a session lifecycle state.
type State int

const (
	// StateIdle indicates the session has not started.
	StateIdle State = iota
	// StateInitializing indicates the engine is being brought up.
	StateInitializing
	// StateSubmitting indicates the next chunk is being selected.
	StateSubmitting
	// StateWaitingForSlot indicates generation is blocked on the audio queue.
	StateWaitingForSlot
	// StateGenerating indicates an engine call is in progress.
	StateGenerating
	// StateDraining indicates every chunk was handled and the sink is
	// finishing.
	StateDraining
	// StateComplete indicates at least one chunk produced audio.
	StateComplete
	// StateStopped indicates the session was cancelled.
	StateStopped
	// StateFailed indicates no audio was produced or the sink failed.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateSubmitting:
		return "submitting"
	case StateWaitingForSlot:
		return "waiting_for_slot"
	case StateGenerating:
		return "generating"
	case StateDraining:
		return "draining"
	case StateComplete:
		return "complete"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal returns true for Complete, Stopped and Failed.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateStopped || s == StateFailed
}

// StateMachine holds the current state and rejects illegal transitions.
type StateMachine struct {
	mu          sync.Mutex
	current     State
	transitions map[State][]State
	onEnter     map[State]func(from State)
}

// NewStateMachine creates a state machine in StateIdle.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: StateIdle,
		transitions: map[State][]State{
			StateIdle:           {StateInitializing, StateStopped, StateFailed},
			StateInitializing:   {StateSubmitting, StateStopped, StateFailed},
			StateSubmitting:     {StateWaitingForSlot, StateDraining, StateStopped, StateFailed},
			StateWaitingForSlot: {StateGenerating, StateStopped, StateFailed},
			StateGenerating:     {StateWaitingForSlot, StateSubmitting, StateStopped, StateFailed},
			StateDraining:       {StateComplete, StateStopped, StateFailed},
		},
		onEnter: make(map[State]func(State)),
	}
}

// Transition attempts to move to the given state.
func (sm *StateMachine) Transition(to State) bool {
	sm.mu.Lock()
	from := sm.current
	valid := false
	for _, state := range sm.transitions[from] {
		if state == to {
			valid = true
			break
		}
	}
	if !valid {
		sm.mu.Unlock()
		return false
	}
	sm.current = to
	enterFn := sm.onEnter[to]
	sm.mu.Unlock()

	if enterFn != nil {
		enterFn(from)
	}
	return true
}

// CanTransition reports whether to is reachable from the current state.
func (sm *StateMachine) CanTransition(to State) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, state := range sm.transitions[sm.current] {
		if state == to {
			return true
		}
	}
	return false
}

// Current returns the current state.
func (sm *StateMachine) Current() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.current
}

// OnEnter registers a callback for entering a state.
func (sm *StateMachine) OnEnter(state State, fn func(from State)) {
	sm.mu.Lock()
	sm.onEnter[state] = fn
	sm.mu.Unlock()
}
