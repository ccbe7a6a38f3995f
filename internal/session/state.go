// Package session owns the call-session lifecycle: the transcript
// accumulator, the silence detector and the state machine that drives
// finalize, extraction and delivery.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a call session.
type State int

const (
	// StateActive - transcript segments may be appended.
	StateActive State = iota
	// StateFinalizing - a finalize trigger was honored; transcript is sealed.
	StateFinalizing
	// StateExtracting - the extraction cascade is running.
	StateExtracting
	// StateDelivering - the delivery dispatcher is running.
	StateDelivering
	// StateCompleted - terminal; delivery resolved (success or recorded failure).
	StateCompleted
	// StateFailed - terminal; internal invariant violation, no delivery attempted.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateFinalizing:
		return "FINALIZING"
	case StateExtracting:
		return "EXTRACTING"
	case StateDelivering:
		return "DELIVERING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Errors for invalid state transitions.
var (
	ErrSessionSealed            = errors.New("session transcript is sealed")
	ErrFinalizeAlreadyTriggered = errors.New("finalize already triggered for this session")
	ErrSessionTerminal          = errors.New("session is in a terminal state")
)

// Lifecycle manages the state machine for a single call session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	ACTIVE → FINALIZING → EXTRACTING → DELIVERING → COMPLETED
//	   │         │            │            │
//	   └─────────┴────────────┴────────────┴──→ FAILED (invariant violation)
//
// Rules:
//   - ACTIVE: segments may be appended; exactly one finalize trigger is
//     ever honored (silence timeout, participant leave and end-phrase
//     detection all race for it).
//   - FINALIZING onward: the transcript is sealed, appends are rejected.
//   - COMPLETED / FAILED: terminal, the session is garbage-collected.
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a new lifecycle in ACTIVE state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateActive}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// CanAppend returns true if transcript segments may still be appended.
func (l *Lifecycle) CanAppend() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateActive
}

// IsTerminal returns true if the session has resolved.
func (l *Lifecycle) IsTerminal() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.IsTerminal()
}

// Append validates a transcript append.
// Returns nil if allowed, ErrSessionSealed once the session left ACTIVE.
func (l *Lifecycle) Append() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state != StateActive {
		return ErrSessionSealed
	}
	return nil
}

// TriggerFinalize attempts the ACTIVE → FINALIZING transition.
// Idempotent from the caller's perspective: the first trigger wins and
// every later one gets ErrFinalizeAlreadyTriggered, regardless of whether
// it came from the silence timer, a leave event or an end phrase.
func (l *Lifecycle) TriggerFinalize() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateActive:
		l.state = StateFinalizing
		return nil
	case StateFailed, StateCompleted:
		return ErrSessionTerminal
	default:
		return ErrFinalizeAlreadyTriggered
	}
}

// BeginExtracting transitions FINALIZING → EXTRACTING.
func (l *Lifecycle) BeginExtracting() error {
	return l.advance(StateFinalizing, StateExtracting)
}

// BeginDelivering transitions EXTRACTING → DELIVERING.
func (l *Lifecycle) BeginDelivering() error {
	return l.advance(StateExtracting, StateDelivering)
}

// Complete transitions DELIVERING → COMPLETED. Delivery failure after
// exhausted retries still completes the session; the failure lives on the
// delivery record, not the session.
func (l *Lifecycle) Complete() error {
	return l.advance(StateDelivering, StateCompleted)
}

// Fail moves the session to FAILED from any non-terminal state.
// Used for internal invariant violations only; no delivery is attempted.
// Returns true if the session was failed, false if already terminal.
func (l *Lifecycle) Fail() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateFailed
	return true
}

func (l *Lifecycle) advance(from, to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != from {
		return fmt.Errorf("cannot transition %v → %v from %v", from, to, l.state)
	}
	l.state = to
	return nil
}
