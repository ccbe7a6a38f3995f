package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"call-appointment-pipeline/internal/models"
)

// ErrTranscriptLimit is returned when a session exceeds its segment
// guardrail; the caller should finalize rather than grow without bound.
var ErrTranscriptLimit = errors.New("transcript segment limit exceeded")

// CallSession is one active room/participant pairing. The transcript is
// an append-only ordered buffer while the session is ACTIVE and immutable
// afterwards; the lifecycle guard serializes the append path against the
// finalize path.
type CallSession struct {
	RoomID        string
	ParticipantID string
	CreatedAt     time.Time

	lifecycle *Lifecycle

	mu            sync.Mutex
	transcript    []models.TranscriptSegment
	lastSegmentAt time.Time
	maxSegments   int

	// silence is the per-session finalize timer, reset on every final
	// segment and cancelled the moment the session leaves ACTIVE.
	silence          *time.Timer
	silenceThreshold time.Duration

	// finalizedAt pins the call duration at the moment of the honored
	// finalize trigger.
	finalizedAt time.Time
}

// NewCallSession creates a session in ACTIVE state.
func NewCallSession(roomID, participantID string, maxSegments int) *CallSession {
	now := time.Now()
	return &CallSession{
		RoomID:        roomID,
		ParticipantID: participantID,
		CreatedAt:     now,
		lifecycle:     NewLifecycle(),
		lastSegmentAt: now,
		maxSegments:   maxSegments,
	}
}

// State returns the current lifecycle state.
func (s *CallSession) State() State {
	return s.lifecycle.State()
}

// Append adds a final transcript segment and resets the silence clock.
// Interim segments are rejected by the caller; sealed sessions reject all
// appends with ErrSessionSealed.
func (s *CallSession) Append(seg models.TranscriptSegment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lifecycle.Append(); err != nil {
		return err
	}
	if s.maxSegments > 0 && len(s.transcript) >= s.maxSegments {
		return ErrTranscriptLimit
	}

	s.transcript = append(s.transcript, seg)
	s.lastSegmentAt = seg.StartedAt
	if s.silence != nil {
		s.silence.Reset(s.silenceThreshold)
	}
	return nil
}

// LastSegmentAt returns the arrival time of the most recent final segment,
// or the session creation time if none arrived yet.
func (s *CallSession) LastSegmentAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSegmentAt
}

// SegmentCount returns the number of appended final segments.
func (s *CallSession) SegmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transcript)
}

// Transcript returns the sealed transcript text: all final segments in
// arrival order joined by single spaces. Call only after the session has
// left ACTIVE.
func (s *CallSession) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := make([]string, 0, len(s.transcript))
	for _, seg := range s.transcript {
		parts = append(parts, seg.Text)
	}
	return strings.Join(parts, " ")
}

// Duration returns the call duration, pinned at finalize time when the
// session has been finalized.
func (s *CallSession) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finalizedAt.IsZero() {
		return s.finalizedAt.Sub(s.CreatedAt)
	}
	return time.Since(s.CreatedAt)
}

// TriggerFinalize attempts the single honored ACTIVE → FINALIZING
// transition. On success the silence timer is stopped and the transcript
// is sealed atomically; every later trigger is rejected.
func (s *CallSession) TriggerFinalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lifecycle.TriggerFinalize(); err != nil {
		return err
	}
	s.finalizedAt = time.Now()
	if s.silence != nil {
		s.silence.Stop()
		s.silence = nil
	}
	return nil
}

// Fail drops the session on an internal invariant violation.
// Returns true when the session transitioned to FAILED.
func (s *CallSession) Fail() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lifecycle.Fail() {
		return false
	}
	if s.silence != nil {
		s.silence.Stop()
		s.silence = nil
	}
	return true
}

// armSilence installs the silence timer. fire runs in the timer goroutine
// once now - lastSegmentAt passes the threshold; the state machine's
// idempotent trigger guards against a race with a leave event.
func (s *CallSession) armSilence(threshold time.Duration, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.silenceThreshold = threshold
	if s.lifecycle.State() != StateActive {
		return
	}
	s.silence = time.AfterFunc(threshold, fire)
}
