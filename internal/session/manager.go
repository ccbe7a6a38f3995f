package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"call-appointment-pipeline/internal/models"
	"call-appointment-pipeline/internal/observability/logging"
	"call-appointment-pipeline/internal/observability/metrics"
	"call-appointment-pipeline/internal/transcriber"
)

// Extractor turns a sealed transcript into structured fields.
// Implementations absorb their own failures; Extract never fails the session.
type Extractor interface {
	Extract(ctx context.Context, transcript string) models.ExtractionResult
}

// Sink delivers one record to an external system, mutating the record's
// status, attempt counter and last error until a terminal status is set.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, rec *models.DeliveryRecord)
}

// Signaler notifies the room's participants that the call has ended.
type Signaler interface {
	SignalCallEnded(ctx context.Context, roomID string) error
}

// ErrRoomBusy is returned when a room already has an unresolved session.
var ErrRoomBusy = errors.New("room already has an active session")

// Config holds the manager's tunables and collaborators.
type Config struct {
	SilenceThreshold time.Duration
	MaxSegments      int
	EndPhrases       []string

	NewAdapter transcriber.Factory
	Extractor  Extractor
	Primary    Sink
	Secondary  Sink // optional; nil disables the secondary sink
	Signaler   Signaler
	Metrics    *metrics.Metrics
}

// activeCall pairs a session with its transcriber and consumption task.
type activeCall struct {
	sess    *CallSession
	adapter transcriber.Adapter
	cancel  context.CancelFunc
}

// Manager is the session registry: the only cross-task shared structure.
// Insert and remove are serialized; each CallSession's fields are owned
// exclusively by that session's tasks.
type Manager struct {
	cfg Config
	log zerolog.Logger

	mu    sync.Mutex
	calls map[string]*activeCall

	// wg tracks finalize pipelines (extraction + delivery) so shutdown can
	// drain in-flight deliveries instead of abandoning extracted results.
	wg sync.WaitGroup
}

// NewManager creates a session manager.
func NewManager(cfg Config) *Manager {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.DefaultMetrics
	}
	return &Manager{
		cfg:   cfg,
		log:   logging.WithComponent("session-manager"),
		calls: make(map[string]*activeCall),
	}
}

// StartSession creates the CallSession for a room/participant pairing,
// starts its transcriber and begins consuming segments. At most one
// session per room: a join while the previous session is unresolved
// returns ErrRoomBusy.
func (m *Manager) StartSession(ctx context.Context, roomID, participantID string) (*CallSession, error) {
	m.mu.Lock()
	if _, exists := m.calls[roomID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRoomBusy, roomID)
	}
	// Reserve the slot before the adapter dial so concurrent joins cannot
	// both win the room.
	m.calls[roomID] = nil
	m.mu.Unlock()

	adapter, err := m.cfg.NewAdapter(ctx, roomID, participantID)
	if err != nil {
		m.remove(roomID)
		return nil, fmt.Errorf("create transcriber: %w", err)
	}
	if err := adapter.Start(ctx); err != nil {
		m.remove(roomID)
		return nil, fmt.Errorf("start transcriber: %w", err)
	}

	sess := NewCallSession(roomID, participantID, m.cfg.MaxSegments)
	consumeCtx, cancel := context.WithCancel(context.Background())
	call := &activeCall{sess: sess, adapter: adapter, cancel: cancel}

	m.mu.Lock()
	m.calls[roomID] = call
	m.mu.Unlock()

	// The timer closure captures the session instance; a timer that fires
	// late can never touch a newer session registered under the same room.
	sess.armSilence(m.cfg.SilenceThreshold, func() {
		m.finalize(call, "silence")
	})

	go m.consume(consumeCtx, call)

	m.cfg.Metrics.RecordSessionStart()
	log := logging.WithSession(roomID, participantID)
	log.Info().Msg("Call session started")
	return sess, nil
}

// HandleAudio forwards an audio frame to the session's transcriber.
// Frames for unknown or resolving rooms are dropped.
func (m *Manager) HandleAudio(ctx context.Context, roomID string, frame []byte) {
	m.mu.Lock()
	call := m.calls[roomID]
	m.mu.Unlock()

	if call == nil || call.sess.State() != StateActive {
		return
	}
	if err := call.adapter.SendAudio(ctx, frame); err != nil {
		log := logging.WithSession(roomID, call.sess.ParticipantID)
		log.Warn().Err(err).Msg("Transcriber rejected audio frame")
	}
}

// Leave handles an explicit participant-left event: it cancels the silence
// timer and immediately triggers finalize.
func (m *Manager) Leave(roomID string) {
	m.Finalize(roomID, "participant_left")
}

// Finalize attempts the single honored finalize transition for the room's
// current session. Safe to call concurrently with the silence timer and
// end-phrase detection; only the first trigger proceeds.
func (m *Manager) Finalize(roomID, cause string) {
	m.mu.Lock()
	call := m.calls[roomID]
	m.mu.Unlock()
	if call == nil {
		return
	}
	m.finalize(call, cause)
}

// finalize runs the finalize transition against a specific session
// instance, bypassing the registry lookup.
func (m *Manager) finalize(call *activeCall, cause string) {
	if err := call.sess.TriggerFinalize(); err != nil {
		// Lost the race; the winning trigger runs the pipeline.
		return
	}

	log := logging.WithSession(call.sess.RoomID, call.sess.ParticipantID)
	log.Info().Str("cause", cause).Int("segments", call.sess.SegmentCount()).
		Msg("Finalizing call session")
	m.cfg.Metrics.RecordFinalize(cause, call.sess.SegmentCount())

	// Caller-facing signal first: detached, never waits for extraction or
	// delivery.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := m.cfg.Signaler.SignalCallEnded(ctx, call.sess.RoomID)
		m.cfg.Metrics.RecordRoomSignal(err)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to send call-ended signal")
		}
	}()

	m.wg.Add(1)
	go m.runPipeline(call)
}

// consume drains the transcriber's segment stream into the session.
// Only final segments are appended and count toward silence timing;
// interim results are transient and never persisted.
func (m *Manager) consume(ctx context.Context, call *activeCall) {
	sess := call.sess
	log := logging.WithSession(sess.RoomID, sess.ParticipantID)

	for {
		select {
		case <-ctx.Done():
			return
		case seg, ok := <-call.adapter.Segments():
			if !ok {
				return
			}
			if !seg.IsFinal {
				m.cfg.Metrics.RecordPartialDiscarded()
				continue
			}

			switch err := sess.Append(seg); {
			case err == nil:
				m.cfg.Metrics.RecordSegmentAppended()
				log.Debug().Str("text", seg.Text).Msg("Transcript segment appended")
				if m.hasEndPhrase(seg.Text) {
					m.finalize(call, "end_phrase")
				}
			case errors.Is(err, ErrTranscriptLimit):
				log.Warn().Msg("Transcript limit reached; finalizing")
				m.finalize(call, "transcript_limit")
			case errors.Is(err, ErrSessionSealed):
				// Segment raced the seal; drop it.
			default:
				// Invariant violation inside the append path.
				if sess.Fail() {
					log.Error().Err(err).Msg("Session corrupted; dropping without delivery")
					m.cfg.Metrics.RecordSessionEnd(false, sess.Duration().Seconds())
					m.remove(sess.RoomID)
				}
				return
			}
		}
	}
}

// runPipeline drives FINALIZING → EXTRACTING → DELIVERING → COMPLETED for
// one session, then removes it from the registry.
func (m *Manager) runPipeline(call *activeCall) {
	defer m.wg.Done()

	sess := call.sess
	log := logging.WithSession(sess.RoomID, sess.ParticipantID)

	// Stop the transcriber and the consumption task; the transcript is
	// sealed, late segments have nowhere to go.
	call.cancel()
	if err := call.adapter.Stop(); err != nil {
		log.Warn().Err(err).Msg("Transcriber stop failed")
	}

	if err := sess.lifecycle.BeginExtracting(); err != nil {
		m.fail(call, err)
		return
	}

	transcript := sess.Transcript()
	started := time.Now()
	result := m.cfg.Extractor.Extract(context.Background(), transcript)
	m.cfg.Metrics.RecordExtraction(time.Since(started).Seconds())
	recordFieldSources(m.cfg.Metrics, result)

	if err := sess.lifecycle.BeginDelivering(); err != nil {
		m.fail(call, err)
		return
	}

	payload := models.NewWebhookPayload(result, transcript, sess.Duration(), time.Now())

	// Secondary sink: dispatched concurrently, fully isolated from the
	// primary record.
	if m.cfg.Secondary != nil {
		rec := m.newRecord(sess.RoomID, m.cfg.Secondary.Name(), payload)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.cfg.Secondary.Deliver(context.Background(), rec)
			m.cfg.Metrics.RecordDeliveryOutcome(rec.Sink, string(rec.Status))
		}()
	}

	rec := m.newRecord(sess.RoomID, m.cfg.Primary.Name(), payload)
	m.cfg.Primary.Deliver(context.Background(), rec)
	m.cfg.Metrics.RecordDeliveryOutcome(rec.Sink, string(rec.Status))
	if rec.Status != models.DeliveryDelivered {
		log.Error().Str("lastError", rec.LastError).Int("attempts", rec.Attempt).
			Msg("Primary delivery exhausted retries")
	}

	// Terminal delivery failure is recorded, not fatal to the session.
	if err := sess.lifecycle.Complete(); err != nil {
		m.fail(call, err)
		return
	}

	m.cfg.Metrics.RecordSessionEnd(true, sess.Duration().Seconds())
	log.Info().Dur("duration", sess.Duration()).Str("deliveryStatus", string(rec.Status)).
		Msg("Call session completed")
	m.remove(sess.RoomID)
}

// Shutdown finalizes remaining sessions and drains in-flight deliveries,
// bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	rooms := make([]string, 0, len(m.calls))
	for roomID := range m.calls {
		rooms = append(rooms, roomID)
	}
	m.mu.Unlock()

	for _, roomID := range rooms {
		m.Finalize(roomID, "shutdown")
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveSessions returns the number of registered sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *Manager) fail(call *activeCall, err error) {
	sess := call.sess
	if sess.Fail() {
		log := logging.WithSession(sess.RoomID, sess.ParticipantID)
		log.Error().Err(err).Msg("Session corrupted; dropping without delivery")
		m.cfg.Metrics.RecordSessionEnd(false, sess.Duration().Seconds())
	}
	m.remove(sess.RoomID)
}

func (m *Manager) remove(roomID string) {
	m.mu.Lock()
	delete(m.calls, roomID)
	m.mu.Unlock()
}

func (m *Manager) newRecord(roomID, sink string, payload models.WebhookPayload) *models.DeliveryRecord {
	return &models.DeliveryRecord{
		ID:      uuid.NewString(),
		RoomID:  roomID,
		Sink:    sink,
		Payload: payload,
		Status:  models.DeliveryPending,
	}
}

func (m *Manager) hasEndPhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range m.cfg.EndPhrases {
		if p != "" && strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func recordFieldSources(m *metrics.Metrics, res models.ExtractionResult) {
	m.RecordField("name", string(res.Name.Source))
	m.RecordField("email", string(res.Email.Source))
	m.RecordField("phone", string(res.Phone.Source))
	m.RecordField("appointment_date", string(res.AppointmentDate.Source))
	m.RecordField("appointment_time", string(res.AppointmentTime.Source))
	m.RecordField("appointment_reason", string(res.AppointmentReason.Source))
}
