package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"call-appointment-pipeline/internal/models"
	"call-appointment-pipeline/internal/transcriber"
)

type fakeAdapter struct {
	segments chan models.TranscriptSegment
	stopped  atomic.Bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{segments: make(chan models.TranscriptSegment, 16)}
}

func (a *fakeAdapter) Start(ctx context.Context) error { return nil }

func (a *fakeAdapter) SendAudio(ctx context.Context, audio []byte) error { return nil }

func (a *fakeAdapter) Segments() <-chan models.TranscriptSegment { return a.segments }
func (a *fakeAdapter) Stop() error {
	a.stopped.Store(true)
	return nil
}

type fakeExtractor struct {
	transcripts chan string
}

func (e *fakeExtractor) Extract(ctx context.Context, transcript string) models.ExtractionResult {
	if e.transcripts != nil {
		select {
		case e.transcripts <- transcript:
		default:
		}
	}
	res := models.EmptyResult()
	res.Name = models.Field{Value: "John Smith", Source: models.SourceAI}
	return res
}

type fakeSink struct {
	name      string
	fail      bool
	delivered chan *models.DeliveryRecord
}

func newFakeSink(name string, fail bool) *fakeSink {
	return &fakeSink{name: name, fail: fail, delivered: make(chan *models.DeliveryRecord, 16)}
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Deliver(ctx context.Context, rec *models.DeliveryRecord) {
	rec.Attempt = 1
	if s.fail {
		rec.Status = models.DeliveryFailed
		rec.LastError = "sink unavailable"
	} else {
		rec.Status = models.DeliveryDelivered
	}
	s.delivered <- rec
}

type fakeSignaler struct {
	calls atomic.Int32
}

func (s *fakeSignaler) SignalCallEnded(ctx context.Context, roomID string) error {
	s.calls.Add(1)
	return nil
}

type managerFixture struct {
	mgr       *Manager
	adapter   *fakeAdapter
	extractor *fakeExtractor
	primary   *fakeSink
	secondary *fakeSink
	signaler  *fakeSignaler
}

func newFixture(t *testing.T, mutate func(cfg *Config)) *managerFixture {
	t.Helper()
	f := &managerFixture{
		adapter:   newFakeAdapter(),
		extractor: &fakeExtractor{transcripts: make(chan string, 4)},
		primary:   newFakeSink("webhook", false),
		signaler:  &fakeSignaler{},
	}
	cfg := Config{
		SilenceThreshold: time.Hour, // never fires unless a test lowers it
		MaxSegments:      100,
		EndPhrases:       []string{"goodbye", "end call"},
		NewAdapter: func(ctx context.Context, roomID, participantID string) (transcriber.Adapter, error) {
			return f.adapter, nil
		},
		Extractor: f.extractor,
		Primary:   f.primary,
		Signaler:  f.signaler,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.mgr = NewManager(cfg)
	return f
}

func waitResolved(t *testing.T, mgr *Manager) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mgr.ActiveSessions() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session never resolved")
}

func waitDelivery(t *testing.T, sink *fakeSink) *models.DeliveryRecord {
	t.Helper()
	select {
	case rec := <-sink.delivered:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatalf("sink %s never received a delivery", sink.name)
		return nil
	}
}

func TestManager_SecondJoinOnRoomIsRejected(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.mgr.StartSession(context.Background(), "room-1", "caller-1"); err != nil {
		t.Fatalf("first StartSession = %v", err)
	}
	if _, err := f.mgr.StartSession(context.Background(), "room-1", "caller-2"); !errors.Is(err, ErrRoomBusy) {
		t.Errorf("second StartSession = %v, want ErrRoomBusy", err)
	}

	f.mgr.Leave("room-1")
	waitResolved(t, f.mgr)

	// After resolution the room is free again.
	if _, err := f.mgr.StartSession(context.Background(), "room-1", "caller-3"); err != nil {
		t.Errorf("StartSession after resolution = %v", err)
	}
}

func TestManager_LeaveRunsPipelineOnce(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.mgr.StartSession(context.Background(), "room-1", "caller-1"); err != nil {
		t.Fatal(err)
	}
	f.adapter.segments <- models.TranscriptSegment{Text: "Hi, I'm John Smith", IsFinal: true, StartedAt: time.Now()}

	// Concurrent triggers race for the single finalize.
	for i := 0; i < 8; i++ {
		go f.mgr.Leave("room-1")
	}
	waitResolved(t, f.mgr)

	rec := waitDelivery(t, f.primary)
	if rec.Status != models.DeliveryDelivered {
		t.Errorf("record status = %s", rec.Status)
	}

	select {
	case extra := <-f.primary.delivered:
		t.Errorf("primary sink delivered more than once: %+v", extra)
	default:
	}

	if !f.adapter.stopped.Load() {
		t.Error("transcriber was not stopped")
	}
	if got := f.signaler.calls.Load(); got != 1 {
		t.Errorf("signaler called %d times, want 1", got)
	}
}

func TestManager_EmptyTranscriptStillDelivers(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.mgr.StartSession(context.Background(), "room-1", "caller-1"); err != nil {
		t.Fatal(err)
	}
	f.mgr.Leave("room-1")
	waitResolved(t, f.mgr)

	rec := waitDelivery(t, f.primary)
	if rec.Payload.Transcript != "" {
		t.Errorf("payload transcript = %q, want empty", rec.Payload.Transcript)
	}
	if rec.Status != models.DeliveryDelivered {
		t.Errorf("record status = %s", rec.Status)
	}
}

func TestManager_PartialsNeverReachTranscript(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.mgr.StartSession(context.Background(), "room-1", "caller-1"); err != nil {
		t.Fatal(err)
	}
	f.adapter.segments <- models.TranscriptSegment{Text: "Hi, I'm", IsFinal: false}
	f.adapter.segments <- models.TranscriptSegment{Text: "Hi, I'm Jo", IsFinal: false}
	f.adapter.segments <- models.TranscriptSegment{Text: "Hi, I'm John Smith", IsFinal: true, StartedAt: time.Now()}

	// Give the consume task a moment to drain.
	time.Sleep(50 * time.Millisecond)
	f.mgr.Leave("room-1")
	waitResolved(t, f.mgr)

	rec := waitDelivery(t, f.primary)
	if rec.Payload.Transcript != "Hi, I'm John Smith" {
		t.Errorf("transcript = %q, want only the final segment", rec.Payload.Transcript)
	}
}

func TestManager_EndPhraseTriggersFinalize(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.mgr.StartSession(context.Background(), "room-1", "caller-1"); err != nil {
		t.Fatal(err)
	}
	f.adapter.segments <- models.TranscriptSegment{Text: "Thank you, goodbye!", IsFinal: true, StartedAt: time.Now()}

	waitResolved(t, f.mgr)
	rec := waitDelivery(t, f.primary)
	if rec.Payload.Transcript != "Thank you, goodbye!" {
		t.Errorf("transcript = %q", rec.Payload.Transcript)
	}
}

func TestManager_SilenceTimeoutTriggersFinalize(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.SilenceThreshold = 50 * time.Millisecond
	})

	if _, err := f.mgr.StartSession(context.Background(), "room-1", "caller-1"); err != nil {
		t.Fatal(err)
	}

	waitResolved(t, f.mgr)
	waitDelivery(t, f.primary)
	if got := f.signaler.calls.Load(); got != 1 {
		t.Errorf("signaler called %d times, want 1", got)
	}
}

func TestManager_LateSilenceFireCannotTouchSuccessorSession(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.mgr.StartSession(context.Background(), "room-1", "caller-1"); err != nil {
		t.Fatal(err)
	}
	f.mgr.mu.Lock()
	first := f.mgr.calls["room-1"]
	f.mgr.mu.Unlock()

	f.mgr.Leave("room-1")
	waitResolved(t, f.mgr)
	waitDelivery(t, f.primary)

	successor, err := f.mgr.StartSession(context.Background(), "room-1", "caller-2")
	if err != nil {
		t.Fatal(err)
	}

	// A silence timer that fired against the first session resolves that
	// instance only; it is already sealed, so this is a no-op and the
	// successor in the same room stays untouched.
	f.mgr.finalize(first, "silence")

	if successor.State() != StateActive {
		t.Errorf("successor state = %v, want ACTIVE", successor.State())
	}
	select {
	case extra := <-f.primary.delivered:
		t.Errorf("unexpected extra delivery: %+v", extra)
	default:
	}
	if got := f.signaler.calls.Load(); got != 1 {
		t.Errorf("signaler called %d times, want 1", got)
	}
}

func TestManager_TranscriptLimitTriggersFinalize(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.MaxSegments = 1
	})

	if _, err := f.mgr.StartSession(context.Background(), "room-1", "caller-1"); err != nil {
		t.Fatal(err)
	}
	f.adapter.segments <- models.TranscriptSegment{Text: "one", IsFinal: true, StartedAt: time.Now()}
	f.adapter.segments <- models.TranscriptSegment{Text: "two", IsFinal: true, StartedAt: time.Now()}

	waitResolved(t, f.mgr)
	rec := waitDelivery(t, f.primary)
	if rec.Payload.Transcript != "one" {
		t.Errorf("transcript = %q, want only the segment under the limit", rec.Payload.Transcript)
	}
}

func TestManager_SecondarySinkFailureIsIsolated(t *testing.T) {
	secondary := newFakeSink("record_store", true)
	f := newFixture(t, func(cfg *Config) {
		cfg.Secondary = secondary
	})

	if _, err := f.mgr.StartSession(context.Background(), "room-1", "caller-1"); err != nil {
		t.Fatal(err)
	}
	f.mgr.Leave("room-1")
	waitResolved(t, f.mgr)

	primaryRec := waitDelivery(t, f.primary)
	if primaryRec.Status != models.DeliveryDelivered {
		t.Errorf("primary status = %s, secondary failure must not leak", primaryRec.Status)
	}
	secondaryRec := waitDelivery(t, secondary)
	if secondaryRec.Status != models.DeliveryFailed {
		t.Errorf("secondary status = %s, want FAILED", secondaryRec.Status)
	}
	if primaryRec.ID == secondaryRec.ID {
		t.Error("sinks must not share a delivery record")
	}
}

func TestManager_PrimaryFailureStillCompletesSession(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.Primary = newFakeSink("webhook", true)
	})
	failing := f.mgr.cfg.Primary.(*fakeSink)

	sess, err := f.mgr.StartSession(context.Background(), "room-1", "caller-1")
	if err != nil {
		t.Fatal(err)
	}
	f.mgr.Leave("room-1")
	waitResolved(t, f.mgr)

	rec := waitDelivery(t, failing)
	if rec.Status != models.DeliveryFailed {
		t.Errorf("record status = %s, want FAILED", rec.Status)
	}
	if sess.State() != StateCompleted {
		t.Errorf("session state = %v, want COMPLETED despite delivery failure", sess.State())
	}
}

func TestManager_AudioForUnknownRoomDropped(t *testing.T) {
	f := newFixture(t, nil)

	// Must not panic or create state.
	f.mgr.HandleAudio(context.Background(), "no-such-room", []byte{0x00})
	if got := f.mgr.ActiveSessions(); got != 0 {
		t.Errorf("ActiveSessions = %d, want 0", got)
	}
}

func TestManager_ShutdownDrainsSessions(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.mgr.StartSession(context.Background(), "room-1", "caller-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.mgr.StartSession(context.Background(), "room-2", "caller-2"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.mgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown = %v", err)
	}

	waitDelivery(t, f.primary)
	waitDelivery(t, f.primary)
	if got := f.mgr.ActiveSessions(); got != 0 {
		t.Errorf("ActiveSessions after shutdown = %d, want 0", got)
	}
}
