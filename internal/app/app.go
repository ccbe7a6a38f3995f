// Package app wires the call pipeline together: room connection,
// transcriber selection, extraction cascade, delivery sinks and the
// session manager.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"call-appointment-pipeline/internal/config"
	"call-appointment-pipeline/internal/delivery"
	"call-appointment-pipeline/internal/extractor"
	internalhttp "call-appointment-pipeline/internal/http"
	"call-appointment-pipeline/internal/observability/logging"
	"call-appointment-pipeline/internal/room"
	"call-appointment-pipeline/internal/session"
	"call-appointment-pipeline/internal/transcriber"
	"call-appointment-pipeline/internal/transcriber/googlestt"
	"call-appointment-pipeline/internal/transcriber/mock"
	"call-appointment-pipeline/internal/transcriber/whisperlocal"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Manager *session.Manager

	secondary *delivery.RecordStore
	signaler  *boundSignaler

	roomMu   sync.Mutex
	roomConn room.Room
}

// boundSignaler defers binding to the room connection, which is only
// dialed in Run after the manager already exists.
type boundSignaler struct {
	mu     sync.Mutex
	target session.Signaler
}

func (b *boundSignaler) bind(s session.Signaler) {
	b.mu.Lock()
	b.target = s
	b.mu.Unlock()
}

func (b *boundSignaler) SignalCallEnded(ctx context.Context, roomID string) error {
	b.mu.Lock()
	target := b.target
	b.mu.Unlock()
	if target == nil {
		return errors.New("room connection not established")
	}
	return target.SignalCallEnded(ctx, roomID)
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration) *Application {
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     logFormat(cfg.Observability.Environment),
		TimeFormat: time.RFC3339,
	})

	a := &Application{
		Cfg:      cfg,
		Logger:   logging.WithComponent("application"),
		signaler: &boundSignaler{},
	}

	var aiStage extractor.AIStage
	if cfg.Extraction.GeminiAPIKey != "" {
		stage, err := extractor.NewGeminiStage(context.Background(), cfg.Extraction.GeminiAPIKey, cfg.Extraction.GeminiModel)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("AI extraction unavailable, running pattern extraction only")
		} else {
			aiStage = stage
		}
	} else {
		a.Logger.Info().Msg("No AI credential configured, running pattern extraction only")
	}
	cascade := extractor.NewCascade(aiStage, cfg.Extraction.Timeout, nil)

	webhook := delivery.NewWebhook(delivery.WebhookConfig{
		URL:            cfg.Delivery.WebhookURL,
		MaxAttempts:    cfg.Delivery.MaxAttempts,
		InitialBackoff: cfg.Delivery.InitialBackoff,
		RequestTimeout: cfg.Delivery.RequestTimeout,
	}, nil)

	var secondary session.Sink
	if cfg.RecordStore.Enabled {
		a.secondary = delivery.NewRecordStore(delivery.RecordStoreConfig{
			Enabled: cfg.RecordStore.Enabled,
			Brokers: cfg.RecordStore.Brokers,
			Topic:   cfg.RecordStore.Topic,
		}, nil)
		secondary = a.secondary
	}

	a.Manager = session.NewManager(session.Config{
		SilenceThreshold: cfg.Session.SilenceThreshold,
		MaxSegments:      cfg.Session.MaxSegments,
		EndPhrases:       cfg.Session.EndPhrases,
		NewAdapter:       transcriberFactory(cfg.STT),
		Extractor:        cascade,
		Primary:          webhook,
		Secondary:        secondary,
		Signaler:         a.signaler,
	})

	a.Logger.Info().Str("sttProvider", cfg.STT.Provider).Msg("Call pipeline application created")
	return a
}

// Start performs startup work required before serving traffic.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	a.Logger.Info().Time("startupTime", a.StartupTime).Msg("Call pipeline starting")
	return nil
}

// Run connects to the room and pumps room events into the session
// manager until ctx is cancelled or the connection drops.
func (a *Application) Run(ctx context.Context) error {
	token, _, err := internalhttp.BuildAccessToken(a.Cfg.Room.APIKey, a.Cfg.Room.APISecret, internalhttp.TokenOptions{
		RoomName:       a.Cfg.Room.RoomName,
		Identity:       a.Cfg.Room.Identity,
		Name:           a.Cfg.Room.Identity,
		CanSubscribe:   true,
		CanPublishData: true, // the END_CALL signal goes out on the data channel
		TTL:            a.Cfg.Room.TokenTTL,
	})
	if err != nil {
		return fmt.Errorf("build listener token: %w", err)
	}

	conn, err := room.Dial(ctx, room.Config{
		URL:      a.Cfg.Room.URL,
		Token:    token,
		RoomName: a.Cfg.Room.RoomName,
		Identity: a.Cfg.Room.Identity,
	})
	if err != nil {
		return fmt.Errorf("connect to room: %w", err)
	}
	a.roomMu.Lock()
	a.roomConn = conn
	a.roomMu.Unlock()
	a.signaler.bind(room.NewSignaler(conn))

	a.Logger.Info().Str("room", a.Cfg.Room.RoomName).Msg("Listening for room events")

	roomID := a.Cfg.Room.RoomName
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-conn.Events():
			if !ok {
				return errors.New("room connection closed")
			}
			a.handleRoomEvent(ctx, roomID, ev)
		}
	}
}

func (a *Application) handleRoomEvent(ctx context.Context, roomID string, ev room.Event) {
	// Our own listener identity never opens a session.
	if ev.Participant == a.Cfg.Room.Identity {
		return
	}

	switch ev.Type {
	case room.EventParticipantJoined:
		if _, err := a.Manager.StartSession(ctx, roomID, ev.Participant); err != nil {
			if errors.Is(err, session.ErrRoomBusy) {
				a.Logger.Warn().Str("participant", ev.Participant).
					Msg("Join while previous session is resolving; not tracked")
			} else {
				a.Logger.Error().Err(err).Str("participant", ev.Participant).
					Msg("Failed to start call session")
			}
		}
	case room.EventParticipantLeft:
		a.Manager.Leave(roomID)
	case room.EventAudioFrame:
		a.Manager.HandleAudio(ctx, roomID, ev.Audio)
	case room.EventData:
		// Inbound data messages are not consumed by the listener.
	}
}

// Shutdown finalizes active sessions, drains deliveries and releases the
// room connection, bounded by ctx.
func (a *Application) Shutdown(ctx context.Context) {
	a.Logger.Info().Msg("Call pipeline shutting down")

	if err := a.Manager.Shutdown(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Shutdown drain incomplete")
	}

	a.roomMu.Lock()
	conn := a.roomConn
	a.roomMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	if a.secondary != nil {
		_ = a.secondary.Close()
	}
}

// transcriberFactory selects the STT backend for new sessions.
func transcriberFactory(cfg config.STTConfig) transcriber.Factory {
	switch cfg.Provider {
	case "google":
		return func(ctx context.Context, roomID, participantID string) (transcriber.Adapter, error) {
			return googlestt.New(ctx, googlestt.Config{
				LanguageCode: cfg.LanguageCode,
				SampleRateHz: cfg.SampleRateHz,
			}, participantID)
		}
	case "whisper":
		return func(ctx context.Context, roomID, participantID string) (transcriber.Adapter, error) {
			return whisperlocal.New(whisperlocal.Config{
				ServerURL:    cfg.WhisperURL,
				SampleRateHz: cfg.SampleRateHz,
				FlushEvery:   cfg.FlushEvery,
			}, participantID), nil
		}
	default:
		return func(ctx context.Context, roomID, participantID string) (transcriber.Adapter, error) {
			return mock.New(participantID), nil
		}
	}
}

func logFormat(environment string) string {
	if environment == "dev" {
		return "console"
	}
	return "json"
}
