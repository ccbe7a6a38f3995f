package room

import (
	"context"

	"call-appointment-pipeline/internal/observability/logging"
)

// ControlTopic is the data-channel topic carrying call control messages.
const ControlTopic = "control"

// endCallMessage tells remote clients to leave the call.
var endCallMessage = []byte("END_CALL")

// Signaler sends the end-of-call notification on the room data channel.
// The signal is best effort: a failure is logged and counted but never
// blocks or fails the result pipeline.
type Signaler struct {
	room Room
}

// NewSignaler creates a signaler bound to one room connection.
func NewSignaler(r Room) *Signaler {
	return &Signaler{room: r}
}

// SignalCallEnded broadcasts END_CALL to all room participants.
func (s *Signaler) SignalCallEnded(ctx context.Context, roomID string) error {
	log := logging.WithComponent("room")
	err := s.room.SendData(ctx, ControlTopic, endCallMessage)
	if err != nil {
		log.Warn().Err(err).Str("room", roomID).Msg("Failed to send END_CALL signal")
		return err
	}
	log.Info().Str("room", roomID).Msg("Sent END_CALL signal")
	return nil
}
