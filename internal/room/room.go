// Package room connects to the real-time room gateway over websocket.
// It surfaces participant and audio events to the session layer and
// carries out-of-band data messages back to the room.
package room

import "context"

// EventType classifies inbound room events.
type EventType string

const (
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
	EventAudioFrame        EventType = "audio_frame"
	EventData              EventType = "data"
)

// Event is one inbound room event. Audio is set for audio_frame events,
// Topic and Data for data events.
type Event struct {
	Type        EventType
	Participant string
	Audio       []byte
	Topic       string
	Data        []byte
}

// Room is the channel to one real-time room.
type Room interface {
	// Events yields inbound room events. The channel closes when the
	// connection ends.
	Events() <-chan Event

	// SendData publishes a data message to all participants on the
	// given topic.
	SendData(ctx context.Context, topic string, payload []byte) error

	Close() error
}
