package room

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"call-appointment-pipeline/internal/observability/logging"
)

const defaultConnectTimeout = 15 * time.Second

// Config holds the room gateway connection settings.
type Config struct {
	URL      string
	Token    string
	RoomName string
	Identity string
}

// frame is the websocket wire envelope, both directions. Binary payloads
// travel base64-encoded inside the JSON frame.
type frame struct {
	Type        string `json:"type"`
	Room        string `json:"room,omitempty"`
	Token       string `json:"token,omitempty"`
	Identity    string `json:"identity,omitempty"`
	Participant string `json:"participant,omitempty"`
	Topic       string `json:"topic,omitempty"`
	DataB64     string `json:"data_b64,omitempty"`
}

// Client is a websocket Room implementation.
type Client struct {
	conn *websocket.Conn

	events chan Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// Dial connects to the room gateway and joins the configured room.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	wsURL, err := websocketURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("room dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("room dial failed: %w", err)
	}

	join := frame{
		Type:     "join",
		Room:     cfg.RoomName,
		Token:    cfg.Token,
		Identity: cfg.Identity,
	}
	if err := conn.WriteJSON(join); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	c := &Client{
		conn:   conn,
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go c.readLoop(cfg.RoomName)
	return c, nil
}

// Events yields inbound room events.
func (c *Client) Events() <-chan Event {
	return c.events
}

// SendData publishes a data message to all participants on the topic.
func (c *Client) SendData(ctx context.Context, topic string, payload []byte) error {
	if c.closed.Load() {
		return fmt.Errorf("room connection is closed")
	}
	msg := frame{
		Type:    "data",
		Topic:   topic,
		DataB64: base64.StdEncoding.EncodeToString(payload),
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return c.conn.WriteJSON(msg)
}

// Close closes the websocket connection and drains the read loop.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

func (c *Client) readLoop(roomName string) {
	defer close(c.done)
	defer close(c.events)

	log := logging.WithComponent("room").With().Str("room", roomName).Logger()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("Room connection lost")
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Warn().Err(err).Msg("Dropping undecodable room frame")
			continue
		}

		event, ok := decodeFrame(f)
		if !ok {
			continue
		}
		c.emit(event)
	}
}

func decodeFrame(f frame) (Event, bool) {
	switch f.Type {
	case "participant_joined":
		return Event{Type: EventParticipantJoined, Participant: f.Participant}, true
	case "participant_left":
		return Event{Type: EventParticipantLeft, Participant: f.Participant}, true
	case "audio_frame":
		audio, err := base64.StdEncoding.DecodeString(f.DataB64)
		if err != nil {
			return Event{}, false
		}
		return Event{Type: EventAudioFrame, Participant: f.Participant, Audio: audio}, true
	case "data":
		data, err := base64.StdEncoding.DecodeString(f.DataB64)
		if err != nil {
			return Event{}, false
		}
		return Event{Type: EventData, Participant: f.Participant, Topic: f.Topic, Data: data}, true
	default:
		return Event{}, false
	}
}

func (c *Client) emit(event Event) {
	select {
	case c.events <- event:
	default:
		// Avoid deadlocking the read loop if the consumer stalls.
	}
}

func websocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid room URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("room URL must use http(s) or ws(s), got %q", u.Scheme)
	}
	return u.String(), nil
}
