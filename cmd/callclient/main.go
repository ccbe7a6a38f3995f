// callclient is a development client for exercising the pipeline end to
// end: it fetches a room token, joins the room, streams a few audio
// frames and waits for the END_CALL signal.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

type tokenRequest struct {
	RoomName        string `json:"room_name"`
	ParticipantName string `json:"participant_name"`
	CanPublish      bool   `json:"can_publish"`
	CanSubscribe    bool   `json:"can_subscribe"`
	CanPublishData  bool   `json:"can_publish_data"`
}

type tokenResponse struct {
	Token               string `json:"token"`
	RoomName            string `json:"room_name"`
	ParticipantIdentity string `json:"participant_identity"`
	LivekitURL          string `json:"livekit_url"`
}

type frame struct {
	Type        string `json:"type"`
	Room        string `json:"room,omitempty"`
	Token       string `json:"token,omitempty"`
	Identity    string `json:"identity,omitempty"`
	Participant string `json:"participant,omitempty"`
	Topic       string `json:"topic,omitempty"`
	DataB64     string `json:"data_b64,omitempty"`
}

func main() {
	apiURL := flag.String("api", "http://localhost:8080", "token API base URL")
	gateway := flag.String("gateway", "ws://localhost:7880", "room gateway URL")
	roomName := flag.String("room", "demo", "room to join")
	name := flag.String("name", "Test Caller", "participant display name")
	frames := flag.Int("frames", 5, "number of audio frames to send")
	flag.Parse()

	token := fetchToken(*apiURL, *roomName, *name)
	log.Printf("Got token for identity %s", token.ParticipantIdentity)

	conn, _, err := websocket.DefaultDialer.Dial(*gateway, nil)
	if err != nil {
		log.Fatalf("failed to connect to gateway: %v", err)
	}
	defer conn.Close()

	join := frame{Type: "join", Room: *roomName, Token: token.Token, Identity: token.ParticipantIdentity}
	if err := conn.WriteJSON(join); err != nil {
		log.Fatalf("failed to join room: %v", err)
	}
	log.Printf("Joined room %s", *roomName)

	// Send placeholder PCM frames; with STT_PROVIDER=mock each frame
	// advances the scripted conversation.
	for i := 0; i < *frames; i++ {
		audio := frame{
			Type:    "audio_frame",
			DataB64: base64.StdEncoding.EncodeToString(make([]byte, 960)),
		}
		if err := conn.WriteJSON(audio); err != nil {
			log.Fatalf("failed to send audio frame %d: %v", i, err)
		}
		time.Sleep(200 * time.Millisecond)
	}
	log.Printf("Sent %d audio frames, waiting for END_CALL", *frames)

	deadline := time.Now().Add(30 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			log.Fatalf("connection ended before END_CALL: %v", err)
		}
		if f.Type != "data" || f.Topic != "control" {
			continue
		}
		payload, err := base64.StdEncoding.DecodeString(f.DataB64)
		if err != nil {
			continue
		}
		if string(payload) == "END_CALL" {
			log.Println("Received END_CALL, leaving room")
			return
		}
	}
}

func fetchToken(apiURL, roomName, name string) tokenResponse {
	body, _ := json.Marshal(tokenRequest{
		RoomName:        roomName,
		ParticipantName: name,
		CanPublish:      true,
		CanSubscribe:    true,
		CanPublishData:  true,
	})

	resp, err := http.Post(apiURL+"/generate-token", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("token request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("token request returned status %d", resp.StatusCode)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		log.Fatalf("failed to decode token response: %v", err)
	}
	return token
}
