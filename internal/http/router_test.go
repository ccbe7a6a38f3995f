package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"call-appointment-pipeline/internal/config"
	"call-appointment-pipeline/internal/session"
)

func testRoomConfig() config.RoomConfig {
	return config.RoomConfig{
		URL:       "wss://rooms.example.com",
		APIKey:    "test-key",
		APISecret: "test-secret",
		TokenTTL:  24 * time.Hour,
	}
}

func newTestRouter(cfg config.RoomConfig) http.Handler {
	return NewRouter(cfg, session.NewManager(session.Config{}))
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(testRoomConfig())

	for _, path := range []string{"/v1/liveness", "/v1/readiness"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rr.Code)
		}
	}
}

func TestGenerateToken_Success(t *testing.T) {
	router := newTestRouter(testRoomConfig())

	body := `{"room_name":"demo","participant_name":"John Smith","can_publish":true,"can_publish_data":false}`
	req := httptest.NewRequest(http.MethodPost, "/generate-token", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp tokenResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RoomName != "demo" {
		t.Errorf("room_name = %q, want demo", resp.RoomName)
	}
	if resp.ParticipantIdentity != "user-john-smith" {
		t.Errorf("participant_identity = %q, want user-john-smith", resp.ParticipantIdentity)
	}
	if resp.LivekitURL != "wss://rooms.example.com" {
		t.Errorf("livekit_url = %q", resp.LivekitURL)
	}
	if _, err := time.Parse(time.RFC3339, resp.ExpiresAt); err != nil {
		t.Errorf("expires_at %q is not RFC3339: %v", resp.ExpiresAt, err)
	}

	var claims accessClaims
	token, err := jwt.ParseWithClaims(resp.Token, &claims, func(t *jwt.Token) (any, error) {
		return []byte("test-secret"), nil
	})
	if err != nil || !token.Valid {
		t.Fatalf("token did not verify: %v", err)
	}
	if claims.Issuer != "test-key" {
		t.Errorf("iss = %q, want test-key", claims.Issuer)
	}
	if claims.Subject != "user-john-smith" {
		t.Errorf("sub = %q, want user-john-smith", claims.Subject)
	}
	if !claims.Video.RoomJoin || claims.Video.Room != "demo" {
		t.Errorf("video grant = %+v, want roomJoin on room demo", claims.Video)
	}
	if !claims.Video.CanPublish {
		t.Error("canPublish should honor the request")
	}
	if claims.Video.CanPublishData {
		t.Error("canPublishData should honor the request's false")
	}
}

func TestGenerateToken_DefaultsGrantsWhenOmitted(t *testing.T) {
	router := newTestRouter(testRoomConfig())

	body := `{"room_name":"demo","participant_name":"Jane"}`
	req := httptest.NewRequest(http.MethodPost, "/generate-token", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp tokenResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	var claims accessClaims
	if _, err := jwt.ParseWithClaims(resp.Token, &claims, func(t *jwt.Token) (any, error) {
		return []byte("test-secret"), nil
	}); err != nil {
		t.Fatal(err)
	}
	if !claims.Video.CanPublish || !claims.Video.CanSubscribe || !claims.Video.CanPublishData {
		t.Errorf("omitted grants should default to true, got %+v", claims.Video)
	}
}

func TestGenerateToken_MissingFields(t *testing.T) {
	router := newTestRouter(testRoomConfig())

	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: `{}`},
		{name: "missing participant", body: `{"room_name":"demo"}`},
		{name: "invalid json", body: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/generate-token", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rr.Code)
			}
		})
	}
}

func TestGenerateToken_UnconfiguredRoomServer(t *testing.T) {
	router := newTestRouter(config.RoomConfig{})

	body := `{"room_name":"demo","participant_name":"Jane"}`
	req := httptest.NewRequest(http.MethodPost, "/generate-token", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}

func TestBuildAccessToken_RequiresCredentials(t *testing.T) {
	if _, _, err := BuildAccessToken("", "", TokenOptions{RoomName: "demo"}); err == nil {
		t.Error("expected error without credentials")
	}
}

func TestDefaultIdentity(t *testing.T) {
	if got := defaultIdentity("John Smith"); got != "user-john-smith" {
		t.Errorf("defaultIdentity = %q", got)
	}
}
