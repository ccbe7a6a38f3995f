// Package http exposes the service's REST surface: health probes and
// the room token endpoint consumed by call clients.
package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"call-appointment-pipeline/internal/config"
	"call-appointment-pipeline/internal/observability/logging"
	"call-appointment-pipeline/internal/session"
)

// tokenRequest is the body of POST /generate-token.
type tokenRequest struct {
	RoomName            string `json:"room_name"`
	ParticipantName     string `json:"participant_name"`
	ParticipantIdentity string `json:"participant_identity,omitempty"`
	CanPublish          *bool  `json:"can_publish,omitempty"`
	CanSubscribe        *bool  `json:"can_subscribe,omitempty"`
	CanPublishData      *bool  `json:"can_publish_data,omitempty"`
}

type tokenResponse struct {
	Token               string `json:"token"`
	RoomName            string `json:"room_name"`
	ParticipantIdentity string `json:"participant_identity"`
	LivekitURL          string `json:"livekit_url"`
	ExpiresAt           string `json:"expires_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(cfg config.RoomConfig, mgr *session.Manager) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Get("/v1/sessions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"active_sessions": mgr.ActiveSessions()})
	})

	r.Post("/generate-token", generateToken(cfg))

	return r
}

// generateToken issues a room access token for joining a call.
func generateToken(cfg config.RoomConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		if req.RoomName == "" || req.ParticipantName == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "room_name and participant_name are required"})
			return
		}
		if cfg.URL == "" || cfg.APIKey == "" || cfg.APISecret == "" {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "room server not configured"})
			return
		}

		identity := req.ParticipantIdentity
		if identity == "" {
			identity = defaultIdentity(req.ParticipantName)
		}

		opts := TokenOptions{
			RoomName:       req.RoomName,
			Identity:       identity,
			Name:           req.ParticipantName,
			CanPublish:     boolOr(req.CanPublish, true),
			CanSubscribe:   boolOr(req.CanSubscribe, true),
			CanPublishData: boolOr(req.CanPublishData, true),
			TTL:            cfg.TokenTTL,
		}

		token, expiresAt, err := BuildAccessToken(cfg.APIKey, cfg.APISecret, opts)
		if err != nil {
			log := logging.WithComponent("http")
			log.Error().Err(err).Msg("Failed to build access token")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to generate token"})
			return
		}

		writeJSON(w, http.StatusOK, tokenResponse{
			Token:               token,
			RoomName:            req.RoomName,
			ParticipantIdentity: identity,
			LivekitURL:          cfg.URL,
			ExpiresAt:           expiresAt.UTC().Format(time.RFC3339),
		})
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
