// Package config loads the service configuration from the environment.
// The Configuration struct is constructed once at startup and passed into
// each component's constructor; nothing reads the environment after Load.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Configuration holds all operator-tunable settings for the pipeline.
type Configuration struct {
	Service       ServiceConfig
	Room          RoomConfig
	STT           STTConfig
	Extraction    ExtractionConfig
	Delivery      DeliveryConfig
	RecordStore   RecordStoreConfig
	Session       SessionConfig
	Observability ObservabilityConfig
}

// ServiceConfig covers the HTTP surfaces of the process.
type ServiceConfig struct {
	HTTPPort    string // token endpoint + health routes
	MetricsPort string // observability server
}

// RoomConfig covers the real-time platform connection.
type RoomConfig struct {
	URL       string
	APIKey    string
	APISecret string
	RoomName  string
	Identity  string
	TokenTTL  time.Duration
}

// STTConfig selects and configures the transcriber backend.
type STTConfig struct {
	Provider     string // google, whisper, mock
	LanguageCode string
	SampleRateHz int
	WhisperURL   string        // whisper-server endpoint for the local batched engine
	FlushEvery   time.Duration // batch window for the local engine
}

// ExtractionConfig configures the AI extraction stage.
type ExtractionConfig struct {
	GeminiAPIKey string
	GeminiModel  string
	Timeout      time.Duration
}

// DeliveryConfig configures the primary webhook sink.
type DeliveryConfig struct {
	WebhookURL     string
	MaxAttempts    int
	InitialBackoff time.Duration
	RequestTimeout time.Duration
}

// RecordStoreConfig configures the optional secondary sink.
type RecordStoreConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// SessionConfig covers per-session behavior.
type SessionConfig struct {
	SilenceThreshold time.Duration
	MaxSegments      int // guardrail against unbounded transcripts
	EndPhrases       []string
}

// ObservabilityConfig covers logging.
type ObservabilityConfig struct {
	LogLevel    string
	Environment string
}

var defaultEndPhrases = []string{
	"bye", "goodbye", "see you", "talk to you later", "thanks, bye",
	"have a nice day", "thank you bye", "that will be all",
}

// Load reads configuration from the environment, honoring a local .env
// file when present.
func Load() *Configuration {
	_ = godotenv.Load()

	return &Configuration{
		Service: ServiceConfig{
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
		Room: RoomConfig{
			URL:       envOrDefault("LIVEKIT_URL", "ws://localhost:7880"),
			APIKey:    os.Getenv("LIVEKIT_API_KEY"),
			APISecret: os.Getenv("LIVEKIT_API_SECRET"),
			RoomName:  envOrDefault("ROOM_NAME", "demo"),
			Identity:  envOrDefault("LISTENER_IDENTITY", "listener-agent"),
			TokenTTL:  envOrDefaultDuration("TOKEN_TTL", 24*time.Hour),
		},
		STT: STTConfig{
			Provider:     envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode: envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz: envOrDefaultInt("STT_SAMPLE_RATE_HZ", 48000),
			WhisperURL:   envOrDefault("WHISPER_SERVER_URL", "http://localhost:8081/inference"),
			FlushEvery:   envOrDefaultDuration("WHISPER_FLUSH_INTERVAL", 5*time.Second),
		},
		Extraction: ExtractionConfig{
			GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
			GeminiModel:  envOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
			Timeout:      envOrDefaultDuration("EXTRACTION_TIMEOUT", 15*time.Second),
		},
		Delivery: DeliveryConfig{
			WebhookURL:     os.Getenv("WEBHOOK_URL"),
			MaxAttempts:    envOrDefaultInt("DELIVERY_MAX_ATTEMPTS", 3),
			InitialBackoff: envOrDefaultDuration("DELIVERY_BACKOFF", time.Second),
			RequestTimeout: envOrDefaultDuration("DELIVERY_TIMEOUT", 10*time.Second),
		},
		RecordStore: RecordStoreConfig{
			Enabled: envOrDefaultBool("RECORD_STORE_ENABLED", false),
			Brokers: envOrDefaultList("RECORD_STORE_BROKERS", nil),
			Topic:   envOrDefault("RECORD_STORE_TOPIC", "appointments.records"),
		},
		Session: SessionConfig{
			SilenceThreshold: envOrDefaultDuration("SILENCE_THRESHOLD", 3*time.Second),
			MaxSegments:      envOrDefaultInt("SESSION_MAX_SEGMENTS", 500),
			EndPhrases:       envOrDefaultList("END_PHRASES", defaultEndPhrases),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			Environment: envOrDefault("ENV", "prod"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
