package http

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// videoGrant mirrors the room server's access grant claim.
type videoGrant struct {
	Room                 string `json:"room"`
	RoomJoin             bool   `json:"roomJoin"`
	CanPublish           bool   `json:"canPublish"`
	CanSubscribe         bool   `json:"canSubscribe"`
	CanPublishData       bool   `json:"canPublishData"`
	CanUpdateOwnMetadata bool   `json:"canUpdateOwnMetadata"`
}

type accessClaims struct {
	jwt.RegisteredClaims
	Name     string     `json:"name,omitempty"`
	Metadata string     `json:"metadata,omitempty"`
	Video    videoGrant `json:"video"`
}

// TokenOptions shapes the grants on one access token.
type TokenOptions struct {
	RoomName       string
	Identity       string
	Name           string
	CanPublish     bool
	CanSubscribe   bool
	CanPublishData bool
	TTL            time.Duration
}

// BuildAccessToken signs an HS256 room access token for the room server.
// Returns the token and its expiry.
func BuildAccessToken(apiKey, apiSecret string, opts TokenOptions) (string, time.Time, error) {
	if apiKey == "" || apiSecret == "" {
		return "", time.Time{}, fmt.Errorf("room API key/secret not configured")
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}

	now := time.Now()
	expiresAt := now.Add(opts.TTL)

	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    apiKey,
			Subject:   opts.Identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Name:     opts.Name,
		Metadata: opts.Name,
		Video: videoGrant{
			Room:                 opts.RoomName,
			RoomJoin:             true,
			CanPublish:           opts.CanPublish,
			CanSubscribe:         opts.CanSubscribe,
			CanPublishData:       opts.CanPublishData,
			CanUpdateOwnMetadata: true,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(apiSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// defaultIdentity derives a stable identity from a display name.
func defaultIdentity(participantName string) string {
	return "user-" + strings.ReplaceAll(strings.ToLower(participantName), " ", "-")
}
