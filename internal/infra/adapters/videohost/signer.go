package videohost

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// audiencePlayback is the audience claim for video playback tokens.
const audiencePlayback = "v"

// Signer issues RS256 playback tokens for signed playback ids.
type Signer struct {
	keyID string
	key   *rsa.PrivateKey
	ttl   time.Duration
	now   func() time.Time
}

// NewSigner parses a base64-encoded PEM private key. An empty key returns nil:
// playback ids are then treated as public.
func NewSigner(keyID, encodedKey string, ttl time.Duration) (*Signer, error) {
	encodedKey = strings.TrimSpace(encodedKey)
	if encodedKey == "" {
		return nil, nil
	}
	if keyID == "" {
		return nil, fmt.Errorf("signing key id is required with a signing key")
	}
	pemBytes, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Signer{keyID: keyID, key: key, ttl: ttl, now: time.Now}, nil
}

// Token signs a playback token for playbackID. Extra claims carry playback
// modifiers, which signed URLs cannot take as query parameters.
func (s *Signer) Token(playbackID string, extra map[string]any) (string, error) {
	claims := jwt.MapClaims{
		"sub": playbackID,
		"aud": audiencePlayback,
		"exp": s.now().Add(s.ttl).Unix(),
		"kid": s.keyID,
	}
	for k, v := range extra {
		claims[k] = v
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.keyID
	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign playback token: %w", err)
	}
	return signed, nil
}
