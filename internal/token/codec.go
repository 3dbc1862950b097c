// Package token implements the signed tracking-token protocol used in pixel
// and redirect URLs. A token is base64url(HMAC-SHA256(payload) || payload)
// where payload is the JSON-serialized claims. Tokens carry no expiry.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidToken is returned for every decode failure: bad encoding, short
// blob, signature mismatch, or unparsable payload. Callers get no detail
// about which check failed.
var ErrInvalidToken = errors.New("invalid tracking token")

const sigLen = sha256.Size

// Claims is the payload carried by a tracking token.
type Claims struct {
	SubscriberID uuid.UUID `json:"sid"`
	CampaignID   uuid.UUID `json:"cid"`
	RedirectURL  string    `json:"url,omitempty"`
}

// Codec signs and verifies tracking tokens with a server-side secret.
type Codec struct {
	secret []byte
}

// NewCodec creates a codec. The secret must be non-empty.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("token: secret must not be empty")
	}
	return &Codec{secret: []byte(secret)}, nil
}

// Encode serializes and signs the claims into a URL-safe token.
func (c *Codec) Encode(claims Claims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("token: marshal claims: %w", err)
	}
	mac := c.sign(payload)
	blob := make([]byte, 0, len(mac)+len(payload))
	blob = append(blob, mac...)
	blob = append(blob, payload...)
	return base64.RawURLEncoding.EncodeToString(blob), nil
}

// Decode verifies a token and returns its claims. Any failure yields
// ErrInvalidToken.
func (c *Codec) Decode(token string) (*Claims, error) {
	blob, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if len(blob) <= sigLen {
		return nil, ErrInvalidToken
	}
	mac, payload := blob[:sigLen], blob[sigLen:]
	if !hmac.Equal(mac, c.sign(payload)) {
		return nil, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

func (c *Codec) sign(payload []byte) []byte {
	h := hmac.New(sha256.New, c.secret)
	h.Write(payload)
	return h.Sum(nil)
}
