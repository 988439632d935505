package sessiontoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	headerType      = "JWT"
	headerAlgorithm = "HS256"
)

type tokenHeader struct {
	Type      string `json:"typ"`
	Algorithm string `json:"alg"`
}

// Signer produces and verifies compact HMAC-SHA256 session tokens. The
// signing key lives in memory only; use at least 32 bytes.
type Signer struct {
	key []byte
}

// NewSigner creates a Signer from the given key.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) == 0 {
		return nil, ErrMissingSigningKey
	}
	return &Signer{key: key}, nil
}

// Sign serializes the claims into a signed compact token.
func (s *Signer) Sign(claims Claims) (string, error) {
	headerJSON, err := json.Marshal(tokenHeader{Type: headerType, Algorithm: headerAlgorithm})
	if err != nil {
		return "", fmt.Errorf("marshal header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	payload := encodeSegment(headerJSON) + "." + encodeSegment(claimsJSON)
	return payload + "." + s.signature(payload), nil
}

// Parse verifies the token's signature and algorithm, then returns the
// claims after temporal validation.
func (s *Signer) Parse(token string) (Claims, error) {
	var claims Claims

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return claims, ErrInvalidToken
	}

	payload := parts[0] + "." + parts[1]
	expected := s.signature(payload)
	if subtle.ConstantTimeCompare([]byte(parts[2]), []byte(expected)) != 1 {
		return claims, ErrInvalidSignature
	}

	headerJSON, err := decodeSegment(parts[0])
	if err != nil {
		return claims, ErrInvalidToken
	}
	var header tokenHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return claims, ErrInvalidToken
	}
	// Reject anything but our own algorithm to prevent confusion attacks.
	if header.Algorithm != headerAlgorithm {
		return claims, ErrInvalidSignature
	}

	claimsJSON, err := decodeSegment(parts[1])
	if err != nil {
		return claims, ErrInvalidToken
	}
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return claims, ErrInvalidToken
	}
	if err := claims.Valid(); err != nil {
		return claims, err
	}
	return claims, nil
}

func (s *Signer) signature(payload string) string {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(payload))
	return encodeSegment(h.Sum(nil))
}

func encodeSegment(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
