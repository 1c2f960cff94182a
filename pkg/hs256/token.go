// Package hs256 signs and verifies compact JWTs using HMAC-SHA256.
package hs256

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMalformed = errors.New("hs256: malformed token")
	ErrSignature = errors.New("hs256: invalid signature")
	ErrExpired   = errors.New("hs256: token expired")
	ErrNotYet    = errors.New("hs256: token not yet valid")
)

var encodedHeader = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

// Claims are the registered claims this package inspects during Verify.
// Embed it to add custom fields.
type Claims struct {
	Subject   string `json:"sub,omitempty"`
	Issuer    string `json:"iss,omitempty"`
	Audience  string `json:"aud,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	NotBefore int64  `json:"nbf,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
}

// Sign encodes claims and appends the signature.
func Sign(secret string, claims any) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("hs256: encode claims: %w", err)
	}
	data := encodedHeader + "." + base64.RawURLEncoding.EncodeToString(payload)
	return data + "." + mac(secret, data), nil
}

func mac(secret, data string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// Verify checks the signature and the exp/nbf window, then decodes the payload
// into dst.
func Verify(secret, token string, dst any) error {
	return VerifyAt(secret, token, dst, time.Now())
}

func VerifyAt(secret, token string, dst any, now time.Time) error {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return ErrMalformed
	}
	if !hmac.Equal([]byte(mac(secret, parts[0]+"."+parts[1])), []byte(parts[2])) {
		return ErrSignature
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ErrMalformed
	}
	var reg Claims
	if err := json.Unmarshal(payload, &reg); err != nil {
		return ErrMalformed
	}
	if reg.ExpiresAt != 0 && now.Unix() > reg.ExpiresAt {
		return ErrExpired
	}
	if reg.NotBefore != 0 && now.Unix() < reg.NotBefore {
		return ErrNotYet
	}
	if dst != nil {
		if err := json.Unmarshal(payload, dst); err != nil {
			return fmt.Errorf("hs256: decode claims: %w", err)
		}
	}
	return nil
}
