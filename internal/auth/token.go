package auth

import (
	"encoding/json"
	"fmt"
	"time"
)

// expiryBuffer treats a token as expired this long before its literal expiry
// so it is never presented upstream mid-flight on the edge of its lifetime.
const expiryBuffer = 5 * time.Minute

// Token is the current access/refresh token pair for the upstream session.
// Records are replaced wholesale on exchange and refresh, never mutated.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the token should no longer be used, applying the
// safety buffer ahead of the literal expiry timestamp.
func (t Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt.Add(-expiryBuffer))
}

// Encode serializes the token record for storage.
func (t Token) Encode() (string, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal token record: %w", err)
	}
	return string(raw), nil
}

// DecodeToken parses a stored token record. Callers translate failures into
// ErrCorruptedTokenData and purge the record.
func DecodeToken(raw string) (Token, error) {
	var t Token
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return Token{}, err
	}
	if t.AccessToken == "" || t.ExpiresAt.IsZero() {
		return Token{}, fmt.Errorf("token record missing required fields")
	}
	return t, nil
}
