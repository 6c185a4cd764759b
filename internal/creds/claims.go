package creds

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// jwtSegments is the number of dot-separated segments in a compact JWS.
const jwtSegments = 3

// idClaims is the subset of ID token claims the client consumes. Signature
// verification is the server's job at handshake/request time — the client
// only reads the payload to learn who it is and when the token expires.
type idClaims struct {
	Subject  string `json:"sub"`
	Email    string `json:"email"`
	Username string `json:"cognito:username"` //nolint:tagliatelle // issuer claim key
	Expiry   int64  `json:"exp"`
}

// ParseClaims decodes the payload segment of a compact JWT and extracts the
// subject ID, email, and expiry claim. The signature is not verified.
func ParseClaims(idToken string) (subjectID, email string, expiresAt time.Time, err error) {
	parts := strings.Split(idToken, ".")
	if len(parts) != jwtSegments {
		return "", "", time.Time{}, fmt.Errorf("creds: token has %d segments, want %d", len(parts), jwtSegments)
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("creds: decoding token payload: %w", err)
	}

	var claims idClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", "", time.Time{}, fmt.Errorf("creds: parsing token claims: %w", err)
	}

	subject := claims.Subject
	if subject == "" {
		subject = claims.Username
	}

	if subject == "" {
		return "", "", time.Time{}, fmt.Errorf("creds: token missing subject claim")
	}

	return subject, claims.Email, time.Unix(claims.Expiry, 0), nil
}
