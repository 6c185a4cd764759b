package creds

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/birdtagapp/birdtag-go/internal/tokenfile"
)

// idTokenExtra is the oauth2 extra field carrying the OIDC ID token.
const idTokenExtra = "id_token"

// SessionSource produces credentials from an active OAuth2 session. The
// wrapped token source silently refreshes the access token when possible,
// so a credential from here is usually fresh.
type SessionSource struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

// NewSessionSource wraps an oauth2.TokenSource as a credential source.
func NewSessionSource(src oauth2.TokenSource, logger *slog.Logger) *SessionSource {
	return &SessionSource{src: src, logger: logger}
}

func (s *SessionSource) Name() string { return "session" }

// Credential obtains a token from the session and derives a Credential from
// its ID token claims. If no ID token is present (plain OAuth2 session),
// the access token's own expiry is used and identity fields stay empty.
func (s *SessionSource) Credential(_ context.Context) (*Credential, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, fmt.Errorf("creds: session token: %w", err)
	}

	return credentialFromToken(tok, s.logger)
}

// FileSource produces credentials from a persisted credential file. It is
// the fallback when no live session exists — the token is used as-is, with
// no refresh attempt.
type FileSource struct {
	path   string
	logger *slog.Logger
}

// NewFileSource creates a source reading the credential file at path.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	return &FileSource{path: path, logger: logger}
}

func (s *FileSource) Name() string { return "file" }

func (s *FileSource) Credential(_ context.Context) (*Credential, error) {
	tok, claims, err := tokenfile.Load(s.path)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, fmt.Errorf("creds: no credential file at %s", s.path)
	}

	cred, err := credentialFromToken(tok, s.logger)
	if err != nil {
		return nil, err
	}

	// Cached claims fill identity fields when the file has no ID token.
	if cred.SubjectID == "" {
		cred.SubjectID = claims["sub"]
	}

	if cred.Email == "" {
		cred.Email = claims["email"]
	}

	return cred, nil
}

// credentialFromToken builds a Credential from an oauth2 token, preferring
// the ID token's claims for identity and expiry.
func credentialFromToken(tok *oauth2.Token, logger *slog.Logger) (*Credential, error) {
	cred := &Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}

	idToken, _ := tok.Extra(idTokenExtra).(string)
	if idToken == "" {
		return cred, nil
	}

	cred.IDToken = idToken

	sub, email, exp, err := ParseClaims(idToken)
	if err != nil {
		// A malformed ID token does not invalidate the access token; log
		// and fall back to the access token's expiry.
		if logger != nil {
			logger.Warn("ignoring malformed id token", slog.String("error", err.Error()))
		}

		return cred, nil
	}

	cred.SubjectID = sub
	cred.Email = email

	if cred.ExpiresAt.IsZero() || exp.Before(cred.ExpiresAt) {
		cred.ExpiresAt = exp
	}

	return cred, nil
}

// Bearer returns the token to present on the wire: the ID token when
// present (the backend validates identity claims), otherwise the access
// token.
func (c *Credential) Bearer() string {
	if c.IDToken != "" {
		return c.IDToken
	}

	return c.AccessToken
}

// StaticSource returns a fixed credential; used by tests and by callers
// that already hold a resolved credential.
type StaticSource struct {
	Cred *Credential
}

func (s StaticSource) Name() string { return "static" }

func (s StaticSource) Credential(_ context.Context) (*Credential, error) {
	if s.Cred == nil {
		return nil, fmt.Errorf("creds: static source empty")
	}

	return s.Cred, nil
}

// ensure interface satisfaction at compile time.
var (
	_ Source = (*SessionSource)(nil)
	_ Source = (*FileSource)(nil)
	_ Source = StaticSource{}
)

// ExpiresIn is a convenience for logging how long a credential remains
// usable.
func (c *Credential) ExpiresIn(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}
