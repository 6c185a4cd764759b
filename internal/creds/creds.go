// Package creds resolves a usable bearer credential from an ordered list of
// sources. Each source is one mechanism capable of producing a credential
// (an active OAuth2 session, or a persisted fallback token); resolution
// iterates the list and short-circuits on the first non-expired credential.
package creds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// AuthError reasons.
const (
	ReasonNoCredential = "no-credential"
	ReasonExpired      = "expired"
)

// AuthError reports that no usable credential could be resolved. Callers
// should surface this as "must re-authenticate" — it is never retried
// internally.
type AuthError struct {
	Reason string // ReasonNoCredential or ReasonExpired
	Err    error  // last source error, if any
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("creds: %s: %v", e.Reason, e.Err)
	}

	return "creds: " + e.Reason
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Credential is a bearer credential derived from a signed token's claims.
// It is never constructed by the client from scratch — only parsed out of
// what the identity provider issued.
type Credential struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	ExpiresAt    time.Time
	SubjectID    string
	Email        string
}

// Usable reports whether the credential is still valid at the given time.
func (c *Credential) Usable(now time.Time) bool {
	return c != nil && now.Before(c.ExpiresAt)
}

// Source is one mechanism capable of producing a bearer credential.
// A source's internal failure (network, malformed data) is a miss, not a
// fatal error — resolution proceeds to the next source.
type Source interface {
	Name() string
	Credential(ctx context.Context) (*Credential, error)
}

// Resolver tries sources in declared order and returns the first usable
// credential. Read-only: callers needing a proactive refresh re-invoke
// Resolve.
type Resolver struct {
	sources []Source
	logger  *slog.Logger

	// now is the clock; tests override it.
	now func() time.Time
}

// NewResolver creates a resolver over the given sources. Order matters:
// earlier sources win.
func NewResolver(logger *slog.Logger, sources ...Source) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{
		sources: sources,
		logger:  logger,
		now:     time.Now,
	}
}

// Resolve returns the first non-expired credential from the source list.
// Source errors are logged and treated as misses. Fails with AuthError
// ReasonNoCredential when every source misses, or ReasonExpired when the
// only credential seen had already passed its expiry claim.
func (r *Resolver) Resolve(ctx context.Context) (*Credential, error) {
	now := r.now()

	var (
		sawExpired bool
		lastErr    error
	)

	for _, src := range r.sources {
		cred, err := src.Credential(ctx)
		if err != nil {
			r.logger.Debug("credential source missed",
				slog.String("source", src.Name()),
				slog.String("error", err.Error()),
			)

			lastErr = err

			continue
		}

		if cred == nil {
			r.logger.Debug("credential source empty", slog.String("source", src.Name()))
			continue
		}

		if !cred.Usable(now) {
			r.logger.Debug("credential source expired",
				slog.String("source", src.Name()),
				slog.Time("expires_at", cred.ExpiresAt),
			)

			sawExpired = true

			continue
		}

		r.logger.Debug("credential resolved",
			slog.String("source", src.Name()),
			slog.Time("expires_at", cred.ExpiresAt),
		)

		return cred, nil
	}

	if sawExpired {
		return nil, &AuthError{Reason: ReasonExpired}
	}

	return nil, &AuthError{Reason: ReasonNoCredential, Err: lastErr}
}

// IsAuthError reports whether err is (or wraps) an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
