package creds

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedNow is the reference clock for resolver tests.
var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// testSlog returns a quiet logger for tests.
func testSlog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// erroringSource always fails, simulating a source whose internal protocol
// broke (network, malformed data).
type erroringSource struct{}

func (erroringSource) Name() string { return "erroring" }

func (erroringSource) Credential(_ context.Context) (*Credential, error) {
	return nil, errors.New("boom")
}

// emptySource returns no credential and no error.
type emptySource struct{}

func (emptySource) Name() string { return "empty" }

func (emptySource) Credential(_ context.Context) (*Credential, error) {
	return nil, nil //nolint:nilnil // models a source with nothing to offer
}

func newTestResolver(t *testing.T, sources ...Source) *Resolver {
	t.Helper()

	r := NewResolver(slog.Default(), sources...)
	r.now = func() time.Time { return fixedNow }

	return r
}

func validCred(subject string) *Credential {
	return &Credential{
		AccessToken: "tok-" + subject,
		ExpiresAt:   fixedNow.Add(time.Hour),
		SubjectID:   subject,
	}
}

func TestResolve_FirstSourceWins(t *testing.T) {
	primary := StaticSource{Cred: validCred("primary")}
	secondary := StaticSource{Cred: validCred("secondary")}

	cred, err := newTestResolver(t, primary, secondary).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "primary", cred.SubjectID)
}

func TestResolve_FallsBackPastErroringPrimary(t *testing.T) {
	secondary := StaticSource{Cred: validCred("secondary")}

	cred, err := newTestResolver(t, erroringSource{}, secondary).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secondary", cred.SubjectID)
}

func TestResolve_SkipsExpiredPrimary(t *testing.T) {
	expired := StaticSource{Cred: &Credential{
		AccessToken: "stale",
		ExpiresAt:   fixedNow.Add(-time.Minute),
	}}
	secondary := StaticSource{Cred: validCred("secondary")}

	cred, err := newTestResolver(t, expired, secondary).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secondary", cred.SubjectID)
}

func TestResolve_AllSourcesExhausted(t *testing.T) {
	_, err := newTestResolver(t, erroringSource{}, emptySource{}).Resolve(context.Background())
	require.Error(t, err)

	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, ReasonNoCredential, ae.Reason)
}

func TestResolve_OnlyExpiredCredential(t *testing.T) {
	expired := StaticSource{Cred: &Credential{
		AccessToken: "stale",
		ExpiresAt:   fixedNow.Add(-time.Hour),
	}}

	_, err := newTestResolver(t, expired).Resolve(context.Background())
	require.Error(t, err)

	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, ReasonExpired, ae.Reason)
}

func TestResolve_NoSources(t *testing.T) {
	_, err := newTestResolver(t).Resolve(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
}

func TestUsable(t *testing.T) {
	tests := []struct {
		name string
		cred *Credential
		want bool
	}{
		{"nil credential", nil, false},
		{"future expiry", &Credential{ExpiresAt: fixedNow.Add(time.Minute)}, true},
		{"past expiry", &Credential{ExpiresAt: fixedNow.Add(-time.Minute)}, false},
		{"expiry is now", &Credential{ExpiresAt: fixedNow}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cred.Usable(fixedNow))
		})
	}
}

// makeJWT builds an unsigned compact JWT with the given payload claims.
func makeJWT(t *testing.T, claims map[string]any) string {
	t.Helper()

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))

	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

func TestParseClaims(t *testing.T) {
	exp := fixedNow.Add(time.Hour).Unix()
	token := makeJWT(t, map[string]any{
		"sub":   "user-123",
		"email": "alex@example.com",
		"exp":   exp,
	})

	sub, email, expiresAt, err := ParseClaims(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", sub)
	assert.Equal(t, "alex@example.com", email)
	assert.Equal(t, exp, expiresAt.Unix())
}

func TestParseClaims_UsernameFallback(t *testing.T) {
	token := makeJWT(t, map[string]any{
		"cognito:username": "alex",
		"exp":              fixedNow.Unix(),
	})

	sub, _, _, err := ParseClaims(token)
	require.NoError(t, err)
	assert.Equal(t, "alex", sub)
}

func TestParseClaims_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"not a jwt", "garbage"},
		{"two segments", "a.b"},
		{"bad base64", "a.!!!.c"},
		{"bad json", "a." + base64.RawURLEncoding.EncodeToString([]byte("{")) + ".c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := ParseClaims(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestParseClaims_MissingSubject(t *testing.T) {
	token := makeJWT(t, map[string]any{"email": "a@b.c", "exp": 1})

	_, _, _, err := ParseClaims(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing subject")
}
