package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/birdtagapp/birdtag-go/internal/catalog"
	"github.com/birdtagapp/birdtag-go/internal/config"
	"github.com/birdtagapp/birdtag-go/internal/tokenfile"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// statusTestConfig points credential and catalog paths into a temp dir so
// the report reads only state the test controls.
func statusTestConfig(t *testing.T) {
	t.Helper()
	resetGlobals(t)

	dir := t.TempDir()
	resolvedCfg = config.Defaults()
	resolvedCfg.Auth.TokenPath = filepath.Join(dir, "credentials.json")
	resolvedCfg.Catalog.DBPath = filepath.Join(dir, "catalog.db")
}

func TestBuildStatusReport_NotLoggedIn(t *testing.T) {
	statusTestConfig(t)

	report := buildStatusReport(context.Background(), quietLogger())

	assert.Equal(t, credStateMissing, report.Credential.State)
	assert.Empty(t, report.Credential.Subject)
	assert.Zero(t, report.Catalog.Entities)
}

func TestBuildStatusReport_ExpiredCredential(t *testing.T) {
	statusTestConfig(t)

	stale := &oauth2.Token{
		AccessToken: "stale",
		Expiry:      time.Now().Add(-time.Hour),
	}
	require.NoError(t, tokenfile.Save(resolvedCfg.Auth.TokenPath, stale, nil))

	report := buildStatusReport(context.Background(), quietLogger())
	assert.Equal(t, credStateExpired, report.Credential.State)
}

func TestBuildStatusReport_ValidCredential(t *testing.T) {
	statusTestConfig(t)

	tok := &oauth2.Token{
		AccessToken: "live",
		Expiry:      time.Now().Add(time.Hour),
	}
	claims := map[string]string{"sub": "user-1", "email": "u1@example.com"}
	require.NoError(t, tokenfile.Save(resolvedCfg.Auth.TokenPath, tok, claims))

	report := buildStatusReport(context.Background(), quietLogger())

	assert.Equal(t, credStateValid, report.Credential.State)
	assert.Equal(t, "user-1", report.Credential.Subject)
	assert.Equal(t, "u1@example.com", report.Credential.Email)
	assert.NotEmpty(t, report.Credential.Expires)
}

func TestBuildStatusReport_CatalogCounts(t *testing.T) {
	statusTestConfig(t)

	store, err := catalog.NewStore(resolvedCfg.Catalog.DBPath, quietLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, catalog.Entity{
		FileID: "f-1", Kind: "image", Tags: map[string]int{"crow": 2},
	}))
	require.NoError(t, store.Upsert(ctx, catalog.Entity{FileID: "f-2", Kind: "audio"}))
	require.NoError(t, store.Close())

	report := buildStatusReport(ctx, quietLogger())

	assert.Equal(t, 2, report.Catalog.Entities)
	assert.Equal(t, 1, report.Catalog.Tagged)
	assert.Equal(t, resolvedCfg.Catalog.DBPath, report.Catalog.Path)
}

func TestOrNotSet(t *testing.T) {
	assert.Equal(t, endpointNotSet, orNotSet(""))
	assert.Equal(t, "wss://push.example", orNotSet("wss://push.example"))
}
