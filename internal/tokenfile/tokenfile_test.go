package tokenfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "credentials.json")

	tok := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour).Truncate(time.Second),
	}
	claims := map[string]string{"sub": "user-1"}

	require.NoError(t, Save(path, tok, claims))

	loaded, loadedClaims, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, tok.AccessToken, loaded.AccessToken)
	assert.Equal(t, tok.RefreshToken, loaded.RefreshToken)
	assert.Equal(t, claims, loadedClaims)
}

func TestSave_Permissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, Save(path, &oauth2.Token{AccessToken: "a"}, nil))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())
}

func TestLoad_MissingFile(t *testing.T) {
	tok, claims, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Nil(t, tok)
	assert.Nil(t, claims)
}

func TestLoad_MissingTokenField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"claims":{"sub":"x"}}`), 0o600))

	_, _, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing token field")
}

func TestLoad_CorruptJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

	_, _, err := Load(path)
	assert.Error(t, err)
}

func TestMergeClaims(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, Save(path, &oauth2.Token{AccessToken: "a"}, map[string]string{"sub": "u", "email": "old"}))

	require.NoError(t, MergeClaims(path, map[string]string{"email": "new"}))

	_, claims, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"sub": "u", "email": "new"}, claims)
}

func TestMergeClaims_NoFile(t *testing.T) {
	err := MergeClaims(filepath.Join(t.TempDir(), "missing.json"), map[string]string{"a": "b"})
	assert.Error(t, err)
}
