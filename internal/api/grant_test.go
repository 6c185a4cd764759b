package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/upload-file", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req struct {
			Filename    string `json:"filename"`
			ContentType string `json:"content_type"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "bird.jpg", req.Filename)
		assert.Equal(t, "image/jpeg", req.ContentType)

		_ = json.NewEncoder(w).Encode(map[string]string{
			"file_id":     "f-001",
			"presign_url": "https://store/f-001",
			"s3_key":      "uploads/f-001",
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	grant, err := client.RequestGrant(context.Background(), "bird.jpg", "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "f-001", grant.FileID)
	assert.Equal(t, "https://store/f-001", grant.UploadURL)
	assert.Equal(t, "uploads/f-001", grant.StorageKey)
}

func TestRequestGrant_Refused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"quota exceeded"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.RequestGrant(context.Background(), "bird.jpg", "image/jpeg")
	require.Error(t, err)

	var grantErr *GrantError
	require.ErrorAs(t, err, &grantErr)
	assert.Equal(t, "bird.jpg", grantErr.Filename)
	assert.ErrorIs(t, err, ErrForbidden)
}

// A grant request is single-shot: even a 5xx must not be replayed, because
// the backend may have already created server-side state for it.
func TestRequestGrant_NoRetryOnServerError(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.RequestGrant(context.Background(), "bird.jpg", "image/jpeg")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRequestGrant_MissingPresignURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"file_id": "f-002"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.RequestGrant(context.Background(), "bird.jpg", "image/jpeg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "presign_url")
}

func TestFetchMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/metadata/f-001", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"file_id":          "f-001",
			"file_type":        "image",
			"thumbnail_url":    "https://cdn/thumb/f-001.jpg",
			"tags":             map[string]int{"crow": 2},
			"upload_timestamp": "2025-06-01T12:00:00Z",
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	snap, err := client.FetchMetadata(context.Background(), "f-001")
	require.NoError(t, err)
	assert.Equal(t, "f-001", snap.FileID)
	assert.Equal(t, "image", snap.FileType)
	assert.Equal(t, map[string]int{"crow": 2}, snap.Tags)
}

func TestListFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/files", r.URL.Path)
		_, _ = w.Write([]byte(`{"files":[{"file_id":"f-1","file_type":"image"},{"file_id":"f-2","file_type":"audio"}]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	snaps, err := client.ListFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "f-1", snaps[0].FileID)
	assert.Equal(t, "audio", snaps[1].FileType)
}

func TestListFiles_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"files":[]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	snaps, err := client.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snaps)
}
