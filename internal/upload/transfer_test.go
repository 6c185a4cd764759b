package upload

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTransfer_Success(t *testing.T) {
	var gotBody []byte

	var gotContentType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	data := []byte("fake jpeg bytes")

	var progress []int

	err := Transfer(context.Background(), http.DefaultClient, srv.URL, "image/jpeg",
		bytes.NewReader(data), int64(len(data)),
		func(pct int) { progress = append(progress, pct) }, testLogger())
	require.NoError(t, err)

	assert.Equal(t, data, gotBody)
	assert.Equal(t, "image/jpeg", gotContentType)

	// Progress starts at 0, ends at 100, and never decreases.
	require.NotEmpty(t, progress)
	assert.Equal(t, 0, progress[0])
	assert.Equal(t, 100, progress[len(progress)-1])

	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
	}
}

func TestTransfer_StorageRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := Transfer(context.Background(), http.DefaultClient, srv.URL, "image/jpeg",
		strings.NewReader("x"), 1, nil, testLogger())
	require.Error(t, err)

	var terr *TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusForbidden, terr.StatusCode)
}

func TestTransfer_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused

	err := Transfer(context.Background(), http.DefaultClient, srv.URL, "image/jpeg",
		strings.NewReader("x"), 1, nil, testLogger())
	require.Error(t, err)

	var terr *TransferError
	require.ErrorAs(t, err, &terr)
	assert.Zero(t, terr.StatusCode)
}

func TestProgressReader_ChunkedMilestones(t *testing.T) {
	var reported []int

	pr := &progressReader{
		r:        bytes.NewReader(make([]byte, 100)),
		total:    100,
		progress: func(pct int) { reported = append(reported, pct) },
	}

	buf := make([]byte, 50)
	for {
		if _, err := pr.Read(buf); err != nil {
			break
		}
	}

	assert.Equal(t, []int{50, 100}, reported)
}

func TestProgressReader_CapsAtHundred(t *testing.T) {
	var last int

	// Declared size smaller than actual bytes: percent must not exceed 100.
	pr := &progressReader{
		r:        bytes.NewReader(make([]byte, 30)),
		total:    10,
		progress: func(pct int) { last = pct },
	}

	_, _ = io.Copy(io.Discard, pr)
	assert.Equal(t, 100, last)
}
