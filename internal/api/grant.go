package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Grant is a short-lived write authorization: a presigned URL permitting a
// direct PUT to storage without routing bytes through the backend.
type Grant struct {
	FileID     string `json:"file_id"`
	UploadURL  string `json:"presign_url"`
	StorageKey string `json:"s3_key"`
}

// grantRequest is the POST /upload-file body.
type grantRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

// RequestGrant asks the backend to issue an upload grant for a file.
// Any non-success response yields a GrantError — a refused or failed grant
// is never retried with the same request; callers must ask for a fresh one.
func (c *Client) RequestGrant(ctx context.Context, filename, contentType string) (*Grant, error) {
	c.logger.Info("requesting upload grant",
		slog.String("filename", filename),
		slog.String("content_type", contentType),
	)

	body, err := json.Marshal(grantRequest{Filename: filename, ContentType: contentType})
	if err != nil {
		return nil, fmt.Errorf("api: marshaling grant request: %w", err)
	}

	// Single shot, no retry loop: a grant is single-use state on the server,
	// so a failed issuance is surfaced rather than replayed.
	resp, err := c.doOnce(ctx, http.MethodPost, c.baseURL+"/upload-file", bytes.NewReader(body))
	if err != nil {
		return nil, &GrantError{Filename: filename, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body) //nolint:errcheck // best-effort read for error message

		return nil, &GrantError{Filename: filename, Err: &APIError{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get("x-amzn-requestid"),
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}}
	}

	var grant Grant
	if decErr := json.NewDecoder(resp.Body).Decode(&grant); decErr != nil {
		return nil, &GrantError{Filename: filename, Err: fmt.Errorf("decoding grant response: %w", decErr)}
	}

	if grant.UploadURL == "" {
		return nil, &GrantError{Filename: filename, Err: fmt.Errorf("grant response missing presign_url")}
	}

	c.logger.Debug("upload grant issued",
		slog.String("file_id", grant.FileID),
		slog.String("s3_key", grant.StorageKey),
	)

	return &grant, nil
}
