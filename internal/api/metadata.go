package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// Snapshot is an entity snapshot as returned by the metadata endpoints.
// Tags map species name to sighting count.
type Snapshot struct {
	FileID       string         `json:"file_id"`
	FileType     string         `json:"file_type"`
	S3URL        string         `json:"s3_url,omitempty"`
	ThumbnailURL string         `json:"thumbnail_url,omitempty"`
	Tags         map[string]int `json:"tags,omitempty"`
	UploadedAt   string         `json:"upload_timestamp,omitempty"`
}

// FetchMetadata retrieves the entity snapshot for a single file.
func (c *Client) FetchMetadata(ctx context.Context, fileID string) (*Snapshot, error) {
	c.logger.Debug("fetching metadata", slog.String("file_id", fileID))

	resp, err := c.Do(ctx, http.MethodGet, "/metadata/"+url.PathEscape(fileID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var snap Snapshot
	if decErr := json.NewDecoder(resp.Body).Decode(&snap); decErr != nil {
		return nil, fmt.Errorf("api: decoding metadata for %s: %w", fileID, decErr)
	}

	return &snap, nil
}

// listResponse is the GET /files body.
type listResponse struct {
	Files []Snapshot `json:"files"`
}

// ListFiles retrieves snapshots of all the caller's files. Used for the
// initial catalog fill and for resync after a push channel reconnect.
func (c *Client) ListFiles(ctx context.Context) ([]Snapshot, error) {
	c.logger.Debug("listing files")

	resp, err := c.Do(ctx, http.MethodGet, "/files", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var list listResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&list); decErr != nil {
		return nil, fmt.Errorf("api: decoding file listing: %w", decErr)
	}

	c.logger.Debug("file listing fetched", slog.Int("count", len(list.Files)))

	return list.Files, nil
}
