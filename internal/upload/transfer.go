package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// TransferError reports a failed byte transfer to storage. Task-scoped:
// it marks the one task failed and is never fatal app-wide.
type TransferError struct {
	URL        string
	StatusCode int // 0 for network-level failures
	Err        error
}

func (e *TransferError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upload: transfer to %s failed with status %d: %v", e.URL, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("upload: transfer to %s failed: %v", e.URL, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// ProgressFunc receives percentage values in [0,100]. Called at least once
// per chunk boundary; values are monotone non-decreasing.
type ProgressFunc func(percent int)

// progressReader wraps a reader and reports percent progress as bytes are
// consumed by the HTTP transport.
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	lastPct  int
	progress ProgressFunc
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.read += int64(n)

	if p.progress != nil && p.total > 0 {
		pct := int(p.read * 100 / p.total)
		if pct > 100 {
			pct = 100
		}

		if pct > p.lastPct {
			p.lastPct = pct
			p.progress(pct)
		}
	}

	return n, err
}

// Transfer PUTs raw bytes to the presigned storage URL. The Content-Type
// header must match what the grant was issued for, or storage rejects the
// signature. The URL is pre-authenticated, so no Authorization header is
// sent. Not retried: a partially consumed reader cannot be safely replayed.
func Transfer(
	ctx context.Context,
	httpClient *http.Client,
	uploadURL, contentType string,
	body io.Reader,
	size int64,
	onProgress ProgressFunc,
	logger *slog.Logger,
) error {
	if onProgress != nil {
		onProgress(0)
	}

	pr := &progressReader{r: body, total: size, progress: onProgress}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, pr)
	if err != nil {
		return &TransferError{URL: uploadURL, Err: fmt.Errorf("creating request: %w", err)}
	}

	req.Header.Set("Content-Type", contentType)
	req.ContentLength = size

	resp, err := httpClient.Do(req)
	if err != nil {
		logger.Error("transfer request failed",
			slog.String("url", uploadURL),
			slog.String("error", err.Error()),
		)

		return &TransferError{URL: uploadURL, Err: err}
	}
	defer resp.Body.Close()

	// Drain body to reuse the connection.
	if _, drainErr := io.Copy(io.Discard, resp.Body); drainErr != nil {
		return &TransferError{URL: uploadURL, Err: fmt.Errorf("draining response body: %w", drainErr)}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		logger.Error("storage rejected transfer",
			slog.String("url", uploadURL),
			slog.Int("status", resp.StatusCode),
		)

		return &TransferError{
			URL:        uploadURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("non-success status from storage"),
		}
	}

	if onProgress != nil {
		onProgress(100)
	}

	logger.Debug("transfer complete",
		slog.String("url", uploadURL),
		slog.Int64("size", size),
	)

	return nil
}
