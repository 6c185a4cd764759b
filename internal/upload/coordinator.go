package upload

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/birdtagapp/birdtag-go/internal/api"
)

// Defaults for coordinator options.
const (
	defaultTransferTimeout = 10 * time.Minute
	defaultParallelUploads = 3
	defaultCleanupGrace    = 30 * time.Second
)

// Granter issues upload grants. Satisfied by api.Client; tests substitute
// a fake.
type Granter interface {
	RequestGrant(ctx context.Context, filename, contentType string) (*api.Grant, error)
}

// Options configures a Coordinator.
type Options struct {
	// TransferTimeout bounds a single byte transfer. Storage-side stalls
	// beyond this are canceled rather than hanging the task forever.
	TransferTimeout time.Duration
	// ParallelUploads bounds how many transfers run concurrently.
	ParallelUploads int
	// CleanupGrace is how long a completed task stays visible before it is
	// removed from the queue. Failed tasks are retained indefinitely.
	CleanupGrace time.Duration
}

func (o Options) withDefaults() Options {
	if o.TransferTimeout <= 0 {
		o.TransferTimeout = defaultTransferTimeout
	}

	if o.ParallelUploads <= 0 {
		o.ParallelUploads = defaultParallelUploads
	}

	if o.CleanupGrace <= 0 {
		o.CleanupGrace = defaultCleanupGrace
	}

	return o
}

// Coordinator orchestrates the per-file pipeline: grant → transfer → await
// external completion. Processing completion is reported only via push
// events; the coordinator never polls for it.
type Coordinator struct {
	granter Granter
	storage *http.Client
	reg     *registry
	opts    Options
	logger  *slog.Logger

	// cleanupAfter schedules completed-task removal. Tests override it to
	// run synchronously.
	cleanupAfter func(d time.Duration, fn func())
}

// NewCoordinator creates a Coordinator. storage may be nil, in which case
// http.DefaultClient transfers the bytes.
func NewCoordinator(granter Granter, storage *http.Client, opts Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	if storage == nil {
		storage = http.DefaultClient
	}

	return &Coordinator{
		granter: granter,
		storage: storage,
		reg:     newRegistry(),
		opts:    opts.withDefaults(),
		logger:  logger,
		cleanupAfter: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
}

// Enqueue registers a pending task for a local file and returns its ID.
// The filename is NFC-normalized so the backend sees one canonical form
// regardless of how the local filesystem encodes it.
func (c *Coordinator) Enqueue(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("upload: stat %s: %w", path, err)
	}

	name := norm.NFC.String(filepath.Base(path))

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	task := Task{
		ID:          uuid.NewString(),
		Name:        name,
		ContentType: contentType,
		SizeBytes:   info.Size(),
		Status:      StatusPending,
	}

	c.reg.add(task)

	c.logger.Info("task enqueued",
		slog.String("task_id", task.ID),
		slog.String("name", name),
		slog.String("content_type", contentType),
		slog.Int64("size", info.Size()),
	)

	return task.ID, nil
}

// Run executes the pipeline for an enqueued task: pending → (grant ok) →
// uploading → (transfer ok) → completed. Any failure at either step
// transitions directly to failed. path is the local file to read.
func (c *Coordinator) Run(ctx context.Context, taskID, path string) error {
	task, ok := c.reg.get(taskID)
	if !ok {
		return fmt.Errorf("upload: unknown task %s", taskID)
	}

	grant, err := c.granter.RequestGrant(ctx, task.Name, task.ContentType)
	if err != nil {
		c.fail(taskID, err)

		return err
	}

	_, err = c.reg.update(taskID, func(t *Task) {
		t.Status = StatusUploading
		t.FileID = grant.FileID
		t.StorageKey = grant.StorageKey
		t.StartedAt = time.Now()
	})
	if err != nil {
		return err
	}

	if err := c.transferFile(ctx, taskID, path, grant, task.ContentType); err != nil {
		c.fail(taskID, err)

		return err
	}

	c.complete(taskID)

	return nil
}

// Upload is Enqueue followed by Run.
func (c *Coordinator) Upload(ctx context.Context, path string) (string, error) {
	taskID, err := c.Enqueue(path)
	if err != nil {
		return "", err
	}

	return taskID, c.Run(ctx, taskID, path)
}

// UploadAll uploads the given paths with bounded parallelism. The first
// error is returned after all in-flight transfers finish; per-task failures
// are also recorded on the tasks themselves.
func (c *Coordinator) UploadAll(ctx context.Context, paths []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.ParallelUploads)

	for _, path := range paths {
		g.Go(func() error {
			_, err := c.Upload(ctx, path)
			return err
		})
	}

	return g.Wait()
}

// transferFile streams the file to storage under the transfer timeout,
// recording progress on the task.
func (c *Coordinator) transferFile(ctx context.Context, taskID, path string, grant *api.Grant, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return &TransferError{URL: grant.UploadURL, Err: fmt.Errorf("opening %s: %w", path, err)}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &TransferError{URL: grant.UploadURL, Err: fmt.Errorf("stat %s: %w", path, err)}
	}

	tctx, cancel := context.WithTimeout(ctx, c.opts.TransferTimeout)
	defer cancel()

	onProgress := func(pct int) {
		_, _ = c.reg.update(taskID, func(t *Task) { //nolint:errcheck // progress on a raced-terminal task is dropped
			t.Progress = pct
		})
	}

	return Transfer(tctx, c.storage, grant.UploadURL, contentType, f, info.Size(), onProgress, c.logger)
}

// complete marks a task completed and schedules its removal after the
// grace period.
func (c *Coordinator) complete(taskID string) {
	task, err := c.reg.update(taskID, func(t *Task) {
		t.Status = StatusCompleted
		t.Progress = 100
		t.FinishedAt = time.Now()
	})
	if err != nil {
		return
	}

	c.logger.Info("upload complete",
		slog.String("task_id", taskID),
		slog.String("file_id", task.FileID),
	)

	c.cleanupAfter(c.opts.CleanupGrace, func() {
		c.reg.remove(taskID)
	})
}

// fail marks a task failed. Failed tasks are retained for inspection.
func (c *Coordinator) fail(taskID string, cause error) {
	_, err := c.reg.update(taskID, func(t *Task) {
		t.Status = StatusFailed
		t.Err = cause
		t.FinishedAt = time.Now()
	})
	if err != nil {
		return
	}

	c.logger.Warn("upload failed",
		slog.String("task_id", taskID),
		slog.String("error", cause.Error()),
	)
}

// Task returns a copy of the task with the given ID.
func (c *Coordinator) Task(taskID string) (Task, bool) {
	return c.reg.get(taskID)
}

// Tasks returns copies of all tracked tasks in insertion order.
func (c *Coordinator) Tasks() []Task {
	return c.reg.list()
}
