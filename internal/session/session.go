// Package session wires the push channel, the state merger, and the local
// catalog cache together for one client session. The controller owns the
// single channel instance and passes it by reference to consumers, so no
// hidden global state exists and tests can substitute fakes.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/birdtagapp/birdtag-go/internal/api"
	"github.com/birdtagapp/birdtag-go/internal/catalog"
	"github.com/birdtagapp/birdtag-go/internal/creds"
	"github.com/birdtagapp/birdtag-go/internal/push"
)

// Lister fetches entity snapshots. Satisfied by api.Client.
type Lister interface {
	ListFiles(ctx context.Context) ([]api.Snapshot, error)
}

// Controller routes push events through the merger and keeps the catalog
// cache current. Push delivery is at-least-once and lossy across
// reconnects; the merger's idempotence absorbs the duplicates, and a
// listing resync after each reconnect closes the loss window.
type Controller struct {
	channel *push.Channel
	merger  *catalog.Merger
	store   *catalog.Store // nil = in-memory only
	lister  Lister
	logger  *slog.Logger

	resyncOnReconnect bool

	mu          sync.Mutex
	unsubscribe []func()
	wasLost     bool
}

// NewController creates a session controller. store may be nil to skip
// local persistence; lister may be nil to skip the initial fill and
// reconnect resync.
func NewController(
	channel *push.Channel,
	merger *catalog.Merger,
	store *catalog.Store,
	lister Lister,
	resyncOnReconnect bool,
	logger *slog.Logger,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		channel:           channel,
		merger:            merger,
		store:             store,
		lister:            lister,
		resyncOnReconnect: resyncOnReconnect,
		logger:            logger,
	}
}

// Channel exposes the owned push channel to consumers.
func (c *Controller) Channel() *push.Channel {
	return c.channel
}

// Merger exposes the entity collection.
func (c *Controller) Merger() *catalog.Merger {
	return c.merger
}

// Start performs the initial listing fill, subscribes to the channel, and
// opens it with the given credential. The filter narrows push delivery to
// one resource ID when non-empty.
func (c *Controller) Start(ctx context.Context, cred *creds.Credential, filter string) error {
	if err := c.fillFromListing(ctx); err != nil {
		// A failed initial fill is not fatal: events still arrive, and the
		// next resync retries the listing.
		c.logger.Warn("initial listing fetch failed", slog.String("error", err.Error()))
	}

	unsubEvents := c.channel.Subscribe(c.onEvent)
	unsubStatus := c.channel.SubscribeStatus(c.onStatus)

	c.mu.Lock()
	c.unsubscribe = append(c.unsubscribe, unsubEvents, unsubStatus)
	c.mu.Unlock()

	return c.channel.Connect(ctx, cred, filter)
}

// Stop tears the session down: unsubscribes and disconnects the channel.
func (c *Controller) Stop() {
	c.mu.Lock()
	unsubs := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}

	c.channel.Disconnect()
}

// onEvent merges a push event and persists the result.
func (c *Controller) onEvent(ev push.Event) {
	if ev.Type != push.EventTypeFileUpdate {
		c.logger.Debug("ignoring push event", slog.String("type", ev.Type))
		return
	}

	entity := c.merger.Apply(ev)
	c.persist(entity)
}

// onStatus watches for reconnects. A connected transition after a loss
// triggers a listing resync, because events sent while the client was
// mid-reconnect are not replayed by the server.
func (c *Controller) onStatus(state push.State) {
	switch state.Status {
	case push.StatusConnected:
		c.mu.Lock()
		lost := c.wasLost
		c.wasLost = false
		c.mu.Unlock()

		if lost && c.resyncOnReconnect {
			c.logger.Info("resyncing catalog after reconnect")

			if err := c.fillFromListing(context.Background()); err != nil {
				c.logger.Warn("reconnect resync failed", slog.String("error", err.Error()))
			}
		}
	case push.StatusConnecting:
		// Attempt zero is the initial connect; anything higher is a
		// reconnect in progress.
		if state.ReconnectAttempt > 0 {
			c.mu.Lock()
			c.wasLost = true
			c.mu.Unlock()
		}
	case push.StatusDisconnected, push.StatusClosing:
	}
}

// fillFromListing merges a full listing fetch into the collection.
func (c *Controller) fillFromListing(ctx context.Context) error {
	if c.lister == nil {
		return nil
	}

	snaps, err := c.lister.ListFiles(ctx)
	if err != nil {
		return err
	}

	for _, snap := range snaps {
		entity := c.merger.ApplySnapshot(snap)
		c.persist(entity)
	}

	c.logger.Debug("listing merged", slog.Int("count", len(snaps)))

	return nil
}

// persist writes an entity to the cache, logging on failure. Cache writes
// never fail the merge itself.
func (c *Controller) persist(entity catalog.Entity) {
	if c.store == nil {
		return
	}

	if err := c.store.Upsert(context.Background(), entity); err != nil {
		c.logger.Warn("catalog cache write failed",
			slog.String("file_id", entity.FileID),
			slog.String("error", err.Error()),
		)
	}
}
