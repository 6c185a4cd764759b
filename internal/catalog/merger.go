// Package catalog tracks the entities the backend knows about: uploaded
// files whose thumbnails and species tags are populated asynchronously.
// The merger applies completion events idempotently, which offsets the push
// channel's at-least-once delivery; the store caches entities locally so
// listings work offline and reconnect resyncs diff cheaply.
package catalog

import (
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/birdtagapp/birdtag-go/internal/api"
	"github.com/birdtagapp/birdtag-go/internal/push"
)

// Entity is a tracked file-like resource. Keyed uniquely by FileID; created
// on the first completion event or listing fetch, mutated only by the
// merger, never deleted here.
type Entity struct {
	FileID        string
	Kind          string // image, video, audio, unknown
	ThumbnailURL  string
	Tags          map[string]int // species name → sighting count
	Attributes    map[string]string
	UploadedAt    string
	LastUpdatedAt time.Time
}

// clone returns a deep copy so callers can never mutate merger state.
func (e Entity) clone() Entity {
	out := e
	out.Tags = maps.Clone(e.Tags)
	out.Attributes = maps.Clone(e.Attributes)

	return out
}

// equal reports whether two entities carry the same data, ignoring
// LastUpdatedAt.
func (e Entity) equal(other Entity) bool {
	return e.FileID == other.FileID &&
		e.Kind == other.Kind &&
		e.ThumbnailURL == other.ThumbnailURL &&
		e.UploadedAt == other.UploadedAt &&
		maps.Equal(e.Tags, other.Tags) &&
		maps.Equal(e.Attributes, other.Attributes)
}

// Merger applies inbound completion events to the tracked entity
// collection. Merging is field-by-field last-write-wins: fields the event
// does not specify stay untouched, and re-applying an identical event
// leaves the entity unchanged.
type Merger struct {
	mu       sync.Mutex
	entities map[string]Entity
	logger   *slog.Logger

	// now is the clock for LastUpdatedAt; tests override it.
	now func() time.Time
}

// NewMerger creates an empty merger.
func NewMerger(logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}

	return &Merger{
		entities: make(map[string]Entity),
		logger:   logger,
		now:      time.Now,
	}
}

// Apply merges a push event into the collection and returns the resulting
// entity. Unseen FileIDs insert a new entity; seen ones merge
// last-write-wins per field. LastUpdatedAt only advances when the merge
// actually changed something, so duplicate deliveries are true no-ops.
func (m *Merger) Apply(ev push.Event) Entity {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, seen := m.entities[ev.FileID]
	merged := current

	if !seen {
		merged = Entity{FileID: ev.FileID}
	}

	if ev.FileType != "" {
		merged.Kind = ev.FileType
	}

	if ev.ThumbnailURL != "" {
		merged.ThumbnailURL = ev.ThumbnailURL
	}

	if ev.UploadedAt != "" {
		merged.UploadedAt = ev.UploadedAt
	}

	if ev.Tags != nil {
		merged.Tags = maps.Clone(ev.Tags)
	}

	if seen && merged.equal(current) {
		return current.clone()
	}

	merged.LastUpdatedAt = m.now()
	m.entities[ev.FileID] = merged

	m.logger.Debug("entity merged",
		slog.String("file_id", ev.FileID),
		slog.Bool("inserted", !seen),
		slog.Int("tags", len(merged.Tags)),
	)

	return merged.clone()
}

// ApplySnapshot merges a listing snapshot the same way Apply merges an
// event. Used for the initial fill and for resync after a reconnect.
func (m *Merger) ApplySnapshot(snap api.Snapshot) Entity {
	return m.Apply(push.Event{
		Type:         push.EventTypeFileUpdate,
		FileID:       snap.FileID,
		FileType:     snap.FileType,
		ThumbnailURL: snap.ThumbnailURL,
		Tags:         snap.Tags,
		UploadedAt:   snap.UploadedAt,
	})
}

// Get returns a copy of the entity with the given FileID.
func (m *Merger) Get(fileID string) (Entity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entities[fileID]
	if !ok {
		return Entity{}, false
	}

	return e.clone(), true
}

// All returns copies of every tracked entity.
func (m *Merger) All() []Entity {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, e.clone())
	}

	return out
}

// Len returns the number of tracked entities.
func (m *Merger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entities)
}
