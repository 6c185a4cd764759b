package catalog

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// walJournalSizeLimit caps the WAL journal at 64 MiB.
const walJournalSizeLimit = 67108864

// Store persists the entity catalog to an embedded SQLite database so
// listings work offline and resync after reconnect can diff locally.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	upsertStmt *sql.Stmt
	getStmt    *sql.Stmt
	listStmt   *sql.Stmt
}

// NewStore opens the catalog database at dbPath, applying migrations.
// Use ":memory:" for tests.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening catalog database", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("catalog: open sqlite: %w", err)
	}

	if err := setPragmas(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepareStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: prepare statements: %w", err)
	}

	return s, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("catalog: set pragma %q: %w", p, err)
		}
	}

	return nil
}

// runMigrations applies all pending schema migrations using the goose v3
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("catalog: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("catalog: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("catalog: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

func (s *Store) prepareStatements(ctx context.Context) error {
	var err error

	s.upsertStmt, err = s.db.PrepareContext(ctx, `
		INSERT INTO entities (file_id, kind, thumbnail_url, tags, attributes, uploaded_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET
			kind = excluded.kind,
			thumbnail_url = excluded.thumbnail_url,
			tags = excluded.tags,
			attributes = excluded.attributes,
			uploaded_at = excluded.uploaded_at,
			last_updated_at = excluded.last_updated_at`)
	if err != nil {
		return err
	}

	s.getStmt, err = s.db.PrepareContext(ctx, `
		SELECT file_id, kind, thumbnail_url, tags, attributes, uploaded_at, last_updated_at
		FROM entities WHERE file_id = ?`)
	if err != nil {
		return err
	}

	s.listStmt, err = s.db.PrepareContext(ctx, `
		SELECT file_id, kind, thumbnail_url, tags, attributes, uploaded_at, last_updated_at
		FROM entities ORDER BY uploaded_at DESC, file_id`)

	return err
}

// Upsert writes an entity to the cache.
func (s *Store) Upsert(ctx context.Context, e Entity) error {
	tags, err := json.Marshal(orEmptyTags(e.Tags))
	if err != nil {
		return fmt.Errorf("catalog: encoding tags for %s: %w", e.FileID, err)
	}

	attrs, err := json.Marshal(orEmptyAttrs(e.Attributes))
	if err != nil {
		return fmt.Errorf("catalog: encoding attributes for %s: %w", e.FileID, err)
	}

	_, err = s.upsertStmt.ExecContext(ctx,
		e.FileID, e.Kind, e.ThumbnailURL, string(tags), string(attrs),
		e.UploadedAt, e.LastUpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("catalog: upserting %s: %w", e.FileID, err)
	}

	return nil
}

// Get reads one entity from the cache.
func (s *Store) Get(ctx context.Context, fileID string) (*Entity, error) {
	row := s.getStmt.QueryRowContext(ctx, fileID)

	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("catalog: reading %s: %w", fileID, err)
	}

	return e, nil
}

// List reads all cached entities, newest upload first.
func (s *Store) List(ctx context.Context) ([]Entity, error) {
	rows, err := s.listStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: listing entities: %w", err)
	}
	defer rows.Close()

	var out []Entity

	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scanning entity: %w", err)
		}

		out = append(out, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterating entities: %w", err)
	}

	return out, nil
}

// Close releases the prepared statements and the database handle.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{s.upsertStmt, s.getStmt, s.listStmt} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}

	return s.db.Close()
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(sc scanner) (*Entity, error) {
	var (
		e         Entity
		tags      string
		attrs     string
		updatedNs int64
	)

	if err := sc.Scan(&e.FileID, &e.Kind, &e.ThumbnailURL, &tags, &attrs, &e.UploadedAt, &updatedNs); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}

	if err := json.Unmarshal([]byte(attrs), &e.Attributes); err != nil {
		return nil, fmt.Errorf("decoding attributes: %w", err)
	}

	if len(e.Tags) == 0 {
		e.Tags = nil
	}

	if len(e.Attributes) == 0 {
		e.Attributes = nil
	}

	e.LastUpdatedAt = time.Unix(0, updatedNs)

	return &e, nil
}

func orEmptyTags(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}

	return m
}

func orEmptyAttrs(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}

	return m
}
