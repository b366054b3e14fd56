package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hyperengineering/watchsync/internal/model"
)

const timeFormat = time.RFC3339Nano

// replica_meta keys.
const (
	metaReplicaID  = "replica_id"
	metaLastSyncAt = "last_sync_at"
)

// kindTables maps managed entity kinds to their backing tables.
var kindTables = map[model.Kind]string{
	model.KindList:        "lists",
	model.KindEntry:       "entries",
	model.KindCatalogItem: "catalog_items",
	model.KindSubEntry:    "sub_entries",
	model.KindNote:        "notes",
}

// SQLiteStore is the SQLite-backed local store.
type SQLiteStore struct {
	db        *sql.DB
	exclusive chan struct{}
}

// NewSQLiteStore opens (or creates) the database at dbPath, applies
// pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single connection: the store serializes all access anyway, and a
	// shared pool would give :memory: databases one schema per conn.
	db.SetMaxOpenConns(1)

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{
		db:        db,
		exclusive: make(chan struct{}, 1),
	}, nil
}

// enablePragmas sets SQLite pragmas for performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AcquireExclusive takes the coarse store lock that serializes sync apply
// against UI-driven mutation. Not a database transaction: it guards the
// whole fetch→merge→apply window.
func (s *SQLiteStore) AcquireExclusive(ctx context.Context) (func(), error) {
	select {
	case s.exclusive <- struct{}{}:
		return func() { <-s.exclusive }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReplicaID returns the persisted replica identity, generating one on
// first call.
func (s *SQLiteStore) ReplicaID(ctx context.Context) (string, error) {
	id, err := s.getMeta(ctx, metaReplicaID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := s.setMeta(ctx, metaReplicaID, id); err != nil {
		return "", err
	}
	return id, nil
}

// LastSyncAt returns the completion time of the last successful cycle.
func (s *SQLiteStore) LastSyncAt(ctx context.Context) (*time.Time, error) {
	raw, err := s.getMeta(ctx, metaLastSyncAt)
	if err != nil || raw == "" {
		return nil, err
	}
	t, err := time.Parse(timeFormat, raw)
	if err != nil {
		return nil, fmt.Errorf("parse last sync time: %w", err)
	}
	return &t, nil
}

// SetLastSyncAt records the completion time of a successful cycle.
func (s *SQLiteStore) SetLastSyncAt(ctx context.Context, t time.Time) error {
	return s.setMeta(ctx, metaLastSyncAt, t.UTC().Format(timeFormat))
}

func (s *SQLiteStore) getMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM replica_meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read replica meta %q: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) setMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO replica_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("write replica meta %q: %w", key, err)
	}
	return nil
}

// PresentKinds introspects the schema and reports which managed kinds have
// a backing table.
func (s *SQLiteStore) PresentKinds(ctx context.Context) ([]model.Kind, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table'")
	if err != nil {
		return nil, fmt.Errorf("introspect schema: %w", err)
	}
	defer rows.Close()

	tables := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var present []model.Kind
	for _, kind := range model.Kinds {
		if tables[kindTables[kind]] {
			present = append(present, kind)
		}
	}
	return present, nil
}

// ReadGraph bulk-reads every managed collection.
func (s *SQLiteStore) ReadGraph(ctx context.Context) (*model.Collections, error) {
	c := &model.Collections{}
	var err error
	if c.Lists, err = s.readLists(ctx); err != nil {
		return nil, err
	}
	if c.Entries, err = s.readEntries(ctx); err != nil {
		return nil, err
	}
	if c.Items, err = s.readItems(ctx); err != nil {
		return nil, err
	}
	if c.SubEntries, err = s.readSubEntries(ctx); err != nil {
		return nil, err
	}
	if c.Notes, err = s.readNotes(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// ReplaceGraph replaces all managed collections inside a single immediate
// transaction: either the whole merged graph lands, or nothing changes.
func (s *SQLiteStore) ReplaceGraph(ctx context.Context, c *model.Collections) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"entries", "sub_entries", "notes", "lists", "catalog_items"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, l := range c.Lists {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO lists (id, name, order_key, created_at, updated_at, deleted_at, origin_replica)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, l.ID, l.Name, l.OrderKey, encodeTime(l.CreatedAt), encodeTime(l.UpdatedAt),
			encodeOptionalTime(l.DeletedAt), l.OriginReplica); err != nil {
			return fmt.Errorf("insert list %s: %w", l.ID, err)
		}
	}
	for _, item := range c.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO catalog_items (id, catalog_id, title, media_kind, year, watched, rating,
				favorite, season_cursor, episode_cursor, created_at, updated_at, deleted_at, origin_replica)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, item.ID, item.CatalogID, item.Title, string(item.MediaKind), item.Year, item.Watched,
			item.Rating, item.Favorite, item.SeasonCursor, item.EpisodeCursor,
			encodeTime(item.CreatedAt), encodeTime(item.UpdatedAt),
			encodeOptionalTime(item.DeletedAt), item.OriginReplica); err != nil {
			return fmt.Errorf("insert catalog item %s: %w", item.ID, err)
		}
	}
	for _, e := range c.Entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entries (id, list_id, item_id, order_key, created_at, updated_at, deleted_at, origin_replica)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ID, e.ListID, e.ItemID, e.OrderKey, encodeTime(e.CreatedAt), encodeTime(e.UpdatedAt),
			encodeOptionalTime(e.DeletedAt), e.OriginReplica); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
	}
	for _, se := range c.SubEntries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sub_entries (id, item_id, season, episode, watched, watched_at, created_at, updated_at, deleted_at, origin_replica)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, se.ID, se.ItemID, se.Season, se.Episode, se.Watched, encodeOptionalTime(se.WatchedAt),
			encodeTime(se.CreatedAt), encodeTime(se.UpdatedAt),
			encodeOptionalTime(se.DeletedAt), se.OriginReplica); err != nil {
			return fmt.Errorf("insert sub-entry %s: %w", se.ID, err)
		}
	}
	for _, n := range c.Notes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO notes (id, item_id, text, visibility, created_at, updated_at, deleted_at, origin_replica)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, n.ID, n.ItemID, n.Text, string(n.Visibility), encodeTime(n.CreatedAt),
			encodeTime(n.UpdatedAt), encodeOptionalTime(n.DeletedAt), n.OriginReplica); err != nil {
			return fmt.Errorf("insert note %s: %w", n.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit apply transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) readLists(ctx context.Context) ([]model.List, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, order_key, created_at, updated_at, deleted_at, origin_replica
		FROM lists ORDER BY order_key, id
	`)
	if err != nil {
		return nil, fmt.Errorf("read lists: %w", err)
	}
	defer rows.Close()

	var out []model.List
	for rows.Next() {
		var l model.List
		var created, updated string
		var deleted sql.NullString
		if err := rows.Scan(&l.ID, &l.Name, &l.OrderKey, &created, &updated, &deleted, &l.OriginReplica); err != nil {
			return nil, err
		}
		if err := decodeMetaTimes(&l.Meta, created, updated, deleted); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) readEntries(ctx context.Context) ([]model.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, list_id, item_id, order_key, created_at, updated_at, deleted_at, origin_replica
		FROM entries ORDER BY list_id, order_key, id
	`)
	if err != nil {
		return nil, fmt.Errorf("read entries: %w", err)
	}
	defer rows.Close()

	var out []model.Entry
	for rows.Next() {
		var e model.Entry
		var created, updated string
		var deleted sql.NullString
		if err := rows.Scan(&e.ID, &e.ListID, &e.ItemID, &e.OrderKey, &created, &updated, &deleted, &e.OriginReplica); err != nil {
			return nil, err
		}
		if err := decodeMetaTimes(&e.Meta, created, updated, deleted); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) readItems(ctx context.Context) ([]model.CatalogItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, catalog_id, title, media_kind, year, watched, rating, favorite,
			season_cursor, episode_cursor, created_at, updated_at, deleted_at, origin_replica
		FROM catalog_items ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("read catalog items: %w", err)
	}
	defer rows.Close()

	var out []model.CatalogItem
	for rows.Next() {
		var item model.CatalogItem
		var mediaKind, created, updated string
		var deleted sql.NullString
		if err := rows.Scan(&item.ID, &item.CatalogID, &item.Title, &mediaKind, &item.Year,
			&item.Watched, &item.Rating, &item.Favorite, &item.SeasonCursor, &item.EpisodeCursor,
			&created, &updated, &deleted, &item.OriginReplica); err != nil {
			return nil, err
		}
		item.MediaKind = model.MediaKind(mediaKind)
		if err := decodeMetaTimes(&item.Meta, created, updated, deleted); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) readSubEntries(ctx context.Context) ([]model.SubEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, season, episode, watched, watched_at, created_at, updated_at, deleted_at, origin_replica
		FROM sub_entries ORDER BY item_id, season, episode, id
	`)
	if err != nil {
		return nil, fmt.Errorf("read sub-entries: %w", err)
	}
	defer rows.Close()

	var out []model.SubEntry
	for rows.Next() {
		var se model.SubEntry
		var created, updated string
		var watchedAt, deleted sql.NullString
		if err := rows.Scan(&se.ID, &se.ItemID, &se.Season, &se.Episode, &se.Watched,
			&watchedAt, &created, &updated, &deleted, &se.OriginReplica); err != nil {
			return nil, err
		}
		if err := decodeMetaTimes(&se.Meta, created, updated, deleted); err != nil {
			return nil, err
		}
		if se.WatchedAt, err = decodeOptionalTime(watchedAt); err != nil {
			return nil, err
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) readNotes(ctx context.Context) ([]model.Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, text, visibility, created_at, updated_at, deleted_at, origin_replica
		FROM notes ORDER BY item_id, id
	`)
	if err != nil {
		return nil, fmt.Errorf("read notes: %w", err)
	}
	defer rows.Close()

	var out []model.Note
	for rows.Next() {
		var n model.Note
		var visibility, created, updated string
		var deleted sql.NullString
		if err := rows.Scan(&n.ID, &n.ItemID, &n.Text, &visibility, &created, &updated, &deleted, &n.OriginReplica); err != nil {
			return nil, err
		}
		n.Visibility = model.NoteVisibility(visibility)
		if err := decodeMetaTimes(&n.Meta, created, updated, deleted); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func encodeOptionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

// decodeMetaTimes is deliberately lenient: a malformed timestamp decodes
// to the zero value, which the integrity scanner's timestamp pass then
// fills. Rejecting the row here would make a repairable violation fatal.
func decodeMetaTimes(m *model.Meta, created, updated string, deleted sql.NullString) error {
	m.CreatedAt, _ = time.Parse(timeFormat, created)
	m.UpdatedAt, _ = time.Parse(timeFormat, updated)
	var err error
	m.DeletedAt, err = decodeOptionalTime(deleted)
	return err
}

func decodeOptionalTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeFormat, v.String)
	if err != nil {
		// Malformed optional timestamps degrade to absent.
		return nil, nil
	}
	return &t, nil
}
