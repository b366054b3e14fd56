// Package model defines the synchronized entity kinds and their
// last-writer-wins metadata. Every entity carries the same Meta block;
// conflict resolution and repair operate on Meta alone, never on
// kind-specific fields.
package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind identifies one synchronized entity collection.
type Kind string

const (
	KindList        Kind = "list"
	KindEntry       Kind = "entry"
	KindCatalogItem Kind = "catalog_item"
	KindSubEntry    Kind = "sub_entry"
	KindNote        Kind = "note"
)

// Kinds lists every managed entity kind. The local store replaces exactly
// these collections on apply; an absent collection is a fatal schema
// mismatch, not an empty one.
var Kinds = []Kind{KindList, KindEntry, KindCatalogItem, KindSubEntry, KindNote}

// Meta is the common last-writer-wins metadata block.
//
// IDs are opaque, assigned once at creation and never reused. DeletedAt is
// the tombstone marker: a deleted entity keeps its record so the deletion
// propagates to other replicas.
type Meta struct {
	ID            string     `json:"id"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
	OriginReplica string     `json:"origin_replica"`
}

// Deleted reports whether the entity is a tombstone.
func (m *Meta) Deleted() bool {
	return m.DeletedAt != nil
}

// Supersedes decides the winner between two same-id records:
//   - exactly one tombstoned: the tombstone wins iff its DeletedAt is
//     strictly greater than the live record's UpdatedAt — a later live
//     edit resurrects a deletion;
//   - both tombstoned: later DeletedAt wins;
//   - both live: later UpdatedAt wins;
//   - equal timestamps: lexicographically smaller OriginReplica wins,
//     which is deterministic and independent of wall-clock skew.
//
// The ordering is total, so resolution commutes and associates however
// records meet.
func (m Meta) Supersedes(o Meta) bool {
	switch {
	case m.Deleted() && o.Deleted():
		if !m.DeletedAt.Equal(*o.DeletedAt) {
			return m.DeletedAt.After(*o.DeletedAt)
		}
		return m.OriginReplica <= o.OriginReplica
	case m.Deleted():
		return m.DeletedAt.After(o.UpdatedAt)
	case o.Deleted():
		return !o.DeletedAt.After(m.UpdatedAt)
	default:
		if !m.UpdatedAt.Equal(o.UpdatedAt) {
			return m.UpdatedAt.After(o.UpdatedAt)
		}
		return m.OriginReplica <= o.OriginReplica
	}
}

// Touch records a local mutation: UpdatedAt and OriginReplica move to the
// writing replica's now.
func (m *Meta) Touch(now time.Time, replica string) {
	m.UpdatedAt = now
	m.OriginReplica = replica
}

// MarkDeleted turns the entity into a tombstone. DeletedAt never precedes
// UpdatedAt at the moment of deletion.
func (m *Meta) MarkDeleted(now time.Time, replica string) {
	if now.Before(m.UpdatedAt) {
		now = m.UpdatedAt
	}
	t := now
	m.DeletedAt = &t
	m.OriginReplica = replica
}

// NewMeta returns metadata for a freshly created entity.
func NewMeta(now time.Time, replica string) Meta {
	return Meta{
		ID:            NewID(),
		CreatedAt:     now,
		UpdatedAt:     now,
		OriginReplica: replica,
	}
}

// NewID returns a fresh entity id. ULIDs sort by creation time, which keeps
// store scans roughly chronological, but nothing in the sync layer depends
// on that property.
func NewID() string {
	return ulid.Make().String()
}

// MediaKind classifies a catalog item.
type MediaKind string

const (
	MediaMovie MediaKind = "movie"
	MediaShow  MediaKind = "show"
)

// List is a user-defined watch list. It exclusively owns its Entries.
type List struct {
	Meta
	Name     string  `json:"name"`
	OrderKey float64 `json:"order_key"`
	Entries  []Entry `json:"entries"`
}

// Entry places one catalog item on one list. The item subtree travels with
// the entry in snapshots; the same item id appearing under two entries is
// consolidated by id on apply.
type Entry struct {
	Meta
	ListID   string       `json:"list_id"`
	ItemID   string       `json:"item_id"`
	OrderKey float64      `json:"order_key"`
	Item     *CatalogItem `json:"item,omitempty"`
}

// CatalogItem is a movie or show together with the user's mutable state.
// It owns its SubEntries (episodes) and Notes.
type CatalogItem struct {
	Meta
	// CatalogID is the numeric id in the external catalog the item was
	// looked up from; zero for manually created items.
	CatalogID     int        `json:"catalog_id,omitempty"`
	Title         string     `json:"title"`
	MediaKind     MediaKind  `json:"media_kind"`
	Year          int        `json:"year,omitempty"`
	Watched       bool       `json:"watched"`
	Rating        int        `json:"rating,omitempty"`
	Favorite      bool       `json:"favorite"`
	SeasonCursor  int        `json:"season_cursor,omitempty"`
	EpisodeCursor int        `json:"episode_cursor,omitempty"`
	SubEntries    []SubEntry `json:"sub_entries"`
	Notes         []Note     `json:"notes"`
}

// SubEntry is a single episode's watch state.
type SubEntry struct {
	Meta
	ItemID    string     `json:"item_id"`
	Season    int        `json:"season"`
	Episode   int        `json:"episode"`
	Watched   bool       `json:"watched"`
	WatchedAt *time.Time `json:"watched_at,omitempty"`
}

// NoteVisibility controls whether a note syncs as shared or stays private
// to the authoring user across their devices.
type NoteVisibility string

const (
	NotePrivate NoteVisibility = "private"
	NoteShared  NoteVisibility = "shared"
)

// Note is free text attached to a catalog item.
type Note struct {
	Meta
	ItemID     string         `json:"item_id"`
	Text       string         `json:"text"`
	Visibility NoteVisibility `json:"visibility"`
}
