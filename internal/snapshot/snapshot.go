// Package snapshot serializes the full entity graph to a transport-neutral
// wire form and back. A snapshot is self-contained: everything a replica
// knows, including tombstones, in one document. The content checksum covers
// a canonical serialization of the lists only, so identical data produced
// at different times or by different replicas compares equal.
package snapshot

import (
	"time"

	"github.com/hyperengineering/watchsync/internal/model"
)

// FormatVersion is the current wire format version. Version 1 snapshots
// predate the content checksum and are decoded leniently.
const FormatVersion = 2

// Snapshot is the wire envelope around the entity graph.
type Snapshot struct {
	Version         int          `json:"version"`
	ProducedAt      time.Time    `json:"produced_at"`
	OriginReplica   string       `json:"origin_replica"`
	Lists           []model.List `json:"lists"`
	ContentChecksum string       `json:"content_checksum,omitempty"`
}

// New wraps lists in a current-format envelope with a computed checksum.
func New(lists []model.List, producedAt time.Time, originReplica string) *Snapshot {
	return &Snapshot{
		Version:         FormatVersion,
		ProducedAt:      producedAt,
		OriginReplica:   originReplica,
		Lists:           lists,
		ContentChecksum: Checksum(lists),
	}
}

// Clone returns a deep copy. Merge treats its inputs as immutable; callers
// that need to mutate a snapshot work on a clone.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Version:         s.Version,
		ProducedAt:      s.ProducedAt,
		OriginReplica:   s.OriginReplica,
		ContentChecksum: s.ContentChecksum,
		Lists:           CloneLists(s.Lists),
	}
	return out
}

// CloneLists deep-copies a list tree.
func CloneLists(lists []model.List) []model.List {
	if lists == nil {
		return nil
	}
	out := make([]model.List, len(lists))
	for i, l := range lists {
		out[i] = l
		out[i].DeletedAt = cloneTime(l.DeletedAt)
		out[i].Entries = make([]model.Entry, len(l.Entries))
		for j, e := range l.Entries {
			out[i].Entries[j] = e
			out[i].Entries[j].DeletedAt = cloneTime(e.DeletedAt)
			out[i].Entries[j].Item = CloneItem(e.Item)
		}
	}
	return out
}

// CloneItem deep-copies one catalog item subtree.
func CloneItem(item *model.CatalogItem) *model.CatalogItem {
	if item == nil {
		return nil
	}
	c := *item
	c.DeletedAt = cloneTime(item.DeletedAt)
	c.SubEntries = make([]model.SubEntry, len(item.SubEntries))
	for i, se := range item.SubEntries {
		c.SubEntries[i] = se
		c.SubEntries[i].DeletedAt = cloneTime(se.DeletedAt)
		c.SubEntries[i].WatchedAt = cloneTime(se.WatchedAt)
	}
	c.Notes = make([]model.Note, len(item.Notes))
	for i, n := range item.Notes {
		c.Notes[i] = n
		c.Notes[i].DeletedAt = cloneTime(n.DeletedAt)
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
