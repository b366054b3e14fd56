package snapshot

import (
	"encoding/json"
	"maps"

	"github.com/hyperengineering/watchsync/internal/model"
)

// Equivalent reports whether two snapshots represent the same data: a
// matching publish would be a no-op. Checksum equality is the fast path.
// Across schema versions the checksum can differ for identical data (field
// additions change the canonical form), so the slow path compares id sets
// per kind and, per id, the user-visible fields and tombstone state —
// ignoring write metadata like UpdatedAt and OriginReplica.
func Equivalent(a, b *Snapshot) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ContentChecksum != "" && a.ContentChecksum == b.ContentChecksum {
		return true
	}
	return maps.Equal(visibleState(a.Lists), visibleState(b.Lists))
}

// visibleState flattens a list tree into kind-prefixed id → fingerprint.
// The fingerprint covers only what a user can observe, plus whether the
// entity is a tombstone.
func visibleState(lists []model.List) map[string]string {
	state := make(map[string]string)
	for _, l := range lists {
		state["list/"+l.ID] = fingerprint(l.Deleted(), l.Name, l.OrderKey)
		for _, e := range l.Entries {
			state["entry/"+e.ID] = fingerprint(e.Deleted(), e.ListID, e.ItemID, e.OrderKey)
			if e.Item == nil {
				continue
			}
			item := e.Item
			state["catalog_item/"+item.ID] = fingerprint(item.Deleted(),
				item.CatalogID, item.Title, item.MediaKind, item.Year, item.Watched,
				item.Rating, item.Favorite, item.SeasonCursor, item.EpisodeCursor)
			for _, se := range item.SubEntries {
				state["sub_entry/"+se.ID] = fingerprint(se.Deleted(),
					se.ItemID, se.Season, se.Episode, se.Watched,
					canonicalizeOptionalTime(se.WatchedAt))
			}
			for _, n := range item.Notes {
				state["note/"+n.ID] = fingerprint(n.Deleted(), n.ItemID, n.Text, n.Visibility)
			}
		}
	}
	return state
}

func fingerprint(tombstoned bool, fields ...any) string {
	data, err := json.Marshal(append([]any{tombstoned}, fields...))
	if err != nil {
		panic("snapshot: fingerprint marshal: " + err.Error())
	}
	return string(data)
}
