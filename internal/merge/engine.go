// Package merge implements deterministic reconciliation of two snapshots.
//
// The engine is a pure computation: no locking, no IO, inputs treated as
// immutable. Per-entity resolution is a total order (timestamps, then a
// lexicographic replica tie-break), which is what makes the merge
// commutative, associative, and idempotent — any two replicas merging the
// same pair of snapshots in either direction produce structurally
// equivalent results.
package merge

import (
	"log/slog"
	"sort"
	"time"

	"github.com/hyperengineering/watchsync/internal/model"
	"github.com/hyperengineering/watchsync/internal/snapshot"
)

// Merge reconciles two snapshots into one. producedAt and replica stamp the
// result envelope; they never leak into per-entity metadata, which always
// comes from the winning record.
func Merge(local, remote *snapshot.Snapshot, producedAt time.Time, replica string) *snapshot.Snapshot {
	a := consolidateLists(snapshot.CloneLists(local.Lists))
	b := consolidateLists(snapshot.CloneLists(remote.Lists))
	lists := consolidateSharedItems(mergeListSlices(a, b))

	version := local.Version
	if remote.Version > version {
		version = remote.Version
	}

	return &snapshot.Snapshot{
		Version:         version,
		ProducedAt:      producedAt,
		OriginReplica:   replica,
		Lists:           lists,
		ContentChecksum: snapshot.Checksum(lists),
	}
}

// Wins reports whether x beats y under the last-writer-wins total order
// (see model.Meta.Supersedes).
func Wins(x, y model.Meta) bool {
	return x.Supersedes(y)
}

// logResolution records enough context to reconstruct a conflict decision.
func logResolution(kind model.Kind, x, y model.Meta, xWon bool) {
	winner := x
	if !xWon {
		winner = y
	}
	slog.Debug("conflict resolved",
		"component", "merge",
		"action", "resolve",
		"kind", string(kind),
		"id", x.ID,
		"x_updated_at", x.UpdatedAt,
		"x_deleted", x.Deleted(),
		"y_updated_at", y.UpdatedAt,
		"y_deleted", y.Deleted(),
		"winner_origin", winner.OriginReplica,
	)
}

// unionIDs returns the sorted union of ids appearing in either map.
// Sorted iteration keeps the result order deterministic regardless of
// merge direction.
func unionIDs[T any](a, b map[string]T) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for id := range a {
		seen[id] = struct{}{}
	}
	for id := range b {
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// --- Lists ---

func mergeListSlices(a, b []model.List) []model.List {
	am := make(map[string]model.List, len(a))
	for _, l := range a {
		am[l.ID] = l
	}
	bm := make(map[string]model.List, len(b))
	for _, l := range b {
		bm[l.ID] = l
	}

	out := make([]model.List, 0, len(am)+len(bm))
	for _, id := range unionIDs(am, bm) {
		x, inA := am[id]
		y, inB := bm[id]
		switch {
		case inA && inB:
			out = append(out, mergeList(x, y))
		case inA:
			out = append(out, x)
		default:
			out = append(out, y)
		}
	}
	return out
}

// mergeList resolves a same-id pair: scalar fields and metadata come from
// the winner, child entries are the union of both sides. A parent-level win
// never discards the loser's distinct children.
func mergeList(x, y model.List) model.List {
	won := Wins(x.Meta, y.Meta)
	logResolution(model.KindList, x.Meta, y.Meta, won)
	base := x
	if !won {
		base = y
	}
	base.Entries = mergeEntrySlices(x.Entries, y.Entries)
	return base
}

// consolidateLists heals accidental id duplication within one snapshot by
// reducing same-id records through the regular merge, keeping the union of
// their children rather than discarding either subtree.
func consolidateLists(lists []model.List) []model.List {
	byID := make(map[string]model.List, len(lists))
	order := make([]string, 0, len(lists))
	for _, l := range lists {
		l.Entries = consolidateEntries(l.Entries)
		if existing, ok := byID[l.ID]; ok {
			byID[l.ID] = mergeList(existing, l)
			continue
		}
		byID[l.ID] = l
		order = append(order, l.ID)
	}
	out := make([]model.List, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

// --- Entries ---

func mergeEntrySlices(a, b []model.Entry) []model.Entry {
	am := make(map[string]model.Entry, len(a))
	for _, e := range a {
		am[e.ID] = e
	}
	bm := make(map[string]model.Entry, len(b))
	for _, e := range b {
		bm[e.ID] = e
	}

	out := make([]model.Entry, 0, len(am)+len(bm))
	for _, id := range unionIDs(am, bm) {
		x, inA := am[id]
		y, inB := bm[id]
		switch {
		case inA && inB:
			out = append(out, mergeEntry(x, y))
		case inA:
			out = append(out, x)
		default:
			out = append(out, y)
		}
	}
	return out
}

func mergeEntry(x, y model.Entry) model.Entry {
	won := Wins(x.Meta, y.Meta)
	logResolution(model.KindEntry, x.Meta, y.Meta, won)
	base := x
	if !won {
		base = y
	}
	base.Item = mergeItems(x.Item, y.Item)
	return base
}

func consolidateEntries(entries []model.Entry) []model.Entry {
	byID := make(map[string]model.Entry, len(entries))
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Item != nil {
			e.Item.SubEntries = consolidateSubEntries(e.Item.SubEntries)
			e.Item.Notes = consolidateNotes(e.Item.Notes)
		}
		if existing, ok := byID[e.ID]; ok {
			byID[e.ID] = mergeEntry(existing, e)
			continue
		}
		byID[e.ID] = e
		order = append(order, e.ID)
	}
	out := make([]model.Entry, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

// --- Catalog items ---

func mergeItems(x, y *model.CatalogItem) *model.CatalogItem {
	switch {
	case x == nil:
		return y
	case y == nil:
		return x
	}
	won := Wins(x.Meta, y.Meta)
	logResolution(model.KindCatalogItem, x.Meta, y.Meta, won)
	base := *x
	if !won {
		base = *y
	}
	base.SubEntries = mergeSubEntrySlices(x.SubEntries, y.SubEntries)
	base.Notes = mergeNoteSlices(x.Notes, y.Notes)
	return &base
}

// consolidateSharedItems converges every copy of a catalog item that rides
// under more than one entry (one movie on two lists). Entry-level merging
// resolves each entry's copy independently, so copies can disagree when
// only one entry pair saw the newer write. The copies are one logical
// record: reduce them through the winner rule, union their children, and
// re-attach the single winner under every referencing entry.
func consolidateSharedItems(lists []model.List) []model.List {
	winners := make(map[string]*model.CatalogItem)
	for _, l := range lists {
		for _, e := range l.Entries {
			if e.Item == nil {
				continue
			}
			if w, ok := winners[e.Item.ID]; ok {
				winners[e.Item.ID] = mergeItems(w, e.Item)
			} else {
				winners[e.Item.ID] = e.Item
			}
		}
	}
	for li := range lists {
		for ei := range lists[li].Entries {
			e := &lists[li].Entries[ei]
			if e.Item == nil {
				continue
			}
			e.Item = snapshot.CloneItem(winners[e.Item.ID])
		}
	}
	return lists
}

// --- Sub-entries ---

func mergeSubEntrySlices(a, b []model.SubEntry) []model.SubEntry {
	am := make(map[string]model.SubEntry, len(a))
	for _, se := range a {
		am[se.ID] = se
	}
	bm := make(map[string]model.SubEntry, len(b))
	for _, se := range b {
		bm[se.ID] = se
	}

	out := make([]model.SubEntry, 0, len(am)+len(bm))
	for _, id := range unionIDs(am, bm) {
		x, inA := am[id]
		y, inB := bm[id]
		switch {
		case inA && inB:
			won := Wins(x.Meta, y.Meta)
			logResolution(model.KindSubEntry, x.Meta, y.Meta, won)
			if won {
				out = append(out, x)
			} else {
				out = append(out, y)
			}
		case inA:
			out = append(out, x)
		default:
			out = append(out, y)
		}
	}
	return out
}

func consolidateSubEntries(subs []model.SubEntry) []model.SubEntry {
	byID := make(map[string]model.SubEntry, len(subs))
	order := make([]string, 0, len(subs))
	for _, se := range subs {
		if existing, ok := byID[se.ID]; ok {
			if !Wins(existing.Meta, se.Meta) {
				byID[se.ID] = se
			}
			continue
		}
		byID[se.ID] = se
		order = append(order, se.ID)
	}
	out := make([]model.SubEntry, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

// --- Notes ---

func mergeNoteSlices(a, b []model.Note) []model.Note {
	am := make(map[string]model.Note, len(a))
	for _, n := range a {
		am[n.ID] = n
	}
	bm := make(map[string]model.Note, len(b))
	for _, n := range b {
		bm[n.ID] = n
	}

	out := make([]model.Note, 0, len(am)+len(bm))
	for _, id := range unionIDs(am, bm) {
		x, inA := am[id]
		y, inB := bm[id]
		switch {
		case inA && inB:
			won := Wins(x.Meta, y.Meta)
			logResolution(model.KindNote, x.Meta, y.Meta, won)
			if won {
				out = append(out, x)
			} else {
				out = append(out, y)
			}
		case inA:
			out = append(out, x)
		default:
			out = append(out, y)
		}
	}
	return out
}

func consolidateNotes(notes []model.Note) []model.Note {
	byID := make(map[string]model.Note, len(notes))
	order := make([]string, 0, len(notes))
	for _, n := range notes {
		if existing, ok := byID[n.ID]; ok {
			if !Wins(existing.Meta, n.Meta) {
				byID[n.ID] = n
			}
			continue
		}
		byID[n.ID] = n
		order = append(order, n.ID)
	}
	out := make([]model.Note, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}
