package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/hyperengineering/watchsync/internal/model"
)

// canonicalTimeLayout fixes the date encoding used inside the checksum.
// Always UTC, always millisecond precision, so the same instant hashes the
// same regardless of the producing platform's default formatting.
const canonicalTimeLayout = "2006-01-02T15:04:05.000Z"

// The canonical mirror types pin field order and timestamp encoding.
// encoding/json emits struct fields in declaration order, which gives the
// stable key order the checksum requires.

type canonicalMeta struct {
	ID            string `json:"id"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
	DeletedAt     string `json:"deleted_at,omitempty"`
	OriginReplica string `json:"origin_replica"`
}

type canonicalList struct {
	canonicalMeta
	Name     string           `json:"name"`
	OrderKey float64          `json:"order_key"`
	Entries  []canonicalEntry `json:"entries"`
}

type canonicalEntry struct {
	canonicalMeta
	ListID   string         `json:"list_id"`
	ItemID   string         `json:"item_id"`
	OrderKey float64        `json:"order_key"`
	Item     *canonicalItem `json:"item,omitempty"`
}

type canonicalItem struct {
	canonicalMeta
	CatalogID     int                 `json:"catalog_id"`
	Title         string              `json:"title"`
	MediaKind     string              `json:"media_kind"`
	Year          int                 `json:"year"`
	Watched       bool                `json:"watched"`
	Rating        int                 `json:"rating"`
	Favorite      bool                `json:"favorite"`
	SeasonCursor  int                 `json:"season_cursor"`
	EpisodeCursor int                 `json:"episode_cursor"`
	SubEntries    []canonicalSubEntry `json:"sub_entries"`
	Notes         []canonicalNote     `json:"notes"`
}

type canonicalSubEntry struct {
	canonicalMeta
	ItemID    string `json:"item_id"`
	Season    int    `json:"season"`
	Episode   int    `json:"episode"`
	Watched   bool   `json:"watched"`
	WatchedAt string `json:"watched_at,omitempty"`
}

type canonicalNote struct {
	canonicalMeta
	ItemID     string `json:"item_id"`
	Text       string `json:"text"`
	Visibility string `json:"visibility"`
}

// Checksum computes the content checksum over the canonical serialization
// of lists. ProducedAt and OriginReplica are deliberately excluded so two
// replicas holding identical data agree on the checksum.
func Checksum(lists []model.List) string {
	canonical := canonicalizeLists(lists)
	data, err := json.Marshal(canonical)
	if err != nil {
		// Canonical types contain only marshalable fields; this cannot
		// fail for well-formed input.
		panic("snapshot: canonical marshal: " + err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func canonicalizeLists(lists []model.List) []canonicalList {
	out := make([]canonicalList, 0, len(lists))
	for _, l := range lists {
		cl := canonicalList{
			canonicalMeta: canonicalizeMeta(l.Meta),
			Name:          l.Name,
			OrderKey:      l.OrderKey,
			Entries:       make([]canonicalEntry, 0, len(l.Entries)),
		}
		for _, e := range l.Entries {
			ce := canonicalEntry{
				canonicalMeta: canonicalizeMeta(e.Meta),
				ListID:        e.ListID,
				ItemID:        e.ItemID,
				OrderKey:      e.OrderKey,
			}
			if e.Item != nil {
				item := canonicalizeItem(*e.Item)
				ce.Item = &item
			}
			cl.Entries = append(cl.Entries, ce)
		}
		sort.Slice(cl.Entries, func(i, j int) bool { return cl.Entries[i].ID < cl.Entries[j].ID })
		out = append(out, cl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func canonicalizeItem(item model.CatalogItem) canonicalItem {
	ci := canonicalItem{
		canonicalMeta: canonicalizeMeta(item.Meta),
		CatalogID:     item.CatalogID,
		Title:         item.Title,
		MediaKind:     string(item.MediaKind),
		Year:          item.Year,
		Watched:       item.Watched,
		Rating:        item.Rating,
		Favorite:      item.Favorite,
		SeasonCursor:  item.SeasonCursor,
		EpisodeCursor: item.EpisodeCursor,
		SubEntries:    make([]canonicalSubEntry, 0, len(item.SubEntries)),
		Notes:         make([]canonicalNote, 0, len(item.Notes)),
	}
	for _, se := range item.SubEntries {
		ci.SubEntries = append(ci.SubEntries, canonicalSubEntry{
			canonicalMeta: canonicalizeMeta(se.Meta),
			ItemID:        se.ItemID,
			Season:        se.Season,
			Episode:       se.Episode,
			Watched:       se.Watched,
			WatchedAt:     canonicalizeOptionalTime(se.WatchedAt),
		})
	}
	for _, n := range item.Notes {
		ci.Notes = append(ci.Notes, canonicalNote{
			canonicalMeta: canonicalizeMeta(n.Meta),
			ItemID:        n.ItemID,
			Text:          n.Text,
			Visibility:    string(n.Visibility),
		})
	}
	sort.Slice(ci.SubEntries, func(i, j int) bool { return ci.SubEntries[i].ID < ci.SubEntries[j].ID })
	sort.Slice(ci.Notes, func(i, j int) bool { return ci.Notes[i].ID < ci.Notes[j].ID })
	return ci
}

func canonicalizeMeta(m model.Meta) canonicalMeta {
	return canonicalMeta{
		ID:            m.ID,
		CreatedAt:     canonicalizeTime(m.CreatedAt),
		UpdatedAt:     canonicalizeTime(m.UpdatedAt),
		DeletedAt:     canonicalizeOptionalTime(m.DeletedAt),
		OriginReplica: m.OriginReplica,
	}
}

func canonicalizeTime(t time.Time) string {
	return t.UTC().Format(canonicalTimeLayout)
}

func canonicalizeOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return canonicalizeTime(*t)
}
