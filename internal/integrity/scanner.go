// Package integrity detects and heals structural anomalies in the local
// entity graph: duplicate ids, malformed timestamps, degraded ordering
// keys, dangling references, expired tombstones. The scanner repairs
// structural metadata and removes unsalvageable orphans only; it never
// fabricates business data. It runs standalone (the `scan` command) and as
// pre-merge normalization inside a sync cycle.
package integrity

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hyperengineering/watchsync/internal/merge"
	"github.com/hyperengineering/watchsync/internal/model"
)

// ErrSchemaMismatch means a required entity kind is absent from the local
// schema. Nothing downstream can run; the store needs a reset.
var ErrSchemaMismatch = errors.New("required entity kind absent from local schema")

// DefaultTombstoneRetention is how long tombstones are kept before the
// retention pass purges them. Long enough for every replica that syncs at
// all to observe the deletion.
const DefaultTombstoneRetention = 30 * 24 * time.Hour

const (
	passSchema     = "schema"
	passIdentity   = "identity"
	passTimestamps = "timestamps"
	passContent    = "content"
	passOrdering   = "ordering"
	passRetention  = "retention"
	passOrigin     = "origin"
	passRelational = "relational"
)

// Scanner runs the repair passes. Zero-value fields fall back to sane
// defaults in NewScanner.
type Scanner struct {
	Replica   string
	Retention time.Duration
	Now       func() time.Time
}

// NewScanner returns a scanner stamping repairs with the given replica id.
func NewScanner(replica string) *Scanner {
	return &Scanner{
		Replica:   replica,
		Retention: DefaultTombstoneRetention,
		Now:       time.Now,
	}
}

// Repair runs all eight passes over the flat graph in order, mutating it
// in place. presentKinds is the set of entity kinds the local schema
// actually has (the store introspects its tables); a missing kind aborts
// with ErrSchemaMismatch before any repair runs.
func (s *Scanner) Repair(c *model.Collections, presentKinds []model.Kind) (*Report, error) {
	report := &Report{}

	if err := s.checkSchema(report, presentKinds); err != nil {
		return report, err
	}
	s.repairIdentity(report, c)
	s.repairTimestamps(report, c)
	s.repairContent(report, c)
	s.repairOrdering(report, c)
	s.purgeExpiredTombstones(report, c)
	s.repairOrigin(report, c)
	s.repairRelational(report, c)

	return report, nil
}

// RepairTree is the nested-form convenience used for pre-merge snapshot
// normalization, where the schema is implied by the types.
func (s *Scanner) RepairTree(lists []model.List) ([]model.List, *Report, error) {
	c := model.Flatten(lists)
	report, err := s.Repair(c, model.Kinds)
	if err != nil {
		return nil, report, err
	}
	return c.Tree(), report, nil
}

// --- pass 1: schema ---

func (s *Scanner) checkSchema(r *Report, present []model.Kind) error {
	have := make(map[model.Kind]bool, len(present))
	for _, k := range present {
		have[k] = true
	}
	var missing []model.Kind
	for _, k := range model.Kinds {
		if !have[k] {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	for _, k := range missing {
		r.add(Issue{
			Pass:        passSchema,
			Severity:    SeverityFatal,
			EntityKind:  k,
			Description: fmt.Sprintf("entity kind %q absent from local schema", k),
		})
	}
	return ErrSchemaMismatch
}

// --- pass 2: identity ---

func (s *Scanner) repairIdentity(r *Report, c *model.Collections) {
	now := s.Now()

	assign := func(kind model.Kind, m *model.Meta) {
		if m.ID != "" {
			return
		}
		m.ID = model.NewID()
		m.CreatedAt = now
		m.UpdatedAt = now
		m.OriginReplica = s.Replica
		r.add(Issue{
			Pass: passIdentity, Severity: SeverityError, EntityKind: kind,
			EntityID: m.ID, Description: "missing id assigned",
			AutoFixable: true, Fixed: true,
		})
	}
	for i := range c.Lists {
		assign(model.KindList, &c.Lists[i].Meta)
	}
	for i := range c.Entries {
		assign(model.KindEntry, &c.Entries[i].Meta)
	}
	for i := range c.Items {
		assign(model.KindCatalogItem, &c.Items[i].Meta)
	}
	for i := range c.SubEntries {
		assign(model.KindSubEntry, &c.SubEntries[i].Meta)
	}
	for i := range c.Notes {
		assign(model.KindNote, &c.Notes[i].Meta)
	}

	c.Lists = dedupe(r, model.KindList, c.Lists, func(l model.List) model.Meta { return l.Meta })
	c.Entries = dedupe(r, model.KindEntry, c.Entries, func(e model.Entry) model.Meta { return e.Meta })
	c.Items = dedupe(r, model.KindCatalogItem, c.Items, func(i model.CatalogItem) model.Meta { return i.Meta })
	c.SubEntries = dedupe(r, model.KindSubEntry, c.SubEntries, func(se model.SubEntry) model.Meta { return se.Meta })
	c.Notes = dedupe(r, model.KindNote, c.Notes, func(n model.Note) model.Meta { return n.Meta })

	s.flagDuplicateListNames(r, c)
}

// dedupe consolidates same-id records within one collection using the
// merge winner rule. Children are untouched: in the flat form they
// reference the surviving id already.
func dedupe[T any](r *Report, kind model.Kind, records []T, meta func(T) model.Meta) []T {
	byID := make(map[string]int, len(records))
	out := records[:0]
	for _, rec := range records {
		m := meta(rec)
		if idx, ok := byID[m.ID]; ok {
			if merge.Wins(m, meta(out[idx])) {
				out[idx] = rec
			}
			r.add(Issue{
				Pass: passIdentity, Severity: SeverityError, EntityKind: kind,
				EntityID: m.ID, Description: "duplicate id consolidated",
				AutoFixable: true, Fixed: true,
			})
			continue
		}
		byID[m.ID] = len(out)
		out = append(out, rec)
	}
	return out
}

// flagDuplicateListNames reports same-named live lists. Two lists named
// "Favorites" may be an accident or intentional; auto-merging would guess
// at user intent, so this is flag-only.
func (s *Scanner) flagDuplicateListNames(r *Report, c *model.Collections) {
	byName := make(map[string][]string)
	for _, l := range c.Lists {
		if l.Deleted() {
			continue
		}
		byName[l.Name] = append(byName[l.Name], l.ID)
	}
	names := make([]string, 0, len(byName))
	for name, ids := range byName {
		if len(ids) > 1 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		r.add(Issue{
			Pass: passIdentity, Severity: SeverityWarning, EntityKind: model.KindList,
			EntityID:    byName[name][0],
			Description: fmt.Sprintf("%d lists share the name %q; not auto-merged", len(byName[name]), name),
		})
	}
}

// --- pass 3: timestamps ---

func (s *Scanner) repairTimestamps(r *Report, c *model.Collections) {
	now := s.Now()

	fix := func(kind model.Kind, m *model.Meta) {
		report := func(desc string) {
			r.add(Issue{
				Pass: passTimestamps, Severity: SeverityWarning, EntityKind: kind,
				EntityID: m.ID, Description: desc, AutoFixable: true, Fixed: true,
			})
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
			report("missing createdAt filled with now")
		}
		if m.UpdatedAt.IsZero() {
			m.UpdatedAt = now
			report("missing updatedAt filled with now")
		}
		if m.CreatedAt.After(m.UpdatedAt) {
			m.CreatedAt = m.UpdatedAt
			report("createdAt after updatedAt; clamped")
		}
		if m.Deleted() && m.DeletedAt.Before(m.UpdatedAt) {
			d := m.UpdatedAt
			m.DeletedAt = &d
			report("deletedAt before updatedAt; clamped")
		}
	}
	s.eachMeta(c, fix)
}

// eachMeta visits every record's metadata with its kind.
func (s *Scanner) eachMeta(c *model.Collections, fn func(model.Kind, *model.Meta)) {
	for i := range c.Lists {
		fn(model.KindList, &c.Lists[i].Meta)
	}
	for i := range c.Entries {
		fn(model.KindEntry, &c.Entries[i].Meta)
	}
	for i := range c.Items {
		fn(model.KindCatalogItem, &c.Items[i].Meta)
	}
	for i := range c.SubEntries {
		fn(model.KindSubEntry, &c.SubEntries[i].Meta)
	}
	for i := range c.Notes {
		fn(model.KindNote, &c.Notes[i].Meta)
	}
}

// --- pass 4: content ---

const (
	placeholderListName  = "Untitled List"
	placeholderItemTitle = "Untitled"
)

func (s *Scanner) repairContent(r *Report, c *model.Collections) {
	now := s.Now()
	for i := range c.Lists {
		l := &c.Lists[i]
		if l.Deleted() || l.Name != "" {
			continue
		}
		l.Name = placeholderListName
		l.Touch(now, s.Replica)
		r.add(Issue{
			Pass: passContent, Severity: SeverityWarning, EntityKind: model.KindList,
			EntityID: l.ID, Description: "empty list name replaced with placeholder",
			AutoFixable: true, Fixed: true,
		})
	}
	for i := range c.Items {
		item := &c.Items[i]
		if !item.Deleted() && item.Title == "" {
			item.Title = placeholderItemTitle
			item.Touch(now, s.Replica)
			r.add(Issue{
				Pass: passContent, Severity: SeverityWarning, EntityKind: model.KindCatalogItem,
				EntityID: item.ID, Description: "empty title replaced with placeholder",
				AutoFixable: true, Fixed: true,
			})
		}
		if item.CatalogID < 0 {
			r.add(Issue{
				Pass: passContent, Severity: SeverityError, EntityKind: model.KindCatalogItem,
				EntityID:    item.ID,
				Description: fmt.Sprintf("invalid catalog id %d", item.CatalogID),
			})
		}
	}
	for i := range c.SubEntries {
		se := &c.SubEntries[i]
		if se.Season < 0 || se.Episode < 0 {
			r.add(Issue{
				Pass: passContent, Severity: SeverityError, EntityKind: model.KindSubEntry,
				EntityID:    se.ID,
				Description: fmt.Sprintf("invalid season/episode number %d/%d", se.Season, se.Episode),
			})
		}
	}
}

// --- pass 5: ordering ---

func (s *Scanner) repairOrdering(r *Report, c *model.Collections) {
	now := s.Now()

	// Top-level list ordering.
	liveLists := make([]*model.List, 0, len(c.Lists))
	for i := range c.Lists {
		if !c.Lists[i].Deleted() {
			liveLists = append(liveLists, &c.Lists[i])
		}
	}
	sort.SliceStable(liveLists, func(i, j int) bool { return liveLists[i].OrderKey < liveLists[j].OrderKey })
	keys := make([]float64, len(liveLists))
	for i, l := range liveLists {
		keys[i] = l.OrderKey
	}
	if model.OrderKeysDegraded(keys) {
		fresh := model.RenumberOrderKeys(len(liveLists))
		for i, l := range liveLists {
			l.OrderKey = fresh[i]
			l.Touch(now, s.Replica)
		}
		r.add(Issue{
			Pass: passOrdering, Severity: SeverityWarning, EntityKind: model.KindList,
			Description: "list ordering keys degraded; renumbered",
			AutoFixable: true, Fixed: true,
		})
	}

	// Per-list entry ordering.
	byList := make(map[string][]*model.Entry)
	for i := range c.Entries {
		e := &c.Entries[i]
		if !e.Deleted() {
			byList[e.ListID] = append(byList[e.ListID], e)
		}
	}
	listIDs := make([]string, 0, len(byList))
	for id := range byList {
		listIDs = append(listIDs, id)
	}
	sort.Strings(listIDs)
	for _, listID := range listIDs {
		entries := byList[listID]
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].OrderKey < entries[j].OrderKey })
		keys := make([]float64, len(entries))
		for i, e := range entries {
			keys[i] = e.OrderKey
		}
		if !model.OrderKeysDegraded(keys) {
			continue
		}
		fresh := model.RenumberOrderKeys(len(entries))
		for i, e := range entries {
			e.OrderKey = fresh[i]
			e.Touch(now, s.Replica)
		}
		r.add(Issue{
			Pass: passOrdering, Severity: SeverityWarning, EntityKind: model.KindEntry,
			EntityID:    listID,
			Description: "entry ordering keys degraded; renumbered",
			AutoFixable: true, Fixed: true,
		})
	}
}

// --- pass 6: tombstone retention ---

func (s *Scanner) purgeExpiredTombstones(r *Report, c *model.Collections) {
	cutoff := s.Now().Add(-s.Retention)

	expired := func(kind model.Kind, m model.Meta) bool {
		if !m.Deleted() || !m.DeletedAt.Before(cutoff) {
			return false
		}
		r.add(Issue{
			Pass: passRetention, Severity: SeverityInfo, EntityKind: kind,
			EntityID:    m.ID,
			Description: "tombstone past retention window purged",
			AutoFixable: true, Fixed: true,
		})
		return true
	}

	c.Lists = filterOut(c.Lists, func(l model.List) bool { return expired(model.KindList, l.Meta) })
	c.Entries = filterOut(c.Entries, func(e model.Entry) bool { return expired(model.KindEntry, e.Meta) })
	c.Items = filterOut(c.Items, func(i model.CatalogItem) bool { return expired(model.KindCatalogItem, i.Meta) })
	c.SubEntries = filterOut(c.SubEntries, func(se model.SubEntry) bool { return expired(model.KindSubEntry, se.Meta) })
	c.Notes = filterOut(c.Notes, func(n model.Note) bool { return expired(model.KindNote, n.Meta) })
}

func filterOut[T any](records []T, drop func(T) bool) []T {
	out := records[:0]
	for _, rec := range records {
		if !drop(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// --- pass 7: replica origin ---

func (s *Scanner) repairOrigin(r *Report, c *model.Collections) {
	s.eachMeta(c, func(kind model.Kind, m *model.Meta) {
		if m.OriginReplica != "" {
			return
		}
		m.OriginReplica = s.Replica
		r.add(Issue{
			Pass: passOrigin, Severity: SeverityInfo, EntityKind: kind,
			EntityID: m.ID, Description: "missing origin replica stamped",
			AutoFixable: true, Fixed: true,
		})
	})
}

// --- pass 8: relational ---

// repairRelational deletes children whose required parent no longer
// resolves to any record, live or tombstoned. Runs last so it also sweeps
// children orphaned by the retention pass.
func (s *Scanner) repairRelational(r *Report, c *model.Collections) {
	listIDs := make(map[string]bool, len(c.Lists))
	for _, l := range c.Lists {
		listIDs[l.ID] = true
	}
	itemIDs := make(map[string]bool, len(c.Items))
	for _, item := range c.Items {
		itemIDs[item.ID] = true
	}

	orphan := func(kind model.Kind, id, desc string) {
		r.add(Issue{
			Pass: passRelational, Severity: SeverityError, EntityKind: kind,
			EntityID: id, Description: desc, AutoFixable: true, Fixed: true,
		})
	}

	c.Entries = filterOut(c.Entries, func(e model.Entry) bool {
		if !listIDs[e.ListID] {
			orphan(model.KindEntry, e.ID, "parent list absent; orphan deleted")
			return true
		}
		if !itemIDs[e.ItemID] {
			orphan(model.KindEntry, e.ID, "referenced catalog item absent; orphan deleted")
			return true
		}
		return false
	})
	c.SubEntries = filterOut(c.SubEntries, func(se model.SubEntry) bool {
		if !itemIDs[se.ItemID] {
			orphan(model.KindSubEntry, se.ID, "parent catalog item absent; orphan deleted")
			return true
		}
		return false
	})
	c.Notes = filterOut(c.Notes, func(n model.Note) bool {
		if !itemIDs[n.ItemID] {
			orphan(model.KindNote, n.ID, "parent catalog item absent; orphan deleted")
			return true
		}
		return false
	})
}
