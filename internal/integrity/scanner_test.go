package integrity

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/watchsync/internal/model"
)

var scanTime = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestScanner() *Scanner {
	s := NewScanner("replica-test")
	s.Now = func() time.Time { return scanTime }
	return s
}

func liveMeta(id string, updated time.Time) model.Meta {
	return model.Meta{
		ID:            id,
		CreatedAt:     updated.Add(-time.Hour),
		UpdatedAt:     updated,
		OriginReplica: "replica-a",
	}
}

func graphWith(mutate func(c *model.Collections)) *model.Collections {
	c := &model.Collections{
		Lists: []model.List{
			{Meta: liveMeta("l1", scanTime.Add(-time.Hour)), Name: "Queue", OrderKey: 1},
		},
		Items: []model.CatalogItem{
			{Meta: liveMeta("i1", scanTime.Add(-time.Hour)), Title: "Orbit", MediaKind: model.MediaMovie},
		},
		Entries: []model.Entry{
			{Meta: liveMeta("e1", scanTime.Add(-time.Hour)), ListID: "l1", ItemID: "i1", OrderKey: 1},
		},
	}
	if mutate != nil {
		mutate(c)
	}
	return c
}

func mustRepair(t *testing.T, c *model.Collections) *Report {
	t.Helper()
	report, err := newTestScanner().Repair(c, model.Kinds)
	if err != nil {
		t.Fatal(err)
	}
	return report
}

func TestRepair_CleanGraph(t *testing.T) {
	report := mustRepair(t, graphWith(nil))
	if !report.Clean() {
		t.Errorf("expected clean report, got %s", report.Summary())
	}
}

func TestRepair_SchemaMismatchIsFatal(t *testing.T) {
	c := graphWith(nil)
	report, err := newTestScanner().Repair(c, []model.Kind{model.KindList, model.KindEntry})
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
	found := false
	for _, i := range report.Issues {
		if i.Severity == SeverityFatal && !i.AutoFixable {
			found = true
		}
	}
	if !found {
		t.Error("expected fatal, non-fixable schema issue")
	}
}

func TestRepair_AssignsMissingID(t *testing.T) {
	c := graphWith(func(c *model.Collections) {
		c.Notes = []model.Note{{ItemID: "i1", Text: "hi", Visibility: model.NotePrivate}}
	})
	mustRepair(t, c)
	n := c.Notes[0]
	if n.ID == "" {
		t.Fatal("expected id assigned")
	}
	if !n.CreatedAt.Equal(scanTime) || !n.UpdatedAt.Equal(scanTime) {
		t.Error("expected fresh timestamps on id assignment")
	}
	if n.OriginReplica != "replica-test" {
		t.Error("expected current replica stamped")
	}
}

func TestRepair_ConsolidatesDuplicateIDs(t *testing.T) {
	c := graphWith(func(c *model.Collections) {
		c.Lists = append(c.Lists, model.List{
			Meta: liveMeta("l1", scanTime.Add(-time.Minute)), Name: "Queue (newer)", OrderKey: 1,
		})
	})
	report := mustRepair(t, c)
	if len(c.Lists) != 1 {
		t.Fatalf("expected 1 list after consolidation, got %d", len(c.Lists))
	}
	if c.Lists[0].Name != "Queue (newer)" {
		t.Errorf("later duplicate must win, got %q", c.Lists[0].Name)
	}
	// The child entry still resolves to the surviving id.
	if len(c.Entries) != 1 || c.Entries[0].ListID != "l1" {
		t.Error("children must survive parent consolidation")
	}
	if report.Fixed() == 0 {
		t.Error("consolidation must be reported as fixed")
	}
}

func TestRepair_FlagsDuplicateListNames(t *testing.T) {
	c := graphWith(func(c *model.Collections) {
		c.Lists = append(c.Lists, model.List{
			Meta: liveMeta("l2", scanTime.Add(-time.Hour)), Name: "Queue", OrderKey: 2,
		})
	})
	report := mustRepair(t, c)
	if len(c.Lists) != 2 {
		t.Fatal("same-named lists must never be auto-merged")
	}
	flagged := false
	for _, i := range report.Issues {
		if i.Pass == "identity" && i.Severity == SeverityWarning && !i.AutoFixable {
			flagged = true
		}
	}
	if !flagged {
		t.Error("duplicate names must be flagged for the user")
	}
}

func TestRepair_FillsMissingTimestamps(t *testing.T) {
	c := graphWith(func(c *model.Collections) {
		c.Lists[0].CreatedAt = time.Time{}
		c.Lists[0].UpdatedAt = time.Time{}
	})
	mustRepair(t, c)
	if !c.Lists[0].CreatedAt.Equal(scanTime) || !c.Lists[0].UpdatedAt.Equal(scanTime) {
		t.Error("missing timestamps must be filled with now")
	}
}

func TestRepair_ClampsInvertedTimestamps(t *testing.T) {
	c := graphWith(func(c *model.Collections) {
		c.Lists[0].CreatedAt = scanTime
		c.Lists[0].UpdatedAt = scanTime.Add(-time.Hour)
		deleted := scanTime.Add(-2 * time.Hour)
		c.Items[0].DeletedAt = &deleted
	})
	mustRepair(t, c)
	if c.Lists[0].CreatedAt.After(c.Lists[0].UpdatedAt) {
		t.Error("createdAt must not exceed updatedAt after repair")
	}
	if c.Items[0].DeletedAt.Before(c.Items[0].UpdatedAt) {
		t.Error("deletedAt must not precede updatedAt after repair")
	}
}

func TestRepair_ContentPlaceholders(t *testing.T) {
	c := graphWith(func(c *model.Collections) {
		c.Lists[0].Name = ""
		c.Items[0].Title = ""
	})
	before := c.Lists[0].UpdatedAt
	mustRepair(t, c)
	if c.Lists[0].Name != placeholderListName {
		t.Errorf("expected placeholder name, got %q", c.Lists[0].Name)
	}
	if c.Items[0].Title != placeholderItemTitle {
		t.Errorf("expected placeholder title, got %q", c.Items[0].Title)
	}
	if !c.Lists[0].UpdatedAt.After(before) {
		t.Error("placeholder repair is a local edit and must bump updatedAt")
	}
}

func TestRepair_FlagsInvalidNumericIDs(t *testing.T) {
	c := graphWith(func(c *model.Collections) {
		c.Items[0].CatalogID = -7
		c.SubEntries = []model.SubEntry{
			{Meta: liveMeta("s1", scanTime.Add(-time.Hour)), ItemID: "i1", Season: -1, Episode: 2},
		}
	})
	report := mustRepair(t, c)
	count := 0
	for _, i := range report.Issues {
		if i.Pass == "content" && i.Severity == SeverityError && !i.Fixed {
			count++
		}
	}
	if count != 2 {
		t.Errorf("expected 2 unfixable numeric issues, got %d", count)
	}
	if c.Items[0].CatalogID != -7 {
		t.Error("invalid numeric ids must be flagged, never rewritten")
	}
}

func TestRepair_RenumbersDegradedOrdering(t *testing.T) {
	c := graphWith(func(c *model.Collections) {
		c.Entries = []model.Entry{
			{Meta: liveMeta("e1", scanTime.Add(-time.Hour)), ListID: "l1", ItemID: "i1", OrderKey: 2},
			{Meta: liveMeta("e2", scanTime.Add(-time.Hour)), ListID: "l1", ItemID: "i1", OrderKey: 2},
			{Meta: liveMeta("e3", scanTime.Add(-time.Hour)), ListID: "l1", ItemID: "i1", OrderKey: 1},
		}
	})
	mustRepair(t, c)

	keys := map[string]float64{}
	for _, e := range c.Entries {
		keys[e.ID] = e.OrderKey
		if !e.UpdatedAt.Equal(scanTime) {
			t.Error("renumbering must bump updatedAt so it propagates")
		}
	}
	// Pre-repair display order (stable sort by key): e3, e1, e2.
	if !(keys["e3"] < keys["e1"] && keys["e1"] < keys["e2"]) {
		t.Errorf("renumbering must preserve display order, got %v", keys)
	}
}

func TestRepair_OrderingLeftAloneWhenHealthy(t *testing.T) {
	c := graphWith(func(c *model.Collections) {
		c.Entries = append(c.Entries, model.Entry{
			Meta: liveMeta("e2", scanTime.Add(-time.Hour)), ListID: "l1", ItemID: "i1", OrderKey: 1.5,
		})
	})
	before := c.Entries[0].UpdatedAt
	mustRepair(t, c)
	if !c.Entries[0].UpdatedAt.Equal(before) {
		t.Error("healthy ordering must not be rewritten")
	}
}

func TestRepair_PurgesExpiredTombstones(t *testing.T) {
	c := graphWith(func(c *model.Collections) {
		old := scanTime.Add(-31 * 24 * time.Hour)
		recent := scanTime.Add(-24 * time.Hour)
		expired := model.List{Meta: liveMeta("l-old", old), Name: "Expired"}
		expired.DeletedAt = &old
		kept := model.List{Meta: liveMeta("l-recent", recent), Name: "Kept"}
		kept.DeletedAt = &recent
		c.Lists = append(c.Lists, expired, kept)
	})
	mustRepair(t, c)
	ids := map[string]bool{}
	for _, l := range c.Lists {
		ids[l.ID] = true
	}
	if ids["l-old"] {
		t.Error("tombstone past retention must be purged")
	}
	if !ids["l-recent"] {
		t.Error("tombstone inside retention must be kept")
	}
}

func TestRepair_StampsMissingOrigin(t *testing.T) {
	c := graphWith(func(c *model.Collections) {
		c.Items[0].OriginReplica = ""
	})
	mustRepair(t, c)
	if c.Items[0].OriginReplica != "replica-test" {
		t.Error("missing origin must be stamped with current replica")
	}
}

func TestRepair_DeletesOrphans(t *testing.T) {
	c := graphWith(func(c *model.Collections) {
		c.Entries = append(c.Entries, model.Entry{
			Meta: liveMeta("e-orphan", scanTime.Add(-time.Hour)), ListID: "l-gone", ItemID: "i1", OrderKey: 2,
		})
		c.SubEntries = []model.SubEntry{
			{Meta: liveMeta("s-orphan", scanTime.Add(-time.Hour)), ItemID: "i-gone", Season: 1, Episode: 1},
		}
		c.Notes = []model.Note{
			{Meta: liveMeta("n-orphan", scanTime.Add(-time.Hour)), ItemID: "i-gone", Text: "x", Visibility: model.NotePrivate},
		}
	})
	mustRepair(t, c)
	if len(c.Entries) != 1 || c.Entries[0].ID != "e1" {
		t.Error("entry with absent parent list must be deleted")
	}
	if len(c.SubEntries) != 0 || len(c.Notes) != 0 {
		t.Error("sub-entries and notes with absent parent item must be deleted")
	}
}

func TestRepair_RelationalSweepsAfterRetention(t *testing.T) {
	// Parent item's tombstone expires; its live note becomes an orphan in
	// the same run and must be swept.
	c := graphWith(func(c *model.Collections) {
		old := scanTime.Add(-40 * 24 * time.Hour)
		dead := model.CatalogItem{Meta: liveMeta("i-dead", old), Title: "Gone", MediaKind: model.MediaMovie}
		dead.DeletedAt = &old
		c.Items = append(c.Items, dead)
		c.Notes = []model.Note{
			{Meta: liveMeta("n1", scanTime.Add(-time.Hour)), ItemID: "i-dead", Text: "note", Visibility: model.NotePrivate},
		}
	})
	mustRepair(t, c)
	if len(c.Notes) != 0 {
		t.Error("children orphaned by retention purge must be swept in the same run")
	}
}

func TestReport_Summary(t *testing.T) {
	c := graphWith(func(c *model.Collections) {
		c.Lists[0].Name = ""
		c.Items[0].OriginReplica = ""
	})
	report := mustRepair(t, c)
	summary := report.Summary()
	if !strings.Contains(summary, "repaired") {
		t.Errorf("summary missing repair count: %q", summary)
	}
	if !strings.Contains(summary, "content") || !strings.Contains(summary, "origin") {
		t.Errorf("summary missing per-pass counts: %q", summary)
	}
}

func TestRepairTree_RoundTrip(t *testing.T) {
	lists := []model.List{
		{
			Meta: liveMeta("l1", scanTime.Add(-time.Hour)), Name: "Queue", OrderKey: 1,
			Entries: []model.Entry{
				{
					Meta: liveMeta("e1", scanTime.Add(-time.Hour)), ListID: "l1", ItemID: "i1", OrderKey: 1,
					Item: &model.CatalogItem{
						Meta: liveMeta("i1", scanTime.Add(-time.Hour)), Title: "Orbit", MediaKind: model.MediaMovie,
					},
				},
			},
		},
	}
	repaired, report, err := newTestScanner().RepairTree(lists)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Clean() {
		t.Errorf("expected clean report, got %s", report.Summary())
	}
	if len(repaired) != 1 || len(repaired[0].Entries) != 1 || repaired[0].Entries[0].Item == nil {
		t.Error("tree must survive flatten/repair/reassemble")
	}
}

func TestRepairTree_SharedItemKeepsLatestWrite(t *testing.T) {
	item := func(updated time.Time, origin string, watched bool) *model.CatalogItem {
		m := liveMeta("i1", updated)
		m.OriginReplica = origin
		return &model.CatalogItem{Meta: m, Title: "Orbit", MediaKind: model.MediaMovie, Watched: watched}
	}
	// The same item rides under entries on two lists; the stale copy's
	// list sorts first. Repair must converge both on the later write.
	lists := []model.List{
		{
			Meta: liveMeta("l1", scanTime.Add(-time.Hour)), Name: "Backlog", OrderKey: 1,
			Entries: []model.Entry{
				{
					Meta: liveMeta("e1", scanTime.Add(-time.Hour)), ListID: "l1", ItemID: "i1", OrderKey: 1,
					Item: item(scanTime.Add(-3*time.Hour), "replica-b", false),
				},
			},
		},
		{
			Meta: liveMeta("l2", scanTime.Add(-time.Hour)), Name: "Weekend", OrderKey: 2,
			Entries: []model.Entry{
				{
					Meta: liveMeta("e2", scanTime.Add(-time.Hour)), ListID: "l2", ItemID: "i1", OrderKey: 1,
					Item: item(scanTime.Add(-time.Hour), "replica-a", true),
				},
			},
		},
	}
	repaired, _, err := newTestScanner().RepairTree(lists)
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range repaired {
		for _, e := range l.Entries {
			if e.Item == nil {
				t.Fatalf("entry %s lost its item", e.ID)
			}
			if !e.Item.Watched || e.Item.OriginReplica != "replica-a" {
				t.Errorf("entry %s on %q carries the stale copy (watched=%v origin=%s)",
					e.ID, l.Name, e.Item.Watched, e.Item.OriginReplica)
			}
		}
	}
}
