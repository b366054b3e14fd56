package model

import "sort"

// Collections is the flat, per-kind view of the entity graph — the shape
// the local store reads and writes (one table per kind). The nested list
// tree used by snapshots is derived from it via Tree, and flattened back
// via Flatten. Parent pointers live in the child records (Entry.ListID,
// Entry.ItemID, SubEntry.ItemID, Note.ItemID); the nested child slices are
// nil in this form.
type Collections struct {
	Lists      []List
	Entries    []Entry
	Items      []CatalogItem
	SubEntries []SubEntry
	Notes      []Note
}

// Flatten decomposes a nested list tree into per-kind collections.
// Duplicate list and entry ids are preserved verbatim: flattening never
// resolves those conflicts, that is the integrity scanner's job. Catalog
// items are the exception — the same item may ride along under several
// entries (one movie on two lists), and those copies are one logical
// record, so the copy with the superseding metadata is the one stored.
func Flatten(lists []List) *Collections {
	c := &Collections{}
	items := make(map[string]*CatalogItem)
	itemOrder := []string{}
	for _, l := range lists {
		flat := l
		flat.Entries = nil
		c.Lists = append(c.Lists, flat)
		for _, e := range l.Entries {
			fe := e
			if fe.Item != nil && fe.ItemID == "" {
				fe.ItemID = fe.Item.ID
			}
			item := fe.Item
			fe.Item = nil
			c.Entries = append(c.Entries, fe)
			if item == nil {
				continue
			}
			if existing, ok := items[item.ID]; ok {
				if item.Supersedes(existing.Meta) {
					items[item.ID] = item
				}
				continue
			}
			items[item.ID] = item
			itemOrder = append(itemOrder, item.ID)
		}
	}
	for _, id := range itemOrder {
		item := items[id]
		fi := *item
		fi.SubEntries = nil
		fi.Notes = nil
		c.Items = append(c.Items, fi)
		c.SubEntries = append(c.SubEntries, item.SubEntries...)
		c.Notes = append(c.Notes, item.Notes...)
	}
	return c
}

// Tree reassembles the nested list form. Children attach to their parents
// via the reference ids; ids are assumed unique and references resolved
// (the integrity scanner establishes both). Siblings come out sorted by
// ordering key so the tree reflects intended display order.
func (c *Collections) Tree() []List {
	items := make(map[string]*CatalogItem, len(c.Items))
	for _, item := range c.Items {
		it := item
		it.SubEntries = nil
		it.Notes = nil
		items[it.ID] = &it
	}
	for _, se := range c.SubEntries {
		if parent, ok := items[se.ItemID]; ok {
			parent.SubEntries = append(parent.SubEntries, se)
		}
	}
	for _, n := range c.Notes {
		if parent, ok := items[n.ItemID]; ok {
			parent.Notes = append(parent.Notes, n)
		}
	}

	entriesByList := make(map[string][]Entry)
	for _, e := range c.Entries {
		entry := e
		if item, ok := items[entry.ItemID]; ok {
			attached := *item
			entry.Item = &attached
		}
		entriesByList[entry.ListID] = append(entriesByList[entry.ListID], entry)
	}

	out := make([]List, 0, len(c.Lists))
	for _, l := range c.Lists {
		list := l
		list.Entries = entriesByList[list.ID]
		sort.SliceStable(list.Entries, func(i, j int) bool {
			return list.Entries[i].OrderKey < list.Entries[j].OrderKey
		})
		out = append(out, list)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderKey < out[j].OrderKey })
	return out
}
