package snapshot

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/watchsync/internal/model"
)

var testTime = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

func sampleLists() []model.List {
	watched := testTime.Add(2 * time.Hour)
	return []model.List{
		{
			Meta:     meta("list-1", testTime),
			Name:     "Weekend queue",
			OrderKey: 1.0,
			Entries: []model.Entry{
				{
					Meta:     meta("entry-1", testTime),
					ListID:   "list-1",
					ItemID:   "item-1",
					OrderKey: 1.0,
					Item: &model.CatalogItem{
						Meta:      meta("item-1", testTime),
						Title:     "The Long Voyage",
						MediaKind: model.MediaShow,
						Year:      2023,
						SubEntries: []model.SubEntry{
							{
								Meta:      meta("sub-1", testTime),
								ItemID:    "item-1",
								Season:    1,
								Episode:   1,
								Watched:   true,
								WatchedAt: &watched,
							},
						},
						Notes: []model.Note{
							{
								Meta:       meta("note-1", testTime),
								ItemID:     "item-1",
								Text:       "start with the pilot",
								Visibility: model.NotePrivate,
							},
						},
					},
				},
			},
		},
	}
}

func meta(id string, t time.Time) model.Meta {
	return model.Meta{
		ID:            id,
		CreatedAt:     t,
		UpdatedAt:     t,
		OriginReplica: "replica-a",
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	s := New(sampleLists(), testTime, "replica-a")
	data, err := Encode(s)
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Version != FormatVersion {
		t.Errorf("version = %d, want %d", decoded.Version, FormatVersion)
	}
	if decoded.ContentChecksum != s.ContentChecksum {
		t.Error("checksum changed across round trip")
	}
	if len(decoded.Lists) != 1 || len(decoded.Lists[0].Entries) != 1 {
		t.Fatal("list tree lost in round trip")
	}
	if decoded.Lists[0].Entries[0].Item.Title != "The Long Voyage" {
		t.Error("item fields lost in round trip")
	}
}

func TestChecksum_IgnoresEnvelope(t *testing.T) {
	a := New(sampleLists(), testTime, "replica-a")
	b := New(sampleLists(), testTime.Add(time.Hour), "replica-b")
	if a.ContentChecksum != b.ContentChecksum {
		t.Error("checksum must not depend on producedAt or originReplica")
	}
}

func TestChecksum_IgnoresSiblingOrder(t *testing.T) {
	lists := sampleLists()
	extra := model.List{Meta: meta("list-0", testTime), Name: "Later", OrderKey: 2.0}
	forward := Checksum([]model.List{lists[0], extra})
	reversed := Checksum([]model.List{extra, lists[0]})
	if forward != reversed {
		t.Error("canonical serialization must sort children by id")
	}
}

func TestChecksum_SensitiveToContent(t *testing.T) {
	a := Checksum(sampleLists())
	changed := sampleLists()
	changed[0].Name = "Renamed"
	if a == Checksum(changed) {
		t.Error("checksum must change when content changes")
	}
}

func TestDecode_MissingChecksumRecomputed(t *testing.T) {
	s := New(sampleLists(), testTime, "replica-a")
	s.ContentChecksum = ""
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.ContentChecksum != Checksum(decoded.Lists) {
		t.Error("missing checksum should be recomputed, not rejected")
	}
}

func TestDecode_ChecksumMismatch(t *testing.T) {
	s := New(sampleLists(), testTime, "replica-a")
	s.ContentChecksum = strings.Repeat("ab", 32)
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}

	_, err = Decode(data)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatal("expected *DecodeError")
	}
}

func TestDecode_LegacyEnvelope(t *testing.T) {
	legacy := legacyEnvelope{
		FormatVersion: 1,
		ProducedAt:    testTime,
		OriginReplica: "replica-old",
		Lists:         sampleLists(),
	}
	data, err := json.Marshal(legacy)
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Version != 1 {
		t.Errorf("version = %d, want 1", decoded.Version)
	}
	if decoded.OriginReplica != "replica-old" {
		t.Error("legacy envelope fields lost during normalization")
	}
	if decoded.ContentChecksum == "" {
		t.Error("legacy decode must compute a checksum")
	}
}

func TestDecode_Malformed(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestClone_Independent(t *testing.T) {
	s := New(sampleLists(), testTime, "replica-a")
	c := s.Clone()
	c.Lists[0].Name = "mutated"
	c.Lists[0].Entries[0].Item.Watched = true
	if s.Lists[0].Name == "mutated" {
		t.Error("clone shares list memory with original")
	}
	if s.Lists[0].Entries[0].Item.Watched {
		t.Error("clone shares item memory with original")
	}
}
