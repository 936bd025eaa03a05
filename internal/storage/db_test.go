package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/renderinc/ocrhive/internal/record"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "ocrhive.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func strPtr(s string) *string { return &s }

func newTestRecord(primary, derived string) *record.Record {
	now := time.Now().UTC()
	return &record.Record{
		PrimaryHash: primary,
		DerivedHash: derived,
		MimeType:    "image/png",
		Text:        strPtr("recognized text"),
		OcredAt:     &now,
		FileSlot:    record.ArtifactSlot{State: record.SlotPresent, Key: "upload/" + primary},
		PdfSlot:     record.ArtifactSlot{State: record.SlotPresent, Key: "pdf/" + primary + ".pdf"},
	}
}

func TestCreateAndGet(t *testing.T) {
	db := openTestDB(t)

	rec := newTestRecord("aaaa", "bbbb")
	rec.Metadata = &record.PdfMetadata{PageCount: 3, Author: "someone", Title: "report"}
	if err := db.CreateRecord(rec); err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}
	if rec.ID == 0 {
		t.Fatalf("ID not assigned")
	}
	if rec.UploadedAt.IsZero() {
		t.Fatalf("UploadedAt not stamped")
	}

	got, err := db.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatalf("Get() returned nil")
	}
	if got.PrimaryHash != "aaaa" || got.DerivedHash != "bbbb" {
		t.Fatalf("hashes: %s / %s", got.PrimaryHash, got.DerivedHash)
	}
	if got.Text == nil || *got.Text != "recognized text" {
		t.Fatalf("text: %v", got.Text)
	}
	if got.OcredAt == nil {
		t.Fatalf("OcredAt lost")
	}
	if got.Metadata == nil || got.Metadata.PageCount != 3 || got.Metadata.Title != "report" {
		t.Fatalf("metadata: %+v", got.Metadata)
	}
	if got.FileSlot.State != record.SlotPresent || got.PdfSlot.Key != "pdf/aaaa.pdf" {
		t.Fatalf("slots: %+v / %+v", got.FileSlot, got.PdfSlot)
	}

	missing, err := db.Get(rec.ID + 100)
	if err != nil {
		t.Fatalf("Get(missing) error = %v", err)
	}
	if missing != nil {
		t.Fatalf("Get(missing) = %+v", missing)
	}
}

func TestCreateIsIdempotentOnSavedRecord(t *testing.T) {
	db := openTestDB(t)

	rec := newTestRecord("aaaa", "")
	if err := db.CreateRecord(rec); err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}
	id, uploaded := rec.ID, rec.UploadedAt

	// Re-saving a created record must not insert again nor touch stamps.
	if err := db.CreateRecord(rec); err != nil {
		t.Fatalf("second CreateRecord() error = %v", err)
	}
	if rec.ID != id || !rec.UploadedAt.Equal(uploaded) {
		t.Fatalf("re-save mutated record: id %d->%d", id, rec.ID)
	}
	count, _ := db.Count()
	if count != 1 {
		t.Fatalf("record count = %d, want 1", count)
	}
}

func TestHashConflicts(t *testing.T) {
	db := openTestDB(t)

	first := newTestRecord("aaaa", "bbbb")
	if err := db.CreateRecord(first); err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}

	cases := []struct {
		name string
		rec  *record.Record
	}{
		{"primary vs primary", newTestRecord("aaaa", "")},
		{"primary vs existing derived", newTestRecord("bbbb", "")},
		{"derived vs existing primary", newTestRecord("cccc", "aaaa")},
		{"derived vs existing derived", newTestRecord("dddd", "bbbb")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := db.CreateRecord(tc.rec)
			if !errors.Is(err, ErrHashConflict) {
				t.Fatalf("CreateRecord() error = %v, want ErrHashConflict", err)
			}
			if tc.rec.ID != 0 {
				t.Fatalf("failed create assigned ID %d", tc.rec.ID)
			}
		})
	}

	// Nothing partial persisted.
	count, _ := db.Count()
	if count != 1 {
		t.Fatalf("record count = %d, want 1", count)
	}
}

func TestFindByHash(t *testing.T) {
	db := openTestDB(t)

	rec := newTestRecord("aaaa", "bbbb")
	if err := db.CreateRecord(rec); err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}

	for _, h := range []string{"aaaa", "bbbb"} {
		got, err := db.FindByHash(h)
		if err != nil {
			t.Fatalf("FindByHash(%s) error = %v", h, err)
		}
		if got == nil || got.ID != rec.ID {
			t.Fatalf("FindByHash(%s) = %+v", h, got)
		}
	}

	got, err := db.FindByHash("ffff")
	if err != nil {
		t.Fatalf("FindByHash(miss) error = %v", err)
	}
	if got != nil {
		t.Fatalf("FindByHash(miss) = %+v", got)
	}
}

func TestUpdateSlots(t *testing.T) {
	db := openTestDB(t)

	rec := newTestRecord("aaaa", "bbbb")
	if err := db.CreateRecord(rec); err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}

	rec.FileSlot.MarkRemoved()
	if err := db.UpdateFileSlot(rec.ID, rec.FileSlot); err != nil {
		t.Fatalf("UpdateFileSlot() error = %v", err)
	}
	rec.PdfSlot.MarkRemoved()
	if err := db.UpdatePdfSlot(rec.ID, rec.PdfSlot); err != nil {
		t.Fatalf("UpdatePdfSlot() error = %v", err)
	}

	got, _ := db.Get(rec.ID)
	if got.FileSlot.State != record.SlotRemoved || got.FileSlot.Key != "" {
		t.Fatalf("file slot: %+v", got.FileSlot)
	}
	if got.PdfSlot.State != record.SlotRemoved {
		t.Fatalf("pdf slot: %+v", got.PdfSlot)
	}
	// Removal keeps the derived hash claim for dedup.
	if got.DerivedHash != "bbbb" {
		t.Fatalf("derived hash dropped on removal: %q", got.DerivedHash)
	}
	if byHash, _ := db.FindByHash("bbbb"); byHash == nil {
		t.Fatalf("derived hash no longer resolvable after removal")
	}
}

func TestAttachDerivedPDF(t *testing.T) {
	db := openTestDB(t)

	rec := newTestRecord("aaaa", "bbbb")
	if err := db.CreateRecord(rec); err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}
	rec.PdfSlot.MarkRemoved()
	if err := db.UpdatePdfSlot(rec.ID, rec.PdfSlot); err != nil {
		t.Fatalf("UpdatePdfSlot() error = %v", err)
	}

	// Regenerate with a different derived hash.
	if err := db.AttachDerivedPDF(rec.ID, "eeee", "pdf/aaaa.pdf", strPtr("new text")); err != nil {
		t.Fatalf("AttachDerivedPDF() error = %v", err)
	}
	got, _ := db.Get(rec.ID)
	if got.DerivedHash != "eeee" || got.PdfSlot.State != record.SlotPresent {
		t.Fatalf("after attach: hash %q slot %+v", got.DerivedHash, got.PdfSlot)
	}
	if got.Text == nil || *got.Text != "new text" {
		t.Fatalf("text after attach: %v", got.Text)
	}
	if stale, _ := db.FindByHash("bbbb"); stale != nil {
		t.Fatalf("old derived hash still claimed")
	}

	// Re-attaching the same hash is fine (same owner).
	if err := db.AttachDerivedPDF(rec.ID, "eeee", "pdf/aaaa.pdf", strPtr("new text")); err != nil {
		t.Fatalf("re-attach error = %v", err)
	}

	// A hash owned by another record conflicts.
	other := newTestRecord("1111", "2222")
	if err := db.CreateRecord(other); err != nil {
		t.Fatalf("CreateRecord(other) error = %v", err)
	}
	err := db.AttachDerivedPDF(rec.ID, "1111", "pdf/aaaa.pdf", strPtr("x"))
	if !errors.Is(err, ErrHashConflict) {
		t.Fatalf("AttachDerivedPDF(conflict) error = %v, want ErrHashConflict", err)
	}
}

func TestDeleteRecord(t *testing.T) {
	db := openTestDB(t)

	rec := newTestRecord("aaaa", "bbbb")
	if err := db.CreateRecord(rec); err != nil {
		t.Fatalf("CreateRecord() error = %v", err)
	}
	if err := db.DeleteRecord(rec.ID); err != nil {
		t.Fatalf("DeleteRecord() error = %v", err)
	}

	if got, _ := db.Get(rec.ID); got != nil {
		t.Fatalf("record survived delete")
	}
	// Both hash claims released.
	for _, h := range []string{"aaaa", "bbbb"} {
		if got, _ := db.FindByHash(h); got != nil {
			t.Fatalf("hash %s still claimed after delete", h)
		}
	}

	// A fresh upload of the same content may claim the hashes again.
	again := newTestRecord("aaaa", "bbbb")
	if err := db.CreateRecord(again); err != nil {
		t.Fatalf("CreateRecord(again) error = %v", err)
	}
}

func TestListOrder(t *testing.T) {
	db := openTestDB(t)

	for _, h := range []string{"aaaa", "bbbb", "cccc"} {
		if err := db.CreateRecord(newTestRecord(h, "")); err != nil {
			t.Fatalf("CreateRecord(%s) error = %v", h, err)
		}
	}

	recs, err := db.List(2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("List(2) returned %d records", len(recs))
	}
	// Newest first.
	if recs[0].PrimaryHash != "cccc" {
		t.Fatalf("List order: first = %s", recs[0].PrimaryHash)
	}

	all, err := db.ListAll()
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(all) != 3 || all[0].PrimaryHash != "aaaa" {
		t.Fatalf("ListAll: %d records, first %s", len(all), all[0].PrimaryHash)
	}
}
