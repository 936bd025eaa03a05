package record

import (
	"testing"
	"time"

	"github.com/renderinc/ocrhive/internal/blobstore"
)

func TestNewSlot(t *testing.T) {
	if got := NewSlot(true).State; got != SlotNeverCreated {
		t.Fatalf("NewSlot(true) state = %s", got)
	}
	if got := NewSlot(false).State; got != SlotDisabled {
		t.Fatalf("NewSlot(false) state = %s", got)
	}
}

func TestSlotMarkPresent(t *testing.T) {
	slot := NewSlot(true)
	if err := slot.MarkPresent("upload/a"); err != nil {
		t.Fatalf("MarkPresent from NeverCreated: %v", err)
	}
	if slot.State != SlotPresent || slot.Key != "upload/a" {
		t.Fatalf("slot after MarkPresent: %+v", slot)
	}

	// Present -> Present is illegal.
	if err := slot.MarkPresent("upload/b"); err == nil {
		t.Fatalf("MarkPresent from Present did not error")
	}

	// Removed -> Present is legal (regeneration).
	if !slot.MarkRemoved() {
		t.Fatalf("MarkRemoved from Present reported false")
	}
	if err := slot.MarkPresent("pdf/a.pdf"); err != nil {
		t.Fatalf("MarkPresent from Removed: %v", err)
	}

	// Disabled stays disabled.
	disabled := NewSlot(false)
	if err := disabled.MarkPresent("x"); err == nil {
		t.Fatalf("MarkPresent from Disabled did not error")
	}
}

func TestSlotMarkRemovedIdempotent(t *testing.T) {
	slot := NewSlot(true)
	if slot.MarkRemoved() {
		t.Fatalf("MarkRemoved from NeverCreated reported true")
	}
	slot.MarkPresent("upload/a")
	if !slot.MarkRemoved() {
		t.Fatalf("MarkRemoved from Present reported false")
	}
	if slot.Key != "" {
		t.Fatalf("key not cleared on removal: %q", slot.Key)
	}
	if slot.MarkRemoved() {
		t.Fatalf("second MarkRemoved reported true")
	}

	disabled := NewSlot(false)
	if disabled.MarkRemoved() {
		t.Fatalf("MarkRemoved from Disabled reported true")
	}
}

func TestRemovableChecksStorage(t *testing.T) {
	store := blobstore.NewMemory()
	slot := ArtifactSlot{State: SlotPresent, Key: "upload/a"}

	// State says Present but the bytes are gone: not removable, no error.
	if slot.Removable(store) {
		t.Fatalf("Removable true with missing bytes")
	}
	store.Put("upload/a", []byte("data"))
	if !slot.Removable(store) {
		t.Fatalf("Removable false with stored bytes")
	}
}

func ts(t time.Time) *time.Time { return &t }

func TestCanCreatePdf(t *testing.T) {
	store := blobstore.NewMemory()
	store.Put("upload/a", []byte("data"))
	now := time.Now()

	cases := []struct {
		name string
		rec  Record
		want bool
	}{
		{
			name: "ocred image with removed pdf",
			rec: Record{
				MimeType: "image/png",
				OcredAt:  ts(now),
				FileSlot: ArtifactSlot{State: SlotPresent, Key: "upload/a"},
				PdfSlot:  ArtifactSlot{State: SlotRemoved},
			},
			want: true,
		},
		{
			name: "pdf slot already present",
			rec: Record{
				MimeType: "image/png",
				OcredAt:  ts(now),
				FileSlot: ArtifactSlot{State: SlotPresent, Key: "upload/a"},
				PdfSlot:  ArtifactSlot{State: SlotPresent, Key: "pdf/a.pdf"},
			},
			want: false,
		},
		{
			name: "pdf slot disabled by policy",
			rec: Record{
				MimeType: "image/png",
				OcredAt:  ts(now),
				FileSlot: ArtifactSlot{State: SlotPresent, Key: "upload/a"},
				PdfSlot:  ArtifactSlot{State: SlotDisabled},
			},
			want: false,
		},
		{
			name: "source file removed",
			rec: Record{
				MimeType: "image/png",
				OcredAt:  ts(now),
				FileSlot: ArtifactSlot{State: SlotRemoved},
				PdfSlot:  ArtifactSlot{State: SlotRemoved},
			},
			want: false,
		},
		{
			name: "source file bytes missing from store",
			rec: Record{
				MimeType: "image/png",
				OcredAt:  ts(now),
				FileSlot: ArtifactSlot{State: SlotPresent, Key: "upload/gone"},
				PdfSlot:  ArtifactSlot{State: SlotNeverCreated},
			},
			want: false,
		},
		{
			name: "native-text pdf never creatable",
			rec: Record{
				MimeType: MimeTypePDF,
				FileSlot: ArtifactSlot{State: SlotPresent, Key: "upload/a"},
				PdfSlot:  ArtifactSlot{State: SlotNeverCreated},
			},
			want: false,
		},
		{
			name: "ocred pdf with removed derived pdf",
			rec: Record{
				MimeType: MimeTypePDF,
				OcredAt:  ts(now),
				FileSlot: ArtifactSlot{State: SlotPresent, Key: "upload/a"},
				PdfSlot:  ArtifactSlot{State: SlotRemoved},
			},
			want: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rec.CanCreatePdf(store); got != tc.want {
				t.Fatalf("CanCreatePdf() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNativeTextPDF(t *testing.T) {
	now := time.Now()
	native := Record{MimeType: MimeTypePDF}
	if !native.NativeTextPDF() {
		t.Fatalf("pdf without OcredAt should be native-text")
	}
	ocred := Record{MimeType: MimeTypePDF, OcredAt: ts(now)}
	if ocred.NativeTextPDF() {
		t.Fatalf("ocred pdf reported native-text")
	}
	img := Record{MimeType: "image/png"}
	if img.NativeTextPDF() {
		t.Fatalf("image reported native-text pdf")
	}
}
