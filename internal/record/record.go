// Package record defines the OCRed document entity and the lifecycle rules
// for its two stored artifacts: the original upload and the derived
// searchable PDF.
package record

import (
	"time"

	"github.com/renderinc/ocrhive/internal/blobstore"
)

// PdfMetadata is document information parsed from an uploaded PDF,
// independent of whether the PDF needed OCR.
type PdfMetadata struct {
	PageCount    int
	Author       string
	CreationDate string
	Creator      string
	ModDate      string
	Producer     string
	Title        string
}

// Record is a deduplicated, text-extracted document.
type Record struct {
	// ID is assigned by the store on creation and never changes.
	ID int64

	// PrimaryHash is the content hash of the uploaded bytes. Unique across
	// all records and across all DerivedHash values.
	PrimaryHash string

	// DerivedHash is the content hash of the generated searchable PDF.
	// Empty when no derived PDF was ever produced. It survives RemovePdf so
	// a re-upload of the derived bytes still dedupes to this record.
	DerivedHash string

	// MimeType is the declared content type, validated against the
	// allow-list before ingestion.
	MimeType string

	// Text is the extracted text. Nil means not yet processed; an empty
	// string is a valid extraction result (e.g. a blank scan).
	Text *string

	// UploadedAt is set exactly once when the record is created.
	UploadedAt time.Time

	// OcredAt is set only if OCR was actually invoked. A PDF whose native
	// text layer was sufficient keeps it nil.
	OcredAt *time.Time

	// Metadata is populated for PDF uploads only.
	Metadata *PdfMetadata

	// FileSlot holds the original upload, PdfSlot the derived PDF.
	FileSlot ArtifactSlot
	PdfSlot  ArtifactSlot
}

// MimeTypePDF is the declared type of PDF uploads.
const MimeTypePDF = "application/pdf"

// IsPDF reports whether the record was uploaded as a PDF.
func (r *Record) IsPDF() bool { return r.MimeType == MimeTypePDF }

// NativeTextPDF reports whether the record is a PDF whose embedded text
// layer was sufficient, so OCR never ran. Such a record has no OCR output
// and can never grow a derived PDF artifact.
func (r *Record) NativeTextPDF() bool { return r.IsPDF() && r.OcredAt == nil }

// CanRemoveFile reports whether the original upload can be removed: the
// file slot must be Present and the bytes must actually exist in store.
func (r *Record) CanRemoveFile(store blobstore.Store) bool {
	return r.FileSlot.Removable(store)
}

// CanRemovePdf reports whether the derived PDF can be removed.
func (r *Record) CanRemovePdf(store blobstore.Store) bool {
	return r.PdfSlot.Removable(store)
}

// CanCreatePdf reports whether a derived PDF can be (re)generated: the pdf
// slot must not already hold an artifact and must not be policy-disabled,
// the original bytes must still be present in store (they are the OCR
// source), and the document must be one for which OCR is meaningful. A
// native-text PDF has no OCR output to attach, ever.
func (r *Record) CanCreatePdf(store blobstore.Store) bool {
	switch r.PdfSlot.State {
	case SlotNeverCreated, SlotRemoved:
	default:
		return false
	}
	if !r.FileSlot.Removable(store) {
		return false
	}
	return !r.NativeTextPDF()
}
