package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/renderinc/ocrhive/internal/ocr"
	"github.com/renderinc/ocrhive/internal/record"
)

// ErrOCRFailed wraps failures of the OCR backend. The core does not retry;
// transient-vs-fatal is the caller's call.
var ErrOCRFailed = errors.New("ocr failed")

// Decision is the outcome of routing one upload through the backend.
type Decision struct {
	// Text is the extracted or recognized text. May be empty (a blank
	// scan recognizes to nothing).
	Text string
	// DerivedPDF holds the generated searchable PDF, nil when none was
	// produced (native-text PDFs, or PDF artifact storage disabled).
	DerivedPDF []byte
	// Metadata is parsed document info, PDF uploads only.
	Metadata *record.PdfMetadata
	// OcrPerformed reports whether recognition actually ran; a PDF with a
	// sufficient native text layer keeps it false.
	OcrPerformed bool
}

// DecisionEngine decides, per upload, whether OCR is needed and which
// backend call produces the text and the optional derived PDF.
type DecisionEngine struct {
	Backend ocr.Backend

	// GeneratePDF mirrors the store-pdf-artifacts policy: when false no
	// derived PDF bytes are produced at all.
	GeneratePDF bool

	// TextDetector overrides HasReadableText for the NeedsOCR predicate.
	TextDetector func(string) bool

	Logger *slog.Logger
}

func (e *DecisionEngine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Process routes data through the decision table. mimeType must already be
// validated against the allow-list.
func (e *DecisionEngine) Process(ctx context.Context, data []byte, mimeType string) (*Decision, error) {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return e.processImage(ctx, data)
	case mimeType == record.MimeTypePDF:
		return e.processPDF(ctx, data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidMimeType, mimeType)
	}
}

// processImage always OCRs. With the PDF artifact policy enabled the image
// is rendered into a searchable PDF whose text layer then provides the
// extracted text, so text and artifact cannot disagree.
func (e *DecisionEngine) processImage(ctx context.Context, data []byte) (*Decision, error) {
	if !e.GeneratePDF {
		text, err := e.Backend.ImageToText(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("%w: image to text: %w", ErrOCRFailed, err)
		}
		return &Decision{Text: text, OcrPerformed: true}, nil
	}

	pdf, err := e.Backend.ImageToSearchablePDF(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%w: image to pdf: %w", ErrOCRFailed, err)
	}
	text, err := e.Backend.PDFToText(ctx, pdf)
	if err != nil {
		return nil, fmt.Errorf("%w: derived pdf to text: %w", ErrOCRFailed, err)
	}
	return &Decision{Text: text, DerivedPDF: pdf, OcrPerformed: true}, nil
}

func (e *DecisionEngine) processPDF(ctx context.Context, data []byte) (*Decision, error) {
	// Document info is independent of the OCR outcome; a parse failure
	// degrades to missing metadata rather than failing the upload.
	meta, err := e.Backend.PDFMetadata(ctx, data)
	if err != nil {
		e.logger().Warn("pdf metadata extraction failed", "error", err)
		meta = nil
	}

	native, err := e.Backend.PDFToText(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%w: pdf to text: %w", ErrOCRFailed, err)
	}
	if !NeedsOCR(native, e.TextDetector) {
		return &Decision{Text: native, Metadata: meta}, nil
	}

	text, pdf, err := e.Backend.OcrPDF(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%w: ocr pdf: %w", ErrOCRFailed, err)
	}
	if !e.GeneratePDF {
		pdf = nil
	}
	return &Decision{Text: text, DerivedPDF: pdf, Metadata: meta, OcrPerformed: true}, nil
}
