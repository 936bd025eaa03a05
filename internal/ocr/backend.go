// Package ocr defines the capability interface for text recognition and
// PDF text extraction, and a production backend built on Tesseract,
// OCRmyPDF, pdftotext and pdfcpu.
package ocr

import (
	"context"

	"github.com/renderinc/ocrhive/internal/record"
)

// Backend is the external OCR collaborator. All calls are blocking and
// CPU/process bound; callers own timeout policy via ctx.
type Backend interface {
	// ImageToText recognizes the text of an encoded image.
	ImageToText(ctx context.Context, data []byte) (string, error)

	// ImageToSearchablePDF recognizes an encoded image and renders a
	// searchable PDF containing the image with a text layer.
	ImageToSearchablePDF(ctx context.Context, data []byte) ([]byte, error)

	// PDFToText extracts the native text layer of a PDF. An empty result
	// with nil error means the PDF has no text layer.
	PDFToText(ctx context.Context, data []byte) (string, error)

	// PDFMetadata parses document info from a PDF.
	PDFMetadata(ctx context.Context, data []byte) (*record.PdfMetadata, error)

	// OcrPDF force-OCRs a PDF, producing the recognized text and a new
	// searchable PDF.
	OcrPDF(ctx context.Context, data []byte) (text string, pdf []byte, err error)
}
