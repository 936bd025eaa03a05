package ocr

import (
	"context"
	"sync"

	"github.com/renderinc/ocrhive/internal/record"
)

// Fake is a scripted Backend for tests. Zero-value fields yield empty
// results; set Err to make every call fail. Safe for concurrent use.
type Fake struct {
	ImageText string
	ImagePDF  []byte
	// ImagePDFFunc, when set, derives the searchable-PDF bytes from the
	// input instead of returning ImagePDF.
	ImagePDFFunc func(data []byte) []byte
	NativeTxt    string
	OcrText      string
	OcrOutput    []byte
	Metadata     *record.PdfMetadata
	Err          error
	MetaErr      error

	mu    sync.Mutex
	calls FakeCalls
}

// FakeCalls counts invocations per Backend method.
type FakeCalls struct {
	ImageToText          int
	ImageToSearchablePDF int
	PDFToText            int
	PDFMetadata          int
	OcrPDF               int
}

// Calls returns a snapshot of the per-method invocation counts.
func (f *Fake) Calls() FakeCalls {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) ImageToText(ctx context.Context, data []byte) (string, error) {
	f.mu.Lock()
	f.calls.ImageToText++
	f.mu.Unlock()
	return f.ImageText, f.Err
}

func (f *Fake) ImageToSearchablePDF(ctx context.Context, data []byte) ([]byte, error) {
	f.mu.Lock()
	f.calls.ImageToSearchablePDF++
	f.mu.Unlock()
	if f.ImagePDFFunc != nil {
		return f.ImagePDFFunc(data), f.Err
	}
	return f.ImagePDF, f.Err
}

func (f *Fake) PDFToText(ctx context.Context, data []byte) (string, error) {
	f.mu.Lock()
	f.calls.PDFToText++
	f.mu.Unlock()
	return f.NativeTxt, f.Err
}

func (f *Fake) PDFMetadata(ctx context.Context, data []byte) (*record.PdfMetadata, error) {
	f.mu.Lock()
	f.calls.PDFMetadata++
	f.mu.Unlock()
	if f.MetaErr != nil {
		return nil, f.MetaErr
	}
	return f.Metadata, f.Err
}

func (f *Fake) OcrPDF(ctx context.Context, data []byte) (string, []byte, error) {
	f.mu.Lock()
	f.calls.OcrPDF++
	f.mu.Unlock()
	return f.OcrText, f.OcrOutput, f.Err
}
