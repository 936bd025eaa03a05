package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/renderinc/ocrhive/internal/record"
)

// Toolchain implements Backend using the standard OCR toolset: gosseract
// (libtesseract) for image recognition, the tesseract CLI for searchable
// PDF rendering, ocrmypdf for force-OCR of PDFs, pdftotext for native text
// layers and pdfcpu for document info.
type Toolchain struct {
	// Languages are Tesseract language hints, e.g. ["rus", "eng"].
	Languages []string

	// Binary overrides; defaults are resolved from PATH.
	TesseractBin string
	OCRmyPDFBin  string
	PdftotextBin string
}

// NewToolchain returns a Toolchain with the given language hints.
func NewToolchain(languages ...string) *Toolchain {
	return &Toolchain{Languages: languages}
}

func (t *Toolchain) tesseract() string { return orDefault(t.TesseractBin, "tesseract") }
func (t *Toolchain) ocrmypdf() string  { return orDefault(t.OCRmyPDFBin, "ocrmypdf") }
func (t *Toolchain) pdftotext() string { return orDefault(t.PdftotextBin, "pdftotext") }

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// langArg renders the language hints in tesseract CLI form ("rus+eng").
func (t *Toolchain) langArg() string { return strings.Join(t.Languages, "+") }

// ImageToText recognizes an image in-process via gosseract.
func (t *Toolchain) ImageToText(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c := gosseract.NewClient()
	defer c.Close()
	if err := c.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	if len(t.Languages) > 0 {
		if err := c.SetLanguage(t.Languages...); err != nil {
			return "", fmt.Errorf("set languages: %w", err)
		}
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize image: %w", err)
	}
	return text, nil
}

// ImageToSearchablePDF shells out to the tesseract CLI, which renders a PDF
// with the source image and an invisible text layer.
func (t *Toolchain) ImageToSearchablePDF(ctx context.Context, data []byte) ([]byte, error) {
	args := []string{"stdin", "stdout"}
	if lang := t.langArg(); lang != "" {
		args = append(args, "-l", lang)
	}
	args = append(args, "pdf")
	return runStdio(ctx, t.tesseract(), args, data)
}

// PDFToText extracts the native text layer via pdftotext.
func (t *Toolchain) PDFToText(ctx context.Context, data []byte) (string, error) {
	out, err := runStdio(ctx, t.pdftotext(), []string{"-", "-"}, data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// OcrPDF force-OCRs a PDF with ocrmypdf. The recognized text is collected
// through ocrmypdf's sidecar file, the rebuilt PDF through stdout.
func (t *Toolchain) OcrPDF(ctx context.Context, data []byte) (string, []byte, error) {
	dir, err := os.MkdirTemp("", "ocrhive-sidecar-")
	if err != nil {
		return "", nil, fmt.Errorf("create sidecar dir: %w", err)
	}
	defer os.RemoveAll(dir)
	sidecar := filepath.Join(dir, "sidecar.txt")

	args := []string{"--force-ocr", "--sidecar", sidecar}
	if lang := t.langArg(); lang != "" {
		args = append(args, "-l", lang)
	}
	args = append(args, "-", "-")

	pdf, err := runStdio(ctx, t.ocrmypdf(), args, data)
	if err != nil {
		return "", nil, err
	}
	text, err := os.ReadFile(sidecar)
	if err != nil {
		return "", nil, fmt.Errorf("read sidecar: %w", err)
	}
	return string(text), pdf, nil
}

// PDFMetadata parses document info from the PDF via pdfcpu.
func (t *Toolchain) PDFMetadata(ctx context.Context, data []byte) (*record.PdfMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := api.PDFInfo(bytes.NewReader(data), "", nil, model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("pdf info: %w", err)
	}
	return &record.PdfMetadata{
		PageCount:    info.PageCount,
		Author:       info.Author,
		CreationDate: info.CreationDate,
		Creator:      info.Creator,
		ModDate:      info.ModificationDate,
		Producer:     info.Producer,
		Title:        info.Title,
	}, nil
}

// runStdio runs bin with args, feeding stdin and returning stdout. Stderr is
// folded into the error on failure.
func runStdio(ctx context.Context, bin string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", bin, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", bin, err)
	}
	return stdout.Bytes(), nil
}
