// Package pdf reads schematic PDFs: page text, dimensions, rendered
// images, and title-block page numbers.
package pdf

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/tracewire/schematic-extractor/internal/domain"
)

// Processor wraps one open PDF document. Not safe for concurrent use;
// open one per goroutine.
type Processor struct {
	doc  *fitz.Document
	path string
}

// Open opens a PDF for processing. The caller must Close it.
func Open(path string) (*Processor, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, domain.PDFError(fmt.Sprintf("pdf not found: %s", path), err)
	}
	doc, err := fitz.New(path)
	if err != nil {
		return nil, domain.PDFError("failed to open pdf", err)
	}
	return &Processor{doc: doc, path: path}, nil
}

// Close releases the underlying document.
func (p *Processor) Close() error {
	if p.doc == nil {
		return nil
	}
	err := p.doc.Close()
	p.doc = nil
	return err
}

// PageCount returns the number of pages.
func (p *Processor) PageCount() int {
	return p.doc.NumPage()
}

// PageDimensions returns the page size in points at the given 0-based index.
func (p *Processor) PageDimensions(pageIndex int) (width, height float64, err error) {
	if err := p.checkIndex(pageIndex); err != nil {
		return 0, 0, err
	}
	bound, err := p.doc.Bound(pageIndex)
	if err != nil {
		return 0, 0, domain.PDFError(fmt.Sprintf("failed to measure page %d", pageIndex), err)
	}
	// go-fitz renders bounds at 72 DPI, so pixels equal points.
	return float64(bound.Dx()), float64(bound.Dy()), nil
}

// Text extracts the text of one page.
func (p *Processor) Text(pageIndex int) (string, error) {
	if err := p.checkIndex(pageIndex); err != nil {
		return "", err
	}
	text, err := p.doc.Text(pageIndex)
	if err != nil {
		return "", domain.PDFError(fmt.Sprintf("failed to extract text from page %d", pageIndex), err)
	}
	return text, nil
}

// RenderImage rasterizes one page at the given scale relative to 72 DPI.
func (p *Processor) RenderImage(pageIndex int, scale float64) (image.Image, error) {
	if err := p.checkIndex(pageIndex); err != nil {
		return nil, err
	}
	if scale <= 0 {
		scale = 2.0
	}
	img, err := p.doc.ImageDPI(pageIndex, 72*scale)
	if err != nil {
		return nil, domain.PDFError(fmt.Sprintf("failed to render page %d", pageIndex), err)
	}
	return img, nil
}

// RenderPNG rasterizes one page and encodes it as PNG bytes.
func (p *Processor) RenderPNG(pageIndex int, scale float64) ([]byte, error) {
	img, err := p.RenderImage(pageIndex, scale)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, domain.PDFError(fmt.Sprintf("failed to encode page %d", pageIndex), err)
	}
	return buf.Bytes(), nil
}

// ContextText gathers labeled text from the document's context pages
// (reading instructions, symbol legend). Pages out of range or with no
// text are skipped.
func (p *Processor) ContextText(contextPages []int) string {
	labels := []string{"READING INSTRUCTIONS", "SYMBOL LEGEND"}

	var parts []string
	for i, idx := range contextPages {
		if idx < 0 || idx >= p.PageCount() {
			continue
		}
		text, err := p.Text(idx)
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}
		label := "ADDITIONAL CONTEXT"
		if i < len(labels) {
			label = labels[i]
		}
		parts = append(parts, fmt.Sprintf("%s (PDF page %d):", label, idx+1))
		parts = append(parts, text)
		parts = append(parts, "")
	}
	return strings.Join(parts, "\n")
}

// SheetNumber reads the title-block page number of one page, e.g. "25/207".
// Returns nil when the page carries no recognizable numbering.
func (p *Processor) SheetNumber(pageIndex int) (*SheetRef, error) {
	text, err := p.Text(pageIndex)
	if err != nil {
		return nil, err
	}
	return ParseSheetNumber(text), nil
}

func (p *Processor) checkIndex(pageIndex int) error {
	if pageIndex < 0 || pageIndex >= p.doc.NumPage() {
		return domain.PDFError(
			fmt.Sprintf("page index %d out of range (0-%d)", pageIndex, p.doc.NumPage()-1), nil)
	}
	return nil
}

// FileHash computes the SHA-256 fingerprint of a file, used for upload
// deduplication.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
