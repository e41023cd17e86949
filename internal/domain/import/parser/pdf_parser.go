package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"

	"github.com/gen2brain/go-fitz"
)

// DefaultDPI matches the resolution statements were rasterized at before
// being sent to the model.
const DefaultDPI = 200

var (
	// ErrNotPDF is returned when the upload cannot be opened as a PDF.
	ErrNotPDF = errors.New("file is not a readable pdf")
	// ErrEmptyPDF is returned for a PDF without pages.
	ErrEmptyPDF = errors.New("pdf has no pages")
)

// PageImage is one rendered statement page. Page is 1-indexed.
type PageImage struct {
	Page     int
	PNG      []byte
	MimeType string
}

// PageError is a page that could not be rendered.
type PageError struct {
	Page int
	Err  error
}

func (e PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

// PDFRenderer rasterizes statement PDFs with MuPDF.
type PDFRenderer struct {
	dpi float64
}

// NewPDFRenderer creates a renderer. A non-positive dpi uses DefaultDPI.
func NewPDFRenderer(dpi int) *PDFRenderer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &PDFRenderer{dpi: float64(dpi)}
}

// DPI returns the render resolution.
func (r *PDFRenderer) DPI() int {
	return int(r.dpi)
}

// Render returns one PNG per page in page order. Pages that fail to render
// are returned as PageError values so the caller can report them; the error
// result is reserved for documents that cannot be processed at all.
func (r *PDFRenderer) Render(ctx context.Context, pdf []byte) ([]PageImage, []PageError, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNotPDF, err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n == 0 {
		return nil, nil, ErrEmptyPDF
	}

	pages := make([]PageImage, 0, n)
	var failed []PageError
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		img, err := doc.ImageDPI(i, r.dpi)
		if err != nil {
			failed = append(failed, PageError{Page: i + 1, Err: err})
			continue
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			failed = append(failed, PageError{Page: i + 1, Err: fmt.Errorf("encode png: %w", err)})
			continue
		}

		pages = append(pages, PageImage{
			Page:     i + 1,
			PNG:      buf.Bytes(),
			MimeType: "image/png",
		})
	}

	return pages, failed, nil
}
