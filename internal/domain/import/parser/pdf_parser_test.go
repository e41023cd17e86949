package parser

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// onePagePDF builds a minimal single-page PDF with an empty content stream.
func onePagePDF() []byte {
	var b bytes.Buffer
	offsets := make([]int, 0, 4)
	b.WriteString("%PDF-1.4\n")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 72 72] /Contents 4 0 R >>",
		"<< /Length 0 >>\nstream\n\nendstream",
	}
	for i, obj := range objects {
		offsets = append(offsets, b.Len())
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return b.Bytes()
}

func TestPDFRenderer_Render(t *testing.T) {
	r := NewPDFRenderer(72)

	pages, failed, err := r.Render(context.Background(), onePagePDF())
	require.NoError(t, err)
	assert.Empty(t, failed)
	require.Len(t, pages, 1)

	assert.Equal(t, 1, pages[0].Page)
	assert.Equal(t, "image/png", pages[0].MimeType)

	img, err := png.Decode(bytes.NewReader(pages[0].PNG))
	require.NoError(t, err)
	assert.Equal(t, 72, img.Bounds().Dx())
}

func TestPDFRenderer_NotPDF(t *testing.T) {
	_, _, err := NewPDFRenderer(0).Render(context.Background(), []byte("definitely not a pdf"))
	assert.ErrorIs(t, err, ErrNotPDF)
}

func TestPDFRenderer_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewPDFRenderer(72).Render(ctx, onePagePDF())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewPDFRenderer_DefaultDPI(t *testing.T) {
	assert.Equal(t, DefaultDPI, NewPDFRenderer(0).DPI())
	assert.Equal(t, 150, NewPDFRenderer(150).DPI())
}
