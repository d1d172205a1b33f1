package image

import (
	"bytes"
	"context"
	"errors"
	stdimage "image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

func convertInput(from, to string, data []byte) domain.ConversionInput {
	return domain.ConversionInput{Data: data, From: domain.Format{ID: from}, To: domain.Format{ID: to}}
}

func transparentPNG(t *testing.T) []byte {
	t.Helper()
	img := stdimage.NewNRGBA(stdimage.Rect(0, 0, 8, 8))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestPNGToJPEGFlattensAlphaOnWhite(t *testing.T) {
	out, err := New(Options{}).Convert(context.Background(), convertInput("png", "jpg", transparentPNG(t)))
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	r, g, b, _ := img.At(7, 7).RGBA()
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Fatalf("expected transparent pixel on white, got %d %d %d", r>>8, g>>8, b>>8)
	}
}

func TestJPEGQualityOption(t *testing.T) {
	src := stdimage.NewRGBA(stdimage.Rect(0, 0, 64, 64))
	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			src.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: uint8(x ^ y), A: 255})
		}
	}
	var raw bytes.Buffer
	_ = png.Encode(&raw, src)
	conv := New(Options{})

	low := convertInput("png", "jpg", raw.Bytes())
	low.Options.Quality = 10
	lowOut, err := conv.Convert(context.Background(), low)
	if err != nil {
		t.Fatalf("Convert(low) error = %v", err)
	}
	high := convertInput("png", "jpg", raw.Bytes())
	high.Options.Quality = 95
	highOut, err := conv.Convert(context.Background(), high)
	if err != nil {
		t.Fatalf("Convert(high) error = %v", err)
	}
	if len(lowOut) >= len(highOut) {
		t.Fatalf("expected quality 10 to be smaller than 95: %d >= %d", len(lowOut), len(highOut))
	}
}

func TestGIFToGIFKeepsFrames(t *testing.T) {
	pal := color.Palette{color.Black, color.White}
	anim := &gif.GIF{LoopCount: 0}
	for i := 0; i < 3; i++ {
		frame := stdimage.NewPaletted(stdimage.Rect(0, 0, 4, 4), pal)
		frame.SetColorIndex(i, i, 1)
		anim.Image = append(anim.Image, frame)
		anim.Delay = append(anim.Delay, 10)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		t.Fatalf("encode gif: %v", err)
	}

	out, err := New(Options{}).Convert(context.Background(), convertInput("gif", "gif", buf.Bytes()))
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	decoded, err := gif.DecodeAll(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode gif: %v", err)
	}
	if len(decoded.Image) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(decoded.Image))
	}
}

func TestImageToPDF(t *testing.T) {
	out, err := New(Options{}).Convert(context.Background(), convertInput("png", "pdf", transparentPNG(t)))
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF-")) {
		t.Fatalf("expected pdf output, got %q", out[:min(16, len(out))])
	}
}

func TestCorruptAndOversizedImages(t *testing.T) {
	conv := New(Options{MaxPixels: 16})
	_, err := conv.Convert(context.Background(), convertInput("png", "jpg", []byte("\x89PNG\r\n\x1a\nbroken")))
	if !domain.IsKind(err, domain.ErrInputCorrupt) {
		t.Fatalf("expected corrupt input, got %v", err)
	}
	_, err = conv.Convert(context.Background(), convertInput("png", "jpg", transparentPNG(t)))
	if !domain.IsKind(err, domain.ErrResourceExhausted) {
		t.Fatalf("expected resource exhausted for 8x8 over 16 pixels, got %v", err)
	}
}

type fakeDocument struct {
	pages    int
	size     stdimage.Rectangle
	rendered []int
	dpi      int
	closed   bool
}

func (d *fakeDocument) PageCount() int { return d.pages }

func (d *fakeDocument) PageBounds(int) (stdimage.Rectangle, error) {
	if d.size.Empty() {
		return stdimage.Rect(0, 0, 612, 792), nil
	}
	return d.size, nil
}

func (d *fakeDocument) Render(page, dpi int) (stdimage.Image, error) {
	d.rendered = append(d.rendered, page)
	d.dpi = dpi
	return stdimage.NewRGBA(stdimage.Rect(0, 0, 2, 2)), nil
}

func (d *fakeDocument) Close() error {
	d.closed = true
	return nil
}

type fakeRasterizer struct {
	doc *fakeDocument
	err error
}

func (r *fakeRasterizer) Open([]byte) (Document, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.doc, nil
}

func TestPDFToImageRendersFirstPageOfRange(t *testing.T) {
	doc := &fakeDocument{pages: 5}
	conv := New(Options{Rasterizer: &fakeRasterizer{doc: doc}})
	in := convertInput("pdf", "png", []byte("%PDF-1.7"))
	in.Options.PageRange = &domain.PageRange{Start: 3, End: 4}

	out, err := conv.Convert(context.Background(), in)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(out)); err != nil {
		t.Fatalf("expected png output: %v", err)
	}
	if len(doc.rendered) != 1 || doc.rendered[0] != 3 {
		t.Fatalf("expected page 3 rendered, got %v", doc.rendered)
	}
	if doc.dpi != domain.DefaultRasterDPI || !doc.closed {
		t.Fatalf("unexpected dpi %d closed %v", doc.dpi, doc.closed)
	}
}

func TestPDFToZipPacksPages(t *testing.T) {
	doc := &fakeDocument{pages: 3}
	conv := New(Options{Rasterizer: &fakeRasterizer{doc: doc}})
	in := convertInput("pdf", "zip", []byte("%PDF-1.7"))
	in.Options.DPI = 150

	out, err := conv.Convert(context.Background(), in)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(out), int64(len(out)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	if len(zr.File) != 3 || zr.File[0].Name != "page-001.png" {
		t.Fatalf("unexpected archive entries %d", len(zr.File))
	}
	if doc.dpi != 150 {
		t.Fatalf("expected dpi 150, got %d", doc.dpi)
	}
}

func TestPDFPageCapAndRasterizerFailures(t *testing.T) {
	conv := New(Options{Rasterizer: &fakeRasterizer{doc: &fakeDocument{pages: 10}}, MaxPages: 4})
	_, err := conv.Convert(context.Background(), convertInput("pdf", "zip", []byte("%PDF")))
	if !domain.IsKind(err, domain.ErrResourceExhausted) {
		t.Fatalf("expected resource exhausted, got %v", err)
	}

	conv = New(Options{Rasterizer: &fakeRasterizer{err: errors.New("no xref")}})
	_, err = conv.Convert(context.Background(), convertInput("pdf", "png", []byte("%PDF")))
	if !domain.IsKind(err, domain.ErrInputCorrupt) {
		t.Fatalf("expected corrupt input, got %v", err)
	}

	_, err = New(Options{}).Convert(context.Background(), convertInput("pdf", "png", []byte("%PDF")))
	if !domain.IsKind(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected backend unavailable without rasterizer, got %v", err)
	}
}

func TestPDFPagePixelCapAppliesBeforeRendering(t *testing.T) {
	for _, to := range []string{"png", "zip"} {
		t.Run(to, func(t *testing.T) {
			// 20x20 inch pages at 300 dpi are 6000x6000 pixels.
			doc := &fakeDocument{pages: 2, size: stdimage.Rect(0, 0, 1440, 1440)}
			conv := New(Options{Rasterizer: &fakeRasterizer{doc: doc}, MaxPixels: 1_000_000})
			in := convertInput("pdf", to, []byte("%PDF-1.7"))
			in.Options.DPI = 300

			_, err := conv.Convert(context.Background(), in)
			if !domain.IsKind(err, domain.ErrResourceExhausted) {
				t.Fatalf("expected resource exhausted, got %v", err)
			}
			if len(doc.rendered) != 0 {
				t.Fatalf("oversized page must not be rendered, rendered %v", doc.rendered)
			}
		})
	}
}
