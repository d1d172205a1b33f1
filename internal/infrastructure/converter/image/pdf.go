package image

import (
	"bytes"
	"context"
	"fmt"
	stdimage "image"
	"image/png"
	"math"

	"github.com/go-pdf/fpdf"
	"github.com/klauspost/compress/zip"
)

// imageToPDF places the image on a single page sized to it at dpi.
func imageToPDF(img stdimage.Image, dpi int) ([]byte, error) {
	b := img.Bounds()
	w := float64(b.Dx()) * 72 / float64(dpi)
	h := float64(b.Dy()) * 72 / float64(dpi)

	var encoded bytes.Buffer
	if err := png.Encode(&encoded, img); err != nil {
		return nil, fmt.Errorf("encode page image: %w", err)
	}

	doc := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: w, Ht: h},
	})
	doc.SetMargins(0, 0, 0)
	doc.SetAutoPageBreak(false, 0)
	doc.AddPage()
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	doc.RegisterImageOptionsReader("page", opts, &encoded)
	doc.ImageOptions("page", 0, 0, w, h, false, opts, 0, "")

	var out bytes.Buffer
	if err := doc.Output(&out); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return out.Bytes(), nil
}

// checkPagePixels rejects a page whose raster at dpi would exceed maxPixels.
// Page bounds are in points, 72 to the inch.
func checkPagePixels(doc Document, page, dpi, maxPixels int) error {
	bounds, err := doc.PageBounds(page)
	if err != nil {
		return fmt.Errorf("%w: %v", errCorrupt, err)
	}
	scale := float64(dpi) / 72
	w := math.Ceil(float64(bounds.Dx()) * scale)
	h := math.Ceil(float64(bounds.Dy()) * scale)
	if w*h > float64(maxPixels) {
		return fmt.Errorf("%w: page %d at %d dpi is %.0fx%.0f pixels", errTooLarge, page, dpi, w, h)
	}
	return nil
}

// renderPages rasterizes every page in [start, end] into a zip of PNGs.
func renderPages(ctx context.Context, doc Document, start, end, dpi, maxPixels int) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for page := start; page <= end; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := checkPagePixels(doc, page, dpi, maxPixels); err != nil {
			return nil, err
		}
		img, err := doc.Render(page, dpi)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errCorrupt, err)
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:   fmt.Sprintf("page-%03d.png", page),
			Method: zip.Store,
		})
		if err != nil {
			return nil, fmt.Errorf("add page %d: %w", page, err)
		}
		if err := png.Encode(w, img); err != nil {
			return nil, fmt.Errorf("encode page %d: %w", page, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}
