package image

import (
	"fmt"
	stdimage "image"
	"sync"

	"github.com/gen2brain/go-fitz"
)

// Rasterizer opens pdf documents for page rendering.
type Rasterizer interface {
	Open(data []byte) (Document, error)
}

// Document is an open pdf. Pages are 1-based.
type Document interface {
	PageCount() int
	// PageBounds is the page size in points.
	PageBounds(page int) (stdimage.Rectangle, error)
	Render(page, dpi int) (stdimage.Image, error)
	Close() error
}

// FitzRasterizer renders pages in process with MuPDF.
type FitzRasterizer struct{}

func (FitzRasterizer) Open(data []byte) (Document, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return &fitzDocument{doc: doc}, nil
}

// fitz documents are not safe for concurrent use.
type fitzDocument struct {
	mu  sync.Mutex
	doc *fitz.Document
}

func (d *fitzDocument) PageCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.NumPage()
}

func (d *fitzDocument) PageBounds(page int) (stdimage.Rectangle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, err := d.doc.Bound(page - 1)
	if err != nil {
		return stdimage.Rectangle{}, fmt.Errorf("page %d bounds: %w", page, err)
	}
	return r, nil
}

func (d *fitzDocument) Render(page, dpi int) (stdimage.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, err := d.doc.ImageDPI(page-1, float64(dpi))
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", page, err)
	}
	return img, nil
}

func (d *fitzDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Close()
}
