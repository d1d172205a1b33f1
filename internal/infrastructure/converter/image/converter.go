package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

var (
	errCorrupt     = errors.New("corrupt input")
	errUnsupported = errors.New("unsupported pair")
	errTooLarge    = errors.New("input exceeds limits")
	errBadRange    = errors.New("page range out of bounds")
)

type Options struct {
	// Rasterizer renders pdf pages; nil disables pdf input.
	Rasterizer Rasterizer
	MaxPages   int
	// MaxPixels bounds decoded images and rasterized pdf pages.
	MaxPixels int
	Logger    *slog.Logger
}

type Converter struct {
	rasterizer Rasterizer
	maxPages   int
	maxPixels  int
	logger     *slog.Logger
}

func New(opts Options) *Converter {
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = 50
	}
	maxPixels := opts.MaxPixels
	if maxPixels <= 0 {
		maxPixels = 100_000_000
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{
		rasterizer: opts.Rasterizer,
		maxPages:   maxPages,
		maxPixels:  maxPixels,
		logger:     logger.With("component", "image_converter"),
	}
}

func Declaration() domain.BackendDeclaration {
	return domain.BackendDeclaration{
		ID:       domain.BackendImage,
		Priority: 40,
		Capabilities: []domain.Capability{
			{
				Inputs:  []string{"jpg", "png", "gif", "bmp", "tiff", "webp"},
				Outputs: []string{"jpg", "png", "gif", "bmp", "tiff", "pdf"},
			},
			{
				Inputs:  []string{"pdf"},
				Outputs: []string{"jpg", "png", "gif", "bmp", "tiff", "zip"},
			},
		},
	}
}

func (c *Converter) Declaration() domain.BackendDeclaration {
	return Declaration()
}

func (c *Converter) Convert(ctx context.Context, in domain.ConversionInput) ([]byte, error) {
	op := fmt.Sprintf("image convert %s->%s", in.From.ID, in.To.ID)
	if err := ctx.Err(); err != nil {
		return nil, classify(op, err)
	}

	var (
		out []byte
		err error
	)
	if in.From.ID == "pdf" {
		out, err = c.fromPDF(ctx, in)
	} else {
		out, err = c.fromImage(in)
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

func (c *Converter) fromImage(in domain.ConversionInput) ([]byte, error) {
	cfg, _, err := decodeConfig(in.Data)
	if err != nil {
		return nil, err
	}
	if cfg.Width*cfg.Height > c.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d pixels", errTooLarge, cfg.Width, cfg.Height)
	}
	if in.From.ID == "gif" && in.To.ID == "gif" {
		return transcodeGIF(in.Data)
	}

	img, err := decode(in.Data)
	if err != nil {
		return nil, err
	}
	if in.To.ID == "pdf" {
		return imageToPDF(img, dpiOr(in.Options.DPI, domain.DefaultPageDPI))
	}

	var buf bytes.Buffer
	if err := encode(&buf, img, in.To.ID, qualityOr(in.Options.Quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Converter) fromPDF(ctx context.Context, in domain.ConversionInput) ([]byte, error) {
	if c.rasterizer == nil {
		return nil, fmt.Errorf("%w: no pdf rasterizer configured", domain.ErrBackendUnavailable)
	}
	doc, err := c.rasterizer.Open(in.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	defer doc.Close()

	total := doc.PageCount()
	if total == 0 {
		return nil, fmt.Errorf("%w: pdf has no pages", errCorrupt)
	}
	start, end := 1, total
	if r := in.Options.PageRange; r != nil {
		if r.Start > total {
			return nil, fmt.Errorf("%w: page range %s beyond %d pages", errBadRange, r, total)
		}
		start, end = r.Start, min(r.End, total)
	}
	dpi := dpiOr(in.Options.DPI, domain.DefaultRasterDPI)

	if in.To.ID == "zip" {
		if end-start+1 > c.maxPages {
			return nil, fmt.Errorf("%w: %d pages requested, limit %d", errTooLarge, end-start+1, c.maxPages)
		}
		c.logger.Debug("rasterize_pages", "pages", end-start+1, "dpi", dpi)
		return renderPages(ctx, doc, start, end, dpi, c.maxPixels)
	}

	if err := checkPagePixels(doc, start, dpi, c.maxPixels); err != nil {
		return nil, err
	}
	img, err := doc.Render(start, dpi)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	var buf bytes.Buffer
	if err := encode(&buf, img, in.To.ID, qualityOr(in.Options.Quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func dpiOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func qualityOr(v int) int {
	if v <= 0 {
		return domain.DefaultJPEGQuality
	}
	return v
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.WrapError(domain.ErrBackendTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, domain.ErrBackendUnavailable):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, errTooLarge):
		return domain.WrapError(domain.ErrResourceExhausted, op, err)
	case errors.Is(err, errBadRange):
		return domain.WrapError(domain.ErrInvalidInput, op, err)
	case errors.Is(err, errCorrupt):
		return domain.WrapError(domain.ErrInputCorrupt, op, err)
	case errors.Is(err, errUnsupported):
		return domain.WrapError(domain.ErrUnsupportedOperation, op, err)
	default:
		return domain.WrapError(domain.ErrInternal, op, err)
	}
}
