package registry

import (
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

func rasterizes(from, to domain.Format) bool {
	return from.ID == "pdf" && (to.Category == domain.CategoryImage || to.ID == "zip")
}

func paginatesImage(from, to domain.Format) bool {
	return from.Category == domain.CategoryImage && to.ID == "pdf"
}

func namedSheets(f domain.Format) bool {
	return f.Category == domain.CategorySpreadsheet && f.ID != "csv"
}

// OptionsFor describes the options accepted for a legal pair.
func (r *Registry) OptionsFor(from, to string) ([]domain.OptionSpec, error) {
	if _, err := r.ResolveBackend(from, to); err != nil {
		return nil, err
	}
	in, _ := r.Lookup(from)
	out, _ := r.Lookup(to)

	specs := make([]domain.OptionSpec, 0, 4)
	if out.ID == "jpg" {
		specs = append(specs, domain.OptionSpec{
			Name: "quality", Type: "integer", Min: 1, Max: 100, Default: domain.DefaultJPEGQuality,
			Description: "Lossy encoder quality.",
		})
	}
	switch {
	case rasterizes(in, out):
		specs = append(specs, domain.OptionSpec{
			Name: "dpi", Type: "integer", Min: domain.MinDPI, Max: domain.MaxDPI, Default: domain.DefaultRasterDPI,
			Description: "Rendering resolution for PDF pages.",
		})
	case paginatesImage(in, out):
		specs = append(specs, domain.OptionSpec{
			Name: "dpi", Type: "integer", Min: domain.MinDPI, Max: domain.MaxDPI, Default: domain.DefaultPageDPI,
			Description: "Pixel density used to size the PDF page.",
		})
	}
	if in.ID == "pdf" {
		specs = append(specs, domain.OptionSpec{
			Name: "page_range", Type: "object",
			Description: "Inclusive 1-based page range {start,end}.",
		})
	}
	if namedSheets(in) {
		specs = append(specs, domain.OptionSpec{
			Name: "sheet", Type: "string",
			Description: "Worksheet name; defaults to the first sheet.",
		})
	}
	if in.ID == "csv" || out.ID == "csv" {
		specs = append(specs, domain.OptionSpec{
			Name: "delimiter", Type: "string", Default: ",",
			Description: "Single-character field delimiter.",
		})
	}
	return specs, nil
}

// ValidateOptions rejects options that are out of range or meaningless for
// the pair.
func (r *Registry) ValidateOptions(from, to domain.Format, opts domain.ConversionOptions) error {
	if opts.Quality != 0 {
		if to.ID != "jpg" {
			return domain.NewFailure(domain.ErrInvalidInput, "quality is not applicable to %s output", to.ID)
		}
		if opts.Quality < 1 || opts.Quality > 100 {
			return domain.NewFailure(domain.ErrInvalidInput, "quality must be between 1 and 100")
		}
	}
	if opts.DPI != 0 {
		if !rasterizes(from, to) && !paginatesImage(from, to) {
			return domain.NewFailure(domain.ErrInvalidInput, "dpi is not applicable to %s to %s", from.ID, to.ID)
		}
		if opts.DPI < domain.MinDPI || opts.DPI > domain.MaxDPI {
			return domain.NewFailure(domain.ErrInvalidInput, "dpi must be between %d and %d", domain.MinDPI, domain.MaxDPI)
		}
	}
	if opts.PageRange != nil {
		if from.ID != "pdf" {
			return domain.NewFailure(domain.ErrInvalidInput, "page_range is only applicable to pdf input")
		}
		if opts.PageRange.Start < 1 || opts.PageRange.End < opts.PageRange.Start {
			return domain.NewFailure(domain.ErrInvalidInput, "page_range must satisfy 1 <= start <= end")
		}
	}
	if opts.Sheet != "" && !namedSheets(from) {
		return domain.NewFailure(domain.ErrInvalidInput, "sheet is only applicable to spreadsheet input")
	}
	if opts.Delimiter != "" {
		if from.ID != "csv" && to.ID != "csv" {
			return domain.NewFailure(domain.ErrInvalidInput, "delimiter is only applicable to csv")
		}
		if utf8.RuneCountInString(opts.Delimiter) != 1 || strings.ContainsAny(opts.Delimiter, "\"\r\n") {
			return domain.NewFailure(domain.ErrInvalidInput, "delimiter must be a single character")
		}
	}
	return nil
}
