package tabular

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

var (
	errCorrupt     = errors.New("corrupt input")
	errTooManyCell = errors.New("too many cells")
	errNoSheet     = errors.New("sheet not found")
	errUnsupported = errors.New("unsupported pair")
)

type Options struct {
	MaxCells int
	Logger   *slog.Logger
}

// Converter moves tabular data between csv and xlsx and renders it as json
// or an html table.
type Converter struct {
	maxCells int
	logger   *slog.Logger
}

func New(opts Options) *Converter {
	maxCells := opts.MaxCells
	if maxCells <= 0 {
		maxCells = 5_000_000
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{maxCells: maxCells, logger: logger.With("component", "tabular_converter")}
}

func Declaration() domain.BackendDeclaration {
	return domain.BackendDeclaration{
		ID:       domain.BackendTabular,
		Priority: 30,
		Capabilities: []domain.Capability{
			{Inputs: []string{"csv", "xlsx"}, Outputs: []string{"csv", "xlsx", "json", "html"}},
		},
	}
}

func (c *Converter) Declaration() domain.BackendDeclaration {
	return Declaration()
}

func (c *Converter) Convert(ctx context.Context, in domain.ConversionInput) ([]byte, error) {
	op := fmt.Sprintf("tabular convert %s->%s", in.From.ID, in.To.ID)
	out, err := c.convert(ctx, in)
	if err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

func (c *Converter) convert(ctx context.Context, in domain.ConversionInput) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		t   *table
		err error
	)
	switch in.From.ID {
	case "csv":
		// The delimiter option describes the csv side; for csv to csv it
		// names the output delimiter.
		delim := ','
		if in.To.ID != "csv" {
			delim = delimiterOr(in.Options.Delimiter)
		}
		t, err = readCSV(in.Data, delim, c.maxCells)
	case "xlsx":
		t, err = readXLSX(in.Data, in.Options.Sheet, c.maxCells)
	default:
		return nil, fmt.Errorf("%w: read %s", errUnsupported, in.From.ID)
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.logger.Debug("table_loaded", "rows", len(t.rows), "cells", t.cells, "sheet", t.sheet)

	switch in.To.ID {
	case "csv":
		return writeCSV(t, delimiterOr(in.Options.Delimiter))
	case "xlsx":
		return writeXLSX(t)
	case "json":
		return writeJSON(t)
	case "html":
		return writeHTML(t), nil
	default:
		return nil, fmt.Errorf("%w: write %s", errUnsupported, in.To.ID)
	}
}

func delimiterOr(d string) rune {
	if d == "" {
		return ','
	}
	return []rune(d)[0]
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.WrapError(domain.ErrBackendTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, errTooManyCell):
		return domain.WrapError(domain.ErrResourceExhausted, op, err)
	case errors.Is(err, errNoSheet):
		return domain.WrapError(domain.ErrInvalidInput, op, err)
	case errors.Is(err, errCorrupt):
		return domain.WrapError(domain.ErrInputCorrupt, op, err)
	case errors.Is(err, errUnsupported):
		return domain.WrapError(domain.ErrUnsupportedOperation, op, err)
	default:
		return domain.WrapError(domain.ErrInternal, op, err)
	}
}
