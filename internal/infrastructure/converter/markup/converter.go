package markup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

var (
	errNotText      = errors.New("input is not valid utf-8 text")
	errCorrupt      = errors.New("corrupt input")
	errBadRange     = errors.New("page range out of bounds")
	errTooManyPages = errors.New("too many pages")
)

type Options struct {
	Runner Runner
	// MaxPages bounds pdf text extraction.
	MaxPages int
	Logger   *slog.Logger
}

// Converter handles lightweight markup through pandoc, with in-process
// paths for the common cheap pairs and for pdf text extraction.
type Converter struct {
	runner   Runner
	maxPages int
	logger   *slog.Logger
}

func New(opts Options) *Converter {
	runner := opts.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = 500
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{
		runner:   runner,
		maxPages: maxPages,
		logger:   logger.With("component", "markup_converter"),
	}
}

var markupFormats = []string{"md", "html", "tex", "epub", "rst", "docx", "odt", "txt"}

func Declaration() domain.BackendDeclaration {
	return domain.BackendDeclaration{
		ID:       domain.BackendMarkup,
		Priority: 20,
		Capabilities: []domain.Capability{
			{Inputs: markupFormats, Outputs: markupFormats},
			{Inputs: []string{"pdf"}, Outputs: []string{"txt", "md", "html"}},
		},
	}
}

func (c *Converter) Declaration() domain.BackendDeclaration {
	return Declaration()
}

func (c *Converter) Convert(ctx context.Context, in domain.ConversionInput) ([]byte, error) {
	op := fmt.Sprintf("markup convert %s->%s", in.From.ID, in.To.ID)
	if err := ctx.Err(); err != nil {
		return nil, classify(op, err)
	}

	var (
		out []byte
		err error
	)
	switch {
	case in.From.ID == "pdf":
		out, err = c.fromPDF(in)
	case in.From.ID == "md" && in.To.ID == "html":
		out, err = markdownToHTML(in.Data)
	case in.From.ID == "html" && in.To.ID == "txt":
		out, err = htmlToText(in.Data)
	case in.From.ID == "txt" && in.To.ID == "html":
		out, err = textToHTML(in.Data)
	default:
		out, err = c.runPandoc(ctx, in)
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

func (c *Converter) fromPDF(in domain.ConversionInput) ([]byte, error) {
	pages, err := extractPages(in.Data, in.Options.PageRange, c.maxPages)
	if err != nil {
		return nil, err
	}
	switch in.To.ID {
	case "txt":
		return renderPagesText(pages), nil
	case "md":
		return renderPagesMarkdown(pages), nil
	case "html":
		return renderPagesHTML(pages), nil
	default:
		return nil, fmt.Errorf("%w: pdf to %s", errors.ErrUnsupported, in.To.ID)
	}
}

func (c *Converter) runPandoc(ctx context.Context, in domain.ConversionInput) ([]byte, error) {
	dir := in.WorkDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "markup-*")
		if err != nil {
			return nil, fmt.Errorf("create work dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	inName := "input." + in.From.ID
	outName := "output." + in.To.ID
	args, err := pandocArgs(in.From.ID, in.To.ID, inName, outName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrUnsupported, err)
	}
	if err := os.WriteFile(filepath.Join(dir, inName), in.Data, 0o600); err != nil {
		return nil, fmt.Errorf("write pandoc input: %w", err)
	}

	started := time.Now()
	if err := c.runner.Run(ctx, dir, args...); err != nil {
		return nil, err
	}
	c.logger.Debug("pandoc_finished", "from", in.From.ID, "to", in.To.ID, "duration_ms", time.Since(started).Milliseconds())

	out, err := os.ReadFile(filepath.Join(dir, outName))
	if err != nil {
		return nil, fmt.Errorf("%w: pandoc produced no output: %v", errCorrupt, err)
	}
	return out, nil
}

func classify(op string, err error) error {
	var exitErr *ExitError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.WrapError(domain.ErrBackendTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, exec.ErrNotFound):
		return domain.WrapError(domain.ErrBackendUnavailable, op, err)
	case errors.As(err, &exitErr):
		if unsupportedExit(exitErr.Code) {
			return domain.WrapError(domain.ErrUnsupportedOperation, op, err)
		}
		return domain.WrapError(domain.ErrInputCorrupt, op, err)
	case errors.Is(err, errTooManyPages):
		return domain.WrapError(domain.ErrResourceExhausted, op, err)
	case errors.Is(err, errBadRange):
		return domain.WrapError(domain.ErrInvalidInput, op, err)
	case errors.Is(err, errNotText), errors.Is(err, errCorrupt):
		return domain.WrapError(domain.ErrInputCorrupt, op, err)
	case errors.Is(err, errors.ErrUnsupported):
		return domain.WrapError(domain.ErrUnsupportedOperation, op, err)
	default:
		return domain.WrapError(domain.ErrBackendUnavailable, op, err)
	}
}
