package office

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

type Options struct {
	// MaxInFlight bounds concurrent calls into the shared listener.
	MaxInFlight    int
	MaxOutputBytes int64
	Timeout        time.Duration
	Logger         *slog.Logger
}

// Converter dispatches office-family conversions to the document suite.
// Calls beyond MaxInFlight wait in a queue that honours cancellation.
type Converter struct {
	client    *Client
	slots     chan struct{}
	maxOutput int64
	timeout   time.Duration
	logger    *slog.Logger
}

func New(client *Client, opts Options) *Converter {
	inFlight := opts.MaxInFlight
	if inFlight <= 0 {
		inFlight = 2
	}
	maxOutput := opts.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = 200 << 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{
		client:    client,
		slots:     make(chan struct{}, inFlight),
		maxOutput: maxOutput,
		timeout:   opts.Timeout,
		logger:    logger.With("component", "office_converter"),
	}
}

func Declaration() domain.BackendDeclaration {
	return domain.BackendDeclaration{
		ID:       domain.BackendOffice,
		Priority: 10,
		Capabilities: []domain.Capability{
			{
				Inputs:  []string{"doc", "docx", "odt", "rtf", "txt", "html"},
				Outputs: []string{"pdf", "doc", "docx", "odt", "rtf", "txt", "html"},
			},
			{
				Inputs:  []string{"xls", "xlsx", "ods", "csv"},
				Outputs: []string{"pdf", "xls", "xlsx", "ods", "csv", "html"},
			},
			{
				Inputs:  []string{"ppt", "pptx", "odp"},
				Outputs: []string{"pdf", "ppt", "pptx", "odp", "png"},
			},
			{
				Inputs:  []string{"pdf"},
				Outputs: []string{"doc", "docx", "odt", "rtf"},
			},
		},
	}
}

func (c *Converter) Declaration() domain.BackendDeclaration {
	return Declaration()
}

// QueueDepth reports how many calls currently hold a slot.
func (c *Converter) QueueDepth() int {
	return len(c.slots)
}

func (c *Converter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}

func (c *Converter) Convert(ctx context.Context, in domain.ConversionInput) ([]byte, error) {
	op := fmt.Sprintf("office convert %s->%s", in.From.ID, in.To.ID)

	waitStart := time.Now()
	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, classify(op, ctx.Err())
	}
	defer func() { <-c.slots }()

	if wait := time.Since(waitStart); wait > time.Second {
		c.logger.Info("office_queue_wait", "from", in.From.ID, "to", in.To.ID, "wait_ms", wait.Milliseconds())
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	out, err := c.client.postConvert(ctx, convertCall{
		From:    in.From.ID,
		To:      in.To.ID,
		Timeout: timeout,
		Body:    in.Data,
	}, c.maxOutput)
	if err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}
