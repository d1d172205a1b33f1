package resilience

import (
	"context"
	"errors"

	"github.com/kirillkom/file-converter/internal/core/domain"
	"github.com/kirillkom/file-converter/internal/core/ports"
)

// GuardedConverter runs a backend behind the executor. Only unavailability
// is retried; timeouts count against the breaker but are not retried.
type GuardedConverter struct {
	next     ports.Converter
	executor *Executor
	op       string
}

func GuardConverter(next ports.Converter, executor *Executor) *GuardedConverter {
	return &GuardedConverter{
		next:     next,
		executor: executor,
		op:       "backend." + string(next.Declaration().ID),
	}
}

func (g *GuardedConverter) Declaration() domain.BackendDeclaration {
	return g.next.Declaration()
}

func (g *GuardedConverter) Convert(ctx context.Context, in domain.ConversionInput) ([]byte, error) {
	out, err := Call(ctx, g.executor, g.op, func(ctx context.Context) ([]byte, error) {
		return g.next.Convert(ctx, in)
	}, classifyBackendError)
	if err != nil && IsCircuitOpen(err) {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, g.op, err)
	}
	return out, err
}

// State exposes the breaker state for readiness reporting.
func (g *GuardedConverter) State() string {
	return g.executor.State(g.op)
}

func classifyBackendError(err error) ErrorClassification {
	switch {
	case errors.Is(err, context.Canceled):
		return ErrorClassification{Retryable: false, RecordFailure: false}
	case domain.IsKind(err, domain.ErrBackendUnavailable):
		return ErrorClassification{Retryable: true, RecordFailure: true}
	case domain.IsKind(err, domain.ErrBackendTimeout):
		return ErrorClassification{Retryable: false, RecordFailure: true}
	default:
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}
}
