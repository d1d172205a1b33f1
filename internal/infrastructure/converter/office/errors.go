package office

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

var errOutputTooLarge = errors.New("office output exceeds limit")

type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Code       string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "office status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("office %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("office %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

// kind maps a listener failure onto the backend error taxonomy.
func (e *HTTPStatusError) kind() error {
	switch e.Code {
	case "input_corrupt":
		return domain.ErrInputCorrupt
	case "unsupported":
		return domain.ErrUnsupportedOperation
	case "timeout":
		return domain.ErrBackendTimeout
	case "too_large":
		return domain.ErrResourceExhausted
	case "busy":
		return domain.ErrBackendUnavailable
	}
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return domain.ErrInputCorrupt
	case http.StatusUnsupportedMediaType, http.StatusNotImplemented:
		return domain.ErrUnsupportedOperation
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return domain.ErrBackendTimeout
	case http.StatusRequestEntityTooLarge:
		return domain.ErrResourceExhausted
	default:
		return domain.ErrBackendUnavailable
	}
}

func classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrBackendTimeout, operation, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, errOutputTooLarge) {
		return domain.WrapError(domain.ErrResourceExhausted, operation, err)
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return domain.WrapError(statusErr.kind(), operation, err)
	}
	// Transport failures (refused, reset, EOF) mean the listener is down.
	return domain.WrapError(domain.ErrBackendUnavailable, operation, err)
}
