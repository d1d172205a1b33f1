package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFormat     = errors.New("unsupported format")
	ErrUnsupportedConversion = errors.New("unsupported conversion")
	ErrUnsupportedOperation  = errors.New("unsupported operation")
	ErrQuotaExceeded         = errors.New("quota exceeded")
	ErrForbidden             = errors.New("forbidden")
	ErrNotFound              = errors.New("not found")
	ErrInputCorrupt          = errors.New("input corrupt")
	ErrBackendTimeout        = errors.New("backend timeout")
	ErrBackendUnavailable    = errors.New("backend unavailable")
	ErrResourceExhausted     = errors.New("resource exhausted")
	ErrTooLarge              = errors.New("file too large")
	ErrInvalidInput          = errors.New("invalid input")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInternal              = errors.New("internal error")
)

// kinds is ordered: the first matching kind wins when an error chain wraps several.
var kinds = []struct {
	kind error
	code string
}{
	{ErrUnsupportedFormat, "UNSUPPORTED_FORMAT"},
	{ErrUnsupportedConversion, "UNSUPPORTED_CONVERSION"},
	{ErrUnsupportedOperation, "UNSUPPORTED_OPERATION"},
	{ErrQuotaExceeded, "QUOTA_EXCEEDED"},
	{ErrForbidden, "FORBIDDEN"},
	{ErrNotFound, "NOT_FOUND"},
	{ErrInputCorrupt, "INPUT_CORRUPT"},
	{ErrBackendTimeout, "BACKEND_TIMEOUT"},
	{ErrBackendUnavailable, "BACKEND_UNAVAILABLE"},
	{ErrResourceExhausted, "RESOURCE_EXHAUSTED"},
	{ErrTooLarge, "FILE_TOO_LARGE"},
	{ErrInvalidInput, "INVALID_INPUT"},
	{ErrUnauthorized, "UNAUTHORIZED"},
	{ErrInternal, "INTERNAL_ERROR"},
}

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// KindOf returns the taxonomy sentinel carried by err, or ErrInternal.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k.kind) {
			return k.kind
		}
	}
	return ErrInternal
}

// Code returns the stable machine-readable code for err.
func Code(err error) string {
	kind := KindOf(err)
	for _, k := range kinds {
		if k.kind == kind {
			return k.code
		}
	}
	return "INTERNAL_ERROR"
}

// Failure is a client-facing error: a taxonomy kind plus a short detail
// that never carries file-system paths or backend internals.
type Failure struct {
	Kind   error
	Detail string
}

func NewFailure(kind error, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return f.Kind.Error()
	}
	return f.Detail
}

func (f *Failure) Unwrap() error {
	return f.Kind
}

// PublicMessage returns the text safe to show to a client.
func PublicMessage(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Error()
	}
	return KindOf(err).Error()
}
