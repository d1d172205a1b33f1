package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func mapErrorToHTTPStatus(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes), domain.IsKind(err, domain.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case domain.IsKind(err, domain.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case domain.IsKind(err, domain.ErrUnsupportedConversion),
		domain.IsKind(err, domain.ErrUnsupportedOperation),
		domain.IsKind(err, domain.ErrInputCorrupt),
		domain.IsKind(err, domain.ErrResourceExhausted):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrQuotaExceeded):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrForbidden):
		return http.StatusForbidden
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrBackendTimeout):
		return http.StatusGatewayTimeout
	case domain.IsKind(err, domain.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error":{"code","message"}}. With hideForeign
// set, access to another session's resources is indistinguishable from a
// missing one.
func writeError(w http.ResponseWriter, err error, hideForeign bool) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		err = domain.NewFailure(domain.ErrTooLarge, "request body exceeds %d bytes", maxBytes.Limit)
	}
	if hideForeign && domain.IsKind(err, domain.ErrForbidden) {
		err = domain.NewFailure(domain.ErrNotFound, "not found")
	}
	status := mapErrorToHTTPStatus(err)
	message := domain.PublicMessage(err)
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: domain.Code(err), Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
