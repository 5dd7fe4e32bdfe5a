package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Riboost-Studio/print-my-bridge/internal/model"
)

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// errorCategory is the stable label and safe detail returned for an error.
type errorCategory struct {
	status int
	code   string
	detail string
}

// mapError turns an error into a response category. Only the fixed texts
// below ever reach the client.
func mapError(err error) errorCategory {
	switch {
	case errors.Is(err, model.ErrAuthMissing):
		return errorCategory{http.StatusUnauthorized, "MissingToken", "authorization header required"}
	case errors.Is(err, model.ErrAuthMalformed):
		return errorCategory{http.StatusUnauthorized, "MalformedToken", "expected 'Authorization: Bearer <token>'"}
	case errors.Is(err, model.ErrAuthInvalid):
		return errorCategory{http.StatusUnauthorized, "InvalidToken", "token rejected"}
	case errors.Is(err, model.ErrRateLimitExceeded):
		return errorCategory{http.StatusTooManyRequests, "RateLimitExceeded", "too many requests"}
	case errors.Is(err, model.ErrTooLarge):
		return errorCategory{http.StatusBadRequest, "TooLarge", "file exceeds the upload limit"}
	case errors.Is(err, model.ErrDisallowedType):
		return errorCategory{http.StatusBadRequest, "DisallowedType", "file type not allowed"}
	case errors.Is(err, model.ErrInvalidCopies):
		return errorCategory{http.StatusBadRequest, "InvalidCopies", "copies must be a positive integer"}
	case errors.Is(err, model.ErrInvalidRequest):
		return errorCategory{http.StatusBadRequest, "InvalidRequest", "expected multipart/form-data with a file field"}
	case errors.Is(err, model.ErrPrinterNotFound):
		return errorCategory{http.StatusBadRequest, "PrinterNotFound", "printer not found"}
	case errors.Is(err, model.ErrNoPrinterAvailable):
		return errorCategory{http.StatusServiceUnavailable, "NoPrinterAvailable", "no printer available"}
	case errors.Is(err, model.ErrSpoolerUnavailable):
		return errorCategory{http.StatusServiceUnavailable, "SpoolerUnavailable", "print spooler unavailable"}
	case errors.Is(err, model.ErrSubmissionFailed):
		detail := "submission failed"
		var subErr *model.SubmissionError
		if errors.As(err, &subErr) && subErr.Reason != "" {
			detail = subErr.Reason
		}
		return errorCategory{http.StatusServiceUnavailable, "SubmissionFailed", detail}
	default:
		return errorCategory{http.StatusInternalServerError, "InternalError", "internal error"}
	}
}

// writeError logs the full error and returns only its category.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	cat := mapError(err)
	fields := []any{
		"operation", operation,
		"outcome", "failure",
		"status_code", cat.status,
		"error_code", cat.code,
		"request_id", requestIDFromContext(r.Context()),
		"error", err.Error(),
	}
	if cat.status >= 500 {
		s.logger.ErrorContext(r.Context(), "http operation failed", fields...)
	} else {
		s.logger.WarnContext(r.Context(), "http operation failed", fields...)
	}
	writeJSON(w, cat.status, model.PrintResponse{
		Success: false,
		Message: cat.code,
		Detail:  cat.detail,
	})
}
