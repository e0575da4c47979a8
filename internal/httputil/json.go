package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// FieldError points a validation failure at a specific input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorResponse is the normalized failure envelope. Every error leaving
// the service has this shape regardless of which layer produced it.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors,omitempty"`
	Trace   string       `json:"trace,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// Error writes a normalized error envelope without diagnostics. Used by
// middleware and anywhere a Reporter is not wired.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Success: false, Message: message})
}

// Reporter is the single exit point for request failures. It logs every
// failure with the request method and path, and includes the underlying
// error text in the response only outside production.
type Reporter struct {
	logger       *slog.Logger
	includeTrace bool
}

func NewReporter(logger *slog.Logger, includeTrace bool) *Reporter {
	return &Reporter{logger: logger, includeTrace: includeTrace}
}

// Error reports a client-facing failure with an optional set of field errors.
func (rp *Reporter) Error(w http.ResponseWriter, r *http.Request, status int, message string, fields ...FieldError) {
	rp.logger.Warn("request failed",
		"status", status,
		"method", r.Method,
		"path", r.URL.Path,
		"message", message,
	)
	JSON(w, status, ErrorResponse{Success: false, Message: message, Errors: fields})
}

// Internal reports an unexpected failure. The cause is always logged;
// it reaches the response body only when traces are enabled.
func (rp *Reporter) Internal(w http.ResponseWriter, r *http.Request, err error, message string) {
	rp.logger.Error("request failed",
		"status", http.StatusInternalServerError,
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
	resp := ErrorResponse{Success: false, Message: message}
	if rp.includeTrace && err != nil {
		resp.Trace = err.Error()
	}
	JSON(w, http.StatusInternalServerError, resp)
}
