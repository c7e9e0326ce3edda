package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/context-engine/pkg/apperrors"
)

// ApiResponse is the envelope of every JSON API response.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error envelope and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	return WriteJSON(w, statusCode, ApiResponse{Success: false, Error: errorCode, Message: message})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// StatusForError maps a discovery error to an HTTP status and error code.
func StatusForError(err error) (int, string) {
	switch {
	case apperrors.IsKind(err, apperrors.KindValidation):
		return http.StatusBadRequest, string(apperrors.KindValidation)
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case apperrors.IsKind(err, apperrors.KindTimeout):
		return http.StatusGatewayTimeout, string(apperrors.KindTimeout)
	case apperrors.IsKind(err, apperrors.KindCanceled):
		// 499 is the de facto "client closed request" status.
		return 499, string(apperrors.KindCanceled)
	case apperrors.IsKind(err, apperrors.KindStepFailure):
		return http.StatusInternalServerError, string(apperrors.KindStepFailure)
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError maps err to a response. Only validation messages are echoed to
// the client; everything else is logged and reported by code.
func writeError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status, code := StatusForError(err)
	message := http.StatusText(status)
	switch {
	case status == http.StatusBadRequest || status == http.StatusNotFound:
		var appErr *apperrors.Error
		if errors.As(err, &appErr) && appErr.Message != "" {
			message = appErr.Message
		} else if status == http.StatusNotFound {
			message = "discovery run not found"
		}
	case status == 499:
		message = "request canceled"
	}

	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
