package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ParseCustomerID reads the customer ID path parameter. Customer IDs are
// opaque strings, so only blank values are rejected.
// Expects path parameter: cid
func ParseCustomerID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	cid := strings.TrimSpace(r.PathValue("cid"))
	if cid == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_customer_id", "Customer ID is required"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return "", false
	}
	return cid, true
}

// ParseRunID extracts and validates the discovery run ID from the request path.
// Expects path parameter: rid
func ParseRunID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "rid", "invalid_run_id", "Invalid discovery run ID format", logger)
}

func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(pathParam))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}
