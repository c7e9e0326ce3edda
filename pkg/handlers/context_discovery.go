package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/context-engine/pkg/models"
	"github.com/ekaya-inc/context-engine/pkg/services"
)

// DiscoverContextRequest is the body of POST /api/customers/{cid}/context.
type DiscoverContextRequest struct {
	Question string `json:"question"`
	ModelID  string `json:"model_id,omitempty"`
}

// ContextDiscoveryHandler exposes the context discovery pipeline over HTTP.
type ContextDiscoveryHandler struct {
	service services.ContextDiscoveryService
	logger  *zap.Logger
}

// NewContextDiscoveryHandler creates a new context discovery handler.
func NewContextDiscoveryHandler(service services.ContextDiscoveryService, logger *zap.Logger) *ContextDiscoveryHandler {
	return &ContextDiscoveryHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers the context discovery routes.
func (h *ContextDiscoveryHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/customers/{cid}/context"
	mux.HandleFunc("POST "+base, h.Discover)
	mux.HandleFunc("GET "+base+"/{rid}", h.GetRun)
}

// Discover handles POST /api/customers/{cid}/context
func (h *ContextDiscoveryHandler) Discover(w http.ResponseWriter, r *http.Request) {
	customerID, ok := ParseCustomerID(w, r, h.logger)
	if !ok {
		return
	}

	var req DiscoverContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	bundle, err := h.service.DiscoverContext(r.Context(), models.DiscoveryRequest{
		CustomerID: customerID,
		Question:   req.Question,
		ModelID:    req.ModelID,
	})
	if err != nil {
		h.logger.Error("Context discovery failed",
			zap.String("customer_id", customerID),
			zap.Error(err))
		writeError(w, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: bundle}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetRun handles GET /api/customers/{cid}/context/{rid}
func (h *ContextDiscoveryHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	customerID, ok := ParseCustomerID(w, r, h.logger)
	if !ok {
		return
	}
	runID, ok := ParseRunID(w, r, h.logger)
	if !ok {
		return
	}

	run, err := h.service.GetRun(r.Context(), customerID, runID)
	if err != nil {
		writeError(w, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: run}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
