package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/context-engine/pkg/apperrors"
	"github.com/ekaya-inc/context-engine/pkg/models"
)

type mockContextDiscoveryService struct {
	DiscoverContextFunc func(ctx context.Context, req models.DiscoveryRequest) (*models.ContextBundle, error)
	GetRunFunc          func(ctx context.Context, customerID string, runID uuid.UUID) (*models.DiscoveryRun, error)
}

func (m *mockContextDiscoveryService) DiscoverContext(ctx context.Context, req models.DiscoveryRequest) (*models.ContextBundle, error) {
	return m.DiscoverContextFunc(ctx, req)
}

func (m *mockContextDiscoveryService) GetRun(ctx context.Context, customerID string, runID uuid.UUID) (*models.DiscoveryRun, error) {
	return m.GetRunFunc(ctx, customerID, runID)
}

func serve(t *testing.T, svc *mockContextDiscoveryService, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	NewContextDiscoveryHandler(svc, zap.NewNop()).RegisterRoutes(mux)

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) ApiResponse {
	t.Helper()
	var resp ApiResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestContextDiscoveryHandler_Discover(t *testing.T) {
	var got models.DiscoveryRequest
	svc := &mockContextDiscoveryService{
		DiscoverContextFunc: func(_ context.Context, req models.DiscoveryRequest) (*models.ContextBundle, error) {
			got = req
			return &models.ContextBundle{OverallConfidence: 0.82}, nil
		},
	}

	rec := serve(t, svc, http.MethodPost, "/api/customers/cust-1/context",
		[]byte(`{"question":"healing rate for DFU","model_id":"gpt-4o-mini"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cust-1", got.CustomerID)
	assert.Equal(t, "healing rate for DFU", got.Question)
	assert.Equal(t, "gpt-4o-mini", got.ModelID)

	resp := decodeEnvelope(t, rec)
	assert.True(t, resp.Success)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 0.82, data["overall_confidence"])
}

func TestContextDiscoveryHandler_Discover_InvalidBody(t *testing.T) {
	svc := &mockContextDiscoveryService{
		DiscoverContextFunc: func(context.Context, models.DiscoveryRequest) (*models.ContextBundle, error) {
			t.Fatal("service should not be called")
			return nil, nil
		},
	}

	rec := serve(t, svc, http.MethodPost, "/api/customers/cust-1/context", []byte(`{not json`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeEnvelope(t, rec).Error)
}

func TestContextDiscoveryHandler_Discover_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"validation", apperrors.Validationf("question is required"), http.StatusBadRequest, "validation", "question is required"},
		{"timeout", apperrors.Wrap(apperrors.KindStepFailure, "search_and_terminology",
			apperrors.Wrap(apperrors.KindTimeout, "search_and_terminology", context.DeadlineExceeded)),
			http.StatusGatewayTimeout, "timeout", "Gateway Timeout"},
		{"canceled", apperrors.Wrap(apperrors.KindCanceled, "classify_intent", context.Canceled), 499, "canceled", "request canceled"},
		{"step failure hides cause", apperrors.Wrap(apperrors.KindStepFailure, "plan_joins", errors.New("password=hunter2")),
			http.StatusInternalServerError, "step_failure", "Internal Server Error"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error", "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockContextDiscoveryService{
				DiscoverContextFunc: func(context.Context, models.DiscoveryRequest) (*models.ContextBundle, error) {
					return nil, tt.err
				},
			}
			rec := serve(t, svc, http.MethodPost, "/api/customers/cust-1/context", []byte(`{"question":"q"}`))

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decodeEnvelope(t, rec)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantCode, resp.Error)
			assert.Equal(t, tt.wantMsg, resp.Message)
		})
	}
}

func TestContextDiscoveryHandler_GetRun(t *testing.T) {
	runID := uuid.MustParse("6f1c1b9e-3f5e-4b0a-9d43-0d8a1a2b3c4d")
	svc := &mockContextDiscoveryService{
		GetRunFunc: func(_ context.Context, customerID string, id uuid.UUID) (*models.DiscoveryRun, error) {
			if customerID == "cust-1" && id == runID {
				return &models.DiscoveryRun{ID: id, CustomerID: customerID, Question: "q"}, nil
			}
			return nil, apperrors.ErrNotFound
		},
	}

	rec := serve(t, svc, http.MethodGet, "/api/customers/cust-1/context/"+runID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeEnvelope(t, rec).Success)

	rec = serve(t, svc, http.MethodGet, "/api/customers/cust-2/context/"+runID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.Equal(t, "not_found", resp.Error)
	assert.Equal(t, "discovery run not found", resp.Message)

	rec = serve(t, svc, http.MethodGet, "/api/customers/cust-1/context/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_run_id", decodeEnvelope(t, rec).Error)
}
