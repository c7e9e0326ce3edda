package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/context-engine/pkg/models"
)

type mockFieldSearcher struct {
	SearchFieldsFunc func(ctx context.Context, customerID string, concepts []string, opts models.SearchOptions) ([]models.SemanticResult, error)
	calls            int
}

func (m *mockFieldSearcher) SearchFields(ctx context.Context, customerID string, concepts []string, opts models.SearchOptions) ([]models.SemanticResult, error) {
	m.calls++
	if m.SearchFieldsFunc != nil {
		return m.SearchFieldsFunc(ctx, customerID, concepts, opts)
	}
	return nil, nil
}

func TestIntentConcepts(t *testing.T) {
	intent := &models.IntentResult{
		Scope:   "Wound Healing",
		Metrics: []string{"Healing Rate", "healing_rate", "time-to-closure"},
		Filters: []models.IntentFilter{{Concept: "wound etiology"}, {Concept: ""}},
	}
	assert.Equal(t, []string{"healing_rate", "time_to_closure", "wound_etiology", "wound_healing"}, IntentConcepts(intent))
	assert.Nil(t, IntentConcepts(nil))
}

func TestSemanticSearcher_PassesConceptsAndOptions(t *testing.T) {
	opts := models.SearchOptions{MinConfidence: 0.5, Limit: 20, IncludeNonForm: true}
	index := &mockFieldSearcher{
		SearchFieldsFunc: func(ctx context.Context, customerID string, concepts []string, got models.SearchOptions) ([]models.SemanticResult, error) {
			assert.Equal(t, "cust-1", customerID)
			assert.Equal(t, []string{"healing_rate"}, concepts)
			assert.Equal(t, opts, got)
			return []models.SemanticResult{{Source: models.SemanticSourceForm, FieldName: "Area", Confidence: 0.8}}, nil
		},
	}
	searcher := NewSemanticSearcher(index, opts, zap.NewNop())

	results, err := searcher.Search(context.Background(), "cust-1", &models.IntentResult{Metrics: []string{"healing rate"}})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSemanticSearcher_NoConceptsSkipsIndex(t *testing.T) {
	index := &mockFieldSearcher{}
	searcher := NewSemanticSearcher(index, models.SearchOptions{}, zap.NewNop())

	results, err := searcher.Search(context.Background(), "cust-1", &models.IntentResult{})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Equal(t, 0, index.calls)
}

func TestSemanticSearcher_WrapsIndexError(t *testing.T) {
	boom := errors.New("connection reset")
	index := &mockFieldSearcher{
		SearchFieldsFunc: func(context.Context, string, []string, models.SearchOptions) ([]models.SemanticResult, error) {
			return nil, boom
		},
	}
	searcher := NewSemanticSearcher(index, models.SearchOptions{}, zap.NewNop())

	_, err := searcher.Search(context.Background(), "cust-1", &models.IntentResult{Scope: "wounds"})
	assert.ErrorIs(t, err, boom)
}
