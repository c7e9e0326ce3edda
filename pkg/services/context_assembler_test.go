package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/context-engine/pkg/apperrors"
	"github.com/ekaya-inc/context-engine/pkg/models"
)

var (
	fixedRunID = uuid.MustParse("7b0f7c2e-1d3a-4a0e-9d7e-3c3f2a9b8c11")
	fixedNow   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newTestAssembler() *ContextAssembler {
	return NewContextAssembler("test",
		WithRunIDGenerator(func() uuid.UUID { return fixedRunID }),
		WithClock(func() time.Time { return fixedNow }))
}

func TestContextAssembler_EmptyInputs(t *testing.T) {
	bundle, err := newTestAssembler().Assemble(AssembleInput{
		CustomerID: "cust-1",
		Question:   "  healing rate of DFUs  ",
		Intent:     models.IntentResult{Type: models.IntentOutcomeAnalysis, Confidence: 0.5},
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.15, bundle.OverallConfidence, 1e-9)
	assert.Equal(t, "healing rate of DFUs", bundle.Question)
	assert.NotNil(t, bundle.Forms)
	assert.NotNil(t, bundle.Terminology)
	assert.NotNil(t, bundle.JoinPaths)
	assert.Equal(t, fixedRunID, bundle.Metadata.DiscoveryRunID)
	assert.Equal(t, fixedNow, bundle.Metadata.Timestamp)
	assert.Equal(t, "test", bundle.Metadata.Version)
}

func TestContextAssembler_WeightedConfidence(t *testing.T) {
	bundle, err := newTestAssembler().Assemble(AssembleInput{
		CustomerID: "cust-1",
		Question:   "q",
		Intent:     models.IntentResult{Confidence: 0.8},
		Forms: []models.FormContext{
			{Name: "Wound Assessment", Fields: []models.FieldContext{{Confidence: 0.9}, {Confidence: 0.7}}},
			{Name: "Empty", Confidence: 0.5},
		},
		Terminology: []models.TerminologyMapping{{Confidence: 0.9}, {Confidence: 0.7}},
		JoinPaths:   []models.JoinPath{{Confidence: 1}},
	})
	require.NoError(t, err)

	// 0.8*0.3 + avg(0.9,0.7,0.5)*0.3 + 0.8*0.25 + 1*0.15
	assert.InDelta(t, 0.24+0.21+0.2+0.15, bundle.OverallConfidence, 1e-9)
}

func TestOverallConfidence_Clamped(t *testing.T) {
	got := OverallConfidence(3,
		[]models.FormContext{{Fields: []models.FieldContext{{Confidence: 7}}}},
		[]models.TerminologyMapping{{Confidence: 2}},
		[]models.JoinPath{{Confidence: 1.5}})
	assert.Equal(t, 1.0, got)

	got = OverallConfidence(-1, nil, []models.TerminologyMapping{{Confidence: -4}}, nil)
	assert.Equal(t, 0.0, got)
}

func TestContextAssembler_Validation(t *testing.T) {
	a := newTestAssembler()

	_, err := a.Assemble(AssembleInput{CustomerID: " ", Question: "q"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	_, err = a.Assemble(AssembleInput{CustomerID: "cust-1", Question: "\t"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestContextAssembler_Deterministic(t *testing.T) {
	in := AssembleInput{
		CustomerID:  "cust-1",
		Question:    "q",
		Intent:      models.IntentResult{Confidence: 0.6},
		Terminology: []models.TerminologyMapping{{Confidence: 0.9}},
	}
	a := newTestAssembler()

	first, err := a.Assemble(in)
	require.NoError(t, err)
	second, err := a.Assemble(in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
