package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/context-engine/pkg/models"
)

func strPtr(s string) *string { return &s }

func mergeSource(kind models.FilterSourceKind, text, value string, confidence float64) models.FilterStateSource {
	return models.FilterStateSource{
		Source:       kind,
		Value:        strPtr(value),
		Confidence:   confidence,
		Field:        "wound_stage",
		Operator:     "=",
		OriginalText: text,
	}
}

func TestFilterStateMerger_HighestConfidenceWins(t *testing.T) {
	m := NewFilterStateMerger(DefaultFilterMergeConfig())

	state := m.MergeGroup([]models.FilterStateSource{
		mergeSource(models.FilterSourcePlaceholderExtraction, "stage 3", "Stage 2", 0.7),
		mergeSource(models.FilterSourceSemanticMapping, "stage 3", "Stage 3", 0.9),
	})

	assert.True(t, state.Resolved)
	require.NotNil(t, state.Value)
	assert.Equal(t, "Stage 3", *state.Value)
	assert.Equal(t, 0.9, state.Confidence)
	require.Len(t, state.Conflicts, 1)
	assert.Equal(t, models.ConflictHighestConfidence, state.Conflicts[0].Resolution)
	assert.Len(t, state.Conflicts[0].Values, 2)
	assert.Equal(t, []models.FilterSourceKind{models.FilterSourceSemanticMapping}, state.ResolvedVia)
	assert.Empty(t, state.Warnings)
}

func TestFilterStateMerger_TwoConfidentSourcesNeedJudgment(t *testing.T) {
	m := NewFilterStateMerger(DefaultFilterMergeConfig())

	state := m.MergeGroup([]models.FilterStateSource{
		mergeSource(models.FilterSourceSemanticMapping, "stage 3", "Stage 3", 0.9),
		mergeSource(models.FilterSourcePlaceholderExtraction, "stage 3", "Stage III", 0.88),
	})

	assert.False(t, state.Resolved)
	require.NotNil(t, state.Value, "the leading value is kept as the arbitration default")
	assert.Equal(t, "Stage 3", *state.Value)
	require.Len(t, state.Conflicts, 1)
	assert.Equal(t, models.ConflictAIJudgment, state.Conflicts[0].Resolution)
	assert.Empty(t, state.ResolvedVia)

	residuals := m.Residuals([]models.MergedFilterState{state})
	require.Len(t, residuals, 1)
	require.NotNil(t, residuals[0].Value)
	assert.Equal(t, "Stage 3", *residuals[0].Value)

	enriched := EnrichIntentFilters(models.IntentResult{
		Filters: []models.IntentFilter{{UserPhrase: "stage 3"}},
	}, []models.MergedFilterState{state})
	assert.Nil(t, enriched.Filters[0].Value, "unresolved defaults never reach the intent")
}

func TestFilterStateMerger_CloseCallRequiresClarification(t *testing.T) {
	m := NewFilterStateMerger(DefaultFilterMergeConfig())

	state := m.MergeGroup([]models.FilterStateSource{
		mergeSource(models.FilterSourceSemanticMapping, "stage 3", "Stage 3", 0.8),
		mergeSource(models.FilterSourcePlaceholderExtraction, "stage 3", "Stage 2", 0.75),
	})

	assert.False(t, state.Resolved)
	require.NotNil(t, state.Value)
	assert.Equal(t, "Stage 3", *state.Value)
	assert.Empty(t, state.ResolvedVia)
	require.Len(t, state.Conflicts, 1)
	assert.Equal(t, models.ConflictRequiresClarification, state.Conflicts[0].Resolution)
	require.Len(t, state.Warnings, 1)
	assert.Equal(t, models.WarningAmbiguousValue, state.Warnings[0].Code)

	residuals := m.Residuals([]models.MergedFilterState{state})
	require.Len(t, residuals, 1)
	assert.Equal(t, string(models.ConflictRequiresClarification), residuals[0].Reason)
	assert.Equal(t, "stage 3", residuals[0].OriginalText)
}

func TestFilterStateMerger_AgreeingSourcesResolveTogether(t *testing.T) {
	m := NewFilterStateMerger(DefaultFilterMergeConfig())

	state := m.MergeGroup([]models.FilterStateSource{
		mergeSource(models.FilterSourcePlaceholderExtraction, "stage 3", "stage 3 ", 0.8),
		mergeSource(models.FilterSourceSemanticMapping, "stage 3", "Stage 3", 0.9),
	})

	assert.True(t, state.Resolved)
	assert.Equal(t, "Stage 3", *state.Value)
	assert.Empty(t, state.Conflicts)
	assert.Equal(t, []models.FilterSourceKind{
		models.FilterSourceSemanticMapping,
		models.FilterSourcePlaceholderExtraction,
	}, state.ResolvedVia)
}

func TestFilterStateMerger_BelowThreshold(t *testing.T) {
	m := NewFilterStateMerger(DefaultFilterMergeConfig())

	state := m.MergeGroup([]models.FilterStateSource{
		mergeSource(models.FilterSourcePlaceholderExtraction, "stage 3", "Stage 3", 0.5),
	})

	assert.False(t, state.Resolved)
	require.NotNil(t, state.Value, "a tentative value is kept when nothing blocks it")
	assert.Equal(t, 0.5, state.Confidence)
	assert.Empty(t, state.ResolvedVia)
	require.Len(t, state.Warnings, 1)
	assert.Equal(t, models.WarningLowConfidence, state.Warnings[0].Code)

	residuals := m.Residuals([]models.MergedFilterState{state})
	require.Len(t, residuals, 1)
	assert.Equal(t, models.WarningLowConfidence, residuals[0].Reason)
}

func TestFilterStateMerger_NoValuedSource(t *testing.T) {
	m := NewFilterStateMerger(DefaultFilterMergeConfig())

	state := m.MergeGroup([]models.FilterStateSource{
		{Source: models.FilterSourceResidualExtraction, OriginalText: "north campus", Field: "clinic"},
		{Source: models.FilterSourceSemanticMapping, OriginalText: "north campus", Value: strPtr("North"), Confidence: 0.95, Error: "lookup failed"},
	})

	assert.False(t, state.Resolved)
	assert.Nil(t, state.Value)
	assert.Equal(t, "clinic", state.Field)
	require.Len(t, state.Warnings, 1)
	assert.Equal(t, models.WarningUnmapped, state.Warnings[0].Code)
	assert.NotNil(t, state.ResolvedVia)
	assert.NotNil(t, state.Conflicts)
}

func TestFilterStateMerger_ResolvedDropsClarificationWarnings(t *testing.T) {
	m := NewFilterStateMerger(DefaultFilterMergeConfig())

	placeholder := mergeSource(models.FilterSourcePlaceholderExtraction, "stage 3", "Stage 3", 0.9)
	placeholder.Warnings = []models.FilterWarning{
		{Code: models.WarningUnmapped, Message: "no known value matches"},
		{Code: models.WarningSuspiciousInput, Message: "kept"},
	}
	state := m.MergeGroup([]models.FilterStateSource{placeholder})

	assert.True(t, state.Resolved)
	require.Len(t, state.Warnings, 1)
	assert.Equal(t, models.WarningSuspiciousInput, state.Warnings[0].Code)
}

func TestFilterStateMerger_OrderIndependent(t *testing.T) {
	m := NewFilterStateMerger(DefaultFilterMergeConfig())
	sources := []models.FilterStateSource{
		mergeSource(models.FilterSourceSemanticMapping, "stage 3", "Stage 3", 0.8),
		mergeSource(models.FilterSourcePlaceholderExtraction, "Stage 3", "Stage 2", 0.75),
		mergeSource(models.FilterSourceTemplateParam, "stage 3", "Stage 3", 0.8),
		{Source: models.FilterSourceSemanticMapping, OriginalText: "DFU", Value: strPtr("Diabetic Foot Ulcer"), Confidence: 0.9, Field: "etiology"},
	}

	want := m.Merge(sources)
	require.Len(t, want, 2)

	for _, perm := range permutations(len(sources)) {
		shuffled := make([]models.FilterStateSource, len(sources))
		for i, j := range perm {
			shuffled[i] = sources[j]
		}
		assert.Equal(t, want, m.Merge(shuffled), "permutation %v", perm)
	}
}

func TestFilterStateMerger_ResolvedInvariant(t *testing.T) {
	m := NewFilterStateMerger(DefaultFilterMergeConfig())
	cfg := DefaultFilterMergeConfig()
	confidences := []float64{0.1, 0.5, 0.69, 0.7, 0.75, 0.8, 0.85, 0.88, 0.9, 1}

	for _, a := range confidences {
		for _, b := range confidences {
			state := m.MergeGroup([]models.FilterStateSource{
				mergeSource(models.FilterSourceSemanticMapping, "x", "A", a),
				mergeSource(models.FilterSourcePlaceholderExtraction, "x", "B", b),
			})
			if !state.Resolved {
				continue
			}
			assert.GreaterOrEqual(t, state.Confidence+confidenceEpsilon, cfg.ConfidenceThreshold)
			for _, c := range state.Conflicts {
				assert.False(t, c.Resolution.Blocking(), "a=%v b=%v", a, b)
			}
		}
	}
}

func TestFilterStateMerger_FilterResiduals(t *testing.T) {
	m := NewFilterStateMerger(DefaultFilterMergeConfig())
	merged := []models.MergedFilterState{
		{OriginalText: "Stage 3", Field: "wound_stage", Value: strPtr("Stage 3"), Resolved: true, Confidence: 0.9},
	}
	residuals := []models.ResidualFilter{
		{OriginalText: "stage 3", Reason: models.WarningLowConfidence},
		{OriginalText: "third stage", Field: "Wound_Stage", Value: strPtr("stage 3"), Reason: models.WarningLowConfidence},
		{OriginalText: "north campus", Reason: models.WarningUnmapped},
	}

	out := m.FilterResiduals(residuals, merged)
	require.Len(t, out, 1)
	assert.Equal(t, "north campus", out[0].OriginalText)
}

func TestNewFilterStateMerger_Defaults(t *testing.T) {
	m := NewFilterStateMerger(FilterMergeConfig{})
	assert.Equal(t, DefaultFilterMergeConfig(), m.cfg)
}

// permutations returns every ordering of 0..n-1.
func permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			next := make([]int, 0, n)
			next = append(next, p[:i]...)
			next = append(next, n-1)
			next = append(next, p[i:]...)
			out = append(out, next)
		}
	}
	return out
}
