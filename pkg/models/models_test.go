package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntentType_Valid(t *testing.T) {
	for _, it := range IntentTypes {
		assert.True(t, it.Valid(), it)
	}
	assert.False(t, IntentType("").Valid())
	assert.False(t, IntentType("Outcome_Analysis").Valid())
	assert.False(t, IntentType("forecasting").Valid())
}

func TestFilterWarning_IsClarification(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{WarningNeedsClarification, true},
		{WarningAmbiguousValue, true},
		{WarningLowConfidence, true},
		{WarningUnmapped, true},
		{WarningSuspiciousInput, false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FilterWarning{Code: tt.code}.IsClarification(), tt.code)
	}
}

func TestConflictResolution_Blocking(t *testing.T) {
	assert.True(t, ConflictAIJudgment.Blocking())
	assert.True(t, ConflictRequiresClarification.Blocking())
	assert.False(t, ConflictHighestConfidence.Blocking())
}

func TestMergedFilterState_NullValueIsSerialized(t *testing.T) {
	raw, err := json.Marshal(MergedFilterState{OriginalText: "DFU"})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	v, present := fields["value"]
	assert.True(t, present, "value must be present even when unresolved")
	assert.Nil(t, v)
}
