package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ekaya-inc/context-engine/pkg/models"
)

// confidenceEpsilon absorbs float noise when comparing confidence gaps.
const confidenceEpsilon = 1e-9

// FilterMergeConfig holds the merger thresholds.
type FilterMergeConfig struct {
	// ConfidenceThreshold is the minimum confidence for a source to count.
	ConfidenceThreshold float64
	// HighConfidenceThreshold marks sources confident enough that a disagreement
	// between two of them needs external arbitration.
	HighConfidenceThreshold float64
	// ConflictThreshold is the largest confidence gap that is too close to call.
	ConflictThreshold float64
}

// DefaultFilterMergeConfig returns 0.7 / 0.85 / 0.1.
func DefaultFilterMergeConfig() FilterMergeConfig {
	return FilterMergeConfig{
		ConfidenceThreshold:     0.7,
		HighConfidenceThreshold: 0.85,
		ConflictThreshold:       0.1,
	}
}

// FilterStateMerger collapses signals about the same filter into one decision.
// It holds no state between calls and is safe for concurrent use.
type FilterStateMerger struct {
	cfg FilterMergeConfig
}

// NewFilterStateMerger creates a merger. Zero thresholds take the defaults.
func NewFilterStateMerger(cfg FilterMergeConfig) *FilterStateMerger {
	def := DefaultFilterMergeConfig()
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if cfg.HighConfidenceThreshold <= 0 {
		cfg.HighConfidenceThreshold = def.HighConfidenceThreshold
	}
	if cfg.ConflictThreshold <= 0 {
		cfg.ConflictThreshold = def.ConflictThreshold
	}
	return &FilterStateMerger{cfg: cfg}
}

// Merge groups sources by filter and merges each group. Output is ordered by
// group key, so permuting the input does not change the result.
func (m *FilterStateMerger) Merge(sources []models.FilterStateSource) []models.MergedFilterState {
	groups := make(map[string][]models.FilterStateSource)
	for _, s := range sources {
		key := filterGroupKey(s)
		groups[key] = append(groups[key], s)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	merged := make([]models.MergedFilterState, 0, len(keys))
	for _, k := range keys {
		merged = append(merged, m.MergeGroup(groups[k]))
	}
	return merged
}

// MergeGroup merges sources already known to describe the same filter.
func (m *FilterStateMerger) MergeGroup(sources []models.FilterStateSource) models.MergedFilterState {
	ordered := make([]models.FilterStateSource, len(sources))
	copy(ordered, sources)
	sortSources(ordered)

	state := models.MergedFilterState{
		ResolvedVia: []models.FilterSourceKind{},
		Conflicts:   []models.FilterConflict{},
	}
	for _, s := range ordered {
		if state.OriginalText == "" {
			state.OriginalText = strings.TrimSpace(s.OriginalText)
		}
	}

	// Sources with an error or no value carry warnings but no vote.
	var valued []models.FilterStateSource
	for _, s := range ordered {
		if s.Error == "" && s.Value != nil {
			valued = append(valued, s)
		}
	}

	warnings := collectWarnings(ordered)

	if len(valued) == 0 {
		for _, s := range ordered {
			if state.Field == "" {
				state.Field = s.Field
			}
			if state.Operator == "" {
				state.Operator = s.Operator
			}
		}
		warnings = appendWarning(warnings, models.FilterWarning{
			Code:    models.WarningUnmapped,
			Message: "no source produced a value",
		})
		state.Warnings = sortWarnings(warnings)
		return state
	}

	top := valued[0]
	state.Field = firstNonEmpty(top.Field, fieldOf(valued))
	state.Operator = firstNonEmpty(top.Operator, operatorOf(valued))
	state.Confidence = top.Confidence

	var above []models.FilterStateSource
	for _, s := range valued {
		if s.Confidence+confidenceEpsilon >= m.cfg.ConfidenceThreshold {
			above = append(above, s)
		}
	}

	blocking := false
	if conflict, ok := m.detectConflict(above); ok {
		state.Conflicts = append(state.Conflicts, conflict)
		blocking = conflict.Resolution.Blocking()
		if conflict.Resolution == models.ConflictRequiresClarification {
			warnings = appendWarning(warnings, models.FilterWarning{
				Code:    models.WarningAmbiguousValue,
				Message: "sources disagree with similar confidence",
			})
		}
	}

	// Value always carries the leading candidate. An unresolved state keeps it
	// as the default for whoever arbitrates the conflict or the low confidence.
	meetsThreshold := top.Confidence+confidenceEpsilon >= m.cfg.ConfidenceThreshold
	state.Resolved = meetsThreshold && !blocking
	v := *top.Value
	state.Value = &v
	if !meetsThreshold {
		warnings = appendWarning(warnings, models.FilterWarning{
			Code:    models.WarningLowConfidence,
			Message: fmt.Sprintf("best confidence %.2f is below %.2f", top.Confidence, m.cfg.ConfidenceThreshold),
		})
	}

	if state.Resolved {
		seen := make(map[models.FilterSourceKind]bool)
		for _, s := range above {
			if valueKey(*s.Value) == valueKey(*state.Value) && !seen[s.Source] {
				seen[s.Source] = true
				state.ResolvedVia = append(state.ResolvedVia, s.Source)
			}
		}
	}

	if state.Resolved {
		kept := warnings[:0]
		for _, w := range warnings {
			if !w.IsClarification() {
				kept = append(kept, w)
			}
		}
		warnings = kept
	}
	state.Warnings = sortWarnings(warnings)
	return state
}

// detectConflict classifies disagreement among sources at or above threshold.
// above must be sorted strongest first.
func (m *FilterStateMerger) detectConflict(above []models.FilterStateSource) (models.FilterConflict, bool) {
	if len(above) < 2 {
		return models.FilterConflict{}, false
	}
	top := above[0]
	topKey := valueKey(*top.Value)

	var rival *models.FilterStateSource
	for i := 1; i < len(above); i++ {
		if valueKey(*above[i].Value) != topKey {
			rival = &above[i]
			break
		}
	}
	if rival == nil {
		return models.FilterConflict{}, false
	}

	var resolution models.ConflictResolution
	switch {
	case top.Confidence+confidenceEpsilon >= m.cfg.HighConfidenceThreshold &&
		rival.Confidence+confidenceEpsilon >= m.cfg.HighConfidenceThreshold:
		resolution = models.ConflictAIJudgment
	case top.Confidence-rival.Confidence <= m.cfg.ConflictThreshold+confidenceEpsilon:
		resolution = models.ConflictRequiresClarification
	default:
		resolution = models.ConflictHighestConfidence
	}

	values := make([]models.ConflictingValue, 0, len(above))
	for _, s := range above {
		values = append(values, models.ConflictingValue{Source: s.Source, Value: *s.Value, Confidence: s.Confidence})
	}
	return models.FilterConflict{Resolution: resolution, Values: values}, true
}

// Residuals returns a residual filter for every merged state that did not resolve.
func (m *FilterStateMerger) Residuals(merged []models.MergedFilterState) []models.ResidualFilter {
	var out []models.ResidualFilter
	for _, s := range merged {
		if s.Resolved {
			continue
		}
		out = append(out, models.ResidualFilter{
			OriginalText: s.OriginalText,
			Field:        s.Field,
			Value:        s.Value,
			Reason:       residualReason(s),
		})
	}
	return out
}

// FilterResiduals drops residual filters already covered by a resolved merged
// filter, matched by normalized text or by field and value.
func (m *FilterStateMerger) FilterResiduals(residuals []models.ResidualFilter, merged []models.MergedFilterState) []models.ResidualFilter {
	texts := make(map[string]bool)
	fieldValues := make(map[string]bool)
	for _, s := range merged {
		if !s.Resolved {
			continue
		}
		if t := NormalizeTerm(s.OriginalText); t != "" {
			texts[t] = true
		}
		if s.Field != "" && s.Value != nil {
			fieldValues[fieldValueKey(s.Field, *s.Value)] = true
		}
	}

	out := make([]models.ResidualFilter, 0, len(residuals))
	for _, r := range residuals {
		if t := NormalizeTerm(r.OriginalText); t != "" && texts[t] {
			continue
		}
		if r.Field != "" && r.Value != nil && fieldValues[fieldValueKey(r.Field, *r.Value)] {
			continue
		}
		out = append(out, r)
	}
	return out
}

func residualReason(s models.MergedFilterState) string {
	for _, c := range s.Conflicts {
		if c.Resolution.Blocking() {
			return string(c.Resolution)
		}
	}
	for _, w := range s.Warnings {
		if w.IsClarification() {
			return w.Code
		}
	}
	return models.WarningNeedsClarification
}

// filterGroupKey identifies "the same filter" across sources.
func filterGroupKey(s models.FilterStateSource) string {
	if t := NormalizeTerm(s.OriginalText); t != "" {
		return "text:" + t
	}
	value := "null"
	if s.Value != nil {
		value = valueKey(*s.Value)
	}
	return "key:" + strings.ToLower(s.Field) + "|" + strings.ToLower(s.Operator) + "|" + value
}

func fieldValueKey(field, value string) string {
	return strings.ToLower(strings.TrimSpace(field)) + "|" + valueKey(value)
}

func valueKey(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// sortSources orders by confidence descending with a total tie-break so the
// result does not depend on input order.
func sortSources(sources []models.FilterStateSource) {
	sort.SliceStable(sources, func(i, j int) bool {
		a, b := sources[i], sources[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		av, bv := "", ""
		if a.Value != nil {
			av = *a.Value
		}
		if b.Value != nil {
			bv = *b.Value
		}
		if av != bv {
			return av < bv
		}
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		if a.Operator != b.Operator {
			return a.Operator < b.Operator
		}
		if a.OriginalText != b.OriginalText {
			return a.OriginalText < b.OriginalText
		}
		return a.Error < b.Error
	})
}

func collectWarnings(sources []models.FilterStateSource) []models.FilterWarning {
	var out []models.FilterWarning
	for _, s := range sources {
		for _, w := range s.Warnings {
			out = appendWarning(out, w)
		}
	}
	return out
}

func appendWarning(ws []models.FilterWarning, w models.FilterWarning) []models.FilterWarning {
	for _, existing := range ws {
		if existing == w {
			return ws
		}
	}
	return append(ws, w)
}

func sortWarnings(ws []models.FilterWarning) []models.FilterWarning {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].Code != ws[j].Code {
			return ws[i].Code < ws[j].Code
		}
		return ws[i].Message < ws[j].Message
	})
	return ws
}

func fieldOf(sources []models.FilterStateSource) string {
	for _, s := range sources {
		if s.Field != "" {
			return s.Field
		}
	}
	return ""
}

func operatorOf(sources []models.FilterStateSource) string {
	for _, s := range sources {
		if s.Operator != "" {
			return s.Operator
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
