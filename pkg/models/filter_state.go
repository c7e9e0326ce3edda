package models

// FilterSourceKind identifies which extractor produced a filter signal.
type FilterSourceKind string

const (
	FilterSourceTemplateParam         FilterSourceKind = "template_param"
	FilterSourceSemanticMapping       FilterSourceKind = "semantic_mapping"
	FilterSourcePlaceholderExtraction FilterSourceKind = "placeholder_extraction"
	FilterSourceResidualExtraction    FilterSourceKind = "residual_extraction"
)

// Warning codes attached to filter signals.
const (
	WarningNeedsClarification = "needs_clarification"
	WarningAmbiguousValue     = "ambiguous_value"
	WarningLowConfidence      = "low_confidence"
	WarningUnmapped           = "unmapped"
	WarningSuspiciousInput    = "suspicious_input"
)

// FilterWarning is a structured note about a filter signal.
type FilterWarning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IsClarification reports whether the warning asks the user for more input.
// Such warnings are dropped once the filter resolves.
func (w FilterWarning) IsClarification() bool {
	switch w.Code {
	case WarningNeedsClarification, WarningAmbiguousValue, WarningLowConfidence, WarningUnmapped:
		return true
	}
	return false
}

// FilterStateSource is one signal about one filter.
type FilterStateSource struct {
	Source       FilterSourceKind `json:"source"`
	Value        *string          `json:"value"`
	Confidence   float64          `json:"confidence"`
	Field        string           `json:"field,omitempty"`
	Operator     string           `json:"operator,omitempty"`
	OriginalText string           `json:"original_text"`
	Warnings     []FilterWarning  `json:"warnings,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// ConflictResolution describes how a disagreement between sources is settled.
type ConflictResolution string

const (
	// ConflictAIJudgment means two confident sources disagree and need external arbitration.
	ConflictAIJudgment ConflictResolution = "ai_judgment"
	// ConflictRequiresClarification means sources are too close in confidence to pick one.
	ConflictRequiresClarification ConflictResolution = "requires_clarification"
	// ConflictHighestConfidence is non-blocking: the strongest source wins.
	ConflictHighestConfidence ConflictResolution = "highest_confidence"
)

// Blocking reports whether the conflict prevents resolution.
func (r ConflictResolution) Blocking() bool {
	return r != ConflictHighestConfidence
}

// ConflictingValue is one side of a filter conflict.
type ConflictingValue struct {
	Source     FilterSourceKind `json:"source"`
	Value      string           `json:"value"`
	Confidence float64          `json:"confidence"`
}

// FilterConflict records disagreeing values among sources above threshold.
type FilterConflict struct {
	Resolution ConflictResolution `json:"resolution"`
	Values     []ConflictingValue `json:"values"`
}

// MergedFilterState is the reconciled view of all sources sharing a filter.
// Resolved is true only when Confidence meets threshold and no blocking conflict remains.
// Value holds the leading candidate whenever any source produced one, resolved or not.
type MergedFilterState struct {
	OriginalText string             `json:"original_text"`
	Field        string             `json:"field,omitempty"`
	Operator     string             `json:"operator,omitempty"`
	Value        *string            `json:"value"`
	Resolved     bool               `json:"resolved"`
	Confidence   float64            `json:"confidence"`
	ResolvedVia  []FilterSourceKind `json:"resolved_via"`
	Conflicts    []FilterConflict   `json:"conflicts"`
	Warnings     []FilterWarning    `json:"warnings,omitempty"`
}

// ResidualFilter is a filter that still needs user input.
type ResidualFilter struct {
	OriginalText string  `json:"original_text"`
	Field        string  `json:"field,omitempty"`
	Value        *string `json:"value,omitempty"`
	Reason       string  `json:"reason"`
}
