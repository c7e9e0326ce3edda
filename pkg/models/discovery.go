package models

import (
	"time"

	"github.com/google/uuid"
)

// IntentType is the analytic category of a question.
type IntentType string

const (
	IntentOutcomeAnalysis    IntentType = "outcome_analysis"
	IntentTrendAnalysis      IntentType = "trend_analysis"
	IntentCohortComparison   IntentType = "cohort_comparison"
	IntentRiskAssessment     IntentType = "risk_assessment"
	IntentQualityImprovement IntentType = "quality_improvement"
	IntentOperationalMetrics IntentType = "operational_metrics"
)

// IntentTypes lists every valid intent category.
var IntentTypes = []IntentType{
	IntentOutcomeAnalysis,
	IntentTrendAnalysis,
	IntentCohortComparison,
	IntentRiskAssessment,
	IntentQualityImprovement,
	IntentOperationalMetrics,
}

// Valid reports whether t is one of the known categories.
func (t IntentType) Valid() bool {
	for _, it := range IntentTypes {
		if t == it {
			return true
		}
	}
	return false
}

// DiscoveryRequest is the input to context discovery.
// Cancellation travels on the context.Context passed alongside it.
type DiscoveryRequest struct {
	CustomerID string `json:"customer_id"`
	Question   string `json:"question"`
	ModelID    string `json:"model_id,omitempty"`
}

// TimeRange is a relative window such as "last 6 months".
type TimeRange struct {
	Unit  string `json:"unit"`
	Value int    `json:"value"`
}

// IntentFilter is a filter mentioned in the question.
// A nil Value means the filter has not yet been resolved against real data.
// ExtractedValue is the literal the classifier read out of the question, if any;
// it is one signal toward Value, not a resolution.
type IntentFilter struct {
	Concept        string  `json:"concept"`
	UserPhrase     string  `json:"user_phrase"`
	Field          string  `json:"field,omitempty"`
	Operator       string  `json:"operator,omitempty"`
	Value          *string `json:"value"`
	ExtractedValue *string `json:"extracted_value,omitempty"`
}

// IntentResult is the classifier's reading of a question.
// Produced once per request; only Filters[].Value is enriched afterwards.
type IntentResult struct {
	Type       IntentType     `json:"type"`
	Scope      string         `json:"scope"`
	Metrics    []string       `json:"metrics"`
	Filters    []IntentFilter `json:"filters"`
	TimeRange  *TimeRange     `json:"time_range,omitempty"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
	// Degraded is set when the classifier failed and a fallback intent was substituted.
	Degraded bool `json:"degraded,omitempty"`
}

// SemanticSource tells whether a search hit is a form field or a plain table column.
type SemanticSource string

const (
	SemanticSourceForm    SemanticSource = "form"
	SemanticSourceNonForm SemanticSource = "non_form"
)

// SemanticResult is one field or column matched by semantic search.
type SemanticResult struct {
	Source          SemanticSource `json:"source"`
	FieldName       string         `json:"field_name"`
	FormName        string         `json:"form_name,omitempty"`
	TableName       string         `json:"table_name,omitempty"`
	SemanticConcept string         `json:"semantic_concept"`
	DataType        string         `json:"data_type"`
	Confidence      float64        `json:"confidence"`
}

// SearchOptions bounds a semantic index search.
type SearchOptions struct {
	MinConfidence  float64
	Limit          int
	IncludeNonForm bool
}

// FormOptionCandidate is a known option value that a user phrase may resolve to.
type FormOptionCandidate struct {
	FormName        string  `json:"form_name"`
	FieldName       string  `json:"field_name"`
	FieldValue      string  `json:"field_value"`
	SemanticConcept string  `json:"semantic_concept"`
	Confidence      float64 `json:"confidence"`
}

// TerminologyMapping is the canonical value resolved for one user phrase.
type TerminologyMapping struct {
	UserTerm        string  `json:"user_term"`
	FieldName       string  `json:"field_name"`
	FormName        string  `json:"form_name,omitempty"`
	FieldValue      string  `json:"field_value"`
	SemanticConcept string  `json:"semantic_concept"`
	Source          string  `json:"source"`
	Confidence      float64 `json:"confidence"`
}

// FieldContext is one field of a form (or column of a table) in the bundle.
type FieldContext struct {
	FieldName       string  `json:"field_name"`
	SemanticConcept string  `json:"semantic_concept"`
	DataType        string  `json:"data_type"`
	Confidence      float64 `json:"confidence"`
}

// FormContext groups matched fields by form, or by table for non-form hits.
type FormContext struct {
	Name       string         `json:"name"`
	Source     SemanticSource `json:"source"`
	Confidence float64        `json:"confidence"`
	Fields     []FieldContext `json:"fields"`
}

// StepRecord is the observability trail entry for one pipeline step.
type StepRecord struct {
	Name       string `json:"name"`
	DurationMs int64  `json:"duration_ms"`
	Success    bool   `json:"success"`
	Summary    string `json:"summary,omitempty"`
	Error      string `json:"error,omitempty"`
}

// BundleMetadata describes the run that produced a bundle.
type BundleMetadata struct {
	DiscoveryRunID    uuid.UUID    `json:"discovery_run_id"`
	Timestamp         time.Time    `json:"timestamp"`
	DurationMs        int64        `json:"duration_ms"`
	Version           string       `json:"version"`
	Steps             []StepRecord `json:"steps,omitempty"`
	UnreachableTables []string     `json:"unreachable_tables,omitempty"`
}

// ContextBundle is the output of context discovery, consumed by SQL generation.
// Built once per request and not mutated after it is returned.
type ContextBundle struct {
	CustomerID        string               `json:"customer_id"`
	Question          string               `json:"question"`
	Intent            IntentResult         `json:"intent"`
	Forms             []FormContext        `json:"forms"`
	Terminology       []TerminologyMapping `json:"terminology"`
	JoinPaths         []JoinPath           `json:"join_paths"`
	FilterStates      []MergedFilterState  `json:"filter_states,omitempty"`
	Clarifications    []ResidualFilter     `json:"clarifications,omitempty"`
	OverallConfidence float64              `json:"overall_confidence"`
	Metadata          BundleMetadata       `json:"metadata"`
}

// DiscoveryRun is the audit record of a completed discovery.
// Stored in discovery_run table.
type DiscoveryRun struct {
	ID                uuid.UUID      `json:"id"`
	CustomerID        string         `json:"customer_id"`
	Question          string         `json:"question"`
	Bundle            *ContextBundle `json:"bundle"`
	OverallConfidence float64        `json:"overall_confidence"`
	DurationMs        int64          `json:"duration_ms"`
	CreatedAt         time.Time      `json:"created_at"`
}
