package services

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/context-engine/pkg/apperrors"
	"github.com/ekaya-inc/context-engine/pkg/models"
)

// Weights of the overall bundle confidence.
const (
	intentWeight      = 0.3
	formsWeight       = 0.3
	terminologyWeight = 0.25
	joinWeight        = 0.15
)

// AssembleInput is everything the assembler folds into a bundle.
type AssembleInput struct {
	CustomerID     string
	Question       string
	Intent         models.IntentResult
	Forms          []models.FormContext
	Terminology    []models.TerminologyMapping
	JoinPaths      []models.JoinPath
	FilterStates   []models.MergedFilterState
	Clarifications []models.ResidualFilter
}

// ContextAssembler builds context bundles. It performs no I/O.
type ContextAssembler struct {
	newRunID func() uuid.UUID
	now      func() time.Time
	version  string
}

// AssemblerOption overrides assembler defaults, mostly for tests.
type AssemblerOption func(*ContextAssembler)

// WithRunIDGenerator overrides discovery run ID generation.
func WithRunIDGenerator(fn func() uuid.UUID) AssemblerOption {
	return func(a *ContextAssembler) { a.newRunID = fn }
}

// WithClock overrides the bundle timestamp source.
func WithClock(fn func() time.Time) AssemblerOption {
	return func(a *ContextAssembler) { a.now = fn }
}

// NewContextAssembler creates an assembler stamping bundles with version.
func NewContextAssembler(version string, opts ...AssemblerOption) *ContextAssembler {
	a := &ContextAssembler{
		newRunID: uuid.New,
		now:      func() time.Time { return time.Now().UTC() },
		version:  version,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble builds the bundle. Customer and question must be non-blank.
// Nil collections are returned as empty slices.
func (a *ContextAssembler) Assemble(in AssembleInput) (*models.ContextBundle, error) {
	if strings.TrimSpace(in.CustomerID) == "" {
		return nil, apperrors.Validationf("customer id is required")
	}
	if strings.TrimSpace(in.Question) == "" {
		return nil, apperrors.Validationf("question is required")
	}

	bundle := &models.ContextBundle{
		CustomerID:     in.CustomerID,
		Question:       strings.TrimSpace(in.Question),
		Intent:         in.Intent,
		Forms:          nonNil(in.Forms),
		Terminology:    nonNil(in.Terminology),
		JoinPaths:      nonNil(in.JoinPaths),
		FilterStates:   in.FilterStates,
		Clarifications: in.Clarifications,
		Metadata: models.BundleMetadata{
			DiscoveryRunID: a.newRunID(),
			Timestamp:      a.now(),
			Version:        a.version,
		},
	}
	bundle.OverallConfidence = OverallConfidence(in.Intent.Confidence, bundle.Forms, bundle.Terminology, bundle.JoinPaths)
	return bundle, nil
}

// OverallConfidence is the weighted bundle score, always within [0,1].
// Empty collections contribute 0.
func OverallConfidence(intentConfidence float64, forms []models.FormContext, terminology []models.TerminologyMapping, joins []models.JoinPath) float64 {
	var termSum float64
	for _, t := range terminology {
		termSum += clamp01(t.Confidence)
	}
	var joinSum float64
	for _, j := range joins {
		joinSum += clamp01(j.Confidence)
	}

	overall := clamp01(intentConfidence)*intentWeight +
		formsScore(forms)*formsWeight +
		average(termSum, len(terminology))*terminologyWeight +
		average(joinSum, len(joins))*joinWeight
	return clamp01(overall)
}

// formsScore averages field confidences across forms. A form without fields
// contributes its own confidence once.
func formsScore(forms []models.FormContext) float64 {
	var sum float64
	var n int
	for _, f := range forms {
		if len(f.Fields) == 0 {
			sum += clamp01(f.Confidence)
			n++
			continue
		}
		for _, field := range f.Fields {
			sum += clamp01(field.Confidence)
			n++
		}
	}
	return average(sum, n)
}

func average(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
