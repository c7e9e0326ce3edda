package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/context-engine/pkg/apperrors"
	"github.com/ekaya-inc/context-engine/pkg/logging"
	"github.com/ekaya-inc/context-engine/pkg/metrics"
	"github.com/ekaya-inc/context-engine/pkg/models"
	"github.com/ekaya-inc/context-engine/pkg/services/parallel"
)

// Pipeline step names, as they appear in the step trail and metrics.
const (
	StepClassifyIntent        = "classify_intent"
	StepMapFilters            = "map_filters"
	StepSearchAndTerminology  = "search_and_terminology"
	StepPlanJoins             = "plan_joins"
	StepAssembleContext       = "assemble_context"
	taskSemanticSearch        = "semantic_search"
	taskTerminologyMapping    = "terminology_mapping"
	defaultParallelTimeout    = 15 * time.Second
	skippedSingleTableSummary = "skipped: fewer than two tables"
)

// ContextDiscoveryService turns a question into a context bundle.
type ContextDiscoveryService interface {
	// DiscoverContext runs the whole pipeline. It returns a bundle or an
	// *apperrors.Error; there is no partial result.
	DiscoverContext(ctx context.Context, req models.DiscoveryRequest) (*models.ContextBundle, error)

	// GetRun returns a previously audited discovery run.
	GetRun(ctx context.Context, customerID string, runID uuid.UUID) (*models.DiscoveryRun, error)
}

// DiscoveryRunReader reads audited runs.
type DiscoveryRunReader interface {
	GetByID(ctx context.Context, customerID string, runID uuid.UUID) (*models.DiscoveryRun, error)
}

// ContextDiscoveryConfig holds pipeline-level settings.
type ContextDiscoveryConfig struct {
	ParallelTimeout time.Duration
	// DefaultSeedTable anchors join planning when only form fields matched.
	DefaultSeedTable string
}

// ContextDiscoveryDeps are the collaborators of the pipeline.
type ContextDiscoveryDeps struct {
	Classifier    IntentClassifier
	Terminology   TerminologyMapper
	Searcher      SemanticSearcher
	Relationships RelationshipLoader
	Planner       *JoinPathPlanner
	Merger        *FilterStateMerger
	Assembler     *ContextAssembler
	Audit         *DiscoveryAudit
	Runs          DiscoveryRunReader
}

type contextDiscoveryService struct {
	deps   ContextDiscoveryDeps
	cfg    ContextDiscoveryConfig
	logger *zap.Logger
}

var _ ContextDiscoveryService = (*contextDiscoveryService)(nil)

// NewContextDiscoveryService wires the pipeline.
func NewContextDiscoveryService(deps ContextDiscoveryDeps, cfg ContextDiscoveryConfig, logger *zap.Logger) ContextDiscoveryService {
	if cfg.ParallelTimeout <= 0 {
		cfg.ParallelTimeout = defaultParallelTimeout
	}
	if deps.Merger == nil {
		deps.Merger = NewFilterStateMerger(DefaultFilterMergeConfig())
	}
	if deps.Assembler == nil {
		deps.Assembler = NewContextAssembler("")
	}
	return &contextDiscoveryService{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("context-discovery"),
	}
}

func (s *contextDiscoveryService) DiscoverContext(ctx context.Context, req models.DiscoveryRequest) (*models.ContextBundle, error) {
	start := time.Now()

	customerID := strings.TrimSpace(req.CustomerID)
	question := strings.TrimSpace(req.Question)
	if customerID == "" {
		metrics.ObserveDiscovery(time.Since(start), metrics.OutcomeValidation)
		return nil, apperrors.Validationf("customer id is required")
	}
	if question == "" {
		metrics.ObserveDiscovery(time.Since(start), metrics.OutcomeValidation)
		return nil, apperrors.Validationf("question is required")
	}

	logger := s.logger.With(zap.String("customer_id", customerID))
	trail := &stepTrail{}

	bundle, err := s.run(ctx, logger, trail, customerID, question, req.ModelID)
	if err != nil {
		metrics.ObserveDiscovery(time.Since(start), metrics.OutcomeError)
		logger.Error("Context discovery failed",
			zap.Any("steps", trail.records),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, err
	}

	elapsed := time.Since(start)
	bundle.Metadata.DurationMs = elapsed.Milliseconds()
	bundle.Metadata.Steps = trail.records

	s.deps.Audit.Persist(ctx, bundle.Metadata.DiscoveryRunID, customerID, question, bundle, bundle.Metadata.DurationMs)
	metrics.ObserveDiscovery(elapsed, metrics.OutcomeSuccess)

	logger.Info("Context discovery completed",
		zap.String("discovery_run_id", bundle.Metadata.DiscoveryRunID.String()),
		zap.String("question", logging.SanitizeQuestion(req.Question)),
		zap.String("intent", string(bundle.Intent.Type)),
		zap.Int("forms", len(bundle.Forms)),
		zap.Int("terminology", len(bundle.Terminology)),
		zap.Int("join_paths", len(bundle.JoinPaths)),
		zap.Float64("overall_confidence", bundle.OverallConfidence),
		zap.Duration("elapsed", elapsed))

	return bundle, nil
}

func (s *contextDiscoveryService) run(ctx context.Context, logger *zap.Logger, trail *stepTrail, customerID, question, modelID string) (*models.ContextBundle, error) {
	// Step 1: intent. The classifier absorbs provider failures into a
	// fallback intent, so an error here is a canceled or expired request.
	intent, err := recordStep(trail, StepClassifyIntent, func() (*models.IntentResult, error) {
		return s.deps.Classifier.Classify(ctx, customerID, question, modelID)
	}, func(r *models.IntentResult) string {
		return fmt.Sprintf("type=%s confidence=%.2f degraded=%t", r.Type, r.Confidence, r.Degraded)
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStepFailure, StepClassifyIntent, err)
	}
	if intent == nil {
		intent = FallbackIntent(question, nil)
	}
	if intent.Degraded {
		logger.Warn("Using fallback intent", zap.String("intent", string(intent.Type)))
	}

	// Step 2: filter values.
	filterMappings, err := recordStep(trail, StepMapFilters, func() ([]FilterMapping, error) {
		return s.deps.Terminology.MapFilters(ctx, customerID, intent.Filters)
	}, func(m []FilterMapping) string {
		return fmt.Sprintf("filters=%d mapped=%d", len(m), countMapped(m))
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStepFailure, StepMapFilters, err)
	}

	filterStates := s.deps.Merger.Merge(FilterSources(filterMappings, intent.Confidence))
	clarifications := s.deps.Merger.FilterResiduals(s.deps.Merger.Residuals(filterStates), filterStates)
	enriched := EnrichIntentFilters(*intent, filterStates)

	// Step 3: semantic search and term mapping run side by side.
	searchResults, terminology, err := s.searchAndMapTerms(ctx, trail, customerID, &enriched)
	if err != nil {
		return nil, err
	}

	// Step 4: joins, only when more than one table is involved.
	var joinPaths []models.JoinPath
	var unreachable []string
	tables := RequiredTables(searchResults, s.cfg.DefaultSeedTable)
	if len(tables) > 1 {
		plan, err := recordStep(trail, StepPlanJoins, func() (*JoinPlan, error) {
			rows, err := s.deps.Relationships.LoadRelationships(ctx, customerID)
			if err != nil {
				return nil, err
			}
			return s.deps.Planner.Plan(ctx, tables, rows)
		}, func(p *JoinPlan) string {
			return fmt.Sprintf("tables=%d paths=%d unreachable=%d", len(tables), len(p.Paths), len(p.Unreachable))
		})
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindStepFailure, StepPlanJoins, err)
		}
		joinPaths, unreachable = plan.Paths, plan.Unreachable
		if len(unreachable) > 0 {
			logger.Warn("Some tables could not be joined", zap.Strings("unreachable_tables", unreachable))
		}
	} else {
		trail.add(models.StepRecord{Name: StepPlanJoins, Success: true, Summary: skippedSingleTableSummary})
	}

	// Step 5: bundle.
	bundle, err := recordStep(trail, StepAssembleContext, func() (*models.ContextBundle, error) {
		return s.deps.Assembler.Assemble(AssembleInput{
			CustomerID:     customerID,
			Question:       question,
			Intent:         enriched,
			Forms:          GroupForms(searchResults),
			Terminology:    terminology,
			JoinPaths:      joinPaths,
			FilterStates:   filterStates,
			Clarifications: clarifications,
		})
	}, func(b *models.ContextBundle) string {
		return fmt.Sprintf("overall_confidence=%.2f", b.OverallConfidence)
	})
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindValidation) {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.KindStepFailure, StepAssembleContext, err)
	}
	bundle.Metadata.UnreachableTables = unreachable
	return bundle, nil
}

func (s *contextDiscoveryService) searchAndMapTerms(ctx context.Context, trail *stepTrail, customerID string, intent *models.IntentResult) ([]models.SemanticResult, []models.TerminologyMapping, error) {
	phrases := make([]string, 0, len(intent.Filters))
	for _, f := range intent.Filters {
		if p := filterPhrase(f); p != "" {
			phrases = append(phrases, p)
		}
	}

	search := parallel.Task[[]models.SemanticResult]{
		Name: taskSemanticSearch,
		Run: func(ctx context.Context) ([]models.SemanticResult, error) {
			return s.deps.Searcher.Search(ctx, customerID, intent)
		},
	}
	terms := parallel.Task[[]models.TerminologyMapping]{
		Name: taskTerminologyMapping,
		Run: func(ctx context.Context) ([]models.TerminologyMapping, error) {
			return s.deps.Terminology.MapTerms(ctx, customerID, phrases)
		},
	}

	type searchAndTerms struct {
		results     []models.SemanticResult
		terminology []models.TerminologyMapping
	}
	out, err := recordStep(trail, StepSearchAndTerminology, func() (searchAndTerms, error) {
		searchRes, termRes, err := parallel.Execute2(ctx, search, terms, parallel.Options{
			Timeout:      s.cfg.ParallelTimeout,
			ThrowOnError: true,
			Logger:       s.logger,
			OnSettled: func(_ string, status parallel.Status) {
				metrics.ObserveParallelTask(string(status))
			},
		})
		return searchAndTerms{results: searchRes.Value, terminology: termRes.Value}, err
	}, func(r searchAndTerms) string {
		return fmt.Sprintf("results=%d terminology=%d", len(r.results), len(r.terminology))
	})
	if err != nil {
		if errors.Is(err, parallel.ErrTaskTimeout) {
			err = apperrors.Wrap(apperrors.KindTimeout, StepSearchAndTerminology, err)
		} else if errors.Is(err, context.Canceled) {
			err = apperrors.Wrap(apperrors.KindCanceled, StepSearchAndTerminology, err)
		}
		return nil, nil, apperrors.Wrap(apperrors.KindStepFailure, StepSearchAndTerminology, err)
	}
	return out.results, out.terminology, nil
}

func (s *contextDiscoveryService) GetRun(ctx context.Context, customerID string, runID uuid.UUID) (*models.DiscoveryRun, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, apperrors.Validationf("customer id is required")
	}
	if s.deps.Runs == nil {
		return nil, apperrors.ErrNotFound
	}
	return s.deps.Runs.GetByID(ctx, customerID, runID)
}

type stepTrail struct {
	records []models.StepRecord
}

func (t *stepTrail) add(r models.StepRecord) {
	t.records = append(t.records, r)
}

// recordStep times fn, appends it to the trail and reports it to metrics.
func recordStep[T any](trail *stepTrail, name string, fn func() (T, error), summarize func(T) string) (T, error) {
	start := time.Now()
	v, err := fn()
	elapsed := time.Since(start)

	rec := models.StepRecord{Name: name, DurationMs: elapsed.Milliseconds(), Success: err == nil}
	if err != nil {
		rec.Error = err.Error()
	} else if summarize != nil {
		rec.Summary = summarize(v)
	}
	trail.add(rec)
	metrics.ObserveStep(name, elapsed, err == nil)
	return v, err
}

func countMapped(mappings []FilterMapping) int {
	n := 0
	for _, m := range mappings {
		if m.Mapping != nil {
			n++
		}
	}
	return n
}

// FilterSources turns per-filter mapping results into merger input.
// The classifier's extracted literal counts as a placeholder extraction
// weighted by the intent confidence; a terminology hit counts as a semantic
// mapping. When both exist the literal only corroborates or trails the
// mapping, see weighLiteralAgainstMapping. A filter with neither still yields a residual source so it
// surfaces as a clarification.
func FilterSources(mappings []FilterMapping, intentConfidence float64) []models.FilterStateSource {
	var sources []models.FilterStateSource
	for _, fm := range mappings {
		phrase := filterPhrase(fm.Filter)
		if phrase == "" {
			continue
		}
		added := false

		if fm.Filter.ExtractedValue != nil && strings.TrimSpace(*fm.Filter.ExtractedValue) != "" {
			v := strings.TrimSpace(*fm.Filter.ExtractedValue)
			src := models.FilterStateSource{
				Source:       models.FilterSourcePlaceholderExtraction,
				Value:        &v,
				Confidence:   clamp01(intentConfidence),
				Field:        fm.Filter.Field,
				Operator:     fm.Filter.Operator,
				OriginalText: phrase,
			}
			if fm.Mapping == nil {
				src.Warnings = fm.Warnings
			} else {
				weighLiteralAgainstMapping(&src, fm.Mapping, intentConfidence)
			}
			sources = append(sources, src)
			added = true
		}

		if fm.Mapping != nil {
			v := fm.Mapping.FieldValue
			sources = append(sources, models.FilterStateSource{
				Source:       models.FilterSourceSemanticMapping,
				Value:        &v,
				Confidence:   clamp01(fm.Mapping.Confidence),
				Field:        fm.Mapping.FieldName,
				Operator:     firstNonEmpty(fm.Filter.Operator, "="),
				OriginalText: phrase,
				Warnings:     fm.Warnings,
			})
			added = true
		}

		if !added {
			sources = append(sources, models.FilterStateSource{
				Source:       models.FilterSourceResidualExtraction,
				Field:        fm.Filter.Field,
				Operator:     fm.Filter.Operator,
				OriginalText: phrase,
				Warnings:     fm.Warnings,
			})
		}
	}
	return sources
}

// weighLiteralAgainstMapping reconciles an extracted literal with the
// terminology hit for the same phrase. A literal that normalizes to the
// canonical value (after abbreviation expansion) corroborates it and votes for
// the canonical value. Any other literal keeps its own value but is weighted
// by its lexical similarity to the canonical value and always stays below the
// mapping's confidence.
func weighLiteralAgainstMapping(src *models.FilterStateSource, mapping *models.TerminologyMapping, intentConfidence float64) {
	literal := NormalizeTerm(ExpandAbbreviations(*src.Value))
	canonical := NormalizeTerm(ExpandAbbreviations(mapping.FieldValue))
	sim := similarityRatio(literal, canonical)

	if literal == canonical || sim >= approxTokenRatio {
		v := mapping.FieldValue
		src.Value = &v
		src.Confidence = clamp01(min(intentConfidence, mapping.Confidence))
		src.Field = firstNonEmpty(src.Field, mapping.FieldName)
		return
	}

	mappingConfidence := clamp01(mapping.Confidence)
	conf := clamp01(intentConfidence) * sim
	if conf >= mappingConfidence {
		conf = mappingConfidence * sim
	}
	src.Confidence = conf
}

// EnrichIntentFilters returns a copy of intent whose filters carry the values
// of their resolved merged states. Unresolved filters keep a nil value.
func EnrichIntentFilters(intent models.IntentResult, states []models.MergedFilterState) models.IntentResult {
	resolved := make(map[string]models.MergedFilterState, len(states))
	for _, st := range states {
		if st.Resolved && st.Value != nil {
			resolved[NormalizeTerm(st.OriginalText)] = st
		}
	}

	filters := make([]models.IntentFilter, len(intent.Filters))
	for i, f := range intent.Filters {
		if st, ok := resolved[NormalizeTerm(filterPhrase(f))]; ok {
			v := *st.Value
			f.Value = &v
			f.Field = firstNonEmpty(f.Field, st.Field)
			f.Operator = firstNonEmpty(f.Operator, st.Operator)
		}
		filters[i] = f
	}
	intent.Filters = filters
	return intent
}

// RequiredTables lists the distinct tables of non-form hits in result order.
// When form fields matched too, seedTable is put first so the forms' backing
// table is joined to the rest.
func RequiredTables(results []models.SemanticResult, seedTable string) []string {
	seen := make(map[string]bool)
	var tables []string
	hasForm := false
	for _, r := range results {
		if r.Source == models.SemanticSourceForm {
			hasForm = true
			continue
		}
		t := strings.TrimSpace(r.TableName)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		tables = append(tables, t)
	}

	seedTable = strings.TrimSpace(seedTable)
	if hasForm && seedTable != "" && !seen[strings.ToLower(seedTable)] {
		tables = append([]string{seedTable}, tables...)
	}
	return tables
}

// GroupForms folds search hits into one context per form, or per table for
// non-form hits. A group's confidence is its best field's confidence.
func GroupForms(results []models.SemanticResult) []models.FormContext {
	type groupKey struct {
		source models.SemanticSource
		name   string
	}
	index := make(map[groupKey]int)
	var forms []models.FormContext

	for _, r := range results {
		name := r.FormName
		if r.Source == models.SemanticSourceNonForm || name == "" {
			name = r.TableName
		}
		k := groupKey{source: r.Source, name: name}
		i, ok := index[k]
		if !ok {
			i = len(forms)
			index[k] = i
			forms = append(forms, models.FormContext{Name: name, Source: r.Source})
		}
		conf := clamp01(r.Confidence)
		forms[i].Fields = append(forms[i].Fields, models.FieldContext{
			FieldName:       r.FieldName,
			SemanticConcept: r.SemanticConcept,
			DataType:        r.DataType,
			Confidence:      conf,
		})
		if conf > forms[i].Confidence {
			forms[i].Confidence = conf
		}
	}

	sort.SliceStable(forms, func(a, b int) bool {
		if forms[a].Confidence != forms[b].Confidence {
			return forms[a].Confidence > forms[b].Confidence
		}
		return forms[a].Name < forms[b].Name
	})
	return forms
}
