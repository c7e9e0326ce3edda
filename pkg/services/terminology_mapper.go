package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/context-engine/pkg/apperrors"
	"github.com/ekaya-inc/context-engine/pkg/cache"
	"github.com/ekaya-inc/context-engine/pkg/models"
	"github.com/ekaya-inc/context-engine/pkg/sql"
)

// TerminologySourceFormOption marks mappings resolved against form option values.
const TerminologySourceFormOption = "form_option"

// Composite score weights.
const (
	candidateWeight     = 0.55
	lexicalWeight       = 0.3
	overlapWeight       = 0.1
	conceptContainBonus = 0.05
	approxTokenRatio    = 0.75
)

// FormOptionSource supplies candidate values for terminology matching.
type FormOptionSource interface {
	LoadFormOptions(ctx context.Context, customerID string, patterns []string, limit int) ([]models.FormOptionCandidate, error)
}

// TerminologyMapper resolves user phrases to canonical field values.
type TerminologyMapper interface {
	// MapTerm returns the best mapping for term, or nil when no candidate
	// clears the confidence threshold. A miss is not an error.
	MapTerm(ctx context.Context, customerID, term string) (*models.TerminologyMapping, error)

	// MapTerms maps each distinct term and returns the hits in input order.
	MapTerms(ctx context.Context, customerID string, terms []string) ([]models.TerminologyMapping, error)

	// MapFilters maps each filter's user phrase and reports why unmapped filters missed.
	MapFilters(ctx context.Context, customerID string, filters []models.IntentFilter) ([]FilterMapping, error)
}

// FilterMapping is the terminology outcome for one intent filter.
type FilterMapping struct {
	Filter   models.IntentFilter
	Mapping  *models.TerminologyMapping
	Warnings []models.FilterWarning
}

// TerminologyMapperConfig tunes matching.
type TerminologyMapperConfig struct {
	MinConfidence float64
	MaxCandidates int
}

// DefaultTerminologyMapperConfig returns the standard thresholds.
func DefaultTerminologyMapperConfig() TerminologyMapperConfig {
	return TerminologyMapperConfig{MinConfidence: 0.7, MaxCandidates: 200}
}

type terminologyMapper struct {
	options FormOptionSource
	cache   *cache.TTLCache[*models.TerminologyMapping]
	cfg     TerminologyMapperConfig
	logger  *zap.Logger
}

// NewTerminologyMapper creates a TerminologyMapper. The cache holds results
// (including misses) per customer and normalized term; it may be nil.
func NewTerminologyMapper(
	options FormOptionSource,
	mappingCache *cache.TTLCache[*models.TerminologyMapping],
	cfg TerminologyMapperConfig,
	logger *zap.Logger,
) TerminologyMapper {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultTerminologyMapperConfig().MinConfidence
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultTerminologyMapperConfig().MaxCandidates
	}
	if mappingCache == nil {
		mappingCache = cache.NewTTLCache[*models.TerminologyMapping](5*time.Minute, 0)
	}
	return &terminologyMapper{
		options: options,
		cache:   mappingCache,
		cfg:     cfg,
		logger:  logger.Named("terminology-mapper"),
	}
}

var _ TerminologyMapper = (*terminologyMapper)(nil)

func (m *terminologyMapper) MapTerm(ctx context.Context, customerID, term string) (*models.TerminologyMapping, error) {
	if strings.TrimSpace(term) == "" {
		return nil, nil
	}
	if r := sql.CheckPhrase(term); r != nil {
		m.logger.Warn("Refusing to map suspicious phrase",
			zap.String("customer_id", customerID),
			zap.String("fingerprint", r.Fingerprint))
		return nil, nil
	}

	normalized := NormalizeTerm(ExpandAbbreviations(term))
	if normalized == "" {
		return nil, nil
	}

	key := customerID + "|" + normalized
	if cached, ok := m.cache.Get(key); ok {
		if cached == nil {
			return nil, nil
		}
		hit := *cached
		hit.UserTerm = term
		return &hit, nil
	}

	candidates, err := m.options.LoadFormOptions(ctx, customerID, likePatterns(normalized), m.cfg.MaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("load form options: %w", err)
	}

	best, ok := selectBestCandidate(normalized, candidates, m.cfg.MinConfidence)
	if !ok {
		m.logger.Debug("No terminology candidate above threshold",
			zap.String("customer_id", customerID),
			zap.String("term", normalized),
			zap.Int("candidates", len(candidates)),
			zap.Error(apperrors.New(apperrors.KindMappingMiss, StepMapFilters, "no candidate above threshold")))
		m.cache.Set(key, nil)
		return nil, nil
	}

	mapping := &models.TerminologyMapping{
		UserTerm:        term,
		FieldName:       best.candidate.FieldName,
		FormName:        best.candidate.FormName,
		FieldValue:      best.candidate.FieldValue,
		SemanticConcept: best.candidate.SemanticConcept,
		Source:          TerminologySourceFormOption,
		Confidence:      best.score,
	}
	stored := *mapping
	m.cache.Set(key, &stored)
	return mapping, nil
}

func (m *terminologyMapper) MapTerms(ctx context.Context, customerID string, terms []string) ([]models.TerminologyMapping, error) {
	seen := make(map[string]bool, len(terms))
	mappings := make([]models.TerminologyMapping, 0, len(terms))

	for _, term := range terms {
		key := NormalizeTerm(ExpandAbbreviations(term))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		mapping, err := m.MapTerm(ctx, customerID, term)
		if err != nil {
			return nil, err
		}
		if mapping != nil {
			mappings = append(mappings, *mapping)
		}
	}
	return mappings, nil
}

func (m *terminologyMapper) MapFilters(ctx context.Context, customerID string, filters []models.IntentFilter) ([]FilterMapping, error) {
	out := make([]FilterMapping, 0, len(filters))
	for _, f := range filters {
		fm := FilterMapping{Filter: f}
		phrase := filterPhrase(f)

		switch {
		case phrase == "":
			fm.Warnings = append(fm.Warnings, models.FilterWarning{
				Code:    models.WarningUnmapped,
				Message: fmt.Sprintf("filter %q has no phrase to map", f.Concept),
			})
		case sql.CheckPhrase(phrase) != nil:
			fm.Warnings = append(fm.Warnings, models.FilterWarning{
				Code:    models.WarningSuspiciousInput,
				Message: "phrase looks like SQL and was not mapped",
			})
		default:
			mapping, err := m.MapTerm(ctx, customerID, phrase)
			if err != nil {
				return nil, fmt.Errorf("map filter %q: %w", f.Concept, err)
			}
			fm.Mapping = mapping
			if mapping == nil {
				fm.Warnings = append(fm.Warnings, models.FilterWarning{
					Code:    models.WarningUnmapped,
					Message: fmt.Sprintf("no known value matches %q", phrase),
				})
			}
		}
		out = append(out, fm)
	}
	return out, nil
}

// filterPhrase is the text a filter should be resolved from.
func filterPhrase(f models.IntentFilter) string {
	if p := strings.TrimSpace(f.UserPhrase); p != "" {
		return p
	}
	return strings.TrimSpace(strings.ReplaceAll(f.Concept, "_", " "))
}

// likePatterns builds lowercase LIKE patterns from the normalized term. Long
// tokens also contribute a four-letter stem so misspellings still find candidates.
func likePatterns(normalized string) []string {
	seen := make(map[string]bool)
	var patterns []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			patterns = append(patterns, "%"+p+"%")
		}
	}
	for _, tok := range strings.Fields(normalized) {
		if len(tok) < 3 {
			continue
		}
		add(tok)
		if len(tok) > 4 {
			add(tok[:4])
		}
	}
	if len(patterns) == 0 {
		add(normalized)
	}
	return patterns
}

// scoredCandidate is a candidate with its composite score.
type scoredCandidate struct {
	candidate models.FormOptionCandidate
	score     float64 // final score, floored at candidate confidence
	raw       float64 // composite before flooring and capping
	lexical   float64
}

// scoreCandidate computes the composite match score of a normalized term
// against one candidate.
func scoreCandidate(normalizedTerm string, c models.FormOptionCandidate) scoredCandidate {
	value := NormalizeTerm(c.FieldValue)
	concept := NormalizeTerm(c.SemanticConcept)

	lexical := similarityRatio(normalizedTerm, value)
	overlap := tokenOverlap(strings.Fields(normalizedTerm), strings.Fields(value), strings.Fields(concept))

	candConf := clamp01(c.Confidence)
	raw := candConf*candidateWeight + lexical*lexicalWeight + overlap*overlapWeight
	if concept != "" && strings.Contains(concept, normalizedTerm) {
		raw += conceptContainBonus
	}

	return scoredCandidate{
		candidate: c,
		score:     min(1, max(raw, candConf)),
		raw:       raw,
		lexical:   lexical,
	}
}

// tokenOverlap is the fraction of term tokens found among the candidate's
// value tokens (full credit) or concept tokens (half credit). Near matches
// count as matches.
func tokenOverlap(termTokens, valueTokens, conceptTokens []string) float64 {
	if len(termTokens) == 0 {
		return 0
	}
	var credit float64
	for _, tok := range termTokens {
		switch {
		case matchesAnyToken(tok, valueTokens):
			credit += 1
		case matchesAnyToken(tok, conceptTokens):
			credit += 0.5
		}
	}
	return credit / float64(len(termTokens))
}

func matchesAnyToken(tok string, candidates []string) bool {
	for _, c := range candidates {
		if tok == c || similarityRatio(tok, c) >= approxTokenRatio {
			return true
		}
	}
	return false
}

// selectBestCandidate scores every candidate and returns the best one at or
// above minConfidence. Ties go to the higher external confidence, then the
// higher raw composite, then lexical similarity.
func selectBestCandidate(normalizedTerm string, candidates []models.FormOptionCandidate, minConfidence float64) (scoredCandidate, bool) {
	scored := make([]scoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		s := scoreCandidate(normalizedTerm, c)
		if s.score >= minConfidence {
			scored = append(scored, s)
		}
	}
	if len(scored) == 0 {
		return scoredCandidate{}, false
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.candidate.Confidence != b.candidate.Confidence {
			return a.candidate.Confidence > b.candidate.Confidence
		}
		if a.raw != b.raw {
			return a.raw > b.raw
		}
		return a.lexical > b.lexical
	})
	return scored[0], true
}

// clamp01 bounds v to [0,1]; NaN becomes 0.
func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
