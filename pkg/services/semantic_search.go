package services

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/ekaya-inc/context-engine/pkg/models"
)

// FieldSearcher is the semantic index lookup used by the searcher.
type FieldSearcher interface {
	SearchFields(ctx context.Context, customerID string, concepts []string, opts models.SearchOptions) ([]models.SemanticResult, error)
}

// SemanticSearcher finds the fields an intent needs.
type SemanticSearcher interface {
	Search(ctx context.Context, customerID string, intent *models.IntentResult) ([]models.SemanticResult, error)
}

type semanticSearcher struct {
	index  FieldSearcher
	opts   models.SearchOptions
	logger *zap.Logger
}

// NewSemanticSearcher creates a SemanticSearcher with fixed search options.
func NewSemanticSearcher(index FieldSearcher, opts models.SearchOptions, logger *zap.Logger) SemanticSearcher {
	return &semanticSearcher{index: index, opts: opts, logger: logger.Named("semantic-search")}
}

var _ SemanticSearcher = (*semanticSearcher)(nil)

func (s *semanticSearcher) Search(ctx context.Context, customerID string, intent *models.IntentResult) ([]models.SemanticResult, error) {
	concepts := IntentConcepts(intent)
	if len(concepts) == 0 {
		s.logger.Debug("No concepts to search", zap.String("customer_id", customerID))
		return []models.SemanticResult{}, nil
	}

	results, err := s.index.SearchFields(ctx, customerID, concepts, s.opts)
	if err != nil {
		return nil, fmt.Errorf("search fields: %w", err)
	}
	return results, nil
}

// IntentConcepts lists the snake_case concepts an intent refers to: metrics,
// then filter concepts, then scope. Duplicates are dropped.
func IntentConcepts(intent *models.IntentResult) []string {
	if intent == nil {
		return nil
	}
	seen := make(map[string]bool)
	var concepts []string
	add := func(raw string) {
		c := conceptKey(raw)
		if c != "" && !seen[c] {
			seen[c] = true
			concepts = append(concepts, c)
		}
	}

	for _, m := range intent.Metrics {
		add(m)
	}
	for _, f := range intent.Filters {
		add(f.Concept)
	}
	add(intent.Scope)
	return concepts
}

// conceptKey lowercases and joins words with underscores: "Healing Rate" -> "healing_rate".
func conceptKey(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, "_")
}
