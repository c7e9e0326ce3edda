package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/context-engine/pkg/database"
	"github.com/ekaya-inc/context-engine/pkg/models"
	"github.com/ekaya-inc/context-engine/pkg/retry"
)

// SemanticIndexRepository reads the per-customer semantic index.
type SemanticIndexRepository interface {
	// SearchFields returns form fields (and non-form columns when requested)
	// whose semantic concept is one of concepts, strongest first.
	SearchFields(ctx context.Context, customerID string, concepts []string, opts models.SearchOptions) ([]models.SemanticResult, error)

	// LoadFormOptions returns option values whose text or concept matches any
	// of the LIKE patterns (already lowercased, e.g. "%ulcer%").
	LoadFormOptions(ctx context.Context, customerID string, patterns []string, limit int) ([]models.FormOptionCandidate, error)
}

type semanticIndexRepository struct {
	db    *database.DB
	retry *retry.Config
}

// NewSemanticIndexRepository creates a new SemanticIndexRepository.
func NewSemanticIndexRepository(db *database.DB, retryCfg *retry.Config) SemanticIndexRepository {
	return &semanticIndexRepository{db: db, retry: retryCfg}
}

var _ SemanticIndexRepository = (*semanticIndexRepository)(nil)

func (r *semanticIndexRepository) SearchFields(ctx context.Context, customerID string, concepts []string, opts models.SearchOptions) ([]models.SemanticResult, error) {
	if len(concepts) == 0 {
		return []models.SemanticResult{}, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT source, field_name, form_name, table_name, semantic_concept, data_type, confidence
		FROM (
			SELECT 'form' AS source, f.field_name, fm.form_name, '' AS table_name,
			       f.semantic_concept, f.data_type, f.confidence::float8 AS confidence
			FROM semantic_index_field f
			JOIN semantic_index_form fm ON fm.customer_id = f.customer_id AND fm.form_id = f.form_id
			WHERE f.customer_id = $1
			  AND lower(f.semantic_concept) = ANY($2)
			  AND f.confidence >= $3
			UNION ALL
			SELECT 'non_form', n.column_name, '', n.table_name,
			       n.semantic_concept, n.data_type, n.confidence::float8
			FROM semantic_index_nonform n
			WHERE $4::boolean
			  AND n.customer_id = $1
			  AND lower(n.semantic_concept) = ANY($2)
			  AND n.confidence >= $3
		) hits
		ORDER BY confidence DESC, source, form_name, table_name, field_name
		LIMIT $5`

	return withCustomerRetry(ctx, r.db, r.retry, customerID, func(scope *database.CustomerScope) ([]models.SemanticResult, error) {
		rows, err := scope.Conn.Query(ctx, query, customerID, concepts, opts.MinConfidence, opts.IncludeNonForm, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to search semantic index: %w", err)
		}
		results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.SemanticResult, error) {
			var res models.SemanticResult
			var source string
			err := row.Scan(&source, &res.FieldName, &res.FormName, &res.TableName,
				&res.SemanticConcept, &res.DataType, &res.Confidence)
			res.Source = models.SemanticSource(source)
			return res, err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan semantic index rows: %w", err)
		}
		return results, nil
	})
}

func (r *semanticIndexRepository) LoadFormOptions(ctx context.Context, customerID string, patterns []string, limit int) ([]models.FormOptionCandidate, error) {
	if len(patterns) == 0 {
		return []models.FormOptionCandidate{}, nil
	}
	if limit <= 0 {
		limit = 200
	}

	query := `
		SELECT fm.form_name, o.field_name, o.option_value, o.semantic_concept, o.confidence::float8
		FROM semantic_index_option o
		JOIN semantic_index_form fm ON fm.customer_id = o.customer_id AND fm.form_id = o.form_id
		WHERE o.customer_id = $1
		  AND (lower(o.option_value) LIKE ANY($2) OR lower(o.semantic_concept) LIKE ANY($2))
		ORDER BY o.confidence DESC, fm.form_name, o.field_name, o.option_value
		LIMIT $3`

	return withCustomerRetry(ctx, r.db, r.retry, customerID, func(scope *database.CustomerScope) ([]models.FormOptionCandidate, error) {
		rows, err := scope.Conn.Query(ctx, query, customerID, patterns, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to load form options: %w", err)
		}
		candidates, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.FormOptionCandidate, error) {
			var c models.FormOptionCandidate
			err := row.Scan(&c.FormName, &c.FieldName, &c.FieldValue, &c.SemanticConcept, &c.Confidence)
			return c, err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan form options: %w", err)
		}
		return candidates, nil
	})
}
