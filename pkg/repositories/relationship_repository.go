package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/context-engine/pkg/database"
	"github.com/ekaya-inc/context-engine/pkg/models"
	"github.com/ekaya-inc/context-engine/pkg/retry"
)

// RelationshipRepository reads table relationships from the semantic index.
type RelationshipRepository interface {
	LoadRelationships(ctx context.Context, customerID string) ([]models.RelationshipRow, error)
}

type relationshipRepository struct {
	db    *database.DB
	retry *retry.Config
}

// NewRelationshipRepository creates a new RelationshipRepository.
func NewRelationshipRepository(db *database.DB, retryCfg *retry.Config) RelationshipRepository {
	return &relationshipRepository{db: db, retry: retryCfg}
}

var _ RelationshipRepository = (*relationshipRepository)(nil)

func (r *relationshipRepository) LoadRelationships(ctx context.Context, customerID string) ([]models.RelationshipRow, error) {
	query := `
		SELECT from_table, to_table, source_column, target_column, cardinality, confidence::float8
		FROM semantic_index_relationship
		WHERE customer_id = $1
		ORDER BY from_table, to_table, source_column`

	return withCustomerRetry(ctx, r.db, r.retry, customerID, func(scope *database.CustomerScope) ([]models.RelationshipRow, error) {
		rows, err := scope.Conn.Query(ctx, query, customerID)
		if err != nil {
			return nil, fmt.Errorf("failed to query relationships: %w", err)
		}
		relationships, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.RelationshipRow, error) {
			var rel models.RelationshipRow
			err := row.Scan(&rel.FromTable, &rel.ToTable, &rel.SourceColumn, &rel.TargetColumn,
				&rel.Cardinality, &rel.Confidence)
			return rel, err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan relationships: %w", err)
		}
		return relationships, nil
	})
}
