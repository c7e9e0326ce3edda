package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/context-engine/pkg/apperrors"
	"github.com/ekaya-inc/context-engine/pkg/database"
	"github.com/ekaya-inc/context-engine/pkg/models"
	"github.com/ekaya-inc/context-engine/pkg/retry"
)

// DiscoveryRunRepository stores the audit trail of completed discoveries.
type DiscoveryRunRepository interface {
	Persist(ctx context.Context, run *models.DiscoveryRun) error
	GetByID(ctx context.Context, customerID string, runID uuid.UUID) (*models.DiscoveryRun, error)
}

type discoveryRunRepository struct {
	db    *database.DB
	retry *retry.Config
}

// NewDiscoveryRunRepository creates a new DiscoveryRunRepository.
func NewDiscoveryRunRepository(db *database.DB, retryCfg *retry.Config) DiscoveryRunRepository {
	return &discoveryRunRepository{db: db, retry: retryCfg}
}

var _ DiscoveryRunRepository = (*discoveryRunRepository)(nil)

// Persist inserts the run. Re-persisting the same ID is a no-op.
func (r *discoveryRunRepository) Persist(ctx context.Context, run *models.DiscoveryRun) error {
	if run.Bundle == nil {
		return fmt.Errorf("discovery run %s has no bundle", run.ID)
	}
	bundle, err := json.Marshal(run.Bundle)
	if err != nil {
		return fmt.Errorf("failed to marshal bundle: %w", err)
	}

	query := `
		INSERT INTO discovery_run (id, customer_id, question, bundle, overall_confidence, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at`

	_, err = withCustomerRetry(ctx, r.db, r.retry, run.CustomerID, func(scope *database.CustomerScope) (struct{}, error) {
		err := scope.Conn.QueryRow(ctx, query,
			run.ID,
			run.CustomerID,
			run.Question,
			bundle,
			run.OverallConfidence,
			run.DurationMs,
		).Scan(&run.CreatedAt)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return struct{}{}, fmt.Errorf("failed to insert discovery run: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

func (r *discoveryRunRepository) GetByID(ctx context.Context, customerID string, runID uuid.UUID) (*models.DiscoveryRun, error) {
	query := `
		SELECT id, customer_id, question, bundle, overall_confidence::float8, duration_ms, created_at
		FROM discovery_run
		WHERE customer_id = $1 AND id = $2`

	return withCustomerRetry(ctx, r.db, r.retry, customerID, func(scope *database.CustomerScope) (*models.DiscoveryRun, error) {
		var run models.DiscoveryRun
		var bundle []byte
		err := scope.Conn.QueryRow(ctx, query, customerID, runID).Scan(
			&run.ID, &run.CustomerID, &run.Question, &bundle,
			&run.OverallConfidence, &run.DurationMs, &run.CreatedAt,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, apperrors.ErrNotFound
			}
			return nil, fmt.Errorf("failed to get discovery run: %w", err)
		}

		run.Bundle = &models.ContextBundle{}
		if err := json.Unmarshal(bundle, run.Bundle); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bundle: %w", err)
		}
		return &run, nil
	})
}
