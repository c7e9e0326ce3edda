package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/context-engine/pkg/cache"
	"github.com/ekaya-inc/context-engine/pkg/logging"
	"github.com/ekaya-inc/context-engine/pkg/models"
)

// RelationshipLoader loads the join graph rows for a customer.
type RelationshipLoader interface {
	LoadRelationships(ctx context.Context, customerID string) ([]models.RelationshipRow, error)
}

// RelationshipSource serves relationship rows from a per-customer cache,
// loading from the semantic index and falling back to a secondary loader
// (the customer's own FK catalog) when the index has none.
type RelationshipSource struct {
	primary  RelationshipLoader
	fallback RelationshipLoader
	cache    *cache.TTLCache[[]models.RelationshipRow]
	group    singleflight.Group
	logger   *zap.Logger
}

var _ RelationshipLoader = (*RelationshipSource)(nil)

// NewRelationshipSource creates a RelationshipSource. fallback may be nil.
func NewRelationshipSource(primary, fallback RelationshipLoader, rows *cache.TTLCache[[]models.RelationshipRow], logger *zap.Logger) *RelationshipSource {
	if rows == nil {
		rows = cache.NewTTLCache[[]models.RelationshipRow](10*time.Minute, 0)
	}
	return &RelationshipSource{
		primary:  primary,
		fallback: fallback,
		cache:    rows,
		logger:   logger.Named("relationship-source"),
	}
}

// LoadRelationships returns cached rows or loads them. Concurrent loads for
// the same customer share one query. Callers must not mutate the result.
func (s *RelationshipSource) LoadRelationships(ctx context.Context, customerID string) ([]models.RelationshipRow, error) {
	if rows, ok := s.cache.Get(customerID); ok {
		return rows, nil
	}

	v, err, _ := s.group.Do(customerID, func() (any, error) {
		rows, err := s.primary.LoadRelationships(ctx, customerID)
		if err != nil {
			return nil, fmt.Errorf("load relationships: %w", err)
		}

		if len(rows) == 0 && s.fallback != nil {
			rows, err = s.fallback.LoadRelationships(ctx, customerID)
			if err != nil {
				// An empty graph is still usable; planning reports tables as unreachable.
				s.logger.Warn("Fallback relationship source failed",
					zap.String("customer_id", customerID),
					zap.String("error", logging.SanitizeError(err)))
				rows = nil
			}
		}
		if rows == nil {
			rows = []models.RelationshipRow{}
		}

		s.cache.Set(customerID, rows)
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.RelationshipRow), nil
}

// Invalidate drops the cached rows for a customer.
func (s *RelationshipSource) Invalidate(customerID string) {
	s.cache.Delete(customerID)
}
