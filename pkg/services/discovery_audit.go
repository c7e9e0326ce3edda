package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/context-engine/pkg/logging"
	"github.com/ekaya-inc/context-engine/pkg/models"
)

// DiscoveryRunStore persists discovery runs.
type DiscoveryRunStore interface {
	Persist(ctx context.Context, run *models.DiscoveryRun) error
}

// DiscoveryAudit records completed bundles. Failures are logged and swallowed.
type DiscoveryAudit struct {
	store   DiscoveryRunStore
	timeout time.Duration
	logger  *zap.Logger
}

// NewDiscoveryAudit creates a DiscoveryAudit. A nil store disables auditing.
func NewDiscoveryAudit(store DiscoveryRunStore, timeout time.Duration, logger *zap.Logger) *DiscoveryAudit {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &DiscoveryAudit{store: store, timeout: timeout, logger: logger.Named("discovery-audit")}
}

// Persist writes the run within the audit timeout. It detaches from the
// caller's cancellation so a finished request is still recorded.
func (a *DiscoveryAudit) Persist(ctx context.Context, runID uuid.UUID, customerID, question string, bundle *models.ContextBundle, durationMs int64) {
	if a == nil || a.store == nil || bundle == nil {
		return
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	run := &models.DiscoveryRun{
		ID:                runID,
		CustomerID:        customerID,
		Question:          question,
		Bundle:            bundle,
		OverallConfidence: bundle.OverallConfidence,
		DurationMs:        durationMs,
	}
	if err := a.store.Persist(auditCtx, run); err != nil {
		a.logger.Warn("Failed to persist discovery run",
			zap.String("discovery_run_id", runID.String()),
			zap.String("customer_id", customerID),
			zap.String("error", logging.SanitizeError(err)))
	}
}
