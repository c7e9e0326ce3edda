package repositories

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/context-engine/pkg/database"
	"github.com/ekaya-inc/context-engine/pkg/retry"
)

// withCustomerRetry runs fn on a customer-scoped connection, retrying transient
// failures. Each attempt acquires and releases its own scope.
func withCustomerRetry[T any](ctx context.Context, db *database.DB, cfg *retry.Config, customerID string, fn func(scope *database.CustomerScope) (T, error)) (T, error) {
	return retry.DoIfRetryableWithResult(ctx, cfg, func() (T, error) {
		var zero T
		scope, err := db.WithCustomer(ctx, customerID)
		if err != nil {
			return zero, fmt.Errorf("acquire customer scope: %w", err)
		}
		defer scope.Close()
		return fn(scope)
	})
}
