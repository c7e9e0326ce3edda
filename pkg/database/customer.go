package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CustomerScope wraps a connection with customer context and ensures cleanup.
// The connection has app.current_customer_id set for RLS policy evaluation.
//
// A scope holds a single connection and must not be shared between goroutines.
// Concurrent pipeline steps each acquire their own scope.
type CustomerScope struct {
	Conn *pgxpool.Conn
}

// Close resets customer context and releases the connection to the pool.
// This MUST be called to prevent customer context from leaking to the next request.
// Calling Close more than once is a no-op.
func (s *CustomerScope) Close() {
	if s.Conn == nil {
		return
	}
	_, _ = s.Conn.Exec(context.Background(), "RESET app.current_customer_id")
	s.Conn.Release()
	s.Conn = nil
}

// WithCustomer acquires a connection and sets the customer context for RLS.
// The returned CustomerScope MUST be closed with defer scope.Close().
func (db *DB) WithCustomer(ctx context.Context, customerID string) (*CustomerScope, error) {
	if customerID == "" {
		return nil, errors.New("customer id is required")
	}

	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.current_customer_id', $1, false)", customerID)
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &CustomerScope{Conn: conn}, nil
}
