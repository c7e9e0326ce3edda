package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/context-engine/pkg/models"
)

type mockRelationshipLoader struct {
	LoadRelationshipsFunc func(ctx context.Context, customerID string) ([]models.RelationshipRow, error)
	calls                 atomic.Int32
}

func (m *mockRelationshipLoader) LoadRelationships(ctx context.Context, customerID string) ([]models.RelationshipRow, error) {
	m.calls.Add(1)
	if m.LoadRelationshipsFunc != nil {
		return m.LoadRelationshipsFunc(ctx, customerID)
	}
	return nil, nil
}

func returnsRows(rows []models.RelationshipRow) func(context.Context, string) ([]models.RelationshipRow, error) {
	return func(context.Context, string) ([]models.RelationshipRow, error) { return rows, nil }
}

func TestRelationshipSource_CachesPerCustomer(t *testing.T) {
	primary := &mockRelationshipLoader{LoadRelationshipsFunc: returnsRows(woundGraphRows())}
	src := NewRelationshipSource(primary, nil, nil, zap.NewNop())
	ctx := context.Background()

	rows, err := src.LoadRelationships(ctx, "cust-1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = src.LoadRelationships(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), primary.calls.Load())

	_, err = src.LoadRelationships(ctx, "cust-2")
	require.NoError(t, err)
	assert.Equal(t, int32(2), primary.calls.Load())

	src.Invalidate("cust-1")
	_, err = src.LoadRelationships(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), primary.calls.Load())
}

func TestRelationshipSource_FallbackWhenIndexEmpty(t *testing.T) {
	primary := &mockRelationshipLoader{}
	fallback := &mockRelationshipLoader{LoadRelationshipsFunc: returnsRows(woundGraphRows())}
	src := NewRelationshipSource(primary, fallback, nil, zap.NewNop())

	rows, err := src.LoadRelationships(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, int32(1), fallback.calls.Load())
}

func TestRelationshipSource_FallbackErrorYieldsEmptyGraph(t *testing.T) {
	primary := &mockRelationshipLoader{}
	fallback := &mockRelationshipLoader{
		LoadRelationshipsFunc: func(context.Context, string) ([]models.RelationshipRow, error) {
			return nil, errors.New("login failed")
		},
	}
	src := NewRelationshipSource(primary, fallback, nil, zap.NewNop())

	rows, err := src.LoadRelationships(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestRelationshipSource_PrimaryErrorNotCached(t *testing.T) {
	fail := true
	primary := &mockRelationshipLoader{
		LoadRelationshipsFunc: func(context.Context, string) ([]models.RelationshipRow, error) {
			if fail {
				return nil, errors.New("too many connections")
			}
			return woundGraphRows(), nil
		},
	}
	src := NewRelationshipSource(primary, nil, nil, zap.NewNop())

	_, err := src.LoadRelationships(context.Background(), "cust-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load relationships")

	fail = false
	rows, err := src.LoadRelationships(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRelationshipSource_ConcurrentLoadsShareOneQuery(t *testing.T) {
	release := make(chan struct{})
	primary := &mockRelationshipLoader{
		LoadRelationshipsFunc: func(context.Context, string) ([]models.RelationshipRow, error) {
			<-release
			return woundGraphRows(), nil
		},
	}
	src := NewRelationshipSource(primary, nil, nil, zap.NewNop())

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := src.LoadRelationships(context.Background(), "cust-1")
			errs <- err
		}()
	}

	// Let the callers pile up behind the first load.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.LessOrEqual(t, primary.calls.Load(), int32(callers))
	assert.GreaterOrEqual(t, primary.calls.Load(), int32(1))
}
