package parallel

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
)

func value[T any](name string, v T) Task[T] {
	return Task[T]{Name: name, Run: func(context.Context) (T, error) { return v, nil }}
}

func failing[T any](name string, err error) Task[T] {
	return Task[T]{Name: name, Run: func(context.Context) (T, error) {
		var zero T
		return zero, err
	}}
}

// blocking waits for ctx to end, then returns its error.
func blocking[T any](name string, started *sync.WaitGroup) Task[T] {
	return Task[T]{Name: name, Run: func(ctx context.Context) (T, error) {
		if started != nil {
			started.Done()
		}
		<-ctx.Done()
		var zero T
		return zero, ctx.Err()
	}}
}

func TestExecute_AllSucceed(t *testing.T) {
	outcome, err := Execute(context.Background(), []Task[int]{value("a", 1), value("b", 2), value("c", 3)}, Options{ThrowOnError: true})

	require.NoError(t, err)
	assert.True(t, outcome.AllSucceeded)
	assert.Len(t, outcome.Successful, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{outcome.Results[0].Value, outcome.Results[1].Value, outcome.Results[2].Value})
	assert.Equal(t, "b", outcome.Results[1].Name, "results keep submission order")
}

func TestExecute_Empty(t *testing.T) {
	outcome, err := Execute[int](context.Background(), nil, Options{ThrowOnError: true})
	require.NoError(t, err)
	assert.True(t, outcome.AllSucceeded)
	assert.Empty(t, outcome.Results)
}

func TestExecute_PartialFailureKeepsOtherResults(t *testing.T) {
	boom := errors.New("boom")
	outcome, err := Execute(context.Background(), []Task[string]{value("ok", "fine"), failing[string]("bad", boom)}, Options{})

	require.NoError(t, err, "ThrowOnError=false never returns an error")
	assert.False(t, outcome.AllSucceeded)
	require.Len(t, outcome.Successful, 1)
	require.Len(t, outcome.Failed, 1)
	assert.Equal(t, "fine", outcome.Successful[0].Value)
	assert.ErrorIs(t, outcome.Failed[0].Err, boom)
	assert.Equal(t, StatusFailed, outcome.Results[1].Status)
}

func TestExecute_ThrowOnErrorWaitsForAllTasks(t *testing.T) {
	var slowFinished atomic.Bool
	slow := Task[int]{Name: "slow", Run: func(context.Context) (int, error) {
		time.Sleep(30 * time.Millisecond)
		slowFinished.Store(true)
		return 7, nil
	}}

	outcome, err := Execute(context.Background(), []Task[int]{failing[int]("fast", errors.New("fast failure")), slow}, Options{ThrowOnError: true})

	require.Error(t, err)
	assert.True(t, slowFinished.Load(), "aggregate error must not be raised before every task settles")
	assert.Equal(t, 7, outcome.Results[1].Value)

	var agg *AggregateError
	require.ErrorAs(t, err, &agg)
	require.Len(t, agg.Failures, 1)
	assert.Equal(t, "fast", agg.Failures[0].Name)
	assert.Contains(t, err.Error(), "fast failure")
}

func TestExecute_TimeoutMarksUnfinishedCanceled(t *testing.T) {
	outcome, err := Execute(context.Background(),
		[]Task[int]{value("quick", 1), blocking[int]("stuck", nil)},
		Options{Timeout: 20 * time.Millisecond, ThrowOnError: true, Logger: zap.NewNop()})

	require.Error(t, err)
	assert.True(t, outcome.TimedOut)
	assert.Equal(t, StatusSucceeded, outcome.Results[0].Status)
	assert.Equal(t, 1, outcome.Results[0].Value)
	assert.Equal(t, StatusCanceled, outcome.Results[1].Status)
	assert.ErrorIs(t, outcome.Results[1].Err, ErrTaskTimeout)
	assert.ErrorIs(t, err, ErrTaskTimeout)
	assert.Len(t, outcome.Canceled, 1)
	assert.Empty(t, outcome.Failed)
}

func TestExecute_AlreadyCanceledMarksTasksCanceledNotFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Int32
	task := Task[int]{Name: "never", Run: func(context.Context) (int, error) {
		ran.Add(1)
		return 1, nil
	}}

	outcome, err := Execute(ctx, []Task[int]{task, task}, Options{})

	require.NoError(t, err)
	assert.Equal(t, int32(0), ran.Load())
	assert.Len(t, outcome.Canceled, 2)
	assert.Empty(t, outcome.Failed)
	assert.False(t, outcome.TimedOut)
	for _, r := range outcome.Results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

func TestExecute_ParentCancelDuringRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var started sync.WaitGroup
	started.Add(1)

	go func() {
		started.Wait()
		cancel()
	}()

	outcome, err := Execute(ctx, []Task[int]{blocking[int]("waiting", &started)}, Options{Timeout: time.Minute, ThrowOnError: true})

	require.Error(t, err)
	assert.False(t, outcome.TimedOut)
	assert.Equal(t, StatusCanceled, outcome.Results[0].Status)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecute_PanicBecomesFailure(t *testing.T) {
	task := Task[int]{Name: "panics", Run: func(context.Context) (int, error) {
		panic("kaboom")
	}}

	outcome, err := Execute(context.Background(), []Task[int]{task, value("fine", 2)}, Options{})

	require.NoError(t, err)
	assert.Equal(t, StatusFailed, outcome.Results[0].Status)
	assert.Contains(t, outcome.Results[0].Err.Error(), "kaboom")
	assert.Equal(t, StatusSucceeded, outcome.Results[1].Status)
}

func TestExecute_MaxConcurrent(t *testing.T) {
	var running, peak atomic.Int32
	task := Task[int]{Name: "counted", Run: func(context.Context) (int, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return 0, nil
	}}

	tasks := make([]Task[int], 8)
	for i := range tasks {
		tasks[i] = task
	}

	outcome, err := Execute(context.Background(), tasks, Options{MaxConcurrent: 2, ThrowOnError: true})
	require.NoError(t, err)
	assert.True(t, outcome.AllSucceeded)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestExecute_OnSettledCalledPerTask(t *testing.T) {
	var mu sync.Mutex
	statuses := map[string]Status{}

	_, _ = Execute(context.Background(),
		[]Task[int]{value("a", 1), failing[int]("b", errors.New("x"))},
		Options{OnSettled: func(name string, status Status) {
			mu.Lock()
			statuses[name] = status
			mu.Unlock()
		}})

	assert.Equal(t, map[string]Status{"a": StatusSucceeded, "b": StatusFailed}, statuses)
}

func TestExecute2_TypedTuple(t *testing.T) {
	a, b, err := Execute2(context.Background(),
		value("numbers", []int{1, 2}),
		value("label", "hello"),
		Options{ThrowOnError: true})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, a.Value)
	assert.Equal(t, "hello", b.Value)
	assert.Equal(t, "label", b.Name)
}

func TestExecute2_FailedSideHasZeroValue(t *testing.T) {
	a, b, err := Execute2(context.Background(),
		failing[*int]("ptr", errors.New("nope")),
		value("ok", 3.5),
		Options{ThrowOnError: true})

	require.Error(t, err)
	assert.Nil(t, a.Value)
	assert.Equal(t, StatusFailed, a.Status)
	assert.Equal(t, 3.5, b.Value)
}

func TestExecute3_TypedTuple(t *testing.T) {
	a, b, c, err := Execute3(context.Background(),
		value("a", 1),
		value("b", "two"),
		value("c", true),
		Options{})

	require.NoError(t, err)
	assert.Equal(t, 1, a.Value)
	assert.Equal(t, "two", b.Value)
	assert.True(t, c.Value)
}
