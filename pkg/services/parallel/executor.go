// Package parallel runs independent tasks concurrently under one deadline and
// reports every task's outcome, including the ones that never finished.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Status is the settled state of a task.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// ErrTaskTimeout is the cancellation cause when the shared deadline expires.
var ErrTaskTimeout = errors.New("parallel tasks timed out")

// Task is a named unit of work.
type Task[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// Options controls one Execute call.
type Options struct {
	// Timeout is shared by all tasks. Zero means no deadline beyond the parent context.
	Timeout time.Duration
	// ThrowOnError makes Execute return an *AggregateError when any task failed or was canceled.
	ThrowOnError bool
	// MaxConcurrent caps running tasks. Zero runs all tasks at once.
	MaxConcurrent int
	// OnSettled is called once per task with its final status.
	OnSettled func(name string, status Status)
	Logger    *zap.Logger
}

// TaskResult is the outcome of one task. Duration is zero for tasks that never started.
type TaskResult[T any] struct {
	Name     string
	Value    T
	Err      error
	Status   Status
	Duration time.Duration
}

// Outcome holds every task result in submission order plus views by status.
type Outcome[T any] struct {
	Results      []TaskResult[T]
	Successful   []TaskResult[T]
	Failed       []TaskResult[T]
	Canceled     []TaskResult[T]
	AllSucceeded bool
	TimedOut     bool
}

// TaskFailure names a task that did not succeed.
type TaskFailure struct {
	Name   string
	Status Status
	Err    error
}

// AggregateError lists every failed or canceled task.
type AggregateError struct {
	Failures []TaskFailure
}

func (e *AggregateError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s (%s): %v", f.Name, f.Status, f.Err))
	}
	return fmt.Sprintf("%d of the parallel tasks did not succeed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes every task error to errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

type settled[T any] struct {
	index  int
	result TaskResult[T]
}

// Execute runs tasks concurrently and waits until every task settles or the
// shared context ends. Tasks still running at that point are reported as
// canceled; their goroutines are not awaited.
func Execute[T any](ctx context.Context, tasks []Task[T], opts Options) (*Outcome[T], error) {
	outcome := &Outcome[T]{Results: make([]TaskResult[T], len(tasks))}
	if len(tasks) == 0 {
		outcome.AllSucceeded = true
		return outcome, nil
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeoutCause(ctx, opts.Timeout, ErrTaskTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	// Buffered so late tasks never block after the collector stops reading.
	done := make(chan settled[T], len(tasks))

	var g errgroup.Group
	if opts.MaxConcurrent > 0 {
		g.SetLimit(opts.MaxConcurrent)
	}

	go func() {
		for i, task := range tasks {
			g.Go(func() error {
				done <- settled[T]{index: i, result: runTask(runCtx, task)}
				return nil
			})
		}
		_ = g.Wait()
	}()

	isSettled := make([]bool, len(tasks))
	pending := len(tasks)

collect:
	for pending > 0 {
		select {
		case s := <-done:
			outcome.Results[s.index] = s.result
			isSettled[s.index] = true
			pending--
		case <-runCtx.Done():
			break collect
		}
	}

	// Keep results that settled at the same instant the context ended.
drain:
	for pending > 0 {
		select {
		case s := <-done:
			outcome.Results[s.index] = s.result
			isSettled[s.index] = true
			pending--
		default:
			break drain
		}
	}

	if pending > 0 {
		cause := context.Cause(runCtx)
		for i, task := range tasks {
			if isSettled[i] {
				continue
			}
			outcome.Results[i] = TaskResult[T]{
				Name:   task.Name,
				Err:    fmt.Errorf("task %s canceled: %w", task.Name, cause),
				Status: StatusCanceled,
			}
		}
		if opts.Logger != nil {
			opts.Logger.Warn("Parallel tasks did not settle before context ended",
				zap.Int("unsettled", pending),
				zap.Bool("timed_out", errors.Is(cause, ErrTaskTimeout)),
				zap.Duration("timeout", opts.Timeout))
		}
	}

	for _, r := range outcome.Results {
		switch r.Status {
		case StatusSucceeded:
			outcome.Successful = append(outcome.Successful, r)
		case StatusFailed:
			outcome.Failed = append(outcome.Failed, r)
		case StatusCanceled:
			outcome.Canceled = append(outcome.Canceled, r)
		}
		if opts.OnSettled != nil {
			opts.OnSettled(r.Name, r.Status)
		}
	}
	outcome.AllSucceeded = len(outcome.Successful) == len(tasks)
	outcome.TimedOut = len(outcome.Canceled) > 0 && errors.Is(context.Cause(runCtx), ErrTaskTimeout)

	if opts.ThrowOnError && !outcome.AllSucceeded {
		agg := &AggregateError{}
		for _, r := range outcome.Results {
			if r.Status != StatusSucceeded {
				agg.Failures = append(agg.Failures, TaskFailure{Name: r.Name, Status: r.Status, Err: r.Err})
			}
		}
		return outcome, agg
	}

	return outcome, nil
}

// runTask executes one task, converting panics into failures and
// context-caused errors into cancellations.
func runTask[T any](ctx context.Context, task Task[T]) (result TaskResult[T]) {
	result.Name = task.Name

	if err := ctx.Err(); err != nil {
		result.Status = StatusCanceled
		result.Err = fmt.Errorf("task %s canceled before start: %w", task.Name, context.Cause(ctx))
		return result
	}

	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
		if r := recover(); r != nil {
			var zero T
			result.Value = zero
			result.Status = StatusFailed
			result.Err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()

	value, err := task.Run(ctx)
	switch {
	case err == nil:
		result.Value = value
		result.Status = StatusSucceeded
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		result.Status = StatusCanceled
		result.Err = fmt.Errorf("task %s canceled: %w", task.Name, errors.Join(context.Cause(ctx), err))
	default:
		result.Status = StatusFailed
		result.Err = err
	}
	return result
}

func erase[T any](t Task[T]) Task[any] {
	return Task[any]{
		Name: t.Name,
		Run: func(ctx context.Context) (any, error) {
			v, err := t.Run(ctx)
			return v, err
		},
	}
}

func typed[T any](r TaskResult[any]) TaskResult[T] {
	v, _ := r.Value.(T)
	return TaskResult[T]{Name: r.Name, Value: v, Err: r.Err, Status: r.Status, Duration: r.Duration}
}

// Execute2 runs exactly two tasks of different result types.
func Execute2[A, B any](ctx context.Context, a Task[A], b Task[B], opts Options) (TaskResult[A], TaskResult[B], error) {
	outcome, err := Execute(ctx, []Task[any]{erase(a), erase(b)}, opts)
	return typed[A](outcome.Results[0]), typed[B](outcome.Results[1]), err
}

// Execute3 runs exactly three tasks of different result types.
func Execute3[A, B, C any](ctx context.Context, a Task[A], b Task[B], c Task[C], opts Options) (TaskResult[A], TaskResult[B], TaskResult[C], error) {
	outcome, err := Execute(ctx, []Task[any]{erase(a), erase(b), erase(c)}, opts)
	return typed[A](outcome.Results[0]), typed[B](outcome.Results[1]), typed[C](outcome.Results[2]), err
}
