package service

import (
	"context"

	"github.com/google/uuid"
)

// Task is a handle on one background job execution. Callers can await
// completion through Wait or Done, or poll the outcome through Err, instead
// of losing track of a detached goroutine.
type Task struct {
	jobID uuid.UUID
	done  chan struct{}
	err   error
}

func newTask(jobID uuid.UUID) *Task {
	return &Task{
		jobID: jobID,
		done:  make(chan struct{}),
	}
}

func (t *Task) JobID() uuid.UUID { return t.jobID }

// Done returns a channel closed once the execution has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the execution finishes or ctx is done, returning the
// execution's error in the first case.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return t.err
	}
}

// Err reports the execution's outcome, or nil while it is still running.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// finish must be called exactly once, from the executing goroutine.
func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}
