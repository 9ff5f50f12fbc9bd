package orchestration

import (
	"context"
	"fmt"
)

// WorkerError reports which session worker failed or panicked.
type WorkerError struct {
	Worker string
	Err    error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("%s worker failed: %v", e.Worker, e.Err)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// watchContext calls onDone when ctx ends, unless the returned channel is
// closed first.
func watchContext(ctx context.Context, onDone func()) chan struct{} {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			onDone()
		case <-stop:
		}
	}()
	return stop
}

// guardWorker turns a panic in run into a *WorkerError so one broken worker
// closes the session instead of the process.
func guardWorker(name string, run func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) (err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				err = &WorkerError{Worker: name, Err: fmt.Errorf("panic: %v", recovered)}
			}
		}()

		if err := run(ctx); err != nil {
			return &WorkerError{Worker: name, Err: err}
		}
		return nil
	}
}
