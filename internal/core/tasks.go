package core

import (
	"context"
	"sync"

	"gwi.com/quiz-rag/internal/logger"
)

// TaskError reports a background task that returned an error.
type TaskError struct {
	Name string
	Err  error
}

// Tasks runs fire-and-forget work detached from the request that started it.
// Errors are published on Errors; when the buffer is full they are logged
// and dropped.
type Tasks struct {
	ctx  context.Context
	wg   sync.WaitGroup
	errs chan TaskError
	log  *logger.Logger
}

func NewTasks(ctx context.Context, log *logger.Logger, buffer int) *Tasks {
	if buffer <= 0 {
		buffer = 16
	}
	return &Tasks{
		ctx:  context.WithoutCancel(ctx),
		errs: make(chan TaskError, buffer),
		log:  log.With("service", "Tasks"),
	}
}

func (t *Tasks) Go(name string, fn func(ctx context.Context) error) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := fn(t.ctx); err != nil {
			select {
			case t.errs <- TaskError{Name: name, Err: err}:
			default:
				t.log.Error("background task failed, error channel full", "task", name, "error", err)
			}
		}
	}()
}

func (t *Tasks) Errors() <-chan TaskError {
	return t.errs
}

// Wait blocks until every started task has returned.
func (t *Tasks) Wait() {
	t.wg.Wait()
}
