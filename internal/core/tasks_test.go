package core

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/quiz-rag/internal/logger"
)

func TestTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tasks := NewTasks(ctx, logger.Nop(), 4)
	cancel() // tasks outlive the context that created them

	var ran atomic.Int32
	tasks.Go("ok", func(ctx context.Context) error {
		ran.Add(1)
		return ctx.Err()
	})
	tasks.Go("fails", func(ctx context.Context) error {
		ran.Add(1)
		return errBoom
	})
	tasks.Wait()

	assert.Equal(t, int32(2), ran.Load())
	select {
	case te := <-tasks.Errors():
		assert.Equal(t, "fails", te.Name)
		assert.ErrorIs(t, te.Err, errBoom)
	default:
		require.Fail(t, "expected a task error")
	}
	assert.Empty(t, tasks.Errors())
}

func TestTasks_FullErrorChannelDoesNotBlock(t *testing.T) {
	tasks := NewTasks(context.Background(), logger.Nop(), 1)
	for range 3 {
		tasks.Go("fails", func(context.Context) error { return errBoom })
	}
	tasks.Wait()
	assert.Len(t, tasks.Errors(), 1)
}
