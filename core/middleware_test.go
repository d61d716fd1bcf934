package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// swapMiddlewares isolates the global chain for one test.
func swapMiddlewares(t *testing.T) {
	t.Helper()
	saved := globalMiddlewareList
	globalMiddlewareList = nil
	t.Cleanup(func() { globalMiddlewareList = saved })
}

func TestMiddlewareOrder(t *testing.T) {
	swapMiddlewares(t)

	var trace []string
	tag := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, op Operation, payload any) error {
				trace = append(trace, name)
				return next(ctx, op, payload)
			}
		}
	}
	Use(tag("first"))
	Use(tag("second"))

	err := dispatchOperation(context.Background(), OperationFind, nil, func() error {
		trace = append(trace, "exec")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first", "exec"}, trace,
		"the most recently registered middleware runs first")
}

func TestMiddlewareSeesOperationAndError(t *testing.T) {
	swapMiddlewares(t)

	boom := errors.New("driver down")
	var seenOp Operation
	Use(func(next Handler) Handler {
		return func(ctx context.Context, op Operation, payload any) error {
			seenOp = op
			return next(ctx, op, payload)
		}
	})

	err := dispatchOperation(context.Background(), OperationInsert, nil, func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, OperationInsert, seenOp)
}

func TestMiddlewareCanShortCircuit(t *testing.T) {
	swapMiddlewares(t)

	denied := errors.New("writes disabled")
	Use(func(next Handler) Handler {
		return func(ctx context.Context, op Operation, payload any) error {
			if op == OperationDelete {
				return denied
			}
			return next(ctx, op, payload)
		}
	})

	executed := false
	err := dispatchOperation(context.Background(), OperationDelete, nil, func() error {
		executed = true
		return nil
	})
	assert.ErrorIs(t, err, denied)
	assert.False(t, executed)
}

func TestLoggingMiddleware(t *testing.T) {
	swapMiddlewares(t)

	zapCore, logs := observer.New(zap.DebugLevel)
	Use(LoggingMiddleware(zap.New(zapCore)))

	require.NoError(t, dispatchOperation(context.Background(), OperationFind, nil, func() error {
		return nil
	}))
	boom := errors.New("broken pipe")
	assert.Error(t, dispatchOperation(context.Background(), OperationUpdate, nil, func() error {
		return boom
	}))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "operation", entries[0].Message)
	assert.Equal(t, "find", entries[0].ContextMap()["op"])
	assert.Equal(t, "operation failed", entries[1].Message)
	assert.Equal(t, "update", entries[1].ContextMap()["op"])
}
