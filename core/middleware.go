// Package core provides the fundamental building blocks of the calamus ODM.
// This file defines the middleware system, which allows cross-cutting
// concerns (logging, auditing, tracing, etc.) to be applied to persistence
// operations.
package core

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Operation represents the type of persistence operation being executed.
//
// It is used within middlewares to distinguish between inserts, updates,
// replacements, deletes, and queries.
type Operation string

const (
	// OperationInsert corresponds to an insert operation.
	OperationInsert Operation = "insert"
	// OperationUpdate corresponds to a partial update operation.
	OperationUpdate Operation = "update"
	// OperationReplace corresponds to a full-record replace operation.
	OperationReplace Operation = "replace"
	// OperationDelete corresponds to a delete operation.
	OperationDelete Operation = "delete"
	// OperationFind corresponds to a query operation.
	OperationFind Operation = "find"
)

// Handler is the function signature executed by the operation pipeline.
//
// It receives a context, the operation type, and the operation payload
// (InsertPayload, UpdatePayload, DeletePayload, FindPayload). Handlers are
// composed by middlewares to add cross-cutting logic.
type Handler func(ctx context.Context, op Operation, payload any) error

// Middleware is a function that wraps a Handler with additional logic.
//
// Middlewares are chained globally and executed for every operation.
// They follow the decorator pattern.
type Middleware func(next Handler) Handler

var globalMiddlewareList []Middleware

// Use registers a new global middleware, applied to all operations.
//
// Middlewares are executed in reverse registration order: the most
// recently registered middleware is executed first.
func Use(mw Middleware) {
	globalMiddlewareList = append(globalMiddlewareList, mw)
}

// runMiddlewares applies the chain of middlewares to the final handler.
func runMiddlewares(final Handler) Handler {
	h := final
	// The last wrap applied ends up outermost, so wrapping in registration
	// order makes the most recently registered middleware run first.
	for _, mw := range globalMiddlewareList {
		h = mw(h)
	}
	return h
}

// dispatchOperation executes an operation through the global middleware
// chain. The exec function contains the driver call and is wrapped by the
// registered middlewares.
func dispatchOperation(ctx context.Context, op Operation, payload any, exec func() error) error {
	handler := runMiddlewares(func(ctx context.Context, op Operation, payload any) error {
		return exec()
	})
	return handler(ctx, op, payload)
}

// LoggingMiddleware logs every operation passing through the ODM with its
// target collection, outcome, and duration.
//
// Example:
//
//	logger, _ := zap.NewProduction()
//	core.Use(core.LoggingMiddleware(logger))
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, op Operation, payload any) error {
			start := time.Now()
			err := next(ctx, op, payload)
			fields := []zap.Field{
				zap.String("op", string(op)),
				zap.String("document", payloadDocumentName(payload)),
				zap.Duration("took", time.Since(start)),
			}
			if err != nil {
				logger.Error("operation failed", append(fields, zap.Error(err))...)
				return err
			}
			logger.Debug("operation", fields...)
			return nil
		}
	}
}

func payloadDocumentName(payload any) string {
	switch p := payload.(type) {
	case InsertPayload:
		return p.Document.Implementation().Name()
	case UpdatePayload:
		return p.Document.Implementation().Name()
	case DeletePayload:
		return p.Document.Implementation().Name()
	case FindPayload:
		return p.Implementation.Name()
	default:
		return ""
	}
}
