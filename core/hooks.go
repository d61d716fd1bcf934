// Package core provides the fundamental building blocks of the calamus ODM.
// This file defines lifecycle hooks that allow custom logic to be executed
// before or after persistence operations such as insert, update, and delete.
package core

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// PreHook represents a lifecycle hook that runs before a persistence
// operation.
//
// Hooks are identified by string tokens (e.g., "pre:insert") and are
// registered per template. They allow validation, transformation, or side
// effects to be applied before the operation is executed. A hook error
// aborts the operation.
type PreHook string

// PostHook represents a lifecycle hook that runs after a persistence
// operation.
//
// Hooks are identified by string tokens (e.g., "post:update") and are
// registered per template. They allow actions such as logging, cache
// invalidation, or event publishing after the operation succeeds.
type PostHook string

const (
	// PreInsert is executed before a document is inserted.
	PreInsert PreHook = "pre:insert"
	// PreUpdate is executed before a document is updated. Its returned
	// filter is conjoined with the commit conditions.
	PreUpdate PreHook = "pre:update"
	// PreDelete is executed before a document is deleted. Its returned
	// filter is conjoined with the delete conditions.
	PreDelete PreHook = "pre:delete"

	// PostInsert is executed after a document is inserted.
	PostInsert PostHook = "post:insert"
	// PostUpdate is executed after a document is updated.
	PostUpdate PostHook = "post:update"
	// PostDelete is executed after a document is deleted.
	PostDelete PostHook = "post:delete"
)

// PreHookFunc is the callback signature of pre-operation hooks. The
// returned filter (public field names; may be nil) is conjoined with the
// operation's conditions for update and delete.
type PreHookFunc func(ctx context.Context, doc *Document) (bson.M, error)

// PostHookFunc is the callback signature of post-operation hooks. result is
// the driver outcome: the inserted id for insert, the update result for
// update, the deleted count for delete.
type PostHookFunc func(ctx context.Context, doc *Document, result any) error
