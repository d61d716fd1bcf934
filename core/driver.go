// Package core provides the fundamental building blocks of the calamus ODM.
// This file defines the contract every database adapter implements. The
// core never constructs network traffic itself: it issues typed operations
// against these interfaces and wraps the raw records they yield.
package core

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Sort represents an ordering rule used in queries.
//
// Field is the storage name to sort by. Order determines the direction:
// 1 for ascending (ASC), -1 for descending (DESC).
type Sort struct {
	Field string
	Order int
}

// FindOptions carries pagination, ordering, and projection options for
// multi-document reads.
type FindOptions struct {
	Sort       []Sort
	Limit      int64
	Skip       int64
	Projection bson.M
}

// UpdateResult reports the outcome of an update or replace.
type UpdateResult struct {
	Matched  int64
	Modified int64
}

// Cursor iterates the raw records of a find. Records are wrapped by the
// core via BuildFromDB.
type Cursor interface {
	// Next advances the cursor; false when exhausted or on error.
	Next(ctx context.Context) bool
	// Current returns the record the cursor is positioned on.
	Current() (bson.M, error)
	// Err reports the error that stopped iteration, if any.
	Err() error
	// Close releases the cursor's resources.
	Close(ctx context.Context) error
}

// Collection is the per-collection operation set the core requires from
// every driver adapter. Writes that violate a unique index must surface a
// *DuplicateKeyError; other driver-native errors pass through unchanged as
// infrastructure errors outside the core taxonomy.
type Collection interface {
	// Name returns the collection name.
	Name() string
	// FindOne retrieves a single record matching filter, or nil.
	FindOne(ctx context.Context, filter bson.M, projection bson.M) (bson.M, error)
	// Find retrieves the records matching filter as a cursor.
	Find(ctx context.Context, filter bson.M, opts FindOptions) (Cursor, error)
	// InsertOne persists a record and returns the stored primary key.
	InsertOne(ctx context.Context, doc bson.M) (any, error)
	// UpdateOne applies a partial update patch to the first match.
	UpdateOne(ctx context.Context, filter bson.M, update bson.M) (UpdateResult, error)
	// ReplaceOne replaces the first match with a full record.
	ReplaceOne(ctx context.Context, filter bson.M, doc bson.M) (UpdateResult, error)
	// DeleteOne removes the first match and returns the deleted count.
	DeleteOne(ctx context.Context, filter bson.M) (int64, error)
	// CountDocuments counts the records matching filter.
	CountDocuments(ctx context.Context, filter bson.M) (int64, error)
	// CreateIndex materializes one index; creating an existing index is a
	// no-op.
	CreateIndex(ctx context.Context, model IndexModel) error
	// DropIndexes removes every index except the primary-key one.
	DropIndexes(ctx context.Context) error
	// ListIndexes returns the collection's current indexes.
	ListIndexes(ctx context.Context) ([]IndexModel, error)
}

// Database is a driver-provided handle addressable by collection name.
type Database interface {
	// Name returns the database name.
	Name() string
	// DriverName identifies the backing driver ("mongo", "pgdoc",
	// "memory"); instances use it for compatibility dispatch.
	DriverName() string
	// Collection returns the handle for the named collection. Handles are
	// shared and safe for concurrent use as provided by the driver.
	Collection(name string) Collection
}
