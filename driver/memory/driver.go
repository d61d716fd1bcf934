// Package driver provides the in-memory adapter of the calamus ODM. It
// keeps records as deep-copied BSON maps and enforces unique indexes, so
// the full document lifecycle runs without a database server. It backs the
// test suites and is usable as a fake in application tests.
package driver

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/calamus-odm/calamus/core"
	"github.com/calamus-odm/calamus/internal/match"
)

//region MemoryDatabase

// MemoryDatabase adapts an in-process record store to the core database
// contract. Collections are created on first access.
type MemoryDatabase struct {
	name  string
	mu    sync.Mutex
	colls map[string]*memoryCollection
}

var _ core.Database = (*MemoryDatabase)(nil)

// NewMemoryDatabase builds an empty in-memory database.
func NewMemoryDatabase(name string) *MemoryDatabase {
	return &MemoryDatabase{name: name, colls: make(map[string]*memoryCollection)}
}

// Name returns the database name.
func (driver *MemoryDatabase) Name() string { return driver.name }

// DriverName identifies this adapter for instance compatibility checks.
func (driver *MemoryDatabase) DriverName() string { return "memory" }

// Collection returns the core handle for the named collection.
func (driver *MemoryDatabase) Collection(name string) core.Collection {
	driver.mu.Lock()
	defer driver.mu.Unlock()
	coll, ok := driver.colls[name]
	if !ok {
		coll = &memoryCollection{name: name}
		driver.colls[name] = coll
	}
	return coll
}

// Drop removes every collection, for test isolation.
func (driver *MemoryDatabase) Drop() {
	driver.mu.Lock()
	defer driver.mu.Unlock()
	driver.colls = make(map[string]*memoryCollection)
}

//endregion

//region memoryCollection

type memoryCollection struct {
	name    string
	mu      sync.RWMutex
	docs    []bson.M
	indexes []core.IndexModel
}

var _ core.Collection = (*memoryCollection)(nil)

func (collection *memoryCollection) Name() string { return collection.name }

func (collection *memoryCollection) FindOne(ctx context.Context, filter bson.M, projection bson.M) (bson.M, error) {
	collection.mu.RLock()
	defer collection.mu.RUnlock()
	for _, doc := range collection.docs {
		if match.Matches(doc, filter) {
			return applyProjection(copyRecord(doc), projection), nil
		}
	}
	return nil, nil
}

func (collection *memoryCollection) Find(ctx context.Context, filter bson.M, opts core.FindOptions) (core.Cursor, error) {
	collection.mu.RLock()
	var matched []bson.M
	for _, doc := range collection.docs {
		if match.Matches(doc, filter) {
			matched = append(matched, copyRecord(doc))
		}
	}
	collection.mu.RUnlock()

	if len(opts.Sort) > 0 {
		keys := make([]match.SortKey, 0, len(opts.Sort))
		for _, s := range opts.Sort {
			keys = append(keys, match.SortKey{Field: s.Field, Order: s.Order})
		}
		match.Sort(matched, keys)
	}
	if opts.Skip > 0 {
		if opts.Skip >= int64(len(matched)) {
			matched = nil
		} else {
			matched = matched[opts.Skip:]
		}
	}
	if opts.Limit > 0 && opts.Limit < int64(len(matched)) {
		matched = matched[:opts.Limit]
	}
	if opts.Projection != nil {
		for i, doc := range matched {
			matched[i] = applyProjection(doc, opts.Projection)
		}
	}
	return &sliceCursor{docs: matched}, nil
}

func (collection *memoryCollection) InsertOne(ctx context.Context, doc bson.M) (any, error) {
	collection.mu.Lock()
	defer collection.mu.Unlock()
	stored := copyRecord(doc)
	if err := collection.checkUnique(stored, -1); err != nil {
		return nil, err
	}
	collection.docs = append(collection.docs, stored)
	return stored["_id"], nil
}

func (collection *memoryCollection) UpdateOne(ctx context.Context, filter bson.M, update bson.M) (core.UpdateResult, error) {
	collection.mu.Lock()
	defer collection.mu.Unlock()
	for i, doc := range collection.docs {
		if !match.Matches(doc, filter) {
			continue
		}
		updated := copyRecord(doc)
		match.ApplyUpdate(updated, update)
		if err := collection.checkUnique(updated, i); err != nil {
			return core.UpdateResult{}, err
		}
		collection.docs[i] = updated
		return core.UpdateResult{Matched: 1, Modified: 1}, nil
	}
	return core.UpdateResult{}, nil
}

func (collection *memoryCollection) ReplaceOne(ctx context.Context, filter bson.M, doc bson.M) (core.UpdateResult, error) {
	collection.mu.Lock()
	defer collection.mu.Unlock()
	for i, stored := range collection.docs {
		if !match.Matches(stored, filter) {
			continue
		}
		replacement := copyRecord(doc)
		if _, has := replacement["_id"]; !has {
			replacement["_id"] = stored["_id"]
		}
		if err := collection.checkUnique(replacement, i); err != nil {
			return core.UpdateResult{}, err
		}
		collection.docs[i] = replacement
		return core.UpdateResult{Matched: 1, Modified: 1}, nil
	}
	return core.UpdateResult{}, nil
}

func (collection *memoryCollection) DeleteOne(ctx context.Context, filter bson.M) (int64, error) {
	collection.mu.Lock()
	defer collection.mu.Unlock()
	for i, doc := range collection.docs {
		if match.Matches(doc, filter) {
			collection.docs = append(collection.docs[:i], collection.docs[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (collection *memoryCollection) CountDocuments(ctx context.Context, filter bson.M) (int64, error) {
	collection.mu.RLock()
	defer collection.mu.RUnlock()
	var count int64
	for _, doc := range collection.docs {
		if match.Matches(doc, filter) {
			count++
		}
	}
	return count, nil
}

func (collection *memoryCollection) CreateIndex(ctx context.Context, model core.IndexModel) error {
	collection.mu.Lock()
	defer collection.mu.Unlock()
	name := model.EffectiveName()
	for i, existing := range collection.indexes {
		if existing.EffectiveName() == name {
			collection.indexes[i] = model
			return nil
		}
	}
	collection.indexes = append(collection.indexes, model)
	return nil
}

func (collection *memoryCollection) DropIndexes(ctx context.Context) error {
	collection.mu.Lock()
	defer collection.mu.Unlock()
	collection.indexes = nil
	return nil
}

func (collection *memoryCollection) ListIndexes(ctx context.Context) ([]core.IndexModel, error) {
	collection.mu.RLock()
	defer collection.mu.RUnlock()
	return append([]core.IndexModel(nil), collection.indexes...), nil
}

// checkUnique validates candidate against the primary key and every unique
// index, skipping the record at exclude (the one being rewritten). Sparse
// indexes ignore records lacking any of the index keys.
func (collection *memoryCollection) checkUnique(candidate bson.M, exclude int) error {
	if pk, has := candidate["_id"]; has {
		for i, doc := range collection.docs {
			if i == exclude {
				continue
			}
			if equalKeyValue(doc["_id"], pk) {
				return &core.DuplicateKeyError{IndexName: "_id_", Keys: []string{"_id"}}
			}
		}
	}
	for _, index := range collection.indexes {
		if !index.Unique {
			continue
		}
		values, complete := indexTuple(candidate, index)
		if index.Sparse && !complete {
			continue
		}
		for i, doc := range collection.docs {
			if i == exclude {
				continue
			}
			others, otherComplete := indexTuple(doc, index)
			if index.Sparse && !otherComplete {
				continue
			}
			if tuplesEqual(values, others) {
				keys := make([]string, 0, len(index.Keys))
				for _, key := range index.Keys {
					keys = append(keys, key.Field)
				}
				return &core.DuplicateKeyError{IndexName: index.EffectiveName(), Keys: keys}
			}
		}
	}
	return nil
}

func indexTuple(doc bson.M, index core.IndexModel) ([]any, bool) {
	values := make([]any, 0, len(index.Keys))
	complete := true
	for _, key := range index.Keys {
		candidates, found := match.Lookup(doc, key.Field)
		if !found {
			values = append(values, nil)
			complete = false
			continue
		}
		values = append(values, candidates[0])
	}
	return values, complete
}

func tuplesEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equalKeyValue(a[i], b[i]) {
			return false
		}
	}
	return true
}

func equalKeyValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := match.Compare(a, b); ok {
		return c == 0
	}
	return false
}

//endregion

//region helpers

func copyRecord(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		return copyRecord(t)
	case map[string]any:
		return map[string]any(copyRecord(bson.M(t)))
	case bson.A:
		out := make(bson.A, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

func applyProjection(doc bson.M, projection bson.M) bson.M {
	if projection == nil {
		return doc
	}
	out := bson.M{}
	for path := range projection {
		root := path
		if i := strings.IndexByte(path, '.'); i >= 0 {
			root = path[:i]
		}
		if value, ok := doc[root]; ok {
			out[root] = value
		}
	}
	return out
}

//endregion

//region sliceCursor

type sliceCursor struct {
	docs []bson.M
	pos  int
}

var _ core.Cursor = (*sliceCursor)(nil)

func (c *sliceCursor) Next(ctx context.Context) bool {
	if c.pos >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

func (c *sliceCursor) Current() (bson.M, error) {
	if c.pos == 0 || c.pos > len(c.docs) {
		return nil, errors.New("cursor is not positioned on a document")
	}
	return c.docs[c.pos-1], nil
}

func (c *sliceCursor) Err() error { return nil }

func (c *sliceCursor) Close(ctx context.Context) error { return nil }

//endregion
