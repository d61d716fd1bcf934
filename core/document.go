// Package core provides the fundamental building blocks of the calamus ODM.
// This file defines the Implementation — a compiled, instance-bound
// document class — and the Document, its runtime unit with identity,
// lifecycle state, and persistence operations.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Implementation is a compiled document class: the schema, options, index
// plan, and hooks derived from a template, bound to one instance.
type Implementation struct {
	name      string
	instance  *Instance
	template  *Template
	opts      *Options
	schema    *Schema
	fieldDefs Fields
	pkField   Field
	preHooks  map[PreHook][]PreHookFunc
	postHooks map[PostHook][]PostHookFunc
}

// Name returns the document class name.
func (impl *Implementation) Name() string { return impl.name }

// Schema returns the compiled schema.
func (impl *Implementation) Schema() *Schema { return impl.schema }

// Options returns the registration options.
func (impl *Implementation) Options() *Options { return impl.opts }

// Instance returns the owning registry.
func (impl *Implementation) Instance() *Instance { return impl.instance }

// Collection returns the driver collection handle backing this class.
func (impl *Implementation) Collection() (Collection, error) {
	if impl.opts.Abstract {
		return nil, fmt.Errorf("%w: abstract document %s has no collection", ErrInvalidUsage, impl.name)
	}
	db, err := impl.instance.DB()
	if err != nil {
		return nil, err
	}
	return db.Collection(impl.opts.CollectionName), nil
}

// NewDocument builds an empty, not-created document of this class.
func (impl *Implementation) NewDocument() (*Document, error) {
	if impl.opts.Abstract {
		return nil, fmt.Errorf("%w: cannot instantiate abstract document %s", ErrInvalidUsage, impl.name)
	}
	return &Document{impl: impl, data: newDataProxy(impl.schema)}, nil
}

// Load builds a document from a public record. Defaults apply to absent
// fields; the document is not created until committed.
func (impl *Implementation) Load(data map[string]any) (*Document, error) {
	doc, err := impl.NewDocument()
	if err != nil {
		return nil, err
	}
	if err := doc.data.Load(data); err != nil {
		return nil, err
	}
	return doc, nil
}

// BuildFromDB wraps a raw database record into a created document. The
// record's class discriminator selects the concrete implementation, so a
// read through a parent class yields child documents.
func (impl *Implementation) BuildFromDB(raw bson.M, partial bool) (*Document, error) {
	concrete, err := impl.concrete(raw)
	if err != nil {
		return nil, err
	}
	doc, err := concrete.NewDocument()
	if err != nil {
		return nil, err
	}
	if err := doc.data.FromDB(raw, partial); err != nil {
		return nil, err
	}
	doc.created = true
	return doc, nil
}

func (impl *Implementation) concrete(raw bson.M) (*Implementation, error) {
	tag, ok := raw["_cls"].(string)
	if !ok || tag == impl.name {
		return impl, nil
	}
	child, err := impl.instance.Resolve(tag)
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("Unknown document class %s.", tag))
	}
	if !impl.instance.descendsFrom(child.opts, impl.name) {
		return nil, NewValidationError(fmt.Sprintf("Document %s is not a subclass of %s.", tag, impl.name))
	}
	return child, nil
}

// cookFilter rewrites a public-name filter to storage names and restricts
// child-class queries to the class and its offspring.
func (impl *Implementation) cookFilter(filter bson.M) (bson.M, error) {
	cooked, err := rewriteFilter(impl.schema, filter)
	if err != nil {
		return nil, err
	}
	if impl.opts.IsChild {
		names := bson.A{impl.name}
		for _, child := range impl.opts.Offspring() {
			names = append(names, child)
		}
		if cooked == nil {
			cooked = bson.M{}
		}
		if _, taken := cooked["_cls"]; !taken {
			cooked["_cls"] = bson.M{"$in": names}
		}
	}
	return cooked, nil
}

// FindOne retrieves the first document matching filter (public names), or
// nil when none matches. A projection yields a partial document.
func (impl *Implementation) FindOne(ctx context.Context, filter bson.M, opts ...QueryOption) (*Document, error) {
	coll, err := impl.Collection()
	if err != nil {
		return nil, err
	}
	cooked, err := impl.cookFilter(filter)
	if err != nil {
		return nil, err
	}
	cfg := applyQueryOptions(impl.schema, opts)
	var raw bson.M
	err = dispatchOperation(ctx, OperationFind, FindPayload{Implementation: impl, Filter: cooked}, func() error {
		var execErr error
		raw, execErr = coll.FindOne(ctx, cooked, cfg.projection)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	Emit(EventFind, FindPayload{Implementation: impl, Filter: cooked})
	return impl.BuildFromDB(raw, cfg.projection != nil)
}

// findByPK retrieves a document by object-form primary key.
func (impl *Implementation) findByPK(ctx context.Context, pk any) (*Document, error) {
	dbPK, err := SerializeDB(impl.pkField, pk)
	if err != nil {
		return nil, err
	}
	coll, err := impl.Collection()
	if err != nil {
		return nil, err
	}
	raw, err := coll.FindOne(ctx, bson.M{"_id": dbPK}, nil)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return impl.BuildFromDB(raw, false)
}

// Find retrieves the documents matching filter (public names) as a cursor.
func (impl *Implementation) Find(ctx context.Context, filter bson.M, opts ...QueryOption) (*DocumentCursor, error) {
	coll, err := impl.Collection()
	if err != nil {
		return nil, err
	}
	cooked, err := impl.cookFilter(filter)
	if err != nil {
		return nil, err
	}
	cfg := applyQueryOptions(impl.schema, opts)
	var cursor Cursor
	err = dispatchOperation(ctx, OperationFind, FindPayload{Implementation: impl, Filter: cooked}, func() error {
		var execErr error
		cursor, execErr = coll.Find(ctx, cooked, cfg.findOptions())
		return execErr
	})
	if err != nil {
		return nil, err
	}
	Emit(EventFind, FindPayload{Implementation: impl, Filter: cooked})
	return &DocumentCursor{impl: impl, cursor: cursor, partial: cfg.projection != nil}, nil
}

// Count counts the documents matching filter (public names).
func (impl *Implementation) Count(ctx context.Context, filter bson.M) (int64, error) {
	coll, err := impl.Collection()
	if err != nil {
		return 0, err
	}
	cooked, err := impl.cookFilter(filter)
	if err != nil {
		return 0, err
	}
	return coll.CountDocuments(ctx, cooked)
}

// EnsureIndexes materializes the class's derived index plan.
func (impl *Implementation) EnsureIndexes(ctx context.Context) error {
	coll, err := impl.Collection()
	if err != nil {
		return err
	}
	for _, model := range impl.opts.Indexes {
		if err := coll.CreateIndex(ctx, model); err != nil {
			return err
		}
	}
	return nil
}

// Document is the runtime unit of the ODM: a DataProxy plus identity and
// lifecycle state against one collection.
type Document struct {
	impl    *Implementation
	data    *DataProxy
	created bool
}

// Implementation returns the document's class.
func (doc *Document) Implementation() *Implementation { return doc.impl }

// IsCreated reports whether the document is known to exist in the
// database.
func (doc *Document) IsCreated() bool { return doc.created }

// IsModified reports whether any field changed since the last load or
// commit, including mutations inside nested containers.
func (doc *Document) IsModified() bool { return doc.data.anyModified() }

// IsPartial reports whether the document was loaded through a projection.
func (doc *Document) IsPartial() bool { return doc.data.Partial() }

// ModifiedFields returns the storage names pending in the next update.
func (doc *Document) ModifiedFields() []string { return doc.data.ModifiedFields() }

// Set assigns a field by public name.
func (doc *Document) Set(name string, value any) error { return doc.data.Set(name, value) }

// Get reads a field by public name; Missing is normalized to nil.
func (doc *Document) Get(name string) (any, error) {
	value, err := doc.data.Get(name)
	if err != nil {
		return nil, err
	}
	if IsMissing(value) {
		return nil, nil
	}
	return value, nil
}

// GetRaw reads a field by public name without normalizing the Missing
// sentinel, so callers can tell an unset field from an explicit nil.
func (doc *Document) GetRaw(name string) (any, error) { return doc.data.Get(name) }

// Delete clears a field by public name; commit renders it as an $unset.
func (doc *Document) Delete(name string) error { return doc.data.Delete(name) }

// Dump serializes the document to its public form.
func (doc *Document) Dump() (map[string]any, error) { return doc.data.schema.Dump(doc.data.values) }

// PK returns the object-form primary key, or nil when unset.
func (doc *Document) PK() (any, error) {
	public, ok := doc.impl.schema.PublicName("_id")
	if !ok {
		return nil, fmt.Errorf("%w: document %s has no primary key field", ErrInvalidUsage, doc.impl.name)
	}
	return doc.Get(public)
}

// CommitOption configures a Commit call.
type CommitOption func(*commitConfig)

type commitConfig struct {
	conditions bson.M
	replace    bool
}

// Conditions adds an extra filter (public names) the stored record must
// match for the write to apply. A non-matching condition fails the commit
// with an UpdateError.
func Conditions(filter bson.M) CommitOption {
	return func(c *commitConfig) { c.conditions = filter }
}

// Replace makes Commit rewrite the whole record instead of patching the
// modified fields. Replace is the only way to commit a partial document.
func Replace() CommitOption {
	return func(c *commitConfig) { c.replace = true }
}

// Commit persists the document: an insert when not yet created, otherwise
// a partial update of the modified fields (or a full replace). Required
// and I/O validation run before the write; unique violations come back as
// a ValidationError keyed by field.
func (doc *Document) Commit(ctx context.Context, opts ...CommitOption) error {
	var cfg commitConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if !doc.created {
		if cfg.conditions != nil {
			return fmt.Errorf("%w: conditions only apply to created documents", ErrInvalidUsage)
		}
		return doc.commitInsert(ctx)
	}
	if doc.data.Partial() && !cfg.replace {
		return ErrPartialDocument
	}
	return doc.commitUpdate(ctx, cfg)
}

func (doc *Document) commitInsert(ctx context.Context) error {
	if err := doc.data.RequiredValidate(); err != nil {
		return err
	}
	if err := doc.data.IOValidate(ctx, false, doc.impl.instance.concurrentIO); err != nil {
		return err
	}
	if _, err := doc.runPreHooks(ctx, PreInsert); err != nil {
		return err
	}
	doc.ensurePK()
	payload, err := doc.data.ToDB()
	if err != nil {
		return err
	}
	coll, err := doc.impl.Collection()
	if err != nil {
		return err
	}
	var insertedID any
	err = dispatchOperation(ctx, OperationInsert, InsertPayload{Document: doc, Data: payload}, func() error {
		var execErr error
		insertedID, execErr = coll.InsertOne(ctx, payload)
		return execErr
	})
	if err != nil {
		return doc.impl.remapDuplicateKey(err)
	}
	if IsMissing(doc.data.values["_id"]) && insertedID != nil {
		pk, err := DeserializeDB(doc.impl.pkField, insertedID)
		if err != nil {
			return err
		}
		doc.data.values["_id"] = pk
	}
	doc.created = true
	doc.data.ClearModified()
	// handlers run on their own goroutines; give them a stable snapshot
	Emit(EventInsert, InsertPayload{Document: doc, Data: copyBSONMap(payload)})
	return doc.runPostHooks(ctx, PostInsert, insertedID)
}

func (doc *Document) commitUpdate(ctx context.Context, cfg commitConfig) error {
	if err := doc.data.RequiredValidate(); err != nil {
		return err
	}
	onlyModified := !cfg.replace
	if err := doc.data.IOValidate(ctx, onlyModified, doc.impl.instance.concurrentIO); err != nil {
		return err
	}
	hookFilters, err := doc.runPreHooks(ctx, PreUpdate)
	if err != nil {
		return err
	}
	filter, err := doc.writeFilter(cfg.conditions, hookFilters)
	if err != nil {
		return err
	}
	coll, err := doc.impl.Collection()
	if err != nil {
		return err
	}

	var result UpdateResult
	if cfg.replace {
		payload, err := doc.data.ToDB()
		if err != nil {
			return err
		}
		err = dispatchOperation(ctx, OperationReplace, UpdatePayload{Document: doc, Filter: filter, Patch: payload}, func() error {
			var execErr error
			result, execErr = coll.ReplaceOne(ctx, filter, payload)
			return execErr
		})
		if err != nil {
			return doc.impl.remapDuplicateKey(err)
		}
	} else {
		patch, err := doc.data.ToDBUpdate()
		if err != nil {
			return err
		}
		if patch == nil {
			return nil
		}
		err = dispatchOperation(ctx, OperationUpdate, UpdatePayload{Document: doc, Filter: filter, Patch: patch}, func() error {
			var execErr error
			result, execErr = coll.UpdateOne(ctx, filter, patch)
			return execErr
		})
		if err != nil {
			return doc.impl.remapDuplicateKey(err)
		}
	}
	if result.Matched == 0 {
		return &UpdateError{Filter: filter}
	}
	doc.data.ClearModified()
	doc.data.partial = false
	Emit(EventUpdate, UpdatePayload{Document: doc, Filter: copyBSONMap(filter)})
	return doc.runPostHooks(ctx, PostUpdate, result)
}

// DeleteDocument removes the stored record. Extra conditions (public
// names) restrict the match; a miss fails with a DeleteError.
func (doc *Document) DeleteDocument(ctx context.Context, conditions ...bson.M) error {
	if !doc.created {
		return ErrNotCreated
	}
	var extra bson.M
	if len(conditions) > 0 {
		extra = bson.M{}
		for _, c := range conditions {
			for k, v := range c {
				extra[k] = v
			}
		}
	}
	hookFilters, err := doc.runPreHooks(ctx, PreDelete)
	if err != nil {
		return err
	}
	filter, err := doc.writeFilter(extra, hookFilters)
	if err != nil {
		return err
	}
	coll, err := doc.impl.Collection()
	if err != nil {
		return err
	}
	var deleted int64
	err = dispatchOperation(ctx, OperationDelete, DeletePayload{Document: doc, Filter: filter}, func() error {
		var execErr error
		deleted, execErr = coll.DeleteOne(ctx, filter)
		return execErr
	})
	if err != nil {
		return err
	}
	if deleted == 0 {
		return &DeleteError{Filter: filter}
	}
	doc.created = false
	Emit(EventDelete, DeletePayload{Document: doc, Filter: copyBSONMap(filter)})
	return doc.runPostHooks(ctx, PostDelete, deleted)
}

// Reload replaces the document's state with the stored record, dropping
// uncommitted changes and partiality.
func (doc *Document) Reload(ctx context.Context) error {
	if !doc.created {
		return ErrNotCreated
	}
	pk, err := doc.PK()
	if err != nil {
		return err
	}
	dbPK, err := SerializeDB(doc.impl.pkField, pk)
	if err != nil {
		return err
	}
	coll, err := doc.impl.Collection()
	if err != nil {
		return err
	}
	raw, err := coll.FindOne(ctx, bson.M{"_id": dbPK}, nil)
	if err != nil {
		return err
	}
	if raw == nil {
		return ErrNotCreated
	}
	return doc.data.FromDB(raw, false)
}

// writeFilter builds the storage-name filter of an update or delete: the
// primary key plus user conditions plus pre-hook filters.
func (doc *Document) writeFilter(conditions bson.M, hookFilters []bson.M) (bson.M, error) {
	pk, err := doc.PK()
	if err != nil {
		return nil, err
	}
	if pk == nil {
		return nil, ErrNotCreated
	}
	dbPK, err := SerializeDB(doc.impl.pkField, pk)
	if err != nil {
		return nil, err
	}
	filter := bson.M{"_id": dbPK}
	clauses := append([]bson.M{}, hookFilters...)
	if conditions != nil {
		clauses = append(clauses, conditions)
	}
	if len(clauses) == 0 {
		return filter, nil
	}
	and := bson.A{}
	for _, clause := range clauses {
		cooked, err := rewriteFilter(doc.impl.schema, clause)
		if err != nil {
			return nil, err
		}
		if len(cooked) > 0 {
			and = append(and, cooked)
		}
	}
	if len(and) > 0 {
		filter["$and"] = and
	}
	return filter, nil
}

// ensurePK assigns a fresh ObjectID when the class uses the default
// primary key and none was set, so references to the document are valid
// before the driver answers.
func (doc *Document) ensurePK() {
	if !IsMissing(doc.data.values["_id"]) {
		return
	}
	if _, ok := doc.impl.pkField.(*ObjectIDField); ok {
		doc.data.values["_id"] = primitive.NewObjectID()
	}
}

func (doc *Document) runPreHooks(ctx context.Context, hook PreHook) ([]bson.M, error) {
	var filters []bson.M
	for _, fn := range doc.impl.preHooks[hook] {
		extra, err := fn(ctx, doc)
		if err != nil {
			return nil, err
		}
		if len(extra) > 0 {
			filters = append(filters, extra)
		}
	}
	return filters, nil
}

func (doc *Document) runPostHooks(ctx context.Context, hook PostHook, result any) error {
	for _, fn := range doc.impl.postHooks[hook] {
		if err := fn(ctx, doc, result); err != nil {
			return err
		}
	}
	return nil
}

// remapDuplicateKey turns a driver unique violation into a ValidationError
// keyed by the public names of the violated index.
func (impl *Implementation) remapDuplicateKey(err error) error {
	var dup *DuplicateKeyError
	if !errors.As(err, &dup) {
		return err
	}
	keys := dup.Keys
	if len(keys) == 0 && dup.IndexName != "" {
		for _, model := range impl.opts.Indexes {
			if model.EffectiveName() != dup.IndexName {
				continue
			}
			for _, key := range model.Keys {
				keys = append(keys, key.Field)
			}
			break
		}
	}
	if len(keys) == 0 {
		if dup.Message != "" {
			return NewValidationError(dup.Message)
		}
		return NewValidationError(tr("Duplicate key error."))
	}

	publics := make([]string, 0, len(keys))
	for _, key := range keys {
		root := key
		if i := strings.IndexByte(key, '.'); i >= 0 {
			root = key[:i]
		}
		public, ok := impl.schema.PublicName(root)
		if !ok {
			public = root
		}
		publics = append(publics, public)
	}

	ve := NewValidationError()
	if len(publics) == 1 {
		ve.SetChild(publics[0], NewValidationError(tr("Field value must be unique.")))
		return ve
	}
	message := fmt.Sprintf(tr("Values of fields [%s] must be unique together."), joinFieldNames(publics))
	for _, public := range publics {
		ve.SetChild(public, NewValidationError(message))
	}
	return ve
}
