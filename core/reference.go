// Package core provides the fundamental building blocks of the calamus ODM.
// This file defines document references: a lazy handle on another document's
// primary key, stored as the raw pk (or as {_cls, _id} for generic
// references) and fetched on demand.
package core

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DBRef is the {$ref, $id} reference convention: a collection name plus the
// primary key of a record in it. Reference fields accept it as an input
// shape after checking the collection matches the target class.
type DBRef struct {
	Collection string
	ID         any
}

// Reference holds a target document class plus a primary key, fetching and
// caching the target on demand. Concurrent fetches observe a single cached
// instance.
type Reference struct {
	instance   *Instance
	targetName string
	pk         any

	mu     sync.Mutex
	cached *Document
}

// NewRef builds a reference value by class name and raw primary key.
func NewRef(instance *Instance, targetName string, pk any) *Reference {
	return &Reference{instance: instance, targetName: targetName, pk: pk}
}

// PK returns the referenced primary key.
func (r *Reference) PK() any { return r.pk }

// DocumentName returns the referenced document class name.
func (r *Reference) DocumentName() string { return r.targetName }

// Fetch loads the referenced document, caching it. Subsequent (and
// concurrent) fetches return the same instance.
func (r *Reference) Fetch(ctx context.Context) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached != nil {
		return r.cached, nil
	}
	impl, err := r.instance.Resolve(r.targetName)
	if err != nil {
		return nil, err
	}
	doc, err := impl.findByPK(ctx, r.pk)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, NewValidationError(fmt.Sprintf("Reference not found for document %s.", r.targetName))
	}
	r.cached = doc
	return doc, nil
}

// Equal reports equality with another Reference (same class and pk), a
// fetched Document of the target class with matching pk, or a DBRef whose
// collection and id match.
func (r *Reference) Equal(other any) bool {
	switch o := other.(type) {
	case *Reference:
		return o.targetName == r.targetName && equalPK(o.pk, r.pk)
	case *Document:
		if o.impl.name != r.targetName {
			return false
		}
		pk, err := o.PK()
		if err != nil {
			return false
		}
		return equalPK(pk, r.pk)
	case DBRef:
		impl, err := r.instance.Resolve(r.targetName)
		if err != nil {
			return false
		}
		return o.Collection == impl.opts.CollectionName && equalPK(o.ID, r.pk)
	}
	return false
}

func equalPK(a, b any) bool {
	if a == b {
		return true
	}
	ao, aok := a.(primitive.ObjectID)
	bo, bok := b.(primitive.ObjectID)
	return aok && bok && ao == bo
}

// ReferenceField stores a link to another document: raw pk in the database,
// a structured Reference in the object world, a string pk in public form.
type ReferenceField struct {
	BaseField
	TargetName string
	instance   *Instance
}

// NewReference declares a reference field targeting the named document
// class. The target is resolved by name at first use, so forward references
// work.
func NewReference(targetName string, opts ...FieldOption) *ReferenceField {
	f := &ReferenceField{TargetName: targetName}
	applyOptions(&f.BaseField, opts)
	return f
}

func (f *ReferenceField) bindInstance(instance *Instance) { f.instance = instance }

func (f *ReferenceField) target() (*Implementation, error) {
	if f.instance == nil {
		return nil, &NotRegisteredError{Name: f.TargetName}
	}
	return f.instance.Resolve(f.TargetName)
}

func (f *ReferenceField) Deserialize(value any) (any, error) {
	impl, err := f.target()
	if err != nil {
		return nil, err
	}
	switch v := value.(type) {
	case *Reference:
		if v.targetName != impl.name {
			return nil, NewValidationError(fmt.Sprintf("Expected %s reference.", impl.name))
		}
		return v, nil
	case *Document:
		if !f.instance.documentIs(v.impl, impl.name) {
			return nil, NewValidationError(fmt.Sprintf("Expected %s reference.", impl.name))
		}
		pk, perr := v.PK()
		if perr != nil || pk == nil {
			return nil, NewValidationError("Cannot reference a document that has not been committed.")
		}
		return &Reference{instance: f.instance, targetName: impl.name, pk: pk, cached: v}, nil
	case DBRef:
		if v.Collection != impl.opts.CollectionName {
			return nil, NewValidationError(fmt.Sprintf("DBRef must be on collection %s.", impl.opts.CollectionName))
		}
		pk, perr := Deserialize(impl.pkField, v.ID)
		if perr != nil {
			return nil, perr
		}
		return &Reference{instance: f.instance, targetName: impl.name, pk: pk}, nil
	default:
		pk, perr := Deserialize(impl.pkField, value)
		if perr != nil {
			return nil, perr
		}
		return &Reference{instance: f.instance, targetName: impl.name, pk: pk}, nil
	}
}

func (f *ReferenceField) Serialize(value any) (any, error) {
	ref, ok := value.(*Reference)
	if !ok {
		return nil, NewValidationError("Not a valid reference.")
	}
	impl, err := f.target()
	if err != nil {
		return nil, err
	}
	return Serialize(impl.pkField, ref.pk)
}

func (f *ReferenceField) DeserializeDB(value any) (any, error) {
	impl, err := f.target()
	if err != nil {
		return nil, err
	}
	pk, perr := DeserializeDB(impl.pkField, value)
	if perr != nil {
		return nil, perr
	}
	return &Reference{instance: f.instance, targetName: impl.name, pk: pk}, nil
}

func (f *ReferenceField) SerializeDB(value any) (any, error) {
	ref, ok := value.(*Reference)
	if !ok {
		return nil, NewValidationError("Not a valid reference.")
	}
	impl, err := f.target()
	if err != nil {
		return nil, err
	}
	return SerializeDB(impl.pkField, ref.pk)
}

// ioValidator returns the existence check installed by the builder.
func (f *ReferenceField) ioValidator() IOValidator {
	return func(ctx context.Context, value any) error {
		ref, ok := value.(*Reference)
		if !ok {
			return nil
		}
		return referenceExists(ctx, f.instance, ref)
	}
}

func referenceExists(ctx context.Context, instance *Instance, ref *Reference) error {
	impl, err := instance.Resolve(ref.targetName)
	if err != nil {
		return err
	}
	coll, err := impl.Collection()
	if err != nil {
		return err
	}
	pk, err := SerializeDB(impl.pkField, ref.pk)
	if err != nil {
		return err
	}
	raw, err := coll.FindOne(ctx, bson.M{"_id": pk}, bson.M{"_id": 1})
	if err != nil {
		return err
	}
	if raw == nil {
		return NewValidationError(fmt.Sprintf("Reference not found for document %s.", ref.targetName))
	}
	return nil
}

// GenericReferenceField stores a reference to a document of any registered
// class: {_cls, _id} in the database, {cls, id} in public form. Both keys
// are required in any form; other shapes are rejected.
type GenericReferenceField struct {
	BaseField
	instance *Instance
}

// NewGenericReference declares a generic reference field.
func NewGenericReference(opts ...FieldOption) *GenericReferenceField {
	f := &GenericReferenceField{}
	applyOptions(&f.BaseField, opts)
	return f
}

func (f *GenericReferenceField) bindInstance(instance *Instance) { f.instance = instance }

func (f *GenericReferenceField) Deserialize(value any) (any, error) {
	switch v := value.(type) {
	case *Reference:
		return v, nil
	case *Document:
		pk, err := v.PK()
		if err != nil || pk == nil {
			return nil, NewValidationError("Cannot reference a document that has not been committed.")
		}
		return &Reference{instance: f.instance, targetName: v.impl.name, pk: pk, cached: v}, nil
	case map[string]any:
		if len(v) != 2 {
			return nil, NewValidationError("Generic reference must have `id` and `cls` fields.")
		}
		id, idOK := v["id"]
		cls, clsOK := v["cls"].(string)
		if !idOK || !clsOK {
			return nil, NewValidationError("Generic reference must have `id` and `cls` fields.")
		}
		return f.buildReference(cls, id, false)
	}
	return nil, NewValidationError("Generic reference must have `id` and `cls` fields.")
}

func (f *GenericReferenceField) Serialize(value any) (any, error) {
	ref, ok := value.(*Reference)
	if !ok {
		return nil, NewValidationError("Not a valid generic reference.")
	}
	impl, err := f.instance.Resolve(ref.targetName)
	if err != nil {
		return nil, err
	}
	id, err := Serialize(impl.pkField, ref.pk)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "cls": ref.targetName}, nil
}

func (f *GenericReferenceField) DeserializeDB(value any) (any, error) {
	raw, ok := toBSONMap(value)
	if !ok || len(raw) != 2 {
		return nil, NewValidationError("Generic reference must have `_id` and `_cls` fields.")
	}
	id, idOK := raw["_id"]
	cls, clsOK := raw["_cls"].(string)
	if !idOK || !clsOK {
		return nil, NewValidationError("Generic reference must have `_id` and `_cls` fields.")
	}
	return f.buildReference(cls, id, true)
}

func (f *GenericReferenceField) SerializeDB(value any) (any, error) {
	ref, ok := value.(*Reference)
	if !ok {
		return nil, NewValidationError("Not a valid generic reference.")
	}
	impl, err := f.instance.Resolve(ref.targetName)
	if err != nil {
		return nil, err
	}
	id, err := SerializeDB(impl.pkField, ref.pk)
	if err != nil {
		return nil, err
	}
	return bson.M{"_id": id, "_cls": ref.targetName}, nil
}

func (f *GenericReferenceField) buildReference(cls string, id any, fromDB bool) (any, error) {
	if f.instance == nil {
		return nil, &NotRegisteredError{Name: cls}
	}
	impl, err := f.instance.Resolve(cls)
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("Unknown document class %s.", cls))
	}
	var pk any
	if fromDB {
		pk, err = DeserializeDB(impl.pkField, id)
	} else {
		pk, err = Deserialize(impl.pkField, id)
	}
	if err != nil {
		return nil, err
	}
	return &Reference{instance: f.instance, targetName: impl.name, pk: pk}, nil
}

// ioValidator returns the existence check installed by the builder.
func (f *GenericReferenceField) ioValidator() IOValidator {
	return func(ctx context.Context, value any) error {
		ref, ok := value.(*Reference)
		if !ok {
			return nil
		}
		return referenceExists(ctx, f.instance, ref)
	}
}
