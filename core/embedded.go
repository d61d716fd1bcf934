// Package core provides the fundamental building blocks of the calamus ODM.
// This file defines embedded documents: DataProxy-backed structured values
// living inside a document, without identity or collection. Embedded
// documents may declare inheritance; inheriting ones store a class
// discriminator so reads rebuild the concrete kind.
package core

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// EmbeddedImplementation is a compiled, instance-bound embedded document
// class.
type EmbeddedImplementation struct {
	name      string
	schema    *Schema
	instance  *Instance
	template  *Template
	opts      *Options
	fieldDefs Fields
}

// Name returns the embedded class name.
func (impl *EmbeddedImplementation) Name() string { return impl.name }

// Schema returns the compiled schema.
func (impl *EmbeddedImplementation) Schema() *Schema { return impl.schema }

// Options returns the registration options.
func (impl *EmbeddedImplementation) Options() *Options { return impl.opts }

// NewEmbeddedDoc builds an empty embedded document of this class.
func (impl *EmbeddedImplementation) NewEmbeddedDoc() *EmbeddedDoc {
	return &EmbeddedDoc{impl: impl, data: newDataProxy(impl.schema)}
}

// Load builds an embedded document from a public map.
func (impl *EmbeddedImplementation) Load(data map[string]any) (*EmbeddedDoc, error) {
	doc := impl.NewEmbeddedDoc()
	if err := doc.data.Load(data); err != nil {
		return nil, err
	}
	return doc, nil
}

// concrete resolves the implementation to dispatch on, from the stored
// discriminator. An unknown or unrelated discriminator fails.
func (impl *EmbeddedImplementation) concrete(raw bson.M) (*EmbeddedImplementation, error) {
	tag, ok := raw["_cls"].(string)
	if !ok {
		return impl, nil
	}
	if tag == impl.name {
		return impl, nil
	}
	child, err := impl.instance.ResolveEmbedded(tag)
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("Unknown document class %s.", tag))
	}
	if !impl.instance.descendsFrom(child.opts, impl.name) {
		return nil, NewValidationError(fmt.Sprintf("Embedded document %s is not a subclass of %s.", tag, impl.name))
	}
	return child, nil
}

// EmbeddedDoc is the runtime embedded document: a DataProxy plus a
// modification signal to the enclosing container.
type EmbeddedDoc struct {
	impl *EmbeddedImplementation
	data *DataProxy
}

// Implementation returns the document's embedded class.
func (e *EmbeddedDoc) Implementation() *EmbeddedImplementation { return e.impl }

// Set assigns a field by public name.
func (e *EmbeddedDoc) Set(name string, value any) error {
	return e.data.Set(name, value)
}

// Get reads a field by public name; Missing is normalized to nil.
func (e *EmbeddedDoc) Get(name string) (any, error) {
	value, err := e.data.Get(name)
	if err != nil {
		return nil, err
	}
	if IsMissing(value) {
		return nil, nil
	}
	return value, nil
}

// Delete clears a field by public name.
func (e *EmbeddedDoc) Delete(name string) error {
	return e.data.Delete(name)
}

// Dump serializes the embedded document to its public form.
func (e *EmbeddedDoc) Dump() (map[string]any, error) {
	return e.data.schema.Dump(e.data.values)
}

func (e *EmbeddedDoc) setModifyCallback(cb func()) { e.data.onModify = cb }
func (e *EmbeddedDoc) isModified() bool            { return e.data.anyModified() }
func (e *EmbeddedDoc) clearModifiedDeep()          { e.data.ClearModified() }

// EmbeddedField composes another document class by name. The target is
// resolved through the owning instance on first use, so forward references
// (and cycles) work.
type EmbeddedField struct {
	BaseField
	TargetName string
	instance   *Instance
}

// NewEmbedded declares an embedded field targeting the named embedded
// document class.
func NewEmbedded(targetName string, opts ...FieldOption) *EmbeddedField {
	f := &EmbeddedField{TargetName: targetName}
	applyOptions(&f.BaseField, opts)
	return f
}

func (f *EmbeddedField) bindInstance(instance *Instance) { f.instance = instance }

func (f *EmbeddedField) target() (*EmbeddedImplementation, error) {
	if f.instance == nil {
		return nil, &NotRegisteredError{Name: f.TargetName}
	}
	return f.instance.ResolveEmbedded(f.TargetName)
}

func (f *EmbeddedField) Deserialize(value any) (any, error) {
	impl, err := f.target()
	if err != nil {
		return nil, err
	}
	switch v := value.(type) {
	case *EmbeddedDoc:
		if !f.instance.embeddedIs(v.impl, impl.name) {
			return nil, NewValidationError(fmt.Sprintf("Expected %s embedded document.", impl.name))
		}
		return v, nil
	case map[string]any:
		data := v
		if tag, ok := data["cls"].(string); ok {
			child, cerr := f.instance.ResolveEmbedded(tag)
			if cerr != nil || !f.instance.embeddedIs(child, impl.name) {
				return nil, NewValidationError(fmt.Sprintf("Unknown document class %s.", tag))
			}
			trimmed := make(map[string]any, len(data)-1)
			for key, item := range data {
				if key != "cls" {
					trimmed[key] = item
				}
			}
			return child.Load(trimmed)
		}
		return impl.Load(data)
	}
	return nil, NewValidationError("Not a valid embedded document.")
}

func (f *EmbeddedField) Serialize(value any) (any, error) {
	doc, ok := value.(*EmbeddedDoc)
	if !ok {
		return nil, NewValidationError("Not a valid embedded document.")
	}
	return doc.Dump()
}

func (f *EmbeddedField) DeserializeDB(value any) (any, error) {
	impl, err := f.target()
	if err != nil {
		return nil, err
	}
	raw, ok := toBSONMap(value)
	if !ok {
		return nil, NewValidationError("Not a valid embedded document.")
	}
	concrete, err := impl.concrete(raw)
	if err != nil {
		return nil, err
	}
	doc := concrete.NewEmbeddedDoc()
	if err := doc.data.FromDB(raw, false); err != nil {
		return nil, err
	}
	return doc, nil
}

func (f *EmbeddedField) SerializeDB(value any) (any, error) {
	doc, ok := value.(*EmbeddedDoc)
	if !ok {
		return nil, NewValidationError("Not a valid embedded document.")
	}
	return doc.data.ToDB()
}

func toBSONMap(value any) (bson.M, bool) {
	switch v := value.(type) {
	case bson.M:
		return v, true
	case map[string]any:
		return bson.M(v), true
	}
	return nil, false
}
