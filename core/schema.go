// Package core provides the fundamental building blocks of the calamus ODM.
// This file defines the Schema: an ordered mapping of public field names to
// field kinds, applying load/dump/validate over whole records and exposing
// two-way name lookups between the public and storage worlds.
package core

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// FieldDef pairs a public field name with its field kind. Declarations are
// ordered, so templates use a slice rather than a map.
type FieldDef struct {
	Name  string
	Field Field
}

// Fields is an ordered list of field declarations.
type Fields []FieldDef

// Schema is the compiled, ordered field map of a document class.
type Schema struct {
	order       []string
	fields      map[string]Field
	byAttribute map[string]string // storage name -> public name
	strict      bool
}

// NewSchema compiles an ordered field list. Strict schemas reject unknown
// keys on load; non-strict schemas pass them through.
func NewSchema(defs Fields, strict bool) (*Schema, error) {
	s := &Schema{
		fields:      make(map[string]Field, len(defs)),
		byAttribute: make(map[string]string, len(defs)),
		strict:      strict,
	}
	for _, def := range defs {
		if _, dup := s.fields[def.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate field %q", def.Name)
		}
		def.Field.base().Name = def.Name
		storage := def.Field.base().StorageName()
		if existing, dup := s.byAttribute[storage]; dup {
			return nil, fmt.Errorf("schema: fields %q and %q share storage name %q", existing, def.Name, storage)
		}
		s.order = append(s.order, def.Name)
		s.fields[def.Name] = def.Field
		s.byAttribute[storage] = def.Name
	}
	return s, nil
}

// Strict reports whether unknown keys fail loading.
func (s *Schema) Strict() bool { return s.strict }

// FieldNames returns the public field names in declaration order.
func (s *Schema) FieldNames() []string {
	return append([]string(nil), s.order...)
}

// Field returns the field kind declared under the public name.
func (s *Schema) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// StorageName maps a public name to its storage name.
func (s *Schema) StorageName(public string) (string, bool) {
	f, ok := s.fields[public]
	if !ok {
		return "", false
	}
	return f.base().StorageName(), true
}

// PublicName maps a storage name back to its public name.
func (s *Schema) PublicName(storage string) (string, bool) {
	name, ok := s.byAttribute[storage]
	return name, ok
}

// Load deserializes a public record into an object map keyed by storage
// name. Fields absent from the input receive their default, or Missing.
// Unknown keys fail on strict schemas ({_schema: [...]}) and are returned in
// the passthrough map otherwise. Dump-only fields reject input.
func (s *Schema) Load(data map[string]any) (map[string]any, map[string]any, error) {
	values := make(map[string]any, len(s.order))
	var errs *ValidationError

	for _, name := range s.order {
		f := s.fields[name]
		b := f.base()
		raw, present := data[name]
		if !present {
			values[b.StorageName()] = b.resolveDefault()
			continue
		}
		if b.DumpOnly {
			errs = addFieldError(errs, name, NewValidationError("Field is dump only."))
			continue
		}
		object, err := Deserialize(f, raw)
		if err != nil {
			errs = mergeFieldError(errs, name, err)
			continue
		}
		values[b.StorageName()] = object
	}

	var passthrough map[string]any
	for key := range data {
		if _, known := s.fields[key]; known {
			continue
		}
		if s.strict {
			errs = addFieldError(errs, schemaErrorKey,
				NewValidationError(fmt.Sprintf("Unknown field name %s.", key)))
			continue
		}
		if passthrough == nil {
			passthrough = make(map[string]any)
		}
		passthrough[key] = data[key]
	}

	if !errs.Empty() {
		return nil, nil, errs
	}
	return values, passthrough, nil
}

// Dump serializes an object map (keyed by storage name) to its public form.
// Missing values and load-only fields are suppressed.
func (s *Schema) Dump(values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for _, name := range s.order {
		f := s.fields[name]
		b := f.base()
		if b.LoadOnly {
			continue
		}
		value, present := values[b.StorageName()]
		if !present || IsMissing(value) {
			continue
		}
		public, err := Serialize(f, value)
		if err != nil {
			return nil, err
		}
		out[name] = public
	}
	return out, nil
}

// LoadDB deserializes a raw database record into an object map keyed by
// storage name. Unknown keys fail on strict schemas and pass through
// otherwise.
func (s *Schema) LoadDB(raw bson.M) (map[string]any, bson.M, error) {
	values := make(map[string]any, len(s.order))
	var errs *ValidationError

	for _, name := range s.order {
		f := s.fields[name]
		storage := f.base().StorageName()
		dbValue, present := raw[storage]
		if !present {
			values[storage] = Missing
			continue
		}
		object, err := DeserializeDB(f, dbValue)
		if err != nil {
			errs = mergeFieldError(errs, name, err)
			continue
		}
		values[storage] = object
	}

	var passthrough bson.M
	for key := range raw {
		if _, known := s.byAttribute[key]; known {
			continue
		}
		if s.strict {
			return nil, nil, &UnknownFieldInDBError{Key: key}
		}
		if passthrough == nil {
			passthrough = bson.M{}
		}
		passthrough[key] = raw[key]
	}

	if !errs.Empty() {
		return nil, nil, errs
	}
	return values, passthrough, nil
}

// DumpDB serializes an object map to a database record. Missing values are
// suppressed (never written as null).
func (s *Schema) DumpDB(values map[string]any) (bson.M, error) {
	out := bson.M{}
	for _, name := range s.order {
		f := s.fields[name]
		storage := f.base().StorageName()
		value, present := values[storage]
		if !present || IsMissing(value) {
			continue
		}
		dbValue, err := SerializeDB(f, value)
		if err != nil {
			return nil, err
		}
		out[storage] = dbValue
	}
	return out, nil
}

// FieldMapper visits a field during a MapFields walk with its full storage
// and public paths.
type FieldMapper func(storagePath, publicPath []string, f Field)

// MapFields walks the field tree depth-first, descending into embedded
// schemas and container element fields. Index derivation and query mapping
// are built on this walker.
func (s *Schema) MapFields(fn FieldMapper) {
	s.mapFields(nil, nil, fn)
}

func (s *Schema) mapFields(storagePath, publicPath []string, fn FieldMapper) {
	for _, name := range s.order {
		f := s.fields[name]
		sp := append(append([]string(nil), storagePath...), f.base().StorageName())
		pp := append(append([]string(nil), publicPath...), name)
		fn(sp, pp, f)
		if nested := nestedSchema(f); nested != nil {
			nested.mapFields(sp, pp, fn)
		}
	}
}

// nestedSchema returns the schema reachable through a field, unwrapping
// container elements down to an embedded field, or nil.
func nestedSchema(f Field) *Schema {
	switch field := f.(type) {
	case *EmbeddedField:
		if impl, err := field.target(); err == nil {
			return impl.schema
		}
	case *ListField:
		return nestedSchema(field.Element)
	case *DictField:
		return nestedSchema(field.Value)
	}
	return nil
}

// Projection returns a public-only copy of the schema for outer validation
// layers: no storage renaming, every field optional, metadata preserved.
func (s *Schema) Projection() *Schema {
	p := &Schema{
		order:       append([]string(nil), s.order...),
		fields:      make(map[string]Field, len(s.fields)),
		byAttribute: make(map[string]string, len(s.fields)),
		strict:      s.strict,
	}
	for name, f := range s.fields {
		pb := *f.base()
		pb.Attribute = ""
		pb.Required = false
		p.fields[name] = &projectedField{Field: f, pb: &pb}
		p.byAttribute[name] = name
	}
	return p
}

// projectedField wraps a field with relaxed metadata while delegating
// conversions to the original kind.
type projectedField struct {
	Field
	pb *BaseField
}

func (p *projectedField) base() *BaseField { return p.pb }

func addFieldError(errs *ValidationError, name string, child *ValidationError) *ValidationError {
	if errs == nil {
		errs = &ValidationError{}
	}
	errs.SetChild(name, child)
	return errs
}

func mergeFieldError(errs *ValidationError, name string, err error) *ValidationError {
	var verr *ValidationError
	if asValidationError(err, &verr) {
		return addFieldError(errs, name, verr)
	}
	return addFieldError(errs, name, NewValidationError(err.Error()))
}
