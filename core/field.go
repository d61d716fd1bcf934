// Package core provides the fundamental building blocks of the calamus ODM.
// This file defines the Field contract shared by every field kind, the
// BaseField carrying common metadata, and the functional options used to
// configure fields at declaration time.
package core

import "context"

// missingType is the type of the Missing sentinel.
type missingType struct{}

func (missingType) String() string { return "<missing>" }

// Missing is the sentinel distinct from nil meaning "this field has no value
// assigned". Public and database serialization both suppress missing values;
// nil is written as an explicit null.
var Missing = missingType{}

// IsMissing reports whether v is the Missing sentinel.
func IsMissing(v any) bool {
	_, ok := v.(missingType)
	return ok
}

// Validator is a pure validator executed during deserialization, after the
// value has been converted to its object form.
type Validator func(value any) error

// IOValidator is a validator that may perform I/O (such as checking that a
// referenced document exists). IO validators run during IOValidate, not
// during deserialization, and may run concurrently under a concurrent
// instance.
type IOValidator func(ctx context.Context, value any) error

// Field is the contract every field kind implements. The four conversion
// methods translate a value between the three worlds: public (JSON-like),
// object (in-memory), and database (BSON-typed).
//
// Conversion methods only handle non-nil, non-missing values; nil and
// missing handling, defaults, and validator execution are applied uniformly
// by the package-level Deserialize/Serialize helpers.
type Field interface {
	// Deserialize converts a public value to its object form.
	Deserialize(value any) (any, error)
	// Serialize converts an object value to its public form.
	Serialize(value any) (any, error)
	// DeserializeDB converts a database value to its object form.
	DeserializeDB(value any) (any, error)
	// SerializeDB converts an object value to its database form.
	SerializeDB(value any) (any, error)

	base() *BaseField
}

// BaseField carries the metadata common to every field kind. Concrete kinds
// embed it and configure it through FieldOption values.
type BaseField struct {
	// Name is the public name of the field, assigned when the schema is
	// compiled.
	Name string
	// Attribute is the storage name used in database records. It defaults
	// to Name.
	Attribute string
	// Required marks the field as mandatory during RequiredValidate.
	Required bool
	// AllowNone lets an explicit null pass deserialization.
	AllowNone bool
	// Unique derives a unique index over this field's storage name.
	Unique bool
	// DumpOnly fields are emitted during serialization but rejected as
	// input (the auto-generated id is dump-only).
	DumpOnly bool
	// LoadOnly fields are accepted as input but hidden from public output.
	LoadOnly bool
	// Default holds the default value, or a func() any producer evaluated
	// per document.
	Default any
	// Validators are the pure validators run after deserialization.
	Validators []Validator
	// IOValidators run during IOValidate; the builder installs
	// driver-facing validators (reference existence) here.
	IOValidators []IOValidator
	// Description is free-form field documentation, preserved by schema
	// projections.
	Description string
}

func (b *BaseField) base() *BaseField { return b }

// StorageName returns the field's storage name (Attribute, or Name when no
// rename was configured).
func (b *BaseField) StorageName() string {
	if b.Attribute != "" {
		return b.Attribute
	}
	return b.Name
}

// resolveDefault produces the field's default value, evaluating producer
// functions, or Missing when no default is configured.
func (b *BaseField) resolveDefault() any {
	switch d := b.Default.(type) {
	case nil:
		return Missing
	case func() any:
		return d()
	default:
		return d
	}
}

// FieldOption configures a BaseField at declaration time.
type FieldOption func(*BaseField)

// Required marks the field as mandatory.
func Required() FieldOption {
	return func(b *BaseField) { b.Required = true }
}

// AllowNone lets explicit nulls pass deserialization.
func AllowNone() FieldOption {
	return func(b *BaseField) { b.AllowNone = true }
}

// Unique derives a unique index over the field.
func Unique() FieldOption {
	return func(b *BaseField) { b.Unique = true }
}

// DumpOnly marks the field as output-only.
func DumpOnly() FieldOption {
	return func(b *BaseField) { b.DumpOnly = true }
}

// LoadOnly marks the field as input-only.
func LoadOnly() FieldOption {
	return func(b *BaseField) { b.LoadOnly = true }
}

// Attribute sets the storage name used in database records.
func Attribute(name string) FieldOption {
	return func(b *BaseField) { b.Attribute = name }
}

// DefaultValue sets the field default. Pass a func() any to produce a fresh
// value per document (mutable defaults).
func DefaultValue(value any) FieldOption {
	return func(b *BaseField) { b.Default = value }
}

// Validate appends pure validators to the field.
func Validate(validators ...Validator) FieldOption {
	return func(b *BaseField) { b.Validators = append(b.Validators, validators...) }
}

// ValidateIO appends I/O validators to the field.
func ValidateIO(validators ...IOValidator) FieldOption {
	return func(b *BaseField) { b.IOValidators = append(b.IOValidators, validators...) }
}

// Description attaches free-form documentation to the field.
func Description(text string) FieldOption {
	return func(b *BaseField) { b.Description = text }
}

func applyOptions(b *BaseField, opts []FieldOption) {
	for _, opt := range opts {
		opt(b)
	}
}

// Deserialize converts a public value to object form through the field,
// handling null per AllowNone and running the field's pure validators.
func Deserialize(f Field, value any) (any, error) {
	b := f.base()
	if IsMissing(value) {
		return b.resolveDefault(), nil
	}
	if value == nil {
		if b.AllowNone {
			return nil, nil
		}
		return nil, NewValidationError("Field may not be null.")
	}
	object, err := f.Deserialize(value)
	if err != nil {
		return nil, err
	}
	if err := runValidators(b.Validators, object); err != nil {
		return nil, err
	}
	return object, nil
}

// Serialize converts an object value to public form. Missing stays missing
// (callers suppress it); nil passes through as null.
func Serialize(f Field, value any) (any, error) {
	if IsMissing(value) {
		return Missing, nil
	}
	if value == nil {
		return nil, nil
	}
	return f.Serialize(value)
}

// DeserializeDB converts a database value to object form. Validators do not
// run: stored data is trusted.
func DeserializeDB(f Field, value any) (any, error) {
	if IsMissing(value) {
		return Missing, nil
	}
	if value == nil {
		return nil, nil
	}
	return f.DeserializeDB(value)
}

// SerializeDB converts an object value to database form. Missing is
// suppressed by callers; nil is written as an explicit null.
func SerializeDB(f Field, value any) (any, error) {
	if IsMissing(value) {
		return Missing, nil
	}
	if value == nil {
		return nil, nil
	}
	return f.SerializeDB(value)
}

func runValidators(validators []Validator, value any) error {
	var agg *ValidationError
	for _, validator := range validators {
		if err := validator(value); err != nil {
			var verr *ValidationError
			if asValidationError(err, &verr) {
				if agg == nil {
					agg = &ValidationError{}
				}
				agg.Merge(verr)
				continue
			}
			return err
		}
	}
	if agg.Empty() {
		return nil
	}
	return agg
}

func asValidationError(err error, target **ValidationError) bool {
	if verr, ok := err.(*ValidationError); ok {
		*target = verr
		return true
	}
	return false
}
