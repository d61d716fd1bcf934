// Package core provides the fundamental building blocks of the calamus ODM.
// This file defines the scalar field kinds: strings, numbers, booleans,
// decimals, identifiers, and constants.
package core

import (
	"fmt"
	"math"
	"net/mail"
	"net/url"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// StringField stores a UTF-8 string, identical in all three worlds.
type StringField struct {
	BaseField
}

// NewString declares a string field.
func NewString(opts ...FieldOption) *StringField {
	f := &StringField{}
	applyOptions(&f.BaseField, opts)
	return f
}

func (f *StringField) Deserialize(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, NewValidationError("Not a valid string.")
	}
	return s, nil
}

func (f *StringField) Serialize(value any) (any, error)      { return value, nil }
func (f *StringField) DeserializeDB(value any) (any, error)  { return f.Deserialize(value) }
func (f *StringField) SerializeDB(value any) (any, error)    { return value, nil }

// IntField stores a 64-bit integer (int32 or int64 on the wire).
type IntField struct {
	BaseField
}

// NewInt declares an integer field.
func NewInt(opts ...FieldOption) *IntField {
	f := &IntField{}
	applyOptions(&f.BaseField, opts)
	return f
}

func (f *IntField) Deserialize(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if math.IsInf(v, 0) || math.IsNaN(v) || v != math.Trunc(v) {
			return nil, NewValidationError("Not a valid integer.")
		}
		return int64(v), nil
	}
	return nil, NewValidationError("Not a valid integer.")
}

func (f *IntField) Serialize(value any) (any, error)     { return value, nil }
func (f *IntField) DeserializeDB(value any) (any, error) { return f.Deserialize(value) }
func (f *IntField) SerializeDB(value any) (any, error)   { return value, nil }

// FloatField stores a double.
type FloatField struct {
	BaseField
}

// NewFloat declares a float field.
func NewFloat(opts ...FieldOption) *FloatField {
	f := &FloatField{}
	applyOptions(&f.BaseField, opts)
	return f
}

func (f *FloatField) Deserialize(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return nil, NewValidationError("Not a valid number.")
}

func (f *FloatField) Serialize(value any) (any, error)     { return value, nil }
func (f *FloatField) DeserializeDB(value any) (any, error) { return f.Deserialize(value) }
func (f *FloatField) SerializeDB(value any) (any, error)   { return value, nil }

// BoolField stores a boolean.
type BoolField struct {
	BaseField
}

// NewBool declares a boolean field.
func NewBool(opts ...FieldOption) *BoolField {
	f := &BoolField{}
	applyOptions(&f.BaseField, opts)
	return f
}

func (f *BoolField) Deserialize(value any) (any, error) {
	b, ok := value.(bool)
	if !ok {
		return nil, NewValidationError("Not a valid boolean.")
	}
	return b, nil
}

func (f *BoolField) Serialize(value any) (any, error)     { return value, nil }
func (f *BoolField) DeserializeDB(value any) (any, error) { return f.Deserialize(value) }
func (f *BoolField) SerializeDB(value any) (any, error)   { return value, nil }

// DecimalField stores an arbitrary-precision decimal: Decimal128 in the
// database, a numeric string in the public world.
type DecimalField struct {
	BaseField
}

// NewDecimal declares a decimal field.
func NewDecimal(opts ...FieldOption) *DecimalField {
	f := &DecimalField{}
	applyOptions(&f.BaseField, opts)
	return f
}

func (f *DecimalField) Deserialize(value any) (any, error) {
	switch v := value.(type) {
	case string:
		d, err := primitive.ParseDecimal128(v)
		if err != nil {
			return nil, NewValidationError("Not a valid decimal.")
		}
		return d, nil
	case primitive.Decimal128:
		return v, nil
	case float64:
		d, err := primitive.ParseDecimal128(fmt.Sprintf("%v", v))
		if err != nil {
			return nil, NewValidationError("Not a valid decimal.")
		}
		return d, nil
	case int:
		d, _ := primitive.ParseDecimal128(fmt.Sprintf("%d", v))
		return d, nil
	case int64:
		d, _ := primitive.ParseDecimal128(fmt.Sprintf("%d", v))
		return d, nil
	}
	return nil, NewValidationError("Not a valid decimal.")
}

func (f *DecimalField) Serialize(value any) (any, error) {
	d, ok := value.(primitive.Decimal128)
	if !ok {
		return nil, NewValidationError("Not a valid decimal.")
	}
	return d.String(), nil
}

func (f *DecimalField) DeserializeDB(value any) (any, error) {
	switch v := value.(type) {
	case primitive.Decimal128:
		return v, nil
	case string:
		return f.Deserialize(v)
	}
	return nil, NewValidationError("Not a valid decimal.")
}

func (f *DecimalField) SerializeDB(value any) (any, error) { return value, nil }

// URLField stores a string constrained to an absolute URL.
type URLField struct {
	BaseField
}

// NewURL declares a URL field.
func NewURL(opts ...FieldOption) *URLField {
	f := &URLField{}
	applyOptions(&f.BaseField, opts)
	return f
}

func (f *URLField) Deserialize(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, NewValidationError("Not a valid URL.")
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, NewValidationError("Not a valid URL.")
	}
	return s, nil
}

func (f *URLField) Serialize(value any) (any, error)     { return value, nil }
func (f *URLField) DeserializeDB(value any) (any, error) { return f.Deserialize(value) }
func (f *URLField) SerializeDB(value any) (any, error)   { return value, nil }

// EmailField stores a string constrained to an email address.
type EmailField struct {
	BaseField
}

// NewEmail declares an email field.
func NewEmail(opts ...FieldOption) *EmailField {
	f := &EmailField{}
	applyOptions(&f.BaseField, opts)
	return f
}

func (f *EmailField) Deserialize(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, NewValidationError("Not a valid email address.")
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return nil, NewValidationError("Not a valid email address.")
	}
	return s, nil
}

func (f *EmailField) Serialize(value any) (any, error)     { return value, nil }
func (f *EmailField) DeserializeDB(value any) (any, error) { return f.Deserialize(value) }
func (f *EmailField) SerializeDB(value any) (any, error)   { return value, nil }

// UUIDField stores a UUID: binary subtype 4 in the database, the canonical
// hyphenated form in the public world.
type UUIDField struct {
	BaseField
}

// NewUUID declares a UUID field.
func NewUUID(opts ...FieldOption) *UUIDField {
	f := &UUIDField{}
	applyOptions(&f.BaseField, opts)
	return f
}

func (f *UUIDField) Deserialize(value any) (any, error) {
	switch v := value.(type) {
	case string:
		u, err := uuid.Parse(v)
		if err != nil {
			return nil, NewValidationError("Not a valid UUID.")
		}
		return u, nil
	case uuid.UUID:
		return v, nil
	}
	return nil, NewValidationError("Not a valid UUID.")
}

func (f *UUIDField) Serialize(value any) (any, error) {
	u, ok := value.(uuid.UUID)
	if !ok {
		return nil, NewValidationError("Not a valid UUID.")
	}
	return u.String(), nil
}

func (f *UUIDField) DeserializeDB(value any) (any, error) {
	switch v := value.(type) {
	case primitive.Binary:
		if (v.Subtype == 0x04 || v.Subtype == 0x03) && len(v.Data) == 16 {
			u, err := uuid.FromBytes(v.Data)
			if err != nil {
				return nil, NewValidationError("Not a valid UUID.")
			}
			return u, nil
		}
		return nil, NewValidationError("Not a valid UUID.")
	case string:
		return f.Deserialize(v)
	case uuid.UUID:
		return v, nil
	}
	return nil, NewValidationError("Not a valid UUID.")
}

func (f *UUIDField) SerializeDB(value any) (any, error) {
	u, ok := value.(uuid.UUID)
	if !ok {
		return nil, NewValidationError("Not a valid UUID.")
	}
	return primitive.Binary{Subtype: 0x04, Data: u[:]}, nil
}

// ObjectIDField stores a 12-byte ObjectId: primitive.ObjectID in object and
// database worlds, a 24-char hex string in public.
type ObjectIDField struct {
	BaseField
}

// NewObjectID declares an ObjectId field.
func NewObjectID(opts ...FieldOption) *ObjectIDField {
	f := &ObjectIDField{}
	applyOptions(&f.BaseField, opts)
	return f
}

func (f *ObjectIDField) Deserialize(value any) (any, error) {
	switch v := value.(type) {
	case string:
		oid, err := primitive.ObjectIDFromHex(v)
		if err != nil {
			return nil, NewValidationError("Invalid ObjectId.")
		}
		return oid, nil
	case primitive.ObjectID:
		return v, nil
	}
	return nil, NewValidationError("Invalid ObjectId.")
}

func (f *ObjectIDField) Serialize(value any) (any, error) {
	oid, ok := value.(primitive.ObjectID)
	if !ok {
		return nil, NewValidationError("Invalid ObjectId.")
	}
	return oid.Hex(), nil
}

func (f *ObjectIDField) DeserializeDB(value any) (any, error) { return f.Deserialize(value) }
func (f *ObjectIDField) SerializeDB(value any) (any, error)   { return value, nil }

// ConstantField always holds a single immutable value; input must match it.
// The builder uses it for the class discriminator.
type ConstantField struct {
	BaseField
	Value any
}

// NewConstant declares a constant field carrying the given value.
func NewConstant(value any, opts ...FieldOption) *ConstantField {
	f := &ConstantField{Value: value}
	f.Default = value
	applyOptions(&f.BaseField, opts)
	return f
}

func (f *ConstantField) Deserialize(value any) (any, error) {
	if value != f.Value {
		return nil, NewValidationError(fmt.Sprintf("Must be equal to %v.", f.Value))
	}
	return f.Value, nil
}

func (f *ConstantField) Serialize(value any) (any, error)     { return f.Value, nil }
func (f *ConstantField) DeserializeDB(value any) (any, error) { return f.Deserialize(value) }
func (f *ConstantField) SerializeDB(value any) (any, error)   { return f.Value, nil }
