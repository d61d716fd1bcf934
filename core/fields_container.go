// Package core provides the fundamental building blocks of the calamus ODM.
// This file defines the compound field kinds: lists and dicts. Both
// recursively deserialize their elements and aggregate element errors by
// index or key.
package core

import (
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ListField stores an ordered, duplicate-friendly sequence of elements.
type ListField struct {
	BaseField
	Element Field
}

// NewListField declares a list field over the given element kind.
func NewListField(element Field, opts ...FieldOption) *ListField {
	f := &ListField{Element: element}
	applyOptions(&f.BaseField, opts)
	return f
}

func (f *ListField) Deserialize(value any) (any, error) {
	items, err := asSlice(value)
	if err != nil {
		return nil, err
	}
	list := NewList(f.Element)
	var errs *ValidationError
	for i, item := range items {
		object, derr := Deserialize(f.Element, item)
		if derr != nil {
			errs = mergeFieldError(errs, indexKey(i), derr)
			continue
		}
		list.adopt(object)
		list.items = append(list.items, object)
	}
	if !errs.Empty() {
		return nil, errs
	}
	return list, nil
}

func (f *ListField) Serialize(value any) (any, error) {
	list, ok := value.(*List)
	if !ok {
		return nil, NewValidationError("Not a valid list.")
	}
	out := make([]any, 0, list.Len())
	for _, item := range list.items {
		public, err := Serialize(f.Element, item)
		if err != nil {
			return nil, err
		}
		out = append(out, public)
	}
	return out, nil
}

func (f *ListField) DeserializeDB(value any) (any, error) {
	items, err := asSlice(value)
	if err != nil {
		return nil, err
	}
	list := NewList(f.Element)
	for i, item := range items {
		object, derr := DeserializeDB(f.Element, item)
		if derr != nil {
			errs := &ValidationError{}
			return nil, mergeFieldError(errs, indexKey(i), derr)
		}
		list.adopt(object)
		list.items = append(list.items, object)
	}
	return list, nil
}

func (f *ListField) SerializeDB(value any) (any, error) {
	list, ok := value.(*List)
	if !ok {
		return nil, NewValidationError("Not a valid list.")
	}
	out := make(bson.A, 0, list.Len())
	for _, item := range list.items {
		dbValue, err := SerializeDB(f.Element, item)
		if err != nil {
			return nil, err
		}
		out = append(out, dbValue)
	}
	return out, nil
}

// DictField stores a string-keyed map. Keys are validated through an
// optional key field, independently of values.
type DictField struct {
	BaseField
	Key   Field
	Value Field
}

// NewDictField declares a dict field. key may be nil for unconstrained
// string keys.
func NewDictField(key, value Field, opts ...FieldOption) *DictField {
	f := &DictField{Key: key, Value: value}
	applyOptions(&f.BaseField, opts)
	return f
}

func (f *DictField) Deserialize(value any) (any, error) {
	entries, err := asStringMap(value)
	if err != nil {
		return nil, err
	}
	dict := NewDict(f.Key, f.Value)
	var errs *ValidationError
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		entryErr := &ValidationError{}
		if f.Key != nil {
			if _, kerr := Deserialize(f.Key, key); kerr != nil {
				entryErr = mergeFieldError(entryErr, "key", kerr)
			}
		}
		object, verr := Deserialize(f.Value, entries[key])
		if verr != nil {
			entryErr = mergeFieldError(entryErr, "value", verr)
		}
		if !entryErr.Empty() {
			errs = addFieldError(errs, key, entryErr)
			continue
		}
		if n, ok := object.(mutationNotifier); ok {
			n.setModifyCallback(dict.touch)
		}
		dict.items[key] = object
	}
	if !errs.Empty() {
		return nil, errs
	}
	return dict, nil
}

func (f *DictField) Serialize(value any) (any, error) {
	dict, ok := value.(*Dict)
	if !ok {
		return nil, NewValidationError("Not a valid mapping.")
	}
	out := make(map[string]any, dict.Len())
	for key, item := range dict.items {
		public, err := Serialize(f.Value, item)
		if err != nil {
			return nil, err
		}
		out[key] = public
	}
	return out, nil
}

func (f *DictField) DeserializeDB(value any) (any, error) {
	entries, err := asStringMap(value)
	if err != nil {
		return nil, err
	}
	dict := NewDict(f.Key, f.Value)
	for key, raw := range entries {
		object, derr := DeserializeDB(f.Value, raw)
		if derr != nil {
			errs := &ValidationError{}
			return nil, mergeFieldError(errs, key, derr)
		}
		if n, ok := object.(mutationNotifier); ok {
			n.setModifyCallback(dict.touch)
		}
		dict.items[key] = object
	}
	return dict, nil
}

func (f *DictField) SerializeDB(value any) (any, error) {
	dict, ok := value.(*Dict)
	if !ok {
		return nil, NewValidationError("Not a valid mapping.")
	}
	out := bson.M{}
	for key, item := range dict.items {
		dbValue, err := SerializeDB(f.Value, item)
		if err != nil {
			return nil, err
		}
		out[key] = dbValue
	}
	return out, nil
}

func asSlice(value any) ([]any, error) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case primitive.A:
		return []any(v), nil
	case *List:
		return v.items, nil
	}
	return nil, NewValidationError("Not a valid list.")
}

func asStringMap(value any) (map[string]any, error) {
	switch v := value.(type) {
	case map[string]any:
		return v, nil
	case bson.M:
		return map[string]any(v), nil
	case *Dict:
		return v.items, nil
	}
	return nil, NewValidationError("Not a valid mapping.")
}
