// Package core provides the fundamental building blocks of the calamus ODM.
// This file defines the driver-neutral index model, the index spec parser,
// and the index plan derivation shared by every document class.
package core

import (
	"fmt"
	"strings"
)

// IndexKind is the per-key index flavor.
type IndexKind int

const (
	IndexAscending IndexKind = iota
	IndexDescending
	IndexText
	IndexHashed
)

func (k IndexKind) String() string {
	switch k {
	case IndexDescending:
		return "-1"
	case IndexText:
		return "text"
	case IndexHashed:
		return "hashed"
	default:
		return "1"
	}
}

// IndexKey is a single (field, kind) pair of an index.
type IndexKey struct {
	Field string
	Kind  IndexKind
}

// IndexModel is the driver-neutral rendering of one index. Drivers convert
// it to their native representation.
type IndexModel struct {
	Keys               []IndexKey
	Unique             bool
	Sparse             bool
	Name               string
	ExpireAfterSeconds *int32
}

// EffectiveName returns the index name, deriving the conventional
// key-joined form when no explicit name was set.
func (m IndexModel) EffectiveName() string {
	if m.Name != "" {
		return m.Name
	}
	parts := make([]string, 0, len(m.Keys))
	for _, key := range m.Keys {
		parts = append(parts, key.Field+"_"+key.Kind.String())
	}
	return strings.Join(parts, "_")
}

// withCls returns a copy of the index with the class discriminator appended
// to its key list, unless already present.
func (m IndexModel) withCls() IndexModel {
	for _, key := range m.Keys {
		if key.Field == "_cls" {
			return m
		}
	}
	out := m
	out.Keys = append(append([]IndexKey(nil), m.Keys...), IndexKey{Field: "_cls"})
	out.Name = ""
	return out
}

// IndexSpec is the structured index declaration accepted in template meta.
type IndexSpec struct {
	Fields             []string
	Unique             bool
	Sparse             bool
	Name               string
	ExpireAfterSeconds *int32
}

// ParseIndex parses one index declaration. Accepted shapes: a plain string
// ("field", "+field", "-field", "$field" for text, "#field" for hashed), a
// list of those (compound index), a structured IndexSpec, or a pre-built
// IndexModel passed through unchanged.
func ParseIndex(spec any) (IndexModel, error) {
	switch v := spec.(type) {
	case string:
		key, err := parseIndexKey(v)
		if err != nil {
			return IndexModel{}, err
		}
		return IndexModel{Keys: []IndexKey{key}}, nil
	case []string:
		keys := make([]IndexKey, 0, len(v))
		for _, s := range v {
			key, err := parseIndexKey(s)
			if err != nil {
				return IndexModel{}, err
			}
			keys = append(keys, key)
		}
		return IndexModel{Keys: keys}, nil
	case []any:
		keys := make([]IndexKey, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return IndexModel{}, fmt.Errorf("index: compound entries must be strings, got %T", item)
			}
			key, err := parseIndexKey(s)
			if err != nil {
				return IndexModel{}, err
			}
			keys = append(keys, key)
		}
		return IndexModel{Keys: keys}, nil
	case IndexSpec:
		keys := make([]IndexKey, 0, len(v.Fields))
		for _, s := range v.Fields {
			key, err := parseIndexKey(s)
			if err != nil {
				return IndexModel{}, err
			}
			keys = append(keys, key)
		}
		return IndexModel{
			Keys:               keys,
			Unique:             v.Unique,
			Sparse:             v.Sparse,
			Name:               v.Name,
			ExpireAfterSeconds: v.ExpireAfterSeconds,
		}, nil
	case IndexModel:
		return v, nil
	}
	return IndexModel{}, fmt.Errorf("index: unsupported spec %T", spec)
}

func parseIndexKey(s string) (IndexKey, error) {
	if s == "" {
		return IndexKey{}, fmt.Errorf("index: empty field name")
	}
	switch s[0] {
	case '+':
		return IndexKey{Field: s[1:], Kind: IndexAscending}, nil
	case '-':
		return IndexKey{Field: s[1:], Kind: IndexDescending}, nil
	case '$':
		return IndexKey{Field: s[1:], Kind: IndexText}, nil
	case '#':
		return IndexKey{Field: s[1:], Kind: IndexHashed}, nil
	default:
		return IndexKey{Field: s, Kind: IndexAscending}, nil
	}
}

// deriveIndexes merges, in order: indexes inherited from the parent class,
// indexes declared on this class, and indexes derived from unique fields.
// For child classes every key list gains the discriminator, plus a
// discriminator-only index. The result is deterministic and deduplicated by
// effective name, so repeated EnsureIndexes calls are idempotent.
func deriveIndexes(inherited []IndexModel, declared []any, schema *Schema, isChild bool) ([]IndexModel, error) {
	var plan []IndexModel
	plan = append(plan, inherited...)

	for _, spec := range declared {
		model, err := ParseIndex(spec)
		if err != nil {
			return nil, err
		}
		plan = append(plan, model)
	}

	schema.MapFields(func(storagePath, publicPath []string, f Field) {
		b := f.base()
		if !b.Unique {
			return
		}
		plan = append(plan, IndexModel{
			Keys:   []IndexKey{{Field: strings.Join(storagePath, ".")}},
			Unique: true,
			Sparse: !b.Required,
		})
	})

	if isChild {
		for i := range plan {
			plan[i] = plan[i].withCls()
		}
		plan = append(plan, IndexModel{Keys: []IndexKey{{Field: "_cls"}}})
	}

	seen := make(map[string]struct{}, len(plan))
	out := plan[:0]
	for _, model := range plan {
		name := model.EffectiveName()
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, model)
	}
	return out, nil
}
