// Package core provides the fundamental building blocks of the calamus ODM.
// This file contains small helpers shared across the package: name
// derivation and BSON value copying.
package core

import (
	"strings"
	"unicode"

	"go.mongodb.org/mongo-driver/bson"
)

// camelToSnake derives a collection name from a class name.
//
// Example:
//
//	camelToSnake("ParentDoc") // "parent_doc"
//	camelToSnake("HTTPRoute") // "http_route"
func camelToSnake(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (!unicode.IsUpper(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// copyBSONMap deep-copies a document map. Maps and arrays are cloned;
// scalar BSON values are immutable and shared.
func copyBSONMap(src bson.M) bson.M {
	if src == nil {
		return nil
	}
	out := make(bson.M, len(src))
	for k, v := range src {
		out[k] = copyBSONValue(v)
	}
	return out
}

func copyBSONValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		return copyBSONMap(t)
	case map[string]any:
		return map[string]any(copyBSONMap(bson.M(t)))
	case bson.A:
		out := make(bson.A, len(t))
		for i, item := range t {
			out[i] = copyBSONValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyBSONValue(item)
		}
		return out
	default:
		return v
	}
}

// joinFieldNames renders a field list for error messages.
func joinFieldNames(names []string) string {
	return strings.Join(names, ", ")
}
