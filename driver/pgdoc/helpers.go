// Package driver provides the PostgreSQL adapter of the calamus ODM. This
// file contains the encoding, projection, and index DDL helpers.
package driver

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/calamus-odm/calamus/core"
	"github.com/calamus-odm/calamus/internal/match"
)

// encodeRecord renders a record as canonical extended JSON, preserving the
// BSON type of every value across the JSONB round trip.
func encodeRecord(doc bson.M) ([]byte, error) {
	return bson.MarshalExtJSON(doc, true, false)
}

func decodeRecord(payload []byte) (bson.M, error) {
	var doc bson.M
	if err := bson.UnmarshalExtJSON(payload, true, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// pkString renders a primary key value as its canonical extended JSON
// form, giving a stable text key for any BSON pk type.
func pkString(pk any) (string, error) {
	payload, err := bson.MarshalExtJSON(bson.M{"pk": pk}, true, false)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func copyRecord(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// applyProjection keeps only the projected root keys of a record. Dotted
// projection paths keep the whole root subtree, which is a superset of the
// requested shape and loads identically.
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

func sortSkipLimit(docs []bson.M, opts core.FindOptions) []bson.M {
	if len(opts.Sort) > 0 {
		keys := make([]match.SortKey, 0, len(opts.Sort))
		for _, s := range opts.Sort {
			keys = append(keys, match.SortKey{Field: s.Field, Order: s.Order})
		}
		match.Sort(docs, keys)
	}
	if opts.Skip > 0 {
		if opts.Skip >= int64(len(docs)) {
			return nil
		}
		docs = docs[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < int64(len(docs)) {
		docs = docs[:opts.Limit]
	}
	return docs
}

// indexName qualifies a core index name with its table, since SQL index
// names share one namespace per schema.
func indexName(table string, model core.IndexModel) string {
	return table + "_" + model.EffectiveName()
}

// indexDDL builds the expression index statement for a core index model.
// Text and hashed kinds degrade to plain btree expression indexes; sparse
// indexes become partial ones over records that have every key.
func indexDDL(table string, model core.IndexModel) (string, error) {
	if len(model.Keys) == 0 {
		return "", fmt.Errorf("index on %s has no keys", table)
	}
	exprs := make([]string, 0, len(model.Keys))
	for _, key := range model.Keys {
		exprs = append(exprs, jsonExpr(key.Field))
	}
	unique := ""
	if model.Unique {
		unique = "UNIQUE "
	}
	ddl := fmt.Sprintf(`CREATE %sINDEX IF NOT EXISTS %q ON %q (%s)`,
		unique, indexName(table, model), table, strings.Join(exprs, ", "))
	if model.Sparse {
		predicates := make([]string, 0, len(model.Keys))
		for _, key := range model.Keys {
			predicates = append(predicates, jsonExists(key.Field))
		}
		ddl += " WHERE " + strings.Join(predicates, " AND ")
	}
	return ddl, nil
}

// jsonExpr renders a dotted path as a JSONB extraction expression:
// a.b -> (doc -> 'a' -> 'b').
func jsonExpr(path string) string {
	parts := strings.Split(path, ".")
	expr := "doc"
	for _, part := range parts {
		expr += fmt.Sprintf(" -> '%s'", strings.ReplaceAll(part, "'", "''"))
	}
	return "(" + expr + ")"
}

func jsonExists(path string) string {
	parts := strings.Split(path, ".")
	if len(parts) == 1 {
		return fmt.Sprintf("doc ? '%s'", strings.ReplaceAll(parts[0], "'", "''"))
	}
	prefix := "doc"
	for _, part := range parts[:len(parts)-1] {
		prefix += fmt.Sprintf(" -> '%s'", strings.ReplaceAll(part, "'", "''"))
	}
	last := strings.ReplaceAll(parts[len(parts)-1], "'", "''")
	return fmt.Sprintf("(%s) ? '%s'", prefix, last)
}

func encodeIndexSpec(model core.IndexModel) ([]byte, error) {
	spec := bson.M{
		"name":   model.EffectiveName(),
		"unique": model.Unique,
		"sparse": model.Sparse,
	}
	keys := bson.A{}
	for _, key := range model.Keys {
		keys = append(keys, bson.M{"field": key.Field, "kind": key.Kind.String()})
	}
	spec["keys"] = keys
	if model.ExpireAfterSeconds != nil {
		spec["expireAfterSeconds"] = *model.ExpireAfterSeconds
	}
	return bson.MarshalExtJSON(spec, true, false)
}

func decodeIndexSpec(payload []byte) (core.IndexModel, error) {
	var spec bson.M
	if err := bson.UnmarshalExtJSON(payload, true, &spec); err != nil {
		return core.IndexModel{}, err
	}
	model := core.IndexModel{}
	if name, ok := spec["name"].(string); ok {
		model.Name = name
	}
	if unique, ok := spec["unique"].(bool); ok {
		model.Unique = unique
	}
	if sparse, ok := spec["sparse"].(bool); ok {
		model.Sparse = sparse
	}
	if ttl, ok := spec["expireAfterSeconds"].(int32); ok {
		model.ExpireAfterSeconds = &ttl
	}
	if keys, ok := spec["keys"].(bson.A); ok {
		for _, item := range keys {
			entry, ok := item.(bson.M)
			if !ok {
				continue
			}
			key := core.IndexKey{}
			if field, ok := entry["field"].(string); ok {
				key.Field = field
			}
			if kind, ok := entry["kind"].(string); ok {
				key.Kind = indexKindFromToken(kind)
			}
			model.Keys = append(model.Keys, key)
		}
	}
	return model, nil
}

func indexKindFromToken(token string) core.IndexKind {
	switch token {
	case "-1":
		return core.IndexDescending
	case "text":
		return core.IndexText
	case "hashed":
		return core.IndexHashed
	default:
		return core.IndexAscending
	}
}
