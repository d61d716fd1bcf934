// Package core provides the fundamental building blocks of the calamus ODM.
// This file translates public-name filters into storage-name database
// filters, and defines the query options and document cursor of the find
// operations.
package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// rewriteFilter translates a filter keyed by public field names (with
// dotted paths into embedded documents, lists, and dicts) into a filter
// keyed by storage names, serializing operand values to database form.
// Operator keys ($and, $gt, ...) pass through with their operands cooked
// per the field they apply to.
func rewriteFilter(schema *Schema, filter bson.M) (bson.M, error) {
	if filter == nil {
		return bson.M{}, nil
	}
	out := make(bson.M, len(filter))
	for key, value := range filter {
		switch key {
		case "$and", "$or", "$nor":
			clauses, err := rewriteClauseList(schema, value)
			if err != nil {
				return nil, err
			}
			out[key] = clauses
		default:
			if strings.HasPrefix(key, "$") {
				// $text, $expr, $comment and friends are driver concerns;
				// only the logical operators above are recursed into.
				out[key] = value
				continue
			}
			storage, field, err := resolveFilterPath(schema, key)
			if err != nil {
				return nil, err
			}
			cooked, err := cookOperand(field, value)
			if err != nil {
				return nil, err
			}
			out[storage] = cooked
		}
	}
	return out, nil
}

func rewriteClauseList(schema *Schema, value any) (bson.A, error) {
	items, ok := sliceOperand(value)
	if !ok {
		return nil, fmt.Errorf("%w: logical operator expects a list of filters", ErrInvalidUsage)
	}
	clauses := make(bson.A, 0, len(items))
	for _, item := range items {
		sub, ok := asFilterMap(item)
		if !ok {
			return nil, fmt.Errorf("%w: logical operator expects a list of filters", ErrInvalidUsage)
		}
		cooked, err := rewriteFilter(schema, sub)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, cooked)
	}
	return clauses, nil
}

// resolveFilterPath maps a dotted public path to its dotted storage path
// and the field the final segment addresses. Numeric and positional ($)
// segments traverse lists; dict keys pass through unchanged.
func resolveFilterPath(schema *Schema, path string) (string, Field, error) {
	segments := strings.Split(path, ".")
	var storage []string
	var field Field
	current := schema

	for _, segment := range segments {
		switch {
		case current != nil:
			f, ok := current.Field(segment)
			if !ok {
				return "", nil, fmt.Errorf("%w: unknown field %s in filter path %s", ErrInvalidUsage, segment, path)
			}
			storage = append(storage, f.base().StorageName())
			field = f
			current = nil
		case field == nil:
			return "", nil, fmt.Errorf("%w: cannot traverse %s in filter path %s", ErrInvalidUsage, segment, path)
		default:
			switch container := field.(type) {
			case *ListField:
				if segment == "$" || isNumeric(segment) {
					storage = append(storage, segment)
					field = container.Element
					continue
				}
				// subfield match inside a list of embedded documents
				nested := nestedSchema(container.Element)
				if nested == nil {
					return "", nil, fmt.Errorf("%w: cannot traverse %s in filter path %s", ErrInvalidUsage, segment, path)
				}
				f, ok := nested.Field(segment)
				if !ok {
					return "", nil, fmt.Errorf("%w: unknown field %s in filter path %s", ErrInvalidUsage, segment, path)
				}
				storage = append(storage, f.base().StorageName())
				field = f
			case *DictField:
				storage = append(storage, segment)
				field = container.Value
			case *EmbeddedField:
				nested := nestedSchema(container)
				if nested == nil {
					return "", nil, &NotRegisteredError{Name: container.TargetName}
				}
				f, ok := nested.Field(segment)
				if !ok {
					return "", nil, fmt.Errorf("%w: unknown field %s in filter path %s", ErrInvalidUsage, segment, path)
				}
				storage = append(storage, f.base().StorageName())
				field = f
			default:
				return "", nil, fmt.Errorf("%w: cannot traverse %s in filter path %s", ErrInvalidUsage, segment, path)
			}
		}
	}
	return strings.Join(storage, "."), field, nil
}

// cookOperand serializes a filter operand to database form. An operator
// map is cooked per operator; anything else is a direct equality operand.
func cookOperand(field Field, value any) (any, error) {
	m, isMap := asFilterMap(value)
	if !isMap || !allOperatorKeys(m) {
		return serializeOperand(field, value)
	}
	out := make(bson.M, len(m))
	for op, operand := range m {
		switch op {
		case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte":
			cooked, err := serializeOperand(field, operand)
			if err != nil {
				return nil, err
			}
			out[op] = cooked
		case "$in", "$nin", "$all":
			items, ok := sliceOperand(operand)
			if !ok {
				return nil, fmt.Errorf("%w: %s expects a list", ErrInvalidUsage, op)
			}
			cooked := make(bson.A, 0, len(items))
			for _, item := range items {
				c, err := serializeOperand(field, item)
				if err != nil {
					return nil, err
				}
				cooked = append(cooked, c)
			}
			out[op] = cooked
		case "$not":
			cooked, err := cookOperand(field, operand)
			if err != nil {
				return nil, err
			}
			out[op] = cooked
		case "$elemMatch":
			cooked, err := cookElemMatch(field, operand)
			if err != nil {
				return nil, err
			}
			out[op] = cooked
		default:
			// structural operators ($exists, $size, $type, $regex, ...)
			out[op] = operand
		}
	}
	return out, nil
}

func cookElemMatch(field Field, operand any) (any, error) {
	list, ok := field.(*ListField)
	if !ok {
		return nil, fmt.Errorf("%w: $elemMatch applies to list fields", ErrInvalidUsage)
	}
	criteria, ok := asFilterMap(operand)
	if !ok {
		return nil, fmt.Errorf("%w: $elemMatch expects a filter", ErrInvalidUsage)
	}
	if nested := nestedSchema(list.Element); nested != nil {
		return rewriteFilter(nested, criteria)
	}
	return cookOperand(list.Element, criteria)
}

// serializeOperand converts an object-form operand to database form. A
// scalar operand against a list field is serialized per element, matching
// the database's array containment semantics.
// serializeOperand cooks a single operand to database form. The value is
// normalized through the field's Deserialize first so loose public forms
// (plain ints, hex pks, date strings) land in the proper db representation.
// Validators are skipped: operands are matching criteria, not stored data.
func serializeOperand(field Field, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if list, ok := field.(*ListField); ok {
		if _, isSlice := sliceOperand(value); !isSlice {
			return serializeOperand(list.Element, value)
		}
	}
	object, err := field.Deserialize(value)
	if err != nil {
		return nil, err
	}
	return field.SerializeDB(object)
}

func sliceOperand(value any) ([]any, bool) {
	items, err := asSlice(value)
	return items, err == nil
}

func asFilterMap(value any) (bson.M, bool) {
	switch t := value.(type) {
	case bson.M:
		return t, true
	case map[string]any:
		return bson.M(t), true
	default:
		return nil, false
	}
}

func allOperatorKeys(m bson.M) bool {
	if len(m) == 0 {
		return false
	}
	for key := range m {
		if !strings.HasPrefix(key, "$") {
			return false
		}
	}
	return true
}

func isNumeric(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

// QueryOption configures a FindOne or Find call.
type QueryOption func(*queryConfig)

type queryConfig struct {
	schema     *Schema
	sort       []Sort
	limit      int64
	skip       int64
	projection bson.M
}

// Sorted orders the results by a public field name; order is 1 for
// ascending, -1 for descending. Repeat for compound ordering.
func Sorted(field string, order int) QueryOption {
	return func(c *queryConfig) {
		if storage, _, err := resolveFilterPath(c.schema, field); err == nil {
			field = storage
		}
		c.sort = append(c.sort, Sort{Field: field, Order: order})
	}
}

// Limit caps the number of returned documents.
func Limit(n int64) QueryOption {
	return func(c *queryConfig) { c.limit = n }
}

// Skip discards the first n matching documents.
func Skip(n int64) QueryOption {
	return func(c *queryConfig) { c.skip = n }
}

// Projection restricts the returned record to the named public fields.
// The primary key and class discriminator are always included; documents
// read through a projection are partial.
func Projection(fields ...string) QueryOption {
	return func(c *queryConfig) {
		c.projection = bson.M{"_id": 1, "_cls": 1}
		for _, field := range fields {
			storage, _, err := resolveFilterPath(c.schema, field)
			if err != nil {
				storage = field
			}
			c.projection[storage] = 1
		}
	}
}

func applyQueryOptions(schema *Schema, opts []QueryOption) *queryConfig {
	cfg := &queryConfig{schema: schema}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func (c *queryConfig) findOptions() FindOptions {
	return FindOptions{Sort: c.sort, Limit: c.limit, Skip: c.skip, Projection: c.projection}
}

// DocumentCursor iterates a find result, wrapping each raw record into a
// document of the concrete class.
type DocumentCursor struct {
	impl    *Implementation
	cursor  Cursor
	partial bool
}

// Next advances the cursor; false when exhausted or on error.
func (c *DocumentCursor) Next(ctx context.Context) bool { return c.cursor.Next(ctx) }

// Document wraps the record the cursor is positioned on.
func (c *DocumentCursor) Document() (*Document, error) {
	raw, err := c.cursor.Current()
	if err != nil {
		return nil, err
	}
	return c.impl.BuildFromDB(raw, c.partial)
}

// Err reports the error that stopped iteration, if any.
func (c *DocumentCursor) Err() error { return c.cursor.Err() }

// Close releases the underlying cursor.
func (c *DocumentCursor) Close(ctx context.Context) error { return c.cursor.Close(ctx) }

// All drains the cursor into a slice and closes it.
func (c *DocumentCursor) All(ctx context.Context) ([]*Document, error) {
	defer c.cursor.Close(ctx)
	var out []*Document
	for c.cursor.Next(ctx) {
		doc, err := c.Document()
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := c.cursor.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
