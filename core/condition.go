// Package core provides the fundamental building blocks of the calamus ODM.
// This file defines the fluent condition builder, a typed alternative to
// writing raw filter maps. Conditions compile to public-name filters, so
// they go through the same path rewriting as hand-written maps.
package core

import "go.mongodb.org/mongo-driver/bson"

// Condition represents a single clause in a query filter.
//
// A condition targets a field by public name (with dotted paths into
// embedded documents) with a given operator and comparison value.
// Conditions can also be nested using Children, enabling composition of
// complex logical expressions with AND, OR, and NOT.
//
// Example:
//
//	cond := core.Where("age").Gt(18).
//		And(core.Where("status").Eq("active"))
//
// The above compiles to:
//
//	{"$and": [{"age": {"$gt": 18}}, {"status": "active"}]}
type Condition struct {
	FieldName string       // The public field name this condition applies to
	Operator  *Operator    // The comparison operator (Eq, Gt, In, etc.)
	Value     any          // The comparison value, in object form
	Children  []*Condition // Nested conditions (for AND, OR, NOT expressions)
}

// Where starts a condition on the named field.
func Where(field string) *Condition {
	return &Condition{FieldName: field}
}

// And combines this condition with additional conditions using the logical AND operator.
func (c *Condition) And(conditions ...*Condition) *Condition {
	return &Condition{
		Operator: &OpAnd,
		Children: append([]*Condition{c}, conditions...),
	}
}

// Or combines this condition with additional conditions using the logical OR operator.
func (c *Condition) Or(conditions ...*Condition) *Condition {
	return &Condition{
		Operator: &OpOr,
		Children: append([]*Condition{c}, conditions...),
	}
}

// Not negates this condition using the logical NOT operator.
func (c *Condition) Not() *Condition {
	return &Condition{
		FieldName: c.FieldName,
		Operator:  &OpNot,
		Children:  []*Condition{c},
	}
}

// Eq sets this condition to check for equality.
func (c *Condition) Eq(v any) *Condition {
	c.Operator = &OpEq
	c.Value = v
	return c
}

// Ne sets this condition to check for inequality.
func (c *Condition) Ne(v any) *Condition {
	c.Operator = &OpNe
	c.Value = v
	return c
}

// Gt sets this condition to check for "greater than".
func (c *Condition) Gt(v any) *Condition {
	c.Operator = &OpGt
	c.Value = v
	return c
}

// Gte sets this condition to check for "greater than or equal".
func (c *Condition) Gte(v any) *Condition {
	c.Operator = &OpGte
	c.Value = v
	return c
}

// Lt sets this condition to check for "less than".
func (c *Condition) Lt(v any) *Condition {
	c.Operator = &OpLt
	c.Value = v
	return c
}

// Lte sets this condition to check for "less than or equal".
func (c *Condition) Lte(v any) *Condition {
	c.Operator = &OpLte
	c.Value = v
	return c
}

// In sets this condition to check whether the field value is contained in the provided list.
func (c *Condition) In(values ...any) *Condition {
	c.Operator = &OpIn
	c.Value = values
	return c
}

// Nin sets this condition to check whether the field value is absent from the provided list.
func (c *Condition) Nin(values ...any) *Condition {
	c.Operator = &OpNin
	c.Value = values
	return c
}

// All sets this condition to check whether a list field contains every provided value.
func (c *Condition) All(values ...any) *Condition {
	c.Operator = &OpAll
	c.Value = values
	return c
}

// Exists sets this condition to check for field presence in the stored record.
func (c *Condition) Exists(v bool) *Condition {
	c.Operator = &OpExists
	c.Value = v
	return c
}

// Regex sets this condition to perform a pattern match on a string field.
func (c *Condition) Regex(pattern string) *Condition {
	c.Operator = &OpRegex
	c.Value = pattern
	return c
}

// ElemMatch sets this condition to match list elements against a nested filter.
func (c *Condition) ElemMatch(filter bson.M) *Condition {
	c.Operator = &OpElemMatch
	c.Value = filter
	return c
}

// Filter compiles the condition tree to a public-name filter map, ready
// for FindOne, Find, Count, or commit conditions.
func (c *Condition) Filter() bson.M {
	if c.Operator == nil {
		return bson.M{}
	}
	switch *c.Operator {
	case opAnd, opOr, opNor:
		clauses := make(bson.A, 0, len(c.Children))
		for _, child := range c.Children {
			clauses = append(clauses, child.Filter())
		}
		return bson.M{string(*c.Operator): clauses}
	case opNot:
		inner := c.Children[0]
		if inner.Operator != nil && *inner.Operator == opEq {
			return bson.M{inner.FieldName: bson.M{"$not": bson.M{"$eq": inner.Value}}}
		}
		criteria := inner.Filter()
		if sub, ok := criteria[inner.FieldName].(bson.M); ok {
			return bson.M{inner.FieldName: bson.M{"$not": sub}}
		}
		return bson.M{inner.FieldName: bson.M{"$not": criteria}}
	case opEq:
		return bson.M{c.FieldName: c.Value}
	default:
		return bson.M{c.FieldName: bson.M{string(*c.Operator): c.Value}}
	}
}

// CompileConditions ANDs several conditions together and compiles them to
// a single filter map. Zero conditions compile to the match-all filter.
func CompileConditions(conds ...*Condition) bson.M {
	folded := foldConditionsAnd(conds...)
	if folded == nil {
		return bson.M{}
	}
	return folded.Filter()
}

// foldConditionsAnd combines multiple conditions into a single condition
// using logical AND. If zero conditions are provided, it returns nil.
// If one condition is provided, it returns that condition.
func foldConditionsAnd(conds ...*Condition) *Condition {
	switch len(conds) {
	case 0:
		return nil
	case 1:
		return conds[0]
	default:
		acc := conds[0]
		for i := 1; i < len(conds); i++ {
			acc = acc.And(conds[i])
		}
		return acc
	}
}
