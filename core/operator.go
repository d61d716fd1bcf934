// Package core provides the fundamental building blocks of the calamus ODM.
// This file defines the set of supported operators used in query
// conditions.
package core

// Operator represents a comparison or logical operator used in a query
// condition. The value is the database token the condition compiles to.
//
// Operators can be logical (AND, OR, NOT) or value-based (EQ, GT, IN, etc.).
type Operator string

const (
	// Logical operators
	opAnd Operator = "$and"
	opOr  Operator = "$or"
	opNor Operator = "$nor"
	opNot Operator = "$not"

	// Value-based operators
	opEq        Operator = "$eq"
	opNe        Operator = "$ne"
	opGt        Operator = "$gt"
	opGte       Operator = "$gte"
	opLt        Operator = "$lt"
	opLte       Operator = "$lte"
	opIn        Operator = "$in"
	opNin       Operator = "$nin"
	opAll       Operator = "$all"
	opExists    Operator = "$exists"
	opRegex     Operator = "$regex"
	opElemMatch Operator = "$elemMatch"
)

// Public operator aliases exposed to users of the ODM.
//
// These variables reference the internal constants and are intended to be
// used when constructing conditions programmatically.
//
// Example:
//
//	cond := &core.Condition{FieldName: "age", Operator: &core.OpGt, Value: 18}
var (
	OpAnd       = opAnd
	OpOr        = opOr
	OpNor       = opNor
	OpNot       = opNot
	OpEq        = opEq
	OpNe        = opNe
	OpGt        = opGt
	OpGte       = opGte
	OpLt        = opLt
	OpLte       = opLte
	OpIn        = opIn
	OpNin       = opNin
	OpAll       = opAll
	OpExists    = opExists
	OpRegex     = opRegex
	OpElemMatch = opElemMatch
)
