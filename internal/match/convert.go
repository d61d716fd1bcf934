// Package match evaluates database-style filters against raw BSON records
// in memory. This file normalizes the value shapes BSON decoding produces.
package match

import (
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func toMap(value any) (bson.M, bool) {
	switch t := value.(type) {
	case bson.M:
		return t, true
	case map[string]any:
		return bson.M(t), true
	case bson.D:
		out := make(bson.M, len(t))
		for _, e := range t {
			out[e.Key] = e.Value
		}
		return out, true
	default:
		return nil, false
	}
}

func toSlice(value any) []any {
	switch t := value.(type) {
	case bson.A:
		return []any(t)
	case []any:
		return t
	case []bson.M:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out
	default:
		return nil
	}
}

// operatorMap reports whether criteria is an operator document (every key
// starts with $) rather than an embedded-document equality operand.
func operatorMap(criteria any) (bson.M, bool) {
	m, ok := toMap(criteria)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for key := range m {
		if len(key) == 0 || key[0] != '$' {
			return nil, false
		}
	}
	return m, true
}

func toFloat(value any) (float64, bool) {
	switch t := value.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

func toInt(value any) (int, bool) {
	f, ok := toFloat(value)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func toTime(value any) (time.Time, bool) {
	switch t := value.(type) {
	case time.Time:
		return t.UTC(), true
	case primitive.DateTime:
		return t.Time().UTC(), true
	default:
		return time.Time{}, false
	}
}

func decimalFloat(d primitive.Decimal128) (float64, bool) {
	f, err := strconv.ParseFloat(d.String(), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func parseIndex(segment string) (int, bool) {
	idx, err := strconv.Atoi(segment)
	if err != nil {
		return 0, false
	}
	return idx, true
}
