// Package match evaluates database-style filters against raw BSON records
// in memory. It backs the drivers that cannot push filtering down to the
// store: the memory driver entirely, and the pgdoc driver for operators its
// SQL translation does not cover.
package match

import (
	"bytes"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Matches reports whether doc satisfies filter. The filter uses storage
// names and database-form values, the shape the core emits after path
// rewriting.
func Matches(doc bson.M, filter bson.M) bool {
	for key, criteria := range filter {
		switch key {
		case "$and":
			for _, clause := range toSlice(criteria) {
				sub, ok := toMap(clause)
				if !ok || !Matches(doc, sub) {
					return false
				}
			}
		case "$or":
			matched := false
			for _, clause := range toSlice(criteria) {
				if sub, ok := toMap(clause); ok && Matches(doc, sub) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		case "$nor":
			for _, clause := range toSlice(criteria) {
				if sub, ok := toMap(clause); ok && Matches(doc, sub) {
					return false
				}
			}
		default:
			values, found := Lookup(doc, key)
			if !matchField(values, found, criteria) {
				return false
			}
		}
	}
	return true
}

// Lookup resolves a dotted path against a record. Numeric segments index
// into arrays; a non-numeric segment against an array fans out over its
// elements, so the result is a set of candidate values.
func Lookup(doc bson.M, path string) ([]any, bool) {
	segments := strings.Split(path, ".")
	values := []any{any(doc)}
	found := true
	for _, segment := range segments {
		var next []any
		hit := false
		for _, value := range values {
			if m, ok := toMap(value); ok {
				if v, present := m[segment]; present {
					next = append(next, v)
					hit = true
				}
				continue
			}
			if items := toSlice(value); items != nil {
				if idx, numeric := parseIndex(segment); numeric {
					if idx >= 0 && idx < len(items) {
						next = append(next, items[idx])
						hit = true
					}
					continue
				}
				for _, item := range items {
					if m, ok := toMap(item); ok {
						if v, present := m[segment]; present {
							next = append(next, v)
							hit = true
						}
					}
				}
			}
		}
		values = next
		found = found && hit
	}
	return values, found && len(values) > 0
}

// matchField checks one field's candidate values against criteria: either
// an operator map or a direct equality operand (with array containment).
func matchField(values []any, found bool, criteria any) bool {
	if ops, ok := operatorMap(criteria); ok {
		return matchOperators(values, found, ops)
	}
	if !found {
		return false
	}
	for _, value := range values {
		if equalOrContains(value, criteria) {
			return true
		}
	}
	return false
}

func matchOperators(values []any, found bool, ops bson.M) bool {
	for op, operand := range ops {
		if !matchOperator(values, found, op, operand) {
			return false
		}
	}
	return true
}

func matchOperator(values []any, found bool, op string, operand any) bool {
	switch op {
	case "$exists":
		want, _ := operand.(bool)
		return want == found
	case "$eq":
		return anyValue(values, found, func(v any) bool { return equalOrContains(v, operand) })
	case "$ne":
		return !anyValue(values, found, func(v any) bool { return equalOrContains(v, operand) })
	case "$gt", "$gte", "$lt", "$lte":
		return anyValue(values, found, func(v any) bool {
			c, ok := Compare(v, operand)
			if !ok {
				return false
			}
			switch op {
			case "$gt":
				return c > 0
			case "$gte":
				return c >= 0
			case "$lt":
				return c < 0
			default:
				return c <= 0
			}
		})
	case "$in":
		return anyValue(values, found, func(v any) bool {
			for _, candidate := range toSlice(operand) {
				if equalOrContains(v, candidate) {
					return true
				}
			}
			return false
		})
	case "$nin":
		return !anyValue(values, found, func(v any) bool {
			for _, candidate := range toSlice(operand) {
				if equalOrContains(v, candidate) {
					return true
				}
			}
			return false
		})
	case "$all":
		return anyValue(values, found, func(v any) bool {
			items := toSlice(v)
			for _, want := range toSlice(operand) {
				present := false
				for _, item := range items {
					if equalValues(item, want) {
						present = true
						break
					}
				}
				if !present {
					return false
				}
			}
			return true
		})
	case "$size":
		want, ok := toInt(operand)
		if !ok {
			return false
		}
		return anyValue(values, found, func(v any) bool {
			items := toSlice(v)
			return items != nil && len(items) == want
		})
	case "$not":
		sub, ok := operatorMap(operand)
		if !ok {
			return !anyValue(values, found, func(v any) bool { return equalOrContains(v, operand) })
		}
		return !matchOperators(values, found, sub)
	case "$elemMatch":
		criteria, ok := toMap(operand)
		if !ok {
			return false
		}
		return anyValue(values, found, func(v any) bool {
			for _, item := range toSlice(v) {
				if m, ok := toMap(item); ok {
					if Matches(m, criteria) {
						return true
					}
				} else if matchField([]any{item}, true, criteria) {
					return true
				}
			}
			return false
		})
	case "$regex":
		pattern, ok := operand.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return anyValue(values, found, func(v any) bool {
			s, ok := v.(string)
			return ok && re.MatchString(s)
		})
	default:
		return false
	}
}

func anyValue(values []any, found bool, pred func(any) bool) bool {
	if !found {
		return false
	}
	for _, v := range values {
		if pred(v) {
			return true
		}
	}
	return false
}

// equalOrContains applies the database's equality semantics: a direct
// match, or containment when the stored value is an array and the operand
// is a scalar.
func equalOrContains(value, operand any) bool {
	if equalValues(value, operand) {
		return true
	}
	items := toSlice(value)
	if items == nil {
		return false
	}
	if toSlice(operand) != nil {
		return false
	}
	for _, item := range items {
		if equalValues(item, operand) {
			return true
		}
	}
	return false
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := Compare(a, b); ok {
		return c == 0
	}
	if am, ok := toMap(a); ok {
		bm, ok := toMap(b)
		if !ok || len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, present := bm[k]
			if !present || !equalValues(av, bv) {
				return false
			}
		}
		return true
	}
	if as := toSlice(a); as != nil {
		bs := toSlice(b)
		if bs == nil || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !equalValues(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

// Compare orders two scalar database values. The second return is false
// when the values are not mutually comparable.
func Compare(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	switch at := a.(type) {
	case string:
		if bt, ok := b.(string); ok {
			return strings.Compare(at, bt), true
		}
	case bool:
		if bt, ok := b.(bool); ok {
			switch {
			case at == bt:
				return 0, true
			case bt:
				return -1, true
			default:
				return 1, true
			}
		}
	case time.Time:
		if bt, ok := toTime(b); ok {
			return at.Compare(bt), true
		}
	case primitive.DateTime:
		if bt, ok := toTime(b); ok {
			return at.Time().UTC().Compare(bt), true
		}
	case primitive.ObjectID:
		if bt, ok := b.(primitive.ObjectID); ok {
			return bytes.Compare(at[:], bt[:]), true
		}
	case primitive.Decimal128:
		if bt, ok := b.(primitive.Decimal128); ok {
			if at == bt {
				return 0, true
			}
			af, aok := decimalFloat(at)
			bf, bok := decimalFloat(bt)
			if aok && bok {
				switch {
				case af < bf:
					return -1, true
				case af > bf:
					return 1, true
				default:
					return 0, true
				}
			}
		}
	case primitive.Binary:
		if bt, ok := b.(primitive.Binary); ok {
			if at.Subtype != bt.Subtype {
				return int(at.Subtype) - int(bt.Subtype), true
			}
			return bytes.Compare(at.Data, bt.Data), true
		}
	}
	return 0, false
}

// SortKey is one ordering rule: a dotted path and a direction (1 or -1).
type SortKey struct {
	Field string
	Order int
}

// Sort orders records in place by the given keys. Missing values sort
// first, matching the database's ascending order of absent fields.
func Sort(docs []bson.M, keys []SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, key := range keys {
			av, aok := firstValue(docs[i], key.Field)
			bv, bok := firstValue(docs[j], key.Field)
			if !aok && !bok {
				continue
			}
			if !aok {
				return key.Order >= 0
			}
			if !bok {
				return key.Order < 0
			}
			c, ok := Compare(av, bv)
			if !ok || c == 0 {
				continue
			}
			if key.Order < 0 {
				c = -c
			}
			return c < 0
		}
		return false
	})
}

func firstValue(doc bson.M, path string) (any, bool) {
	values, found := Lookup(doc, path)
	if !found {
		return nil, false
	}
	return values[0], true
}

// ApplyUpdate applies a {$set, $unset} patch to a record in place,
// creating intermediate maps for dotted $set paths.
func ApplyUpdate(doc bson.M, update bson.M) {
	if set, ok := toMap(update["$set"]); ok {
		for path, value := range set {
			setPath(doc, path, value)
		}
	}
	if unset, ok := toMap(update["$unset"]); ok {
		for path := range unset {
			unsetPath(doc, path)
		}
	}
}

func setPath(doc bson.M, path string, value any) {
	segments := strings.Split(path, ".")
	current := doc
	for _, segment := range segments[:len(segments)-1] {
		next, ok := toMap(current[segment])
		if !ok {
			next = bson.M{}
			current[segment] = next
		}
		current = next
	}
	current[segments[len(segments)-1]] = value
}

func unsetPath(doc bson.M, path string) {
	segments := strings.Split(path, ".")
	current := doc
	for _, segment := range segments[:len(segments)-1] {
		next, ok := toMap(current[segment])
		if !ok {
			return
		}
		current = next
	}
	delete(current, segments[len(segments)-1])
}
