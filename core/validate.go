// Package core provides the fundamental building blocks of the calamus ODM.
// This file defines the built-in pure validators applied during
// deserialization.
package core

import (
	"fmt"
	"reflect"
	"regexp"
	"time"
)

// Range validates that a numeric or time value lies within [min, max].
// Pass nil to leave a bound open.
func Range(min, max any) Validator {
	return func(value any) error {
		if t, ok := value.(time.Time); ok {
			if min != nil {
				if lo, ok := min.(time.Time); ok && t.Before(lo) {
					return NewValidationError(fmt.Sprintf("Must be greater than or equal to %v.", lo))
				}
			}
			if max != nil {
				if hi, ok := max.(time.Time); ok && t.After(hi) {
					return NewValidationError(fmt.Sprintf("Must be less than or equal to %v.", hi))
				}
			}
			return nil
		}
		v, ok := toFloat(value)
		if !ok {
			return nil
		}
		if min != nil {
			if lo, ok := toFloat(min); ok && v < lo {
				return NewValidationError(fmt.Sprintf("Must be greater than or equal to %v.", min))
			}
		}
		if max != nil {
			if hi, ok := toFloat(max); ok && v > hi {
				return NewValidationError(fmt.Sprintf("Must be less than or equal to %v.", max))
			}
		}
		return nil
	}
}

// Length validates the length of a string, list, or map value. Pass a
// negative bound to leave it open.
func Length(min, max int) Validator {
	return func(value any) error {
		n := -1
		switch v := value.(type) {
		case string:
			n = len([]rune(v))
		case *List:
			n = v.Len()
		case *Dict:
			n = v.Len()
		default:
			rv := reflect.ValueOf(value)
			switch rv.Kind() {
			case reflect.Slice, reflect.Map, reflect.Array:
				n = rv.Len()
			}
		}
		if n < 0 {
			return nil
		}
		if min >= 0 && n < min {
			return NewValidationError(fmt.Sprintf("Shorter than minimum length %d.", min))
		}
		if max >= 0 && n > max {
			return NewValidationError(fmt.Sprintf("Longer than maximum length %d.", max))
		}
		return nil
	}
}

// Regexp validates that a string value matches the given pattern.
func Regexp(pattern string) Validator {
	re := regexp.MustCompile(pattern)
	return func(value any) error {
		s, ok := value.(string)
		if !ok {
			return nil
		}
		if !re.MatchString(s) {
			return NewValidationError(fmt.Sprintf("String does not match expected pattern %q.", pattern))
		}
		return nil
	}
}

// OneOf validates that the value equals one of the given choices.
func OneOf(choices ...any) Validator {
	return func(value any) error {
		for _, choice := range choices {
			if reflect.DeepEqual(value, choice) {
				return nil
			}
		}
		return NewValidationError(fmt.Sprintf("Must be one of: %v.", choices))
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
