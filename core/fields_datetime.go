// Package core provides the fundamental building blocks of the calamus ODM.
// This file defines the temporal field kinds. Database datetimes are UTC at
// millisecond resolution; serialization rounds the microsecond component
// half-up to match the wire precision.
package core

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DateTimeField stores a point in time, ISO-8601 in public form.
type DateTimeField struct {
	BaseField
}

// NewDateTime declares a datetime field.
func NewDateTime(opts ...FieldOption) *DateTimeField {
	f := &DateTimeField{}
	applyOptions(&f.BaseField, opts)
	return f
}

func (f *DateTimeField) Deserialize(value any) (any, error) {
	return parseDateTime(value)
}

func (f *DateTimeField) Serialize(value any) (any, error) {
	t, ok := value.(time.Time)
	if !ok {
		return nil, NewValidationError("Not a valid datetime.")
	}
	return t.Format(time.RFC3339Nano), nil
}

func (f *DateTimeField) DeserializeDB(value any) (any, error) {
	return dbDateTime(value)
}

func (f *DateTimeField) SerializeDB(value any) (any, error) {
	t, ok := value.(time.Time)
	if !ok {
		return nil, NewValidationError("Not a valid datetime.")
	}
	return roundToMillis(t.UTC()), nil
}

// AwareDateTimeField behaves like DateTimeField but refuses zone-less string
// inputs and converts values read from the database (stored as UTC) to a
// configured presentation zone.
type AwareDateTimeField struct {
	BaseField
	// Zone is the presentation timezone for values read from the database.
	// Defaults to UTC.
	Zone *time.Location
}

// NewAwareDateTime declares a zone-aware datetime field presenting database
// values in the given zone (UTC when nil).
func NewAwareDateTime(zone *time.Location, opts ...FieldOption) *AwareDateTimeField {
	if zone == nil {
		zone = time.UTC
	}
	f := &AwareDateTimeField{Zone: zone}
	applyOptions(&f.BaseField, opts)
	return f
}

func (f *AwareDateTimeField) Deserialize(value any) (any, error) {
	if s, ok := value.(string); ok {
		// RFC 3339 requires an explicit offset, which is exactly the
		// awareness constraint.
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, NewValidationError("Not a valid aware datetime.")
		}
		return t, nil
	}
	return parseDateTime(value)
}

func (f *AwareDateTimeField) Serialize(value any) (any, error) {
	t, ok := value.(time.Time)
	if !ok {
		return nil, NewValidationError("Not a valid datetime.")
	}
	return t.Format(time.RFC3339Nano), nil
}

func (f *AwareDateTimeField) DeserializeDB(value any) (any, error) {
	t, err := dbDateTime(value)
	if err != nil {
		return nil, err
	}
	return t.(time.Time).In(f.Zone), nil
}

func (f *AwareDateTimeField) SerializeDB(value any) (any, error) {
	t, ok := value.(time.Time)
	if !ok {
		return nil, NewValidationError("Not a valid datetime.")
	}
	return roundToMillis(t.UTC()), nil
}

// DateField stores a calendar date, kept in the database as a datetime at
// midnight UTC and as "YYYY-MM-DD" in public form.
type DateField struct {
	BaseField
}

// NewDate declares a date field.
func NewDate(opts ...FieldOption) *DateField {
	f := &DateField{}
	applyOptions(&f.BaseField, opts)
	return f
}

func (f *DateField) Deserialize(value any) (any, error) {
	switch v := value.(type) {
	case string:
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return nil, NewValidationError("Not a valid date.")
		}
		return t.UTC(), nil
	case time.Time:
		return atMidnight(v), nil
	}
	return nil, NewValidationError("Not a valid date.")
}

func (f *DateField) Serialize(value any) (any, error) {
	t, ok := value.(time.Time)
	if !ok {
		return nil, NewValidationError("Not a valid date.")
	}
	return t.Format("2006-01-02"), nil
}

func (f *DateField) DeserializeDB(value any) (any, error) {
	t, err := dbDateTime(value)
	if err != nil {
		return nil, err
	}
	return atMidnight(t.(time.Time)), nil
}

func (f *DateField) SerializeDB(value any) (any, error) {
	t, ok := value.(time.Time)
	if !ok {
		return nil, NewValidationError("Not a valid date.")
	}
	return atMidnight(t), nil
}

// parseDateTime accepts a time.Time or an RFC 3339 string.
func parseDateTime(value any) (any, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, NewValidationError("Not a valid datetime.")
		}
		return t, nil
	case primitive.DateTime:
		return v.Time().UTC(), nil
	}
	return nil, NewValidationError("Not a valid datetime.")
}

// dbDateTime converts the driver's raw datetime representations to a UTC
// time.Time.
func dbDateTime(value any) (any, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case primitive.DateTime:
		return v.Time().UTC(), nil
	}
	return nil, NewValidationError("Not a valid datetime.")
}

// roundToMillis truncates to millisecond resolution, rounding the
// microsecond component half-up. Sub-microsecond precision is discarded.
func roundToMillis(t time.Time) time.Time {
	micros := (t.Nanosecond() / int(time.Microsecond)) % 1000
	t = t.Truncate(time.Millisecond)
	if micros >= 500 {
		t = t.Add(time.Millisecond)
	}
	return t
}

func atMidnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
