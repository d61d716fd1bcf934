package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func querySchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema(Fields{
		{"name", NewString(Attribute("n"))},
		{"born", NewDateTime(Attribute("b"))},
		{"tags", NewListField(NewString(), Attribute("tg"))},
		{"scores", NewDictField(nil, NewInt())},
	}, true)
	require.NoError(t, err)
	return s
}

func TestRewriteFilterRenames(t *testing.T) {
	s := querySchema(t)

	out, err := rewriteFilter(s, bson.M{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"n": "ada"}, out)

	out, err = rewriteFilter(s, nil)
	require.NoError(t, err)
	assert.Equal(t, bson.M{}, out)

	_, err = rewriteFilter(s, bson.M{"bogus": 1})
	assert.ErrorIs(t, err, ErrInvalidUsage)
}

func TestRewriteFilterCooksOperands(t *testing.T) {
	s := querySchema(t)
	born := time.Date(2024, 6, 1, 12, 0, 0, 123456000, time.UTC)

	out, err := rewriteFilter(s, bson.M{"born": bson.M{"$gte": born}})
	require.NoError(t, err)
	cooked := out["b"].(bson.M)["$gte"].(time.Time)
	assert.Equal(t, 123000000, cooked.Nanosecond(), "operands serialize to database form")
}

func TestRewriteFilterLogical(t *testing.T) {
	s := querySchema(t)

	out, err := rewriteFilter(s, bson.M{"$or": bson.A{
		bson.M{"name": "ada"},
		bson.M{"name": "grace"},
	}})
	require.NoError(t, err)
	clauses := out["$or"].(bson.A)
	require.Len(t, clauses, 2)
	assert.Equal(t, bson.M{"n": "ada"}, clauses[0])

	_, err = rewriteFilter(s, bson.M{"$and": "not-a-list"})
	assert.ErrorIs(t, err, ErrInvalidUsage)
}

func TestRewriteFilterUnknownDollarKeysPassThrough(t *testing.T) {
	s := querySchema(t)

	out, err := rewriteFilter(s, bson.M{
		"$text":    bson.M{"$search": "ada"},
		"$comment": "audit",
		"name":     "ada",
	})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"$search": "ada"}, out["$text"],
		"non-logical operators are the driver's business and stay untouched")
	assert.Equal(t, "audit", out["$comment"])
	assert.Equal(t, "ada", out["n"])
}

func TestRewriteFilterInOperator(t *testing.T) {
	s := querySchema(t)

	out, err := rewriteFilter(s, bson.M{"name": bson.M{"$in": bson.A{"ada", "grace"}}})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"n": bson.M{"$in": bson.A{"ada", "grace"}}}, out)

	_, err = rewriteFilter(s, bson.M{"name": bson.M{"$in": "ada"}})
	assert.ErrorIs(t, err, ErrInvalidUsage)
}

func TestRewriteFilterListPaths(t *testing.T) {
	s := querySchema(t)

	// scalar equality against a list is array containment
	out, err := rewriteFilter(s, bson.M{"tags": "math"})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"tg": "math"}, out)

	// numeric and positional segments traverse into the list
	out, err = rewriteFilter(s, bson.M{"tags.0": "math"})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"tg.0": "math"}, out)

	out, err = rewriteFilter(s, bson.M{"tags.$": "math"})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"tg.$": "math"}, out)
}

func TestRewriteFilterDictPaths(t *testing.T) {
	s := querySchema(t)

	out, err := rewriteFilter(s, bson.M{"scores.math": bson.M{"$gt": 3}})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"scores.math": bson.M{"$gt": int64(3)}}, out)

	// loose public forms normalize element-wise inside $in too
	out, err = rewriteFilter(s, bson.M{"scores.math": bson.M{"$in": bson.A{1, 2}}})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"scores.math": bson.M{"$in": bson.A{int64(1), int64(2)}}}, out)
}

func TestRewriteFilterElemMatch(t *testing.T) {
	s := querySchema(t)

	out, err := rewriteFilter(s, bson.M{"tags": bson.M{"$elemMatch": bson.M{"$eq": "math"}}})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"tg": bson.M{"$elemMatch": bson.M{"$eq": "math"}}}, out)

	_, err = rewriteFilter(s, bson.M{"name": bson.M{"$elemMatch": bson.M{"$eq": "x"}}})
	assert.ErrorIs(t, err, ErrInvalidUsage)
}

func TestRewriteFilterStructuralPassthrough(t *testing.T) {
	s := querySchema(t)

	out, err := rewriteFilter(s, bson.M{"name": bson.M{"$exists": true, "$regex": "^a"}})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"n": bson.M{"$exists": true, "$regex": "^a"}}, out)
}

func TestQueryOptions(t *testing.T) {
	s := querySchema(t)

	cfg := applyQueryOptions(s, []QueryOption{
		Sorted("name", 1),
		Sorted("born", -1),
		Limit(10),
		Skip(5),
	})
	opts := cfg.findOptions()
	assert.Equal(t, []Sort{{Field: "n", Order: 1}, {Field: "b", Order: -1}}, opts.Sort)
	assert.Equal(t, int64(10), opts.Limit)
	assert.Equal(t, int64(5), opts.Skip)
}

func TestProjectionOption(t *testing.T) {
	s := querySchema(t)

	cfg := applyQueryOptions(s, []QueryOption{Projection("name")})
	assert.Equal(t, bson.M{"_id": 1, "_cls": 1, "n": 1}, cfg.projection,
		"the primary key and discriminator ride along, fields project by storage name")
}

func TestConditionFilter(t *testing.T) {
	filter := Where("age").Gte(18).Filter()
	assert.Equal(t, bson.M{"age": bson.M{"$gte": 18}}, filter)

	filter = Where("name").Eq("ada").Filter()
	assert.Equal(t, bson.M{"name": "ada"}, filter, "equality compiles to its direct form")

	filter = Where("age").Gte(18).
		And(Where("city").Eq("london").Or(Where("city").Eq("paris"))).
		Filter()
	assert.Equal(t, bson.M{"$and": bson.A{
		bson.M{"age": bson.M{"$gte": 18}},
		bson.M{"$or": bson.A{
			bson.M{"city": "london"},
			bson.M{"city": "paris"},
		}},
	}}, filter)

	filter = Where("age").Lt(18).Not().Filter()
	assert.Equal(t, bson.M{"age": bson.M{"$not": bson.M{"$lt": 18}}}, filter)
}

func TestCompileConditions(t *testing.T) {
	assert.Equal(t, bson.M{}, CompileConditions())

	one := CompileConditions(Where("a").Eq(1))
	assert.Equal(t, bson.M{"a": 1}, one)

	two := CompileConditions(Where("a").Eq(1), Where("b").Eq(2))
	assert.Equal(t, bson.M{"$and": bson.A{
		bson.M{"a": 1},
		bson.M{"b": 2},
	}}, two)
}
