package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func personSchema(t *testing.T, strict bool) *Schema {
	t.Helper()
	s, err := NewSchema(Fields{
		{"name", NewString(Required(), Attribute("n"))},
		{"age", NewInt(DefaultValue(int64(0)))},
		{"token", NewString(LoadOnly())},
		{"slug", NewString(DumpOnly())},
	}, strict)
	require.NoError(t, err)
	return s
}

func TestSchemaCompile(t *testing.T) {
	s := personSchema(t, true)

	assert.Equal(t, []string{"name", "age", "token", "slug"}, s.FieldNames())

	storage, ok := s.StorageName("name")
	require.True(t, ok)
	assert.Equal(t, "n", storage)

	public, ok := s.PublicName("n")
	require.True(t, ok)
	assert.Equal(t, "name", public)

	_, err := NewSchema(Fields{
		{"a", NewString()},
		{"a", NewInt()},
	}, false)
	assert.Error(t, err)

	_, err = NewSchema(Fields{
		{"a", NewString(Attribute("x"))},
		{"b", NewString(Attribute("x"))},
	}, false)
	assert.Error(t, err)
}

func TestSchemaLoad(t *testing.T) {
	s := personSchema(t, true)

	values, passthrough, err := s.Load(map[string]any{"name": "ada", "age": 36})
	require.NoError(t, err)
	assert.Nil(t, passthrough)
	assert.Equal(t, "ada", values["n"], "values are keyed by storage name")
	assert.Equal(t, int64(36), values["age"])
	assert.True(t, IsMissing(values["token"]))
}

func TestSchemaLoadDefaults(t *testing.T) {
	s := personSchema(t, true)

	values, _, err := s.Load(map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), values["age"])
}

func TestSchemaLoadDumpOnlyRejected(t *testing.T) {
	s := personSchema(t, true)

	_, _, err := s.Load(map[string]any{"name": "ada", "slug": "x"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"Field is dump only."}, verr.Child("slug").Messages())
}

func TestSchemaLoadUnknownKeys(t *testing.T) {
	strict := personSchema(t, true)
	_, _, err := strict.Load(map[string]any{"name": "ada", "bogus": 1})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"Unknown field name bogus."}, verr.Child("_schema").Messages())

	lax := personSchema(t, false)
	_, passthrough, err := lax.Load(map[string]any{"name": "ada", "bogus": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"bogus": 1}, passthrough)
}

func TestSchemaLoadCollectsFieldErrors(t *testing.T) {
	s := personSchema(t, true)

	_, _, err := s.Load(map[string]any{"name": 42, "age": "old"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"Not a valid string."}, verr.Child("name").Messages())
	assert.Equal(t, []string{"Not a valid integer."}, verr.Child("age").Messages())
}

func TestSchemaDump(t *testing.T) {
	s := personSchema(t, true)

	out, err := s.Dump(map[string]any{
		"n": "ada", "age": int64(36), "token": "secret", "slug": Missing,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ada", "age": int64(36)}, out,
		"load-only and missing fields are suppressed")
}

func TestSchemaLoadDB(t *testing.T) {
	s := personSchema(t, true)

	values, _, err := s.LoadDB(bson.M{"n": "ada", "age": int64(36)})
	require.NoError(t, err)
	assert.Equal(t, "ada", values["n"])
	assert.True(t, IsMissing(values["slug"]))

	_, _, err = s.LoadDB(bson.M{"n": "ada", "ghost": 1})
	var unknown *UnknownFieldInDBError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ghost", unknown.Key)

	lax := personSchema(t, false)
	_, passthrough, err := lax.LoadDB(bson.M{"n": "ada", "ghost": 1})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"ghost": 1}, passthrough)
}

func TestSchemaDumpDB(t *testing.T) {
	s := personSchema(t, true)

	out, err := s.DumpDB(map[string]any{"n": "ada", "age": Missing, "token": nil})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"n": "ada", "token": nil}, out,
		"missing is suppressed, explicit null is written")
}

func TestSchemaProjection(t *testing.T) {
	s := personSchema(t, true)
	p := s.Projection()

	assert.Equal(t, s.FieldNames(), p.FieldNames())

	// renaming and requiredness are stripped
	storage, ok := p.StorageName("name")
	require.True(t, ok)
	assert.Equal(t, "name", storage)
	f, ok := p.Field("name")
	require.True(t, ok)
	assert.False(t, f.base().Required)

	// conversions still delegate to the original kind
	values, _, err := p.Load(map[string]any{"age": 36})
	require.NoError(t, err)
	assert.Equal(t, int64(36), values["age"])
}

func TestSchemaMapFields(t *testing.T) {
	s, err := NewSchema(Fields{
		{"name", NewString(Attribute("n"))},
		{"tags", NewListField(NewString())},
	}, true)
	require.NoError(t, err)

	var storagePaths [][]string
	s.MapFields(func(storagePath, publicPath []string, f Field) {
		storagePaths = append(storagePaths, storagePath)
	})
	assert.Equal(t, [][]string{{"n"}, {"tags"}}, storagePaths)
}
