package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIndexString(t *testing.T) {
	cases := []struct {
		in   string
		want IndexKey
	}{
		{"name", IndexKey{Field: "name", Kind: IndexAscending}},
		{"+name", IndexKey{Field: "name", Kind: IndexAscending}},
		{"-name", IndexKey{Field: "name", Kind: IndexDescending}},
		{"$name", IndexKey{Field: "name", Kind: IndexText}},
		{"#name", IndexKey{Field: "name", Kind: IndexHashed}},
	}
	for _, tc := range cases {
		model, err := ParseIndex(tc.in)
		require.NoError(t, err, tc.in)
		require.Len(t, model.Keys, 1)
		assert.Equal(t, tc.want, model.Keys[0])
	}

	_, err := ParseIndex("")
	assert.Error(t, err)
}

func TestParseIndexCompound(t *testing.T) {
	model, err := ParseIndex([]string{"a", "-b"})
	require.NoError(t, err)
	assert.Equal(t, []IndexKey{
		{Field: "a", Kind: IndexAscending},
		{Field: "b", Kind: IndexDescending},
	}, model.Keys)
	assert.Equal(t, "a_1_b_-1", model.EffectiveName())

	_, err = ParseIndex([]any{"a", 3})
	assert.Error(t, err)
}

func TestParseIndexSpec(t *testing.T) {
	ttl := int32(3600)
	model, err := ParseIndex(IndexSpec{
		Fields: []string{"email"}, Unique: true, Sparse: true,
		Name: "email_unique", ExpireAfterSeconds: &ttl,
	})
	require.NoError(t, err)
	assert.True(t, model.Unique)
	assert.True(t, model.Sparse)
	assert.Equal(t, "email_unique", model.EffectiveName())
	require.NotNil(t, model.ExpireAfterSeconds)
	assert.Equal(t, ttl, *model.ExpireAfterSeconds)

	passthrough := IndexModel{Keys: []IndexKey{{Field: "x"}}}
	model, err = ParseIndex(passthrough)
	require.NoError(t, err)
	assert.Equal(t, passthrough, model)

	_, err = ParseIndex(42)
	assert.Error(t, err)
}

func TestDeriveIndexesUniqueFields(t *testing.T) {
	schema, err := NewSchema(Fields{
		{"email", NewEmail(Required(), Unique())},
		{"nick", NewString(Unique(), Attribute("nk"))},
	}, true)
	require.NoError(t, err)

	plan, err := deriveIndexes(nil, nil, schema, false)
	require.NoError(t, err)
	require.Len(t, plan, 2)

	assert.Equal(t, "email_1", plan[0].EffectiveName())
	assert.True(t, plan[0].Unique)
	assert.False(t, plan[0].Sparse, "a required unique field indexes dense")

	assert.Equal(t, "nk_1", plan[1].EffectiveName(), "indexes use storage names")
	assert.True(t, plan[1].Sparse, "an optional unique field indexes sparse")
}

func TestDeriveIndexesChild(t *testing.T) {
	schema, err := NewSchema(Fields{
		{"email", NewEmail(Unique())},
	}, true)
	require.NoError(t, err)

	plan, err := deriveIndexes(nil, []any{"name"}, schema, true)
	require.NoError(t, err)
	require.Len(t, plan, 3)

	// every key list gains the discriminator
	assert.Equal(t, "name_1__cls_1", plan[0].EffectiveName())
	assert.Equal(t, "email_1__cls_1", plan[1].EffectiveName())
	assert.True(t, plan[1].Unique)
	// plus a discriminator-only index
	assert.Equal(t, "_cls_1", plan[2].EffectiveName())
}

func TestDeriveIndexesDedupe(t *testing.T) {
	schema, err := NewSchema(Fields{
		{"email", NewEmail(Required(), Unique())},
	}, true)
	require.NoError(t, err)

	inherited := []IndexModel{{Keys: []IndexKey{{Field: "email"}}, Unique: true}}
	plan, err := deriveIndexes(inherited, []any{"email"}, schema, false)
	require.NoError(t, err)
	require.Len(t, plan, 1, "inherited, declared, and derived copies collapse by name")
	assert.True(t, plan[0].Unique, "the first occurrence wins")
}

func TestDeriveIndexesBadSpec(t *testing.T) {
	schema, err := NewSchema(Fields{{"a", NewString()}}, true)
	require.NoError(t, err)

	_, err = deriveIndexes(nil, []any{3.14}, schema, false)
	assert.Error(t, err)
}
