package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestListMutations(t *testing.T) {
	l := NewList(NewInt())

	require.NoError(t, l.Append(1))
	require.NoError(t, l.Append(3))
	require.NoError(t, l.Insert(1, 2))
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, l.Values())

	require.NoError(t, l.Set(0, 10))
	assert.Equal(t, int64(10), l.Get(0))

	assert.Equal(t, int64(3), l.Pop())
	l.Del(0)
	assert.Equal(t, []any{int64(2)}, l.Values())

	require.NoError(t, l.Extend(4, 5))
	assert.Equal(t, 3, l.Len())

	l.Sort(func(a, b any) bool { return a.(int64) > b.(int64) })
	assert.Equal(t, []any{int64(5), int64(4), int64(2)}, l.Values())

	l.Clear()
	assert.Zero(t, l.Len())
}

func TestListRejectsInvalidElement(t *testing.T) {
	l := NewList(NewInt())

	err := l.Append("nope")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, l.Len(), "type errors surface at insertion, nothing is stored")
}

func TestListModificationTracking(t *testing.T) {
	l := NewList(NewString())
	fired := 0
	l.setModifyCallback(func() { fired++ })

	require.NoError(t, l.Append("a"))
	assert.True(t, l.isModified())
	assert.Equal(t, 1, fired)

	l.clearModifiedDeep()
	assert.False(t, l.isModified())
}

func TestListFieldConversions(t *testing.T) {
	f := NewListField(NewInt())

	v, err := Deserialize(f, []any{1, 2})
	require.NoError(t, err)
	list := v.(*List)
	assert.Equal(t, []any{int64(1), int64(2)}, list.Values())

	// element errors aggregate by index
	_, err = Deserialize(f, []any{1, "x", "y"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"Not a valid integer."}, verr.Child("1").Messages())
	assert.Equal(t, []string{"Not a valid integer."}, verr.Child("2").Messages())

	public, err := Serialize(f, list)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2)}, public)

	db, err := SerializeDB(f, list)
	require.NoError(t, err)
	assert.Equal(t, bson.A{int64(1), int64(2)}, db)

	back, err := DeserializeDB(f, bson.A{int64(1), int64(2)})
	require.NoError(t, err)
	assert.Equal(t, list.Values(), back.(*List).Values())
}

func TestDictMutations(t *testing.T) {
	d := NewDict(nil, NewInt())

	require.NoError(t, d.Set("a", 1))
	require.NoError(t, d.Update(map[string]any{"b": 2, "c": 3}))
	assert.Equal(t, 3, d.Len())
	assert.Equal(t, []string{"a", "b", "c"}, d.Keys())

	v, ok := d.Get("b")
	require.True(t, ok)
	assert.Equal(t, int64(2), v)

	d.Del("a")
	_, ok = d.Get("a")
	assert.False(t, ok)

	d.Clear()
	assert.Zero(t, d.Len())
}

func TestDictKeyValidation(t *testing.T) {
	d := NewDict(NewString(Validate(Length(2, -1))), NewInt())

	require.NoError(t, d.Set("ok", 1))

	err := d.Set("x", 2)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.NotNil(t, verr.Child("x"))
	assert.Equal(t, []string{"Shorter than minimum length 2."}, verr.Child("x").Child("key").Messages())
}

func TestDictFieldConversions(t *testing.T) {
	f := NewDictField(nil, NewInt())

	v, err := Deserialize(f, map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	dict := v.(*Dict)
	assert.Equal(t, []string{"a", "b"}, dict.Keys())

	// value errors nest under key then "value"
	_, err = Deserialize(f, map[string]any{"a": "x"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"Not a valid integer."}, verr.Child("a").Child("value").Messages())

	db, err := SerializeDB(f, dict)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"a": int64(1), "b": int64(2)}, db)

	back, err := DeserializeDB(f, bson.M{"a": int64(1)})
	require.NoError(t, err)
	got, ok := back.(*Dict).Get("a")
	require.True(t, ok)
	assert.Equal(t, int64(1), got)
}

func TestNestedContainerPropagation(t *testing.T) {
	f := NewListField(NewListField(NewInt()))

	v, err := Deserialize(f, []any{[]any{1}})
	require.NoError(t, err)
	outer := v.(*List)
	outer.clearModifiedDeep()

	inner := outer.Get(0).(*List)
	require.NoError(t, inner.Append(2))
	assert.True(t, outer.isModified(), "inner mutations bubble to the outer container")
}
