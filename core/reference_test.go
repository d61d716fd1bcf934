package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/calamus-odm/calamus/core"
	memdrv "github.com/calamus-odm/calamus/driver/memory"
)

func libraryInstance(t *testing.T) (*core.Instance, *core.Implementation, *core.Implementation) {
	t.Helper()
	instance := core.NewInstance(memdrv.NewMemoryDatabase("test"))
	author, err := instance.Register(core.NewTemplate("Author", core.Fields{
		{Name: "name", Field: core.NewString(core.Required())},
	}, core.Meta{}))
	require.NoError(t, err)
	book, err := instance.Register(core.NewTemplate("Book", core.Fields{
		{Name: "title", Field: core.NewString(core.Required())},
		{Name: "author", Field: core.NewReference("Author")},
		{Name: "anything", Field: core.NewGenericReference()},
	}, core.Meta{}))
	require.NoError(t, err)
	return instance, author, book
}

func TestReferenceFromDocument(t *testing.T) {
	_, author, book := libraryInstance(t)

	ada, err := author.Load(map[string]any{"name": "ada"})
	require.NoError(t, err)
	require.NoError(t, ada.Commit(context.Background()))

	doc, err := book.NewDocument()
	require.NoError(t, err)
	require.NoError(t, doc.Set("title", "notes"))
	require.NoError(t, doc.Set("author", ada))
	require.NoError(t, doc.Commit(context.Background()))

	got, err := doc.Get("author")
	require.NoError(t, err)
	ref, ok := got.(*core.Reference)
	require.True(t, ok)
	assert.Equal(t, "Author", ref.DocumentName())

	adaPK, err := ada.PK()
	require.NoError(t, err)
	assert.Equal(t, adaPK, ref.PK())
}

func TestReferenceFromPK(t *testing.T) {
	_, author, book := libraryInstance(t)

	ada, err := author.Load(map[string]any{"name": "ada"})
	require.NoError(t, err)
	require.NoError(t, ada.Commit(context.Background()))
	adaPK, err := ada.PK()
	require.NoError(t, err)

	// references accept the raw pk, its public hex form, and a DBRef
	doc, err := book.NewDocument()
	require.NoError(t, err)
	require.NoError(t, doc.Set("author", adaPK))
	require.NoError(t, doc.Set("author", adaPK.(primitive.ObjectID).Hex()))
	require.NoError(t, doc.Set("author", core.DBRef{Collection: "author", ID: adaPK}))

	err = doc.Set("author", core.DBRef{Collection: "elsewhere", ID: adaPK})
	var verr *core.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestReferenceRejectsUncommitted(t *testing.T) {
	_, author, book := libraryInstance(t)

	draft, err := author.NewDocument()
	require.NoError(t, err)

	doc, err := book.NewDocument()
	require.NoError(t, err)
	err = doc.Set("author", draft)
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Child("author").Messages(),
		"Cannot reference a document that has not been committed.")
}

func TestReferenceExistenceCheckedOnCommit(t *testing.T) {
	_, _, book := libraryInstance(t)

	doc, err := book.NewDocument()
	require.NoError(t, err)
	require.NoError(t, doc.Set("title", "orphan"))
	require.NoError(t, doc.Set("author", primitive.NewObjectID()),
		"assignment only checks the shape")

	err = doc.Commit(context.Background())
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Child("author").Messages(), "Reference not found for document Author.")
}

func TestReferenceFetch(t *testing.T) {
	_, author, book := libraryInstance(t)

	ada, err := author.Load(map[string]any{"name": "ada"})
	require.NoError(t, err)
	require.NoError(t, ada.Commit(context.Background()))

	doc, err := book.Load(map[string]any{"title": "notes"})
	require.NoError(t, err)
	require.NoError(t, doc.Set("author", ada))
	require.NoError(t, doc.Commit(context.Background()))

	// reload drops the in-memory cache, forcing a real fetch
	stored, err := book.FindOne(context.Background(), bson.M{"title": "notes"})
	require.NoError(t, err)
	got, err := stored.Get("author")
	require.NoError(t, err)
	ref := got.(*core.Reference)

	fetched, err := ref.Fetch(context.Background())
	require.NoError(t, err)
	name, err := fetched.Get("name")
	require.NoError(t, err)
	assert.Equal(t, "ada", name)

	again, err := ref.Fetch(context.Background())
	require.NoError(t, err)
	assert.Same(t, fetched, again, "fetches cache the target")

	assert.True(t, ref.Equal(fetched))
	assert.True(t, ref.Equal(ada))
}

func TestReferenceFetchMissingTarget(t *testing.T) {
	instance, _, _ := libraryInstance(t)

	ref := core.NewRef(instance, "Author", primitive.NewObjectID())
	_, err := ref.Fetch(context.Background())
	var verr *core.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = core.NewRef(instance, "Nobody", primitive.NewObjectID()).Fetch(context.Background())
	var nreg *core.NotRegisteredError
	assert.ErrorAs(t, err, &nreg)
}

func TestReferenceSerialization(t *testing.T) {
	_, author, book := libraryInstance(t)

	ada, err := author.Load(map[string]any{"name": "ada"})
	require.NoError(t, err)
	require.NoError(t, ada.Commit(context.Background()))
	adaPK, err := ada.PK()
	require.NoError(t, err)

	doc, err := book.Load(map[string]any{"title": "notes"})
	require.NoError(t, err)
	require.NoError(t, doc.Set("author", ada))
	require.NoError(t, doc.Commit(context.Background()))

	out, err := doc.Dump()
	require.NoError(t, err)
	assert.Equal(t, adaPK.(primitive.ObjectID).Hex(), out["author"],
		"a reference dumps as the target's public pk")

	// the stored record carries the raw pk
	coll, err := book.Collection()
	require.NoError(t, err)
	raw, err := coll.FindOne(context.Background(), bson.M{}, nil)
	require.NoError(t, err)
	require.NotNil(t, raw)
	assert.Equal(t, adaPK, raw["author"])
}

func TestGenericReference(t *testing.T) {
	_, author, book := libraryInstance(t)

	ada, err := author.Load(map[string]any{"name": "ada"})
	require.NoError(t, err)
	require.NoError(t, ada.Commit(context.Background()))
	adaPK, err := ada.PK()
	require.NoError(t, err)

	doc, err := book.Load(map[string]any{"title": "notes"})
	require.NoError(t, err)
	require.NoError(t, doc.Set("anything", map[string]any{
		"cls": "Author", "id": adaPK.(primitive.ObjectID).Hex(),
	}))
	require.NoError(t, doc.Commit(context.Background()))

	out, err := doc.Dump()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"cls": "Author", "id": adaPK.(primitive.ObjectID).Hex(),
	}, out["anything"])

	coll, err := book.Collection()
	require.NoError(t, err)
	raw, err := coll.FindOne(context.Background(), bson.M{}, nil)
	require.NoError(t, err)
	require.NotNil(t, raw)
	assert.Equal(t, bson.M{"_id": adaPK, "_cls": "Author"}, raw["anything"],
		"the stored form uses storage keys")

	// round trip back through a read
	stored, err := book.FindOne(context.Background(), bson.M{"title": "notes"})
	require.NoError(t, err)
	got, err := stored.Get("anything")
	require.NoError(t, err)
	ref := got.(*core.Reference)
	assert.Equal(t, "Author", ref.DocumentName())
	assert.Equal(t, adaPK, ref.PK())
}

func TestGenericReferenceRejectsBadShapes(t *testing.T) {
	_, _, book := libraryInstance(t)

	doc, err := book.NewDocument()
	require.NoError(t, err)

	for _, bad := range []any{
		"just-a-string",
		map[string]any{"id": "x"},
		map[string]any{"id": "x", "cls": "Author", "extra": 1},
		map[string]any{"id": "x", "cls": 42},
	} {
		err := doc.Set("anything", bad)
		var verr *core.ValidationError
		assert.ErrorAs(t, err, &verr, "%v", bad)
	}

	err = doc.Set("anything", map[string]any{"id": primitive.NewObjectID().Hex(), "cls": "Nobody"})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Child("anything").Messages(), "Unknown document class Nobody.")
}

func TestReferencesInContainers(t *testing.T) {
	instance := core.NewInstance(memdrv.NewMemoryDatabase("test"))
	_, err := instance.Register(core.NewTemplate("Author", core.Fields{
		{Name: "name", Field: core.NewString()},
	}, core.Meta{}))
	require.NoError(t, err)
	anthology, err := instance.Register(core.NewTemplate("Anthology", core.Fields{
		{Name: "authors", Field: core.NewListField(core.NewReference("Author"))},
	}, core.Meta{}))
	require.NoError(t, err)

	doc, err := anthology.NewDocument()
	require.NoError(t, err)
	require.NoError(t, doc.Set("authors", []any{primitive.NewObjectID()}))

	// the existence check descends into list elements
	err = doc.Commit(context.Background())
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	require.NotNil(t, verr.Child("authors"))
	assert.Contains(t, verr.Child("authors").Child("0").Messages(),
		"Reference not found for document Author.")
}
