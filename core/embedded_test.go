package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/calamus-odm/calamus/core"
	memdrv "github.com/calamus-odm/calamus/driver/memory"
)

func addressInstance(t *testing.T) (*core.Instance, *core.EmbeddedImplementation, *core.Implementation) {
	t.Helper()
	instance := core.NewInstance(memdrv.NewMemoryDatabase("test"))
	address, err := instance.RegisterEmbedded(core.NewTemplate("Address", core.Fields{
		{Name: "street", Field: core.NewString(core.Required())},
		{Name: "city", Field: core.NewString(core.Attribute("c"))},
	}, core.Meta{}))
	require.NoError(t, err)
	person, err := instance.Register(core.NewTemplate("Person", core.Fields{
		{Name: "name", Field: core.NewString()},
		{Name: "home", Field: core.NewEmbedded("Address")},
	}, core.Meta{}))
	require.NoError(t, err)
	return instance, address, person
}

func TestEmbeddedLoadAndDump(t *testing.T) {
	_, address, _ := addressInstance(t)

	home, err := address.Load(map[string]any{"street": "1 Main St", "city": "london"})
	require.NoError(t, err)

	city, err := home.Get("city")
	require.NoError(t, err)
	assert.Equal(t, "london", city)

	out, err := home.Dump()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"street": "1 Main St", "city": "london"}, out)

	_, err = address.Load(map[string]any{"street": 42})
	var verr *core.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestEmbeddedFieldAcceptsMapAndDoc(t *testing.T) {
	_, address, person := addressInstance(t)

	doc, err := person.NewDocument()
	require.NoError(t, err)

	require.NoError(t, doc.Set("home", map[string]any{"street": "1 Main St"}))

	home, err := address.Load(map[string]any{"street": "2 Side St"})
	require.NoError(t, err)
	require.NoError(t, doc.Set("home", home))

	got, err := doc.Get("home")
	require.NoError(t, err)
	assert.Same(t, home, got)

	err = doc.Set("home", "not-a-doc")
	var verr *core.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestEmbeddedPersistence(t *testing.T) {
	_, _, person := addressInstance(t)

	doc, err := person.Load(map[string]any{
		"name": "ada",
		"home": map[string]any{"street": "1 Main St", "city": "london"},
	})
	require.NoError(t, err)
	require.NoError(t, doc.Commit(context.Background()))

	coll, err := person.Collection()
	require.NoError(t, err)
	raw, err := coll.FindOne(context.Background(), bson.M{}, nil)
	require.NoError(t, err)
	require.NotNil(t, raw)
	assert.Equal(t, bson.M{"street": "1 Main St", "c": "london"}, raw["home"],
		"embedded fields store under their own storage names")

	stored, err := person.FindOne(context.Background(), bson.M{"name": "ada"})
	require.NoError(t, err)
	got, err := stored.Get("home")
	require.NoError(t, err)
	home := got.(*core.EmbeddedDoc)
	city, err := home.Get("city")
	require.NoError(t, err)
	assert.Equal(t, "london", city)
}

func TestEmbeddedFilterPaths(t *testing.T) {
	_, _, person := addressInstance(t)

	doc, err := person.Load(map[string]any{
		"name": "ada",
		"home": map[string]any{"street": "1 Main St", "city": "london"},
	})
	require.NoError(t, err)
	require.NoError(t, doc.Commit(context.Background()))

	found, err := person.FindOne(context.Background(), bson.M{"home.city": "london"})
	require.NoError(t, err)
	require.NotNil(t, found, "dotted filters traverse the embedded schema with renaming")

	_, err = person.FindOne(context.Background(), bson.M{"home.bogus": 1})
	assert.ErrorIs(t, err, core.ErrInvalidUsage)
}

func TestEmbeddedModificationPropagates(t *testing.T) {
	_, _, person := addressInstance(t)

	doc, err := person.Load(map[string]any{
		"name": "ada",
		"home": map[string]any{"street": "1 Main St"},
	})
	require.NoError(t, err)
	require.NoError(t, doc.Commit(context.Background()))
	require.False(t, doc.IsModified())

	got, err := doc.Get("home")
	require.NoError(t, err)
	home := got.(*core.EmbeddedDoc)
	require.NoError(t, home.Set("city", "paris"))

	assert.True(t, doc.IsModified(), "embedded mutations bubble to the document")
	require.NoError(t, doc.Commit(context.Background()))

	require.NoError(t, doc.Reload(context.Background()))
	got, err = doc.Get("home")
	require.NoError(t, err)
	city, err := got.(*core.EmbeddedDoc).Get("city")
	require.NoError(t, err)
	assert.Equal(t, "paris", city)
}

func TestEmbeddedRequiredValidation(t *testing.T) {
	_, _, person := addressInstance(t)

	doc, err := person.Load(map[string]any{
		"name": "ada",
		"home": map[string]any{"city": "london"},
	})
	require.NoError(t, err)

	err = doc.Commit(context.Background())
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"Missing data for required field."},
		verr.Child("home").Child("street").Messages())
}

func embeddedInheritanceInstance(t *testing.T) (*core.Instance, *core.Implementation) {
	t.Helper()
	instance := core.NewInstance(memdrv.NewMemoryDatabase("test"))
	_, err := instance.RegisterEmbedded(core.NewTemplate("Shape", core.Fields{
		{Name: "label", Field: core.NewString()},
	}, core.Meta{AllowInheritance: true}))
	require.NoError(t, err)
	_, err = instance.RegisterEmbedded(core.NewTemplate("Circle", core.Fields{
		{Name: "radius", Field: core.NewFloat()},
	}, core.Meta{Bases: []string{"Shape"}}))
	require.NoError(t, err)
	drawing, err := instance.Register(core.NewTemplate("Drawing", core.Fields{
		{Name: "shape", Field: core.NewEmbedded("Shape")},
	}, core.Meta{}))
	require.NoError(t, err)
	return instance, drawing
}

func TestEmbeddedInheritanceDispatch(t *testing.T) {
	_, drawing := embeddedInheritanceInstance(t)

	doc, err := drawing.NewDocument()
	require.NoError(t, err)
	require.NoError(t, doc.Set("shape", map[string]any{
		"cls": "Circle", "label": "c1", "radius": 2.5,
	}))
	require.NoError(t, doc.Commit(context.Background()))

	coll, err := drawing.Collection()
	require.NoError(t, err)
	raw, err := coll.FindOne(context.Background(), bson.M{}, nil)
	require.NoError(t, err)
	require.NotNil(t, raw)
	assert.Equal(t, "Circle", raw["shape"].(bson.M)["_cls"],
		"inheriting embedded records carry the discriminator")

	stored, err := drawing.FindOne(context.Background(), nil)
	require.NoError(t, err)
	got, err := stored.Get("shape")
	require.NoError(t, err)
	shape := got.(*core.EmbeddedDoc)
	assert.Equal(t, "Circle", shape.Implementation().Name(),
		"reads rebuild the concrete embedded kind")

	radius, err := shape.Get("radius")
	require.NoError(t, err)
	assert.Equal(t, 2.5, radius)
}

func TestEmbeddedUnknownClassRejected(t *testing.T) {
	_, drawing := embeddedInheritanceInstance(t)

	doc, err := drawing.NewDocument()
	require.NoError(t, err)
	err = doc.Set("shape", map[string]any{"cls": "Square", "label": "x"})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Child("shape").Messages(), "Unknown document class Square.")
}

func TestEmbeddedRegistryNamespaces(t *testing.T) {
	instance, _, _ := addressInstance(t)

	resolved, err := instance.ResolveEmbedded("Address")
	require.NoError(t, err)
	assert.Equal(t, "Address", resolved.Name())

	_, err = instance.Resolve("Address")
	var nreg *core.NotRegisteredError
	assert.ErrorAs(t, err, &nreg, "embedded classes live in their own namespace")

	_, err = instance.RegisterEmbedded(core.NewTemplate("Person", core.Fields{}, core.Meta{}))
	var dup *core.AlreadyRegisteredError
	assert.ErrorAs(t, err, &dup, "names are unique across both namespaces")
}
