package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calamus-odm/calamus/core"
	memdrv "github.com/calamus-odm/calamus/driver/memory"
)

func simpleTemplate(name string, meta core.Meta) *core.Template {
	return core.NewTemplate(name, core.Fields{
		{Name: "name", Field: core.NewString()},
	}, meta)
}

func TestRegisterAndResolve(t *testing.T) {
	instance := core.NewInstance(memdrv.NewMemoryDatabase("test"))

	impl, err := instance.Register(simpleTemplate("BlogPost", core.Meta{}))
	require.NoError(t, err)
	assert.Equal(t, "BlogPost", impl.Name())
	assert.Equal(t, "blog_post", impl.Options().CollectionName,
		"the collection name derives from the class name")

	resolved, err := instance.Resolve("BlogPost")
	require.NoError(t, err)
	assert.Same(t, impl, resolved)

	_, err = instance.Resolve("Ghost")
	var nreg *core.NotRegisteredError
	require.ErrorAs(t, err, &nreg)
	assert.Equal(t, "Ghost", nreg.Name)

	assert.Equal(t, []string{"BlogPost"}, instance.DocumentNames())
}

func TestRegisterDuplicateName(t *testing.T) {
	instance := core.NewInstance(memdrv.NewMemoryDatabase("test"))

	_, err := instance.Register(simpleTemplate("Person", core.Meta{}))
	require.NoError(t, err)

	_, err = instance.Register(simpleTemplate("Person", core.Meta{}))
	var dup *core.AlreadyRegisteredError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "Person", dup.Name)
}

func TestTemplateBelongsToOneInstance(t *testing.T) {
	first := core.NewInstance(memdrv.NewMemoryDatabase("a"))
	second := core.NewInstance(memdrv.NewMemoryDatabase("b"))

	template := simpleTemplate("Person", core.Meta{})
	_, err := first.Register(template)
	require.NoError(t, err)

	_, err = second.Register(template)
	var dup *core.AlreadyRegisteredError
	assert.ErrorAs(t, err, &dup, "registration binds fields, so a template has one home")
}

func TestExplicitCollectionName(t *testing.T) {
	instance := core.NewInstance(memdrv.NewMemoryDatabase("test"))

	impl, err := instance.Register(simpleTemplate("Person", core.Meta{CollectionName: "people"}))
	require.NoError(t, err)
	assert.Equal(t, "people", impl.Options().CollectionName)
}

func TestLazyInstance(t *testing.T) {
	instance := core.NewLazyInstance()

	person, err := instance.Register(simpleTemplate("Person", core.Meta{}))
	require.NoError(t, err)

	_, err = instance.DB()
	assert.ErrorIs(t, err, core.ErrNoDatabase)
	_, err = person.FindOne(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrNoDatabase)

	db := memdrv.NewMemoryDatabase("test")
	require.NoError(t, instance.Init(db))

	doc, err := person.Load(map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.NoError(t, doc.Commit(context.Background()))
}

func TestLazyInstanceDriverPinning(t *testing.T) {
	instance := core.NewLazyInstance(core.ForDriver("mongo"))

	db := memdrv.NewMemoryDatabase("test")
	assert.False(t, instance.IsCompatibleWith(db))
	assert.ErrorIs(t, instance.Init(db), core.ErrNoCompatibleDriver)

	open := core.NewLazyInstance()
	assert.True(t, open.IsCompatibleWith(db))
	assert.NoError(t, open.Init(db))
}

func TestAbstractRules(t *testing.T) {
	instance := core.NewInstance(memdrv.NewMemoryDatabase("test"))

	// abstract classes have no collection
	_, err := instance.Register(simpleTemplate("Base", core.Meta{
		Abstract: true, CollectionName: "bases",
	}))
	assert.Error(t, err)

	base, err := instance.Register(simpleTemplate("Base", core.Meta{Abstract: true}))
	require.NoError(t, err)
	assert.Empty(t, base.Options().CollectionName)

	_, err = base.NewDocument()
	assert.ErrorIs(t, err, core.ErrInvalidUsage)
	_, err = base.Collection()
	assert.ErrorIs(t, err, core.ErrInvalidUsage)

	// a child of an abstract class is a root, not a sibling subclass
	child, err := instance.Register(simpleTemplate("Child", core.Meta{Bases: []string{"Base"}}))
	require.NoError(t, err)
	assert.False(t, child.Options().IsChild)
	assert.Equal(t, "child", child.Options().CollectionName)
}

func TestInheritanceRules(t *testing.T) {
	instance := core.NewInstance(memdrv.NewMemoryDatabase("test"))

	_, err := instance.Register(simpleTemplate("Sealed", core.Meta{}))
	require.NoError(t, err)
	_, err = instance.Register(simpleTemplate("Sub", core.Meta{Bases: []string{"Sealed"}}))
	assert.Error(t, err, "inheriting requires AllowInheritance on the base")

	_, err = instance.Register(simpleTemplate("Open", core.Meta{AllowInheritance: true}))
	require.NoError(t, err)

	// a child may not point at a different collection than its parent
	_, err = instance.Register(simpleTemplate("Renegade", core.Meta{
		Bases: []string{"Open"}, CollectionName: "elsewhere",
	}))
	assert.Error(t, err)

	_, err = instance.Register(simpleTemplate("Orphan", core.Meta{Bases: []string{"Missing"}}))
	var nreg *core.NotRegisteredError
	assert.ErrorAs(t, err, &nreg)
}

func TestFieldInheritanceAndOverride(t *testing.T) {
	instance := core.NewInstance(memdrv.NewMemoryDatabase("test"))

	_, err := instance.Register(core.NewTemplate("Animal", core.Fields{
		{Name: "name", Field: core.NewString()},
		{Name: "legs", Field: core.NewInt(core.DefaultValue(int64(4)))},
	}, core.Meta{AllowInheritance: true}))
	require.NoError(t, err)

	bird, err := instance.Register(core.NewTemplate("Bird", core.Fields{
		{Name: "legs", Field: core.NewInt(core.DefaultValue(int64(2)))},
	}, core.Meta{Bases: []string{"Animal"}}))
	require.NoError(t, err)

	assert.Equal(t, []string{"cls", "id", "name", "legs"}, bird.Schema().FieldNames(),
		"an override keeps the inherited declaration position")

	doc, err := bird.NewDocument()
	require.NoError(t, err)
	legs, err := doc.Get("legs")
	require.NoError(t, err)
	assert.Equal(t, int64(2), legs)
}

func TestEnsureIndexes(t *testing.T) {
	db := memdrv.NewMemoryDatabase("test")
	instance := core.NewInstance(db)

	_, err := instance.Register(core.NewTemplate("User", core.Fields{
		{Name: "email", Field: core.NewEmail(core.Required(), core.Unique())},
	}, core.Meta{Indexes: []any{"-email"}}))
	require.NoError(t, err)

	require.NoError(t, instance.EnsureIndexes(context.Background()))

	models, err := db.Collection("user").ListIndexes(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.EffectiveName())
	}
	assert.ElementsMatch(t, []string{"email_-1", "email_1"}, names)

	// idempotent
	require.NoError(t, instance.EnsureIndexes(context.Background()))
	models, err = db.Collection("user").ListIndexes(context.Background())
	require.NoError(t, err)
	assert.Len(t, models, 2)
}

func TestStrictLoadFromDB(t *testing.T) {
	lax := false
	instance := core.NewInstance(memdrv.NewMemoryDatabase("test"))

	strict, err := instance.Register(simpleTemplate("Strict", core.Meta{}))
	require.NoError(t, err)
	tolerant, err := instance.Register(core.NewTemplate("Tolerant", core.Fields{
		{Name: "name", Field: core.NewString()},
	}, core.Meta{Strict: &lax}))
	require.NoError(t, err)

	assert.True(t, strict.Options().Strict)
	assert.False(t, tolerant.Options().Strict)
}
