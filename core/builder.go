// Package core provides the fundamental building blocks of the calamus ODM.
// This file compiles templates into implementations: it resolves bases,
// merges inherited fields, injects the primary key and class discriminator,
// derives the index plan, and binds fields to the owning instance.
package core

import (
	"fmt"
)

func (i *Instance) buildImplementation(t *Template) (*Implementation, error) {
	opts, bases, err := i.computeOptions(t, false)
	if err != nil {
		return nil, err
	}

	merged, err := mergeFieldDefs(basesFieldDefs(bases), t.Fields)
	if err != nil {
		return nil, err
	}
	if opts.IsChild {
		merged = withClassDiscriminator(merged, t.Name)
	}
	if _, ok := findByStorage(merged, "_id"); !ok {
		merged = append(Fields{{Name: "id", Field: NewObjectID(Attribute("_id"), DumpOnly())}}, merged...)
	}
	if err := checkStorageConflicts(merged); err != nil {
		return nil, err
	}

	schema, err := NewSchema(merged, opts.Strict)
	if err != nil {
		return nil, err
	}
	if err := i.bindFields(t.Fields); err != nil {
		return nil, err
	}
	// Inherited fields were bound when the base registered; only fields
	// declared on this template need binding and validator installation.
	installReferenceValidators(t.Fields)

	indexes, err := deriveIndexes(inheritedIndexes(bases), t.Meta.Indexes, schema, opts.IsChild)
	if err != nil {
		return nil, err
	}
	opts.Indexes = indexes

	pkDef, _ := findByStorage(merged, "_id")
	impl := &Implementation{
		name:      t.Name,
		instance:  i,
		template:  t,
		opts:      opts,
		schema:    schema,
		fieldDefs: merged,
		pkField:   pkDef.Field,
		preHooks:  mergePreHooks(bases, t),
		postHooks: mergePostHooks(bases, t),
	}
	for _, base := range bases {
		base.opts.Children[t.Name] = struct{}{}
	}
	return impl, nil
}

func (i *Instance) buildEmbedded(t *Template) (*EmbeddedImplementation, error) {
	opts, _, err := i.computeOptions(t, true)
	if err != nil {
		return nil, err
	}

	var inherited Fields
	for _, name := range t.Meta.Bases {
		inherited = append(inherited, i.embedded[name].fieldDefs...)
	}
	merged, err := mergeFieldDefs(inherited, t.Fields)
	if err != nil {
		return nil, err
	}
	if opts.IsChild {
		merged = withClassDiscriminator(merged, t.Name)
	}
	if err := checkStorageConflicts(merged); err != nil {
		return nil, err
	}

	schema, err := NewSchema(merged, opts.Strict)
	if err != nil {
		return nil, err
	}
	if err := i.bindFields(t.Fields); err != nil {
		return nil, err
	}
	installReferenceValidators(t.Fields)

	impl := &EmbeddedImplementation{
		name:      t.Name,
		instance:  i,
		template:  t,
		opts:      opts,
		schema:    schema,
		fieldDefs: merged,
	}
	for _, name := range t.Meta.Bases {
		i.embedded[name].opts.Children[t.Name] = struct{}{}
	}
	return impl, nil
}

// computeOptions validates a template's meta against its bases and derives
// the registration options.
func (i *Instance) computeOptions(t *Template, asEmbedded bool) (*Options, []*Implementation, error) {
	opts := &Options{
		Abstract:         t.Meta.Abstract,
		AllowInheritance: t.Meta.AllowInheritance || t.Meta.Abstract,
		Strict:           t.Meta.Strict == nil || *t.Meta.Strict,
		BaseNames:        append([]string(nil), t.Meta.Bases...),
		Children:         make(map[string]struct{}),
		Instance:         i,
		Template:         t,
	}

	var bases []*Implementation
	collection := ""
	for _, name := range t.Meta.Bases {
		baseOpts := i.optionsOf(name)
		if baseOpts == nil {
			return nil, nil, &NotRegisteredError{Name: name}
		}
		if asEmbedded {
			if _, ok := i.embedded[name]; !ok {
				return nil, nil, fmt.Errorf("%w: embedded document %s cannot inherit document %s", ErrInvalidUsage, t.Name, name)
			}
		} else {
			base, ok := i.docs[name]
			if !ok {
				return nil, nil, fmt.Errorf("%w: document %s cannot inherit embedded document %s", ErrInvalidUsage, t.Name, name)
			}
			bases = append(bases, base)
		}
		if !baseOpts.AllowInheritance {
			return nil, nil, fmt.Errorf("%w: document %s doesn't allow inheritance", ErrInvalidUsage, name)
		}
		if !baseOpts.Abstract {
			if opts.Abstract {
				return nil, nil, fmt.Errorf("%w: abstract document %s cannot inherit concrete document %s", ErrInvalidUsage, t.Name, name)
			}
			opts.IsChild = true
			collection = baseOpts.CollectionName
		}
	}

	if asEmbedded {
		if t.Meta.CollectionName != "" {
			return nil, nil, fmt.Errorf("%w: embedded document %s cannot have a collection name", ErrInvalidUsage, t.Name)
		}
		return opts, nil, nil
	}

	switch {
	case opts.Abstract:
		if t.Meta.CollectionName != "" {
			return nil, nil, fmt.Errorf("%w: abstract document %s cannot have a collection name", ErrInvalidUsage, t.Name)
		}
	case opts.IsChild:
		if t.Meta.CollectionName != "" && t.Meta.CollectionName != collection {
			return nil, nil, fmt.Errorf("%w: child document %s cannot redefine the collection name", ErrInvalidUsage, t.Name)
		}
		opts.CollectionName = collection
	case t.Meta.CollectionName != "":
		opts.CollectionName = t.Meta.CollectionName
	default:
		opts.CollectionName = camelToSnake(t.Name)
	}
	return opts, bases, nil
}

// mergeFieldDefs layers a template's own fields over the inherited ones. A
// redeclared name overrides the inherited field in place.
func mergeFieldDefs(inherited, own Fields) (Fields, error) {
	merged := append(Fields{}, inherited...)
	for _, def := range own {
		replaced := false
		for idx := range merged {
			if merged[idx].Name == def.Name {
				merged[idx] = def
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, def)
		}
	}
	return merged, nil
}

func basesFieldDefs(bases []*Implementation) Fields {
	var out Fields
	for _, base := range bases {
		out = append(out, base.fieldDefs...)
	}
	return out
}

// withClassDiscriminator installs the _cls discriminator holding this
// class's own name. A def inherited from a concrete parent is replaced in
// place so deeper hierarchies keep a single discriminator field.
func withClassDiscriminator(defs Fields, name string) Fields {
	cls := FieldDef{Name: "cls", Field: NewConstant(name, Attribute("_cls"), DumpOnly())}
	for idx := range defs {
		if defStorageName(defs[idx]) == "_cls" {
			defs[idx] = cls
			return defs
		}
	}
	return append(Fields{cls}, defs...)
}

func findByStorage(defs Fields, storage string) (FieldDef, bool) {
	for _, def := range defs {
		if defStorageName(def) == storage {
			return def, true
		}
	}
	return FieldDef{}, false
}

func defStorageName(def FieldDef) string {
	if attr := def.Field.base().Attribute; attr != "" {
		return attr
	}
	return def.Name
}

func checkStorageConflicts(defs Fields) error {
	seen := make(map[string]string, len(defs))
	for _, def := range defs {
		storage := defStorageName(def)
		if prev, dup := seen[storage]; dup {
			return fmt.Errorf("%w: fields %s and %s both stored as %s", ErrInvalidUsage, prev, def.Name, storage)
		}
		seen[storage] = def.Name
	}
	return nil
}

// instanceBinder is implemented by fields resolving other document classes
// by name (embedded, reference, generic reference).
type instanceBinder interface {
	bindInstance(*Instance)
}

// bindFields wires name-resolving fields to the instance, descending into
// container element fields.
func (i *Instance) bindFields(defs Fields) error {
	for _, def := range defs {
		i.bindField(def.Field)
	}
	return nil
}

func (i *Instance) bindField(f Field) {
	if binder, ok := f.(instanceBinder); ok {
		binder.bindInstance(i)
	}
	switch t := f.(type) {
	case *ListField:
		i.bindField(t.Element)
	case *DictField:
		if t.Key != nil {
			i.bindField(t.Key)
		}
		i.bindField(t.Value)
	}
}

// installReferenceValidators appends the existence check to reference
// fields, including ones nested in containers.
func installReferenceValidators(defs Fields) {
	for _, def := range defs {
		installReferenceValidator(def.Field)
	}
}

func installReferenceValidator(f Field) {
	switch t := f.(type) {
	case *ReferenceField:
		t.IOValidators = append(t.IOValidators, t.ioValidator())
	case *GenericReferenceField:
		t.IOValidators = append(t.IOValidators, t.ioValidator())
	case *ListField:
		installReferenceValidator(t.Element)
	case *DictField:
		installReferenceValidator(t.Value)
	}
}

func inheritedIndexes(bases []*Implementation) []IndexModel {
	var out []IndexModel
	for _, base := range bases {
		out = append(out, base.opts.Indexes...)
	}
	return out
}

func mergePreHooks(bases []*Implementation, t *Template) map[PreHook][]PreHookFunc {
	out := make(map[PreHook][]PreHookFunc)
	for _, base := range bases {
		for hook, fns := range base.preHooks {
			out[hook] = append(out[hook], fns...)
		}
	}
	for hook, fns := range t.preHooks {
		out[hook] = append(out[hook], fns...)
	}
	return out
}

func mergePostHooks(bases []*Implementation, t *Template) map[PostHook][]PostHookFunc {
	out := make(map[PostHook][]PostHookFunc)
	for _, base := range bases {
		for hook, fns := range base.postHooks {
			out[hook] = append(out[hook], fns...)
		}
	}
	for hook, fns := range t.postHooks {
		out[hook] = append(out[hook], fns...)
	}
	return out
}
