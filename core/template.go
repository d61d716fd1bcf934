// Package core provides the fundamental building blocks of the calamus ODM.
// This file defines templates — declarative, instance-free document classes —
// and the options computed from them at registration time.
package core

// Meta carries the declarative options of a template.
type Meta struct {
	// CollectionName binds the class to a collection. Empty means derived
	// from the class name (camel-case to snake-case). Abstract classes must
	// leave it empty; child classes may not redefine it.
	CollectionName string
	// Abstract classes cannot be instantiated and have no collection.
	// Abstract implies AllowInheritance.
	Abstract bool
	// AllowInheritance permits child templates to declare this class as a
	// base.
	AllowInheritance bool
	// Strict controls unknown-key handling when loading database records.
	// Unset means strict.
	Strict *bool
	// Indexes lists index declarations: strings, string lists, IndexSpec
	// values, or pre-built IndexModel values.
	Indexes []any
	// Bases names the parent templates, which must be registered first.
	Bases []string
}

// Template is a user declaration: a name, ordered field declarations, and
// meta options. Registration binds the declared fields to an instance, so a
// template belongs to at most one instance.
type Template struct {
	Name   string
	Fields Fields
	Meta   Meta

	preHooks  map[PreHook][]PreHookFunc
	postHooks map[PostHook][]PostHookFunc
	ownedBy   *Instance
}

// NewTemplate declares a document template.
func NewTemplate(name string, fields Fields, meta Meta) *Template {
	return &Template{
		Name:      name,
		Fields:    fields,
		Meta:      meta,
		preHooks:  make(map[PreHook][]PreHookFunc),
		postHooks: make(map[PostHook][]PostHookFunc),
	}
}

// RegisterPreHook attaches a hook executed before a lifecycle operation.
// PreUpdate and PreDelete hooks may return an extra filter map (public
// names) conjoined with the operation's conditions.
func (t *Template) RegisterPreHook(hook PreHook, fn PreHookFunc) {
	t.preHooks[hook] = append(t.preHooks[hook], fn)
}

// RegisterPostHook attaches a hook executed after a lifecycle operation.
func (t *Template) RegisterPostHook(hook PostHook, fn PostHookFunc) {
	t.postHooks[hook] = append(t.postHooks[hook], fn)
}

// Options is the registration-time metadata derived from a template.
type Options struct {
	// CollectionName is empty for abstract and embedded classes.
	CollectionName string
	Abstract       bool
	AllowInheritance bool
	// IsChild is true when a non-abstract parent exists; it forces the
	// class discriminator on records and indexes.
	IsChild bool
	// Strict controls unknown-key handling on database loads.
	Strict bool
	// Indexes is the derived index plan.
	Indexes []IndexModel
	// BaseNames lists the direct parent class names.
	BaseNames []string
	// Children collects direct child class names; it is the only Options
	// field mutated after registration (when a child registers).
	Children map[string]struct{}
	// Instance points back to the owning registry.
	Instance *Instance
	// Template points to the source declaration.
	Template *Template
}

// Offspring returns the transitive child class names, for
// inheritance-aware queries.
func (o *Options) Offspring() []string {
	var out []string
	var walk func(opts *Options)
	walk = func(opts *Options) {
		for child := range opts.Children {
			out = append(out, child)
			if childOpts := o.Instance.optionsOf(child); childOpts != nil {
				walk(childOpts)
			}
		}
	}
	walk(o)
	return out
}
