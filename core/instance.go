// Package core provides the fundamental building blocks of the calamus ODM.
// This file defines the Instance: the registry binding templates to a
// database handle and a driver. Registration compiles each template into an
// Implementation; lookups by name resolve forward references.
package core

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
)

// Instance is a per-database registry of document classes. It is expected
// to be fully populated at startup, before concurrent use; registration is
// not synchronized.
type Instance struct {
	db           Database
	driverName   string
	concurrentIO bool

	order    []string
	docs     map[string]*Implementation
	embedded map[string]*EmbeddedImplementation
}

// InstanceOption configures an Instance at construction time.
type InstanceOption func(*Instance)

// ConcurrentIO makes I/O validators of a document run concurrently and be
// joined, instead of sequentially in declaration order.
func ConcurrentIO() InstanceOption {
	return func(i *Instance) { i.concurrentIO = true }
}

// ForDriver pins a lazy instance to a driver kind; Init rejects database
// handles from other drivers.
func ForDriver(name string) InstanceOption {
	return func(i *Instance) { i.driverName = name }
}

// NewInstance builds an instance bound to a database handle.
func NewInstance(db Database, opts ...InstanceOption) *Instance {
	i := newInstance(opts)
	i.db = db
	i.driverName = db.DriverName()
	return i
}

// NewLazyInstance builds an instance without a database handle. Documents
// register normally, but touching a collection fails with ErrNoDatabase
// until Init supplies the handle. The instance kind is fixed at
// construction; Init only provides the handle.
func NewLazyInstance(opts ...InstanceOption) *Instance {
	return newInstance(opts)
}

func newInstance(opts []InstanceOption) *Instance {
	i := &Instance{
		docs:     make(map[string]*Implementation),
		embedded: make(map[string]*EmbeddedImplementation),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Init supplies the database handle of a lazily constructed instance.
func (i *Instance) Init(db Database) error {
	if !i.IsCompatibleWith(db) {
		return ErrNoCompatibleDriver
	}
	i.db = db
	i.driverName = db.DriverName()
	return nil
}

// DB returns the bound database handle, or ErrNoDatabase.
func (i *Instance) DB() (Database, error) {
	if i.db == nil {
		return nil, ErrNoDatabase
	}
	return i.db, nil
}

// IsCompatibleWith reports whether the instance accepts the given database
// handle. A registry of instance kinds uses it to dispatch to the right
// driver.
func (i *Instance) IsCompatibleWith(db Database) bool {
	if db == nil {
		return false
	}
	return i.driverName == "" || i.driverName == db.DriverName()
}

// Register compiles a document template into an Implementation bound to
// this instance. The template's bases must already be registered; names are
// unique across the instance's document and embedded sets; a template
// belongs to a single instance.
func (i *Instance) Register(t *Template) (*Implementation, error) {
	if err := i.checkName(t); err != nil {
		return nil, err
	}
	impl, err := i.buildImplementation(t)
	if err != nil {
		return nil, err
	}
	t.ownedBy = i
	i.order = append(i.order, t.Name)
	i.docs[t.Name] = impl
	return impl, nil
}

// RegisterEmbedded compiles an embedded document template.
func (i *Instance) RegisterEmbedded(t *Template) (*EmbeddedImplementation, error) {
	if err := i.checkName(t); err != nil {
		return nil, err
	}
	impl, err := i.buildEmbedded(t)
	if err != nil {
		return nil, err
	}
	t.ownedBy = i
	i.order = append(i.order, t.Name)
	i.embedded[t.Name] = impl
	return impl, nil
}

// Resolve looks up a document implementation by class name.
func (i *Instance) Resolve(name string) (*Implementation, error) {
	impl, ok := i.docs[name]
	if !ok {
		return nil, &NotRegisteredError{Name: name}
	}
	return impl, nil
}

// ResolveEmbedded looks up an embedded implementation by class name.
func (i *Instance) ResolveEmbedded(name string) (*EmbeddedImplementation, error) {
	impl, ok := i.embedded[name]
	if !ok {
		return nil, &NotRegisteredError{Name: name}
	}
	return impl, nil
}

// EnsureIndexes materializes the index plan of every registered concrete
// document class. Failures are collected per class rather than aborting at
// the first one.
func (i *Instance) EnsureIndexes(ctx context.Context) error {
	var err error
	for _, name := range i.order {
		impl, ok := i.docs[name]
		if !ok || impl.opts.Abstract {
			continue
		}
		if implErr := impl.EnsureIndexes(ctx); implErr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", name, implErr))
		}
	}
	return err
}

// DocumentNames returns the registered class names in registration order.
func (i *Instance) DocumentNames() []string {
	return append([]string(nil), i.order...)
}

func (i *Instance) checkName(t *Template) error {
	if _, dup := i.docs[t.Name]; dup {
		return &AlreadyRegisteredError{Name: t.Name}
	}
	if _, dup := i.embedded[t.Name]; dup {
		return &AlreadyRegisteredError{Name: t.Name}
	}
	if t.ownedBy != nil && t.ownedBy != i {
		return &AlreadyRegisteredError{Name: t.Name}
	}
	return nil
}

func (i *Instance) optionsOf(name string) *Options {
	if impl, ok := i.docs[name]; ok {
		return impl.opts
	}
	if impl, ok := i.embedded[name]; ok {
		return impl.opts
	}
	return nil
}

// descendsFrom reports whether the class described by opts has baseName
// among its transitive bases.
func (i *Instance) descendsFrom(opts *Options, baseName string) bool {
	for _, base := range opts.BaseNames {
		if base == baseName {
			return true
		}
		if baseOpts := i.optionsOf(base); baseOpts != nil && i.descendsFrom(baseOpts, baseName) {
			return true
		}
	}
	return false
}

// documentIs reports whether impl is the named class or one of its
// descendants.
func (i *Instance) documentIs(impl *Implementation, name string) bool {
	return impl.name == name || i.descendsFrom(impl.opts, name)
}

// embeddedIs reports whether impl is the named embedded class or one of
// its descendants.
func (i *Instance) embeddedIs(impl *EmbeddedImplementation, name string) bool {
	return impl.name == name || i.descendsFrom(impl.opts, name)
}
