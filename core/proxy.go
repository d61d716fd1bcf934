// Package core provides the fundamental building blocks of the calamus ODM.
// This file defines the DataProxy: the runtime container holding a
// document's field values, keyed by storage name, with a per-field
// modification set so updates can be emitted as partial patches.
package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"
)

// DataProxy owns a document's value map and modification set. Loading from
// the database clears the modification set; every mutation (direct or
// propagated from a nested container) re-populates it.
type DataProxy struct {
	schema   *Schema
	values   map[string]any // storage name -> value (may be Missing)
	unknown  bson.M         // passthrough keys from a non-strict db load
	modified map[string]struct{}
	partial  bool
	onModify func()
}

func newDataProxy(schema *Schema) *DataProxy {
	d := &DataProxy{
		schema:   schema,
		values:   make(map[string]any, len(schema.order)),
		modified: make(map[string]struct{}),
	}
	for _, name := range schema.order {
		b := schema.fields[name].base()
		d.values[b.StorageName()] = b.resolveDefault()
	}
	d.installCallbacks()
	return d
}

// Partial reports whether the proxy was filled from a projected load.
func (d *DataProxy) Partial() bool { return d.partial }

// Load replaces the whole value map from a public record. Absent fields
// receive their default or Missing. Clears the modification set.
func (d *DataProxy) Load(data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	values, _, err := d.schema.Load(data)
	if err != nil {
		return err
	}
	d.values = values
	d.unknown = nil
	d.partial = false
	d.installCallbacks()
	d.clearModifiedSet()
	return nil
}

// FromDB replaces the whole value map from a raw database record. Unknown
// keys fail under a strict schema and round-trip otherwise. Clears the
// modification set and records partiality.
func (d *DataProxy) FromDB(raw bson.M, partial bool) error {
	values, passthrough, err := d.schema.LoadDB(raw)
	if err != nil {
		return err
	}
	d.values = values
	d.unknown = passthrough
	d.partial = partial
	d.installCallbacks()
	d.clearModifiedSet()
	return nil
}

// ToDB builds a fresh database record from the non-missing values,
// including passthrough keys kept from a non-strict load.
func (d *DataProxy) ToDB() (bson.M, error) {
	out, err := d.schema.DumpDB(d.values)
	if err != nil {
		return nil, err
	}
	for key, value := range d.unknown {
		out[key] = value
	}
	return out, nil
}

// ToDBUpdate renders the pending modifications as a partial update patch of
// the shape {$set: {...}, $unset: {...}}. A modified field whose value is
// Missing goes into $unset. Modified nested containers always render as a
// full $set of the container, since the database rewrites whole arrays and
// subdocuments. Returns nil when nothing changed.
func (d *DataProxy) ToDBUpdate() (bson.M, error) {
	set := bson.M{}
	unset := bson.M{}

	for _, name := range d.schema.order {
		f := d.schema.fields[name]
		storage := f.base().StorageName()
		value := d.values[storage]

		_, explicit := d.modified[storage]
		nested := false
		if n, ok := value.(mutationNotifier); ok && n.isModified() {
			nested = true
		}
		if !explicit && !nested {
			continue
		}
		if IsMissing(value) {
			unset[storage] = ""
			continue
		}
		dbValue, err := SerializeDB(f, value)
		if err != nil {
			return nil, err
		}
		set[storage] = dbValue
	}

	if len(set) == 0 && len(unset) == 0 {
		return nil, nil
	}
	patch := bson.M{}
	if len(set) > 0 {
		patch["$set"] = set
	}
	if len(unset) > 0 {
		patch["$unset"] = unset
	}
	return patch, nil
}

// Set assigns a field by public name, deserializing the value and marking
// the storage name modified.
func (d *DataProxy) Set(name string, value any) error {
	f, ok := d.schema.fields[name]
	if !ok {
		return NewValidationError(fmt.Sprintf("Unknown field name %s.", name))
	}
	object, err := Deserialize(f, value)
	if err != nil {
		return mergeFieldError(nil, name, err)
	}
	storage := f.base().StorageName()
	d.values[storage] = object
	d.markModified(storage)
	if n, ok := object.(mutationNotifier); ok {
		n.setModifyCallback(func() { d.markModified(storage) })
	}
	return nil
}

// Get reads a field by public name. The Missing sentinel is returned as-is;
// callers normalize it unless the context exposes it.
func (d *DataProxy) Get(name string) (any, error) {
	f, ok := d.schema.fields[name]
	if !ok {
		return nil, NewValidationError(fmt.Sprintf("Unknown field name %s.", name))
	}
	return d.values[f.base().StorageName()], nil
}

// Delete clears a field by public name, registering the modification so the
// next update patch emits a $unset.
func (d *DataProxy) Delete(name string) error {
	f, ok := d.schema.fields[name]
	if !ok {
		return NewValidationError(fmt.Sprintf("Unknown field name %s.", name))
	}
	storage := f.base().StorageName()
	d.values[storage] = Missing
	d.markModified(storage)
	return nil
}

// ModifiedFields returns the public names of the modified fields, sorted.
func (d *DataProxy) ModifiedFields() []string {
	names := make([]string, 0, len(d.modified))
	for storage := range d.modified {
		if public, ok := d.schema.PublicName(storage); ok {
			names = append(names, public)
		}
	}
	for _, name := range d.schema.order {
		f := d.schema.fields[name]
		storage := f.base().StorageName()
		if _, explicit := d.modified[storage]; explicit {
			continue
		}
		if n, ok := d.values[storage].(mutationNotifier); ok && n.isModified() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ClearModified resets the modification set, recursing into nested
// containers and embedded documents.
func (d *DataProxy) ClearModified() {
	d.clearModifiedSet()
	for _, value := range d.values {
		if n, ok := value.(mutationNotifier); ok {
			n.clearModifiedDeep()
		}
	}
}

// RequiredValidate re-runs the required checks over the whole structure.
// A present embedded document is validated recursively; a missing embedded
// slot is not. Errors aggregate in schema shape.
func (d *DataProxy) RequiredValidate() error {
	var errs *ValidationError
	for _, name := range d.schema.order {
		f := d.schema.fields[name]
		value := d.values[f.base().StorageName()]
		if IsMissing(value) {
			if f.base().Required {
				errs = addFieldError(errs, name, NewValidationError("Missing data for required field."))
			}
			continue
		}
		if child := requiredValidateValue(value); child != nil {
			errs = addFieldError(errs, name, child)
		}
	}
	if errs.Empty() {
		return nil
	}
	return errs
}

func requiredValidateValue(value any) *ValidationError {
	switch v := value.(type) {
	case *EmbeddedDoc:
		if err := v.data.RequiredValidate(); err != nil {
			var verr *ValidationError
			if asValidationError(err, &verr) {
				return verr
			}
			return NewValidationError(err.Error())
		}
	case *List:
		var errs *ValidationError
		for i, item := range v.items {
			if child := requiredValidateValue(item); child != nil {
				errs = addFieldError(errs, indexKey(i), child)
			}
		}
		return errs
	case *Dict:
		var errs *ValidationError
		for key, item := range v.items {
			if child := requiredValidateValue(item); child != nil {
				errs = addFieldError(errs, key, child)
			}
		}
		return errs
	}
	return nil
}

// ioJob is one I/O validator invocation, addressed by its error-tree path.
type ioJob struct {
	path []string
	run  func(ctx context.Context) error
}

// IOValidate runs the I/O validators over every field, or only the modified
// ones. Under concurrent mode all validators launch together and are all
// awaited; errors are aggregated deterministically into a single
// ValidationError. Validation never mutates the proxy.
func (d *DataProxy) IOValidate(ctx context.Context, onlyModified, concurrent bool) error {
	jobs := d.collectIOJobs(onlyModified)
	if len(jobs) == 0 {
		return nil
	}

	type outcome struct {
		path []string
		err  error
	}
	results := make([]outcome, len(jobs))

	if concurrent {
		group, groupCtx := errgroup.WithContext(ctx)
		var mu sync.Mutex
		for i, job := range jobs {
			i, job := i, job
			group.Go(func() error {
				err := job.run(groupCtx)
				mu.Lock()
				results[i] = outcome{path: job.path, err: err}
				mu.Unlock()
				// Validation failures aggregate; only infrastructure
				// errors abort the group.
				var verr *ValidationError
				if err != nil && !asValidationError(err, &verr) {
					return err
				}
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return err
		}
	} else {
		for i, job := range jobs {
			err := job.run(ctx)
			var verr *ValidationError
			if err != nil && !asValidationError(err, &verr) {
				return err
			}
			results[i] = outcome{path: job.path, err: err}
		}
	}

	var errs *ValidationError
	for _, r := range results {
		if r.err == nil {
			continue
		}
		var verr *ValidationError
		asValidationError(r.err, &verr)
		errs = attachAtPath(errs, r.path, verr)
	}
	if errs.Empty() {
		return nil
	}
	return errs
}

func (d *DataProxy) collectIOJobs(onlyModified bool) []ioJob {
	var jobs []ioJob
	for _, name := range d.schema.order {
		f := d.schema.fields[name]
		storage := f.base().StorageName()
		value := d.values[storage]
		if onlyModified {
			_, explicit := d.modified[storage]
			nested := false
			if n, ok := value.(mutationNotifier); ok && n.isModified() {
				nested = true
			}
			if !explicit && !nested {
				continue
			}
		}
		jobs = append(jobs, collectFieldIOJobs([]string{name}, f, value)...)
	}
	return jobs
}

func collectFieldIOJobs(path []string, f Field, value any) []ioJob {
	if IsMissing(value) || value == nil {
		return nil
	}
	var jobs []ioJob
	for _, validator := range f.base().IOValidators {
		validator := validator
		value := value
		jobs = append(jobs, ioJob{
			path: path,
			run:  func(ctx context.Context) error { return validator(ctx, value) },
		})
	}
	switch v := value.(type) {
	case *EmbeddedDoc:
		for _, inner := range v.data.schema.order {
			innerField := v.data.schema.fields[inner]
			innerValue := v.data.values[innerField.base().StorageName()]
			childPath := append(append([]string(nil), path...), inner)
			jobs = append(jobs, collectFieldIOJobs(childPath, innerField, innerValue)...)
		}
	case *List:
		if lf, ok := f.(*ListField); ok {
			for i, item := range v.items {
				childPath := append(append([]string(nil), path...), indexKey(i))
				jobs = append(jobs, collectFieldIOJobs(childPath, lf.Element, item)...)
			}
		}
	case *Dict:
		if df, ok := f.(*DictField); ok {
			for _, key := range v.Keys() {
				item, _ := v.Get(key)
				childPath := append(append([]string(nil), path...), key)
				jobs = append(jobs, collectFieldIOJobs(childPath, df.Value, item)...)
			}
		}
	}
	return jobs
}

func attachAtPath(errs *ValidationError, path []string, child *ValidationError) *ValidationError {
	if errs == nil {
		errs = &ValidationError{}
	}
	node := errs
	for _, segment := range path[:len(path)-1] {
		next := node.Child(segment)
		if next == nil {
			next = &ValidationError{}
			node.SetChild(segment, next)
		}
		node = next
	}
	node.SetChild(path[len(path)-1], child)
	return errs
}

func (d *DataProxy) markModified(storage string) {
	d.modified[storage] = struct{}{}
	if d.onModify != nil {
		d.onModify()
	}
}

func (d *DataProxy) clearModifiedSet() {
	d.modified = make(map[string]struct{})
}

// anyModified reports whether any field was modified, directly or through a
// nested container.
func (d *DataProxy) anyModified() bool {
	if len(d.modified) > 0 {
		return true
	}
	for _, value := range d.values {
		if n, ok := value.(mutationNotifier); ok && n.isModified() {
			return true
		}
	}
	return false
}

// installCallbacks rebinds nested containers and embedded documents to this
// proxy's modification signal after a full load.
func (d *DataProxy) installCallbacks() {
	for _, name := range d.schema.order {
		storage := d.schema.fields[name].base().StorageName()
		if n, ok := d.values[storage].(mutationNotifier); ok {
			storage := storage
			n.setModifyCallback(func() { d.markModified(storage) })
		}
	}
}
