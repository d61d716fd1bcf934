// Package core provides the fundamental building blocks of the calamus ODM.
// This file defines the mutable List and Dict containers. Every mutation
// deserializes through the element field (type errors surface at insertion,
// not at commit) and fires a callback closure installed by the owning
// DataProxy. Containers never hold a pointer back to the proxy.
package core

import (
	"sort"
	"strconv"
)

// mutationNotifier is implemented by values that track their own
// modification state and propagate it to an owner through a callback.
type mutationNotifier interface {
	setModifyCallback(cb func())
	isModified() bool
	clearModifiedDeep()
}

// List is the runtime container backing list fields. It preserves order and
// allows duplicates.
type List struct {
	field    Field
	items    []any
	modified bool
	notify   func()
}

// NewList builds an empty list container over the given element field.
func NewList(element Field) *List {
	return &List{field: element}
}

func (l *List) setModifyCallback(cb func()) {
	l.notify = cb
	for _, item := range l.items {
		if n, ok := item.(mutationNotifier); ok {
			n.setModifyCallback(l.touch)
		}
	}
}

func (l *List) isModified() bool {
	if l.modified {
		return true
	}
	for _, item := range l.items {
		if n, ok := item.(mutationNotifier); ok && n.isModified() {
			return true
		}
	}
	return false
}

func (l *List) clearModifiedDeep() {
	l.modified = false
	for _, item := range l.items {
		if n, ok := item.(mutationNotifier); ok {
			n.clearModifiedDeep()
		}
	}
}

func (l *List) touch() {
	l.modified = true
	if l.notify != nil {
		l.notify()
	}
}

// Len returns the number of elements.
func (l *List) Len() int { return len(l.items) }

// Get returns the element at index i.
func (l *List) Get(i int) any { return l.items[i] }

// Values returns a copy of the element slice.
func (l *List) Values() []any {
	return append([]any(nil), l.items...)
}

// Append deserializes value through the element field and appends it.
func (l *List) Append(value any) error {
	object, err := Deserialize(l.field, value)
	if err != nil {
		return err
	}
	l.adopt(object)
	l.items = append(l.items, object)
	l.touch()
	return nil
}

// Insert deserializes value and inserts it at index i.
func (l *List) Insert(i int, value any) error {
	object, err := Deserialize(l.field, value)
	if err != nil {
		return err
	}
	l.adopt(object)
	l.items = append(l.items, nil)
	copy(l.items[i+1:], l.items[i:])
	l.items[i] = object
	l.touch()
	return nil
}

// Set deserializes value and replaces the element at index i.
func (l *List) Set(i int, value any) error {
	object, err := Deserialize(l.field, value)
	if err != nil {
		return err
	}
	l.adopt(object)
	l.items[i] = object
	l.touch()
	return nil
}

// Pop removes and returns the last element.
func (l *List) Pop() any {
	last := len(l.items) - 1
	item := l.items[last]
	l.items = l.items[:last]
	l.touch()
	return item
}

// Del removes the element at index i.
func (l *List) Del(i int) {
	l.items = append(l.items[:i], l.items[i+1:]...)
	l.touch()
}

// Extend appends every value in order, stopping at the first invalid one.
func (l *List) Extend(values ...any) error {
	for _, value := range values {
		if err := l.Append(value); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every element.
func (l *List) Clear() {
	l.items = nil
	l.touch()
}

// Sort orders the elements with the given comparison.
func (l *List) Sort(less func(a, b any) bool) {
	sort.SliceStable(l.items, func(i, j int) bool { return less(l.items[i], l.items[j]) })
	l.touch()
}

// adopt rebinds a nested container or embedded document to this list's
// modification signal.
func (l *List) adopt(object any) {
	if n, ok := object.(mutationNotifier); ok {
		n.setModifyCallback(l.touch)
	}
}

// Dict is the runtime container backing dict fields. Keys are validated
// independently of values.
type Dict struct {
	keyField   Field
	valueField Field
	items      map[string]any
	modified   bool
	notify     func()
}

// NewDict builds an empty dict container. keyField may be nil for plain
// string keys.
func NewDict(keyField, valueField Field) *Dict {
	return &Dict{keyField: keyField, valueField: valueField, items: make(map[string]any)}
}

func (d *Dict) setModifyCallback(cb func()) {
	d.notify = cb
	for _, item := range d.items {
		if n, ok := item.(mutationNotifier); ok {
			n.setModifyCallback(d.touch)
		}
	}
}

func (d *Dict) isModified() bool {
	if d.modified {
		return true
	}
	for _, item := range d.items {
		if n, ok := item.(mutationNotifier); ok && n.isModified() {
			return true
		}
	}
	return false
}

func (d *Dict) clearModifiedDeep() {
	d.modified = false
	for _, item := range d.items {
		if n, ok := item.(mutationNotifier); ok {
			n.clearModifiedDeep()
		}
	}
}

func (d *Dict) touch() {
	d.modified = true
	if d.notify != nil {
		d.notify()
	}
}

// Len returns the number of entries.
func (d *Dict) Len() int { return len(d.items) }

// Get returns the value stored under key.
func (d *Dict) Get(key string) (any, bool) {
	v, ok := d.items[key]
	return v, ok
}

// Keys returns the entry keys in sorted order.
func (d *Dict) Keys() []string {
	keys := make([]string, 0, len(d.items))
	for key := range d.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Set validates the key and deserializes the value, then stores the entry.
func (d *Dict) Set(key string, value any) error {
	if err := d.checkKey(key); err != nil {
		return err
	}
	object, err := Deserialize(d.valueField, value)
	if err != nil {
		return err
	}
	if n, ok := object.(mutationNotifier); ok {
		n.setModifyCallback(d.touch)
	}
	d.items[key] = object
	d.touch()
	return nil
}

// Del removes the entry under key.
func (d *Dict) Del(key string) {
	delete(d.items, key)
	d.touch()
}

// Clear removes every entry.
func (d *Dict) Clear() {
	d.items = make(map[string]any)
	d.touch()
}

// Update sets every entry of the given map, stopping at the first invalid
// one.
func (d *Dict) Update(entries map[string]any) error {
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := d.Set(key, entries[key]); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dict) checkKey(key string) error {
	if d.keyField == nil {
		return nil
	}
	if _, err := Deserialize(d.keyField, key); err != nil {
		child := &ValidationError{}
		var verr *ValidationError
		if asValidationError(err, &verr) {
			child.SetChild("key", verr)
			outer := &ValidationError{}
			outer.SetChild(key, child)
			return outer
		}
		return err
	}
	return nil
}

// indexKey renders a list index as an error-tree key.
func indexKey(i int) string { return strconv.Itoa(i) }
