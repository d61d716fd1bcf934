// Package core provides the fundamental building blocks of the calamus ODM.
// This file defines the error taxonomy shared by schemas, documents, and
// drivers, plus the structured validation error tree.
package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for lifecycle and registry misuse.
var (
	// ErrNotCreated is returned when an operation requires a document that
	// exists in the database (reload, delete, conditional commit) but the
	// document was never inserted or has vanished.
	ErrNotCreated = errors.New("document does not exist in database")

	// ErrNoDatabase is returned when a lazily constructed Instance is used
	// before Init supplied a database handle.
	ErrNoDatabase = errors.New("instance is not initialized with a database")

	// ErrNoCompatibleDriver is returned when no registered instance accepts
	// the given database handle.
	ErrNoCompatibleDriver = errors.New("no compatible driver for database handle")

	// ErrInvalidUsage marks programming errors, such as passing commit
	// conditions for a document that was never inserted.
	ErrInvalidUsage = errors.New("invalid usage")

	// ErrPartialDocument is returned when Commit is called on a document
	// loaded through a projection. Only a replace commit is allowed, since a
	// partial patch could clobber unloaded fields.
	ErrPartialDocument = errors.New("cannot commit a partially loaded document without replace")
)

// UpdateError reports a conditional update whose filter matched no document.
// The caller's optimistic conditions were not met, or the document vanished.
type UpdateError struct {
	Filter map[string]any
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("update did not match any document (filter: %v)", e.Filter)
}

// DeleteError reports a delete whose filter matched no document.
type DeleteError struct {
	Filter map[string]any
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("delete did not match any document (filter: %v)", e.Filter)
}

// AlreadyRegisteredError reports a template name registered twice on the
// same instance.
type AlreadyRegisteredError struct {
	Name string
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("document %q is already registered", e.Name)
}

// NotRegisteredError reports a template (or base template, or reference
// target) that is not known to the instance.
type NotRegisteredError struct {
	Name string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("document %q is not registered", e.Name)
}

// UnknownFieldInDBError reports a stored record carrying a key the schema
// does not declare, under strict loading.
type UnknownFieldInDBError struct {
	Key string
}

func (e *UnknownFieldInDBError) Error() string {
	return fmt.Sprintf("unknown field %q in database record", e.Key)
}

// DuplicateKeyError is the signal every driver adapter must produce when the
// database rejects a write over a unique index. The core reinterprets it
// against the document's index plan and surfaces a field-level
// ValidationError instead.
type DuplicateKeyError struct {
	// IndexName is the violated index's name, when the driver can tell.
	IndexName string
	// Keys holds the violated index's key fields (storage names), when the
	// driver can tell. Either IndexName or Keys must be set.
	Keys []string
	// Message is the driver's native error message, kept for diagnostics.
	Message string
}

func (e *DuplicateKeyError) Error() string {
	if e.Message != "" {
		return "duplicate key error: " + e.Message
	}
	return fmt.Sprintf("duplicate key error on index %q", e.IndexName)
}

// ValidationError is a structured error tree matching the schema shape.
// A node carries leaf messages, children keyed by field name (or list index,
// or dict key), or both. Consumers traverse the tree to build their own UI
// messages; Error renders a compact single-line form.
type ValidationError struct {
	messages []string
	children map[string]*ValidationError
}

// NewValidationError builds a leaf node carrying the given messages.
// Messages pass through the process-wide translation hook.
func NewValidationError(messages ...string) *ValidationError {
	e := &ValidationError{}
	for _, m := range messages {
		e.messages = append(e.messages, tr(m))
	}
	return e
}

// AddMessage appends a leaf message to this node, translated.
func (e *ValidationError) AddMessage(message string) {
	e.messages = append(e.messages, tr(message))
}

// SetChild attaches (or merges) a child error under the given key.
func (e *ValidationError) SetChild(key string, child *ValidationError) {
	if child == nil {
		return
	}
	if e.children == nil {
		e.children = make(map[string]*ValidationError)
	}
	if existing, ok := e.children[key]; ok {
		existing.Merge(child)
		return
	}
	e.children[key] = child
}

// Child returns the child error under key, or nil.
func (e *ValidationError) Child(key string) *ValidationError {
	return e.children[key]
}

// Messages returns the node's leaf messages.
func (e *ValidationError) Messages() []string {
	return e.messages
}

// Empty reports whether the node carries no messages and no children.
func (e *ValidationError) Empty() bool {
	return e == nil || (len(e.messages) == 0 && len(e.children) == 0)
}

// Merge folds another error tree into this one.
func (e *ValidationError) Merge(other *ValidationError) {
	if other == nil {
		return
	}
	e.messages = append(e.messages, other.messages...)
	for key, child := range other.children {
		e.SetChild(key, child)
	}
}

// Map converts the tree to a plain structure: []string at leaves,
// map[string]any at branches. A node carrying both messages and children
// stores its messages under the "_schema" key.
func (e *ValidationError) Map() any {
	if len(e.children) == 0 {
		return append([]string(nil), e.messages...)
	}
	out := make(map[string]any, len(e.children)+1)
	if len(e.messages) > 0 {
		out[schemaErrorKey] = append([]string(nil), e.messages...)
	}
	for key, child := range e.children {
		out[key] = child.Map()
	}
	return out
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	e.render(&b, "")
	return b.String()
}

func (e *ValidationError) render(b *strings.Builder, path string) {
	if len(e.messages) > 0 {
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		if path != "" {
			b.WriteString(path)
			b.WriteString(": ")
		}
		b.WriteString(strings.Join(e.messages, ", "))
	}
	keys := make([]string, 0, len(e.children))
	for key := range e.children {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		childPath := key
		if path != "" {
			childPath = path + "." + key
		}
		e.children[key].render(b, childPath)
	}
}

// schemaErrorKey collects schema-level messages (such as unknown field
// names) that do not belong to a single field.
const schemaErrorKey = "_schema"
