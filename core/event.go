// Package core provides the fundamental building blocks of the calamus ODM.
// This file defines lifecycle events: a global subscription mechanism for
// observing persistence operations across every instance.
package core

import (
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// Event represents a lifecycle event emitted by the ODM.
//
// Events are triggered after insert, update, delete, and find operations.
// They allow users to register custom handlers to observe or react to
// changes in the persistence layer.
type Event string

const (
	// EventInsert is emitted after a document is inserted.
	EventInsert Event = "insert"
	// EventUpdate is emitted after a document is updated or replaced.
	EventUpdate Event = "update"
	// EventDelete is emitted after a document is deleted.
	EventDelete Event = "delete"
	// EventFind is emitted after documents are retrieved.
	EventFind Event = "find"
)

// EventHandler defines the callback signature for event listeners. The
// payload argument varies depending on the event type (InsertPayload,
// UpdatePayload, DeletePayload, FindPayload).
type EventHandler func(payload any)

// EventDispatcher manages a list of event handlers and dispatches them
// when the corresponding events are emitted.
type EventDispatcher struct {
	mutex       sync.RWMutex
	handlerList map[Event][]EventHandler
}

// globalDispatcher is the shared event dispatcher used by the ODM.
var globalDispatcher = &EventDispatcher{
	handlerList: make(map[Event][]EventHandler),
}

// On registers an EventHandler for a specific Event.
//
// Example:
//
//	On(core.EventInsert, func(payload any) {
//	    if p, ok := payload.(core.InsertPayload); ok {
//	        log.Printf("inserted into %s", p.Document.Implementation().Name())
//	    }
//	})
func On(event Event, handler EventHandler) {
	globalDispatcher.mutex.Lock()
	defer globalDispatcher.mutex.Unlock()
	globalDispatcher.handlerList[event] = append(globalDispatcher.handlerList[event], handler)
}

// Emit triggers all registered handlers for the given Event.
//
// Handlers are executed asynchronously in separate goroutines.
func Emit(event Event, payload any) {
	globalDispatcher.mutex.RLock()
	defer globalDispatcher.mutex.RUnlock()
	if hs, ok := globalDispatcher.handlerList[event]; ok {
		for _, h := range hs {
			go h(payload)
		}
	}
}

// InsertPayload is passed to EventInsert handlers and to the middleware
// chain of insert operations. Data is the raw record sent to the driver.
type InsertPayload struct {
	Document *Document
	Data     bson.M
}

// UpdatePayload is passed to EventUpdate handlers and to the middleware
// chain of update and replace operations. Filter uses storage names;
// Patch is the update document or the full replacement record.
type UpdatePayload struct {
	Document *Document
	Filter   bson.M
	Patch    bson.M
}

// DeletePayload is passed to EventDelete handlers and to the middleware
// chain of delete operations.
type DeletePayload struct {
	Document *Document
	Filter   bson.M
}

// FindPayload is passed to EventFind handlers and to the middleware chain
// of find operations. Filter is the cooked, storage-name filter.
type FindPayload struct {
	Implementation *Implementation
	Filter         bson.M
}
