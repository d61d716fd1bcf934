package core

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func swapDispatcher(t *testing.T) {
	t.Helper()
	saved := globalDispatcher
	globalDispatcher = &EventDispatcher{handlerList: make(map[Event][]EventHandler)}
	t.Cleanup(func() { globalDispatcher = saved })
}

func TestEmitDispatchesToAllHandlers(t *testing.T) {
	swapDispatcher(t)

	var wg sync.WaitGroup
	wg.Add(2)
	var mu sync.Mutex
	var got []any
	handler := func(payload any) {
		mu.Lock()
		got = append(got, payload)
		mu.Unlock()
		wg.Done()
	}
	On(EventInsert, handler)
	On(EventInsert, handler)

	payload := InsertPayload{Data: bson.M{"name": "ada"}}
	Emit(EventInsert, payload)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handlers did not run")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, payload, got[0])
	assert.Equal(t, payload, got[1])
}

func TestEmitScopedToEvent(t *testing.T) {
	swapDispatcher(t)

	fired := make(chan Event, 2)
	On(EventDelete, func(any) { fired <- EventDelete })

	Emit(EventInsert, InsertPayload{})
	Emit(EventDelete, DeletePayload{})

	select {
	case ev := <-fired:
		assert.Equal(t, EventDelete, ev)
	case <-time.After(time.Second):
		t.Fatal("delete handler did not run")
	}
	select {
	case ev := <-fired:
		t.Fatalf("unexpected second dispatch: %s", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmitWithoutHandlersIsNoop(t *testing.T) {
	swapDispatcher(t)
	assert.NotPanics(t, func() { Emit(EventFind, FindPayload{}) })
}
