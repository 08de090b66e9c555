package event

import (
	"reflect"
	"sync"
)

type subscription struct {
	id uint64
	fn any
}

// Bus is a double-buffered event bus. Events emitted in tick N are readable
// in tick N+1. SwapBuffers() is called at tick start by the dispatch system.
// Fire bypasses the buffers and delivers synchronously, for notifications the
// receiver must see before the emitter proceeds.
type Bus struct {
	mu       sync.Mutex // only protects handler registration
	nextID   uint64
	front    map[reflect.Type][]any
	back     map[reflect.Type][]any
	handlers map[reflect.Type][]subscription
}

func NewBus() *Bus {
	return &Bus{
		front:    make(map[reflect.Type][]any),
		back:     make(map[reflect.Type][]any),
		handlers: make(map[reflect.Type][]subscription),
	}
}

// Emit queues an event into the back buffer (will be readable next tick).
// Loop goroutine only.
func Emit[T any](b *Bus, event T) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	b.back[t] = append(b.back[t], event)
}

// Fire delivers the event to every handler of type T right away.
func Fire[T any](b *Bus, event T) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for _, h := range b.snapshot(t) {
		h.fn.(func(T))(event)
	}
}

// Subscribe registers a typed handler for events of type T and returns a
// function that removes it again.
func Subscribe[T any](b *Bus, fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := reflect.TypeOf((*T)(nil)).Elem()
	b.nextID++
	id := b.nextID
	b.handlers[t] = append(b.handlers[t], subscription{id: id, fn: fn})
	return func() { b.unsubscribe(t, id) }
}

func (b *Bus) unsubscribe(t reflect.Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[t]
	for i, s := range subs {
		if s.id == id {
			// Copy so snapshots taken by in-flight dispatches stay intact.
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			b.handlers[t] = append(next, subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) snapshot(t reflect.Type) []subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers[t]
}

// SwapBuffers rotates back→front and clears the new back buffer.
// Called once at tick start.
func (b *Bus) SwapBuffers() {
	b.front, b.back = b.back, b.front
	for k := range b.back {
		b.back[k] = b.back[k][:0]
	}
}

// DispatchAll delivers all front-buffer events to their subscribed handlers.
func (b *Bus) DispatchAll() {
	for t, events := range b.front {
		handlers := b.snapshot(t)
		for _, ev := range events {
			for _, h := range handlers {
				callHandler(h.fn, ev)
			}
		}
	}
}

// Pending returns the number of events waiting in the back buffer.
func (b *Bus) Pending() int {
	n := 0
	for _, events := range b.back {
		n += len(events)
	}
	return n
}

func callHandler(handler any, event any) {
	reflect.ValueOf(handler).Call([]reflect.Value{reflect.ValueOf(event)})
}
