// Package events provides the signal and connection primitives the simulation
// engine uses for world update and camera frame callbacks.
package events

import "sync"

// A Connection is a handle to a callback registered on a Signal. Disconnecting
// removes the callback and is safe to call more than once.
type Connection struct {
	mu        sync.Mutex
	connected bool
	remove    func()
}

// Disconnect removes the callback from its signal.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return
	}
	c.connected = false
	c.remove()
}

// Connected reports whether the callback is still registered.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Signal dispatches values to connected callbacks in connection order. Emit
// runs callbacks synchronously on the emitting goroutine. The zero value is
// ready to use.
type Signal[T any] struct {
	mu     sync.Mutex
	nextID uint64
	conns  []registration[T]
}

type registration[T any] struct {
	id uint64
	cb func(T)
}

// Connect registers cb to run on every Emit until the returned connection is
// disconnected.
func (s *Signal[T]) Connect(cb func(T)) *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.conns = append(s.conns, registration[T]{id: id, cb: cb})
	return &Connection{connected: true, remove: func() { s.disconnect(id) }}
}

func (s *Signal[T]) disconnect(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.conns {
		if r.id == id {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return
		}
	}
}

// Emit calls every connected callback with v. Callbacks registered or removed
// during an emit take effect on the next emit.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	cbs := make([]func(T), len(s.conns))
	for i, r := range s.conns {
		cbs[i] = r.cb
	}
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(v)
	}
}

// Len returns the number of connected callbacks.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
