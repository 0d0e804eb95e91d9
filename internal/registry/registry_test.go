package registry

import (
	"sync"
	"testing"
)

// fakeConn is the test double for registry.Conn: it records every value
// sent to it instead of touching a real connection.
type fakeConn struct {
	id string

	mu  sync.Mutex
	out []any
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, v)
	return nil
}

func (f *fakeConn) sent() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.out...)
}
