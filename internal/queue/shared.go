package queue

import "sync/atomic"

// Shared is the reference-counted owner of a Store. The service holds the
// first reference; every request handler acquires its own and releases it
// when done. The store closes when the last reference goes away.
type Shared struct {
	store *Store
	refs  atomic.Int64
}

// Share wraps s with one reference held by the caller.
func Share(s *Store) *Shared {
	h := &Shared{store: s}
	h.refs.Store(1)
	return h
}

// Acquire takes a reference. It fails once the count has reached zero.
func (h *Shared) Acquire() (*Store, error) {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return nil, ErrClosed
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return h.store, nil
		}
	}
}

// Release drops a reference and closes the store on the last one.
func (h *Shared) Release() {
	if h.refs.Add(-1) == 0 {
		h.store.Close()
	}
}

// Refs returns the current reference count.
func (h *Shared) Refs() int64 {
	return h.refs.Load()
}

// Store returns the underlying store without taking a reference.
func (h *Shared) Store() *Store {
	return h.store
}
