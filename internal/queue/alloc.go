package queue

import (
	"errors"
	"fmt"
)

// ErrNoMemory reports that a message buffer could not be allocated.
var ErrNoMemory = errors.New("queue: insufficient memory")

// Allocator provides message buffers. Implementations may fail.
type Allocator interface {
	Allocate(n int) ([]byte, error)
}

// AllocatorFunc adapts a function to Allocator.
type AllocatorFunc func(n int) ([]byte, error)

func (f AllocatorFunc) Allocate(n int) ([]byte, error) {
	return f(n)
}

// HeapAllocator allocates from the Go heap and never fails.
var HeapAllocator Allocator = AllocatorFunc(func(n int) ([]byte, error) {
	return make([]byte, n), nil
})

func allocate(a Allocator, n int) ([]byte, error) {
	if a == nil {
		a = HeapAllocator
	}
	buf, err := a.Allocate(n)
	if err != nil {
		if errors.Is(err, ErrNoMemory) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrNoMemory, err)
	}
	if len(buf) < n {
		return nil, fmt.Errorf("%w: allocator returned %d of %d bytes", ErrNoMemory, len(buf), n)
	}
	return buf[:n], nil
}
