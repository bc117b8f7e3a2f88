package queue

import (
	"errors"
	"sync"
)

// DefaultMaxMessageSize is the per-message size limit when none is configured.
const DefaultMaxMessageSize = 1024

var ErrClosed = errors.New("queue: store closed")

// Config defines store limits and the buffer source.
type Config struct {
	MaxMessageSize int
	Allocator      Allocator
}

// DefaultConfig returns the 1024-byte limit backed by the heap.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize: DefaultMaxMessageSize,
		Allocator:      HeapAllocator,
	}
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Allocator == nil {
		c.Allocator = HeapAllocator
	}
	return c
}

// Stats is a point-in-time view of store counters.
type Stats struct {
	Depth          int    `json:"depth"`
	Enqueued       uint64 `json:"enqueued"`
	Dequeued       uint64 `json:"dequeued"`
	Dropped        uint64 `json:"dropped"`
	MaxMessageSize int    `json:"max_message_size"`
	Closed         bool   `json:"closed"`
}

// Store is an unbounded FIFO of messages. mu guards only the slice
// structure; payload construction and copies happen outside it.
type Store struct {
	cfg Config

	mu       sync.Mutex
	items    []*Message
	head     int
	enqueued uint64
	dequeued uint64
	dropped  uint64
	closed   bool
}

// NewStore builds an empty store.
func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg.WithDefaults()}
}

// MaxMessageSize returns the configured per-message limit.
func (s *Store) MaxMessageSize() int {
	return s.cfg.MaxMessageSize
}

// Clamp truncates a requested size to the per-message limit.
func (s *Store) Clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > s.cfg.MaxMessageSize {
		return s.cfg.MaxMessageSize
	}
	return n
}

// Allocate returns an n-byte buffer from the configured allocator.
func (s *Store) Allocate(n int) ([]byte, error) {
	return allocate(s.cfg.Allocator, n)
}

// Enqueue stores the accepted prefix of p and returns its length.
func (s *Store) Enqueue(p []byte) (int, error) {
	n := s.Clamp(len(p))
	buf, err := s.Allocate(n)
	if err != nil {
		return 0, err
	}
	copy(buf, p[:n])
	if err := s.Push(NewMessage(buf)); err != nil {
		return 0, err
	}
	return n, nil
}

// Push appends a built message at the tail.
func (s *Store) Push(m *Message) error {
	if m == nil {
		return errors.New("queue: nil message")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.items = append(s.items, m)
	s.enqueued++
	return nil
}

// Dequeue removes the head message. It reports false on an empty or closed
// store and never waits for a producer.
func (s *Store) Dequeue() (*Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.head >= len(s.items) {
		return nil, false
	}
	m := s.items[s.head]
	s.items[s.head] = nil
	s.head++
	s.dequeued++
	s.compactLocked()
	return m, true
}

// compactLocked reclaims the consumed prefix once it dominates the slice.
func (s *Store) compactLocked() {
	if s.head == len(s.items) {
		s.items = s.items[:0]
		s.head = 0
		return
	}
	if s.head < 64 || s.head*2 < len(s.items) {
		return
	}
	n := copy(s.items, s.items[s.head:])
	clear(s.items[n:])
	s.items = s.items[:n]
	s.head = 0
}

// Len returns the number of queued messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items) - s.head
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Depth:          len(s.items) - s.head,
		Enqueued:       s.enqueued,
		Dequeued:       s.dequeued,
		Dropped:        s.dropped,
		MaxMessageSize: s.cfg.MaxMessageSize,
		Closed:         s.closed,
	}
}

// Close discards every queued message and rejects further pushes.
// It returns the number of messages dropped.
func (s *Store) Close() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	s.closed = true
	n := len(s.items) - s.head
	clear(s.items)
	s.items = nil
	s.head = 0
	s.dropped += uint64(n)
	return n
}
