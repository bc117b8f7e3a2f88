package transfer

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/serjinio/kmsg-queue/internal/queue"
)

// State is the completion cursor of a Session.
type State uint8

const (
	StateFresh State = iota
	StateServiced
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateServiced:
		return "serviced"
	default:
		return "unknown"
	}
}

// Outcome tags what a call did, so zero-byte results stay distinguishable.
type Outcome uint8

const (
	// OutcomeTransferred means this call serviced the logical operation.
	OutcomeTransferred Outcome = iota
	// OutcomeEmpty means a read found the store empty.
	OutcomeEmpty
	// OutcomeRepeat means the session was already serviced; nothing moved.
	OutcomeRepeat
	// OutcomeNoop means a zero-limit read; neither store nor cursor changed.
	OutcomeNoop
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTransferred:
		return "transferred"
	case OutcomeEmpty:
		return "empty"
	case OutcomeRepeat:
		return "repeat"
	case OutcomeNoop:
		return "noop"
	default:
		return "unknown"
	}
}

// Result is the outcome of one physical call.
//
// N is the count reported to the caller. For a repeated write it equals the
// requested length of that call, which stops the caller's retry loop but
// does not mean those bytes were stored; Stored always carries the count the
// session actually moved through the store.
type Result struct {
	N         int
	Outcome   Outcome
	Requested int
	Stored    int
	Discarded int
}

// Truncated reports whether the servicing call dropped input or output bytes.
func (r Result) Truncated() bool {
	if r.Outcome != OutcomeTransferred {
		return false
	}
	return r.Discarded > 0
}

// Session is the per-logical-operation state machine. It is not safe for
// concurrent use; the adapter owning it serializes calls.
type Session struct {
	store *queue.Store
	state State
	count int
}

func NewSession(store *queue.Store) *Session {
	return &Session{store: store}
}

func (s *Session) State() State {
	return s.state
}

// Count returns the bytes moved by the servicing call.
func (s *Session) Count() int {
	return s.count
}

// Write offers requested bytes from src. Only the first successful call
// enqueues; input beyond the store's message limit is silently dropped.
func (s *Session) Write(requested int, src Source) (Result, error) {
	if requested < 0 {
		requested = 0
	}
	if s.state == StateServiced {
		log.Debug().
			Str("component", "transfer").
			Int("requested", requested).
			Int("stored", s.count).
			Msg("write repeat")
		return Result{N: requested, Outcome: OutcomeRepeat, Requested: requested, Stored: s.count}, nil
	}

	n := s.store.Clamp(requested)
	buf, err := s.store.Allocate(n)
	if err != nil {
		s.state = StateFresh
		return Result{Requested: requested}, fmt.Errorf("%w: %w", ErrAllocationFault, err)
	}
	if err := src.CopyIn(buf); err != nil {
		s.state = StateFresh
		return Result{Requested: requested}, fmt.Errorf("%w: copy in: %w", ErrTransferFault, err)
	}
	if err := s.store.Push(queue.NewMessage(buf)); err != nil {
		s.state = StateFresh
		return Result{Requested: requested}, fmt.Errorf("transfer: enqueue: %w", err)
	}

	s.state = StateServiced
	s.count = n
	log.Debug().
		Str("component", "transfer").
		Int("requested", requested).
		Int("accepted", n).
		Msg("write serviced")
	return Result{
		N:         n,
		Outcome:   OutcomeTransferred,
		Requested: requested,
		Stored:    n,
		Discarded: requested - n,
	}, nil
}

// Read delivers at most limit bytes of the oldest message to dst. Bytes of
// that message beyond limit are dropped for good. A zero limit is answered
// without touching the store or the cursor.
func (s *Session) Read(limit int, dst Sink) (Result, error) {
	if limit < 0 {
		limit = 0
	}
	if s.state == StateServiced {
		log.Debug().
			Str("component", "transfer").
			Int("limit", limit).
			Msg("read repeat")
		return Result{Outcome: OutcomeRepeat, Requested: limit, Stored: s.count}, nil
	}
	if limit == 0 {
		return Result{Outcome: OutcomeNoop}, nil
	}

	m, ok := s.store.Dequeue()
	if !ok {
		s.state = StateServiced
		log.Debug().Str("component", "transfer").Msg("read empty")
		return Result{Outcome: OutcomeEmpty, Requested: limit}, nil
	}

	n := min(m.Len(), limit)
	discarded := m.Len() - n
	err := dst.CopyOut(m.Prefix(n))
	m.Release()
	if err != nil {
		log.Warn().
			Str("component", "transfer").
			Int("lost_bytes", n+discarded).
			Err(err).
			Msg("read copy out failed; message dropped")
		return Result{Requested: limit, Discarded: n + discarded}, fmt.Errorf("%w: copy out: %w", ErrTransferFault, err)
	}

	s.state = StateServiced
	s.count = n
	log.Debug().
		Str("component", "transfer").
		Int("limit", limit).
		Int("delivered", n).
		Int("discarded", discarded).
		Msg("read serviced")
	return Result{
		N:         n,
		Outcome:   OutcomeTransferred,
		Requested: limit,
		Stored:    n,
		Discarded: discarded,
	}, nil
}

// IsFault reports whether err aborted a call at the boundary or allocator.
func IsFault(err error) bool {
	return errors.Is(err, ErrTransferFault) || errors.Is(err, ErrAllocationFault)
}
