package procfs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/serjinio/kmsg-queue/internal/observability"
	"github.com/serjinio/kmsg-queue/internal/queue"
	"github.com/serjinio/kmsg-queue/internal/transfer"
)

const (
	dirWrite = "write"
	dirRead  = "read"
)

// Status is a snapshot of a handle's sessions.
type Status struct {
	Handle     string `json:"handle"`
	Path       string `json:"path"`
	WriteState string `json:"write_state"`
	ReadState  string `json:"read_state"`
	Written    int    `json:"written"`
	Read       int    `json:"read"`
}

// File is one open handle on an Entry.
//
// WriteCall/ReadCall are the physical calls a host would dispatch to the
// endpoint. Write and Read layer a buffered-I/O caller on top: Write keeps
// re-issuing the unaccepted suffix until the whole slice is reported, Read
// maps a zero-byte result to io.EOF.
type File struct {
	id       string
	entry    *Entry
	store    *queue.Store
	readable bool
	writable bool

	mu     sync.Mutex
	wr     *transfer.Session
	rd     *transfer.Session
	closed bool
}

var _ io.ReadWriteCloser = (*File)(nil)

func (f *File) ID() string {
	return f.id
}

func (f *File) Name() string {
	return f.entry.path
}

// MaxMessageSize returns the backing store's per-message limit.
func (f *File) MaxMessageSize() int {
	return f.store.MaxMessageSize()
}

// WriteCall is one physical write of p.
func (f *File) WriteCall(p []byte) (transfer.Result, error) {
	return f.WriteSource(len(p), transfer.Bytes(p))
}

// WriteSource is one physical write of n bytes pulled from src.
func (f *File) WriteSource(n int, src transfer.Source) (transfer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkLocked("write", f.writable); err != nil {
		return transfer.Result{}, err
	}
	res, err := f.wr.Write(n, src)
	f.record(dirWrite, res, err)
	return res, err
}

// ReadCall is one physical read into p.
func (f *File) ReadCall(p []byte) (transfer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkLocked("read", f.readable); err != nil {
		return transfer.Result{}, err
	}
	res, err := f.rd.Read(len(p), transfer.Buffer(p, nil))
	f.record(dirRead, res, err)
	return res, err
}

// ReadSink is one physical read of at most limit bytes pushed to dst.
func (f *File) ReadSink(limit int, dst transfer.Sink) (transfer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkLocked("read", f.readable); err != nil {
		return transfer.Result{}, err
	}
	res, err := f.rd.Read(limit, dst)
	f.record(dirRead, res, err)
	return res, err
}

// Write implements io.Writer. p is one logical message; bytes past the
// store's message limit are accepted and dropped. An empty p still issues
// one physical call, so it queues a zero-length message.
func (f *File) Write(p []byte) (int, error) {
	if len(p) == 0 {
		_, err := f.WriteCall(p)
		return 0, err
	}
	total := 0
	for total < len(p) {
		res, err := f.WriteCall(p[total:])
		if err != nil {
			return total, err
		}
		if res.N == 0 {
			return total, io.ErrShortWrite
		}
		total += res.N
	}
	return total, nil
}

// Read implements io.Reader. The first call returns at most len(p) bytes of
// the oldest message; later calls and reads of an empty queue return io.EOF.
func (f *File) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	res, err := f.ReadCall(p)
	if err != nil {
		return 0, err
	}
	if res.N == 0 {
		return 0, io.EOF
	}
	return res.N, nil
}

// Stat reports the handle's session cursors.
func (f *File) Stat() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Status{
		Handle:     f.id,
		Path:       f.entry.path,
		WriteState: f.wr.State().String(),
		ReadState:  f.rd.State().String(),
		Written:    f.wr.Count(),
		Read:       f.rd.Count(),
	}
}

// Close releases the handle's store reference.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return &fs.PathError{Op: "close", Path: f.entry.path, Err: os.ErrClosed}
	}
	f.closed = true
	f.entry.release(f)
	return nil
}

func (f *File) checkLocked(op string, allowed bool) error {
	if f.closed {
		return &fs.PathError{Op: op, Path: f.entry.path, Err: os.ErrClosed}
	}
	if !allowed {
		return &fs.PathError{Op: op, Path: f.entry.path, Err: fs.ErrPermission}
	}
	return nil
}

func (f *File) record(dir string, res transfer.Result, err error) {
	path := f.entry.path
	observability.SetQueueDepth(path, f.store.Len())
	if err == nil {
		if res.Outcome == transfer.OutcomeNoop {
			return
		}
		moved := 0
		if res.Outcome == transfer.OutcomeTransferred {
			moved = res.Stored
		}
		observability.RecordTransfer(path, dir, res.Outcome.String(), moved, res.Discarded)
		return
	}
	kind := "other"
	switch {
	case errors.Is(err, transfer.ErrAllocationFault):
		kind = "allocation"
	case errors.Is(err, transfer.ErrTransferFault):
		kind = "transfer"
	}
	observability.RecordFault(path, dir, kind)
	log.Warn().
		Str("component", "procfs").
		Str("path", path).
		Str("handle", f.id).
		Str("direction", dir).
		Str("kind", kind).
		Err(err).
		Msg("call failed")
}
