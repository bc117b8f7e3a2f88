package procfs

import (
	"io/fs"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/serjinio/kmsg-queue/internal/observability"
	"github.com/serjinio/kmsg-queue/internal/queue"
	"github.com/serjinio/kmsg-queue/internal/transfer"
)

// Permission bits checked for callers. Callers carry no identity, so only
// the "other" class applies.
const (
	permRead  fs.FileMode = 0o004
	permWrite fs.FileMode = 0o002
)

// Entry is one registered pseudo-file.
type Entry struct {
	path   string
	mode   fs.FileMode
	shared *queue.Shared
	store  *queue.Store

	// mu orders Open against remove: once remove returns, no new
	// handle can acquire the store.
	mu      sync.Mutex
	opens   atomic.Int64
	removed bool
}

func (e *Entry) Path() string {
	return e.path
}

func (e *Entry) Mode() fs.FileMode {
	return e.mode
}

// Opens returns the number of handles currently open.
func (e *Entry) Opens() int64 {
	return e.opens.Load()
}

// Store returns the backing store. Callers must not retain it past the
// entry's lifetime.
func (e *Entry) Store() *queue.Store {
	return e.store
}

func (e *Entry) Info() EntryInfo {
	return EntryInfo{
		Path:  e.path,
		Mode:  FormatMode(e.mode),
		Opens: e.opens.Load(),
		Depth: e.store.Len(),
	}
}

// Open returns a new handle. flag carries os.O_RDONLY, os.O_WRONLY or
// os.O_RDWR; other bits are ignored.
func (e *Entry) Open(flag int) (*File, error) {
	access := flag & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR)
	readable := access == os.O_RDONLY || access == os.O_RDWR
	writable := access == os.O_WRONLY || access == os.O_RDWR
	if !readable && !writable {
		return nil, &fs.PathError{Op: "open", Path: e.path, Err: fs.ErrInvalid}
	}
	if (readable && e.mode&permRead == 0) || (writable && e.mode&permWrite == 0) {
		return nil, &fs.PathError{Op: "open", Path: e.path, Err: fs.ErrPermission}
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return nil, &fs.PathError{Op: "open", Path: e.path, Err: fs.ErrNotExist}
	}
	store, err := e.shared.Acquire()
	if err != nil {
		e.mu.Unlock()
		return nil, &fs.PathError{Op: "open", Path: e.path, Err: err}
	}
	n := e.opens.Add(1)
	e.mu.Unlock()
	observability.SetOpenHandles(e.path, n)

	f := &File{
		id:       uuid.NewString(),
		entry:    e,
		store:    store,
		readable: readable,
		writable: writable,
		wr:       transfer.NewSession(store),
		rd:       transfer.NewSession(store),
	}
	log.Debug().
		Str("component", "procfs").
		Str("path", e.path).
		Str("handle", f.id).
		Int64("open_handles", n).
		Msg("open")
	return f, nil
}

func (e *Entry) release(f *File) {
	n := e.opens.Add(-1)
	observability.SetOpenHandles(e.path, n)
	e.shared.Release()
	log.Debug().
		Str("component", "procfs").
		Str("path", e.path).
		Str("handle", f.id).
		Int64("open_handles", n).
		Msg("close")
}

func (e *Entry) remove() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return
	}
	e.removed = true
	e.shared.Release()
}
