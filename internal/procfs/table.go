package procfs

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/serjinio/kmsg-queue/internal/queue"
)

// DefaultPath and DefaultMode describe the well-known queue endpoint.
const (
	DefaultPath = "/proc/msg_queue"
	DefaultMode = fs.FileMode(0o666)
)

var (
	ErrInvalidPath = errors.New("procfs: invalid path")
	ErrNilStore    = errors.New("procfs: nil store handle")
)

// EntryInfo is the listing shape for a registered endpoint.
type EntryInfo struct {
	Path  string `json:"path"`
	Mode  string `json:"mode"`
	Opens int64  `json:"opens"`
	Depth int    `json:"depth"`
}

// Table stores endpoints by path.
type Table struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewTable() *Table {
	return &Table{entries: make(map[string]*Entry)}
}

// Register creates an endpoint. The entry takes its own reference on shared,
// released when the entry is unregistered.
func (t *Table) Register(path string, mode fs.FileMode, shared *queue.Shared) (*Entry, error) {
	if shared == nil {
		return nil, ErrNilStore
	}
	path = strings.TrimSpace(path)
	if !IsValidPath(path) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[path]; ok {
		return nil, &fs.PathError{Op: "register", Path: path, Err: fs.ErrExist}
	}
	store, err := shared.Acquire()
	if err != nil {
		return nil, &fs.PathError{Op: "register", Path: path, Err: err}
	}
	e := &Entry{path: path, mode: mode.Perm(), shared: shared, store: store}
	t.entries[path] = e
	log.Info().
		Str("component", "procfs").
		Str("path", path).
		Str("mode", e.mode.String()).
		Int("max_message_size", store.MaxMessageSize()).
		Msg("endpoint registered")
	return e, nil
}

func (t *Table) Lookup(path string) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[strings.TrimSpace(path)]
	return e, ok
}

// Open resolves path and opens it with the given os.O_* access flag.
func (t *Table) Open(path string, flag int) (*File, error) {
	e, ok := t.Lookup(path)
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return e.Open(flag)
}

// Unregister removes the endpoint. Handles already open keep working until
// they are closed.
func (t *Table) Unregister(path string) error {
	path = strings.TrimSpace(path)
	t.mu.Lock()
	e, ok := t.entries[path]
	if ok {
		delete(t.entries, path)
	}
	t.mu.Unlock()
	if !ok {
		return &fs.PathError{Op: "unregister", Path: path, Err: fs.ErrNotExist}
	}
	e.remove()
	log.Info().
		Str("component", "procfs").
		Str("path", path).
		Int64("open_handles", e.Opens()).
		Msg("endpoint removed")
	return nil
}

// List returns entries ordered by path.
func (t *Table) List() []EntryInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]EntryInfo, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Path < out[j].Path
	})
	return out
}

// Close unregisters every endpoint.
func (t *Table) Close() {
	t.mu.RLock()
	paths := make([]string, 0, len(t.entries))
	for p := range t.entries {
		paths = append(paths, p)
	}
	t.mu.RUnlock()
	for _, p := range paths {
		_ = t.Unregister(p)
	}
}

// IsValidPath accepts absolute slash-separated paths whose segments use
// lowercase letters, digits and single '.', '-', '_' separators.
func IsValidPath(path string) bool {
	if len(path) < 2 || path[0] != '/' {
		return false
	}
	for _, seg := range strings.Split(path[1:], "/") {
		if !isValidSegment(seg) {
			return false
		}
	}
	return true
}

func isValidSegment(seg string) bool {
	if seg == "" || seg == "." || seg == ".." {
		return false
	}
	lastSep := false
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if (i == 0 || i == len(seg)-1) && isSep {
			return false
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return true
}

// FormatMode renders permission bits in octal, e.g. "0666".
func FormatMode(mode fs.FileMode) string {
	return fmt.Sprintf("%#o", uint32(mode.Perm()))
}
