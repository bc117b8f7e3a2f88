package wire

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/serjinio/kmsg-queue/internal/procfs"
	"github.com/serjinio/kmsg-queue/internal/queue"
	"github.com/serjinio/kmsg-queue/internal/testutil/testlog"
)

func newPipeClient(t *testing.T, max int) (*Client, *queue.Store) {
	t.Helper()
	shared := queue.Share(queue.NewStore(queue.Config{MaxMessageSize: max}))
	table := procfs.NewTable()
	if _, err := table.Register(procfs.DefaultPath, procfs.DefaultMode, shared); err != nil {
		t.Fatalf("register: %v", err)
	}
	srv := NewServer(table, procfs.DefaultPath, DefaultLimits())
	clientConn, serverConn := net.Pipe()
	go srv.ServeConn(serverConn)
	c := NewClient(clientConn)
	t.Cleanup(func() { _ = c.Close() })
	return c, shared.Store()
}

func TestFrameRoundTrip(t *testing.T) {
	in := Frame{Header: Header{Op: OpRead, Flags: FlagEmpty, Limit: 77}, Payload: []byte("abc")}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Header.Op != OpRead || out.Header.Flags != FlagEmpty || out.Header.Limit != 77 {
		t.Fatalf("header mismatch: %+v", out.Header)
	}
	if out.Header.Magic != Magic || out.Header.Version != Version || out.Header.PayloadLen != 3 {
		t.Fatalf("fixed fields not stamped: %+v", out.Header)
	}
	if string(out.Payload) != "abc" {
		t.Fatalf("payload mismatch: %q", out.Payload)
	}
}

func TestReadHeaderRejectsMalformed(t *testing.T) {
	if _, err := ReadHeader(bytes.NewReader([]byte{1, 2, 3}), DefaultLimits()); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}

	bad := EncodeHeader(Header{Magic: 0xDEADBEEF, Version: Version})
	if _, err := ReadHeader(bytes.NewReader(bad), DefaultLimits()); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}

	old := EncodeHeader(Header{Magic: Magic, Version: 9})
	if _, err := ReadHeader(bytes.NewReader(old), DefaultLimits()); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}

	big := EncodeHeader(Header{Magic: Magic, Version: Version, PayloadLen: 100})
	if _, err := ReadHeader(bytes.NewReader(big), Limits{MaxPayloadBytes: 10}); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestWireRoundTrip(t *testing.T) {
	testlog.Start(t)

	c, _ := newPipeClient(t, 1024)
	w, err := c.Write([]byte("Hello world!"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if w.Accepted != 12 || w.Truncated {
		t.Fatalf("unexpected write result: %+v", w)
	}
	r, err := c.Read(1024)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(r.Payload) != "Hello world!" || r.Empty || r.Truncated {
		t.Fatalf("unexpected read result: %+v", r)
	}
}

func TestWireSmallReadThenEmpty(t *testing.T) {
	testlog.Start(t)

	c, _ := newPipeClient(t, 1024)
	if _, err := c.Write([]byte("Hello world!")); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, err := c.Read(3)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(r.Payload) != "Hel" || !r.Truncated {
		t.Fatalf("unexpected read: %+v", r)
	}
	r, err = c.Read(1024)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !r.Empty || len(r.Payload) != 0 {
		t.Fatalf("expected empty result, got %+v", r)
	}
}

func TestWireOversizedWriteKeepsStreamAligned(t *testing.T) {
	testlog.Start(t)

	c, store := newPipeClient(t, 1024)
	payload := bytes.Repeat([]byte("x"), 2000)
	w, err := c.Write(payload)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if w.Accepted != 1024 || !w.Truncated {
		t.Fatalf("unexpected write result: %+v", w)
	}
	if _, err := c.Write([]byte("after")); err != nil {
		t.Fatalf("follow-up write: %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("depth=%d want 2", store.Len())
	}

	r, _ := c.Read(0)
	if !bytes.Equal(r.Payload, payload[:1024]) {
		t.Fatalf("first read returned %d bytes", len(r.Payload))
	}
	r, _ = c.Read(0)
	if string(r.Payload) != "after" {
		t.Fatalf("second read: %q", r.Payload)
	}
}

func TestWireUnknownPathIsRemoteError(t *testing.T) {
	testlog.Start(t)

	srv := NewServer(procfs.NewTable(), "/proc/missing", DefaultLimits())
	clientConn, serverConn := net.Pipe()
	go srv.ServeConn(serverConn)
	c := NewClient(clientConn)
	defer c.Close()

	_, err := c.Write([]byte("nobody home"))
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Code != CodeNotFound || !errors.Is(err, ErrRemote) {
		t.Fatalf("expected not-found remote error, got %v", err)
	}
	// The payload was drained, so the connection is still usable.
	if _, err := c.Read(8); !errors.As(err, &remote) || remote.Code != CodeNotFound {
		t.Fatalf("expected second not-found error, got %v", err)
	}
}

func TestServeListenerStopsOnCancel(t *testing.T) {
	testlog.Start(t)

	shared := queue.Share(queue.NewStore(queue.DefaultConfig()))
	table := procfs.NewTable()
	_, _ = table.Register(procfs.DefaultPath, procfs.DefaultMode, shared)
	srv := NewServer(table, procfs.DefaultPath, DefaultLimits())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, ln) }()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dialCancel()
	c, err := Dial(dialCtx, ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := c.Write([]byte("over tcp")); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, err := c.Read(64)
	if err != nil || string(r.Payload) != "over tcp" {
		t.Fatalf("read: %+v %v", r, err)
	}
	_ = c.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not stop")
	}
}
