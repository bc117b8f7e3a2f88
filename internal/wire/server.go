package wire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/serjinio/kmsg-queue/internal/procfs"
	"github.com/serjinio/kmsg-queue/internal/queue"
	"github.com/serjinio/kmsg-queue/internal/transfer"
)

// Error codes carried in the Limit field of an OpError frame.
const (
	CodeBadRequest  uint32 = 1
	CodeNotFound    uint32 = 2
	CodePermission  uint32 = 3
	CodeFault       uint32 = 4
	CodeNoMemory    uint32 = 5
	CodeUnavailable uint32 = 6
)

const idleTimeout = 30 * time.Second

// Server answers wire requests against one pseudo-file path.
type Server struct {
	table  *procfs.Table
	path   string
	limits Limits
	active atomic.Int64
}

func NewServer(table *procfs.Table, path string, limits Limits) *Server {
	return &Server{table: table, path: path, limits: limits}
}

// Active returns the number of connected clients.
func (s *Server) Active() int64 {
	return s.active.Load()
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", strings.TrimSpace(addr))
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	log.Info().Str("component", "wire").Str("addr", ln.Addr().String()).Msg("wire listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.ServeConn(conn)
	}
}

// ServeConn handles request frames until the peer disconnects or a frame
// cannot be answered without losing stream alignment.
func (s *Server) ServeConn(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	active := s.active.Add(1)
	log.Info().Str("component", "wire").Str("remote", remote).Int64("active_clients", active).Msg("client connected")
	defer func() {
		remaining := s.active.Add(-1)
		log.Info().Str("component", "wire").Str("remote", remote).Int64("active_clients", remaining).Msg("client disconnected")
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		h, err := ReadHeader(conn, s.limits)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn().Str("component", "wire").Str("remote", remote).Err(err).Msg("read header")
				_ = writeError(conn, CodeBadRequest, err)
			}
			return
		}

		var resp Frame
		var keep bool
		switch h.Op {
		case OpWrite:
			resp, keep = s.handleWrite(conn, h)
		case OpRead:
			resp, keep = s.handleRead(conn, h)
		default:
			resp, keep = errorFrame(CodeBadRequest, fmt.Errorf("wire: unexpected op %s", h.Op)), false
		}
		if err := WriteFrame(conn, resp, s.limits); err != nil {
			log.Warn().Str("component", "wire").Str("remote", remote).Err(err).Msg("write response")
			return
		}
		if !keep {
			return
		}
	}
}

// handleWrite runs one logical write, streaming the payload from the
// connection. The bool result reports whether the stream is still aligned.
func (s *Server) handleWrite(conn io.Reader, h Header) (Frame, bool) {
	payload := &io.LimitedReader{R: conn, N: int64(h.PayloadLen)}
	drain := func() bool {
		_, err := io.Copy(io.Discard, payload)
		return err == nil && payload.N == 0
	}

	f, err := s.table.Open(s.path, os.O_WRONLY)
	if err != nil {
		return errorFrame(codeFor(err), err), drain()
	}
	defer f.Close()

	remaining := int(h.PayloadLen)
	first, err := f.WriteSource(remaining, transfer.Reader(payload))
	if err != nil {
		// A boundary fault here means the connection itself failed.
		if errors.Is(err, transfer.ErrTransferFault) {
			return errorFrame(CodeFault, err), false
		}
		return errorFrame(codeFor(err), err), drain()
	}
	remaining -= first.N
	for remaining > 0 {
		res, err := f.WriteSource(remaining, transfer.Reader(payload))
		if err != nil {
			return errorFrame(codeFor(err), err), false
		}
		if res.N == 0 {
			break
		}
		remaining -= res.N
	}
	if !drain() {
		return errorFrame(CodeFault, io.ErrUnexpectedEOF), false
	}

	var flags uint8
	if first.Truncated() {
		flags |= FlagTruncated
	}
	return Frame{Header: Header{Op: OpResult, Flags: flags, Limit: uint32(first.Stored)}}, true
}

func (s *Server) handleRead(conn io.Reader, h Header) (Frame, bool) {
	if h.PayloadLen > 0 {
		if _, err := io.CopyN(io.Discard, conn, int64(h.PayloadLen)); err != nil {
			return errorFrame(CodeBadRequest, err), false
		}
	}
	f, err := s.table.Open(s.path, os.O_RDONLY)
	if err != nil {
		return errorFrame(codeFor(err), err), true
	}
	defer f.Close()

	limit := int(h.Limit)
	if limit == 0 || limit > int(s.limits.MaxPayloadBytes) {
		limit = f.MaxMessageSize()
	}
	buf := make([]byte, limit)
	res, err := f.ReadCall(buf)
	if err != nil {
		return errorFrame(codeFor(err), err), true
	}

	var flags uint8
	if res.Outcome == transfer.OutcomeEmpty {
		flags |= FlagEmpty
	}
	if res.Truncated() {
		flags |= FlagTruncated
	}
	return Frame{Header: Header{Op: OpResult, Flags: flags}, Payload: buf[:res.N]}, true
}

func errorFrame(code uint32, err error) Frame {
	return Frame{Header: Header{Op: OpError, Limit: code}, Payload: []byte(err.Error())}
}

func writeError(w io.Writer, code uint32, err error) error {
	return WriteFrame(w, errorFrame(code, err), DefaultLimits())
}

func codeFor(err error) uint32 {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return CodeNotFound
	case errors.Is(err, fs.ErrPermission):
		return CodePermission
	case errors.Is(err, transfer.ErrAllocationFault):
		return CodeNoMemory
	case errors.Is(err, transfer.ErrTransferFault):
		return CodeFault
	case errors.Is(err, queue.ErrClosed):
		return CodeUnavailable
	default:
		return CodeBadRequest
	}
}
