package wire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

var ErrRemote = errors.New("wire: remote error")

// RemoteError is a decoded OpError frame.
type RemoteError struct {
	Code    uint32
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("wire: remote error code=%d: %s", e.Code, e.Message)
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// WriteResult is the server's answer to one write.
type WriteResult struct {
	Accepted  int
	Truncated bool
}

// ReadResult is the server's answer to one read.
type ReadResult struct {
	Payload   []byte
	Empty     bool
	Truncated bool
}

// Client issues requests over a single connection. Calls are serialized.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	limits  Limits
	timeout time.Duration
}

func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn, limits: DefaultLimits(), timeout: 10 * time.Second}
}

// Write sends p as one message.
func (c *Client) Write(p []byte) (WriteResult, error) {
	resp, err := c.roundTrip(Frame{Header: Header{Op: OpWrite}, Payload: p})
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{
		Accepted:  int(resp.Header.Limit),
		Truncated: resp.Header.Flags&FlagTruncated != 0,
	}, nil
}

// Read fetches at most limit bytes of the oldest message. A zero limit asks
// for the server's message size.
func (c *Client) Read(limit int) (ReadResult, error) {
	if limit < 0 {
		limit = 0
	}
	resp, err := c.roundTrip(Frame{Header: Header{Op: OpRead, Limit: uint32(limit)}})
	if err != nil {
		return ReadResult{}, err
	}
	return ReadResult{
		Payload:   resp.Payload,
		Empty:     resp.Header.Flags&FlagEmpty != 0,
		Truncated: resp.Header.Flags&FlagTruncated != 0,
	}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) roundTrip(req Frame) (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
	if err := WriteFrame(c.conn, req, c.limits); err != nil {
		return Frame{}, fmt.Errorf("wire: send %s: %w", req.Header.Op, err)
	}
	resp, err := ReadFrame(c.conn, c.limits)
	if err != nil {
		return Frame{}, fmt.Errorf("wire: receive %s: %w", req.Header.Op, err)
	}
	switch resp.Header.Op {
	case OpResult:
		return resp, nil
	case OpError:
		return Frame{}, &RemoteError{Code: resp.Header.Limit, Message: string(resp.Payload)}
	default:
		return Frame{}, fmt.Errorf("wire: unexpected response op %s", resp.Header.Op)
	}
}
