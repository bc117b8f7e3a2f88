// Package client talks to a running kmsgqd over HTTP or the wire protocol.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/serjinio/kmsg-queue/internal/procfs"
	"github.com/serjinio/kmsg-queue/internal/server"
	"github.com/serjinio/kmsg-queue/internal/wire"
)

var ErrUnexpectedStatus = errors.New("client: unexpected status")

// WriteResult describes one logical write.
type WriteResult struct {
	Requested int
	Stored    int
	Truncated bool
}

// ReadResult describes one logical read.
type ReadResult struct {
	Payload   []byte
	Empty     bool
	Truncated bool
}

// Transport is one logical write or read per call against a single
// pseudo-file. A zero limit asks for the endpoint's message limit.
type Transport interface {
	Write(ctx context.Context, p []byte) (WriteResult, error)
	Read(ctx context.Context, limit int) (ReadResult, error)
	Close() error
}

// HTTP drives the /fs routes of a kmsgqd node.
type HTTP struct {
	base  string
	path  string
	token string
	hc    *http.Client
}

var _ Transport = (*HTTP)(nil)

// NewHTTP targets endpoint path on the node at base, e.g.
// "http://127.0.0.1:9200". A nil hc uses a client with a 10s timeout.
func NewHTTP(base, path string, hc *http.Client) *HTTP {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	if strings.TrimSpace(path) == "" {
		path = procfs.DefaultPath
	}
	return &HTTP{base: strings.TrimRight(base, "/"), path: path, hc: hc}
}

// WithToken sends token as a bearer credential on every request.
func (c *HTTP) WithToken(token string) *HTTP {
	c.token = strings.TrimSpace(token)
	return c
}

func (c *HTTP) do(req *http.Request) (*http.Response, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.hc.Do(req)
}

func (c *HTTP) url(limit int) string {
	u := c.base + "/fs" + c.path
	if limit > 0 {
		u += "?" + url.Values{"limit": []string{strconv.Itoa(limit)}}.Encode()
	}
	return u
}

func (c *HTTP) Write(ctx context.Context, p []byte) (WriteResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(0), bytes.NewReader(p))
	if err != nil {
		return WriteResult{}, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.do(req)
	if err != nil {
		return WriteResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return WriteResult{}, statusError(resp)
	}
	var body server.WriteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return WriteResult{}, fmt.Errorf("client: decode write response: %w", err)
	}
	return WriteResult{Requested: body.Requested, Stored: body.Stored, Truncated: body.Truncated}, nil
}

func (c *HTTP) Read(ctx context.Context, limit int) (ReadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(limit), nil)
	if err != nil {
		return ReadResult{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return ReadResult{}, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent:
		return ReadResult{Empty: true}, nil
	case http.StatusOK:
		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return ReadResult{}, err
		}
		truncated, _ := strconv.ParseBool(resp.Header.Get(server.HeaderTruncated))
		return ReadResult{Payload: payload, Truncated: truncated}, nil
	default:
		return ReadResult{}, statusError(resp)
	}
}

func (c *HTTP) Close() error {
	c.hc.CloseIdleConnections()
	return nil
}

func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	if body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, body.Error)
}

// Wire adapts a wire.Client. Deadlines come from the wire client's own
// timeout; ctx only bounds the dial.
type Wire struct {
	c *wire.Client
}

var _ Transport = (*Wire)(nil)

func DialWire(ctx context.Context, addr string) (*Wire, error) {
	c, err := wire.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &Wire{c: c}, nil
}

func NewWire(c *wire.Client) *Wire {
	return &Wire{c: c}
}

func (w *Wire) Write(ctx context.Context, p []byte) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	res, err := w.c.Write(p)
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Requested: len(p), Stored: res.Accepted, Truncated: res.Truncated}, nil
}

func (w *Wire) Read(ctx context.Context, limit int) (ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return ReadResult{}, err
	}
	res, err := w.c.Read(limit)
	if err != nil {
		return ReadResult{}, err
	}
	return ReadResult{Payload: res.Payload, Empty: res.Empty, Truncated: res.Truncated}, nil
}

func (w *Wire) Close() error {
	return w.c.Close()
}
