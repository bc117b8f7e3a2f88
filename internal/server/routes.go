package server

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/serjinio/kmsg-queue/internal/auth"
	"github.com/serjinio/kmsg-queue/internal/observability"
	"github.com/serjinio/kmsg-queue/internal/procfs"
	"github.com/serjinio/kmsg-queue/internal/queue"
	"github.com/serjinio/kmsg-queue/internal/transfer"
)

// Response headers describing a read.
const (
	HeaderOutcome   = "X-Kmsgq-Outcome"
	HeaderTruncated = "X-Kmsgq-Truncated"
	HeaderDiscarded = "X-Kmsgq-Discarded"
)

// WriteResponse is the JSON answer to a write.
type WriteResponse struct {
	Path      string `json:"path"`
	Requested int    `json:"requested"`
	Accepted  int    `json:"accepted"`
	Stored    int    `json:"stored"`
	Truncated bool   `json:"truncated"`
}

type EndpointStats struct {
	procfs.EntryInfo
	Queue queue.Stats `json:"queue"`
}

func (s *Server) RegisterRoutes() {
	s.once.Do(s.registerRoutes)
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": "0.1.0",
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ready", func(c *gin.Context) {
		endpoints := s.table.List()
		status := http.StatusOK
		if len(endpoints) == 0 {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":     status == http.StatusOK,
			"endpoints": len(endpoints),
			"service":   s.ID,
			"version":   "0.1.0",
		})
	})

	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"endpoints": s.Stats()})
	})

	files := r.Group("/fs", auth.Middleware(s.auth))
	files.POST("/*path", s.handleWrite)
	files.GET("/*path", s.handleRead)
}

// Stats lists every endpoint with its store counters.
func (s *Server) Stats() []EndpointStats {
	infos := s.table.List()
	out := make([]EndpointStats, 0, len(infos))
	for _, info := range infos {
		e, ok := s.table.Lookup(info.Path)
		if !ok {
			continue
		}
		out = append(out, EndpointStats{EntryInfo: info, Queue: e.Store().Stats()})
	}
	return out
}

func (s *Server) handleWrite(c *gin.Context) {
	path := c.Param("path")
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, s.maxBody+1))
	if err != nil {
		writeError(c, http.StatusBadRequest, fmt.Errorf("%w: request body: %w", transfer.ErrTransferFault, err))
		return
	}
	if int64(len(body)) > s.maxBody {
		writeError(c, http.StatusRequestEntityTooLarge, fmt.Errorf("body exceeds %d bytes", s.maxBody))
		return
	}

	f, err := s.table.Open(path, os.O_WRONLY)
	if err != nil {
		writeError(c, statusFor(err, http.StatusBadRequest), err)
		return
	}
	defer f.Close()

	n, err := f.Write(body)
	if err != nil {
		writeError(c, statusFor(err, http.StatusBadRequest), err)
		return
	}
	stored := f.Stat().Written
	log.Debug().
		Str("component", "http").
		Str("request_id", observability.RequestIDFrom(c)).
		Str("path", path).
		Int("requested", len(body)).
		Int("stored", stored).
		Msg("write")
	c.JSON(http.StatusOK, WriteResponse{
		Path:      path,
		Requested: len(body),
		Accepted:  n,
		Stored:    stored,
		Truncated: stored < len(body),
	})
}

func (s *Server) handleRead(c *gin.Context) {
	path := c.Param("path")
	e, ok := s.table.Lookup(path)
	if !ok {
		writeError(c, http.StatusNotFound, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist})
		return
	}

	limit := e.Store().MaxMessageSize()
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(c, http.StatusBadRequest, fmt.Errorf("limit %q must be a positive integer", raw))
			return
		}
		limit = min(v, limit)
	}

	f, err := e.Open(os.O_RDONLY)
	if err != nil {
		writeError(c, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	defer f.Close()

	buf := make([]byte, limit)
	res, err := f.ReadCall(buf)
	if err != nil {
		writeError(c, statusFor(err, http.StatusInternalServerError), err)
		return
	}
	c.Header(HeaderOutcome, res.Outcome.String())
	if res.N == 0 && res.Outcome != transfer.OutcomeTransferred {
		c.Status(http.StatusNoContent)
		return
	}
	c.Header(HeaderTruncated, strconv.FormatBool(res.Truncated()))
	c.Header(HeaderDiscarded, strconv.Itoa(res.Discarded))
	c.Data(http.StatusOK, "application/octet-stream", buf[:res.N])
}

func statusFor(err error, faultStatus int) int {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, fs.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, transfer.ErrAllocationFault):
		return http.StatusInsufficientStorage
	case errors.Is(err, transfer.ErrTransferFault):
		return faultStatus
	case errors.Is(err, queue.ErrClosed), errors.Is(err, os.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}
