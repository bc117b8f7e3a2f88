package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/serjinio/kmsg-queue/internal/auth"
	"github.com/serjinio/kmsg-queue/internal/node"
	"github.com/serjinio/kmsg-queue/internal/observability"
	"github.com/serjinio/kmsg-queue/internal/procfs"
)

const shutdownTimeout = 5 * time.Second

// Options tunes the HTTP surface.
// An empty AuthToken leaves the /fs routes open.
type Options struct {
	CorsOrigins  []string
	MaxBodyBytes int64
	AuthToken    string
}

// Server exposes pseudo-file endpoints over HTTP. Every request is one
// open, one logical transfer and one close.
type Server struct {
	ID       string    `json:"id"`
	Addr     string    `json:"addr"`
	Appeared time.Time `json:"appeared"`

	table   *procfs.Table
	maxBody int64
	auth    auth.Validator
	router  *gin.Engine
	once    sync.Once
}

var _ node.Node = (*Server)(nil)

func Appear(id, addr string, table *procfs.Table, opts Options) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestID())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  normalizeOrigins(opts.CorsOrigins),
		AllowMethods:  []string{"GET", "POST"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", observability.HeaderRequestID},
		ExposeHeaders: []string{HeaderOutcome, HeaderTruncated, HeaderDiscarded, observability.HeaderRequestID},
		MaxAge:        12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	var validator auth.Validator
	if opts.AuthToken != "" {
		validator = auth.Token(opts.AuthToken)
	}
	return &Server{
		ID:       id,
		Addr:     addr,
		Appeared: time.Now(),
		table:    table,
		maxBody:  maxBody,
		auth:     validator,
		router:   r,
	}
}

func (s *Server) NodeID() string {
	return s.ID
}

func (s *Server) Kind() string {
	return "kmsgqd"
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Serve registers routes and blocks until ctx is done or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	s.RegisterRoutes()
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("component", "http").Str("id", s.ID).Str("addr", s.Addr).Msg("http listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
