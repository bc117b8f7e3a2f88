// Package service runs one kmsgqd process: a single message store
// registered as a pseudo-file and served over HTTP and the wire protocol.
package service

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/serjinio/kmsg-queue/internal/config"
	"github.com/serjinio/kmsg-queue/internal/logging"
	"github.com/serjinio/kmsg-queue/internal/procfs"
	"github.com/serjinio/kmsg-queue/internal/queue"
	"github.com/serjinio/kmsg-queue/internal/server"
	"github.com/serjinio/kmsg-queue/internal/wire"
)

const DefaultHeartbeatInterval = 30 * time.Second

var ErrStopped = errors.New("service: stopped")

// Service owns the store for its whole lifetime. The store is released
// once Close has run and every open handle is closed.
type Service struct {
	cfg    config.ServiceConfig
	table  *procfs.Table
	shared *queue.Shared
	http   *server.Server
	wire   *wire.Server

	Heartbeat time.Duration

	mu      sync.Mutex
	stopped bool
}

// New builds the store and registers it at cfg.EndpointPath.
func New(cfg config.ServiceConfig) (*Service, error) {
	if err := config.ValidateServiceConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.LogLevel != "" {
		logging.SetLevel(cfg.LogLevel)
	}

	store := queue.NewStore(queue.Config{MaxMessageSize: cfg.MaxMessageSize})
	shared := queue.Share(store)
	table := procfs.NewTable()
	if _, err := table.Register(cfg.EndpointPath, cfg.EndpointMode, shared); err != nil {
		shared.Release()
		return nil, err
	}

	s := &Service{
		cfg:       cfg,
		table:     table,
		shared:    shared,
		Heartbeat: DefaultHeartbeatInterval,
	}
	if strings.TrimSpace(cfg.HTTPAddr) != "" {
		s.http = server.Appear(cfg.ID, cfg.HTTPAddr, table, server.Options{
			CorsOrigins:  cfg.CorsOrigins,
			MaxBodyBytes: cfg.MaxBodyBytes,
			AuthToken:    cfg.AuthToken,
		})
	}
	if strings.TrimSpace(cfg.WireAddr) != "" {
		limits := wire.DefaultLimits()
		if cfg.MaxBodyBytes > 0 && cfg.MaxBodyBytes < int64(limits.MaxPayloadBytes) {
			limits.MaxPayloadBytes = uint32(cfg.MaxBodyBytes)
		}
		s.wire = wire.NewServer(table, cfg.EndpointPath, limits)
	}

	log.Info().
		Str("component", "service").
		Str("id", cfg.ID).
		Str("endpoint", cfg.EndpointPath).
		Str("mode", procfs.FormatMode(cfg.EndpointMode)).
		Int("max_message_size", cfg.MaxMessageSize).
		Bool("http", s.http != nil).
		Bool("wire", s.wire != nil).
		Msg("service configured")
	return s, nil
}

func (s *Service) Table() *procfs.Table {
	return s.table
}

func (s *Service) Store() *queue.Store {
	return s.shared.Store()
}

// HTTP returns the HTTP node, or nil when http_addr is unset.
func (s *Service) HTTP() *server.Server {
	return s.http
}

// Run serves until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve runs the configured listeners until ctx is done or one fails, then
// closes the service.
func (s *Service) Serve(ctx context.Context) error {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	if s.http != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- s.http.Serve(ctx)
		}()
	}
	if s.wire != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- s.wire.Serve(ctx, s.cfg.WireAddr)
		}()
	}

	heartbeat := s.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("component", "service").Str("id", s.cfg.ID).Msg("shutdown")
			break loop
		case err := <-errCh:
			if err != nil {
				runErr = err
				log.Error().Str("component", "service").Str("id", s.cfg.ID).Err(err).Msg("listener failed")
				break loop
			}
		case <-ticker.C:
			st := s.Store().Stats()
			ev := log.Info().
				Str("component", "service").
				Str("id", s.cfg.ID).
				Int("depth", st.Depth).
				Uint64("enqueued", st.Enqueued).
				Uint64("dequeued", st.Dequeued)
			if s.wire != nil {
				ev = ev.Int64("wire_clients", s.wire.Active())
			}
			ev.Msg("heartbeat")
		}
	}
	cancel()
	wg.Wait()
	return runErr
}

// Close unregisters the endpoint and drops the owner reference.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.table.Close()
	s.shared.Release()
	log.Info().
		Str("component", "service").
		Str("id", s.cfg.ID).
		Int64("refs", s.shared.Refs()).
		Msg("store released")
}
