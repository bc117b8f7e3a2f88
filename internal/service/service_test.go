package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/serjinio/kmsg-queue/internal/config"
	"github.com/serjinio/kmsg-queue/internal/testutil/testlog"
	"github.com/serjinio/kmsg-queue/internal/wire"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	testlog.Start(t)

	cfg := config.DefaultServiceConfig()
	cfg.ID = ""
	cfg.MaxMessageSize = 0
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestCloseReleasesStore(t *testing.T) {
	testlog.Start(t)

	svc, err := New(config.DefaultServiceConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	f, err := svc.Table().Open(config.DefaultServiceConfig().EndpointPath, os.O_RDWR)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	svc.Close()
	if svc.Store().Stats().Closed {
		t.Fatalf("store closed under an open handle")
	}
	if _, err := f.Write([]byte("late")); err != nil {
		t.Fatalf("write on surviving handle: %v", err)
	}
	_ = f.Close()
	if !svc.Store().Stats().Closed {
		t.Fatalf("store still open after last handle")
	}
	if err := svc.Serve(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestServeHTTPAndWire(t *testing.T) {
	testlog.Start(t)

	cfg := config.DefaultServiceConfig()
	cfg.HTTPAddr = freeAddr(t)
	cfg.WireAddr = freeAddr(t)
	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	base := "http://" + cfg.HTTPAddr
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get(base + "/health")
		if err == nil {
			_ = resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("http never came up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp, err := http.Post(base+"/fs"+cfg.EndpointPath, "application/octet-stream", strings.NewReader("via http"))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("post: %v %v", resp, err)
	}
	_ = resp.Body.Close()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dialCancel()
	c, err := wire.Dial(dialCtx, cfg.WireAddr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	r, err := c.Read(0)
	if err != nil || string(r.Payload) != "via http" {
		t.Fatalf("wire read: %+v %v", r, err)
	}
	_ = c.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("service did not stop")
	}
	if !svc.Store().Stats().Closed {
		t.Fatalf("store not released after shutdown")
	}
}
