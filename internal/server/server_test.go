package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/serjinio/kmsg-queue/internal/procfs"
	"github.com/serjinio/kmsg-queue/internal/queue"
	"github.com/serjinio/kmsg-queue/internal/testutil/testlog"
)

const endpoint = "/fs" + procfs.DefaultPath

func newTestServer(t *testing.T, max int) (*Server, *queue.Store) {
	t.Helper()
	shared := queue.Share(queue.NewStore(queue.Config{MaxMessageSize: max}))
	table := procfs.NewTable()
	if _, err := table.Register(procfs.DefaultPath, procfs.DefaultMode, shared); err != nil {
		t.Fatalf("register: %v", err)
	}
	shared.Release()
	t.Cleanup(table.Close)

	srv := Appear("kmsgqd_test", ":0", table, Options{MaxBodyBytes: 4096})
	srv.RegisterRoutes()
	return srv, shared.Store()
}

func do(srv *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.HTTPRouter().ServeHTTP(rr, req)
	return rr
}

func decodeWrite(t *testing.T, rr *httptest.ResponseRecorder) WriteResponse {
	t.Helper()
	if rr.Code != http.StatusOK {
		t.Fatalf("write status=%d body=%s", rr.Code, rr.Body.String())
	}
	var out WriteResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode write response: %v", err)
	}
	return out
}

func TestHealthAndReady(t *testing.T) {
	testlog.Start(t)

	srv, _ := newTestServer(t, 64)
	for _, path := range []string{"/health", "/ready"} {
		rr := do(srv, http.MethodGet, path, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Fatalf("%s missing request id header", path)
		}
	}

	empty := Appear("empty", ":0", procfs.NewTable(), Options{})
	empty.RegisterRoutes()
	if rr := do(empty, http.MethodGet, "/ready", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready without endpoints status=%d", rr.Code)
	}
}

func TestWriteThenRead(t *testing.T) {
	testlog.Start(t)

	srv, _ := newTestServer(t, 1024)
	w := decodeWrite(t, do(srv, http.MethodPost, endpoint, []byte("Hello world!")))
	if w.Requested != 12 || w.Accepted != 12 || w.Stored != 12 || w.Truncated {
		t.Fatalf("unexpected write response: %+v", w)
	}

	rr := do(srv, http.MethodGet, endpoint, nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "Hello world!" {
		t.Fatalf("read status=%d body=%q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get(HeaderOutcome) != "transferred" || rr.Header().Get(HeaderTruncated) != "false" {
		t.Fatalf("unexpected headers: %v", rr.Header())
	}

	rr = do(srv, http.MethodGet, endpoint, nil)
	if rr.Code != http.StatusNoContent || rr.Header().Get(HeaderOutcome) != "empty" {
		t.Fatalf("empty read status=%d outcome=%q", rr.Code, rr.Header().Get(HeaderOutcome))
	}
}

func TestReadLimitTruncates(t *testing.T) {
	testlog.Start(t)

	srv, store := newTestServer(t, 1024)
	decodeWrite(t, do(srv, http.MethodPost, endpoint, []byte("Hello world!")))

	rr := do(srv, http.MethodGet, endpoint+"?limit=3", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "Hel" {
		t.Fatalf("read status=%d body=%q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get(HeaderTruncated) != "true" || rr.Header().Get(HeaderDiscarded) != "9" {
		t.Fatalf("unexpected headers: %v", rr.Header())
	}
	if store.Len() != 0 {
		t.Fatalf("remainder kept in queue: depth=%d", store.Len())
	}

	for _, bad := range []string{"0", "-1", "abc"} {
		if rr := do(srv, http.MethodGet, endpoint+"?limit="+bad, nil); rr.Code != http.StatusBadRequest {
			t.Fatalf("limit=%s status=%d", bad, rr.Code)
		}
	}
}

func TestOversizedWriteIsTruncated(t *testing.T) {
	testlog.Start(t)

	srv, _ := newTestServer(t, 16)
	payload := strings.Repeat("z", 40)
	w := decodeWrite(t, do(srv, http.MethodPost, endpoint, []byte(payload)))
	if w.Requested != 40 || w.Accepted != 40 || w.Stored != 16 || !w.Truncated {
		t.Fatalf("unexpected write response: %+v", w)
	}
	rr := do(srv, http.MethodGet, endpoint, nil)
	if rr.Body.String() != payload[:16] {
		t.Fatalf("read %q", rr.Body.String())
	}

	big := bytes.Repeat([]byte("x"), 5000)
	if rr := do(srv, http.MethodPost, endpoint, big); rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body status=%d", rr.Code)
	}
}

func TestUnknownPathAndPermissions(t *testing.T) {
	testlog.Start(t)

	srv, _ := newTestServer(t, 64)
	if rr := do(srv, http.MethodPost, "/fs/proc/missing", []byte("x")); rr.Code != http.StatusNotFound {
		t.Fatalf("write to missing path status=%d", rr.Code)
	}
	if rr := do(srv, http.MethodGet, "/fs/proc/missing", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("read of missing path status=%d", rr.Code)
	}

	shared := queue.Share(queue.NewStore(queue.DefaultConfig()))
	if _, err := srv.table.Register("/proc/read_only", 0o444, shared); err != nil {
		t.Fatalf("register: %v", err)
	}
	shared.Release()
	if rr := do(srv, http.MethodPost, "/fs/proc/read_only", []byte("x")); rr.Code != http.StatusForbidden {
		t.Fatalf("write to read-only status=%d", rr.Code)
	}
}

func TestStatsListsEndpoints(t *testing.T) {
	testlog.Start(t)

	srv, _ := newTestServer(t, 64)
	decodeWrite(t, do(srv, http.MethodPost, endpoint, []byte("one")))
	decodeWrite(t, do(srv, http.MethodPost, endpoint, []byte("two")))

	rr := do(srv, http.MethodGet, "/stats", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("stats status=%d", rr.Code)
	}
	var body struct {
		Endpoints []EndpointStats `json:"endpoints"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if len(body.Endpoints) != 1 {
		t.Fatalf("endpoints=%d want 1", len(body.Endpoints))
	}
	got := body.Endpoints[0]
	if got.Path != procfs.DefaultPath || got.Queue.Depth != 2 || got.Queue.Enqueued != 2 {
		t.Fatalf("unexpected stats: %+v", got)
	}
}

func TestAuthTokenGatesFileRoutes(t *testing.T) {
	testlog.Start(t)

	shared := queue.Share(queue.NewStore(queue.DefaultConfig()))
	table := procfs.NewTable()
	if _, err := table.Register(procfs.DefaultPath, procfs.DefaultMode, shared); err != nil {
		t.Fatalf("register: %v", err)
	}
	shared.Release()
	t.Cleanup(table.Close)
	srv := Appear("kmsgqd_auth", ":0", table, Options{AuthToken: "s3cret"})
	srv.RegisterRoutes()

	if rr := do(srv, http.MethodPost, endpoint, []byte("x")); rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated write status=%d", rr.Code)
	}
	if rr := do(srv, http.MethodGet, "/health", nil); rr.Code != http.StatusOK {
		t.Fatalf("health must stay open, status=%d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, endpoint, strings.NewReader("x"))
	req.Header.Set("Authorization", "Bearer s3cret")
	rr := httptest.NewRecorder()
	srv.HTTPRouter().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("authenticated write status=%d body=%s", rr.Code, rr.Body.String())
	}
	if shared.Store().Len() != 1 {
		t.Fatalf("depth=%d want 1", shared.Store().Len())
	}
}

func TestEmptyWriteQueuesZeroLengthMessage(t *testing.T) {
	testlog.Start(t)

	srv, store := newTestServer(t, 64)
	w := decodeWrite(t, do(srv, http.MethodPost, endpoint, nil))
	if w.Requested != 0 || w.Stored != 0 || w.Truncated {
		t.Fatalf("unexpected write response: %+v", w)
	}
	if store.Len() != 1 {
		t.Fatalf("depth=%d want 1", store.Len())
	}

	rr := do(srv, http.MethodGet, endpoint, nil)
	if rr.Code != http.StatusOK || rr.Body.Len() != 0 {
		t.Fatalf("read status=%d body=%q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get(HeaderOutcome) != "transferred" {
		t.Fatalf("outcome=%q want transferred", rr.Header().Get(HeaderOutcome))
	}
	if store.Len() != 0 {
		t.Fatalf("depth=%d after read", store.Len())
	}
}
