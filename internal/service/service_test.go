package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func latency() time.Duration { return 42 * time.Millisecond }

func TestHealthReportsOK(t *testing.T) {
	rec := httptest.NewRecorder()
	Mux(HealthHandler(pinger{}, latency)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var report healthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, int64(42), report.LatencyMS)
}

func TestHealthDegradedWhenDatabaseDown(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler(pinger{err: errors.New("database is closed")}, latency).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var report healthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "degraded", report.Status)
	assert.Equal(t, "database is closed", report.Database)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	Mux(HealthHandler(pinger{}, latency)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type fakeServer struct {
	mu       sync.Mutex
	stop     chan struct{}
	listen   error
	shutdown bool
}

func newFakeServer() *fakeServer { return &fakeServer{stop: make(chan struct{})} }

func (s *fakeServer) ListenAndServe() error {
	if s.listen != nil {
		return s.listen
	}
	<-s.stop
	return http.ErrServerClosed
}

func (s *fakeServer) Shutdown(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
	close(s.stop)
	return nil
}

func TestHTTPServiceShutsDownOnCancel(t *testing.T) {
	srv := newFakeServer()
	svc := NewHTTPService(srv, time.Second, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
	srv.mu.Lock()
	assert.True(t, srv.shutdown)
	srv.mu.Unlock()
}

func TestHTTPServiceReportsListenFailure(t *testing.T) {
	srv := newFakeServer()
	srv.listen = errors.New("address already in use")
	err := NewHTTPService(srv, time.Second, zap.NewNop()).Serve(context.Background())
	assert.EqualError(t, err, "address already in use")
}

type ticker struct{ ran chan struct{} }

func (t ticker) String() string { return "ticker" }

func (t ticker) Serve(ctx context.Context) error {
	close(t.ran)
	<-ctx.Done()
	return ctx.Err()
}

func TestTreeRunsServices(t *testing.T) {
	tree := NewTree(zap.NewNop(), TreeConfig{})
	svc := ticker{ran: make(chan struct{})}
	tree.Add(svc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	select {
	case <-svc.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("service never started")
	}
	cancel()
	select {
	case <-errCh:
	case <-time.After(15 * time.Second):
		t.Fatal("tree did not stop")
	}
}
