package grpc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/cosauth/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

type fakePinger struct {
	mu  sync.Mutex
	err error
}

func (f *fakePinger) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakePinger) set(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type recordingLogger struct {
	logging.Nop
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) Debug(_ context.Context, msg string, _ ...any) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) With(...any) logging.Logger { return l }

func checkStatus(t *testing.T, s *HealthServer, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q) error: %v", service, err)
	}
	return resp.GetStatus()
}

func TestProbe_FollowsStorage(t *testing.T) {
	t.Parallel()

	p := &fakePinger{}
	s := NewHealthServer("127.0.0.1:0", logging.Nop{}, p, time.Hour)

	s.probe(context.Background())
	if got := checkStatus(t, s, ServiceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("want SERVING, got %v", got)
	}

	p.set(errors.New("bucket unreachable"))
	s.probe(context.Background())
	for _, svc := range []string{"", ServiceName} {
		if got := checkStatus(t, s, svc); got != healthpb.HealthCheckResponse_NOT_SERVING {
			t.Fatalf("service %q: want NOT_SERVING, got %v", svc, got)
		}
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	srv := NewHealthServer("127.0.0.1:0", logging.Nop{}, &fakePinger{}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error on graceful stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout after context cancel")
	}
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	t.Parallel()

	srv := NewHealthServer("127.0.0.1:99999", logging.Nop{}, &fakePinger{}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Run(ctx); err == nil {
		t.Fatal("expected error from Run on bad address, got nil")
	}
}

func TestLoggingInterceptor(t *testing.T) {
	t.Parallel()

	l := &recordingLogger{}
	s := NewHealthServer("", l, &fakePinger{}, time.Second)

	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	_, err := s.loggingInterceptor(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("interceptor must pass the handler error through, got %v", err)
	}
	if len(l.msgs) != 1 || l.msgs[0] != "grpc call" {
		t.Fatalf("unexpected log lines: %v", l.msgs)
	}
}
