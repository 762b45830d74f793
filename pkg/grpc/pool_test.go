package grpc

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func startHealthServer(t *testing.T) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 16)
	srv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, health.NewServer())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis
}

func dialer(lis *bufconn.Listener) grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func TestPool_ReusesConnection(t *testing.T) {
	lis := startHealthServer(t)
	p := NewPool()
	t.Cleanup(func() { _ = p.Close() })

	a, err := p.GetConnection("passthrough:///bufnet", dialer(lis))
	require.NoError(t, err)
	b, err := p.GetConnection("passthrough:///bufnet", dialer(lis))
	require.NoError(t, err)
	assert.Same(t, a, b)

	resp, err := grpc_health_v1.NewHealthClient(a).Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestPool_ReplacesClosedConnection(t *testing.T) {
	lis := startHealthServer(t)
	p := NewPool()

	a, err := p.GetConnection("passthrough:///bufnet", dialer(lis))
	require.NoError(t, err)
	require.NoError(t, p.Close())

	b, err := p.GetConnection("passthrough:///bufnet", dialer(lis))
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	require.NoError(t, p.Close())
}

func TestLoggingInterceptor(t *testing.T) {
	lis := startHealthServer(t)
	core, logs := observer.New(zapcore.DebugLevel)
	p := NewPool(WithInterceptor(LoggingInterceptor(zap.New(core))))
	t.Cleanup(func() { _ = p.Close() })

	conn, err := p.GetConnection("passthrough:///bufnet", dialer(lis))
	require.NoError(t, err)

	client := grpc_health_v1.NewHealthClient(conn)
	_, err = client.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	_, err = client.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: "unknown"})
	require.Error(t, err)

	assert.Equal(t, 1, logs.FilterMessage("grpc call").Len())
	assert.Equal(t, 1, logs.FilterMessage("grpc call failed").Len())
}
