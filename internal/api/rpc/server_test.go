package rpc

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/KevinKickass/PortExtender/internal/auth"
	"github.com/KevinKickass/PortExtender/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeEngine struct {
	report  types.StatusReport
	found   []uint8
	scanErr error
	lastBus int
	full    bool
}

func (f *fakeEngine) Status() types.StatusReport { return f.report }
func (f *fakeEngine) Config() types.PexConfiguration {
	cfg := types.DefaultPexConfiguration()
	cfg.DefaultBusID = 3
	return cfg
}
func (f *fakeEngine) Scan(_ context.Context, busID int, full bool) ([]uint8, error) {
	f.lastBus, f.full = busID, full
	return f.found, f.scanErr
}

const (
	adminToken    = "admin-token"
	operatorToken = "operator-token"
)

type fakeTokens struct{}

func (fakeTokens) ValidateToken(token string) ([]auth.Permission, error) {
	switch token {
	case adminToken:
		return []auth.Permission{auth.PermOperator, auth.PermAdmin}, nil
	case operatorToken:
		return []auth.Permission{auth.PermOperator}, nil
	}
	return nil, errors.New("unknown token")
}

func startServer(t *testing.T, engine *fakeEngine) (*Server, *grpc.ClientConn) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(engine, fakeTokens{}, zap.NewNop())
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return srv, conn
}

func TestGetStatus(t *testing.T) {
	engine := &fakeEngine{report: types.StatusReport{
		Status:                types.StatusRunning,
		DeviceCount:           2,
		NumConfiguredStations: 20,
		NumHostStations:       20,
	}}
	_, conn := startServer(t, engine)

	out, err := NewClient(conn, operatorToken).GetStatus(context.Background())
	require.NoError(t, err)

	m := out.AsMap()
	assert.Equal(t, "run", m["status"])
	assert.EqualValues(t, 2, m["device_count"])
	assert.EqualValues(t, 20, m["num_configured_stations"])
}

func TestRescan(t *testing.T) {
	engine := &fakeEngine{found: []uint8{0x20, 0x27}}
	_, conn := startServer(t, engine)
	client := NewClient(conn, adminToken)

	out, err := client.Rescan(context.Background(), 1, true)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"0x20", "0x27"}, out.AsMap()["addresses"])
	assert.Equal(t, 1, engine.lastBus)
	assert.True(t, engine.full)

	engine.scanErr = errors.New("no bus")
	_, err = client.Rescan(context.Background(), 1, false)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestRescan_DefaultsToConfiguredBus(t *testing.T) {
	engine := &fakeEngine{}
	svc := NewService(engine, zap.NewNop())

	_, err := svc.Rescan(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, engine.lastBus)
	assert.False(t, engine.full)
}

func TestHealthFollowsEngineStatus(t *testing.T) {
	engine := &fakeEngine{report: types.StatusReport{Status: types.StatusUnconfigured}}
	srv, conn := startServer(t, engine)
	health := healthpb.NewHealthClient(conn)
	ctx := context.Background()

	resp, err := health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	srv.SetStatus(types.StatusRunning)
	resp, err = health.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestAuthInterceptor(t *testing.T) {
	engine := &fakeEngine{found: []uint8{0x20}}
	_, conn := startServer(t, engine)
	ctx := context.Background()

	tests := []struct {
		name  string
		token string
		call  func(*Client) error
		want  codes.Code
	}{
		{"status without token", "", func(c *Client) error { _, err := c.GetStatus(ctx); return err }, codes.Unauthenticated},
		{"status with bad token", "nope", func(c *Client) error { _, err := c.GetStatus(ctx); return err }, codes.Unauthenticated},
		{"status as operator", operatorToken, func(c *Client) error { _, err := c.GetStatus(ctx); return err }, codes.OK},
		{"rescan without token", "", func(c *Client) error { _, err := c.Rescan(ctx, 1, false); return err }, codes.Unauthenticated},
		{"rescan as operator", operatorToken, func(c *Client) error { _, err := c.Rescan(ctx, 1, false); return err }, codes.PermissionDenied},
		{"rescan as admin", adminToken, func(c *Client) error { _, err := c.Rescan(ctx, 1, false); return err }, codes.OK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call(NewClient(conn, tt.token))
			assert.Equal(t, tt.want, status.Code(err))
		})
	}

	// health stays reachable without credentials
	_, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	assert.NoError(t, err)
}

func TestRescan_UnauthorizedCallDoesNotScan(t *testing.T) {
	engine := &fakeEngine{lastBus: -5}
	_, conn := startServer(t, engine)

	_, err := NewClient(conn, operatorToken).Rescan(context.Background(), 2, true)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.Equal(t, -5, engine.lastBus)
}
