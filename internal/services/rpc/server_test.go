package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/LeonardoBeccarini/smarthome/internal/metrics"
	"github.com/LeonardoBeccarini/smarthome/internal/model"
	"github.com/LeonardoBeccarini/smarthome/internal/services/coordinator"
	"github.com/LeonardoBeccarini/smarthome/internal/services/persistence"
	"github.com/LeonardoBeccarini/smarthome/pkg/mqttbus"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, []byte) error { return nil }

func startServer(t *testing.T) (*grpc.ClientConn, *coordinator.Coordinator) {
	t.Helper()
	log := zap.NewNop().Sugar()
	m := metrics.New(prometheus.NewRegistry())
	hub := coordinator.NewHub(16, time.Second, log, m)
	coord := coordinator.New(persistence.NewMemoryStore(), nopPublisher{}, hub, mqttbus.Topics{}, coordinator.Options{}, log, m)

	lis := bufconn.Listen(1 << 20)
	gs, _ := NewGRPCServer(NewServer(coord, time.Second, log))
	go func() { _ = gs.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		gs.Stop()
	})
	return conn, coord
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestDispatchRespectsMode(t *testing.T) {
	conn, coord := startServer(t)
	client := NewControlClient(conn)
	ctx := context.Background()

	_, err := client.Dispatch(ctx, mustStruct(t, map[string]any{"device": "pump", "value": true}))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	out, err := client.SetMode(ctx, mustStruct(t, map[string]any{"mode": "manual"}))
	require.NoError(t, err)
	assert.Equal(t, "manual", out.GetFields()["mode"].GetStringValue())

	out, err = client.Dispatch(ctx, mustStruct(t, map[string]any{"device": "servo", "value": 45}))
	require.NoError(t, err)
	assert.Equal(t, 45.0, out.GetFields()["servo_angle"].GetNumberValue())
	assert.Equal(t, 45, coord.Actuators().ServoAngle)

	_, err = client.Dispatch(ctx, mustStruct(t, map[string]any{"device": "led", "room": "hall", "value": "on"}))
	require.NoError(t, err)
	assert.True(t, coord.Actuators().LEDs["hall"])
}

func TestErrorCodes(t *testing.T) {
	conn, coord := startServer(t)
	client := NewControlClient(conn)
	ctx := context.Background()
	_, err := coord.SetMode(ctx, model.ModeManual)
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{"servo out of range", func() error {
			_, err := client.Dispatch(ctx, mustStruct(t, map[string]any{"device": "servo", "value": 200}))
			return err
		}, codes.InvalidArgument},
		{"unknown device", func() error {
			_, err := client.Dispatch(ctx, mustStruct(t, map[string]any{"device": "heater", "value": true}))
			return err
		}, codes.InvalidArgument},
		{"missing value", func() error {
			_, err := client.Dispatch(ctx, mustStruct(t, map[string]any{"device": "fan"}))
			return err
		}, codes.InvalidArgument},
		{"bad mode", func() error {
			_, err := client.SetMode(ctx, mustStruct(t, map[string]any{"mode": "party"}))
			return err
		}, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(tt.call()))
		})
	}
}

func TestGetState(t *testing.T) {
	conn, _ := startServer(t)
	out, err := NewControlClient(conn).GetState(context.Background(), &structpb.Struct{})
	require.NoError(t, err)

	fields := out.GetFields()
	assert.Equal(t, "automatic", fields["mode"].GetStringValue())
	act := fields["actuators"].GetStructValue().GetFields()
	assert.Equal(t, float64(model.DefaultServoAngle), act["servo_angle"].GetNumberValue())
	cfg := fields["config"].GetStructValue().GetFields()
	assert.Equal(t, model.DefaultActivationTemp, cfg["activation_temp"].GetNumberValue())
}

func TestHealthService(t *testing.T) {
	conn, _ := startServer(t)
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
