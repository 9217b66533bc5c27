package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/LeonardoBeccarini/smarthome/internal/model"
	"github.com/LeonardoBeccarini/smarthome/internal/services/coordinator"
)

// Coordinator is the subset of the coordinator the gRPC surface drives.
type Coordinator interface {
	Dispatch(ctx context.Context, device string, value any) (model.ActuatorState, error)
	Actuators() model.ActuatorState
	Mode() model.SystemMode
	SetMode(ctx context.Context, m model.SystemMode) (model.SystemMode, error)
	Thresholds() model.ThresholdConfig
}

type Server struct {
	coord   Coordinator
	log     *zap.SugaredLogger
	timeout time.Duration
}

func NewServer(coord Coordinator, timeout time.Duration, log *zap.SugaredLogger) *Server {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Server{coord: coord, log: log, timeout: timeout}
}

// NewGRPCServer builds a grpc.Server carrying the Control service and the
// standard health service. The returned health server is flipped to
// NOT_SERVING on shutdown.
func NewGRPCServer(srv *Server) (*grpc.Server, *health.Server) {
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(srv.recoverInterceptor, srv.logInterceptor))
	RegisterControlServer(gs, srv)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return gs, hs
}

// Dispatch expects {"device": "fan"|"pump"|"servo"|"led:<room>", "value": ...}.
// A "room" field is accepted together with device "led".
func (s *Server) Dispatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	device := fields["device"].GetStringValue()
	if device == string(model.KindLED) {
		device = "led:" + fields["room"].GetStringValue()
	}
	raw, ok := fields["value"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "value: required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	state, err := s.coord.Dispatch(ctx, device, raw.AsInterface())
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(state)
}

// GetState returns {actuators, mode, config}.
func (s *Server) GetState(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(struct {
		Actuators model.ActuatorState   `json:"actuators"`
		Mode      model.SystemMode      `json:"mode"`
		Config    model.ThresholdConfig `json:"config"`
	}{s.coord.Actuators(), s.coord.Mode(), s.coord.Thresholds()})
}

// SetMode expects {"mode": "automatic"|"manual"}.
func (s *Server) SetMode(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	raw := in.GetFields()["mode"].GetStringValue()
	m, err := model.ParseMode(raw)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "mode: %v", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.coord.SetMode(ctx, m); err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{"mode": string(s.coord.Mode())})
}

// toStatus maps coordinator error kinds to gRPC codes.
func toStatus(err error) error {
	var (
		ve *coordinator.ValidationError
		pe *coordinator.PersistenceError
	)
	switch {
	case errors.As(err, &ve):
		return status.Error(codes.InvalidArgument, ve.Error())
	case errors.Is(err, coordinator.ErrModeConflict):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.As(err, &pe):
		return status.Error(codes.Internal, "persistence failure")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// toStruct goes through JSON so the wire shape matches the HTTP surface.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	return out, nil
}

func (s *Server) logInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		s.log.Warnf("rpc: %s failed after %s: %v", info.FullMethod, time.Since(start), err)
	} else {
		s.log.Debugf("rpc: %s ok in %s", info.FullMethod, time.Since(start))
	}
	return resp, err
}

func (s *Server) recoverInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("rpc: panic in %s: %v", info.FullMethod, r)
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}
