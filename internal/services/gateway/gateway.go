// Package gateway is the HTTP and WebSocket surface of the coordinator.
package gateway

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smarthome/internal/metrics"
	"github.com/LeonardoBeccarini/smarthome/internal/model"
	"github.com/LeonardoBeccarini/smarthome/internal/services/coordinator"
)

// Coordinator is what the HTTP surface needs from the state coordinator.
type Coordinator interface {
	Dispatch(ctx context.Context, device string, value any) (model.ActuatorState, error)
	Actuators() model.ActuatorState
	Mode() model.SystemMode
	SetMode(ctx context.Context, m model.SystemMode) (model.SystemMode, error)
	Thresholds() model.ThresholdConfig
	UpdateThresholds(ctx context.Context, patch model.ThresholdPatch) (model.ThresholdConfig, error)
	Pending() model.PendingView
	SubmitPacket(ctx context.Context, r model.SensorReading, patch model.ActuatorPatch) (model.SensorReading, model.ActuatorState, error)
	Latest(ctx context.Context) (coordinator.LatestView, error)
	History(ctx context.Context, limit, hours int) []model.SensorReading
	Window(ctx context.Context, window time.Duration) []model.SensorReading
	Stats(ctx context.Context, window time.Duration) model.Stats
	PartialReading() map[string]any
	Hub() *coordinator.Hub
}

type Config struct {
	Version        string
	AllowedOrigins []string
	// RequestTimeout bounds every handler that touches the coordinator.
	RequestTimeout time.Duration
	// MQTTConnected and StorePing feed /readyz and /api/health.
	MQTTConnected func() bool
	StorePing     func(ctx context.Context) error
	// StoreWriteErrorAge reports how long ago a store write last failed.
	// A failure younger than WriteErrorWindow marks the store unhealthy;
	// a zero window disables the check.
	StoreWriteErrorAge func() time.Duration
	WriteErrorWindow   time.Duration
}

type Gateway struct {
	cfg      Config
	coord    Coordinator
	upgrader websocket.Upgrader
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewGateway(cfg Config, coord Coordinator, log *zap.SugaredLogger, m *metrics.Metrics) *Gateway {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.MQTTConnected == nil {
		cfg.MQTTConnected = func() bool { return false }
	}
	if cfg.StorePing == nil {
		cfg.StorePing = func(context.Context) error { return nil }
	}
	if cfg.StoreWriteErrorAge == nil {
		cfg.StoreWriteErrorAge = func() time.Duration { return time.Duration(math.MaxInt64) }
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return &Gateway{
		cfg:   cfg,
		coord: coord,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// Router builds the full HTTP handler.
func (g *Gateway) Router() http.Handler {
	r := mux.NewRouter()

	g.handle(r, "/healthz", g.handleHealthz, http.MethodGet)
	g.handle(r, "/readyz", g.handleReadyz, http.MethodGet)
	g.handle(r, "/api/health", g.handleHealth, http.MethodGet)
	r.Handle("/metrics", g.metrics.Handler()).Methods(http.MethodGet)

	g.handle(r, "/api/data", g.handleSubmitPacket, http.MethodPost)
	g.handle(r, "/api/latest", g.handleLatest, http.MethodGet)
	g.handle(r, "/api/history", g.handleHistory, http.MethodGet)
	g.handle(r, "/api/stats", g.handleStats, http.MethodGet)
	g.handle(r, "/api/export/csv", g.handleExportCSV, http.MethodGet)

	g.handle(r, "/api/system/mode", g.handleGetMode, http.MethodGet)
	g.handle(r, "/api/system/mode", g.handleSetMode, http.MethodPost, http.MethodPut)
	g.handle(r, "/api/config", g.handleGetConfig, http.MethodGet)
	g.handle(r, "/api/config", g.handleSetConfig, http.MethodPost, http.MethodPut)
	g.handle(r, "/api/commands", g.handlePending, http.MethodGet)
	g.handle(r, "/api/actuators", g.handleActuators, http.MethodGet)

	g.handle(r, "/api/control", g.handleControl, http.MethodPost)
	g.handle(r, "/api/control/led", g.handleControlLED, http.MethodPost)
	g.handle(r, "/api/control/{device:fan|pump|servo}", g.handleControlDevice, http.MethodPost)

	r.HandleFunc("/ws", g.handleWS)

	cors := handlers.CORS(
		handlers.AllowedOrigins(g.cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{g.log}),
		handlers.PrintRecoveryStack(false),
	)
	return recovery(cors(r))
}

func (g *Gateway) handle(r *mux.Router, path string, fn http.HandlerFunc, methods ...string) {
	r.Handle(path, g.metrics.WrapHandler(path, fn)).Methods(methods...)
}

func (g *Gateway) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), g.cfg.RequestTimeout)
}

type recoveryLogger struct{ log *zap.SugaredLogger }

func (l recoveryLogger) Println(v ...interface{}) { l.log.Error(v...) }
