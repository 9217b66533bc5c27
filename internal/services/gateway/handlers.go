package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/LeonardoBeccarini/smarthome/internal/model"
	"github.com/LeonardoBeccarini/smarthome/internal/services/coordinator"
	"github.com/LeonardoBeccarini/smarthome/internal/services/persistence"
)

// packetRequest is a combined sensor and actuator report from a device.
type packetRequest struct {
	Temperature  *float64        `json:"temperature"`
	Humidity     *float64        `json:"humidity"`
	SoilMoisture *int            `json:"soil_moisture"`
	Motion       int             `json:"motion"`
	Distance     *float64        `json:"distance"`
	ServoAngle   *int            `json:"servo_angle"`
	FanSpeed     *int            `json:"fan_speed"`
	PumpActive   *bool           `json:"pump_active"`
	LEDs         map[string]bool `json:"leds"`
}

type packetResponse struct {
	Status    string              `json:"status"`
	Reading   model.SensorReading `json:"reading"`
	Actuators model.ActuatorState `json:"actuators"`
}

func (g *Gateway) handleSubmitPacket(w http.ResponseWriter, r *http.Request) {
	var req packetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	for _, f := range []struct {
		name    string
		missing bool
	}{
		{"temperature", req.Temperature == nil},
		{"humidity", req.Humidity == nil},
		{"soil_moisture", req.SoilMoisture == nil},
	} {
		if f.missing {
			writeError(w, &coordinator.ValidationError{Field: f.name, Reason: "required"})
			return
		}
	}

	ctx, cancel := g.ctx(r)
	defer cancel()
	reading, state, err := g.coord.SubmitPacket(ctx,
		model.SensorReading{
			Temperature:  *req.Temperature,
			Humidity:     *req.Humidity,
			SoilMoisture: *req.SoilMoisture,
			Motion:       req.Motion,
			Distance:     req.Distance,
		},
		model.ActuatorPatch{
			ServoAngle: req.ServoAngle,
			FanSpeed:   req.FanSpeed,
			PumpActive: req.PumpActive,
			LEDs:       req.LEDs,
		},
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, packetResponse{Status: "ok", Reading: reading, Actuators: state})
}

func (g *Gateway) handleLatest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := g.ctx(r)
	defer cancel()
	view, err := g.coord.Latest(ctx)
	if errors.Is(err, persistence.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no data available"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleHistory serves ?limit=N (default 100) or ?hours=H; hours wins.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := g.ctx(r)
	defer cancel()
	readings := g.coord.History(ctx, queryInt(r, "limit", 0), queryInt(r, "hours", 0))
	writeJSON(w, http.StatusOK, readings)
}

func windowParam(r *http.Request) time.Duration {
	hours := queryInt(r, "hours", 24)
	if hours < 1 {
		hours = 1
	}
	if hours > coordinator.MaxHistoryHours {
		hours = coordinator.MaxHistoryHours
	}
	return time.Duration(hours) * time.Hour
}

func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := g.ctx(r)
	defer cancel()
	writeJSON(w, http.StatusOK, g.coord.Stats(ctx, windowParam(r)))
}

type modeBody struct {
	Mode model.SystemMode `json:"mode"`
}

func (g *Gateway) handleGetMode(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, modeBody{Mode: g.coord.Mode()})
}

func (g *Gateway) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	m, err := model.ParseMode(req.Mode)
	if err != nil {
		writeError(w, &coordinator.ValidationError{Field: "mode", Value: req.Mode, Reason: "expected automatic or manual"})
		return
	}
	ctx, cancel := g.ctx(r)
	defer cancel()
	if _, err := g.coord.SetMode(ctx, m); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, modeBody{Mode: g.coord.Mode()})
}

func (g *Gateway) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.coord.Thresholds())
}

func (g *Gateway) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var patch model.ThresholdPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := g.ctx(r)
	defer cancel()
	cfg, err := g.coord.UpdateThresholds(ctx, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (g *Gateway) handlePending(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.coord.Pending())
}

func (g *Gateway) handleActuators(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.coord.Actuators())
}

type controlRequest struct {
	Device string `json:"device"`
	Room   string `json:"room"`
	Value  any    `json:"value"`
}

func (g *Gateway) dispatch(w http.ResponseWriter, r *http.Request, device string, value any) {
	if value == nil {
		writeError(w, &coordinator.ValidationError{Field: "value", Reason: "required"})
		return
	}
	ctx, cancel := g.ctx(r)
	defer cancel()
	state, err := g.coord.Dispatch(ctx, device, value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleControl accepts {"device": "led:kitchen", "value": true} or
// {"device": "led", "room": "kitchen", "value": true}.
func (g *Gateway) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	device := req.Device
	if device == string(model.KindLED) {
		device = "led:" + req.Room
	}
	g.dispatch(w, r, device, req.Value)
}

func (g *Gateway) handleControlDevice(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	g.dispatch(w, r, mux.Vars(r)["device"], req.Value)
}

func (g *Gateway) handleControlLED(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := model.ValidateRoom(req.Room); err != nil {
		writeError(w, &coordinator.ValidationError{Field: "room", Value: req.Room, Reason: err.Error()})
		return
	}
	g.dispatch(w, r, "led:"+req.Room, req.Value)
}
