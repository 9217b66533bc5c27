package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smarthome/internal/model"
	"github.com/LeonardoBeccarini/smarthome/internal/services/persistence"
	"github.com/LeonardoBeccarini/smarthome/pkg/mqttbus"
)

func TestManualScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.c.SetMode(ctx, model.ModeManual)
	require.NoError(t, err)
	_, err = f.c.Dispatch(ctx, "servo", 120)
	require.NoError(t, err)
	_, err = f.c.Dispatch(ctx, "led:kitchen", true)
	require.NoError(t, err)
	queued(f.hub)
	before := f.c.Actuators()

	require.NoError(t, f.c.HandleTelemetry("sensors/temperature", []byte("25.5")))
	require.NoError(t, f.c.HandleTelemetry("sensors/humidity", []byte("60")))
	require.NoError(t, f.c.HandleTelemetry("sensors/soil_moisture", []byte("40")))

	readings, err := f.store.LatestReadings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, 25.5, readings[0].Temperature)
	assert.Equal(t, 60.0, readings[0].Humidity)
	assert.Equal(t, 40, readings[0].SoilMoisture)

	evs := queued(f.hub)
	assert.Len(t, ofType(evs, model.EventSensorUpdate), 3, "one event per field")
	require.Len(t, ofType(evs, model.EventSensorData), 1, "one completion artifact")
	assert.Equal(t, model.EventSensorData, evs[len(evs)-1].Type)

	snapsBefore := len(f.store.Snapshots())
	state, err := f.c.Dispatch(ctx, "pump", true)
	require.NoError(t, err)

	msgs := f.pub.sent()
	assert.Equal(t, published{topic: "actuators/pump", payload: "ON"}, msgs[len(msgs)-1])
	assert.True(t, state.PumpActive)
	assert.True(t, f.c.Actuators().PumpActive)

	evs = queued(f.hub)
	require.Len(t, evs, 1)
	assert.Equal(t, model.ActuatorChangeEvent("pump", true), evs[0])

	snaps := f.store.Snapshots()
	require.Len(t, snaps, snapsBefore+1)
	last := snaps[len(snaps)-1].State
	assert.Equal(t, before.ServoAngle, last.ServoAngle)
	assert.Equal(t, before.FanSpeed, last.FanSpeed)
	assert.Equal(t, before.LEDs, last.LEDs)
	assert.True(t, last.PumpActive)
}

func TestDispatchInAutomaticHasNoSideEffects(t *testing.T) {
	for _, device := range []string{"fan", "pump", "servo"} {
		t.Run(device, func(t *testing.T) {
			f := newFixture(t)
			before := f.c.Actuators()

			value := any(true)
			if device == "servo" {
				value = 90
			}
			_, err := f.c.Dispatch(context.Background(), device, value)

			assert.ErrorIs(t, err, ErrModeConflict)
			assert.Empty(t, f.pub.sent())
			assert.Empty(t, queued(f.hub))
			assert.Empty(t, f.store.Snapshots())
			assert.Equal(t, before, f.c.Actuators())
		})
	}
}

func TestModeSwitchDuringPublishRejectsCommand(t *testing.T) {
	log := zap.NewNop().Sugar()
	store := persistence.NewMemoryStore()
	pub := newGatedPublisher("actuators/pump")
	hub := NewHub(64, time.Second, log, nil)
	c := New(store, pub, hub, mqttbus.Topics{}, Options{}, log, nil)
	ctx := context.Background()

	_, err := c.SetMode(ctx, model.ModeManual)
	require.NoError(t, err)
	queued(hub)

	errc := make(chan error, 1)
	go func() {
		_, err := c.Dispatch(ctx, "pump", true)
		errc <- err
	}()

	select {
	case <-pub.entered:
	case <-time.After(time.Second):
		t.Fatal("dispatch never reached the publisher")
	}
	_, err = c.SetMode(ctx, model.ModeAutomatic)
	require.NoError(t, err)
	close(pub.release)

	select {
	case err = <-errc:
	case <-time.After(time.Second):
		t.Fatal("dispatch did not return")
	}
	assert.ErrorIs(t, err, ErrModeConflict)
	assert.Equal(t, model.ModeAutomatic, c.Mode())
	assert.False(t, c.Actuators().PumpActive)
	assert.Empty(t, store.Snapshots())
	assert.Empty(t, ofType(queued(hub), model.EventActuatorChange))
	assert.True(t, c.Pending().Commands.Empty())
}

func TestModeGateConfirmTracksTransitions(t *testing.T) {
	g := NewModeGate()
	g.SetMode(model.ModeManual)
	epoch, err := g.Admit(model.DevicePump)
	require.NoError(t, err)

	g.SetMode(model.ModeManual)
	assert.NoError(t, g.Confirm(model.DevicePump, epoch), "re-entering the same mode is not a transition")

	g.SetMode(model.ModeAutomatic)
	g.SetMode(model.ModeManual)
	assert.ErrorIs(t, g.Confirm(model.DevicePump, epoch), ErrModeConflict)
}

// LED commands bypass the mode gate. This mirrors the deployed device
// behaviour and is pending product clarification.
func TestLEDCommandsAreNotModeGated(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, model.ModeAutomatic, f.c.Mode())

	state, err := f.c.Dispatch(context.Background(), "led:living", true)

	require.NoError(t, err)
	assert.True(t, state.LEDs["living"])
	assert.Equal(t, []published{{topic: "actuators/leds/living", payload: "ON"}}, f.pub.sent())
}

func TestServoBoundaries(t *testing.T) {
	tests := []struct {
		angle   any
		wantErr bool
	}{
		{0, false},
		{180, false},
		{181, true},
		{-1, true},
		{float64(90), false},
		{90.5, true},
		{"45", false},
		{"wide", true},
	}
	for _, tt := range tests {
		t.Run(fmtValue(tt.angle), func(t *testing.T) {
			f := newFixture(t)
			_, err := f.c.SetMode(context.Background(), model.ModeManual)
			require.NoError(t, err)

			_, err = f.c.Dispatch(context.Background(), "servo", tt.angle)
			if tt.wantErr {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "servo", ve.Field)
				return
			}
			require.NoError(t, err)
		})
	}
}

func fmtValue(v any) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}

func TestFanIsBinary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.c.SetMode(ctx, model.ModeManual)
	require.NoError(t, err)

	state, err := f.c.Dispatch(ctx, "fan", "on")
	require.NoError(t, err)
	assert.Equal(t, 100, state.FanSpeed)

	state, err = f.c.Dispatch(ctx, "fan", false)
	require.NoError(t, err)
	assert.Equal(t, 0, state.FanSpeed)

	msgs := f.pub.sent()
	assert.Equal(t, "ON", msgs[len(msgs)-2].payload)
	assert.Equal(t, "OFF", msgs[len(msgs)-1].payload)

	_, err = f.c.Dispatch(ctx, "fan", 55)
	assert.True(t, IsValidation(err))
}

func TestDispatchUnknownDevice(t *testing.T) {
	f := newFixture(t)

	_, err := f.c.Dispatch(context.Background(), "heater", true)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "device", ve.Field)
}

func TestPublishFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.c.SetMode(ctx, model.ModeManual)
	require.NoError(t, err)
	queued(f.hub)
	f.pub.err = errors.New("broker unreachable")

	state, err := f.c.Dispatch(ctx, "pump", true)

	require.NoError(t, err, "the command is accepted locally")
	assert.True(t, state.PumpActive)
	assert.True(t, f.c.Actuators().PumpActive)
	assert.Len(t, ofType(queued(f.hub), model.EventActuatorChange), 1)
}

func TestPersistFailureKeepsVisibleState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.c.SetMode(ctx, model.ModeManual)
	require.NoError(t, err)
	queued(f.hub)
	f.store.failSnapshots = true

	_, err = f.c.Dispatch(ctx, "servo", 10)

	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, model.DefaultServoAngle, f.c.Actuators().ServoAngle)
	assert.Empty(t, queued(f.hub))
	_, pending := f.c.gate.Pending()
	assert.Nil(t, pending.Servo)
}

func TestSetModePublishesAndClearsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.c.SetMode(ctx, model.ModeManual)
	require.NoError(t, err)
	_, err = f.c.Dispatch(ctx, "pump", true)
	require.NoError(t, err)
	require.NotNil(t, f.c.Pending().Commands.Pump)

	_, err = f.c.SetMode(ctx, model.ModeAutomatic)
	require.NoError(t, err)

	view := f.c.Pending()
	assert.Equal(t, model.ModeAutomatic, view.Mode)
	assert.True(t, view.Commands.Empty())
	assert.Equal(t, model.DefaultThresholds(), view.Config)

	msgs := f.pub.sent()
	assert.Equal(t, published{topic: "system/mode", payload: "automatic"}, msgs[len(msgs)-1])
	modes := ofType(queued(f.hub), model.EventModeChange)
	require.Len(t, modes, 2)
	assert.Equal(t, model.ModeAutomatic, modes[1].Mode)

	_, err = f.c.SetMode(ctx, model.SystemMode("turbo"))
	assert.True(t, IsValidation(err))
}

func TestUpdateThresholds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cfg, err := f.c.UpdateThresholds(ctx, model.ThresholdPatch{DrySoil: model.IntPtr(20)})
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.DrySoil)
	assert.Equal(t, model.DefaultWetSoil, cfg.WetSoil)
	assert.Equal(t, cfg, f.c.Thresholds())

	msgs := f.pub.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, "system/config", msgs[0].topic)
	var sent model.ThresholdConfig
	require.NoError(t, json.Unmarshal([]byte(msgs[0].payload), &sent))
	assert.Equal(t, cfg, sent)
	assert.Len(t, ofType(queued(f.hub), model.EventConfigChange), 1)

	_, err = f.c.UpdateThresholds(ctx, model.ThresholdPatch{WetSoil: model.IntPtr(101)})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "wet_soil", ve.Field)
	assert.Equal(t, cfg, f.c.Thresholds(), "rejected update leaves config untouched")

	// Inverted hysteresis is accepted.
	cfg, err = f.c.UpdateThresholds(ctx, model.ThresholdPatch{ActivationTemp: model.Float64Ptr(25)})
	require.NoError(t, err)
	assert.True(t, cfg.Inverted())
}

func TestHandleTelemetryDropsMalformedPayload(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.c.HandleTelemetry("sensors/temperature", []byte("21")))
	require.NoError(t, f.c.HandleTelemetry("sensors/humidity", []byte("hot")))
	require.NoError(t, f.c.HandleTelemetry("sensors/humidity", []byte("50")))
	require.NoError(t, f.c.HandleTelemetry("sensors/pressure", []byte("1013")))
	require.NoError(t, f.c.HandleTelemetry("sensors/soil_moisture", []byte("33")))

	readings, err := f.store.LatestReadings(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, 21.0, readings[0].Temperature)
	assert.Equal(t, 50.0, readings[0].Humidity)
	assert.Len(t, ofType(queued(f.hub), model.EventSensorUpdate), 3)
}

func TestIngestPersistFailureSkipsCompletionEvent(t *testing.T) {
	f := newFixture(t)
	f.store.failReadings = true
	ctx := context.Background()
	now := time.Now()

	f.c.Ingest(ctx, model.SensorTemperature, 20, now)
	f.c.Ingest(ctx, model.SensorHumidity, 40, now)
	_, ok := f.c.Ingest(ctx, model.SensorSoilMoisture, 50, now)

	assert.False(t, ok)
	evs := queued(f.hub)
	assert.Len(t, ofType(evs, model.EventSensorUpdate), 3)
	assert.Empty(t, ofType(evs, model.EventSensorData))
}

func TestSubmitPacket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.c.actuators.Apply(ctx, model.ActuatorPatch{ServoAngle: model.IntPtr(30), LEDs: map[string]bool{"hall": true}})
	require.NoError(t, err)

	reading, state, err := f.c.SubmitPacket(ctx,
		model.SensorReading{Temperature: 22, Humidity: 48, SoilMoisture: 55},
		model.ActuatorPatch{PumpActive: model.BoolPtr(true), LEDs: map[string]bool{"bath": true}},
	)
	require.NoError(t, err)

	assert.NotZero(t, reading.ID)
	assert.False(t, reading.ObservedAt.IsZero())
	assert.Equal(t, 30, state.ServoAngle, "missing fields inherit")
	assert.Equal(t, map[string]bool{"hall": true, "bath": true}, state.LEDs)

	evs := queued(f.hub)
	assert.Len(t, ofType(evs, model.EventSensorData), 1)
	assert.ElementsMatch(t, []model.Event{
		model.ActuatorChangeEvent("pump", true),
		model.ActuatorChangeEvent("led:bath", true),
	}, ofType(evs, model.EventActuatorChange))

	_, _, err = f.c.SubmitPacket(ctx, model.SensorReading{SoilMoisture: 140}, model.ActuatorPatch{})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "soil_moisture", ve.Field)
}

func TestStartRestoresSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.MemoryStore.AppendSnapshot(ctx, model.ActuatorState{ServoAngle: 15, FanSpeed: 100, LEDs: map[string]bool{}})
	require.NoError(t, err)

	require.NoError(t, f.c.Start(ctx))

	assert.Equal(t, 15, f.c.Actuators().ServoAngle)
	assert.Equal(t, 100, f.c.Actuators().FanSpeed)
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.c.Latest(ctx)
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	for i := 0; i < 3; i++ {
		_, _, err := f.c.SubmitPacket(ctx, model.SensorReading{Temperature: float64(20 + i), Humidity: 50, SoilMoisture: 40, Motion: i % 2}, model.ActuatorPatch{})
		require.NoError(t, err)
	}

	latest, err := f.c.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ModeAutomatic, latest.Mode)

	assert.Len(t, f.c.History(ctx, 2, 0), 2)
	assert.Len(t, f.c.History(ctx, 0, 1), 3)

	stats := f.c.Stats(ctx, time.Hour)
	assert.Equal(t, 3, stats.WindowCount)
	assert.Equal(t, 21.0, stats.AvgTemperature)
	assert.Equal(t, 1, stats.MotionCount)

	f.store.failReadings = true
	_, err = f.c.Latest(ctx)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.Empty(t, f.c.History(ctx, 10, 0))
}
