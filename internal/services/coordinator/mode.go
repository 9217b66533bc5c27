package coordinator

import (
	"fmt"
	"sync"

	"github.com/LeonardoBeccarini/smarthome/internal/model"
)

// ModeGate holds the system mode and the buffer of manual commands that
// polling devices have not fetched yet. Both live behind one lock.
type ModeGate struct {
	mu      sync.Mutex
	mode    model.SystemMode
	epoch   uint64
	pending model.PendingCommands
}

// NewModeGate starts in automatic mode.
func NewModeGate() *ModeGate {
	return &ModeGate{mode: model.ModeAutomatic}
}

func (g *ModeGate) Mode() model.SystemMode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode
}

// SetMode always succeeds and returns the previous mode. Entering
// automatic discards the pending buffer.
func (g *ModeGate) SetMode(m model.SystemMode) model.SystemMode {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev := g.mode
	if m != prev {
		g.epoch++
	}
	g.mode = m
	if m == model.ModeAutomatic {
		g.pending = model.PendingCommands{}
	}
	return prev
}

// CheckManualAllowed fails with ErrModeConflict unless the mode is manual.
func (g *ModeGate) CheckManualAllowed(d model.Device) error {
	_, err := g.Admit(d)
	return err
}

// Admit is CheckManualAllowed returning the mode epoch it observed. The
// epoch changes on every mode transition.
func (g *ModeGate) Admit(d model.Device) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mode != model.ModeManual {
		return g.epoch, fmt.Errorf("%s: %w", d, ErrModeConflict)
	}
	return g.epoch, nil
}

// Confirm fails with ErrModeConflict if the mode changed since Admit
// returned epoch.
func (g *ModeGate) Confirm(d model.Device, epoch uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.epoch != epoch || g.mode != model.ModeManual {
		return fmt.Errorf("%s: mode changed while the command was in flight: %w", d, ErrModeConflict)
	}
	return nil
}

// Record buffers an accepted command; a later one for the same device
// overwrites it. Gated devices are only buffered while manual.
func (g *ModeGate) Record(d model.Device, patch model.ActuatorPatch) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d.Gated() && g.mode != model.ModeManual {
		return
	}
	switch d.Kind {
	case model.KindFan:
		if patch.FanSpeed != nil {
			g.pending.Fan = model.BoolPtr(*patch.FanSpeed > 0)
		}
	case model.KindPump:
		if patch.PumpActive != nil {
			g.pending.Pump = model.BoolPtr(*patch.PumpActive)
		}
	case model.KindServo:
		if patch.ServoAngle != nil {
			g.pending.Servo = model.IntPtr(*patch.ServoAngle)
		}
	case model.KindLED:
		if on, ok := patch.LEDs[d.Room]; ok {
			if g.pending.LEDs == nil {
				g.pending.LEDs = map[string]bool{}
			}
			g.pending.LEDs[d.Room] = on
		}
	}
}

// Pending returns the buffered commands. Outside manual mode the result is
// always empty.
func (g *ModeGate) Pending() (model.SystemMode, model.PendingCommands) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mode != model.ModeManual {
		return g.mode, model.PendingCommands{}
	}
	out := g.pending
	if g.pending.LEDs != nil {
		out.LEDs = make(map[string]bool, len(g.pending.LEDs))
		for k, v := range g.pending.LEDs {
			out.LEDs[k] = v
		}
	}
	return g.mode, out
}
