package model

import (
	"sort"
	"time"
)

const (
	DefaultServoAngle = 90
	MinServoAngle     = 0
	MaxServoAngle     = 180
	FanSpeedOn        = 100
	FanSpeedOff       = 0
)

// ActuatorState is the last known state of every actuator. All fields are
// always present; LEDs maps room name to on/off.
type ActuatorState struct {
	ServoAngle int             `json:"servo_angle"`
	FanSpeed   int             `json:"fan_speed"`
	PumpActive bool            `json:"pump_active"`
	LEDs       map[string]bool `json:"leds"`
}

// ActuatorSnapshot is one persisted ActuatorState.
type ActuatorSnapshot struct {
	ID         int64         `json:"id,omitempty"`
	State      ActuatorState `json:"state"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// DefaultActuatorState is used before any snapshot exists.
func DefaultActuatorState() ActuatorState {
	return ActuatorState{
		ServoAngle: DefaultServoAngle,
		FanSpeed:   FanSpeedOff,
		PumpActive: false,
		LEDs:       map[string]bool{},
	}
}

// Clone returns a deep copy so callers never share the LED map.
func (s ActuatorState) Clone() ActuatorState {
	out := s
	out.LEDs = make(map[string]bool, len(s.LEDs))
	for k, v := range s.LEDs {
		out.LEDs[k] = v
	}
	return out
}

// ActuatorPatch is a partial update. Nil fields inherit the previous value.
// LEDs are merged per room.
type ActuatorPatch struct {
	ServoAngle *int            `json:"servo_angle,omitempty"`
	FanSpeed   *int            `json:"fan_speed,omitempty"`
	PumpActive *bool           `json:"pump_active,omitempty"`
	LEDs       map[string]bool `json:"leds,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ActuatorPatch) Empty() bool {
	return p.ServoAngle == nil && p.FanSpeed == nil && p.PumpActive == nil && len(p.LEDs) == 0
}

// Merge applies the patch over prev and returns a new state.
func (p ActuatorPatch) Merge(prev ActuatorState) ActuatorState {
	next := prev.Clone()
	if p.ServoAngle != nil {
		next.ServoAngle = *p.ServoAngle
	}
	if p.FanSpeed != nil {
		next.FanSpeed = *p.FanSpeed
	}
	if p.PumpActive != nil {
		next.PumpActive = *p.PumpActive
	}
	for room, on := range p.LEDs {
		next.LEDs[room] = on
	}
	return next
}

// ActuatorChange is one device-level delta between two states.
type ActuatorChange struct {
	Device string `json:"device"`
	Value  any    `json:"value"`
}

// Diff lists the device-level changes from prev to next. LED changes are
// sorted by room to keep the output stable.
func Diff(prev, next ActuatorState) []ActuatorChange {
	var out []ActuatorChange
	if prev.FanSpeed != next.FanSpeed {
		out = append(out, ActuatorChange{Device: DeviceFan.String(), Value: next.FanSpeed > 0})
	}
	if prev.PumpActive != next.PumpActive {
		out = append(out, ActuatorChange{Device: DevicePump.String(), Value: next.PumpActive})
	}
	if prev.ServoAngle != next.ServoAngle {
		out = append(out, ActuatorChange{Device: DeviceServo.String(), Value: next.ServoAngle})
	}
	rooms := make([]string, 0, len(next.LEDs))
	for room := range next.LEDs {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	for _, room := range rooms {
		on := next.LEDs[room]
		if was, ok := prev.LEDs[room]; !ok || was != on {
			out = append(out, ActuatorChange{Device: LEDDevice(room).String(), Value: on})
		}
	}
	return out
}

// IntPtr and BoolPtr build patch fields.
func IntPtr(v int) *int { return &v }

func BoolPtr(v bool) *bool { return &v }
