package model

import (
	"fmt"
	"strings"
)

// DeviceKind is the actuator family a command targets.
type DeviceKind string

const (
	KindFan   DeviceKind = "fan"
	KindPump  DeviceKind = "pump"
	KindServo DeviceKind = "servo"
	KindLED   DeviceKind = "led"
)

// Device addresses one actuator. Room is set only for LEDs.
type Device struct {
	Kind DeviceKind
	Room string
}

var (
	DeviceFan   = Device{Kind: KindFan}
	DevicePump  = Device{Kind: KindPump}
	DeviceServo = Device{Kind: KindServo}
)

func LEDDevice(room string) Device { return Device{Kind: KindLED, Room: room} }

// String renders the wire form: "fan", "pump", "servo" or "led:<room>".
func (d Device) String() string {
	if d.Kind == KindLED {
		return "led:" + d.Room
	}
	return string(d.Kind)
}

// Gated reports whether commands for this device require manual mode.
// LEDs are not gated.
func (d Device) Gated() bool {
	return d.Kind == KindFan || d.Kind == KindPump || d.Kind == KindServo
}

// ParseDevice accepts "fan", "pump", "servo" and "led:<room>".
func ParseDevice(s string) (Device, error) {
	s = strings.TrimSpace(s)
	switch DeviceKind(strings.ToLower(s)) {
	case KindFan:
		return DeviceFan, nil
	case KindPump:
		return DevicePump, nil
	case KindServo:
		return DeviceServo, nil
	}
	if kind, room, ok := strings.Cut(s, ":"); ok && strings.EqualFold(kind, string(KindLED)) {
		if err := ValidateRoom(room); err != nil {
			return Device{}, err
		}
		return LEDDevice(room), nil
	}
	return Device{}, fmt.Errorf("unknown device %q", s)
}

// ValidateRoom rejects names that cannot be used as a single topic level.
func ValidateRoom(room string) error {
	if strings.TrimSpace(room) == "" {
		return fmt.Errorf("led room is required")
	}
	if strings.ContainsAny(room, "/+#") {
		return fmt.Errorf("led room %q contains a topic separator or wildcard", room)
	}
	return nil
}

// Command is a control request as sent by HTTP or live clients.
type Command struct {
	Device string `json:"device"`
	Value  any    `json:"value"`
}

// PendingCommands is the buffer of manual commands devices may poll for.
type PendingCommands struct {
	Fan   *bool           `json:"fan,omitempty"`
	Pump  *bool           `json:"pump,omitempty"`
	Servo *int            `json:"servo,omitempty"`
	LEDs  map[string]bool `json:"leds,omitempty"`
}

// Empty reports whether nothing is pending.
func (p PendingCommands) Empty() bool {
	return p.Fan == nil && p.Pump == nil && p.Servo == nil && len(p.LEDs) == 0
}

// PendingView is what a polling device receives.
type PendingView struct {
	Mode     SystemMode      `json:"mode"`
	Commands PendingCommands `json:"commands"`
	Config   ThresholdConfig `json:"config"`
}
